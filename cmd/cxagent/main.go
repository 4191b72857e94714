// cxagent runs the customer support agent and its maintenance commands.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/config"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cxagent",
		Short:         "AI customer support agent",
		Long:          "cxagent answers customers with tool-backed replies, hands off to human agents, and keeps per-customer profiles.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newProfileCmd())
	cmd.AddCommand(newAnalysisCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cxagent %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// bootstrap installs the JSON logger and loads configuration.
func bootstrap() (*config.Config, *slog.Logger, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, logger, nil
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
