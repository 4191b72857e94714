package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/analysis"
)

func newAnalysisCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analysis",
		Short: "Sentiment analysis commands",
	}
	cmd.AddCommand(newAnalysisServeCmd())
	return cmd
}

func newAnalysisServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis model as a gRPC sentiment service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}
			// The model scorer is always used here; serving a remote scorer
			// would forward to itself.
			scorer := analysis.NewLLMScorer(newLLMClient(cfg, logger).WithModel(cfg.Analysis.Model))
			return serveAnalysis(ctx, lis, scorer)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":50051", "listen address for the gRPC sentiment service")
	return cmd
}

// serveAnalysis serves scorer on lis until ctx is done.
func serveAnalysis(ctx context.Context, lis net.Listener, scorer analysis.Scorer) error {
	srv := grpc.NewServer(grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
		MinTime:             time.Minute,
		PermitWithoutStream: false,
	}))
	analysis.RegisterSentimentServer(srv, scorer)

	go func() {
		<-ctx.Done()
		slog.Info("Stopping analysis service")
		srv.GracefulStop()
	}()

	slog.Info("Analysis service listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve analysis: %w", err)
	}
	return nil
}
