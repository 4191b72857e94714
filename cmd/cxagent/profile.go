package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/domain"
	"github.com/NeerajMehta15/CX-Agent-V2.0/internal/profile"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Customer profile commands",
	}

	cmd.AddCommand(newProfileRecomputeCmd())
	cmd.AddCommand(newProfileShowCmd())
	return cmd
}

func newProfileRecomputeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recompute <customer-id>",
		Short: "Rebuild a customer profile from stored session insights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfile(cmd, args[0], true)
		},
	}
}

func newProfileShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <customer-id>",
		Short: "Print a stored customer profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfile(cmd, args[0], false)
		},
	}
}

func runProfile(cmd *cobra.Command, customerID string, recompute bool) error {
	if _, ok := domain.ParseCustomerID(customerID); !ok {
		return fmt.Errorf("invalid customer id %q", customerID)
	}
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	repo, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	agg := profile.NewAggregator(repo, logger)
	var p *domain.CustomerProfile
	if recompute {
		p, err = agg.Recompute(cmd.Context(), customerID)
	} else {
		p, err = agg.Get(cmd.Context(), customerID)
	}
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("no profile for customer %s", customerID)
	}
	return printJSON(cmd.OutOrStdout(), p)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
