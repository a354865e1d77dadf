package strata

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var skeletonCmd = &cobra.Command{
	Use:   "skeleton",
	Short: "Inspect and maintain the per-tenant document skeleton",
}

var recomputeCmd = &cobra.Command{
	Use:   "recompute [tenant...]",
	Short: "Recompute skeleton scores now",
	Long: `Recompute skeleton scores for the given tenants, or for every tenant
known to the graph store when none are given. Snapshots are persisted
to the configured snapshot store.`,
	RunE: runRecompute,
}

func init() {
	rootCmd.AddCommand(skeletonCmd)
	skeletonCmd.AddCommand(recomputeCmd)
}

func runRecompute(cmd *cobra.Command, args []string) error {
	cfg, logger, flush, err := loadConfig()
	if err != nil {
		return err
	}
	defer flush()
	ctx := context.Background()

	client, err := initializeStrata(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize strata: %w", err)
	}
	defer client.Close()

	tenants := args
	if len(tenants) == 0 {
		tenants, err = client.GetGraph().Tenants(ctx)
		if err != nil {
			return fmt.Errorf("failed to list tenants: %w", err)
		}
	}

	for _, tenant := range tenants {
		snap, err := client.RecomputeSkeleton(ctx, tenant)
		if err != nil {
			return fmt.Errorf("failed to recompute skeleton for %s: %w", tenant, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d skeleton documents\tcutoff %.3f\n",
			tenant, len(snap.Skeleton), snap.Cutoff)
	}
	return nil
}
