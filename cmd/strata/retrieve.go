package strata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/soundprediction/strata"
	"github.com/soundprediction/strata/pkg/types"
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve [query]",
	Short: "Run one retrieval query and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetrieve,
}

var (
	retrieveTenant   string
	retrieveStrategy string
	retrieveBudget   int
	retrieveTopK     int
)

func init() {
	rootCmd.AddCommand(retrieveCmd)

	retrieveCmd.Flags().StringVar(&retrieveTenant, "tenant", "", "Tenant to query (required)")
	retrieveCmd.Flags().StringVar(&retrieveStrategy, "strategy", "", "Override the classified strategy (vector_only, graph_only, hybrid)")
	retrieveCmd.Flags().IntVar(&retrieveBudget, "token-budget", 0, "Token budget for the assembled context")
	retrieveCmd.Flags().IntVar(&retrieveTopK, "top-k", 0, "Number of vector chunks to fetch")
	_ = retrieveCmd.MarkFlagRequired("tenant")
}

func runRetrieve(cmd *cobra.Command, args []string) error {
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

	res, err := client.Retrieve(ctx, strata.Query{
		TenantID:    retrieveTenant,
		Text:        args[0],
		Strategy:    types.Strategy(retrieveStrategy),
		TopK:        retrieveTopK,
		TokenBudget: retrieveBudget,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
