package strata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soundprediction/strata/pkg/config"
	"github.com/soundprediction/strata/pkg/server"
	"github.com/soundprediction/strata/pkg/utils"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the Strata HTTP server",
	Long: `Start the Strata HTTP server.

The server provides endpoints for:
- Retrieval and direct graph traversal
- Document ingestion and deletion
- Entity resolution and the review queue
- Skeleton snapshots and recomputation
- Health checks and Prometheus metrics

The skeleton worker runs in the background unless
skeleton.disable_background is set.`,
	RunE: runServer,
}

var (
	serverHost string
	serverPort int
	serverMode string
)

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVar(&serverHost, "host", "localhost", "Server host")
	serverCmd.Flags().IntVar(&serverPort, "port", 8080, "Server port")
	serverCmd.Flags().StringVar(&serverMode, "mode", "debug", "Server mode (debug, release, test)")

	serverCmd.Flags().String("graph-driver", "memory", "Graph store driver (memory, neo4j)")
	serverCmd.Flags().String("graph-uri", "", "Graph store URI")
	serverCmd.Flags().String("vector-driver", "memory", "Vector store driver (memory, qdrant, pgvector)")
	serverCmd.Flags().String("bridge-driver", "memory", "Bridge index driver (memory, redis)")
	serverCmd.Flags().String("embedding-provider", "openai", "Embedding provider (openai, hash, none)")
	serverCmd.Flags().String("audit-parquet-path", "", "Directory for retrieval audit parquet files")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, logger, flush, err := loadConfig()
	if err != nil {
		return err
	}
	defer flush()
	overrideConfigWithFlags(cmd, cfg)
	if err := validateServerConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := initializeStrata(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize strata: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close strata client", "error", err)
		}
	}()

	if !cfg.Skeleton.DisableBackground {
		utils.SafeGo(func() { client.SkeletonWorker().Run(ctx) }, func(err error) {
			logger.Error("skeleton worker crashed", "error", err)
		})
	}

	srv := server.New(cfg, client, logger)
	srv.Setup()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := utils.SafeGoWithResult(func() error {
		if err := srv.Start(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		logger.Info("received signal", "signal", sig.String())
		cancel()

		timeout := cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		logger.Info("server stopped gracefully")
		return nil
	}
}

func overrideConfigWithFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serverHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = serverPort
	}
	if cmd.Flags().Changed("mode") {
		cfg.Server.Mode = serverMode
	}

	if cmd.Flags().Changed("graph-driver") {
		cfg.Graph.Driver, _ = cmd.Flags().GetString("graph-driver")
	}
	if cmd.Flags().Changed("graph-uri") {
		cfg.Graph.URI, _ = cmd.Flags().GetString("graph-uri")
	}
	if cmd.Flags().Changed("vector-driver") {
		cfg.Vector.Driver, _ = cmd.Flags().GetString("vector-driver")
	}
	if cmd.Flags().Changed("bridge-driver") {
		cfg.Bridge.Driver, _ = cmd.Flags().GetString("bridge-driver")
	}
	if cmd.Flags().Changed("embedding-provider") {
		cfg.Embedding.Provider, _ = cmd.Flags().GetString("embedding-provider")
	}
	if cmd.Flags().Changed("audit-parquet-path") {
		cfg.Audit.ParquetPath, _ = cmd.Flags().GetString("audit-parquet-path")
	}
}

func validateServerConfig(cfg *config.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}
	if cfg.Graph.Driver == "neo4j" && cfg.Graph.URI == "" {
		return errors.New("graph.uri is required for the neo4j driver")
	}
	return cfg.Validate()
}
