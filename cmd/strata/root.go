package strata

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/soundprediction/strata/pkg/config"
	"github.com/soundprediction/strata/pkg/logger"
	"github.com/soundprediction/strata/pkg/telemetry"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "strata",
		Short: "Strata: hybrid graph and vector retrieval",
		Long: `Strata answers retrieval queries over a curated knowledge graph and a
vector index. Queries are classified, routed to vector search, graph
traversal or both, and assembled into a token-bounded context with
provenance for every item.

Every operation is scoped to a tenant.`,
		SilenceUsage: true,
	}
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.strata.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json, logfmt)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".strata")
	}

	viper.SetEnvPrefix("STRATA")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig loads settings and builds the process logger from them. The
// returned func flushes error telemetry and must run before exit.
func loadConfig() (*config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.NewLogger(logger.Options{
		Level:           logger.ParseLevel(cfg.Log.Level),
		Format:          logger.ParseFormat(cfg.Log.Format),
		Output:          os.Stderr,
		ReportTimestamp: true,
	})
	flush := func() {}

	if cfg.Log.ErrorPath != "" {
		h, err := telemetry.NewParquetHandler(log.Handler(), cfg.Log.ErrorPath, 0)
		if err != nil {
			log.Warn("error telemetry disabled", "path", cfg.Log.ErrorPath, "error", err)
		} else {
			log = slog.New(h)
			flush = func() {
				if err := h.Close(); err != nil {
					fmt.Fprintln(os.Stderr, "failed to flush error telemetry:", err)
				}
			}
		}
	}

	slog.SetDefault(log)
	return cfg, log, flush, nil
}
