package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-medallion/internal/config"
	"github.com/withObsrvr/obsrvr-medallion/internal/logging"
	"github.com/withObsrvr/obsrvr-medallion/internal/metrics"
	"github.com/withObsrvr/obsrvr-medallion/internal/pipeline"
	"github.com/withObsrvr/obsrvr-medallion/internal/storage"
)

var (
	// Global flags
	configPath string
	namespace  string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "medallion",
	Short: "Bronze/silver/gold ETL for Brazilian conflict events",
	Long: `medallion ingests the political violence and city CSV sources into
versioned bronze tables, cleans them into silver, joins them into gold and
reports the most violent cities.

Run without a subcommand to execute every stage.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStages(cmd.Context(), nil)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config")
	rootCmd.PersistentFlags().StringVarP(&namespace, "namespace", "n", "", "table namespace (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if ctx.Err() != nil {
			slog.Info("shutdown complete", "reason", ctx.Err())
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the persistent flags.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if namespace != "" {
		cfg.Pipeline.Namespace = namespace
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}

	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})
	return cfg, nil
}

// openPipeline builds a pipeline from cfg. The returned func releases it.
func openPipeline(ctx context.Context, cfg config.Config) (*pipeline.Pipeline, func(), error) {
	log := logging.Component("cli")
	log.Info("medallion starting", "version", pipeline.Version, "git_sha", pipeline.GitSHA)

	var opts []pipeline.Option
	if cfg.Metrics.Enabled {
		m := metrics.Init(cfg.Metrics.Namespace, prometheus.DefaultRegisterer)
		opts = append(opts, pipeline.WithMetrics(m))
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address, prometheus.DefaultGatherer); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
		log.Info("metrics server started", "address", cfg.Metrics.Address)
	}

	store, err := storage.NewStore(ctx, storage.StorageConfig{
		Backend:  cfg.Storage.Backend,
		LocalDir: cfg.Storage.LocalDir,
		Bucket:   cfg.Storage.Bucket,
		Endpoint: cfg.Storage.Endpoint,
		Region:   cfg.Storage.Region,
		Prefix:   cfg.Storage.Prefix,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create storage: %w", err)
	}

	p, err := pipeline.New(cfg, store, append(opts, pipeline.WithLogger(slog.Default()))...)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	closeAll := func() {
		if err := p.Close(); err != nil {
			log.Warn("failed to close pipeline", "error", err)
		}
		if err := store.Close(); err != nil {
			log.Warn("failed to close storage", "error", err)
		}
	}
	return p, closeAll, nil
}

// runStages loads the config, lets override adjust it and runs the pipeline.
func runStages(ctx context.Context, override func(*config.Config)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if override != nil {
		override(&cfg)
		if err := config.Validate(cfg); err != nil {
			return err
		}
	}

	p, closeAll, err := openPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeAll()

	return p.Run(ctx)
}
