package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Sources    SourcesConfig    `yaml:"sources"`
	Storage    StorageConfig    `yaml:"storage"`
	Parquet    ParquetConfig    `yaml:"parquet"`
	Perf       PerfConfig       `yaml:"perf"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Lineage    LineageConfig    `yaml:"lineage"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Report     ReportConfig     `yaml:"report"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type PipelineConfig struct {
	Namespace string `yaml:"namespace" validate:"required,excludesall=/\\."`
	RunID     string `yaml:"run_id"`
	From      string `yaml:"from" validate:"omitempty,oneof=ingest clean join analyze"`
	To        string `yaml:"to" validate:"omitempty,oneof=ingest clean join analyze"`
	Resume    bool   `yaml:"resume"`
}

type SourcesConfig struct {
	Conflict string `yaml:"conflict" validate:"required"`
	City     string `yaml:"city" validate:"required"`
}

type StorageConfig struct {
	Backend  string `yaml:"backend" validate:"oneof=local gcs s3 mem"`
	LocalDir string `yaml:"local_dir" validate:"required_if=Backend local"`
	Bucket   string `yaml:"bucket" validate:"required_if=Backend gcs,required_if=Backend s3"`
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix"`
	Retain   int    `yaml:"retain" validate:"min=1"`
}

type ParquetConfig struct {
	Compression string `yaml:"compression" validate:"oneof=snappy zstd gzip none"`
}

type PerfConfig struct {
	Workers       int `yaml:"workers" validate:"min=1"`
	PartitionSize int `yaml:"partition_size" validate:"min=1"`
}

type CatalogConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	Strict      bool   `yaml:"strict"`
}

type LineageConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Endpoint     string   `yaml:"endpoint" validate:"omitempty,url"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic" validate:"required_with=KafkaBrokers"`
	BackupDir    string   `yaml:"backup_dir"`
	Strict       bool     `yaml:"strict"`
}

type CheckpointConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir" validate:"required_if=Enabled true"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address" validate:"required_if=Enabled true"`
	Namespace string `yaml:"namespace"`
}

type ReportConfig struct {
	OutputDir     string `yaml:"output_dir" validate:"required"`
	WarehousePath string `yaml:"warehouse_path"`
	TopN          int    `yaml:"top_n" validate:"min=1"`
}

type LoggingConfig struct {
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Pipeline: PipelineConfig{
			Namespace: "default",
		},
		Sources: SourcesConfig{
			Conflict: "data/Brazil_Political_Violence_and_Protests_Dataset.csv",
			City:     "data/BRAZIL_CITIES_REV2022.CSV",
		},
		Storage: StorageConfig{
			Backend:  "local",
			LocalDir: "./warehouse",
			Retain:   2,
		},
		Parquet: ParquetConfig{
			Compression: "snappy",
		},
		Perf: PerfConfig{
			Workers:       runtime.GOMAXPROCS(0),
			PartitionSize: 5000,
		},
		Lineage: LineageConfig{
			BackupDir: "./state/lineage",
		},
		Checkpoint: CheckpointConfig{
			Dir: "./state",
		},
		Metrics: MetricsConfig{
			Address:   ":9090",
			Namespace: "medallion",
		},
		Report: ReportConfig{
			OutputDir: "./reports",
			TopN:      10,
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, an
// optional .env file and environment variables, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	applyEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct constraints and reports every failing field.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func applyEnv(cfg *Config) {
	cfg.Pipeline.Namespace = getenvDefault("MEDALLION_NAMESPACE", cfg.Pipeline.Namespace)
	cfg.Pipeline.RunID = getenvDefault("MEDALLION_RUN_ID", cfg.Pipeline.RunID)
	cfg.Pipeline.From = getenvDefault("MEDALLION_FROM", cfg.Pipeline.From)
	cfg.Pipeline.To = getenvDefault("MEDALLION_TO", cfg.Pipeline.To)
	cfg.Pipeline.Resume = getenvBool("MEDALLION_RESUME", cfg.Pipeline.Resume)

	cfg.Sources.Conflict = getenvDefault("SOURCE_CONFLICT", cfg.Sources.Conflict)
	cfg.Sources.City = getenvDefault("SOURCE_CITY", cfg.Sources.City)

	cfg.Storage.Backend = getenvDefault("STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.LocalDir = getenvDefault("LOCAL_DIR", cfg.Storage.LocalDir)
	cfg.Storage.Bucket = getenvDefault("STORAGE_BUCKET", cfg.Storage.Bucket)
	cfg.Storage.Endpoint = getenvDefault("STORAGE_ENDPOINT", cfg.Storage.Endpoint)
	cfg.Storage.Region = getenvDefault("STORAGE_REGION", cfg.Storage.Region)
	cfg.Storage.Prefix = getenvDefault("STORAGE_PREFIX", cfg.Storage.Prefix)
	cfg.Storage.Retain = getenvInt("STORAGE_RETAIN", cfg.Storage.Retain)

	cfg.Parquet.Compression = getenvDefault("PARQUET_COMPRESSION", cfg.Parquet.Compression)

	cfg.Perf.Workers = getenvInt("WORKERS", cfg.Perf.Workers)
	cfg.Perf.PartitionSize = getenvInt("PARTITION_SIZE", cfg.Perf.PartitionSize)

	cfg.Catalog.PostgresDSN = getenvDefault("CATALOG_DSN", cfg.Catalog.PostgresDSN)
	cfg.Catalog.Strict = getenvBool("CATALOG_STRICT", cfg.Catalog.Strict)

	cfg.Lineage.Enabled = getenvBool("LINEAGE_ENABLED", cfg.Lineage.Enabled)
	cfg.Lineage.Endpoint = getenvDefault("LINEAGE_ENDPOINT", cfg.Lineage.Endpoint)
	if v := os.Getenv("LINEAGE_KAFKA_BROKERS"); v != "" {
		cfg.Lineage.KafkaBrokers = strings.Split(v, ",")
	}
	cfg.Lineage.KafkaTopic = getenvDefault("LINEAGE_KAFKA_TOPIC", cfg.Lineage.KafkaTopic)
	cfg.Lineage.BackupDir = getenvDefault("LINEAGE_BACKUP_DIR", cfg.Lineage.BackupDir)
	cfg.Lineage.Strict = getenvBool("LINEAGE_STRICT", cfg.Lineage.Strict)

	cfg.Checkpoint.Enabled = getenvBool("CHECKPOINT_ENABLED", cfg.Checkpoint.Enabled)
	cfg.Checkpoint.Dir = getenvDefault("CHECKPOINT_DIR", cfg.Checkpoint.Dir)

	cfg.Metrics.Enabled = getenvBool("METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.Address = getenvDefault("METRICS_ADDRESS", cfg.Metrics.Address)

	cfg.Report.OutputDir = getenvDefault("REPORT_DIR", cfg.Report.OutputDir)
	cfg.Report.WarehousePath = getenvDefault("WAREHOUSE_PATH", cfg.Report.WarehousePath)
	cfg.Report.TopN = getenvInt("REPORT_TOP_N", cfg.Report.TopN)

	cfg.Logging.Format = getenvDefault("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Level = getenvDefault("LOG_LEVEL", cfg.Logging.Level)
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}
