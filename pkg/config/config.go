// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Indexer, Search, Table, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/tokenizer"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Search   SearchConfig   `yaml:"search"`
	Table    TableConfig    `yaml:"table"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	RowChanges    string `yaml:"rowChanges"`
	IndexComplete string `yaml:"indexComplete"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// IndexerConfig controls the engine's memory threshold, flush and reload
// intervals, and text analysis.
type IndexerConfig struct {
	DataDir        string        `yaml:"dataDir"`
	SegmentMaxSize int64         `yaml:"segmentMaxSize"`
	FlushInterval  time.Duration `yaml:"flushInterval"`
	ReloadInterval time.Duration `yaml:"reloadInterval"`
	MinTokenLen    int           `yaml:"minTokenLen"`
	StopWords      []string      `yaml:"stopWords"`
	Stem           bool          `yaml:"stem"`
}

// AnalyzerOptions returns the tokenizer options for this index. A nil stop
// word list selects the built-in English list.
func (c IndexerConfig) AnalyzerOptions() tokenizer.Options {
	opts := tokenizer.DefaultOptions()
	if c.MinTokenLen > 0 {
		opts.MinTokenLen = c.MinTokenLen
	}
	if c.StopWords != nil {
		opts.StopWords = c.StopWords
	}
	opts.Stem = c.Stem
	return opts
}

// SearchConfig controls query execution limits and timeouts.
type SearchConfig struct {
	MaxResults           int           `yaml:"maxResults"`
	DefaultLimit         int           `yaml:"defaultLimit"`
	MaxConcurrentQueries int           `yaml:"maxConcurrentQueries"`
	QueryTimeout         time.Duration `yaml:"queryTimeout"`
}

// TableConfig names the host table whose rows are indexed.
type TableConfig struct {
	Schema        string   `yaml:"schema"`
	Name          string   `yaml:"name"`
	TextColumns   []string `yaml:"textColumns"`
	ReturnColumns []string `yaml:"returnColumns"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values, or an error if the result does not validate.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings every service depends on.
func (c *Config) Validate() error {
	var problems []string
	if c.Table.Name == "" {
		problems = append(problems, "table.name is required")
	}
	if len(c.Table.TextColumns) == 0 {
		problems = append(problems, "table.textColumns must list at least one column")
	}
	if c.Indexer.DataDir == "" {
		problems = append(problems, "indexer.dataDir is required")
	}
	if c.Indexer.SegmentMaxSize <= 0 {
		problems = append(problems, "indexer.segmentMaxSize must be positive")
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxResults < c.Search.DefaultLimit {
		problems = append(problems, "search.defaultLimit must be positive and not exceed search.maxResults")
	}
	if c.Search.MaxConcurrentQueries <= 0 {
		problems = append(problems, "search.maxConcurrentQueries must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "rowsearch",
			User:            "rowsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "rowsearch-group",
			Topics: KafkaTopics{
				RowChanges:    "row-changes",
				IndexComplete: "index.complete",
			},
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Indexer: IndexerConfig{
			DataDir:        "data/index",
			SegmentMaxSize: 64 << 20,
			FlushInterval:  30 * time.Second,
			ReloadInterval: 10 * time.Second,
			MinTokenLen:    2,
			Stem:           true,
		},
		Search: SearchConfig{
			MaxResults:           1000,
			DefaultLimit:         10,
			MaxConcurrentQueries: 8,
			QueryTimeout:         5 * time.Second,
		},
		Table: TableConfig{
			Schema: "public",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads RS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("RS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("RS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("RS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("RS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("RS_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("RS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("RS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("RS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("RS_REDIS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = enabled
		}
	}
	if v := os.Getenv("RS_INDEXER_DATA_DIR"); v != "" {
		cfg.Indexer.DataDir = v
	}
	if v := os.Getenv("RS_TABLE_NAME"); v != "" {
		cfg.Table.Name = v
	}
	if v := os.Getenv("RS_TABLE_TEXT_COLUMNS"); v != "" {
		cfg.Table.TextColumns = strings.Split(v, ",")
	}
	if v := os.Getenv("RS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
