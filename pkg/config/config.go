// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Redis, Postgres, Kafka, Search, Index, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Search   SearchConfig   `yaml:"search"`
	Index    IndexConfig    `yaml:"index"`
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

// RedisConfig holds Redis connection and caching parameters. Redis is both
// the index store and the search result cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// PostgresConfig holds PostgreSQL connection parameters for API-key storage.
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

// KafkaConfig holds Kafka broker and topic settings for streaming ingestion.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	Documents       string `yaml:"documents"`
	CacheInvalidate string `yaml:"cacheInvalidate"`
	Analytics       string `yaml:"analytics"`
}

// SearchConfig is the tuning surface of the search resolution engine.
type SearchConfig struct {
	// CommonThreshold is the document frequency above which a token is
	// classified as common (low signal).
	CommonThreshold int64 `yaml:"commonThreshold"`
	// IntersectLimit is the frequency ceiling under which a full set
	// intersection is still considered affordable. Above it the engine
	// switches to a filter-assisted intersection or a manual scan.
	IntersectLimit int64 `yaml:"intersectLimit"`
	// FilterRatio scales the crossover between a filter-assisted
	// intersection and a manual scan: the most selective filter wins when
	// its cardinality is below FilterRatio times the rarest token's. Zero
	// disables filter-assisted intersections entirely.
	FilterRatio float64 `yaml:"filterRatio"`
	// BucketMin and BucketMax bound the working candidate set. Below
	// BucketMin the bucket is "dry" and the engine keeps broadening.
	BucketMin int `yaml:"bucketMin"`
	BucketMax int `yaml:"bucketMax"`
	// SmallBucketLimit is the size under which a bucket may still qualify
	// as having a near-exact match justifying early stop.
	SmallBucketLimit int `yaml:"smallBucketLimit"`
	// MatchThreshold is the string-distance sub-score at or above which a
	// candidate counts as a near-exact match.
	MatchThreshold float64 `yaml:"matchThreshold"`
	// MaxMeaningful caps how many meaningful tokens drive the bucket;
	// overflow tokens degrade to common.
	MaxMeaningful int `yaml:"maxMeaningful"`
	// FuzzyEditBudget is the number of fuzzy expansion rounds allowed
	// (0 disables fuzzy matching).
	FuzzyEditBudget int `yaml:"fuzzyEditBudget"`
	// KeyboardLayout restricts fuzzy substitutions to adjacent keys when
	// non-empty ("azerty" or "qwerty").
	KeyboardLayout string `yaml:"keyboardLayout"`
	Autocomplete   bool   `yaml:"autocomplete"`
	DefaultLimit   int    `yaml:"defaultLimit"`
	MaxResults     int    `yaml:"maxResults"`
	// ImportanceWeight scales the document importance sub-score and is its
	// ceiling.
	ImportanceWeight float64       `yaml:"importanceWeight"`
	GeohashPrecision uint          `yaml:"geohashPrecision"`
	GeohashTTL       time.Duration `yaml:"geohashTTL"`
	// FilterFields lists the document fields exposed as attribute filters.
	FilterFields []string `yaml:"filterFields"`
	SynonymsPath string   `yaml:"synonymsPath"`
	// PipelineSteps names the text-processing stages, in order. Empty means
	// the built-in default (normalize, synonyms, housenumbers).
	PipelineSteps []string `yaml:"pipelineSteps"`
}

// BoostRule is a conditional field boost: it overrides the static field
// boost when the document's type matches.
type BoostRule struct {
	Field   string  `yaml:"field"`
	DocType string  `yaml:"docType"`
	Boost   float64 `yaml:"boost"`
}

// IndexConfig controls how documents are turned into index keys.
type IndexConfig struct {
	EdgeNgramMin int     `yaml:"edgeNgramMin"`
	EdgeNgramMax int     `yaml:"edgeNgramMax"`
	DefaultBoost float64 `yaml:"defaultBoost"`
	// FieldBoosts maps a document field name to the score boost its tokens
	// receive in the token sorted sets.
	FieldBoosts map[string]float64 `yaml:"fieldBoosts"`
	// BoostRules are conditional boosts checked before FieldBoosts; the
	// first matching rule wins.
	BoostRules []BoostRule `yaml:"boostRules"`
	// WriteConcurrency bounds parallel document writes in the ingestion
	// consumer.
	WriteConcurrency int `yaml:"writeConcurrency"`
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
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            7878,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "geosearch",
			User:            "geosearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "geosearch-group",
			Topics: KafkaTopics{
				Documents:       "geosearch-documents",
				CacheInvalidate: "geosearch-cache-invalidate",
				Analytics:       "geosearch-analytics",
			},
		},
		Search: SearchConfig{
			CommonThreshold:  10000,
			IntersectLimit:   100000,
			FilterRatio:      1.0,
			BucketMin:        10,
			BucketMax:        100,
			SmallBucketLimit: 10,
			MatchThreshold:   0.9,
			MaxMeaningful:    10,
			FuzzyEditBudget:  1,
			Autocomplete:     true,
			DefaultLimit:     10,
			MaxResults:       100,
			ImportanceWeight: 0.1,
			GeohashPrecision: 8,
			GeohashTTL:       10 * time.Second,
			FilterFields:     []string{"type", "postcode", "citycode"},
		},
		Index: IndexConfig{
			EdgeNgramMin: 3,
			EdgeNgramMax: 20,
			DefaultBoost: 1.0,
			FieldBoosts: map[string]float64{
				"name": 4.0,
				"city": 1.0,
			},
			WriteConcurrency: 4,
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

// applyEnvOverrides reads GS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("GS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("GS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("GS_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
	if v := os.Getenv("GS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("GS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("GS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("GS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("GS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("GS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("GS_SEARCH_COMMON_THRESHOLD"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Search.CommonThreshold = n
		}
	}
	if v := os.Getenv("GS_SEARCH_INTERSECT_LIMIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Search.IntersectLimit = n
		}
	}
	if v := os.Getenv("GS_SEARCH_BUCKET_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.BucketMax = n
		}
	}
	if v := os.Getenv("GS_SEARCH_SYNONYMS_PATH"); v != "" {
		cfg.Search.SynonymsPath = v
	}
	if v := os.Getenv("GS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("GS_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
