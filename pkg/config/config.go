package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Log            LogConfig            `mapstructure:"log"`
	Server         ServerConfig         `mapstructure:"server"`
	Graph          GraphConfig          `mapstructure:"graph"`
	Vector         VectorConfig         `mapstructure:"vector"`
	Bridge         BridgeConfig         `mapstructure:"bridge"`
	Embedding      EmbeddingConfig      `mapstructure:"embedding"`
	Schema         SchemaConfig         `mapstructure:"schema"`
	Resolver       ResolverConfig       `mapstructure:"resolver"`
	Skeleton       SkeletonConfig       `mapstructure:"skeleton"`
	Classifier     ClassifierConfig     `mapstructure:"classifier"`
	Traversal      TraversalConfig      `mapstructure:"traversal"`
	Assembler      AssemblerConfig      `mapstructure:"assembler"`
	Retrieval      RetrievalConfig      `mapstructure:"retrieval"`
	Audit          AuditConfig          `mapstructure:"audit"`
	Alert          AlertConfig          `mapstructure:"alert"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text, json, logfmt
	// ErrorPath, when set, receives error-level lines as Parquet files.
	ErrorPath string `mapstructure:"error_path"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // gin mode: debug, release, test
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// GraphConfig selects and configures the graph store.
type GraphConfig struct {
	Driver   string `mapstructure:"driver"` // memory, neo4j
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// VectorConfig selects and configures the external vector store.
type VectorConfig struct {
	Driver     string `mapstructure:"driver"` // memory, qdrant, pgvector
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
	Collection string `mapstructure:"collection"`
	// URL is the postgres connection string for the pgvector driver.
	URL   string `mapstructure:"url"`
	Table string `mapstructure:"table"`
}

// BridgeConfig selects and configures the vector bridge index.
type BridgeConfig struct {
	Driver string `mapstructure:"driver"` // memory, redis
	URL    string `mapstructure:"url"`
}

// EmbeddingConfig holds embedding configuration
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"` // openai, hash, none
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Dimensions int    `mapstructure:"dimensions"`
	BatchSize  int    `mapstructure:"batch_size"`
}

// SchemaConfig points at the per-type property schema.
type SchemaConfig struct {
	Path string `mapstructure:"path"`
}

// ResolverConfig holds entity resolution thresholds.
type ResolverConfig struct {
	FuzzyThreshold      float64 `mapstructure:"fuzzy_threshold"`
	EmbeddingThreshold  float64 `mapstructure:"embedding_threshold"`
	AmbiguousConfidence float64 `mapstructure:"ambiguous_confidence"`
	ReviewQueueSize     int     `mapstructure:"review_queue_size"`
	Workers             int     `mapstructure:"workers"`
}

// SkeletonConfig holds skeleton scoring and scheduling configuration.
type SkeletonConfig struct {
	PageRankWeight    float64       `mapstructure:"pagerank_weight"`
	CurationWeight    float64       `mapstructure:"curation_weight"`
	RecencyWeight     float64       `mapstructure:"recency_weight"`
	CitationWeight    float64       `mapstructure:"citation_weight"`
	Threshold         float64       `mapstructure:"threshold"`
	BudgetFraction    float64       `mapstructure:"budget_fraction"`
	RecencyHalfLife   time.Duration `mapstructure:"recency_half_life"`
	AlwaysCategories  []string      `mapstructure:"always_categories"`
	Damping           float64       `mapstructure:"damping"`
	MaxIterations     int           `mapstructure:"max_iterations"`
	Tolerance         float64       `mapstructure:"tolerance"`
	PageRankTimeout   time.Duration `mapstructure:"pagerank_timeout"`
	BatchInterval     time.Duration `mapstructure:"batch_interval"`
	SnapshotStore     string        `mapstructure:"snapshot_store"` // badger, file, memory
	SnapshotPath      string        `mapstructure:"snapshot_path"`
	DisableBackground bool          `mapstructure:"disable_background"`
	// GateIngestion limits graph-ization to skeleton documents.
	GateIngestion bool `mapstructure:"gate_ingestion"`
}

// ClassifierConfig holds query classification thresholds.
type ClassifierConfig struct {
	HighThreshold float64 `mapstructure:"high_threshold"`
	LowThreshold  float64 `mapstructure:"low_threshold"`
}

// TraversalConfig holds graph walk bounds.
type TraversalConfig struct {
	MaxHops       int     `mapstructure:"max_hops"`
	MinConfidence float64 `mapstructure:"min_confidence"`
	BranchingCap  int     `mapstructure:"branching_cap"`
	MaxResults    int     `mapstructure:"max_results"`
	Parallelism   int     `mapstructure:"parallelism"`
}

// AssemblerConfig holds context assembly configuration.
type AssemblerConfig struct {
	TokenBudget    int     `mapstructure:"token_budget"`
	MinVectorShare float64 `mapstructure:"min_vector_share"`
	// Encoding is a tiktoken encoding name; "heuristic" skips tiktoken.
	Encoding string `mapstructure:"encoding"`
}

// RetrievalConfig holds the per-query deadline and stage sub-deadlines.
type RetrievalConfig struct {
	Deadline          time.Duration `mapstructure:"deadline"`
	VectorSearchLimit time.Duration `mapstructure:"vector_search_timeout"`
	GraphSearchLimit  time.Duration `mapstructure:"graph_search_timeout"`
	TraversalLimit    time.Duration `mapstructure:"traversal_timeout"`
	ChunkFetchLimit   time.Duration `mapstructure:"chunk_fetch_timeout"`
	TopK              int           `mapstructure:"top_k"`
	EntitySearchLimit int           `mapstructure:"entity_search_limit"`
	MaxGraphChunks    int           `mapstructure:"max_graph_chunks"`
}

// AuditConfig holds retrieval event sink configuration.
type AuditConfig struct {
	ParquetPath string `mapstructure:"parquet_path"`
	BatchSize   int    `mapstructure:"batch_size"`
	LogEvents   bool   `mapstructure:"log_events"`
}

// AlertConfig holds configuration for alerting
type AlertConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	SMTPHost string   `mapstructure:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// CircuitBreakerConfig holds configuration for circuit breaking
type CircuitBreakerConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxRequests      uint32  `mapstructure:"max_requests"`
	Interval         int     `mapstructure:"interval"` // in seconds
	Timeout          int     `mapstructure:"timeout"`  // in seconds
	ReadyToTripRatio float64 `mapstructure:"ready_to_trip_ratio"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	setDefaults()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	overrideWithEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects configurations that cannot produce a working engine.
func (c *Config) Validate() error {
	switch c.Graph.Driver {
	case "memory", "neo4j":
	default:
		return fmt.Errorf("unsupported graph driver %q", c.Graph.Driver)
	}
	switch c.Vector.Driver {
	case "memory", "qdrant", "pgvector":
	default:
		return fmt.Errorf("unsupported vector driver %q", c.Vector.Driver)
	}
	switch c.Bridge.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported bridge driver %q", c.Bridge.Driver)
	}
	switch c.Skeleton.SnapshotStore {
	case "badger", "file", "memory":
	default:
		return fmt.Errorf("unsupported skeleton snapshot store %q", c.Skeleton.SnapshotStore)
	}
	switch c.Embedding.Provider {
	case "openai", "hash", "none":
	default:
		return fmt.Errorf("unsupported embedding provider %q", c.Embedding.Provider)
	}
	if c.Assembler.MinVectorShare < 0 || c.Assembler.MinVectorShare > 1 {
		return fmt.Errorf("assembler.min_vector_share must be within [0, 1], got %v", c.Assembler.MinVectorShare)
	}
	if c.Classifier.LowThreshold > c.Classifier.HighThreshold {
		return fmt.Errorf("classifier.low_threshold (%v) exceeds high_threshold (%v)",
			c.Classifier.LowThreshold, c.Classifier.HighThreshold)
	}
	if c.Traversal.MaxHops <= 0 {
		return fmt.Errorf("traversal.max_hops must be positive, got %d", c.Traversal.MaxHops)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("server.shutdown_timeout", "10s")

	viper.SetDefault("graph.driver", "memory")
	viper.SetDefault("graph.database", "neo4j")

	viper.SetDefault("vector.driver", "memory")
	viper.SetDefault("vector.host", "localhost")
	viper.SetDefault("vector.port", 6334)
	viper.SetDefault("vector.collection", "strata_chunks")
	viper.SetDefault("vector.table", "strata_chunks")

	viper.SetDefault("bridge.driver", "memory")

	viper.SetDefault("embedding.provider", "openai")
	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.batch_size", 64)

	viper.SetDefault("resolver.fuzzy_threshold", 0.85)
	viper.SetDefault("resolver.embedding_threshold", 0.92)
	viper.SetDefault("resolver.ambiguous_confidence", 0.3)
	viper.SetDefault("resolver.review_queue_size", 1024)
	viper.SetDefault("resolver.workers", 8)

	viper.SetDefault("skeleton.pagerank_weight", 0.40)
	viper.SetDefault("skeleton.curation_weight", 0.30)
	viper.SetDefault("skeleton.recency_weight", 0.15)
	viper.SetDefault("skeleton.citation_weight", 0.15)
	viper.SetDefault("skeleton.threshold", 0.5)
	viper.SetDefault("skeleton.budget_fraction", 0.2)
	viper.SetDefault("skeleton.recency_half_life", "2160h")
	viper.SetDefault("skeleton.always_categories", []string{"regulation", "policy", "architecture_decision"})
	viper.SetDefault("skeleton.damping", 0.85)
	viper.SetDefault("skeleton.max_iterations", 100)
	viper.SetDefault("skeleton.tolerance", 1e-6)
	viper.SetDefault("skeleton.pagerank_timeout", "30s")
	viper.SetDefault("skeleton.batch_interval", "5m")
	viper.SetDefault("skeleton.snapshot_store", "badger")
	viper.SetDefault("skeleton.gate_ingestion", true)

	viper.SetDefault("classifier.high_threshold", 0.65)
	viper.SetDefault("classifier.low_threshold", 0.25)

	viper.SetDefault("traversal.max_hops", 3)
	viper.SetDefault("traversal.min_confidence", 0.5)
	viper.SetDefault("traversal.branching_cap", 25)
	viper.SetDefault("traversal.max_results", 20)
	viper.SetDefault("traversal.parallelism", 8)

	viper.SetDefault("assembler.token_budget", 4000)
	viper.SetDefault("assembler.min_vector_share", 0.4)
	viper.SetDefault("assembler.encoding", "cl100k_base")

	viper.SetDefault("retrieval.deadline", "500ms")
	viper.SetDefault("retrieval.vector_search_timeout", "150ms")
	viper.SetDefault("retrieval.graph_search_timeout", "150ms")
	viper.SetDefault("retrieval.traversal_timeout", "200ms")
	viper.SetDefault("retrieval.chunk_fetch_timeout", "100ms")
	viper.SetDefault("retrieval.top_k", 10)
	viper.SetDefault("retrieval.entity_search_limit", 5)
	viper.SetDefault("retrieval.max_graph_chunks", 20)

	viper.SetDefault("audit.batch_size", 500)
	viper.SetDefault("audit.log_events", true)

	viper.SetDefault("circuit_breaker.enabled", true)
	viper.SetDefault("circuit_breaker.max_requests", 1)
	viper.SetDefault("circuit_breaker.interval", 60)
	viper.SetDefault("circuit_breaker.timeout", 30)
	viper.SetDefault("circuit_breaker.ready_to_trip_ratio", 0.6)

	home, err := os.UserHomeDir()
	if err == nil {
		viper.SetDefault("audit.parquet_path", filepath.Join(home, ".strata", "audit"))
		viper.SetDefault("skeleton.snapshot_path", filepath.Join(home, ".strata", "skeleton"))
	}
}

// overrideWithEnv overrides config with environment variables
func overrideWithEnv(config *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && config.Embedding.APIKey == "" {
		config.Embedding.APIKey = apiKey
	}

	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		config.Graph.URI = uri
		config.Graph.Driver = "neo4j"
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		config.Graph.Username = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		config.Graph.Password = pass
	}

	if host := os.Getenv("QDRANT_HOST"); host != "" {
		config.Vector.Host = host
		config.Vector.Driver = "qdrant"
	}
	if key := os.Getenv("QDRANT_API_KEY"); key != "" {
		config.Vector.APIKey = key
	}
	if url := os.Getenv("PGVECTOR_URL"); url != "" {
		config.Vector.URL = url
		config.Vector.Driver = "pgvector"
	}

	if url := os.Getenv("REDIS_URL"); url != "" {
		config.Bridge.URL = url
		config.Bridge.Driver = "redis"
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if path := os.Getenv("STRATA_AUDIT_PATH"); path != "" {
		config.Audit.ParquetPath = path
	}
	if path := os.Getenv("STRATA_ERROR_LOG_PATH"); path != "" {
		config.Log.ErrorPath = path
	}
	if level := os.Getenv("STRATA_LOG_LEVEL"); level != "" {
		config.Log.Level = strings.ToLower(level)
	}
}
