package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend selects the persistence engine for the routing graph.
const (
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// DefaultEndpoints are the public Overpass mirrors tried in order.
var DefaultEndpoints = []string{
	"https://overpass-api.de/api/interpreter",
	"https://overpass.kumi.systems/api/interpreter",
	"https://overpass.osm.ch/api/interpreter",
}

// Config holds the global configuration for the ingestion pipeline.
type Config struct {
	// Storage settings
	DataDir string `yaml:"data_dir"` // raw files, coordinate stores, badger db
	Backend string `yaml:"backend"`  // "badger" or "postgres"

	// Remote query settings
	Endpoints      []string      `yaml:"endpoints"`
	QueryTimeout   time.Duration `yaml:"query_timeout"`
	MaxRetries     int           `yaml:"max_retries"`     // per endpoint
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"` // doubled each attempt
	QueryInterval  time.Duration `yaml:"query_interval"`   // politeness throttle

	// Parsing and graph building settings
	ChunkSize          int           `yaml:"chunk_size"`           // bytes read per stream iteration
	NodeBatchSize      int           `yaml:"node_batch_size"`      // routing nodes per insert batch
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`  // node pass state checkpoints
	EdgeCommitCount    int           `yaml:"edge_commit_count"`    // edges per durable commit
	EdgeCommitInterval time.Duration `yaml:"edge_commit_interval"` // wall-clock commit bound
	NodeCacheSize      int           `yaml:"node_cache_size"`      // rotating edge-pass cache entries
	CacheRefreshEdges  int           `yaml:"cache_refresh_edges"`  // edges between cache reloads

	// Classification settings
	ProfileFile string `yaml:"profile_file"` // YAML taxonomy override
	LuaScript   string `yaml:"lua_script"`   // Lua classify_way override

	// Database settings (postgres backend only)
	DBHost     string `yaml:"db_host"`
	DBPort     int    `yaml:"db_port"`
	DBName     string `yaml:"db_name"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBSchema   string `yaml:"db_schema"`

	// Logging and metrics
	Verbose         bool          `yaml:"verbose"`
	LogFile         string        `yaml:"log_file"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./trailgraph_data",
		Backend: BackendBadger,

		Endpoints:      DefaultEndpoints,
		QueryTimeout:   10 * time.Minute, // regions can be large
		MaxRetries:     3,
		RetryBaseDelay: 2 * time.Second,
		QueryInterval:  5 * time.Second,

		ChunkSize:          256 * 1024,
		NodeBatchSize:      500,
		CheckpointInterval: 5 * time.Second,
		EdgeCommitCount:    2000,
		EdgeCommitInterval: 10 * time.Second,
		NodeCacheSize:      4000,
		CacheRefreshEdges:  25000,

		DBHost:   "localhost",
		DBPort:   5432,
		DBName:   "trailgraph",
		DBUser:   "postgres",
		DBSchema: "public",

		MetricsInterval: 30 * time.Second,
	}
}

// LoadFile overlays settings from a YAML file onto the config.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *Config) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", c.DBPassword)
	}
	return connStr
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required")
	}
	if c.Backend != BackendBadger && c.Backend != BackendPostgres {
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.ChunkSize < 4096 {
		return fmt.Errorf("chunk size must be at least 4096")
	}
	if c.NodeBatchSize < 1 {
		return fmt.Errorf("node batch size must be at least 1")
	}
	if c.NodeCacheSize < 1 {
		return fmt.Errorf("node cache size must be at least 1")
	}
	return nil
}
