// ABOUTME: Configuration loading and parsing for entity-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion, defaults and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied to fields left empty in the config file
const (
	DefaultDriver          = "sqlite"
	DefaultPageSize        = 50
	DefaultMaxPageSize     = 1000
	DefaultChunkSize       = 32 * 1024
	MaxChunkSize           = 16 * 1024 * 1024
	DefaultIdempotencyTTL  = 10 * time.Minute
	DefaultIdempotencySize = 10_000
	DefaultMetricsPath     = "/metrics"
)

// Config represents the complete entity-gateway configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Tailscale   TailscaleConfig   `yaml:"tailscale" toml:"tailscale"`
	Database    DatabaseConfig    `yaml:"database" toml:"database"`
	Store       StoreConfig       `yaml:"store" toml:"store"`
	Search      SearchConfig      `yaml:"search" toml:"search"`
	Blobs       BlobsConfig       `yaml:"blobs" toml:"blobs"`
	Idempotency IdempotencyConfig `yaml:"idempotency" toml:"idempotency"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration.
// An empty GRPCAddr disables the gRPC health endpoint.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver  string `yaml:"driver" toml:"driver"` // "sqlite" (pure Go) or "sqlite3" (cgo)
	Path    string `yaml:"path" toml:"path"`
	BlobDir string `yaml:"blob_dir" toml:"blob_dir"` // defaults to <dir of path>/blobs
}

// StoreConfig lists the entity types registered at startup
type StoreConfig struct {
	Types []string `yaml:"types" toml:"types"`
}

// SearchConfig holds pagination limits
type SearchConfig struct {
	DefaultPageSize int `yaml:"default_page_size" toml:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size" toml:"max_page_size"`
}

// BlobsConfig holds blob streaming configuration
type BlobsConfig struct {
	ChunkSize int `yaml:"chunk_size" toml:"chunk_size"`
}

// IdempotencyConfig controls how long Idempotency-Key headers are remembered
type IdempotencyConfig struct {
	TTL        time.Duration `yaml:"-" toml:"-"`
	MaxEntries int           `yaml:"max_entries" toml:"max_entries"`

	// Raw string value for unmarshaling
	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills in zero-valued optional fields
func (c *Config) ApplyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDriver
	}
	if c.Search.DefaultPageSize == 0 {
		c.Search.DefaultPageSize = DefaultPageSize
	}
	if c.Search.MaxPageSize == 0 {
		c.Search.MaxPageSize = DefaultMaxPageSize
	}
	if c.Blobs.ChunkSize == 0 {
		c.Blobs.ChunkSize = DefaultChunkSize
	}
	if c.Idempotency.TTL == 0 {
		c.Idempotency.TTL = DefaultIdempotencyTTL
	}
	if c.Idempotency.MaxEntries == 0 {
		c.Idempotency.MaxEntries = DefaultIdempotencySize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "sqlite3" {
		return fmt.Errorf("database.driver must be \"sqlite\" or \"sqlite3\", got %q", c.Database.Driver)
	}

	seen := make(map[string]bool, len(c.Store.Types))
	for i, name := range c.Store.Types {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("store.types[%d] must not be empty", i)
		}
		if seen[name] {
			return fmt.Errorf("store.types contains %q more than once", name)
		}
		seen[name] = true
	}

	if c.Search.DefaultPageSize < 1 {
		return fmt.Errorf("search.default_page_size must be positive")
	}
	if c.Search.MaxPageSize < 1 {
		return fmt.Errorf("search.max_page_size must be positive")
	}
	if c.Search.DefaultPageSize > c.Search.MaxPageSize {
		return fmt.Errorf("search.default_page_size (%d) exceeds search.max_page_size (%d)",
			c.Search.DefaultPageSize, c.Search.MaxPageSize)
	}

	if c.Blobs.ChunkSize < 1 || c.Blobs.ChunkSize > MaxChunkSize {
		return fmt.Errorf("blobs.chunk_size must be between 1 and %d", MaxChunkSize)
	}

	if c.Idempotency.TTL < 0 {
		return fmt.Errorf("idempotency.ttl must not be negative")
	}
	if c.Idempotency.MaxEntries < 1 {
		return fmt.Errorf("idempotency.max_entries must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	if c.Metrics.Enabled {
		if err := ValidateMetricsPath(c.Metrics.Path); err != nil {
			return err
		}
	}

	return nil
}

// reservedPaths are served by the gateway itself
var reservedPaths = []string{"/", "/health", "/health/ready", "/types"}

// ValidateMetricsPath checks that path is a literal route that does not
// shadow or collide with the gateway's own endpoints
func ValidateMetricsPath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	if strings.ContainsAny(path, "{} \t\n") {
		return fmt.Errorf("metrics.path %q must not contain wildcards or whitespace", path)
	}
	trimmed := strings.TrimSuffix(path, "/")
	for _, reserved := range reservedPaths {
		if path == reserved || trimmed == reserved {
			return fmt.Errorf("metrics.path %q collides with a built-in endpoint", path)
		}
	}
	if trimmed == "/type" || strings.HasPrefix(path, "/type/") {
		return fmt.Errorf("metrics.path %q collides with the entity API", path)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Idempotency.TTLRaw != "" {
		cfg.Idempotency.TTL, err = time.ParseDuration(cfg.Idempotency.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing idempotency.ttl %q: %w", cfg.Idempotency.TTLRaw, err)
		}
	}

	return nil
}
