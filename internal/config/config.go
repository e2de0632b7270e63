package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
	Session   SessionConfig   `yaml:"session" envconfig:"SESSION"`
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Database  DatabaseConfig  `yaml:"database" envconfig:"DATABASE"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	// RequestTimeout bounds REST handlers; WebSocket connections are exempt.
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
}

// Address returns the listen address
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	// APIKeys maps accepted X-API-Key values to client names. Empty leaves
	// the session REST endpoints open.
	APIKeys map[string]string `yaml:"api_keys" envconfig:"API_KEYS"`
}

// RateLimitConfig contains per-client rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level     string `yaml:"level" envconfig:"LEVEL"`
	Format    string `yaml:"format" envconfig:"FORMAT"`
	Output    string `yaml:"output" envconfig:"OUTPUT"`
	FilePath  string `yaml:"file_path" envconfig:"FILE_PATH"`
	AddSource bool   `yaml:"add_source" envconfig:"ADD_SOURCE"`
}

// WebSocketConfig contains WebSocket gateway configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	SendBufferSize  int           `yaml:"send_buffer_size" envconfig:"SEND_BUFFER_SIZE"`
	MaxMessageSize  int64         `yaml:"max_message_size" envconfig:"MAX_MESSAGE_SIZE"`
	WriteWait       time.Duration `yaml:"write_wait" envconfig:"WRITE_WAIT"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT"`
}

// SessionConfig contains session registry and invalidation settings
type SessionConfig struct {
	// DirectoryBackend is "memory" or "postgres"
	DirectoryBackend string `yaml:"directory_backend" envconfig:"DIRECTORY_BACKEND"`
	// PurgeOnStart drops bindings left behind by a previous process.
	// Only meaningful for the postgres backend.
	PurgeOnStart     bool          `yaml:"purge_on_start" envconfig:"PURGE_ON_START"`
	PublisherWorkers int           `yaml:"publisher_workers" envconfig:"PUBLISHER_WORKERS"`
	QueueSize        int           `yaml:"queue_size" envconfig:"QUEUE_SIZE"`
	SendTimeout      time.Duration `yaml:"send_timeout" envconfig:"SEND_TIMEOUT"`
	DrainTimeout     time.Duration `yaml:"drain_timeout" envconfig:"DRAIN_TIMEOUT"`
}

// LicenseConfig contains license source and cache settings
type LicenseConfig struct {
	// Source is "memory" or "postgres"
	Source string `yaml:"source" envconfig:"SOURCE"`
	// SeedFile is a YAML license list. With the memory source it is the
	// whole license set; with postgres it is upserted at startup.
	SeedFile  string        `yaml:"seed_file" envconfig:"SEED_FILE"`
	CacheTTL  time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL"`
	CacheSize int           `yaml:"cache_size" envconfig:"CACHE_SIZE"`
}

// DatabaseConfig contains PostgreSQL pool settings
type DatabaseConfig struct {
	URL               string        `yaml:"url" envconfig:"URL"`
	MaxConns          int32         `yaml:"max_conns" envconfig:"MAX_CONNS"`
	MinConns          int32         `yaml:"min_conns" envconfig:"MIN_CONNS"`
	MaxConnLifetime   time.Duration `yaml:"max_conn_lifetime" envconfig:"MAX_CONN_LIFETIME"`
	MaxConnIdleTime   time.Duration `yaml:"max_conn_idle_time" envconfig:"MAX_CONN_IDLE_TIME"`
	HealthCheckPeriod time.Duration `yaml:"health_check_period" envconfig:"HEALTH_CHECK_PERIOD"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout" envconfig:"CONNECT_TIMEOUT"`
	AutoMigrate       bool          `yaml:"auto_migrate" envconfig:"AUTO_MIGRATE"`
}

// TelemetryConfig contains OpenTelemetry exporter settings
type TelemetryConfig struct {
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// UsesPostgres reports whether any component needs a database pool
func (c *Config) UsesPostgres() bool {
	return c.Session.DirectoryBackend == BackendPostgres || c.License.Source == BackendPostgres
}

// Load builds the configuration from defaults, then the config file if one
// is found, then SESSIONGATE_* environment variables.
func Load() (*Config, error) {
	return LoadFrom(getConfigFilePath())
}

// LoadFrom is Load with an explicit config file path. An empty path skips
// the file layer.
func LoadFrom(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays a YAML file onto cfg. Keys absent from the file
// keep their current value.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Security.EnableCORS && len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified when CORS is enabled")
	}

	if c.Security.RateLimit.Enabled && (c.Security.RateLimit.RPS <= 0 || c.Security.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit rps and burst must be positive when enabled")
	}

	c.Logging.Format = strings.ToLower(c.Logging.Format)
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid logging format: %q", c.Logging.Format)
	}

	c.Logging.Output = strings.ToLower(c.Logging.Output)
	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		return fmt.Errorf("invalid logging output: %q", c.Logging.Output)
	}

	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		c.Logging.FilePath = DefaultLogFile
	}

	if c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		return fmt.Errorf("websocket ping period (%s) must be shorter than pong wait (%s)",
			c.WebSocket.PingPeriod, c.WebSocket.PongWait)
	}

	if !validBackend(c.Session.DirectoryBackend) {
		return fmt.Errorf("invalid session directory backend: %q", c.Session.DirectoryBackend)
	}

	if !validBackend(c.License.Source) {
		return fmt.Errorf("invalid license source: %q", c.License.Source)
	}

	if c.License.Source == BackendMemory && c.License.SeedFile == "" {
		return fmt.Errorf("license seed file is required for the memory license source")
	}

	if c.UsesPostgres() && c.Database.URL == "" {
		return fmt.Errorf("database url is required for the postgres backend")
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample ratio must be within [0,1]: %v", c.Telemetry.SampleRatio)
	}

	return nil
}

func validBackend(name string) bool {
	return name == BackendMemory || name == BackendPostgres
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if path := os.Getenv(ConfigFileEnv); path != "" {
		return path
	}

	// Check for config file in common locations
	locations := []string{
		"sessiongate.yaml",
		"configs/sessiongate.yaml",
		"../configs/sessiongate.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  10 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: DefaultLogFile,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			SendBufferSize:  64,
			MaxMessageSize:  4096,
			WriteWait:       10 * time.Second,
			PingPeriod:      30 * time.Second,
			PongWait:        60 * time.Second,
		},
		Session: SessionConfig{
			DirectoryBackend: BackendMemory,
			PublisherWorkers: 4,
			QueueSize:        256,
			SendTimeout:      5 * time.Second,
			DrainTimeout:     10 * time.Second,
		},
		License: LicenseConfig{
			Source:    BackendMemory,
			SeedFile:  DefaultSeedFile,
			CacheTTL:  5 * time.Minute,
			CacheSize: 10000,
		},
		Database: DatabaseConfig{
			MaxConns:          20,
			MinConns:          2,
			MaxConnLifetime:   time.Hour,
			MaxConnIdleTime:   30 * time.Minute,
			HealthCheckPeriod: time.Minute,
			ConnectTimeout:    10 * time.Second,
			AutoMigrate:       true,
		},
		Telemetry: TelemetryConfig{
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
	}
}
