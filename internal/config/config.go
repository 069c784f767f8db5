package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "POLICYHUB"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Delivery  DeliveryConfig  `yaml:"delivery" envconfig:"DELIVERY"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`

	// Applications maps application ids to the policy types they consume.
	// Only configurable from YAML; order is preserved.
	Applications []ApplicationConfig `yaml:"applications" ignored:"true"`
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
	MaxLicenseBytes int64         `yaml:"max_license_bytes" envconfig:"MAX_LICENSE_BYTES"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	// AdminKeys maps an API key to the operator it identifies. When empty,
	// license uploads are not authenticated.
	AdminKeys map[string]string `yaml:"admin_keys" envconfig:"ADMIN_KEYS"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// LicenseConfig describes where the encrypted license lives and how it is
// decrypted and validated.
type LicenseConfig struct {
	FilePath     string `yaml:"file_path" envconfig:"FILE_PATH"`
	AuditFile    string `yaml:"audit_file" envconfig:"AUDIT_FILE"`
	Namespace    string `yaml:"namespace" envconfig:"NAMESPACE"`
	BrandName    string `yaml:"brand_name" envconfig:"BRAND_NAME"`
	Passphrase   string `yaml:"passphrase" envconfig:"PASSPHRASE"`
	RegistryFile string `yaml:"registry_file" envconfig:"REGISTRY_FILE"`
	Watch        bool   `yaml:"watch" envconfig:"WATCH"`
}

// DeliveryConfig tunes the per-subscriber delivery workers.
type DeliveryConfig struct {
	RetryBackoff  time.Duration `yaml:"retry_backoff" envconfig:"RETRY_BACKOFF"`
	SweepSchedule string        `yaml:"sweep_schedule" envconfig:"SWEEP_SCHEDULE"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	WriteWait       time.Duration `yaml:"write_wait" envconfig:"WRITE_WAIT"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT"`
	MaxMessageSize  int64         `yaml:"max_message_size" envconfig:"MAX_MESSAGE_SIZE"`
}

// TelemetryConfig toggles tracing and metrics export.
type TelemetryConfig struct {
	ServiceName   string  `yaml:"service_name" envconfig:"SERVICE_NAME"`
	Environment   string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	EnableTracing bool    `yaml:"enable_tracing" envconfig:"ENABLE_TRACING"`
	EnableMetrics bool    `yaml:"enable_metrics" envconfig:"ENABLE_METRICS"`
	TraceExporter string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	SampleRatio   float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// ApplicationConfig binds one application id to its ordered policy types.
type ApplicationConfig struct {
	ID          string   `yaml:"id"`
	PolicyTypes []string `yaml:"policy_types"`
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence. An empty configFile makes
// Load search the usual locations.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile == "" {
		configFile = getConfigFilePath()
	}
	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Unset variables leave file and default values untouched.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if cfg.License.RegistryFile != "" {
		apps, err := loadRegistryFile(cfg.License.RegistryFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load application registry: %w", err)
		}
		cfg.Applications = apps
	}
	if len(cfg.Applications) == 0 {
		cfg.Applications = DefaultApplications()
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file on cfg. Keys absent from the file keep
// their current value.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// loadRegistryFile reads a standalone application registry document:
//
//	applications:
//	  - id: a8e9274d-83e4-451c-82d4-7679f1f004ec
//	    policy_types: [WebClient]
func loadRegistryFile(filePath string) ([]ApplicationConfig, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Applications []ApplicationConfig `yaml:"applications"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Applications, nil
}

// resolvePaths anchors relative license and log paths at the executable directory
func (c *Config) resolvePaths() error {
	paths, err := GetPaths(c)
	if err != nil {
		return err
	}

	c.License.FilePath = paths.LicenseFile
	c.License.AuditFile = paths.AuditFile
	c.Logging.FilePath = paths.LogFile
	return nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.License.FilePath == "" {
		return fmt.Errorf("license file path must be set")
	}

	if c.License.Namespace == "" || c.License.BrandName == "" {
		return fmt.Errorf("license namespace and brand name must be set")
	}

	if c.Delivery.RetryBackoff <= 0 {
		return fmt.Errorf("delivery retry backoff must be positive")
	}

	seen := make(map[uuid.UUID]struct{}, len(c.Applications))
	for _, app := range c.Applications {
		id, err := uuid.Parse(app.ID)
		if err != nil {
			return fmt.Errorf("invalid application id %q: %w", app.ID, err)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate application id %s", id)
		}
		seen[id] = struct{}{}
	}

	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		return fmt.Errorf("invalid logging output %q", c.Logging.Output)
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	locations := []string{
		"policyhub.yaml",
		"configs/policyhub.yaml",
		"../configs/policyhub.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// DefaultApplications returns the built-in application registry.
func DefaultApplications() []ApplicationConfig {
	return []ApplicationConfig{
		{ID: DefaultApplicationID, PolicyTypes: []string{DefaultPolicyType}},
	}
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
			MaxLicenseBytes: 4 << 20,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"*"},
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     DefaultRateLimit,
				Burst:   DefaultBurstSize,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: DefaultLogFile,
		},
		License: LicenseConfig{
			FilePath:  DefaultLicenseFile,
			AuditFile: DefaultAuditFile,
			Namespace: TargetNamespace,
			BrandName: BrandName,
			Watch:     true,
		},
		Delivery: DeliveryConfig{
			RetryBackoff:  DefaultRetryBackoff,
			SweepSchedule: DefaultSweepSchedule,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			WriteWait:       10 * time.Second,
			PingPeriod:      54 * time.Second,
			PongWait:        60 * time.Second,
			MaxMessageSize:  4096,
		},
		Telemetry: TelemetryConfig{
			ServiceName:   AppName,
			Environment:   "development",
			EnableTracing: false,
			EnableMetrics: true,
			TraceExporter: "stdout",
			SampleRatio:   1.0,
		},
	}
}
