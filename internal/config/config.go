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

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "VALKEYHTTP"

// DefaultConfigFile is looked up in the working directory when no path is given.
const DefaultConfigFile = "valkey-http.yaml"

// Engine kinds
const (
	EngineMemory = "memory"
	EngineValkey = "valkey"
)

// Monitor overflow policies
const (
	OverflowDropOldest = "drop_oldest"
	OverflowDisconnect = "disconnect"
)

// Config represents the complete gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Engine    EngineConfig    `yaml:"engine" envconfig:"ENGINE"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
	Monitor   MonitorConfig   `yaml:"monitor" envconfig:"MONITOR"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	AuthRealm       string        `yaml:"auth_realm" envconfig:"AUTH_REALM"`
}

// EngineConfig selects and configures the key-value engine behind the gateway
type EngineConfig struct {
	Kind                string        `yaml:"kind" envconfig:"KIND"`
	URL                 string        `yaml:"url" envconfig:"URL"`
	Users               []string      `yaml:"users" envconfig:"USERS"`
	DialTimeout         time.Duration `yaml:"dial_timeout" envconfig:"DIAL_TIMEOUT"`
	MonitorReconnectMax time.Duration `yaml:"monitor_reconnect_max" envconfig:"MONITOR_RECONNECT_MAX"`
}

// WebSocketConfig contains WebSocket session configuration
type WebSocketConfig struct {
	Subprotocol     string        `yaml:"subprotocol" envconfig:"SUBPROTOCOL"`
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	WriteWait       time.Duration `yaml:"write_wait" envconfig:"WRITE_WAIT"`
	HealthInterval  time.Duration `yaml:"health_interval" envconfig:"HEALTH_INTERVAL"`
	MaxMessageSize  int64         `yaml:"max_message_size" envconfig:"MAX_MESSAGE_SIZE"`
}

// MonitorConfig bounds the monitor fan-out queues
type MonitorConfig struct {
	QueueSize int    `yaml:"queue_size" envconfig:"QUEUE_SIZE"`
	InboxSize int    `yaml:"inbox_size" envconfig:"INBOX_SIZE"`
	Overflow  string `yaml:"overflow" envconfig:"OVERFLOW"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// TelemetryConfig contains OpenTelemetry configuration
type TelemetryConfig struct {
	MetricsEnabled bool    `yaml:"metrics_enabled" envconfig:"METRICS_ENABLED"`
	MetricsAddr    string  `yaml:"metrics_addr" envconfig:"METRICS_ADDR"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence. An empty path falls back to
// VALKEYHTTP_CONFIG_FILE and then to DefaultConfigFile if it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	configFile := getConfigFilePath(path)
	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Fields without a matching variable are left untouched, so file values survive.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// getConfigFilePath resolves which config file to read, if any
func getConfigFilePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if fromEnv := os.Getenv(EnvPrefix + "_CONFIG_FILE"); fromEnv != "" {
		return fromEnv
	}
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return DefaultConfigFile
	}
	return ""
}

// Validate checks the configuration after programmatic overrides
func (c *Config) Validate() error {
	return c.validate()
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.IdleTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server shutdown timeout must be positive")
	}

	switch c.Engine.Kind {
	case EngineMemory:
	case EngineValkey:
		if c.Engine.URL == "" {
			return fmt.Errorf("engine url is required for the valkey engine")
		}
	default:
		return fmt.Errorf("unknown engine kind: %q", c.Engine.Kind)
	}

	for _, entry := range c.Engine.Users {
		if _, _, ok := strings.Cut(entry, ":"); !ok {
			return fmt.Errorf("engine user %q must have the form login:password", entry)
		}
	}

	if c.WebSocket.HealthInterval <= 0 {
		return fmt.Errorf("websocket health interval must be positive")
	}

	if c.WebSocket.WriteWait <= 0 {
		return fmt.Errorf("websocket write wait must be positive")
	}

	if c.Monitor.QueueSize <= 0 {
		return fmt.Errorf("monitor queue size must be positive: %d", c.Monitor.QueueSize)
	}

	if c.Monitor.InboxSize <= 0 {
		return fmt.Errorf("monitor inbox size must be positive: %d", c.Monitor.InboxSize)
	}

	if c.Monitor.Overflow != OverflowDropOldest && c.Monitor.Overflow != OverflowDisconnect {
		return fmt.Errorf("unknown monitor overflow policy: %q", c.Monitor.Overflow)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level: %q", c.Logging.Level)
	}

	// JSON is the only supported log format
	c.Logging.Format = "json"

	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		return fmt.Errorf("unknown log output: %q", c.Logging.Output)
	}

	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/valkey-http.log"
	}

	switch c.Telemetry.TraceExporter {
	case "none", "stdout":
	default:
		return fmt.Errorf("unsupported trace exporter: %q", c.Telemetry.TraceExporter)
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample ratio must be within [0,1]: %v", c.Telemetry.SampleRatio)
	}

	return nil
}

// Addr returns the listen address of the gateway
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Credentials splits the configured users into a login to password map.
// The default user is always present.
func (e EngineConfig) Credentials() map[string]string {
	users := map[string]string{"default": "default"}
	for _, entry := range e.Users {
		if login, password, ok := strings.Cut(entry, ":"); ok && login != "" {
			users[login] = password
		}
	}
	return users
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AuthRealm:       "acl",
		},
		Engine: EngineConfig{
			Kind:                EngineMemory,
			URL:                 "redis://localhost:6379/0",
			DialTimeout:         5 * time.Second,
			MonitorReconnectMax: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			Subprotocol:     "echo",
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			WriteWait:       10 * time.Second,
			HealthInterval:  time.Second,
			MaxMessageSize:  64 << 10,
		},
		Monitor: MonitorConfig{
			QueueSize: 1024,
			InboxSize: 4096,
			Overflow:  OverflowDropOldest,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "console",
		},
		Telemetry: TelemetryConfig{
			MetricsEnabled: true,
			MetricsAddr:    ":9090",
			TraceExporter:  "none",
			SampleRatio:    1.0,
		},
	}
}
