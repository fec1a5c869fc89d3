package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for einkd.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Display  DisplayConfig  `yaml:"display"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServiceConfig contains socket server and scheduling settings.
type ServiceConfig struct {
	// Listen selects the transport: "unix" (default) or "tcp".
	Listen string `yaml:"listen"`

	// SocketPath is the Unix domain socket path (listen: unix).
	SocketPath string `yaml:"socket_path"`

	// TCPHost and TCPPort are used when listen is "tcp".
	TCPHost string `yaml:"tcp_host"`
	TCPPort int    `yaml:"tcp_port"`

	// MaxRequestBytes is the largest request a client may send.
	// Oversized requests are rejected without being queued.
	MaxRequestBytes int `yaml:"max_request_bytes"`

	// ReadTimeout is the per-connection read timeout in seconds.
	ReadTimeout int `yaml:"read_timeout"`

	// AcceptTimeoutMs bounds each blocking accept so the listener can
	// observe a stop request promptly (milliseconds).
	AcceptTimeoutMs int `yaml:"accept_timeout_ms"`

	// PollIntervalMs is the dispatcher's idle sleep between empty-queue
	// checks (milliseconds).
	PollIntervalMs int `yaml:"poll_interval_ms"`

	// StartupTimeout bounds the wait for the listener to report ready (seconds).
	StartupTimeout int `yaml:"startup_timeout"`

	// ShutdownTimeout bounds worker joins during shutdown (seconds).
	ShutdownTimeout int `yaml:"shutdown_timeout"`

	// InactivityTimeout is how long the watchdog waits without any
	// processed command before logging a health warning (seconds).
	// 0 disables the watchdog.
	InactivityTimeout int `yaml:"inactivity_timeout"`
}

// DisplayConfig contains panel acquisition and driver settings.
type DisplayConfig struct {
	// MockMode forces the in-memory backend without touching hardware.
	MockMode bool `yaml:"mock_mode"`

	// MaxInitRetries is how many hardware acquisition attempts are made
	// before falling back to the mock backend.
	MaxInitRetries int `yaml:"max_init_retries"`

	// RetryDelay is the backoff between acquisition attempts (seconds).
	RetryDelay int `yaml:"retry_delay"`

	// BusyTimeout bounds the panel's busy-wait during refresh (seconds).
	BusyTimeout int `yaml:"busy_timeout"`

	// ForceKillConflicts enables terminating processes that hold the GPIO
	// chip when acquisition finds it busy. Off by default.
	ForceKillConflicts bool `yaml:"force_kill_conflicts"`

	// GPIOChip is the character device inspected for conflicting holders.
	GPIOChip string `yaml:"gpio_chip"`

	// SPIDevice is the SPI port name passed to the SPI registry.
	SPIDevice string `yaml:"spi_device"`

	// Control line names as understood by the GPIO registry.
	ResetPin string `yaml:"reset_pin"`
	DCPin    string `yaml:"dc_pin"`
	BusyPin  string `yaml:"busy_pin"`

	// SPIHz is the SPI clock frequency.
	SPIHz int `yaml:"spi_hz"`

	// FullRefreshInterval forces a full clear every N image updates to
	// prevent e-paper ghosting. 0 disables periodic full refreshes.
	FullRefreshInterval int `yaml:"full_refresh_interval"`

	// ClearOnFullRefresh clears the panel before a forced full refresh.
	ClearOnFullRefresh bool `yaml:"clear_on_full_refresh"`
}

// DatabaseConfig contains SQLite command history settings.
// An empty path disables command history entirely.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays is how long command history is kept. 0 keeps forever.
	RetentionDays int `yaml:"retention_days"`
}

// MQTTConfig contains MQTT command bridge settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains telemetry connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: EINKD_SECTION_KEY
// For example: EINKD_SOCKET_PATH, EINKD_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
// Socket path, TCP port, retry counts and the inactivity timeout match the
// values the hardware has historically been deployed with.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Listen:            "unix",
			SocketPath:        "/tmp/eink_service.sock",
			TCPHost:           "127.0.0.1",
			TCPPort:           8797,
			MaxRequestBytes:   65536,
			ReadTimeout:       5,
			AcceptTimeoutMs:   100,
			PollIntervalMs:    10,
			StartupTimeout:    5,
			ShutdownTimeout:   3,
			InactivityTimeout: 300,
		},
		Display: DisplayConfig{
			MaxInitRetries:      3,
			RetryDelay:          2,
			BusyTimeout:         10,
			GPIOChip:            "/dev/gpiochip0",
			SPIDevice:           "SPI0.0",
			ResetPin:            "GPIO17",
			DCPin:               "GPIO25",
			BusyPin:             "GPIO24",
			SPIHz:               4000000,
			FullRefreshInterval: 20,
			ClearOnFullRefresh:  true,
		},
		Database: DatabaseConfig{
			Path:        "./data/einkd.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "einkd",
			},
			QoS:         1,
			TopicPrefix: "einkd",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: EINKD_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Service
	if v := os.Getenv("EINKD_SOCKET_PATH"); v != "" {
		cfg.Service.SocketPath = v
	}
	if v := os.Getenv("EINKD_LISTEN"); v != "" {
		cfg.Service.Listen = v
	}

	// Display
	if v := os.Getenv("EINKD_MOCK_MODE"); v != "" {
		cfg.Display.MockMode = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("EINKD_FORCE_KILL_CONFLICTS"); v != "" {
		cfg.Display.ForceKillConflicts = v == "1" || strings.EqualFold(v, "true")
	}

	// Database
	if v := os.Getenv("EINKD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("EINKD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("EINKD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("EINKD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("EINKD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Service validation
	switch c.Service.Listen {
	case "unix":
		if c.Service.SocketPath == "" {
			errs = append(errs, "service.socket_path is required for unix listener")
		}
	case "tcp":
		if c.Service.TCPPort < 1 || c.Service.TCPPort > 65535 {
			errs = append(errs, "service.tcp_port must be between 1 and 65535")
		}
	default:
		errs = append(errs, `service.listen must be "unix" or "tcp"`)
	}
	if c.Service.MaxRequestBytes <= 0 {
		errs = append(errs, "service.max_request_bytes must be positive")
	}
	if c.Service.AcceptTimeoutMs <= 0 {
		errs = append(errs, "service.accept_timeout_ms must be positive")
	}
	if c.Service.PollIntervalMs <= 0 {
		errs = append(errs, "service.poll_interval_ms must be positive")
	}

	// Display validation
	if c.Display.MaxInitRetries < 1 {
		errs = append(errs, "display.max_init_retries must be at least 1")
	}
	if c.Display.BusyTimeout < 1 {
		errs = append(errs, "display.busy_timeout must be at least 1 second")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the per-connection read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.Service.ReadTimeout) * time.Second
}

// GetAcceptTimeout returns the listener accept timeout as a Duration.
func (c *Config) GetAcceptTimeout() time.Duration {
	return time.Duration(c.Service.AcceptTimeoutMs) * time.Millisecond
}

// GetPollInterval returns the dispatcher idle poll interval as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Service.PollIntervalMs) * time.Millisecond
}

// GetStartupTimeout returns the listener-ready wait bound as a Duration.
func (c *Config) GetStartupTimeout() time.Duration {
	return time.Duration(c.Service.StartupTimeout) * time.Second
}

// GetShutdownTimeout returns the worker join bound as a Duration.
func (c *Config) GetShutdownTimeout() time.Duration {
	return time.Duration(c.Service.ShutdownTimeout) * time.Second
}

// GetInactivityTimeout returns the watchdog threshold as a Duration.
func (c *Config) GetInactivityTimeout() time.Duration {
	return time.Duration(c.Service.InactivityTimeout) * time.Second
}

// GetRetryDelay returns the acquisition backoff as a Duration.
func (c *Config) GetRetryDelay() time.Duration {
	return time.Duration(c.Display.RetryDelay) * time.Second
}

// GetBusyTimeout returns the panel busy-wait bound as a Duration.
func (c *Config) GetBusyTimeout() time.Duration {
	return time.Duration(c.Display.BusyTimeout) * time.Second
}
