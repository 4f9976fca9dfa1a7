package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for RelayBus Core.
// It is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Database   DatabaseConfig   `yaml:"database"`
	Modbus     ModbusConfig     `yaml:"modbus"`
	Polling    PollingConfig    `yaml:"polling"`
	Commands   CommandsConfig   `yaml:"commands"`
	Recovery   RecoveryConfig   `yaml:"recovery"`
	Automation AutomationConfig `yaml:"automation"`
	Readings   ReadingsConfig   `yaml:"readings"`
	Registry   RegistryConfig   `yaml:"registry"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SiteConfig identifies this controller to external integrations.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// ModbusConfig contains field bus transport settings shared by all gateways.
type ModbusConfig struct {
	TimeoutMS   int `yaml:"timeout_ms"`
	DefaultPort int `yaml:"default_port"`
	QueueSize   int `yaml:"queue_size"` // pending transport jobs per gateway
}

// PollingConfig controls the sensor and relay feedback poll loops.
type PollingConfig struct {
	SensorInterval   int `yaml:"sensor_interval"` // seconds
	RelayInterval    int `yaml:"relay_interval"`  // seconds
	OfflineThreshold int `yaml:"offline_threshold"`
}

// CommandsConfig controls the relay command queue.
type CommandsConfig struct {
	QueueSize      int `yaml:"queue_size"`
	MaxAttempts    int `yaml:"max_attempts"`
	RetryBackoffMS int `yaml:"retry_backoff_ms"`
}

// RecoveryConfig controls boot-time relay state replay.
type RecoveryConfig struct {
	Enabled bool `yaml:"enabled"`
	Timeout int  `yaml:"timeout"` // seconds to wait for all replayed commands
}

// AutomationConfig controls the schedule loop.
type AutomationConfig struct {
	ScheduleTick int `yaml:"schedule_tick"` // seconds
}

// ReadingsConfig controls reading retention.
type ReadingsConfig struct {
	RetentionDays int `yaml:"retention_days"`
	PruneInterval int `yaml:"prune_interval"` // seconds
}

// RegistryConfig controls how often the device graph is reloaded from storage.
type RegistryConfig struct {
	RefreshInterval int `yaml:"refresh_interval"` // seconds, 0 disables
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file and applies environment overrides.
//
// The loading order is:
//  1. Default values
//  2. YAML file values
//  3. Environment variables (RELAYBUS_SECTION_KEY)
//
// Callers that want a .env file honoured call LoadEnvFile first.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
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

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment without overwriting variables that are already set.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file %q: %w", path, err)
	}
	return nil
}

// defaultConfig returns a Config with the values a single-gateway
// installation runs with out of the box.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "relaybus-001",
			Name:     "RelayBus Controller",
			Timezone: "Local",
		},
		Database: DatabaseConfig{
			Path:        "./data/relaybus.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Modbus: ModbusConfig{
			TimeoutMS:   3000,
			DefaultPort: 4196,
			QueueSize:   128,
		},
		Polling: PollingConfig{
			SensorInterval:   10,
			RelayInterval:    5,
			OfflineThreshold: 1,
		},
		Commands: CommandsConfig{
			QueueSize:      64,
			MaxAttempts:    3,
			RetryBackoffMS: 500,
		},
		Recovery: RecoveryConfig{
			Enabled: true,
			Timeout: 60,
		},
		Automation: AutomationConfig{
			ScheduleTick: 60,
		},
		Readings: ReadingsConfig{
			RetentionDays: 30,
			PruneInterval: 3600,
		},
		Registry: RegistryConfig{
			RefreshInterval: 60,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "relaybus-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies RELAYBUS_* environment variables.
// Unparseable numeric or boolean values are ignored.
func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setString("RELAYBUS_SITE_ID", &cfg.Site.ID)
	setString("RELAYBUS_SITE_NAME", &cfg.Site.Name)
	setString("RELAYBUS_SITE_TIMEZONE", &cfg.Site.Timezone)

	setString("RELAYBUS_DATABASE_PATH", &cfg.Database.Path)

	setInt("RELAYBUS_MODBUS_TIMEOUT_MS", &cfg.Modbus.TimeoutMS)
	setInt("RELAYBUS_POLLING_SENSOR_INTERVAL", &cfg.Polling.SensorInterval)
	setInt("RELAYBUS_POLLING_RELAY_INTERVAL", &cfg.Polling.RelayInterval)
	setBool("RELAYBUS_RECOVERY_ENABLED", &cfg.Recovery.Enabled)
	setInt("RELAYBUS_READINGS_RETENTION_DAYS", &cfg.Readings.RetentionDays)

	setBool("RELAYBUS_MQTT_ENABLED", &cfg.MQTT.Enabled)
	setString("RELAYBUS_MQTT_HOST", &cfg.MQTT.Broker.Host)
	setInt("RELAYBUS_MQTT_PORT", &cfg.MQTT.Broker.Port)
	setString("RELAYBUS_MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	setString("RELAYBUS_MQTT_PASSWORD", &cfg.MQTT.Auth.Password)

	setBool("RELAYBUS_INFLUXDB_ENABLED", &cfg.InfluxDB.Enabled)
	setString("RELAYBUS_INFLUXDB_URL", &cfg.InfluxDB.URL)
	setString("RELAYBUS_INFLUXDB_TOKEN", &cfg.InfluxDB.Token)

	setString("RELAYBUS_API_HOST", &cfg.API.Host)
	setInt("RELAYBUS_API_PORT", &cfg.API.Port)

	setString("RELAYBUS_LOG_LEVEL", &cfg.Logging.Level)
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if _, err := time.LoadLocation(c.Site.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("site.timezone %q is not a known location", c.Site.Timezone))
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Modbus.TimeoutMS <= 0 {
		errs = append(errs, "modbus.timeout_ms must be positive")
	}
	if c.Modbus.QueueSize < 1 {
		errs = append(errs, "modbus.queue_size must be at least 1")
	}

	if c.Polling.SensorInterval <= 0 {
		errs = append(errs, "polling.sensor_interval must be positive")
	}
	if c.Polling.RelayInterval <= 0 {
		errs = append(errs, "polling.relay_interval must be positive")
	}
	if c.Polling.OfflineThreshold < 1 {
		errs = append(errs, "polling.offline_threshold must be at least 1")
	}

	if c.Commands.QueueSize < 1 {
		errs = append(errs, "commands.queue_size must be at least 1")
	}
	if c.Commands.MaxAttempts < 1 {
		errs = append(errs, "commands.max_attempts must be at least 1")
	}
	if c.Commands.RetryBackoffMS < 0 {
		errs = append(errs, "commands.retry_backoff_ms must not be negative")
	}

	if c.Recovery.Timeout <= 0 {
		errs = append(errs, "recovery.timeout must be positive")
	}
	if c.Automation.ScheduleTick <= 0 {
		errs = append(errs, "automation.schedule_tick must be positive")
	}
	if c.Readings.RetentionDays < 0 {
		errs = append(errs, "readings.retention_days must not be negative")
	}
	if c.Registry.RefreshInterval < 0 {
		errs = append(errs, "registry.refresh_interval must not be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Location returns the site time zone used for schedule evaluation.
// Validate guarantees it loads; UTC is returned if it somehow does not.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Site.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ModbusTimeout returns the per-request transport timeout.
func (c *Config) ModbusTimeout() time.Duration {
	return time.Duration(c.Modbus.TimeoutMS) * time.Millisecond
}

// SensorPollInterval returns the sensor poll interval as a Duration.
func (c *Config) SensorPollInterval() time.Duration {
	return time.Duration(c.Polling.SensorInterval) * time.Second
}

// RelayPollInterval returns the relay feedback poll interval as a Duration.
func (c *Config) RelayPollInterval() time.Duration {
	return time.Duration(c.Polling.RelayInterval) * time.Second
}

// RetryBackoff returns the delay before the first command retry.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Commands.RetryBackoffMS) * time.Millisecond
}

// RecoveryTimeout returns how long boot recovery waits for replayed commands.
func (c *Config) RecoveryTimeout() time.Duration {
	return time.Duration(c.Recovery.Timeout) * time.Second
}

// ScheduleTick returns the schedule evaluation interval.
func (c *Config) ScheduleTick() time.Duration {
	return time.Duration(c.Automation.ScheduleTick) * time.Second
}

// ReadingRetention returns how long readings are kept. Zero keeps them forever.
func (c *Config) ReadingRetention() time.Duration {
	return time.Duration(c.Readings.RetentionDays) * 24 * time.Hour
}

// PruneInterval returns how often old readings are deleted.
func (c *Config) PruneInterval() time.Duration {
	return time.Duration(c.Readings.PruneInterval) * time.Second
}

// RegistryRefreshInterval returns the periodic registry reload interval.
func (c *Config) RegistryRefreshInterval() time.Duration {
	return time.Duration(c.Registry.RefreshInterval) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
