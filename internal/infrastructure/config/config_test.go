package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
site:
  id: "greenhouse-01"
  name: "Greenhouse"
  timezone: "UTC"
database:
  path: "/tmp/relaybus-test.db"
polling:
  sensor_interval: 15
  relay_interval: 7
recovery:
  enabled: false
api:
  port: 9000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "greenhouse-01" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "greenhouse-01")
	}
	if cfg.SensorPollInterval() != 15*time.Second {
		t.Errorf("SensorPollInterval() = %v, want 15s", cfg.SensorPollInterval())
	}
	if cfg.RelayPollInterval() != 7*time.Second {
		t.Errorf("RelayPollInterval() = %v, want 7s", cfg.RelayPollInterval())
	}
	if cfg.Recovery.Enabled {
		t.Error("Recovery.Enabled = true, want false from file")
	}

	// Values absent from the file keep their defaults.
	if cfg.Commands.MaxAttempts != 3 {
		t.Errorf("Commands.MaxAttempts = %d, want default 3", cfg.Commands.MaxAttempts)
	}
	if cfg.Modbus.DefaultPort != 4196 {
		t.Errorf("Modbus.DefaultPort = %d, want default 4196", cfg.Modbus.DefaultPort)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
polling:
  sensor_interval: 0
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "polling.sensor_interval") {
		t.Errorf("error = %v, want mention of polling.sensor_interval", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "missing site ID", mutate: func(c *Config) { c.Site.ID = "" }, wantErr: "site.id"},
		{name: "unknown timezone", mutate: func(c *Config) { c.Site.Timezone = "Mars/Olympus" }, wantErr: "site.timezone"},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: "database.path"},
		{name: "zero modbus timeout", mutate: func(c *Config) { c.Modbus.TimeoutMS = 0 }, wantErr: "modbus.timeout_ms"},
		{name: "zero relay interval", mutate: func(c *Config) { c.Polling.RelayInterval = 0 }, wantErr: "polling.relay_interval"},
		{name: "zero attempts", mutate: func(c *Config) { c.Commands.MaxAttempts = 0 }, wantErr: "commands.max_attempts"},
		{name: "zero queue size", mutate: func(c *Config) { c.Commands.QueueSize = 0 }, wantErr: "commands.queue_size"},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: "mqtt.qos"},
		{name: "influx without url", mutate: func(c *Config) { c.InfluxDB.Enabled = true }, wantErr: "influxdb.url"},
		{name: "port too high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: "api.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_CollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Site.ID = ""
	cfg.API.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	if !strings.Contains(err.Error(), "site.id") || !strings.Contains(err.Error(), "api.port") {
		t.Errorf("Validate() error = %v, want both problems reported", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("RELAYBUS_DATABASE_PATH", "/custom/path.db")
	t.Setenv("RELAYBUS_POLLING_SENSOR_INTERVAL", "30")
	t.Setenv("RELAYBUS_RECOVERY_ENABLED", "false")
	t.Setenv("RELAYBUS_MQTT_HOST", "mqtt.example.com")
	t.Setenv("RELAYBUS_MQTT_PASSWORD", "testpass")
	t.Setenv("RELAYBUS_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("RELAYBUS_API_PORT", "not-a-number")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.Polling.SensorInterval != 30 {
		t.Errorf("Polling.SensorInterval = %d, want 30", cfg.Polling.SensorInterval)
	}
	if cfg.Recovery.Enabled {
		t.Error("Recovery.Enabled = true, want false")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.API.Port != 8000 {
		t.Errorf("API.Port = %d, want default 8000 when env value is unparseable", cfg.API.Port)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("RELAYBUS_SITE_NAME=From Dotenv\n"), 0600); err != nil {
		t.Fatalf("writing env file: %v", err)
	}

	// Register cleanup for the variable godotenv is about to set.
	t.Setenv("RELAYBUS_SITE_NAME", "")
	os.Unsetenv("RELAYBUS_SITE_NAME")

	if err := LoadEnvFile(envPath); err != nil {
		t.Fatalf("LoadEnvFile() error = %v", err)
	}

	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if cfg.Site.Name != "From Dotenv" {
		t.Errorf("Site.Name = %q, want %q", cfg.Site.Name, "From Dotenv")
	}
}

func TestLoadEnvFile_Missing(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("LoadEnvFile() error = %v, want nil for missing file", err)
	}
	if err := LoadEnvFile(""); err != nil {
		t.Errorf("LoadEnvFile(\"\") error = %v, want nil", err)
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.ModbusTimeout(); got != 3*time.Second {
		t.Errorf("ModbusTimeout() = %v, want 3s", got)
	}
	if got := cfg.RetryBackoff(); got != 500*time.Millisecond {
		t.Errorf("RetryBackoff() = %v, want 500ms", got)
	}
	if got := cfg.ReadingRetention(); got != 30*24*time.Hour {
		t.Errorf("ReadingRetention() = %v, want 720h", got)
	}
	if got := cfg.GetWriteTimeout(); got != 30*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 30s", got)
	}
}
