// Package config loads and validates RelayBus Core configuration.
//
// Values are layered: built-in defaults, then config.yaml, then an optional
// .env file, then RELAYBUS_* environment variables. Validate reports every
// problem at once rather than stopping at the first.
//
// Secrets (MQTT password, InfluxDB token) belong in the environment or the
// .env file, not in config.yaml.
//
// Usage:
//
//	if err := config.LoadEnvFile(".env"); err != nil {
//	    return err
//	}
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	interval := cfg.SensorPollInterval()
package config
