// Package logging provides structured logging for RelayBus Core.
//
// It wraps the standard log/slog package so that every component logs with
// the same handler, level and default fields (service, version).
//
// Configuration lives in the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file:
//	    path: "logs/relaybus.log"
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("gateway connected", "gateway_id", gw.ID)
//	logger.Warn("sensor read failed", "device_id", dev.ID, "error", err)
//
// Keys are snake_case. Never log broker passwords or InfluxDB tokens.
package logging
