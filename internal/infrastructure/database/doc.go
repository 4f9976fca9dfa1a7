// Package database provides SQLite connectivity for RelayBus Core.
//
// SQLite is the durable source of truth for the gateway/device/channel
// graph, readings, relay states, schedules, triggers and the audit log.
// The database runs in WAL mode with a busy timeout and a single pooled
// connection.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err // fatal: the controller cannot run without storage
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are embedded from the top-level migrations package and named
// YYYYMMDD_HHMMSS_description.up.sql / .down.sql. They are additive: new
// columns must be nullable or carry a default.
package database
