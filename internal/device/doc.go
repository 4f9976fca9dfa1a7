// Package device provides the Device Registry for RelayBus Core.
//
// The registry is the in-memory index of the configuration graph the
// controller operates on: gateways own devices, devices own channels. It is
// mirrored from SQLite, which stays the source of truth, and is refreshed
// whenever configuration changes.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│                         Device Registry                          │
//	│                                                                  │
//	│  ┌────────────────┐   ┌────────────────┐   ┌────────────────┐    │
//	│  │    Registry    │──▶│   Repository   │   │   Validation   │    │
//	│  │ (registry.go)  │   │(repository.go) │   │(validation.go) │    │
//	│  │ • graph cache  │   │ • gateways     │   │ • bus address  │    │
//	│  │ • online flags │   │ • devices      │   │ • channel kind │    │
//	│  └────────────────┘   │ • channels     │   └────────────────┘    │
//	│                       └────────────────┘                         │
//	│  ┌────────────────┐   ┌────────────────┐   ┌────────────────┐    │
//	│  │    Readings    │   │  Relay states  │   │    Profiles    │    │
//	│  │ (readings.go)  │   │(relay_state.go)│   │  (profile.go)  │    │
//	│  │ written by the │   │ written by the │   │ register maps  │    │
//	│  │ poller only    │   │ command queue  │   │ per model      │    │
//	│  └────────────────┘   └────────────────┘   └────────────────┘    │
//	└──────────────────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Gateway: a Modbus TCP bridge or local RTU port exposing one bus
//   - Device: a sensor or relay controller at a bus address (1..247)
//   - Channel: one sensor reading or relay output of a device
//   - Reading: one successful sensor poll (append-only)
//   - RelayState: the single live commanded state of a relay channel
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	ch, dev, err := registry.LookupChannel(ctx, channelID)
//	if errors.Is(err, device.ErrUnknownChannel) {
//	    // skip
//	}
//
// # Thread Safety
//
// Registry methods are safe for concurrent use. Values returned by the
// registry are deep copies.
package device
