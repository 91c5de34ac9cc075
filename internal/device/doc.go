// Package device provides the persistent device registry of the Growcube
// bridge.
//
// Every Growcube the bridge has identified is recorded with its host,
// display name, firmware version, availability and last known state. The
// registry survives restarts so the API can list devices that are currently
// offline, and keeps a per-field history of state transitions.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────┐
//	│                       Device Registry                          │
//	│                                                                │
//	│  ┌──────────────────┐    ┌──────────────────┐                  │
//	│  │     Registry     │    │    Repository    │                  │
//	│  │   (registry.go)  │───▶│  (repository.go) │                  │
//	│  │ • In-memory cache│    │ • SQLite queries │                  │
//	│  │ • Thread safety  │    │ • Upserts        │                  │
//	│  └──────────────────┘    └──────────────────┘                  │
//	│                                                                │
//	│  ┌────────────────────────────────────────┐                    │
//	│  │ StateHistoryRepository                  │                    │
//	│  │ (state_history_sqlite.go)               │                    │
//	│  └────────────────────────────────────────┘                    │
//	└───────────────────────────────────────────────────────────────┘
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db)
//	registry := device.NewRegistry(repo)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	// Called when a device reports its identity
//	registry.RegisterDevice(ctx, device.Registration{
//	    ID: "4d2", Host: "192.168.1.50", Name: "GrowCube 4d2", Version: "3.6",
//	})
//
//	registry.SetAvailability(ctx, "4d2", true)
//	registry.SetDeviceState(ctx, "4d2", device.State{"moisture_a": 37})
//
// # Thread Safety
//
// The Registry is safe for concurrent use. The Repository implementation
// must also be thread-safe.
//
// # Related Files
//
//   - migrations/20260301_120000_devices.up.sql: devices table
//   - migrations/20260301_120100_state_history.up.sql: state_history table
package device
