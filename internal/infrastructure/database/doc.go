// Package database opens the bridge's local SQLite store and keeps its
// schema current.
//
// The store holds the device registry and the per-field state history.
// It is a single file, opened with one connection because SQLite allows a
// single writer; WAL mode lets the API read while the recorder writes.
//
// Schema changes ship as paired SQL files embedded in the binary and
// registered with RegisterMigrations:
//
//	20260301_120000_devices.up.sql
//	20260301_120000_devices.down.sql
//
// Migrate applies pending files in version order, one transaction each.
// A database that records a version this binary does not ship is refused,
// so an older bridge never writes to a newer schema.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: "data/growcube.db", WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
