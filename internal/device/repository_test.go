package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the devices and
// state_history tables.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// Every pooled connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	// Schema matching the migrations
	schema := `
		CREATE TABLE devices (
			id TEXT PRIMARY KEY,
			host TEXT NOT NULL,
			name TEXT NOT NULL,
			manufacturer TEXT NOT NULL DEFAULT 'Elecrow',
			model TEXT NOT NULL DEFAULT 'Growcube',
			version TEXT,
			available INTEGER NOT NULL DEFAULT 0,
			state TEXT NOT NULL DEFAULT '{}',
			state_updated_at TEXT,
			first_seen TEXT NOT NULL,
			last_seen TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
		CREATE INDEX idx_devices_host ON devices(host);

		CREATE TABLE state_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			field TEXT NOT NULL,
			channel TEXT NOT NULL DEFAULT '',
			value TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT 'report',
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
		CREATE INDEX idx_state_history_device ON state_history(device_id, created_at DESC);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// testDevice creates a device for testing.
func testDevice(id, name string) *Device {
	return &Device{
		ID:    id,
		Host:  "192.168.1.50",
		Name:  name,
		State: State{},
	}
}

func strPtr(s string) *string {
	return &s
}

func TestSQLiteRepository_Upsert(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	t.Run("inserts new device with defaults", func(t *testing.T) {
		d := testDevice("4d2", "GrowCube 4d2")
		d.Version = strPtr("3.6")
		if err := repo.Upsert(ctx, d); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		got, err := repo.GetByID(ctx, "4d2")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.Manufacturer != DefaultManufacturer || got.Model != DefaultModel {
			t.Errorf("metadata = %s/%s, want %s/%s", got.Manufacturer, got.Model, DefaultManufacturer, DefaultModel)
		}
		if got.Version == nil || *got.Version != "3.6" {
			t.Errorf("Version = %v, want 3.6", got.Version)
		}
		if got.FirstSeen.IsZero() || got.LastSeen.IsZero() {
			t.Error("FirstSeen/LastSeen should be set")
		}
	})

	t.Run("updates existing device and keeps first seen", func(t *testing.T) {
		before, err := repo.GetByID(ctx, "4d2")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}

		d := testDevice("4d2", "Greenhouse")
		d.Host = "192.168.1.60"
		d.FirstSeen = time.Now().Add(24 * time.Hour)
		if err := repo.Upsert(ctx, d); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		got, err := repo.GetByID(ctx, "4d2")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.Name != "Greenhouse" || got.Host != "192.168.1.60" {
			t.Errorf("got name=%q host=%q", got.Name, got.Host)
		}
		if !got.FirstSeen.Equal(before.FirstSeen) {
			t.Errorf("FirstSeen changed: %v -> %v", before.FirstSeen, got.FirstSeen)
		}
		if got.Version == nil || *got.Version != "3.6" {
			t.Errorf("Version = %v, want 3.6 kept when not reported", got.Version)
		}
	})

	t.Run("rejects invalid device", func(t *testing.T) {
		tests := []struct {
			name   string
			device *Device
			want   error
		}{
			{"nil", nil, ErrInvalidDevice},
			{"empty id", testDevice("", "x"), ErrInvalidDevice},
			{"empty name", testDevice("abc", " "), ErrInvalidName},
			{"empty host", &Device{ID: "abc", Name: "x"}, ErrInvalidHost},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := repo.Upsert(ctx, tt.device)
				if !errors.Is(err, tt.want) {
					t.Errorf("Upsert() error = %v, want %v", err, tt.want)
				}
			})
		}
	})
}

func TestSQLiteRepository_GetByID_NotFound(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	_, err := repo.GetByID(context.Background(), "missing")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_List(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	for _, d := range []*Device{testDevice("b1", "Balcony"), testDevice("a1", "Attic")} {
		if err := repo.Upsert(ctx, d); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	devices, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("List() returned %d devices, want 2", len(devices))
	}
	if devices[0].Name != "Attic" || devices[1].Name != "Balcony" {
		t.Errorf("List() order = %s, %s; want Attic, Balcony", devices[0].Name, devices[1].Name)
	}
}

func TestSQLiteRepository_Delete(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Upsert(ctx, testDevice("4d2", "GrowCube")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := repo.Delete(ctx, "4d2"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, "4d2"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second Delete() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_UpdateState(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	d := testDevice("4d2", "GrowCube")
	if err := repo.Upsert(ctx, d); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	t.Run("merges state", func(t *testing.T) {
		if err := repo.UpdateState(ctx, "4d2", State{"temperature": 21, "moisture_a": 30}); err != nil {
			t.Fatalf("UpdateState() error = %v", err)
		}
		if err := repo.UpdateState(ctx, "4d2", State{"moisture_a": 35}); err != nil {
			t.Fatalf("UpdateState() error = %v", err)
		}

		got, err := repo.GetByID(ctx, "4d2")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if v, ok := got.State["temperature"].(float64); !ok || v != 21 {
			t.Errorf("State[temperature] = %v, want 21", got.State["temperature"])
		}
		if v, ok := got.State["moisture_a"].(float64); !ok || v != 35 {
			t.Errorf("State[moisture_a] = %v, want 35", got.State["moisture_a"])
		}
		if got.StateUpdatedAt == nil {
			t.Error("StateUpdatedAt = nil, want non-nil")
		}
	})

	t.Run("null removes key", func(t *testing.T) {
		if err := repo.UpdateState(ctx, "4d2", State{"temperature": nil}); err != nil {
			t.Fatalf("UpdateState() error = %v", err)
		}
		got, err := repo.GetByID(ctx, "4d2")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if _, ok := got.State["temperature"]; ok {
			t.Errorf("State[temperature] = %v, want removed", got.State["temperature"])
		}
	})

	t.Run("returns ErrDeviceNotFound for nonexistent device", func(t *testing.T) {
		err := repo.UpdateState(ctx, "nonexistent", State{"x": 1})
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("UpdateState() error = %v, want ErrDeviceNotFound", err)
		}
	})
}

func TestSQLiteRepository_UpdateAvailability(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Upsert(ctx, testDevice("4d2", "GrowCube")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	seen := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := repo.UpdateAvailability(ctx, "4d2", true, seen); err != nil {
		t.Fatalf("UpdateAvailability() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "4d2")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if !got.Available {
		t.Error("Available = false, want true")
	}
	if !got.LastSeen.Equal(seen) {
		t.Errorf("LastSeen = %v, want %v", got.LastSeen, seen)
	}

	if err := repo.UpdateAvailability(ctx, "missing", false, seen); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("UpdateAvailability() error = %v, want ErrDeviceNotFound", err)
	}
}
