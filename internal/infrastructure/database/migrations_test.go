package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func withMigrations(t *testing.T, files fstest.MapFS) {
	t.Helper()
	origFS, origDir := migrationSource, migrationDir
	RegisterMigrations(files, ".")
	t.Cleanup(func() { RegisterMigrations(origFS, origDir) })
}

func TestMigrate(t *testing.T) {
	withMigrations(t, fstest.MapFS{
		"20260301_090000_gateways.up.sql":   {Data: []byte("CREATE TABLE gateways (id TEXT PRIMARY KEY);")},
		"20260301_090000_gateways.down.sql": {Data: []byte("DROP TABLE gateways;")},
		"20260302_090000_devices.up.sql":    {Data: []byte("CREATE TABLE devices (id TEXT PRIMARY KEY, gateway_id TEXT REFERENCES gateways(id));")},
		"README.md":                         {Data: []byte("not a migration")},
	})

	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	for _, table := range []string{"gateways", "devices"} {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}

	st, err := db.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(st.Applied) != 2 || len(st.Pending) != 0 {
		t.Errorf("Status() = %+v, want 2 applied and 0 pending", st)
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrate_FailureRollsBackThatStep(t *testing.T) {
	withMigrations(t, fstest.MapFS{
		"20260301_090000_ok.up.sql":     {Data: []byte("CREATE TABLE ok_table (id INTEGER);")},
		"20260302_090000_broken.up.sql": {Data: []byte("CREATE TABLE half (id INTEGER); CREATE TABL oops;")},
	})

	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() error = nil, want failure from broken migration")
	}

	st, err := db.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(st.Applied) != 1 || st.Applied[0] != "20260301_090000" {
		t.Errorf("Applied = %v, want only the first migration", st.Applied)
	}
	if len(st.Pending) != 1 {
		t.Errorf("Pending = %v, want the broken migration", st.Pending)
	}
}

func TestMigrate_DownWithoutUp(t *testing.T) {
	withMigrations(t, fstest.MapFS{
		"20260301_090000_orphan.down.sql": {Data: []byte("DROP TABLE x;")},
	})

	db := openTestDB(t)
	if err := db.Migrate(context.Background()); err == nil {
		t.Error("Migrate() error = nil, want error for migration without up file")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		file        string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOK      bool
	}{
		{"20260301_090000_initial_schema.up.sql", "20260301_090000", "initial_schema", true, true},
		{"20260301_090000_initial_schema.down.sql", "20260301_090000", "initial_schema", false, true},
		{"20260301_090000.up.sql", "20260301_090000", "20260301_090000", true, true},
		{"initial.up.sql", "", "", false, false},
		{"20260301_090000_schema.sql", "", "", false, false},
		{"20260301_090000_schema.up.txt", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			version, name, up, ok := parseMigrationFilename(tt.file)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion || name != tt.wantName || up != tt.wantUp {
				t.Errorf("got (%q, %q, %v), want (%q, %q, %v)",
					version, name, up, tt.wantVersion, tt.wantName, tt.wantUp)
			}
		})
	}
}
