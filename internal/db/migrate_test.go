package db

import "testing"

const migrationsDir = "migrations"

func TestMigrateUpDown(t *testing.T) {
	db := testDB(t)

	v, dirty, err := db.MigrateVersion(migrationsDir)
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	if v != 0 || dirty {
		t.Fatalf("fresh db at version %d dirty=%v", v, dirty)
	}

	if err := db.MigrateUp(migrationsDir); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	v, dirty, err = db.MigrateVersion(migrationsDir)
	if err != nil {
		t.Fatalf("MigrateVersion after up: %v", err)
	}
	if v != 1 || dirty {
		t.Errorf("version = %d dirty=%v, want 1 clean", v, dirty)
	}

	// a second up is a no-op
	if err := db.MigrateUp(migrationsDir); err != nil {
		t.Fatalf("repeat MigrateUp: %v", err)
	}

	// runs table still usable after migration
	r := testRun()
	if err := db.InsertRun(r); err != nil {
		t.Fatalf("InsertRun after migrate: %v", err)
	}

	if err := db.MigrateDown(migrationsDir); err != nil {
		t.Fatalf("MigrateDown: %v", err)
	}
	v, _, err = db.MigrateVersion(migrationsDir)
	if err != nil {
		t.Fatalf("MigrateVersion after down: %v", err)
	}
	if v != 0 {
		t.Errorf("version after down = %d, want 0", v)
	}
}
