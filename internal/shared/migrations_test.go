package shared

import (
	"testing"
)

func TestRunMigrations(t *testing.T) {
	db, err := NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	defer db.Close()

	if err := RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Run("creates core tables", func(t *testing.T) {
		for _, table := range []string{"users", "plays", "import_jobs"} {
			var name string
			err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
			if err != nil {
				t.Errorf("expected table %s to exist: %v", table, err)
			}
		}
	})

	t.Run("seeds sequence tables", func(t *testing.T) {
		for _, table := range []string{"users_sequence", "plays_sequence", "import_jobs_sequence"} {
			var value int
			err := db.QueryRow("SELECT value FROM " + table + " WHERE id = 1").Scan(&value)
			if err != nil {
				t.Errorf("expected seeded sequence in %s: %v", table, err)
			}
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		if err := RunMigrations(db); err != nil {
			t.Fatalf("re-running migrations should be a no-op: %v", err)
		}
	})

	t.Run("enforces play uniqueness", func(t *testing.T) {
		now := "2025-01-01T00:00:00Z"
		insert := `
			INSERT OR IGNORE INTO plays (id, sequence, user_id, track_id, track_name, artist_name, played_at, source, created_at)
			VALUES (?, ?, 'u1', 't1', 'Song', 'Artist', 1735689600, 'import', ?)
		`
		if _, err := db.Exec(insert, "p1", 1, now); err != nil {
			t.Fatalf("failed to insert play: %v", err)
		}
		if _, err := db.Exec(insert, "p2", 2, now); err != nil {
			t.Fatalf("duplicate insert should be ignored, not fail: %v", err)
		}

		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM plays").Scan(&count); err != nil {
			t.Fatalf("failed to count plays: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 play after duplicate insert, got %d", count)
		}
	})
}

func TestRollbackMigration(t *testing.T) {
	db, err := NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	defer db.Close()

	if err := RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	if err := RollbackMigration(db); err != nil {
		t.Fatalf("failed to rollback: %v", err)
	}

	var name string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'plays'").Scan(&name)
	if err == nil {
		t.Error("expected plays table to be dropped after rollback")
	}

	if err := RollbackMigration(db); err == nil {
		t.Error("expected error when no migrations remain")
	}
}
