package migrations

import (
	"context"
	"testing"

	"github.com/nerrad567/gray-logic-ota/internal/infrastructure/database"
)

func TestSource_MigratesUpAndDown(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx, Source()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	for _, table := range []string{"devices", "firmware_state", "firmware_installs", "audit_logs"} {
		var n int
		if err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n); err != nil {
			t.Fatalf("sqlite_master: %v", err)
		}
		if n != 1 {
			t.Errorf("table %s missing", table)
		}
	}

	if err := db.MigrateDown(ctx, Source()); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	_, pending, err := db.MigrationStatus(ctx, Source())
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(pending) == 0 {
		t.Error("expected pending migrations after rollback")
	}
}
