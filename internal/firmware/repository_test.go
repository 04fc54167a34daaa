package firmware

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the firmware schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	db.SetMaxOpenConns(1)

	// Matches migrations/20260301_090000_firmware_schema.up.sql
	schema := `
		CREATE TABLE firmware_state (
			device_id TEXT PRIMARY KEY,
			installed_version TEXT NOT NULL DEFAULT '',
			latest_version TEXT,
			release_notes TEXT,
			last_checked_at TEXT,
			last_result TEXT,
			updated_at TEXT NOT NULL
		) STRICT;

		CREATE TABLE firmware_installs (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			from_version TEXT NOT NULL,
			to_version TEXT NOT NULL,
			files INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error TEXT,
			started_at TEXT NOT NULL,
			completed_at TEXT NOT NULL
		) STRICT;`

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteRepository_State(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if _, err := repo.GetState(ctx, "n1"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("GetState() error = %v, want ErrRecordNotFound", err)
	}

	checked := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	rec := &Record{
		DeviceID:         "n1",
		InstalledVersion: "1.0.0",
		LatestVersion:    "1.1.0",
		ReleaseNotes:     "Bug fixes",
		LastCheckedAt:    &checked,
		LastResult:       "update available: 1.1.0",
	}
	if err := repo.SaveState(ctx, rec); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	got, err := repo.GetState(ctx, "n1")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if got.LatestVersion != "1.1.0" || got.ReleaseNotes != "Bug fixes" || got.LastResult != rec.LastResult {
		t.Errorf("GetState() = %+v", got)
	}
	if got.LastCheckedAt == nil || !got.LastCheckedAt.Equal(checked) {
		t.Errorf("LastCheckedAt = %v, want %v", got.LastCheckedAt, checked)
	}

	// Upsert replaces the row.
	rec.InstalledVersion = "1.1.0"
	rec.LatestVersion = ""
	rec.LastCheckedAt = nil
	if err := repo.SaveState(ctx, rec); err != nil {
		t.Fatalf("SaveState() update error = %v", err)
	}
	got, err = repo.GetState(ctx, "n1")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if got.InstalledVersion != "1.1.0" || got.LatestVersion != "" || got.LastCheckedAt != nil {
		t.Errorf("after upsert GetState() = %+v", got)
	}

	if err := repo.SaveState(ctx, &Record{DeviceID: "n0"}); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}
	all, err := repo.ListStates(ctx)
	if err != nil {
		t.Fatalf("ListStates() error = %v", err)
	}
	if len(all) != 2 || all[0].DeviceID != "n0" {
		t.Errorf("ListStates() = %+v", all)
	}

	if err := repo.DeleteState(ctx, "n1"); err != nil {
		t.Fatalf("DeleteState() error = %v", err)
	}
	if err := repo.DeleteState(ctx, "n1"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("second DeleteState() error = %v", err)
	}
	if err := repo.SaveState(ctx, &Record{}); err == nil {
		t.Error("SaveState() with empty device id succeeded")
	}
}

func TestSQLiteRepository_Installs(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, status := range []string{InstallStatusFailed, InstallStatusCompleted} {
		rec := &InstallRecord{
			ID:          []string{"a", "b"}[i],
			DeviceID:    "n1",
			FromVersion: "1.0.0",
			ToVersion:   "1.1.0",
			Files:       2,
			Status:      status,
			StartedAt:   base.Add(time.Duration(i) * time.Hour),
			CompletedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
		}
		if status == InstallStatusFailed {
			rec.Error = "Error Checksum"
		}
		if err := repo.CreateInstall(ctx, rec); err != nil {
			t.Fatalf("CreateInstall() error = %v", err)
		}
	}

	recs, err := repo.ListInstalls(ctx, "n1", 0)
	if err != nil {
		t.Fatalf("ListInstalls() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("ListInstalls() returned %d rows, want 2", len(recs))
	}
	if recs[0].ID != "b" || recs[1].Error != "Error Checksum" {
		t.Errorf("ListInstalls() = %+v", recs)
	}

	limited, err := repo.ListInstalls(ctx, "n1", 1)
	if err != nil || len(limited) != 1 {
		t.Errorf("ListInstalls(limit 1) = %v, %v", limited, err)
	}
	none, err := repo.ListInstalls(ctx, "other", 0)
	if err != nil || len(none) != 0 {
		t.Errorf("ListInstalls(other) = %v, %v", none, err)
	}
}

func TestRecorder(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	rc := NewRecorder(repo, nil)
	ctx := context.Background()
	checked := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	rc.Seed(Record{DeviceID: "n1", LastResult: "up to date"})
	rc.StateChanged(Snapshot{DeviceID: "n1", InstalledVersion: "1.0.0"})

	got, err := repo.GetState(ctx, "n1")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if got.LastResult != "up to date" {
		t.Errorf("seeded LastResult lost: %q", got.LastResult)
	}

	cand := testCandidate("1.2.0", 1)
	rc.CheckCompleted(CheckResult{DeviceID: "n1", Candidate: &cand, Advertised: true, CheckedAt: checked})
	got, _ = repo.GetState(ctx, "n1") //nolint:errcheck // checked above
	if got.LastResult != "update available: 1.2.0" || got.ReleaseNotes != cand.ChangeLog {
		t.Errorf("after check GetState() = %+v", got)
	}

	rc.CheckCompleted(CheckResult{DeviceID: "n1", Err: errors.New("offline"), CheckedAt: checked})
	got, _ = repo.GetState(ctx, "n1") //nolint:errcheck // checked above
	if got.LastResult != "error: offline" {
		t.Errorf("LastResult = %q", got.LastResult)
	}

	rc.InstallCompleted(InstallReport{
		ID: "i1", DeviceID: "n1", FromVersion: "1.0.0", ToVersion: "1.2.0", Files: 1,
		Err: &InstallError{Status: UpdateErrorTimeout}, StartedAt: checked, CompletedAt: checked.Add(time.Minute),
	})
	hist, err := repo.ListInstalls(ctx, "n1", 0)
	if err != nil {
		t.Fatalf("ListInstalls() error = %v", err)
	}
	if len(hist) != 1 || hist[0].Status != InstallStatusFailed || hist[0].Error != "Error Timeout" {
		t.Errorf("history = %+v", hist)
	}
}

func TestRecorder_Forget(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	rc := NewRecorder(repo, nil)

	rc.Seed(Record{DeviceID: "n1", LastResult: "up to date"})
	rc.Forget("n1")
	rc.StateChanged(Snapshot{DeviceID: "n1", InstalledVersion: "1.0.0"})

	got, err := repo.GetState(context.Background(), "n1")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if got.LastResult != "" {
		t.Errorf("LastResult = %q after Forget, want empty", got.LastResult)
	}
}
