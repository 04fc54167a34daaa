package firmware

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Record is the persisted firmware state of one device.
type Record struct {
	DeviceID         string     `json:"device_id"`
	InstalledVersion string     `json:"installed_version"`
	LatestVersion    string     `json:"latest_version,omitempty"`
	ReleaseNotes     string     `json:"release_notes,omitempty"`
	LastCheckedAt    *time.Time `json:"last_checked_at,omitempty"`
	LastResult       string     `json:"last_result,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Install outcome values stored in InstallRecord.Status.
const (
	InstallStatusCompleted = "completed"
	InstallStatusFailed    = "failed"
)

// InstallRecord is one row of install history.
type InstallRecord struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id"`
	FromVersion string    `json:"from_version"`
	ToVersion   string    `json:"to_version"`
	Files       int       `json:"files"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Repository persists firmware state and install history.
type Repository interface {
	GetState(ctx context.Context, deviceID string) (*Record, error)
	ListStates(ctx context.Context) ([]Record, error)
	SaveState(ctx context.Context, rec *Record) error
	DeleteState(ctx context.Context, deviceID string) error

	CreateInstall(ctx context.Context, rec *InstallRecord) error
	ListInstalls(ctx context.Context, deviceID string, limit int) ([]InstallRecord, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const stateColumns = `device_id, installed_version, latest_version, release_notes,
			last_checked_at, last_result, updated_at`

// GetState returns the stored state for a device.
func (r *SQLiteRepository) GetState(ctx context.Context, deviceID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+stateColumns+` FROM firmware_state WHERE device_id = ?`, deviceID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying firmware state: %w", err)
	}
	return rec, nil
}

// ListStates returns every stored state ordered by device ID.
func (r *SQLiteRepository) ListStates(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+stateColumns+` FROM firmware_state ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("querying firmware states: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only query

	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning firmware state: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating firmware states: %w", err)
	}
	return recs, nil
}

// SaveState inserts or replaces the state for rec.DeviceID and stamps UpdatedAt.
func (r *SQLiteRepository) SaveState(ctx context.Context, rec *Record) error {
	if rec.DeviceID == "" {
		return fmt.Errorf("saving firmware state: empty device id")
	}
	rec.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO firmware_state (` + stateColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			installed_version = excluded.installed_version,
			latest_version = excluded.latest_version,
			release_notes = excluded.release_notes,
			last_checked_at = excluded.last_checked_at,
			last_result = excluded.last_result,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		rec.DeviceID,
		rec.InstalledVersion,
		nullableString(rec.LatestVersion),
		nullableString(rec.ReleaseNotes),
		nullableTime(rec.LastCheckedAt),
		nullableString(rec.LastResult),
		rec.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving firmware state: %w", err)
	}
	return nil
}

// DeleteState removes the stored state for a device.
func (r *SQLiteRepository) DeleteState(ctx context.Context, deviceID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM firmware_state WHERE device_id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("deleting firmware state: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// CreateInstall appends an install history row.
func (r *SQLiteRepository) CreateInstall(ctx context.Context, rec *InstallRecord) error {
	query := `
		INSERT INTO firmware_installs (
			id, device_id, from_version, to_version, files,
			status, error, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.DeviceID,
		rec.FromVersion,
		rec.ToVersion,
		rec.Files,
		rec.Status,
		nullableString(rec.Error),
		rec.StartedAt.UTC().Format(time.RFC3339),
		rec.CompletedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting install record: %w", err)
	}
	return nil
}

// ListInstalls returns a device's install history, newest first.
// A limit of 0 or less returns every row.
func (r *SQLiteRepository) ListInstalls(ctx context.Context, deviceID string, limit int) ([]InstallRecord, error) {
	query := `
		SELECT id, device_id, from_version, to_version, files,
			status, error, started_at, completed_at
		FROM firmware_installs
		WHERE device_id = ?
		ORDER BY started_at DESC, id`
	args := []any{deviceID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying install records: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only query

	var recs []InstallRecord
	for rows.Next() {
		var (
			rec                    InstallRecord
			errText                sql.NullString
			startedAt, completedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &rec.FromVersion, &rec.ToVersion, &rec.Files,
			&rec.Status, &errText, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scanning install record: %w", err)
		}
		rec.Error = errText.String
		if rec.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		if rec.CompletedAt, err = time.Parse(time.RFC3339, completedAt); err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating install records: %w", err)
	}
	return recs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		rec                                  Record
		latest, notes, checkedAt, lastResult sql.NullString
		updatedAt                            string
	)
	if err := s.Scan(&rec.DeviceID, &rec.InstalledVersion, &latest, &notes,
		&checkedAt, &lastResult, &updatedAt); err != nil {
		return nil, err
	}
	rec.LatestVersion = latest.String
	rec.ReleaseNotes = notes.String
	rec.LastResult = lastResult.String

	var err error
	if checkedAt.Valid {
		t, parseErr := time.Parse(time.RFC3339, checkedAt.String)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing last_checked_at: %w", parseErr)
		}
		rec.LastCheckedAt = &t
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &rec, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// persistTimeout bounds each write made by Recorder.
const persistTimeout = 5 * time.Second

// Recorder is an Observer that persists check results, state changes and
// install outcomes. Progress-only state changes are not written.
type Recorder struct {
	repo   Repository
	logger Logger

	mu   sync.Mutex
	last map[string]Record
}

// NewRecorder creates a Recorder writing to repo.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{
		repo:   repo,
		logger: logger,
		last:   make(map[string]Record),
	}
}

// Seed primes the recorder with state loaded at startup so fields it does
// not observe directly, such as the last result, are not overwritten.
func (rc *Recorder) Seed(rec Record) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.last[rec.DeviceID] = rec
}

// Forget drops the cached record for a removed device.
func (rc *Recorder) Forget(deviceID string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.last, deviceID)
}

// StateChanged implements Observer.
func (rc *Recorder) StateChanged(snap Snapshot) {
	rc.mu.Lock()
	prev, seen := rc.last[snap.DeviceID]
	rec := prev
	rec.DeviceID = snap.DeviceID
	rec.InstalledVersion = snap.InstalledVersion
	rec.LatestVersion = snap.LatestVersion
	rec.LastCheckedAt = snap.LastCheckedAt
	if seen && sameRecord(prev, rec) {
		rc.mu.Unlock()
		return
	}
	rc.last[snap.DeviceID] = rec
	rc.mu.Unlock()

	rc.save(&rec)
}

// CheckCompleted implements Observer.
func (rc *Recorder) CheckCompleted(result CheckResult) {
	rc.mu.Lock()
	rec := rc.last[result.DeviceID]
	rec.DeviceID = result.DeviceID
	checked := result.CheckedAt
	rec.LastCheckedAt = &checked
	switch result.Outcome() {
	case OutcomeError:
		rec.LastResult = "error: " + result.Err.Error()
	case OutcomeNoUpdates:
		rec.LastResult = "no updates"
	case OutcomeUpdateAvailable:
		rec.LastResult = "update available: " + result.Candidate.Version
		rec.ReleaseNotes = result.Candidate.ChangeLog
	default:
		rec.LastResult = "up to date"
	}
	rc.last[result.DeviceID] = rec
	rc.mu.Unlock()

	rc.save(&rec)
}

// InstallCompleted implements Observer.
func (rc *Recorder) InstallCompleted(report InstallReport) {
	hist := &InstallRecord{
		ID:          report.ID,
		DeviceID:    report.DeviceID,
		FromVersion: report.FromVersion,
		ToVersion:   report.ToVersion,
		Files:       report.Files,
		Status:      InstallStatusCompleted,
		StartedAt:   report.StartedAt,
		CompletedAt: report.CompletedAt,
	}
	if report.Err != nil {
		hist.Status = InstallStatusFailed
		hist.Error = report.Err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := rc.repo.CreateInstall(ctx, hist); err != nil {
		rc.logger.Error("failed to record firmware install", "device_id", report.DeviceID, "error", err)
	}
}

func (rc *Recorder) save(rec *Record) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := rc.repo.SaveState(ctx, rec); err != nil {
		rc.logger.Error("failed to persist firmware state", "device_id", rec.DeviceID, "error", err)
	}
}

func sameRecord(a, b Record) bool {
	if a.InstalledVersion != b.InstalledVersion || a.LatestVersion != b.LatestVersion {
		return false
	}
	if (a.LastCheckedAt == nil) != (b.LastCheckedAt == nil) {
		return false
	}
	return a.LastCheckedAt == nil || a.LastCheckedAt.Equal(*b.LastCheckedAt)
}
