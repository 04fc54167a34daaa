package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices ordered by name.
	List(ctx context.Context) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if the ID or node ID is already taken.
	Create(ctx context.Context, device *Device) error

	// Update modifies an existing device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// SetFirmwareVersion records the version a node reported or was updated to.
	SetFirmwareVersion(ctx context.Context, id, version string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectDevices = `
	SELECT id, name, slug, node_id, manufacturer, model, firmware_version,
		updates_enabled, tags, created_at, updated_at
	FROM devices`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, selectDevices+" WHERE id = ?", id)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return device, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, selectDevices+" ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	tagsJSON, err := marshalTags(device.Tags)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (
			id, name, slug, node_id, manufacturer, model, firmware_version,
			updates_enabled, tags, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		device.ID,
		device.Name,
		device.Slug,
		device.NodeID,
		nullableString(device.Manufacturer),
		nullableString(device.Model),
		nullableString(device.FirmwareVersion),
		boolToInt(device.UpdatesEnabled),
		tagsJSON,
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update modifies an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	tagsJSON, err := marshalTags(device.Tags)
	if err != nil {
		return err
	}
	device.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices SET
			name = ?, slug = ?, node_id = ?, manufacturer = ?, model = ?,
			firmware_version = ?, updates_enabled = ?, tags = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		device.Name,
		device.Slug,
		device.NodeID,
		nullableString(device.Manufacturer),
		nullableString(device.Model),
		nullableString(device.FirmwareVersion),
		boolToInt(device.UpdatesEnabled),
		tagsJSON,
		device.UpdatedAt.Format(time.RFC3339),
		device.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("updating device: %w", err)
	}
	return requireOneRow(result)
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireOneRow(result)
}

// SetFirmwareVersion updates only the firmware version column.
func (r *SQLiteRepository) SetFirmwareVersion(ctx context.Context, id, version string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET firmware_version = ?, updated_at = ? WHERE id = ?",
		nullableString(&version), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating firmware version: %w", err)
	}
	return requireOneRow(result)
}

func requireOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var (
		d                              Device
		manufacturer, model, firmware  sql.NullString
		updatesEnabled                 int
		tagsJSON, createdAt, updatedAt string
	)
	err := scanner.Scan(
		&d.ID, &d.Name, &d.Slug, &d.NodeID,
		&manufacturer, &model, &firmware,
		&updatesEnabled, &tagsJSON, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.UpdatesEnabled = updatesEnabled != 0
	if manufacturer.Valid {
		d.Manufacturer = &manufacturer.String
	}
	if model.Valid {
		d.Model = &model.String
	}
	if firmware.Valid {
		d.FirmwareVersion = &firmware.String
	}

	var parseErr error
	if d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt); parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	if d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt); parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	if err := json.Unmarshal([]byte(tagsJSON), &d.Tags); err != nil {
		return nil, fmt.Errorf("unmarshalling tags: %w", err)
	}
	if len(d.Tags) == 0 {
		d.Tags = nil
	}
	return &d, nil
}

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("marshalling tags: %w", err)
	}
	return string(b), nil
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
