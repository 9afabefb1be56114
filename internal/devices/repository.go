package devices

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/strefethen/hotel-hub-go/internal/db"
)

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository handles database operations for devices.
// Uses separate reader/writer connections for optimal SQLite concurrency.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewRepository creates a new Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

var deviceColumns = []string{
	"device_id", "room_number", "status", "is_online", "last_sync",
	"assigned_bundle_id", "is_room_evacuated", "created_at", "updated_at",
}

func selectDevices() sq.SelectBuilder {
	return sq.Select(deviceColumns...).From("devices")
}

// GetByID returns nil when the device does not exist.
func (r *Repository) GetByID(ctx context.Context, deviceID string) (*Device, error) {
	query, args, err := selectDevices().Where(sq.Eq{"device_id": deviceID}).ToSql()
	if err != nil {
		return nil, err
	}
	device, err := scanDevice(r.reader.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return device, err
}

// CreateInactive inserts an unassigned device. created is false when the id
// already existed, which happens when two first syncs race.
func (r *Repository) CreateInactive(ctx context.Context, deviceID string, now time.Time) (bool, error) {
	stamp := db.FormatTime(now)
	result, err := r.writer.ExecContext(ctx, `
		INSERT INTO devices (device_id, status, is_online, last_sync, created_at, updated_at)
		VALUES (?, 'inactive', 1, ?, ?, ?)
		ON CONFLICT(device_id) DO NOTHING
	`, deviceID, stamp, stamp, stamp)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// List returns devices matching filter ordered by device_id, plus the total match count.
func (r *Repository) List(ctx context.Context, filter ListFilter, limit, offset int) ([]Device, int, error) {
	where := sq.And{}
	if filter.Status != "" {
		where = append(where, sq.Eq{"status": string(filter.Status)})
	}
	if filter.RoomNumber != "" {
		where = append(where, sq.Eq{"room_number": filter.RoomNumber})
	}
	if filter.Online != nil {
		where = append(where, sq.Eq{"is_online": boolToInt(*filter.Online)})
	}

	countQuery, countArgs, err := sq.Select("COUNT(*)").From("devices").Where(where).ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.reader.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query, args, err := selectDevices().
		Where(where).
		OrderBy("device_id").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, err
	}
	devices, err := r.queryDevices(ctx, query, args...)
	return devices, total, err
}

// Update applies the non-nil fields of input.
func (r *Repository) Update(ctx context.Context, deviceID string, input UpdateInput, now time.Time) error {
	update := sq.Update("devices").
		Set("updated_at", db.FormatTime(now)).
		Where(sq.Eq{"device_id": deviceID})

	if input.RoomNumber != nil {
		update = update.Set("room_number", nullIfEmpty(*input.RoomNumber))
	}
	if input.Status != nil {
		update = update.Set("status", *input.Status)
	}
	if input.AssignedBundleID != nil {
		update = update.Set("assigned_bundle_id", nullIfEmpty(*input.AssignedBundleID))
	}
	if input.IsRoomEvacuated != nil {
		update = update.Set("is_room_evacuated", boolToInt(*input.IsRoomEvacuated))
	}

	query, args, err := update.ToSql()
	if err != nil {
		return err
	}
	_, err = r.writer.ExecContext(ctx, query, args...)
	return err
}

// MarkSynced records a successful sync heartbeat.
func (r *Repository) MarkSynced(ctx context.Context, deviceID string, now time.Time) error {
	stamp := db.FormatTime(now)
	_, err := r.writer.ExecContext(ctx,
		`UPDATE devices SET last_sync = ?, is_online = 1, updated_at = ? WHERE device_id = ?`,
		stamp, stamp, deviceID)
	return err
}

// ClearEvacuation resets the evacuation flag. found is false for unknown ids.
func (r *Repository) ClearEvacuation(ctx context.Context, deviceID string, now time.Time) (bool, error) {
	result, err := r.writer.ExecContext(ctx,
		`UPDATE devices SET is_room_evacuated = 0, updated_at = ? WHERE device_id = ?`,
		db.FormatTime(now), deviceID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ActiveRooms lists the distinct rooms that have at least one active device.
func (r *Repository) ActiveRooms(ctx context.Context) ([]string, error) {
	rows, err := r.reader.QueryContext(ctx, `
		SELECT DISTINCT room_number FROM devices
		WHERE status = 'active' AND room_number IS NOT NULL
		ORDER BY room_number
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := []string{}
	for rows.Next() {
		var room string
		if err := rows.Scan(&room); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// ListActive returns active devices, restricted to rooms when rooms is non-empty.
func (r *Repository) ListActive(ctx context.Context, rooms []string) ([]Device, error) {
	builder := selectDevices().
		Where(sq.Eq{"status": string(StatusActive)}).
		Where(sq.NotEq{"room_number": nil}).
		OrderBy("device_id")
	if len(rooms) > 0 {
		builder = builder.Where(sq.Eq{"room_number": rooms})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	return r.queryDevices(ctx, query, args...)
}

// FilterExisting returns the subset of ids that exist.
func (r *Repository) FilterExisting(ctx context.Context, deviceIDs []string) ([]string, error) {
	if len(deviceIDs) == 0 {
		return []string{}, nil
	}
	query, args, err := sq.Select("device_id").From("devices").
		Where(sq.Eq{"device_id": deviceIDs}).
		OrderBy("device_id").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found = append(found, id)
	}
	return found, rows.Err()
}

// MarkStaleOffline flips online devices whose last sync is before cutoff and
// returns their ids.
func (r *Repository) MarkStaleOffline(ctx context.Context, cutoff, now time.Time) ([]string, error) {
	tx, err := r.writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT device_id FROM devices
		WHERE is_online = 1 AND (last_sync IS NULL OR last_sync < ?)
		ORDER BY device_id
	`, db.FormatTime(cutoff))
	if err != nil {
		return nil, err
	}
	stale := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		stale = append(stale, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(stale) == 0 {
		return stale, nil
	}

	query, args, err := sq.Update("devices").
		Set("is_online", 0).
		Set("updated_at", db.FormatTime(now)).
		Where(sq.Eq{"device_id": stale}).
		ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return stale, nil
}

// Counts returns fleet totals.
func (r *Repository) Counts(ctx context.Context) (Counts, error) {
	var counts Counts
	err := r.reader.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_online = 1 THEN 1 ELSE 0 END), 0)
		FROM devices
	`).Scan(&counts.Total, &counts.Active, &counts.Online)
	return counts, err
}

// =============================================================================
// Scan helpers
// =============================================================================

func (r *Repository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *device)
	}
	return devices, rows.Err()
}

func scanDevice(row interface{ Scan(...any) error }) (*Device, error) {
	var (
		device      Device
		room        sql.NullString
		status      string
		isOnline    int
		lastSync    sql.NullString
		bundleID    sql.NullString
		isEvacuated int
		createdAt   string
		updatedAt   string
	)
	if err := row.Scan(&device.DeviceID, &room, &status, &isOnline, &lastSync,
		&bundleID, &isEvacuated, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	device.RoomNumber = db.NullString(room)
	device.Status = Status(status)
	device.IsOnline = isOnline == 1
	device.LastSync = db.NullTime(lastSync)
	device.AssignedBundleID = db.NullString(bundleID)
	device.IsRoomEvacuated = isEvacuated == 1
	device.CreatedAt, _ = db.ParseTime(createdAt)
	device.UpdatedAt, _ = db.ParseTime(updatedAt)
	return &device, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
