package notifications

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

// Repository handles notification persistence. Every status change is a
// guarded UPDATE so concurrent callers degrade to no-ops.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
}

func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

var notificationColumns = []string{
	"notification_id", "device_id", "room_number", "title", "body",
	"notification_type", "guest_name", "status", "scheduled_for",
	"created_at", "sent_at", "viewed_at", "dismissed_at",
}

func selectNotifications() sq.SelectBuilder {
	return sq.Select(notificationColumns...).From("notifications")
}

// visibleTo matches rows owned by deviceID plus unclaimed rows for its room.
// A nil deviceID matches only the unclaimed room rows.
func visibleTo(deviceID *string, room string) sq.Sqlizer {
	unclaimed := sq.And{sq.Eq{"device_id": nil}, sq.Eq{"room_number": room}}
	if deviceID == nil {
		return unclaimed
	}
	return sq.Or{sq.Eq{"device_id": *deviceID}, unclaimed}
}

// Insert stores rows in a single statement.
func (r *Repository) Insert(ctx context.Context, rows []Notification) error {
	if len(rows) == 0 {
		return nil
	}
	insert := sq.Insert("notifications").Columns(notificationColumns...)
	for _, n := range rows {
		insert = insert.Values(
			n.NotificationID, n.DeviceID, n.RoomNumber, n.Title, n.Body,
			string(n.Type), n.GuestName, string(n.Status), db.NullableTime(n.ScheduledFor),
			db.FormatTime(n.CreatedAt), db.NullableTime(n.SentAt), db.NullableTime(n.ViewedAt),
			db.NullableTime(n.DismissedAt),
		)
	}
	query, args, err := insert.ToSql()
	if err != nil {
		return err
	}
	_, err = r.writer.ExecContext(ctx, query, args...)
	return err
}

// HasRecentWelcome reports whether a welcome for the target and guest was
// created at or after since.
func (r *Repository) HasRecentWelcome(ctx context.Context, deviceID *string, room, guest string, since time.Time) (bool, error) {
	return r.exists(ctx, sq.And{
		sq.Eq{"notification_type": string(TypeWelcome)},
		sq.Eq{"guest_name": guest},
		visibleTo(deviceID, room),
		sq.GtOrEq{"created_at": db.FormatTime(since)},
	})
}

// HasScheduledFarewell reports whether a farewell for the target and guest is
// still waiting for its scheduled time.
func (r *Repository) HasScheduledFarewell(ctx context.Context, deviceID *string, room, guest string) (bool, error) {
	return r.exists(ctx, sq.And{
		sq.Eq{"notification_type": string(TypeFarewell)},
		sq.Eq{"guest_name": guest},
		visibleTo(deviceID, room),
		sq.NotEq{"scheduled_for": nil},
	})
}

func (r *Repository) exists(ctx context.Context, where sq.Sqlizer) (bool, error) {
	query, args, err := sq.Select("1").From("notifications").Where(where).Limit(1).ToSql()
	if err != nil {
		return false, err
	}
	var one int
	err = r.reader.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// PromoteDue clears scheduled_for on new rows whose time has come.
func (r *Repository) PromoteDue(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.writer.ExecContext(ctx, `
		UPDATE notifications SET scheduled_for = NULL
		WHERE status = 'new' AND scheduled_for IS NOT NULL AND scheduled_for <= ?
	`, db.FormatTime(now))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteTerminalBefore removes viewed/dismissed rows whose terminal timestamp
// is older than cutoff.
func (r *Repository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	stamp := db.FormatTime(cutoff)
	result, err := r.writer.ExecContext(ctx, `
		DELETE FROM notifications
		WHERE (status = 'viewed' AND viewed_at < ?)
		   OR (status = 'dismissed' AND dismissed_at < ?)
	`, stamp, stamp)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Deliverable returns new/sent rows visible to the device with no pending schedule.
func (r *Repository) Deliverable(ctx context.Context, deviceID, room string) ([]Notification, error) {
	query, args, err := selectNotifications().
		Where(sq.Eq{"status": []string{string(StatusNew), string(StatusSent)}}).
		Where(sq.Eq{"scheduled_for": nil}).
		Where(visibleTo(&deviceID, room)).
		OrderBy("created_at", "notification_id").
		ToSql()
	if err != nil {
		return nil, err
	}
	return r.query(ctx, query, args...)
}

// MarkSent claims a new notification for deviceID. ok is false when another
// caller got there first or the row is no longer deliverable.
func (r *Repository) MarkSent(ctx context.Context, notificationID, deviceID, room string, now time.Time) (bool, error) {
	query, args, err := sq.Update("notifications").
		Set("status", string(StatusSent)).
		Set("device_id", deviceID).
		Set("sent_at", db.FormatTime(now)).
		Where(sq.Eq{"notification_id": notificationID}).
		Where(sq.Eq{"status": string(StatusNew)}).
		Where(sq.Eq{"scheduled_for": nil}).
		Where(visibleTo(&deviceID, room)).
		ToSql()
	if err != nil {
		return false, err
	}
	return r.execOne(ctx, query, args...)
}

// Acknowledge moves a sent notification owned by deviceID to status.
func (r *Repository) Acknowledge(ctx context.Context, notificationID, deviceID string, status Status, now time.Time) (bool, error) {
	column := "viewed_at"
	if status == StatusDismissed {
		column = "dismissed_at"
	}
	query, args, err := sq.Update("notifications").
		Set("status", string(status)).
		Set(column, db.FormatTime(now)).
		Where(sq.Eq{"notification_id": notificationID}).
		Where(sq.Eq{"device_id": deviceID}).
		Where(sq.Eq{"status": string(StatusSent)}).
		ToSql()
	if err != nil {
		return false, err
	}
	return r.execOne(ctx, query, args...)
}

// GetByID returns nil when the notification does not exist.
func (r *Repository) GetByID(ctx context.Context, notificationID string) (*Notification, error) {
	query, args, err := selectNotifications().Where(sq.Eq{"notification_id": notificationID}).ToSql()
	if err != nil {
		return nil, err
	}
	n, err := scanNotification(r.reader.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

// List returns rows newest first plus the total match count.
func (r *Repository) List(ctx context.Context, filter ListFilter, limit, offset int) ([]Notification, int, error) {
	where := sq.And{}
	if filter.DeviceID != "" {
		where = append(where, sq.Eq{"device_id": filter.DeviceID})
	}
	if filter.RoomNumber != "" {
		where = append(where, sq.Eq{"room_number": filter.RoomNumber})
	}
	if filter.Status != "" {
		where = append(where, sq.Eq{"status": string(filter.Status)})
	}
	if filter.Type != "" {
		where = append(where, sq.Eq{"notification_type": string(filter.Type)})
	}

	countQuery, countArgs, err := sq.Select("COUNT(*)").From("notifications").Where(where).ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.reader.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query, args, err := selectNotifications().
		Where(where).
		OrderBy("created_at DESC", "notification_id").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.query(ctx, query, args...)
	return rows, total, err
}

// Delete removes a notification. found is false for unknown ids.
func (r *Repository) Delete(ctx context.Context, notificationID string) (bool, error) {
	return r.execOne(ctx, `DELETE FROM notifications WHERE notification_id = ?`, notificationID)
}

// =============================================================================
// Helpers
// =============================================================================

func (r *Repository) execOne(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := r.writer.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]Notification, error) {
	rows, err := r.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *n)
	}
	return result, rows.Err()
}

func scanNotification(row interface{ Scan(...any) error }) (*Notification, error) {
	var (
		n            Notification
		deviceID     sql.NullString
		room         sql.NullString
		kind         string
		guest        sql.NullString
		status       string
		scheduledFor sql.NullString
		createdAt    string
		sentAt       sql.NullString
		viewedAt     sql.NullString
		dismissedAt  sql.NullString
	)
	if err := row.Scan(&n.NotificationID, &deviceID, &room, &n.Title, &n.Body, &kind, &guest,
		&status, &scheduledFor, &createdAt, &sentAt, &viewedAt, &dismissedAt); err != nil {
		return nil, err
	}
	n.DeviceID = db.NullString(deviceID)
	n.RoomNumber = db.NullString(room)
	n.Type = Type(kind)
	n.GuestName = db.NullString(guest)
	n.Status = Status(status)
	n.ScheduledFor = db.NullTime(scheduledFor)
	n.CreatedAt, _ = db.ParseTime(createdAt)
	n.SentAt = db.NullTime(sentAt)
	n.ViewedAt = db.NullTime(viewedAt)
	n.DismissedAt = db.NullTime(dismissedAt)
	return &n, nil
}
