// Package guests stores the PMS-mirrored guest stay and folio for each room.
package guests

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/strefethen/hotel-hub-go/internal/db"
)

// Stay is the current occupancy of a room as last reported by the PMS.
type Stay struct {
	ID          int64      `json:"-"`
	RoomNumber  string     `json:"room_number"`
	GuestName   string     `json:"guest_name"`
	CheckIn     time.Time  `json:"check_in"`
	CheckOut    *time.Time `json:"check_out"`
	LastPMSSync time.Time  `json:"last_pms_sync"`
}

// Bill is one folio line.
type Bill struct {
	Label    string    `json:"label"`
	Amount   float64   `json:"amount"`
	BillDate time.Time `json:"bill_date"`
}

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository persists stays and bills.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
}

func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// CurrentStay returns the most recent stay row for room, or nil.
func (r *Repository) CurrentStay(ctx context.Context, room string) (*Stay, error) {
	row := r.reader.QueryRowContext(ctx, `
		SELECT id, room_number, guest_name, check_in, check_out, last_pms_sync
		FROM guest_stays
		WHERE room_number = ?
		ORDER BY id DESC
		LIMIT 1
	`, room)

	var (
		stay     Stay
		checkIn  string
		checkOut sql.NullString
		lastSync string
	)
	err := row.Scan(&stay.ID, &stay.RoomNumber, &stay.GuestName, &checkIn, &checkOut, &lastSync)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	stay.CheckIn, _ = db.ParseTime(checkIn)
	stay.CheckOut = db.NullTime(checkOut)
	stay.LastPMSSync, _ = db.ParseTime(lastSync)
	return &stay, nil
}

// Bills returns the folio for room ordered by date.
func (r *Repository) Bills(ctx context.Context, room string) ([]Bill, error) {
	rows, err := r.reader.QueryContext(ctx, `
		SELECT label, amount, bill_date FROM bills
		WHERE room_number = ?
		ORDER BY bill_date, id
	`, room)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bills := []Bill{}
	for rows.Next() {
		var (
			bill     Bill
			billDate string
		)
		if err := rows.Scan(&bill.Label, &bill.Amount, &billDate); err != nil {
			return nil, err
		}
		bill.BillDate, _ = db.ParseTime(billDate)
		bills = append(bills, bill)
	}
	return bills, rows.Err()
}

// ReplaceRoom overwrites the room's stay and folio in one transaction. A nil
// stay clears the room. Bills are deleted and reinserted, never merged.
func (r *Repository) ReplaceRoom(ctx context.Context, room string, stay *Stay, bills []Bill, syncedAt time.Time) error {
	tx, err := r.writer.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM guest_stays WHERE room_number = ?`, room); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM bills WHERE room_number = ?`, room); err != nil {
		return err
	}

	if stay != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO guest_stays (room_number, guest_name, check_in, check_out, last_pms_sync)
			VALUES (?, ?, ?, ?, ?)
		`, room, stay.GuestName, db.FormatTime(stay.CheckIn), db.NullableTime(stay.CheckOut), db.FormatTime(syncedAt)); err != nil {
			return err
		}

		for _, bill := range bills {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO bills (room_number, label, amount, bill_date) VALUES (?, ?, ?, ?)`,
				room, bill.Label, bill.Amount, db.FormatTime(bill.BillDate)); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}
