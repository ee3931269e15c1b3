package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/lab-device-reservation/internal/model"
)

// ReservationRepo is the append-only reservation ledger.  Rows are
// inserted inside the engine's transaction and never updated or deleted.
// All timestamps are stored in UTC.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationColumns = `r.id, r.name, r.organization, r.email, r.record_number, r.device, r.pin_hash, r.created_at`

// CreateTx appends res within tx and fills in the generated ID.  The
// caller sets CreatedAt and must commit or roll back.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	const q = `INSERT INTO reservations (name, organization, email, record_number, device, pin_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	var record sql.NullString
	if res.RecordNumber != nil {
		record = sql.NullString{String: *res.RecordNumber, Valid: true}
	}
	result, err := tx.ExecContext(ctx, q,
		res.Name, res.Organization, res.Email, record, res.Device, res.PINHash, formatTime(res.CreatedAt))
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	res.CreatedAt = res.CreatedAt.UTC()
	return nil
}

// GetByID loads one reservation.
func (r *ReservationRepo) GetByID(ctx context.Context, id uint64) (model.Reservation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations r WHERE r.id = ?`, id)
	res, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reservation{}, ErrReservationNotFound
	}
	return res, err
}

// LatestForDevice returns the most recent reservation for device: highest
// created_at, highest id among equal timestamps.
func (r *ReservationRepo) LatestForDevice(ctx context.Context, device string) (model.Reservation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations r WHERE r.device = ?
		 ORDER BY r.created_at DESC, r.id DESC LIMIT 1`, device)
	res, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reservation{}, ErrReservationNotFound
	}
	return res, err
}

// LatestPerDevice returns the latest reservation of every device that has
// one, keyed by device, using the same tie-break as LatestForDevice.
func (r *ReservationRepo) LatestPerDevice(ctx context.Context) (map[string]model.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+reservationColumns+` FROM reservations r
		WHERE NOT EXISTS (
			SELECT 1 FROM reservations n
			WHERE n.device = r.device
			  AND (n.created_at > r.created_at OR (n.created_at = r.created_at AND n.id > r.id))
		)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]model.Reservation{}
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out[res.Device] = res
	}
	return out, rows.Err()
}

// ReservationWithState is a ledger row joined with the device's current
// state.  DeviceState is Available when the device has no row.
type ReservationWithState struct {
	model.Reservation
	DeviceState model.DeviceState
}

// ListQuery selects and orders ledger rows.  OrderBy must be one of
// ReservationOrderFields; Limit <= 0 returns every row.
type ListQuery struct {
	OrderBy string
	Desc    bool
	Limit   int
}

// ReservationOrderFields maps accepted order names to columns.  start and
// end are derived from created_at, so both sort by it.
var ReservationOrderFields = map[string]string{
	"id":           "r.id",
	"name":         "r.name",
	"organization": "r.organization",
	"email":        "r.email",
	"device":       "r.device",
	"created_at":   "r.created_at",
	"start":        "r.created_at",
	"end":          "r.created_at",
}

// List returns ledger rows joined with the current device state.  Rows
// with equal sort keys are ordered by id in the same direction.
func (r *ReservationRepo) List(ctx context.Context, q ListQuery) ([]ReservationWithState, error) {
	col, ok := ReservationOrderFields[strings.ToLower(q.OrderBy)]
	if !ok {
		return nil, fmt.Errorf("unknown order field %q", q.OrderBy)
	}
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	query := `SELECT ` + reservationColumns + `, d.status FROM reservations r
		LEFT JOIN devices d ON d.device_id = r.device
		ORDER BY ` + col + ` ` + dir + `, r.id ` + dir
	var args []any
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReservationWithState
	for rows.Next() {
		var (
			item   ReservationWithState
			record sql.NullString
			status sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.Name, &item.Organization, &item.Email, &record,
			&item.Device, &item.PINHash, timeScanner{&item.CreatedAt}, &status); err != nil {
			return nil, err
		}
		if record.Valid {
			v := record.String
			item.RecordNumber = &v
		}
		item.DeviceState = model.StateAvailable
		if status.Valid {
			st, err := model.ParseDeviceState(status.String)
			if err != nil {
				return nil, fmt.Errorf("device %s: %w", item.Device, err)
			}
			item.DeviceState = st
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// CreatedBetween returns the creation time of every reservation with
// start <= created_at < end, ascending.
func (r *ReservationRepo) CreatedBetween(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT created_at FROM reservations WHERE created_at >= ? AND created_at < ? ORDER BY created_at`,
		formatTime(start), formatTime(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(timeScanner{&t}); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanReservation(s rowScanner) (model.Reservation, error) {
	var (
		res    model.Reservation
		record sql.NullString
	)
	if err := s.Scan(&res.ID, &res.Name, &res.Organization, &res.Email, &record,
		&res.Device, &res.PINHash, timeScanner{&res.CreatedAt}); err != nil {
		return model.Reservation{}, err
	}
	if record.Valid {
		v := record.String
		res.RecordNumber = &v
	}
	return res, nil
}
