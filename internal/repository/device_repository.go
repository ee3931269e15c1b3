package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/lab-device-reservation/internal/model"
)

// DeviceRepo persists the current state of each device.  Rows carry a
// version that every write bumps, so a writer can update conditionally on
// the version it read (compare-and-swap).
type DeviceRepo struct {
	db *sql.DB
}

// NewDeviceRepo returns a DeviceRepo bound to db.
func NewDeviceRepo(db *sql.DB) *DeviceRepo { return &DeviceRepo{db: db} }

// DB exposes the handle so callers can open transactions spanning several
// repositories.
func (r *DeviceRepo) DB() *sql.DB { return r.db }

const deviceColumns = `device_id, status, version, updated_at`

// Get reads one device outside any transaction.
func (r *DeviceRepo) Get(ctx context.Context, id string) (model.Device, error) {
	return getDevice(ctx, r.db, id)
}

// GetTx reads one device inside tx.
func (r *DeviceRepo) GetTx(ctx context.Context, tx *sql.Tx, id string) (model.Device, error) {
	return getDevice(ctx, tx, id)
}

func getDevice(ctx context.Context, q querier, id string) (model.Device, error) {
	row := q.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE device_id = ?`, id)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Device{}, ErrDeviceNotFound
	}
	return d, err
}

// List returns every stored device ordered by id.
func (r *DeviceRepo) List(ctx context.Context) ([]model.Device, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY device_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// InsertTx creates the row for a device referenced for the first time.
// A concurrent insert of the same id surfaces as ErrConflict.
func (r *DeviceRepo) InsertTx(ctx context.Context, tx *sql.Tx, id string, state model.DeviceState, at time.Time) (model.Device, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO devices (device_id, status, version, updated_at) VALUES (?, ?, 1, ?)`,
		id, state.String(), formatTime(at))
	if err != nil {
		if isDuplicateKey(err) {
			return model.Device{}, ErrConflict
		}
		return model.Device{}, err
	}
	return model.Device{ID: id, State: state, Version: 1, UpdatedAt: at.UTC()}, nil
}

// CompareAndSwapTx writes state only if the row still carries version.
// Zero affected rows means another writer got there first: ErrConflict.
func (r *DeviceRepo) CompareAndSwapTx(ctx context.Context, tx *sql.Tx, id string, version int64, state model.DeviceState, at time.Time) (model.Device, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE devices SET status = ?, version = version + 1, updated_at = ? WHERE device_id = ? AND version = ?`,
		state.String(), formatTime(at), id, version)
	if err != nil {
		return model.Device{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Device{}, err
	}
	if n == 0 {
		return model.Device{}, ErrConflict
	}
	return model.Device{ID: id, State: state, Version: version + 1, UpdatedAt: at.UTC()}, nil
}

// UpsertTx sets state whatever the current value is and reports the row as
// it was before the write (found=false when the device was new).
func (r *DeviceRepo) UpsertTx(ctx context.Context, tx *sql.Tx, id string, state model.DeviceState, at time.Time) (prev model.Device, found bool, err error) {
	prev, err = r.GetTx(ctx, tx, id)
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		_, err = r.InsertTx(ctx, tx, id, state, at)
		return model.Device{}, false, err
	case err != nil:
		return model.Device{}, false, err
	}
	_, err = r.CompareAndSwapTx(ctx, tx, id, prev.Version, state, at)
	return prev, true, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(s rowScanner) (model.Device, error) {
	var (
		d      model.Device
		status string
	)
	if err := s.Scan(&d.ID, &status, &d.Version, timeScanner{&d.UpdatedAt}); err != nil {
		return model.Device{}, err
	}
	st, err := model.ParseDeviceState(status)
	if err != nil {
		return model.Device{}, fmt.Errorf("device %s: %w", d.ID, err)
	}
	d.State = st
	return d, nil
}
