package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/lab-device-reservation/internal/model"
	"github.com/iliyamo/lab-device-reservation/internal/repository"
)

const maxDeviceIDLen = 64

// DeviceRegistry owns device lifecycle state.  Every write to a device
// holds that device's lock, the same lock ReservationEngine takes, so a
// status update can never interleave with a reservation's
// check-then-write.  Reads take no lock.
type DeviceRegistry struct {
	db        *sql.DB
	devices   *repository.DeviceRepo
	locks     *keyedMutex
	catalog   []string
	inCatalog map[string]bool
	sink      EventSink
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewDeviceRegistry builds a registry over devices.  catalog is the
// canonical device enumeration reported by Status.
func NewDeviceRegistry(devices *repository.DeviceRepo, catalog []string, sink EventSink, log logrus.FieldLogger) *DeviceRegistry {
	if sink == nil {
		sink = NopSink{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	in := make(map[string]bool, len(catalog))
	for _, id := range catalog {
		in[id] = true
	}
	return &DeviceRegistry{
		db:        devices.DB(),
		devices:   devices,
		locks:     newKeyedMutex(),
		catalog:   append([]string(nil), catalog...),
		inCatalog: in,
		sink:      sink,
		log:       log,
		now:       time.Now,
	}
}

// Catalog returns a copy of the device enumeration.
func (r *DeviceRegistry) Catalog() []string {
	return append([]string(nil), r.catalog...)
}

// InCatalog reports whether id is part of the enumeration.
func (r *DeviceRegistry) InCatalog(id string) bool { return r.inCatalog[id] }

// GetState returns the stored state, or repository.ErrDeviceNotFound for a
// device never referenced.
func (r *DeviceRegistry) GetState(ctx context.Context, id string) (model.DeviceState, error) {
	d, err := r.devices.Get(ctx, id)
	if errors.Is(err, repository.ErrDeviceNotFound) {
		return 0, err
	}
	if err != nil {
		return 0, storageFault("get device", err)
	}
	return d.State, nil
}

// Status maps every catalog device to its state.  Devices without a row
// report Available.
func (r *DeviceRegistry) Status(ctx context.Context) (map[string]model.DeviceState, error) {
	stored, err := r.devices.List(ctx)
	if err != nil {
		return nil, storageFault("list devices", err)
	}
	byID := make(map[string]model.DeviceState, len(stored))
	for _, d := range stored {
		byID[d.ID] = d.State
	}
	out := make(map[string]model.DeviceState, len(r.catalog))
	for _, id := range r.catalog {
		if st, ok := byID[id]; ok {
			out[id] = st
		} else {
			out[id] = model.StateAvailable
		}
	}
	return out, nil
}

// SetState writes state for id whatever the current state is, creating
// the row on first reference.  It returns the previous state and whether
// the device existed before.
func (r *DeviceRegistry) SetState(ctx context.Context, id string, state model.DeviceState, source string) (model.DeviceState, bool, error) {
	id, err := normalizeDeviceID(id)
	if err != nil {
		return 0, false, err
	}
	if !state.Valid() {
		return 0, false, invalid("status", "unknown state")
	}

	unlock, err := r.locks.Lock(ctx, id)
	if err != nil {
		return 0, false, err
	}
	defer unlock()

	var (
		prev  model.Device
		found bool
	)
	at := r.now()
	for attempt := 0; attempt < 2; attempt++ {
		prev, found, err = r.setOnce(ctx, id, state, at)
		if !errors.Is(err, repository.ErrConflict) {
			break
		}
		r.log.WithFields(logrus.Fields{"device": id, "attempt": attempt + 1}).Warn("device write lost a race")
	}
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return 0, false, storageFault("set device state", err)
		}
		return 0, false, err
	}

	from := "none"
	if found {
		from = prev.State.String()
	}
	r.log.WithFields(logrus.Fields{
		"device": id, "from": from, "to": state.String(), "source": source,
	}).Info("device state changed")
	r.sink.DeviceStateChanged(ctx, DeviceStateChanged{
		Device: id, Previous: prev.State, Current: state, Source: source, At: at.UTC(),
	})
	return prev.State, found, nil
}

func (r *DeviceRegistry) setOnce(ctx context.Context, id string, state model.DeviceState, at time.Time) (model.Device, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Device{}, false, storageFault("begin tx", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	prev, found, err := r.devices.UpsertTx(ctx, tx, id, state, at)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return model.Device{}, false, err
		}
		return model.Device{}, false, storageFault("upsert device", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Device{}, false, storageFault("commit", err)
	}
	committed = true
	return prev, found, nil
}

// UpdateStatus is the machine-facing write used by device agents.
func (r *DeviceRegistry) UpdateStatus(ctx context.Context, id string, state model.DeviceState) (model.DeviceState, error) {
	prev, _, err := r.SetState(ctx, id, state, SourceUpdateStatus)
	return prev, err
}

// Shutdown forces id to ShutDown.  No hardware is contacted.
func (r *DeviceRegistry) Shutdown(ctx context.Context, auth AuthContext, id string) error {
	if err := requireAdmin(auth); err != nil {
		return err
	}
	_, _, err := r.SetState(ctx, id, model.StateShutDown, SourceShutdown)
	return err
}

// Override lets an admin force any state from any state, including
// releasing a Reserved device whose client never reported back.  It
// intentionally bypasses the reservation flow.
func (r *DeviceRegistry) Override(ctx context.Context, auth AuthContext, id string, state model.DeviceState) (model.DeviceState, error) {
	if err := requireAdmin(auth); err != nil {
		return 0, err
	}
	prev, _, err := r.SetState(ctx, id, state, SourceOverride)
	return prev, err
}

func normalizeDeviceID(id string) (string, error) {
	id = strings.TrimSpace(id)
	switch {
	case id == "":
		return "", invalid("device", "is required")
	case len(id) > maxDeviceIDLen:
		return "", invalid("device", "is too long")
	case strings.ContainsAny(id, " \t\r\n/+#"):
		return "", invalid("device", "must not contain spaces, slashes or MQTT wildcards")
	}
	return id, nil
}
