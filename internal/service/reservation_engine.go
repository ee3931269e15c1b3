package service

import (
	"context"
	"database/sql"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/lab-device-reservation/internal/credential"
	"github.com/iliyamo/lab-device-reservation/internal/model"
	"github.com/iliyamo/lab-device-reservation/internal/repository"
)

// ReserveRequest is the input of Reserve.  PIN and RecordNumber are
// optional; a PIN is generated when empty.
type ReserveRequest struct {
	Name         string
	Organization string
	Email        string
	Device       string
	PIN          string
	RecordNumber string
}

// ReserveResult carries the plaintext PIN.  This is the only place the
// plaintext ever leaves the engine.
type ReserveResult struct {
	Reservation model.Reservation
	PIN         string
}

type deviceStore interface {
	GetTx(ctx context.Context, tx *sql.Tx, id string) (model.Device, error)
	InsertTx(ctx context.Context, tx *sql.Tx, id string, state model.DeviceState, at time.Time) (model.Device, error)
	CompareAndSwapTx(ctx context.Context, tx *sql.Tx, id string, version int64, state model.DeviceState, at time.Time) (model.Device, error)
}

type ledgerStore interface {
	CreateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error
	LatestForDevice(ctx context.Context, device string) (model.Reservation, error)
}

// ReservationEngine turns a request into a ledger row plus a Reserved
// device in one transaction, serialised per device.
type ReservationEngine struct {
	db       *sql.DB
	registry *DeviceRegistry
	devices  deviceStore
	ledger   ledgerStore
	creds    *credential.Generator
	clock    *ledgerClock
	pins     *pinGuard
	sink     EventSink
	log      logrus.FieldLogger
}

// NewReservationEngine wires the engine.  registry provides the per-device
// locks and the device table; ledger is the reservation repository.
func NewReservationEngine(registry *DeviceRegistry, ledger *repository.ReservationRepo, creds *credential.Generator, sink EventSink, log logrus.FieldLogger) *ReservationEngine {
	if sink == nil {
		sink = NopSink{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ReservationEngine{
		db:       registry.db,
		registry: registry,
		devices:  registry.devices,
		ledger:   ledger,
		creds:    creds,
		clock:    newLedgerClock(time.Now),
		pins:     newPINGuard(MaxPINFailures),
		sink:     sink,
		log:      log,
	}
}

// Reserve books req.Device for the requester.
//
// The device row is read, checked and written inside one transaction
// while the device lock is held; the write is conditional on the version
// read.  A lost race (ErrConflict) is retried once and then reported as
// ErrDeviceUnavailable.  Nothing is persisted unless both the ledger row
// and the device state commit.
func (e *ReservationEngine) Reserve(ctx context.Context, req ReserveRequest) (ReserveResult, error) {
	req, err := req.normalize()
	if err != nil {
		return ReserveResult{}, err
	}

	pin := req.PIN
	if pin == "" {
		if pin, err = e.creds.GeneratePIN(); err != nil {
			return ReserveResult{}, err
		}
	}
	// bcrypt runs outside the device lock.
	hash, err := e.creds.Hash(pin)
	if err != nil {
		return ReserveResult{}, err
	}

	unlock, err := e.registry.locks.Lock(ctx, req.Device)
	if err != nil {
		return ReserveResult{}, err
	}
	defer unlock()

	var (
		res  model.Reservation
		prev model.Device
	)
	for attempt := 0; attempt < 2; attempt++ {
		res, prev, err = e.reserveOnce(ctx, req, hash)
		if !errors.Is(err, repository.ErrConflict) {
			break
		}
		e.log.WithFields(logrus.Fields{"device": req.Device, "attempt": attempt + 1}).Warn("reservation lost a race")
	}
	if errors.Is(err, repository.ErrConflict) {
		return ReserveResult{}, &UnavailableError{Device: req.Device}
	}
	if err != nil {
		return ReserveResult{}, err
	}

	if !e.registry.InCatalog(res.Device) {
		e.log.WithField("device", res.Device).Warn("reserved a device outside the catalog")
	}
	e.log.WithFields(logrus.Fields{"device": res.Device, "reservation_id": res.ID}).Info("reservation created")

	e.sink.ReservationCreated(ctx, ReservationCreated{
		ReservationID: res.ID,
		Device:        res.Device,
		Name:          res.Name,
		Organization:  res.Organization,
		Email:         res.Email,
		CreatedAt:     res.CreatedAt,
		EndsAt:        res.End(),
	})
	e.sink.DeviceStateChanged(ctx, DeviceStateChanged{
		Device:   res.Device,
		Previous: prev.State,
		Current:  model.StateReserved,
		Source:   SourceReserve,
		At:       res.CreatedAt,
	})
	return ReserveResult{Reservation: res, PIN: pin}, nil
}

func (e *ReservationEngine) reserveOnce(ctx context.Context, req ReserveRequest, hash string) (model.Reservation, model.Device, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Reservation{}, model.Device{}, storageFault("begin tx", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	dev, err := e.devices.GetTx(ctx, tx, req.Device)
	found := true
	switch {
	case errors.Is(err, repository.ErrDeviceNotFound):
		found = false
	case err != nil:
		return model.Reservation{}, model.Device{}, storageFault("read device", err)
	}
	if found && dev.State != model.StateAvailable {
		return model.Reservation{}, model.Device{}, &UnavailableError{Device: req.Device, State: dev.State}
	}

	at := e.clock.Next()
	res := model.Reservation{
		Name:         req.Name,
		Organization: req.Organization,
		Email:        req.Email,
		Device:       req.Device,
		PINHash:      hash,
		CreatedAt:    at,
	}
	if req.RecordNumber != "" {
		rn := req.RecordNumber
		res.RecordNumber = &rn
	}
	if err := e.ledger.CreateTx(ctx, tx, &res); err != nil {
		return model.Reservation{}, model.Device{}, storageFault("append reservation", err)
	}

	if found {
		_, err = e.devices.CompareAndSwapTx(ctx, tx, req.Device, dev.Version, model.StateReserved, at)
	} else {
		_, err = e.devices.InsertTx(ctx, tx, req.Device, model.StateReserved, at)
	}
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return model.Reservation{}, model.Device{}, err
		}
		return model.Reservation{}, model.Device{}, storageFault("reserve device", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Reservation{}, model.Device{}, storageFault("commit", err)
	}
	committed = true
	return res, dev, nil
}

// VerifyPIN checks pin against the current occupant of device.  It is
// false when the device is not Reserved or has no reservation.  After
// MaxPINFailures wrong PINs for the same reservation it returns
// ErrPINLocked without comparing.
func (e *ReservationEngine) VerifyPIN(ctx context.Context, device, pin string) (bool, error) {
	device, err := normalizeDeviceID(device)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(pin) == "" {
		return false, invalid("pin", "is required")
	}
	state, err := e.registry.GetState(ctx, device)
	if errors.Is(err, repository.ErrDeviceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if state != model.StateReserved {
		return false, nil
	}
	res, err := e.ledger.LatestForDevice(ctx, device)
	if errors.Is(err, repository.ErrReservationNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storageFault("latest reservation", err)
	}
	if !e.pins.acquire(device, res.ID) {
		e.log.WithFields(logrus.Fields{"device": device, "reservation_id": res.ID}).Warn("pin attempts exhausted")
		return false, ErrPINLocked
	}
	ok := credential.Verify(pin, res.PINHash)
	if ok {
		e.pins.refund(device, res.ID)
	}
	return ok, nil
}

const maxFieldLen = 120

func (r ReserveRequest) normalize() (ReserveRequest, error) {
	r.Name = strings.TrimSpace(r.Name)
	r.Organization = strings.TrimSpace(r.Organization)
	r.Email = strings.TrimSpace(r.Email)
	r.PIN = strings.TrimSpace(r.PIN)
	r.RecordNumber = strings.TrimSpace(r.RecordNumber)

	for _, f := range []struct{ name, value string }{
		{"name", r.Name},
		{"organization", r.Organization},
		{"email", r.Email},
	} {
		if f.value == "" {
			return r, invalid(f.name, "is required")
		}
		if len(f.value) > maxFieldLen && f.name != "email" {
			return r, invalid(f.name, "is too long")
		}
	}
	addr, err := mail.ParseAddress(r.Email)
	if err != nil || addr.Address != r.Email || len(r.Email) > 255 {
		return r, invalid("email", "is not a valid address")
	}
	dev, err := normalizeDeviceID(r.Device)
	if err != nil {
		return r, err
	}
	r.Device = dev
	if r.PIN != "" {
		if err := credential.ValidatePIN(r.PIN); err != nil {
			return r, invalid("pin", err.Error())
		}
	}
	if len(r.RecordNumber) > 64 {
		return r, invalid("record_number", "is too long")
	}
	return r, nil
}
