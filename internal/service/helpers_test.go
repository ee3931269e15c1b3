package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/lab-device-reservation/internal/credential"
	"github.com/iliyamo/lab-device-reservation/internal/database"
	"github.com/iliyamo/lab-device-reservation/internal/model"
	"github.com/iliyamo/lab-device-reservation/internal/repository"
)

var testCatalog = []string{"PC1", "PC2", "PS5"}

var adminAuth = AuthContext{AdminID: 1, Username: "root", Role: model.RoleAdmin}

type fixture struct {
	db       *sql.DB
	ledger   *repository.ReservationRepo
	registry *DeviceRegistry
	engine   *ReservationEngine
	query    *AdminQuery
	events   *recordingSink
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(context.Background(), database.Options{Driver: database.DriverSQLite, Path: ":memory:"})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	events := &recordingSink{}
	log := quietLogger()
	ledger := repository.NewReservationRepo(db)
	registry := NewDeviceRegistry(repository.NewDeviceRepo(db), testCatalog, events, log)
	engine := NewReservationEngine(registry, ledger, credential.NewGenerator(4), events, log)
	return &fixture{
		db:       db,
		ledger:   ledger,
		registry: registry,
		engine:   engine,
		query:    NewAdminQuery(ledger, registry, time.UTC),
		events:   events,
	}
}

func (f *fixture) reserve(t *testing.T, name, device string) ReserveResult {
	t.Helper()
	res, err := f.engine.Reserve(context.Background(), ReserveRequest{
		Name:         name,
		Organization: "Physics",
		Email:        name + "@example.edu",
		Device:       device,
	})
	if err != nil {
		t.Fatalf("Reserve(%s, %s) error = %v", name, device, err)
	}
	return res
}

func (f *fixture) countReservations(t *testing.T) int {
	t.Helper()
	var n int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM reservations`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

// stepClock returns successive times from start, step apart.
func stepClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(step)
		return t
	}
}

type recordingSink struct {
	mu           sync.Mutex
	reservations []ReservationCreated
	changes      []DeviceStateChanged
}

func (s *recordingSink) ReservationCreated(_ context.Context, ev ReservationCreated) {
	s.mu.Lock()
	s.reservations = append(s.reservations, ev)
	s.mu.Unlock()
}

func (s *recordingSink) DeviceStateChanged(_ context.Context, ev DeviceStateChanged) {
	s.mu.Lock()
	s.changes = append(s.changes, ev)
	s.mu.Unlock()
}

func (s *recordingSink) stateChanges() []DeviceStateChanged {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeviceStateChanged(nil), s.changes...)
}

// conflictingStore fails the first n conditional writes with ErrConflict.
type conflictingStore struct {
	deviceStore
	mu sync.Mutex
	n  int
}

func (c *conflictingStore) CompareAndSwapTx(ctx context.Context, tx *sql.Tx, id string, version int64, state model.DeviceState, at time.Time) (model.Device, error) {
	c.mu.Lock()
	fail := c.n > 0
	if fail {
		c.n--
	}
	c.mu.Unlock()
	if fail {
		return model.Device{}, repository.ErrConflict
	}
	return c.deviceStore.CompareAndSwapTx(ctx, tx, id, version, state, at)
}

var errDiskFull = errors.New("disk full")

// failingStore fails every device write with a plain storage error.
type failingStore struct {
	deviceStore
}

func (failingStore) InsertTx(context.Context, *sql.Tx, string, model.DeviceState, time.Time) (model.Device, error) {
	return model.Device{}, errDiskFull
}

func (failingStore) CompareAndSwapTx(context.Context, *sql.Tx, string, int64, model.DeviceState, time.Time) (model.Device, error) {
	return model.Device{}, errDiskFull
}
