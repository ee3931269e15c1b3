package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/iliyamo/lab-device-reservation/internal/model"
	"github.com/iliyamo/lab-device-reservation/internal/repository"
)

// ReservationSummary is the admin view of a ledger row.  The PIN hash is
// deliberately absent.
type ReservationSummary struct {
	ID           uint64            `json:"id"`
	Name         string            `json:"name"`
	Organization string            `json:"organization"`
	Email        string            `json:"email"`
	RecordNumber *string           `json:"record_number,omitempty"`
	Device       string            `json:"device"`
	DeviceState  model.DeviceState `json:"device_state,omitempty"`
	Start        time.Time         `json:"start"`
	End          time.Time         `json:"end"`
}

func summarize(r model.Reservation) ReservationSummary {
	return ReservationSummary{
		ID:           r.ID,
		Name:         r.Name,
		Organization: r.Organization,
		Email:        r.Email,
		RecordNumber: r.RecordNumber,
		Device:       r.Device,
		Start:        r.Start(),
		End:          r.End(),
	}
}

// DeviceSummary is one line of the admin device listing.
type DeviceSummary struct {
	Device          string              `json:"device"`
	State           model.DeviceState   `json:"state"`
	InCatalog       bool                `json:"in_catalog"`
	UpdatedAt       *time.Time          `json:"updated_at,omitempty"`
	LastReservation *ReservationSummary `json:"last_reservation,omitempty"`
}

// Series is the bucketed output of Aggregate, labels ascending.
type Series struct {
	Labels []string `json:"labels"`
	Values []int    `json:"values"`
}

// ListOptions controls ListReservations.  Limit 0 means all rows.
type ListOptions struct {
	OrderBy   string
	Direction string
	Limit     int
}

// AdminQuery is the read side used by the admin console.  Every method
// requires an admin AuthContext and reads without taking device locks.
type AdminQuery struct {
	reservations *repository.ReservationRepo
	devices      *repository.DeviceRepo
	registry     *DeviceRegistry
	loc          *time.Location
	now          func() time.Time
}

// NewAdminQuery builds the read side.  loc is the lab time zone used for
// bucket labels; nil means UTC.
func NewAdminQuery(reservations *repository.ReservationRepo, registry *DeviceRegistry, loc *time.Location) *AdminQuery {
	if loc == nil {
		loc = time.UTC
	}
	return &AdminQuery{
		reservations: reservations,
		devices:      registry.devices,
		registry:     registry,
		loc:          loc,
		now:          time.Now,
	}
}

// Location returns the lab time zone.
func (q *AdminQuery) Location() *time.Location { return q.loc }

// ListReservations returns ledger rows with the current state of their
// device and the derived one-hour window.
func (q *AdminQuery) ListReservations(ctx context.Context, auth AuthContext, opts ListOptions) ([]ReservationSummary, error) {
	if err := requireAdmin(auth); err != nil {
		return nil, err
	}
	orderBy := strings.ToLower(strings.TrimSpace(opts.OrderBy))
	if orderBy == "" {
		orderBy = "created_at"
	}
	if _, ok := repository.ReservationOrderFields[orderBy]; !ok {
		return nil, invalid("order_by", "unknown field")
	}
	var desc bool
	switch strings.ToLower(strings.TrimSpace(opts.Direction)) {
	case "", "desc":
		desc = true
	case "asc":
	default:
		return nil, invalid("direction", "must be asc or desc")
	}
	if opts.Limit < 0 {
		return nil, invalid("limit", "must not be negative")
	}

	rows, err := q.reservations.List(ctx, repository.ListQuery{OrderBy: orderBy, Desc: desc, Limit: opts.Limit})
	if err != nil {
		return nil, storageFault("list reservations", err)
	}
	out := make([]ReservationSummary, 0, len(rows))
	for _, r := range rows {
		s := summarize(r.Reservation)
		s.DeviceState = r.DeviceState
		out = append(out, s)
	}
	return out, nil
}

// GetReservation returns one ledger row with the current state of its
// device, or repository.ErrReservationNotFound.
func (q *AdminQuery) GetReservation(ctx context.Context, auth AuthContext, id uint64) (ReservationSummary, error) {
	if err := requireAdmin(auth); err != nil {
		return ReservationSummary{}, err
	}
	r, err := q.reservations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrReservationNotFound) {
			return ReservationSummary{}, err
		}
		return ReservationSummary{}, storageFault("get reservation", err)
	}
	s := summarize(r)
	state, err := q.registry.GetState(ctx, r.Device)
	switch {
	case errors.Is(err, repository.ErrDeviceNotFound):
		s.DeviceState = model.StateAvailable
	case err != nil:
		return ReservationSummary{}, err
	default:
		s.DeviceState = state
	}
	return s, nil
}

// ListDevices returns every catalog device, then any device that exists
// only in storage, each with its latest reservation.
func (q *AdminQuery) ListDevices(ctx context.Context, auth AuthContext) ([]DeviceSummary, error) {
	if err := requireAdmin(auth); err != nil {
		return nil, err
	}
	stored, err := q.devices.List(ctx)
	if err != nil {
		return nil, storageFault("list devices", err)
	}
	latest, err := q.reservations.LatestPerDevice(ctx)
	if err != nil {
		return nil, storageFault("latest reservations", err)
	}

	byID := make(map[string]model.Device, len(stored))
	for _, d := range stored {
		byID[d.ID] = d
	}
	ids := q.registry.Catalog()
	var extra []string
	for id := range byID {
		if !q.registry.InCatalog(id) {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	ids = append(ids, extra...)

	out := make([]DeviceSummary, 0, len(ids))
	for _, id := range ids {
		s := DeviceSummary{Device: id, State: model.StateAvailable, InCatalog: q.registry.InCatalog(id)}
		if d, ok := byID[id]; ok {
			s.State = d.State
			at := d.UpdatedAt
			s.UpdatedAt = &at
		}
		if r, ok := latest[id]; ok {
			sum := summarize(r)
			s.LastReservation = &sum
		}
		out = append(out, s)
	}
	return out, nil
}

// CurrentOccupant returns the latest reservation of device while the
// device is Reserved, or repository.ErrReservationNotFound.
func (q *AdminQuery) CurrentOccupant(ctx context.Context, auth AuthContext, device string) (ReservationSummary, error) {
	if err := requireAdmin(auth); err != nil {
		return ReservationSummary{}, err
	}
	device, err := normalizeDeviceID(device)
	if err != nil {
		return ReservationSummary{}, err
	}
	state, err := q.registry.GetState(ctx, device)
	if errors.Is(err, repository.ErrDeviceNotFound) {
		return ReservationSummary{}, repository.ErrReservationNotFound
	}
	if err != nil {
		return ReservationSummary{}, err
	}
	if state != model.StateReserved {
		return ReservationSummary{}, repository.ErrReservationNotFound
	}
	r, err := q.reservations.LatestForDevice(ctx, device)
	if err != nil {
		if errors.Is(err, repository.ErrReservationNotFound) {
			return ReservationSummary{}, err
		}
		return ReservationSummary{}, storageFault("latest reservation", err)
	}
	s := summarize(r)
	s.DeviceState = state
	return s, nil
}

// Aggregate counts reservations created in the resolved window per
// calendar bucket in the lab time zone.  Empty buckets are omitted; the
// values always sum to the number of reservations in [start, end).
func (q *AdminQuery) Aggregate(ctx context.Context, auth AuthContext, tr TimeRange, g Granularity) (Series, error) {
	if err := requireAdmin(auth); err != nil {
		return Series{}, err
	}
	if _, err := ParseGranularity(string(g)); err != nil {
		return Series{}, err
	}
	start, end, err := tr.Resolve(q.now())
	if err != nil {
		return Series{}, err
	}
	times, err := q.reservations.CreatedBetween(ctx, start, end)
	if err != nil {
		return Series{}, storageFault("aggregate", err)
	}
	return bucket(times, g, q.loc), nil
}

func bucket(times []time.Time, g Granularity, loc *time.Location) Series {
	counts := map[string]int{}
	for _, t := range times {
		counts[g.Label(t.In(loc))]++
	}
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	values := make([]int, len(labels))
	for i, l := range labels {
		values[i] = counts[l]
	}
	return Series{Labels: labels, Values: values}
}
