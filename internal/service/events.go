package service

import (
	"context"
	"time"

	"github.com/iliyamo/lab-device-reservation/internal/model"
)

// Sources of a device state change.
const (
	SourceReserve      = "reserve"
	SourceUpdateStatus = "update_status"
	SourceAgentBus     = "agent_bus"
	SourceShutdown     = "shutdown"
	SourceOverride     = "admin_override"
)

// ReservationCreated is announced after a reservation commits.  It never
// carries the PIN or its hash.
type ReservationCreated struct {
	ReservationID uint64    `json:"reservation_id"`
	Device        string    `json:"device"`
	Name          string    `json:"name"`
	Organization  string    `json:"organization"`
	Email         string    `json:"email"`
	CreatedAt     time.Time `json:"created_at"`
	EndsAt        time.Time `json:"ends_at"`
}

// DeviceStateChanged is announced after a registry write commits.
// Previous is zero when the device had no row.
type DeviceStateChanged struct {
	Device   string            `json:"device"`
	Previous model.DeviceState `json:"-"`
	Current  model.DeviceState `json:"state"`
	Source   string            `json:"source"`
	At       time.Time         `json:"at"`
}

// EventSink receives committed domain events.  Implementations must not
// block the caller for long; transports hand off to their own goroutines.
type EventSink interface {
	ReservationCreated(ctx context.Context, ev ReservationCreated)
	DeviceStateChanged(ctx context.Context, ev DeviceStateChanged)
}

// Sinks fans an event out to every member.
type Sinks []EventSink

func (s Sinks) ReservationCreated(ctx context.Context, ev ReservationCreated) {
	for _, sink := range s {
		sink.ReservationCreated(ctx, ev)
	}
}

func (s Sinks) DeviceStateChanged(ctx context.Context, ev DeviceStateChanged) {
	for _, sink := range s {
		sink.DeviceStateChanged(ctx, ev)
	}
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) ReservationCreated(context.Context, ReservationCreated) {}
func (NopSink) DeviceStateChanged(context.Context, DeviceStateChanged) {}
