package model

import "time"

// ReservationWindow is the fixed length of a reservation slot.
const ReservationWindow = time.Hour

// Reservation is one immutable ledger entry binding a requester to a
// device.  Only the bcrypt hash of the PIN is ever held here.
//
// Fields:
//  ID           – auto-increment primary key.
//  Name         – requester name.
//  Organization – school or organisation.
//  Email        – contact address.
//  RecordNumber – optional student/record number.
//  Device       – device identifier, by value.
//  PINHash      – bcrypt digest of the PIN.
//  CreatedAt    – commit time assigned by the engine.
type Reservation struct {
    ID           uint64    // reservations.id
    Name         string    // reservations.name
    Organization string    // reservations.organization
    Email        string    // reservations.email
    RecordNumber *string   // reservations.record_number (nullable)
    Device       string    // reservations.device
    PINHash      string    // reservations.pin_hash
    CreatedAt    time.Time // reservations.created_at
}

// Start is the beginning of the reserved slot.
func (r Reservation) Start() time.Time { return r.CreatedAt }

// End is Start plus ReservationWindow.
func (r Reservation) End() time.Time { return r.CreatedAt.Add(ReservationWindow) }
