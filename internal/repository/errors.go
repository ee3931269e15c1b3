// Package repository defines the SQL access layer for devices, the
// reservation ledger and admin principals, plus the sentinel errors
// higher layers use to tell failure modes apart.
package repository

import "errors"

// ErrConflict is returned when a conditional write loses a race: the
// device row changed (or appeared) between the read and the write inside
// the same transaction.  The engine retries once and then reports the
// device as unavailable.
var ErrConflict = errors.New("conflict")

// ErrDeviceNotFound means no row exists yet for the device identifier.
var ErrDeviceNotFound = errors.New("device not found")

// ErrReservationNotFound means the ledger has no matching reservation.
var ErrReservationNotFound = errors.New("reservation not found")

// ErrUsernameExists is returned when creating an admin with a taken name.
var ErrUsernameExists = errors.New("username already exists")
