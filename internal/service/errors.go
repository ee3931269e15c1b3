// Package service holds the reservation engine, the device registry and
// the admin read side.  Handlers translate the errors declared here into
// HTTP responses.
package service

import (
	"errors"
	"fmt"

	"github.com/iliyamo/lab-device-reservation/internal/model"
)

var (
	// ErrValidation marks a malformed or missing input; nothing was written.
	ErrValidation = errors.New("validation failed")

	// ErrDeviceUnavailable is a business rejection: the device is not
	// Available, or a concurrent writer won the race twice.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrUnauthorized is returned by admin-gated operations called without
	// an admin AuthContext.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPINLocked is returned by VerifyPIN once the current reservation
	// of a device has used up MaxPINFailures wrong attempts.
	ErrPINLocked = errors.New("too many wrong PINs")

	// ErrStorage wraps every failure of the backing store.
	ErrStorage = errors.New("storage fault")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// UnavailableError carries the device and, when known, the state that
// blocked the reservation.
type UnavailableError struct {
	Device string
	State  model.DeviceState // zero after a lost race
}

func (e *UnavailableError) Error() string {
	if e.State.Valid() {
		return fmt.Sprintf("device %s is %s", e.Device, e.State)
	}
	return fmt.Sprintf("device %s was taken concurrently", e.Device)
}

func (e *UnavailableError) Unwrap() error { return ErrDeviceUnavailable }

func storageFault(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
