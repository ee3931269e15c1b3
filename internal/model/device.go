package model

import (
    "encoding/json"
    "fmt"
    "strings"
    "time"
)

// DeviceState is the lifecycle label of a lab device.  The set is closed;
// values outside it cannot be constructed through ParseDeviceState.
type DeviceState uint8

const (
    StateAvailable DeviceState = iota + 1
    StateReserved
    StateShutDown
    StateInUse
    StateOffline
)

var stateLabels = map[DeviceState]string{
    StateAvailable: "Available",
    StateReserved:  "Reserved",
    StateShutDown:  "Shut Down",
    StateInUse:     "In Use",
    StateOffline:   "Offline",
}

// AllStates lists every state in declaration order.
func AllStates() []DeviceState {
    return []DeviceState{StateAvailable, StateReserved, StateShutDown, StateInUse, StateOffline}
}

// String returns the label stored in the database and sent to clients.
func (s DeviceState) String() string {
    if l, ok := stateLabels[s]; ok {
        return l
    }
    return fmt.Sprintf("DeviceState(%d)", uint8(s))
}

// Valid reports whether s is one of the declared states.
func (s DeviceState) Valid() bool {
    _, ok := stateLabels[s]
    return ok
}

// ParseDeviceState accepts the wire label ("Shut Down") or its compact form
// ("ShutDown", "shut_down"), case-insensitively.
func ParseDeviceState(raw string) (DeviceState, error) {
    key := normalizeState(raw)
    for s, l := range stateLabels {
        if normalizeState(l) == key {
            return s, nil
        }
    }
    return 0, fmt.Errorf("unknown device state %q", raw)
}

func normalizeState(s string) string {
    s = strings.ToLower(strings.TrimSpace(s))
    return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
}

func (s DeviceState) MarshalJSON() ([]byte, error) {
    if !s.Valid() {
        return nil, fmt.Errorf("marshal invalid device state %d", uint8(s))
    }
    return json.Marshal(s.String())
}

func (s *DeviceState) UnmarshalJSON(b []byte) error {
    var raw string
    if err := json.Unmarshal(b, &raw); err != nil {
        return err
    }
    v, err := ParseDeviceState(raw)
    if err != nil {
        return err
    }
    *s = v
    return nil
}

// Device is a row of the devices table.
//
// Fields:
//  ID        – identifier from the lab catalog (e.g. "PC1").
//  State     – current lifecycle state.
//  Version   – incremented on every write; compare-and-swap token.
//  UpdatedAt – time of the last write.
type Device struct {
    ID        string      // devices.device_id
    State     DeviceState // devices.status
    Version   int64       // devices.version
    UpdatedAt time.Time   // devices.updated_at
}
