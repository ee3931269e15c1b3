package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseDeviceState(t *testing.T) {
	tests := []struct {
		in   string
		want DeviceState
	}{
		{"Available", StateAvailable},
		{"reserved", StateReserved},
		{"Shut Down", StateShutDown},
		{"ShutDown", StateShutDown},
		{"shut_down", StateShutDown},
		{"In Use", StateInUse},
		{"INUSE", StateInUse},
		{" Offline ", StateOffline},
	}
	for _, tt := range tests {
		got, err := ParseDeviceState(tt.in)
		if err != nil {
			t.Errorf("ParseDeviceState(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDeviceState(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "Broken", "Reserved!"} {
		if _, err := ParseDeviceState(bad); err == nil {
			t.Errorf("ParseDeviceState(%q) error = nil, want error", bad)
		}
	}
}

func TestDeviceStateRoundTripsThroughLabel(t *testing.T) {
	for _, s := range AllStates() {
		got, err := ParseDeviceState(s.String())
		if err != nil || got != s {
			t.Errorf("ParseDeviceState(%q) = %v, %v; want %v", s.String(), got, err, s)
		}
	}
}

func TestDeviceStateJSON(t *testing.T) {
	b, err := json.Marshal(map[string]DeviceState{"PC1": StateInUse})
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if string(b) != `{"PC1":"In Use"}` {
		t.Errorf("Marshal = %s", b)
	}

	var s DeviceState
	if err := json.Unmarshal([]byte(`"Shut Down"`), &s); err != nil || s != StateShutDown {
		t.Errorf("Unmarshal = %v, %v", s, err)
	}
	if err := json.Unmarshal([]byte(`"Exploded"`), &s); err == nil {
		t.Error("Unmarshal of unknown label succeeded")
	}
	if _, err := json.Marshal(DeviceState(0)); err == nil {
		t.Error("Marshal of zero state succeeded")
	}
}

func TestReservationWindow(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	r := Reservation{CreatedAt: at}
	if !r.Start().Equal(at) || !r.End().Equal(at.Add(time.Hour)) {
		t.Errorf("window = [%v, %v)", r.Start(), r.End())
	}
}
