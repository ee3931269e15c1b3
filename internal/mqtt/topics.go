package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iliyamo/lab-device-reservation/internal/model"
)

// Topics builds the agent bus topic names under a configurable prefix.
//
//	<prefix>/devices/<id>/status   agents -> server, a reported state
//	<prefix>/devices/<id>/state    server -> agents, retained current state
//	<prefix>/system/status         server presence (LWT)
type Topics struct {
	Prefix string
}

// StatusWildcard matches every agent status report.
func (t Topics) StatusWildcard() string {
	return fmt.Sprintf("%s/devices/+/status", t.Prefix)
}

// Status returns the report topic of one device.
func (t Topics) Status(device string) string {
	return fmt.Sprintf("%s/devices/%s/status", t.Prefix, device)
}

// State returns the retained state topic of one device.
func (t Topics) State(device string) string {
	return fmt.Sprintf("%s/devices/%s/state", t.Prefix, device)
}

// SystemStatus is where the server announces itself.
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.Prefix)
}

// DeviceFromStatus extracts the device id of a status topic.
func (t Topics) DeviceFromStatus(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/devices/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/status")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// statusReport is the JSON form agents may send.  A bare label such as
// "In Use" is accepted too.
type statusReport struct {
	Status string `json:"status"`
}

func parseStatusPayload(payload []byte) (model.DeviceState, error) {
	raw := strings.TrimSpace(string(payload))
	if strings.HasPrefix(raw, "{") {
		var r statusReport
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return 0, fmt.Errorf("decode status report: %w", err)
		}
		raw = r.Status
	}
	return model.ParseDeviceState(raw)
}

// stateMessage is published retained on the state topic.
type stateMessage struct {
	Device string            `json:"device"`
	State  model.DeviceState `json:"state"`
	Source string            `json:"source"`
	At     string            `json:"at"`
}
