package config

import (
    "fmt"
    "os"
    "strings"

    "gopkg.in/yaml.v3"
)

// DefaultDevices is the lab's hard-coded device set, used when no catalog
// file is configured.
var DefaultDevices = []string{
    "PC1", "PC2", "PC3", "PC4", "PC5", "PC6", "PC7", "PC8", "PC9", "PC10",
    "PS5", "Switch1", "Switch2", "RacingSim1", "RacingSim2",
}

// deviceCatalog is the on-disk shape of DEVICES_FILE:
//
//	devices:
//	  - id: PC1
//	  - id: PS5
type deviceCatalog struct {
    Devices []struct {
        ID string `yaml:"id"`
    } `yaml:"devices"`
}

// LoadDevices returns the canonical device enumeration.  An empty path
// yields DefaultDevices.  Order is preserved; blank and duplicate ids are
// rejected.
func LoadDevices(path string) ([]string, error) {
    if path == "" {
        out := make([]string, len(DefaultDevices))
        copy(out, DefaultDevices)
        return out, nil
    }
    raw, err := os.ReadFile(path)
    if err != nil {
        return nil, fmt.Errorf("read device catalog: %w", err)
    }
    return ParseDevices(raw)
}

// ParseDevices decodes a YAML catalog.
func ParseDevices(raw []byte) ([]string, error) {
    var cat deviceCatalog
    if err := yaml.Unmarshal(raw, &cat); err != nil {
        return nil, fmt.Errorf("parse device catalog: %w", err)
    }
    if len(cat.Devices) == 0 {
        return nil, fmt.Errorf("device catalog is empty")
    }
    seen := make(map[string]bool, len(cat.Devices))
    out := make([]string, 0, len(cat.Devices))
    for i, d := range cat.Devices {
        id := strings.TrimSpace(d.ID)
        if id == "" {
            return nil, fmt.Errorf("device catalog entry %d has no id", i)
        }
        if seen[id] {
            return nil, fmt.Errorf("device %q listed twice", id)
        }
        seen[id] = true
        out = append(out, id)
    }
    return out, nil
}
