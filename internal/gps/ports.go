package gps

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// PortInfo describes a candidate serial device.
type PortInfo struct {
	// Path is the device node, e.g. /dev/ttyACM0.
	Path string `json:"path"`
	// ByID is the stable /dev/serial/by-id alias when one exists; it usually
	// encodes the USB vendor/product, which is the closest thing to a port
	// description Linux gives us.
	ByID string `json:"by_id,omitempty"`
}

// EnumeratePorts lists serial devices a GNSS dongle could be attached to.
func EnumeratePorts() []PortInfo {
	return enumeratePorts("/dev")
}

func enumeratePorts(devDir string) []PortInfo {
	byID := map[string]string{}
	idDir := filepath.Join(devDir, "serial", "by-id")
	if entries, err := os.ReadDir(idDir); err == nil {
		for _, e := range entries {
			link := filepath.Join(idDir, e.Name())
			target, err := filepath.EvalSymlinks(link)
			if err != nil {
				continue
			}
			byID[target] = e.Name()
		}
	}

	var out []PortInfo
	for _, pattern := range []string{"ttyACM*", "ttyUSB*"} {
		matches, err := filepath.Glob(filepath.Join(devDir, pattern))
		if err != nil {
			continue
		}
		for _, m := range matches {
			out = append(out, PortInfo{Path: m, ByID: byID[m]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// autoDetectDevice picks the first plausible GNSS serial device.
// Kept intentionally tiny and predictable.
func autoDetectDevice() string {
	candidates := []string{}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyUSB%d", i))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
