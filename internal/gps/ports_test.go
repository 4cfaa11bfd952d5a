package gps

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnumeratePorts(t *testing.T) {
	dev := t.TempDir()
	for _, name := range []string{"ttyACM0", "ttyUSB1", "ttyS0", "sda"} {
		if err := os.WriteFile(filepath.Join(dev, name), nil, 0o644); err != nil {
			t.Fatalf("WriteFile() error: %v", err)
		}
	}
	idDir := filepath.Join(dev, "serial", "by-id")
	if err := os.MkdirAll(idDir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error: %v", err)
	}
	alias := "usb-u-blox_AG_u-blox_GNSS_receiver-if00"
	if err := os.Symlink(filepath.Join(dev, "ttyACM0"), filepath.Join(idDir, alias)); err != nil {
		t.Fatalf("Symlink() error: %v", err)
	}

	ports := enumeratePorts(dev)
	if len(ports) != 2 {
		t.Fatalf("got %d ports, want 2: %+v", len(ports), ports)
	}
	if filepath.Base(ports[0].Path) != "ttyACM0" {
		t.Fatalf("first port: %+v", ports[0])
	}
	if ports[0].ByID != alias {
		t.Fatalf("expected by-id alias on ttyACM0: %+v", ports[0])
	}
	if filepath.Base(ports[1].Path) != "ttyUSB1" || ports[1].ByID != "" {
		t.Fatalf("second port: %+v", ports[1])
	}
}

func TestEnumeratePorts_EmptyDir(t *testing.T) {
	if ports := enumeratePorts(t.TempDir()); len(ports) != 0 {
		t.Fatalf("expected no ports, got %+v", ports)
	}
}
