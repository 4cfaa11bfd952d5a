package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeTempConfig(t, "gps:\n  enable: true\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.GPS.Source != "serial" {
		t.Fatalf("source=%q want serial", cfg.GPS.Source)
	}
	if cfg.GPS.Baud != 9600 {
		t.Fatalf("baud=%d want 9600", cfg.GPS.Baud)
	}
	if cfg.Web.Listen != ":8080" {
		t.Fatalf("listen=%q want :8080", cfg.Web.Listen)
	}
	if cfg.Web.NMEABuffer != 2000 {
		t.Fatalf("nmea_buffer=%d want 2000", cfg.Web.NMEABuffer)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Fatalf("log defaults not applied: %+v", cfg.Log)
	}
}

func TestLoad_UnsupportedBaud(t *testing.T) {
	path := writeTempConfig(t, "gps:\n  enable: true\n  baud: 1200\n")
	_, err := Load(path)
	requireErrEq(t, err, "gps.baud 1200 is not supported")
}

func TestLoad_BadSource(t *testing.T) {
	path := writeTempConfig(t, "gps:\n  source: udp\n")
	_, err := Load(path)
	requireErrEq(t, err, `gps.source must be serial, gpsd or file (got "udp")`)
}

func TestLoad_FileSourceRequiresPath(t *testing.T) {
	path := writeTempConfig(t, "gps:\n  enable: true\n  source: file\n")
	_, err := Load(path)
	requireErrEq(t, err, "gps.replay.path is required when gps.source is file")
}

func TestLoad_ReplayDefaults(t *testing.T) {
	path := writeTempConfig(t, "gps:\n  enable: true\n  source: file\n  replay:\n    path: ./capture.nmea\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.GPS.Replay.Speed != 1 {
		t.Fatalf("replay speed=%v want 1", cfg.GPS.Replay.Speed)
	}
}

func TestLoad_TrackLogDefaults(t *testing.T) {
	path := writeTempConfig(t, "tracklog:\n  enable: true\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.TrackLog.Path != "./gpsview.db" {
		t.Fatalf("tracklog path=%q", cfg.TrackLog.Path)
	}
	if cfg.TrackLog.MinInterval != 1*time.Second {
		t.Fatalf("tracklog min_interval=%s want 1s", cfg.TrackLog.MinInterval)
	}
}

func TestLoad_MQTTRequiresBroker(t *testing.T) {
	path := writeTempConfig(t, "mqtt:\n  enable: true\n")
	_, err := Load(path)
	requireErrEq(t, err, "mqtt.broker is required when mqtt.enable is true")
}

func TestLoad_MQTTDefaults(t *testing.T) {
	path := writeTempConfig(t, "mqtt:\n  enable: true\n  broker: tcp://127.0.0.1:1883\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.MQTT.ClientID != "gpsview" || cfg.MQTT.Topic != "gpsview/fix" {
		t.Fatalf("mqtt defaults not applied: %+v", cfg.MQTT)
	}
	if cfg.MQTT.Interval != 1*time.Second {
		t.Fatalf("mqtt interval=%s want 1s", cfg.MQTT.Interval)
	}
}

func TestLoad_PPSDefaults(t *testing.T) {
	path := writeTempConfig(t, "pps:\n  enable: true\n  line: 18\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.PPS.Chip != "/dev/gpiochip0" {
		t.Fatalf("pps chip=%q", cfg.PPS.Chip)
	}
}

func TestLoad_BadNMEABuffer(t *testing.T) {
	path := writeTempConfig(t, "web:\n  nmea_buffer: -5\n")
	_, err := Load(path)
	requireErrEq(t, err, "web.nmea_buffer must be >= 0")
}

func TestLoad_BadLogLevel(t *testing.T) {
	path := writeTempConfig(t, "log:\n  level: verbose\n")
	_, err := Load(path)
	requireErrEq(t, err, `log.level must be debug, info, warn or error (got "verbose")`)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}
