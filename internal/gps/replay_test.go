package gps

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (f *fakeSleeper) Sleep(ctx context.Context, d time.Duration) bool {
	f.slept = append(f.slept, d)
	return ctx.Err() == nil
}

func writeCapture(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.nmea")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\r\n")+"\r\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func TestReplayOnce(t *testing.T) {
	rmc := nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	gga := nmeaLine("GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")
	gsv := nmeaLine("GPGSV,1,1,02,04,77,023,44,05,12,110,31")
	path := writeCapture(t, "# test capture", rmc, gga, gsv, "")

	s := New(Config{Enable: true, Source: "file", ReplayPath: path}, nil)
	var seen []string
	s.SetLineFunc(func(line string, ok bool) {
		if !ok {
			t.Fatalf("unexpected bad line %q", line)
		}
		seen = append(seen, line)
	})

	slp := &fakeSleeper{}
	if err := s.replayOnce(context.Background(), path, 2.0, slp); err != nil {
		t.Fatalf("replayOnce: %v", err)
	}

	if len(seen) != 3 {
		t.Fatalf("line tap saw %d lines, want 3", len(seen))
	}
	// One RMC, so one paced gap, halved by speed 2.
	if len(slp.slept) != 1 || slp.slept[0] != 500*time.Millisecond {
		t.Fatalf("slept=%v want [500ms]", slp.slept)
	}

	snap := s.Snapshot()
	if !snap.Valid {
		t.Fatalf("expected valid fix from capture")
	}
	if snap.Source != "file" {
		t.Fatalf("source=%q want file", snap.Source)
	}
	if snap.SatsVisible == nil || *snap.SatsVisible != 2 {
		t.Fatalf("sats visible: %v", snap.SatsVisible)
	}
}

func TestReplayOnce_BadLineCounted(t *testing.T) {
	path := writeCapture(t, "$GPRMC,junk*00")
	s := New(Config{Enable: true, Source: "file", ReplayPath: path}, nil)
	if err := s.replayOnce(context.Background(), path, 1.0, &fakeSleeper{}); err != nil {
		t.Fatalf("replayOnce: %v", err)
	}
	snap := s.Snapshot()
	if snap.ParseErrorsTotal != 1 {
		t.Fatalf("parse errors=%d want 1", snap.ParseErrorsTotal)
	}
}

func TestReplayLoop_StopsWithoutLoop(t *testing.T) {
	rmc := nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	path := writeCapture(t, rmc)
	s := New(Config{Enable: true, Source: "file", ReplayPath: path}, nil)
	slp := &fakeSleeper{}
	s.replayLoop(context.Background(), path, 1.0, false, slp)
	if len(slp.slept) != 1 {
		t.Fatalf("expected a single pass, slept=%v", slp.slept)
	}
}

func TestStartReplay_MissingPath(t *testing.T) {
	s := New(Config{Enable: true, Source: "file", ReplayPath: filepath.Join(t.TempDir(), "nope.nmea")}, nil)
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected error for missing capture")
	}
	s.Close()
}
