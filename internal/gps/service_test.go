package gps

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestService_ConsumeNMEA(t *testing.T) {
	s := New(Config{Enable: true}, nil)

	var lines []string
	var oks []bool
	s.SetLineFunc(func(line string, ok bool) {
		lines = append(lines, line)
		oks = append(oks, ok)
	})

	good := nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	bad := "$GPGGA,borked*00"
	input := good + "\r\n" + "\r\n" + bad + "\r\n"

	st := &nmeaState{device: "/dev/ttyACM0", baud: 9600}
	err := s.consumeNMEA(context.Background(), strings.NewReader(input), st)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}

	if len(lines) != 2 {
		t.Fatalf("line tap saw %d lines, want 2", len(lines))
	}
	if !oks[0] || oks[1] {
		t.Fatalf("ok flags wrong: %v", oks)
	}

	snap := s.Snapshot()
	if !snap.Valid {
		t.Fatalf("expected valid fix")
	}
	if snap.ParseErrorsTotal != 1 {
		t.Fatalf("parse errors=%d want 1", snap.ParseErrorsTotal)
	}
	if snap.LastError == "" {
		t.Fatalf("expected last_error for bad checksum")
	}
}

func TestService_ConsumeNMEACancel(t *testing.T) {
	s := New(Config{Enable: true}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.consumeNMEA(ctx, strings.NewReader("$x\n"), &nmeaState{})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestService_SnapshotFixStaleness(t *testing.T) {
	s := New(Config{Enable: true}, nil)

	fresh := Snapshot{Enabled: true, Valid: true, LastFixUTC: time.Now().UTC().Format(time.RFC3339Nano)}
	s.last.Store(fresh)
	if snap := s.Snapshot(); snap.FixStale {
		t.Fatalf("fresh fix must not be stale")
	}

	old := Snapshot{Enabled: true, Valid: true, LastFixUTC: time.Now().UTC().Add(-time.Minute).Format(time.RFC3339Nano)}
	s.last.Store(old)
	snap := s.Snapshot()
	if !snap.FixStale {
		t.Fatalf("minute-old fix must be stale")
	}
	if snap.FixAgeSec < 59 {
		t.Fatalf("fix_age_sec=%v want >= 59", snap.FixAgeSec)
	}
}

func TestService_InitialSnapshot(t *testing.T) {
	s := New(Config{Enable: true, Device: "/dev/ttyACM1", Baud: 38400}, nil)
	snap := s.Snapshot()
	if !snap.Enabled || snap.Valid {
		t.Fatalf("initial snapshot: %+v", snap)
	}
	if snap.Source != "serial" || snap.Device != "/dev/ttyACM1" || snap.Baud != 38400 {
		t.Fatalf("initial snapshot: %+v", snap)
	}
}

// An unplug/replug cycle must not reset the sentence counters: the reader
// reopens the device but keeps accumulating into the same parser state.
func TestService_SerialCountersSurviveReopen(t *testing.T) {
	good := nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")

	conns := make(chan io.ReadCloser, 2)
	conns <- io.NopCloser(strings.NewReader(good + "\r\n"))
	conns <- io.NopCloser(strings.NewReader(good + "\r\n"))

	orig := openSerialFn
	openSerialFn = func(path string, baud int) (io.ReadCloser, error) {
		select {
		case c := <-conns:
			return c, nil
		default:
			return nil, errors.New("no device")
		}
	}
	defer func() { openSerialFn = orig }()

	s := New(Config{Enable: true, Device: "/dev/ttyFAKE0", Baud: 9600}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Close()

	// First stream ends in EOF, the reader backs off and reopens; both
	// sentences must show up in one running total.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if snap := s.Snapshot(); snap.SentencesTotal >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sentences_total=%d want 2 after reopen", s.Snapshot().SentencesTotal)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// The initial gpsd snapshot is published before the reader goroutine starts,
// so a state the reader stores is never overwritten by the blank one.
func TestService_GPSDInitialSnapshot(t *testing.T) {
	// Port 1 refuses immediately, so the reader stores a dial error
	// right after starting.
	s := New(Config{Enable: true, Source: "gpsd", GPSDAddr: "127.0.0.1:1"}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Close()

	snap := s.Snapshot()
	if snap.Source != "gpsd" || snap.Device != "gpsd" || snap.GPSDAddr != "127.0.0.1:1" {
		t.Fatalf("snapshot after Start: %+v", snap)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		snap = s.Snapshot()
		if snap.LastError != "" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no dial error surfaced: %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if snap.Source != "gpsd" || snap.Device != "gpsd" || !snap.Enabled {
		t.Fatalf("error snapshot lost gpsd identity: %+v", snap)
	}
}

func TestService_StartDisabledIsNoop(t *testing.T) {
	s := New(Config{Enable: false}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("disabled Start() error: %v", err)
	}
	s.Close()
}

func TestService_NilSafety(t *testing.T) {
	var s *Service
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("nil service Start must error")
	}
	s.Close()
	if snap := s.Snapshot(); snap.Enabled {
		t.Fatalf("nil service snapshot: %+v", snap)
	}
}

func TestNormalizeSource(t *testing.T) {
	cases := map[string]string{
		"":       "serial",
		"SERIAL": "serial",
		" gpsd ": "gpsd",
		"File":   "file",
	}
	for in, want := range cases {
		if got := normalizeSource(in); got != want {
			t.Fatalf("normalizeSource(%q)=%q want %q", in, got, want)
		}
	}
}

func TestNextBackoff(t *testing.T) {
	if got := nextBackoff(250*time.Millisecond, 10*time.Second); got != 500*time.Millisecond {
		t.Fatalf("got %s", got)
	}
	if got := nextBackoff(8*time.Second, 10*time.Second); got != 10*time.Second {
		t.Fatalf("got %s", got)
	}
}
