// Package pps watches a pulse-per-second signal from the GNSS module on a
// GPIO line and reports pulse timing health. Many u-blox boards expose the
// timepulse pin; when wired to a GPIO header it gives a cheap view of whether
// the receiver is disciplined to GNSS time.
package pps

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	Enable bool
	// Chip is the GPIO character device, e.g. /dev/gpiochip0.
	Chip string
	// Line is the line offset the timepulse pin is wired to.
	Line int
}

type Snapshot struct {
	Enabled bool `json:"enabled"`
	// Active means a pulse arrived within the last few seconds.
	Active bool `json:"active"`

	Chip string `json:"chip,omitempty"`
	Line int    `json:"line,omitempty"`

	PulseCount   uint64   `json:"pulse_count"`
	LastPulseUTC string   `json:"last_pulse_utc,omitempty"`
	PeriodMs     *float64 `json:"period_ms,omitempty"`
	JitterMs     *float64 `json:"jitter_ms,omitempty"`

	LastError string `json:"last_error,omitempty"`
}

const (
	// Smoothing factor for period/jitter estimates.
	smoothingAlpha = 0.2
	// A pulse train is considered lost after this quiet window.
	activeWindow = 3 * time.Second
)

type Service struct {
	cfg    Config
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	last atomic.Value // Snapshot

	mu      sync.Mutex
	watcher io.Closer

	// pulse timing state, guarded by mu.
	prevPulse time.Time
	periodMs  float64
	jitterMs  float64
	havePer   bool
	haveJit   bool
	count     uint64
}

func New(cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{cfg: cfg, logger: logger}
	s.last.Store(Snapshot{Enabled: cfg.Enable, Chip: cfg.Chip, Line: cfg.Line})
	return s
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("pps service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	w, err := watchPulses(s.cfg.Chip, s.cfg.Line, s.pulse)
	if err != nil {
		s.setErrorLocked(fmt.Sprintf("pps watch failed chip=%s line=%d: %v", s.cfg.Chip, s.cfg.Line, err))
		return err
	}
	s.watcher = w

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.logger.Info("pps watching", "chip", s.cfg.Chip, "line", s.cfg.Line)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-childCtx.Done()
	}()

	return nil
}

// pulse records one rising edge. Called from the GPIO event handler.
func (s *Service) pulse(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	if !s.prevPulse.IsZero() {
		sampleMs := float64(at.Sub(s.prevPulse)) / float64(time.Millisecond)
		// Ignore absurd gaps (restart, long stall); jitter math would swamp.
		if sampleMs > 0 && sampleMs < 10_000 {
			if !s.havePer {
				s.periodMs = sampleMs
				s.havePer = true
			} else {
				dev := math.Abs(sampleMs - s.periodMs)
				s.periodMs += smoothingAlpha * (sampleMs - s.periodMs)
				if !s.haveJit {
					s.jitterMs = dev
					s.haveJit = true
				} else {
					s.jitterMs += smoothingAlpha * (dev - s.jitterMs)
				}
			}
		}
	}
	s.prevPulse = at

	snap := Snapshot{
		Enabled:      true,
		Chip:         s.cfg.Chip,
		Line:         s.cfg.Line,
		PulseCount:   s.count,
		LastPulseUTC: at.UTC().Format(time.RFC3339Nano),
	}
	if s.havePer {
		v := s.periodMs
		snap.PeriodMs = &v
	}
	if s.haveJit {
		v := s.jitterMs
		snap.JitterMs = &v
	}
	s.last.Store(snap)
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	watcher := s.watcher
	s.cancel = nil
	s.watcher = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if watcher != nil {
		_ = watcher.Close()
	}
	s.wg.Wait()
}

// Snapshot derives Active at read time so it decays when pulses stop.
func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	v := s.last.Load()
	if v == nil {
		return Snapshot{}
	}
	snap := v.(Snapshot)
	if snap.LastPulseUTC != "" {
		if t, err := time.Parse(time.RFC3339Nano, snap.LastPulseUTC); err == nil {
			snap.Active = time.Since(t) <= activeWindow
		}
	}
	return snap
}

func (s *Service) setErrorLocked(msg string) {
	cur, _ := s.last.Load().(Snapshot)
	cur.Enabled = s.cfg.Enable
	cur.LastError = msg
	s.last.Store(cur)
}
