package gps

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// File replay feeds a captured NMEA log (one sentence per line, '#' comments
// and blank lines ignored) through the same parse path as a live receiver.
//
// Plain captures carry no timing, so pacing is synthetic: sentences that open
// a new cycle (RMC) get a one-second gap, everything else streams at burst
// rate. Speed scales the gaps; Loop restarts from the top.

type sleeper interface {
	Sleep(ctx context.Context, d time.Duration) bool
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) bool {
	return sleepCtx(ctx, d)
}

const replayCycleGap = 1 * time.Second

func (s *Service) startReplayLocked(ctx context.Context) error {
	path := strings.TrimSpace(s.cfg.ReplayPath)
	if path == "" {
		return fmt.Errorf("replay path is empty")
	}
	speed := s.cfg.ReplaySpeed
	if speed == 0 {
		speed = 1
	}
	if speed < 0 {
		return fmt.Errorf("replay speed must be > 0")
	}

	// Validate up front so a bad path is a start error, not a silent idle loop.
	if _, err := os.Stat(path); err != nil {
		return err
	}

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("gps replaying", "path", path, "speed", speed, "loop", s.cfg.ReplayLoop)
		s.replayLoop(childCtx, path, speed, s.cfg.ReplayLoop, realSleeper{})
	}()

	s.last.Store(Snapshot{Enabled: true, Valid: false, Source: "file", Device: path})
	return nil
}

func (s *Service) replayLoop(ctx context.Context, path string, speed float64, loop bool, slp sleeper) {
	for {
		if err := s.replayOnce(ctx, path, speed, slp); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.setError(fmt.Sprintf("replay failed path=%s: %v", path, err))
			return
		}
		if ctx.Err() != nil || !loop {
			return
		}
	}
}

func (s *Service) replayOnce(ctx context.Context, path string, speed float64, slp sleeper) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	st := &nmeaState{source: "file", device: path}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256), 4096)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		now := time.Now().UTC()
		sent, perr := parseNMEASentence(line)
		if perr != nil {
			st.parseErrors++
			st.lastErr = perr.Error()
			s.last.Store(st.snapshot(now))
			s.emitLine(line, false)
			continue
		}
		s.emitLine(line, true)

		if sent.Type == "RMC" {
			gap := time.Duration(float64(replayCycleGap) / speed)
			if !slp.Sleep(ctx, gap) {
				return nil
			}
			now = time.Now().UTC()
		}

		if updated := st.apply(now, sent); updated {
			s.last.Store(st.snapshot(now))
		}
	}
	return scanner.Err()
}
