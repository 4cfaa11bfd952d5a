package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls the NMEA ingest service.
//
// A u-blox class dongle typically appears as /dev/ttyACM* and emits NMEA
// (often GNxxx talker IDs) at 9600 baud by default. Device may be empty to
// auto-detect. Baud must be supported by the platform implementation.
//
// Failures here must never bring down the main process; the reader keeps
// retrying and reports errors through the snapshot.
type Config struct {
	Enable bool

	// Source selects how NMEA is ingested: "serial", "gpsd" or "file".
	// When empty, defaults to "serial".
	Source string

	// Device is the serial device path for Source=="serial".
	Device string
	Baud   int

	// GPSDAddr is host:port for gpsd when Source=="gpsd".
	GPSDAddr string

	// Replay settings for Source=="file".
	ReplayPath  string
	ReplaySpeed float64
	ReplayLoop  bool
}

type Snapshot struct {
	Enabled  bool `json:"enabled"`
	Valid    bool `json:"valid"`
	FixStale bool `json:"fix_stale"`

	Source   string `json:"source,omitempty"`
	Device   string `json:"device,omitempty"`
	Baud     int    `json:"baud,omitempty"`
	GPSDAddr string `json:"gpsd_addr,omitempty"`

	LatDeg      float64  `json:"lat_deg,omitempty"`
	LonDeg      float64  `json:"lon_deg,omitempty"`
	AltMeters   *float64 `json:"alt_m,omitempty"`
	GroundKt    *float64 `json:"ground_kt,omitempty"`
	TrackDeg    *float64 `json:"track_deg,omitempty"`
	FixQuality  *int     `json:"fix_quality,omitempty"`
	FixMode     *int     `json:"fix_mode,omitempty"`
	SatsUsed    *int     `json:"sats_used,omitempty"`
	SatsVisible *int     `json:"sats_visible,omitempty"`
	HDOP        *float64 `json:"hdop,omitempty"`
	PDOP        *float64 `json:"pdop,omitempty"`
	VDOP        *float64 `json:"vdop,omitempty"`

	Satellites []Satellite `json:"satellites,omitempty"`

	FixAgeSec  float64 `json:"fix_age_sec,omitempty"`
	LastFixUTC string  `json:"last_fix_utc,omitempty"`
	LastError  string  `json:"last_error,omitempty"`

	SentencesTotal   uint64 `json:"sentences_total"`
	ParseErrorsTotal uint64 `json:"parse_errors_total"`
}

// fixStaleAfter marks a snapshot stale when no valid fix arrived recently.
const fixStaleAfter = 10 * time.Second

// LineFunc observes every raw line from the source (valid NMEA or not).
// ok reports whether the line parsed as a checksummed sentence.
type LineFunc func(line string, ok bool)

type Service struct {
	cfg    Config
	logger *slog.Logger
	onLine LineFunc

	cancel context.CancelFunc
	wg     sync.WaitGroup

	last atomic.Value // Snapshot

	mu     sync.Mutex
	closer io.Closer
}

func New(cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{cfg: cfg, logger: logger}
	src := normalizeSource(cfg.Source)
	s.last.Store(Snapshot{
		Enabled:  cfg.Enable,
		Source:   src,
		Device:   strings.TrimSpace(cfg.Device),
		Baud:     cfg.Baud,
		GPSDAddr: strings.TrimSpace(cfg.GPSDAddr),
	})
	return s
}

func normalizeSource(src string) string {
	src = strings.ToLower(strings.TrimSpace(src))
	if src == "" {
		src = "serial"
	}
	return src
}

// SetLineFunc installs the raw line observer. Must be called before Start.
func (s *Service) SetLineFunc(fn LineFunc) {
	s.onLine = fn
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("gps service is nil")
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

	switch normalizeSource(s.cfg.Source) {
	case "gpsd":
		return s.startGPSDLocked(ctx)
	case "file":
		return s.startReplayLocked(ctx)
	default:
		return s.startSerialLocked(ctx)
	}
}

// openSerialFn opens the serial device; a variable so tests can substitute
// an in-memory reader for the termios path.
var openSerialFn = func(path string, baud int) (io.ReadCloser, error) {
	return openSerial(path, baud)
}

func (s *Service) startSerialLocked(ctx context.Context) error {
	baud := s.cfg.Baud
	if baud == 0 {
		baud = 9600
	}
	device := strings.TrimSpace(s.cfg.Device)

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		// Parser state outlives individual opens so sentence and parse
		// error counters keep accumulating across an unplug/replug.
		st := &nmeaState{device: device, baud: baud}
		backoff := 250 * time.Millisecond
		const maxBackoff = 10 * time.Second

		for {
			select {
			case <-childCtx.Done():
				return
			default:
			}

			dev := device
			if dev == "" {
				dev = autoDetectDevice()
			}
			if dev == "" {
				s.setError("gps auto-detect failed: no /dev/ttyACM* or /dev/ttyUSB* found")
				if !sleepCtx(childCtx, backoff) {
					return
				}
				backoff = nextBackoff(backoff, maxBackoff)
				continue
			}

			f, err := openSerialFn(dev, baud)
			if err != nil {
				s.setError(fmt.Sprintf("gps open failed device=%s baud=%d: %v", dev, baud, err))
				if !sleepCtx(childCtx, backoff) {
					return
				}
				backoff = nextBackoff(backoff, maxBackoff)
				continue
			}
			backoff = 250 * time.Millisecond

			s.mu.Lock()
			// Swap the closer so Close() can interrupt a blocking read.
			s.closer = f
			s.mu.Unlock()

			s.logger.Info("gps reading", "device", dev, "baud", baud)

			st.device = dev
			s.last.Store(st.snapshot(time.Now().UTC()))
			err = s.consumeNMEA(childCtx, f, st)
			_ = f.Close()
			if childCtx.Err() != nil {
				return
			}
			s.setError(fmt.Sprintf("gps read stopped device=%s: %v", dev, err))
			// Dongle unplugged or transient error; retry from scratch.
			if !sleepCtx(childCtx, backoff) {
				return
			}
		}
	}()

	return nil
}

func (s *Service) startGPSDLocked(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.GPSDAddr)
	if addr == "" {
		addr = gpsdDefaultAddr
	}

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	// Publish the initial snapshot before the reader starts so it cannot
	// overwrite a state the reader has already stored.
	s.last.Store(Snapshot{Enabled: true, Valid: false, Source: "gpsd", GPSDAddr: addr, Device: "gpsd"})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.logger.Info("gps reading", "source", "gpsd", "addr", addr)
		st := newGPSDState(addr)
		backoff := 250 * time.Millisecond
		const maxBackoff = 10 * time.Second

		for {
			select {
			case <-childCtx.Done():
				return
			default:
			}

			conn, err := dialGPSD(childCtx, addr)
			if err != nil {
				s.setError(fmt.Sprintf("gpsd dial failed addr=%s: %v", addr, err))
				if !sleepCtx(childCtx, backoff) {
					return
				}
				backoff = nextBackoff(backoff, maxBackoff)
				continue
			}

			// Reset backoff after a successful connection.
			backoff = 250 * time.Millisecond

			s.mu.Lock()
			// Swap the closer so Close() can interrupt an active connection.
			s.closer = conn
			s.mu.Unlock()

			func() {
				defer func() { _ = conn.Close() }()

				if err := gpsdWatch(conn); err != nil {
					s.setError(fmt.Sprintf("gpsd watch failed: %v", err))
					return
				}

				scanner := bufio.NewScanner(conn)
				scanner.Buffer(make([]byte, 0, 4096), 256*1024)
				for {
					select {
					case <-childCtx.Done():
						return
					default:
					}
					if !scanner.Scan() {
						err := scanner.Err()
						if err == nil {
							err = io.EOF
						}
						s.setError(fmt.Sprintf("gpsd read stopped: %v", err))
						return
					}
					line := strings.TrimSpace(scanner.Text())
					if line == "" {
						continue
					}
					updated, perr := st.applyLine(time.Now().UTC(), line)
					s.emitLine(line, perr == nil)
					if perr != nil {
						st.lastErr = perr.Error()
						s.last.Store(st.snapshot())
						continue
					}
					if updated {
						s.last.Store(st.snapshot())
					}
				}
			}()
			// Loop and reconnect.
		}
	}()

	return nil
}

// consumeNMEA reads lines from r, feeding the parser and the line tap. It
// returns the read error that ended the stream.
func (s *Service) consumeNMEA(ctx context.Context, r io.Reader, st *nmeaState) error {
	scanner := bufio.NewScanner(r)
	// NMEA sentences are typically < 82 chars, but allow headroom.
	scanner.Buffer(make([]byte, 0, 256), 4096)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !scanner.Scan() {
			err := scanner.Err()
			if err == nil {
				err = io.EOF
			}
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		now := time.Now().UTC()
		sent, perr := parseNMEASentence(line)
		if perr != nil {
			st.parseErrors++
			// Avoid spamming on noise; keep the last error only.
			st.lastErr = perr.Error()
			s.last.Store(st.snapshot(now))
			s.emitLine(line, false)
			continue
		}
		s.emitLine(line, true)

		if updated := st.apply(now, sent); updated {
			s.last.Store(st.snapshot(now))
		}
	}
}

func (s *Service) emitLine(line string, ok bool) {
	if s.onLine != nil {
		s.onLine(line, ok)
	}
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	closer := s.closer
	s.cancel = nil
	s.closer = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closer != nil {
		_ = closer.Close()
	}
	s.wg.Wait()
}

// Snapshot returns the last published state. Fix staleness is derived at read
// time so it decays even when no sentences arrive.
func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	v := s.last.Load()
	if v == nil {
		return Snapshot{}
	}
	snap := v.(Snapshot)
	if snap.LastFixUTC != "" {
		if t, err := time.Parse(time.RFC3339Nano, snap.LastFixUTC); err == nil {
			age := time.Since(t)
			if age < 0 {
				age = 0
			}
			snap.FixAgeSec = age.Seconds()
			snap.FixStale = snap.Valid && age > fixStaleAfter
		}
	}
	return snap
}

func (s *Service) setError(msg string) {
	cur := s.Snapshot()
	cur.LastError = msg
	// Transient errors do not flip validity; staleness handles decay.
	s.last.Store(cur)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}
