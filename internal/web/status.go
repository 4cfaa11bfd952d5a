package web

import (
	"sync/atomic"
	"time"

	"gpsview/internal/gps"
	"gpsview/internal/pps"
)

// Status aggregates the live state the UI polls. Snapshot providers are
// registered once at startup; nil providers render as zero sections.
type Status struct {
	startUnixNano int64

	gpsSnap  atomic.Value // func() gps.Snapshot
	ppsSnap  atomic.Value // func() pps.Snapshot
	trackFn  atomic.Value // func() TrackStatus
	mqttFn   atomic.Value // func() MQTTStatus
	wsActive int64
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	return s
}

func (s *Status) SetGPS(fn func() gps.Snapshot) { s.gpsSnap.Store(fn) }

func (s *Status) SetPPS(fn func() pps.Snapshot) { s.ppsSnap.Store(fn) }

func (s *Status) SetTrack(fn func() TrackStatus) { s.trackFn.Store(fn) }

func (s *Status) SetMQTT(fn func() MQTTStatus) { s.mqttFn.Store(fn) }

func (s *Status) wsConnected()    { atomic.AddInt64(&s.wsActive, 1) }
func (s *Status) wsDisconnected() { atomic.AddInt64(&s.wsActive, -1) }

// GPS returns the current receiver snapshot, or a zero snapshot when no
// provider has been registered.
func (s *Status) GPS() gps.Snapshot {
	if fn, ok := s.gpsSnap.Load().(func() gps.Snapshot); ok && fn != nil {
		return fn()
	}
	return gps.Snapshot{}
}

type TrackStatus struct {
	Enabled      bool   `json:"enabled"`
	Path         string `json:"path,omitempty"`
	FixesWritten uint64 `json:"fixes_written"`
}

type MQTTStatus struct {
	Enabled   bool   `json:"enabled"`
	Broker    string `json:"broker,omitempty"`
	Topic     string `json:"topic,omitempty"`
	Published uint64 `json:"published"`
	LastError string `json:"last_error,omitempty"`
}

type StatusSnapshot struct {
	Service   string       `json:"service"`
	NowUTC    string       `json:"now_utc"`
	UptimeSec int64        `json:"uptime_sec"`
	WSClients int64        `json:"ws_clients"`
	GPS       gps.Snapshot `json:"gps"`
	PPS       pps.Snapshot `json:"pps"`
	Track     TrackStatus  `json:"tracklog"`
	MQTT      MQTTStatus   `json:"mqtt"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	snap := StatusSnapshot{
		Service:   "gpsview",
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		WSClients: atomic.LoadInt64(&s.wsActive),
	}
	if fn, ok := s.gpsSnap.Load().(func() gps.Snapshot); ok && fn != nil {
		snap.GPS = fn()
	}
	if fn, ok := s.ppsSnap.Load().(func() pps.Snapshot); ok && fn != nil {
		snap.PPS = fn()
	}
	if fn, ok := s.trackFn.Load().(func() TrackStatus); ok && fn != nil {
		snap.Track = fn()
	}
	if fn, ok := s.mqttFn.Load().(func() MQTTStatus); ok && fn != nil {
		snap.MQTT = fn()
	}
	return snap
}
