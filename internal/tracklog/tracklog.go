// Package tracklog persists GPS fixes to SQLite so a session's track can be
// queried and exported after the fact.
package tracklog

import (
	"database/sql"
	_ "embed"
	"fmt"
	"sync/atomic"
	"time"

	"gpsview/internal/gps"
)

//go:embed sql/schema.sql
var schemaSQL string

//go:embed sql/insert-fix.sql
var insertFixSQL string

//go:embed sql/get-fixes.sql
var getFixesSQL string

//go:embed sql/get-fixes-count.sql
var getFixesCountSQL string

// Fix is one recorded track point.
type Fix struct {
	ID         int64     `json:"id"`
	TimeUTC    time.Time `json:"time_utc"`
	LatDeg     float64   `json:"lat_deg"`
	LonDeg     float64   `json:"lon_deg"`
	AltMeters  *float64  `json:"alt_m,omitempty"`
	SpeedKt    *float64  `json:"speed_kt,omitempty"`
	TrackDeg   *float64  `json:"track_deg,omitempty"`
	FixQuality *int      `json:"fix_quality,omitempty"`
	SatsUsed   *int      `json:"sats_used,omitempty"`
	HDOP       *float64  `json:"hdop,omitempty"`
}

// Recorder writes thinned fixes and serves track queries.
// Record is expected to be called from a single goroutine (the snapshot pump);
// Written is safe to call from any goroutine.
type Recorder struct {
	db          *sql.DB
	minInterval time.Duration

	lastWrite time.Time
	written   atomic.Uint64
}

func NewRecorder(db *sql.DB, minInterval time.Duration) (*Recorder, error) {
	if db == nil {
		return nil, fmt.Errorf("tracklog db is nil")
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("tracklog schema: %w", err)
	}
	return &Recorder{db: db, minInterval: minInterval}, nil
}

// Record persists the snapshot's fix if it is valid and the thinning interval
// has elapsed. Returns true when a row was written.
func (r *Recorder) Record(nowUTC time.Time, snap gps.Snapshot) (bool, error) {
	if r == nil {
		return false, nil
	}
	if !snap.Valid || snap.FixStale {
		return false, nil
	}
	if !r.lastWrite.IsZero() && nowUTC.Sub(r.lastWrite) < r.minInterval {
		return false, nil
	}

	_, err := r.db.Exec(insertFixSQL,
		nowUTC.UTC().Format(time.RFC3339Nano),
		snap.LatDeg,
		snap.LonDeg,
		snap.AltMeters,
		snap.GroundKt,
		snap.TrackDeg,
		snap.FixQuality,
		snap.SatsUsed,
		snap.HDOP,
	)
	if err != nil {
		return false, fmt.Errorf("tracklog insert: %w", err)
	}
	r.lastWrite = nowUTC
	r.written.Add(1)
	return true, nil
}

// Written reports how many fixes this recorder instance has persisted.
func (r *Recorder) Written() uint64 {
	if r == nil {
		return 0
	}
	return r.written.Load()
}

// Fixes returns track points in [from, to], oldest first.
func (r *Recorder) Fixes(from, to time.Time, limit, offset int) ([]Fix, error) {
	if limit <= 0 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.Query(getFixesSQL,
		from.UTC().Format(time.RFC3339Nano),
		to.UTC().Format(time.RFC3339Nano),
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("tracklog query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Fix
	for rows.Next() {
		var f Fix
		var ts string
		if err := rows.Scan(&f.ID, &ts, &f.LatDeg, &f.LonDeg, &f.AltMeters, &f.SpeedKt, &f.TrackDeg, &f.FixQuality, &f.SatsUsed, &f.HDOP); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("tracklog bad timestamp %q: %w", ts, err)
		}
		f.TimeUTC = t
		out = append(out, f)
	}
	return out, rows.Err()
}

// Count returns the number of track points in [from, to].
func (r *Recorder) Count(from, to time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(getFixesCountSQL,
		from.UTC().Format(time.RFC3339Nano),
		to.UTC().Format(time.RFC3339Nano),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("tracklog count: %w", err)
	}
	return n, nil
}
