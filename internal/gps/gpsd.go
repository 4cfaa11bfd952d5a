package gps

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"sort"
	"strings"
	"time"
)

const gpsdDefaultAddr = "127.0.0.1:2947"

// dialGPSD connects to gpsd over TCP.
func dialGPSD(ctx context.Context, addr string) (net.Conn, error) {
	if strings.TrimSpace(addr) == "" {
		addr = gpsdDefaultAddr
	}
	d := &net.Dialer{Timeout: 2 * time.Second}
	if ctx == nil {
		return d.Dial("tcp", addr)
	}
	return d.DialContext(ctx, "tcp", addr)
}

// gpsdWatch enables JSON streaming reports.
func gpsdWatch(conn net.Conn) error {
	// scaled=true yields SI units (m/s, meters) and degrees.
	_, err := conn.Write([]byte("?WATCH={\"enable\":true,\"json\":true,\"scaled\":true}\n"))
	return err
}

type gpsdMsgBase struct {
	Class string `json:"class"`
}

type gpsdTPV struct {
	Class string `json:"class"`
	Mode  *int   `json:"mode"`
	Time  string `json:"time"`

	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`

	Alt     *float64 `json:"alt"`
	AltMSL  *float64 `json:"altMSL"`
	SpeedMS *float64 `json:"speed"`
	Track   *float64 `json:"track"`
}

type gpsdSat struct {
	PRN  *int     `json:"PRN"`
	El   *float64 `json:"el"`
	Az   *float64 `json:"az"`
	SS   *float64 `json:"ss"`
	Used bool     `json:"used"`
}

type gpsdSKY struct {
	Class      string    `json:"class"`
	HDOP       *float64  `json:"hdop"`
	PDOP       *float64  `json:"pdop"`
	VDOP       *float64  `json:"vdop"`
	Satellites []gpsdSat `json:"satellites"`
}

type gpsdState struct {
	addr string

	latDeg float64
	lonDeg float64
	latOK  bool
	lonOK  bool

	altMeters float64
	altOK     bool

	groundKt float64
	gsOK     bool

	trackDeg float64
	trkOK    bool

	mode     int
	modeOK   bool
	satsUsed int
	satsOK   bool

	hdop   float64
	hdopOK bool
	pdop   float64
	pdopOK bool
	vdop   float64
	vdopOK bool

	sats []Satellite

	lastFix time.Time
	valid   bool

	sentences   uint64
	parseErrors uint64

	lastErr string
}

func newGPSDState(addr string) *gpsdState {
	return &gpsdState{addr: strings.TrimSpace(addr)}
}

func (s *gpsdState) snapshot() Snapshot {
	out := Snapshot{
		Enabled:  true,
		Valid:    s.valid,
		Device:   "gpsd",
		Source:   "gpsd",
		GPSDAddr: s.addr,
	}
	if s.altOK {
		v := s.altMeters
		out.AltMeters = &v
	}
	if s.gsOK {
		v := s.groundKt
		out.GroundKt = &v
	}
	if s.trkOK {
		v := s.trackDeg
		out.TrackDeg = &v
	}
	if s.modeOK {
		v := s.mode
		out.FixMode = &v
	}
	if s.satsOK {
		v := s.satsUsed
		out.SatsUsed = &v
	}
	if s.hdopOK {
		v := s.hdop
		out.HDOP = &v
	}
	if s.pdopOK {
		v := s.pdop
		out.PDOP = &v
	}
	if s.vdopOK {
		v := s.vdop
		out.VDOP = &v
	}
	if len(s.sats) > 0 {
		out.Satellites = append([]Satellite(nil), s.sats...)
		v := len(s.sats)
		out.SatsVisible = &v
	}
	if !s.lastFix.IsZero() {
		out.LastFixUTC = s.lastFix.UTC().Format(time.RFC3339Nano)
	}
	out.LatDeg = s.latDeg
	out.LonDeg = s.lonDeg
	out.SentencesTotal = s.sentences
	out.ParseErrorsTotal = s.parseErrors
	out.LastError = s.lastErr
	return out
}

func (s *gpsdState) applyLine(nowUTC time.Time, line string) (bool, error) {
	s.sentences++
	var base gpsdMsgBase
	if err := json.Unmarshal([]byte(line), &base); err != nil {
		s.parseErrors++
		return false, fmt.Errorf("gpsd json parse failed: %v", err)
	}

	switch strings.ToUpper(strings.TrimSpace(base.Class)) {
	case "TPV":
		var tpv gpsdTPV
		if err := json.Unmarshal([]byte(line), &tpv); err != nil {
			s.parseErrors++
			return false, fmt.Errorf("gpsd tpv parse failed: %v", err)
		}
		return s.applyTPV(nowUTC, tpv), nil
	case "SKY":
		var sky gpsdSKY
		if err := json.Unmarshal([]byte(line), &sky); err != nil {
			s.parseErrors++
			return false, fmt.Errorf("gpsd sky parse failed: %v", err)
		}
		return s.applySKY(sky), nil
	default:
		// Ignore other gpsd messages (e.g. VERSION/DEVICES/WATCH).
		return false, nil
	}
}

func (s *gpsdState) applyTPV(nowUTC time.Time, tpv gpsdTPV) bool {
	updated := false

	if tpv.Mode != nil {
		s.mode = *tpv.Mode
		s.modeOK = true
		updated = true
	}

	fixTime := nowUTC
	if strings.TrimSpace(tpv.Time) != "" {
		if t, err := time.Parse(time.RFC3339Nano, tpv.Time); err == nil {
			fixTime = t.UTC()
		}
	}

	if tpv.Lat != nil {
		s.latDeg = *tpv.Lat
		s.latOK = true
		updated = true
	}
	if tpv.Lon != nil {
		s.lonDeg = *tpv.Lon
		s.lonOK = true
		updated = true
	}

	if tpv.SpeedMS != nil {
		// gpsd scaled speed is m/s.
		s.groundKt = (*tpv.SpeedMS) * 1.9438444924406
		s.gsOK = true
		updated = true
	}
	if tpv.Track != nil {
		s.trackDeg = *tpv.Track
		s.trkOK = true
		updated = true
	}

	altM := tpv.AltMSL
	if altM == nil {
		altM = tpv.Alt
	}
	if altM != nil {
		s.altMeters = *altM
		s.altOK = true
		updated = true
	}

	// Consider valid when mode indicates a fix and lat/lon are present.
	mode := 0
	if s.modeOK {
		mode = s.mode
	}
	if mode >= 2 && s.latOK && s.lonOK {
		s.valid = true
		s.lastFix = fixTime
		updated = true
	}

	return updated
}

func (s *gpsdState) applySKY(sky gpsdSKY) bool {
	updated := false
	if sky.HDOP != nil {
		s.hdop = *sky.HDOP
		s.hdopOK = true
		updated = true
	}
	if sky.PDOP != nil {
		s.pdop = *sky.PDOP
		s.pdopOK = true
		updated = true
	}
	if sky.VDOP != nil {
		s.vdop = *sky.VDOP
		s.vdopOK = true
		updated = true
	}
	if len(sky.Satellites) > 0 {
		sats := make([]Satellite, 0, len(sky.Satellites))
		used := 0
		for _, in := range sky.Satellites {
			if in.PRN == nil || *in.PRN <= 0 {
				continue
			}
			sat := Satellite{PRN: *in.PRN, Used: in.Used}
			if in.El != nil {
				v := int(math.Round(*in.El))
				sat.ElevDeg = &v
			}
			if in.Az != nil {
				v := int(math.Round(*in.Az))
				sat.AzimDeg = &v
			}
			if in.SS != nil {
				v := int(math.Round(*in.SS))
				sat.SNRDb = &v
			}
			if in.Used {
				used++
			}
			sats = append(sats, sat)
		}
		sort.Slice(sats, func(i, j int) bool { return sats[i].PRN < sats[j].PRN })
		s.sats = sats
		s.satsUsed = used
		s.satsOK = true
		updated = true
	}
	return updated
}
