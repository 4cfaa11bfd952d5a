package gps

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type nmeaSentence struct {
	// Talker is the two-letter talker ID (GP, GN, GL, GA, GB, ...).
	Talker string
	Type   string
	// Fields is the comma-split NMEA payload (excluding $ and checksum).
	Fields []string
}

func parseNMEASentence(line string) (nmeaSentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nmeaSentence{}, fmt.Errorf("nmea: missing '$'")
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return nmeaSentence{}, fmt.Errorf("nmea: missing checksum")
	}
	payload := line[1:star]
	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return nmeaSentence{}, fmt.Errorf("nmea: short checksum")
	}
	ck = ck[:2]
	want, err := hex.DecodeString(ck)
	if err != nil || len(want) != 1 {
		return nmeaSentence{}, fmt.Errorf("nmea: bad checksum")
	}
	got := byte(0)
	for i := 0; i < len(payload); i++ {
		got ^= payload[i]
	}
	if got != want[0] {
		return nmeaSentence{}, fmt.Errorf("nmea: checksum mismatch")
	}

	parts := strings.Split(payload, ",")
	if len(parts) == 0 {
		return nmeaSentence{}, fmt.Errorf("nmea: empty")
	}
	typeField := strings.ToUpper(parts[0])
	if len(typeField) < 3 {
		return nmeaSentence{}, fmt.Errorf("nmea: short type")
	}
	// GPxxx/GNxxx/GLxxx etc: last 3 chars are the sentence type, the rest is
	// the talker ID.
	t := typeField
	talker := ""
	if len(t) > 3 {
		talker = t[:len(t)-3]
		t = t[len(t)-3:]
	}
	return nmeaSentence{Talker: talker, Type: t, Fields: parts}, nil
}

// SentenceType returns the three-letter sentence type ("RMC", "GSV", ...)
// for a valid NMEA line, or "" when the line does not parse. Used to
// label per-type counters without re-exposing the parser.
func SentenceType(line string) string {
	sent, err := parseNMEASentence(line)
	if err != nil {
		return ""
	}
	return sent.Type
}

type nmeaState struct {
	source string
	device string
	baud   int

	latDeg float64
	lonDeg float64
	latOK  bool
	lonOK  bool

	groundKt float64
	gsOK     bool

	trackDeg float64
	trkOK    bool

	altMeters float64
	altOK     bool

	fixQuality   int
	fixQualityOK bool
	fixMode      int
	fixModeOK    bool
	satsUsed     int
	satsUsedOK   bool

	hdop   float64
	hdopOK bool
	pdop   float64
	pdopOK bool
	vdop   float64
	vdopOK bool

	sky constellation

	lastFix time.Time
	valid   bool

	sentences   uint64
	parseErrors uint64

	lastErr string
}

func (s *nmeaState) apply(nowUTC time.Time, sent nmeaSentence) bool {
	s.sentences++
	switch sent.Type {
	case "RMC":
		return s.applyRMC(nowUTC, sent.Fields)
	case "GGA":
		return s.applyGGA(nowUTC, sent.Fields)
	case "GSA":
		return s.applyGSA(nowUTC, sent)
	case "GSV":
		return s.sky.applyGSV(nowUTC, sent)
	case "VTG":
		return s.applyVTG(sent.Fields)
	default:
		return false
	}
}

func (s *nmeaState) snapshot(nowUTC time.Time) Snapshot {
	src := s.source
	if src == "" {
		src = "serial"
	}
	out := Snapshot{
		Enabled: true,
		Valid:   s.valid,
		Source:  src,
		Device:  s.device,
		Baud:    s.baud,
		LatDeg:  s.latDeg,
		LonDeg:  s.lonDeg,
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
	if s.fixQualityOK {
		v := s.fixQuality
		out.FixQuality = &v
	}
	if s.fixModeOK {
		v := s.fixMode
		out.FixMode = &v
	}
	if s.satsUsedOK {
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
	out.Satellites = s.sky.satellites(nowUTC)
	if n := len(out.Satellites); n > 0 {
		v := n
		out.SatsVisible = &v
	}
	if !s.lastFix.IsZero() {
		out.LastFixUTC = s.lastFix.UTC().Format(time.RFC3339Nano)
	}
	out.SentencesTotal = s.sentences
	out.ParseErrorsTotal = s.parseErrors
	out.LastError = s.lastErr
	return out
}

// RMC: Recommended Minimum Specific GNSS Data
// Fields (NMEA 0183 v2.3):
//
//	0: talker+type
//	1: time (hhmmss.sss)
//	2: status (A=active, V=void)
//	3: latitude (ddmm.mmmm)
//	4: N/S
//	5: longitude (dddmm.mmmm)
//	6: E/W
//	7: speed over ground (knots)
//	8: course over ground (deg)
//	9: date (ddmmyy)
func (s *nmeaState) applyRMC(nowUTC time.Time, f []string) bool {
	if len(f) < 10 {
		return false
	}
	status := strings.TrimSpace(f[2])
	if status != "A" {
		// Do not update validity on void fixes.
		return false
	}

	lat, latOK := parseNMEALatLon(f[3], f[4])
	lon, lonOK := parseNMEALatLon(f[5], f[6])
	if latOK {
		s.latDeg = lat
		s.latOK = true
	}
	if lonOK {
		s.lonDeg = lon
		s.lonOK = true
	}

	if gs, ok := parseFloat(f[7]); ok {
		s.groundKt = gs
		s.gsOK = true
	}
	if trk, ok := parseFloat(f[8]); ok {
		s.trackDeg = math.Mod(trk+360.0, 360.0)
		s.trkOK = true
	}

	// If we have lat/lon, treat as a fix.
	if s.latOK && s.lonOK {
		s.lastFix = nowUTC
		s.valid = true
		return true
	}
	return false
}

// GGA: Global Positioning System Fix Data
// Fields:
//
//	0: talker+type
//	1: time
//	2: latitude
//	3: N/S
//	4: longitude
//	5: E/W
//	6: fix quality (0=invalid)
//	7: number of satellites used
//	8: HDOP
//	9: altitude MSL (meters)
//
// 10: units (M)
func (s *nmeaState) applyGGA(nowUTC time.Time, f []string) bool {
	if len(f) < 11 {
		return false
	}
	fixQStr := strings.TrimSpace(f[6])
	if fixQStr == "" || fixQStr == "0" {
		return false
	}
	if q, err := strconv.Atoi(fixQStr); err == nil {
		s.fixQuality = q
		s.fixQualityOK = true
	}
	if sats, err := strconv.Atoi(strings.TrimSpace(f[7])); err == nil {
		s.satsUsed = sats
		s.satsUsedOK = true
	}
	if hdop, ok := parseFloat(f[8]); ok {
		s.hdop = hdop
		s.hdopOK = true
	}

	updated := false
	lat, latOK := parseNMEALatLon(f[2], f[3])
	lon, lonOK := parseNMEALatLon(f[4], f[5])
	if latOK {
		s.latDeg = lat
		s.latOK = true
		updated = true
	}
	if lonOK {
		s.lonDeg = lon
		s.lonOK = true
		updated = true
	}

	if altM, ok := parseFloat(f[9]); ok {
		s.altMeters = altM
		s.altOK = true
		updated = true
	}

	if s.latOK && s.lonOK {
		s.lastFix = nowUTC
		s.valid = true
		return updated
	}
	return false
}

// GSA: GNSS DOP and Active Satellites
// Fields:
//
//	0: talker+type
//	1: selection mode (M/A)
//	2: fix mode (1=none, 2=2D, 3=3D)
//	3..14: PRNs of satellites used in the solution (blank when unused)
//	15: PDOP
//	16: HDOP
//	17: VDOP
//
// Multi-GNSS receivers emit one GSA per constellation within a cycle, usually
// with a GN talker; used PRNs are accumulated across them.
func (s *nmeaState) applyGSA(nowUTC time.Time, sent nmeaSentence) bool {
	f := sent.Fields
	if len(f) < 18 {
		return false
	}
	updated := false
	if mode, err := strconv.Atoi(strings.TrimSpace(f[2])); err == nil && mode >= 1 && mode <= 3 {
		// Keep the best mode reported across per-constellation GSA sentences.
		if !s.fixModeOK || mode > s.fixMode || nowUTC.Sub(s.sky.gsaSeen) > 2*time.Second {
			s.fixMode = mode
			s.fixModeOK = true
			updated = true
		}
	}

	prns := make([]int, 0, 12)
	for i := 3; i <= 14; i++ {
		if prn, err := strconv.Atoi(strings.TrimSpace(f[i])); err == nil && prn > 0 {
			prns = append(prns, prn)
		}
	}
	if s.sky.markUsed(nowUTC, prns) {
		updated = true
	}

	if pdop, ok := parseFloat(f[15]); ok {
		s.pdop = pdop
		s.pdopOK = true
		updated = true
	}
	if hdop, ok := parseFloat(f[16]); ok {
		s.hdop = hdop
		s.hdopOK = true
		updated = true
	}
	if vdop, ok := parseFloat(f[17]); ok {
		s.vdop = vdop
		s.vdopOK = true
		updated = true
	}
	return updated
}

// VTG: Course Over Ground and Ground Speed
// Fields:
//
//	0: talker+type
//	1: course (true)
//	2: T
//	5: speed (knots)
//	6: N
func (s *nmeaState) applyVTG(f []string) bool {
	if len(f) < 7 {
		return false
	}
	updated := false
	if trk, ok := parseFloat(f[1]); ok {
		s.trackDeg = math.Mod(trk+360.0, 360.0)
		s.trkOK = true
		updated = true
	}
	if gs, ok := parseFloat(f[5]); ok {
		s.groundKt = gs
		s.gsOK = true
		updated = true
	}
	return updated
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseNMEALatLon parses NMEA lat/lon in ddmm.mmmm or dddmm.mmmm plus hemisphere.
//
// For latitude (N/S): ddmm.mmmm
// For longitude (E/W): dddmm.mmmm
func parseNMEALatLon(v string, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.TrimSpace(strings.ToUpper(hemi))
	if v == "" || (hemi != "N" && hemi != "S" && hemi != "E" && hemi != "W") {
		return 0, false
	}

	// Split degrees/minutes by taking the last two digits of the integer part
	// as whole minutes.
	dot := strings.IndexByte(v, '.')
	intPart := v
	if dot != -1 {
		intPart = v[:dot]
	}
	if len(intPart) < 3 {
		return 0, false
	}

	degPart := intPart[:len(intPart)-2]
	minPart := v[len(intPart)-2:]

	deg, err := strconv.Atoi(degPart)
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(minPart, 64)
	if err != nil {
		return 0, false
	}

	dec := float64(deg) + (mins / 60.0)
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}
