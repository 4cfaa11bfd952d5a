package gps

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Satellite is one entry of the sky view.
//
// Elevation/azimuth/SNR are pointers because GSV legitimately omits them for
// satellites that are known but not tracked.
type Satellite struct {
	PRN     int    `json:"prn"`
	Talker  string `json:"talker,omitempty"`
	ElevDeg *int   `json:"elev_deg,omitempty"`
	AzimDeg *int   `json:"azim_deg,omitempty"`
	SNRDb   *int   `json:"snr_db,omitempty"`
	Used    bool   `json:"used"`
}

const (
	// A talker's satellite list is dropped when its GSV cycle stops arriving.
	skyStaleWindow = 30 * time.Second
	// A PRN stays marked used for this long after its last GSA mention.
	usedStaleWindow = 5 * time.Second
)

// constellation assembles multi-part GSV cycles per talker and tracks which
// PRNs the receiver reports as used in the solution (GSA).
//
// GSV cycles are committed atomically: the visible list for a talker only
// swaps once the final message of a cycle has arrived, so a half-received
// cycle never shrinks the sky view.
type constellation struct {
	committed map[string][]Satellite
	commitAt  map[string]time.Time
	pending   map[string]*gsvCycle
	used      map[int]time.Time
	gsaSeen   time.Time
}

type gsvCycle struct {
	totalMsgs int
	nextMsg   int
	sats      []Satellite
}

// GSV: GNSS Satellites in View
// Fields:
//
//	0: talker+type
//	1: total number of messages in this cycle
//	2: message number (1-based)
//	3: total satellites in view
//	4..: groups of (PRN, elevation deg, azimuth deg, SNR dB-Hz)
func (c *constellation) applyGSV(nowUTC time.Time, sent nmeaSentence) bool {
	f := sent.Fields
	if len(f) < 4 {
		return false
	}
	total, err := strconv.Atoi(strings.TrimSpace(f[1]))
	if err != nil || total < 1 {
		return false
	}
	msg, err := strconv.Atoi(strings.TrimSpace(f[2]))
	if err != nil || msg < 1 || msg > total {
		return false
	}

	talker := sent.Talker
	if talker == "" {
		talker = "GP"
	}

	if c.pending == nil {
		c.pending = make(map[string]*gsvCycle)
	}
	cyc := c.pending[talker]
	if msg == 1 || cyc == nil || cyc.totalMsgs != total || cyc.nextMsg != msg {
		if msg != 1 {
			// Mid-cycle join or a gap; wait for the next cycle start.
			delete(c.pending, talker)
			return false
		}
		cyc = &gsvCycle{totalMsgs: total, nextMsg: 1}
		c.pending[talker] = cyc
	}

	for i := 4; i < len(f); i += 4 {
		prn, err := strconv.Atoi(strings.TrimSpace(f[i]))
		if err != nil || prn <= 0 {
			continue
		}
		sat := Satellite{PRN: prn, Talker: talker}
		if i+1 < len(f) {
			if v, err := strconv.Atoi(strings.TrimSpace(f[i+1])); err == nil {
				sat.ElevDeg = &v
			}
		}
		if i+2 < len(f) {
			if v, err := strconv.Atoi(strings.TrimSpace(f[i+2])); err == nil {
				sat.AzimDeg = &v
			}
		}
		if i+3 < len(f) {
			if v, err := strconv.Atoi(strings.TrimSpace(f[i+3])); err == nil {
				sat.SNRDb = &v
			}
		}
		cyc.sats = append(cyc.sats, sat)
	}
	cyc.nextMsg = msg + 1

	if msg != total {
		return false
	}

	// Cycle complete: swap in the new list for this talker.
	if c.committed == nil {
		c.committed = make(map[string][]Satellite)
		c.commitAt = make(map[string]time.Time)
	}
	c.committed[talker] = cyc.sats
	c.commitAt[talker] = nowUTC
	delete(c.pending, talker)
	return true
}

func (c *constellation) markUsed(nowUTC time.Time, prns []int) bool {
	c.gsaSeen = nowUTC
	if len(prns) == 0 {
		return false
	}
	if c.used == nil {
		c.used = make(map[int]time.Time)
	}
	for _, prn := range prns {
		c.used[prn] = nowUTC
	}
	return true
}

// satellites returns the current sky view, pruning talkers whose GSV cycles
// have gone quiet. The result is sorted by talker, then PRN.
func (c *constellation) satellites(nowUTC time.Time) []Satellite {
	if len(c.committed) == 0 {
		return nil
	}

	talkers := make([]string, 0, len(c.committed))
	for talker, at := range c.commitAt {
		if nowUTC.Sub(at) > skyStaleWindow {
			delete(c.committed, talker)
			delete(c.commitAt, talker)
			continue
		}
		talkers = append(talkers, talker)
	}
	sort.Strings(talkers)

	var out []Satellite
	for _, talker := range talkers {
		sats := append([]Satellite(nil), c.committed[talker]...)
		sort.Slice(sats, func(i, j int) bool { return sats[i].PRN < sats[j].PRN })
		for i := range sats {
			if at, ok := c.used[sats[i].PRN]; ok && nowUTC.Sub(at) <= usedStaleWindow {
				sats[i].Used = true
			}
		}
		out = append(out, sats...)
	}
	return out
}
