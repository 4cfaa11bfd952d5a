package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SentenceEntry is one raw line as read from the receiver. OK is false
// for lines the parser rejected (bad checksum, truncated, binary noise);
// those still show up in the stream so wiring problems are visible.
type SentenceEntry struct {
	Seq     uint64 `json:"seq"`
	TimeUTC string `json:"time_utc"`
	Line    string `json:"line"`
	OK      bool   `json:"ok"`
}

// SentenceBuffer keeps the most recent raw NMEA lines for /api/nmea.
type SentenceBuffer struct {
	mu      sync.Mutex
	max     int
	seq     uint64
	entries []SentenceEntry
	dropped uint64
}

func NewSentenceBuffer(maxLines int) *SentenceBuffer {
	if maxLines <= 0 {
		maxLines = 2000
	}
	return &SentenceBuffer{max: maxLines}
}

// Append records one line. Safe for concurrent use.
func (b *SentenceBuffer) Append(nowUTC time.Time, line string, ok bool) SentenceEntry {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	line = strings.TrimRight(line, "\r\n")

	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	e := SentenceEntry{
		Seq:     b.seq,
		TimeUTC: nowUTC.UTC().Format(time.RFC3339Nano),
		Line:    line,
		OK:      ok,
	}
	b.entries = append(b.entries, e)
	if len(b.entries) > b.max {
		over := len(b.entries) - b.max
		b.entries = b.entries[over:]
		b.dropped += uint64(over)
	}
	return e
}

// Tail returns up to n most recent entries, oldest first.
func (b *SentenceBuffer) Tail(n int) (entries []SentenceEntry, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped = b.dropped
	if n <= 0 {
		n = 200
	}
	if n > len(b.entries) {
		n = len(b.entries)
	}
	start := len(b.entries) - n
	entries = append([]SentenceEntry(nil), b.entries[start:]...)
	return entries, dropped
}

type SentencesResponse struct {
	NowUTC  string          `json:"now_utc"`
	Dropped uint64          `json:"dropped"`
	Lines   []SentenceEntry `json:"lines"`
}

func (b *SentenceBuffer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		tail := 200
		if s := strings.TrimSpace(r.URL.Query().Get("tail")); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 1 || v > 5000 {
				http.Error(w, "tail must be an integer in [1,5000]", http.StatusBadRequest)
				return
			}
			tail = v
		}

		entries, dropped := b.Tail(tail)

		if strings.EqualFold(r.URL.Query().Get("format"), "text") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			if dropped > 0 {
				_, _ = fmt.Fprintf(w, "[dropped=%d]\n", dropped)
			}
			for _, e := range entries {
				_, _ = w.Write([]byte(e.Line))
				_, _ = w.Write([]byte("\n"))
			}
			return
		}

		resp := SentencesResponse{
			NowUTC:  time.Now().UTC().Format(time.RFC3339Nano),
			Dropped: dropped,
			Lines:   entries,
		}
		bts, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			http.Error(w, "marshal failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(bts)
		_, _ = w.Write([]byte("\n"))
	})
}
