package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gpsview/internal/tracklog"
)

// trackWindow parses the from/to query parameters. Defaults to the last
// 24 hours when omitted.
func trackWindow(r *http.Request) (from, to time.Time, err error) {
	now := time.Now().UTC()
	from = now.Add(-24 * time.Hour)
	to = now

	if s := strings.TrimSpace(r.URL.Query().Get("from")); s != "" {
		from, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return from, to, fmt.Errorf("from must be RFC3339: %w", err)
		}
	}
	if s := strings.TrimSpace(r.URL.Query().Get("to")); s != "" {
		to, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return from, to, fmt.Errorf("to must be RFC3339: %w", err)
		}
	}
	if to.Before(from) {
		return from, to, fmt.Errorf("to is before from")
	}
	return from, to, nil
}

type TrackResponse struct {
	NowUTC string         `json:"now_utc"`
	Count  int            `json:"count"`
	Fixes  []tracklog.Fix `json:"fixes"`
}

func trackHandler(rec *tracklog.Recorder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if rec == nil {
			http.Error(w, "track log disabled", http.StatusNotFound)
			return
		}

		from, to, err := trackWindow(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, offset := 0, 0
		if s := strings.TrimSpace(r.URL.Query().Get("limit")); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 1 || v > 100000 {
				http.Error(w, "limit must be an integer in [1,100000]", http.StatusBadRequest)
				return
			}
			limit = v
		}
		if s := strings.TrimSpace(r.URL.Query().Get("offset")); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 0 {
				http.Error(w, "offset must be a non-negative integer", http.StatusBadRequest)
				return
			}
			offset = v
		}

		fixes, err := rec.Fixes(from, to, limit, offset)
		if err != nil {
			http.Error(w, "track query failed", http.StatusInternalServerError)
			return
		}
		count, err := rec.Count(from, to)
		if err != nil {
			http.Error(w, "track query failed", http.StatusInternalServerError)
			return
		}

		resp := TrackResponse{
			NowUTC: time.Now().UTC().Format(time.RFC3339Nano),
			Count:  count,
			Fixes:  fixes,
		}
		if resp.Fixes == nil {
			resp.Fixes = []tracklog.Fix{}
		}
		b, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			http.Error(w, "marshal failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(b)
		_, _ = w.Write([]byte("\n"))
	})
}

func trackExportHandler(rec *tracklog.Recorder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if rec == nil {
			http.Error(w, "track log disabled", http.StatusNotFound)
			return
		}

		from, to, err := trackWindow(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		fixes, err := rec.Fixes(from, to, 100000, 0)
		if err != nil {
			http.Error(w, "track query failed", http.StatusInternalServerError)
			return
		}

		buf, err := tracklog.ExportZip(fixes)
		if err != nil {
			http.Error(w, "export failed", http.StatusInternalServerError)
			return
		}

		name := fmt.Sprintf("gpsview-track-%s.zip", time.Now().UTC().Format("20060102-150405"))
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", "attachment; filename=\""+name+"\"")
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		_, _ = w.Write(buf.Bytes())
	})
}
