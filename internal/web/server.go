package web

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gpsview/internal/gps"
	"gpsview/internal/tracklog"
)

//go:embed assets/*
var embeddedAssets embed.FS

// Deps collects everything the HTTP surface serves. Track may be nil
// when the track log is disabled.
type Deps struct {
	Status    *Status
	Sentences *SentenceBuffer
	Stream    *Broadcaster
	Track     *tracklog.Recorder
	Logger    *slog.Logger
}

func Handler(deps Deps) http.Handler {
	if deps.Status == nil {
		deps.Status = NewStatus()
	}
	if deps.Sentences == nil {
		deps.Sentences = NewSentenceBuffer(0)
	}
	if deps.Stream == nil {
		deps.Stream = NewBroadcaster()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	mux := http.NewServeMux()

	assetsFS, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		// Should never happen; keep server functional with API only.
		assetsFS = nil
	}

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snap := deps.Status.Snapshot(time.Now().UTC())
		b, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			http.Error(w, "marshal failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(b)
		_, _ = w.Write([]byte("\n"))
	})

	mux.HandleFunc("/api/satellites", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snap := deps.Status.GPS()
		resp := struct {
			NowUTC     string          `json:"now_utc"`
			FixMode    *int            `json:"fix_mode,omitempty"`
			SatsUsed   *int            `json:"sats_used,omitempty"`
			Satellites []gps.Satellite `json:"satellites"`
		}{
			NowUTC:     time.Now().UTC().Format(time.RFC3339Nano),
			FixMode:    snap.FixMode,
			SatsUsed:   snap.SatsUsed,
			Satellites: snap.Satellites,
		}
		if resp.Satellites == nil {
			resp.Satellites = []gps.Satellite{}
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

	// Serial port enumeration (used by the UI to hint at device paths).
	mux.HandleFunc("/api/ports", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		resp := struct {
			NowUTC string         `json:"now_utc"`
			Ports  []gps.PortInfo `json:"ports"`
		}{
			NowUTC: time.Now().UTC().Format(time.RFC3339Nano),
			Ports:  gps.EnumeratePorts(),
		}
		if resp.Ports == nil {
			resp.Ports = []gps.PortInfo{}
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

	mux.Handle("/api/nmea", deps.Sentences.Handler())
	mux.Handle("/api/track", trackHandler(deps.Track))
	mux.Handle("/api/track/export", trackExportHandler(deps.Track))
	mux.Handle("/api/about", AboutHandler())
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/ws", wsHandler(deps.Stream, deps.Status, deps.Logger))

	if assetsFS != nil {
		fileServer := http.FileServer(http.FS(assetsFS))
		mux.Handle("/assets/", http.StripPrefix("/assets/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Prevent stale UI assets during development.
			w.Header().Set("Cache-Control", "no-store")
			fileServer.ServeHTTP(w, r)
		})))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		// SPA shell: serve the UI for / and any unknown paths (except /api/* and /assets/*).
		if r.URL.Path != "/" {
			if path.Dir(r.URL.Path) == "/api" || path.Dir(r.URL.Path) == "/assets" {
				http.NotFound(w, r)
				return
			}
		}

		if assetsFS == nil {
			// Fallback minimal page if embedding failed.
			snap := deps.Status.GPS()
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>gpsview</title></head><body>")
			_, _ = fmt.Fprintf(w, "<h1>gpsview</h1>")
			_, _ = fmt.Fprintf(w, "<p>Web UI is unavailable. Use <a href=\"/api/status\">/api/status</a>.</p>")
			_, _ = fmt.Fprintf(w, "<pre>valid=%v\nlat=%.6f\nlon=%.6f\nsentences=%d</pre>",
				snap.Valid, snap.LatDeg, snap.LonDeg, snap.SentencesTotal,
			)
			_, _ = fmt.Fprintf(w, "</body></html>")
			return
		}

		b, err := fs.ReadFile(assetsFS, "index.html")
		if err != nil {
			http.Error(w, "ui unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(b)
	})

	return mux
}

func Serve(ctx context.Context, listenAddr string, deps Deps) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(deps),
		ReadHeaderTimeout: 5 * time.Second,
		// No WriteTimeout: /ws connections are long-lived.
		IdleTimeout:    30 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
