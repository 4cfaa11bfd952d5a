package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"gpsview/internal/metrics"
)

const (
	wsWriteTimeout  = 5 * time.Second
	wsPingInterval  = 30 * time.Second
	wsEventBacklog  = 64
	wsMaxReadLength = 512
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The UI is served from the same origin; same-host tools like
	// websocat are fine too.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsHandler upgrades the connection and relays broadcaster events until
// the client goes away. Clients that cannot keep up with the NMEA rate
// drop events (the broadcaster's channel is bounded) rather than
// backing up the reader.
func wsHandler(stream *Broadcaster, status *Status, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("ws upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		defer func() { _ = conn.Close() }()

		status.wsConnected()
		metrics.ActiveWebSockets.Inc()
		defer func() {
			status.wsDisconnected()
			metrics.ActiveWebSockets.Dec()
		}()
		logger.Info("ws client connected", "remote", r.RemoteAddr)

		id, events := stream.Subscribe(wsEventBacklog)
		defer stream.Unsubscribe(id)

		// Reader: we never expect client messages, but reading is how
		// close frames and dead peers are detected.
		readerDone := make(chan struct{})
		go func() {
			defer close(readerDone)
			conn.SetReadLimit(wsMaxReadLength)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		pings := time.NewTicker(wsPingInterval)
		defer pings.Stop()

		for {
			select {
			case <-readerDone:
				logger.Info("ws client disconnected", "remote", r.RemoteAddr)
				return
			case <-pings.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case ev, ok := <-events:
				if !ok {
					return
				}
				body, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
					logger.Info("ws client write failed", "remote", r.RemoteAddr, "error", err)
					return
				}
			}
		}
	})
}
