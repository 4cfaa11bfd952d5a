package web

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"gpsview/internal/gps"
)

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) StreamEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, body, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var ev StreamEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		t.Fatalf("decode event %q: %v", string(body), err)
	}
	return ev
}

func TestWebSocketStream(t *testing.T) {
	deps := testDeps(t)
	ts := httptest.NewServer(Handler(deps))
	defer ts.Close()

	// Publish before connecting so the snapshot is replayed on attach.
	deps.Stream.PublishSnapshot(gps.Snapshot{Valid: true, LatDeg: 48.1173, LonDeg: 11.5167})

	conn := dialWS(t, ts)

	ev := readEvent(t, conn)
	if ev.Type != "snapshot" || ev.Snapshot == nil {
		t.Fatalf("first event: %+v", ev)
	}
	if ev.Snapshot.LatDeg != 48.1173 {
		t.Fatalf("snapshot: %+v", ev.Snapshot)
	}

	deps.Stream.PublishLine(SentenceEntry{Seq: 7, Line: "$GPGGA,test", OK: true})
	ev = readEvent(t, conn)
	if ev.Type != "nmea" || ev.Line == nil {
		t.Fatalf("line event: %+v", ev)
	}
	if ev.Line.Line != "$GPGGA,test" || ev.Line.Seq != 7 {
		t.Fatalf("line: %+v", ev.Line)
	}
}

func TestWebSocketClientCount(t *testing.T) {
	deps := testDeps(t)
	ts := httptest.NewServer(Handler(deps))
	defer ts.Close()

	conn := dialWS(t, ts)

	// The connect bookkeeping runs in the handler goroutine; allow it a
	// moment to register.
	deadline := time.Now().Add(2 * time.Second)
	for deps.Status.Snapshot(time.Time{}).WSClients != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("ws_clients=%d want 1", deps.Status.Snapshot(time.Time{}).WSClients)
		}
		time.Sleep(10 * time.Millisecond)
	}

	_ = conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for deps.Status.Snapshot(time.Time{}).WSClients != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("ws_clients=%d want 0", deps.Status.Snapshot(time.Time{}).WSClients)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
