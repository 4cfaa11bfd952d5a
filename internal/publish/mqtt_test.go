package publish

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"gpsview/internal/gps"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type fakeClient struct {
	mu         sync.Mutex
	connected  bool
	publishErr error
	topics     []string
	payloads   [][]byte
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return &fakeToken{}
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload.([]byte))
	return &fakeToken{err: c.publishErr}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPublisher(client *fakeClient, snap func() gps.Snapshot) *Publisher {
	return &Publisher{
		cfg:      Config{Enable: true, Broker: "tcp://localhost:1883", Topic: "gpsview/fix", Interval: time.Second},
		logger:   testLogger(),
		client:   client,
		snapshot: snap,
	}
}

func TestPublishOnce_ValidFix(t *testing.T) {
	alt := 545.4
	sats := 8
	client := &fakeClient{connected: true}
	p := testPublisher(client, func() gps.Snapshot {
		return gps.Snapshot{
			Valid:      true,
			LatDeg:     48.1173,
			LonDeg:     11.5167,
			AltMeters:  &alt,
			SatsUsed:   &sats,
			LastFixUTC: "2020-01-01T12:00:00Z",
		}
	})

	p.publishOnce()

	if p.Published() != 1 {
		t.Fatalf("published=%d want 1", p.Published())
	}
	if len(client.topics) != 1 || client.topics[0] != "gpsview/fix" {
		t.Fatalf("topics: %v", client.topics)
	}

	var got fixPayload
	if err := json.Unmarshal(client.payloads[0], &got); err != nil {
		t.Fatalf("payload json: %v", err)
	}
	if got.LatDeg != 48.1173 || got.LonDeg != 11.5167 {
		t.Fatalf("payload: %+v", got)
	}
	if got.AltMeters == nil || *got.AltMeters != 545.4 {
		t.Fatalf("payload alt: %+v", got.AltMeters)
	}
	if got.TimeUTC != "2020-01-01T12:00:00Z" {
		t.Fatalf("payload time: %q", got.TimeUTC)
	}
}

func TestPublishOnce_SkipsInvalidAndStale(t *testing.T) {
	client := &fakeClient{connected: true}
	snap := gps.Snapshot{Valid: false}
	p := testPublisher(client, func() gps.Snapshot { return snap })

	p.publishOnce()
	snap = gps.Snapshot{Valid: true, FixStale: true, LatDeg: 48, LonDeg: 11}
	p.publishOnce()

	if len(client.payloads) != 0 {
		t.Fatalf("expected no publishes, got %d", len(client.payloads))
	}
	if p.Published() != 0 {
		t.Fatalf("published=%d want 0", p.Published())
	}
}

func TestPublishOnce_SkipsWhenDisconnected(t *testing.T) {
	client := &fakeClient{connected: false}
	p := testPublisher(client, func() gps.Snapshot {
		return gps.Snapshot{Valid: true, LatDeg: 48, LonDeg: 11}
	})

	p.publishOnce()

	if len(client.payloads) != 0 {
		t.Fatalf("expected no publishes while disconnected")
	}
}

func TestPublishOnce_ErrorRecorded(t *testing.T) {
	client := &fakeClient{connected: true, publishErr: errors.New("broker gone")}
	p := testPublisher(client, func() gps.Snapshot {
		return gps.Snapshot{Valid: true, LatDeg: 48, LonDeg: 11}
	})

	p.publishOnce()

	if p.Published() != 0 {
		t.Fatalf("published=%d want 0", p.Published())
	}
	if p.LastError() == "" {
		t.Fatalf("expected last error set")
	}

	// Next success clears the error.
	client.publishErr = nil
	p.publishOnce()
	if p.Published() != 1 || p.LastError() != "" {
		t.Fatalf("published=%d lastErr=%q", p.Published(), p.LastError())
	}
}

func TestPublisher_DisabledNoops(t *testing.T) {
	p := New(Config{Enable: false}, testLogger(), nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	p.Close()
	if p.Published() != 0 {
		t.Fatalf("published=%d want 0", p.Published())
	}
}
