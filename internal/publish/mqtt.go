// Package publish pushes position fixes to an MQTT broker so other
// systems (dashboards, loggers) can consume them without polling the
// HTTP API.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"gpsview/internal/gps"
)

type Config struct {
	Enable   bool
	Broker   string
	ClientID string
	Topic    string
	Interval time.Duration
	Username string
	Password string
}

// fixPayload is the JSON message published per interval. Optional fields
// are omitted when the receiver has not reported them yet.
type fixPayload struct {
	TimeUTC    string   `json:"time_utc"`
	LatDeg     float64  `json:"lat_deg"`
	LonDeg     float64  `json:"lon_deg"`
	AltMeters  *float64 `json:"alt_m,omitempty"`
	SpeedKt    *float64 `json:"speed_kt,omitempty"`
	TrackDeg   *float64 `json:"track_deg,omitempty"`
	FixQuality *int     `json:"fix_quality,omitempty"`
	SatsUsed   *int     `json:"sats_used,omitempty"`
	HDOP       *float64 `json:"hdop,omitempty"`
}

// mqttClient is the slice of paho's client surface the publisher uses.
// Tests substitute a fake.
type mqttClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// Publisher periodically publishes the current fix to a broker. Invalid
// or stale fixes are skipped so consumers only ever see real positions.
type Publisher struct {
	cfg      Config
	logger   *slog.Logger
	client   mqttClient
	snapshot func() gps.Snapshot

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	published uint64
	lastErr   string
}

// New builds a publisher around cfg. snapshot supplies the fix to send
// each interval; it must be safe for concurrent use.
func New(cfg Config, logger *slog.Logger, snapshot func() gps.Snapshot) *Publisher {
	p := &Publisher{
		cfg:      cfg,
		logger:   logger,
		snapshot: snapshot,
	}
	if !cfg.Enable {
		return p
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("mqtt connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	p.client = mqtt.NewClient(opts)
	return p
}

// Start connects to the broker and begins the publish loop. The connect
// is fire-and-forget: paho retries in the background, and publishes are
// skipped until the session is up.
func (p *Publisher) Start(ctx context.Context) error {
	if p == nil || !p.cfg.Enable {
		return nil
	}

	p.client.Connect()

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.loop(ctx)

	p.logger.Info("mqtt publisher started",
		"broker", p.cfg.Broker,
		"topic", p.cfg.Topic,
		"interval", p.cfg.Interval)
	return nil
}

func (p *Publisher) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishOnce()
		}
	}
}

func (p *Publisher) publishOnce() {
	if !p.client.IsConnected() {
		return
	}

	snap := p.snapshot()
	if !snap.Valid || snap.FixStale {
		return
	}

	payload := fixPayload{
		TimeUTC:    snap.LastFixUTC,
		LatDeg:     snap.LatDeg,
		LonDeg:     snap.LonDeg,
		AltMeters:  snap.AltMeters,
		SpeedKt:    snap.GroundKt,
		TrackDeg:   snap.TrackDeg,
		FixQuality: snap.FixQuality,
		SatsUsed:   snap.SatsUsed,
		HDOP:       snap.HDOP,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		p.setError(fmt.Sprintf("marshal fix: %v", err))
		return
	}

	token := p.client.Publish(p.cfg.Topic, 0, false, body)
	if !token.WaitTimeout(2 * time.Second) {
		p.setError("publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		p.setError(fmt.Sprintf("publish: %v", err))
		p.logger.Warn("mqtt publish failed", "topic", p.cfg.Topic, "error", err)
		return
	}

	p.mu.Lock()
	p.published++
	p.lastErr = ""
	p.mu.Unlock()
}

func (p *Publisher) setError(msg string) {
	p.mu.Lock()
	p.lastErr = msg
	p.mu.Unlock()
}

// Published reports how many fixes have been successfully published.
func (p *Publisher) Published() uint64 {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published
}

// LastError returns the most recent publish failure, or "" when the last
// publish succeeded.
func (p *Publisher) LastError() string {
	if p == nil {
		return ""
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Close stops the publish loop and disconnects from the broker.
func (p *Publisher) Close() {
	if p == nil || !p.cfg.Enable {
		return
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.client.Disconnect(250)
	p.logger.Info("mqtt publisher stopped")
}
