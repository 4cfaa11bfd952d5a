package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gpsview/internal/config"
	"gpsview/internal/gps"
	"gpsview/internal/logging"
	"gpsview/internal/metrics"
	"gpsview/internal/pps"
	"gpsview/internal/publish"
	"gpsview/internal/tracklog"
	"gpsview/internal/web"
)

// pumpInterval is how often decoded state is pushed to WebSocket
// clients, the track log, and the metrics gauges.
const pumpInterval = 500 * time.Millisecond

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./gpsview.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logging.New(os.Stderr, config.LogConfig{}).Error("config load failed", "path", configPath, "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.Log)
	logger.Info("gpsview starting",
		"config", configPath,
		"source", cfg.GPS.Source,
		"listen", cfg.Web.Listen)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	status := web.NewStatus()
	sentences := web.NewSentenceBuffer(cfg.Web.NMEABuffer)
	stream := web.NewBroadcaster()

	gpsSvc := gps.New(gps.Config{
		Enable:      cfg.GPS.Enable,
		Source:      cfg.GPS.Source,
		Device:      cfg.GPS.Device,
		Baud:        cfg.GPS.Baud,
		GPSDAddr:    cfg.GPS.GPSDAddr,
		ReplayPath:  cfg.GPS.Replay.Path,
		ReplaySpeed: cfg.GPS.Replay.Speed,
		ReplayLoop:  cfg.GPS.Replay.Loop,
	}, logger)
	gpsSvc.SetLineFunc(func(line string, ok bool) {
		e := sentences.Append(time.Now().UTC(), line, ok)
		stream.PublishLine(e)
		if ok {
			metrics.SentencesTotal.WithLabelValues(sentenceLabel(cfg.GPS.Source, line)).Inc()
		} else {
			metrics.ParseErrorsTotal.Inc()
		}
	})
	if err := gpsSvc.Start(ctx); err != nil {
		// Keep running; the UI reports the error and the reader retries.
		logger.Error("gps init failed", "error", err)
	}
	defer gpsSvc.Close()
	status.SetGPS(gpsSvc.Snapshot)

	ppsSvc := pps.New(pps.Config{
		Enable: cfg.PPS.Enable,
		Chip:   cfg.PPS.Chip,
		Line:   cfg.PPS.Line,
	}, logger)
	if err := ppsSvc.Start(ctx); err != nil {
		logger.Error("pps init failed", "error", err)
	}
	defer ppsSvc.Close()
	status.SetPPS(ppsSvc.Snapshot)

	var recorder *tracklog.Recorder
	if cfg.TrackLog.Enable {
		db, err := tracklog.Open(cfg.TrackLog.Path)
		if err != nil {
			logger.Error("tracklog open failed", "path", cfg.TrackLog.Path, "error", err)
		} else {
			defer func() { _ = db.Close() }()
			recorder, err = tracklog.NewRecorder(db, cfg.TrackLog.MinInterval)
			if err != nil {
				logger.Error("tracklog init failed", "error", err)
				recorder = nil
			} else {
				logger.Info("tracklog enabled", "path", cfg.TrackLog.Path, "min_interval", cfg.TrackLog.MinInterval)
			}
		}
	}
	status.SetTrack(func() web.TrackStatus {
		return web.TrackStatus{
			Enabled:      recorder != nil,
			Path:         cfg.TrackLog.Path,
			FixesWritten: recorder.Written(),
		}
	})

	publisher := publish.New(publish.Config{
		Enable:   cfg.MQTT.Enable,
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Topic:    cfg.MQTT.Topic,
		Interval: cfg.MQTT.Interval,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
	}, logger, gpsSvc.Snapshot)
	if err := publisher.Start(ctx); err != nil {
		logger.Error("mqtt init failed", "error", err)
	}
	defer publisher.Close()
	status.SetMQTT(func() web.MQTTStatus {
		return web.MQTTStatus{
			Enabled:   cfg.MQTT.Enable,
			Broker:    cfg.MQTT.Broker,
			Topic:     cfg.MQTT.Topic,
			Published: publisher.Published(),
			LastError: publisher.LastError(),
		}
	})

	go pump(ctx, gpsSvc, ppsSvc, stream, recorder, publisher, logger)

	err = web.Serve(ctx, cfg.Web.Listen, web.Deps{
		Status:    status,
		Sentences: sentences,
		Stream:    stream,
		Track:     recorder,
		Logger:    logger,
	})
	if err != nil && ctx.Err() == nil {
		logger.Error("web server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("gpsview stopping")
}

// pump pushes decoded state downstream on a fixed cadence. Counter
// metrics that other components own are advanced by delta so the pump
// stays the single place that touches Prometheus.
func pump(ctx context.Context, gpsSvc *gps.Service, ppsSvc *pps.Service, stream *web.Broadcaster, recorder *tracklog.Recorder, publisher *publish.Publisher, logger *slog.Logger) {
	ticker := time.NewTicker(pumpInterval)
	defer ticker.Stop()

	var lastTrack, lastPublished, lastPulses uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			snap := gpsSvc.Snapshot()

			stream.PublishSnapshot(snap)
			metrics.ObserveSnapshot(snap)

			if recorder != nil {
				if _, err := recorder.Record(now, snap); err != nil {
					logger.Warn("tracklog write failed", "error", err)
				}
				if w := recorder.Written(); w > lastTrack {
					metrics.TrackFixesTotal.Add(float64(w - lastTrack))
					lastTrack = w
				}
			}
			if p := publisher.Published(); p > lastPublished {
				metrics.MQTTPublishesTotal.Add(float64(p - lastPublished))
				lastPublished = p
			}
			if c := ppsSvc.Snapshot().PulseCount; c > lastPulses {
				metrics.PPSPulsesTotal.Add(float64(c - lastPulses))
				lastPulses = c
			}
		}
	}
}

// sentenceLabel picks the type label for the per-sentence counter. gpsd
// delivers JSON reports rather than NMEA, so those lines share one fixed
// label instead of an empty type.
func sentenceLabel(source, line string) string {
	if strings.EqualFold(strings.TrimSpace(source), "gpsd") {
		return "gpsd"
	}
	if t := gps.SentenceType(line); t != "" {
		return t
	}
	return "other"
}
