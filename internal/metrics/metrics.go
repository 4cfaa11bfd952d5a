// Package metrics exposes Prometheus instrumentation for the receiver
// pipeline, served on /metrics by the web server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"gpsview/internal/gps"
)

var (
	SentencesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpsview",
		Subsystem: "nmea",
		Name:      "sentences_total",
		Help:      "Total NMEA sentences accepted from the receiver",
	}, []string{"type"})

	ParseErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gpsview",
		Subsystem: "nmea",
		Name:      "parse_errors_total",
		Help:      "Total lines rejected by the NMEA parser",
	})

	FixValid = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gpsview",
		Subsystem: "gps",
		Name:      "fix_valid",
		Help:      "1 when the receiver currently reports a valid, fresh fix",
	})

	SatellitesVisible = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gpsview",
		Subsystem: "gps",
		Name:      "satellites_visible",
		Help:      "Satellites currently in view per GSV",
	})

	SatellitesUsed = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gpsview",
		Subsystem: "gps",
		Name:      "satellites_used",
		Help:      "Satellites used in the position solution per GSA",
	})

	HDOP = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gpsview",
		Subsystem: "gps",
		Name:      "hdop",
		Help:      "Horizontal dilution of precision",
	})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gpsview",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket clients",
	})

	TrackFixesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gpsview",
		Subsystem: "tracklog",
		Name:      "fixes_total",
		Help:      "Total fixes written to the track log",
	})

	MQTTPublishesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gpsview",
		Subsystem: "mqtt",
		Name:      "publishes_total",
		Help:      "Total fixes published to the MQTT broker",
	})

	PPSPulsesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gpsview",
		Subsystem: "pps",
		Name:      "pulses_total",
		Help:      "Total PPS pulses observed on the GPIO line",
	})
)

// ObserveSnapshot refreshes the fix gauges from the latest receiver
// snapshot. Called from the snapshot pump, so roughly twice a second.
func ObserveSnapshot(snap gps.Snapshot) {
	if snap.Valid && !snap.FixStale {
		FixValid.Set(1)
	} else {
		FixValid.Set(0)
	}

	SatellitesVisible.Set(float64(len(snap.Satellites)))

	used := 0
	if snap.SatsUsed != nil {
		used = *snap.SatsUsed
	}
	SatellitesUsed.Set(float64(used))

	if snap.HDOP != nil {
		HDOP.Set(*snap.HDOP)
	}
}
