package metrics

import (
	"github.com/mengelbart/camrelay/internal/mounts"
	"github.com/prometheus/client_golang/prometheus"
)

// SessionLister is implemented by mounts.Registry.
type SessionLister interface {
	Sessions() []mounts.SessionInfo
}

// Collector exports the statistics of all active sessions on every scrape.
type Collector struct {
	sessions SessionLister

	active           *prometheus.Desc
	clients          *prometheus.Desc
	framesCaptured   *prometheus.Desc
	captureMisses    *prometheus.Desc
	relayOverflows   *prometheus.Desc
	relayDepth       *prometheus.Desc
	framesDelivered  *prometheus.Desc
	deliveryTimeouts *prometheus.Desc
}

func NewCollector(sessions SessionLister) *Collector {
	labels := []string{"mount", "session"}
	return &Collector{
		sessions: sessions,
		active: prometheus.NewDesc(
			"camrelay_sessions_active",
			"Number of running sessions",
			nil, nil,
		),
		clients: prometheus.NewDesc(
			"camrelay_session_clients",
			"Number of clients attached to a session",
			labels, nil,
		),
		framesCaptured: prometheus.NewDesc(
			"camrelay_frames_captured_total",
			"Frames acquired from the device",
			labels, nil,
		),
		captureMisses: prometheus.NewDesc(
			"camrelay_capture_misses_total",
			"Acquisition attempts that returned no frame",
			labels, nil,
		),
		relayOverflows: prometheus.NewDesc(
			"camrelay_relay_overflows_total",
			"Frames discarded because the relay was full",
			labels, nil,
		),
		relayDepth: prometheus.NewDesc(
			"camrelay_relay_depth",
			"Frames currently buffered in the relay",
			labels, nil,
		),
		framesDelivered: prometheus.NewDesc(
			"camrelay_frames_delivered_total",
			"Frames handed to the transport",
			labels, nil,
		),
		deliveryTimeouts: prometheus.NewDesc(
			"camrelay_delivery_timeouts_total",
			"Demand signals that timed out without a frame",
			labels, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.active
	ch <- c.clients
	ch <- c.framesCaptured
	ch <- c.captureMisses
	ch <- c.relayOverflows
	ch <- c.relayDepth
	ch <- c.framesDelivered
	ch <- c.deliveryTimeouts
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	sessions := c.sessions.Sessions()
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(len(sessions)))
	for _, s := range sessions {
		labels := []string{s.Mount, s.ID}
		ch <- prometheus.MustNewConstMetric(c.clients, prometheus.GaugeValue, float64(s.Clients), labels...)
		ch <- prometheus.MustNewConstMetric(c.framesCaptured, prometheus.CounterValue, float64(s.FramesCaptured), labels...)
		ch <- prometheus.MustNewConstMetric(c.captureMisses, prometheus.CounterValue, float64(s.CaptureMisses), labels...)
		ch <- prometheus.MustNewConstMetric(c.relayOverflows, prometheus.CounterValue, float64(s.RelayOverflows), labels...)
		ch <- prometheus.MustNewConstMetric(c.relayDepth, prometheus.GaugeValue, float64(s.RelayDepth), labels...)
		ch <- prometheus.MustNewConstMetric(c.framesDelivered, prometheus.CounterValue, float64(s.FramesDelivered), labels...)
		ch <- prometheus.MustNewConstMetric(c.deliveryTimeouts, prometheus.CounterValue, float64(s.DeliveryTimeouts), labels...)
	}
}
