package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "tymbal_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "server"},
		},
		[]string{"date", "sha", "version"},
	)

	runtimeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tymbal_runtime_sessions",
			Help: "Connected runtime sessions",
		},
	)

	agentsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tymbal_agents",
			Help: "Agents tracked per lifecycle status",
		},
		[]string{"status"},
	)

	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tymbal_frames_total",
			Help: "Frames folded into agent state",
		},
		[]string{"channel"},
	)

	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tymbal_frames_dropped_total",
			Help: "Frames dropped because the agent was not active",
		},
		[]string{"channel"},
	)

	parseErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tymbal_frame_parse_errors_total",
			Help: "Malformed frame lines skipped",
		},
	)

	backpressure = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tymbal_backpressure_total",
			Help: "Deliveries refused because a queue was full",
		},
	)

	keepaliveDisconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tymbal_keepalive_disconnects_total",
			Help: "Sessions dropped after missing consecutive pongs",
		},
	)

	eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tymbal_events_dropped_total",
			Help: "Backend events dropped because the consumer lagged",
		},
	)
)

// Register registers all server metrics on the given registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, runtimeSessions, agentsByStatus, framesTotal, framesDropped, parseErrors, backpressure, keepaliveDisconnects, eventsDropped)
}

// SetBuildInfo records the build identity labels.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// SessionOpened increments the connected session gauge.
func SessionOpened() { runtimeSessions.Inc() }

// SessionClosed decrements the connected session gauge.
func SessionClosed() { runtimeSessions.Dec() }

// SetAgents records the number of agents per status.
func SetAgents(status string, n int) { agentsByStatus.WithLabelValues(status).Set(float64(n)) }

// FrameFolded counts one frame applied for a channel.
func FrameFolded(channel string) { framesTotal.WithLabelValues(channel).Inc() }

// FrameDropped counts one frame dropped for a channel.
func FrameDropped(channel string) { framesDropped.WithLabelValues(channel).Inc() }

// ParseError counts one malformed frame line.
func ParseError() { parseErrors.Inc() }

// Backpressure counts one refused delivery.
func Backpressure() { backpressure.Inc() }

// KeepaliveDisconnect counts one keepalive-triggered session drop.
func KeepaliveDisconnect() { keepaliveDisconnects.Inc() }

// EventDropped counts one backend event dropped on a full consumer buffer.
func EventDropped() { eventsDropped.Inc() }
