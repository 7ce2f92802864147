package session

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsSet is the full collection of this package's Prometheus
// collectors, matching SPEC_FULL.md §6's metrics interface exactly:
// rtsp_sessions_active, rtsp_requests_total{method},
// rtsp_requests_malformed_total, rtsp_rtp_packets_sent_total,
// rtsp_rtcp_packets_sent_total, rtsp_media_bytes_sent_total{channel}, plus
// rtsp_media_send_failures_total{channel} for the MediaSendFailure error
// kind (spec.md §7.4).
//
// Built against an explicit prometheus.Registerer (via WithMetricsRegisterer)
// rather than as package-level promauto vars, so tests and multi-tenant
// processes can isolate a session's metrics from the global default
// registry — grounded on arzzra-soft_phone's prometheus/client_golang
// instrumentation of its RTP session layer (pkg/dialog/metrics.go).
type metricsSet struct {
	sessionsActive         prometheus.Gauge
	requestsTotal          *prometheus.CounterVec
	requestsMalformedTotal prometheus.Counter
	rtpPacketsSentTotal    prometheus.Counter
	rtcpPacketsSentTotal   prometheus.Counter
	mediaBytesSentTotal    *prometheus.CounterVec
	mediaSendFailuresTotal *prometheus.CounterVec
}

func newMetricsSet(reg prometheus.Registerer) *metricsSet {
	f := promauto.With(reg)
	return &metricsSet{
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "rtsp",
			Name:      "sessions_active",
			Help:      "Number of RTSP sessions currently open (not yet torn down).",
		}),
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtsp",
			Name:      "requests_total",
			Help:      "Total number of RTSP requests handled, by method.",
		}, []string{"method"}),
		requestsMalformedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "rtsp",
			Name:      "requests_malformed_total",
			Help:      "Total number of RTSP requests that failed to parse.",
		}),
		rtpPacketsSentTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "rtsp",
			Name:      "rtp_packets_sent_total",
			Help:      "Total number of RTP datagrams sent.",
		}),
		rtcpPacketsSentTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "rtsp",
			Name:      "rtcp_packets_sent_total",
			Help:      "Total number of RTCP datagrams sent.",
		}),
		mediaBytesSentTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtsp",
			Name:      "media_bytes_sent_total",
			Help:      "Total number of media bytes sent, by channel (rtp/rtcp).",
		}, []string{"channel"}),
		mediaSendFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtsp",
			Name:      "media_send_failures_total",
			Help:      "Total number of failed media datagram sends, by channel (rtp/rtcp).",
		}, []string{"channel"}),
	}
}

var (
	metricsCacheMu sync.Mutex
	metricsCache   = map[prometheus.Registerer]*metricsSet{}
)

// metricsFor returns the metricsSet registered against reg, building and
// registering it the first time reg is seen and returning the cached set
// on every subsequent call — each collector must only ever be registered
// once per registerer. reg == nil means prometheus.DefaultRegisterer,
// matching WithMetricsRegisterer's documented default.
func metricsFor(reg prometheus.Registerer) *metricsSet {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	metricsCacheMu.Lock()
	defer metricsCacheMu.Unlock()

	if m, ok := metricsCache[reg]; ok {
		return m
	}
	m := newMetricsSet(reg)
	metricsCache[reg] = m
	return m
}
