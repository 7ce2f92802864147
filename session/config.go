package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// defaultReceiveBufferSize is the source's own choice (spec.md §4.5): the
// control reader receives at most this many bytes per request.
const defaultReceiveBufferSize = 1024

// Config configures a Session, per spec.md §6.
type Config struct {
	// ServerAddress is advertised in SDP o=/a=control lines and the
	// DESCRIBE response's Content-Base header.
	ServerAddress string

	// RTSPPath is this session's stream path, combined with
	// ServerAddress to form the session's canonical rtsp:// URL.
	RTSPPath string

	// LogVerbosity is the minimum level this session logs at.
	LogVerbosity logrus.Level
}

// Option configures ambient behavior a Session's Config does not name
// directly — the base spec's Config is exactly spec.md §6; these are the
// SPEC_FULL.md §2.3 additions (logger injection, metrics registerer,
// clock, buffer sizing for tests).
type Option func(*options)

type options struct {
	logger            *logrus.Logger
	registerer        prometheus.Registerer
	clock             func() time.Time
	receiveBufferSize int
}

func defaultOptions() *options {
	return &options{
		logger:            logrus.StandardLogger(),
		registerer:        nil, // metricsFor treats nil as prometheus.DefaultRegisterer
		clock:             time.Now,
		receiveBufferSize: defaultReceiveBufferSize,
	}
}

// WithLogger sets the *logrus.Logger a Session logs through. Defaults to
// logrus.StandardLogger().
func WithLogger(l *logrus.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetricsRegisterer sets the prometheus.Registerer a Session's metrics
// are registered against, isolating it from the global default registry —
// useful for tests and for processes hosting more than one instance of
// this module's metrics. Defaults to prometheus.DefaultRegisterer.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithClock overrides the clock a Session uses for its opened-at
// timestamp and the uptime it logs at Teardown, for deterministic tests.
// Defaults to time.Now.
func WithClock(fn func() time.Time) Option {
	return func(o *options) { o.clock = fn }
}

// WithReceiveBufferSize overrides the control reader's per-receive buffer
// size, which defaults to 1024 bytes (spec.md §4.5).
func WithReceiveBufferSize(n int) Option {
	return func(o *options) { o.receiveBufferSize = n }
}
