// Package session implements the server side of a single RTSP control
// session driving an MJPEG-over-RTP stream: the state machine, the
// control-stream reader task, and the RTP/RTCP media sender API described
// in spec.md §3–§7.
package session

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kestrelcam/rtspsession/rtsp"
)

// Session is a server-side RTSP session for one connected client. Exactly
// one control reader goroutine is spawned per Session (spec.md §3
// invariant), and it is guaranteed joined once Close returns.
type Session struct {
	id            uint32
	serverAddress string
	rtspPath      string
	contentBase   string
	clientAddress string

	controlConn net.Conn
	rtpConn     *net.UDPConn
	rtcpConn    *net.UDPConn

	receiveBufferSize int
	log               *logrus.Entry
	metrics           *metricsSet
	clock             func() time.Time
	openedAt          time.Time

	mu             sync.Mutex
	state          State
	clientRTPPort  uint16
	clientRTCPPort uint16
	portsSet       bool

	closed    atomic.Bool
	connected atomic.Bool
	active    atomic.Bool

	readerDone chan struct{}
	closeOnce  sync.Once
}

// NewSession constructs a Session bound to an already-connected control
// stream, per spec.md §4.7: it allocates the RTP/RTCP UDP endpoints on
// ephemeral local ports, generates a random session id, snapshots the
// peer address, and spawns the control reader task before returning.
func NewSession(controlConn net.Conn, cfg Config, opts ...Option) (*Session, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("open RTP endpoint: %w", err)
	}

	rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		rtpConn.Close() //nolint:errcheck
		return nil, fmt.Errorf("open RTCP endpoint: %w", err)
	}

	id := newSessionID()
	clientAddress := peerHost(controlConn)
	contentBase := rtsp.ContentBase(cfg.ServerAddress, cfg.RTSPPath)
	openedAt := o.clock()

	s := &Session{
		id:                id,
		serverAddress:     cfg.ServerAddress,
		rtspPath:          cfg.RTSPPath,
		contentBase:       contentBase,
		clientAddress:     clientAddress,
		controlConn:       controlConn,
		rtpConn:           rtpConn,
		rtcpConn:          rtcpConn,
		receiveBufferSize: o.receiveBufferSize,
		log:               newSessionLogger(o.logger, cfg.LogVerbosity, id),
		metrics:           metricsFor(o.registerer),
		clock:             o.clock,
		openedAt:          openedAt,
		state:             StateInit,
		readerDone:        make(chan struct{}),
	}
	s.connected.Store(true)

	s.metrics.sessionsActive.Inc()
	s.log.WithFields(logrus.Fields{
		"client_address": clientAddress,
		"rtsp_path":      cfg.RTSPPath,
	}).Info("RTSP session opened")

	go s.readLoop()

	return s, nil
}

// newSessionID folds a random UUID's bits down to the 32-bit identifier
// spec.md §3 requires, following the teacher's own "random identity via
// uuid" idiom (server_session.go: uuid.New()) while honoring the narrower
// type this protocol uses on the wire (decimal in the Session header and
// SDP o= line).
func newSessionID() uint32 {
	u, err := uuid.NewRandom()
	if err != nil {
		// crypto/rand is the only failure mode for uuid.NewRandom; fall
		// back directly to it so session construction never fails purely
		// for lack of an id.
		var b [4]byte
		_, _ = rand.Read(b[:])
		return binary.BigEndian.Uint32(b[:])
	}
	bytes := u[:]
	return binary.BigEndian.Uint32(bytes[:4]) ^ binary.BigEndian.Uint32(bytes[4:8]) ^
		binary.BigEndian.Uint32(bytes[8:12]) ^ binary.BigEndian.Uint32(bytes[12:16])
}

func peerHost(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// SessionID returns the session's 32-bit identifier, stable for its
// lifetime (spec.md §3 invariant).
func (s *Session) SessionID() uint32 { return s.id }

// IsClosed reports whether TEARDOWN has been processed or the peer
// disconnected. Once true it remains true.
func (s *Session) IsClosed() bool { return s.closed.Load() }

// IsConnected reports whether the control stream is still up.
func (s *Session) IsConnected() bool { return s.connected.Load() }

// IsActive reports whether the session is in the Playing state. Media
// producers are expected to consult this before calling SendRTP/SendRTCP
// (spec.md §4.6) — the session does not gate sends on it itself.
func (s *Session) IsActive() bool { return s.active.Load() }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ClientPorts returns the RTP and RTCP ports negotiated during SETUP.
// Only meaningful once a SETUP has completed; callers should gate on that
// the same way they gate media sends on IsActive.
func (s *Session) ClientPorts() (rtpPort, rtcpPort uint16, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientRTPPort, s.clientRTCPPort, s.portsSet
}

// Play transitions the session to Playing. It has the same permissive
// semantics whether called by the owner directly or triggered by an
// incoming PLAY request (spec.md §6, §9 open question: the source answers
// PLAY unconditionally regardless of whether SETUP has completed, and this
// module preserves that).
//
// state and active are updated together under mu so a concurrent
// Play()/Teardown() race can never publish active=true after Teardown has
// already set state=Closed: whichever call acquires mu second observes
// the other's complete effect, not a partial one (spec.md §3's "once
// Closed, no further media is emitted" invariant).
func (s *Session) Play() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = StatePlaying
	s.active.Store(true)
}

// Pause transitions the session to Paused, with the same permissive
// semantics and same state/active atomicity guarantee as Play.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = StatePaused
	s.active.Store(false)
}

// Teardown transitions the session to Closed. It is idempotent and safe
// to call from the reader goroutine (processing a TEARDOWN request) or
// from the owner directly.
func (s *Session) Teardown() {
	s.mu.Lock()
	alreadyClosed := s.state == StateClosed
	s.state = StateClosed
	s.active.Store(false)
	s.closed.Store(true)
	s.mu.Unlock()

	if !alreadyClosed {
		s.metrics.sessionsActive.Dec()
		s.log.WithField("uptime", s.clock().Sub(s.openedAt)).Info("RTSP session torn down")
	}
}

// Close is the session's lifecycle-owner destructor: it guarantees
// state == Closed, the reader goroutine joined, and all three transports
// released, before returning (spec.md §4.7). It is safe to call
// concurrently with a running reader and safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.Teardown()

		// Interrupt a reader blocked in a control-stream Read so the join
		// below completes in bounded time, per spec.md §8's "reader
		// joined within bounded time" property — a bare cooperative flag
		// cannot unblock a syscall already in flight.
		s.controlConn.Close() //nolint:errcheck
		s.connected.Store(false)

		<-s.readerDone

		s.rtpConn.Close()  //nolint:errcheck
		s.rtcpConn.Close() //nolint:errcheck
	})
	return nil
}
