package session

import (
	"strconv"

	"github.com/kestrelcam/rtspsession/rtsp"
)

// handleRequest parses and dispatches one RTSP request read off the
// control stream, writing exactly one response before returning
// (spec.md §4.1, §4.4). Parse failures are handled per the edge-case
// policies spelled out there: a malformed request line, a missing or
// malformed CSeq, and a SETUP whose Transport header is unsupported or
// malformed get a response with no CSeq echoed at all (SETUP's Transport
// header is checked before its CSeq is parsed); every other response
// echoes the request's CSeq.
func (s *Session) handleRequest(raw []byte) {
	method, _, _, bodyStart, err := rtsp.ParseRequestLine(raw)
	if err != nil {
		s.metrics.requestsMalformedTotal.Inc()
		s.log.WithError(err).Warn("malformed RTSP request line")
		s.respond(rtsp.Response{Status: rtsp.StatusBadRequest})
		return
	}
	body := raw[bodyStart:]
	s.metrics.requestsTotal.WithLabelValues(string(method)).Inc()

	if method == rtsp.MethodSetup {
		s.handleSetup(body)
		return
	}

	cseq, cerr := rtsp.ParseCSeq(body)
	if cerr != nil {
		s.metrics.requestsMalformedTotal.Inc()
		s.log.WithError(cerr).Warn("RTSP request missing or malformed CSeq")
		s.respond(rtsp.Response{Status: rtsp.StatusBadRequest})
		return
	}

	switch method {
	case rtsp.MethodOptions:
		s.handleOptions(cseq)
	case rtsp.MethodDescribe:
		s.handleDescribe(cseq)
	case rtsp.MethodPlay:
		s.handlePlay(cseq)
	case rtsp.MethodPause:
		s.handlePause(cseq)
	case rtsp.MethodTeardown:
		s.handleTeardown(cseq)
	default:
		s.log.WithField("method", method).Warn("unrecognized RTSP method")
		s.respond(rtsp.Response{Status: rtsp.StatusBadRequest, CSeq: cseq, HasCSeq: true})
	}
}

func (s *Session) respond(r rtsp.Response) {
	if !rtsp.WriteResponse(s.controlConn, r) {
		s.log.Warn("failed to write RTSP response, control stream likely gone")
		s.connected.Store(false)
	}
}

func (s *Session) handleOptions(cseq int) {
	s.respond(rtsp.Response{
		Status:  rtsp.StatusOK,
		CSeq:    cseq,
		HasCSeq: true,
		Headers: "Public: DESCRIBE, SETUP, TEARDOWN, PLAY, PAUSE\r\n",
	})
}

func (s *Session) handleDescribe(cseq int) {
	sdp := rtsp.GenerateSDP(s.id, s.serverAddress, s.contentBase)
	s.respond(rtsp.Response{
		Status:  rtsp.StatusOK,
		CSeq:    cseq,
		HasCSeq: true,
		Headers: "Content-Base: " + s.contentBase + "\r\nContent-Type: application/sdp\r\n",
		Body:    sdp,
	})
}

// handleSetup parses the Transport header itself (ahead of CSeq, matching
// original_source's parse_rtsp_setup_request) because an unsupported
// transport must short-circuit with a 461 that never echoes CSeq, per
// spec.md §4.1's edge-case table, regardless of whether CSeq was valid.
func (s *Session) handleSetup(body []byte) {
	rtpPort, rtcpPort, err := rtsp.ParseSetupTransport(body)
	switch {
	case err == nil:
		// fall through to CSeq handling below.
	case isUnsupportedTransport(err):
		s.metrics.requestsMalformedTotal.Inc()
		s.log.Warn("SETUP requested an unsupported transport")
		s.respond(rtsp.Response{Status: rtsp.StatusUnsupportedTransport})
		return
	default:
		s.metrics.requestsMalformedTotal.Inc()
		s.log.WithError(err).Warn("malformed SETUP transport header")
		s.respond(rtsp.Response{Status: rtsp.StatusBadRequest})
		return
	}

	cseq, cerr := rtsp.ParseCSeq(body)
	if cerr != nil {
		s.metrics.requestsMalformedTotal.Inc()
		s.log.WithError(cerr).Warn("SETUP request missing or malformed CSeq")
		s.respond(rtsp.Response{Status: rtsp.StatusBadRequest})
		return
	}

	s.mu.Lock()
	s.clientRTPPort = rtpPort
	s.clientRTCPPort = rtcpPort
	s.portsSet = true
	if s.state != StateClosed {
		s.state = StateReady
		s.active.Store(false)
	}
	s.mu.Unlock()

	s.log.WithFields(map[string]interface{}{
		"client_rtp_port":  rtpPort,
		"client_rtcp_port": rtcpPort,
	}).Info("RTSP session ready")

	s.respond(rtsp.Response{
		Status:  rtsp.StatusOK,
		CSeq:    cseq,
		HasCSeq: true,
		Headers: "Session: " + strconv.FormatUint(uint64(s.id), 10) + "\r\n" +
			"Transport: RTP/AVP;unicast;client_port=" +
			strconv.Itoa(int(rtpPort)) + "-" + strconv.Itoa(int(rtcpPort)) + "\r\n",
	})
}

func isUnsupportedTransport(err error) bool {
	_, ok := err.(rtsp.ErrTransportUnsupported)
	return ok
}

// handlePlay and handlePause always succeed regardless of the session's
// prior state (spec.md §9 open question, resolved per
// original_source/rtsp_session.hpp: handle_rtsp_play/handle_rtsp_pause
// call play()/pause() and answer 200 unconditionally).
func (s *Session) handlePlay(cseq int) {
	s.Play()
	s.respond(rtsp.Response{
		Status:  rtsp.StatusOK,
		CSeq:    cseq,
		HasCSeq: true,
		Headers: "Session: " + strconv.FormatUint(uint64(s.id), 10) + "\r\n" +
			"Range: npt=0.000-\r\n",
	})
}

func (s *Session) handlePause(cseq int) {
	s.Pause()
	s.respond(rtsp.Response{
		Status:  rtsp.StatusOK,
		CSeq:    cseq,
		HasCSeq: true,
		Headers: "Session: " + strconv.FormatUint(uint64(s.id), 10) + "\r\n",
	})
}

func (s *Session) handleTeardown(cseq int) {
	s.respond(rtsp.Response{
		Status:  rtsp.StatusOK,
		CSeq:    cseq,
		HasCSeq: true,
		Headers: "Session: " + strconv.FormatUint(uint64(s.id), 10) + "\r\n",
	})
	s.Teardown()
}
