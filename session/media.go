package session

import "net"

// SendRTP writes a pre-serialized RTP packet to the client's negotiated
// RTP port. It returns false if SETUP has not completed or the datagram
// could not be sent; it does not gate on IsActive — per spec.md §4.6 that
// decision belongs to the media producer, not the session.
func (s *Session) SendRTP(packet []byte) bool {
	return s.sendMedia("rtp", s.clientRTPPortLocked, s.rtpConn, packet)
}

// SendRTCP writes a pre-serialized RTCP packet to the client's negotiated
// RTCP port.
func (s *Session) SendRTCP(packet []byte) bool {
	return s.sendMedia("rtcp", s.clientRTCPPortLocked, s.rtcpConn, packet)
}

func (s *Session) clientRTPPortLocked() (uint16, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientRTPPort, s.portsSet
}

func (s *Session) clientRTCPPortLocked() (uint16, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientRTCPPort, s.portsSet
}

func (s *Session) sendMedia(channel string, port func() (uint16, bool), conn *net.UDPConn, packet []byte) bool {
	p, ok := port()
	if !ok {
		s.metrics.mediaSendFailuresTotal.WithLabelValues(channel).Inc()
		return false
	}

	dst := &net.UDPAddr{IP: net.ParseIP(s.clientAddress), Port: int(p)}
	n, err := conn.WriteToUDP(packet, dst)
	if err != nil || n != len(packet) {
		s.metrics.mediaSendFailuresTotal.WithLabelValues(channel).Inc()
		s.log.WithError(err).WithField("channel", channel).Warn("media send failed")
		return false
	}

	if channel == "rtp" {
		s.metrics.rtpPacketsSentTotal.Inc()
	} else {
		s.metrics.rtcpPacketsSentTotal.Inc()
	}
	s.metrics.mediaBytesSentTotal.WithLabelValues(channel).Add(float64(n))
	return true
}
