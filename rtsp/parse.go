package rtsp

import (
	"strconv"
	"strings"
)

const (
	cseqHeader      = "CSeq: "
	transportHeader = "Transport: "
	clientPortParam = "client_port="
	tcpTransport    = "RTP/AVP/TCP"
)

// ParseRequestLine extracts the method, path, and protocol version from the
// first line of buf, plus the offset at which the remainder of the request
// (headers and body) begins. It performs no allocation beyond the
// unavoidable string conversions at its boundaries. Its result depends
// only on the request line: a space found after the first CR makes the
// line malformed, and nothing after the line is validated.
//
// buf is expected to hold "METHOD SP PATH SP VERSION CR LF ...". Any of the
// two spaces or the CR missing from the first 1024-ish bytes of buf is a
// malformed request line.
func ParseRequestLine(buf []byte) (method Method, path string, version string, bodyStart int, err error) {
	s := string(buf)

	firstSpace := strings.IndexByte(s, ' ')
	if firstSpace < 0 {
		return "", "", "", 0, ErrMalformedRequestLine{Reason: "missing first space"}
	}

	secondSpace := strings.IndexByte(s[firstSpace+1:], ' ')
	if secondSpace < 0 {
		return "", "", "", 0, ErrMalformedRequestLine{Reason: "missing second space"}
	}
	secondSpace += firstSpace + 1

	endOfLine := strings.IndexByte(s, '\r')
	if endOfLine < 0 || endOfLine < secondSpace {
		return "", "", "", 0, ErrMalformedRequestLine{Reason: "missing CR"}
	}

	method = Method(s[:firstSpace])
	path = s[firstSpace+1 : secondSpace]
	version = s[secondSpace+1 : endOfLine]

	// the line is terminated by CR LF; the body starts right after it.
	bodyStart = endOfLine + 2
	if bodyStart > len(s) {
		return "", "", "", 0, ErrMalformedRequestLine{Reason: "missing LF"}
	}

	return method, path, version, bodyStart, nil
}

// ParseCSeq locates the "CSeq: " header within body and parses its integer
// value. body is everything after the request line (headers, blank line,
// and any entity), matching the shape handlers receive in
// original_source's handle_rtsp_* functions.
func ParseCSeq(body []byte) (int, error) {
	s := string(body)

	idx := strings.Index(s, cseqHeader)
	if idx < 0 {
		return 0, ErrCSeqMissing{}
	}

	start := idx + len(cseqHeader)
	end := strings.IndexByte(s[start:], '\r')
	if end < 0 {
		return 0, ErrCSeqMissing{}
	}

	raw := s[start : start+end]
	if raw == "" {
		return 0, ErrCSeqMalformed{Value: raw}
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, ErrCSeqMalformed{Value: raw}
	}

	return n, nil
}

// ParseSetupTransport locates the "Transport: " header of a SETUP request
// and extracts the client's negotiated RTP and RTCP ports from its
// "client_port=N-M" parameter.
//
// It returns ErrTransportUnsupported if the client requested RTP/AVP/TCP
// (interleaved) transport, which this server never offers.
func ParseSetupTransport(body []byte) (rtpPort, rtcpPort uint16, err error) {
	s := string(body)

	idx := strings.Index(s, transportHeader)
	if idx < 0 {
		return 0, 0, ErrTransportMissing{}
	}

	start := idx + len(transportHeader)
	end := strings.IndexByte(s[start:], '\r')
	if end < 0 {
		return 0, 0, ErrTransportMalformed{Reason: "missing CR"}
	}
	transport := s[start : start+end]

	if strings.Contains(transport, tcpTransport) {
		return 0, 0, ErrTransportUnsupported{}
	}

	portsIdx := strings.Index(transport, clientPortParam)
	if portsIdx < 0 {
		return 0, 0, ErrTransportMalformed{Reason: "missing client_port"}
	}
	portsStart := portsIdx + len(clientPortParam)

	rest := transport[portsStart:]
	dash := strings.IndexByte(rest, '-')
	if dash < 0 {
		return 0, 0, ErrTransportMalformed{Reason: "client_port missing '-'"}
	}

	rtpStr := rest[:dash]
	rtcpStr := rest[dash+1:]
	// the rtcp port value may be followed by further ';'-separated
	// parameters; stop at the first one, if any.
	if semi := strings.IndexByte(rtcpStr, ';'); semi >= 0 {
		rtcpStr = rtcpStr[:semi]
	}

	if rtpStr == "" || rtcpStr == "" {
		return 0, 0, ErrTransportMalformed{Reason: "empty client_port value"}
	}

	rtp64, err := strconv.ParseUint(rtpStr, 10, 16)
	if err != nil {
		return 0, 0, ErrTransportMalformed{Reason: "invalid RTP port"}
	}
	rtcp64, err := strconv.ParseUint(rtcpStr, 10, 16)
	if err != nil {
		return 0, 0, ErrTransportMalformed{Reason: "invalid RTCP port"}
	}

	return uint16(rtp64), uint16(rtcp64), nil
}
