// Package rtsp implements the wire format of the RTSP/1.0 subset used by
// an MJPEG-over-RTP streaming session: request-line and header parsing,
// response writing, and the fixed SDP document returned by DESCRIBE.
//
// Parsing is forward-scanning over the caller's buffer and does not build
// a generic header map; this mirrors the line-oriented, allocation-averse
// style of the embedded RTSP session this protocol was distilled from.
package rtsp

import "fmt"

// Method is an RTSP request method.
type Method string

// Methods supported by this protocol subset.
const (
	MethodOptions  Method = "OPTIONS"
	MethodDescribe Method = "DESCRIBE"
	MethodSetup    Method = "SETUP"
	MethodPlay     Method = "PLAY"
	MethodPause    Method = "PAUSE"
	MethodTeardown Method = "TEARDOWN"
)

// StatusCode is an RTSP response status code.
type StatusCode int

// Status codes this protocol subset emits.
const (
	StatusOK                   StatusCode = 200
	StatusBadRequest           StatusCode = 400
	StatusUnsupportedTransport StatusCode = 461
)

// reasonPhrases are the status lines' textual reason, per RFC 2326.
var reasonPhrases = map[StatusCode]string{
	StatusOK:                   "OK",
	StatusBadRequest:           "Bad Request",
	StatusUnsupportedTransport: "Unsupported Transport",
}

// String implements fmt.Stringer.
func (sc StatusCode) String() string {
	if r, ok := reasonPhrases[sc]; ok {
		return r
	}
	return "Unknown"
}

// ReasonPhrase returns the numeric code of sc followed by its reason
// phrase, as they appear together in a status line (e.g. "200 OK").
func (sc StatusCode) ReasonPhrase() string {
	return fmt.Sprintf("%d %s", int(sc), sc.String())
}
