package rtsp

import (
	"strconv"
	"strings"
)

// GenerateSDP builds the session description returned by DESCRIBE for an
// MJPEG-over-RTP stream, per spec.md §4.3. sessionID is the session's
// 32-bit identifier, serverAddress is Config.ServerAddress, and
// contentBase is the full "rtsp://<addr>/<path>" URL (see ContentBase)
// also used as the response's Content-Base header.
//
// The document is fixed: payload type 26 selects MJPEG per RFC 2435, and
// every field other than the three substitutions below is a constant this
// server always returns, so it is built directly rather than through a
// general-purpose SDP encoder — see DESIGN.md.
func GenerateSDP(sessionID uint32, serverAddress string, contentBase string) []byte {
	var b strings.Builder

	writeLine := func(s string) {
		b.WriteString(s)
		b.WriteString("\r\n")
	}

	writeLine("v=0")
	writeLine("o=- " + strconv.FormatUint(uint64(sessionID), 10) + " 1 IN IP4 " + serverAddress)
	writeLine("s=MJPEG Stream")
	writeLine("i=MJPEG Stream")
	writeLine("t=0 0")
	writeLine("a=control:" + contentBase)
	writeLine(`a=mimetype:string;"video/x-motion-jpeg"`)
	writeLine("m=video 0 RTP/AVP 26")
	writeLine("c=IN IP4 0.0.0.0")
	writeLine("b=AS:256")
	writeLine("a=control:" + contentBase)
	writeLine("a=udp-only")

	return []byte(b.String())
}

// ContentBase builds the "rtsp://<addr>/<path>" URL used both as the SDP
// a=control target and the DESCRIBE response's Content-Base header.
func ContentBase(serverAddress, rtspPath string) string {
	return "rtsp://" + serverAddress + "/" + strings.TrimPrefix(rtspPath, "/")
}
