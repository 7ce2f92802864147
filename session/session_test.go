package session

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		ServerAddress: "127.0.0.1",
		RTSPPath:      "/mjpeg/1",
	}
}

// parsedResponse is the minimal view session tests need of a response read
// off the control stream.
type parsedResponse struct {
	status  int
	headers map[string]string
	body    string
}

func readResponse(t *testing.T, r *bufio.Reader) parsedResponse {
	t.Helper()

	statusLine, err := r.ReadString('\n')
	require.NoError(t, err)
	fields := strings.SplitN(strings.TrimSpace(statusLine), " ", 3)
	require.Len(t, fields, 3)
	status, err := strconv.Atoi(fields[1])
	require.NoError(t, err)

	headers := map[string]string{}
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		parts := strings.SplitN(line, ": ", 2)
		require.Len(t, parts, 2)
		headers[parts[0]] = parts[1]
	}

	body := ""
	if cl, ok := headers["Content-Length"]; ok {
		n, err := strconv.Atoi(cl)
		require.NoError(t, err)
		buf := make([]byte, n)
		_, err = readFull(r, buf)
		require.NoError(t, err)
		body = string(buf)
	}

	return parsedResponse{status: status, headers: headers, body: body}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestSessionFullHandshake(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	sess, err := NewSession(server, testConfig())
	require.NoError(t, err)
	defer sess.Close()

	r := bufio.NewReader(client)

	_, err = client.Write([]byte("OPTIONS rtsp://127.0.0.1/mjpeg/1 RTSP/1.0\r\nCSeq: 1\r\n\r\n"))
	require.NoError(t, err)
	resp := readResponse(t, r)
	assert.Equal(t, 200, resp.status)
	assert.Equal(t, "DESCRIBE, SETUP, TEARDOWN, PLAY, PAUSE", resp.headers["Public"])

	_, err = client.Write([]byte("DESCRIBE rtsp://127.0.0.1/mjpeg/1 RTSP/1.0\r\nCSeq: 2\r\n\r\n"))
	require.NoError(t, err)
	resp = readResponse(t, r)
	assert.Equal(t, 200, resp.status)
	assert.Equal(t, "application/sdp", resp.headers["Content-Type"])
	assert.Contains(t, resp.body, "m=video 0 RTP/AVP 26")
	assert.Equal(t, StateInit, sess.State())

	_, err = client.Write([]byte("SETUP rtsp://127.0.0.1/mjpeg/1 RTSP/1.0\r\n" +
		"CSeq: 3\r\nTransport: RTP/AVP;unicast;client_port=6970-6971\r\n\r\n"))
	require.NoError(t, err)
	resp = readResponse(t, r)
	assert.Equal(t, 200, resp.status)
	assert.Equal(t, "RTP/AVP;unicast;client_port=6970-6971", resp.headers["Transport"])
	assert.Equal(t, StateReady, sess.State())
	rtpPort, rtcpPort, ok := sess.ClientPorts()
	require.True(t, ok)
	assert.Equal(t, uint16(6970), rtpPort)
	assert.Equal(t, uint16(6971), rtcpPort)

	_, err = client.Write([]byte("PLAY rtsp://127.0.0.1/mjpeg/1 RTSP/1.0\r\nCSeq: 4\r\n\r\n"))
	require.NoError(t, err)
	resp = readResponse(t, r)
	assert.Equal(t, 200, resp.status)
	assert.Equal(t, "npt=0.000-", resp.headers["Range"])
	assert.True(t, sess.IsActive())
	assert.Equal(t, StatePlaying, sess.State())

	_, err = client.Write([]byte("PAUSE rtsp://127.0.0.1/mjpeg/1 RTSP/1.0\r\nCSeq: 5\r\n\r\n"))
	require.NoError(t, err)
	resp = readResponse(t, r)
	assert.Equal(t, 200, resp.status)
	assert.False(t, sess.IsActive())
	assert.Equal(t, StatePaused, sess.State())

	_, err = client.Write([]byte("TEARDOWN rtsp://127.0.0.1/mjpeg/1 RTSP/1.0\r\nCSeq: 6\r\n\r\n"))
	require.NoError(t, err)
	resp = readResponse(t, r)
	assert.Equal(t, 200, resp.status)

	require.Eventually(t, sess.IsClosed, time.Second, time.Millisecond)
}

func TestSessionPlayBeforeSetupIsPermissive(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	sess, err := NewSession(server, testConfig())
	require.NoError(t, err)
	defer sess.Close()

	r := bufio.NewReader(client)
	_, err = client.Write([]byte("PLAY rtsp://127.0.0.1/mjpeg/1 RTSP/1.0\r\nCSeq: 1\r\n\r\n"))
	require.NoError(t, err)
	resp := readResponse(t, r)
	assert.Equal(t, 200, resp.status)
	assert.True(t, sess.IsActive())
}

func TestSessionMalformedRequestLineGetsNoCSeq(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	sess, err := NewSession(server, testConfig())
	require.NoError(t, err)
	defer sess.Close()

	r := bufio.NewReader(client)
	_, err = client.Write([]byte("GARBAGE-NO-SPACES\r\n\r\n"))
	require.NoError(t, err)
	resp := readResponse(t, r)
	assert.Equal(t, 400, resp.status)
	_, hasCSeq := resp.headers["CSeq"]
	assert.False(t, hasCSeq)
}

func TestSessionMissingCSeqGets400WithoutEcho(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	sess, err := NewSession(server, testConfig())
	require.NoError(t, err)
	defer sess.Close()

	r := bufio.NewReader(client)
	_, err = client.Write([]byte("OPTIONS rtsp://127.0.0.1/mjpeg/1 RTSP/1.0\r\n\r\n"))
	require.NoError(t, err)
	resp := readResponse(t, r)
	assert.Equal(t, 400, resp.status)
	_, hasCSeq := resp.headers["CSeq"]
	assert.False(t, hasCSeq)
}

func TestSessionTCPTransportUnsupported(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	sess, err := NewSession(server, testConfig())
	require.NoError(t, err)
	defer sess.Close()

	r := bufio.NewReader(client)
	_, err = client.Write([]byte("SETUP rtsp://127.0.0.1/mjpeg/1 RTSP/1.0\r\n" +
		"CSeq: 1\r\nTransport: RTP/AVP/TCP;interleaved=0-1\r\n\r\n"))
	require.NoError(t, err)
	resp := readResponse(t, r)
	assert.Equal(t, 461, resp.status)
	_, hasCSeq := resp.headers["CSeq"]
	assert.False(t, hasCSeq)
	assert.Equal(t, StateInit, sess.State())
}

func TestSessionClosesOnPeerDisconnect(t *testing.T) {
	client, server := net.Pipe()

	sess, err := NewSession(server, testConfig())
	require.NoError(t, err)
	defer sess.Close()

	client.Close()

	require.Eventually(t, sess.IsClosed, time.Second, time.Millisecond)
	assert.False(t, sess.IsConnected())
}

func TestSessionCloseJoinsReaderWithinBoundedTime(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	sess, err := NewSession(server, testConfig())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		sess.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return within bounded time")
	}
	assert.True(t, sess.IsClosed())
}

func TestSendRTPAndRTCPRequireSetup(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	sess, err := NewSession(server, testConfig())
	require.NoError(t, err)
	defer sess.Close()

	assert.False(t, sess.SendRTP([]byte{0x01}))
	assert.False(t, sess.SendRTCP([]byte{0x01}))
}

// tcpLoopback returns a connected client/server pair over real TCP
// sockets, needed (unlike net.Pipe) whenever a test depends on
// RemoteAddr() resolving to a real IP — net.Pipe's endpoints report a
// synthetic "pipe" address.
func tcpLoopback(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server = <-accepted
	require.NotNil(t, server)
	return client, server
}

// TestSendRTPAfterSetupReachesClient exercises SendRTP with a real
// pion/rtp-marshaled packet (not an opaque byte literal), matching
// SPEC_FULL.md §3's domain-stack claim that session tests, not just the
// example producer, build realistic RTP payloads.
func TestSendRTPAfterSetupReachesClient(t *testing.T) {
	client, server := tcpLoopback(t)
	defer client.Close()

	sess, err := NewSession(server, testConfig())
	require.NoError(t, err)
	defer sess.Close()

	rtpListener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer rtpListener.Close()
	rtpPort := rtpListener.LocalAddr().(*net.UDPAddr).Port

	r := bufio.NewReader(client)
	_, err = client.Write([]byte("SETUP rtsp://127.0.0.1/mjpeg/1 RTSP/1.0\r\n" +
		"CSeq: 1\r\nTransport: RTP/AVP;unicast;client_port=" +
		strconv.Itoa(rtpPort) + "-" + strconv.Itoa(rtpPort+1) + "\r\n\r\n"))
	require.NoError(t, err)
	readResponse(t, r)

	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         true,
			PayloadType:    26, // MJPEG, RFC 2435
			SequenceNumber: 1,
			Timestamp:      12345,
			SSRC:           0xcafef00d,
		},
		Payload: []byte{0xff, 0xd8, 0xff, 0xd9},
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	assert.True(t, sess.SendRTP(raw))

	buf := make([]byte, 1500)
	require.NoError(t, rtpListener.SetReadDeadline(time.Now().Add(time.Second)))
	n, _, err := rtpListener.ReadFromUDP(buf)
	require.NoError(t, err)

	var got rtp.Packet
	require.NoError(t, got.Unmarshal(buf[:n]))
	assert.Equal(t, pkt.SequenceNumber, got.SequenceNumber)
	assert.Equal(t, pkt.SSRC, got.SSRC)
	assert.Equal(t, pkt.Payload, got.Payload)
}

// TestSendRTCPAfterSetupReachesClient is SendRTCP's counterpart: a real
// pion/rtcp-marshaled rtcp.SenderReport, round-tripped through the UDP
// socket and parsed back.
func TestSendRTCPAfterSetupReachesClient(t *testing.T) {
	client, server := tcpLoopback(t)
	defer client.Close()

	sess, err := NewSession(server, testConfig())
	require.NoError(t, err)
	defer sess.Close()

	rtcpListener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer rtcpListener.Close()
	rtcpPort := rtcpListener.LocalAddr().(*net.UDPAddr).Port

	r := bufio.NewReader(client)
	_, err = client.Write([]byte("SETUP rtsp://127.0.0.1/mjpeg/1 RTSP/1.0\r\n" +
		"CSeq: 1\r\nTransport: RTP/AVP;unicast;client_port=" +
		strconv.Itoa(rtcpPort-1) + "-" + strconv.Itoa(rtcpPort) + "\r\n\r\n"))
	require.NoError(t, err)
	readResponse(t, r)

	sr := rtcp.SenderReport{
		SSRC:        0xcafef00d,
		NTPTime:     1,
		RTPTime:     12345,
		PacketCount: 10,
		OctetCount:  400,
	}
	raw, err := sr.Marshal()
	require.NoError(t, err)

	assert.True(t, sess.SendRTCP(raw))

	buf := make([]byte, 1500)
	require.NoError(t, rtcpListener.SetReadDeadline(time.Now().Add(time.Second)))
	n, _, err := rtcpListener.ReadFromUDP(buf)
	require.NoError(t, err)

	packets, err := rtcp.Unmarshal(buf[:n])
	require.NoError(t, err)
	require.Len(t, packets, 1)
	got, ok := packets[0].(*rtcp.SenderReport)
	require.True(t, ok)
	assert.Equal(t, sr.SSRC, got.SSRC)
	assert.Equal(t, sr.PacketCount, got.PacketCount)
}

// TestWithMetricsRegistererIsolatesFromDefault confirms
// WithMetricsRegisterer routes a session's metrics to the given registry
// instead of prometheus.DefaultRegisterer, and that two sessions sharing
// one registerer don't panic on duplicate registration.
func TestWithMetricsRegistererIsolatesFromDefault(t *testing.T) {
	reg := prometheus.NewRegistry()

	client1, server1 := net.Pipe()
	defer client1.Close()
	sess1, err := NewSession(server1, testConfig(), WithMetricsRegisterer(reg))
	require.NoError(t, err)
	defer sess1.Close()

	client2, server2 := net.Pipe()
	defer client2.Close()
	sess2, err := NewSession(server2, testConfig(), WithMetricsRegisterer(reg))
	require.NoError(t, err)
	defer sess2.Close()

	gauge := sess1.metrics.sessionsActive
	assert.Equal(t, float64(2), testutil.ToFloat64(gauge))

	count, err := testutil.GatherAndCount(reg, "rtsp_sessions_active")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// TestWithClockControlsOpenedAt confirms WithClock actually drives the
// session's opened-at timestamp rather than being accepted and ignored.
func TestWithClockControlsOpenedAt(t *testing.T) {
	fixed := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	client, server := net.Pipe()
	defer client.Close()

	sess, err := NewSession(server, testConfig(), WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	defer sess.Close()

	assert.True(t, sess.openedAt.Equal(fixed))
}

// TestPlayRaceAgainstTeardownNeverLeavesActiveTrue drives Play and
// Teardown concurrently many times; state and active must always agree
// that a Closed session is never also reported Active, per spec.md §3's
// "once Closed, no further media is emitted" invariant.
func TestPlayRaceAgainstTeardownNeverLeavesActiveTrue(t *testing.T) {
	for i := 0; i < 200; i++ {
		client, server := net.Pipe()
		sess, err := NewSession(server, testConfig())
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			sess.Play()
		}()
		go func() {
			defer wg.Done()
			sess.Teardown()
		}()
		wg.Wait()

		if sess.State() == StateClosed {
			assert.False(t, sess.IsActive(), "iteration %d: closed session reported active", i)
		}

		client.Close()
		sess.Close()
	}
}

func TestSessionIDStableAcrossLifetime(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	sess, err := NewSession(server, testConfig())
	require.NoError(t, err)
	defer sess.Close()

	id := sess.SessionID()
	assert.NotZero(t, id)

	r := bufio.NewReader(client)
	_, err = client.Write([]byte("OPTIONS rtsp://127.0.0.1/mjpeg/1 RTSP/1.0\r\nCSeq: 1\r\n\r\n"))
	require.NoError(t, err)
	readResponse(t, r)

	assert.Equal(t, id, sess.SessionID())
}
