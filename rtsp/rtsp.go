// Package rtsp implements the RTSP handshake for the Moonlight streaming protocol.
package rtsp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	enet "github.com/codecat/go-enet"

	"github.com/moonparty/moonlight-go/protocol"
	"github.com/moonparty/moonlight-go/types"
)

const (
	// Port is the fixed RTSP port used at every generation.
	Port = 48010
	// TimeoutSec bounds each RTSP transaction.
	TimeoutSec = 10

	// Fixed well-known ports the streams bind to; these are never
	// negotiated via the SETUP Transport header in practice.
	VideoPort   = 47998
	AudioPort   = 48000
	ControlPort = 47999
)

// Response represents a parsed RTSP response.
type Response struct {
	StatusCode int
	StatusText string
	Headers    map[string]string
	Body       []byte
}

// HandshakeResult carries everything negotiated during the handshake
// that the rest of the client needs to start its streams.
type HandshakeResult struct {
	VideoPort, AudioPort, ControlPort int
	NegotiatedVideoFormat             types.VideoFormat
	AdjustedBitrateKbps               int
}

// headerKV preserves RTSP header ordering, which some hosts are picky
// about (CSeq/X-GS-ClientVersion/Host must come first).
type headerKV struct {
	key, val string
}

// transport abstracts the two ways an RTSP transaction can travel:
// plain TCP (all generations) or ENet reliable-UDP (GFE 5-7 builds
// older than 7.1.404, which don't speak RTSP-over-TCP on port 48010).
type transport interface {
	transact(raw []byte, payload []byte, expectingPayload bool) ([]byte, error)
	close()
}

// Client drives the RTSP handshake against a streaming host.
type Client struct {
	serverIP   string
	useEnet    bool
	cseq       int
	sessionID  string
	hasSession bool
	tr         transport
}

// NewClient creates an RTSP client. useEnet selects the ENet-framed
// RTSP transport used by GFE generations 5-7 prior to build 7.1.404;
// every other generation, including Sunshine, uses plain TCP.
func NewClient(serverIP string, useEnet bool) *Client {
	return &Client{serverIP: serverIP, useEnet: useEnet, cseq: 1}
}

// Connect opens the underlying transport.
func (c *Client) Connect() error {
	if c.useEnet {
		tr, err := newEnetTransport(c.serverIP, Port)
		if err != nil {
			return err
		}
		c.tr = tr
		return nil
	}
	tr, err := newTCPTransport(c.serverIP, Port)
	if err != nil {
		return err
	}
	c.tr = tr
	return nil
}

// Close tears down the transport.
func (c *Client) Close() {
	if c.tr != nil {
		c.tr.close()
		c.tr = nil
	}
}

// Handshake drives the full RTSP handshake sequence — OPTIONS, DESCRIBE,
// SETUP audio, SETUP video, SETUP control (Gen>=5 only), ANNOUNCE
// (streamid=video), PLAY video, PLAY audio — each as its own
// transaction, matching performRtspHandshake.
func (c *Client) Handshake(cfg types.StreamConfiguration, appVersion [4]int, isSunshine bool, capabilities int) (*HandshakeResult, error) {
	if _, err := c.request("OPTIONS", "", nil, nil, false); err != nil {
		return nil, fmt.Errorf("rtsp: OPTIONS failed: %w", err)
	}

	describeResp, err := c.request("DESCRIBE", "", []headerKV{
		{"Accept", "application/sdp"},
		{"If-Modified-Since", "Thu, 01 Jan 1970 00:00:00 GMT"},
	}, nil, true)
	if err != nil {
		return nil, fmt.Errorf("rtsp: DESCRIBE failed: %w", err)
	}

	negotiated := negotiateVideoFormat(cfg, string(describeResp.Body))

	audioTarget := "streamid=audio"
	videoTarget := "streamid=video"
	if appVersion[0] >= 5 {
		audioTarget = "streamid=audio/0/0"
		videoTarget = "streamid=video/0/0"
	}

	setupAudioResp, err := c.setupStream(audioTarget, appVersion)
	if err != nil {
		return nil, fmt.Errorf("rtsp: SETUP %s failed: %w", audioTarget, err)
	}
	sessionID, ok := setupAudioResp.Headers["Session"]
	if !ok || sessionID == "" {
		return nil, errors.New("rtsp: SETUP audio response missing Session header")
	}
	c.sessionID = sessionID
	c.hasSession = true

	if _, err := c.setupStream(videoTarget, appVersion); err != nil {
		return nil, fmt.Errorf("rtsp: SETUP %s failed: %w", videoTarget, err)
	}

	if appVersion[0] >= 5 {
		if _, err := c.setupStream("streamid=control/1/0", appVersion); err != nil {
			return nil, fmt.Errorf("rtsp: SETUP control failed: %w", err)
		}
	}

	sdp, adjustedBitrate := buildSDP(cfg, appVersion, isSunshine, negotiated, capabilities, clientVersionFor(appVersion))
	if _, err := c.announce(sdp); err != nil {
		return nil, fmt.Errorf("rtsp: ANNOUNCE failed: %w", err)
	}

	if _, err := c.play("streamid=video"); err != nil {
		return nil, fmt.Errorf("rtsp: PLAY video failed: %w", err)
	}
	if _, err := c.play("streamid=audio"); err != nil {
		return nil, fmt.Errorf("rtsp: PLAY audio failed: %w", err)
	}

	return &HandshakeResult{
		VideoPort:             VideoPort,
		AudioPort:             AudioPort,
		ControlPort:           ControlPort,
		NegotiatedVideoFormat: negotiated,
		AdjustedBitrateKbps:   adjustedBitrate,
	}, nil
}

// Teardown sends the RTSP TEARDOWN request, best-effort, during cleanup.
func (c *Client) Teardown() {
	_, _ = c.request("TEARDOWN", "", nil, nil, false)
}

func (c *Client) setupStream(target string, appVersion [4]int) (*Response, error) {
	headers := []headerKV{
		{"Transport", transportValueFor(appVersion)},
		{"If-Modified-Since", "Thu, 01 Jan 1970 00:00:00 GMT"},
	}
	return c.request("SETUP", target, headers, nil, false)
}

func (c *Client) play(target string) (*Response, error) {
	return c.request("PLAY", target, nil, nil, false)
}

func (c *Client) announce(sdp string) (*Response, error) {
	headers := []headerKV{
		{"Content-type", "application/sdp"},
	}
	return c.request("ANNOUNCE", "streamid=video", headers, []byte(sdp), false)
}

// request builds and transacts one RTSP message, matching
// initializeRtspRequest's header ordering: CSeq, X-GS-ClientVersion,
// Host (TCP transport only), Session (once established), then any
// request-specific headers, then Content-length if there's a body.
func (c *Client) request(method, target string, extra []headerKV, body []byte, expectingPayload bool) (*Response, error) {
	if c.tr == nil {
		return nil, errors.New("rtsp: not connected")
	}

	uri := fmt.Sprintf("rtsp%s://%s:%d", rtspScheme(c.useEnet), c.serverIP, Port)
	if target != "" {
		uri += "/" + target
	}

	headers := []headerKV{
		{"CSeq", strconv.Itoa(c.cseq)},
		{"X-GS-ClientVersion", "14"},
	}
	c.cseq++
	if !c.useEnet {
		headers = append(headers, headerKV{"Host", c.serverIP})
	}
	if c.hasSession {
		headers = append(headers, headerKV{"Session", c.sessionID})
	}
	headers = append(headers, extra...)
	if len(body) > 0 {
		headers = append(headers, headerKV{"Content-length", strconv.Itoa(len(body))})
	}

	raw := serializeRequest(method, uri, headers, body)
	respBytes, err := c.tr.transact(raw, body, expectingPayload)
	if err != nil {
		return nil, err
	}

	resp, err := parseResponse(respBytes)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("status %d %s", resp.StatusCode, resp.StatusText)
	}
	return resp, nil
}

func rtspScheme(useEnet bool) string {
	if useEnet {
		return "ru"
	}
	return ""
}

func serializeRequest(method, uri string, headers []headerKV, body []byte) []byte {
	var b strings.Builder
	b.WriteString(method)
	b.WriteString(" ")
	b.WriteString(uri)
	b.WriteString(" RTSP/1.0\r\n")
	for _, h := range headers {
		b.WriteString(h.key)
		b.WriteString(": ")
		b.WriteString(h.val)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	out := []byte(b.String())
	if len(body) > 0 {
		out = append(out, body...)
	}
	return out
}

func parseResponse(raw []byte) (*Response, error) {
	reader := bufio.NewReader(strings.NewReader(string(raw)))
	resp := &Response{Headers: make(map[string]string)}

	statusLine, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("rtsp: failed to read status line: %w", err)
	}
	statusLine = strings.TrimSpace(statusLine)
	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 3 || !strings.HasPrefix(parts[0], "RTSP/") {
		return nil, fmt.Errorf("rtsp: invalid response: %s", statusLine)
	}
	resp.StatusCode, _ = strconv.Atoi(parts[1])
	resp.StatusText = parts[2]

	var contentLength int
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if idx := strings.Index(line, ":"); idx > 0 {
			key := strings.TrimSpace(line[:idx])
			val := strings.TrimSpace(line[idx+1:])
			resp.Headers[key] = val
			if strings.EqualFold(key, "Content-Length") {
				contentLength, _ = strconv.Atoi(val)
			}
		}
	}

	rest, _ := io.ReadAll(reader)
	if contentLength > 0 && contentLength <= len(rest) {
		resp.Body = rest[:contentLength]
	} else {
		resp.Body = rest
	}
	return resp, nil
}

func transportValueFor(appVersion [4]int) string {
	if appVersion[0] >= 6 {
		return "unicast;X-GS-ClientPort=50000-50001"
	}
	return " "
}

func clientVersionFor(appVersion [4]int) int {
	switch appVersion[0] {
	case 3:
		return 10
	case 4:
		return 11
	case 5:
		return 12
	case 6:
		return 13
	default:
		return 14
	}
}

// negotiateVideoFormat inspects the DESCRIBE SDP body the way
// performRtspHandshake does: GFE still labels the HEVC media payload
// type as H.264, so the only reliable signal is the base64-encoded VPS
// NALU prefix unique to an HEVC sprop-parameter-sets attribute.
func negotiateVideoFormat(cfg types.StreamConfiguration, describeBody string) types.VideoFormat {
	supportsHevc := cfg.SupportedVideoFormats&types.VideoFormatH265 != 0
	if supportsHevc && strings.Contains(describeBody, "sprop-parameter-sets=AAAAAU") {
		return types.VideoFormatH265
	}
	if cfg.SupportedVideoFormats&types.VideoFormatAV1 != 0 && strings.Contains(describeBody, "x-nv-video[0].av1Support:1") {
		return types.VideoFormatAV1
	}
	return types.VideoFormatH264
}

// tcpTransport carries RTSP transactions over a fresh TCP connection
// per message, matching transactRtspMessageTcp's connect-send-recv-
// until-close pattern (the server closes the connection after each
// response, so a single Dial per request is the correct shape, not a
// persistent socket).
type tcpTransport struct {
	addr string
}

func newTCPTransport(serverIP string, port int) (*tcpTransport, error) {
	return &tcpTransport{addr: net.JoinHostPort(serverIP, strconv.Itoa(port))}, nil
}

func (t *tcpTransport) transact(raw []byte, _ []byte, _ bool) ([]byte, error) {
	conn, err := net.DialTimeout("tcp", t.addr, TimeoutSec*time.Second)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(TimeoutSec * time.Second))
	if _, err := conn.Write(raw); err != nil {
		return nil, fmt.Errorf("rtsp: send failed: %w", err)
	}
	return io.ReadAll(conn)
}

func (t *tcpTransport) close() {}

// enetTransport carries RTSP transactions over an ENet reliable-UDP
// connection, used by GFE builds that haven't enabled RTSP-over-TCP yet
// (matches transactRtspMessageEnet: message and payload travel as two
// separate reliable packets, and the response may likewise arrive as a
// header packet followed by a payload packet).
type enetTransport struct {
	host enet.Host
	peer enet.Peer
}

const enetRTSPChannelCount = 1

func newEnetTransport(serverIP string, port int) (*enetTransport, error) {
	host, err := enet.NewHost(nil, 1, enetRTSPChannelCount, 0, 0)
	if err != nil {
		return nil, err
	}
	addr := enet.NewAddress(serverIP, uint16(port))
	peer, err := host.Connect(addr, enetRTSPChannelCount, 0)
	if err != nil {
		host.Destroy()
		return nil, err
	}

	deadline := time.Now().Add(TimeoutSec * time.Second)
	connected := false
	for time.Now().Before(deadline) {
		ev := host.Service(100)
		if ev.GetType() == enet.EventConnect {
			connected = true
			break
		}
	}
	if !connected {
		peer.Reset()
		host.Destroy()
		return nil, errors.New("rtsp: ENet connect to port 48010 timed out")
	}
	host.Flush()

	return &enetTransport{host: host, peer: peer}, nil
}

func (t *enetTransport) transact(raw []byte, payload []byte, expectingPayload bool) ([]byte, error) {
	if err := t.peer.SendBytes(raw, 0, enet.PacketFlagReliable); err != nil {
		return nil, err
	}
	t.host.Flush()

	if len(payload) > 0 {
		if err := t.peer.SendBytes(payload, 0, enet.PacketFlagReliable); err != nil {
			return nil, err
		}
		t.host.Flush()
	}

	header, err := t.waitForPacket()
	if err != nil {
		return nil, err
	}
	if !expectingPayload {
		return header, nil
	}
	tail, err := t.waitForPacket()
	if err != nil {
		return nil, err
	}
	return append(header, tail...), nil
}

func (t *enetTransport) waitForPacket() ([]byte, error) {
	deadline := time.Now().Add(TimeoutSec * time.Second)
	for time.Now().Before(deadline) {
		ev := t.host.Service(100)
		if ev.GetType() == enet.EventReceive {
			pkt := ev.GetPacket()
			data := append([]byte(nil), pkt.GetData()...)
			pkt.Destroy()
			return data, nil
		}
	}
	return nil, errors.New("rtsp: ENet reply timed out")
}

func (t *enetTransport) close() {
	if t.peer != nil {
		t.peer.DisconnectNow(0)
	}
	if t.host != nil {
		t.host.Destroy()
	}
}

// UseEnetForAppVersion reports whether this app version speaks RTSP
// over ENet rather than TCP: GFE generations 5 through 7 before build
// 7.1.404 (performRtspHandshake's useEnet condition). Sunshine and
// every other generation use TCP.
func UseEnetForAppVersion(appVersion [4]int, isSunshine bool) bool {
	if isSunshine {
		return false
	}
	return appVersion[0] >= 5 && appVersion[0] <= 7 && !protocol.AppVersionAtLeast(appVersion, 7, 1, 404)
}
