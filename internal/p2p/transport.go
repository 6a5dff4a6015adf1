package p2p

import (
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/proxy"
)

// connectTimeout bounds outbound dial attempts, per spec.md §5 (5-10s).
const connectTimeout = 8 * time.Second

// TransportConfig selects how outbound connections are made, per
// spec.md §4.5: a ".onion" suffix routes through the TOR SOCKS5 proxy;
// everything else is clearnet, optionally wrapped in TLS.
type TransportConfig struct {
	TorSOCKSAddr string // e.g. "127.0.0.1:9050"
	UseTLS       bool
	TLSConfig    *tls.Config // nil uses a default config with the derived SNI
}

// Dial selects the transport for addr and connects, per spec.md §4.5.
// A "ws://" or "wss://" scheme routes through the websocket transport
// reserved for light-client relays (spec.md §4.5's "browser-facing
// light clients cannot hold a raw TCP socket" case); anything else is
// the usual TCP/TOR/TLS path.
func Dial(addr string, cfg TransportConfig) (net.Conn, error) {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return dialWebSocket(addr)
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("p2p: invalid peer address %q: %w", addr, err)
	}

	if strings.HasSuffix(host, ".onion") {
		return dialOnion(addr, cfg)
	}

	conn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("p2p: dial %s: %w", addr, err)
	}
	if !cfg.UseTLS {
		return conn, nil
	}
	tlsCfg := cfg.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	} else if tlsCfg.ServerName == "" {
		c := tlsCfg.Clone()
		c.ServerName = host
		tlsCfg = c
	}
	tlsConn := tls.Client(conn, tlsCfg)
	if err := tlsConn.SetDeadline(time.Now().Add(connectTimeout)); err != nil {
		conn.Close()
		return nil, err
	}
	if err := tlsConn.Handshake(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("p2p: tls handshake with %s: %w", addr, err)
	}
	_ = tlsConn.SetDeadline(time.Time{})
	return tlsConn, nil
}

// dialOnion routes a ".onion" address through the configured TOR
// SOCKS5 proxy using golang.org/x/net/proxy, the same SOCKS5 client
// library the teacher's dependency pack already carries transitively
// via golang.org/x/net.
func dialOnion(addr string, cfg TransportConfig) (net.Conn, error) {
	socksAddr := cfg.TorSOCKSAddr
	if socksAddr == "" {
		socksAddr = "127.0.0.1:9050"
	}
	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, &net.Dialer{Timeout: connectTimeout})
	if err != nil {
		return nil, fmt.Errorf("p2p: tor socks dialer: %w", err)
	}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("p2p: dial onion %s via %s: %w", addr, socksAddr, err)
	}
	return conn, nil
}

// dialWebSocket opens a websocket connection and wraps it as a
// net.Conn so the rest of this package's framing/handshake code never
// has to know which transport carried it.
func dialWebSocket(addr string) (net.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("p2p: websocket dial %s: %w", addr, err)
	}
	return newWSConn(conn), nil
}

// wsConn adapts a *websocket.Conn to net.Conn: every Write is one
// binary message, and Read drains one message at a time into the
// caller's buffer, carrying across reads when the caller's buffer is
// smaller than the message.
type wsConn struct {
	*websocket.Conn
	readBuf []byte
}

func newWSConn(c *websocket.Conn) *wsConn { return &wsConn{Conn: c} }

func (w *wsConn) Read(p []byte) (int, error) {
	for len(w.readBuf) == 0 {
		_, data, err := w.Conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		w.readBuf = data
	}
	n := copy(p, w.readBuf)
	w.readBuf = w.readBuf[n:]
	return n, nil
}

func (w *wsConn) Write(p []byte) (int, error) {
	if err := w.Conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsConn) SetDeadline(t time.Time) error {
	if err := w.Conn.SetReadDeadline(t); err != nil {
		return err
	}
	return w.Conn.SetWriteDeadline(t)
}
