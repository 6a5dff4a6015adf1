package p2p

import (
	"net"
	"sync"
	"time"
)

// keepaliveInterval is spec.md §4.5's literal ping/pong cadence.
const keepaliveInterval = 15 * time.Second

// Peer is one authenticated, connected remote node.
type Peer struct {
	Info    PeerInfo
	Addr    string
	conn    net.Conn
	writeMu sync.Mutex

	mu           sync.RWMutex
	lastActivity time.Time
}

func newPeer(conn net.Conn, info PeerInfo, addr string) *Peer {
	return &Peer{Info: info, Addr: addr, conn: conn, lastActivity: time.Now()}
}

// Send writes one envelope to the peer; concurrent sends are
// serialized so frames are never interleaved on the wire.
func (p *Peer) Send(env *Envelope) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return WriteFrame(p.conn, env)
}

// Recv reads the next envelope, blocking until one arrives or the
// connection errors/closes.
func (p *Peer) Recv() (*Envelope, error) {
	return ReadFrame(p.conn)
}

func (p *Peer) touch() {
	p.mu.Lock()
	p.lastActivity = time.Now()
	p.mu.Unlock()
}

// IdleFor reports how long it has been since the last inbound message
// from this peer, for keepalive liveness checks.
func (p *Peer) IdleFor() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Since(p.lastActivity)
}

func (p *Peer) Close() error {
	return p.conn.Close()
}
