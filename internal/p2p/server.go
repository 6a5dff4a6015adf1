package p2p

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config configures one Server instance.
type Config struct {
	SelfNodeID string
	SelfPub    ed25519.PublicKey
	SelfPriv   ed25519.PrivateKey
	Role       string

	ListenAddr      string
	// WSListenAddr, when non-empty, additionally serves the same
	// gossip protocol over a websocket upgrade endpoint for
	// browser-facing light clients that cannot hold a raw TCP socket.
	WSListenAddr    string
	Transport       TransportConfig
	AuthorizedPeers []string
	BootstrapPeers  []string
	Discovery       DiscoveryConfig

	PeerStorePath string

	MaxMessagesPerWindow int
	RateWindowSecs       int
	MaxConnectionsPerIP  int
}

// Server runs the gossip overlay for one node: a single listener, an
// adaptive set of outbound connections, handshake enforcement,
// deduplication, PEX, and keepalive, per spec.md §4.5.
type Server struct {
	cfg    Config
	logger *zap.Logger

	dedup     *DedupCache
	rate      *RateLimiter
	peerStore *PeerStore

	mu    sync.RWMutex
	peers map[string]*Peer

	listener   net.Listener
	wsUpgrader websocket.Upgrader
	wsServer   *http.Server

	// OnMessage is invoked for every post-handshake, non-protocol
	// message (gossip_tx and the BFT control types); protocol-level
	// types (hello/challenge/signature/peer_list/peer_request/ping/
	// pong) are handled internally and never reach this callback.
	OnMessage func(*Peer, *Envelope)

	// OnPeerConnected is invoked once a peer completes its handshake,
	// inbound or outbound, before the read loop starts; a node uses
	// this to register the peer's public key with its validator
	// registry without this package importing bft.
	OnPeerConnected func(*Peer)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewServer(cfg Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:       cfg,
		logger:    logger,
		dedup:     NewDedupCache(),
		rate:      NewRateLimiter(cfg.MaxMessagesPerWindow, cfg.RateWindowSecs, cfg.MaxConnectionsPerIP, logger),
		peerStore: NewPeerStore(cfg.PeerStorePath),
		peers:     make(map[string]*Peer),
	}
}

// Start opens the listener and launches the accept loop, the outbound
// maintenance loop, the dedup-cache pruner, and the keepalive checker.
func (s *Server) Start(ctx context.Context) error {
	if err := s.peerStore.Load(); err != nil {
		s.logger.Warn("p2p: failed to load peer store, starting empty", zap.Error(err))
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("p2p: listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = ln
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(4)
	go s.acceptLoop()
	go s.outboundMaintenanceLoop()
	go s.dedupPruneLoop()
	go s.keepaliveLoop()

	if s.cfg.WSListenAddr != "" {
		s.startWebSocketListener()
	}

	for _, addr := range s.cfg.BootstrapPeers {
		addr := addr
		go func() { _ = s.connectOutbound(addr) }()
	}

	s.logger.Info("p2p: server started", zap.String("listen_addr", s.cfg.ListenAddr))
	return nil
}

// Stop cancels all background loops, closes the listener and active
// connections, and flushes the peer store, per spec.md §5's
// "cancellation never partially applies a persisted batch" rule (the
// peer store write is itself an atomic temp-file-then-rename).
func (s *Server) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.wsServer != nil {
		_ = s.wsServer.Close()
	}
	s.mu.Lock()
	for _, p := range s.peers {
		_ = p.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return s.peerStore.Save()
}

// startWebSocketListener runs an HTTP server whose only route upgrades
// to a websocket carrying this package's ordinary framed envelopes,
// handed to the same handleInbound path as a raw TCP accept.
func (s *Server) startWebSocketListener() {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("p2p: websocket upgrade failed", zap.Error(err))
			return
		}
		s.handleInbound(newWSConn(conn))
	})
	s.wsServer = &http.Server{Addr: s.cfg.WSListenAddr, Handler: mux}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Warn("p2p: websocket listener stopped", zap.Error(err))
		}
	}()
	s.logger.Info("p2p: websocket listener started", zap.String("addr", s.cfg.WSListenAddr))
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Warn("p2p: accept error", zap.Error(err))
				continue
			}
		}
		go s.handleInbound(conn)
	}
}

func (s *Server) handleInbound(conn net.Conn) {
	ip, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	if !s.rate.AllowConnection(ip) {
		s.logger.Warn("p2p: rejecting inbound connection over per-IP cap", zap.String("ip", ip))
		conn.Close()
		return
	}
	defer s.rate.ReleaseConnection(ip)

	s.mu.RLock()
	activeCount := len(s.peers)
	s.mu.RUnlock()
	if activeCount >= MaxActivePeers {
		s.logger.Warn("p2p: rejecting inbound connection at MAX_ACTIVE_PEERS", zap.Int("active", activeCount))
		conn.Close()
		return
	}

	knownPeers := s.peerStore.RecentlyActivePEXCandidates("")
	info, err := ServerHandshake(conn, s.cfg.SelfNodeID, s.cfg.SelfPub, s.cfg.Role, s.cfg.AuthorizedPeers, knownPeers)
	if err != nil {
		s.logger.Warn("p2p: inbound handshake failed", zap.Error(err), zap.String("remote", conn.RemoteAddr().String()))
		conn.Close()
		return
	}

	addr := conn.RemoteAddr().String()
	peer := newPeer(conn, *info, addr)
	s.registerPeer(peer)
	s.peerStore.RecordSuccess(addr, info.Role)
	if s.OnPeerConnected != nil {
		s.OnPeerConnected(peer)
	}
	s.readLoop(peer)
}

// outboundMaintenanceLoop keeps the active set between
// TARGET_ACTIVE_PEERS (aspirational) and MIN_ACTIVE_PEERS (floor),
// dialing diversity-selected candidates from the peer store or, if
// empty, the discovery waterfall.
func (s *Server) outboundMaintenanceLoop() {
	defer s.wg.Done()
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			s.maintainOutbound()
		}
	}
}

func (s *Server) maintainOutbound() {
	s.mu.RLock()
	active := len(s.peers)
	existing := make(map[string]bool, len(s.peers))
	for addr := range s.peers {
		existing[addr] = true
	}
	s.mu.RUnlock()

	if active >= TargetActivePeers {
		return
	}
	need := TargetActivePeers - active
	if active < MinActivePeers {
		need = MinActivePeers - active
	}

	candidates := s.peerStore.Snapshot()
	if len(candidates) == 0 {
		for _, addr := range Discover(s.peerStore, s.cfg.Discovery) {
			s.peerStore.Upsert(addr, "")
		}
		candidates = s.peerStore.Snapshot()
	}

	picked := SelectDiverse(candidates, existing, need)
	for _, p := range picked {
		addr := p.Addr
		go func() { _ = s.connectOutbound(addr) }()
	}
}

func (s *Server) connectOutbound(addr string) error {
	s.mu.RLock()
	_, already := s.peers[addr]
	n := len(s.peers)
	s.mu.RUnlock()
	if already || n >= MaxActivePeers {
		return nil
	}

	conn, err := Dial(addr, s.cfg.Transport)
	if err != nil {
		s.peerStore.RecordFailure(addr)
		s.logger.Debug("p2p: outbound dial failed", zap.String("addr", addr), zap.Error(err))
		return err
	}
	info, discovered, err := ClientHandshake(conn, s.cfg.SelfNodeID, s.cfg.SelfPub, s.cfg.SelfPriv, s.cfg.Role)
	if err != nil {
		conn.Close()
		s.peerStore.RecordFailure(addr)
		return err
	}

	peer := newPeer(conn, *info, addr)
	s.registerPeer(peer)
	s.peerStore.RecordSuccess(addr, info.Role)
	if s.OnPeerConnected != nil {
		s.OnPeerConnected(peer)
	}
	for _, d := range discovered {
		if IsValidPeerAddress(d) {
			s.peerStore.Upsert(d, "")
		}
	}
	s.readLoop(peer)
	return nil
}

func (s *Server) registerPeer(p *Peer) {
	s.mu.Lock()
	s.peers[p.Addr] = p
	s.mu.Unlock()
}

func (s *Server) unregisterPeer(addr string) {
	s.mu.Lock()
	delete(s.peers, addr)
	s.mu.Unlock()
}

func (s *Server) readLoop(p *Peer) {
	defer func() {
		p.Close()
		s.unregisterPeer(p.Addr)
	}()
	for {
		env, err := p.Recv()
		if err != nil {
			return
		}
		p.touch()

		if !s.rate.AllowMessage(p.Info.NodeID) {
			s.logger.Warn("p2p: dropping message over per-peer rate limit",
				zap.String("peer", p.Info.NodeID))
			continue
		}
		if s.dedup.SeenOrRecord(env.MessageID()) {
			continue
		}
		s.dispatch(p, env)
	}
}

func (s *Server) dispatch(p *Peer, env *Envelope) {
	switch env.Typ {
	case MsgPeerRequest:
		s.handlePeerRequest(p)
	case MsgPeerList:
		s.handlePeerList(env)
	case MsgPing:
		_ = p.Send(mustEnvelope(MsgPong, struct{}{}))
	case MsgPong:
		// liveness already recorded by p.touch() above.
	case MsgHello, MsgChallenge, MsgSignature:
		// handshake messages after the handshake are dropped.
	default:
		if s.OnMessage != nil {
			s.OnMessage(p, env)
		}
	}
}

func (s *Server) handlePeerRequest(p *Peer) {
	peers := s.peerStore.RecentlyActivePEXCandidates(p.Addr)
	_ = p.Send(mustEnvelope(MsgPeerList, PeerListPayload{Peers: peers}))
}

func (s *Server) handlePeerList(env *Envelope) {
	var pl PeerListPayload
	if err := env.Decode(&pl); err != nil {
		return
	}
	if len(pl.Peers) > 50 {
		pl.Peers = pl.Peers[:50]
	}
	for _, addr := range pl.Peers {
		if IsValidPeerAddress(addr) {
			s.peerStore.Upsert(addr, "")
		}
	}
}

func (s *Server) dedupPruneLoop() {
	defer s.wg.Done()
	s.dedup.RunPruneLoop(s.ctx.Done())
}

func (s *Server) keepaliveLoop() {
	defer s.wg.Done()
	t := time.NewTicker(keepaliveInterval)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			s.mu.RLock()
			peers := make([]*Peer, 0, len(s.peers))
			for _, p := range s.peers {
				peers = append(peers, p)
			}
			s.mu.RUnlock()
			for _, p := range peers {
				if p.IdleFor() >= keepaliveInterval {
					_ = p.Send(mustEnvelope(MsgPing, struct{}{}))
				}
			}
			s.peerStore.Prune()
			_ = s.peerStore.Save()
		}
	}
}

// Broadcast sends env to every currently connected peer, dropping (per
// peer) any send that would exceed that peer's rate-limit window
// rather than blocking or erroring the whole broadcast.
func (s *Server) Broadcast(env *Envelope) error {
	s.mu.RLock()
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.RUnlock()

	var firstErr error
	for _, p := range peers {
		if !s.rate.AllowMessage(p.Info.NodeID) {
			continue
		}
		if err := p.Send(env); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ActivePeerCount reports the number of currently connected peers.
func (s *Server) ActivePeerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

func mustEnvelope(typ MessageType, payload any) *Envelope {
	env, err := NewEnvelope(typ, payload)
	if err != nil {
		// payload types passed here are always trivially
		// marshalable (struct{}{} or PeerListPayload); a failure
		// indicates a programming error, not a runtime condition.
		panic(fmt.Sprintf("p2p: mustEnvelope(%s): %v", typ, err))
	}
	return env
}
