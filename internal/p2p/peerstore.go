package p2p

import (
	"encoding/json"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Peer-count targets and known-peer ceiling from spec.md §4.5.
const (
	MinActivePeers    = 3
	TargetActivePeers = 8
	MaxActivePeers    = 32
	MaxKnownPeers     = 2000
)

// backoffSchedule is spec.md §4.5's literal exponential backoff
// ladder in seconds, capped at the last entry.
var backoffSchedule = [...]int64{5, 10, 20, 40, 80, 160, 300}

// peerTTL is how long a peer entry survives without being seen before
// it becomes eligible for pruning (spec.md §4.5: "last_seen > 7 days").
const peerTTL = 7 * 24 * time.Hour

// stalePruneFailures is the failure count at or above which a stale
// entry is actually removed, per spec.md §4.5.
const stalePruneFailures = 8

// PeerEntry is the entity from spec.md §3.
type PeerEntry struct {
	Addr            string     `json:"addr"`
	LastSeen        *time.Time `json:"last_seen,omitempty"`
	Failures        int        `json:"failures"`
	BannedUntil     *time.Time `json:"banned_until,omitempty"`
	Role            string     `json:"role,omitempty"`
	RateWindowStart *time.Time `json:"rate_window_start,omitempty"`
	RateCount       int        `json:"rate_count"`
	BackoffSecs     int64      `json:"backoff_secs"`
	NextRetry       *time.Time `json:"next_retry,omitempty"`
	LastPEX         *time.Time `json:"last_pex,omitempty"`
}

func newPeerEntry(addr string) *PeerEntry {
	now := time.Now()
	return &PeerEntry{Addr: addr, LastSeen: &now, RateWindowStart: &now}
}

// RecordFailureWithBackoff advances the exponential backoff ladder and
// sets NextRetry with up-to-25% jitter, per spec.md §4.5.
func (p *PeerEntry) RecordFailureWithBackoff() {
	p.Failures++
	idx := p.Failures - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffSchedule) {
		idx = len(backoffSchedule) - 1
	}
	p.BackoffSecs = backoffSchedule[idx]
	jitter := time.Duration(rand.Int63n(p.BackoffSecs*250/1000+1)) * time.Second
	next := time.Now().Add(time.Duration(p.BackoffSecs)*time.Second + jitter)
	p.NextRetry = &next
}

// IsReadyForRetry reports whether enough time has passed since the
// last failure (or this peer has never failed) to attempt reconnection.
func (p *PeerEntry) IsReadyForRetry() bool {
	if p.NextRetry == nil {
		return true
	}
	return !time.Now().Before(*p.NextRetry)
}

// ResetBackoff clears backoff state on a successful handshake.
func (p *PeerEntry) ResetBackoff() {
	p.Failures = 0
	p.BackoffSecs = 0
	p.NextRetry = nil
}

func (p *PeerEntry) touchSeen() {
	now := time.Now()
	p.LastSeen = &now
}

// PeerStore is the durable, atomically-persisted (temp file + rename)
// set of known peers, with diversity-aware selection and pruning.
type PeerStore struct {
	mu    sync.RWMutex
	peers map[string]*PeerEntry
	path  string
}

func NewPeerStore(path string) *PeerStore {
	return &PeerStore{peers: make(map[string]*PeerEntry), path: path}
}

// Load reads the persisted peer list; a missing file is not an error
// (a freshly-initialized node has no known peers yet).
func (s *PeerStore) Load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var list []*PeerEntry
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range list {
		s.peers[p.Addr] = p
	}
	return nil
}

// Save persists the peer list atomically: write to a temp file in the
// same directory, then rename over the destination.
func (s *PeerStore) Save() error {
	if s.path == "" {
		return nil
	}
	s.mu.RLock()
	list := make([]*PeerEntry, 0, len(s.peers))
	for _, p := range s.peers {
		list = append(list, p)
	}
	s.mu.RUnlock()

	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".peerstore-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}

// Upsert adds or refreshes a peer entry by address.
func (s *PeerStore) Upsert(addr, role string) *PeerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[addr]
	if !ok {
		p = newPeerEntry(addr)
		s.peers[addr] = p
	}
	if role != "" {
		p.Role = role
	}
	p.touchSeen()
	return p
}

func (s *PeerStore) Get(addr string) (*PeerEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.peers[addr]
	return p, ok
}

// RecordFailure marks addr as failed and advances its backoff.
func (s *PeerStore) RecordFailure(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[addr]
	if !ok {
		p = newPeerEntry(addr)
		s.peers[addr] = p
	}
	p.RecordFailureWithBackoff()
}

// RecordSuccess resets addr's backoff on a successful handshake.
func (s *PeerStore) RecordSuccess(addr, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[addr]
	if !ok {
		p = newPeerEntry(addr)
		s.peers[addr] = p
	}
	p.ResetBackoff()
	p.touchSeen()
	if role != "" {
		p.Role = role
	}
}

// Ban marks addr as banned until the given time.
func (s *PeerStore) Ban(addr string, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[addr]
	if !ok {
		p = newPeerEntry(addr)
		s.peers[addr] = p
	}
	p.BannedUntil = &until
}

func (p *PeerEntry) isBanned() bool {
	return p.BannedUntil != nil && time.Now().Before(*p.BannedUntil)
}

// Snapshot returns a copy of every known entry.
func (s *PeerStore) Snapshot() []*PeerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*PeerEntry, 0, len(s.peers))
	for _, p := range s.peers {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// Prune removes stale entries (last_seen > 7 days ago AND failures >=
// 8) and, if the store still exceeds MaxKnownPeers, applies
// diversity-aware pruning that keeps up to MaxKnownPeers/3+10 of each
// role, per spec.md §4.5.
func (s *PeerStore) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-peerTTL)
	for addr, p := range s.peers {
		if p.LastSeen != nil && p.LastSeen.Before(cutoff) && p.Failures >= stalePruneFailures {
			delete(s.peers, addr)
		}
	}
	if len(s.peers) <= MaxKnownPeers {
		return
	}

	limit := MaxKnownPeers/3 + 10
	counts := map[string]int{}
	list := make([]*PeerEntry, 0, len(s.peers))
	for _, p := range s.peers {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		li, lj := list[i].LastSeen, list[j].LastSeen
		if li == nil {
			return false
		}
		if lj == nil {
			return true
		}
		return li.After(*lj)
	})
	for _, p := range list {
		role := p.Role
		if role == "" {
			role = "unknown"
		}
		counts[role]++
		if counts[role] > limit {
			delete(s.peers, p.Addr)
		}
	}
}

// extractSubnet groups addresses for diversity: the /24 for IPv4
// "IP:PORT", or the first 10 characters of a ".onion:PORT" address.
func extractSubnet(addr string) string {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	if strings.HasSuffix(host, ".onion") {
		if len(host) > 10 {
			return host[:10]
		}
		return host
	}
	parts := strings.Split(host, ".")
	if len(parts) == 4 {
		return strings.Join(parts[:3], ".")
	}
	if len(host) > 10 {
		return host[:10]
	}
	return host
}

// SelectDiverse groups candidates by subnet, shuffles the subnet
// order, and picks one peer per subnet (preferring the top half by
// recency within that subnet), skipping addresses already in
// existing. This is spec.md §4.5's diversity-aware outbound selection.
func SelectDiverse(candidates []*PeerEntry, existing map[string]bool, count int) []*PeerEntry {
	groups := map[string][]*PeerEntry{}
	for _, p := range candidates {
		if existing[p.Addr] || p.isBanned() || !p.IsReadyForRetry() {
			continue
		}
		subnet := extractSubnet(p.Addr)
		groups[subnet] = append(groups[subnet], p)
	}
	if len(groups) == 0 {
		return nil
	}

	subnets := make([]string, 0, len(groups))
	for k := range groups {
		subnets = append(subnets, k)
	}
	rand.Shuffle(len(subnets), func(i, j int) { subnets[i], subnets[j] = subnets[j], subnets[i] })

	var selected []*PeerEntry
	for _, subnet := range subnets {
		if len(selected) >= count {
			break
		}
		group := groups[subnet]
		sort.Slice(group, func(i, j int) bool {
			li, lj := group[i].LastSeen, group[j].LastSeen
			if li == nil {
				return false
			}
			if lj == nil {
				return true
			}
			return li.After(*lj)
		})
		topN := len(group) / 2
		if topN < 2 {
			topN = 2
		}
		if topN > len(group) {
			topN = len(group)
		}
		top := group[:topN]
		selected = append(selected, top[rand.Intn(len(top))])
	}
	return selected
}

// RecentlyActivePEXCandidates returns up to 50 peers seen within the
// last 3 hours with fewer than 3 failures, excluding exclude, per
// spec.md §4.5's PEX response rule.
func (s *PeerStore) RecentlyActivePEXCandidates(exclude string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := time.Now().Add(-3 * time.Hour)
	var out []string
	for addr, p := range s.peers {
		if addr == exclude || p.Failures >= 3 {
			continue
		}
		if p.LastSeen == nil || p.LastSeen.Before(cutoff) {
			continue
		}
		out = append(out, addr)
		if len(out) >= 50 {
			break
		}
	}
	return out
}
