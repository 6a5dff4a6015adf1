package p2p

import (
	"sync"
	"time"
)

// dedupTTL and dedupPruneInterval are spec.md §4.5's literal values:
// each message id is remembered for 300s and the cache is pruned every
// 30s.
const (
	dedupTTL           = 300 * time.Second
	dedupPruneInterval = 30 * time.Second
)

// DedupCache drops messages whose id (Envelope.MessageID) has already
// been seen within the TTL window, before any further processing.
type DedupCache struct {
	mu   sync.Mutex
	seen map[[32]byte]time.Time
}

func NewDedupCache() *DedupCache {
	return &DedupCache{seen: make(map[[32]byte]time.Time)}
}

// SeenOrRecord reports whether id was already recorded within the TTL
// window; if not, it records id with the current time and returns
// false, so the caller knows to proceed with processing.
func (d *DedupCache) SeenOrRecord(id [32]byte) bool {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.seen[id]; ok && now.Sub(ts) < dedupTTL {
		return true
	}
	d.seen[id] = now
	return false
}

// Prune removes entries older than the TTL. Callers run this every
// dedupPruneInterval.
func (d *DedupCache) Prune() {
	cutoff := time.Now().Add(-dedupTTL)
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, ts := range d.seen {
		if ts.Before(cutoff) {
			delete(d.seen, id)
		}
	}
}

// RunPruneLoop blocks, pruning every dedupPruneInterval, until stop is
// closed.
func (d *DedupCache) RunPruneLoop(stop <-chan struct{}) {
	t := time.NewTicker(dedupPruneInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			d.Prune()
		}
	}
}
