package p2p

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxMessagesPerWindow and DefaultRateLimitWindow are spec.md
// §4.5's literal defaults: 600 messages / 60 seconds per peer.
const (
	DefaultMaxMessagesPerWindow = 600
	DefaultRateLimitWindow      = 60 * time.Second
	DefaultMaxConnectionsPerIP  = 10
)

// RateLimiter enforces per-peer message-rate windows and per-IP
// connection caps. spec.md §5 documents that losing rate-limiter state
// to a panic is acceptable (preferable to node death) in a way other
// mutexes (ledger, consensus) must not adopt; Go has no mutex
// "poisoning" the way an async Rust mutex does when a guard holder
// panics, so this is realized as a recovered panic around each
// operation that resets the limiter's own state rather than
// propagating to the caller.
type RateLimiter struct {
	mu     sync.Mutex
	logger *zap.Logger

	maxMessages int
	window      time.Duration
	maxPerIP    int

	messageWindows map[string]*window // peer node_id -> window
	connsPerIP     map[string]int
}

type window struct {
	start time.Time
	count int
}

func NewRateLimiter(maxMessages int, windowSecs int, maxPerIP int, logger *zap.Logger) *RateLimiter {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessagesPerWindow
	}
	w := DefaultRateLimitWindow
	if windowSecs > 0 {
		w = time.Duration(windowSecs) * time.Second
	}
	if maxPerIP <= 0 {
		maxPerIP = DefaultMaxConnectionsPerIP
	}
	return &RateLimiter{
		logger:         logger,
		maxMessages:    maxMessages,
		window:         w,
		maxPerIP:       maxPerIP,
		messageWindows: make(map[string]*window),
		connsPerIP:     make(map[string]int),
	}
}

// AllowMessage reports whether peerID may send one more message right
// now, advancing or resetting its window as needed. A violation on an
// outbound message means the message is dropped by the caller;
// inbound violations are additionally reported to the security log.
func (r *RateLimiter) AllowMessage(peerID string) (allowed bool) {
	defer r.recoverAndReset("AllowMessage")
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	w, ok := r.messageWindows[peerID]
	if !ok || now.Sub(w.start) >= r.window {
		r.messageWindows[peerID] = &window{start: now, count: 1}
		return true
	}
	if w.count >= r.maxMessages {
		return false
	}
	w.count++
	return true
}

// AllowConnection reports whether ip may open one more inbound
// connection, incrementing the counter if so. ReleaseConnection must
// be called when that connection closes.
func (r *RateLimiter) AllowConnection(ip string) (allowed bool) {
	defer r.recoverAndReset("AllowConnection")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connsPerIP[ip] >= r.maxPerIP {
		return false
	}
	r.connsPerIP[ip]++
	return true
}

func (r *RateLimiter) ReleaseConnection(ip string) {
	defer r.recoverAndReset("ReleaseConnection")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connsPerIP[ip] > 0 {
		r.connsPerIP[ip]--
	}
}

// recoverAndReset discards a panic from counter bookkeeping (it would
// otherwise be a programming error, e.g. a nil map after a bad reset)
// and reinitializes the limiter's maps rather than letting the panic
// unwind into the caller's goroutine.
func (r *RateLimiter) recoverAndReset(op string) {
	rec := recover()
	if rec == nil {
		return
	}
	if r.logger != nil {
		r.logger.Error("ratelimit: recovered panic, resetting state",
			zap.String("op", op), zap.Any("panic", rec))
	}
	// mu is free by the time this runs (it unwinds after the deferred
	// Unlock above it on the stack), so it is safe and necessary to
	// take it again before resetting the shared maps.
	r.mu.Lock()
	r.messageWindows = make(map[string]*window)
	r.connsPerIP = make(map[string]int)
	r.mu.Unlock()
}
