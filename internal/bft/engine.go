package bft

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/empower1/empower1/internal/cryptoid"
)

var (
	ErrEngineAlreadyRunning = errors.New("bft: engine is already running")
	ErrEngineNotRunning     = errors.New("bft: engine is not running")
	ErrStaleView            = errors.New("bft: message view is stale")
	ErrLockedByHigherView   = errors.New("bft: proposal conflicts with locked QC")
	ErrBlockCreationFailed  = errors.New("bft: block creation failed")
)

// Broadcaster sends consensus control messages to peers. The gossip
// transport (internal/p2p) implements this; it is injected here so the
// engine never imports the network package directly.
type Broadcaster interface {
	BroadcastProposal(*Proposal) error
	BroadcastVote(*Vote) error
	BroadcastQC(*QuorumCertificate) error
}

// MempoolSource supplies transactions for a new block.
type MempoolSource interface {
	SelectTransactions(limit int) []uuid.UUID
}

// Finalizer is invoked once a QC commits a block; it is expected to
// run VM execution, fee distribution, and anchor acceptance (spec.md
// §2's data flow) before returning.
type Finalizer interface {
	FinalizeBlock(blockID uuid.UUID, txIDs []uuid.UUID) error
}

// Registry resolves a validator's public keys for signature verification.
type Registry interface {
	Validator(id string) (Validator, bool)
}

// Config configures one Engine instance.
type Config struct {
	SelfID      string
	Peers       []string // other validator IDs, NOT including self
	TimeoutMS   int64
	Identity    *cryptoid.Identity
	Migration   cryptoid.MigrationPhase
	MempoolPull int // max transactions pulled per proposal (spec.md §4.1: 200)
}

// innerState is the short-held, mutex-protected state per spec.md §5:
// callers must never block on I/O or a channel while holding mu.
type innerState struct {
	mu               sync.Mutex
	view             uint64
	lockedQC         *QuorumCertificate
	highestQC        *QuorumCertificate
	votes            map[uuid.UUID]map[string]bool // blockID -> voterID -> true
	pendingProposals map[uint64]*Proposal
	lastViewStart    time.Time
	seenVotes        map[string]uuid.UUID // "voterID:view" -> blockID, for equivocation detection
}

// Engine drives the consensus algorithm for one validator.
type Engine struct {
	cfg      Config
	inner    innerState
	registry Registry
	mempool  MempoolSource
	net      Broadcaster
	finalize Finalizer
	slashing SlashingSink
	logger   *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewEngine(cfg Config, registry Registry, mempool MempoolSource, net Broadcaster, finalize Finalizer, slashing SlashingSink, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		registry: registry,
		mempool:  mempool,
		net:      net,
		finalize: finalize,
		slashing: slashing,
		logger:   logger,
		inner: innerState{
			votes:            make(map[uuid.UUID]map[string]bool),
			pendingProposals: make(map[uint64]*Proposal),
			seenVotes:        make(map[string]uuid.UUID),
		},
	}
}

// Start launches the liveness timer goroutine. It is idempotent per
// process lifetime (sync.Once), matching internal/consensus/state.go's
// start/stop discipline.
func (e *Engine) Start(ctx context.Context) error {
	if e.isRunning.Load() {
		return ErrEngineAlreadyRunning
	}
	var startErr error
	e.startOnce.Do(func() {
		e.ctx, e.cancel = context.WithCancel(ctx)
		e.isRunning.Store(true)
		e.wg.Add(1)
		go e.livenessLoop()
		if err := e.StartView(); err != nil {
			startErr = fmt.Errorf("bft: initial start_view: %w", err)
		}
	})
	return startErr
}

func (e *Engine) Stop() error {
	if !e.isRunning.Load() {
		return ErrEngineNotRunning
	}
	e.stopOnce.Do(func() {
		e.cancel()
		e.isRunning.Store(false)
	})
	e.wg.Wait()
	return nil
}

// quorumN is peers + self, per spec.md §4.1's quorum formula.
func (e *Engine) quorumN() int { return len(e.cfg.Peers) + 1 }

// livenessLoop polls every 1000ms and forces a view change on timeout,
// per spec.md §4.1's background liveness task.
func (e *Engine) livenessLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if e.checkViewTimeout() {
				if err := e.ForceViewChange(); err != nil {
					e.logger.Error("force view change failed", zap.Error(err))
				}
			}
		}
	}
}

func (e *Engine) checkViewTimeout() bool {
	e.inner.mu.Lock()
	defer e.inner.mu.Unlock()
	if e.inner.lastViewStart.IsZero() {
		return false
	}
	return time.Since(e.inner.lastViewStart) > time.Duration(e.cfg.TimeoutMS)*time.Millisecond
}

// ForceViewChange simply re-invokes StartView, which round-robin
// re-elects the leader (spec.md §4.1).
func (e *Engine) ForceViewChange() error {
	return e.StartView()
}

// sortedParticipants returns peers+self in lexicographic order, the
// deterministic leader-rotation basis (spec.md §4.1's tie-break rule).
func (e *Engine) sortedParticipants() []string {
	all := append([]string{e.cfg.SelfID}, e.cfg.Peers...)
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j-1] > all[j]; j-- {
			all[j-1], all[j] = all[j], all[j-1]
		}
	}
	return all
}

func (e *Engine) leaderForView(view uint64) string {
	participants := e.sortedParticipants()
	n := uint64(len(participants))
	idx := (view - 1) % n
	return participants[idx]
}
