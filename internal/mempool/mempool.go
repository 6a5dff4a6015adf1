// Package mempool implements transaction admission, prioritized
// selection, and durable queueing per spec.md §4.4. Grounded on the
// teacher's internal/mempool/mempool.go for its mutex-guarded
// map+ordered-index shape and re-sort-on-insert selection idiom,
// generalized from the teacher's StimulusTx-first/fee/age comparator
// to the spec's fee-density-descending, arrival-time-ascending order
// with lowest-fee-per-byte eviction.
package mempool

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/empower1/empower1/internal/ledger"
)

var (
	ErrDuplicateTransaction = errors.New("mempool: transaction hash already admitted")
	ErrMempoolFull          = errors.New("mempool: at capacity and new transaction does not outrank the lowest fee density")
)

// PendingTx is one admitted, not-yet-batched transaction.
type PendingTx struct {
	TxID        uuid.UUID
	TxHash      string
	Envelope    []byte
	Fee         uint64
	Size        int
	ArrivalTime time.Time
}

// feeDensity is fee per byte of the serialized envelope, the
// admission ranking's primary key.
func (p *PendingTx) feeDensity() float64 {
	if p.Size == 0 {
		return 0
	}
	return float64(p.Fee) / float64(p.Size)
}

// Mempool holds admitted transactions in fee-density order.
type Mempool struct {
	mu       sync.Mutex
	byHash   map[string]uuid.UUID
	items    map[uuid.UUID]*PendingTx
	ordered  []uuid.UUID // kept sorted: fee density desc, arrival time asc
	capacity int
	logger   *zap.Logger
}

func New(capacity int, logger *zap.Logger) *Mempool {
	return &Mempool{
		byHash:   make(map[string]uuid.UUID),
		items:    make(map[uuid.UUID]*PendingTx),
		capacity: capacity,
		logger:   logger,
	}
}

// Admit verifies tx's signature, rejects duplicate tx_hash, and
// inserts it in priority order, evicting the lowest fee-density
// transaction if the mempool is at capacity and the new transaction
// outranks it.
func (mp *Mempool) Admit(tx *ledger.Transaction, chainID string, blockHeight uint64, envelope []byte) (*PendingTx, error) {
	if err := tx.VerifySignature(chainID, blockHeight); err != nil {
		return nil, err
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.byHash[tx.TxHash]; exists {
		return nil, ErrDuplicateTransaction
	}

	ptx := &PendingTx{
		TxID:        tx.ID,
		TxHash:      tx.TxHash,
		Envelope:    envelope,
		Fee:         tx.Fee,
		Size:        len(envelope),
		ArrivalTime: time.Now(),
	}

	if len(mp.items) >= mp.capacity {
		lowestID := mp.ordered[len(mp.ordered)-1]
		lowest := mp.items[lowestID]
		if ptx.feeDensity() <= lowest.feeDensity() {
			return nil, ErrMempoolFull
		}
		mp.removeLocked(lowestID)
		if mp.logger != nil {
			mp.logger.Info("mempool: evicted lowest fee-density transaction", zap.String("tx_hash", lowest.TxHash))
		}
	}

	mp.items[ptx.TxID] = ptx
	mp.byHash[ptx.TxHash] = ptx.TxID
	mp.insertOrderedLocked(ptx.TxID)
	return ptx, nil
}

func (mp *Mempool) insertOrderedLocked(id uuid.UUID) {
	mp.ordered = append(mp.ordered, id)
	sort.SliceStable(mp.ordered, func(i, j int) bool {
		a, b := mp.items[mp.ordered[i]], mp.items[mp.ordered[j]]
		if a.feeDensity() != b.feeDensity() {
			return a.feeDensity() > b.feeDensity()
		}
		return a.ArrivalTime.Before(b.ArrivalTime)
	})
}

func (mp *Mempool) removeLocked(id uuid.UUID) {
	item, ok := mp.items[id]
	if !ok {
		return
	}
	delete(mp.items, id)
	delete(mp.byHash, item.TxHash)
	for i, oid := range mp.ordered {
		if oid == id {
			mp.ordered = append(mp.ordered[:i], mp.ordered[i+1:]...)
			break
		}
	}
}

// SelectTransactions returns up to limit transaction IDs in priority
// order, satisfying bft.MempoolSource.
func (mp *Mempool) SelectTransactions(limit int) []uuid.UUID {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if limit > len(mp.ordered) {
		limit = len(mp.ordered)
	}
	out := make([]uuid.UUID, limit)
	copy(out, mp.ordered[:limit])
	return out
}

// Remove drops txIDs from the mempool, used once their transactions
// are finalized in a committed block.
func (mp *Mempool) Remove(txIDs []uuid.UUID) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	for _, id := range txIDs {
		mp.removeLocked(id)
	}
}

func (mp *Mempool) Size() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return len(mp.items)
}

func (mp *Mempool) Get(id uuid.UUID) (*PendingTx, bool) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	tx, ok := mp.items[id]
	return tx, ok
}
