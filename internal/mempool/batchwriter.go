package mempool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/empower1/empower1/internal/storage"
)

const (
	flushInterval   = 100 * time.Millisecond
	flushBatchCount = 500

	ksTxHash  = "tx_hash"
	ksTx      = "tx"
	ksMempool = "mempool"
)

// BatchWriter is the producer/consumer durability boundary between
// admission and the store (spec.md §4.4): Submit returns immediately,
// and a background consumer flushes every flushInterval or whenever
// flushBatchCount transactions are buffered, whichever comes first.
// Every flush is one atomic storage batch.
type BatchWriter struct {
	store  *storage.Store
	logger *zap.Logger

	mu      sync.Mutex
	buffer  []*PendingTx

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBatchWriter(store *storage.Store, logger *zap.Logger) *BatchWriter {
	return &BatchWriter{store: store, logger: logger}
}

// Start launches the flush consumer loop.
func (w *BatchWriter) Start(ctx context.Context) {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run()
}

// Stop cancels the consumer loop and flushes whatever remains
// buffered, honoring spec.md §5's "cancellation never partially
// applies a persisted batch" guarantee.
func (w *BatchWriter) Stop() {
	w.cancel()
	w.wg.Wait()
	w.flush()
}

// Submit enqueues a pending transaction for durable persistence and
// returns immediately; it does not wait for the flush.
func (w *BatchWriter) Submit(ptx *PendingTx) {
	w.mu.Lock()
	w.buffer = append(w.buffer, ptx)
	shouldFlushNow := len(w.buffer) >= flushBatchCount
	w.mu.Unlock()

	if shouldFlushNow {
		w.flush()
	}
}

func (w *BatchWriter) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush()
		}
	}
}

// flush drains the buffer and writes tx_hash/tx/mempool records in a
// single atomic batch.
func (w *BatchWriter) flush() {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.buffer
	w.buffer = nil
	w.mu.Unlock()

	ops := make([]storage.WriteOp, 0, len(batch)*3)
	for _, ptx := range batch {
		ops = append(ops,
			storage.WriteOp{Keyspace: ksTxHash, Key: ptx.TxHash, Value: []byte(ptx.TxID.String())},
			storage.WriteOp{Keyspace: ksTx, Key: ptx.TxID.String(), Value: ptx.Envelope},
			storage.WriteOp{
				Keyspace: ksMempool,
				Key:      fmt.Sprintf("%d:%s", ptx.ArrivalTime.UnixNano(), ptx.TxID.String()),
				Value:    ptx.Envelope,
			},
		)
	}

	if err := w.store.BatchPut(ops); err != nil {
		if w.logger != nil {
			w.logger.Error("mempool: batch flush failed", zap.Int("count", len(batch)), zap.Error(err))
		}
		return
	}
	if w.logger != nil {
		w.logger.Debug("mempool: flushed batch", zap.Int("count", len(batch)))
	}
}
