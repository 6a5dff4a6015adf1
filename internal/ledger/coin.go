package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/empower1/empower1/internal/storage"
)

// TotalSupplyUnits is the hard cap of 103,000,000 coins at 10^8
// smallest units each (spec.md §4.3), checked on every mint path.
const TotalSupplyUnits uint64 = 103_000_000 * 100_000_000

// Genesis distribution, per spec.md §4.3.
const (
	GenesisDistributionUnits uint64 = 13_000_000 * 100_000_000
	GenesisVestingUnits      uint64 = 90_000_000 * 100_000_000
)

var (
	ErrAlreadyInitialized = errors.New("ledger: genesis already initialized")
	ErrInsufficientFunds  = errors.New("ledger: insufficient unlocked balance")
	ErrBadNonce           = errors.New("ledger: nonce does not match sender's next nonce")
	ErrSupplyCapExceeded  = errors.New("ledger: credit would exceed total supply cap")
	ErrSupplyCapViolation = errors.New("ledger: global supply cap invariant violated")
)

// BalanceRecord mirrors spec.md §3: balance+locked must never exceed
// TotalSupplyUnits for a single account, and the global sum must never
// exceed it either.
type BalanceRecord struct {
	Address   string
	Balance   uint64
	Locked    uint64
	UpdatedAt time.Time
}

// NonceRecord is a per-sender monotonic counter, advanced atomically
// with the transaction's balance effects.
type NonceRecord struct {
	Address string
	Next    uint64
}

// Ledger is the native coin ledger. A single in-process mutex
// serializes all mutating operations; spec.md §5 notes storage writes
// are already serialized internally, but the supply-cap and nonce
// invariants require a single logical critical section spanning the
// read-modify-write, so the ledger holds its own short lock around
// each operation rather than relying on the store alone.
type Ledger struct {
	mu    sync.Mutex
	store *storage.Store
}

func New(store *storage.Store) *Ledger {
	return &Ledger{store: store}
}

const (
	ksBalance = "balance"
	ksNonce   = "nonce"
	ksOuro    = "ouro"
	ksTx      = "tx"
)

// InitGenesis performs the one-time genesis distribution: 13M coins to
// distributionAddr, 90M coins to vestingAddr with locked == balance.
// Re-initialization after the genesis_initialized flag is set fails,
// per spec.md §4.3 and the idempotence property in §8.
func (l *Ledger) InitGenesis(distributionAddr, vestingAddr string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, err := l.store.Get(ksOuro, "genesis_initialized"); err == nil && len(v) > 0 {
		return ErrAlreadyInitialized
	}

	now := time.Now()
	distRec := BalanceRecord{Address: distributionAddr, Balance: GenesisDistributionUnits, UpdatedAt: now}
	vestRec := BalanceRecord{Address: vestingAddr, Balance: GenesisVestingUnits, Locked: GenesisVestingUnits, UpdatedAt: now}

	err := l.store.BatchPut([]storage.WriteOp{
		{Keyspace: ksBalance, Key: distributionAddr, Value: encodeBalance(distRec)},
		{Keyspace: ksBalance, Key: vestingAddr, Value: encodeBalance(vestRec)},
		{Keyspace: ksOuro, Key: "genesis_initialized", Value: []byte{1}},
		{Keyspace: ksOuro, Key: "genesis_time", Value: encodeInt64(now.UnixNano())},
		{Keyspace: ksOuro, Key: "total_burned", Value: encodeUint64(0)},
	})
	if err != nil {
		return fmt.Errorf("ledger: init genesis: %w", err)
	}
	return nil
}

func (l *Ledger) getBalance(addr string) (BalanceRecord, error) {
	v, err := l.store.Get(ksBalance, addr)
	if errors.Is(err, storage.ErrNotFound) {
		return BalanceRecord{Address: addr}, nil
	}
	if err != nil {
		return BalanceRecord{}, err
	}
	return decodeBalance(addr, v), nil
}

func (l *Ledger) getNextNonce(addr string) (uint64, error) {
	v, err := l.store.Get(ksNonce, addr)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeUint64(v), nil
}

// circulatingSupply sums the Balance of up to limit balance records.
// There is no running supply counter: creditLocked calls this scan on
// every credit, and AssertSupplyCap calls it too, with an explicit
// bound consistent with spec.md §4.2's "range queries must be bounded"
// rule.
func (l *Ledger) circulatingSupply(limit int) (uint64, error) {
	var total uint64
	err := l.store.IteratePrefix(ksBalance, "", limit, func(_ string, v []byte) error {
		rec := decodeBalance("", v)
		total += rec.Balance
		return nil
	})
	return total, err
}

// Transfer implements spec.md §4.3's transfer operation. Fee
// distribution itself is delegated to internal/fees; this operation
// only emits the debit of amount+fee from the sender and credit of
// amount to the recipient.
func (l *Ledger) Transfer(tx *Transaction, chainID string, blockHeight uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := tx.VerifySignature(chainID, blockHeight); err != nil {
		return err
	}

	nextNonce, err := l.getNextNonce(tx.SenderAddr)
	if err != nil {
		return err
	}
	if tx.Nonce != nextNonce {
		return fmt.Errorf("%w: want %d, got %d", ErrBadNonce, nextNonce, tx.Nonce)
	}

	sender, err := l.getBalance(tx.SenderAddr)
	if err != nil {
		return err
	}
	total := tx.Amount + tx.Fee
	if sender.Balance-sender.Locked < total {
		return ErrInsufficientFunds
	}
	recipient, err := l.getBalance(tx.RecipientAddr)
	if err != nil {
		return err
	}

	sender.Balance -= total
	sender.UpdatedAt = time.Now()
	recipient.Balance += tx.Amount
	recipient.UpdatedAt = time.Now()

	txID := tx.ID
	if txID == uuid.Nil {
		txID = uuid.New()
	}

	return l.store.BatchPut([]storage.WriteOp{
		{Keyspace: ksBalance, Key: tx.SenderAddr, Value: encodeBalance(sender)},
		{Keyspace: ksBalance, Key: tx.RecipientAddr, Value: encodeBalance(recipient)},
		{Keyspace: ksNonce, Key: tx.SenderAddr, Value: encodeUint64(nextNonce + 1)},
		{Keyspace: ksTx, Key: txID.String(), Value: []byte(tx.TxHash)},
	})
}

// Credit adds amount to addr's balance. Every non-transfer credit path
// (reward issuance, system transactions) must funnel through here so
// the supply cap guard is never bypassed.
func (l *Ledger) Credit(addr string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.creditLocked(addr, amount)
}

func (l *Ledger) creditLocked(addr string, amount uint64) error {
	circulating, err := l.circulatingSupply(1_000_000)
	if err != nil {
		return err
	}
	if circulating+amount > TotalSupplyUnits {
		return ErrSupplyCapExceeded
	}
	rec, err := l.getBalance(addr)
	if err != nil {
		return err
	}
	rec.Balance += amount
	rec.UpdatedAt = time.Now()
	return l.store.Put(ksBalance, addr, encodeBalance(rec))
}

// Debit removes amount from addr's unlocked balance, used for
// staking/slashing paths. Fails on under-balance.
func (l *Ledger) Debit(addr string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, err := l.getBalance(addr)
	if err != nil {
		return err
	}
	if rec.Balance-rec.Locked < amount {
		return ErrInsufficientFunds
	}
	rec.Balance -= amount
	rec.UpdatedAt = time.Now()
	return l.store.Put(ksBalance, addr, encodeBalance(rec))
}

// AssertSupplyCap is the global invariant check intended to run at
// every block finalization. A violation is a protocol emergency: the
// caller must halt commit and raise an alert (errclass.Fatal), never
// merely log it.
func (l *Ledger) AssertSupplyCap(limit int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	total, err := l.circulatingSupply(limit)
	if err != nil {
		return err
	}
	if total > TotalSupplyUnits {
		return ErrSupplyCapViolation
	}
	return nil
}

// RecordBurn adds amount to the monotonic total_burned_fees counter
// (spec.md §4.9). Burned units leave circulating supply permanently;
// they are not credited to any address.
func (l *Ledger) RecordBurn(amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.store.IncrCounter(ksOuro, "total_burned", amount)
	return err
}

// TotalBurned returns the cumulative burned-fee counter.
func (l *Ledger) TotalBurned() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Counter(ksOuro, "total_burned")
}

// Balance returns the current balance record for addr.
func (l *Ledger) Balance(addr string) (BalanceRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getBalance(addr)
}

// --- binary codec helpers (deterministic, fixed-width) ---

func encodeBalance(r BalanceRecord) []byte {
	buf := make([]byte, 24)
	binary.BigEndian.PutUint64(buf[0:8], r.Balance)
	binary.BigEndian.PutUint64(buf[8:16], r.Locked)
	binary.BigEndian.PutUint64(buf[16:24], uint64(r.UpdatedAt.UnixNano()))
	return buf
}

func decodeBalance(addr string, b []byte) BalanceRecord {
	if len(b) < 24 {
		return BalanceRecord{Address: addr}
	}
	return BalanceRecord{
		Address:   addr,
		Balance:   binary.BigEndian.Uint64(b[0:8]),
		Locked:    binary.BigEndian.Uint64(b[8:16]),
		UpdatedAt: time.Unix(0, int64(binary.BigEndian.Uint64(b[16:24]))),
	}
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint64(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func encodeInt64(v int64) []byte { return encodeUint64(uint64(v)) }
