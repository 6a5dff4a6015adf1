package ledger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/empower1/empower1/internal/storage"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "ledger.db"))
	assert.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s)
}

func TestGenesisNotReentrant(t *testing.T) {
	l := newTestLedger(t)
	assert.NoError(t, l.InitGenesis("dist", "vest"))
	assert.ErrorIs(t, l.InitGenesis("dist", "vest"), ErrAlreadyInitialized)

	dist, err := l.Balance("dist")
	assert.NoError(t, err)
	assert.Equal(t, GenesisDistributionUnits, dist.Balance)

	vest, err := l.Balance("vest")
	assert.NoError(t, err)
	assert.Equal(t, GenesisVestingUnits, vest.Balance)
	assert.Equal(t, GenesisVestingUnits, vest.Locked)
}

func TestSupplyCapGuard(t *testing.T) {
	l := newTestLedger(t)
	assert.NoError(t, l.InitGenesis("dist", "vest"))

	err := l.Credit("addr", TotalSupplyUnits-GenesisDistributionUnits-GenesisVestingUnits+1)
	assert.ErrorIs(t, err, ErrSupplyCapExceeded)

	bal, err := l.Balance("addr")
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), bal.Balance)
}

func TestDebitInsufficientFunds(t *testing.T) {
	l := newTestLedger(t)
	assert.NoError(t, l.InitGenesis("dist", "vest"))
	err := l.Debit("dist", GenesisDistributionUnits+1)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestAssertSupplyCapHolds(t *testing.T) {
	l := newTestLedger(t)
	assert.NoError(t, l.InitGenesis("dist", "vest"))
	assert.NoError(t, l.AssertSupplyCap(1_000_000))
}
