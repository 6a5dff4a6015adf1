package mempool

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/empower1/empower1/internal/cryptoid"
	"github.com/empower1/empower1/internal/ledger"
)

const testChainID = "empower1-test"

func newSignedTx(t *testing.T, fee uint64) *ledger.Transaction {
	t.Helper()
	id, err := cryptoid.GenerateIdentity(false)
	assert.NoError(t, err)
	tx := &ledger.Transaction{
		ID:            uuid.New(),
		TxHash:        uuid.New().String(),
		SenderAddr:    "alice",
		RecipientAddr: "bob",
		Amount:        100,
		Fee:           fee,
		Nonce:         0,
		ChainID:       testChainID,
	}
	assert.NoError(t, tx.Sign(id))
	return tx
}

func TestAdmitRejectsDuplicateHash(t *testing.T) {
	mp := New(10, nil)
	tx := newSignedTx(t, 100)
	_, err := mp.Admit(tx, testChainID, 0, []byte("envelope-1"))
	assert.NoError(t, err)

	_, err = mp.Admit(tx, testChainID, 0, []byte("envelope-1"))
	assert.ErrorIs(t, err, ErrDuplicateTransaction)
}

func TestSelectTransactionsOrdersByFeeDensity(t *testing.T) {
	mp := New(10, nil)
	low := newSignedTx(t, 10)
	high := newSignedTx(t, 1000)

	_, err := mp.Admit(low, testChainID, 0, make([]byte, 100))
	assert.NoError(t, err)
	_, err = mp.Admit(high, testChainID, 0, make([]byte, 100))
	assert.NoError(t, err)

	selected := mp.SelectTransactions(10)
	assert.Equal(t, []uuid.UUID{high.ID, low.ID}, selected)
}

func TestAdmitEvictsLowestFeeDensityAtCapacity(t *testing.T) {
	mp := New(1, nil)
	low := newSignedTx(t, 10)
	high := newSignedTx(t, 1000)

	_, err := mp.Admit(low, testChainID, 0, make([]byte, 100))
	assert.NoError(t, err)

	_, err = mp.Admit(high, testChainID, 0, make([]byte, 100))
	assert.NoError(t, err)

	assert.Equal(t, 1, mp.Size())
	_, stillThere := mp.Get(low.ID)
	assert.False(t, stillThere)
	_, present := mp.Get(high.ID)
	assert.True(t, present)
}

func TestAdmitRejectsWhenNewTxDoesNotOutrank(t *testing.T) {
	mp := New(1, nil)
	high := newSignedTx(t, 1000)
	low := newSignedTx(t, 10)

	_, err := mp.Admit(high, testChainID, 0, make([]byte, 100))
	assert.NoError(t, err)

	_, err = mp.Admit(low, testChainID, 0, make([]byte, 100))
	assert.ErrorIs(t, err, ErrMempoolFull)
}

func TestRemoveDropsTransactions(t *testing.T) {
	mp := New(10, nil)
	tx := newSignedTx(t, 100)
	_, err := mp.Admit(tx, testChainID, 0, make([]byte, 10))
	assert.NoError(t, err)

	mp.Remove([]uuid.UUID{tx.ID})
	assert.Equal(t, 0, mp.Size())
}
