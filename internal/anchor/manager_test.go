package anchor

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/empower1/empower1/internal/ledger"
	"github.com/empower1/empower1/internal/storage"
)

func newTestManager(t *testing.T) (*Manager, *ledger.Ledger) {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "anchor.db"))
	assert.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	l := ledger.New(s)
	assert.NoError(t, l.InitGenesis("dist", "vest"))
	m := NewManager(s, l, 1_000_000)
	return m, l
}

func withFrozenTime(t *testing.T, when time.Time) {
	t.Helper()
	original := now
	now = func() time.Time { return when }
	t.Cleanup(func() { now = original })
}

func TestFinalizeAnchorRejectsWithinWindow(t *testing.T) {
	m, _ := newTestManager(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	withFrozenTime(t, start)

	a, err := m.SubmitAnchor("micro-1", []byte("root"), 100, "operator-1", []byte("sig"))
	assert.NoError(t, err)

	now = func() time.Time { return start.Add(3 * 24 * time.Hour) }
	err = m.FinalizeAnchor(a.ID)
	assert.ErrorIs(t, err, ErrChallengeWindowOpen)
}

func TestFinalizeAnchorSucceedsAfterWindow(t *testing.T) {
	m, _ := newTestManager(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	withFrozenTime(t, start)

	a, err := m.SubmitAnchor("micro-1", []byte("root"), 100, "operator-1", []byte("sig"))
	assert.NoError(t, err)

	now = func() time.Time { return start.Add(8 * 24 * time.Hour) }
	assert.NoError(t, m.FinalizeAnchor(a.ID))
}

// TestMissingTransactionFraudScenario mirrors spec.md's scenario:
// operator anchors root R over [T1, T2]; challenger proves T3 was
// claimed but is absent.
func TestMissingTransactionFraudScenario(t *testing.T) {
	m, l := newTestManager(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	withFrozenTime(t, start)

	actualTxs := []EvidenceTx{{TxID: "T1"}, {TxID: "T2"}}
	root := merkleRoot([][]byte{[]byte("T1"), []byte("T2")})

	assert.NoError(t, m.SetOperatorStake("operator-1", 10_000_000))
	assert.NoError(t, l.Debit("dist", 10_000_000))
	assert.NoError(t, l.Credit("operator-1", 10_000_000))

	a, err := m.SubmitAnchor("micro-1", root, 100, "operator-1", []byte("sig"))
	assert.NoError(t, err)

	evidence := Evidence{FraudType: FraudMissingTransaction, ClaimedTxID: "T3", Transactions: actualTxs}
	c, err := m.SubmitChallenge(a.ID, "challenger-1", 1_000_000, evidence)
	assert.NoError(t, err)

	result, err := m.VerifyChallenge(c.ID)
	assert.NoError(t, err)
	assert.True(t, result.FraudProven)
	assert.Equal(t, uint64(5_000_000), result.SlashedAmount)
	assert.Equal(t, uint64(500_000), result.RewardAmount)

	got, err := m.getAnchor(a.ID)
	assert.NoError(t, err)
	assert.Equal(t, AnchorSlashed, got.Status)

	challengerBal, err := l.Balance("challenger-1")
	assert.NoError(t, err)
	assert.Equal(t, uint64(500_000), challengerBal.Balance)
}

func TestDoubleSpendFraudDetection(t *testing.T) {
	m, _ := newTestManager(t)
	result := m.verifyEvidence(Evidence{
		FraudType: FraudDoubleSpend,
		Transactions: []EvidenceTx{
			{TxID: "a", Sender: "alice", Nonce: 1},
			{TxID: "b", Sender: "alice", Nonce: 1},
		},
	}, nil)
	assert.True(t, result.FraudProven)
}

func TestForceExitRejectsBadProof(t *testing.T) {
	m, _ := newTestManager(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	withFrozenTime(t, start)

	a, err := m.SubmitAnchor("micro-1", []byte("expected-root"), 100, "operator-1", []byte("sig"))
	assert.NoError(t, err)

	_, err = m.ForceExit(a.ID, "alice", 1000, 0, [][]byte{[]byte("wrong-leaf")})
	assert.ErrorIs(t, err, ErrForceExitBadProof)
}
