package fees

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/empower1/empower1/internal/ledger"
	"github.com/empower1/empower1/internal/storage"
)

func newTestProcessor(t *testing.T) (*Processor, *ledger.Ledger) {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "fees.db"))
	assert.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	l := ledger.New(s)
	assert.NoError(t, l.InitGenesis("dist", "vest"))
	assert.NoError(t, l.Debit("dist", 10_000_000))
	assert.NoError(t, l.Credit("payer", 10_000_000))
	return NewProcessor(l, "treasury"), l
}

func TestFeeDistributionScenario(t *testing.T) {
	p, l := newTestProcessor(t)

	result, err := p.ProcessAndExecute("payer", 1_000_000, []string{"v1", "v2"}, "dev")
	assert.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), result.FeeAmount)
	assert.Equal(t, uint64(100_000), result.BurnedAmount)

	v1, err := l.Balance("v1")
	assert.NoError(t, err)
	assert.Equal(t, uint64(350_000), v1.Balance)

	v2, err := l.Balance("v2")
	assert.NoError(t, err)
	assert.Equal(t, uint64(350_000), v2.Balance)

	treasury, err := l.Balance("treasury")
	assert.NoError(t, err)
	assert.Equal(t, uint64(100_000), treasury.Balance)

	dev, err := l.Balance("dev")
	assert.NoError(t, err)
	assert.Equal(t, uint64(100_000), dev.Balance)

	burned, err := l.TotalBurned()
	assert.NoError(t, err)
	assert.Equal(t, uint64(100_000), burned)
}

func TestFeeDistributionNoDeveloperMergesToTreasury(t *testing.T) {
	p, l := newTestProcessor(t)

	_, err := p.ProcessAndExecute("payer", 1_000_000, []string{"v1", "v2"}, "")
	assert.NoError(t, err)

	treasury, err := l.Balance("treasury")
	assert.NoError(t, err)
	assert.Equal(t, uint64(200_000), treasury.Balance)
}

func TestZeroFeeProducesNoTransfers(t *testing.T) {
	p, _ := newTestProcessor(t)
	result, err := p.ProcessFee("payer", 0, []string{"v1"}, "")
	assert.NoError(t, err)
	assert.Empty(t, result.Transfers)
	assert.Equal(t, uint64(0), result.BurnedAmount)
}

func TestAggregatedFees(t *testing.T) {
	p, l := newTestProcessor(t)

	r1, err := p.ProcessFee("payer", 1_000_000, []string{"v1", "v2"}, "dev")
	assert.NoError(t, err)
	r2, err := p.ProcessFee("payer", 500_000, []string{"v1", "v2"}, "")
	assert.NoError(t, err)

	agg := AggregateFees([]ProcessingResult{r1, r2})
	assert.NoError(t, p.ExecuteAggregated(agg))

	v1, err := l.Balance("v1")
	assert.NoError(t, err)
	assert.Equal(t, uint64(350_000+175_000), v1.Balance)

	treasury, err := l.Balance("treasury")
	assert.NoError(t, err)
	assert.Equal(t, uint64(100_000+100_000), treasury.Balance)
}

func TestInvalidDistributionRejected(t *testing.T) {
	_, err := NewDistribution(70, 10, 10, 20)
	assert.ErrorIs(t, err, ErrInvalidDistribution)
}
