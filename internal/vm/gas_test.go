package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGasTankConsumeWithinLimit(t *testing.T) {
	gt := NewGasTank(1000)
	assert.NoError(t, gt.ConsumeGas(400))
	assert.Equal(t, uint64(400), gt.GasConsumed())
	assert.Equal(t, uint64(600), gt.GasRemaining())
}

func TestGasTankOutOfGasClampsConsumed(t *testing.T) {
	gt := NewGasTank(100)
	assert.NoError(t, gt.ConsumeGas(60))
	err := gt.ConsumeGas(60)
	assert.ErrorIs(t, err, ErrOutOfGas)
	assert.Equal(t, uint64(100), gt.GasConsumed())
	assert.Equal(t, uint64(0), gt.GasRemaining())
}
