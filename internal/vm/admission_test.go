package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanForFloatingPointRejectsF32Const(t *testing.T) {
	code := []byte{0x00, 0x61, 0x73, 0x6d, opF32Const, 0x00, 0x00, 0x80, 0x3f}
	err := ScanForFloatingPoint(code)
	assert.ErrorIs(t, err, ErrFloatingPointBanned)
}

func TestScanForFloatingPointRejectsF64Const(t *testing.T) {
	code := []byte{opF64Const, 0x00}
	assert.ErrorIs(t, ScanForFloatingPoint(code), ErrFloatingPointBanned)
}

func TestScanForFloatingPointRejectsArithmeticRange(t *testing.T) {
	code := []byte{opFArithLo}
	assert.ErrorIs(t, ScanForFloatingPoint(code), ErrFloatingPointBanned)
	code = []byte{opFConvertHi}
	assert.ErrorIs(t, ScanForFloatingPoint(code), ErrFloatingPointBanned)
}

func TestScanForFloatingPointRejectsLoadAndStore(t *testing.T) {
	assert.ErrorIs(t, ScanForFloatingPoint([]byte{opF32Load}), ErrFloatingPointBanned)
	assert.ErrorIs(t, ScanForFloatingPoint([]byte{opF64Load}), ErrFloatingPointBanned)
	assert.ErrorIs(t, ScanForFloatingPoint([]byte{opF32Store}), ErrFloatingPointBanned)
	assert.ErrorIs(t, ScanForFloatingPoint([]byte{opF64Store}), ErrFloatingPointBanned)
}

func TestScanForFloatingPointRejectsComparisons(t *testing.T) {
	assert.ErrorIs(t, ScanForFloatingPoint([]byte{opFCmpLo}), ErrFloatingPointBanned)
	assert.ErrorIs(t, ScanForFloatingPoint([]byte{opFCmpHi}), ErrFloatingPointBanned)
}

func TestScanForFloatingPointAcceptsIntegerOnlyModule(t *testing.T) {
	code := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x41, 0x01, 0x6a}
	assert.NoError(t, ScanForFloatingPoint(code))
}
