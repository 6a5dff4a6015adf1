package cryptoid

import (
	"testing"

	"github.com/cloudflare/circl/sign/dilithium/mode5"
	"github.com/stretchr/testify/assert"
)

func TestPhaseBoundaries(t *testing.T) {
	assert.Equal(t, Phase1EdOrHybrid, CurrentPhase(0))
	assert.Equal(t, Phase1EdOrHybrid, CurrentPhase(Phase2StartHeight-1))
	assert.Equal(t, Phase2HybridOnly, CurrentPhase(Phase2StartHeight))
	assert.Equal(t, Phase2HybridOnly, CurrentPhase(Phase3StartHeight-1))
	assert.Equal(t, Phase3DilithiumOnly, CurrentPhase(Phase3StartHeight))
}

func TestPhase1AcceptsEd25519Only(t *testing.T) {
	id, err := GenerateIdentity(false)
	assert.NoError(t, err)

	msg := []byte("view=7 block=abc")
	sig, err := id.SignEd25519(msg)
	assert.NoError(t, err)

	var edPub [32]byte
	copy(edPub[:], id.EdPub)

	err = VerifyWithMigrationPolicy(msg, sig, &edPub, nil, Phase1EdOrHybrid)
	assert.NoError(t, err)
}

func TestPhase2RejectsLoneEd25519(t *testing.T) {
	id, err := GenerateIdentity(true)
	assert.NoError(t, err)

	msg := []byte("view=7 block=abc")
	sig, err := id.SignEd25519(msg)
	assert.NoError(t, err)

	var edPub [32]byte
	copy(edPub[:], id.EdPub)

	err = VerifyWithMigrationPolicy(msg, sig, &edPub, nil, Phase2HybridOnly)
	assert.Error(t, err)
}

func TestHybridRoundTrip(t *testing.T) {
	id, err := GenerateIdentity(true)
	assert.NoError(t, err)

	msg := []byte("view=9 block=xyz")
	hsig, err := id.SignHybrid(msg)
	assert.NoError(t, err)

	var edPub [32]byte
	copy(edPub[:], id.EdPub)
	var pqPub [mode5.PublicKeySize]byte
	copy(pqPub[:], id.PQPub.Bytes())

	err = VerifyWithMigrationPolicy(msg, hsig.Bytes(), &edPub, &pqPub, Phase2HybridOnly)
	assert.NoError(t, err)
}

func TestPhase3RequiresDilithiumOnly(t *testing.T) {
	id, err := GenerateIdentity(true)
	assert.NoError(t, err)

	msg := []byte("view=12 block=def")
	pqSig, err := id.SignDilithium(msg)
	assert.NoError(t, err)

	var pqPub [mode5.PublicKeySize]byte
	copy(pqPub[:], id.PQPub.Bytes())

	err = VerifyWithMigrationPolicy(msg, pqSig, nil, &pqPub, Phase3DilithiumOnly)
	assert.NoError(t, err)

	hsig, err := id.SignHybrid(msg)
	assert.NoError(t, err)
	err = VerifyWithMigrationPolicy(msg, hsig.Bytes(), nil, &pqPub, Phase3DilithiumOnly)
	assert.Error(t, err)
}
