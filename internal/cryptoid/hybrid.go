package cryptoid

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode5"
)

// Phase boundaries for the PQ migration, grounded on
// original_source/ouro_dag/src/crypto/hybrid.rs. These are package
// variables rather than constants; nothing in this module assigns
// them, and internal/config has no setting for them.
var (
	Phase2StartHeight uint64 = 1_000_000
	Phase3StartHeight uint64 = 5_000_000
)

// MigrationPhase names which signature forms a block height accepts.
type MigrationPhase int

const (
	Phase1EdOrHybrid MigrationPhase = iota
	Phase2HybridOnly
	Phase3DilithiumOnly
)

// CurrentPhase maps a block height onto its migration phase.
func CurrentPhase(blockHeight uint64) MigrationPhase {
	switch {
	case blockHeight >= Phase3StartHeight:
		return Phase3DilithiumOnly
	case blockHeight >= Phase2StartHeight:
		return Phase2HybridOnly
	default:
		return Phase1EdOrHybrid
	}
}

func (p MigrationPhase) AcceptsEd25519Only() bool { return p == Phase1EdOrHybrid }
func (p MigrationPhase) RequiresHybrid() bool      { return p == Phase2HybridOnly }
func (p MigrationPhase) RequiresDilithiumOnly() bool { return p == Phase3DilithiumOnly }

var (
	ErrHybridSigLength  = errors.New("cryptoid: malformed hybrid signature length")
	ErrHybridPubLength  = errors.New("cryptoid: malformed hybrid public key length")
	ErrEd25519Invalid   = errors.New("cryptoid: ed25519 component failed verification")
	ErrDilithiumInvalid = errors.New("cryptoid: dilithium component failed verification")
	ErrPhaseRejected    = errors.New("cryptoid: signature form not accepted at this migration phase")
	ErrMissingPubKey    = errors.New("cryptoid: required public key component missing for this phase")
)

// HybridSignature is the concatenation of an Ed25519 signature and a
// Dilithium5 signature over the same message; it verifies only if both
// components verify (spec.md §4.6).
type HybridSignature struct {
	Ed25519   [ed25519.SignatureSize]byte
	Dilithium [mode5.SignatureSize]byte
}

// Bytes serializes the hybrid signature as a fixed-length concatenation.
func (h HybridSignature) Bytes() []byte {
	out := make([]byte, 0, ed25519.SignatureSize+mode5.SignatureSize)
	out = append(out, h.Ed25519[:]...)
	out = append(out, h.Dilithium[:]...)
	return out
}

// ParseHybridSignature decodes the fixed-length concatenation produced
// by Bytes.
func ParseHybridSignature(raw []byte) (HybridSignature, error) {
	var h HybridSignature
	if len(raw) != ed25519.SignatureSize+mode5.SignatureSize {
		return h, ErrHybridSigLength
	}
	copy(h.Ed25519[:], raw[:ed25519.SignatureSize])
	copy(h.Dilithium[:], raw[ed25519.SignatureSize:])
	return h, nil
}

// HybridPublicKey is the pair of component public keys.
type HybridPublicKey struct {
	Ed25519   [ed25519.PublicKeySize]byte
	Dilithium [mode5.PublicKeySize]byte
}

func (h HybridPublicKey) Bytes() []byte {
	out := make([]byte, 0, ed25519.PublicKeySize+mode5.PublicKeySize)
	out = append(out, h.Ed25519[:]...)
	out = append(out, h.Dilithium[:]...)
	return out
}

func ParseHybridPublicKey(raw []byte) (HybridPublicKey, error) {
	var h HybridPublicKey
	if len(raw) != ed25519.PublicKeySize+mode5.PublicKeySize {
		return h, ErrHybridPubLength
	}
	copy(h.Ed25519[:], raw[:ed25519.PublicKeySize])
	copy(h.Dilithium[:], raw[ed25519.PublicKeySize:])
	return h, nil
}

// SignHybrid signs message under both component keys. Both keys must
// be present; a missing component is fatal to hybrid participation.
func (id *Identity) SignHybrid(message []byte) (HybridSignature, error) {
	var out HybridSignature
	edSig, err := id.SignEd25519(message)
	if err != nil {
		return out, err
	}
	pqSig, err := id.SignDilithium(message)
	if err != nil {
		return out, err
	}
	copy(out.Ed25519[:], edSig)
	copy(out.Dilithium[:], pqSig)
	return out, nil
}

// VerifyHybrid requires both components to verify.
func VerifyHybrid(pub HybridPublicKey, message []byte, sig HybridSignature) bool {
	if !ed25519.Verify(pub.Ed25519[:], message, sig.Ed25519[:]) {
		return false
	}
	pk := mode5.PublicKeyFromBytes(pub.Dilithium[:])
	return mode5.Verify(&pk, message, sig.Dilithium[:])
}

// VerifyWithMigrationPolicy is the single phase-gated verification
// entrypoint consensus and the mempool use to admit a signature. It
// mirrors original_source/ouro_dag/src/crypto/hybrid.rs's
// verify_with_migration_policy exactly:
//
//   - Phase1: a raw 64-byte Ed25519 signature is tried first; anything
//     else must parse as a HybridSignature and verify under both keys.
//   - Phase2: a lone Ed25519 signature is rejected even if it would
//     verify; the signature must parse as a HybridSignature and the
//     caller must supply both public-key components.
//   - Phase3: only the Dilithium5 component is accepted; the signature
//     is the raw Dilithium5 bytes and only the Dilithium5 public key is
//     required.
func VerifyWithMigrationPolicy(
	message []byte,
	sigBytes []byte,
	edPub *[ed25519.PublicKeySize]byte,
	pqPub *[mode5.PublicKeySize]byte,
	phase MigrationPhase,
) error {
	switch phase {
	case Phase1EdOrHybrid:
		if len(sigBytes) == ed25519.SignatureSize && edPub != nil {
			if ed25519.Verify(edPub[:], message, sigBytes) {
				return nil
			}
			return ErrEd25519Invalid
		}
		hsig, err := ParseHybridSignature(sigBytes)
		if err != nil {
			return err
		}
		if edPub == nil || pqPub == nil {
			return ErrMissingPubKey
		}
		pub := HybridPublicKey{Ed25519: *edPub, Dilithium: *pqPub}
		if !VerifyHybrid(pub, message, hsig) {
			return fmt.Errorf("%w: hybrid verification failed", ErrDilithiumInvalid)
		}
		return nil

	case Phase2HybridOnly:
		if len(sigBytes) == ed25519.SignatureSize {
			return ErrPhaseRejected
		}
		if edPub == nil || pqPub == nil {
			return ErrMissingPubKey
		}
		hsig, err := ParseHybridSignature(sigBytes)
		if err != nil {
			return err
		}
		pub := HybridPublicKey{Ed25519: *edPub, Dilithium: *pqPub}
		if !VerifyHybrid(pub, message, hsig) {
			return fmt.Errorf("%w: hybrid verification failed", ErrDilithiumInvalid)
		}
		return nil

	case Phase3DilithiumOnly:
		if pqPub == nil {
			return ErrMissingPubKey
		}
		if len(sigBytes) != mode5.SignatureSize {
			return ErrHybridSigLength
		}
		pk := mode5.PublicKeyFromBytes(pqPub[:])
		if !mode5.Verify(&pk, message, sigBytes) {
			return ErrDilithiumInvalid
		}
		return nil

	default:
		return fmt.Errorf("cryptoid: unknown migration phase %d", phase)
	}
}
