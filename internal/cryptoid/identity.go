// Package cryptoid implements the hybrid Ed25519 + Dilithium5 validator
// identity described in spec.md §4.6: key generation, PEM persistence
// with restrictive file permissions, DID:key encoding, and the
// phase-gated hybrid signature scheme that governs the PQ migration.
package cryptoid

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode5"
)

var (
	ErrKeyGeneration      = errors.New("cryptoid: key generation failed")
	ErrInvalidKeyFormat   = errors.New("cryptoid: invalid key format")
	ErrSigningUnavailable = errors.New("cryptoid: signing key unavailable")
)

// Identity holds a validator's Ed25519 keypair and, once the node has
// opted into post-quantum crypto (config.EnablePQCrypto), a Dilithium5
// keypair. A lost or unavailable private key is Fatal to this
// validator's consensus participation per spec.md §4.6 — the node must
// stop signing rather than ever forge or skip a signature.
type Identity struct {
	EdPub  ed25519.PublicKey
	edPriv ed25519.PrivateKey

	PQPub  *mode5.PublicKey
	pqPriv *mode5.PrivateKey
}

// GenerateIdentity creates a fresh Ed25519 keypair and, when
// withPQ is true, a Dilithium5 keypair alongside it.
func GenerateIdentity(withPQ bool) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: ed25519: %v", ErrKeyGeneration, err)
	}
	id := &Identity{EdPub: pub, edPriv: priv}
	if withPQ {
		pqPub, pqPriv, err := mode5.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("%w: dilithium5: %v", ErrKeyGeneration, err)
		}
		id.PQPub, id.pqPriv = pqPub, pqPriv
	}
	return id, nil
}

// HasPQ reports whether this identity carries a Dilithium5 keypair.
func (id *Identity) HasPQ() bool { return id.pqPriv != nil && id.PQPub != nil }

// EdPrivateKey returns the Ed25519 private key for transports (the p2p
// handshake) that need an ed25519.PrivateKey directly rather than a
// one-shot Sign call.
func (id *Identity) EdPrivateKey() ed25519.PrivateKey { return id.edPriv }

// SignEd25519 signs message with the Ed25519 key. It never returns a
// zero-length signature silently: callers that cannot obtain a valid
// signature must treat the condition as fatal to this validator's
// participation (spec.md §4.1: "node effectively self-excludes rather
// than forging").
func (id *Identity) SignEd25519(message []byte) ([]byte, error) {
	if id.edPriv == nil {
		return nil, ErrSigningUnavailable
	}
	return ed25519.Sign(id.edPriv, message), nil
}

// SignDilithium signs message with the Dilithium5 key.
func (id *Identity) SignDilithium(message []byte) ([]byte, error) {
	if id.pqPriv == nil {
		return nil, ErrSigningUnavailable
	}
	sig := make([]byte, mode5.SignatureSize)
	mode5.SignTo(id.pqPriv, message, sig)
	return sig, nil
}
