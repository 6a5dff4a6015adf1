package cryptoid

import (
	"crypto/ed25519"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/cloudflare/circl/sign/dilithium/mode5"
)

const (
	pemTypeEd25519Priv = "ED25519 PRIVATE KEY"
	pemTypeEd25519Pub  = "ED25519 PUBLIC KEY"
	pemTypeDilithiumPriv = "DILITHIUM5 PRIVATE KEY"
	pemTypeDilithiumPub  = "DILITHIUM5 PUBLIC KEY"
)

// SaveToDir persists the identity's key material to dir, following the
// teacher's file-permission convention in internal/crypto/keys.go:
// private keys at 0600, public keys at 0644. A lost private key file
// is Fatal to this validator's participation (spec.md §4.6) — there is
// deliberately no recovery/re-derivation path here.
func (id *Identity) SaveToDir(dir string) error {
	if err := os.WriteFile(dir+"/ed25519.priv.pem", pem.EncodeToMemory(&pem.Block{
		Type: pemTypeEd25519Priv, Bytes: id.edPriv,
	}), 0600); err != nil {
		return fmt.Errorf("cryptoid: save ed25519 private key: %w", err)
	}
	if err := os.WriteFile(dir+"/ed25519.pub.pem", pem.EncodeToMemory(&pem.Block{
		Type: pemTypeEd25519Pub, Bytes: id.EdPub,
	}), 0644); err != nil {
		return fmt.Errorf("cryptoid: save ed25519 public key: %w", err)
	}
	if !id.HasPQ() {
		return nil
	}
	if err := os.WriteFile(dir+"/dilithium5.priv.pem", pem.EncodeToMemory(&pem.Block{
		Type: pemTypeDilithiumPriv, Bytes: id.pqPriv.Bytes(),
	}), 0600); err != nil {
		return fmt.Errorf("cryptoid: save dilithium5 private key: %w", err)
	}
	if err := os.WriteFile(dir+"/dilithium5.pub.pem", pem.EncodeToMemory(&pem.Block{
		Type: pemTypeDilithiumPub, Bytes: id.PQPub.Bytes(),
	}), 0644); err != nil {
		return fmt.Errorf("cryptoid: save dilithium5 public key: %w", err)
	}
	return nil
}

// LoadFromDir loads an identity previously written by SaveToDir. The
// Dilithium5 pair is loaded only if present on disk; its absence is
// not an error (a node may not have opted into PQ crypto yet).
func LoadFromDir(dir string) (*Identity, error) {
	edPrivPEM, err := os.ReadFile(dir + "/ed25519.priv.pem")
	if err != nil {
		return nil, fmt.Errorf("cryptoid: read ed25519 private key: %w", err)
	}
	block, _ := pem.Decode(edPrivPEM)
	if block == nil || block.Type != pemTypeEd25519Priv {
		return nil, fmt.Errorf("%w: ed25519 private key PEM", ErrInvalidKeyFormat)
	}
	priv := ed25519.PrivateKey(block.Bytes)
	id := &Identity{edPriv: priv, EdPub: priv.Public().(ed25519.PublicKey)}

	pqPrivPEM, err := os.ReadFile(dir + "/dilithium5.priv.pem")
	if err != nil {
		if os.IsNotExist(err) {
			return id, nil
		}
		return nil, fmt.Errorf("cryptoid: read dilithium5 private key: %w", err)
	}
	pqBlock, _ := pem.Decode(pqPrivPEM)
	if pqBlock == nil || pqBlock.Type != pemTypeDilithiumPriv {
		return nil, fmt.Errorf("%w: dilithium5 private key PEM", ErrInvalidKeyFormat)
	}
	sk := mode5.PrivateKeyFromBytes(pqBlock.Bytes)
	id.pqPriv = &sk
	pk := sk.Public().(mode5.PublicKey)
	id.PQPub = &pk
	return id, nil
}
