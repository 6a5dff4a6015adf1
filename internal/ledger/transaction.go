// Package ledger implements the data model and native coin ledger of
// spec.md §3/§4.3: transactions, blocks, balance/nonce records, and
// the supply-capped transfer/credit/debit operations. The canonical
// signing payload follows the alphabetized-struct-for-hashing pattern
// in internal/core/transaction.go, generalized from the teacher's
// ECDSA P256 scheme to the hybrid Ed25519/Dilithium5 identity in
// internal/cryptoid.
package ledger

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/empower1/empower1/internal/cryptoid"
)

var (
	ErrMissingSignature = errors.New("ledger: transaction missing public key or signature")
	ErrInvalidSignature = errors.New("ledger: signature verification failed")
	ErrChainIDMismatch  = errors.New("ledger: chain_id does not match configured chain")
)

// Transaction is the entity from spec.md §3. Admission requires a
// verified signature over the canonical byte payload
// (chain_id||nonce||sender||recipient||amount||fee).
type Transaction struct {
	ID            uuid.UUID
	TxHash        string
	SenderAddr    string
	RecipientAddr string
	Amount        uint64
	Fee           uint64
	Nonce         uint64
	ChainID       string
	Payload       []byte // arbitrary structured payload (JSON), per spec.md §6
	Signature     []byte
	PublicKey     []byte // Ed25519 raw pubkey, or a HybridPublicKey.Bytes() encoding
}

// CanonicalPayload builds the exact byte sequence a transaction's
// signature covers: chain_id || nonce || sender || recipient || amount
// || fee, matching spec.md §3 literally.
func (t *Transaction) CanonicalPayload() []byte {
	var buf bytes.Buffer
	buf.WriteString(t.ChainID)
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], t.Nonce)
	buf.Write(nonceBytes[:])
	buf.WriteString(t.SenderAddr)
	buf.WriteString(t.RecipientAddr)
	var amountBytes [8]byte
	binary.BigEndian.PutUint64(amountBytes[:], t.Amount)
	buf.Write(amountBytes[:])
	var feeBytes [8]byte
	binary.BigEndian.PutUint64(feeBytes[:], t.Fee)
	buf.Write(feeBytes[:])
	return buf.Bytes()
}

// Sign signs the canonical payload with an Ed25519-only identity. Use
// SignHybrid once the migration phase requires it.
func (t *Transaction) Sign(id *cryptoid.Identity) error {
	sig, err := id.SignEd25519(t.CanonicalPayload())
	if err != nil {
		return err
	}
	t.Signature = sig
	t.PublicKey = append([]byte(nil), id.EdPub...)
	return nil
}

// SignHybrid signs the canonical payload with both component keys and
// stores the concatenated hybrid signature/pubkey, as required from
// Phase2 onward (spec.md §4.6).
func (t *Transaction) SignHybrid(id *cryptoid.Identity) error {
	hsig, err := id.SignHybrid(t.CanonicalPayload())
	if err != nil {
		return err
	}
	var hpub cryptoid.HybridPublicKey
	copy(hpub.Ed25519[:], id.EdPub)
	copy(hpub.Dilithium[:], id.PQPub.Bytes())
	t.Signature = hsig.Bytes()
	t.PublicKey = hpub.Bytes()
	return nil
}

// VerifySignature checks the transaction's signature against the
// migration-phase policy in effect at blockHeight and against the
// configured chainID.
func (t *Transaction) VerifySignature(chainID string, blockHeight uint64) error {
	if t.ChainID != chainID {
		return ErrChainIDMismatch
	}
	if len(t.PublicKey) == 0 || len(t.Signature) == 0 {
		return ErrMissingSignature
	}
	phase := cryptoid.CurrentPhase(blockHeight)
	msg := t.CanonicalPayload()

	switch {
	case len(t.PublicKey) == ed25519.PublicKeySize:
		var edPub [ed25519.PublicKeySize]byte
		copy(edPub[:], t.PublicKey)
		if err := cryptoid.VerifyWithMigrationPolicy(msg, t.Signature, &edPub, nil, phase); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil
	default:
		hpub, err := cryptoid.ParseHybridPublicKey(t.PublicKey)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		edPub, pqPub := hpub.Ed25519, hpub.Dilithium
		if err := cryptoid.VerifyWithMigrationPolicy(msg, t.Signature, &edPub, &pqPub, phase); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil
	}
}

// Block is the entity from spec.md §3: immutable once committed, with
// dense (increment-by-1) height.
type Block struct {
	ID                 uuid.UUID
	Height             uint64
	Timestamp          int64
	ProposerID         string
	TxIDs              []uuid.UUID
	ValidatorSignatures [][]byte
}
