// Package anchor implements the optimistic subchain/microchain anchoring
// and fraud-proof system of spec.md §4.8: anchors submitted with a
// Pending status, a 7-day wall-clock challenge window, permissionless
// fraud proofs against 9 evidence types, and forced exits backed by
// Merkle proofs against an anchored state root. Grounded on
// original_source/ouro_dag/src/subchain/fraud.rs for the overall
// FraudProofManager shape and its one rigorously specified
// verification rule (MissingTransaction); the remaining evidence types
// are authored following that same rule shape, and the original's
// 100-block challenge window is replaced with spec's 7-day wall clock.
package anchor

import (
	"time"

	"github.com/google/uuid"
)

// ChallengeWindow is the wall-clock duration an anchor remains
// challengeable after submission, per spec.md §4.8.
const ChallengeWindow = 7 * 24 * time.Hour

const (
	FraudSlashPercentage  uint64 = 50
	FraudRewardPercentage uint64 = 10
)

type AnchorStatus string

const (
	AnchorPending    AnchorStatus = "pending"
	AnchorFinalized  AnchorStatus = "finalized"
	AnchorChallenged AnchorStatus = "challenged"
	AnchorSlashed    AnchorStatus = "slashed"
)

// Anchor is a periodic state-root submission from a microchain operator.
type Anchor struct {
	ID              uuid.UUID
	MicrochainID    string
	StateRoot       []byte
	BlockHeight     uint64
	OperatorID      string
	OperatorSig     []byte
	Status          AnchorStatus
	SubmittedAt     time.Time
}

type FraudType string

const (
	FraudInvalidStateTransition FraudType = "invalid_state_transition"
	FraudUnauthorizedTransaction FraudType = "unauthorized_transaction"
	FraudDoubleSpend             FraudType = "double_spend"
	FraudInvalidSignature        FraudType = "invalid_signature"
	FraudStateRootMismatch       FraudType = "state_root_mismatch"
	FraudMissingTransaction      FraudType = "missing_transaction"
	FraudInvalidTransaction      FraudType = "invalid_transaction"
	FraudDoubleInclusion         FraudType = "double_inclusion"
	FraudInvalidAttestation      FraudType = "invalid_attestation"
)

// Evidence carries a challenge's disputed-content claim, per spec.md
// §4.8: the claimed roots, the disputed transaction list, an
// attestation and the operator's public key. It has no Merkle-proof
// field; roots are recomputed from Transactions where a check needs one.
type Evidence struct {
	FraudType     FraudType
	ClaimedTxID   string
	Transactions  []EvidenceTx
	PreviousRoot  []byte
	NewRoot       []byte
	Attestation   []byte
	OperatorPub   []byte
}

// EvidenceTx is one transaction as presented in evidence: enough to
// recompute the Merkle leaf and to check for double-spend/inclusion.
type EvidenceTx struct {
	TxID   string
	Sender string
	Nonce  uint64
}

type Challenge struct {
	ID          uuid.UUID
	AnchorID    uuid.UUID
	Challenger  string
	Bond        uint64
	Evidence    Evidence
	SubmittedAt time.Time
}

type VerificationResult struct {
	FraudProven    bool
	SlashedAmount  uint64
	RewardAmount   uint64
	Notes          string
}

// ForceExit is a user-initiated withdrawal of funds vouched for by an
// operator's anchored state root (spec.md §4.8).
type ForceExit struct {
	ID          uuid.UUID
	Microchain  string
	Address     string
	Amount      uint64
	Nonce       uint64
	StateRoot   []byte
	CompletedAt *time.Time
}

// now is overridable in tests; production code always calls time.Now.
var now = time.Now
