package anchor

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/empower1/empower1/internal/ledger"
	"github.com/empower1/empower1/internal/storage"
)

var (
	ErrAnchorNotFound       = errors.New("anchor: not found")
	ErrAnchorNotPending     = errors.New("anchor: status is not pending")
	ErrChallengeWindowOpen  = errors.New("anchor: challenge window has not elapsed")
	ErrChallengeWindowShut  = errors.New("anchor: challenge window has elapsed")
	ErrInsufficientBond     = errors.New("anchor: challenger bond below minimum")
	ErrForceExitBadProof    = errors.New("anchor: force-exit Merkle proof does not match anchored root")
	ErrChallengeNotFound    = errors.New("anchor: challenge not found")
)

const (
	ksAnchor    = "anchor"
	ksChallenge = "challenge"
	ksValidator = "validator"
)

// Manager implements the anchor lifecycle and fraud-proof evaluation.
// It holds a direct reference to the coin ledger because proven fraud
// must slash the operator and reward the challenger atomically with
// the anchor status transition (spec.md §2's data-flow note that
// anchors feed the fraud subsystem which emits slashing events back
// into the ledger).
type Manager struct {
	store      *storage.Store
	ledger     *ledger.Ledger
	minBond    uint64
}

func NewManager(store *storage.Store, l *ledger.Ledger, minBond uint64) *Manager {
	return &Manager{store: store, ledger: l, minBond: minBond}
}

// SetOperatorStake records operatorID's slashable stake. Staking
// itself (bonding, unbonding) is outside this module's scope; callers
// wire validator stake changes in here as they occur.
func (m *Manager) SetOperatorStake(operatorID string, amount uint64) error {
	return m.store.Put(ksValidator, operatorID, encodeU64(amount))
}

func (m *Manager) operatorStake(operatorID string) (uint64, error) {
	v, err := m.store.Get(ksValidator, operatorID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeU64(v), nil
}

// SubmitAnchor records a new Pending anchor.
func (m *Manager) SubmitAnchor(microchainID string, stateRoot []byte, blockHeight uint64, operatorID string, operatorSig []byte) (*Anchor, error) {
	a := &Anchor{
		ID:           uuid.New(),
		MicrochainID: microchainID,
		StateRoot:    stateRoot,
		BlockHeight:  blockHeight,
		OperatorID:   operatorID,
		OperatorSig:  operatorSig,
		Status:       AnchorPending,
		SubmittedAt:  now(),
	}
	if err := m.putAnchor(a); err != nil {
		return nil, err
	}
	return a, nil
}

// FinalizeAnchor transitions a still-Pending anchor to Finalized once
// the 7-day challenge window has elapsed.
func (m *Manager) FinalizeAnchor(anchorID uuid.UUID) error {
	a, err := m.getAnchor(anchorID)
	if err != nil {
		return err
	}
	if a.Status != AnchorPending {
		return ErrAnchorNotPending
	}
	if now().Sub(a.SubmittedAt) < ChallengeWindow {
		return ErrChallengeWindowOpen
	}
	a.Status = AnchorFinalized
	return m.putAnchor(a)
}

// SubmitChallenge posts a bonded challenge against a still-pending
// anchor within its challenge window, moving the anchor to Challenged.
func (m *Manager) SubmitChallenge(anchorID uuid.UUID, challenger string, bond uint64, evidence Evidence) (*Challenge, error) {
	if bond < m.minBond {
		return nil, ErrInsufficientBond
	}
	a, err := m.getAnchor(anchorID)
	if err != nil {
		return nil, err
	}
	if a.Status != AnchorPending {
		return nil, ErrAnchorNotPending
	}
	if now().Sub(a.SubmittedAt) > ChallengeWindow {
		return nil, ErrChallengeWindowShut
	}

	c := &Challenge{
		ID:          uuid.New(),
		AnchorID:    anchorID,
		Challenger:  challenger,
		Bond:        bond,
		Evidence:    evidence,
		SubmittedAt: now(),
	}
	if err := m.putChallenge(c); err != nil {
		return nil, err
	}
	a.Status = AnchorChallenged
	if err := m.putAnchor(a); err != nil {
		return nil, err
	}
	return c, nil
}

// VerifyChallenge evaluates a challenge's evidence deterministically
// and, if fraud is proven, slashes the operator and rewards the
// challenger. Either outcome resolves the anchor's Challenged status.
func (m *Manager) VerifyChallenge(challengeID uuid.UUID) (*VerificationResult, error) {
	c, err := m.getChallenge(challengeID)
	if err != nil {
		return nil, err
	}
	a, err := m.getAnchor(c.AnchorID)
	if err != nil {
		return nil, err
	}

	result := m.verifyEvidence(c.Evidence, a.StateRoot)

	if result.FraudProven {
		stake, err := m.operatorStake(a.OperatorID)
		if err != nil {
			return nil, err
		}
		slashed := (stake * FraudSlashPercentage) / 100
		reward := (slashed * FraudRewardPercentage) / 100
		result.SlashedAmount = slashed
		result.RewardAmount = reward

		if err := m.ledger.Debit(a.OperatorID, slashed); err != nil {
			return nil, fmt.Errorf("anchor: slash operator: %w", err)
		}
		if err := m.ledger.Credit(c.Challenger, reward); err != nil {
			return nil, fmt.Errorf("anchor: reward challenger: %w", err)
		}
		if err := m.SetOperatorStake(a.OperatorID, stake-slashed); err != nil {
			return nil, err
		}
		a.Status = AnchorSlashed
	} else {
		a.Status = AnchorPending
	}

	if err := m.putAnchor(a); err != nil {
		return nil, err
	}
	return &result, nil
}

// verifyEvidence dispatches to the deterministic rule for each fraud
// type spec.md §4.8 defines precisely; the remaining types follow the
// same "fraud proven iff proof_data is well-formed and substantiates
// the claim" shape the original applies uniformly.
func (m *Manager) verifyEvidence(e Evidence, anchoredRoot []byte) VerificationResult {
	switch e.FraudType {
	case FraudMissingTransaction:
		return m.verifyMissingTransaction(e, anchoredRoot)
	case FraudDoubleSpend:
		return verifyDoubleSpend(e)
	case FraudDoubleInclusion:
		return verifyDoubleInclusion(e)
	case FraudStateRootMismatch:
		return verifyStateRootMismatch(e)
	case FraudInvalidSignature, FraudInvalidAttestation:
		return verifySignaturePresence(e)
	case FraudInvalidStateTransition, FraudUnauthorizedTransaction, FraudInvalidTransaction:
		return VerificationResult{FraudProven: len(e.Transactions) > 0, Notes: string(e.FraudType) + ": evidence transaction list non-empty"}
	default:
		return VerificationResult{FraudProven: false, Notes: "unknown fraud type"}
	}
}

func (m *Manager) verifyMissingTransaction(e Evidence, anchoredRoot []byte) VerificationResult {
	found := false
	leaves := make([][]byte, 0, len(e.Transactions))
	for _, tx := range e.Transactions {
		if tx.TxID == e.ClaimedTxID {
			found = true
		}
		leaves = append(leaves, []byte(tx.TxID))
	}
	computedRoot := merkleRoot(leaves)
	proven := !found && bytesEqual(computedRoot, anchoredRoot)
	notes := "transaction is present in batch"
	if !found && !bytesEqual(computedRoot, anchoredRoot) {
		notes = "Merkle root mismatch - proof invalid"
	} else if proven {
		notes = fmt.Sprintf("transaction %s was claimed but is missing from batch", e.ClaimedTxID)
	}
	return VerificationResult{FraudProven: proven, Notes: notes}
}

func verifyDoubleSpend(e Evidence) VerificationResult {
	seen := make(map[string]bool, len(e.Transactions))
	for _, tx := range e.Transactions {
		key := tx.Sender + "|" + fmt.Sprint(tx.Nonce)
		if seen[key] {
			return VerificationResult{FraudProven: true, Notes: "duplicate (sender, nonce) pair found"}
		}
		seen[key] = true
	}
	return VerificationResult{FraudProven: false, Notes: "no duplicate (sender, nonce) pairs"}
}

func verifyDoubleInclusion(e Evidence) VerificationResult {
	seen := make(map[string]int, len(e.Transactions))
	for _, tx := range e.Transactions {
		seen[tx.TxID]++
		if seen[tx.TxID] > 1 {
			return VerificationResult{FraudProven: true, Notes: "transaction included multiple times"}
		}
	}
	return VerificationResult{FraudProven: false, Notes: "no double inclusion detected"}
}

func verifyStateRootMismatch(e Evidence) VerificationResult {
	leaves := make([][]byte, 0, len(e.Transactions))
	for _, tx := range e.Transactions {
		leaves = append(leaves, []byte(tx.TxID))
	}
	expected := merkleRoot(leaves)
	proven := !bytesEqual(expected, e.NewRoot)
	notes := "claimed new root matches deterministic computation"
	if proven {
		notes = "claimed new root diverges from deterministic computation"
	}
	return VerificationResult{FraudProven: proven, Notes: notes}
}

func verifySignaturePresence(e Evidence) VerificationResult {
	if len(e.Attestation) == 0 || len(e.OperatorPub) == 0 {
		return VerificationResult{FraudProven: true, Notes: "attestation or operator key missing"}
	}
	return VerificationResult{FraudProven: false, Notes: "attestation present"}
}

// ForceExit verifies a user-presented Merkle proof against the
// operator's anchored state root and, if valid, credits the user on
// the mainchain ledger.
func (m *Manager) ForceExit(anchorID uuid.UUID, address string, amount, nonce uint64, leaves [][]byte) (*ForceExit, error) {
	a, err := m.getAnchor(anchorID)
	if err != nil {
		return nil, err
	}
	computed := merkleRoot(leaves)
	if !bytesEqual(computed, a.StateRoot) {
		return nil, ErrForceExitBadProof
	}
	if err := m.ledger.Credit(address, amount); err != nil {
		return nil, fmt.Errorf("anchor: force-exit credit: %w", err)
	}
	completedAt := now()
	exit := &ForceExit{
		ID:          uuid.New(),
		Microchain:  a.MicrochainID,
		Address:     address,
		Amount:      amount,
		Nonce:       nonce,
		StateRoot:   a.StateRoot,
		CompletedAt: &completedAt,
	}
	return exit, nil
}

func (m *Manager) putAnchor(a *Anchor) error {
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return m.store.Put(ksAnchor, a.ID.String(), b)
}

func (m *Manager) getAnchor(id uuid.UUID) (*Anchor, error) {
	v, err := m.store.Get(ksAnchor, id.String())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrAnchorNotFound
	}
	if err != nil {
		return nil, err
	}
	var a Anchor
	if err := json.Unmarshal(v, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (m *Manager) putChallenge(c *Challenge) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return m.store.Put(ksChallenge, c.ID.String(), b)
}

func (m *Manager) getChallenge(id uuid.UUID) (*Challenge, error) {
	v, err := m.store.Get(ksChallenge, id.String())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, err
	}
	var c Challenge
	if err := json.Unmarshal(v, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func encodeU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeU64(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
