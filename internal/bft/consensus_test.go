package bft

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/empower1/empower1/internal/cryptoid"
)

type fakeRegistry struct {
	byID map[string]Validator
}

func (r *fakeRegistry) Validator(id string) (Validator, bool) {
	v, ok := r.byID[id]
	return v, ok
}

type fakeMempool struct{}

func (fakeMempool) SelectTransactions(limit int) []uuid.UUID { return nil }

type fakeBroadcaster struct {
	proposals []*Proposal
	votes     []*Vote
	qcs       []*QuorumCertificate
}

func (b *fakeBroadcaster) BroadcastProposal(p *Proposal) error { b.proposals = append(b.proposals, p); return nil }
func (b *fakeBroadcaster) BroadcastVote(v *Vote) error         { b.votes = append(b.votes, v); return nil }
func (b *fakeBroadcaster) BroadcastQC(qc *QuorumCertificate) error {
	b.qcs = append(b.qcs, qc)
	return nil
}

type fakeFinalizer struct {
	finalized []uuid.UUID
}

func (f *fakeFinalizer) FinalizeBlock(blockID uuid.UUID, txIDs []uuid.UUID) error {
	f.finalized = append(f.finalized, blockID)
	return nil
}

type fakeSlashSink struct {
	events []SlashingEvent
}

func (s *fakeSlashSink) SlashValidator(event SlashingEvent) error {
	s.events = append(s.events, event)
	return nil
}

func newTestValidator(t *testing.T, id string) (Validator, *cryptoid.Identity) {
	t.Helper()
	identity, err := cryptoid.GenerateIdentity(false)
	assert.NoError(t, err)
	var edPub [32]byte
	copy(edPub[:], identity.EdPub)
	return Validator{ValidatorID: id, EdPublicKey: edPub, Status: StatusActive}, identity
}

func newTestEngine(t *testing.T, selfID string, identity *cryptoid.Identity, peers []string, registry *fakeRegistry) (*Engine, *fakeBroadcaster, *fakeFinalizer, *fakeSlashSink) {
	t.Helper()
	logger := zap.NewNop()
	net := &fakeBroadcaster{}
	fin := &fakeFinalizer{}
	slash := &fakeSlashSink{}
	cfg := Config{
		SelfID:      selfID,
		Peers:       peers,
		TimeoutMS:   5000,
		Identity:    identity,
		Migration:   cryptoid.Phase1EdOrHybrid,
		MempoolPull: 200,
	}
	e := NewEngine(cfg, registry, fakeMempool{}, net, fin, slash, logger)
	return e, net, fin, slash
}

func TestQuorumSizeMatchesSpec(t *testing.T) {
	assert.Equal(t, 1, QuorumSize(1))
	assert.Equal(t, 3, QuorumSize(3))
	assert.Equal(t, 7, QuorumSize(10))
}

func TestStartViewIsMonotonic(t *testing.T) {
	vA, idA := newTestValidator(t, "a")
	vB, _ := newTestValidator(t, "b")
	registry := &fakeRegistry{byID: map[string]Validator{"a": vA, "b": vB}}

	names := []string{"a", "b"}
	_ = names
	e, net, _, _ := newTestEngine(t, "a", idA, []string{"b"}, registry)

	assert.NoError(t, e.StartView())
	firstView := e.inner.view
	assert.NoError(t, e.StartView())
	secondView := e.inner.view

	assert.Greater(t, secondView, firstView)
	// "a" sorts before "b", so view 1's leader is "a" (index 0) and
	// view 2's leader is "b" (index 1): only view 1 should have produced
	// a proposal broadcast from this engine.
	assert.Len(t, net.proposals, 1)
}

func TestHandleProposalProducesVote(t *testing.T) {
	vLeader, idLeader := newTestValidator(t, "leader")
	vSelf, idSelf := newTestValidator(t, "self")
	registry := &fakeRegistry{byID: map[string]Validator{"leader": vLeader, "self": vSelf}}

	// Sorted order of ["leader", "self"] is ["leader", "self"]; view 1's
	// leader is index 0 = "leader".
	e, net, _, _ := newTestEngine(t, "self", idSelf, []string{"leader"}, registry)
	e.inner.view = 0

	blockID := uuid.New()
	payload := ProposalPayload(blockID, nil, 1, "leader")
	sig, err := idLeader.SignEd25519(payload)
	assert.NoError(t, err)

	proposal := &Proposal{BlockID: blockID, View: 1, ProposerID: "leader", Signature: sig}
	assert.NoError(t, e.HandleProposal(proposal))
	assert.Len(t, net.votes, 1)
	assert.Equal(t, blockID, net.votes[0].BlockID)
}

func TestHandleVoteFormsQCAtQuorum(t *testing.T) {
	vA, idA := newTestValidator(t, "a")
	vB, idB := newTestValidator(t, "b")
	vC, idC := newTestValidator(t, "c")
	registry := &fakeRegistry{byID: map[string]Validator{"a": vA, "b": vB, "c": vC}}

	e, net, fin, _ := newTestEngine(t, "a", idA, []string{"b", "c"}, registry)
	e.inner.pendingProposals[1] = &Proposal{}

	blockID := uuid.New()
	for id, identity := range map[string]*cryptoid.Identity{"a": idA, "b": idB, "c": idC} {
		payload := VotePayload(blockID, 1, id)
		sig, err := identity.SignEd25519(payload)
		assert.NoError(t, err)
		err = e.HandleVote(&Vote{BlockID: blockID, View: 1, VoterID: id, Signature: sig})
		assert.NoError(t, err)
	}

	assert.Len(t, net.qcs, 1)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, net.qcs[0].SignerIDs)
	assert.Len(t, fin.finalized, 1)
	_ = idC
}

func TestHandleVoteEquivocationTriggersCriticalSlash(t *testing.T) {
	vA, idA := newTestValidator(t, "a")
	vB, idB := newTestValidator(t, "b")
	registry := &fakeRegistry{byID: map[string]Validator{"a": vA, "b": vB}}

	e, _, _, slash := newTestEngine(t, "a", idA, []string{"b"}, registry)

	block1 := uuid.New()
	block2 := uuid.New()

	payload1 := VotePayload(block1, 1, "b")
	sig1, err := idB.SignEd25519(payload1)
	assert.NoError(t, err)
	assert.NoError(t, e.HandleVote(&Vote{BlockID: block1, View: 1, VoterID: "b", Signature: sig1}))

	payload2 := VotePayload(block2, 1, "b")
	sig2, err := idB.SignEd25519(payload2)
	assert.NoError(t, err)
	err = e.HandleVote(&Vote{BlockID: block2, View: 1, VoterID: "b", Signature: sig2})
	assert.Error(t, err)

	assert.Len(t, slash.events, 1)
	assert.Equal(t, ReasonEquivocation, slash.events[0].Reason)
}

func TestHandleVoteInvalidSignatureTriggersMajorSlash(t *testing.T) {
	vA, idA := newTestValidator(t, "a")
	vB, _ := newTestValidator(t, "b")
	registry := &fakeRegistry{byID: map[string]Validator{"a": vA, "b": vB}}

	e, _, _, slash := newTestEngine(t, "a", idA, []string{"b"}, registry)

	vote := &Vote{BlockID: uuid.New(), View: 1, VoterID: "b", Signature: make([]byte, 64)}
	err := e.HandleVote(vote)
	assert.Error(t, err)
	assert.Len(t, slash.events, 1)
	assert.Equal(t, ReasonInvalidSignature, slash.events[0].Reason)
}
