package bft

import (
	"crypto/ed25519"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/empower1/empower1/internal/cryptoid"
	"github.com/empower1/empower1/internal/errclass"
)

// StartView advances to the next view, per original_source's
// HotStuff::start_view: determine the leader by deterministic rotation
// and, if self is leader, propose a new block over the highest known
// QC's block as parent.
func (e *Engine) StartView() error {
	e.inner.mu.Lock()
	e.inner.view++
	view := e.inner.view
	e.inner.lastViewStart = now()
	for v := range e.inner.pendingProposals {
		if v < view {
			delete(e.inner.pendingProposals, v)
		}
	}
	highest := e.inner.highestQC
	e.inner.mu.Unlock()

	leader := e.leaderForView(view)
	if leader != e.cfg.SelfID {
		return nil
	}

	var parentID *uuid.UUID
	if highest != nil {
		id := highest.BlockID
		parentID = &id
	}

	txIDs := e.mempool.SelectTransactions(e.cfg.MempoolPull)
	blockID := uuid.New()
	payload := ProposalPayload(blockID, parentID, view, e.cfg.SelfID)

	sig, err := e.signPayload(payload)
	if err != nil {
		return fmt.Errorf("bft: sign proposal: %w", err)
	}

	proposal := &Proposal{
		BlockID:    blockID,
		ParentID:   parentID,
		View:       view,
		ProposerID: e.cfg.SelfID,
		Signature:  sig,
		TxIDs:      txIDs,
	}

	e.inner.mu.Lock()
	e.inner.pendingProposals[view] = proposal
	e.inner.mu.Unlock()

	return e.net.BroadcastProposal(proposal)
}

// signPayload signs with Ed25519-only or hybrid form depending on the
// engine's configured migration phase, per spec.md §4.6's phase gate.
func (e *Engine) signPayload(payload []byte) ([]byte, error) {
	switch {
	case e.cfg.Migration.AcceptsEd25519Only():
		return e.cfg.Identity.SignEd25519(payload)
	case e.cfg.Migration.RequiresDilithiumOnly():
		return e.cfg.Identity.SignDilithium(payload)
	default:
		sig, err := e.cfg.Identity.SignHybrid(payload)
		if err != nil {
			return nil, err
		}
		return sig.Bytes(), nil
	}
}

func (e *Engine) pubKeysFor(v Validator) (*[ed25519.PublicKeySize]byte, *[mode5.PublicKeySize]byte) {
	edPub := v.EdPublicKey
	var pqPub *[mode5.PublicKeySize]byte
	if len(v.DilithiumPubKey) == mode5.PublicKeySize {
		var arr [mode5.PublicKeySize]byte
		copy(arr[:], v.DilithiumPubKey)
		pqPub = &arr
	}
	return &edPub, pqPub
}

// HandleProposal validates and votes on a proposal from the current
// view's leader. A proposal from a non-leader, a stale view, or one
// conflicting with the locked QC is rejected without a vote.
func (e *Engine) HandleProposal(p *Proposal) error {
	e.inner.mu.Lock()
	view := e.inner.view
	locked := e.inner.lockedQC
	e.inner.mu.Unlock()

	if p.View < view {
		return ErrStaleView
	}
	if p.ProposerID != e.leaderForView(p.View) {
		return fmt.Errorf("bft: proposal from %q is not the view %d leader", p.ProposerID, p.View)
	}
	if locked != nil && p.ParentID != nil && *p.ParentID != locked.BlockID && p.View <= locked.View {
		return ErrLockedByHigherView
	}

	validator, ok := e.registry.Validator(p.ProposerID)
	if !ok {
		return fmt.Errorf("bft: unknown proposer %q", p.ProposerID)
	}
	edPub, pqPub := e.pubKeysFor(validator)
	payload := ProposalPayload(p.BlockID, p.ParentID, p.View, p.ProposerID)
	phase := e.cfg.Migration
	if err := cryptoid.VerifyWithMigrationPolicy(payload, p.Signature, edPub, pqPub, phase); err != nil {
		return fmt.Errorf("bft: proposal signature rejected: %w", err)
	}

	e.inner.mu.Lock()
	e.inner.pendingProposals[p.View] = p
	e.inner.mu.Unlock()

	votePayload := VotePayload(p.BlockID, p.View, e.cfg.SelfID)
	sig, err := e.signPayload(votePayload)
	if err != nil {
		return fmt.Errorf("bft: sign vote: %w", err)
	}
	vote := &Vote{BlockID: p.BlockID, View: p.View, VoterID: e.cfg.SelfID, Signature: sig}
	return e.net.BroadcastVote(vote)
}

// HandleVote is the most security-critical entrypoint: it verifies the
// vote's signature, detects equivocation (same voter, same view, a
// different block than one already seen), dispatches slashing, and
// forms a QC once quorum is reached.
func (e *Engine) HandleVote(v *Vote) error {
	validator, ok := e.registry.Validator(v.VoterID)
	if !ok {
		return fmt.Errorf("bft: unknown voter %q", v.VoterID)
	}
	edPub, pqPub := e.pubKeysFor(validator)
	payload := VotePayload(v.BlockID, v.View, v.VoterID)
	if err := cryptoid.VerifyWithMigrationPolicy(payload, v.Signature, edPub, pqPub, e.cfg.Migration); err != nil {
		e.dispatchSlash(v.VoterID, ReasonInvalidSignature, errclass.SeverityMajor, v.View,
			fmt.Sprintf("vote signature verification failed: %v", err))
		return fmt.Errorf("bft: vote signature rejected: %w", err)
	}

	e.inner.mu.Lock()
	seenKey := fmt.Sprintf("%s:%d", v.VoterID, v.View)
	if prior, seen := e.inner.seenVotes[seenKey]; seen && prior != v.BlockID {
		e.inner.mu.Unlock()
		e.dispatchSlash(v.VoterID, ReasonEquivocation, errclass.SeverityCritical, v.View,
			fmt.Sprintf("voted for both %s and %s in view %d", prior, v.BlockID, v.View))
		return fmt.Errorf("bft: equivocation by %q in view %d", v.VoterID, v.View)
	}
	e.inner.seenVotes[seenKey] = v.BlockID

	if e.inner.votes[v.BlockID] == nil {
		e.inner.votes[v.BlockID] = make(map[string]bool)
	}
	e.inner.votes[v.BlockID][v.VoterID] = true
	count := len(e.inner.votes[v.BlockID])
	n := e.quorumN()
	needed := QuorumSize(n)
	var signers []string
	if count >= needed {
		for id := range e.inner.votes[v.BlockID] {
			signers = append(signers, id)
		}
	}
	e.inner.mu.Unlock()

	if signers == nil {
		return nil
	}

	qc := &QuorumCertificate{BlockID: v.BlockID, View: v.View, SignerIDs: signers}
	if err := e.net.BroadcastQC(qc); err != nil {
		return err
	}
	return e.HandleQC(qc)
}

func (e *Engine) dispatchSlash(validatorID string, reason SlashingReason, severity errclass.Severity, view uint64, evidence string) {
	if e.slashing == nil {
		return
	}
	event := SlashingEvent{Validator: validatorID, Reason: reason, Severity: severity, View: view, Evidence: evidence}
	if err := e.slashing.SlashValidator(event); err != nil {
		e.logger.Error("slashing dispatch failed", zap.String("validator", validatorID), zap.Error(err))
	}
}

// HandleQC updates locked_qc/highest_qc monotonically, finalizes the
// certified block, and advances to the next view. This ordering
// (finalize-then-advance) matches original_source's guarantee that view
// N's commit is durable before view N+1 begins.
func (e *Engine) HandleQC(qc *QuorumCertificate) error {
	e.inner.mu.Lock()
	if e.inner.highestQC == nil || qc.View > e.inner.highestQC.View {
		e.inner.highestQC = qc
	}
	if e.inner.lockedQC == nil || qc.View > e.inner.lockedQC.View {
		e.inner.lockedQC = qc
	}
	proposal := e.inner.pendingProposals[qc.View]
	e.inner.mu.Unlock()

	if proposal != nil && e.finalize != nil {
		if err := e.finalize.FinalizeBlock(qc.BlockID, proposal.TxIDs); err != nil {
			return fmt.Errorf("%w: %v", ErrBlockCreationFailed, err)
		}
	}

	return e.StartView()
}
