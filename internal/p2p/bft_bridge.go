package p2p

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/empower1/empower1/internal/bft"
)

// consensusProposal/Vote/QC mirror bft's wire-visible fields for JSON
// transport; bft.Proposal/Vote/QuorumCertificate are kept free of JSON
// tags since bft has no reason to know about the wire format.
type consensusProposal struct {
	BlockID    string   `json:"block_id"`
	ParentID   *string  `json:"parent_id,omitempty"`
	View       uint64   `json:"view"`
	ProposerID string   `json:"proposer_id"`
	Signature  []byte   `json:"signature"`
	TxIDs      []string `json:"tx_ids"`
}

type consensusVote struct {
	BlockID   string `json:"block_id"`
	View      uint64 `json:"view"`
	VoterID   string `json:"voter_id"`
	Signature []byte `json:"signature"`
}

type consensusQC struct {
	BlockID   string   `json:"block_id"`
	View      uint64   `json:"view"`
	SignerIDs []string `json:"signer_ids"`
}

// GossipBroadcaster adapts a *Server to bft.Broadcaster, so the
// consensus engine never imports the network package directly (spec.md
// §9's design note on avoiding cyclic/ad-hoc references between
// components).
type GossipBroadcaster struct {
	server *Server
}

func NewGossipBroadcaster(server *Server) *GossipBroadcaster {
	return &GossipBroadcaster{server: server}
}

func (b *GossipBroadcaster) BroadcastProposal(p *bft.Proposal) error {
	var parent *string
	if p.ParentID != nil {
		s := p.ParentID.String()
		parent = &s
	}
	txIDs := make([]string, len(p.TxIDs))
	for i, id := range p.TxIDs {
		txIDs[i] = id.String()
	}
	env, err := NewEnvelope(MsgProposal, consensusProposal{
		BlockID:    p.BlockID.String(),
		ParentID:   parent,
		View:       p.View,
		ProposerID: p.ProposerID,
		Signature:  p.Signature,
		TxIDs:      txIDs,
	})
	if err != nil {
		return err
	}
	return b.server.Broadcast(env)
}

func (b *GossipBroadcaster) BroadcastVote(v *bft.Vote) error {
	env, err := NewEnvelope(MsgVote, consensusVote{
		BlockID:   v.BlockID.String(),
		View:      v.View,
		VoterID:   v.VoterID,
		Signature: v.Signature,
	})
	if err != nil {
		return err
	}
	return b.server.Broadcast(env)
}

// DispatchToEngine decodes a proposal/vote/qc envelope and hands it to
// engine's matching Handle* method. It is the inbound half of
// GossipBroadcaster's outbound encoding; a Node wires this into its
// Server.OnMessage callback rather than p2p importing bft's dispatch
// logic directly.
func DispatchToEngine(engine *bft.Engine, env *Envelope) error {
	switch env.Typ {
	case MsgProposal:
		var cp consensusProposal
		if err := env.Decode(&cp); err != nil {
			return fmt.Errorf("p2p: decode proposal: %w", err)
		}
		blockID, err := uuid.Parse(cp.BlockID)
		if err != nil {
			return fmt.Errorf("p2p: proposal block_id: %w", err)
		}
		var parent *uuid.UUID
		if cp.ParentID != nil {
			pid, err := uuid.Parse(*cp.ParentID)
			if err != nil {
				return fmt.Errorf("p2p: proposal parent_id: %w", err)
			}
			parent = &pid
		}
		txIDs := make([]uuid.UUID, 0, len(cp.TxIDs))
		for _, s := range cp.TxIDs {
			id, err := uuid.Parse(s)
			if err != nil {
				return fmt.Errorf("p2p: proposal tx_id: %w", err)
			}
			txIDs = append(txIDs, id)
		}
		return engine.HandleProposal(&bft.Proposal{
			BlockID: blockID, ParentID: parent, View: cp.View,
			ProposerID: cp.ProposerID, Signature: cp.Signature, TxIDs: txIDs,
		})

	case MsgVote:
		var cv consensusVote
		if err := env.Decode(&cv); err != nil {
			return fmt.Errorf("p2p: decode vote: %w", err)
		}
		blockID, err := uuid.Parse(cv.BlockID)
		if err != nil {
			return fmt.Errorf("p2p: vote block_id: %w", err)
		}
		return engine.HandleVote(&bft.Vote{
			BlockID: blockID, View: cv.View, VoterID: cv.VoterID, Signature: cv.Signature,
		})

	case MsgQC:
		var cq consensusQC
		if err := env.Decode(&cq); err != nil {
			return fmt.Errorf("p2p: decode qc: %w", err)
		}
		blockID, err := uuid.Parse(cq.BlockID)
		if err != nil {
			return fmt.Errorf("p2p: qc block_id: %w", err)
		}
		return engine.HandleQC(&bft.QuorumCertificate{
			BlockID: blockID, View: cq.View, SignerIDs: cq.SignerIDs,
		})

	default:
		return fmt.Errorf("p2p: DispatchToEngine: unhandled message type %s", env.Typ)
	}
}

func (b *GossipBroadcaster) BroadcastQC(qc *bft.QuorumCertificate) error {
	env, err := NewEnvelope(MsgQC, consensusQC{
		BlockID:   qc.BlockID.String(),
		View:      qc.View,
		SignerIDs: qc.SignerIDs,
	})
	if err != nil {
		return err
	}
	return b.server.Broadcast(env)
}
