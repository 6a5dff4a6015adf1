// Package p2p implements the gossip overlay of spec.md §4.5: a framed,
// length-prefixed transport over TCP or TCP-over-TOR, an authenticated
// handshake, message deduplication, diversity-aware peer exchange,
// exponential-backoff reconnection, and the discovery waterfall. The
// teacher's internal/p2p/{server,manager,message,peer}.go referenced a
// non-existent "empower1.com/core/core" import path and could not
// compile; this package replaces them with a fresh implementation
// grounded directly on spec.md §4.5/§6 and
// original_source/ouro_dag/src/network/{mod.rs,handshake.rs} (see
// DESIGN.md).
package p2p

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxEnvelopeSize is the 256 KB cap from spec.md §6, sized to
// accommodate hybrid (Ed25519+Dilithium5) signatures.
const MaxEnvelopeSize = 256 * 1024

// EnvelopeVersion is the only wire version this node speaks.
const EnvelopeVersion = 1

var (
	ErrFrameTooLarge    = errors.New("p2p: frame exceeds MaxEnvelopeSize")
	ErrUnknownEnvelope  = errors.New("p2p: envelope failed to decode")
)

// MessageType enumerates the typ field of an Envelope, per spec.md §6.
type MessageType string

const (
	MsgHello        MessageType = "hello"
	MsgChallenge    MessageType = "challenge"
	MsgSignature    MessageType = "signature"
	MsgPeerList     MessageType = "peer_list"
	MsgPeerRequest  MessageType = "peer_request"
	MsgGossipTx     MessageType = "gossip_tx"
	MsgPing         MessageType = "ping"
	MsgPong         MessageType = "pong"
	MsgProposal     MessageType = "proposal"
	MsgVote         MessageType = "vote"
	MsgQC           MessageType = "qc"
)

// Envelope is the wire message of spec.md §6:
// {"version":1,"typ":"<type>","payload":<obj>}.
type Envelope struct {
	Version int             `json:"version"`
	Typ     MessageType     `json:"typ"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into an Envelope of the given type.
func NewEnvelope(typ MessageType, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("p2p: marshal payload for %s: %w", typ, err)
	}
	return &Envelope{Version: EnvelopeVersion, Typ: typ, Payload: raw}, nil
}

// Decode unmarshals the envelope's payload into v.
func (e *Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// MessageID is SHA-256(typ || canonical_payload_bytes), the dedup key
// from spec.md §4.5. json.Marshal of already-canonical json.RawMessage
// is stable because Envelope.Payload is stored exactly as received off
// the wire (or exactly as produced by json.Marshal on send), so the
// same logical message always hashes to the same id.
func (e *Envelope) MessageID() [32]byte {
	h := sha256.New()
	h.Write([]byte(e.Typ))
	h.Write(e.Payload)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// WriteFrame writes env as a 4-byte big-endian length prefix followed
// by its JSON encoding.
func WriteFrame(w io.Writer, env *Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("p2p: marshal envelope: %w", err)
	}
	if len(body) > MaxEnvelopeSize {
		return ErrFrameTooLarge
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadFrame reads one length-prefixed JSON envelope from r, rejecting
// frames larger than MaxEnvelopeSize before allocating a buffer for
// them (a malicious peer should not be able to force an oversized
// allocation by lying about a frame's length... other than the length
// prefix itself, which is capped by construction).
func ReadFrame(r io.Reader) (*Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxEnvelopeSize {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownEnvelope, err)
	}
	return &env, nil
}
