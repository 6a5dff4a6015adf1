package p2p

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/empower1/empower1/internal/errclass"
)

// HelloPayload is sent by the connecting client.
type HelloPayload struct {
	NodeID    string `json:"node_id"`
	PubKeyHex string `json:"pubkey_hex"`
	Role      string `json:"role"`
}

// ChallengePayload is sent by the server in response to Hello.
type ChallengePayload struct {
	Nonce     string `json:"nonce"`
	NodeID    string `json:"node_id"`
	PubKeyHex string `json:"pubkey"`
	Role      string `json:"role"`
}

// SignaturePayload is the client's reply to a Challenge: an Ed25519
// signature over the raw nonce bytes.
type SignaturePayload struct {
	SignatureHex string `json:"signature"`
}

// PeerListPayload carries known active peers, both as the handshake's
// trailing message and as the PEX response.
type PeerListPayload struct {
	Peers []string `json:"peers"`
}

// PeerInfo is what a completed handshake establishes about the other
// side.
type PeerInfo struct {
	NodeID    string
	PubKeyHex string
	Role      string
}

var (
	ErrHandshakeUnexpectedType = errors.New("p2p: unexpected message type during handshake")
	ErrHandshakeBadSignature   = errors.New("p2p: handshake signature verification failed")
	ErrHandshakeNotAuthorized  = errors.New("p2p: peer not in authorized_peers whitelist")
	ErrHandshakeBadPubKey      = errors.New("p2p: malformed public key hex")
)

// isAuthorized implements spec.md §4.5's whitelist check: empty
// authorizedPeers means open membership; otherwise nodeID or pubkeyHex
// must appear (case-insensitive) in the list.
func isAuthorized(authorizedPeers []string, nodeID, pubKeyHex string) bool {
	if len(authorizedPeers) == 0 {
		return true
	}
	nodeID = strings.ToLower(nodeID)
	pubKeyHex = strings.ToLower(pubKeyHex)
	for _, a := range authorizedPeers {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == nodeID || a == pubKeyHex {
			return true
		}
	}
	return false
}

// ServerHandshake runs the responder side of spec.md §4.5's
// handshake: read hello, send challenge, verify the client's
// signature over the nonce, enforce the authorized-peers whitelist,
// then send a peer_list of known active peers.
func ServerHandshake(conn net.Conn, selfNodeID string, selfPub ed25519.PublicKey, selfRole string, authorizedPeers []string, knownPeers []string) (*PeerInfo, error) {
	helloEnv, err := ReadFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("p2p: handshake read hello: %w", err)
	}
	if helloEnv.Typ != MsgHello {
		return nil, fmt.Errorf("%w: want hello, got %s", ErrHandshakeUnexpectedType, helloEnv.Typ)
	}
	var hello HelloPayload
	if err := helloEnv.Decode(&hello); err != nil {
		return nil, fmt.Errorf("p2p: decode hello: %w", err)
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("p2p: generate challenge nonce: %w", err)
	}
	challenge := ChallengePayload{
		Nonce:     hex.EncodeToString(nonce),
		NodeID:    selfNodeID,
		PubKeyHex: hex.EncodeToString(selfPub),
		Role:      selfRole,
	}
	chEnv, err := NewEnvelope(MsgChallenge, challenge)
	if err != nil {
		return nil, err
	}
	if err := WriteFrame(conn, chEnv); err != nil {
		return nil, fmt.Errorf("p2p: handshake send challenge: %w", err)
	}

	sigEnv, err := ReadFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("p2p: handshake read signature: %w", err)
	}
	if sigEnv.Typ != MsgSignature {
		return nil, fmt.Errorf("%w: want signature, got %s", ErrHandshakeUnexpectedType, sigEnv.Typ)
	}
	var sigMsg SignaturePayload
	if err := sigEnv.Decode(&sigMsg); err != nil {
		return nil, fmt.Errorf("p2p: decode signature: %w", err)
	}
	sigBytes, err := hex.DecodeString(sigMsg.SignatureHex)
	if err != nil {
		return nil, fmt.Errorf("p2p: decode signature hex: %w", err)
	}
	clientPub, err := hex.DecodeString(hello.PubKeyHex)
	if err != nil || len(clientPub) != ed25519.PublicKeySize {
		return nil, ErrHandshakeBadPubKey
	}
	if !ed25519.Verify(clientPub, nonce, sigBytes) {
		return nil, errclass.NewAdversarial(ErrHandshakeBadSignature, errclass.SeverityMajor)
	}

	if !isAuthorized(authorizedPeers, hello.NodeID, hello.PubKeyHex) {
		return nil, ErrHandshakeNotAuthorized
	}

	plEnv, err := NewEnvelope(MsgPeerList, PeerListPayload{Peers: knownPeers})
	if err != nil {
		return nil, err
	}
	if err := WriteFrame(conn, plEnv); err != nil {
		return nil, fmt.Errorf("p2p: handshake send peer_list: %w", err)
	}

	return &PeerInfo{NodeID: hello.NodeID, PubKeyHex: hello.PubKeyHex, Role: hello.Role}, nil
}

// ClientHandshake runs the initiator side: send hello, read the
// challenge, sign its nonce, send the signature, and collect whatever
// peer_list the server includes.
func ClientHandshake(conn net.Conn, selfNodeID string, selfPub ed25519.PublicKey, selfPriv ed25519.PrivateKey, selfRole string) (*PeerInfo, []string, error) {
	hello := HelloPayload{NodeID: selfNodeID, PubKeyHex: hex.EncodeToString(selfPub), Role: selfRole}
	helloEnv, err := NewEnvelope(MsgHello, hello)
	if err != nil {
		return nil, nil, err
	}
	if err := WriteFrame(conn, helloEnv); err != nil {
		return nil, nil, fmt.Errorf("p2p: handshake send hello: %w", err)
	}

	chEnv, err := ReadFrame(conn)
	if err != nil {
		return nil, nil, fmt.Errorf("p2p: handshake read challenge: %w", err)
	}
	if chEnv.Typ != MsgChallenge {
		return nil, nil, fmt.Errorf("%w: want challenge, got %s", ErrHandshakeUnexpectedType, chEnv.Typ)
	}
	var challenge ChallengePayload
	if err := chEnv.Decode(&challenge); err != nil {
		return nil, nil, fmt.Errorf("p2p: decode challenge: %w", err)
	}
	nonce, err := hex.DecodeString(challenge.Nonce)
	if err != nil {
		return nil, nil, fmt.Errorf("p2p: decode challenge nonce: %w", err)
	}

	sig := ed25519.Sign(selfPriv, nonce)
	sigEnv, err := NewEnvelope(MsgSignature, SignaturePayload{SignatureHex: hex.EncodeToString(sig)})
	if err != nil {
		return nil, nil, err
	}
	if err := WriteFrame(conn, sigEnv); err != nil {
		return nil, nil, fmt.Errorf("p2p: handshake send signature: %w", err)
	}

	info := &PeerInfo{NodeID: challenge.NodeID, PubKeyHex: challenge.PubKeyHex, Role: challenge.Role}

	plEnv, err := ReadFrame(conn)
	if err != nil {
		// The peer_list tail message is a courtesy, not required for
		// a successful handshake; treat its absence as "no peers".
		return info, nil, nil
	}
	if plEnv.Typ != MsgPeerList {
		return info, nil, nil
	}
	var pl PeerListPayload
	if err := plEnv.Decode(&pl); err != nil {
		return info, nil, nil
	}
	return info, pl.Peers, nil
}
