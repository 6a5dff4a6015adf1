// Package apitypes declares the wire-level struct shapes of spec.md
// §6's HTTP contract: the request/response bodies an external API
// collaborator would serve. This repository does not run the HTTP
// server (delegated per spec.md's Non-goals); these types exist so
// that collaborator has one stable contract to import. No package in
// this repository imports them: cmd/tx-submitter submits over the p2p
// overlay as a gossip_tx envelope.
package apitypes

// TxSubmitRequest is the body of POST /tx/submit. PublicKey and
// Signature travel inside Payload in the original HTTP envelope
// ("payload must include public_key and signature" per spec.md §6);
// they are promoted to top-level fields here since every caller in
// this repository already holds them as distinct values and a nested
// payload map would only cost an extra decode step.
//
// IdempotencyKey is scaffolded but not honored end-to-end: this
// repository's mempool admission path (internal/mempool.Mempool.Admit)
// rejects a duplicate tx_hash outright rather than returning the
// original tx_id, so a caller that relies on idempotent resubmission
// must not rely on this field against this implementation.
type TxSubmitRequest struct {
	TxHash         string `json:"tx_hash"`
	SenderAddr     string `json:"sender"`
	RecipientAddr  string `json:"recipient"`
	Amount         uint64 `json:"amount"`
	Fee            uint64 `json:"fee"`
	Nonce          uint64 `json:"nonce"`
	ChainID        string `json:"chain_id"`
	Payload        []byte `json:"payload,omitempty"`
	PublicKey      []byte `json:"public_key"`
	Signature      []byte `json:"signature"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// TxSubmitResponse is returned on successful admission.
type TxSubmitResponse struct {
	TxID string `json:"tx_id"`
}

// ErrorResponse is the body returned alongside any non-2xx response,
// including the 400 spec.md §6 requires for a missing signature.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse backs the public GET /health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Height uint64 `json:"height"`
}

// PeerSummary backs one entry of the public-per-spec GET /peers listing.
type PeerSummary struct {
	NodeID string `json:"node_id"`
	Addr   string `json:"addr"`
	Role   string `json:"role"`
}

// SlashingEventResponse backs one entry of GET /slashing/events.
type SlashingEventResponse struct {
	Validator string `json:"validator"`
	Reason    string `json:"reason"`
	Severity  string `json:"severity"`
	View      uint64 `json:"view"`
	Evidence  string `json:"evidence"`
}

// RotateKeyRequest is the body of POST /validators/rotate-key.
type RotateKeyRequest struct {
	ValidatorID string `json:"validator_id"`
	NewPubKey   []byte `json:"new_pub_key"`
}
