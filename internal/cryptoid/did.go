package cryptoid

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multicodec"
	"golang.org/x/crypto/ripemd160"
)

// CodecEd25519PubKey is the multicodec tag for an Ed25519 public key,
// following the same did:key construction the teacher uses for its
// secp256r1 identity in internal/crypto/keys.go, retargeted to
// Ed25519 (multicodec 0xed, the standard ed25519-pub tag) since the
// node's primary signing key is Ed25519 rather than P-256.
const CodecEd25519PubKey multicodec.Code = 0xed

var (
	ErrInvalidDIDKeyFormat  = errors.New("cryptoid: invalid did:key string format")
	ErrUnexpectedEncoding   = errors.New("cryptoid: unexpected multibase encoding")
	ErrUnexpectedCodec      = errors.New("cryptoid: unexpected multicodec type")
	ErrPubKeyLengthMismatch = errors.New("cryptoid: public key length mismatch")
)

// GenerateDIDKeyEd25519 builds a did:key identifier for an Ed25519
// public key, following the teacher's multibase/multicodec-header
// construction in internal/crypto/keys.go.
func GenerateDIDKeyEd25519(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: expected %d bytes, got %d", ErrPubKeyLengthMismatch, ed25519.PublicKeySize, len(pub))
	}
	var buf bytes.Buffer
	buf.Write(multicodec.Header(CodecEd25519PubKey))
	buf.Write(pub)
	encoded, err := multibase.Encode(multibase.Base58BTC, buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("cryptoid: encode did:key: %w", err)
	}
	return "did:key:" + encoded, nil
}

// ParseDIDKeyEd25519 parses a did:key string produced by
// GenerateDIDKeyEd25519 back into raw Ed25519 public key bytes.
func ParseDIDKeyEd25519(did string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(did, "did:key:") {
		return nil, ErrInvalidDIDKeyFormat
	}
	part := strings.TrimPrefix(did, "did:key:")
	enc, data, err := multibase.Decode(part)
	if err != nil {
		return nil, fmt.Errorf("cryptoid: decode did:key: %w", err)
	}
	if enc != multibase.Base58BTC {
		return nil, ErrUnexpectedEncoding
	}
	codec, rest, err := multicodec.Consume(data)
	if err != nil {
		return nil, fmt.Errorf("cryptoid: read multicodec: %w", err)
	}
	if multicodec.Code(codec) != CodecEd25519PubKey {
		return nil, ErrUnexpectedCodec
	}
	if len(rest) != ed25519.PublicKeySize {
		return nil, ErrPubKeyLengthMismatch
	}
	return ed25519.PublicKey(rest), nil
}

// LegacyAddress derives the short sha256-then-ripemd160 address format
// the teacher's internal/crypto/address_utils.go used ahead of this
// module's did:key scheme. Ledger entities are keyed by hex-encoded
// Ed25519 public key (see internal/node), so this exists purely as a
// compatibility path for importing balances keyed under the older
// address format rather than as the primary address derivation.
func LegacyAddress(pub ed25519.PublicKey) string {
	sha := sha256.Sum256(pub)
	r := ripemd160.New()
	r.Write(sha[:])
	return hex.EncodeToString(r.Sum(nil))
}
