// Package config holds the process-wide configuration surface named
// in the node's external interface: role, listen addresses, chain id,
// the BFT signing seed, TLS paths, rate limiting, PQ crypto toggle,
// bootstrap/authorized peers, and the multisig threshold. It binds
// these onto a cobra/pflag flag set the way cmd/empower1d's command
// tree already does, with environment-variable overrides read
// directly rather than through a separate config-file library.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// Role determines which parts of the node run. Only Heavy runs the
// consensus core; Medium and Light relay traffic and observe anchors.
type Role string

const (
	RoleHeavy  Role = "heavy"
	RoleMedium Role = "medium"
	RoleLight  Role = "light"
)

// RateLimit bounds inbound request/message volume.
type RateLimit struct {
	MaxRequests int
	WindowSecs  int
}

// Config is the fully resolved process-wide configuration.
type Config struct {
	Role Role

	ListenAddr string
	APIAddr    string
	BFTPort    int

	ChainID string

	// BFTSecretSeed is 32 bytes of hex; it must not be all-zero or a
	// single repeated byte, since either would make the derived
	// signing key guessable or degenerate.
	BFTSecretSeed [32]byte

	TLSCertPath string
	TLSKeyPath  string
	Environment string // "production" requires TLSCertPath/TLSKeyPath

	RateLimit RateLimit

	EnablePQCrypto bool

	BootstrapPeers  []string
	AuthorizedPeers []string

	// MultisigThreshold defaults to (n*2/3)+1 when zero, computed by
	// the caller once peer count is known.
	MultisigThreshold int

	// raw holds pointers to the pflag-bound locals that need
	// post-processing after parsing; see BindFlags/Finalize.
	raw rawFlags
}

type rawFlags struct {
	role            *string
	seedHex         *string
	envName         *string
	bootstrapPeers  *string
	authorizedPeers *string
}

// ErrInvalidSeed is returned when BFTSecretSeed fails the
// degenerate-value check. This is a Fatal-to-node condition per
// spec.md §7: the node must refuse to start rather than sign with a
// guessable key.
var ErrInvalidSeed = fmt.Errorf("bft_secret_seed must not be all-zero or a single repeated byte")

// BindFlags registers every recognized flag onto fs. Call once from
// the root cobra command's PersistentFlags(), mirroring the teacher's
// existing cobra tree in cmd/empower1d/cli. The returned Config's
// Role/Environment/BootstrapPeers/AuthorizedPeers/BFTSecretSeed fields
// are only valid after fs has been parsed (cobra does this between
// BindFlags and RunE) and Finalize has been called.
func BindFlags(fs *pflag.FlagSet) *Config {
	cfg := &Config{}
	var role, seedHex, envName, bootstrapPeers, authorizedPeers string
	cfg.raw = rawFlags{role: &role, seedHex: &seedHex, envName: &envName, bootstrapPeers: &bootstrapPeers, authorizedPeers: &authorizedPeers}

	fs.StringVar(&role, "role", string(RoleHeavy), "node role: heavy, medium, or light")
	fs.StringVar(&cfg.ListenAddr, "listen-addr", ":26656", "P2P listen address")
	fs.StringVar(&cfg.APIAddr, "api-addr", ":26657", "external API listen address (served by a delegated collaborator)")
	fs.IntVar(&cfg.BFTPort, "bft-port", 26658, "validator-to-validator BFT control-plane port")
	fs.StringVar(&cfg.ChainID, "chain-id", "ouroboros-mainnet-1", "chain id used in transaction canonicalization")
	fs.StringVar(&seedHex, "bft-secret-seed", "", "32-byte hex seed for the validator's signing identity")
	fs.StringVar(&cfg.TLSCertPath, "tls-cert-path", "", "TLS certificate path, required when environment=production")
	fs.StringVar(&cfg.TLSKeyPath, "tls-key-path", "", "TLS key path, required when environment=production")
	fs.StringVar(&envName, "environment", "development", "deployment environment: production or development")
	fs.IntVar(&cfg.RateLimit.MaxRequests, "rate-limit-max-requests", 100, "max requests per rate-limit window")
	fs.IntVar(&cfg.RateLimit.WindowSecs, "rate-limit-window-secs", 60, "rate-limit window length in seconds")
	fs.BoolVar(&cfg.EnablePQCrypto, "enable-pq-crypto", false, "load or generate a Dilithium5 keypair alongside Ed25519")
	fs.StringVar(&bootstrapPeers, "bootstrap-peers", "", "comma-separated bootstrap peer addresses")
	fs.StringVar(&authorizedPeers, "authorized-peers", "", "comma-separated authorized peer node_ids/pubkeys (empty = open)")
	fs.IntVar(&cfg.MultisigThreshold, "multisig-threshold", 0, "multisig threshold; 0 derives (n*2/3)+1")

	return cfg
}

// Finalize re-derives every field that BindFlags bound to a local
// string rather than a struct field directly, after fs.Parse has run.
// Call this once, right before Validate.
func (c *Config) Finalize() error {
	c.Role = Role(*c.raw.role)
	c.Environment = *c.raw.envName
	c.BootstrapPeers = splitNonEmpty(*c.raw.bootstrapPeers)
	c.AuthorizedPeers = splitNonEmpty(*c.raw.authorizedPeers)

	seedHex := *c.raw.seedHex
	if seedHex == "" {
		seedHex = os.Getenv("EMPOWER1_BFT_SECRET_SEED")
	}
	if seedHex != "" {
		return c.SetSeedHex(seedHex)
	}
	return nil
}

// SetSeedHex decodes and validates a hex-encoded 32-byte seed.
func (c *Config) SetSeedHex(seedHex string) error {
	raw, err := hexDecode(seedHex)
	if err != nil {
		return fmt.Errorf("bft_secret_seed: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("bft_secret_seed: want 32 bytes, got %d", len(raw))
	}
	var seed [32]byte
	copy(seed[:], raw)
	if isDegenerate(seed) {
		return ErrInvalidSeed
	}
	c.BFTSecretSeed = seed
	return nil
}

// Validate enforces the production-requires-TLS rule and the seed
// check; both are Fatal-to-node per spec.md §7.
func (c *Config) Validate() error {
	if isDegenerate(c.BFTSecretSeed) {
		return ErrInvalidSeed
	}
	if c.Environment == "production" && (c.TLSCertPath == "" || c.TLSKeyPath == "") {
		return fmt.Errorf("tls_cert_path and tls_key_path are required when environment=production")
	}
	switch c.Role {
	case RoleHeavy, RoleMedium, RoleLight:
	default:
		return fmt.Errorf("unrecognized role %q", c.Role)
	}
	return nil
}

func isDegenerate(seed [32]byte) bool {
	allZero := true
	allSame := true
	first := seed[0]
	for _, b := range seed {
		if b != 0 {
			allZero = false
		}
		if b != first {
			allSame = false
		}
	}
	return allZero || allSame
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func hexDecode(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		b, err := strconv.ParseUint(s[i*2:i*2+2], 16, 8)
		if err != nil {
			return nil, err
		}
		out[i] = byte(b)
	}
	return out, nil
}
