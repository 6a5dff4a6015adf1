// Package errclass classifies errors by recovery policy so callers can
// decide retry/exit/slash behavior with errors.As instead of string
// matching on error text.
package errclass

import "fmt"

// Fatal wraps an error that must stop the node from participating
// rather than let it emit invalid data (bad bft_secret_seed, production
// without TLS, a supply-cap violation at commit, an unavailable signing
// key).
type Fatal struct{ Err error }

func (e *Fatal) Error() string { return fmt.Sprintf("fatal: %v", e.Err) }
func (e *Fatal) Unwrap() error { return e.Err }

// Operational wraps an error that is returned to the caller and never
// retried: bad signature, duplicate tx_hash, insufficient balance or
// nonce, malformed handshake, corrupt frame. The system continues.
type Operational struct{ Err error }

func (e *Operational) Error() string { return fmt.Sprintf("operational: %v", e.Err) }
func (e *Operational) Unwrap() error { return e.Err }

// Recoverable wraps an error that should be retried with backoff:
// connect failure, peer rate-limit hit, transient storage unavailability.
type Recoverable struct{ Err error }

func (e *Recoverable) Error() string { return fmt.Sprintf("recoverable: %v", e.Err) }
func (e *Recoverable) Unwrap() error { return e.Err }

// Adversarial wraps an error produced by a Byzantine act: an invalid
// vote signature, an equivocation, proven anchor fraud. These trigger
// slashing and are never silently swallowed.
type Adversarial struct {
	Err      error
	Severity Severity
}

// Severity mirrors the slashing severities named in spec.md: a
// fraction of stake confiscated.
type Severity string

const (
	SeverityMajor    Severity = "major"    // 50% stake
	SeverityCritical Severity = "critical" // 100% stake
)

func (e *Adversarial) Error() string {
	return fmt.Sprintf("adversarial(%s): %v", e.Severity, e.Err)
}
func (e *Adversarial) Unwrap() error { return e.Err }

func NewFatal(err error) *Fatal             { return &Fatal{Err: err} }
func NewOperational(err error) *Operational { return &Operational{Err: err} }
func NewRecoverable(err error) *Recoverable { return &Recoverable{Err: err} }

func NewAdversarial(err error, sev Severity) *Adversarial {
	return &Adversarial{Err: err, Severity: sev}
}
