package bft

import "github.com/empower1/empower1/internal/errclass"

// SlashingReason names why a validator was slashed.
type SlashingReason string

const (
	ReasonInvalidSignature SlashingReason = "invalid_signature"
	ReasonEquivocation     SlashingReason = "equivocation"
)

// SlashingEvent is the persisted evidence spec.md §7 requires: these
// are never silently swallowed.
type SlashingEvent struct {
	Validator string
	Reason    SlashingReason
	Severity  errclass.Severity
	View      uint64
	Evidence  string
}

// SlashingSink is the capability interface consensus depends on,
// resolving the cyclic consensus<->slashing-manager reference named in
// spec.md §9's design notes: consensus holds a SlashingSink rather than
// a back-reference to a concrete slashing manager.
type SlashingSink interface {
	SlashValidator(event SlashingEvent) error
}
