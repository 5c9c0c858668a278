package domain

import "errors"

// Error taxonomy shared across the engine. Callers match with errors.Is.
var (
	// ErrTenantNotResolved means a tenant-scoped principal carries no
	// tenant id. Session/state inconsistency; surfaced as not-authorized.
	ErrTenantNotResolved = errors.New("tenant not resolved")

	// ErrInvalidRule means a rule draft or patch violates a data-model
	// invariant. Recoverable by correcting input; never partially persisted.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrDuplicateRule means a rule already occupies the composite identity
	// (tenant, section, subsection, level). Benign for fill-missing,
	// a user error on direct create.
	ErrDuplicateRule = errors.New("rule already exists for this identity")

	// ErrNotFound means the referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrUnresolvedRule means a calculation was attempted against the
	// unresolved sentinel. Configuration gap, not a transient fault:
	// the dependent payout must be blocked, not retried.
	ErrUnresolvedRule = errors.New("no commission rule configured")
)
