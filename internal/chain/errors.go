package chain

import "errors"

var (
	// ErrSpaceViolation is returned when a child tool of lower precedence
	// delegates to a parent of higher precedence, or when a chain
	// transitions from a system tool back into a mutable space.
	ErrSpaceViolation = errors.New("chain: space precedence violation")

	// ErrIOIncompatible is returned when both sides declare I/O types and
	// the parent's required inputs are not a subset of the child's
	// declared outputs.
	ErrIOIncompatible = errors.New("chain: incompatible input/output types")

	// ErrVersionConstraint is returned when a child's version does not
	// satisfy the parent's declared constraint for it.
	ErrVersionConstraint = errors.New("chain: version constraint not satisfied")

	// ErrLockfileMismatch is returned when a resolved chain's hashes
	// disagree with an existing lockfile for the same {tool_id, version}.
	ErrLockfileMismatch = errors.New("chain: lockfile hash mismatch")

	// ErrInputValidation is returned when a tool call's params fail the
	// entry tool's declared Inputs schema (missing required field or a
	// type mismatch on a recognized declared type).
	ErrInputValidation = errors.New("chain: input parameters failed validation")
)
