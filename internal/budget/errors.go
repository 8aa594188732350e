package budget

import "errors"

// Error taxonomy per spec.md §7: budget failures are sentinel errors the
// caller checks with errors.Is, never silently swallowed.
var (
	ErrNotRegistered = errors.New("budget: thread not registered")
	ErrInsufficient  = errors.New("budget: insufficient budget")
	ErrOverspend     = errors.New("budget: overspend")
	ErrLedgerLocked  = errors.New("budget: ledger locked")
)

// InsufficientBudgetError carries the remaining/requested amounts for a
// failed reservation, per S3's expected error shape.
type InsufficientBudgetError struct {
	Remaining float64
	Requested float64
}

func (e *InsufficientBudgetError) Error() string {
	return "budget: insufficient budget"
}

func (e *InsufficientBudgetError) Unwrap() error { return ErrInsufficient }
