package escrow

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("escrow not found")
	ErrNotListed          = fmt.Errorf("%w: asset is not listed", ErrNotFound)
	ErrUnauthorized       = errors.New("caller not authorized for this escrow operation")
	ErrAlreadyListed      = errors.New("asset already has an escrow record")
	ErrTerminal           = errors.New("escrow already finalized or cancelled")
	ErrInvalidTerms       = errors.New("invalid escrow terms")
	ErrPreconditionNotMet = errors.New("finalize precondition not met")
	ErrTransferFailed     = errors.New("custody or payment transfer failed")
)

// ErrAlreadyFinalized is the same sentinel as ErrTerminal.
var ErrAlreadyFinalized = ErrTerminal

// Condition names one finalize gate. Gates are checked in declaration order.
type Condition string

const (
	CondInspectionPassed Condition = "inspection_passed"
	CondBuyerApproved    Condition = "buyer_approved"
	CondSellerApproved   Condition = "seller_approved"
	CondLenderApproved   Condition = "lender_approved"
	CondEarnestFunded    Condition = "earnest_funded"
)

// PreconditionError reports the first unmet finalize gate.
type PreconditionError struct {
	Condition Condition
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPreconditionNotMet, e.Condition)
}

func (e *PreconditionError) Unwrap() error {
	return ErrPreconditionNotMet
}

// ErrorKind maps an operation error to a short label for metrics and
// API responses.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotListed):
		return "not_listed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrAlreadyListed):
		return "already_listed"
	case errors.Is(err, ErrTerminal):
		return "terminal"
	case errors.Is(err, ErrInvalidTerms):
		return "invalid_terms"
	case errors.Is(err, ErrPreconditionNotMet):
		return "precondition_not_met"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	default:
		return "internal"
	}
}
