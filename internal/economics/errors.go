package economics

import (
	"errors"
	"fmt"

	"cidwatch/internal/store"
)

// Precondition failures. Every transition error wraps exactly one of these.
var (
	ErrNotFunded         = errors.New("cid not funded")
	ErrAlreadyFunded     = errors.New("cid already funded")
	ErrZeroAmount        = errors.New("amount must be positive")
	ErrUnauthorized      = errors.New("caller not authorized")
	ErrThresholdNotMet   = errors.New("breach threshold not met")
	ErrInsuranceEmpty    = errors.New("insurance pool empty")
	ErrNothingToClaim    = errors.New("no accrued rewards")
	ErrNotPublisher      = errors.New("caller is not the publisher")
	ErrBreachActive      = errors.New("breach counter not zero")
	ErrCooldownActive    = errors.New("withdrawal cooldown active")
	ErrInsufficientFunds = errors.New("amount exceeds withdrawable stake")
	ErrTransferFailed    = errors.New("transfer failed")
	ErrConflict          = store.ErrConflict
)

// Error reports a rejected ledger transition.
type Error struct {
	Op  string
	CID string
	Err error
}

func (e *Error) Error() string {
	if e.CID == "" {
		return fmt.Sprintf("economics: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("economics: %s %s: %v", e.Op, e.CID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// TransferError wraps a failed push to an account.
type TransferError struct {
	To  string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer to %s: %v", e.To, e.Err)
}

// Is lets errors.Is(err, ErrTransferFailed) match any transfer failure.
func (e *TransferError) Is(target error) bool { return target == ErrTransferFailed }

func (e *TransferError) Unwrap() error { return e.Err }
