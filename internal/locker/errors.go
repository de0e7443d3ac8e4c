package locker

import "errors"

var (
	ErrInvalidOwner   = errors.New("caller is not the borrower")
	ErrInvalidPhase   = errors.New("operation not allowed in current phase")
	ErrFloorReached   = errors.New("floor already reached")
	ErrBelowFloor     = errors.New("collected amount below floor")
	ErrProviderExists = errors.New("contributor already holds a position")
	ErrEnabledLocker  = errors.New("locker can still be enabled")
	ErrInvalidSender  = errors.New("sender cannot be refunded through this path")
	ErrMinimumPayoff  = errors.New("payment below minimum due")
	ErrTooEarly       = errors.New("too early")

	ErrInvalidAmount = errors.New("amount must be positive")
	ErrInvalidTerms  = errors.New("invalid loan terms")
)
