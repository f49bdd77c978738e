package domain

import "errors"

// Domain errors
var (
	ErrPlayerNotFound     = errors.New("player not found")
	ErrNotConnected       = errors.New("wallet not connected")
	ErrNotRegistered      = errors.New("player not registered")
	ErrInvalidUsername    = errors.New("username must be 3-20 characters")
	ErrInvalidStage       = errors.New("invalid stage")
	ErrInvalidSession     = errors.New("invalid game session")
	ErrInsufficientCoins  = errors.New("insufficient in-game coins")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInternalError      = errors.New("internal server error")
	ErrOperationInFlight  = errors.New("another transaction is already in flight")
	ErrTransactionFailed  = errors.New("transaction reverted")
	ErrUnsafeNarrowing    = errors.New("value exceeds safe integer range")
	ErrDialogOpen         = errors.New("a confirmation dialog is already open")
	ErrNoDialog           = errors.New("no confirmation dialog is open")
	ErrStageNotCompleted  = errors.New("stage not completed")
	ErrMarketplaceMissing = errors.New("marketplace contract is not configured")
	ErrSnapshotNotFound   = errors.New("snapshot not found")
	ErrReadOnly           = errors.New("connected wallet cannot sign transactions")
	ErrRunInProgress      = errors.New("a run is already in progress")
	ErrHistoryDisabled    = errors.New("session history is not configured")
)

// Benign outcomes are reported as information rather than failures.
var (
	ErrAlreadyRegistered = errors.New("player already registered")
	ErrAlreadyClaimed    = errors.New("reward already claimed")
)

// Marketplace precondition errors, raised before a transaction is sent.
var (
	ErrInvalidPrice   = errors.New("listing price must be greater than zero")
	ErrNotOwner       = errors.New("only the token owner can list it")
	ErrNotApproved    = errors.New("marketplace is not approved to transfer your badges")
	ErrAlreadyListed  = errors.New("token already has an active listing")
	ErrNotListed      = errors.New("token is not listed for sale")
	ErrPriceMismatch  = errors.New("payment must equal the listed price")
	ErrNotSeller      = errors.New("only the seller can cancel this listing")
	ErrTokenNotFound  = errors.New("token not found")
	ErrInvalidAddress = errors.New("invalid address")
)

// IsBenign reports whether err is an expected outcome that should be
// surfaced as information instead of an error.
func IsBenign(err error) bool {
	return errors.Is(err, ErrAlreadyRegistered) || errors.Is(err, ErrAlreadyClaimed)
}

// IsPreconditionError reports whether err was raised locally before any
// transaction was attempted.
func IsPreconditionError(err error) bool {
	for _, target := range []error{
		ErrInvalidPrice, ErrNotOwner, ErrNotApproved, ErrAlreadyListed,
		ErrNotListed, ErrPriceMismatch, ErrNotSeller, ErrInvalidUsername,
		ErrInvalidStage, ErrInvalidSession, ErrInsufficientCoins,
		ErrNotConnected, ErrStageNotCompleted, ErrInvalidAddress,
		ErrReadOnly, ErrRunInProgress,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrPlayerNotFound) ||
		errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrSnapshotNotFound)
}
