package ports

import "errors"

// Standard application-level errors.
// Adapters and core components wrap underlying errors with these sentinels
// so callers can branch with errors.Is without knowing the backend.
var (
	// General
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Ingestion pipeline
	ErrParseRejected    = errors.New("message rejected by signal parser")
	ErrNotACommand      = errors.New("reply text matches no command keywords")
	ErrUnresolvedTarget = errors.New("command target has no bound signal")
	ErrDuplicateMessage = errors.New("message already processed")

	// Sizing
	ErrSizingRejected    = errors.New("signal rejected by sizing calculator")
	ErrZeroVolume        = errors.New("computed volume rounds to zero")
	ErrInsufficientFunds = errors.New("insufficient margin for computed volume")
	ErrSymbolNotTradable = errors.New("symbol is not tradable at the venue")

	// Execution venue
	ErrVenueUnavailable     = errors.New("execution venue is unavailable")
	ErrVenueCallFailed      = errors.New("execution venue call failed")
	ErrOrderNotFound        = errors.New("order not found at the venue")
	ErrPositionNotFound     = errors.New("position not found at the venue")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrAuthenticationFailed = errors.New("venue authentication failed")
	ErrRateLimited          = errors.New("venue API rate limit exceeded")

	// Store
	ErrStoreUnavailable = errors.New("signal store is unavailable")
	ErrQueryFailed      = errors.New("store query failed")
	ErrUpdateFailed     = errors.New("store update failed")
)
