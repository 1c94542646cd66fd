package registry

import "errors"

var (
	ErrInvalidAmount       = errors.New("deposit amount must be positive")
	ErrInvalidHolder       = errors.New("holder is required")
	ErrTransferRejected    = errors.New("token transfer rejected")
	ErrTransferFailed      = errors.New("token transfer failed")
	ErrOracleUnavailable   = errors.New("randomness oracle unavailable")
	ErrUnknownRequest      = errors.New("unknown randomness request")
	ErrAlreadyFulfilled    = errors.New("randomness request already fulfilled")
	ErrNoRandomWords       = errors.New("no random words supplied")
	ErrCardNotFound        = errors.New("card not found")
	ErrInsufficientBalance = errors.New("pool balance below decay minimum")
)
