package apperr

import "errors"

var (
	ErrAlreadyRunning     = errors.New("already running")
	ErrInvalidInterval    = errors.New("interval must be positive")
	ErrGatewayUnavailable = errors.New("gateway unavailable")
)
