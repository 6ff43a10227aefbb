package usecase

import "errors"

// Error kinds returned by the services. Handlers map them to HTTP statuses
// with errors.Is; the wrapped message is safe to show to the caller.
var (
	ErrValidation    = errors.New("validation failed")
	ErrUnauthorized  = errors.New("not allowed")
	ErrStateConflict = errors.New("state conflict")
	ErrNotFound      = errors.New("not found")
	ErrGateway       = errors.New("payment gateway error")
	ErrIntegrity     = errors.New("integrity check failed")
)
