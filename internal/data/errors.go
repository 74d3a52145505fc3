package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrAccountNotFound is returned when an account id does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidProvider is returned when a query names an unknown provider.
	ErrInvalidProvider = errors.New("invalid provider")
	// ErrEmptyScope is returned when a bulk operation has nothing to select on.
	ErrEmptyScope = errors.New("scope selects nothing")
)
