package session

import "errors"

// Registration failures.
var (
	// ErrTenantFull means the tenant hit max_sessions_total.
	ErrTenantFull = errors.New("session: tenant session limit reached")

	// ErrUserLimit means the user is at their session cap under deny mode.
	ErrUserLimit = errors.New("session: user session limit reached")
)
