package auth

import "errors"

// Sentinel errors shared by the auth core. Callers compare with errors.Is;
// the HTTP layer maps each one to a stable status and error code.
var (
	// ErrInvalidCredentials covers bad username/password and every token
	// verification failure. It never says which check failed.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrMissingCredentials = errors.New("missing credentials")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrConflict           = errors.New("username or email already registered")
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrRoleTableImmutable = errors.New("role permission table is compiled in and cannot be edited")
)
