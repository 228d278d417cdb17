// internal/buzzer/errors.go
package buzzer

import "errors"

var (
	// ErrNotFound means the lobby code does not resolve, including after expiry or close.
	ErrNotFound = errors.New("lobby not found")
	// ErrForbidden means a host action without a matching token, or a player acting
	// on a lobby they are not a member of.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput is a malformed request: empty name, negative value, unknown action.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnavailable is returned once transient store contention outlasts the retry budget.
	ErrUnavailable = errors.New("lobby temporarily unavailable")

	// ErrInvalidOperation marks an expected race between host and player actions,
	// such as resolving with no active player. Engine operations treat it as a no-op
	// and return the current state instead of surfacing it.
	ErrInvalidOperation = errors.New("invalid operation")
)
