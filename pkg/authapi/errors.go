package authapi

import (
	"errors"
	"fmt"
)

// Sentinel errors for the auth service error taxonomy. Flows match on these
// with errors.Is to pick the user-facing message; the wrapped error keeps the
// transport detail for diagnostics.
var (
	// ErrInvalidCredential is a credential rejection (HTTP 400): wrong
	// password, wrong TOTP code or wrong backup code. Recoverable by retyping.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrUnauthorized means the session token was missing or expired
	// (HTTP 401). Remediation is re-login, not re-typing.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTransport covers network-level failures where no HTTP response was
	// received at all.
	ErrTransport = errors.New("transport failure")

	// ErrUnexpected covers any other non-2xx response.
	ErrUnexpected = errors.New("unexpected response")
)

// statusError maps an HTTP status code to the taxonomy.
func statusError(op string, code int) error {
	switch code {
	case 400:
		return fmt.Errorf("%s: %w", op, ErrInvalidCredential)
	case 401:
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	default:
		return fmt.Errorf("%s: status %d: %w", op, code, ErrUnexpected)
	}
}
