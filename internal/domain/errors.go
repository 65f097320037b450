package domain

import (
	"errors"
	"fmt"
)

// ErrTerminal marks an error the scheduler must not retry. Executors wrap
// non-recoverable failures with Terminal; everything else is retried with
// backoff until the attempt budget runs out.
var ErrTerminal = errors.New("non-retryable")

var (
	// ErrAuthRevoked means the provider rejected our credentials outright
	// (e.g. invalid_grant on a refresh token). Only user re-authorization
	// can fix it.
	ErrAuthRevoked = fmt.Errorf("authorization revoked: %w", ErrTerminal)

	// ErrIntegrationInactive means the owning integration was disabled or
	// deleted after the job was queued.
	ErrIntegrationInactive = fmt.Errorf("integration inactive: %w", ErrTerminal)
)

// Terminal wraps err so IsTerminal reports true for it.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTerminal, err)
}

func IsTerminal(err error) bool {
	return errors.Is(err, ErrTerminal)
}
