package ratelimit

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable marks any failure of the shared store: connection errors,
// timeouts and an open breaker. The limiter fails open on it.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// ConfigurationError is returned for a limit type the registry does not know.
// It is a deployment bug and the request must be rejected.
type ConfigurationError struct {
	LimitType LimitType
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("unknown limit type %q", string(e.LimitType))
}

func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

func storeError(op string, err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
