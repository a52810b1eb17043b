package application

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrValidation marks caller input problems; transports map it to 400.
	ErrValidation = errors.New("validation")

	// ErrConcurrencyConflict surfaces when a version-guarded update loses the
	// race on every allowed attempt; transports map it to 409.
	ErrConcurrencyConflict = errors.New("concurrent modification, please retry")
)

// DefaultRetryAttempts bounds CAS retry loops unless config overrides it.
const DefaultRetryAttempts = 5

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// RetryConflicts re-runs fn while isConflict(err) holds, up to attempts
// times, then wraps the last conflict in ErrConcurrencyConflict. Other errors
// pass through untouched.
func RetryConflicts(ctx context.Context, attempts int, isConflict func(error) bool, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	var err error
	for i := 0; i < attempts; i++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = fn(ctx)
		if err == nil || !isConflict(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
}
