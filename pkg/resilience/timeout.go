package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/LuizLemos21/FileExplorer/pkg/errors"
)

// WithTimeout runs fn with a context cancelled after timeout. When the
// deadline passes first, WithTimeout returns immediately with an error
// wrapping apperrors.ErrTimeout and context.DeadlineExceeded; fn keeps
// running on its own until it observes the cancelled context and its result
// is discarded.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- fn(timeoutCtx)
	}()
	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("%s: parent context cancelled: %w", name, ctx.Err())
		}
		return fmt.Errorf("%s: %w: %w (limit: %v)", name, apperrors.ErrTimeout, context.DeadlineExceeded, timeout)
	}
}
