package screening

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrInternalFault fails the whole batch: the decision cache or the
	// engine bookkeeping is broken. It is not retryable.
	ErrInternalFault = errors.New("internal fault")
	// ErrTimeout is returned when the batch is cancelled or runs out of time.
	// Partial results are discarded.
	ErrTimeout = errors.New("screening timed out")
)

func internalFault(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInternalFault, format, args...)
}

func timeout(ctx context.Context) error {
	return errors.Wrap(ErrTimeout, context.Cause(ctx).Error())
}
