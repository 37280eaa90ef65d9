package transfer

import (
	"context"
	"errors"

	"github.com/3leaps/snapbridge/pkg/output"
	"github.com/3leaps/snapbridge/pkg/provider"
)

// ErrUnsupportedProvider is returned when a job's providers lack the
// read or write capability the copy needs.
var ErrUnsupportedProvider = errors.New("provider capability missing")

func classifyErrCode(err error) string {
	switch {
	case provider.IsNotFound(err):
		return output.ErrCodeNotFound
	case provider.IsAccessDenied(err):
		return output.ErrCodeAccessDenied
	case provider.IsThrottled(err):
		return output.ErrCodeThrottled
	case provider.IsProviderUnavailable(err):
		return output.ErrCodeUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return output.ErrCodeUnavailable
	case isSizeMismatch(err):
		// The item changed between listing and reading.
		return output.ErrCodeNotFound
	default:
		return output.ErrCodeInternal
	}
}

func isSizeMismatch(err error) bool {
	var sm *SizeMismatchError
	return errors.As(err, &sm)
}

// retryable reports whether an item copy failure is worth repeating.
func retryable(err error) bool {
	return provider.IsRetryable(err)
}
