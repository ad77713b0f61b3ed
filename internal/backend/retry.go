package backend

import (
	"context"
	"errors"

	"github.com/avast/retry-go/v4"
	"github.com/hashicorp/go-multierror"
)

// RetryTransient retries fn with bounded exponential backoff as long as
// every observed failure classifies as ErrTransient, matching the "backend
// retries with bounded backoff, surfaced as fatal only after exhaustion"
// rule. attempts counts the first try, so attempts=3 means up to 2 retries.
func RetryTransient(ctx context.Context, attempts uint, fn func() (CompletionResult, error)) (CompletionResult, error) {
	var result CompletionResult
	err := retry.Do(
		func() error {
			r, err := fn()
			if err != nil {
				return err
			}
			result = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.RetryIf(func(err error) bool {
			var berr *Error
			return errors.As(err, &berr) && berr.Kind == ErrTransient
		}),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	return result, err
}

// WithModelFallback calls do with model; if that fails classified as
// ErrModelUnavailable and fallbackModel differs from the model already
// tried, it retries once with fallbackModel. Both failures are combined so
// callers can see what was attempted.
func WithModelFallback(model, fallbackModel string, do func(model string) (CompletionResult, error)) (CompletionResult, error) {
	res, err := do(model)
	if err == nil {
		return res, nil
	}

	var berr *Error
	if !errors.As(err, &berr) || berr.Kind != ErrModelUnavailable {
		return CompletionResult{}, err
	}
	if fallbackModel == "" || fallbackModel == model {
		return CompletionResult{}, err
	}

	res2, err2 := do(fallbackModel)
	if err2 != nil {
		return CompletionResult{}, multierror.Append(err, err2)
	}
	return res2, nil
}
