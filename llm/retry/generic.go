package retry

import "context"

// DoWithResultTyped runs fn under r and returns its typed result.
//
//	resp, err := retry.DoWithResultTyped(r, ctx, func() (*llm.ChatResponse, error) {
//	    return provider.Completion(ctx, req)
//	})
func DoWithResultTyped[T any](r Retryer, ctx context.Context, fn func() (T, error)) (T, error) {
	result, err := r.DoWithResult(ctx, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}
