package errors

import "errors"

// Wrap attaches operation and component context to err. When err already
// carries a KitError anywhere in its chain, the code and retryability are
// preserved so IsCode and IsRetryable keep working through the new layer.
// Returns nil when err is nil.
func Wrap(err error, op Operation, component string) error {
	if err == nil {
		return nil
	}
	wrapped := &KitError{
		Op:        op,
		Component: component,
		Err:       err,
	}
	var kitErr *KitError
	if errors.As(err, &kitErr) {
		wrapped.Code = kitErr.Code
		wrapped.Retryable = kitErr.Retryable
	}
	return wrapped
}
