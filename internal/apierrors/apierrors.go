// Package apierrors defines the error kinds shared between the session
// manager and the HTTP surface, so both sides agree on the mapping from a
// failure to a status code without an import cycle between them.
package apierrors

import "errors"

// Sentinel kinds. Wrap these with fmt.Errorf("...: %w", ErrX) for context;
// callers should compare with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidState       = errors.New("invalid state")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrStrategyUnresolved = errors.New("strategy unresolved")
	ErrEvaluatorTransient = errors.New("evaluator transient error")
	ErrEvaluatorPermanent = errors.New("evaluator permanent error")
	ErrCancelled          = errors.New("cancelled")
	ErrTimeout            = errors.New("timeout")
)

// HTTPStatus maps an error kind to the status code the HTTP surface should
// return. It walks the error chain with errors.Is so wrapped errors map
// correctly.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return 200
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrConflict):
		return 409
	case errors.Is(err, ErrInvalidState):
		return 400
	default:
		return 500
	}
}
