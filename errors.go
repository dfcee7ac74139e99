package fluo

import "github.com/fluo-sh/fluo/pkg/ferrors"

// Re-export the interpreter's error taxonomy, spec section 7.
type (
	// CompilationError reports a structural problem found while
	// compiling a configuration into a Machine.
	CompilationError = ferrors.CompilationError

	// ValidationError reports an event payload, context, or
	// validation-style guard that failed its declared rules.
	ValidationError = ferrors.ValidationError

	// BehaviorNotFoundError reports a symbolic behavior name that could
	// not be resolved against the Behavior Registry.
	BehaviorNotFoundError = ferrors.BehaviorNotFoundError

	// NoTransitionForEventError reports that no state in the active
	// leaf's ancestor chain declared a transition for an event.
	NoTransitionForEventError = ferrors.NoTransitionForEventError

	// InvariantViolationError reports interpreter or caller state that
	// should be unreachable if the compiler and caller are behaving.
	InvariantViolationError = ferrors.InvariantViolationError
)

var (
	// NewCompilationError builds a CompilationError.
	NewCompilationError = ferrors.NewCompilationError

	// NewValidationError builds a ValidationError.
	NewValidationError = ferrors.NewValidationError

	// NewBehaviorNotFoundError builds a BehaviorNotFoundError.
	NewBehaviorNotFoundError = ferrors.NewBehaviorNotFoundError

	// NewNoTransitionForEventError builds a NoTransitionForEventError.
	NewNoTransitionForEventError = ferrors.NewNoTransitionForEventError

	// NewInvariantViolationError builds an InvariantViolationError.
	NewInvariantViolationError = ferrors.NewInvariantViolationError
)
