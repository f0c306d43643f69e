package pipeline

// Step names a step of a partition chain.
type Step string

const (
	StepRead       Step = "read"
	StepCheckpoint Step = "checkpoint"
	StepTransform  Step = "transform"
	StepWrite      Step = "write"
)

// Outcome is the result of a chain of steps: either a value, or the error
// and step that stopped the chain. Once failed, later steps are not run.
type Outcome[T any] struct {
	value T
	step  Step
	err   error
}

// Start begins a chain with v.
func Start[T any](v T) Outcome[T] {
	return Outcome[T]{value: v}
}

// Then runs f on the value of o, unless o already failed. A failure of f is
// recorded against step.
func Then[A, B any](o Outcome[A], step Step, f func(A) (B, error)) Outcome[B] {
	if o.err != nil {
		return Outcome[B]{step: o.step, err: o.err}
	}
	v, err := f(o.value)
	if err != nil {
		return Outcome[B]{step: step, err: err}
	}
	return Outcome[B]{value: v}
}

// Failed reports whether a step of the chain failed.
func (o Outcome[T]) Failed() bool { return o.err != nil }

// Unwrap returns the value, or the failing step and its error.
func (o Outcome[T]) Unwrap() (T, Step, error) {
	return o.value, o.step, o.err
}
