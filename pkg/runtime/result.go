package runtime

// ResultStatus tells whether an operation ran to completion.
type ResultStatus int

const (
	StatusFailed ResultStatus = iota
	StatusPassed
)

// String returns the status name.
func (r ResultStatus) String() string {
	if r == StatusPassed {
		return "passed"
	}
	return "failed"
}

// ExecutionResult is the uniform return of Init, Step, Execute and Evaluate.
// A failed result never carries a value.
type ExecutionResult struct {
	status ResultStatus
	value  any
}

// Failed is the result of every operation that did not run to completion.
var Failed = ExecutionResult{status: StatusFailed}

// Pass returns a passed result carrying value.
func Pass(value any) ExecutionResult {
	return ExecutionResult{status: StatusPassed, value: value}
}

// Status returns the result status.
func (r ExecutionResult) Status() ResultStatus { return r.status }

// Passed reports whether the operation ran to completion.
func (r ExecutionResult) Passed() bool { return r.status == StatusPassed }

// Value returns the result value, always nil for a failed result.
func (r ExecutionResult) Value() any {
	if r.status != StatusPassed {
		return nil
	}
	return r.value
}
