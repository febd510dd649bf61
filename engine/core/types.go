package core

// -----------------------------------------------------------------------------
// Execution Status
// -----------------------------------------------------------------------------

// StatusType is the terminal status of a workflow or crew execution.
type StatusType string

const (
	StatusRunning        StatusType = "running"
	StatusCompleted      StatusType = "completed"
	StatusFailed         StatusType = "failed"
	StatusPartialSuccess StatusType = "partial_success"
	StatusCanceled       StatusType = "canceled"
)

func (s StatusType) String() string {
	return string(s)
}

// IsSuccess reports whether the run finished without any recorded failure.
func (s StatusType) IsSuccess() bool {
	return s == StatusCompleted
}

// -----------------------------------------------------------------------------
// Step Status
// -----------------------------------------------------------------------------

// StepStatus is the outcome of a single node or task execution.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// -----------------------------------------------------------------------------
// Input / Output
// -----------------------------------------------------------------------------

// Input is the payload handed to an execution.
type Input map[string]any

// Output is the payload produced by a node or task.
type Output map[string]any

// AsMap returns the input as a plain map, never nil.
func (i Input) AsMap() map[string]any {
	if i == nil {
		return map[string]any{}
	}
	return map[string]any(i)
}

// AsMap returns the output as a plain map, never nil.
func (o Output) AsMap() map[string]any {
	if o == nil {
		return map[string]any{}
	}
	return map[string]any(o)
}
