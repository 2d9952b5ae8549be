package orchestrator

import "fmt"

// PlanErrorKind tags why plan construction refused a batch.
type PlanErrorKind string

const (
	PlanErrorCycle      PlanErrorKind = "cycle"
	PlanErrorUnknownDep PlanErrorKind = "unknown_dep"
)

// PlanError is returned by BuildPlan when a batch's dependency graph is not
// a valid DAG, or names a dependency outside the batch. Callers receive this
// instead of an OrchestrationResult; the executor is never invoked.
type PlanError struct {
	Kind PlanErrorKind
	Msg  string
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("plan error (%s): %s", e.Kind, e.Msg)
}

func newCycleError(msg string) *PlanError {
	return &PlanError{Kind: PlanErrorCycle, Msg: msg}
}

func newUnknownDepError(msg string) *PlanError {
	return &PlanError{Kind: PlanErrorUnknownDep, Msg: msg}
}

// ResourceErrorKind tags why a resource acquisition failed.
type ResourceErrorKind string

const (
	ResourceErrorTimeout   ResourceErrorKind = "timeout"
	ResourceErrorUnknown   ResourceErrorKind = "unknown_type"
	ResourceErrorShutdown  ResourceErrorKind = "shutdown"
)

// ResourceError is surfaced as a per-tool Failed result; it is never retried
// within the tool's own retry loop.
type ResourceError struct {
	Kind         ResourceErrorKind
	ResourceType string
	Msg          string
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource allocation failed: %s (%s, type=%s)", e.Msg, e.Kind, e.ResourceType)
}
