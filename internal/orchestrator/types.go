// Package orchestrator implements the phased DAG tool scheduler: it turns a
// batch of tool-execution requests into an execution plan, admits each tool
// against typed resource pools, retries failures per policy, and synthesizes
// recovery suggestions on terminal failure.
package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
)

// ExecutionStatus is the lifecycle state of a single tool's attempt set.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusSkipped   ExecutionStatus = "skipped"
	StatusCancelled ExecutionStatus = "cancelled"
	StatusTimedOut  ExecutionStatus = "timed_out"
)

// FailureCategory classifies a terminal error for recovery-strategy ranking.
type FailureCategory string

const (
	FailureNetwork       FailureCategory = "network"
	FailureAuthentication FailureCategory = "authentication"
	FailureParameter     FailureCategory = "parameter"
	FailureResource      FailureCategory = "resource"
	FailureConfiguration FailureCategory = "configuration"
	FailureDependency    FailureCategory = "dependency"
	FailureTimeout       FailureCategory = "timeout"
	FailureUnknown       FailureCategory = "unknown"
)

// RecoveryStrategyType enumerates the kinds of recovery suggestion the
// Recovery Engine may propose.
type RecoveryStrategyType string

const (
	StrategyBasicRetry         RecoveryStrategyType = "basic_retry"
	StrategyAlternativeTool    RecoveryStrategyType = "alternative_tool"
	StrategyParameterVariation RecoveryStrategyType = "parameter_variation"
	StrategySimplifiedApproach RecoveryStrategyType = "simplified_approach"
	StrategyDecomposition      RecoveryStrategyType = "decomposition"
	StrategyManualFallback     RecoveryStrategyType = "manual_fallback"
	StrategyGracefulSkip       RecoveryStrategyType = "graceful_skip"
)

// RecoveryStrategy is one ranked suggestion for recovering from a terminal
// tool failure.
type RecoveryStrategy struct {
	Type        RecoveryStrategyType `json:"type"`
	Confidence  float64              `json:"confidence"`
	Rationale   string               `json:"rationale"`
	AlternativeTool string           `json:"alternative_tool,omitempty"`
}

// RecoverySuggestions bundles the Recovery Engine's output for one failure.
type RecoverySuggestions struct {
	Category            FailureCategory    `json:"category"`
	Strategies           []RecoveryStrategy `json:"strategies"`
	ManualInterventionRecommended bool      `json:"manual_intervention_recommended"`
}

// ValidationOutcomeKind tags which variant of ValidationOutcome a result carries.
type ValidationOutcomeKind string

const (
	ValidationValidated          ValidationOutcomeKind = "validated"
	ValidationNeedsVerification  ValidationOutcomeKind = "needs_verification"
	ValidationInconsistent       ValidationOutcomeKind = "inconsistent"
	ValidationVerificationFailed ValidationOutcomeKind = "verification_failed"
)

// ValidationOutcome is the result of validating a tool's returned payload.
// Exactly one of Reason/Details/Error is populated, selected by Kind.
type ValidationOutcome struct {
	Kind    ValidationOutcomeKind
	Reason  string // set when Kind == ValidationNeedsVerification
	Details string // set when Kind == ValidationInconsistent
	Error   string // set when Kind == ValidationVerificationFailed
}

// ResourceRequirement is a typed resource demand declared by a tool request.
type ResourceRequirement struct {
	Type             string        `json:"type"`
	Amount           int           `json:"amount"`
	Exclusive        bool          `json:"exclusive"`
	AllocationTimeout time.Duration `json:"allocation_timeout"`
}

// RetryPolicy controls attempt count and backoff for a single tool's
// execution loop. ErrorAllowList, when non-empty, restricts retry eligibility
// to the listed failure categories.
type RetryPolicy struct {
	MaxAttempts              int               `json:"max_attempts"`
	BaseDelay                time.Duration     `json:"base_delay"`
	MaxDelay                 time.Duration     `json:"max_delay"`
	BackoffMultiplier        float64           `json:"backoff_multiplier"`
	ErrorAllowList            []FailureCategory `json:"error_allow_list,omitempty"`
	AllowAlternativeTool      bool              `json:"allow_alternative_tool"`
	AllowParameterVariation   bool              `json:"allow_parameter_variation"`
}

// DefaultRetryPolicy mirrors spec.md's default: 3 attempts, 1s base, 30s cap,
// multiplier 2.0.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ToolExecutionRequest is one node in a batch's dependency DAG.
type ToolExecutionRequest struct {
	ID           uuid.UUID              `json:"id"`
	ToolName     string                 `json:"tool_name"`
	Parameters   json.RawMessage        `json:"parameters"`
	ParameterSchema *gojsonschema.Schema `json:"-"`
	Dependencies []string               `json:"dependencies,omitempty"`
	Resources    []ResourceRequirement  `json:"resources,omitempty"`
	Priority     float64                `json:"priority"`
	Timeout      time.Duration          `json:"timeout,omitempty"`
	Critical     bool                   `json:"critical,omitempty"`
	RetryPolicy  *RetryPolicy           `json:"retry_policy,omitempty"`
	Metadata     map[string]string      `json:"metadata,omitempty"`
}

// AllocatedResource is a held grant returned by the Resource Manager.
type AllocatedResource struct {
	Type   string
	Amount int
}

// ToolExecutionResult is the outcome of running (and possibly retrying) a
// single tool request through to a terminal state.
type ToolExecutionResult struct {
	ToolName           string                `json:"tool_name"`
	Status             ExecutionStatus       `json:"status"`
	Attempts           int                   `json:"attempts"`
	ResourceWait       time.Duration         `json:"resource_wait"`
	ExecutionTime      time.Duration         `json:"execution_time"`
	Error              string                `json:"error,omitempty"`
	AllocatedResources []AllocatedResource   `json:"allocated_resources,omitempty"`
	Payload            json.RawMessage       `json:"payload,omitempty"`
	Recovery           *RecoverySuggestions  `json:"recovery,omitempty"`
}

// OrchestrationResult is the aggregate return value of Orchestrate.
type OrchestrationResult struct {
	OrchestrationID uuid.UUID                      `json:"orchestration_id"`
	Success         bool                           `json:"success"`
	Results         map[string]*ToolExecutionResult `json:"results"`
	SuccessfulTools int                            `json:"successful_tools"`
	FailedTools     int                            `json:"failed_tools"`
	SkippedTools    int                            `json:"skipped_tools"`
	Duration        time.Duration                  `json:"duration"`
	Plan            *ExecutionPlan                 `json:"plan"`
}

// Executor is the capability the orchestrator invokes to actually run a
// tool. Implementations must be safe for concurrent use across tools in the
// same phase.
type Executor interface {
	ExecuteTool(ctx context.Context, name string, params json.RawMessage) (json.RawMessage, ValidationOutcome, error)
}

// Emitter is the capability the orchestrator uses to report progress.
// Consumers must tolerate reordering relative to wall-clock time.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// EventKind tags the shape of an emitted Event.
type EventKind string

const (
	EventStepCompleted  EventKind = "step_completed"
	EventErrorOccurred  EventKind = "error_occurred"
)

// Event is one item on the orchestrator's event stream.
type Event struct {
	Kind            EventKind
	OrchestrationID uuid.UUID
	ToolName        string
	Confidence      float64
	Message         string
	Timestamp       time.Time
}
