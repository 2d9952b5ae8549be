package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/xeipuuv/gojsonschema"
)

// Orchestrator drives request batches through planning, admission,
// execution, validation, and recovery. One Orchestrator instance is shared
// by reference across a process, per spec.md §2.
type Orchestrator struct {
	resources *ResourceManager
	recovery  *RecoveryEngine
	limiter   *ToolRateLimiter
	logger    zerolog.Logger

	metricsMu       sync.Mutex
	runCount        int64
	meanDuration    time.Duration
	meanToolsPerRun float64

	activeMu   sync.Mutex
	activeOrch map[uuid.UUID]struct{}
}

// NewOrchestrator wires a ResourceManager and RecoveryEngine into a ready
// Orchestrator.
func NewOrchestrator(resources *ResourceManager, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		resources:  resources,
		recovery:   NewRecoveryEngine(),
		logger:     logger.With().Str("component", "orchestrator").Logger(),
		activeOrch: make(map[uuid.UUID]struct{}),
	}
}

// SetRateLimiter installs a per-tool-name throughput limiter. Nil (the
// default) means no throttling beyond resource admission.
func (o *Orchestrator) SetRateLimiter(limiter *ToolRateLimiter) {
	o.limiter = limiter
}

// Orchestrate runs a request batch to completion. It returns an error only
// for plan-construction failures (cyclic or dangling dependencies); every
// other outcome, including every tool failing, is reported inside the
// returned OrchestrationResult.
func (o *Orchestrator) Orchestrate(ctx context.Context, requests []ToolExecutionRequest, executor Executor, emitter Emitter) (*OrchestrationResult, error) {
	orchestrationID := uuid.New()
	log := o.logger.With().Str("orchestration_id", orchestrationID.String()).Logger()

	o.trackActive(orchestrationID, true)
	defer o.trackActive(orchestrationID, false)

	emit(ctx, emitter, Event{
		Kind:            EventStepCompleted,
		OrchestrationID: orchestrationID,
		Message:         "orchestration started",
		Timestamp:       time.Now(),
	})

	plan, err := BuildPlan(requests)
	if err != nil {
		emit(ctx, emitter, Event{
			Kind:            EventErrorOccurred,
			OrchestrationID: orchestrationID,
			Message:         err.Error(),
			Timestamp:       time.Now(),
		})
		return nil, err
	}

	byName := make(map[string]ToolExecutionRequest, len(requests))
	for _, r := range requests {
		byName[r.ToolName] = r
	}

	start := time.Now()
	results := make(map[string]*ToolExecutionResult, len(requests))
	var resultsMu sync.Mutex

	for _, phase := range plan.Phases {
		var wg conc.WaitGroup
		for _, toolName := range phase.ToolNames {
			toolName := toolName
			req := byName[toolName]
			wg.Go(func() {
				res := o.runTool(ctx, req, results, &resultsMu, executor, emitter, orchestrationID)
				resultsMu.Lock()
				results[toolName] = res
				resultsMu.Unlock()
			})
		}
		wg.Wait()
	}

	duration := time.Since(start)

	var successful, failed, skipped int
	for _, r := range results {
		switch r.Status {
		case StatusCompleted:
			successful++
		case StatusFailed, StatusTimedOut, StatusCancelled:
			failed++
		case StatusSkipped:
			skipped++
		}
	}

	result := &OrchestrationResult{
		OrchestrationID: orchestrationID,
		Success:         failed == 0,
		Results:         results,
		SuccessfulTools: successful,
		FailedTools:     failed,
		SkippedTools:    skipped,
		Duration:        duration,
		Plan:            plan,
	}

	o.updateMetrics(duration, len(requests))

	confidence := 1.0
	if failed > 0 {
		confidence = 0.5
	}
	emit(ctx, emitter, Event{
		Kind:            EventStepCompleted,
		OrchestrationID: orchestrationID,
		Confidence:      confidence,
		Message:         "orchestration completed",
		Timestamp:       time.Now(),
	})

	log.Info().
		Int("successful", successful).
		Int("failed", failed).
		Int("skipped", skipped).
		Dur("duration", duration).
		Msg("orchestration finished")

	return result, nil
}

// runTool executes one tool request through its full retry loop, gating on
// dependency status already recorded in results.
func (o *Orchestrator) runTool(ctx context.Context, req ToolExecutionRequest, results map[string]*ToolExecutionResult, resultsMu *sync.Mutex, executor Executor, emitter Emitter, orchestrationID uuid.UUID) *ToolExecutionResult {
	resultsMu.Lock()
	for _, dep := range req.Dependencies {
		depResult, ok := results[dep]
		if !ok || depResult.Status != StatusCompleted {
			resultsMu.Unlock()
			return &ToolExecutionResult{
				ToolName: req.ToolName,
				Status:   StatusSkipped,
				Error:    "Dependencies not satisfied",
			}
		}
	}
	resultsMu.Unlock()

	if req.ParameterSchema != nil {
		if errText, ok := validateParameters(req.ParameterSchema, req.Parameters); !ok {
			return o.terminalFailure(req, 0, 0, 0, errText, nil)
		}
	}

	policy := DefaultRetryPolicy()
	if req.RetryPolicy != nil {
		policy = *req.RetryPolicy
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.BaseDelay
	b.MaxInterval = policy.MaxDelay
	b.Multiplier = policy.BackoffMultiplier
	b.RandomizationFactor = 0

	retryable := func(errText string) bool {
		if len(policy.ErrorAllowList) == 0 {
			return true
		}
		category := o.recovery.Classify(errText, req)
		for _, allowed := range policy.ErrorAllowList {
			if allowed == category {
				return true
			}
		}
		return false
	}

	var (
		attempts      int
		totalWait     time.Duration
		totalExecTime time.Duration
		lastErr       string
		lastDetails   string
	)

	for {
		attempts++

		allocStart := time.Now()
		allocated, resErr := o.acquireAll(ctx, req)
		totalWait += time.Since(allocStart)
		if resErr != nil {
			return &ToolExecutionResult{
				ToolName:      req.ToolName,
				Status:        StatusFailed,
				Attempts:      attempts,
				ResourceWait:  totalWait,
				Error:         resErr.Error(),
			}
		}

		emit(ctx, emitter, Event{
			Kind:            EventStepCompleted,
			OrchestrationID: orchestrationID,
			ToolName:        req.ToolName,
			Message:         "tool call",
			Timestamp:       time.Now(),
		})

		var release func()
		if o.limiter != nil {
			var limErr error
			release, limErr = o.limiter.Acquire(ctx, req.ToolName)
			if limErr != nil {
				o.releaseAll(allocated)
				lastErr = limErr.Error()
				if attempts >= policy.MaxAttempts+1 || !retryable(lastErr) {
					return o.terminalFailure(req, attempts, totalWait, totalExecTime, lastErr, allocatedTypes(allocated))
				}
				if !o.sleep(ctx, b.NextBackOff()) {
					return o.terminalFailure(req, attempts, totalWait, totalExecTime, lastErr, allocatedTypes(allocated))
				}
				continue
			}
		}

		execStart := time.Now()
		payload, outcome, execErr := executor.ExecuteTool(ctx, req.ToolName, req.Parameters)
		execTime := time.Since(execStart)
		totalExecTime += execTime

		if release != nil {
			release()
		}
		o.releaseAll(allocated)

		emit(ctx, emitter, Event{
			Kind:            EventStepCompleted,
			OrchestrationID: orchestrationID,
			ToolName:        req.ToolName,
			Message:         "tool result",
			Timestamp:       time.Now(),
		})

		if execErr != nil {
			lastErr = execErr.Error()
			if attempts >= policy.MaxAttempts+1 || !retryable(lastErr) {
				return o.terminalFailure(req, attempts, totalWait, totalExecTime, lastErr, allocatedTypes(allocated))
			}
			if !o.sleep(ctx, b.NextBackOff()) {
				return o.terminalFailure(req, attempts, totalWait, totalExecTime, lastErr, allocatedTypes(allocated))
			}
			continue
		}

		switch outcome.Kind {
		case ValidationValidated, ValidationNeedsVerification:
			return &ToolExecutionResult{
				ToolName:      req.ToolName,
				Status:        StatusCompleted,
				Attempts:      attempts,
				ResourceWait:  totalWait,
				ExecutionTime: totalExecTime,
				Payload:       payload,
			}
		case ValidationInconsistent:
			lastErr = outcome.Details
			lastDetails = outcome.Details
			if attempts >= policy.MaxAttempts+1 || !retryable(lastDetails) {
				return o.terminalFailure(req, attempts, totalWait, totalExecTime, lastDetails, allocatedTypes(allocated))
			}
			if !o.sleep(ctx, b.NextBackOff()) {
				return o.terminalFailure(req, attempts, totalWait, totalExecTime, lastDetails, allocatedTypes(allocated))
			}
			continue
		case ValidationVerificationFailed:
			return &ToolExecutionResult{
				ToolName:      req.ToolName,
				Status:        StatusFailed,
				Attempts:      attempts,
				ResourceWait:  totalWait,
				ExecutionTime: totalExecTime,
				Error:         outcome.Error,
			}
		default:
			return &ToolExecutionResult{
				ToolName:      req.ToolName,
				Status:        StatusFailed,
				Attempts:      attempts,
				ResourceWait:  totalWait,
				ExecutionTime: totalExecTime,
				Error:         "unrecognized validation outcome",
			}
		}
	}
}

// terminalFailure attaches recovery suggestions; a failure in the Recovery
// Engine itself is logged and swallowed, never propagated.
func (o *Orchestrator) terminalFailure(req ToolExecutionRequest, attempts int, wait, execTime time.Duration, errText string, _ []string) (result *ToolExecutionResult) {
	result = &ToolExecutionResult{
		ToolName:      req.ToolName,
		Status:        StatusFailed,
		Attempts:      attempts,
		ResourceWait:  wait,
		ExecutionTime: execTime,
		Error:         errText,
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn().Interface("panic", r).Msg("recovery engine panicked; suggestions omitted")
		}
	}()

	category := o.recovery.Classify(errText, req)
	suggestions := o.recovery.Suggest(category, req, attempts)
	result.Recovery = &suggestions
	return result
}

func (o *Orchestrator) acquireAll(ctx context.Context, req ToolExecutionRequest) ([]AllocatedResource, error) {
	allocated := make([]AllocatedResource, 0, len(req.Resources))
	for _, r := range req.Resources {
		a, err := o.resources.Allocate(ctx, r, req.Priority)
		if err != nil {
			o.releaseAll(allocated)
			return nil, fmt.Errorf("Resource allocation failed: %w", err)
		}
		allocated = append(allocated, *a)
	}
	return allocated, nil
}

func (o *Orchestrator) releaseAll(allocated []AllocatedResource) {
	for i := range allocated {
		o.resources.Release(&allocated[i])
	}
}

func allocatedTypes(allocated []AllocatedResource) []string {
	types := make([]string, 0, len(allocated))
	for _, a := range allocated {
		types = append(types, a.Type)
	}
	return types
}

// sleep waits for d or ctx cancellation, returning false on cancellation.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// updateMetrics folds one orchestration's duration and tool count into the
// running means using mean_{N+1} = (N*mean_N + d) / (N+1), with the run
// counter incremented exactly once per call. This corrects the reference's
// ordering bug (see design notes): the counter must not be bumped before
// the new mean is computed from the *old* counter value.
func (o *Orchestrator) updateMetrics(duration time.Duration, toolCount int) {
	o.metricsMu.Lock()
	defer o.metricsMu.Unlock()

	n := o.runCount
	o.meanDuration = time.Duration((float64(n)*float64(o.meanDuration) + float64(duration)) / float64(n+1))
	o.meanToolsPerRun = (float64(n)*o.meanToolsPerRun + float64(toolCount)) / float64(n+1)
	o.runCount = n + 1
}

// Metrics returns the orchestrator's current running-mean statistics.
func (o *Orchestrator) Metrics() (runCount int64, meanDuration time.Duration, meanToolsPerRun float64) {
	o.metricsMu.Lock()
	defer o.metricsMu.Unlock()
	return o.runCount, o.meanDuration, o.meanToolsPerRun
}

func (o *Orchestrator) trackActive(id uuid.UUID, active bool) {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	if active {
		o.activeOrch[id] = struct{}{}
	} else {
		delete(o.activeOrch, id)
	}
}

// ActiveOrchestrations lists orchestration IDs currently mid-flight,
// grounded on the reference's get_active_orchestrations introspection hook.
func (o *Orchestrator) ActiveOrchestrations() []uuid.UUID {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	ids := make([]uuid.UUID, 0, len(o.activeOrch))
	for id := range o.activeOrch {
		ids = append(ids, id)
	}
	return ids
}

// validateParameters checks a request's raw parameter payload against its
// attached JSON Schema, reusing the teacher harness's ToolSpec.JSONSchema
// convention instead of leaving schema attachment decorative.
func validateParameters(schema *gojsonschema.Schema, params []byte) (string, bool) {
	if len(params) == 0 {
		params = []byte("{}")
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(params))
	if err != nil {
		return fmt.Sprintf("parameter schema validation error: %v", err), false
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Sprintf("parameters failed schema validation: %v", msgs), false
	}
	return "", true
}

func emit(ctx context.Context, emitter Emitter, event Event) {
	if emitter == nil {
		return
	}
	emitter.Emit(ctx, event)
}
