package orchestrator

import (
	"strings"
)

// RecoveryEngine classifies terminal tool failures and synthesizes ranked
// recovery suggestions. Its output never fails the orchestration: callers
// should log and swallow any internal error rather than propagate it.
type RecoveryEngine struct{}

// NewRecoveryEngine constructs a stateless Recovery Engine.
func NewRecoveryEngine() *RecoveryEngine {
	return &RecoveryEngine{}
}

// Classify maps an error string and request context to a FailureCategory
// using keyword heuristics over the error text, the way the reference
// engine inspects the raw message rather than a typed error chain.
func (e *RecoveryEngine) Classify(errText string, req ToolExecutionRequest) FailureCategory {
	lower := strings.ToLower(errText)

	switch {
	case containsAny(lower, "timeout", "timed out", "deadline exceeded"):
		return FailureTimeout
	case containsAny(lower, "unauthorized", "forbidden", "auth", "permission denied", "401", "403"):
		return FailureAuthentication
	case containsAny(lower, "connection refused", "dns", "network", "no route to host", "econnreset"):
		return FailureNetwork
	case containsAny(lower, "invalid parameter", "bad request", "validation failed", "missing required field"):
		return FailureParameter
	case containsAny(lower, "resource allocation failed", "capacity", "out of memory", "quota", "rate limit"):
		return FailureResource
	case containsAny(lower, "config", "not configured", "missing credential"):
		return FailureConfiguration
	case containsAny(lower, "dependencies not satisfied", "dependency"):
		return FailureDependency
	default:
		return FailureUnknown
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// Suggest builds a ranked list of recovery strategies for a classified
// failure. Ranking and confidence are heuristic, matching the reference's
// intent without the reference's unused-reason bug (see NeedsVerification
// handling in executor.go).
func (e *RecoveryEngine) Suggest(category FailureCategory, req ToolExecutionRequest, attempts int) RecoverySuggestions {
	var strategies []RecoveryStrategy

	switch category {
	case FailureNetwork, FailureTimeout:
		strategies = append(strategies, RecoveryStrategy{
			Type:       StrategyBasicRetry,
			Confidence: 0.7,
			Rationale:  "transient network/timeout failures often succeed on a later attempt",
		})
	case FailureAuthentication, FailureConfiguration:
		strategies = append(strategies, RecoveryStrategy{
			Type:       StrategyManualFallback,
			Confidence: 0.8,
			Rationale:  "credential or configuration issues require operator intervention",
		})
	case FailureParameter:
		if req.RetryPolicy != nil && req.RetryPolicy.AllowParameterVariation {
			strategies = append(strategies, RecoveryStrategy{
				Type:       StrategyParameterVariation,
				Confidence: 0.5,
				Rationale:  "varying the tool's parameters may avoid the validation failure",
			})
		}
		strategies = append(strategies, RecoveryStrategy{
			Type:       StrategySimplifiedApproach,
			Confidence: 0.4,
			Rationale:  "a narrower request shape may satisfy validation",
		})
	case FailureResource:
		strategies = append(strategies, RecoveryStrategy{
			Type:       StrategyGracefulSkip,
			Confidence: 0.3,
			Rationale:  "resource exhaustion may clear; skipping avoids blocking the batch",
		})
	case FailureDependency:
		strategies = append(strategies, RecoveryStrategy{
			Type:       StrategyDecomposition,
			Confidence: 0.4,
			Rationale:  "breaking the tool into smaller steps may isolate the unmet dependency",
		})
	default:
		strategies = append(strategies, RecoveryStrategy{
			Type:       StrategyBasicRetry,
			Confidence: 0.2,
			Rationale:  "unclassified failure; a retry is the cheapest next step",
		})
	}

	if req.RetryPolicy != nil && req.RetryPolicy.AllowAlternativeTool {
		strategies = append(strategies, RecoveryStrategy{
			Type:       StrategyAlternativeTool,
			Confidence: 0.5,
			Rationale:  "an alternative tool registered for this category may succeed where this one did not",
		})
	}

	manual := category == FailureAuthentication || category == FailureConfiguration

	return RecoverySuggestions{
		Category:                      category,
		Strategies:                    strategies,
		ManualInterventionRecommended: manual,
	}
}
