package orchestrator

import (
	"fmt"
	"sort"
	"time"

	assertlib "github.com/ZanzyTHEbar/assert-lib"
	"github.com/rs/zerolog"
)

// ExecutionPhase is a maximal antichain of tool names: every tool in a phase
// may run concurrently because its dependencies were all satisfied by some
// earlier phase.
type ExecutionPhase struct {
	ToolNames []string
}

// ExecutionPlan is the pure, immutable output of planning a request batch.
type ExecutionPlan struct {
	Phases         []ExecutionPhase
	CriticalPath   []string
	PeakConcurrentDemand map[string]int
	Conflicts      []string
}

var planAssert = assertlib.NewAssertContext(zerolog.Nop())

// BuildPlan computes the phased execution plan for a request batch. It
// rejects cyclic or dangling-dependency batches before any executor call is
// made.
func BuildPlan(requests []ToolExecutionRequest) (*ExecutionPlan, error) {
	byName := make(map[string]ToolExecutionRequest, len(requests))
	for _, r := range requests {
		byName[r.ToolName] = r
	}

	for _, r := range requests {
		for _, dep := range r.Dependencies {
			if _, ok := byName[dep]; !ok {
				return nil, newUnknownDepError(fmt.Sprintf("%q depends on unknown tool %q", r.ToolName, dep))
			}
		}
	}

	inDegree := make(map[string]int, len(requests))
	dependents := make(map[string][]string, len(requests))
	for _, r := range requests {
		inDegree[r.ToolName] = len(r.Dependencies)
		for _, dep := range r.Dependencies {
			dependents[dep] = append(dependents[dep], r.ToolName)
		}
	}

	remaining := make(map[string]int, len(inDegree))
	for k, v := range inDegree {
		remaining[k] = v
	}

	var phases []ExecutionPhase
	settled := make(map[string]bool, len(requests))

	for len(settled) < len(requests) {
		var frontier []string
		for name, deg := range remaining {
			if deg == 0 && !settled[name] {
				frontier = append(frontier, name)
			}
		}
		if len(frontier) == 0 {
			return nil, newCycleError("dependency graph contains a cycle")
		}

		sortByPriorityThenID(frontier, byName)

		for _, name := range frontier {
			settled[name] = true
			delete(remaining, name)
		}
		for _, name := range frontier {
			for _, dependent := range dependents[name] {
				if _, ok := remaining[dependent]; ok {
					remaining[dependent]--
				}
			}
		}

		planAssert.Assert(len(frontier) > 0, "BuildPlan: every phase must be non-empty")
		phases = append(phases, ExecutionPhase{ToolNames: frontier})
	}

	plan := &ExecutionPlan{
		Phases:               phases,
		PeakConcurrentDemand: peakConcurrentDemand(phases, byName),
	}
	plan.CriticalPath = criticalPath(requests, byName)
	plan.Conflicts = conflictList(phases, byName)
	return plan, nil
}

// sortByPriorityThenID implements the spec's tie-break rule for tools
// within a single phase: priority descending, then request ID ascending,
// for deterministic test output.
func sortByPriorityThenID(names []string, byName map[string]ToolExecutionRequest) {
	sort.Slice(names, func(i, j int) bool {
		ri, rj := byName[names[i]], byName[names[j]]
		if ri.Priority != rj.Priority {
			return ri.Priority > rj.Priority
		}
		return ri.ID.String() < rj.ID.String()
	})
}

// peakConcurrentDemand sums, per resource type and per phase, the amount
// requested by every tool in that phase, and keeps the maximum across
// phases.
func peakConcurrentDemand(phases []ExecutionPhase, byName map[string]ToolExecutionRequest) map[string]int {
	peak := make(map[string]int)
	for _, phase := range phases {
		demand := make(map[string]int)
		for _, name := range phase.ToolNames {
			for _, res := range byName[name].Resources {
				demand[res.Type] += res.Amount
			}
		}
		for t, d := range demand {
			if d > peak[t] {
				peak[t] = d
			}
		}
	}
	return peak
}

// conflictList flags resource types whose single-phase demand exceeds what
// an exclusive requirement of that type could ever satisfy concurrently:
// more than one exclusive requirement of the same type in the same phase.
func conflictList(phases []ExecutionPhase, byName map[string]ToolExecutionRequest) []string {
	seen := make(map[string]bool)
	var conflicts []string
	for _, phase := range phases {
		exclusiveCount := make(map[string]int)
		for _, name := range phase.ToolNames {
			for _, res := range byName[name].Resources {
				if res.Exclusive {
					exclusiveCount[res.Type]++
				}
			}
		}
		for t, c := range exclusiveCount {
			if c > 1 && !seen[t] {
				seen[t] = true
				conflicts = append(conflicts, t)
			}
		}
	}
	return conflicts
}

// criticalPath returns the longest-duration chain of tool names by declared
// dependency, using each tool's Timeout (zero when unset) as its estimated
// duration; among chains of equal duration the one with more tools wins.
func criticalPath(requests []ToolExecutionRequest, byName map[string]ToolExecutionRequest) []string {
	memo := make(map[string][]string, len(requests))
	var longest func(name string) []string
	longest = func(name string) []string {
		if path, ok := memo[name]; ok {
			return path
		}
		req := byName[name]
		best := []string{}
		var bestDur time.Duration
		for _, dep := range req.Dependencies {
			depPath := longest(dep)
			var depDur time.Duration
			for _, n := range depPath {
				depDur += byName[n].Timeout
			}
			if len(depPath) > 0 && (depDur > bestDur || (depDur == bestDur && len(depPath) > len(best))) {
				best = depPath
				bestDur = depDur
			}
		}
		path := append(append([]string{}, best...), name)
		memo[name] = path
		return path
	}

	var overall []string
	var overallDur time.Duration
	for _, r := range requests {
		path := longest(r.ToolName)
		var dur time.Duration
		for _, n := range path {
			dur += byName[n].Timeout
		}
		if dur > overallDur || (dur == overallDur && len(path) > len(overall)) {
			overall = path
			overallDur = dur
		}
	}
	return overall
}
