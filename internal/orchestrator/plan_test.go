package orchestrator

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func req(name string, deps ...string) ToolExecutionRequest {
	return ToolExecutionRequest{
		ID:           uuid.New(),
		ToolName:     name,
		Dependencies: deps,
	}
}

// E1: phases [{A}, {B,C}] for A, B{dep:A}, C{dep:A}.
func TestBuildPlan_PhasesRespectDependencies(t *testing.T) {
	requests := []ToolExecutionRequest{
		req("A"),
		req("B", "A"),
		req("C", "A"),
	}

	plan, err := BuildPlan(requests)
	require.NoError(t, err)
	require.Len(t, plan.Phases, 2)

	assert.Equal(t, []string{"A"}, plan.Phases[0].ToolNames)
	assert.ElementsMatch(t, []string{"B", "C"}, plan.Phases[1].ToolNames)
}

// E3: cyclic batch returns PlanError::Cycle.
func TestBuildPlan_CycleIsRejected(t *testing.T) {
	requests := []ToolExecutionRequest{
		req("A", "B"),
		req("B", "A"),
	}

	_, err := BuildPlan(requests)
	require.Error(t, err)

	var planErr *PlanError
	require.ErrorAs(t, err, &planErr)
	assert.Equal(t, PlanErrorCycle, planErr.Kind)
}

func TestBuildPlan_UnknownDependencyIsRejected(t *testing.T) {
	requests := []ToolExecutionRequest{
		req("A", "ghost"),
	}

	_, err := BuildPlan(requests)
	require.Error(t, err)

	var planErr *PlanError
	require.ErrorAs(t, err, &planErr)
	assert.Equal(t, PlanErrorUnknownDep, planErr.Kind)
}

func TestBuildPlan_TieBreakByPriorityThenID(t *testing.T) {
	low := req("low")
	low.Priority = 0.1
	high := req("high")
	high.Priority = 0.9

	requests := []ToolExecutionRequest{low, high}

	plan, err := BuildPlan(requests)
	require.NoError(t, err)
	require.Len(t, plan.Phases, 1)
	assert.Equal(t, []string{"high", "low"}, plan.Phases[0].ToolNames)
}

func TestBuildPlan_ConflictListFlagsDuplicateExclusiveDemand(t *testing.T) {
	a := req("A")
	a.Resources = []ResourceRequirement{{Type: "gpu", Amount: 1, Exclusive: true}}
	b := req("B")
	b.Resources = []ResourceRequirement{{Type: "gpu", Amount: 1, Exclusive: true}}

	plan, err := BuildPlan([]ToolExecutionRequest{a, b})
	require.NoError(t, err)
	assert.Contains(t, plan.Conflicts, "gpu")
}
