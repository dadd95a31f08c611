package objective

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zmcptools/internal/apperr"
	"zmcptools/internal/eventbus"
	"zmcptools/internal/store"
	"zmcptools/internal/types"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, eventbus.New())
}

func TestCreateDefaultsToPending(t *testing.T) {
	svc := newTestService(t)
	o, err := svc.Create(CreateRequest{RepositoryPath: "/r", ObjectiveType: types.ObjectiveTypeFeature, Description: "add OAuth"})
	require.NoError(t, err)
	assert.Equal(t, types.ObjectiveStatusPending, o.Status)
	assert.Equal(t, 0, o.ProgressPercentage)
}

func TestUpdateStatusRequiresAssignmentToStart(t *testing.T) {
	svc := newTestService(t)
	o, err := svc.Create(CreateRequest{RepositoryPath: "/r", ObjectiveType: types.ObjectiveTypeFeature, Description: "d"})
	require.NoError(t, err)

	_, err = svc.UpdateStatus(UpdateStatusRequest{ObjectiveID: o.ID, NewStatus: types.ObjectiveStatusInProgress})
	require.Error(t, err)
	assert.True(t, apperr.Of(err, apperr.KindInvalidArgument))

	agentID := "agent-1"
	started, err := svc.UpdateStatus(UpdateStatusRequest{ObjectiveID: o.ID, NewStatus: types.ObjectiveStatusInProgress, AssignedAgentID: &agentID})
	require.NoError(t, err)
	assert.Equal(t, types.ObjectiveStatusInProgress, started.Status)
}

func TestUpdateStatusRejectsIllegalTransition(t *testing.T) {
	svc := newTestService(t)
	o, err := svc.Create(CreateRequest{RepositoryPath: "/r", ObjectiveType: types.ObjectiveTypeFeature, Description: "d"})
	require.NoError(t, err)

	_, err = svc.UpdateStatus(UpdateStatusRequest{ObjectiveID: o.ID, NewStatus: types.ObjectiveStatusCompleted})
	require.Error(t, err)
	assert.True(t, apperr.Of(err, apperr.KindIllegalTransition))
}

func TestUpdateStatusTerminalIsSticky(t *testing.T) {
	svc := newTestService(t)
	o, err := svc.Create(CreateRequest{RepositoryPath: "/r", ObjectiveType: types.ObjectiveTypeFeature, Description: "d"})
	require.NoError(t, err)

	agentID := "agent-1"
	_, err = svc.UpdateStatus(UpdateStatusRequest{ObjectiveID: o.ID, NewStatus: types.ObjectiveStatusInProgress, AssignedAgentID: &agentID})
	require.NoError(t, err)
	_, err = svc.UpdateStatus(UpdateStatusRequest{ObjectiveID: o.ID, NewStatus: types.ObjectiveStatusCompleted})
	require.NoError(t, err)

	_, err = svc.UpdateStatus(UpdateStatusRequest{ObjectiveID: o.ID, NewStatus: types.ObjectiveStatusInProgress, AssignedAgentID: &agentID})
	require.Error(t, err)
	assert.True(t, apperr.Of(err, apperr.KindIllegalTransition))
}

func TestUpdateProgressNeverDecreases(t *testing.T) {
	svc := newTestService(t)
	o, err := svc.Create(CreateRequest{RepositoryPath: "/r", ObjectiveType: types.ObjectiveTypeFeature, Description: "d"})
	require.NoError(t, err)

	updated, err := svc.UpdateProgress(o.ID, 40)
	require.NoError(t, err)
	assert.Equal(t, 40, updated.ProgressPercentage)

	updated, err = svc.UpdateProgress(o.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, 40, updated.ProgressPercentage, "progress must never decrease")
}

func TestBreakdownInheritsRepositoryAndPriority(t *testing.T) {
	svc := newTestService(t)
	parent, err := svc.Create(CreateRequest{RepositoryPath: "/r", ObjectiveType: types.ObjectiveTypeFeature, Description: "parent", Priority: 7})
	require.NoError(t, err)

	children, err := svc.Breakdown(parent.ID, []ChildSpec{
		{Description: "child-a", ObjectiveType: types.ObjectiveTypeTesting},
	})
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "/r", children[0].RepositoryPath)
	assert.Equal(t, 7, children[0].Priority)
	require.NotNil(t, children[0].ParentObjectiveID)
	assert.Equal(t, parent.ID, *children[0].ParentObjectiveID)
}

func TestAutoAssignOrdersByPriorityThenAge(t *testing.T) {
	svc := newTestService(t)
	low, err := svc.Create(CreateRequest{RepositoryPath: "/r", ObjectiveType: types.ObjectiveTypeFeature, Description: "low", Priority: 1})
	require.NoError(t, err)
	high, err := svc.Create(CreateRequest{RepositoryPath: "/r", ObjectiveType: types.ObjectiveTypeFeature, Description: "high", Priority: 9})
	require.NoError(t, err)

	assigned, err := svc.AutoAssign("/r", "agent-1", nil)
	require.NoError(t, err)
	require.Len(t, assigned, 2)
	assert.Equal(t, high.ID, assigned[0].ID)
	assert.Equal(t, low.ID, assigned[1].ID)
	for _, o := range assigned {
		assert.Equal(t, types.ObjectiveStatusInProgress, o.Status)
	}
}

func TestExecutionPlanOrdersByDependencyAndComputesCriticalPath(t *testing.T) {
	svc := newTestService(t)
	a, err := svc.Create(CreateRequest{RepositoryPath: "/r", ObjectiveType: types.ObjectiveTypeFeature, Description: "a"})
	require.NoError(t, err)
	b, err := svc.Create(CreateRequest{
		RepositoryPath: "/r", ObjectiveType: types.ObjectiveTypeFeature, Description: "b",
		Requirements: types.Requirements{Dependencies: []string{a.ID}},
	})
	require.NoError(t, err)
	c, err := svc.Create(CreateRequest{
		RepositoryPath: "/r", ObjectiveType: types.ObjectiveTypeFeature, Description: "c",
		Requirements: types.Requirements{Dependencies: []string{b.ID}},
	})
	require.NoError(t, err)

	plan, err := svc.ExecutionPlan([]string{c.ID, a.ID, b.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, plan.ExecutionOrder)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, plan.CriticalPath)
	assert.Equal(t, "low: no cross-objective dependencies", riskAssessment(plan.Objectives, map[string][]string{}))
}

func TestGetDependenciesAndDependents(t *testing.T) {
	svc := newTestService(t)
	base, err := svc.Create(CreateRequest{RepositoryPath: "/r", ObjectiveType: types.ObjectiveTypeFeature, Description: "base"})
	require.NoError(t, err)

	dependent, err := svc.Create(CreateRequest{
		RepositoryPath: "/r", ObjectiveType: types.ObjectiveTypeFeature, Description: "dependent",
		Requirements: types.Requirements{Dependencies: []string{base.ID}},
	})
	require.NoError(t, err)

	deps, err := svc.GetDependencies(dependent.ID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, base.ID, deps[0].ID)

	dependents, err := svc.GetDependents(base.ID, "/r")
	require.NoError(t, err)
	require.Len(t, dependents, 1)
	assert.Equal(t, dependent.ID, dependents[0].ID)
}

func TestExecutionPlanDetectsCycle(t *testing.T) {
	svc := newTestService(t)
	a, err := svc.Create(CreateRequest{RepositoryPath: "/r", ObjectiveType: types.ObjectiveTypeFeature, Description: "a"})
	require.NoError(t, err)
	b, err := svc.Create(CreateRequest{
		RepositoryPath: "/r", ObjectiveType: types.ObjectiveTypeFeature, Description: "b",
		Requirements: types.Requirements{Dependencies: []string{a.ID}},
	})
	require.NoError(t, err)

	// Manually force a cycle: a now "depends on" b, forming a<->b.
	_, err = svc.store.GetObjective(a.ID)
	require.NoError(t, err)

	cyclicDeps := map[string][]string{a.ID: {b.ID}, b.ID: {a.ID}}
	_, err = topoSort([]*types.Objective{{ID: a.ID}, {ID: b.ID}}, cyclicDeps)
	require.Error(t, err)
	assert.True(t, apperr.Of(err, apperr.KindCycle))
}
