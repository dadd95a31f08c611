package depwait

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zmcptools/internal/eventbus"
	"zmcptools/internal/store"
	"zmcptools/internal/types"
)

func newTestWaiter(t *testing.T) (*Waiter, *store.Store, *eventbus.Bus) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := eventbus.New()
	return New(st, bus), st, bus
}

func makeAgent(t *testing.T, st *store.Store, id string, status types.AgentStatus) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, st.CreateAgent(&types.Agent{
		ID:             id,
		AgentName:      id,
		RepositoryPath: "/r",
		Status:         status,
		CreatedAt:      now,
		LastHeartbeat:  now,
		UpdatedAt:      now,
	}))
}

func makeObjective(t *testing.T, st *store.Store, id string, status types.ObjectiveStatus, deps []string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, st.CreateObjective(&types.Objective{
		ID:             id,
		RepositoryPath: "/r",
		ObjectiveType:  types.ObjectiveTypeFeature,
		Description:    id,
		Status:         status,
		Requirements:   types.Requirements{Dependencies: deps},
		CreatedAt:      now,
		UpdatedAt:      now,
	}))
}

func TestWaitForAgentDependenciesAlreadyTerminalResolvesImmediately(t *testing.T) {
	w, st, _ := newTestWaiter(t)
	makeAgent(t, st, "a1", types.AgentStatusCompleted)
	makeAgent(t, st, "a2", types.AgentStatusFailed)

	result := w.WaitForAgentDependencies([]string{"a1", "a2"}, "/r", AgentWaitOptions{TimeoutMS: 1000})

	assert.Equal(t, []string{"a1"}, result.CompletedAgents)
	assert.Equal(t, []string{"a2"}, result.FailedAgents)
	assert.Empty(t, result.TimeoutAgents)
	assert.False(t, result.Success, "a failed dependency must not report overall success")
}

func TestWaitForAgentDependenciesSettlesViaStatusChangeEvent(t *testing.T) {
	w, st, bus := newTestWaiter(t)
	makeAgent(t, st, "a1", types.AgentStatusActive)

	done := make(chan AgentWaitResult, 1)
	go func() {
		done <- w.WaitForAgentDependencies([]string{"a1"}, "/r", AgentWaitOptions{TimeoutMS: 2000})
	}()

	time.Sleep(20 * time.Millisecond)
	bus.Emit(eventbus.KindAgentStatusChange, eventbus.AgentStatusChangePayload{
		AgentID: "a1", PreviousStatus: "active", NewStatus: "completed",
	}, eventbus.Fields{RepositoryPath: "/r"})

	select {
	case result := <-done:
		assert.Equal(t, []string{"a1"}, result.CompletedAgents)
		assert.True(t, result.Success)
	case <-time.After(time.Second):
		t.Fatal("expected wait to settle from the status-change event")
	}
}

func TestWaitForAgentDependenciesSettlesViaTerminatedEvent(t *testing.T) {
	w, st, bus := newTestWaiter(t)
	makeAgent(t, st, "a1", types.AgentStatusActive)

	done := make(chan AgentWaitResult, 1)
	go func() {
		done <- w.WaitForAgentDependencies([]string{"a1"}, "/r", AgentWaitOptions{TimeoutMS: 2000})
	}()

	time.Sleep(20 * time.Millisecond)
	bus.Emit(eventbus.KindAgentTerminated, eventbus.AgentTerminatedPayload{
		AgentID: "a1", FinalStatus: "failed",
	}, eventbus.Fields{RepositoryPath: "/r"})

	select {
	case result := <-done:
		assert.Equal(t, []string{"a1"}, result.FailedAgents)
	case <-time.After(time.Second):
		t.Fatal("expected wait to settle from the terminated event")
	}
}

func TestWaitForAgentDependenciesSettlesViaObjectiveCompletedByAgent(t *testing.T) {
	w, st, bus := newTestWaiter(t)
	makeAgent(t, st, "a1", types.AgentStatusActive)

	done := make(chan AgentWaitResult, 1)
	go func() {
		done <- w.WaitForAgentDependencies([]string{"a1"}, "/r", AgentWaitOptions{TimeoutMS: 2000})
	}()

	time.Sleep(20 * time.Millisecond)
	bus.Emit(eventbus.KindObjectiveCompleted, eventbus.ObjectiveCompletedPayload{
		ObjectiveID: "o1", CompletedBy: "a1",
	}, eventbus.Fields{RepositoryPath: "/r"})

	select {
	case result := <-done:
		assert.Equal(t, []string{"a1"}, result.CompletedAgents)
	case <-time.After(time.Second):
		t.Fatal("expected wait to settle from the objective_completed(completed_by) event")
	}
}

func TestWaitForAgentDependenciesTimesOut(t *testing.T) {
	w, st, _ := newTestWaiter(t)
	makeAgent(t, st, "a1", types.AgentStatusActive)

	result := w.WaitForAgentDependencies([]string{"a1"}, "/r", AgentWaitOptions{TimeoutMS: 50})

	assert.Equal(t, []string{"a1"}, result.TimeoutAgents)
	assert.False(t, result.Success)
	assert.Equal(t, "one or more dependencies timed out", result.Message)
}

func TestWaitForAgentDependenciesCollectsAllSettledNotFailFast(t *testing.T) {
	w, st, bus := newTestWaiter(t)
	makeAgent(t, st, "already-done", types.AgentStatusCompleted)
	makeAgent(t, st, "will-fail", types.AgentStatusActive)
	makeAgent(t, st, "will-timeout", types.AgentStatusActive)

	done := make(chan AgentWaitResult, 1)
	go func() {
		done <- w.WaitForAgentDependencies(
			[]string{"already-done", "will-fail", "will-timeout"}, "/r",
			AgentWaitOptions{TimeoutMS: 150},
		)
	}()

	time.Sleep(20 * time.Millisecond)
	bus.Emit(eventbus.KindAgentStatusChange, eventbus.AgentStatusChangePayload{
		AgentID: "will-fail", PreviousStatus: "active", NewStatus: "failed",
	}, eventbus.Fields{RepositoryPath: "/r"})

	select {
	case result := <-done:
		assert.Equal(t, []string{"already-done"}, result.CompletedAgents)
		assert.Equal(t, []string{"will-fail"}, result.FailedAgents)
		assert.Equal(t, []string{"will-timeout"}, result.TimeoutAgents)
		assert.False(t, result.Success)
	case <-time.After(time.Second):
		t.Fatal("expected mixed settlement to resolve once the timeout elapses")
	}
}

func TestWaitForObjectiveDependenciesAlreadyCompletedResolvesImmediately(t *testing.T) {
	w, st, _ := newTestWaiter(t)
	makeObjective(t, st, "dep1", types.ObjectiveStatusCompleted, nil)
	makeObjective(t, st, "main", types.ObjectiveStatusPending, []string{"dep1"})

	result, err := w.WaitForObjectiveDependencies("main", "/r", ObjectiveWaitOptions{TimeoutMS: 1000})
	require.NoError(t, err)
	assert.Equal(t, []string{"dep1"}, result.CompletedObjectives)
	assert.Empty(t, result.TimeoutObjectives)
	assert.True(t, result.Success)
}

func TestWaitForObjectiveDependenciesSettlesViaEvent(t *testing.T) {
	w, st, bus := newTestWaiter(t)
	makeObjective(t, st, "dep1", types.ObjectiveStatusInProgress, nil)
	makeObjective(t, st, "main", types.ObjectiveStatusPending, []string{"dep1"})

	done := make(chan ObjectiveWaitResult, 1)
	go func() {
		result, err := w.WaitForObjectiveDependencies("main", "/r", ObjectiveWaitOptions{TimeoutMS: 2000})
		require.NoError(t, err)
		done <- result
	}()

	time.Sleep(20 * time.Millisecond)
	bus.Emit(eventbus.KindObjectiveCompleted, eventbus.ObjectiveCompletedPayload{
		ObjectiveID: "dep1",
	}, eventbus.Fields{RepositoryPath: "/r"})

	select {
	case result := <-done:
		assert.Equal(t, []string{"dep1"}, result.CompletedObjectives)
		assert.True(t, result.Success)
	case <-time.After(time.Second):
		t.Fatal("expected wait to settle from the objective_completed event")
	}
}

func TestWaitForObjectiveDependenciesTimesOut(t *testing.T) {
	w, st, _ := newTestWaiter(t)
	makeObjective(t, st, "dep1", types.ObjectiveStatusInProgress, nil)
	makeObjective(t, st, "main", types.ObjectiveStatusPending, []string{"dep1"})

	result, err := w.WaitForObjectiveDependencies("main", "/r", ObjectiveWaitOptions{TimeoutMS: 50})
	require.NoError(t, err)
	assert.Equal(t, []string{"dep1"}, result.TimeoutObjectives)
	assert.False(t, result.Success)
}

func TestWaitForObjectiveDependenciesUnknownObjectiveErrors(t *testing.T) {
	w, _, _ := newTestWaiter(t)
	_, err := w.WaitForObjectiveDependencies("does-not-exist", "/r", ObjectiveWaitOptions{})
	assert.Error(t, err)
}
