package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zmcptools/internal/agent"
	"zmcptools/internal/depwait"
	"zmcptools/internal/eventbus"
	"zmcptools/internal/objective"
	"zmcptools/internal/progress"
	"zmcptools/internal/project"
	"zmcptools/internal/room"
	"zmcptools/internal/store"
	"zmcptools/internal/types"
)

type fixedAnalyzer struct {
	specializations []string
}

func (f fixedAnalyzer) Analyze(context.Context, string) (ComplexityAnalysis, error) {
	return ComplexityAnalysis{RequiredSpecializations: f.specializations, RecommendedModel: "claude-sonnet-4"}, nil
}

func newTestOrchestrator(t *testing.T, specializations []string) (*Orchestrator, *store.Store, *eventbus.Bus) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := eventbus.New()
	rooms := room.New(st, bus)
	objectives := objective.New(st, bus)
	agents := agent.New(st, bus, rooms)
	waiter := depwait.New(st, bus)
	tracker := progress.New(bus)
	projects := project.New(st, bus)

	o := New(bus, objectives, rooms, agents, waiter, tracker, nil, projects, fixedAnalyzer{specializations: specializations})
	return o, st, bus
}

func TestOrchestrateRunsToCompletionSkippingResearchAndMonitor(t *testing.T) {
	o, st, _ := newTestOrchestrator(t, []string{"architect", "backend", "testing"})

	id, status, err := o.Orchestrate(context.Background(), Request{
		RepositoryPath:       "/r",
		ObjectiveDescription: "build a widget",
		SkipPhases:           map[PhaseName]bool{PhaseResearch: true, PhaseMonitor: true},
		ClaudeConfig:         agent.ClaudeConfig{Command: "sh", Args: []string{"-c", "sleep 0.05"}},
	})
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, status)
	assert.NotEmpty(t, id)

	runStatus, phases, ok := o.Status(id)
	require.True(t, ok)
	assert.Equal(t, RunCompleted, runStatus)

	byName := make(map[PhaseName]PhaseRecord, len(phases))
	for _, p := range phases {
		byName[p.Name] = p
	}
	require.Contains(t, byName, PhaseResearch)
	assert.Equal(t, "skipped", byName[PhaseResearch].Status)
	for _, name := range []PhaseName{PhasePlan, PhaseExecute, PhaseCleanup} {
		require.Contains(t, byName, name)
		assert.Equal(t, "completed", byName[name].Status)
		assert.False(t, byName[name].Start.IsZero())
		assert.False(t, byName[name].End.IsZero())
		assert.False(t, byName[name].End.Before(byName[name].Start))
	}
	require.Contains(t, byName, PhaseMonitor)
	assert.Equal(t, "skipped", byName[PhaseMonitor].Status)

	proj, err := st.GetProjectByPath("/r")
	require.NoError(t, err, "Orchestrate must register a project for a new repository_path")
	assert.Equal(t, types.ProjectStatusActive, proj.Status)
}

func TestOrchestrateRejectsSkippingMandatoryExecutePhase(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, []string{"backend"})

	_, status, err := o.Orchestrate(context.Background(), Request{
		RepositoryPath:       "/r",
		ObjectiveDescription: "build a widget",
		SkipPhases:           map[PhaseName]bool{PhaseResearch: true, PhaseExecute: true, PhaseMonitor: true},
		ClaudeConfig:         agent.ClaudeConfig{Command: "sh", Args: []string{"-c", "sleep 0.05"}},
	})
	require.Error(t, err)
	assert.Equal(t, RunFailed, status)
}

func TestRunMonitorFailsWhenSpecialistTerminatesWithoutCompleting(t *testing.T) {
	o, _, bus := newTestOrchestrator(t, nil)

	r := &run{id: "orch-mon", repositoryPath: "/r", status: RunActive}
	done := make(chan error, 1)
	go func() {
		done <- o.runMonitor(context.Background(), r, Request{RepositoryPath: "/r"}, []string{"a1"}, []string{"obj-1"})
	}()

	bus.Emit(eventbus.KindAgentTerminated, eventbus.AgentTerminatedPayload{
		AgentID: "a1", FinalStatus: string(types.AgentStatusFailed), Reason: "crashed", RepositoryPath: "/r",
	}, eventbus.Fields{RepositoryPath: "/r", AgentID: "a1"})

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected runMonitor to return promptly on agent_terminated")
	}
}

func TestCancelOrchestrationTerminatesSpawnedAgentsAndIsIdempotent(t *testing.T) {
	o, st, bus := newTestOrchestrator(t, nil)

	now := time.Now().UTC()
	require.NoError(t, st.CreateAgent(&types.Agent{
		ID: "a1", AgentName: "a1", RepositoryPath: "/r", Status: types.AgentStatusActive,
		CreatedAt: now, LastHeartbeat: now, UpdatedAt: now,
	}))

	r := &run{id: "orch-1", repositoryPath: "/r", status: RunActive, spawnedAgents: []string{"a1"}}
	o.mu.Lock()
	o.active["orch-1"] = r
	o.mu.Unlock()

	received := make(chan eventbus.OrchestrationCompletedPayload, 1)
	bus.Subscribe(eventbus.KindOrchestrationCompleted, func(e eventbus.Event) {
		received <- e.Payload.(eventbus.OrchestrationCompletedPayload)
	}, eventbus.Filter{})

	require.NoError(t, o.CancelOrchestration("orch-1"))

	a, err := st.GetAgent("a1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusTerminated, a.Status)

	select {
	case payload := <-received:
		assert.False(t, payload.Success)
	case <-time.After(time.Second):
		t.Fatal("expected orchestration_completed to be emitted on cancel")
	}

	status, _, ok := o.Status("orch-1")
	require.True(t, ok)
	assert.Equal(t, RunCancelled, status)

	require.NoError(t, o.CancelOrchestration("orch-1"), "cancel must be idempotent")
}

func TestCancelOrchestrationUnknownIDIsNoop(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)
	assert.NoError(t, o.CancelOrchestration("does-not-exist"))
}

func TestStatusUnknownOrchestration(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)
	_, _, ok := o.Status("does-not-exist")
	assert.False(t, ok)
}
