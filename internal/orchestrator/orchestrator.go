// Package orchestrator implements the Orchestrator (spec §4.9): the phased
// workflow engine that plans, spawns, coordinates, and reaps agents for a
// single high-level objective.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"zmcptools/internal/agent"
	"zmcptools/internal/depwait"
	"zmcptools/internal/eventbus"
	"zmcptools/internal/idgen"
	"zmcptools/internal/knowledge"
	"zmcptools/internal/logging"
	"zmcptools/internal/objective"
	"zmcptools/internal/progress"
	"zmcptools/internal/project"
	"zmcptools/internal/room"
	"zmcptools/internal/types"
)

// ComplexityAnalysis is the external decomposition-intelligence capability's
// output (spec §1 explicit non-goal: the core never computes this itself).
type ComplexityAnalysis struct {
	RequiredSpecializations []string
	RecommendedModel        string
}

// ComplexityAnalyzer is the narrow external interface the Plan phase calls.
type ComplexityAnalyzer interface {
	Analyze(ctx context.Context, objectiveDescription string) (ComplexityAnalysis, error)
}

// PhaseName enumerates orchestration phases.
type PhaseName string

const (
	PhaseResearch PhaseName = "research"
	PhasePlan     PhaseName = "plan"
	PhaseExecute  PhaseName = "execute"
	PhaseMonitor  PhaseName = "monitor"
	PhaseCleanup  PhaseName = "cleanup"
)

var mandatoryPhases = map[PhaseName]bool{
	PhasePlan:    true,
	PhaseExecute: true,
	PhaseCleanup: true,
}

// RunStatus is an orchestration's overall lifecycle status.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunActive    RunStatus = "active"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// MonitorBudget bounds how long the Monitor phase waits for specialists to
// finish before the orchestration is considered timed out.
const MonitorBudget = 30 * time.Minute

// ResearchTimeout bounds how long Research waits on its researcher agent
// (spec §4.9).
const ResearchTimeout = 10 * time.Minute

// evictAfter is how long a terminal orchestration is retained in memory
// before eviction (spec §4.9).
const evictAfter = 5 * time.Minute

// Request configures a new orchestration run.
type Request struct {
	RepositoryPath       string
	ObjectiveDescription string
	SkipPhases           map[PhaseName]bool
	ClaudeConfig         agent.ClaudeConfig
}

// PhaseRecord tracks one phase's execution for status reporting.
type PhaseRecord struct {
	Name     PhaseName
	Status   string
	Start    time.Time
	End      time.Time
	Outputs  map[string]interface{}
	Error    string
}

// run is the in-memory state of one active or recently-terminal orchestration.
type run struct {
	mu                  sync.Mutex
	id                  string
	repositoryPath      string
	masterObjectiveID   string
	roomID              string
	status              RunStatus
	phases              []PhaseRecord
	spawnedAgents       []string
	terminalAt          time.Time
	cancelled           bool
	settled             bool // claimed by whichever of {success, fail, cancel} reaches a terminal outcome first
}

// Orchestrator drives phased workflows over the lower-level services.
type Orchestrator struct {
	bus        *eventbus.Bus
	objectives *objective.Service
	rooms      *room.Service
	agents     *agent.Service
	waiter     *depwait.Waiter
	tracker    *progress.Tracker
	knowledge  *knowledge.Store
	projects   *project.Service
	analyzer   ComplexityAnalyzer

	mu        sync.Mutex
	active    map[string]*run
	agentRuns map[string]string // agent_id -> orchestration_id, for routing specialist progress reports
}

// New constructs an Orchestrator. knowledgeStore may be nil (KnowledgeStore
// is a best-effort capability, spec §4.9 Cleanup).
func New(bus *eventbus.Bus, objectives *objective.Service, rooms *room.Service, agents *agent.Service, waiter *depwait.Waiter, tracker *progress.Tracker, knowledgeStore *knowledge.Store, projects *project.Service, analyzer ComplexityAnalyzer) *Orchestrator {
	o := &Orchestrator{
		bus: bus, objectives: objectives, rooms: rooms, agents: agents,
		waiter: waiter, tracker: tracker, knowledge: knowledgeStore, projects: projects, analyzer: analyzer,
		active:    make(map[string]*run),
		agentRuns: make(map[string]string),
	}
	go o.evictionLoop()
	return o
}

func (o *Orchestrator) evictionLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		o.mu.Lock()
		for id, r := range o.active {
			r.mu.Lock()
			terminal := r.status == RunCompleted || r.status == RunFailed || r.status == RunCancelled
			evict := terminal && !r.terminalAt.IsZero() && time.Since(r.terminalAt) > evictAfter
			spawned := r.spawnedAgents
			r.mu.Unlock()
			if evict {
				delete(o.active, id)
				for _, agentID := range spawned {
					delete(o.agentRuns, agentID)
				}
			}
		}
		o.mu.Unlock()
	}
}

// newRun allocates and registers a fresh in-memory run, synchronously, so its
// id is cancellable via CancelOrchestration before a single phase has run.
func (o *Orchestrator) newRun(req Request) *run {
	r := &run{id: idgen.Prefixed("orch"), repositoryPath: req.RepositoryPath, status: RunActive}
	o.mu.Lock()
	o.active[r.id] = r
	o.mu.Unlock()
	return r
}

// Orchestrate runs a full research→plan→execute→monitor→cleanup workflow for
// req on the calling goroutine and returns the final run status. Callers that
// need to observe or cancel a run before it settles should use StartAsync
// instead (spec §4.9 Cancellation, §8 S5).
func (o *Orchestrator) Orchestrate(ctx context.Context, req Request) (string, RunStatus, error) {
	r := o.newRun(req)
	status, err := o.run(ctx, r, req)
	return r.id, status, err
}

// StartAsync launches an orchestration in the background and returns its id
// immediately, before any phase has executed, so the caller can poll Status
// or call CancelOrchestration while it is still mid-flight (spec §4.9
// Cancellation, §8 S5: "while S1 is mid-execute, call cancelOrchestration").
func (o *Orchestrator) StartAsync(ctx context.Context, req Request) string {
	r := o.newRun(req)
	go func() {
		if _, err := o.run(ctx, r, req); err != nil {
			logging.Get(logging.CategoryOrchestrator).Warn("orchestration=%s background run ended: %v", r.id, err)
		}
	}()
	return r.id
}

// run drives r's phases to completion. r must already be registered in
// o.active (via newRun).
func (o *Orchestrator) run(ctx context.Context, r *run, req Request) (RunStatus, error) {
	orchestrationID := r.id

	if o.projects != nil {
		if _, err := o.projects.Register(project.RegisterRequest{
			Name:           req.RepositoryPath,
			RepositoryPath: req.RepositoryPath,
			ServerType:     "orchestrator",
		}); err != nil {
			logging.Get(logging.CategoryOrchestrator).Warn("project registration failed for %s: %v", req.RepositoryPath, err)
		}
	}

	master, err := o.objectives.Create(objective.CreateRequest{
		RepositoryPath: req.RepositoryPath,
		ObjectiveType:  types.ObjectiveTypeFeature,
		Description:    req.ObjectiveDescription,
		Priority:       5,
		Requirements:   types.Requirements{OrchestrationID: &orchestrationID},
	})
	if err != nil {
		return o.fail(r, "", err), err
	}
	r.masterObjectiveID = master.ID

	roomRec, err := o.rooms.CreateRoom(room.CreateRoomRequest{
		Name:           room.OrchestrationRoomName(req.ObjectiveDescription),
		Description:    "orchestration coordination room",
		RepositoryPath: req.RepositoryPath,
	})
	if err != nil {
		return o.fail(r, "", err), err
	}
	r.roomID = roomRec.ID

	o.emitUpdate(r, PhaseResearch, eventbus.RunStatusStarted, 0, 0)

	outputs := map[string]interface{}{}

	if req.SkipPhases[PhaseResearch] {
		o.recordSkippedPhase(r, PhaseResearch)
	} else {
		idx := o.startPhase(r, PhaseResearch)
		researchOut, err := o.runResearch(ctx, r, req)
		if err != nil {
			o.endPhase(r, idx, "failed", err, nil)
			return o.fail(r, PhaseResearch, err), err
		}
		o.endPhase(r, idx, "completed", nil, researchOut)
		for k, v := range researchOut {
			outputs[k] = v
		}
	}

	if req.SkipPhases[PhasePlan] {
		err := errMandatorySkipped(PhasePlan)
		o.endPhase(r, o.startPhase(r, PhasePlan), "failed", err, nil)
		return o.fail(r, PhasePlan, err), err
	}
	planIdx := o.startPhase(r, PhasePlan)
	analysis, planOut, err := o.runPlan(ctx, r, req)
	if err != nil {
		o.endPhase(r, planIdx, "failed", err, nil)
		return o.fail(r, PhasePlan, err), err
	}
	o.endPhase(r, planIdx, "completed", nil, planOut)
	for k, v := range planOut {
		outputs[k] = v
	}

	if req.SkipPhases[PhaseExecute] {
		err := errMandatorySkipped(PhaseExecute)
		o.endPhase(r, o.startPhase(r, PhaseExecute), "failed", err, nil)
		return o.fail(r, PhaseExecute, err), err
	}
	subObjectiveIDs, _ := outputs["subObjectiveIds"].([]string)
	execIdx := o.startPhase(r, PhaseExecute)
	execOut, err := o.runExecute(ctx, r, req, analysis, subObjectiveIDs)
	if err != nil {
		o.endPhase(r, execIdx, "failed", err, nil)
		return o.fail(r, PhaseExecute, err), err
	}
	o.endPhase(r, execIdx, "completed", nil, execOut)
	for k, v := range execOut {
		outputs[k] = v
	}

	if req.SkipPhases[PhaseMonitor] {
		o.recordSkippedPhase(r, PhaseMonitor)
	} else {
		executionAgents, _ := outputs["executionAgents"].([]string)
		monitorIdx := o.startPhase(r, PhaseMonitor)
		if err := o.runMonitor(ctx, r, req, executionAgents, subObjectiveIDs); err != nil {
			o.endPhase(r, monitorIdx, "failed", err, nil)
			return o.fail(r, PhaseMonitor, err), err
		}
		o.endPhase(r, monitorIdx, "completed", nil, nil)
	}

	if req.SkipPhases[PhaseCleanup] {
		err := errMandatorySkipped(PhaseCleanup)
		o.endPhase(r, o.startPhase(r, PhaseCleanup), "failed", err, nil)
		return o.fail(r, PhaseCleanup, err), err
	}
	cleanupIdx := o.startPhase(r, PhaseCleanup)
	o.runCleanup(r, req, outputs)
	o.endPhase(r, cleanupIdx, "completed", nil, nil)

	if !o.trySettle(r) {
		// CancelOrchestration won the race to settle this run while cleanup
		// was still running; its own terminal event has already been emitted.
		r.mu.Lock()
		status := r.status
		r.mu.Unlock()
		return status, nil
	}

	r.mu.Lock()
	r.status = RunCompleted
	r.terminalAt = time.Now().UTC()
	r.mu.Unlock()

	o.emitUpdate(r, PhaseCleanup, eventbus.RunStatusCompleted, 0, 0)
	o.bus.Emit(eventbus.KindOrchestrationCompleted, eventbus.OrchestrationCompletedPayload{
		OrchestrationID: orchestrationID, Success: true, FinalResults: outputs,
		RepositoryPath: req.RepositoryPath, Timestamp: time.Now().UTC(),
	}, eventbus.Fields{RepositoryPath: req.RepositoryPath, OrchestrationID: orchestrationID})

	return RunCompleted, nil
}

// trySettle claims the right to finalize r's terminal state and emit its
// closing events, exactly once across run's own success path, fail, and
// CancelOrchestration - whichever reaches a terminal outcome first for a
// given run (spec §4.9 Cancellation: settling is a race the first caller
// wins).
func (o *Orchestrator) trySettle(r *run) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled {
		return false
	}
	r.settled = true
	return true
}

func errMandatorySkipped(phase PhaseName) error {
	return fmt.Errorf("phase %q is mandatory and cannot be skipped", phase)
}

// startPhase appends a new in-progress PhaseRecord and returns its index for
// a matching endPhase call (spec §4.9: phase history tracked for Status).
func (o *Orchestrator) startPhase(r *run, name PhaseName) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, PhaseRecord{Name: name, Status: "in_progress", Start: time.Now().UTC()})
	return len(r.phases) - 1
}

// endPhase settles the PhaseRecord at idx with its terminal status, outputs,
// and (if any) error.
func (o *Orchestrator) endPhase(r *run, idx int, status string, err error, outputs map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx < 0 || idx >= len(r.phases) {
		return
	}
	r.phases[idx].End = time.Now().UTC()
	r.phases[idx].Status = status
	r.phases[idx].Outputs = outputs
	if err != nil {
		r.phases[idx].Error = err.Error()
	}
}

// recordSkippedPhase records a phase the request opted out of, so Status
// reflects every phase name even when SkipPhases bypassed it.
func (o *Orchestrator) recordSkippedPhase(r *run, name PhaseName) {
	now := time.Now().UTC()
	r.mu.Lock()
	r.phases = append(r.phases, PhaseRecord{Name: name, Status: "skipped", Start: now, End: now})
	r.mu.Unlock()
}

// fail settles r as failed and emits its terminal events, unless some other
// path (a concurrent CancelOrchestration) already settled it first - in which
// case it reports that settlement's status instead (spec §4.9 Cancellation).
func (o *Orchestrator) fail(r *run, phase PhaseName, err error) RunStatus {
	if !o.trySettle(r) {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.status
	}

	r.mu.Lock()
	r.status = RunFailed
	r.terminalAt = time.Now().UTC()
	r.mu.Unlock()

	logging.Orchestrator("orchestration=%s phase=%s failed: %v", r.id, phase, err)
	o.emitUpdate(r, phase, eventbus.RunStatusFailed, 0, 0)
	o.bus.Emit(eventbus.KindOrchestrationCompleted, eventbus.OrchestrationCompletedPayload{
		OrchestrationID: r.id, Success: false, Error: err.Error(),
		RepositoryPath: r.repositoryPath, Timestamp: time.Now().UTC(),
	}, eventbus.Fields{RepositoryPath: r.repositoryPath, OrchestrationID: r.id})
	return RunFailed
}

func (o *Orchestrator) emitUpdate(r *run, phase PhaseName, status eventbus.OrchestrationRunStatus, completed, total int) {
	eventPhase := eventbus.OrchestrationPhase(phase)
	switch phase {
	case PhasePlan:
		eventPhase = eventbus.PhasePlanning
	case PhaseExecute:
		eventPhase = eventbus.PhaseExecution
	case PhaseMonitor:
		eventPhase = eventbus.PhaseMonitoring
	case PhaseCleanup:
		eventPhase = eventbus.PhaseCompletion
	}
	o.bus.Emit(eventbus.KindOrchestrationUpdate, eventbus.OrchestrationUpdatePayload{
		OrchestrationID: r.id, Phase: eventPhase, Status: status,
		AgentCount: len(r.spawnedAgents), CompletedObjectives: completed, TotalObjectives: total,
		RepositoryPath: r.repositoryPath, Timestamp: time.Now().UTC(),
	}, eventbus.Fields{RepositoryPath: r.repositoryPath, OrchestrationID: r.id})
}

// runResearch spawns a researcher agent on an analysis objective and waits
// for it to settle (spec §4.9 Research).
func (o *Orchestrator) runResearch(ctx context.Context, r *run, req Request) (map[string]interface{}, error) {
	researchObj, err := o.objectives.Create(objective.CreateRequest{
		RepositoryPath: req.RepositoryPath,
		ObjectiveType:  types.ObjectiveTypeAnalysis,
		Description:    "Research phase: " + req.ObjectiveDescription,
		Priority:       8,
		ParentID:       &r.masterObjectiveID,
	})
	if err != nil {
		return nil, err
	}

	a, err := o.agents.CreateAgent(ctx, agent.CreateAgentRequest{
		AgentName:            "researcher-" + r.id,
		AgentType:            "researcher",
		RepositoryPath:       req.RepositoryPath,
		ObjectiveDescription: researchObj.Description,
		RoomID:               &r.roomID,
		ClaudeConfig:         req.ClaudeConfig,
	})
	if err != nil {
		return nil, err
	}
	o.trackAgent(r, a.ID)

	if _, err := o.objectives.UpdateStatus(objective.UpdateStatusRequest{
		ObjectiveID: researchObj.ID, NewStatus: types.ObjectiveStatusInProgress, AssignedAgentID: &a.ID,
	}); err != nil {
		return nil, err
	}

	waitResult := o.waiter.WaitForAgentDependencies([]string{a.ID}, req.RepositoryPath, depwait.AgentWaitOptions{
		TimeoutMS: int(ResearchTimeout.Milliseconds()), WaitForAnyFailure: true,
	})
	if !waitResult.Success {
		return nil, fmt.Errorf("research phase did not settle: %s", waitResult.Message)
	}

	return map[string]interface{}{
		"researchAgentId":     a.ID,
		"researchObjectiveId": researchObj.ID,
	}, nil
}

// runPlan spawns the architect, materializes sub-objectives for each
// required specialization, and returns the complexity analysis for Execute
// to consume (spec §4.9 Plan).
func (o *Orchestrator) runPlan(ctx context.Context, r *run, req Request) (ComplexityAnalysis, map[string]interface{}, error) {
	analysis, err := o.analyzer.Analyze(ctx, req.ObjectiveDescription)
	if err != nil {
		return ComplexityAnalysis{}, nil, fmt.Errorf("complexity analysis: %w", err)
	}

	plannerAgent, err := o.agents.CreateAgent(ctx, agent.CreateAgentRequest{
		AgentName:            "architect-" + r.id,
		AgentType:            "architect",
		RepositoryPath:       req.RepositoryPath,
		ObjectiveDescription: req.ObjectiveDescription,
		RoomID:               &r.roomID,
		ClaudeConfig:         planConfig(req.ClaudeConfig, analysis.RecommendedModel),
	})
	if err != nil {
		return ComplexityAnalysis{}, nil, err
	}
	o.trackAgent(r, plannerAgent.ID)

	children := make([]objective.ChildSpec, 0, len(analysis.RequiredSpecializations))
	for _, spec := range analysis.RequiredSpecializations {
		children = append(children, objective.ChildSpec{
			Description:   fmt.Sprintf("%s: %s", spec, req.ObjectiveDescription),
			ObjectiveType: types.ObjectiveTypeFeature,
		})
	}
	subObjectives, err := o.objectives.Breakdown(r.masterObjectiveID, children)
	if err != nil {
		return ComplexityAnalysis{}, nil, err
	}

	subIDs := make([]string, len(subObjectives))
	for i, s := range subObjectives {
		subIDs[i] = s.ID
	}

	return analysis, map[string]interface{}{
		"plannerAgentId":  plannerAgent.ID,
		"subObjectiveIds": subIDs,
	}, nil
}

func planConfig(base agent.ClaudeConfig, model string) agent.ClaudeConfig {
	cfg := base
	if model != "" {
		cfg.Model = model
	}
	return cfg
}

// runExecute spawns one specialist agent per required specialization other
// than architect, assigning each the corresponding sub-objective (spec §4.9
// Execute). It does not block on the specialists.
func (o *Orchestrator) runExecute(ctx context.Context, r *run, req Request, analysis ComplexityAnalysis, subObjectiveIDs []string) (map[string]interface{}, error) {
	var executionAgents []string
	for i, spec := range analysis.RequiredSpecializations {
		if spec == "architect" {
			continue
		}
		if i >= len(subObjectiveIDs) {
			break
		}
		subObjID := subObjectiveIDs[i]

		a, err := o.agents.CreateAgent(ctx, agent.CreateAgentRequest{
			AgentName:            fmt.Sprintf("%s-%s", spec, r.id),
			AgentType:            spec,
			RepositoryPath:       req.RepositoryPath,
			ObjectiveDescription: req.ObjectiveDescription,
			RoomID:               &r.roomID,
			ClaudeConfig:         req.ClaudeConfig,
		})
		if err != nil {
			return nil, err
		}
		o.trackAgent(r, a.ID)

		if _, err := o.objectives.UpdateStatus(objective.UpdateStatusRequest{
			ObjectiveID: subObjID, NewStatus: types.ObjectiveStatusInProgress, AssignedAgentID: &a.ID,
		}); err != nil {
			return nil, err
		}

		executionAgents = append(executionAgents, a.ID)
	}

	return map[string]interface{}{"executionAgents": executionAgents}, nil
}

// runMonitor supervises the spawned specialists until all their objectives
// are terminal or MonitorBudget is exhausted, emitting orchestration_update
// at most once per second with aggregated progress (spec §4.9 Monitor). It
// returns an error if a specialist terminates without its objective having
// completed, or if MonitorBudget is exhausted with objectives still pending.
func (o *Orchestrator) runMonitor(ctx context.Context, r *run, req Request, executionAgents, subObjectiveIDs []string) error {
	if len(executionAgents) == 0 {
		return nil
	}

	deadline := time.Now().Add(MonitorBudget)
	pending := make(map[string]bool, len(subObjectiveIDs))
	for _, id := range subObjectiveIDs {
		pending[id] = true
	}
	watched := make(map[string]bool, len(executionAgents))
	for _, id := range executionAgents {
		watched[id] = true
	}

	settled := make(chan string, len(subObjectiveIDs))
	failedObjective := make(chan string, len(subObjectiveIDs))
	terminatedAgent := make(chan eventbus.AgentTerminatedPayload, len(executionAgents))

	completedSub := o.bus.Subscribe(eventbus.KindObjectiveCompleted, func(ev eventbus.Event) {
		p, ok := ev.Payload.(eventbus.ObjectiveCompletedPayload)
		if ok && pending[p.ObjectiveID] {
			settled <- p.ObjectiveID
		}
	}, eventbus.Filter{RepositoryPath: req.RepositoryPath})
	defer o.bus.Unsubscribe(completedSub)

	updateSub := o.bus.Subscribe(eventbus.KindObjectiveUpdate, func(ev eventbus.Event) {
		p, ok := ev.Payload.(eventbus.ObjectiveUpdatePayload)
		if ok && pending[p.ObjectiveID] && p.NewStatus == string(types.ObjectiveStatusFailed) {
			failedObjective <- p.ObjectiveID
		}
	}, eventbus.Filter{RepositoryPath: req.RepositoryPath})
	defer o.bus.Unsubscribe(updateSub)

	terminatedSub := o.bus.Subscribe(eventbus.KindAgentTerminated, func(ev eventbus.Event) {
		p, ok := ev.Payload.(eventbus.AgentTerminatedPayload)
		if ok && watched[p.AgentID] {
			terminatedAgent <- p
		}
	}, eventbus.Filter{RepositoryPath: req.RepositoryPath})
	defer o.bus.Unsubscribe(terminatedSub)

	lastEmit := time.Time{}
	total := len(subObjectiveIDs)
	completed := 0

	for len(pending) > 0 && time.Now().Before(deadline) {
		select {
		case id := <-settled:
			if pending[id] {
				delete(pending, id)
				completed++
			}
		case id := <-failedObjective:
			if pending[id] {
				return fmt.Errorf("monitor: objective %s failed before settling", id)
			}
		case p := <-terminatedAgent:
			if p.FinalStatus != string(types.AgentStatusCompleted) {
				return fmt.Errorf("monitor: specialist agent %s terminated with status %s: %s", p.AgentID, p.FinalStatus, p.Reason)
			}
		case <-time.After(time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}

		agentProgress := o.tracker.GetContextProgress(r.id, eventbus.ContextTypeOrchestration)
		reported := agentProgress.TotalProgress
		if agentProgress.AgentCount == 0 {
			if total > 0 {
				reported = 100 * completed / total
			} else {
				reported = 0
			}
		}
		if time.Since(lastEmit) >= time.Second {
			o.tracker.ReportContextProgress(r.id, eventbus.ContextTypeOrchestration, "", reported, "", req.RepositoryPath)
			o.emitUpdate(r, PhaseMonitor, eventbus.RunStatusInProgress, completed, total)
			lastEmit = time.Now()
		}
	}

	if len(pending) > 0 {
		return fmt.Errorf("monitor: timed out after %s with %d of %d objectives still pending", MonitorBudget, len(pending), total)
	}
	return nil
}

// runCleanup stores a closing summary entity in the knowledge store
// (best-effort; does not fail the orchestration) and does not terminate
// still-active agents (spec §4.9 Cleanup).
func (o *Orchestrator) runCleanup(r *run, req Request, outputs map[string]interface{}) {
	if o.knowledge == nil {
		return
	}
	summary := fmt.Sprintf("orchestration %s for %q completed with %d agents spawned", r.id, req.ObjectiveDescription, len(r.spawnedAgents))
	if err := o.knowledge.Write(knowledge.Entity{
		RepositoryPath: req.RepositoryPath,
		Kind:           "orchestration_summary",
		Content:        summary,
	}, nil); err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("orchestration=%s cleanup knowledge write failed: %v", r.id, err)
	}
}

func (o *Orchestrator) trackAgent(r *run, agentID string) {
	r.mu.Lock()
	r.spawnedAgents = append(r.spawnedAgents, agentID)
	r.mu.Unlock()

	o.mu.Lock()
	o.agentRuns[agentID] = r.id
	o.mu.Unlock()
}

// OrchestrationForAgent reports which active orchestration, if any, spawned
// agentID - used to route a specialist's self-reported progress into its
// orchestration's aggregate context (spec §4.9 progress computation: "if any
// specialist is active: avg_i p_i").
func (o *Orchestrator) OrchestrationForAgent(agentID string) (orchestrationID, repositoryPath string, ok bool) {
	o.mu.Lock()
	id, found := o.agentRuns[agentID]
	o.mu.Unlock()
	if !found {
		return "", "", false
	}

	o.mu.Lock()
	r, found := o.active[id]
	o.mu.Unlock()
	if !found {
		return "", "", false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return id, r.repositoryPath, true
}

// CancelOrchestration terminates every agent spawned by id, marks it failed,
// and transitions it to cancelled. Idempotent (spec §4.9 Cancellation).
func (o *Orchestrator) CancelOrchestration(id string) error {
	o.mu.Lock()
	r, ok := o.active[id]
	o.mu.Unlock()
	if !ok {
		return nil
	}

	if !o.trySettle(r) {
		return nil
	}

	r.mu.Lock()
	r.cancelled = true
	agents := append([]string(nil), r.spawnedAgents...)
	repoPath := r.repositoryPath
	r.mu.Unlock()

	for _, agentID := range agents {
		if err := o.agents.Terminate(agentID); err != nil {
			logging.Get(logging.CategoryOrchestrator).Warn("orchestration=%s cancel: terminate agent=%s: %v", id, agentID, err)
		}
	}

	r.mu.Lock()
	r.status = RunCancelled
	r.terminalAt = time.Now().UTC()
	r.mu.Unlock()

	o.emitUpdate(r, PhaseCleanup, eventbus.RunStatusFailed, 0, 0)
	o.bus.Emit(eventbus.KindOrchestrationCompleted, eventbus.OrchestrationCompletedPayload{
		OrchestrationID: id, Success: false, Error: "cancelled",
		RepositoryPath: repoPath, Timestamp: time.Now().UTC(),
	}, eventbus.Fields{RepositoryPath: repoPath, OrchestrationID: id})

	return nil
}

// Status reports an orchestration's current lifecycle status and phase
// history, for the tool/request surface (§6).
func (o *Orchestrator) Status(id string) (RunStatus, []PhaseRecord, bool) {
	o.mu.Lock()
	r, ok := o.active[id]
	o.mu.Unlock()
	if !ok {
		return "", nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, append([]PhaseRecord(nil), r.phases...), true
}
