// Package agent implements AgentService (spec §4.6): agent lifecycle,
// process supervision, liveness reconciliation, and stale-agent cleanup.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"zmcptools/internal/apperr"
	"zmcptools/internal/eventbus"
	"zmcptools/internal/idgen"
	"zmcptools/internal/logging"
	"zmcptools/internal/process"
	"zmcptools/internal/room"
	"zmcptools/internal/store"
	"zmcptools/internal/types"
)

// ClaudeConfig carries the child process's launch parameters (spec §6: the
// LLM child process protocol is an external collaborator seen only as
// argv/env/stdio/lifecycle/pid).
type ClaudeConfig struct {
	Command        string
	Args           []string
	Prompt         string
	Model          string
	SessionID      *string
	EnvironmentVars []string
}

// CreateAgentRequest is the input to CreateAgent.
type CreateAgentRequest struct {
	AgentName           string
	AgentType           string
	RepositoryPath      string
	ObjectiveDescription string
	Capabilities        []string
	DependsOn           []string
	Metadata            types.Extensions
	AutoCreateRoom      bool
	RoomID              *string
	ClaudeConfig        ClaudeConfig
}

// Service implements agent creation, termination, resumption, listing,
// reconciliation, and cleanup.
type Service struct {
	store *store.Store
	bus   *eventbus.Bus
	rooms *room.Service

	mu        sync.Mutex
	handles   map[string]*process.Handle
	finalized map[string]bool
}

// New constructs an agent Service.
func New(st *store.Store, bus *eventbus.Bus, rooms *room.Service) *Service {
	return &Service{store: st, bus: bus, rooms: rooms, handles: make(map[string]*process.Handle), finalized: make(map[string]bool)}
}

// finalizeTermination transitions agentID to finalStatus and emits
// agent_terminated exactly once. It is the single settling point for every
// path that can observe an agent's death - Terminate, RunReconciliation,
// and a spontaneous process exit reported by process.Handle's OnExit
// callback - so none of them can race each other into a duplicate emit
// (spec §4.3, §5: the first-arriving terminal signal is authoritative).
func (s *Service) finalizeTermination(agentID, repositoryPath string, finalStatus types.AgentStatus, reason string) error {
	s.mu.Lock()
	if s.finalized[agentID] {
		s.mu.Unlock()
		return nil
	}
	s.finalized[agentID] = true
	s.mu.Unlock()

	if a, err := s.store.GetAgent(agentID); err == nil && a.Status.IsTerminal() {
		return nil
	}

	if err := s.store.UpdateAgentStatus(agentID, finalStatus); err != nil {
		return err
	}
	s.bus.Emit(eventbus.KindAgentTerminated, eventbus.AgentTerminatedPayload{
		AgentID: agentID, FinalStatus: string(finalStatus), Reason: reason,
		RepositoryPath: repositoryPath, Timestamp: time.Now().UTC(),
	}, eventbus.Fields{RepositoryPath: repositoryPath, AgentID: agentID})
	return nil
}

// handleProcessExit is process.Spec.OnExit for a spawned agent: it runs on
// the supervisor's own goroutine whenever the child exits without having
// gone through Terminate, and finalizes the agent as completed or failed
// depending on how it exited (spec §4.3).
func (s *Service) handleProcessExit(agentID, repositoryPath string, info process.ExitInfo) {
	finalStatus := types.AgentStatusCompleted
	reason := ""
	switch {
	case info.Signaled:
		finalStatus = types.AgentStatusFailed
		reason = fmt.Sprintf("process exit observed: killed by signal %s", info.Signal)
	case info.Err != nil:
		finalStatus = types.AgentStatusFailed
		reason = "process exit observed: " + info.Err.Error()
	case info.ExitCode != 0:
		finalStatus = types.AgentStatusFailed
		reason = fmt.Sprintf("process exit observed: exit code %d", info.ExitCode)
	default:
		reason = "process exit observed: exit code 0"
	}
	if err := s.finalizeTermination(agentID, repositoryPath, finalStatus, reason); err != nil {
		logging.Get(logging.CategoryAgent).Warn("finalize spontaneous exit agent=%s: %v", agentID, err)
	}
}

// CreateAgent allocates an agent record, spawns its child process, and
// transitions it to active on success (spec §4.6).
func (s *Service) CreateAgent(ctx context.Context, req CreateAgentRequest) (*types.Agent, error) {
	for _, dep := range req.DependsOn {
		if dep == "" {
			return nil, apperr.New(apperr.KindInvalidArgument, "depends_on entries must be non-empty agent ids")
		}
	}

	now := time.Now().UTC()
	a := &types.Agent{
		ID:             idgen.New(),
		AgentName:      req.AgentName,
		AgentType:      req.AgentType,
		RepositoryPath: req.RepositoryPath,
		Status:         types.AgentStatusInitializing,
		Capabilities:   req.Capabilities,
		DependsOn:      req.DependsOn,
		AgentMetadata:  req.Metadata,
		CreatedAt:      now,
		LastHeartbeat:  now,
		UpdatedAt:      now,
	}
	if err := s.hasDependencyCycle(a.ID, req.DependsOn); err != nil {
		return nil, err
	}
	if err := s.store.CreateAgent(a); err != nil {
		return nil, err
	}

	if req.AutoCreateRoom {
		r, err := s.rooms.CreateRoom(room.CreateRoomRequest{
			Name:           room.OrchestrationRoomName(req.ObjectiveDescription),
			Description:    "agent coordination room for " + a.AgentName,
			RepositoryPath: req.RepositoryPath,
		})
		if err != nil {
			return nil, err
		}
		a.RoomID = &r.ID
		if err := s.store.SetAgentRoom(a.ID, r.ID); err != nil {
			return nil, err
		}
	} else if req.RoomID != nil {
		a.RoomID = req.RoomID
		if err := s.store.SetAgentRoom(a.ID, *req.RoomID); err != nil {
			return nil, err
		}
	}

	handle, err := process.Spawn(ctx, process.Spec{
		AgentID:        a.ID,
		AgentType:      a.AgentType,
		RepositoryPath: a.RepositoryPath,
		Command:        req.ClaudeConfig.Command,
		Args:           req.ClaudeConfig.Args,
		Env:            req.ClaudeConfig.EnvironmentVars,
		OnExit: func(info process.ExitInfo) {
			s.handleProcessExit(a.ID, a.RepositoryPath, info)
		},
	})
	if err != nil {
		_ = s.store.UpdateAgentStatus(a.ID, types.AgentStatusFailed)
		s.bus.Emit(eventbus.KindSystemError, eventbus.SystemErrorPayload{
			Error: err.Error(), Context: "agent spawn", RepositoryPath: req.RepositoryPath, Timestamp: time.Now().UTC(),
		}, eventbus.Fields{RepositoryPath: req.RepositoryPath, AgentID: a.ID})
		return nil, err
	}

	s.mu.Lock()
	s.handles[a.ID] = handle
	s.mu.Unlock()

	pid := handle.PID
	a.ClaudePID = &pid
	a.Status = types.AgentStatusActive
	if err := s.store.UpdateAgentStatus(a.ID, types.AgentStatusActive); err != nil {
		return nil, err
	}

	s.bus.Emit(eventbus.KindAgentSpawned, eventbus.AgentSpawnedPayload{
		Agent: a, RepositoryPath: req.RepositoryPath, Timestamp: time.Now().UTC(),
	}, eventbus.Fields{RepositoryPath: req.RepositoryPath, AgentID: a.ID})

	logging.Agent("spawned agent=%s type=%s pid=%d", a.ID, a.AgentType, pid)
	return a, nil
}

func (s *Service) hasDependencyCycle(selfID string, dependsOn []string) error {
	for _, dep := range dependsOn {
		if dep == selfID {
			return apperr.New(apperr.KindCycle, "agent %s cannot depend on itself", selfID)
		}
	}
	seen := make(map[string]bool)
	var walk func(id string) error
	walk = func(id string) error {
		if seen[id] {
			return apperr.New(apperr.KindCycle, "agent dependency cycle detected at %s", id)
		}
		seen[id] = true
		a, err := s.store.GetAgent(id)
		if apperr.Of(err, apperr.KindNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, dep := range a.DependsOn {
			if dep == selfID {
				return apperr.New(apperr.KindCycle, "agent dependency cycle through %s", id)
			}
			if err := walk(dep); err != nil {
				return err
			}
		}
		return nil
	}
	for _, dep := range dependsOn {
		if err := walk(dep); err != nil {
			return err
		}
	}
	return nil
}

// Terminate moves an agent to terminated, sends SIGTERM via the process
// supervisor, and emits agent_terminated. Idempotent on terminal agents.
func (s *Service) Terminate(agentID string) error {
	a, err := s.store.GetAgent(agentID)
	if err != nil {
		return err
	}
	if a.Status.IsTerminal() {
		return nil
	}

	s.mu.Lock()
	handle := s.handles[agentID]
	s.mu.Unlock()
	if handle != nil {
		if err := handle.Terminate(); err != nil {
			logging.Get(logging.CategoryAgent).Warn("terminate agent=%s: %v", agentID, err)
		}
	}

	return s.finalizeTermination(agentID, a.RepositoryPath, types.AgentStatusTerminated, "")
}

// ContinueAgentSessionRequest is the input to ContinueAgentSession.
type ContinueAgentSessionRequest struct {
	AgentID                  string
	AdditionalInstructions   string
	NewObjectiveDescription  string
	ClaudeConfig             ClaudeConfig
}

// ContinueAgentSession re-opens a terminal or idle agent, respawns its
// child process, and emits agent_resumed. The stored conversation session
// id is copied into cfg.SessionID, but process.Spec has no session field,
// so the respawned child is not given that id.
func (s *Service) ContinueAgentSession(ctx context.Context, req ContinueAgentSessionRequest) (*types.Agent, error) {
	a, err := s.store.GetAgent(req.AgentID)
	if err != nil {
		return nil, err
	}

	cfg := req.ClaudeConfig
	if a.ConvoSessionID != nil {
		cfg.SessionID = a.ConvoSessionID
	}

	s.mu.Lock()
	delete(s.finalized, a.ID)
	s.mu.Unlock()

	handle, err := process.Spawn(ctx, process.Spec{
		AgentID:        a.ID,
		AgentType:      a.AgentType,
		RepositoryPath: a.RepositoryPath,
		Command:        cfg.Command,
		Args:           cfg.Args,
		Env:            cfg.EnvironmentVars,
		OnExit: func(info process.ExitInfo) {
			s.handleProcessExit(a.ID, a.RepositoryPath, info)
		},
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.handles[a.ID] = handle
	s.mu.Unlock()

	pid := handle.PID
	a.ClaudePID = &pid
	if err := s.store.UpdateAgentStatus(a.ID, types.AgentStatusActive); err != nil {
		return nil, err
	}
	a.Status = types.AgentStatusActive

	s.bus.Emit(eventbus.KindAgentResumed, eventbus.AgentResumedPayload{
		AgentID: a.ID, RepositoryPath: a.RepositoryPath, Timestamp: time.Now().UTC(),
	}, eventbus.Fields{RepositoryPath: a.RepositoryPath, AgentID: a.ID})

	return a, nil
}

// ListAgents returns agents for a repository ordered by last_heartbeat desc.
func (s *Service) ListAgents(repositoryPath string, status *types.AgentStatus, limit, offset int) ([]*types.Agent, error) {
	page, err := s.store.ListAgentsPage(repositoryPath, status, limit, offset)
	if err != nil {
		return nil, err
	}
	return page.Data, nil
}

// Page is the {data, total, hasMore} envelope spec §4.1 requires of the
// store's generic list operation, surfaced here for API callers that need
// to report total/hasMore alongside the page itself.
type Page struct {
	Data    []*types.Agent
	Total   int
	HasMore bool
}

// ListAgentsPage is ListAgents plus the total/hasMore pagination metadata.
func (s *Service) ListAgentsPage(repositoryPath string, status *types.AgentStatus, limit, offset int) (*Page, error) {
	page, err := s.store.ListAgentsPage(repositoryPath, status, limit, offset)
	if err != nil {
		return nil, err
	}
	return &Page{Data: page.Data, Total: page.Total, HasMore: page.HasMore}, nil
}

// FindActiveAgents returns every non-terminal agent, optionally scoped to a
// repository (spec §4.1: AgentRepository.findActiveAgents(repositoryPath?)).
func (s *Service) FindActiveAgents(repositoryPath string) ([]*types.Agent, error) {
	return s.store.FindActiveAgents(repositoryPath)
}

// FindFilteredAgents applies an arbitrary status/repository/limit filter
// (spec §4.1: AgentRepository.findFiltered({status,repositoryPath,limit})).
func (s *Service) FindFilteredAgents(f store.AgentFilter) ([]*types.Agent, error) {
	return s.store.FindFilteredAgents(f)
}

// ReconciliationInterval is the maximum gap between reconciliation passes
// while any agent is non-terminal (spec §4.6: at least once per 10s).
const ReconciliationInterval = 10 * time.Second

// RunReconciliation checks every non-terminal agent's claude_pid against
// the OS process table and transitions dead ones to terminated.
func (s *Service) RunReconciliation(repositoryPath string) (int, error) {
	total := 0
	for _, status := range []types.AgentStatus{types.AgentStatusActive, types.AgentStatusIdle} {
		st := status
		agents, err := s.store.ListAgents(repositoryPath, &st)
		if err != nil {
			return total, err
		}
		reaped := 0
		for _, a := range agents {
			if a.ClaudePID == nil {
				continue
			}
			if process.IsAlive(*a.ClaudePID) {
				continue
			}
			// This is a fallback safety net for crashes the OnExit callback
			// somehow missed (e.g. a restart re-created this Service with no
			// live process.Handle for the agent); finalizeTermination's own
			// idempotence guard means it is a no-op if OnExit already settled
			// this agent first.
			if err := s.finalizeTermination(a.ID, a.RepositoryPath, types.AgentStatusTerminated, "process exit observed"); err != nil {
				return total + reaped, err
			}
			reaped++
		}
		if reaped > 0 {
			logging.AgentDebug("reconciliation reaped %d dead agents in %s", reaped, repositoryPath)
		}
		total += reaped
	}
	return total, nil
}

// CleanupStaleAgentsRequest is the input to CleanupStaleAgents.
type CleanupStaleAgentsRequest struct {
	RepositoryPath       string
	StaleMinutes         int
	DryRun               bool
	IncludeRoomCleanup   bool
	NotifyParticipants   bool
}

// CleanupSummary reports the outcome of a cleanup pass.
type CleanupSummary struct {
	TerminatedAgents int
	ClosedRooms      int
}

// CleanupStaleAgents terminates agents whose heartbeat is older than
// StaleMinutes, optionally closing their rooms too.
func (s *Service) CleanupStaleAgents(req CleanupStaleAgentsRequest) (*CleanupSummary, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(req.StaleMinutes) * time.Minute)
	stale, err := s.store.StaleAgents(cutoff)
	if err != nil {
		return nil, err
	}

	summary := &CleanupSummary{}
	for _, a := range stale {
		if a.RepositoryPath != req.RepositoryPath && req.RepositoryPath != "" {
			continue
		}
		if req.DryRun {
			summary.TerminatedAgents++
			continue
		}
		if err := s.Terminate(a.ID); err != nil {
			return summary, err
		}
		summary.TerminatedAgents++

		if req.IncludeRoomCleanup && a.RoomID != nil {
			if r, err := s.store.GetRoom(*a.RoomID); err == nil {
				if req.NotifyParticipants {
					_, _ = s.rooms.SendMessage(room.SendMessageRequest{
						RepositoryPath: a.RepositoryPath,
						RoomName:       r.Name,
						AgentName:      "system",
						Message:        "agent " + a.AgentName + " removed for inactivity",
						Type:           types.MessageTypeSystem,
					})
				}
				if err := s.rooms.CloseRoom(a.RepositoryPath, r.Name, "stale agent cleanup"); err == nil {
					summary.ClosedRooms++
				}
			}
		}
	}
	return summary, nil
}

// CleanupStaleRoomsRequest is the input to CleanupStaleRooms.
type CleanupStaleRoomsRequest struct {
	RepositoryPath             string
	InactiveMinutes            int
	DryRun                     bool
	NotifyParticipants         bool
	DeleteEmptyRooms           bool
	DeleteNoActiveParticipants bool
	DeleteNoRecentMessages     bool
}

// CleanupStaleRooms closes rooms qualifying under the requested criteria.
func (s *Service) CleanupStaleRooms(req CleanupStaleRoomsRequest) (*CleanupSummary, error) {
	rooms, err := s.store.ListOpenRooms(req.RepositoryPath)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-time.Duration(req.InactiveMinutes) * time.Minute)
	summary := &CleanupSummary{}

	for _, r := range rooms {
		participants, err := s.store.ListParticipants(r.ID)
		if err != nil {
			return summary, err
		}
		messages, err := s.store.ListMessages(r.ID, 0, 1)
		if err != nil {
			return summary, err
		}

		qualifies := false
		if req.DeleteEmptyRooms && len(participants) == 0 {
			qualifies = true
		}
		if req.DeleteNoActiveParticipants {
			anyActive := false
			for _, p := range participants {
				if p.Status == types.ParticipantStatusActive {
					anyActive = true
					break
				}
			}
			if !anyActive {
				qualifies = true
			}
		}
		if req.DeleteNoRecentMessages {
			if len(messages) == 0 || messages[len(messages)-1].Timestamp.Before(cutoff) {
				qualifies = true
			}
		}
		if !qualifies {
			continue
		}

		if req.DryRun {
			summary.ClosedRooms++
			continue
		}

		if req.NotifyParticipants {
			_, _ = s.rooms.SendMessage(room.SendMessageRequest{
				RepositoryPath: req.RepositoryPath, RoomName: r.Name, AgentName: "system",
				Message: "room closed for inactivity", Type: types.MessageTypeSystem,
			})
		}
		if err := s.rooms.CloseRoom(req.RepositoryPath, r.Name, "inactive room cleanup"); err != nil {
			return summary, err
		}
		summary.ClosedRooms++
	}
	return summary, nil
}

// RunComprehensiveCleanup composes CleanupStaleAgents and CleanupStaleRooms.
func (s *Service) RunComprehensiveCleanup(agentsReq CleanupStaleAgentsRequest, roomsReq CleanupStaleRoomsRequest) (*CleanupSummary, error) {
	agentSummary, err := s.CleanupStaleAgents(agentsReq)
	if err != nil {
		return agentSummary, err
	}
	roomSummary, err := s.CleanupStaleRooms(roomsReq)
	if err != nil {
		return agentSummary, err
	}
	return &CleanupSummary{
		TerminatedAgents: agentSummary.TerminatedAgents,
		ClosedRooms:      agentSummary.ClosedRooms + roomSummary.ClosedRooms,
	}, nil
}
