package api

import (
	"context"

	"zmcptools/internal/agent"
	"zmcptools/internal/eventbus"
	"zmcptools/internal/objective"
	"zmcptools/internal/orchestrator"
	"zmcptools/internal/types"
)

// OrchestrateObjective runs orchestrate_objective (spec §6): title,
// objective, repositoryPath required. Title has no separate home on
// orchestrator.Request, so it is folded into the objective description the
// orchestrator persists and researches against.
//
// The orchestration itself can run for the better part of an hour (spec
// §4.9's phase budgets), so this starts it on a background goroutine via
// StartAsync and returns as soon as the run is registered - the caller polls
// get_orchestration_status, or calls cancel_orchestration to abort early
// (spec §8 scenario S5).
func (s *Service) OrchestrateObjective(ctx context.Context, a args) Response {
	title := a.field("title")
	objectiveText := a.field("objective")
	repoPath := a.field("repositoryPath", "repository_path")
	if title == "" || objectiveText == "" || repoPath == "" {
		return fail(missingFields("title", "objective", "repositoryPath"))
	}

	description := objectiveText
	if title != "" {
		description = title + ": " + objectiveText
	}

	id := s.orchestrator.StartAsync(ctx, orchestrator.Request{
		RepositoryPath:       repoPath,
		ObjectiveDescription: description,
	})
	return ok("orchestration started", map[string]interface{}{
		"orchestrationId": id,
		"status":          orchestrator.RunActive,
	})
}

// GetOrchestrationStatus runs get_orchestration_status: orchestration_id
// required. Reports the run's current status and its phase history (spec
// §4.9 Status).
func (s *Service) GetOrchestrationStatus(a args) Response {
	id := a.field("orchestrationId", "orchestration_id")
	if id == "" {
		return fail(missingFields("orchestration_id"))
	}

	status, phases, found := s.orchestrator.Status(id)
	if !found {
		return fail(missingFields("orchestration_id (not found)"))
	}
	return ok("", map[string]interface{}{
		"orchestrationId": id,
		"status":          status,
		"phases":          phases,
	})
}

// CancelOrchestration runs cancel_orchestration: orchestration_id required.
// Idempotent (spec §4.9 Cancellation): repeating the call against an already
// terminal or unknown orchestration is a no-op success.
func (s *Service) CancelOrchestration(a args) Response {
	id := a.field("orchestrationId", "orchestration_id")
	if id == "" {
		return fail(missingFields("orchestration_id"))
	}

	if err := s.orchestrator.CancelOrchestration(id); err != nil {
		return fail(err)
	}
	return ok("orchestration cancelled", map[string]interface{}{"orchestrationId": id})
}

// ReportProgress runs report_progress: agent_id, progress required. Always
// records into the reporting agent's own progress context, and - when the
// agent was spawned by a still-active orchestration - also rolls the report
// into that orchestration's aggregate progress via CreateMcpProgressUpdater,
// the averaging branch spec §4.9's progress formula exercises once a
// specialist is active.
func (s *Service) ReportProgress(a args) Response {
	agentID := a.field("agentId", "agent_id")
	if agentID == "" {
		return fail(missingFields("agent_id"))
	}
	progressValue := a.intField(-1, "progress")
	if progressValue < 0 {
		return fail(missingFields("progress"))
	}
	message := a.field("message")

	ag, err := s.store.GetAgent(agentID)
	if err != nil {
		return fail(err)
	}

	agentUpdater := s.tracker.CreateMcpProgressUpdater(agentID, eventbus.ContextTypeAgent, agentID, ag.RepositoryPath, "", nil)
	agentUpdater(progressValue, message)

	if orchID, repoPath, ok := s.orchestrator.OrchestrationForAgent(agentID); ok {
		orchUpdater := s.tracker.CreateMcpProgressUpdater(orchID, eventbus.ContextTypeOrchestration, agentID, repoPath, "", nil)
		orchUpdater(progressValue, message)
	}

	return ok("progress recorded", map[string]interface{}{"agentId": agentID, "progress": progressValue})
}

// SpawnAgent runs spawn_agent (spec §6): agent_type, repository_path,
// objective_description required.
func (s *Service) SpawnAgent(ctx context.Context, a args) Response {
	agentType := a.field("agentType", "agent_type")
	repoPath := a.field("repositoryPath", "repository_path")
	desc := a.field("objectiveDescription", "objective_description")
	if agentType == "" || repoPath == "" || desc == "" {
		return fail(missingFields("agent_type", "repository_path", "objective_description"))
	}

	req := agent.CreateAgentRequest{
		AgentName:            a.field("agentName", "agent_name"),
		AgentType:            agentType,
		RepositoryPath:       repoPath,
		ObjectiveDescription: desc,
		Capabilities:         a.stringSlice("capabilities"),
		DependsOn:            a.stringSlice("dependsOn", "depends_on"),
		AutoCreateRoom:       a.boolField(false, "autoCreateRoom", "auto_create_room"),
	}

	created, err := s.agents.CreateAgent(ctx, req)
	if err != nil {
		return fail(err)
	}
	return ok("agent spawned", created)
}

// CreateObjective runs create_objective (spec §6): repository_path,
// objective_type, title, description required. Objective has no Title
// field; title is folded into the stored description the same way
// OrchestrateObjective folds it, keeping the two operations consistent.
func (s *Service) CreateObjective(a args) Response {
	repoPath := a.field("repositoryPath", "repository_path")
	objType := a.field("objectiveType", "objective_type")
	title := a.field("title")
	desc := a.field("description")
	if repoPath == "" || objType == "" || title == "" || desc == "" {
		return fail(missingFields("repository_path", "objective_type", "title", "description"))
	}

	fullDesc := title + ": " + desc
	var parentID *string
	if p := a.field("parentObjectiveId", "parent_objective_id"); p != "" {
		parentID = &p
	}

	created, err := s.objectives.Create(objective.CreateRequest{
		RepositoryPath: repoPath,
		ObjectiveType:  types.ObjectiveType(objType),
		Description:    fullDesc,
		Priority:       a.intField(0, "priority"),
		ParentID:       parentID,
		Requirements: types.Requirements{
			Dependencies:   a.stringSlice("dependencies"),
			Specialization: a.field("specialization"),
		},
	})
	if err != nil {
		return fail(err)
	}
	return ok("objective created", created)
}

// ListAgents runs list_agents (spec §6): repository_path?, status?, limit,
// offset.
func (s *Service) ListAgents(a args) Response {
	repoPath := a.field("repositoryPath", "repository_path")
	limit := a.intField(50, "limit")
	offset := a.intField(0, "offset")

	var status *types.AgentStatus
	if sv := a.field("status"); sv != "" {
		st := types.AgentStatus(sv)
		status = &st
	}

	page, err := s.agents.ListAgentsPage(repoPath, status, limit, offset)
	if err != nil {
		return fail(err)
	}
	return ok("", map[string]interface{}{
		"data": page.Data, "total": page.Total, "hasMore": page.HasMore,
	})
}

// TerminateAgent runs terminate_agent (spec §6): agent_ids required.
func (s *Service) TerminateAgent(a args) Response {
	ids := a.stringSlice("agentIds", "agent_ids")
	if len(ids) == 0 {
		return fail(missingFields("agent_ids"))
	}

	terminated := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := s.agents.Terminate(id); err != nil {
			return fail(err)
		}
		terminated = append(terminated, id)
	}
	return ok("agents terminated", map[string]interface{}{"terminated": terminated})
}

// ContinueAgentSession runs continue_agent_session (spec §6): agent_id required.
func (s *Service) ContinueAgentSession(ctx context.Context, a args) Response {
	agentID := a.field("agentId", "agent_id")
	if agentID == "" {
		return fail(missingFields("agent_id"))
	}

	resumed, err := s.agents.ContinueAgentSession(ctx, agent.ContinueAgentSessionRequest{
		AgentID:                 agentID,
		AdditionalInstructions:  a.field("additionalInstructions", "additional_instructions"),
		NewObjectiveDescription: a.field("newObjectiveDescription", "new_objective_description"),
	})
	if err != nil {
		return fail(err)
	}
	return ok("agent session resumed", resumed)
}

// CleanupStaleAgents runs cleanup_stale_agents (spec §6): staleMinutes?,
// dryRun?, includeRoomCleanup?, notifyParticipants?.
func (s *Service) CleanupStaleAgents(a args) Response {
	req := agent.CleanupStaleAgentsRequest{
		RepositoryPath:     a.field("repositoryPath", "repository_path"),
		StaleMinutes:       a.intField(30, "staleMinutes", "stale_minutes"),
		DryRun:             a.boolField(false, "dryRun", "dry_run"),
		IncludeRoomCleanup: a.boolField(false, "includeRoomCleanup", "include_room_cleanup"),
		NotifyParticipants: a.boolField(false, "notifyParticipants", "notify_participants"),
	}

	summary, err := s.agents.CleanupStaleAgents(req)
	if err != nil {
		return fail(err)
	}
	return ok("stale agent cleanup complete", summary)
}
