// Package objective implements ObjectiveService (spec §4.5): creation,
// status transitions, hierarchical breakdown, auto-assignment, and
// dependency-ordered execution planning.
package objective

import (
	"fmt"
	"sort"
	"time"

	"zmcptools/internal/apperr"
	"zmcptools/internal/eventbus"
	"zmcptools/internal/idgen"
	"zmcptools/internal/store"
	"zmcptools/internal/types"
)

// Service implements objective lifecycle and analytics.
type Service struct {
	store *store.Store
	bus   *eventbus.Bus
}

// New constructs an objective Service.
func New(st *store.Store, bus *eventbus.Bus) *Service {
	return &Service{store: st, bus: bus}
}

// CreateRequest is the input to Create.
type CreateRequest struct {
	RepositoryPath string
	ObjectiveType  types.ObjectiveType
	Description    string
	Priority       int
	Requirements   types.Requirements
	ParentID       *string
}

// Create inserts a new pending objective and emits objective_created.
func (s *Service) Create(req CreateRequest) (*types.Objective, error) {
	now := time.Now().UTC()
	o := &types.Objective{
		ID:                idgen.New(),
		RepositoryPath:    req.RepositoryPath,
		ObjectiveType:     req.ObjectiveType,
		Description:       req.Description,
		Requirements:      req.Requirements,
		Status:            types.ObjectiveStatusPending,
		Priority:          req.Priority,
		ParentObjectiveID: req.ParentID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.CreateObjective(o); err != nil {
		return nil, err
	}

	s.bus.Emit(eventbus.KindObjectiveCreated, eventbus.ObjectiveCreatedPayload{
		Objective: o, RepositoryPath: req.RepositoryPath, Timestamp: now,
	}, eventbus.Fields{RepositoryPath: req.RepositoryPath})

	return o, nil
}

// legalTransitions enumerates the allowed status edges (spec §4.5). A
// status may also "transition" to itself for in-place field updates while
// pending (priority/requirements/assignment edits).
var legalTransitions = map[types.ObjectiveStatus]map[types.ObjectiveStatus]bool{
	types.ObjectiveStatusPending: {
		types.ObjectiveStatusPending:    true,
		types.ObjectiveStatusInProgress: true,
	},
	types.ObjectiveStatusInProgress: {
		types.ObjectiveStatusCompleted: true,
		types.ObjectiveStatusFailed:    true,
	},
}

// UpdateStatusRequest is the input to UpdateStatus.
type UpdateStatusRequest struct {
	ObjectiveID     string
	NewStatus       types.ObjectiveStatus
	AssignedAgentID *string
	Results         types.Extensions
}

// UpdateStatus transitions an objective's status, enforcing the legal
// transition table and the assignment precondition for pending->in_progress.
func (s *Service) UpdateStatus(req UpdateStatusRequest) (*types.Objective, error) {
	o, err := s.store.GetObjective(req.ObjectiveID)
	if err != nil {
		return nil, err
	}

	if o.Status.IsTerminal() {
		return nil, apperr.New(apperr.KindIllegalTransition, "objective %s is terminal (%s)", o.ID, o.Status)
	}
	if !legalTransitions[o.Status][req.NewStatus] {
		return nil, apperr.New(apperr.KindIllegalTransition, "objective %s cannot transition %s -> %s", o.ID, o.Status, req.NewStatus)
	}
	if o.Status == types.ObjectiveStatusPending && req.NewStatus == types.ObjectiveStatusInProgress {
		agentID := req.AssignedAgentID
		if agentID == nil {
			agentID = o.AssignedAgentID
		}
		if agentID == nil {
			return nil, apperr.New(apperr.KindInvalidArgument, "assigned_agent_id required to start objective %s", o.ID)
		}
		if err := s.store.AssignObjective(o.ID, *agentID); err != nil {
			return nil, err
		}
		o.AssignedAgentID = agentID
	}

	if req.NewStatus == types.ObjectiveStatusCompleted {
		if err := s.store.CompleteObjective(o.ID, req.Results); err != nil {
			return nil, err
		}
		o.Results = req.Results
		o.ProgressPercentage = 100
	} else if err := s.store.UpdateObjectiveStatus(o.ID, req.NewStatus); err != nil {
		return nil, err
	}
	o.Status = req.NewStatus
	o.UpdatedAt = time.Now().UTC()

	progress := o.ProgressPercentage
	s.bus.Emit(eventbus.KindObjectiveUpdate, eventbus.ObjectiveUpdatePayload{
		ObjectiveID: o.ID, NewStatus: string(o.Status), AssignedAgentID: derefString(o.AssignedAgentID),
		ProgressPercentage: &progress, RepositoryPath: o.RepositoryPath, Timestamp: o.UpdatedAt,
	}, eventbus.Fields{RepositoryPath: o.RepositoryPath, AgentID: derefString(o.AssignedAgentID)})

	if req.NewStatus == types.ObjectiveStatusCompleted {
		s.bus.Emit(eventbus.KindObjectiveCompleted, eventbus.ObjectiveCompletedPayload{
			ObjectiveID: o.ID, CompletedBy: derefString(o.AssignedAgentID), Results: o.Results,
			RepositoryPath: o.RepositoryPath, Timestamp: o.UpdatedAt,
		}, eventbus.Fields{RepositoryPath: o.RepositoryPath, AgentID: derefString(o.AssignedAgentID)})
	}

	return o, nil
}

// UpdateProgress records progress_percentage if it does not decrease (spec
// §8 invariant 1); the caller is the ProgressTracker or an agent report.
func (s *Service) UpdateProgress(objectiveID string, progress int) (*types.Objective, error) {
	o, err := s.store.GetObjective(objectiveID)
	if err != nil {
		return nil, err
	}
	if progress < o.ProgressPercentage {
		progress = o.ProgressPercentage
	}
	if err := s.store.UpdateObjectiveProgress(objectiveID, progress); err != nil {
		return nil, err
	}
	o.ProgressPercentage = progress

	s.bus.Emit(eventbus.KindObjectiveUpdate, eventbus.ObjectiveUpdatePayload{
		ObjectiveID: o.ID, NewStatus: string(o.Status), ProgressPercentage: &progress,
		RepositoryPath: o.RepositoryPath, Timestamp: time.Now().UTC(),
	}, eventbus.Fields{RepositoryPath: o.RepositoryPath})

	return o, nil
}

// ChildSpec describes one child objective passed to Breakdown.
type ChildSpec struct {
	Description   string
	ObjectiveType types.ObjectiveType
	Priority      *int
}

// Breakdown creates children of parentID, inheriting repository_path and,
// when a child omits priority, the parent's priority.
func (s *Service) Breakdown(parentID string, children []ChildSpec) ([]*types.Objective, error) {
	parent, err := s.store.GetObjective(parentID)
	if err != nil {
		return nil, err
	}

	out := make([]*types.Objective, 0, len(children))
	for _, c := range children {
		priority := parent.Priority
		if c.Priority != nil {
			priority = *c.Priority
		}
		child, err := s.Create(CreateRequest{
			RepositoryPath: parent.RepositoryPath,
			ObjectiveType:  c.ObjectiveType,
			Description:    c.Description,
			Priority:       priority,
			ParentID:       &parentID,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}

// AutoAssignLimit is the default number of objectives autoAssign hands to
// one agent in a single call (spec §4.5, N=3 default).
const AutoAssignLimit = 3

// AutoAssign selects up to AutoAssignLimit pending objectives for
// repositoryPath (optionally filtered by objectiveTypes), ordered by
// priority desc then created_at asc, and transitions each to in_progress
// assigned to agentID.
func (s *Service) AutoAssign(repositoryPath, agentID string, objectiveTypes []types.ObjectiveType) ([]*types.Objective, error) {
	status := types.ObjectiveStatusPending
	pending, err := s.store.ListObjectives(repositoryPath, &status)
	if err != nil {
		return nil, err
	}

	typeFilter := make(map[types.ObjectiveType]bool, len(objectiveTypes))
	for _, t := range objectiveTypes {
		typeFilter[t] = true
	}

	var candidates []*types.Objective
	for _, o := range pending {
		if len(typeFilter) > 0 && !typeFilter[o.ObjectiveType] {
			continue
		}
		candidates = append(candidates, o)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	if len(candidates) > AutoAssignLimit {
		candidates = candidates[:AutoAssignLimit]
	}

	assigned := make([]*types.Objective, 0, len(candidates))
	for _, o := range candidates {
		updated, err := s.UpdateStatus(UpdateStatusRequest{
			ObjectiveID: o.ID, NewStatus: types.ObjectiveStatusInProgress, AssignedAgentID: &agentID,
		})
		if err != nil {
			return nil, err
		}
		assigned = append(assigned, updated)
	}
	return assigned, nil
}

// ExecutionPlan is the result of ExecutionPlan.
type ExecutionPlan struct {
	Objectives        []*types.Objective
	ExecutionOrder    []string
	Dependencies      map[string][]string
	CriticalPath      []string
	EstimatedDuration time.Duration
	RiskAssessment    string
}

// ExecutionPlan computes a stable topological order over objectiveIDs by
// their requirements.dependencies edges, failing with Cycle if the induced
// subgraph is cyclic, and the critical (longest) path through that DAG.
func (s *Service) ExecutionPlan(objectiveIDs []string) (*ExecutionPlan, error) {
	objectives := make(map[string]*types.Objective, len(objectiveIDs))
	ordered := make([]*types.Objective, 0, len(objectiveIDs))
	for _, id := range objectiveIDs {
		o, err := s.store.GetObjective(id)
		if err != nil {
			return nil, err
		}
		objectives[id] = o
		ordered = append(ordered, o)
	}

	deps := make(map[string][]string, len(ordered))
	for _, o := range ordered {
		var edges []string
		for _, d := range o.Requirements.Dependencies {
			if _, ok := objectives[d]; ok {
				edges = append(edges, d)
			}
		}
		deps[o.ID] = edges
	}

	order, err := topoSort(ordered, deps)
	if err != nil {
		return nil, err
	}

	critical := criticalPath(ordered, deps)

	return &ExecutionPlan{
		Objectives:        ordered,
		ExecutionOrder:    order,
		Dependencies:      deps,
		CriticalPath:      critical,
		EstimatedDuration: time.Duration(len(critical)) * time.Hour,
		RiskAssessment:    riskAssessment(ordered, deps),
	}, nil
}

// GetDependencies resolves an objective's own requirements.dependencies ids
// into full objectives (spec §4.1: ObjectiveRepository.getDependencies).
func (s *Service) GetDependencies(objectiveID string) ([]*types.Objective, error) {
	return s.store.GetDependencies(objectiveID)
}

// GetDependents returns every objective in repositoryPath that depends on
// objectiveID (spec §4.1: ObjectiveRepository.getDependents).
func (s *Service) GetDependents(objectiveID, repositoryPath string) ([]*types.Objective, error) {
	return s.store.GetDependents(objectiveID, repositoryPath)
}

// topoSort produces a stable order: among objectives with no remaining
// unresolved dependency, pick the one with the highest priority, earliest
// created_at.
func topoSort(objectives []*types.Objective, deps map[string][]string) ([]string, error) {
	byID := make(map[string]*types.Objective, len(objectives))
	remaining := make(map[string]map[string]bool, len(objectives))
	for _, o := range objectives {
		byID[o.ID] = o
		set := make(map[string]bool, len(deps[o.ID]))
		for _, d := range deps[o.ID] {
			set[d] = true
		}
		remaining[o.ID] = set
	}

	var order []string
	resolved := make(map[string]bool, len(objectives))
	for len(order) < len(objectives) {
		var ready []*types.Objective
		for _, o := range objectives {
			if resolved[o.ID] {
				continue
			}
			ok := true
			for d := range remaining[o.ID] {
				if !resolved[d] {
					ok = false
					break
				}
			}
			if ok {
				ready = append(ready, o)
			}
		}
		if len(ready) == 0 {
			return nil, apperr.New(apperr.KindCycle, "objective dependency graph is cyclic")
		}
		sort.SliceStable(ready, func(i, j int) bool {
			if ready[i].Priority != ready[j].Priority {
				return ready[i].Priority > ready[j].Priority
			}
			return ready[i].CreatedAt.Before(ready[j].CreatedAt)
		})
		order = append(order, ready[0].ID)
		resolved[ready[0].ID] = true
	}
	return order, nil
}

// criticalPath returns the longest chain of dependency edges (by count of
// objectives), used as a proxy for estimated critical-path duration.
func criticalPath(objectives []*types.Objective, deps map[string][]string) []string {
	memo := make(map[string][]string, len(objectives))
	var longest func(id string) []string
	longest = func(id string) []string {
		if path, ok := memo[id]; ok {
			return path
		}
		best := []string{}
		for _, d := range deps[id] {
			candidate := longest(d)
			if len(candidate) > len(best) {
				best = candidate
			}
		}
		path := append(append([]string{}, best...), id)
		memo[id] = path
		return path
	}

	var best []string
	for _, o := range objectives {
		path := longest(o.ID)
		if len(path) > len(best) {
			best = path
		}
	}
	return best
}

func riskAssessment(objectives []*types.Objective, deps map[string][]string) string {
	maxFanIn := 0
	for _, edges := range deps {
		if len(edges) > maxFanIn {
			maxFanIn = len(edges)
		}
	}
	if maxFanIn >= 3 {
		return fmt.Sprintf("high: objective depends on %d others", maxFanIn)
	}
	if maxFanIn > 0 {
		return "moderate: linear dependency chain"
	}
	return "low: no cross-objective dependencies"
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
