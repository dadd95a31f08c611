// Package project implements the Project registration capability (spec §3,
// §4.2 project_* events): a registered workspace keyed by repository_path,
// with at most one project per path in {active, connected} at a time.
// Grounded on the teacher's session-registration idiom in
// internal/session/spawner.go (register-or-reuse by key, emit a lifecycle
// event on the meaningful transitions only).
package project

import (
	"time"

	"zmcptools/internal/eventbus"
	"zmcptools/internal/idgen"
	"zmcptools/internal/logging"
	"zmcptools/internal/store"
	"zmcptools/internal/types"
)

// Service implements project registration, heartbeats, status transitions,
// and disconnection.
type Service struct {
	store *store.Store
	bus   *eventbus.Bus
}

// New constructs a project Service over st, publishing lifecycle events on bus.
func New(st *store.Store, bus *eventbus.Bus) *Service {
	return &Service{store: st, bus: bus}
}

// isLive reports whether s is a status under which a project is considered the
// single active registration for its repository_path (spec §3, §8 invariant 6).
func isLive(s types.ProjectStatus) bool {
	return s == types.ProjectStatusActive || s == types.ProjectStatusConnected
}

// RegisterRequest is the input to Register.
type RegisterRequest struct {
	Name           string
	RepositoryPath string
	ServerType     string
	Host           string
	WebUIEnabled   bool
	WebUIHost      string
	Metadata       types.Extensions
}

// Register records a new workspace at req.RepositoryPath, or returns the
// existing project unchanged if one is already active/connected there
// (spec §3: "registering a second active project for the same path returns
// the existing one"). A project previously registered at this path but now
// terminal is reactivated in place rather than inserted again, since
// repository_path is a unique key in the store.
func (s *Service) Register(req RegisterRequest) (*types.Project, error) {
	existing, err := s.store.GetProjectByPath(req.RepositoryPath)
	if err == nil {
		if isLive(existing.Status) {
			return existing, nil
		}
		if err := s.store.UpdateProjectStatus(existing.ID, types.ProjectStatusActive); err != nil {
			return nil, err
		}
		existing.Status = types.ProjectStatusActive
		s.emit(eventbus.KindProjectStatusChange, existing)
		logging.Get(logging.CategoryProject).Info("reactivated project %s at %s", existing.ID, req.RepositoryPath)
		return existing, nil
	}

	now := time.Now().UTC()
	p := &types.Project{
		ID:             idgen.New(),
		Name:           req.Name,
		RepositoryPath: req.RepositoryPath,
		ServerType:     req.ServerType,
		Host:           req.Host,
		Status:         types.ProjectStatusActive,
		StartTime:      now,
		LastHeartbeat:  now,
		Metadata:       req.Metadata,
		WebUIEnabled:   req.WebUIEnabled,
		WebUIHost:      req.WebUIHost,
	}
	if err := s.store.CreateProject(p); err != nil {
		return nil, err
	}

	s.emit(eventbus.KindProjectRegistered, p)
	logging.Get(logging.CategoryProject).Info("registered project %s at %s", p.ID, req.RepositoryPath)
	return p, nil
}

// Heartbeat bumps a project's last_heartbeat and emits project_heartbeat.
func (s *Service) Heartbeat(id string) error {
	if err := s.store.Heartbeat(id); err != nil {
		return err
	}
	p, err := s.store.GetProject(id)
	if err != nil {
		return err
	}
	s.emit(eventbus.KindProjectHeartbeat, p)
	return nil
}

// UpdateStatus transitions a project's status and emits project_status_change.
func (s *Service) UpdateStatus(id string, status types.ProjectStatus) (*types.Project, error) {
	if err := s.store.UpdateProjectStatus(id, status); err != nil {
		return nil, err
	}
	p, err := s.store.GetProject(id)
	if err != nil {
		return nil, err
	}
	s.emit(eventbus.KindProjectStatusChange, p)
	return p, nil
}

// Disconnect marks a project disconnected and emits project_disconnected,
// freeing its repository_path for a future Register call.
func (s *Service) Disconnect(id string) (*types.Project, error) {
	if err := s.store.UpdateProjectStatus(id, types.ProjectStatusDisconnected); err != nil {
		return nil, err
	}
	p, err := s.store.GetProject(id)
	if err != nil {
		return nil, err
	}
	s.emit(eventbus.KindProjectDisconnected, p)
	return p, nil
}

func (s *Service) emit(kind eventbus.Kind, p *types.Project) {
	s.bus.Emit(kind, eventbus.ProjectEventPayload{
		Project: p, RepositoryPath: p.RepositoryPath, Timestamp: time.Now().UTC(),
	}, eventbus.Fields{RepositoryPath: p.RepositoryPath})
}
