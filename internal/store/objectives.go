package store

import (
	"database/sql"
	"fmt"
	"time"

	"zmcptools/internal/apperr"
	"zmcptools/internal/types"
)

const objectiveColumns = `id, repository_path, objective_type, description, requirements, status,
	priority, assigned_agent_id, parent_objective_id, results, progress_percentage,
	created_at, updated_at`

// CreateObjective inserts a new objective.
func (s *Store) CreateObjective(o *types.Objective) error {
	_, err := s.db.Exec(
		`INSERT INTO objectives (`+objectiveColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.RepositoryPath, string(o.ObjectiveType), o.Description, marshal(o.Requirements),
		string(o.Status), o.Priority, nullString(o.AssignedAgentID), nullString(o.ParentObjectiveID),
		marshal(o.Results), o.ProgressPercentage, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert objective: %w", err)
	}
	return nil
}

func (s *Store) scanObjective(row interface{ Scan(dest ...interface{}) error }) (*types.Objective, error) {
	var o types.Objective
	var objectiveType, status, requirements, results string
	var assignedAgentID, parentObjectiveID sql.NullString

	err := row.Scan(
		&o.ID, &o.RepositoryPath, &objectiveType, &o.Description, &requirements, &status,
		&o.Priority, &assignedAgentID, &parentObjectiveID, &results, &o.ProgressPercentage,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.KindNotFound, err, "objective not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan objective: %w", err)
	}

	o.ObjectiveType = types.ObjectiveType(objectiveType)
	o.Status = types.ObjectiveStatus(status)
	unmarshal(requirements, &o.Requirements)
	unmarshal(results, &o.Results)
	o.AssignedAgentID = stringPtr(assignedAgentID)
	o.ParentObjectiveID = stringPtr(parentObjectiveID)
	return &o, nil
}

// GetObjective fetches an objective by id.
func (s *Store) GetObjective(id string) (*types.Objective, error) {
	row := s.db.QueryRow(`SELECT `+objectiveColumns+` FROM objectives WHERE id = ?`, id)
	return s.scanObjective(row)
}

// ListObjectives returns objectives for a repository, optionally filtered by
// status (nil status means no status filter).
func (s *Store) ListObjectives(repositoryPath string, status *types.ObjectiveStatus) ([]*types.Objective, error) {
	query := `SELECT ` + objectiveColumns + ` FROM objectives WHERE repository_path = ?`
	args := []interface{}{repositoryPath}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY priority DESC, created_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list objectives: %w", err)
	}
	defer rows.Close()

	var out []*types.Objective
	for rows.Next() {
		o, err := s.scanObjective(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ChildObjectives returns objectives whose parent_objective_id is parentID.
func (s *Store) ChildObjectives(parentID string) ([]*types.Objective, error) {
	rows, err := s.db.Query(`SELECT `+objectiveColumns+` FROM objectives WHERE parent_objective_id = ? ORDER BY created_at`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list child objectives: %w", err)
	}
	defer rows.Close()

	var out []*types.Objective
	for rows.Next() {
		o, err := s.scanObjective(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpdateObjectiveStatus transitions status, optionally recording the agent
// that produced the transition. Progress is left untouched here; callers
// use UpdateObjectiveProgress for that (spec §8 monotonicity invariant).
func (s *Store) UpdateObjectiveStatus(id string, status types.ObjectiveStatus) error {
	res, err := s.db.Exec(
		`UPDATE objectives SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update objective status: %w", err)
	}
	return requireOneRow(res, "objective", id)
}

// AssignObjective sets the assigned agent for an objective.
func (s *Store) AssignObjective(id string, agentID string) error {
	res, err := s.db.Exec(
		`UPDATE objectives SET assigned_agent_id = ?, updated_at = ? WHERE id = ?`,
		agentID, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("assign objective: %w", err)
	}
	return requireOneRow(res, "objective", id)
}

// UpdateObjectiveProgress sets progress_percentage. The caller (objective
// service) is responsible for rejecting a non-monotonic decrease before
// calling this; the store performs an unconditional write so that
// recomputation (e.g. after a crash) can still correct drift.
func (s *Store) UpdateObjectiveProgress(id string, percentage int) error {
	res, err := s.db.Exec(
		`UPDATE objectives SET progress_percentage = ?, updated_at = ? WHERE id = ?`,
		percentage, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update objective progress: %w", err)
	}
	return requireOneRow(res, "objective", id)
}

// GetDependencies resolves an objective's own requirements.dependencies ids
// into full objective records, silently skipping any id that no longer
// resolves (spec §4.1: ObjectiveRepository.getDependencies).
func (s *Store) GetDependencies(id string) ([]*types.Objective, error) {
	o, err := s.GetObjective(id)
	if err != nil {
		return nil, err
	}
	var out []*types.Objective
	for _, depID := range o.Requirements.Dependencies {
		dep, err := s.GetObjective(depID)
		if err != nil {
			continue
		}
		out = append(out, dep)
	}
	return out, nil
}

// GetDependents returns every objective in repositoryPath whose
// requirements.dependencies lists id — the reverse edge getDependencies
// does not expose (spec §4.1: ObjectiveRepository.getDependents).
func (s *Store) GetDependents(id string, repositoryPath string) ([]*types.Objective, error) {
	all, err := s.ListObjectives(repositoryPath, nil)
	if err != nil {
		return nil, err
	}
	var out []*types.Objective
	for _, o := range all {
		for _, depID := range o.Requirements.Dependencies {
			if depID == id {
				out = append(out, o)
				break
			}
		}
	}
	return out, nil
}

// CompleteObjective marks an objective completed and stores its results bag.
func (s *Store) CompleteObjective(id string, results types.Extensions) error {
	res, err := s.db.Exec(
		`UPDATE objectives SET status = ?, results = ?, progress_percentage = 100, updated_at = ? WHERE id = ?`,
		string(types.ObjectiveStatusCompleted), marshal(results), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("complete objective: %w", err)
	}
	return requireOneRow(res, "objective", id)
}
