package store

import (
	"database/sql"
	"fmt"

	"zmcptools/internal/apperr"
	"zmcptools/internal/types"
)

const planColumns = `id, repository_path, title, description, objectives, sections, metadata,
	status, started_at, completed_at`

// CreatePlan inserts a new plan.
func (s *Store) CreatePlan(p *types.Plan) error {
	_, err := s.db.Exec(
		`INSERT INTO plans (`+planColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.RepositoryPath, p.Title, p.Description, p.Objectives,
		marshal(p.Sections), marshal(p.Metadata), string(p.Status),
		nullTime(p.StartedAt), nullTime(p.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

func (s *Store) scanPlan(row interface{ Scan(dest ...interface{}) error }) (*types.Plan, error) {
	var p types.Plan
	var status, sections, metadata string
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&p.ID, &p.RepositoryPath, &p.Title, &p.Description, &p.Objectives,
		&sections, &metadata, &status, &startedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.KindNotFound, err, "plan not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan plan: %w", err)
	}

	p.Status = types.PlanStatus(status)
	unmarshal(sections, &p.Sections)
	unmarshal(metadata, &p.Metadata)
	p.StartedAt = timePtr(startedAt)
	p.CompletedAt = timePtr(completedAt)
	return &p, nil
}

// GetPlan fetches a plan by id.
func (s *Store) GetPlan(id string) (*types.Plan, error) {
	row := s.db.QueryRow(`SELECT `+planColumns+` FROM plans WHERE id = ?`, id)
	return s.scanPlan(row)
}

// ListPlans returns every plan for a repository.
func (s *Store) ListPlans(repositoryPath string) ([]*types.Plan, error) {
	rows, err := s.db.Query(`SELECT `+planColumns+` FROM plans WHERE repository_path = ?`, repositoryPath)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var out []*types.Plan
	for rows.Next() {
		p, err := s.scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePlanStatus transitions a plan's status.
func (s *Store) UpdatePlanStatus(id string, status types.PlanStatus) error {
	res, err := s.db.Exec(`UPDATE plans SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update plan status: %w", err)
	}
	return requireOneRow(res, "plan", id)
}
