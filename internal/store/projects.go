package store

import (
	"database/sql"
	"fmt"
	"strings"

	"zmcptools/internal/apperr"
	"zmcptools/internal/types"
)

// CreateProject inserts a new project row. repository_path is unique: a
// second active project at the same path is rejected (spec §8 invariant S3).
func (s *Store) CreateProject(p *types.Project) error {
	_, err := s.db.Exec(
		`INSERT INTO projects (
			id, name, repository_path, server_type, server_pid, server_port, host,
			session_id, status, start_time, last_heartbeat, end_time, metadata,
			web_ui_enabled, web_ui_port, web_ui_host
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, p.RepositoryPath, p.ServerType, nullInt(p.ServerPID), nullInt(p.ServerPort),
		p.Host, nullString(p.SessionID), string(p.Status), p.StartTime, p.LastHeartbeat,
		nullTime(p.EndTime), marshal(p.Metadata), p.WebUIEnabled, nullInt(p.WebUIPort), p.WebUIHost,
	)
	if err != nil {
		if isUniqueConstraint(err) {
			return apperr.Wrap(apperr.KindAlreadyExists, err, "project already registered at %s", p.RepositoryPath)
		}
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *Store) scanProject(row interface {
	Scan(dest ...interface{}) error
}) (*types.Project, error) {
	var p types.Project
	var serverPID, serverPort, webUIPort sql.NullInt64
	var sessionID sql.NullString
	var endTime sql.NullTime
	var status string
	var metadata, webUIEnabled string

	err := row.Scan(
		&p.ID, &p.Name, &p.RepositoryPath, &p.ServerType, &serverPID, &serverPort, &p.Host,
		&sessionID, &status, &p.StartTime, &p.LastHeartbeat, &endTime, &metadata,
		&webUIEnabled, &webUIPort, &p.WebUIHost,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.KindNotFound, err, "project not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}

	p.ServerPID = intPtr(serverPID)
	p.ServerPort = intPtr(serverPort)
	p.SessionID = stringPtr(sessionID)
	p.EndTime = timePtr(endTime)
	p.Status = types.ProjectStatus(status)
	p.WebUIPort = intPtr(webUIPort)
	p.WebUIEnabled = webUIEnabled == "1" || webUIEnabled == "true"
	unmarshal(metadata, &p.Metadata)
	return &p, nil
}

const projectColumns = `id, name, repository_path, server_type, server_pid, server_port, host,
	session_id, status, start_time, last_heartbeat, end_time, metadata,
	web_ui_enabled, web_ui_port, web_ui_host`

// GetProject fetches a project by id.
func (s *Store) GetProject(id string) (*types.Project, error) {
	row := s.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	return s.scanProject(row)
}

// GetProjectByPath fetches the project registered at repositoryPath, if any.
func (s *Store) GetProjectByPath(repositoryPath string) (*types.Project, error) {
	row := s.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE repository_path = ?`, repositoryPath)
	return s.scanProject(row)
}

// ListActiveProjects returns every project not in a terminal status.
func (s *Store) ListActiveProjects() ([]*types.Project, error) {
	rows, err := s.db.Query(`SELECT ` + projectColumns + ` FROM projects WHERE status IN ('active','connected') ORDER BY start_time`)
	if err != nil {
		return nil, fmt.Errorf("list active projects: %w", err)
	}
	defer rows.Close()

	var out []*types.Project
	for rows.Next() {
		p, err := s.scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProjectStatus transitions a project's status and touches last_heartbeat.
func (s *Store) UpdateProjectStatus(id string, status types.ProjectStatus) error {
	res, err := s.db.Exec(`UPDATE projects SET status = ?, last_heartbeat = CURRENT_TIMESTAMP WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update project status: %w", err)
	}
	return requireOneRow(res, "project", id)
}

// Heartbeat bumps a project's last_heartbeat to now.
func (s *Store) Heartbeat(id string) error {
	res, err := s.db.Exec(`UPDATE projects SET last_heartbeat = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("heartbeat project: %w", err)
	}
	return requireOneRow(res, "project", id)
}

func requireOneRow(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.New(apperr.KindNotFound, "%s %s not found", entity, id)
	}
	return nil
}

func isUniqueConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
