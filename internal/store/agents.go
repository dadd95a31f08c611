package store

import (
	"database/sql"
	"fmt"
	"time"

	"zmcptools/internal/apperr"
	"zmcptools/internal/types"
)

const agentColumns = `id, agent_name, agent_type, repository_path, status, capabilities, depends_on,
	claude_pid, convo_session_id, room_id, agent_metadata, created_at, last_heartbeat, updated_at`

// CreateAgent inserts a new agent record.
func (s *Store) CreateAgent(a *types.Agent) error {
	_, err := s.db.Exec(
		`INSERT INTO agents (`+agentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.AgentName, a.AgentType, a.RepositoryPath, string(a.Status),
		marshal(a.Capabilities), marshal(a.DependsOn), nullInt(a.ClaudePID),
		nullString(a.ConvoSessionID), nullString(a.RoomID), marshal(a.AgentMetadata),
		a.CreatedAt, a.LastHeartbeat, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func (s *Store) scanAgent(row interface{ Scan(dest ...interface{}) error }) (*types.Agent, error) {
	var a types.Agent
	var status string
	var capabilities, dependsOn, metadata string
	var claudePID sql.NullInt64
	var convoSessionID, roomID sql.NullString

	err := row.Scan(
		&a.ID, &a.AgentName, &a.AgentType, &a.RepositoryPath, &status,
		&capabilities, &dependsOn, &claudePID, &convoSessionID, &roomID, &metadata,
		&a.CreatedAt, &a.LastHeartbeat, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.KindNotFound, err, "agent not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}

	a.Status = types.AgentStatus(status)
	unmarshal(capabilities, &a.Capabilities)
	unmarshal(dependsOn, &a.DependsOn)
	unmarshal(metadata, &a.AgentMetadata)
	a.ClaudePID = intPtr(claudePID)
	a.ConvoSessionID = stringPtr(convoSessionID)
	a.RoomID = stringPtr(roomID)
	return &a, nil
}

// GetAgent fetches an agent by id.
func (s *Store) GetAgent(id string) (*types.Agent, error) {
	row := s.db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	return s.scanAgent(row)
}

// ListAgents returns agents for repositoryPath, optionally filtered by status.
func (s *Store) ListAgents(repositoryPath string, status *types.AgentStatus) ([]*types.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE repository_path = ?`
	args := []interface{}{repositoryPath}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*types.Agent
	for rows.Next() {
		a, err := s.scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AgentPage is the generic list(filter, limit, offset, orderBy) →
// {data, total, hasMore} envelope spec §4.1 requires of every repository.
type AgentPage struct {
	Data    []*types.Agent
	Total   int
	HasMore bool
}

// ListAgentsPage returns a page of agents for repositoryPath ordered by
// last_heartbeat desc (newest activity first), optionally filtered by
// status, with total and hasMore computed against the full filtered set
// (spec §4.1). limit<=0 means unbounded.
func (s *Store) ListAgentsPage(repositoryPath string, status *types.AgentStatus, limit, offset int) (*AgentPage, error) {
	if offset < 0 {
		offset = 0
	}

	countQuery := `SELECT COUNT(*) FROM agents WHERE repository_path = ?`
	countArgs := []interface{}{repositoryPath}
	if status != nil {
		countQuery += ` AND status = ?`
		countArgs = append(countArgs, string(*status))
	}
	var total int
	if err := s.db.QueryRow(countQuery, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count agents: %w", err)
	}

	query := `SELECT ` + agentColumns + ` FROM agents WHERE repository_path = ?`
	args := []interface{}{repositoryPath}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY last_heartbeat DESC`
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	} else if offset > 0 {
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents page: %w", err)
	}
	defer rows.Close()

	var out []*types.Agent
	for rows.Next() {
		a, err := s.scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &AgentPage{Data: out, Total: total, HasMore: offset+len(out) < total}, nil
}

// FindActiveAgents returns every non-terminal agent (initializing, active, or
// idle), optionally scoped to repositoryPath (empty string means all
// repositories). Spec §4.1: AgentRepository.findActiveAgents(repositoryPath?).
func (s *Store) FindActiveAgents(repositoryPath string) ([]*types.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE status IN ('initializing','active','idle')`
	var args []interface{}
	if repositoryPath != "" {
		query += ` AND repository_path = ?`
		args = append(args, repositoryPath)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("find active agents: %w", err)
	}
	defer rows.Close()

	var out []*types.Agent
	for rows.Next() {
		a, err := s.scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AgentFilter is the argument bag for FindFilteredAgents (spec §4.1:
// AgentRepository.findFiltered({status,repositoryPath,limit})).
type AgentFilter struct {
	Status         *types.AgentStatus
	RepositoryPath string
	Limit          int
}

// FindFilteredAgents applies an arbitrary combination of status,
// repositoryPath, and limit, ordered newest-heartbeat-first. Unlike
// ListAgents, repositoryPath is optional here.
func (s *Store) FindFilteredAgents(f AgentFilter) ([]*types.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE 1=1`
	var args []interface{}
	if f.RepositoryPath != "" {
		query += ` AND repository_path = ?`
		args = append(args, f.RepositoryPath)
	}
	if f.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*f.Status))
	}
	query += ` ORDER BY last_heartbeat DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("find filtered agents: %w", err)
	}
	defer rows.Close()

	var out []*types.Agent
	for rows.Next() {
		a, err := s.scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAgentStatus transitions an agent's status and bumps updated_at.
// Callers enforce the legal-transition invariant (spec §8 S1); the store
// only persists the result.
func (s *Store) UpdateAgentStatus(id string, status types.AgentStatus) error {
	res, err := s.db.Exec(
		`UPDATE agents SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update agent status: %w", err)
	}
	return requireOneRow(res, "agent", id)
}

// UpdateAgentHeartbeat bumps last_heartbeat to now.
func (s *Store) UpdateAgentHeartbeat(id string) error {
	res, err := s.db.Exec(`UPDATE agents SET last_heartbeat = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update agent heartbeat: %w", err)
	}
	return requireOneRow(res, "agent", id)
}

// SetAgentSession records the resumable conversation session id for an agent.
func (s *Store) SetAgentSession(id string, sessionID string) error {
	res, err := s.db.Exec(
		`UPDATE agents SET convo_session_id = ?, updated_at = ? WHERE id = ?`,
		sessionID, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set agent session: %w", err)
	}
	return requireOneRow(res, "agent", id)
}

// SetAgentRoom records which room an agent belongs to.
func (s *Store) SetAgentRoom(id string, roomID string) error {
	res, err := s.db.Exec(
		`UPDATE agents SET room_id = ?, updated_at = ? WHERE id = ?`,
		roomID, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set agent room: %w", err)
	}
	return requireOneRow(res, "agent", id)
}

// StaleAgents returns active/idle agents whose last_heartbeat is older than cutoff.
func (s *Store) StaleAgents(cutoff time.Time) ([]*types.Agent, error) {
	rows, err := s.db.Query(
		`SELECT `+agentColumns+` FROM agents WHERE status IN ('active','idle') AND last_heartbeat < ?`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("query stale agents: %w", err)
	}
	defer rows.Close()

	var out []*types.Agent
	for rows.Next() {
		a, err := s.scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
