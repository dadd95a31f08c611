package store

import (
	"database/sql"
	"fmt"
	"time"

	"zmcptools/internal/apperr"
	"zmcptools/internal/types"
)

const roomColumns = `id, name, description, repository_path, room_metadata, created_at,
	closed_at, close_reason`

// CreateRoom inserts a new room. (repository_path, name) is unique.
func (s *Store) CreateRoom(r *types.Room) error {
	_, err := s.db.Exec(
		`INSERT INTO rooms (`+roomColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		r.ID, r.Name, r.Description, r.RepositoryPath, marshal(r.RoomMetadata),
		r.CreatedAt, nullTime(r.ClosedAt), r.CloseReason,
	)
	if err != nil {
		if isUniqueConstraint(err) {
			return apperr.Wrap(apperr.KindAlreadyExists, err, "room %q already exists in %s", r.Name, r.RepositoryPath)
		}
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

func (s *Store) scanRoom(row interface{ Scan(dest ...interface{}) error }) (*types.Room, error) {
	var r types.Room
	var metadata string
	var closedAt sql.NullTime

	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.RepositoryPath, &metadata, &r.CreatedAt, &closedAt, &r.CloseReason)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.KindNotFound, err, "room not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan room: %w", err)
	}
	unmarshal(metadata, &r.RoomMetadata)
	r.ClosedAt = timePtr(closedAt)
	return &r, nil
}

// GetRoom fetches a room by id.
func (s *Store) GetRoom(id string) (*types.Room, error) {
	row := s.db.QueryRow(`SELECT `+roomColumns+` FROM rooms WHERE id = ?`, id)
	return s.scanRoom(row)
}

// GetRoomByName fetches a room by (repository_path, name).
func (s *Store) GetRoomByName(repositoryPath, name string) (*types.Room, error) {
	row := s.db.QueryRow(`SELECT `+roomColumns+` FROM rooms WHERE repository_path = ? AND name = ?`, repositoryPath, name)
	return s.scanRoom(row)
}

// ListOpenRooms returns rooms for a repository that have not been closed.
func (s *Store) ListOpenRooms(repositoryPath string) ([]*types.Room, error) {
	rows, err := s.db.Query(`SELECT `+roomColumns+` FROM rooms WHERE repository_path = ? AND closed_at IS NULL ORDER BY created_at`, repositoryPath)
	if err != nil {
		return nil, fmt.Errorf("list open rooms: %w", err)
	}
	defer rows.Close()

	var out []*types.Room
	for rows.Next() {
		r, err := s.scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CloseRoom marks a room closed with a reason.
func (s *Store) CloseRoom(id, reason string) error {
	res, err := s.db.Exec(
		`UPDATE rooms SET closed_at = ?, close_reason = ? WHERE id = ?`,
		time.Now().UTC(), reason, id,
	)
	if err != nil {
		return fmt.Errorf("close room: %w", err)
	}
	return requireOneRow(res, "room", id)
}

// AppendMessage appends a message to a room's log, assigning the next
// sequence number inside the same transaction so concurrent senders never
// collide (spec §5: room_message events emitted in append order).
func (s *Store) AppendMessage(m *types.Message) error {
	return s.withTx(func(tx *sql.Tx) error {
		var maxSeq sql.NullInt64
		if err := tx.QueryRow(`SELECT MAX(seq) FROM messages WHERE room_id = ?`, m.RoomID).Scan(&maxSeq); err != nil {
			return fmt.Errorf("select max seq: %w", err)
		}
		seq := int64(1)
		if maxSeq.Valid {
			seq = maxSeq.Int64 + 1
		}
		_, err := tx.Exec(
			`INSERT INTO messages (id, room_id, agent_name, message, message_type, timestamp, seq) VALUES (?,?,?,?,?,?,?)`,
			m.ID, m.RoomID, m.AgentName, m.Message, string(m.Type), m.Timestamp, seq,
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
}

// ListMessages returns a room's messages in append order, optionally only
// those with seq > afterSeq (afterSeq=0 returns the full log).
func (s *Store) ListMessages(roomID string, afterSeq int64, limit int) ([]*types.Message, error) {
	query := `SELECT id, room_id, agent_name, message, message_type, timestamp FROM messages WHERE room_id = ? AND seq > ? ORDER BY seq`
	args := []interface{}{roomID, afterSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*types.Message
	for rows.Next() {
		var m types.Message
		var msgType string
		if err := rows.Scan(&m.ID, &m.RoomID, &m.AgentName, &m.Message, &msgType, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Type = types.MessageType(msgType)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// JoinRoom upserts a participant as active.
func (s *Store) JoinRoom(roomID, agentID string) error {
	_, err := s.db.Exec(
		`INSERT INTO participants (room_id, agent_id, status) VALUES (?,?,?)
		 ON CONFLICT(room_id, agent_id) DO UPDATE SET status = excluded.status`,
		roomID, agentID, string(types.ParticipantStatusActive),
	)
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	return nil
}

// LeaveRoom marks a participant inactive.
func (s *Store) LeaveRoom(roomID, agentID string) error {
	res, err := s.db.Exec(
		`UPDATE participants SET status = ? WHERE room_id = ? AND agent_id = ?`,
		string(types.ParticipantStatusInactive), roomID, agentID,
	)
	if err != nil {
		return fmt.Errorf("leave room: %w", err)
	}
	return requireOneRow(res, "participant", roomID+"/"+agentID)
}

// ListParticipants returns every participant of a room.
func (s *Store) ListParticipants(roomID string) ([]*types.Participant, error) {
	rows, err := s.db.Query(`SELECT room_id, agent_id, status FROM participants WHERE room_id = ?`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []*types.Participant
	for rows.Next() {
		var p types.Participant
		var status string
		if err := rows.Scan(&p.RoomID, &p.AgentID, &status); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.Status = types.ParticipantStatus(status)
		out = append(out, &p)
	}
	return out, rows.Err()
}
