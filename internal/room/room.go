// Package room implements RoomService (spec §4.4): named, ordered message
// logs scoped to a repository, used by the orchestrator and agents to
// coordinate.
package room

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"zmcptools/internal/apperr"
	"zmcptools/internal/eventbus"
	"zmcptools/internal/idgen"
	"zmcptools/internal/store"
	"zmcptools/internal/types"
)

// Service implements room creation, membership, and messaging.
type Service struct {
	store *store.Store
	bus   *eventbus.Bus
}

// New constructs a room Service over st, publishing lifecycle events on bus.
func New(st *store.Store, bus *eventbus.Bus) *Service {
	return &Service{store: st, bus: bus}
}

// CreateRoomRequest is the input to CreateRoom.
type CreateRoomRequest struct {
	Name           string
	Description    string
	RepositoryPath string
	Metadata       types.Extensions
}

// CreateRoom creates a new room, failing with AlreadyExists if name is
// already taken within repositoryPath.
func (s *Service) CreateRoom(req CreateRoomRequest) (*types.Room, error) {
	if existing, err := s.store.GetRoomByName(req.RepositoryPath, req.Name); err == nil {
		return existing, apperr.New(apperr.KindAlreadyExists, "room %q already exists in %s", req.Name, req.RepositoryPath)
	}

	r := &types.Room{
		ID:             idgen.New(),
		Name:           req.Name,
		Description:    req.Description,
		RepositoryPath: req.RepositoryPath,
		RoomMetadata:   req.Metadata,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreateRoom(r); err != nil {
		return nil, err
	}

	s.bus.Emit(eventbus.KindRoomCreated, eventbus.RoomCreatedPayload{
		Room: r, RepositoryPath: req.RepositoryPath, Timestamp: r.CreatedAt,
	}, eventbus.Fields{RepositoryPath: req.RepositoryPath, RoomName: r.Name})

	return r, nil
}

// Join adds agentID as a participant of roomName. Idempotent: rejoining an
// already-joined agent emits no event.
func (s *Service) Join(repositoryPath, roomName, agentID string) error {
	r, err := s.store.GetRoomByName(repositoryPath, roomName)
	if err != nil {
		return err
	}

	participants, err := s.store.ListParticipants(r.ID)
	if err != nil {
		return err
	}
	for _, p := range participants {
		if p.AgentID == agentID && p.Status == types.ParticipantStatusActive {
			return nil
		}
	}
	return s.store.JoinRoom(r.ID, agentID)
}

// SendMessageRequest is the input to SendMessage.
type SendMessageRequest struct {
	RepositoryPath string
	RoomName       string
	AgentName      string
	Message        string
	Type           types.MessageType
}

// SendMessage appends a message to roomName's log and emits room_message.
// Fails with Closed if the room has been closed.
func (s *Service) SendMessage(req SendMessageRequest) (*types.Message, error) {
	r, err := s.store.GetRoomByName(req.RepositoryPath, req.RoomName)
	if err != nil {
		return nil, err
	}
	if r.ClosedAt != nil {
		return nil, apperr.New(apperr.KindClosed, "room %q is closed", req.RoomName)
	}

	msgType := req.Type
	if msgType == "" {
		msgType = types.MessageTypeChat
	}
	m := &types.Message{
		ID:        idgen.New(),
		RoomID:    r.ID,
		AgentName: req.AgentName,
		Message:   req.Message,
		Type:      msgType,
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.AppendMessage(m); err != nil {
		return nil, err
	}

	s.bus.Emit(eventbus.KindRoomMessage, eventbus.RoomMessagePayload{
		RoomName: req.RoomName, Message: m, RepositoryPath: req.RepositoryPath, Timestamp: m.Timestamp,
	}, eventbus.Fields{RepositoryPath: req.RepositoryPath, RoomName: req.RoomName})

	return m, nil
}

// GetMessages returns roomName's messages in ascending append order.
func (s *Service) GetMessages(repositoryPath, roomName string, limit int) ([]*types.Message, error) {
	r, err := s.store.GetRoomByName(repositoryPath, roomName)
	if err != nil {
		return nil, err
	}
	return s.store.ListMessages(r.ID, 0, limit)
}

// CloseRoom soft-closes a room: the row is kept, subsequent SendMessage
// calls fail with Closed, and room_closed is emitted.
func (s *Service) CloseRoom(repositoryPath, roomName, reason string) error {
	r, err := s.store.GetRoomByName(repositoryPath, roomName)
	if err != nil {
		return err
	}
	if err := s.store.CloseRoom(r.ID, reason); err != nil {
		return err
	}

	s.bus.Emit(eventbus.KindRoomClosed, eventbus.RoomClosedPayload{
		RoomName: roomName, RepositoryPath: repositoryPath, Timestamp: time.Now().UTC(),
	}, eventbus.Fields{RepositoryPath: repositoryPath, RoomName: roomName})

	return nil
}

// OrchestrationRoomName derives a unique room name for an orchestration:
// orch-<kebab(objective[:40])>-<suffix6>.
func OrchestrationRoomName(objective string) string {
	kebab := kebabCase(objective)
	if len(kebab) > 40 {
		kebab = kebab[:40]
	}
	kebab = strings.Trim(kebab, "-")

	sum := sha1.Sum([]byte(fmt.Sprintf("%s-%d", objective, time.Now().UnixNano())))
	suffix := hex.EncodeToString(sum[:])[:6]

	return fmt.Sprintf("orch-%s-%s", kebab, suffix)
}

func kebabCase(s string) string {
	s = strings.ToLower(s)
	var sb strings.Builder
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				sb.WriteByte('-')
				lastDash = true
			}
		}
	}
	return sb.String()
}
