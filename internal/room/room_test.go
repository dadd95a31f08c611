package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zmcptools/internal/apperr"
	"zmcptools/internal/eventbus"
	"zmcptools/internal/store"
	"zmcptools/internal/types"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, eventbus.New())
}

func TestCreateRoomEmitsRoomCreated(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	bus := eventbus.New()
	svc := New(st, bus)

	received := make(chan eventbus.RoomCreatedPayload, 1)
	bus.Subscribe(eventbus.KindRoomCreated, func(e eventbus.Event) {
		received <- e.Payload.(eventbus.RoomCreatedPayload)
	}, eventbus.Filter{})

	r, err := svc.CreateRoom(CreateRoomRequest{Name: "standup", RepositoryPath: "/r"})
	require.NoError(t, err)
	assert.Equal(t, "standup", r.Name)

	select {
	case payload := <-received:
		assert.Equal(t, "/r", payload.RepositoryPath)
	case <-time.After(time.Second):
		t.Fatal("expected room_created to be emitted")
	}
}

func TestCreateRoomRejectsDuplicateName(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateRoom(CreateRoomRequest{Name: "standup", RepositoryPath: "/r"})
	require.NoError(t, err)

	_, err = svc.CreateRoom(CreateRoomRequest{Name: "standup", RepositoryPath: "/r"})
	require.Error(t, err)
	assert.True(t, apperr.Of(err, apperr.KindAlreadyExists))
}

func TestJoinIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CreateRoom(CreateRoomRequest{Name: "standup", RepositoryPath: "/r"})
	require.NoError(t, err)

	require.NoError(t, svc.Join("/r", "standup", "agent-1"))
	require.NoError(t, svc.Join("/r", "standup", "agent-1"))
}

func TestSendMessageFailsOnClosedRoom(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CreateRoom(CreateRoomRequest{Name: "standup", RepositoryPath: "/r"})
	require.NoError(t, err)
	require.NoError(t, svc.CloseRoom("/r", "standup", "done"))

	_, err = svc.SendMessage(SendMessageRequest{RepositoryPath: "/r", RoomName: "standup", AgentName: "a1", Message: "hi"})
	require.Error(t, err)
	assert.True(t, apperr.Of(err, apperr.KindClosed))
}

func TestMessagesPreserveAppendOrder(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CreateRoom(CreateRoomRequest{Name: "standup", RepositoryPath: "/r"})
	require.NoError(t, err)

	for _, text := range []string{"first", "second", "third"} {
		_, err := svc.SendMessage(SendMessageRequest{RepositoryPath: "/r", RoomName: "standup", AgentName: "a1", Message: text})
		require.NoError(t, err)
	}

	msgs, err := svc.GetMessages("/r", "standup", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Message)
	assert.Equal(t, "third", msgs[2].Message)
}

func TestSendMessageDefaultsToChat(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CreateRoom(CreateRoomRequest{Name: "standup", RepositoryPath: "/r"})
	require.NoError(t, err)

	m, err := svc.SendMessage(SendMessageRequest{RepositoryPath: "/r", RoomName: "standup", AgentName: "a1", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, types.MessageTypeChat, m.Type)
}

func TestOrchestrationRoomNameShapeAndLength(t *testing.T) {
	name := OrchestrationRoomName("Add OAuth login to the checkout flow with retries and audit logging")
	assert.Regexp(t, `^orch-[a-z0-9-]+-[0-9a-f]{6}$`, name)
}
