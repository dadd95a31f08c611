package project

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zmcptools/internal/eventbus"
	"zmcptools/internal/store"
	"zmcptools/internal/types"
)

func newTestService(t *testing.T) (*Service, *store.Store, *eventbus.Bus) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := eventbus.New()
	return New(st, bus), st, bus
}

func TestRegisterCreatesNewProject(t *testing.T) {
	svc, _, bus := newTestService(t)

	received := make(chan eventbus.ProjectEventPayload, 1)
	bus.Subscribe(eventbus.KindProjectRegistered, func(e eventbus.Event) {
		received <- e.Payload.(eventbus.ProjectEventPayload)
	}, eventbus.Filter{})

	p, err := svc.Register(RegisterRequest{Name: "demo", RepositoryPath: "/r"})
	require.NoError(t, err)
	assert.Equal(t, types.ProjectStatusActive, p.Status)
	assert.Equal(t, "/r", p.RepositoryPath)
	assert.NotEmpty(t, p.ID)

	select {
	case payload := <-received:
		assert.Equal(t, "/r", payload.RepositoryPath)
	case <-time.After(time.Second):
		t.Fatal("expected project_registered to be emitted")
	}
}

func TestRegisterReturnsExistingActiveProject(t *testing.T) {
	svc, _, _ := newTestService(t)

	first, err := svc.Register(RegisterRequest{Name: "demo", RepositoryPath: "/r"})
	require.NoError(t, err)

	second, err := svc.Register(RegisterRequest{Name: "demo-again", RepositoryPath: "/r"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "demo", second.Name, "registering again must not overwrite the existing live project")
}

func TestRegisterReactivatesTerminalProject(t *testing.T) {
	svc, st, _ := newTestService(t)

	p, err := svc.Register(RegisterRequest{Name: "demo", RepositoryPath: "/r"})
	require.NoError(t, err)

	require.NoError(t, st.UpdateProjectStatus(p.ID, types.ProjectStatusDisconnected))

	again, err := svc.Register(RegisterRequest{Name: "demo", RepositoryPath: "/r"})
	require.NoError(t, err)

	assert.Equal(t, p.ID, again.ID, "same repository_path reuses the original row")
	assert.Equal(t, types.ProjectStatusActive, again.Status)
}

func TestHeartbeatBumpsLastHeartbeatAndEmits(t *testing.T) {
	svc, _, bus := newTestService(t)
	p, err := svc.Register(RegisterRequest{Name: "demo", RepositoryPath: "/r"})
	require.NoError(t, err)

	received := make(chan struct{}, 1)
	bus.Subscribe(eventbus.KindProjectHeartbeat, func(e eventbus.Event) {
		received <- struct{}{}
	}, eventbus.Filter{})

	require.NoError(t, svc.Heartbeat(p.ID))

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("expected project_heartbeat to be emitted")
	}
}

func TestDisconnectMarksDisconnected(t *testing.T) {
	svc, _, _ := newTestService(t)
	p, err := svc.Register(RegisterRequest{Name: "demo", RepositoryPath: "/r"})
	require.NoError(t, err)

	disconnected, err := svc.Disconnect(p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ProjectStatusDisconnected, disconnected.Status)
}

func TestUpdateStatusUnknownProject(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.UpdateStatus("does-not-exist", types.ProjectStatusError)
	assert.Error(t, err)
}
