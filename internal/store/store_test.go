package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zmcptools/internal/apperr"
	"zmcptools/internal/types"
)

func newTestDB(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCreateProjectRejectsDuplicateRepositoryPath(t *testing.T) {
	st := newTestDB(t)
	now := time.Now().UTC()
	p := &types.Project{ID: "p1", Name: "p", RepositoryPath: "/r", ServerType: "mcp", Host: "localhost", Status: types.ProjectStatusActive, StartTime: now, LastHeartbeat: now}
	require.NoError(t, st.CreateProject(p))

	dup := &types.Project{ID: "p2", Name: "p2", RepositoryPath: "/r", ServerType: "mcp", Host: "localhost", Status: types.ProjectStatusActive, StartTime: now, LastHeartbeat: now}
	err := st.CreateProject(dup)
	require.Error(t, err)
	assert.True(t, apperr.Of(err, apperr.KindAlreadyExists))
}

func TestGetProjectByPathNotFound(t *testing.T) {
	st := newTestDB(t)
	_, err := st.GetProjectByPath("/missing")
	require.Error(t, err)
	assert.True(t, apperr.Of(err, apperr.KindNotFound))
}

func TestUpdateProjectStatusUnknownIDReturnsNotFound(t *testing.T) {
	st := newTestDB(t)
	err := st.UpdateProjectStatus("does-not-exist", types.ProjectStatusInactive)
	require.Error(t, err)
	assert.True(t, apperr.Of(err, apperr.KindNotFound))
}

func TestListActiveProjectsExcludesTerminalStatuses(t *testing.T) {
	st := newTestDB(t)
	now := time.Now().UTC()
	require.NoError(t, st.CreateProject(&types.Project{ID: "p1", Name: "p1", RepositoryPath: "/a", ServerType: "mcp", Host: "h", Status: types.ProjectStatusActive, StartTime: now, LastHeartbeat: now}))
	require.NoError(t, st.CreateProject(&types.Project{ID: "p2", Name: "p2", RepositoryPath: "/b", ServerType: "mcp", Host: "h", Status: types.ProjectStatusInactive, StartTime: now, LastHeartbeat: now}))

	active, err := st.ListActiveProjects()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "p1", active[0].ID)
}

func TestHeartbeatBumpsLastHeartbeat(t *testing.T) {
	st := newTestDB(t)
	old := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, st.CreateProject(&types.Project{ID: "p1", Name: "p1", RepositoryPath: "/a", ServerType: "mcp", Host: "h", Status: types.ProjectStatusActive, StartTime: old, LastHeartbeat: old}))

	require.NoError(t, st.Heartbeat("p1"))

	p, err := st.GetProject("p1")
	require.NoError(t, err)
	assert.True(t, p.LastHeartbeat.After(old))
}

func TestCreateRoomRejectsDuplicateNameWithinRepository(t *testing.T) {
	st := newTestDB(t)
	now := time.Now().UTC()
	r := &types.Room{ID: "r1", Name: "general", RepositoryPath: "/a", CreatedAt: now}
	require.NoError(t, st.CreateRoom(r))

	dup := &types.Room{ID: "r2", Name: "general", RepositoryPath: "/a", CreatedAt: now}
	err := st.CreateRoom(dup)
	require.Error(t, err)
	assert.True(t, apperr.Of(err, apperr.KindAlreadyExists))
}

func TestGetRoomByNameAndListOpenRooms(t *testing.T) {
	st := newTestDB(t)
	now := time.Now().UTC()
	require.NoError(t, st.CreateRoom(&types.Room{ID: "r1", Name: "general", RepositoryPath: "/a", CreatedAt: now}))
	require.NoError(t, st.CreateRoom(&types.Room{ID: "r2", Name: "closed", RepositoryPath: "/a", CreatedAt: now}))
	require.NoError(t, st.CloseRoom("r2", "done"))

	r, err := st.GetRoomByName("/a", "general")
	require.NoError(t, err)
	assert.Equal(t, "r1", r.ID)

	open, err := st.ListOpenRooms("/a")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "r1", open[0].ID)
}

func TestAppendMessageAssignsIncrementingSeq(t *testing.T) {
	st := newTestDB(t)
	now := time.Now().UTC()
	require.NoError(t, st.CreateRoom(&types.Room{ID: "r1", Name: "general", RepositoryPath: "/a", CreatedAt: now}))

	require.NoError(t, st.AppendMessage(&types.Message{ID: "m1", RoomID: "r1", AgentName: "a", Message: "hi", Type: types.MessageTypeChat, Timestamp: now}))
	require.NoError(t, st.AppendMessage(&types.Message{ID: "m2", RoomID: "r1", AgentName: "a", Message: "there", Type: types.MessageTypeChat, Timestamp: now}))

	msgs, err := st.ListMessages("r1", 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)

	afterFirst, err := st.ListMessages("r1", 1, 0)
	require.NoError(t, err)
	require.Len(t, afterFirst, 1)
	assert.Equal(t, "m2", afterFirst[0].ID)
}

func TestJoinRoomIsUpsert(t *testing.T) {
	st := newTestDB(t)
	now := time.Now().UTC()
	require.NoError(t, st.CreateRoom(&types.Room{ID: "r1", Name: "general", RepositoryPath: "/a", CreatedAt: now}))

	require.NoError(t, st.JoinRoom("r1", "agent-1"))
	require.NoError(t, st.JoinRoom("r1", "agent-1"), "joining twice must upsert, not fail")

	participants, err := st.ListParticipants("r1")
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Equal(t, types.ParticipantStatusActive, participants[0].Status)

	require.NoError(t, st.LeaveRoom("r1", "agent-1"))
	participants, err = st.ListParticipants("r1")
	require.NoError(t, err)
	assert.Equal(t, types.ParticipantStatusInactive, participants[0].Status)
}

func TestLeaveRoomUnknownParticipantReturnsNotFound(t *testing.T) {
	st := newTestDB(t)
	err := st.LeaveRoom("no-room", "no-agent")
	require.Error(t, err)
	assert.True(t, apperr.Of(err, apperr.KindNotFound))
}

func newTestObjective(id, repo string) *types.Objective {
	now := time.Now().UTC()
	return &types.Objective{
		ID: id, RepositoryPath: repo, ObjectiveType: types.ObjectiveTypeFeature,
		Description: "do a thing", Status: types.ObjectiveStatusPending,
		Priority: 5, CreatedAt: now, UpdatedAt: now,
	}
}

func TestObjectiveCRUDAndProgress(t *testing.T) {
	st := newTestDB(t)
	o := newTestObjective("o1", "/a")
	require.NoError(t, st.CreateObjective(o))

	got, err := st.GetObjective("o1")
	require.NoError(t, err)
	assert.Equal(t, types.ObjectiveStatusPending, got.Status)
	assert.Equal(t, 5, got.Priority)

	require.NoError(t, st.UpdateObjectiveProgress("o1", 42))
	got, err = st.GetObjective("o1")
	require.NoError(t, err)
	assert.Equal(t, 42, got.ProgressPercentage)

	require.NoError(t, st.AssignObjective("o1", "agent-1"))
	got, err = st.GetObjective("o1")
	require.NoError(t, err)
	require.NotNil(t, got.AssignedAgentID)
	assert.Equal(t, "agent-1", *got.AssignedAgentID)

	require.NoError(t, st.CompleteObjective("o1", types.NewExtensions().With("ok", true)))
	got, err = st.GetObjective("o1")
	require.NoError(t, err)
	assert.Equal(t, types.ObjectiveStatusCompleted, got.Status)
	assert.Equal(t, 100, got.ProgressPercentage)
}

func TestChildObjectivesAndListObjectivesStatusFilter(t *testing.T) {
	st := newTestDB(t)
	parent := newTestObjective("parent", "/a")
	require.NoError(t, st.CreateObjective(parent))

	child := newTestObjective("child", "/a")
	child.ParentObjectiveID = strPtr("parent")
	child.Status = types.ObjectiveStatusInProgress
	require.NoError(t, st.CreateObjective(child))

	children, err := st.ChildObjectives("parent")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "child", children[0].ID)

	pending := types.ObjectiveStatusPending
	list, err := st.ListObjectives("/a", &pending)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "parent", list[0].ID)
}

func strPtr(s string) *string { return &s }

func TestGetDependenciesAndDependents(t *testing.T) {
	st := newTestDB(t)
	base := newTestObjective("base", "/a")
	require.NoError(t, st.CreateObjective(base))

	dependent := newTestObjective("dependent", "/a")
	dependent.Requirements.Dependencies = []string{"base", "missing"}
	require.NoError(t, st.CreateObjective(dependent))

	unrelated := newTestObjective("unrelated", "/a")
	require.NoError(t, st.CreateObjective(unrelated))

	deps, err := st.GetDependencies("dependent")
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "base", deps[0].ID)

	dependents, err := st.GetDependents("base", "/a")
	require.NoError(t, err)
	require.Len(t, dependents, 1)
	assert.Equal(t, "dependent", dependents[0].ID)

	none, err := st.GetDependents("unrelated", "/a")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAgentCRUDAndStaleAgents(t *testing.T) {
	st := newTestDB(t)
	now := time.Now().UTC()
	require.NoError(t, st.CreateAgent(&types.Agent{
		ID: "a1", AgentName: "a1", AgentType: "backend", RepositoryPath: "/a",
		Status: types.AgentStatusActive, CreatedAt: now, LastHeartbeat: now, UpdatedAt: now,
	}))

	require.NoError(t, st.UpdateAgentStatus("a1", types.AgentStatusIdle))
	a, err := st.GetAgent("a1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusIdle, a.Status)

	require.NoError(t, st.SetAgentSession("a1", "sess-1"))
	require.NoError(t, st.SetAgentRoom("a1", "room-1"))
	a, err = st.GetAgent("a1")
	require.NoError(t, err)
	require.NotNil(t, a.ConvoSessionID)
	assert.Equal(t, "sess-1", *a.ConvoSessionID)
	require.NotNil(t, a.RoomID)
	assert.Equal(t, "room-1", *a.RoomID)

	stale, err := st.StaleAgents(time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "a1", stale[0].ID)

	notStale, err := st.StaleAgents(time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, notStale)
}

func TestListAgentsPageComputesTotalAndHasMore(t *testing.T) {
	st := newTestDB(t)
	base := time.Now().UTC().Add(-time.Hour)
	for i, name := range []string{"a", "b", "c", "d"} {
		require.NoError(t, st.CreateAgent(&types.Agent{
			ID: name, AgentName: name, AgentType: "backend", RepositoryPath: "/a",
			Status: types.AgentStatusActive,
			CreatedAt: base, LastHeartbeat: base.Add(time.Duration(i) * time.Minute), UpdatedAt: base,
		}))
	}

	page, err := st.ListAgentsPage("/a", nil, 2, 0)
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, []string{"d", "c"}, []string{page.Data[0].ID, page.Data[1].ID})
	assert.Equal(t, 4, page.Total)
	assert.True(t, page.HasMore)

	last, err := st.ListAgentsPage("/a", nil, 2, 2)
	require.NoError(t, err)
	require.Len(t, last.Data, 2)
	assert.Equal(t, 4, last.Total)
	assert.False(t, last.HasMore)
}

func TestFindActiveAgentsAndFindFilteredAgents(t *testing.T) {
	st := newTestDB(t)
	now := time.Now().UTC()
	statuses := map[string]types.AgentStatus{
		"active1": types.AgentStatusActive, "idle1": types.AgentStatusIdle,
		"done1": types.AgentStatusCompleted,
	}
	for id, status := range statuses {
		require.NoError(t, st.CreateAgent(&types.Agent{
			ID: id, AgentName: id, AgentType: "backend", RepositoryPath: "/a",
			Status: status, CreatedAt: now, LastHeartbeat: now, UpdatedAt: now,
		}))
	}

	active, err := st.FindActiveAgents("/a")
	require.NoError(t, err)
	var ids []string
	for _, a := range active {
		ids = append(ids, a.ID)
	}
	assert.ElementsMatch(t, []string{"active1", "idle1"}, ids)

	idle := types.AgentStatusIdle
	filtered, err := st.FindFilteredAgents(AgentFilter{Status: &idle, RepositoryPath: "/a", Limit: 10})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "idle1", filtered[0].ID)
}

func TestUpdateAgentHeartbeatUnknownIDReturnsNotFound(t *testing.T) {
	st := newTestDB(t)
	err := st.UpdateAgentHeartbeat("does-not-exist")
	require.Error(t, err)
	assert.True(t, apperr.Of(err, apperr.KindNotFound))
}

func TestPlanCRUD(t *testing.T) {
	st := newTestDB(t)
	p := &types.Plan{ID: "pl1", RepositoryPath: "/a", Title: "t", Description: "d", Objectives: "build it", Status: types.PlanStatusDraft}
	require.NoError(t, st.CreatePlan(p))

	got, err := st.GetPlan("pl1")
	require.NoError(t, err)
	assert.Equal(t, types.PlanStatusDraft, got.Status)

	require.NoError(t, st.UpdatePlanStatus("pl1", types.PlanStatusApproved))
	got, err = st.GetPlan("pl1")
	require.NoError(t, err)
	assert.Equal(t, types.PlanStatusApproved, got.Status)

	list, err := st.ListPlans("/a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "pl1", list[0].ID)
}

func TestGetPlanNotFound(t *testing.T) {
	st := newTestDB(t)
	_, err := st.GetPlan("missing")
	require.Error(t, err)
	assert.True(t, apperr.Of(err, apperr.KindNotFound))
}

func TestHasVectorSearchReflectsDetection(t *testing.T) {
	st := newTestDB(t)
	assert.False(t, st.HasVectorSearch(), "the in-memory test fixture has no sqlite-vec extension available")
}
