package main

import (
	"fmt"

	"zmcptools/internal/agent"
	"zmcptools/internal/api"
	"zmcptools/internal/complexity"
	"zmcptools/internal/depwait"
	"zmcptools/internal/eventbus"
	"zmcptools/internal/jobqueue"
	"zmcptools/internal/knowledge"
	"zmcptools/internal/objective"
	"zmcptools/internal/orchestrator"
	"zmcptools/internal/progress"
	"zmcptools/internal/project"
	"zmcptools/internal/room"
	"zmcptools/internal/store"
)

// runtime composes every service the CLI commands front, built once per
// invocation from the loaded config.
type runtime struct {
	store        *store.Store
	bus          *eventbus.Bus
	objectives   *objective.Service
	agents       *agent.Service
	rooms        *room.Service
	waiter       *depwait.Waiter
	tracker      *progress.Tracker
	knowledge    *knowledge.Store
	projects     *project.Service
	orchestrator *orchestrator.Orchestrator
	jobs         *jobqueue.Queue
	api          *api.Service
}

// openRuntime opens the store at cfg's data directory and wires every
// service on top of it, mirroring the teacher's single composition root
// in cmd/nerd/main.go.
func openRuntime() (*runtime, error) {
	st, err := store.Open(cfg.Server.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	bus := eventbus.New()
	rooms := room.New(st, bus)
	agents := agent.New(st, bus, rooms)
	objectives := objective.New(st, bus)
	waiter := depwait.New(st, bus)
	tracker := progress.New(bus)

	knowledgeStore, err := knowledge.Open(st.DB(), st.HasVectorSearch(), 768)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open knowledge store: %w", err)
	}

	projects := project.New(st, bus)

	analyzer := complexity.NewHeuristicAnalyzer("")
	orch := orchestrator.New(bus, objectives, rooms, agents, waiter, tracker, knowledgeStore, projects, analyzer)

	jobs := jobqueue.New(st, bus)
	apiSvc := api.New(st, objectives, agents, rooms, orch, tracker)

	return &runtime{
		store: st, bus: bus, objectives: objectives, agents: agents, rooms: rooms,
		waiter: waiter, tracker: tracker, knowledge: knowledgeStore, projects: projects,
		orchestrator: orch, jobs: jobs, api: apiSvc,
	}, nil
}

func (r *runtime) Close() error {
	return r.store.Close()
}
