// Package api implements the tool/request surface spec §6 exposes to
// callers (an MCP host, a CLI, a dashboard action): each operation accepts
// a structured request — tolerant of both camelCase and snake_case field
// names — and returns {success, message, data|error}, the shape the
// teacher's own tool layer uses for every tool result.
package api

import (
	"strings"

	"zmcptools/internal/agent"
	"zmcptools/internal/apperr"
	"zmcptools/internal/objective"
	"zmcptools/internal/orchestrator"
	"zmcptools/internal/progress"
	"zmcptools/internal/room"
	"zmcptools/internal/store"
)

// Response is the uniform envelope every operation returns.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func ok(message string, data interface{}) Response {
	return Response{Success: true, Message: message, Data: data}
}

func fail(err error) Response {
	return Response{Success: false, Error: err.Error()}
}

// missingFields builds an InvalidArgument error naming the required fields
// spec §6's operation table lists that were absent from the request.
func missingFields(names ...string) error {
	return apperr.New(apperr.KindInvalidArgument, "missing required field(s): %s", strings.Join(names, ", "))
}

// Service composes the runtime's service layer into the operations spec §6
// names. It holds no state of its own beyond references to the services it
// fronts.
type Service struct {
	store        *store.Store
	objectives   *objective.Service
	agents       *agent.Service
	rooms        *room.Service
	orchestrator *orchestrator.Orchestrator
	tracker      *progress.Tracker
}

// New constructs an api.Service over the runtime's wired services.
func New(st *store.Store, objectives *objective.Service, agents *agent.Service, rooms *room.Service, orch *orchestrator.Orchestrator, tracker *progress.Tracker) *Service {
	return &Service{store: st, objectives: objectives, agents: agents, rooms: rooms, orchestrator: orch, tracker: tracker}
}

// args is the loosely-typed request shape every operation accepts: a
// decoded JSON object whose keys may be camelCase or snake_case.
type args map[string]interface{}

// field returns the first non-empty string found under any of names.
func (a args) field(names ...string) string {
	for _, n := range names {
		if v, ok := a[n]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// intField returns the first int found under any of names, defaulting to def.
func (a args) intField(def int, names ...string) int {
	for _, n := range names {
		if v, ok := a[n]; ok {
			switch t := v.(type) {
			case int:
				return t
			case int64:
				return int(t)
			case float64:
				return int(t)
			}
		}
	}
	return def
}

// boolField returns the first bool found under any of names, defaulting to def.
func (a args) boolField(def bool, names ...string) bool {
	for _, n := range names {
		if v, ok := a[n]; ok {
			if b, ok := v.(bool); ok {
				return b
			}
		}
	}
	return def
}

// stringSlice returns the first []string-shaped value found under any of names.
func (a args) stringSlice(names ...string) []string {
	for _, n := range names {
		v, ok := a[n]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case []string:
			return t
		case []interface{}:
			out := make([]string, 0, len(t))
			for _, e := range t {
				if s, ok := e.(string); ok {
					out = append(out, s)
				}
			}
			return out
		}
	}
	return nil
}
