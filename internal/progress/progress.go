// Package progress implements ProgressTracker (spec §4.8): monotonic,
// throttled progress aggregation per (context_id, context_type), with an
// optional forwarding hook for an external transport (e.g. an MCP progress
// token).
package progress

import (
	"sync"
	"time"

	"zmcptools/internal/eventbus"
)

// MinEmitInterval and MinEmitDelta bound how often a context re-emits
// progress_update (spec §4.8): at most once per second OR per 5-point move,
// whichever is sooner, except progress reaching 100 which always emits.
const (
	MinEmitInterval = time.Second
	MinEmitDelta    = 5
)

type contextKey struct {
	ID   string
	Type eventbus.ProgressContextType
}

type contextState struct {
	progress        int
	lastEmittedProgress int
	lastEmit        time.Time
	updatedAt       time.Time
	children        map[string]int // agent_id -> last reported progress, for aggregate contexts
}

// Tracker holds per-context progress state and emits progress_update on bus.
type Tracker struct {
	bus *eventbus.Bus

	mu    sync.Mutex
	state map[contextKey]*contextState
}

// New constructs a Tracker publishing to bus.
func New(bus *eventbus.Bus) *Tracker {
	return &Tracker{bus: bus, state: make(map[contextKey]*contextState)}
}

// ReportResult is the outcome of ReportContextProgress.
type ReportResult struct {
	ReportedProgress int
}

// ReportContextProgress records progress for (contextID, contextType),
// enforcing monotonic non-decrease: a regression returns the previously
// stored value unchanged, but still bumps updated_at and still emits
// progress_update (spec §4.8).
func (t *Tracker) ReportContextProgress(contextID string, contextType eventbus.ProgressContextType, agentID string, reported int, message string, repositoryPath string) ReportResult {
	if reported < 0 {
		reported = 0
	}
	if reported > 100 {
		reported = 100
	}

	key := contextKey{ID: contextID, Type: contextType}
	t.mu.Lock()
	st, ok := t.state[key]
	if !ok {
		st = &contextState{children: make(map[string]int)}
		t.state[key] = st
	}

	now := time.Now().UTC()
	effective := reported
	if effective < st.progress {
		effective = st.progress
	}
	if agentID != "" {
		st.children[agentID] = effective
	}
	st.progress = effective
	st.updatedAt = now

	shouldEmit := st.lastEmit.IsZero() ||
		effective == 100 ||
		now.Sub(st.lastEmit) >= MinEmitInterval ||
		abs(effective-st.lastEmittedProgress) >= MinEmitDelta
	if shouldEmit {
		st.lastEmit = now
		st.lastEmittedProgress = effective
	}
	t.mu.Unlock()

	if shouldEmit {
		t.bus.Emit(eventbus.KindProgressUpdate, eventbus.ProgressUpdatePayload{
			ContextID: contextID, ContextType: contextType, AgentID: agentID,
			ReportedProgress: effective, Message: message, RepositoryPath: repositoryPath,
			Timestamp: now,
		}, eventbus.Fields{RepositoryPath: repositoryPath, AgentID: agentID})
	}

	return ReportResult{ReportedProgress: effective}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// ContextProgress is the result of GetContextProgress.
type ContextProgress struct {
	TotalProgress int
	AgentCount    int
}

// GetContextProgress returns the stored progress for a context, averaging
// over agent-scoped children when present (spec §4.8).
func (t *Tracker) GetContextProgress(contextID string, contextType eventbus.ProgressContextType) ContextProgress {
	key := contextKey{ID: contextID, Type: contextType}
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.state[key]
	if !ok {
		return ContextProgress{}
	}
	if len(st.children) == 0 {
		return ContextProgress{TotalProgress: st.progress, AgentCount: 0}
	}

	sum := 0
	for _, p := range st.children {
		sum += p
	}
	return ContextProgress{TotalProgress: sum / len(st.children), AgentCount: len(st.children)}
}

// Updater is the opaque function returned by CreateMcpProgressUpdater.
type Updater func(progress int, message string)

// TransportSink forwards a progress notification to an external transport
// (e.g. an MCP client waiting on a progress token). Implementations must not
// block the caller.
type TransportSink func(token string, progress int, message string)

// CreateMcpProgressUpdater returns a function that updates the tracker and,
// when sink is non-nil, forwards the same notification to an external
// transport keyed by token (spec §4.8).
func (t *Tracker) CreateMcpProgressUpdater(contextID string, contextType eventbus.ProgressContextType, agentID, repositoryPath, token string, sink TransportSink) Updater {
	return func(prog int, message string) {
		result := t.ReportContextProgress(contextID, contextType, agentID, prog, message, repositoryPath)
		if sink != nil && token != "" {
			sink(token, result.ReportedProgress, message)
		}
	}
}
