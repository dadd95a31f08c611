// Package depwait implements DependencyWaiter (spec §4.7): awaiting the
// completion of a set of agents or objectives via the event bus, with a
// collect-all-settled result shape rather than fail-fast.
package depwait

import (
	"time"

	"zmcptools/internal/eventbus"
	"zmcptools/internal/logging"
	"zmcptools/internal/store"
	"zmcptools/internal/types"
)

// DefaultTimeout is the fallback wait budget when a caller passes TimeoutMS<=0,
// matching spec §5/§6's documented default of 10 minutes (600000ms).
const DefaultTimeout = 10 * time.Minute

// Waiter resolves dependency sets against the store's current state plus
// live event-bus signals.
type Waiter struct {
	store *store.Store
	bus   *eventbus.Bus
}

// New constructs a Waiter over st, observing bus for terminal signals.
func New(st *store.Store, bus *eventbus.Bus) *Waiter {
	return &Waiter{store: st, bus: bus}
}

// AgentWaitOptions configures WaitForAgentDependencies.
type AgentWaitOptions struct {
	TimeoutMS       int
	WaitForAnyFailure bool
}

// AgentWaitResult is the outcome of WaitForAgentDependencies.
type AgentWaitResult struct {
	Success         bool
	CompletedAgents []string
	FailedAgents    []string
	TimeoutAgents   []string
	Message         string
	WaitDuration    time.Duration
}

// isTerminalAgentStatus reports whether s settles a dependency without
// waiting on the bus.
func isTerminalAgentStatus(s types.AgentStatus) bool {
	return s.IsTerminal()
}

// WaitForAgentDependencies blocks until every id in dependsOn has reached a
// terminal state (completed, terminated, or failed) or the global timeout
// elapses, using the first of agent_status_change(terminal), agent_terminated,
// or objective_completed(completed_by==agent_id) as the settling signal for
// each dependency (spec §4.7).
func (w *Waiter) WaitForAgentDependencies(dependsOn []string, repositoryPath string, opts AgentWaitOptions) AgentWaitResult {
	start := time.Now()
	result := AgentWaitResult{}

	pending := make(map[string]bool, len(dependsOn))
	for _, id := range dependsOn {
		a, err := w.store.GetAgent(id)
		if err != nil {
			result.TimeoutAgents = append(result.TimeoutAgents, id)
			continue
		}
		if isTerminalAgentStatus(a.Status) {
			if a.Status == types.AgentStatusCompleted {
				result.CompletedAgents = append(result.CompletedAgents, id)
			} else {
				result.FailedAgents = append(result.FailedAgents, id)
			}
			continue
		}
		pending[id] = true
	}

	if len(pending) == 0 {
		return finalizeAgentResult(result, start, opts)
	}

	settled := make(chan string, len(pending))
	unsub := w.subscribeAgentSettlement(repositoryPath, pending, settled)
	defer unsub()

	timeout := time.Duration(opts.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.After(timeout)

	for len(pending) > 0 {
		select {
		case settlement := <-settled:
			id, outcome := splitSettlement(settlement)
			if !pending[id] {
				continue
			}
			delete(pending, id)
			if outcome == types.AgentStatusCompleted {
				result.CompletedAgents = append(result.CompletedAgents, id)
			} else {
				result.FailedAgents = append(result.FailedAgents, id)
			}
		case <-deadline:
			for id := range pending {
				result.TimeoutAgents = append(result.TimeoutAgents, id)
			}
			pending = nil
		}
	}

	return finalizeAgentResult(result, start, opts)
}

// splitSettlement decodes a "<agent_id>\x00<status>" token pushed onto the
// settled channel.
func splitSettlement(s string) (id string, status types.AgentStatus) {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return s[:i], types.AgentStatus(s[i+1:])
		}
	}
	return s, types.AgentStatusFailed
}

func (w *Waiter) subscribeAgentSettlement(repositoryPath string, pending map[string]bool, settled chan<- string) func() {
	statusSub := w.bus.Subscribe(eventbus.KindAgentStatusChange, func(ev eventbus.Event) {
		p, ok := ev.Payload.(eventbus.AgentStatusChangePayload)
		if !ok || !pending[p.AgentID] {
			return
		}
		status := types.AgentStatus(p.NewStatus)
		if status.IsTerminal() {
			settled <- p.AgentID + "\x00" + string(status)
		}
	}, eventbus.Filter{RepositoryPath: repositoryPath})

	termSub := w.bus.Subscribe(eventbus.KindAgentTerminated, func(ev eventbus.Event) {
		p, ok := ev.Payload.(eventbus.AgentTerminatedPayload)
		if !ok || !pending[p.AgentID] {
			return
		}
		settled <- p.AgentID + "\x00" + p.FinalStatus
	}, eventbus.Filter{RepositoryPath: repositoryPath})

	objSub := w.bus.Subscribe(eventbus.KindObjectiveCompleted, func(ev eventbus.Event) {
		p, ok := ev.Payload.(eventbus.ObjectiveCompletedPayload)
		if !ok || p.CompletedBy == "" || !pending[p.CompletedBy] {
			return
		}
		settled <- p.CompletedBy + "\x00" + string(types.AgentStatusCompleted)
	}, eventbus.Filter{RepositoryPath: repositoryPath})

	return func() {
		w.bus.Unsubscribe(statusSub)
		w.bus.Unsubscribe(termSub)
		w.bus.Unsubscribe(objSub)
	}
}

func finalizeAgentResult(result AgentWaitResult, start time.Time, opts AgentWaitOptions) AgentWaitResult {
	result.WaitDuration = time.Since(start)
	result.Success = len(result.FailedAgents) == 0 && len(result.TimeoutAgents) == 0
	switch {
	case len(result.TimeoutAgents) > 0:
		result.Message = "one or more dependencies timed out"
	case len(result.FailedAgents) > 0:
		result.Message = "one or more dependencies failed"
	default:
		result.Message = "all dependencies completed"
	}
	if !opts.WaitForAnyFailure && len(result.FailedAgents) > 0 {
		logging.DependencyDebug("waitForAgentDependencies: %d failed dependencies observed without waitForAnyFailure", len(result.FailedAgents))
	}
	return result
}

// ObjectiveWaitOptions configures WaitForObjectiveDependencies.
type ObjectiveWaitOptions struct {
	TimeoutMS int
}

// ObjectiveWaitResult is the outcome of WaitForObjectiveDependencies.
type ObjectiveWaitResult struct {
	Success             bool
	CompletedObjectives []string
	TimeoutObjectives   []string
	WaitDuration        time.Duration
}

// WaitForObjectiveDependencies blocks until objectiveID's
// requirements.dependencies have all emitted objective_completed, or the
// timeout elapses (spec §4.7).
func (w *Waiter) WaitForObjectiveDependencies(objectiveID, repositoryPath string, opts ObjectiveWaitOptions) (ObjectiveWaitResult, error) {
	start := time.Now()
	obj, err := w.store.GetObjective(objectiveID)
	if err != nil {
		return ObjectiveWaitResult{}, err
	}

	result := ObjectiveWaitResult{}
	pending := make(map[string]bool, len(obj.Requirements.Dependencies))
	for _, depID := range obj.Requirements.Dependencies {
		dep, err := w.store.GetObjective(depID)
		if err != nil {
			result.TimeoutObjectives = append(result.TimeoutObjectives, depID)
			continue
		}
		if dep.Status == types.ObjectiveStatusCompleted {
			result.CompletedObjectives = append(result.CompletedObjectives, depID)
			continue
		}
		pending[depID] = true
	}

	if len(pending) == 0 {
		result.WaitDuration = time.Since(start)
		result.Success = len(result.TimeoutObjectives) == 0
		return result, nil
	}

	settled := make(chan string, len(pending))
	sub := w.bus.Subscribe(eventbus.KindObjectiveCompleted, func(ev eventbus.Event) {
		p, ok := ev.Payload.(eventbus.ObjectiveCompletedPayload)
		if !ok || !pending[p.ObjectiveID] {
			return
		}
		settled <- p.ObjectiveID
	}, eventbus.Filter{RepositoryPath: repositoryPath})
	defer w.bus.Unsubscribe(sub)

	timeout := time.Duration(opts.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.After(timeout)

	for len(pending) > 0 {
		select {
		case id := <-settled:
			if pending[id] {
				delete(pending, id)
				result.CompletedObjectives = append(result.CompletedObjectives, id)
			}
		case <-deadline:
			for id := range pending {
				result.TimeoutObjectives = append(result.TimeoutObjectives, id)
			}
			pending = nil
		}
	}

	result.WaitDuration = time.Since(start)
	result.Success = len(result.TimeoutObjectives) == 0
	return result, nil
}
