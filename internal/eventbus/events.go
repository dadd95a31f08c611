// Package eventbus implements the process-wide typed publish/subscribe bus
// (spec §4.2): the backbone that makes agent completion, room traffic,
// objective transitions, and progress updates observable and awaitable.
package eventbus

import "time"

// Kind identifies one of the exhaustive event kinds the bus carries.
type Kind string

const (
	KindAgentSpawned       Kind = "agent_spawned"
	KindAgentStatusChange  Kind = "agent_status_change"
	KindAgentTerminated    Kind = "agent_terminated"
	KindAgentResumed       Kind = "agent_resumed"
	KindObjectiveCreated   Kind = "objective_created"
	KindObjectiveUpdate    Kind = "objective_update"
	KindObjectiveCompleted Kind = "objective_completed"
	KindRoomCreated        Kind = "room_created"
	KindRoomMessage        Kind = "room_message"
	KindRoomClosed         Kind = "room_closed"
	KindOrchestrationUpdate    Kind = "orchestration_update"
	KindOrchestrationCompleted Kind = "orchestration_completed"
	KindProgressUpdate     Kind = "progress_update"
	KindSystemError        Kind = "system_error"
	KindSystemWarning      Kind = "system_warning"
	KindProjectRegistered  Kind = "project_registered"
	KindProjectStatusChange Kind = "project_status_change"
	KindProjectDisconnected Kind = "project_disconnected"
	KindProjectHeartbeat   Kind = "project_heartbeat"
	KindToolCallStarted    Kind = "tool_call_started"
	KindToolCallCompleted  Kind = "tool_call_completed"
	KindToolCallFailed     Kind = "tool_call_failed"
)

// AllKinds enumerates every event kind the bus carries, for subscribers
// (e.g. the dashboard connector) that mirror the bus wholesale rather than
// reacting to one kind.
var AllKinds = []Kind{
	KindAgentSpawned, KindAgentStatusChange, KindAgentTerminated, KindAgentResumed,
	KindObjectiveCreated, KindObjectiveUpdate, KindObjectiveCompleted,
	KindRoomCreated, KindRoomMessage, KindRoomClosed,
	KindOrchestrationUpdate, KindOrchestrationCompleted,
	KindProgressUpdate, KindSystemError, KindSystemWarning,
	KindProjectRegistered, KindProjectStatusChange, KindProjectDisconnected, KindProjectHeartbeat,
	KindToolCallStarted, KindToolCallCompleted, KindToolCallFailed,
}

// AgentSpawnedPayload is the payload for KindAgentSpawned.
type AgentSpawnedPayload struct {
	Agent          interface{} `json:"agent"`
	RepositoryPath string      `json:"repository_path"`
	Timestamp      time.Time   `json:"timestamp"`
}

// AgentStatusChangePayload is the payload for KindAgentStatusChange.
type AgentStatusChangePayload struct {
	AgentID         string                 `json:"agent_id"`
	PreviousStatus  string                 `json:"previous_status"`
	NewStatus       string                 `json:"new_status"`
	RepositoryPath  string                 `json:"repository_path"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
}

// AgentTerminatedPayload is the payload for KindAgentTerminated.
type AgentTerminatedPayload struct {
	AgentID        string    `json:"agent_id"`
	FinalStatus    string    `json:"final_status"`
	Reason         string    `json:"reason,omitempty"`
	RepositoryPath string    `json:"repository_path"`
	Timestamp      time.Time `json:"timestamp"`
}

// AgentResumedPayload is the payload for KindAgentResumed.
type AgentResumedPayload struct {
	AgentID        string    `json:"agent_id"`
	RepositoryPath string    `json:"repository_path"`
	Timestamp      time.Time `json:"timestamp"`
}

// ObjectiveCreatedPayload is the payload for KindObjectiveCreated.
type ObjectiveCreatedPayload struct {
	Objective      interface{} `json:"objective"`
	RepositoryPath string      `json:"repository_path"`
	Timestamp      time.Time   `json:"timestamp"`
}

// ObjectiveUpdatePayload is the payload for KindObjectiveUpdate.
type ObjectiveUpdatePayload struct {
	ObjectiveID        string                 `json:"objective_id"`
	PreviousStatus     string                 `json:"previous_status,omitempty"`
	NewStatus          string                 `json:"new_status"`
	AssignedAgentID    string                 `json:"assigned_agent_id,omitempty"`
	ProgressPercentage *int                   `json:"progress_percentage,omitempty"`
	RepositoryPath     string                 `json:"repository_path"`
	Timestamp          time.Time              `json:"timestamp"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

// ObjectiveCompletedPayload is the payload for KindObjectiveCompleted.
type ObjectiveCompletedPayload struct {
	ObjectiveID    string      `json:"objective_id"`
	CompletedBy    string      `json:"completed_by,omitempty"`
	Results        interface{} `json:"results,omitempty"`
	RepositoryPath string      `json:"repository_path"`
	Timestamp      time.Time   `json:"timestamp"`
}

// RoomCreatedPayload is the payload for KindRoomCreated.
type RoomCreatedPayload struct {
	Room           interface{} `json:"room"`
	RepositoryPath string      `json:"repository_path"`
	Timestamp      time.Time   `json:"timestamp"`
}

// RoomMessagePayload is the payload for KindRoomMessage.
type RoomMessagePayload struct {
	RoomName       string      `json:"room_name"`
	Message        interface{} `json:"message"`
	RepositoryPath string      `json:"repository_path"`
	Timestamp      time.Time   `json:"timestamp"`
}

// RoomClosedPayload is the payload for KindRoomClosed.
type RoomClosedPayload struct {
	RoomName       string    `json:"room_name"`
	RepositoryPath string    `json:"repository_path"`
	Timestamp      time.Time `json:"timestamp"`
}

// OrchestrationPhase enumerates orchestration phases.
type OrchestrationPhase string

const (
	PhaseResearch OrchestrationPhase = "research"
	PhasePlanning OrchestrationPhase = "planning"
	PhaseExecution OrchestrationPhase = "execution"
	PhaseMonitoring OrchestrationPhase = "monitoring"
	PhaseCompletion OrchestrationPhase = "completion"
)

// OrchestrationRunStatus enumerates the status of a single orchestration_update.
type OrchestrationRunStatus string

const (
	RunStatusStarted    OrchestrationRunStatus = "started"
	RunStatusInProgress OrchestrationRunStatus = "in_progress"
	RunStatusCompleted  OrchestrationRunStatus = "completed"
	RunStatusFailed     OrchestrationRunStatus = "failed"
)

// OrchestrationUpdatePayload is the payload for KindOrchestrationUpdate.
type OrchestrationUpdatePayload struct {
	OrchestrationID    string                 `json:"orchestration_id"`
	Phase              OrchestrationPhase     `json:"phase"`
	Status             OrchestrationRunStatus `json:"status"`
	AgentCount         int                    `json:"agent_count"`
	CompletedObjectives int                   `json:"completed_objectives"`
	TotalObjectives    int                    `json:"total_objectives"`
	Progress           int                    `json:"progress"`
	RepositoryPath     string                 `json:"repository_path"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
	Timestamp          time.Time              `json:"timestamp"`
}

// OrchestrationCompletedPayload is the payload for KindOrchestrationCompleted.
type OrchestrationCompletedPayload struct {
	OrchestrationID string      `json:"orchestration_id"`
	Success         bool        `json:"success"`
	Duration        time.Duration `json:"duration"`
	FinalResults    interface{} `json:"final_results,omitempty"`
	Error           string      `json:"error,omitempty"`
	RepositoryPath  string      `json:"repository_path"`
	Timestamp       time.Time   `json:"timestamp"`
}

// ProgressContextType enumerates the kind of context progress is reported against.
type ProgressContextType string

const (
	ContextTypeAgent        ProgressContextType = "agent"
	ContextTypeOrchestration ProgressContextType = "orchestration"
	ContextTypeObjective    ProgressContextType = "objective"
	ContextTypeMonitoring   ProgressContextType = "monitoring"
)

// ProgressUpdatePayload is the payload for KindProgressUpdate.
type ProgressUpdatePayload struct {
	ContextID       string               `json:"context_id"`
	ContextType     ProgressContextType  `json:"context_type"`
	AgentID         string               `json:"agent_id,omitempty"`
	ReportedProgress int                 `json:"reported_progress"`
	Message         string               `json:"message,omitempty"`
	RepositoryPath  string               `json:"repository_path"`
	Timestamp       time.Time            `json:"timestamp"`
}

// SystemErrorPayload is the payload for KindSystemError/KindSystemWarning.
type SystemErrorPayload struct {
	Error          string    `json:"error"`
	Context        string    `json:"context,omitempty"`
	RepositoryPath string    `json:"repository_path,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ProjectEventPayload is the shared payload shape for project_* events.
type ProjectEventPayload struct {
	Project        interface{} `json:"project"`
	RepositoryPath string      `json:"repository_path"`
	Timestamp      time.Time   `json:"timestamp"`
}

// ToolCallPayload is the opaque payload forwarded for tool_call_* events.
type ToolCallPayload struct {
	ToolName       string      `json:"tool_name"`
	CallID         string      `json:"call_id"`
	RepositoryPath string      `json:"repository_path,omitempty"`
	Data           interface{} `json:"data,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}
