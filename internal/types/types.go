// Package types defines the entity model shared across the orchestration
// runtime (spec §3): projects, agents, objectives, plans, rooms, messages,
// participants, and scrape jobs. Types here have no dependency on the store
// or any service package, matching the teacher's internal/types package,
// which exists to break import cycles between higher-level packages.
package types

import "time"

// ProjectStatus is the lifecycle status of a registered workspace.
type ProjectStatus string

const (
	ProjectStatusActive       ProjectStatus = "active"
	ProjectStatusConnected    ProjectStatus = "connected"
	ProjectStatusInactive     ProjectStatus = "inactive"
	ProjectStatusDisconnected ProjectStatus = "disconnected"
	ProjectStatusError        ProjectStatus = "error"
)

// Project is a registered workspace.
type Project struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	RepositoryPath  string        `json:"repository_path"`
	ServerType      string        `json:"server_type"`
	ServerPID       *int          `json:"server_pid,omitempty"`
	ServerPort      *int          `json:"server_port,omitempty"`
	Host            string        `json:"host"`
	SessionID       *string       `json:"session_id,omitempty"`
	Status          ProjectStatus `json:"status"`
	StartTime       time.Time     `json:"start_time"`
	LastHeartbeat   time.Time     `json:"last_heartbeat"`
	EndTime         *time.Time    `json:"end_time,omitempty"`
	Metadata        Extensions    `json:"metadata,omitempty"`
	WebUIEnabled    bool          `json:"web_ui_enabled"`
	WebUIPort       *int          `json:"web_ui_port,omitempty"`
	WebUIHost       string        `json:"web_ui_host"`
}

// AgentStatus is the lifecycle status of an agent/session.
type AgentStatus string

const (
	AgentStatusInitializing AgentStatus = "initializing"
	AgentStatusActive       AgentStatus = "active"
	AgentStatusIdle         AgentStatus = "idle"
	AgentStatusCompleted    AgentStatus = "completed"
	AgentStatusTerminated   AgentStatus = "terminated"
	AgentStatusFailed       AgentStatus = "failed"
)

// IsTerminal reports whether s is a sticky terminal status.
func (s AgentStatus) IsTerminal() bool {
	return s == AgentStatusCompleted || s == AgentStatusTerminated || s == AgentStatusFailed
}

// Agent is a supervised long-running child process plus its persistent record.
type Agent struct {
	ID              string      `json:"id"`
	AgentName       string      `json:"agent_name"`
	AgentType       string      `json:"agent_type,omitempty"`
	RepositoryPath  string      `json:"repository_path"`
	Status          AgentStatus `json:"status"`
	Capabilities    []string    `json:"capabilities,omitempty"`
	DependsOn       []string    `json:"depends_on,omitempty"`
	ClaudePID       *int        `json:"claude_pid,omitempty"`
	ConvoSessionID  *string     `json:"convo_session_id,omitempty"`
	RoomID          *string     `json:"room_id,omitempty"`
	AgentMetadata   Extensions  `json:"agent_metadata,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	LastHeartbeat   time.Time   `json:"last_heartbeat"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// ObjectiveType enumerates the kinds of work an objective represents.
type ObjectiveType string

const (
	ObjectiveTypeFeature       ObjectiveType = "feature"
	ObjectiveTypeBugFix        ObjectiveType = "bug_fix"
	ObjectiveTypeRefactor      ObjectiveType = "refactor"
	ObjectiveTypeAnalysis      ObjectiveType = "analysis"
	ObjectiveTypeTesting       ObjectiveType = "testing"
	ObjectiveTypeDocumentation ObjectiveType = "documentation"
	ObjectiveTypeDeployment    ObjectiveType = "deployment"
	ObjectiveTypeSetup         ObjectiveType = "setup"
	ObjectiveTypeMaintenance   ObjectiveType = "maintenance"
	ObjectiveTypeOptimization  ObjectiveType = "optimization"
)

// ObjectiveStatus is the status of an objective's state machine.
type ObjectiveStatus string

const (
	ObjectiveStatusPending    ObjectiveStatus = "pending"
	ObjectiveStatusInProgress ObjectiveStatus = "in_progress"
	ObjectiveStatusCompleted  ObjectiveStatus = "completed"
	ObjectiveStatusFailed     ObjectiveStatus = "failed"
)

// IsTerminal reports whether s is a sticky terminal status.
func (s ObjectiveStatus) IsTerminal() bool {
	return s == ObjectiveStatusCompleted || s == ObjectiveStatusFailed
}

// Requirements is the schema-less-in-source payload carrying dependency
// edges and orchestration/plan linkage for an objective. See
// internal/types/extensions.go for the typed-sum-plus-bag model.
type Requirements struct {
	Dependencies     []string   `json:"dependencies,omitempty"`
	PlanID           *string    `json:"plan_id,omitempty"`
	SectionID        *string    `json:"section_id,omitempty"`
	OrchestrationID  *string    `json:"orchestration_id,omitempty"`
	Specialization   string     `json:"specialization,omitempty"`
	Extensions       Extensions `json:"extensions,omitempty"`
}

// Objective is a unit of work with status, dependencies, and optional hierarchy.
type Objective struct {
	ID                 string          `json:"id"`
	RepositoryPath     string          `json:"repository_path"`
	ObjectiveType      ObjectiveType   `json:"objective_type"`
	Description        string          `json:"description"`
	Requirements       Requirements    `json:"requirements"`
	Status             ObjectiveStatus `json:"status"`
	Priority           int             `json:"priority"`
	AssignedAgentID    *string         `json:"assigned_agent_id,omitempty"`
	ParentObjectiveID  *string         `json:"parent_objective_id,omitempty"`
	Results            Extensions      `json:"results,omitempty"`
	ProgressPercentage int             `json:"progress_percentage"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// PlanStatus is the lifecycle status of a plan.
type PlanStatus string

const (
	PlanStatusDraft      PlanStatus = "draft"
	PlanStatusApproved   PlanStatus = "approved"
	PlanStatusInProgress PlanStatus = "in_progress"
	PlanStatusCompleted  PlanStatus = "completed"
)

// ObjectiveTemplate is materialized into an Objective when a plan section executes.
type ObjectiveTemplate struct {
	Description      string        `json:"description"`
	ObjectiveType    ObjectiveType `json:"objective_type"`
	EstimatedHours   float64       `json:"estimated_hours"`
	Dependencies     []int         `json:"dependencies,omitempty"` // indices into the owning section's templates
}

// Section groups related objective templates within a plan.
type Section struct {
	ID                   string              `json:"id"`
	Type                 string              `json:"type"`
	Title                string              `json:"title"`
	Description          string              `json:"description"`
	AgentResponsibility  string              `json:"agent_responsibility"`
	EstimatedHours       float64             `json:"estimated_hours"`
	Priority             int                 `json:"priority"`
	Prerequisites        []string            `json:"prerequisites,omitempty"`
	ObjectiveTemplates   []ObjectiveTemplate `json:"objective_templates"`
}

// Plan is a template that materializes objectives when executed.
type Plan struct {
	ID             string     `json:"id"`
	RepositoryPath string     `json:"repository_path"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Objectives     string     `json:"objectives"`
	Sections       []Section  `json:"sections"`
	Metadata       Extensions `json:"metadata,omitempty"`
	Status         PlanStatus `json:"status"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Room is a named, ordered message log scoped to a repository.
type Room struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	RepositoryPath string     `json:"repository_path"`
	RoomMetadata   Extensions `json:"room_metadata,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	CloseReason    string     `json:"close_reason,omitempty"`
}

// MessageType classifies a room message.
type MessageType string

const (
	MessageTypeChat     MessageType = "chat"
	MessageTypeSystem   MessageType = "system"
	MessageTypeStatus   MessageType = "status"
	MessageTypeProgress MessageType = "progress"
)

// Message is an append-only, ordered entry in a room's log.
type Message struct {
	ID        string      `json:"id"`
	RoomID    string      `json:"room_id"`
	AgentName string      `json:"agent_name"`
	Message   string      `json:"message"`
	Type      MessageType `json:"message_type"`
	Timestamp time.Time   `json:"timestamp"`
}

// ParticipantStatus is a room participant's membership status.
type ParticipantStatus string

const (
	ParticipantStatusActive   ParticipantStatus = "active"
	ParticipantStatusInactive ParticipantStatus = "inactive"
)

// Participant records an agent's membership in a room.
type Participant struct {
	RoomID  string            `json:"room_id"`
	AgentID string            `json:"agent_id"`
	Status  ParticipantStatus `json:"status"`
}

// ScrapeJobStatus is the lifecycle status of a leased crawler job.
type ScrapeJobStatus string

const (
	ScrapeJobStatusPending   ScrapeJobStatus = "pending"
	ScrapeJobStatusRunning   ScrapeJobStatus = "running"
	ScrapeJobStatusCompleted ScrapeJobStatus = "completed"
	ScrapeJobStatusFailed    ScrapeJobStatus = "failed"
	ScrapeJobStatusCancelled ScrapeJobStatus = "cancelled"
	ScrapeJobStatusTimeout   ScrapeJobStatus = "timeout"
)

// IsTerminal reports whether s is a sticky terminal status.
func (s ScrapeJobStatus) IsTerminal() bool {
	switch s {
	case ScrapeJobStatusCompleted, ScrapeJobStatusFailed, ScrapeJobStatusCancelled, ScrapeJobStatusTimeout:
		return true
	}
	return false
}

// JobData carries the crawler's selectors/patterns for a scrape job.
type JobData struct {
	Selectors  []string   `json:"selectors,omitempty"`
	Patterns   []string   `json:"patterns,omitempty"`
	MaxPages   int        `json:"max_pages"`
	Extensions Extensions `json:"extensions,omitempty"`
}

// ScrapeJob is a single-owner leased job in the crawler's persistent queue.
type ScrapeJob struct {
	ID                string          `json:"id"`
	SourceID          string          `json:"source_id"`
	JobData           JobData         `json:"job_data"`
	Status            ScrapeJobStatus `json:"status"`
	Priority          int             `json:"priority"`
	LockedBy          *string         `json:"locked_by,omitempty"`
	LockedAt          *time.Time      `json:"locked_at,omitempty"`
	LockTimeoutSeconds int            `json:"lock_timeout_seconds"`
	PagesScraped      int             `json:"pages_scraped"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	ResultData        Extensions      `json:"result_data,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}
