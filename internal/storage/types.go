// Package storage owns the single SQLite database file that backs the
// gateway: memories, relations, sessions, scheduled items and the profile
// triad. It is the only package in this module that issues SQL.
package storage

import "time"

// MemoryCategory classifies a memory entry.
type MemoryCategory string

const (
	CategoryPreference  MemoryCategory = "preference"
	CategoryFact        MemoryCategory = "fact"
	CategoryEvent       MemoryCategory = "event"
	CategoryRelationship MemoryCategory = "relationship"
	CategoryInsight     MemoryCategory = "insight"
)

// MemoryType distinguishes how a memory row came to exist.
type MemoryType string

const (
	MemoryTypeRegular        MemoryType = "regular"
	MemoryTypeStaticProfile  MemoryType = "static_profile"
	MemoryTypeSummary        MemoryType = "summary"
	MemoryTypeDerived        MemoryType = "derived"
	MemoryTypeSuperseded     MemoryType = "superseded"
)

// Memory is a single content-addressed, versioned memory entry.
type Memory struct {
	ID             string
	UserID         string
	Content        string
	Category       MemoryCategory
	MemoryType     MemoryType
	Importance     int // 1..10
	Confidence     float64
	Prominence     float64
	AccessCount    int
	TimesConfirmed int
	IsLatest       bool
	Source         string
	SourceChunk    string
	LearnedFrom    string
	DocumentDate   time.Time
	EventDate      *time.Time
	LastAccessed   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Embedding      []float32
	ContradictionIDs []string
	Metadata       map[string]any
}

// RelationType is the kind of typed edge between two memories.
type RelationType string

const (
	RelationUpdates RelationType = "UPDATES"
	RelationExtends RelationType = "EXTENDS"
	RelationDerives RelationType = "DERIVES"
)

// MemoryRelation is a typed, directed edge between two memory rows.
type MemoryRelation struct {
	ID           string
	SourceID     string
	TargetID     string
	RelationType RelationType
	Confidence   float64
	CreatedAt    time.Time
}

// Session is one channel conversation.
type Session struct {
	ID        string
	Source    string
	CreatedAt time.Time
}

// MessageRole identifies the speaker of a session message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// SessionMessage is one append-only turn in a session.
type SessionMessage struct {
	ID        string
	SessionID string
	Role      MessageRole
	Content   string
	CreatedAt time.Time
}

// SessionSummary is the offline-produced digest of a session.
type SessionSummary struct {
	SessionID   string
	UserID      string
	Summary     string
	Topics      []string
	MessageCount int
	DurationMS  int64
	Embedding   []float32
	CreatedAt   time.Time
}

// ScheduledItemSource distinguishes user-originated reminders from
// agent-originated nudges.
type ScheduledItemSource string

const (
	SourceUser  ScheduledItemSource = "user"
	SourceAgent ScheduledItemSource = "agent"
)

// ScheduledItemKind is the queue-entry kind.
type ScheduledItemKind string

const (
	KindNudge ScheduledItemKind = "nudge"
	KindTask  ScheduledItemKind = "task"
)

// ScheduledItemStatus is the queue-processing state.
type ScheduledItemStatus string

const (
	StatusPending    ScheduledItemStatus = "pending"
	StatusProcessing ScheduledItemStatus = "processing"
	StatusFired      ScheduledItemStatus = "fired"
	StatusActed      ScheduledItemStatus = "acted"
	StatusExpired    ScheduledItemStatus = "expired"
)

// BoardStatus is the scheduler-facing lifecycle, independent of Status.
type BoardStatus string

const (
	BoardScheduled  BoardStatus = "scheduled"
	BoardWaiting    BoardStatus = "waiting"
	BoardInProgress BoardStatus = "in_progress"
	BoardDone       BoardStatus = "done"
	BoardArchived   BoardStatus = "archived"
)

// RecurrenceType is the cadence of a recurring scheduled item.
type RecurrenceType string

const (
	RecurDaily    RecurrenceType = "daily"
	RecurWeekly   RecurrenceType = "weekly"
	RecurWeekdays RecurrenceType = "weekdays"
	RecurWeekends RecurrenceType = "weekends"
)

// Recurrence describes how a fired item re-materializes.
type Recurrence struct {
	Type      RecurrenceType
	Hour      int
	Minute    int
	DayOfWeek *int // 0=Sunday, required when Type==RecurWeekly
}

// ScheduledItemResult is the outcome recorded once an item fires.
type ScheduledItemResult struct {
	Response        string     `json:"response"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	IterationsUsed  *int       `json:"iterationsUsed,omitempty"`
	NotifiedAt      *time.Time `json:"notifiedAt,omitempty"`
}

// ScheduledItem is one row in the durable work queue.
type ScheduledItem struct {
	ID              string
	UserID          string
	SessionID       string
	Source          ScheduledItemSource
	Kind            ScheduledItemKind
	Type            string
	Message         string
	Context         map[string]any
	TriggerAt       time.Time
	Status          ScheduledItemStatus
	BoardStatus     BoardStatus
	Recurring       *Recurrence
	SourceMemoryID  string
	TaskConfig      map[string]any
	DependsOn       []string
	Priority        int
	Labels          []string
	GoalID          string
	Result          *ScheduledItemResult
	FiredAt         *time.Time
	ActedAt         *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StaticProfile is a confirmed key/value fact about a user.
type StaticProfile struct {
	UserID     string
	Key        string
	Value      string
	Confidence float64
	UpdatedAt  time.Time
}

// DynamicProfile is the fast-changing slice of a user's state.
type DynamicProfile struct {
	UserID             string
	RecentTopics       []string
	ActiveProjects     []string
	CurrentMood        string
	LastInteractionAt  time.Time
}

// BehavioralPattern is the slowly-learned shape of how a user interacts.
type BehavioralPattern struct {
	UserID              string
	CommunicationStyle  string
	ExpertiseAreas      []string
	ActiveHours         []int
	ResponsePreferences map[string]any
	MessageFrequency    float64
	SessionEngagement   float64
	TopicSwitch         float64
	ResponseLength      float64
	AffectValence       float64
	AffectArousal       float64
	SmoothedValence     float64
	SmoothedArousal     float64
	LastAnalyzedCount   int
	UpdatedAt           time.Time
}

// RuntimeKey is a gated-skill secret stored in the runtime vault.
type RuntimeKey struct {
	Key       string
	Value     string
	CreatedAt time.Time
}

// MemoryFilter narrows GetMemoriesByUser.
type MemoryFilter struct {
	Category    MemoryCategory
	MemoryType  MemoryType
	LatestOnly  bool
	Limit       int
	Offset      int
}
