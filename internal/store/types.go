package store

// Source identifies where an event originated, per the contract's
// EVENT_SOURCES enum.
type Source string

const (
	SourceAPI    Source = "api"
	SourceHook   Source = "hook"
	SourceOTel   Source = "otel"
	SourceImport Source = "import"
)

// SessionStatus is the lifecycle state of a session (spec §4.5).
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionIdle   SessionStatus = "idle"
	SessionEnded  SessionStatus = "ended"
)

// Agent is the agents table row shape.
type Agent struct {
	ID           string
	AgentType    string
	Name         *string
	RegisteredAt string
	LastSeenAt   string
}

// Session is the sessions table row shape.
type Session struct {
	ID          string
	AgentID     string
	AgentType   string
	Project     *string
	Branch      *string
	Status      SessionStatus
	StartedAt   string
	EndedAt     *string
	LastEventAt string
	Metadata    string
}

// Event is the events table row shape.
type Event struct {
	ID               int64
	EventID          *string
	SchemaVersion    int
	SessionID        string
	AgentType        string
	EventType        string
	ToolName         *string
	Status           string
	TokensIn         int64
	TokensOut        int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	Branch           *string
	Project          *string
	DurationMS       *int64
	CreatedAt        string
	ClientTimestamp  *string
	Metadata         string
	PayloadTruncated bool
	Model            *string
	CostUSD          *float64
	Source           Source
}

// ImportStateRow is the import_state table row shape.
type ImportStateRow struct {
	FilePath       string
	FileHash       string
	FileSize       int64
	Source         string
	EventsImported int64
	ImportedAt     string
}

// InsertEventParams is the normalized shape insert_event accepts; it is the
// storage-layer sibling of validate.NormalizedEvent and
// otelingest/importer's derived events, letting every producer feed the
// same write path.
type InsertEventParams struct {
	EventID          *string
	SessionID        string
	AgentType        string
	EventType        string
	ToolName         *string
	Status           string
	TokensIn         int64
	TokensOut        int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	Branch           *string
	Project          *string
	DurationMS       *int64
	ClientTimestamp  *string
	Metadata         string
	PayloadTruncated bool
	Model            *string
	CostUSD          *float64
	Source           Source
}

// InsertEventResult reports what insert_event actually did.
type InsertEventResult struct {
	Event     Event
	Duplicate bool
}
