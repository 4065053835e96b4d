// Package validate normalizes and validates raw ingest event payloads
// against the AgentMonitor event contract before they reach storage.
package validate

// EventTypes is the fixed set of recognized event_type values.
var EventTypes = []string{
	"tool_use", "session_start", "session_end", "error",
	"llm_request", "llm_response", "response", "file_change",
	"git_commit", "plan_step", "user_prompt",
}

// EventStatuses is the fixed set of recognized status values.
var EventStatuses = []string{"success", "error", "timeout"}

// EventSources is the fixed set of recognized source values.
var EventSources = []string{"api", "hook", "otel", "import"}

func isOneOf(value string, allowed []string) bool {
	for _, v := range allowed {
		if value == v {
			return true
		}
	}
	return false
}

// NormalizedEvent is a validated, shape-correct ingest event ready for the
// ingest pipeline. Optional fields are nil/zero rather than empty strings
// when absent, matching the data model's nullable-column semantics.
type NormalizedEvent struct {
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
	Metadata         any
	Model            *string
	CostUSD          *float64
	Source           string
}

// FieldError names the field that failed validation and why.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}
