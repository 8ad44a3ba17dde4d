package protocol

import (
	"encoding/json"
	"time"
)

// EventType is the discriminant of an inbound frame.
type EventType string

const (
	EventSessionCreated         EventType = "session_created"
	EventSessionInterrupted     EventType = "session_interrupted"
	EventSessionEnded           EventType = "session_ended"
	EventSessionDeleted         EventType = "session_deleted"
	EventSessionUpdated         EventType = "session_updated"
	EventSessionsList           EventType = "sessions_list"
	EventAllSessionsDeleted     EventType = "all_sessions_deleted"
	EventMessagesLoaded         EventType = "messages_loaded"
	EventAgentMessage           EventType = "agent_message"
	EventAgentThinking          EventType = "agent_thinking"
	EventAgentToolUse           EventType = "agent_tool_use"
	EventAgentError             EventType = "agent_error"
	EventAgentsKilled           EventType = "agents_killed"
	EventPermissionRequest      EventType = "permission_request"
	EventPermissionAcknowledged EventType = "permission_acknowledged"
	EventError                  EventType = "error"
	EventPong                   EventType = "pong"
)

// ActionType is the discriminant of an outbound frame.
type ActionType string

const (
	ActionCreateSession      ActionType = "create_session"
	ActionSendPrompt         ActionType = "send_prompt"
	ActionEndSession         ActionType = "end_session"
	ActionDeleteSession      ActionType = "delete_session"
	ActionDeleteAllSessions  ActionType = "delete_all_sessions"
	ActionKillAllAgents      ActionType = "kill_all_agents"
	ActionInterruptSession   ActionType = "interrupt_session"
	ActionListSessions       ActionType = "list_sessions"
	ActionLoadMessages       ActionType = "load_messages"
	ActionPermissionResponse ActionType = "permission_response"
	ActionAddAlwaysAllowRule ActionType = "add_always_allow_rule"
	ActionPing               ActionType = "ping"
)

// SessionStatus is the lifecycle status of an agent session.
type SessionStatus string

const (
	StatusIdle       SessionStatus = "idle"
	StatusProcessing SessionStatus = "processing"
	StatusEnded      SessionStatus = "ended"
)

// Tool names with special handling.
const (
	ToolBash      = "Bash"
	ToolRead      = "Read"
	ToolWrite     = "Write"
	ToolEdit      = "Edit"
	ToolGrep      = "Grep"
	ToolGlob      = "Glob"
	ToolTodoWrite = "TodoWrite"
)

// ContextCommand is the in-band prompt that asks the agent for its context usage.
const ContextCommand = "/context"

type SessionOptions struct {
	SystemPrompt        string           `json:"system_prompt,omitempty"`
	AgentName           string           `json:"agent_name,omitempty"`
	Tools               []string         `json:"tools,omitempty"`
	WorkingDirectory    string           `json:"working_directory,omitempty"`
	PermissionMode      string           `json:"permission_mode,omitempty"`
	Provider            string           `json:"provider,omitempty"`
	Model               string           `json:"model,omitempty"`
	ConversationHistory []HistoryMessage `json:"conversation_history,omitempty"`
}

// HistoryMessage is one prior turn replayed into a resumed session.
type HistoryMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// Session is the server's view of an agent session.
type Session struct {
	ID           string         `json:"id"`
	CreatedAt    time.Time      `json:"created_at,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at,omitempty"`
	Status       SessionStatus  `json:"status"`
	Options      SessionOptions `json:"options,omitempty"`
	MessageCount int            `json:"message_count"`
	CostUSD      float64        `json:"cost_usd"`
	NumTurns     int            `json:"num_turns"`
	DurationMS   int64          `json:"duration_ms"`
	ModelName    string         `json:"model_name,omitempty"`
	GitBranch    string         `json:"git_branch,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Usage        *Usage         `json:"usage,omitempty"`
}

type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ContentBlock is a text or image block of a structured prompt.
type ContentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *ImageSource `json:"source,omitempty"`
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

func ImageBlock(src ImageSource) ContentBlock {
	return ContentBlock{Type: "image", Source: &src}
}

// ToolUseRef is a tool invocation referenced by an assistant message.
type ToolUseRef struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Input  map[string]any `json:"input,omitempty"`
	Status string         `json:"status,omitempty"`
}

type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   any    `json:"content,omitempty"`
	IsError   bool   `json:"is_error"`
	Status    string `json:"status,omitempty"`
}

// ResultInfo is the terminal payload of a turn.
type ResultInfo struct {
	Success    bool    `json:"success"`
	NumTurns   int     `json:"num_turns"`
	DurationMS int64   `json:"duration_ms"`
	IsError    bool    `json:"is_error"`
	CostUSD    float64 `json:"cost_usd"`
	Usage      *Usage  `json:"usage,omitempty"`
}

// TodoStatus is the state of one TodoWrite entry.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

type TodoItem struct {
	Content    string     `json:"content"`
	Status     TodoStatus `json:"status"`
	ActiveForm string     `json:"activeForm,omitempty"`
}

// MessageRecord is a persisted message as returned by load_messages.
type MessageRecord struct {
	ID              string          `json:"id"`
	SessionID       string          `json:"session_id"`
	Sequence        int             `json:"sequence"`
	Role            string          `json:"role"`
	Content         string          `json:"content"`
	ThinkingContent string          `json:"thinking_content,omitempty"`
	ToolUses        json.RawMessage `json:"tool_uses,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// DecodeToolUses parses the tool_uses JSON column of a persisted message.
func (r MessageRecord) DecodeToolUses() ([]ToolUseRef, error) {
	if len(r.ToolUses) == 0 || string(r.ToolUses) == "null" {
		return nil, nil
	}
	var refs []ToolUseRef
	if err := json.Unmarshal(r.ToolUses, &refs); err != nil {
		// Some rows store the JSON as a quoted string.
		var s string
		if errStr := json.Unmarshal(r.ToolUses, &s); errStr != nil || s == "" {
			return nil, err
		}
		if err := json.Unmarshal([]byte(s), &refs); err != nil {
			return nil, err
		}
	}
	return refs, nil
}
