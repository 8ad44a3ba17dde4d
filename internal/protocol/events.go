package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// EventConnectionLost is never sent by the server; the transport synthesizes
// it when the socket drops.
const EventConnectionLost EventType = "connection_lost"

// EventTimerFired is synthesized after a local timer changed state, such as
// todo expiry or a context request timeout.
const EventTimerFired EventType = "timer_fired"

var (
	ErrUnknownEvent = errors.New("unknown event type")
	ErrInvalidFrame = errors.New("invalid frame")
)

// Event is one decoded inbound frame.
type Event interface {
	Kind() EventType
}

type normalizer interface {
	normalize()
}

type SessionCreated struct {
	SessionID string  `json:"session_id"`
	Session   Session `json:"session"`
	Status    string  `json:"status,omitempty"`
}

func (*SessionCreated) Kind() EventType { return EventSessionCreated }

func (e *SessionCreated) normalize() {
	if e.Session.ID == "" {
		e.Session.ID = e.SessionID
	}
	if e.SessionID == "" {
		e.SessionID = e.Session.ID
	}
	if e.Session.Status == "" {
		e.Session.Status = StatusIdle
	}
}

type SessionInterrupted struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status,omitempty"`
}

func (*SessionInterrupted) Kind() EventType { return EventSessionInterrupted }

type SessionEnded struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status,omitempty"`
}

func (*SessionEnded) Kind() EventType { return EventSessionEnded }

type SessionDeleted struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status,omitempty"`
}

func (*SessionDeleted) Kind() EventType { return EventSessionDeleted }

type SessionUpdated struct {
	SessionID string  `json:"session_id"`
	GitBranch *string `json:"git_branch,omitempty"`
}

func (*SessionUpdated) Kind() EventType { return EventSessionUpdated }

type SessionsList struct {
	Sessions []Session `json:"sessions"`
}

func (*SessionsList) Kind() EventType { return EventSessionsList }

type AllSessionsDeleted struct {
	Count int `json:"count"`
}

func (*AllSessionsDeleted) Kind() EventType { return EventAllSessionsDeleted }

type AgentsKilled struct {
	Count int `json:"count"`
}

func (*AgentsKilled) Kind() EventType { return EventAgentsKilled }

type MessagesLoaded struct {
	SessionID string          `json:"session_id"`
	Messages  []MessageRecord `json:"messages"`
	HasMore   bool            `json:"has_more"`
	Count     int             `json:"count"`
	Limit     int             `json:"limit"`
	Offset    int             `json:"offset"`
}

func (*MessagesLoaded) Kind() EventType { return EventMessagesLoaded }

type MessageMetadata struct {
	GitBranch string `json:"git_branch,omitempty"`
}

// AgentMessage carries one piece of agent output. Content is kept raw
// because the server sends either a plain string or a tagged object;
// use Body to interpret it.
type AgentMessage struct {
	SessionID string           `json:"session_id"`
	Content   json.RawMessage  `json:"content"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
	MessageID string           `json:"message_id,omitempty"`
	Complete  *bool            `json:"complete,omitempty"`
}

func (*AgentMessage) Kind() EventType { return EventAgentMessage }

type ContentKind string

const (
	ContentText      ContentKind = "text"
	ContentAssistant ContentKind = "assistant"
	ContentUser      ContentKind = "user"
	ContentResult    ContentKind = "result"
	ContentSystem    ContentKind = "system"
	ContentUnknown   ContentKind = "unknown"
)

// AgentContent is the interpreted form of AgentMessage.Content.
type AgentContent struct {
	Kind        ContentKind
	Text        []string
	Tools       []ToolUseRef
	ToolResults []ToolResult
	Result      *ResultInfo
	Subtype     string
}

// JoinedText returns all text parts concatenated.
func (c AgentContent) JoinedText() string {
	return strings.Join(c.Text, "")
}

func (e *AgentMessage) Body() (AgentContent, error) {
	raw := gjson.ParseBytes(e.Content)
	switch {
	case !raw.Exists() || raw.Type == gjson.Null:
		return AgentContent{Kind: ContentText}, nil
	case raw.Type == gjson.String:
		return AgentContent{Kind: ContentText, Text: []string{raw.String()}}, nil
	case !raw.IsObject():
		return AgentContent{Kind: ContentUnknown}, nil
	}

	body := AgentContent{Kind: ContentKind(raw.Get("type").String())}
	switch body.Kind {
	case ContentAssistant:
		body.Text = textParts(raw.Get("text"))
		if tools := raw.Get("tools"); tools.IsArray() {
			if err := json.Unmarshal([]byte(tools.Raw), &body.Tools); err != nil {
				return body, fmt.Errorf("failed to decode tool uses: %w", err)
			}
		}
	case ContentUser:
		content := raw.Get("content")
		if content.Type == gjson.String {
			body.Text = []string{content.String()}
		} else if content.IsArray() {
			content.ForEach(func(_, block gjson.Result) bool {
				if block.Get("type").String() == "text" {
					body.Text = append(body.Text, block.Get("text").String())
				}
				return true
			})
		}
		if results := raw.Get("tool_results"); results.IsArray() {
			if err := json.Unmarshal([]byte(results.Raw), &body.ToolResults); err != nil {
				return body, fmt.Errorf("failed to decode tool results: %w", err)
			}
		}
	case ContentResult:
		var info ResultInfo
		if err := json.Unmarshal(e.Content, &info); err != nil {
			return body, fmt.Errorf("failed to decode result: %w", err)
		}
		if info.CostUSD == 0 {
			info.CostUSD = raw.Get("total_cost_usd").Float()
		}
		body.Result = &info
	case ContentSystem:
		body.Subtype = raw.Get("subtype").String()
	default:
		if text := raw.Get("text"); text.Exists() {
			body.Kind = ContentText
			body.Text = textParts(text)
		} else {
			body.Kind = ContentUnknown
		}
	}
	return body, nil
}

func textParts(v gjson.Result) []string {
	if v.IsArray() {
		var parts []string
		for _, p := range v.Array() {
			parts = append(parts, p.String())
		}
		return parts
	}
	if v.Exists() && v.Type != gjson.Null {
		return []string{v.String()}
	}
	return nil
}

type AgentThinking struct {
	SessionID string `json:"session_id"`
	Thinking  bool   `json:"thinking"`
}

func (*AgentThinking) Kind() EventType { return EventAgentThinking }

type AgentToolUse struct {
	SessionID  string         `json:"session_id"`
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	ToolUseID  string         `json:"tool_use_id,omitempty"`
}

func (*AgentToolUse) Kind() EventType { return EventAgentToolUse }

func (e *AgentToolUse) normalize() {
	if e.Input == nil {
		e.Input = e.Parameters
	}
}

type AgentError struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (*AgentError) Kind() EventType { return EventAgentError }

type PermissionRequest struct {
	SessionID    string         `json:"session_id"`
	RequestID    string         `json:"request_id"`
	PermissionID string         `json:"permission_id,omitempty"`
	Tool         string         `json:"tool"`
	Action       string         `json:"action,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Details      any            `json:"details,omitempty"`
	Description  string         `json:"description"`
	Timestamp    time.Time      `json:"timestamp,omitempty"`
}

func (*PermissionRequest) Kind() EventType { return EventPermissionRequest }

func (e *PermissionRequest) normalize() {
	if e.RequestID == "" {
		e.RequestID = e.PermissionID
	}
	if e.Parameters == nil {
		if m, ok := e.Details.(map[string]any); ok {
			e.Parameters = m
		}
	}
}

type PermissionAcknowledged struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
	Approved  bool   `json:"approved"`
	Tool      string `json:"tool,omitempty"`
	Status    string `json:"status,omitempty"`
}

func (*PermissionAcknowledged) Kind() EventType { return EventPermissionAcknowledged }

// Error is a socket-level error report. SessionID is empty when the error
// is not attributable to a single session.
type Error struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

func (*Error) Kind() EventType { return EventError }

type Pong struct{}

func (*Pong) Kind() EventType { return EventPong }

type ConnectionLost struct {
	Err error `json:"-"`
}

func (*ConnectionLost) Kind() EventType { return EventConnectionLost }

type TimerFired struct{}

func (*TimerFired) Kind() EventType { return EventTimerFired }

// Decode turns one raw frame into its typed event.
func Decode(frame []byte) (Event, error) {
	if !gjson.ValidBytes(frame) {
		return nil, ErrInvalidFrame
	}
	typ := EventType(gjson.GetBytes(frame, "type").String())

	var ev Event
	switch typ {
	case EventSessionCreated:
		ev = new(SessionCreated)
	case EventSessionInterrupted:
		ev = new(SessionInterrupted)
	case EventSessionEnded:
		ev = new(SessionEnded)
	case EventSessionDeleted:
		ev = new(SessionDeleted)
	case EventSessionUpdated:
		ev = new(SessionUpdated)
	case EventSessionsList:
		ev = new(SessionsList)
	case EventAllSessionsDeleted:
		ev = new(AllSessionsDeleted)
	case EventAgentsKilled:
		ev = new(AgentsKilled)
	case EventMessagesLoaded:
		ev = new(MessagesLoaded)
	case EventAgentMessage:
		ev = new(AgentMessage)
	case EventAgentThinking:
		ev = new(AgentThinking)
	case EventAgentToolUse:
		ev = new(AgentToolUse)
	case EventAgentError:
		ev = new(AgentError)
	case EventPermissionRequest:
		ev = new(PermissionRequest)
	case EventPermissionAcknowledged:
		ev = new(PermissionAcknowledged)
	case EventError:
		ev = new(Error)
	case EventPong:
		return &Pong{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, typ)
	}

	if err := json.Unmarshal(frame, ev); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", typ, err)
	}
	if n, ok := ev.(normalizer); ok {
		n.normalize()
	}
	return ev, nil
}
