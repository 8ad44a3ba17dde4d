package messages

import (
	"slices"
	"strings"
	"time"

	"github.com/schlunsen/claude-control-terminal-sub001/internal/format"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/protocol"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// EditStatus tracks the Edit tool call an attachment belongs to.
type EditStatus string

const (
	EditRunning   EditStatus = "running"
	EditCompleted EditStatus = "completed"
	EditFailed    EditStatus = "error"
)

// EditAttachment is an Edit invocation pinned to the assistant message that
// issued it, so the diff survives scrolling and history reloads.
type EditAttachment struct {
	ToolUseID  string     `json:"tool_use_id"`
	FilePath   string     `json:"file_path"`
	OldString  string     `json:"old_string"`
	NewString  string     `json:"new_string"`
	ReplaceAll bool       `json:"replace_all"`
	Status     EditStatus `json:"status"`
	Diff       string     `json:"diff,omitempty"`
}

// Message is one entry of a session's chat log. Either Text or Blocks holds
// the content.
type Message struct {
	ID        string                  `json:"id"`
	Role      Role                    `json:"role"`
	Text      string                  `json:"text,omitempty"`
	Blocks    []protocol.ContentBlock `json:"blocks,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
	// Sequence is assigned by the server to persisted messages only.
	Sequence *int `json:"sequence,omitempty"`

	IsHistorical         bool `json:"is_historical,omitempty"`
	IsToolResult         bool `json:"is_tool_result,omitempty"`
	IsExecutionStatus    bool `json:"is_execution_status,omitempty"`
	IsPermissionDecision bool `json:"is_permission_decision,omitempty"`
	IsError              bool `json:"is_error,omitempty"`

	ToolUses        []protocol.ToolUseRef `json:"tool_uses,omitempty"`
	ThinkingContent string                `json:"thinking_content,omitempty"`
	Edits           []EditAttachment      `json:"edits,omitempty"`
}

// IsControl reports whether the message is protocol noise that never
// belongs in the visible log.
func (m Message) IsControl() bool {
	if m.Role == RoleSystem {
		return true
	}
	text := m.Text
	if len(m.Blocks) > 0 {
		if len(m.Blocks) != 1 || m.Blocks[0].Type != "text" {
			return false
		}
		text = m.Blocks[0].Text
	}
	return strings.TrimSpace(text) == protocol.ContextCommand
}

// Clone returns a copy sharing no slices or maps with m.
func (m Message) Clone() Message {
	if m.Sequence != nil {
		seq := *m.Sequence
		m.Sequence = &seq
	}
	if m.Blocks != nil {
		blocks := make([]protocol.ContentBlock, len(m.Blocks))
		for i, b := range m.Blocks {
			blocks[i] = b.Clone()
		}
		m.Blocks = blocks
	}
	if m.ToolUses != nil {
		refs := make([]protocol.ToolUseRef, len(m.ToolUses))
		for i, r := range m.ToolUses {
			refs[i] = r.Clone()
		}
		m.ToolUses = refs
	}
	m.Edits = slices.Clone(m.Edits)
	return m
}

// PlainText returns the textual content, joining text blocks if needed.
func (m Message) PlainText() string {
	if len(m.Blocks) == 0 {
		return m.Text
	}
	var parts []string
	for _, b := range m.Blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// NewEditAttachment builds a running attachment from Edit tool input.
func NewEditAttachment(toolUseID string, input map[string]any) EditAttachment {
	path, _ := input["file_path"].(string)
	oldStr, _ := input["old_string"].(string)
	newStr, _ := input["new_string"].(string)
	replaceAll, _ := input["replace_all"].(bool)
	return EditAttachment{
		ToolUseID:  toolUseID,
		FilePath:   path,
		OldString:  oldStr,
		NewString:  newStr,
		ReplaceAll: replaceAll,
		Status:     EditRunning,
		Diff:       format.EditDiff(path, oldStr, newStr),
	}
}

// FromRecord converts a persisted message. Edits found in its tool uses are
// attached as completed since the turn is already over.
func FromRecord(rec protocol.MessageRecord) Message {
	seq := rec.Sequence
	msg := Message{
		ID:              rec.ID,
		Role:            Role(rec.Role),
		Text:            rec.Content,
		Timestamp:       rec.Timestamp,
		Sequence:        &seq,
		IsHistorical:    true,
		ThinkingContent: rec.ThinkingContent,
	}
	if refs, err := rec.DecodeToolUses(); err == nil {
		msg.ToolUses = refs
		for _, ref := range refs {
			if ref.Name != protocol.ToolEdit {
				continue
			}
			att := NewEditAttachment(ref.ID, ref.Input)
			att.Status = EditCompleted
			if ref.Status == string(EditFailed) {
				att.Status = EditFailed
			}
			msg.Edits = append(msg.Edits, att)
		}
	}
	return msg
}
