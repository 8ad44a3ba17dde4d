package format

import (
	"regexp"
	"strings"

	"github.com/schlunsen/claude-control-terminal-sub001/internal/protocol"
)

// TodosFromInput reads the structured TodoWrite input. ok is false when the
// input has no todos array at all; an empty array is a valid empty list.
func TodosFromInput(input map[string]any) ([]protocol.TodoItem, bool) {
	raw, ok := input["todos"].([]any)
	if !ok {
		return nil, false
	}
	items := make([]protocol.TodoItem, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		content, _ := m["content"].(string)
		if strings.TrimSpace(content) == "" {
			continue
		}
		status, _ := m["status"].(string)
		active, _ := m["activeForm"].(string)
		items = append(items, protocol.TodoItem{
			Content:    content,
			Status:     normalizeTodoStatus(status),
			ActiveForm: active,
		})
	}
	return items, true
}

// AllCompleted reports whether a non-empty list has every item completed.
func AllCompleted(items []protocol.TodoItem) bool {
	if len(items) == 0 {
		return false
	}
	for _, it := range items {
		if it.Status != protocol.TodoCompleted {
			return false
		}
	}
	return true
}

// Matches list lines such as "- [x] Write tests" or "2. [in_progress] Fix build".
var todoLinePattern = regexp.MustCompile(`(?m)^[ \t]*(?:[-*]|\d+[.)])[ \t]+\[( |x|X|~|-|pending|in_progress|completed)\][ \t]+(.+?)[ \t]*$`)

// ParseTodoWrite is the legacy text fallback for todo lists rendered as
// checkbox lines. It only runs when no structured TodoWrite input exists and
// can misfire on ordinary checkbox lists in prose.
func ParseTodoWrite(text string) []protocol.TodoItem {
	var items []protocol.TodoItem
	for _, m := range todoLinePattern.FindAllStringSubmatch(text, -1) {
		var status protocol.TodoStatus
		switch m[1] {
		case "x", "X", "completed":
			status = protocol.TodoCompleted
		case "~", "-", "in_progress":
			status = protocol.TodoInProgress
		default:
			status = protocol.TodoPending
		}
		items = append(items, protocol.TodoItem{Content: m[2], Status: status})
	}
	return items
}

func normalizeTodoStatus(s string) protocol.TodoStatus {
	switch protocol.TodoStatus(s) {
	case protocol.TodoInProgress:
		return protocol.TodoInProgress
	case protocol.TodoCompleted:
		return protocol.TodoCompleted
	default:
		return protocol.TodoPending
	}
}

// Matches "Using tool: Bash - npm test" and "Tool: Read(main.go)".
var toolLinePattern = regexp.MustCompile(`(?m)^[ \t]*(?:Using tool|Tool):[ \t]*([A-Z][A-Za-z]*)(?:[ \t]*(?:\(([^)\n]*)\)|[-:][ \t]*(.+?)))?[ \t]*$`)

// ParseToolUse is the legacy text fallback that pulls tool invocations out
// of assistant prose when the message carries no structured tool list.
func ParseToolUse(text string) []ToolSummary {
	var out []ToolSummary
	for _, m := range toolLinePattern.FindAllStringSubmatch(text, -1) {
		detail := m[2]
		if detail == "" {
			detail = m[3]
		}
		out = append(out, ToolSummary{Name: m[1], Detail: Truncate(strings.TrimSpace(detail), maxDetailRunes)})
	}
	return out
}
