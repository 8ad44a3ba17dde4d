package format

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/schlunsen/claude-control-terminal-sub001/internal/protocol"
)

const maxDetailRunes = 80

// ToolSummary is the one-line "now executing" indicator for a tool.
type ToolSummary struct {
	ToolUseID string `json:"tool_use_id,omitempty"`
	Name      string `json:"name"`
	Detail    string `json:"detail,omitempty"`
}

func (s ToolSummary) String() string {
	if s.Detail == "" {
		return s.Name
	}
	return s.Name + ": " + s.Detail
}

// Summarize extracts the type-specific detail of a tool invocation: the
// file path for file tools, the command for Bash and the pattern for
// searches.
func Summarize(name string, input map[string]any) ToolSummary {
	return ToolSummary{Name: name, Detail: Truncate(toolDetail(name, input), maxDetailRunes)}
}

func toolDetail(name string, input map[string]any) string {
	switch name {
	case protocol.ToolRead, protocol.ToolWrite, protocol.ToolEdit:
		return stringField(input, "file_path", "path", "notebook_path")
	case protocol.ToolBash:
		cmd := stringField(input, "command")
		if i := strings.IndexByte(cmd, '\n'); i >= 0 {
			cmd = cmd[:i]
		}
		return strings.TrimSpace(cmd)
	case protocol.ToolGrep, protocol.ToolGlob:
		return stringField(input, "pattern")
	case "WebFetch":
		return stringField(input, "url")
	case "WebSearch":
		return stringField(input, "query")
	case "Task":
		return stringField(input, "description")
	case protocol.ToolTodoWrite:
		if todos, ok := input["todos"].([]any); ok {
			return fmt.Sprintf("%d items", len(todos))
		}
	}
	return ""
}

// ResultLine renders the chat line for a finished tool invocation.
func ResultLine(name string, input map[string]any, isError bool) string {
	var line string
	switch name {
	case protocol.ToolRead:
		line = "Read " + orUnknown(toolDetail(name, input))
	case protocol.ToolWrite:
		line = "Wrote " + orUnknown(toolDetail(name, input))
	case protocol.ToolEdit:
		line = "Edited " + orUnknown(toolDetail(name, input))
	case protocol.ToolBash:
		line = "Ran " + orUnknown(Truncate(toolDetail(name, input), maxDetailRunes))
	case protocol.ToolGrep, protocol.ToolGlob:
		line = "Searched " + orUnknown(toolDetail(name, input))
	default:
		line = Summarize(name, input).String()
	}
	if isError {
		return line + " (failed)"
	}
	return line
}

func orUnknown(s string) string {
	if s == "" {
		return "(unknown)"
	}
	return s
}

func stringField(input map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := input[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}
