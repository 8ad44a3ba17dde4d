package format

import (
	"strings"
	"testing"

	"github.com/schlunsen/claude-control-terminal-sub001/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		tool  string
		input map[string]any
		want  string
	}{
		{"read", "Read", map[string]any{"file_path": "/src/main.go"}, "Read: /src/main.go"},
		{"edit", "Edit", map[string]any{"file_path": "a.go", "old_string": "x"}, "Edit: a.go"},
		{"bash first line", "Bash", map[string]any{"command": "npm test\necho done"}, "Bash: npm test"},
		{"grep", "Grep", map[string]any{"pattern": "TODO"}, "Grep: TODO"},
		{"glob", "Glob", map[string]any{"pattern": "**/*.go"}, "Glob: **/*.go"},
		{"unknown", "Mystery", nil, "Mystery"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Summarize(tt.tool, tt.input).String())
		})
	}
}

func TestSummarizeTruncatesLongCommands(t *testing.T) {
	t.Parallel()

	s := Summarize("Bash", map[string]any{"command": strings.Repeat("a", 200)})
	require.Equal(t, maxDetailRunes, len([]rune(s.Detail)))
	require.True(t, strings.HasSuffix(s.Detail, "…"))
}

func TestResultLine(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Read main.go", ResultLine("Read", map[string]any{"file_path": "main.go"}, false))
	require.Equal(t, "Ran go test ./... (failed)", ResultLine("Bash", map[string]any{"command": "go test ./..."}, true))
	require.Equal(t, "Edited (unknown)", ResultLine("Edit", nil, false))
}

func TestTodosFromInput(t *testing.T) {
	t.Parallel()

	items, ok := TodosFromInput(map[string]any{"todos": []any{
		map[string]any{"content": "Write code", "status": "completed", "activeForm": "Writing code"},
		map[string]any{"content": "Test it", "status": "in_progress"},
		map[string]any{"content": "Ship", "status": "bogus"},
		map[string]any{"content": "  "},
	}})
	require.True(t, ok)
	require.Equal(t, []protocol.TodoItem{
		{Content: "Write code", Status: protocol.TodoCompleted, ActiveForm: "Writing code"},
		{Content: "Test it", Status: protocol.TodoInProgress},
		{Content: "Ship", Status: protocol.TodoPending},
	}, items)

	_, ok = TodosFromInput(map[string]any{"other": 1})
	require.False(t, ok)

	items, ok = TodosFromInput(map[string]any{"todos": []any{}})
	require.True(t, ok)
	require.Empty(t, items)
}

func TestAllCompleted(t *testing.T) {
	t.Parallel()

	require.False(t, AllCompleted(nil))
	require.True(t, AllCompleted([]protocol.TodoItem{{Content: "a", Status: protocol.TodoCompleted}}))
	require.False(t, AllCompleted([]protocol.TodoItem{
		{Content: "a", Status: protocol.TodoCompleted},
		{Content: "b", Status: protocol.TodoPending},
	}))
}

func TestParseTodoWrite(t *testing.T) {
	t.Parallel()

	text := "Plan:\n- [x] Read the code\n- [~] Fix the bug\n2. [pending] Write tests\nplain line\n"
	require.Equal(t, []protocol.TodoItem{
		{Content: "Read the code", Status: protocol.TodoCompleted},
		{Content: "Fix the bug", Status: protocol.TodoInProgress},
		{Content: "Write tests", Status: protocol.TodoPending},
	}, ParseTodoWrite(text))

	require.Empty(t, ParseTodoWrite("1. first\n2. second"))
}

func TestParseToolUse(t *testing.T) {
	t.Parallel()

	got := ParseToolUse("Let me check.\nUsing tool: Bash - npm test\nTool: Read(main.go)\nTool: Glob\n")
	require.Equal(t, []ToolSummary{
		{Name: "Bash", Detail: "npm test"},
		{Name: "Read", Detail: "main.go"},
		{Name: "Glob"},
	}, got)
	require.Empty(t, ParseToolUse("no tools here"))
}

func TestEditDiff(t *testing.T) {
	t.Parallel()

	diff := EditDiff("/repo/main.go", "fmt.Println(1)", "fmt.Println(2)")
	require.Contains(t, diff, "--- a/main.go")
	require.Contains(t, diff, "+++ b/main.go")
	require.Contains(t, diff, "-fmt.Println(1)")
	require.Contains(t, diff, "+fmt.Println(2)")

	require.Empty(t, EditDiff("x", "same", "same"))
}
