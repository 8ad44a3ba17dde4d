package usage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const contextReply = `## Context Usage

**Model:** claude-sonnet-4-5-20250929
**Tokens:** 47.6k / 200.0k (24%)

| Category | Tokens | Percentage |
|----------|--------|------------|
| System prompt | 3.1k | 1.6% |
| Messages | 24.1k | 12.0% |
| Free space | 152.4k | 76.2% |

Some trailing notes.
| Stray | 1.0k | 1.0% |
`

func TestParseContextUsage(t *testing.T) {
	t.Parallel()

	got := ParseContextUsage("Model: claude-sonnet-4-5-20250929\nTokens: 47.6k / 200.0k (24%)\n| Messages | 24.1k | 12.0% |\n")
	require.NotNil(t, got)
	require.Equal(t, "claude-sonnet-4-5-20250929", got.Model)
	require.Equal(t, 47600, got.TotalTokens)
	require.Equal(t, 200000, got.ContextWindow)
	require.Equal(t, 24.0, got.Percentage)
	require.Equal(t, []Category{{Name: "Messages", Tokens: 24100, Percentage: 12.0}}, got.Categories)
}

func TestParseContextUsageTable(t *testing.T) {
	t.Parallel()

	got := ParseContextUsage(contextReply)
	require.NotNil(t, got)
	require.Equal(t, []Category{
		{Name: "System prompt", Tokens: 3100, Percentage: 1.6},
		{Name: "Messages", Tokens: 24100, Percentage: 12.0},
		{Name: "Free space", Tokens: 152400, Percentage: 76.2},
	}, got.Categories)
}

func TestParseContextUsageFailures(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"missing tokens": "Model: claude-opus-4\n| Messages | 24.1k | 12.0% |\n",
		"missing model":  "Tokens: 47.6k / 200.0k (24%)\n| Messages | 24.1k | 12.0% |\n",
		"no rows":        "Model: claude-opus-4\nTokens: 47.6k / 200.0k (24%)\n",
		"prose":          "I looked at the code and it is fine.",
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			require.Nil(t, ParseContextUsage(text))
		})
	}
}

func TestTrackerFailedParseKeepsSnapshot(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	gen := tr.BeginRequest("s1")
	snap, changed := tr.Consume("s1", contextReply)
	require.NotNil(t, snap)
	require.True(t, changed)
	require.False(t, tr.Loading("s1"))
	require.False(t, tr.Timeout("s1", gen))

	tr.BeginRequest("s1")
	snap, changed = tr.Consume("s1", "Model: x\n| Messages | 1.0k | 1.0% |")
	require.Nil(t, snap)
	require.False(t, changed)
	require.True(t, tr.Loading("s1"))
	require.Equal(t, 47600, tr.Snapshot("s1").TotalTokens)

	_, changed = tr.Consume("s1", contextReply)
	require.False(t, changed)
}

func TestTrackerTimeoutGeneration(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	first := tr.BeginRequest("s1")
	second := tr.BeginRequest("s1")

	require.False(t, tr.Timeout("s1", first))
	require.True(t, tr.Loading("s1"))
	require.True(t, tr.Timeout("s1", second))
	require.False(t, tr.Loading("s1"))
}

func TestTrackerCompletionRefreshIsOneShot(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	require.False(t, tr.TakeCompletionRefresh("s1"))

	tr.ArmCompletionRefresh("s1")
	require.True(t, tr.TakeCompletionRefresh("s1"))
	require.False(t, tr.TakeCompletionRefresh("s1"))

	tr.ArmCompletionRefresh("s1")
	require.False(t, tr.TakeCompletionRefresh("s1"))
}

func TestTrackerRemoveSession(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.BeginRequest("s1")
	tr.Consume("s1", contextReply)
	tr.ArmCompletionRefresh("s1")
	tr.BeginRequest("s2")
	require.Equal(t, 2, tr.Sessions())

	tr.RemoveSession("s1")
	require.Nil(t, tr.Snapshot("s1"))
	require.Equal(t, 1, tr.Sessions())
}

func TestTrackerFinishTurn(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	require.False(t, tr.FinishTurn("s1"))

	tr.BeginRequest("s1")
	require.True(t, tr.FinishTurn("s1"))
	require.False(t, tr.FinishTurn("s1"))
}

func TestTrackerTimeoutAbandonsContextTurn(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	gen := tr.BeginRequest("s1")
	require.True(t, tr.Timeout("s1", gen))
	require.False(t, tr.FinishTurn("s1"))

	stale := tr.BeginRequest("s1")
	tr.BeginRequest("s1")
	require.False(t, tr.Timeout("s1", stale))
	require.True(t, tr.FinishTurn("s1"))
}

func TestTrackerSnapshotIsCopy(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Consume("s1", contextReply)
	snap := tr.Snapshot("s1")
	require.NotEmpty(t, snap.Categories)
	snap.TotalTokens = 1
	snap.Categories[0].Name = "changed"

	fresh := tr.Snapshot("s1")
	require.Equal(t, 47600, fresh.TotalTokens)
	require.Equal(t, "System prompt", fresh.Categories[0].Name)
}
