package sessions

import (
	"testing"

	"github.com/schlunsen/claude-control-terminal-sub001/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestCreatedInsertsFrontAndFocuses(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.True(t, r.Created(protocol.Session{ID: "a"}))
	require.True(t, r.Created(protocol.Session{ID: "b"}))
	require.False(t, r.Created(protocol.Session{ID: "a", MessageCount: 9}))
	require.False(t, r.Created(protocol.Session{}))

	require.Equal(t, []string{"b", "a"}, r.IDs())
	require.Equal(t, "b", r.Focused())

	a, ok := r.Get("a")
	require.True(t, ok)
	require.True(t, a.Preloaded)
	require.Zero(t, a.MessageCount)
	require.Equal(t, protocol.StatusIdle, a.Status)
}

func TestReplaceAllKeepsServerOrder(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Created(protocol.Session{ID: "old"})
	r.Created(protocol.Session{ID: "keep"})
	r.MarkProcessing("keep")

	removed := r.ReplaceAll([]protocol.Session{
		{ID: "z", Status: protocol.StatusIdle},
		{ID: "keep", Status: protocol.StatusProcessing},
		{ID: "a", Status: protocol.StatusEnded},
		{ID: "z"},
	})
	require.Equal(t, []string{"old"}, removed)
	require.Equal(t, []string{"z", "keep", "a"}, r.IDs())
	require.Equal(t, "keep", r.Focused())

	keep, _ := r.Get("keep")
	require.True(t, keep.Processing)
	require.True(t, keep.Preloaded)
	z, _ := r.Get("z")
	require.False(t, z.Preloaded)
}

func TestApplyResult(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Created(protocol.Session{ID: "s"})
	r.MarkProcessing("s")

	usage := &protocol.Usage{InputTokens: 10, OutputTokens: 5}
	require.True(t, r.ApplyResult("s", protocol.ResultInfo{NumTurns: 3, DurationMS: 1200, CostUSD: 0.25, Usage: usage}))
	require.True(t, r.ApplyResult("s", protocol.ResultInfo{NumTurns: 5, DurationMS: 900, CostUSD: 0.5}))

	s, _ := r.Get("s")
	require.Equal(t, 2, s.MessageCount)
	require.InDelta(t, 0.75, s.CostUSD, 1e-9)
	require.Equal(t, 5, s.NumTurns)
	require.Equal(t, int64(900), s.DurationMS)
	require.Nil(t, s.Usage)
	require.Equal(t, protocol.StatusIdle, s.Status)
	require.False(t, s.Processing)

	require.False(t, r.ApplyResult("missing", protocol.ResultInfo{}))
}

func TestActivityFlags(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Created(protocol.Session{ID: "a"})
	r.Created(protocol.Session{ID: "b"})
	r.SetThinking("a", true)
	r.MarkProcessing("b")

	a, _ := r.Get("a")
	require.True(t, a.Thinking)
	require.Equal(t, protocol.StatusProcessing, a.Status)

	r.ClearAllActivity()
	for _, e := range r.List() {
		require.False(t, e.Processing)
		require.False(t, e.Thinking)
		require.Equal(t, protocol.StatusIdle, e.Status)
	}

	require.True(t, r.SetGitBranch("a", "main"))
	require.False(t, r.SetGitBranch("a", "main"))
}

func TestRemoveMovesFocus(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Created(protocol.Session{ID: "a"})
	r.Created(protocol.Session{ID: "b"})
	r.Created(protocol.Session{ID: "c"})

	require.True(t, r.Focus("b"))
	require.True(t, r.MarkDeleting("b"))
	b, _ := r.Get("b")
	require.True(t, b.Deleting)

	require.True(t, r.Remove("b"))
	require.Equal(t, "a", r.Focused())
	require.False(t, r.Remove("b"))

	r.Remove("a")
	require.Equal(t, "c", r.Focused())

	require.Equal(t, []string{"c"}, r.RemoveAll())
	require.Empty(t, r.Focused())
	require.Zero(t, r.Len())
}
