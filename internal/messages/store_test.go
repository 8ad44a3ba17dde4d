package messages

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/schlunsen/claude-control-terminal-sub001/internal/protocol"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func seqMsg(seq int) Message {
	s := seq
	return Message{
		ID:        fmt.Sprintf("m%d", seq),
		Role:      RoleAssistant,
		Text:      fmt.Sprintf("msg %d", seq),
		Sequence:  &s,
		Timestamp: base.Add(time.Duration(seq) * time.Second),
	}
}

func pageOf(from, to int) []Message {
	var out []Message
	for i := from; i <= to; i++ {
		out = append(out, seqMsg(i))
	}
	return out
}

func ids(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestMergeOutOfOrderPages(t *testing.T) {
	t.Parallel()

	s := NewStore()
	require.Equal(t, 10, s.MergeHistorical("s1", pageOf(10, 19)))
	require.Equal(t, 10, s.MergeHistorical("s1", pageOf(0, 9)))

	var want []string
	for i := 0; i <= 19; i++ {
		want = append(want, fmt.Sprintf("m%d", i))
	}
	require.Equal(t, want, ids(s.Messages("s1")))
}

func TestMergeIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.MergeHistorical("s1", pageOf(0, 4))
	first := s.Messages("s1")

	require.Zero(t, s.MergeHistorical("s1", pageOf(0, 4)))
	require.Equal(t, first, s.Messages("s1"))
}

func TestMergeWithoutIDsIsIdempotent(t *testing.T) {
	t.Parallel()

	page := pageOf(0, 4)
	for i := range page {
		page[i].ID = ""
	}

	s := NewStore()
	require.Equal(t, 5, s.MergeHistorical("s1", page))
	require.Zero(t, s.MergeHistorical("s1", page))
	require.Equal(t, 2, s.MergeHistorical("s1", pageOf(5, 6)))

	msgs := s.Messages("s1")
	require.Len(t, msgs, 7)
	for i, m := range msgs {
		require.Equal(t, i, *m.Sequence)
	}
}

func TestLiveMessagesSortAfterHistory(t *testing.T) {
	t.Parallel()

	s := NewStore()
	// Streamed before the history page arrived and timestamped earlier.
	require.True(t, s.Append("s1", Message{ID: "live1", Role: RoleUser, Text: "hi", Timestamp: base.Add(-time.Hour)}))
	require.True(t, s.Append("s1", Message{ID: "live2", Role: RoleAssistant, Text: "hello", Timestamp: base.Add(-time.Hour)}))

	s.MergeHistorical("s1", pageOf(0, 2))
	require.Equal(t, []string{"m0", "m1", "m2", "live1", "live2"}, ids(s.Messages("s1")))
}

func TestSequenceTiesBreakOnTimestamp(t *testing.T) {
	t.Parallel()

	s := NewStore()
	late := seqMsg(3)
	late.ID = "late"
	late.Timestamp = base.Add(time.Minute)
	early := seqMsg(3)
	early.ID = "early"

	s.MergeHistorical("s1", []Message{late, early})
	require.Equal(t, []string{"early", "late"}, ids(s.Messages("s1")))
}

func TestControlMessagesFiltered(t *testing.T) {
	t.Parallel()

	s := NewStore()
	require.False(t, s.Append("s1", Message{Role: RoleSystem, Text: "init"}))
	require.False(t, s.Append("s1", Message{Role: RoleUser, Text: " /context \n"}))
	require.True(t, s.Append("s1", Message{Role: RoleUser, Text: "/context please"}))
	require.False(t, s.Append("s1", Message{Role: RoleUser, Blocks: []protocol.ContentBlock{protocol.TextBlock("/context")}}))
	require.True(t, s.Append("s1", Message{Role: RoleUser, Blocks: []protocol.ContentBlock{
		protocol.TextBlock("/context"),
		protocol.ImageBlock(protocol.ImageSource{Type: "base64", MediaType: "image/png", Data: "AA=="}),
	}}))

	n := s.MergeHistorical("s1", []Message{
		{ID: "h1", Role: RoleUser, Text: "/context", Sequence: new(int)},
		{ID: "h2", Role: RoleSystem, Text: "x", Sequence: new(int)},
	})
	require.Zero(t, n)
	require.Equal(t, 2, s.Len("s1"))
}

func TestUpsertStreamsChunks(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Upsert("s1", Message{ID: "a", Role: RoleAssistant, Text: "Hel"}, false)
	s.Upsert("s1", Message{ID: "a", Role: RoleAssistant, Text: "lo"}, false)
	last, _ := s.Last("s1", RoleAssistant)
	require.Equal(t, "Hello", last.Text)

	s.Upsert("s1", Message{ID: "a", Role: RoleAssistant, Text: "Hello, world"}, true)
	require.Equal(t, 1, s.Len("s1"))
	last, _ = s.Last("s1", RoleAssistant)
	require.Equal(t, "Hello, world", last.Text)
}

func TestEditAttachments(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Append("s1", Message{ID: "a1", Role: RoleAssistant, Text: "editing"})
	s.Append("s1", Message{ID: "r1", Role: RoleAssistant, Text: "Read x", IsToolResult: true})

	att := NewEditAttachment("tu1", map[string]any{
		"file_path":  "/repo/main.go",
		"old_string": "a",
		"new_string": "b",
	})
	require.Equal(t, EditRunning, att.Status)
	require.Contains(t, att.Diff, "+b")

	require.True(t, s.AttachEdit("s1", "", att))
	require.False(t, s.AttachEdit("s1", "", att))
	require.True(t, s.SetEditStatus("s1", "tu1", EditCompleted))
	require.False(t, s.SetEditStatus("s1", "nope", EditCompleted))

	msgs := s.Messages("s1")
	require.Len(t, msgs[0].Edits, 1)
	require.Equal(t, EditCompleted, msgs[0].Edits[0].Status)
	require.Empty(t, msgs[1].Edits)
}

func TestMessagesReturnsDeepCopies(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Append("s1", Message{
		ID:       "a1",
		Role:     RoleAssistant,
		ToolUses: []protocol.ToolUseRef{{ID: "tu1", Name: "Edit", Input: map[string]any{"file_path": "/repo/a.go"}}},
	})
	require.True(t, s.AttachEdit("s1", "a1", NewEditAttachment("tu1", map[string]any{"file_path": "/repo/a.go"})))

	held := s.Messages("s1")
	require.True(t, s.SetEditStatus("s1", "tu1", EditFailed))
	require.True(t, s.AttachEdit("s1", "a1", NewEditAttachment("tu2", map[string]any{"file_path": "/repo/b.go"})))
	require.Equal(t, EditRunning, held[0].Edits[0].Status)
	require.Len(t, held[0].Edits, 1)

	held[0].ToolUses[0].Input["file_path"] = "/elsewhere"
	held[0].Edits[0].FilePath = "/elsewhere"
	fresh := s.Messages("s1")
	require.Equal(t, "/repo/a.go", fresh[0].ToolUses[0].Input["file_path"])
	require.Equal(t, "/repo/a.go", fresh[0].Edits[0].FilePath)
	require.Equal(t, EditFailed, fresh[0].Edits[0].Status)
	require.Len(t, fresh[0].Edits, 2)
}

func TestFromRecord(t *testing.T) {
	t.Parallel()

	uses, err := json.Marshal([]protocol.ToolUseRef{
		{ID: "tu1", Name: "Edit", Input: map[string]any{"file_path": "a.go", "old_string": "x", "new_string": "y"}},
		{ID: "tu2", Name: "Read", Input: map[string]any{"file_path": "b.go"}},
	})
	require.NoError(t, err)

	msg := FromRecord(protocol.MessageRecord{
		ID:              "m1",
		Sequence:        7,
		Role:            "assistant",
		Content:         "done",
		ThinkingContent: "hmm",
		ToolUses:        uses,
		Timestamp:       base,
	})
	require.True(t, msg.IsHistorical)
	require.Equal(t, 7, *msg.Sequence)
	require.Len(t, msg.ToolUses, 2)
	require.Len(t, msg.Edits, 1)
	require.Equal(t, EditCompleted, msg.Edits[0].Status)
	require.Equal(t, "hmm", msg.ThinkingContent)
}

func TestPagesAndRemove(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.MarkPageRequested("s1")
	s.MarkPageLoaded("s1", 50, true)
	s.MarkPageLoaded("s1", 12, false)
	require.Equal(t, Page{Loaded: 62, HasMore: false, Requested: true}, s.Page("s1"))

	s.Append("s1", Message{Role: RoleUser, Text: "x"})
	s.RemoveSession("s1")
	require.Zero(t, s.Sessions())
	require.Empty(t, s.Messages("s1"))
}
