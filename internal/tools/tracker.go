package tools

import (
	"time"

	"github.com/schlunsen/claude-control-terminal-sub001/internal/format"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/protocol"
)

// Status is the lifecycle state of one tool invocation.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// ActiveTool is one tracked tool invocation.
type ActiveTool struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input,omitempty"`
	Status    Status         `json:"status"`
	StartTime time.Time      `json:"start_time"`
	EndTime   *time.Time     `json:"end_time,omitempty"`
}

// Tracker keeps per-session tool invocations in start order together with
// the single "now executing" summary.
type Tracker struct {
	sessions map[string]*sessionTools
	current  map[string]format.ToolSummary
	now      func() time.Time
}

type sessionTools struct {
	order []string
	byID  map[string]*ActiveTool
}

func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[string]*sessionTools),
		current:  make(map[string]format.ToolSummary),
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Start records a running tool. A second start for a known id is ignored.
func (t *Tracker) Start(sessionID, toolUseID, name string, input map[string]any) bool {
	if toolUseID == "" {
		return false
	}
	st := t.sessions[sessionID]
	if st == nil {
		st = &sessionTools{byID: make(map[string]*ActiveTool)}
		t.sessions[sessionID] = st
	}
	if _, exists := st.byID[toolUseID]; exists {
		return false
	}
	st.byID[toolUseID] = &ActiveTool{
		ID:        toolUseID,
		Name:      name,
		Input:     input,
		Status:    StatusRunning,
		StartTime: t.now(),
	}
	st.order = append(st.order, toolUseID)
	return true
}

// Complete moves a running tool to its terminal state. It returns the
// updated tool and true only when a transition happened: results for
// unknown ids or already finished tools are no-ops.
func (t *Tracker) Complete(sessionID, toolUseID string, isError bool) (ActiveTool, bool) {
	st := t.sessions[sessionID]
	if st == nil {
		return ActiveTool{}, false
	}
	tool, ok := st.byID[toolUseID]
	if !ok || tool.Status.Terminal() {
		return ActiveTool{}, false
	}
	tool.Status = StatusCompleted
	if isError {
		tool.Status = StatusError
	}
	end := t.now()
	tool.EndTime = &end
	return *tool, true
}

// Lookup returns the tool with the given id regardless of status.
func (t *Tracker) Lookup(sessionID, toolUseID string) (ActiveTool, bool) {
	st := t.sessions[sessionID]
	if st == nil {
		return ActiveTool{}, false
	}
	tool, ok := st.byID[toolUseID]
	if !ok {
		return ActiveTool{}, false
	}
	return *tool, true
}

// Dismiss removes a tool from the session's list.
func (t *Tracker) Dismiss(sessionID, toolUseID string) bool {
	st := t.sessions[sessionID]
	if st == nil {
		return false
	}
	if _, ok := st.byID[toolUseID]; !ok {
		return false
	}
	delete(st.byID, toolUseID)
	for i, id := range st.order {
		if id == toolUseID {
			st.order = append(st.order[:i], st.order[i+1:]...)
			break
		}
	}
	return true
}

// Tools returns a copy of the session's tools in start order.
func (t *Tracker) Tools(sessionID string) []ActiveTool {
	st := t.sessions[sessionID]
	if st == nil {
		return nil
	}
	out := make([]ActiveTool, 0, len(st.order))
	for _, id := range st.order {
		tool := *st.byID[id]
		tool.Input = protocol.CloneMap(tool.Input)
		out = append(out, tool)
	}
	return out
}

// Running counts tools that have not finished yet.
func (t *Tracker) Running(sessionID string) int {
	st := t.sessions[sessionID]
	if st == nil {
		return 0
	}
	n := 0
	for _, tool := range st.byID {
		if tool.Status == StatusRunning {
			n++
		}
	}
	return n
}

func (t *Tracker) SetCurrent(sessionID string, summary format.ToolSummary) {
	t.current[sessionID] = summary
}

func (t *Tracker) ClearCurrent(sessionID string) {
	delete(t.current, sessionID)
}

func (t *Tracker) Current(sessionID string) (format.ToolSummary, bool) {
	s, ok := t.current[sessionID]
	return s, ok
}

func (t *Tracker) RemoveSession(sessionID string) {
	delete(t.sessions, sessionID)
	delete(t.current, sessionID)
}

// Sessions returns how many sessions have any tracked state.
func (t *Tracker) Sessions() int {
	seen := make(map[string]struct{}, len(t.sessions))
	for id := range t.sessions {
		seen[id] = struct{}{}
	}
	for id := range t.current {
		seen[id] = struct{}{}
	}
	return len(seen)
}
