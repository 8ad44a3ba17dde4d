package coordinator

import (
	"github.com/schlunsen/claude-control-terminal-sub001/internal/format"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/messages"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/permissions"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/protocol"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/sessions"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/tools"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/usage"
)

// SessionView is everything a renderer needs for one session. All slices
// and maps are deep copies, so a view never changes after it is taken.
type SessionView struct {
	sessions.Entry

	Messages       []messages.Message           `json:"messages"`
	Page           messages.Page                `json:"page"`
	Tools          []tools.ActiveTool           `json:"tools,omitempty"`
	RunningTools   int                          `json:"running_tools"`
	CurrentTool    *format.ToolSummary          `json:"current_tool,omitempty"`
	Todos          []protocol.TodoItem          `json:"todos,omitempty"`
	Pending        []protocol.PermissionRequest `json:"pending_permissions,omitempty"`
	Resolving      []permissions.Resolution     `json:"resolving_permissions,omitempty"`
	Stats          permissions.Stats            `json:"permission_stats"`
	Rules          []protocol.AlwaysAllowRule   `json:"rules,omitempty"`
	Context        *usage.ContextUsage          `json:"context,omitempty"`
	ContextLoading bool                         `json:"context_loading"`
}

// State is a consistent snapshot of the whole coordinator.
type State struct {
	Focused  string        `json:"focused"`
	Sessions []SessionView `json:"sessions"`
	Notices  []Notice      `json:"notices,omitempty"`
}

func (d *Dispatcher) Snapshot() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := State{
		Focused: d.sessions.Focused(),
		Notices: append([]Notice(nil), d.notices...),
	}
	for _, entry := range d.sessions.List() {
		st.Sessions = append(st.Sessions, d.viewLocked(entry))
	}
	return st
}

// Session returns the view of one session.
func (d *Dispatcher) Session(sessionID string) (SessionView, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.sessions.Get(sessionID)
	if !ok {
		return SessionView{}, false
	}
	return d.viewLocked(entry), true
}

func (d *Dispatcher) viewLocked(entry sessions.Entry) SessionView {
	id := entry.ID
	view := SessionView{
		Entry:          entry,
		Messages:       d.messages.Messages(id),
		Page:           d.messages.Page(id),
		Tools:          d.tools.Tools(id),
		RunningTools:   d.tools.Running(id),
		Todos:          d.todos.List(id),
		Pending:        d.permissions.Pending(id),
		Resolving:      d.permissions.Resolving(id),
		Stats:          d.permissions.Stats(id),
		Rules:          d.permissions.Rules(id),
		Context:        d.usage.Snapshot(id),
		ContextLoading: d.usage.Loading(id),
	}
	if cur, ok := d.tools.Current(id); ok {
		view.CurrentTool = &cur
	}
	return view
}
