package sessions

import (
	"time"

	"github.com/schlunsen/claude-control-terminal-sub001/internal/protocol"
)

// Entry is the registry's record of a session plus local activity flags.
type Entry struct {
	protocol.Session

	Processing bool `json:"processing"`
	Thinking   bool `json:"thinking"`
	// Preloaded sessions were created by this client and need no history fetch.
	Preloaded bool `json:"preloaded"`
	// Deleting marks an optimistic delete until the server acknowledges it.
	Deleting bool `json:"deleting"`
}

// Registry is the ordered list of sessions, newest first.
type Registry struct {
	order   []string
	byID    map[string]*Entry
	focused string
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		byID: make(map[string]*Entry),
		now:  time.Now,
	}
}

// Created inserts a new session at the front and focuses it. A second
// create for a known id is rejected.
func (r *Registry) Created(s protocol.Session) bool {
	if s.ID == "" {
		return false
	}
	if _, exists := r.byID[s.ID]; exists {
		return false
	}
	if s.Status == "" {
		s.Status = protocol.StatusIdle
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = r.now()
	}
	r.byID[s.ID] = &Entry{Session: s, Preloaded: true}
	r.order = append([]string{s.ID}, r.order...)
	r.focused = s.ID
	return true
}

// ReplaceAll installs the server's list as-is and returns the ids that
// were dropped. Local activity flags survive for sessions still present.
func (r *Registry) ReplaceAll(list []protocol.Session) (removed []string) {
	next := make(map[string]*Entry, len(list))
	order := make([]string, 0, len(list))
	for _, s := range list {
		if s.ID == "" {
			continue
		}
		if _, dup := next[s.ID]; dup {
			continue
		}
		entry := &Entry{Session: s}
		if prev, ok := r.byID[s.ID]; ok {
			entry.Processing = prev.Processing
			entry.Thinking = prev.Thinking
			entry.Preloaded = prev.Preloaded
			entry.Deleting = prev.Deleting
		}
		next[s.ID] = entry
		order = append(order, s.ID)
	}
	for _, id := range r.order {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}
	r.byID = next
	r.order = order
	if _, ok := r.byID[r.focused]; !ok {
		r.focused = ""
		if len(order) > 0 {
			r.focused = order[0]
		}
	}
	return removed
}

// ApplyResult folds a completed turn into the session and marks it idle.
func (r *Registry) ApplyResult(id string, res protocol.ResultInfo) bool {
	e := r.byID[id]
	if e == nil {
		return false
	}
	e.MessageCount++
	e.CostUSD += res.CostUSD
	e.NumTurns = res.NumTurns
	e.DurationMS = res.DurationMS
	e.Usage = res.Usage
	e.Status = protocol.StatusIdle
	e.Processing = false
	e.Thinking = false
	e.UpdatedAt = r.now()
	return true
}

func (r *Registry) MarkProcessing(id string) bool {
	e := r.byID[id]
	if e == nil {
		return false
	}
	e.Status = protocol.StatusProcessing
	e.Processing = true
	e.UpdatedAt = r.now()
	return true
}

func (r *Registry) SetThinking(id string, thinking bool) bool {
	e := r.byID[id]
	if e == nil {
		return false
	}
	e.Thinking = thinking
	if thinking {
		e.Status = protocol.StatusProcessing
		e.Processing = true
	}
	return true
}

// MarkIdle is used when the server confirms an interrupt.
func (r *Registry) MarkIdle(id string) bool {
	e := r.byID[id]
	if e == nil {
		return false
	}
	e.Status = protocol.StatusIdle
	e.Processing = false
	e.Thinking = false
	return true
}

func (r *Registry) MarkEnded(id string) bool {
	e := r.byID[id]
	if e == nil {
		return false
	}
	e.Status = protocol.StatusEnded
	e.Processing = false
	e.Thinking = false
	return true
}

func (r *Registry) SetGitBranch(id, branch string) bool {
	e := r.byID[id]
	if e == nil || e.GitBranch == branch {
		return false
	}
	e.GitBranch = branch
	return true
}

func (r *Registry) SetError(id, message string) bool {
	e := r.byID[id]
	if e == nil {
		return false
	}
	e.ErrorMessage = message
	return true
}

// ClearActivity resets processing and thinking for one session.
func (r *Registry) ClearActivity(id string) bool {
	e := r.byID[id]
	if e == nil {
		return false
	}
	e.Processing = false
	e.Thinking = false
	if e.Status == protocol.StatusProcessing {
		e.Status = protocol.StatusIdle
	}
	return true
}

func (r *Registry) ClearAllActivity() {
	for id := range r.byID {
		r.ClearActivity(id)
	}
}

// MarkDeleting flags an optimistic delete. The entry stays until Remove.
func (r *Registry) MarkDeleting(id string) bool {
	e := r.byID[id]
	if e == nil {
		return false
	}
	e.Deleting = true
	return true
}

// Remove drops the session. Focus moves to the next session in order.
func (r *Registry) Remove(id string) bool {
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	idx := -1
	for i, sid := range r.order {
		if sid == id {
			idx = i
			break
		}
	}
	if idx >= 0 {
		r.order = append(r.order[:idx], r.order[idx+1:]...)
	}
	if r.focused == id {
		r.focused = ""
		switch {
		case idx >= 0 && idx < len(r.order):
			r.focused = r.order[idx]
		case len(r.order) > 0:
			r.focused = r.order[len(r.order)-1]
		}
	}
	return true
}

// RemoveAll drops every session and returns their ids.
func (r *Registry) RemoveAll() []string {
	ids := r.order
	r.order = nil
	r.byID = make(map[string]*Entry)
	r.focused = ""
	return ids
}

func (r *Registry) Focus(id string) bool {
	if _, ok := r.byID[id]; !ok {
		return false
	}
	r.focused = id
	return true
}

func (r *Registry) Focused() string {
	return r.focused
}

func (r *Registry) Get(id string) (Entry, bool) {
	e := r.byID[id]
	if e == nil {
		return Entry{}, false
	}
	return *e, true
}

func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// List returns copies of every entry in display order.
func (r *Registry) List() []Entry {
	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}

func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int {
	return len(r.order)
}
