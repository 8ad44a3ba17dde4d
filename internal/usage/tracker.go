package usage

import "slices"

// Tracker caches the last context usage snapshot per session and tracks
// whether a /context request is in flight.
type Tracker struct {
	lastUsage map[string]*ContextUsage
	loading   map[string]uint64
	// refreshArmed latches once per session. After the first completed turn
	// fires its refresh, later turns never re-arm it.
	refreshArmed map[string]bool
	refreshUsed  map[string]bool
	// contextTurn is set while the agent is answering a /context prompt.
	contextTurn map[string]bool
	generation  uint64
}

func NewTracker() *Tracker {
	return &Tracker{
		lastUsage:    make(map[string]*ContextUsage),
		loading:      make(map[string]uint64),
		refreshArmed: make(map[string]bool),
		refreshUsed:  make(map[string]bool),
		contextTurn:  make(map[string]bool),
	}
}

// BeginRequest marks a /context request in flight and returns a generation
// token for the matching timeout callback.
func (t *Tracker) BeginRequest(sessionID string) uint64 {
	t.generation++
	t.loading[sessionID] = t.generation
	t.contextTurn[sessionID] = true
	return t.generation
}

// FinishTurn is called when a turn completes. It reports whether that turn
// was the reply to a /context prompt.
func (t *Tracker) FinishTurn(sessionID string) bool {
	was := t.contextTurn[sessionID]
	delete(t.contextTurn, sessionID)
	return was
}

// Timeout clears the loading flag if it still belongs to gen. The pending
// /context turn is abandoned too so the next real turn keeps its refresh.
// It reports whether anything was cleared.
func (t *Tracker) Timeout(sessionID string, gen uint64) bool {
	if cur, ok := t.loading[sessionID]; ok && cur == gen {
		delete(t.loading, sessionID)
		delete(t.contextTurn, sessionID)
		return true
	}
	return false
}

func (t *Tracker) Loading(sessionID string) bool {
	_, ok := t.loading[sessionID]
	return ok
}

// Consume tries to parse text as a /context reply. On success the snapshot
// is replaced and loading is cleared. A failed parse leaves both untouched.
// changed reports whether the stored snapshot differs from the previous one.
func (t *Tracker) Consume(sessionID, text string) (snapshot *ContextUsage, changed bool) {
	parsed := ParseContextUsage(text)
	if parsed == nil {
		return nil, false
	}
	changed = !usageEqual(t.lastUsage[sessionID], parsed)
	t.lastUsage[sessionID] = parsed
	delete(t.loading, sessionID)
	return parsed, changed
}

// Snapshot returns a copy of the last parsed usage, or nil.
func (t *Tracker) Snapshot(sessionID string) *ContextUsage {
	u := t.lastUsage[sessionID]
	if u == nil {
		return nil
	}
	cp := *u
	cp.Categories = slices.Clone(u.Categories)
	return &cp
}

// ArmCompletionRefresh schedules one refresh for the next completed turn.
// It is a no-op when the session already used its refresh.
func (t *Tracker) ArmCompletionRefresh(sessionID string) {
	if t.refreshUsed[sessionID] {
		return
	}
	t.refreshArmed[sessionID] = true
}

// TakeCompletionRefresh reports whether a completed turn should issue a
// /context request, consuming the armed flag.
func (t *Tracker) TakeCompletionRefresh(sessionID string) bool {
	if !t.refreshArmed[sessionID] {
		return false
	}
	delete(t.refreshArmed, sessionID)
	t.refreshUsed[sessionID] = true
	return true
}

// RemoveSession cleans up all tracking state for a session.
func (t *Tracker) RemoveSession(sessionID string) {
	delete(t.lastUsage, sessionID)
	delete(t.loading, sessionID)
	delete(t.refreshArmed, sessionID)
	delete(t.refreshUsed, sessionID)
	delete(t.contextTurn, sessionID)
}

// Sessions returns how many sessions have any tracked state.
func (t *Tracker) Sessions() int {
	seen := make(map[string]struct{})
	for _, m := range []map[string]bool{t.refreshArmed, t.refreshUsed, t.contextTurn} {
		for id := range m {
			seen[id] = struct{}{}
		}
	}
	for id := range t.lastUsage {
		seen[id] = struct{}{}
	}
	for id := range t.loading {
		seen[id] = struct{}{}
	}
	return len(seen)
}
