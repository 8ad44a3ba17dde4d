package tools

import (
	"time"

	"github.com/schlunsen/claude-control-terminal-sub001/internal/format"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/protocol"
)

// DefaultClearDelay is how long a fully completed todo list stays visible.
const DefaultClearDelay = 5 * time.Second

// Timer is a pending scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealScheduler is backed by time.AfterFunc.
var RealScheduler Scheduler = realScheduler{}

// Todos holds the current todo list per session. Each update replaces the
// whole list.
type Todos struct {
	lists     map[string][]protocol.TodoItem
	timers    map[string]Timer
	scheduler Scheduler
	delay     time.Duration
	onClear   func(sessionID string)
}

func NewTodos(scheduler Scheduler, delay time.Duration) *Todos {
	if scheduler == nil {
		scheduler = RealScheduler
	}
	if delay <= 0 {
		delay = DefaultClearDelay
	}
	return &Todos{
		lists:     make(map[string][]protocol.TodoItem),
		timers:    make(map[string]Timer),
		scheduler: scheduler,
		delay:     delay,
	}
}

// OnClear registers a hook invoked after the expiry timer clears a list.
func (t *Todos) OnClear(fn func(sessionID string)) {
	t.onClear = fn
}

// Replace installs a new list. Any pending expiry is cancelled, and a new
// one is started when every item is completed.
func (t *Todos) Replace(sessionID string, items []protocol.TodoItem) {
	t.stopTimer(sessionID)
	if len(items) == 0 {
		delete(t.lists, sessionID)
		return
	}
	t.lists[sessionID] = append([]protocol.TodoItem(nil), items...)
	if !format.AllCompleted(items) {
		return
	}

	var timer Timer
	timer = t.scheduler.AfterFunc(t.delay, func() {
		// A newer Replace or Clear owns the slot now.
		if t.timers[sessionID] != timer {
			return
		}
		delete(t.timers, sessionID)
		delete(t.lists, sessionID)
		if t.onClear != nil {
			t.onClear(sessionID)
		}
	})
	t.timers[sessionID] = timer
}

func (t *Todos) Clear(sessionID string) {
	t.stopTimer(sessionID)
	delete(t.lists, sessionID)
}

func (t *Todos) List(sessionID string) []protocol.TodoItem {
	items := t.lists[sessionID]
	if items == nil {
		return nil
	}
	return append([]protocol.TodoItem(nil), items...)
}

// Pending reports whether an expiry timer is armed for the session.
func (t *Todos) Pending(sessionID string) bool {
	_, ok := t.timers[sessionID]
	return ok
}

func (t *Todos) RemoveSession(sessionID string) {
	t.Clear(sessionID)
}

func (t *Todos) Sessions() int {
	seen := make(map[string]struct{}, len(t.lists))
	for id := range t.lists {
		seen[id] = struct{}{}
	}
	for id := range t.timers {
		seen[id] = struct{}{}
	}
	return len(seen)
}

func (t *Todos) stopTimer(sessionID string) {
	if timer, ok := t.timers[sessionID]; ok {
		timer.Stop()
		delete(t.timers, sessionID)
	}
}
