package coordinator

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/schlunsen/claude-control-terminal-sub001/internal/format"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/messages"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/metrics"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/permissions"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/protocol"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/sessions"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/tools"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/usage"
)

var (
	ErrNotConnected   = errors.New("not connected")
	ErrUnknownSession = errors.New("unknown session")
)

// Sender delivers one outbound action over the shared socket.
type Sender interface {
	Send(protocol.Action) error
}

// Recorder receives every raw inbound frame before it is dispatched.
type Recorder interface {
	Record(frame []byte) error
}

type Options struct {
	// Defaults fill empty fields of new sessions' options.
	Defaults        protocol.SessionOptions
	HistoryPageSize int
	ContextTimeout  time.Duration
	TodoClearDelay  time.Duration
	Scheduler       tools.Scheduler
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
	Recorder        Recorder
	// OnChange runs after each dispatched event, outside the lock.
	OnChange func(protocol.Event)
	NewID    func() string
	Now      func() time.Time
}

// Notice is a message not owned by any session, such as bulk action
// confirmations.
type Notice struct {
	Text      string    `json:"text"`
	IsError   bool      `json:"is_error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const maxNotices = 100

// Dispatcher is the single writer of all coordinator state. Every inbound
// event is applied to completion under one mutex, and outbound actions are
// built and sent under the same mutex.
type Dispatcher struct {
	mu     sync.Mutex
	sender Sender
	opts   Options
	logger *slog.Logger
	sched  tools.Scheduler

	sessions    *sessions.Registry
	messages    *messages.Store
	tools       *tools.Tracker
	todos       *tools.Todos
	permissions *permissions.Coordinator
	usage       *usage.Tracker

	// resumeHistory is shown as history once the resumed session is created.
	resumeHistory map[string][]protocol.HistoryMessage
	notices       []Notice
}

func New(sender Sender, opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = tools.RealScheduler
	}
	if opts.HistoryPageSize <= 0 {
		opts.HistoryPageSize = 50
	}
	if opts.ContextTimeout <= 0 {
		opts.ContextTimeout = 10 * time.Second
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	d := &Dispatcher{
		sender:        sender,
		opts:          opts,
		logger:        opts.Logger,
		sessions:      sessions.NewRegistry(),
		messages:      messages.NewStore(),
		tools:         tools.NewTracker(),
		permissions:   permissions.NewCoordinator(),
		usage:         usage.NewTracker(),
		resumeHistory: make(map[string][]protocol.HistoryMessage),
	}
	d.tools.SetClock(opts.Now)
	d.sched = lockedScheduler{mu: &d.mu, inner: opts.Scheduler, onChange: opts.OnChange}
	d.todos = tools.NewTodos(d.sched, opts.TodoClearDelay)
	d.todos.OnClear(func(sessionID string) {
		d.logger.Debug("Cleared completed todos", "session_id", sessionID)
	})
	return d
}

// SetSender replaces the outbound transport.
func (d *Dispatcher) SetSender(s Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sender = s
}

// HandleFrame decodes one raw frame and dispatches it. Unknown event types
// are logged and skipped.
func (d *Dispatcher) HandleFrame(frame []byte) error {
	if d.opts.Recorder != nil {
		if err := d.opts.Recorder.Record(frame); err != nil {
			d.logger.Warn("Failed to journal frame", "error", err)
		}
	}
	ev, err := protocol.Decode(frame)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownEvent) {
			d.logger.Debug("Skipping unknown event", "error", err)
		} else {
			d.logger.Warn("Failed to decode frame", "error", err)
		}
		return err
	}
	d.Dispatch(ev)
	return nil
}

// ConnectionLost is called by the transport when the socket drops.
func (d *Dispatcher) ConnectionLost(err error) {
	d.Dispatch(&protocol.ConnectionLost{Err: err})
}

// Dispatch applies one event to every component before returning.
func (d *Dispatcher) Dispatch(ev protocol.Event) {
	d.mu.Lock()
	d.dispatchLocked(ev)
	d.opts.Metrics.Sessions(d.sessions.Len())
	d.mu.Unlock()

	d.opts.Metrics.Event(string(ev.Kind()))
	if d.opts.OnChange != nil {
		d.opts.OnChange(ev)
	}
}

// scopedSession returns the session id of events that only make sense for
// a registered session.
func scopedSession(ev protocol.Event) (string, bool) {
	switch e := ev.(type) {
	case *protocol.SessionInterrupted:
		return e.SessionID, true
	case *protocol.MessagesLoaded:
		return e.SessionID, true
	case *protocol.AgentMessage:
		return e.SessionID, true
	case *protocol.AgentThinking:
		return e.SessionID, true
	case *protocol.AgentToolUse:
		return e.SessionID, true
	case *protocol.PermissionRequest:
		return e.SessionID, true
	}
	return "", false
}

func (d *Dispatcher) dispatchLocked(ev protocol.Event) {
	// Unknown sessions would leave orphaned state behind.
	if id, ok := scopedSession(ev); ok && !d.sessions.Has(id) {
		d.logger.Debug("Dropping event for unknown session", "type", ev.Kind(), "session_id", id)
		return
	}

	switch e := ev.(type) {
	case *protocol.SessionCreated:
		d.handleSessionCreated(e)
	case *protocol.SessionInterrupted:
		d.handleSessionInterrupted(e)
	case *protocol.SessionEnded:
		d.purge(e.SessionID)
	case *protocol.SessionDeleted:
		d.purge(e.SessionID)
	case *protocol.SessionUpdated:
		if e.GitBranch != nil {
			d.sessions.SetGitBranch(e.SessionID, *e.GitBranch)
		}
	case *protocol.SessionsList:
		d.handleSessionsList(e)
	case *protocol.AllSessionsDeleted:
		for _, id := range d.sessions.RemoveAll() {
			d.purge(id)
		}
		d.notice(fmt.Sprintf("Deleted %d sessions", e.Count), false)
	case *protocol.AgentsKilled:
		d.sessions.ClearAllActivity()
		for _, id := range d.sessions.IDs() {
			d.tools.ClearCurrent(id)
		}
		d.notice(fmt.Sprintf("Killed %d agents", e.Count), false)
	case *protocol.MessagesLoaded:
		d.handleMessagesLoaded(e)
	case *protocol.AgentMessage:
		d.handleAgentMessage(e)
	case *protocol.AgentThinking:
		d.sessions.SetThinking(e.SessionID, e.Thinking)
	case *protocol.AgentToolUse:
		d.handleAgentToolUse(e)
	case *protocol.AgentError:
		d.sessions.SetError(e.SessionID, e.Message)
		d.sessions.ClearActivity(e.SessionID)
		d.tools.ClearCurrent(e.SessionID)
		d.appendError(e.SessionID, e.Message)
	case *protocol.PermissionRequest:
		d.handlePermissionRequest(e)
	case *protocol.PermissionAcknowledged:
		d.handlePermissionAcknowledged(e)
	case *protocol.Error:
		d.handleError(e)
	case *protocol.ConnectionLost:
		d.handleConnectionLost(e)
	case *protocol.Pong:
	default:
		d.logger.Debug("Unhandled event", "type", ev.Kind())
	}
}

func (d *Dispatcher) handleSessionCreated(e *protocol.SessionCreated) {
	if !d.sessions.Created(e.Session) {
		d.logger.Debug("Ignoring duplicate session_created", "session_id", e.SessionID)
		return
	}
	d.logger.Info("Session created", "session_id", e.SessionID)

	if history := d.resumeHistory[e.SessionID]; len(history) > 0 {
		delete(d.resumeHistory, e.SessionID)
		page := make([]messages.Message, 0, len(history))
		for i, h := range history {
			seq := i
			page = append(page, messages.Message{
				ID:        fmt.Sprintf("%s-history-%d", e.SessionID, i),
				Role:      messages.Role(h.Role),
				Text:      h.Content,
				Timestamp: h.Timestamp,
				Sequence:  &seq,
			})
		}
		d.messages.MergeHistorical(e.SessionID, page)
	}

	d.usage.ArmCompletionRefresh(e.SessionID)
	if err := d.requestContextLocked(e.SessionID); err != nil {
		d.logger.Warn("Failed to request context usage", "session_id", e.SessionID, "error", err)
	}
}

func (d *Dispatcher) handleSessionInterrupted(e *protocol.SessionInterrupted) {
	if !d.sessions.MarkIdle(e.SessionID) {
		return
	}
	d.tools.ClearCurrent(e.SessionID)
	d.messages.Append(e.SessionID, messages.Message{
		ID:                d.opts.NewID(),
		Role:              messages.RoleAssistant,
		Text:              "Interrupted",
		Timestamp:         d.opts.Now(),
		IsExecutionStatus: true,
	})
}

func (d *Dispatcher) handleSessionsList(e *protocol.SessionsList) {
	for _, id := range d.sessions.ReplaceAll(e.Sessions) {
		d.purge(id)
	}
}

func (d *Dispatcher) handleMessagesLoaded(e *protocol.MessagesLoaded) {
	page := make([]messages.Message, 0, len(e.Messages))
	for _, rec := range e.Messages {
		page = append(page, messages.FromRecord(rec))
	}
	added := d.messages.MergeHistorical(e.SessionID, page)
	d.messages.MarkPageLoaded(e.SessionID, len(e.Messages), e.HasMore)
	d.logger.Debug("Merged history page",
		"session_id", e.SessionID,
		"received", len(e.Messages),
		"added", added,
		"has_more", e.HasMore,
	)
}

func (d *Dispatcher) handleAgentMessage(e *protocol.AgentMessage) {
	id := e.SessionID
	d.tools.ClearCurrent(id)
	if e.Metadata != nil && e.Metadata.GitBranch != "" {
		d.sessions.SetGitBranch(id, e.Metadata.GitBranch)
	}

	body, err := e.Body()
	if err != nil {
		d.logger.Debug("Failed to interpret agent message", "session_id", id, "error", err)
		return
	}

	switch body.Kind {
	case protocol.ContentText, protocol.ContentAssistant:
		d.handleAssistantContent(e, body)
	case protocol.ContentUser:
		d.handleToolResults(id, body.ToolResults)
	case protocol.ContentResult:
		d.handleTurnResult(id, body.Result)
	case protocol.ContentSystem:
		d.logger.Debug("System message", "session_id", id, "subtype", body.Subtype)
	default:
		d.logger.Debug("Unrecognized agent message content", "session_id", id)
	}
}

func (d *Dispatcher) handleAssistantContent(e *protocol.AgentMessage, body protocol.AgentContent) {
	id := e.SessionID
	text := body.JoinedText()

	if strings.TrimSpace(text) != "" {
		// A reply that parses as context usage is consumed and never shown.
		if snap, changed := d.usage.Consume(id, text); snap != nil {
			d.logger.Debug("Context usage updated", "session_id", id, "changed", changed, "percentage", snap.Percentage)
			return
		}
		if d.usage.Loading(id) {
			d.opts.Metrics.ParseMiss("context_usage")
		}
	}

	var visible []protocol.ToolUseRef
	var edits []messages.EditAttachment
	for _, tool := range body.Tools {
		if tool.Name == protocol.ToolTodoWrite {
			d.replaceTodos(id, tool.Input)
			continue
		}
		d.tools.Start(id, tool.ID, tool.Name, tool.Input)
		d.tools.SetCurrent(id, d.summarize(tool.ID, tool.Name, tool.Input))
		if tool.Name == protocol.ToolEdit {
			edits = append(edits, messages.NewEditAttachment(tool.ID, tool.Input))
		}
		visible = append(visible, tool)
	}

	if len(body.Tools) == 0 && text != "" {
		d.legacyTextParse(id, text)
	}

	if strings.TrimSpace(text) == "" && len(visible) == 0 {
		return
	}

	msgID := e.MessageID
	if msgID == "" {
		msgID = d.opts.NewID()
	}
	msg := messages.Message{
		ID:        msgID,
		Role:      messages.RoleAssistant,
		Text:      text,
		Timestamp: d.opts.Now(),
		ToolUses:  visible,
	}
	if e.MessageID != "" && e.Complete != nil {
		d.messages.Upsert(id, msg, *e.Complete)
	} else {
		d.messages.Append(id, msg)
	}
	for _, att := range edits {
		d.messages.AttachEdit(id, msgID, att)
	}
}

// legacyTextParse recovers tool and todo state from prose when the message
// carries no structured tool list.
func (d *Dispatcher) legacyTextParse(sessionID, text string) {
	if summaries := format.ParseToolUse(text); len(summaries) > 0 {
		d.tools.SetCurrent(sessionID, summaries[len(summaries)-1])
	}
	if !strings.Contains(text, protocol.ToolTodoWrite) {
		return
	}
	if items := format.ParseTodoWrite(text); len(items) > 0 {
		d.todos.Replace(sessionID, items)
	} else {
		d.opts.Metrics.ParseMiss("todo_write")
	}
}

func (d *Dispatcher) handleToolResults(sessionID string, results []protocol.ToolResult) {
	var lines []string
	for _, r := range results {
		// Unknown ids, finished tools and TodoWrite produce no line.
		tool, ok := d.tools.Complete(sessionID, r.ToolUseID, r.IsError)
		if !ok {
			continue
		}
		d.opts.Metrics.ToolFinished(tool.Name, string(tool.Status))
		if tool.Name == protocol.ToolEdit {
			status := messages.EditCompleted
			if r.IsError {
				status = messages.EditFailed
			}
			d.messages.SetEditStatus(sessionID, r.ToolUseID, status)
		}
		lines = append(lines, format.ResultLine(tool.Name, tool.Input, r.IsError))
	}
	if len(lines) == 0 {
		return
	}
	d.messages.Append(sessionID, messages.Message{
		ID:           d.opts.NewID(),
		Role:         messages.RoleAssistant,
		Text:         strings.Join(lines, "\n"),
		Timestamp:    d.opts.Now(),
		IsToolResult: true,
	})
}

func (d *Dispatcher) handleTurnResult(sessionID string, res *protocol.ResultInfo) {
	if res == nil {
		return
	}
	d.sessions.ApplyResult(sessionID, *res)
	d.todos.Clear(sessionID)
	d.tools.ClearCurrent(sessionID)

	if d.usage.FinishTurn(sessionID) || d.usage.Loading(sessionID) {
		return
	}
	if d.usage.TakeCompletionRefresh(sessionID) {
		if err := d.requestContextLocked(sessionID); err != nil {
			d.logger.Warn("Failed to refresh context usage", "session_id", sessionID, "error", err)
		}
	}
}

func (d *Dispatcher) handleAgentToolUse(e *protocol.AgentToolUse) {
	id := e.SessionID
	d.sessions.MarkProcessing(id)

	if e.Tool == protocol.ToolTodoWrite {
		d.replaceTodos(id, e.Input)
		return
	}
	d.tools.SetCurrent(id, d.summarize(e.ToolUseID, e.Tool, e.Input))
	if e.ToolUseID == "" {
		return
	}
	d.tools.Start(id, e.ToolUseID, e.Tool, e.Input)
	if e.Tool == protocol.ToolEdit {
		d.messages.AttachEdit(id, "", messages.NewEditAttachment(e.ToolUseID, e.Input))
	}
}

func (d *Dispatcher) replaceTodos(sessionID string, input map[string]any) {
	items, ok := format.TodosFromInput(input)
	if !ok {
		d.opts.Metrics.ParseMiss("todo_input")
		return
	}
	d.todos.Replace(sessionID, items)
}

func (d *Dispatcher) summarize(toolUseID, name string, input map[string]any) format.ToolSummary {
	s := format.Summarize(name, input)
	s.ToolUseID = toolUseID
	return s
}

func (d *Dispatcher) handlePermissionRequest(e *protocol.PermissionRequest) {
	if !d.permissions.Add(*e) {
		d.logger.Debug("Ignoring duplicate permission request", "session_id", e.SessionID, "request_id", e.RequestID)
		return
	}
	attrs := []any{"session_id", e.SessionID, "request_id", e.RequestID, "tool", e.Tool}
	if rule, ok := d.permissions.CoveredBy(*e); ok {
		attrs = append(attrs, "covered_by", permissions.PermissionString(rule))
	}
	d.logger.Info("Permission requested", attrs...)
}

func (d *Dispatcher) handlePermissionAcknowledged(e *protocol.PermissionAcknowledged) {
	res, ok := d.permissions.Acknowledge(e.SessionID, e.RequestID)
	if !d.sessions.Has(e.SessionID) {
		return
	}
	tool := e.Tool
	if tool == "" && ok {
		tool = res.Tool
	}
	if tool == "" {
		tool = "tool"
	}

	text := fmt.Sprintf("Permission denied for %s", tool)
	if e.Approved {
		text = fmt.Sprintf("Permission granted for %s, executing", tool)
	}
	d.messages.Append(e.SessionID, messages.Message{
		ID:                   d.opts.NewID(),
		Role:                 messages.RoleAssistant,
		Text:                 text,
		Timestamp:            d.opts.Now(),
		IsPermissionDecision: true,
		IsError:              !e.Approved,
	})
}

func (d *Dispatcher) handleError(e *protocol.Error) {
	if e.SessionID != "" {
		d.sessions.ClearActivity(e.SessionID)
		d.tools.ClearCurrent(e.SessionID)
		if n := d.permissions.ClearSession(e.SessionID); n > 0 {
			d.logger.Info("Cleared pending permissions", "session_id", e.SessionID, "count", n)
		}
		d.appendError(e.SessionID, e.Message)
		return
	}

	d.clearAllActivity()
	if focused := d.sessions.Focused(); focused != "" {
		d.appendError(focused, e.Message)
		return
	}
	d.notice(e.Message, true)
}

func (d *Dispatcher) handleConnectionLost(e *protocol.ConnectionLost) {
	d.clearAllActivity()
	text := "Connection lost"
	if e.Err != nil {
		text = fmt.Sprintf("Connection lost: %v", e.Err)
	}
	d.notice(text, true)
}

func (d *Dispatcher) clearAllActivity() {
	if n := d.permissions.ClearAll(); n > 0 {
		d.logger.Info("Cleared pending permissions", "count", n)
	}
	d.sessions.ClearAllActivity()
	for _, id := range d.sessions.IDs() {
		d.tools.ClearCurrent(id)
	}
}

func (d *Dispatcher) appendError(sessionID, text string) {
	if !d.sessions.Has(sessionID) {
		d.notice(text, true)
		return
	}
	d.messages.Append(sessionID, messages.Message{
		ID:        d.opts.NewID(),
		Role:      messages.RoleAssistant,
		Text:      text,
		Timestamp: d.opts.Now(),
		IsError:   true,
	})
}

func (d *Dispatcher) notice(text string, isError bool) {
	d.notices = append(d.notices, Notice{Text: text, IsError: isError, Timestamp: d.opts.Now()})
	if len(d.notices) > maxNotices {
		d.notices = d.notices[len(d.notices)-maxNotices:]
	}
}

// purge removes a session and all of its state in every component.
func (d *Dispatcher) purge(sessionID string) {
	d.sessions.Remove(sessionID)
	d.messages.RemoveSession(sessionID)
	d.tools.RemoveSession(sessionID)
	d.todos.RemoveSession(sessionID)
	d.permissions.RemoveSession(sessionID)
	d.usage.RemoveSession(sessionID)
	delete(d.resumeHistory, sessionID)
	d.logger.Info("Session removed", "session_id", sessionID)
}

// lockedScheduler runs timer callbacks under the dispatcher mutex so they
// are serialized with event handling. onChange runs after the lock is
// released, like it does for dispatched events.
type lockedScheduler struct {
	mu       *sync.Mutex
	inner    tools.Scheduler
	onChange func(protocol.Event)
}

func (s lockedScheduler) AfterFunc(d time.Duration, f func()) tools.Timer {
	return s.inner.AfterFunc(d, func() {
		func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			f()
		}()
		if s.onChange != nil {
			s.onChange(&protocol.TimerFired{})
		}
	})
}
