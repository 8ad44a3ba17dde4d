package coordinator

import (
	"fmt"
	"strings"

	"github.com/schlunsen/claude-control-terminal-sub001/internal/messages"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/permissions"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/protocol"
)

// Outbound actions never wait for a reply; their effects arrive later as
// inbound events.

// CreateSession asks the server for a new session and returns its id. The
// session appears in the registry once session_created arrives.
func (d *Dispatcher) CreateSession(opts protocol.SessionOptions) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createSessionLocked(opts)
}

// ResumeSession creates a session that continues a previous conversation.
// The prior turns are sent to the agent and shown as history locally.
func (d *Dispatcher) ResumeSession(opts protocol.SessionOptions, history []protocol.HistoryMessage) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	opts.ConversationHistory = history
	id, err := d.createSessionLocked(opts)
	if err != nil {
		return "", err
	}
	if len(history) > 0 {
		d.resumeHistory[id] = history
	}
	return id, nil
}

func (d *Dispatcher) createSessionLocked(opts protocol.SessionOptions) (string, error) {
	opts = d.withDefaults(opts)
	id := d.opts.NewID()
	if err := d.sendLocked(protocol.CreateSession{SessionID: id, Options: opts}); err != nil {
		return "", err
	}
	d.logger.Info("Requested session", "session_id", id, "working_directory", opts.WorkingDirectory)
	return id, nil
}

func (d *Dispatcher) withDefaults(opts protocol.SessionOptions) protocol.SessionOptions {
	def := d.opts.Defaults
	if len(opts.Tools) == 0 {
		opts.Tools = append([]string(nil), def.Tools...)
	}
	if opts.WorkingDirectory == "" {
		opts.WorkingDirectory = def.WorkingDirectory
	}
	if opts.PermissionMode == "" {
		opts.PermissionMode = def.PermissionMode
	}
	if opts.Provider == "" {
		opts.Provider = def.Provider
	}
	if opts.Model == "" {
		opts.Model = def.Model
	}
	return opts
}

// SendPrompt sends user input to a session. Images switch the prompt to
// structured content blocks. A new prompt clears the session's todos.
func (d *Dispatcher) SendPrompt(sessionID, text string, images []protocol.ImageSource) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.sessions.Has(sessionID) {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	if len(images) == 0 && strings.TrimSpace(text) == protocol.ContextCommand {
		return d.requestContextLocked(sessionID)
	}

	action := protocol.SendPrompt{SessionID: sessionID}
	msg := messages.Message{
		ID:        d.opts.NewID(),
		Role:      messages.RoleUser,
		Timestamp: d.opts.Now(),
	}
	if len(images) == 0 {
		action.Prompt = text
		msg.Text = text
	} else {
		blocks := make([]protocol.ContentBlock, 0, len(images)+1)
		if text != "" {
			blocks = append(blocks, protocol.TextBlock(text))
		}
		for _, img := range images {
			blocks = append(blocks, protocol.ImageBlock(img))
		}
		action.Content = blocks
		msg.Blocks = blocks
	}

	if err := d.sendLocked(action); err != nil {
		return err
	}
	d.messages.Append(sessionID, msg)
	d.todos.Clear(sessionID)
	d.sessions.MarkProcessing(sessionID)
	return nil
}

// RequestContext sends the in-band /context prompt. The reply is parsed
// into a usage snapshot and never shown.
func (d *Dispatcher) RequestContext(sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.sessions.Has(sessionID) {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return d.requestContextLocked(sessionID)
}

func (d *Dispatcher) requestContextLocked(sessionID string) error {
	if err := d.sendLocked(protocol.SendPrompt{SessionID: sessionID, Prompt: protocol.ContextCommand}); err != nil {
		return err
	}
	gen := d.usage.BeginRequest(sessionID)
	d.sched.AfterFunc(d.opts.ContextTimeout, func() {
		if d.usage.Timeout(sessionID, gen) {
			d.logger.Debug("Context usage request timed out", "session_id", sessionID)
		}
	})
	return nil
}

// EndSession asks the server to stop a session. It is removed locally when
// session_ended arrives.
func (d *Dispatcher) EndSession(sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.sessions.Has(sessionID) {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	if err := d.sendLocked(protocol.EndSession{SessionID: sessionID}); err != nil {
		return err
	}
	d.sessions.MarkEnded(sessionID)
	return nil
}

// DeleteSession marks the session as deleting right away and removes it
// when session_deleted arrives. The marker is not undone if sending fails.
func (d *Dispatcher) DeleteSession(sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.sessions.MarkDeleting(sessionID) {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return d.sendLocked(protocol.DeleteSession{SessionID: sessionID})
}

// InterruptSession asks the agent to stop. Processing state only changes
// when the server confirms with session_interrupted.
func (d *Dispatcher) InterruptSession(sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.sessions.Has(sessionID) {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return d.sendLocked(protocol.InterruptSession{SessionID: sessionID})
}

// RespondToPermission resolves a pending request. The request is removed
// before sending and stays removed if the send fails.
func (d *Dispatcher) RespondToPermission(sessionID, requestID string, decision permissions.Decision, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	action, err := d.permissions.Resolve(sessionID, requestID, decision, reason)
	if err != nil {
		return err
	}
	d.opts.Metrics.Permission(string(decision))
	d.logger.Info("Resolved permission",
		"session_id", sessionID,
		"request_id", requestID,
		"decision", decision,
	)
	return d.sendLocked(action)
}

// AddAlwaysAllowRule approves a pending request and installs a rule for
// it in one round trip: exact parameters, or a pattern of similar uses.
func (d *Dispatcher) AddAlwaysAllowRule(sessionID, requestID string, exact bool) error {
	decision := permissions.ApproveSimilar
	if exact {
		decision = permissions.ApproveExact
	}
	return d.RespondToPermission(sessionID, requestID, decision, "")
}

// KillAllAgents stops every agent. The confirmation notice is posted when
// agents_killed arrives.
func (d *Dispatcher) KillAllAgents() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sendLocked(protocol.KillAllAgents{})
}

func (d *Dispatcher) DeleteAllSessions() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sendLocked(protocol.DeleteAllSessions{})
}

func (d *Dispatcher) ListSessions() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sendLocked(protocol.ListSessions{})
}

func (d *Dispatcher) Ping() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sendLocked(protocol.Ping{})
}

// LoadMessages requests one page of persisted history.
func (d *Dispatcher) LoadMessages(sessionID string, limit, offset int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadMessagesLocked(sessionID, limit, offset)
}

// LoadOlderMessages requests the page after everything loaded so far.
func (d *Dispatcher) LoadOlderMessages(sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	page := d.messages.Page(sessionID)
	if page.Requested && !page.HasMore {
		return nil
	}
	return d.loadMessagesLocked(sessionID, d.opts.HistoryPageSize, page.Loaded)
}

func (d *Dispatcher) loadMessagesLocked(sessionID string, limit, offset int) error {
	if !d.sessions.Has(sessionID) {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	if limit <= 0 {
		limit = d.opts.HistoryPageSize
	}
	if err := d.sendLocked(protocol.LoadMessages{SessionID: sessionID, Limit: limit, Offset: offset}); err != nil {
		return err
	}
	d.messages.MarkPageRequested(sessionID)
	return nil
}

// Focus switches the focused session. Sessions known only from a list get
// their first history page on first focus.
func (d *Dispatcher) Focus(sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.sessions.Focus(sessionID) {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	entry, _ := d.sessions.Get(sessionID)
	if entry.Preloaded || d.messages.Page(sessionID).Requested {
		return nil
	}
	return d.loadMessagesLocked(sessionID, d.opts.HistoryPageSize, 0)
}

// DismissTool removes a finished tool from the session's tool list.
func (d *Dispatcher) DismissTool(sessionID, toolUseID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tools.Dismiss(sessionID, toolUseID)
}

func (d *Dispatcher) sendLocked(action protocol.Action) error {
	if d.sender == nil {
		return ErrNotConnected
	}
	if err := d.sender.Send(action); err != nil {
		d.opts.Metrics.SendFailure(string(action.ActionType()))
		return fmt.Errorf("failed to send %s: %w", action.ActionType(), err)
	}
	return nil
}
