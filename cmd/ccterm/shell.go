package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/schlunsen/claude-control-terminal-sub001/internal/coordinator"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/format"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/gitinfo"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/messages"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/permissions"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/presets"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/protocol"
)

var errQuit = errors.New("quit")

const shellHelp = `Lines not starting with ':' are sent as a prompt to the focused session.

  :new [preset]              create a session, optionally from a preset
  :resume CONVERSATION_ID    resume a recorded conversation
  :sessions                  list local sessions
  :list                      refresh the session list from the server
  :focus ID|N                focus a session by id or list position
  :show                      print the focused session
  :older                     load the next page of history
  :context                   refresh context usage
  :image PATH [TEXT]         send an image with optional text
  :allow REQ [exact|similar] approve a permission request
  :deny REQ [REASON]         deny a permission request
  :dismiss TOOL_ID           remove a finished tool
  :interrupt | :end | :delete [ID]
  :delete-all | :kill-all | :ping
  :presets                   list local presets
  :quit`

// shell is the line-oriented front end of the run command. It prints new
// messages, permission requests and notices as events arrive.
type shell struct {
	d       *coordinator.Dispatcher
	out     io.Writer
	catalog *presets.Catalog
	remote  *presets.Client
	git     *gitinfo.Cache

	mu          sync.Mutex
	printed     map[string]map[string]bool
	shownPerms  map[string]bool
	noticeCount int
}

func newShell(out io.Writer, catalog *presets.Catalog, remote *presets.Client) *shell {
	return &shell{
		out:        out,
		catalog:    catalog,
		remote:     remote,
		git:        gitinfo.NewCache(30 * time.Second),
		printed:    make(map[string]map[string]bool),
		shownPerms: make(map[string]bool),
	}
}

func (s *shell) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	s.printf("ccterm %s. Type :help for commands.\n", Version)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		err := s.exec(ctx, scanner.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			s.printf("error: %v\n", err)
		}
	}
	return scanner.Err()
}

func (s *shell) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *shell) exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, ":") {
		id, err := s.focused()
		if err != nil {
			return err
		}
		return s.d.SendPrompt(id, line, nil)
	}

	cmd, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch cmd {
	case "help", "h":
		s.printf("%s\n", shellHelp)
		return nil
	case "quit", "q", "exit":
		return errQuit
	case "new":
		var opts protocol.SessionOptions
		if rest != "" {
			p, ok := s.catalog.Get(rest)
			if !ok {
				return fmt.Errorf("unknown preset %q", rest)
			}
			opts = p.CreateOptions("")
		}
		id, err := s.d.CreateSession(opts)
		if err != nil {
			return err
		}
		s.printf("Requested session %s\n", id)
		return nil
	case "resume":
		if rest == "" {
			return errors.New("usage: :resume CONVERSATION_ID")
		}
		data, err := s.remote.ResumeData(ctx, rest)
		if err != nil {
			return fmt.Errorf("failed to fetch resume data: %w", err)
		}
		id, err := s.d.ResumeSession(protocol.SessionOptions{WorkingDirectory: data.WorkingDirectory}, data.History())
		if err != nil {
			return err
		}
		s.printf("Resuming %s as session %s (%d messages)\n", rest, id, len(data.Messages))
		return nil
	case "sessions":
		s.printSessions(ctx)
		return nil
	case "list":
		return s.d.ListSessions()
	case "focus":
		if len(args) != 1 {
			return errors.New("usage: :focus ID|N")
		}
		id := s.resolveSession(args[0])
		if err := s.d.Focus(id); err != nil {
			return err
		}
		s.printf("Focused %s\n", id)
		s.showFocused(false)
		return nil
	case "show":
		s.showFocused(true)
		return nil
	case "presets":
		for _, p := range s.catalog.List() {
			s.printf("%-24s %s\n", p.Name, p.Description)
		}
		return nil
	case "ping":
		return s.d.Ping()
	case "delete-all":
		return s.d.DeleteAllSessions()
	case "kill-all":
		return s.d.KillAllAgents()
	}

	// Everything below acts on the focused session.
	id, err := s.focused()
	if err != nil {
		return err
	}
	switch cmd {
	case "older":
		return s.d.LoadOlderMessages(id)
	case "context":
		return s.d.RequestContext(id)
	case "image":
		if len(args) == 0 {
			return errors.New("usage: :image PATH [TEXT]")
		}
		img, err := readImage(args[0])
		if err != nil {
			return err
		}
		text := strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
		return s.d.SendPrompt(id, text, []protocol.ImageSource{img})
	case "allow":
		if len(args) == 0 {
			return errors.New("usage: :allow REQ [exact|similar]")
		}
		decision := permissions.Approve
		if len(args) > 1 {
			switch args[1] {
			case "exact":
				decision = permissions.ApproveExact
			case "similar":
				decision = permissions.ApproveSimilar
			default:
				return fmt.Errorf("unknown approval mode %q", args[1])
			}
		}
		return s.d.RespondToPermission(id, args[0], decision, "")
	case "deny":
		if len(args) == 0 {
			return errors.New("usage: :deny REQ [REASON]")
		}
		reason := strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
		return s.d.RespondToPermission(id, args[0], permissions.Deny, reason)
	case "dismiss":
		if len(args) != 1 || !s.d.DismissTool(id, args[0]) {
			return errors.New("usage: :dismiss TOOL_ID (finished tools only)")
		}
		return nil
	case "interrupt":
		return s.d.InterruptSession(id)
	case "end":
		return s.d.EndSession(id)
	case "delete":
		if len(args) == 1 {
			id = s.resolveSession(args[0])
		}
		return s.d.DeleteSession(id)
	}
	return fmt.Errorf("unknown command :%s (try :help)", cmd)
}

func (s *shell) focused() (string, error) {
	id := s.d.Snapshot().Focused
	if id == "" {
		return "", errors.New("no session focused; create one with :new")
	}
	return id, nil
}

// resolveSession accepts a 1-based list position or an id.
func (s *shell) resolveSession(arg string) string {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return arg
	}
	list := s.d.Snapshot().Sessions
	if n >= 1 && n <= len(list) {
		return list[n-1].ID
	}
	return arg
}

func readImage(path string) (protocol.ImageSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return protocol.ImageSource{}, err
	}
	mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if !strings.HasPrefix(mediaType, "image/") {
		return protocol.ImageSource{}, fmt.Errorf("%s is not an image", path)
	}
	return protocol.ImageSource{
		Type:      "base64",
		MediaType: mediaType,
		Data:      base64.StdEncoding.EncodeToString(data),
	}, nil
}

func (s *shell) printSessions(ctx context.Context) {
	st := s.d.Snapshot()
	if len(st.Sessions) == 0 {
		s.printf("No sessions\n")
		return
	}
	for i, v := range st.Sessions {
		marker := " "
		if v.ID == st.Focused {
			marker = "*"
		}
		flags := ""
		if v.Deleting {
			flags += " [deleting]"
		}
		if v.Thinking {
			flags += " [thinking]"
		}
		if len(v.Pending) > 0 {
			flags += fmt.Sprintf(" [%d pending]", len(v.Pending))
		}
		name := v.Options.AgentName
		if name == "" {
			name = v.Options.WorkingDirectory
		}
		if branch := s.branch(ctx, v); branch != "" {
			name += " (" + branch + ")"
		}
		s.printf("%s %d. %s  %-10s %s%s\n", marker, i+1, v.ID, v.Status, name, flags)
	}
}

// branch prefers the server reported branch and falls back to the local
// checkout of the session's working directory.
func (s *shell) branch(ctx context.Context, v coordinator.SessionView) string {
	if v.GitBranch != "" {
		return v.GitBranch
	}
	if info := s.git.Get(ctx, v.Options.WorkingDirectory); info != nil {
		return info.Branch
	}
	return ""
}

// onEvent runs after every dispatched event, outside the dispatcher lock.
func (s *shell) onEvent(ev protocol.Event) {
	if s.d == nil {
		return
	}
	st := s.d.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(st.Notices) < s.noticeCount {
		s.noticeCount = 0
	}
	for _, n := range st.Notices[s.noticeCount:] {
		prefix := "notice"
		if n.IsError {
			prefix = "error"
		}
		fmt.Fprintf(s.out, "%s: %s\n", prefix, n.Text)
	}
	s.noticeCount = len(st.Notices)

	for _, v := range st.Sessions {
		for _, req := range v.Pending {
			if s.shownPerms[req.RequestID] {
				continue
			}
			s.shownPerms[req.RequestID] = true
			fmt.Fprintf(s.out, "[%s] permission %s: %s\n", shortID(v.ID), req.RequestID, format.Summarize(req.Tool, req.Parameters))
			fmt.Fprintf(s.out, "    :allow %s  |  :allow %s similar (%s)  |  :deny %s\n",
				req.RequestID, req.RequestID,
				permissions.PatternDescription(req.Tool, permissions.SimilarPattern(req.Tool, req.Parameters)),
				req.RequestID)
		}
		if v.ID == st.Focused {
			s.writeNew(v)
		}
	}
	if _, ok := ev.(*protocol.SessionDeleted); ok {
		s.forget(st)
	}
	if _, ok := ev.(*protocol.AllSessionsDeleted); ok {
		s.forget(st)
	}
}

// forget drops print state of sessions that no longer exist.
func (s *shell) forget(st coordinator.State) {
	live := make(map[string]bool, len(st.Sessions))
	for _, v := range st.Sessions {
		live[v.ID] = true
	}
	for id := range s.printed {
		if !live[id] {
			delete(s.printed, id)
		}
	}
}

func (s *shell) showFocused(all bool) {
	v, ok := s.d.Session(s.d.Snapshot().Focused)
	if !ok {
		s.printf("No session focused\n")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if all {
		delete(s.printed, v.ID)
	}
	s.writeNew(v)
	if v.CurrentTool != nil {
		fmt.Fprintf(s.out, "  running: %s\n", v.CurrentTool)
	}
	if v.RunningTools > 1 {
		fmt.Fprintf(s.out, "  %d tools in flight\n", v.RunningTools)
	}
	for _, todo := range v.Todos {
		box := " "
		switch todo.Status {
		case protocol.TodoCompleted:
			box = "x"
		case protocol.TodoInProgress:
			box = "~"
		}
		fmt.Fprintf(s.out, "  [%s] %s\n", box, todo.Content)
	}
	if v.Context != nil {
		fmt.Fprintf(s.out, "  context: %s %d/%d tokens (%.0f%%)\n",
			v.Context.Model, v.Context.TotalTokens, v.Context.ContextWindow, v.Context.Percentage)
	}
	fmt.Fprintf(s.out, "  permissions: %d approved, %d denied\n", v.Stats.Approved, v.Stats.Denied)
}

// writeNew prints messages of v not printed before. Callers hold s.mu.
func (s *shell) writeNew(v coordinator.SessionView) {
	seen := s.printed[v.ID]
	if seen == nil {
		seen = make(map[string]bool)
		s.printed[v.ID] = seen
	}
	for _, m := range v.Messages {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		writeMessage(s.out, m)
	}
}

func writeMessage(w io.Writer, m messages.Message) {
	text := m.PlainText()
	switch {
	case m.IsError:
		fmt.Fprintf(w, "error: %s\n", text)
	case m.IsToolResult, m.IsExecutionStatus, m.IsPermissionDecision:
		for _, line := range strings.Split(text, "\n") {
			fmt.Fprintf(w, "  | %s\n", line)
		}
	case m.Role == messages.RoleUser:
		fmt.Fprintf(w, "you> %s\n", text)
	default:
		if text != "" {
			fmt.Fprintf(w, "agent> %s\n", text)
		}
		for _, tool := range m.ToolUses {
			fmt.Fprintf(w, "  -> %s\n", format.Summarize(tool.Name, tool.Input))
		}
		for _, edit := range m.Edits {
			if edit.Diff != "" {
				fmt.Fprintf(w, "%s", edit.Diff)
			}
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
