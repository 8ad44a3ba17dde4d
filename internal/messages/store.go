package messages

import (
	"slices"
	"strconv"
	"time"
)

// Page tracks paginated history loading for one session.
type Page struct {
	Loaded  int  `json:"loaded"`
	HasMore bool `json:"has_more"`
	// Requested is true once any page has been asked for.
	Requested bool `json:"requested"`
}

// Store holds each session's ordered message log.
type Store struct {
	logs  map[string][]Message
	pages map[string]*Page
}

func NewStore() *Store {
	return &Store{
		logs:  make(map[string][]Message),
		pages: make(map[string]*Page),
	}
}

// Append pushes a live message. Control messages are dropped.
func (s *Store) Append(sessionID string, msg Message) bool {
	if msg.IsControl() {
		return false
	}
	s.logs[sessionID] = append(s.logs[sessionID], msg)
	return true
}

// Upsert merges a streamed chunk into the message with the same id. A
// partial chunk extends the text; a complete one replaces it.
func (s *Store) Upsert(sessionID string, msg Message, complete bool) bool {
	log := s.logs[sessionID]
	if msg.ID != "" {
		for i := len(log) - 1; i >= 0; i-- {
			if log[i].ID != msg.ID {
				continue
			}
			if complete {
				log[i].Text = msg.Text
			} else {
				log[i].Text += msg.Text
			}
			if len(msg.ToolUses) > 0 {
				log[i].ToolUses = msg.ToolUses
			}
			return true
		}
	}
	return s.Append(sessionID, msg)
}

// MergeHistorical folds a page of persisted messages into the log. Rows
// already present are skipped, keyed by id or, for rows without one, by
// sequence. The whole log is then stably sorted by sequence (unsequenced
// last) and timestamp. Merging the same page twice leaves the log unchanged.
func (s *Store) MergeHistorical(sessionID string, page []Message) int {
	log := s.logs[sessionID]
	seen := make(map[string]struct{}, len(log))
	for _, m := range log {
		if key := m.mergeKey(); key != "" {
			seen[key] = struct{}{}
		}
	}

	added := 0
	for _, m := range page {
		if m.IsControl() {
			continue
		}
		if key := m.mergeKey(); key != "" {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		m.IsHistorical = true
		log = append(log, m)
		added++
	}

	slices.SortStableFunc(log, compareMessages)
	s.logs[sessionID] = log
	return added
}

// mergeKey identifies a message across history pages.
func (m Message) mergeKey() string {
	switch {
	case m.ID != "":
		return "id:" + m.ID
	case m.Sequence != nil:
		return "seq:" + strconv.Itoa(*m.Sequence)
	}
	return ""
}

func compareMessages(a, b Message) int {
	switch {
	case a.Sequence != nil && b.Sequence == nil:
		return -1
	case a.Sequence == nil && b.Sequence != nil:
		return 1
	case a.Sequence != nil && b.Sequence != nil && *a.Sequence != *b.Sequence:
		if *a.Sequence < *b.Sequence {
			return -1
		}
		return 1
	}
	return compareTime(a.Timestamp, b.Timestamp)
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

// Messages returns a deep copy of the session's log.
func (s *Store) Messages(sessionID string) []Message {
	log := s.logs[sessionID]
	if log == nil {
		return nil
	}
	out := make([]Message, len(log))
	for i, m := range log {
		out[i] = m.Clone()
	}
	return out
}

func (s *Store) Len(sessionID string) int {
	return len(s.logs[sessionID])
}

// Last returns the most recent message with the given role.
func (s *Store) Last(sessionID string, role Role) (Message, bool) {
	log := s.logs[sessionID]
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Role == role {
			return log[i].Clone(), true
		}
	}
	return Message{}, false
}

// AttachEdit pins an Edit attachment to the message with messageID, or to
// the newest assistant message when messageID is empty or unknown.
func (s *Store) AttachEdit(sessionID, messageID string, att EditAttachment) bool {
	log := s.logs[sessionID]
	target := -1
	for i := len(log) - 1; i >= 0; i-- {
		if messageID != "" && log[i].ID == messageID {
			target = i
			break
		}
		if target < 0 && log[i].Role == RoleAssistant && !log[i].IsToolResult {
			target = i
			if messageID == "" {
				break
			}
		}
	}
	if target < 0 {
		return false
	}
	for _, m := range log {
		for _, existing := range m.Edits {
			if existing.ToolUseID == att.ToolUseID {
				return false
			}
		}
	}
	// Copy on write: earlier snapshots may still hold the old slice.
	log[target].Edits = append(slices.Clip(log[target].Edits), att)
	return true
}

// SetEditStatus updates the attachment of an Edit tool call.
func (s *Store) SetEditStatus(sessionID, toolUseID string, status EditStatus) bool {
	log := s.logs[sessionID]
	for i := len(log) - 1; i >= 0; i-- {
		for j := range log[i].Edits {
			if log[i].Edits[j].ToolUseID == toolUseID {
				edits := slices.Clone(log[i].Edits)
				edits[j].Status = status
				log[i].Edits = edits
				return true
			}
		}
	}
	return false
}

// MarkPageLoaded records the result of a history page request.
func (s *Store) MarkPageLoaded(sessionID string, count int, hasMore bool) {
	p := s.page(sessionID)
	p.Loaded += count
	p.HasMore = hasMore
	p.Requested = true
}

func (s *Store) MarkPageRequested(sessionID string) {
	s.page(sessionID).Requested = true
}

func (s *Store) Page(sessionID string) Page {
	if p := s.pages[sessionID]; p != nil {
		return *p
	}
	return Page{}
}

func (s *Store) page(sessionID string) *Page {
	p := s.pages[sessionID]
	if p == nil {
		p = &Page{}
		s.pages[sessionID] = p
	}
	return p
}

func (s *Store) RemoveSession(sessionID string) {
	delete(s.logs, sessionID)
	delete(s.pages, sessionID)
}

func (s *Store) Sessions() int {
	seen := make(map[string]struct{}, len(s.logs))
	for id := range s.logs {
		seen[id] = struct{}{}
	}
	for id := range s.pages {
		seen[id] = struct{}{}
	}
	return len(seen)
}
