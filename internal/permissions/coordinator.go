package permissions

import (
	"errors"
	"fmt"
	"time"

	"github.com/schlunsen/claude-control-terminal-sub001/internal/protocol"
)

var ErrUnknownRequest = errors.New("unknown permission request")

// Decision is the user's answer to a permission request.
type Decision string

const (
	Approve        Decision = "approve"
	Deny           Decision = "deny"
	ApproveExact   Decision = "approve_exact"
	ApproveSimilar Decision = "approve_similar"
)

func (d Decision) approved() bool {
	return d != Deny
}

func ParseDecision(s string) (Decision, error) {
	switch d := Decision(s); d {
	case Approve, Deny, ApproveExact, ApproveSimilar:
		return d, nil
	}
	return "", fmt.Errorf("invalid decision %q", s)
}

// Stats are per-session resolution counters.
type Stats struct {
	Approved int `json:"approved"`
	Denied   int `json:"denied"`
	Total    int `json:"total"`
}

// Resolution records a locally resolved request until the server
// acknowledges it.
type Resolution struct {
	RequestID  string    `json:"request_id"`
	Tool       string    `json:"tool"`
	Decision   Decision  `json:"decision"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Coordinator holds pending permission requests per session. Resolutions
// remove the request before anything is sent; the removal is never undone.
type Coordinator struct {
	pending   map[string][]protocol.PermissionRequest
	resolving map[string]map[string]Resolution
	stats     map[string]*Stats
	rules     map[string][]protocol.AlwaysAllowRule
	now       func() time.Time
}

func NewCoordinator() *Coordinator {
	return &Coordinator{
		pending:   make(map[string][]protocol.PermissionRequest),
		resolving: make(map[string]map[string]Resolution),
		stats:     make(map[string]*Stats),
		rules:     make(map[string][]protocol.AlwaysAllowRule),
		now:       time.Now,
	}
}

// Add queues a request. Duplicate request ids are ignored.
func (c *Coordinator) Add(req protocol.PermissionRequest) bool {
	if req.RequestID == "" {
		return false
	}
	for _, p := range c.pending[req.SessionID] {
		if p.RequestID == req.RequestID {
			return false
		}
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = c.now()
	}
	c.pending[req.SessionID] = append(c.pending[req.SessionID], req)
	return true
}

func (c *Coordinator) Pending(sessionID string) []protocol.PermissionRequest {
	reqs := c.pending[sessionID]
	if reqs == nil {
		return nil
	}
	out := make([]protocol.PermissionRequest, len(reqs))
	for i, r := range reqs {
		out[i] = r.Clone()
	}
	return out
}

// PendingTotal counts pending requests across every session.
func (c *Coordinator) PendingTotal() int {
	n := 0
	for _, reqs := range c.pending {
		n += len(reqs)
	}
	return n
}

func (c *Coordinator) Get(sessionID, requestID string) (protocol.PermissionRequest, bool) {
	for _, p := range c.pending[sessionID] {
		if p.RequestID == requestID {
			return p.Clone(), true
		}
	}
	return protocol.PermissionRequest{}, false
}

// Resolve removes the request and returns the one outbound action that
// carries the decision. Approve-exact and approve-similar return a combined
// add_always_allow_rule action that also approves the pending request.
func (c *Coordinator) Resolve(sessionID, requestID string, decision Decision, reason string) (protocol.Action, error) {
	req, ok := c.take(sessionID, requestID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}

	c.count(sessionID, decision.approved())
	if c.resolving[sessionID] == nil {
		c.resolving[sessionID] = make(map[string]Resolution)
	}
	c.resolving[sessionID][requestID] = Resolution{
		RequestID:  requestID,
		Tool:       req.Tool,
		Decision:   decision,
		ResolvedAt: c.now(),
	}

	switch decision {
	case ApproveExact, ApproveSimilar:
		rule := ExactRule(req)
		if decision == ApproveSimilar {
			rule = SimilarRule(req)
		}
		c.rules[sessionID] = append(c.rules[sessionID], rule)
		return protocol.AddAlwaysAllowRule{
			SessionID:    sessionID,
			Rule:         rule,
			PermissionID: requestID,
		}, nil
	case Deny:
		return protocol.PermissionResponse{
			SessionID: sessionID,
			RequestID: requestID,
			Approved:  false,
			Reason:    reason,
		}, nil
	default:
		return protocol.PermissionResponse{
			SessionID: sessionID,
			RequestID: requestID,
			Approved:  true,
		}, nil
	}
}

// Acknowledge reconciles a server acknowledgment with the local removal.
// It also drops the request if it was still pending, which happens when
// another client resolved it.
func (c *Coordinator) Acknowledge(sessionID, requestID string) (Resolution, bool) {
	c.take(sessionID, requestID)
	res, ok := c.resolving[sessionID][requestID]
	if ok {
		delete(c.resolving[sessionID], requestID)
		if len(c.resolving[sessionID]) == 0 {
			delete(c.resolving, sessionID)
		}
	}
	return res, ok
}

// Resolving lists locally resolved requests awaiting acknowledgment.
func (c *Coordinator) Resolving(sessionID string) []Resolution {
	out := make([]Resolution, 0, len(c.resolving[sessionID]))
	for _, r := range c.resolving[sessionID] {
		out = append(out, r)
	}
	return out
}

func (c *Coordinator) Stats(sessionID string) Stats {
	if s := c.stats[sessionID]; s != nil {
		return *s
	}
	return Stats{}
}

// Rules returns the rules created from this session's approvals.
func (c *Coordinator) Rules(sessionID string) []protocol.AlwaysAllowRule {
	rules := c.rules[sessionID]
	if rules == nil {
		return nil
	}
	out := make([]protocol.AlwaysAllowRule, len(rules))
	for i, r := range rules {
		out[i] = r.Clone()
	}
	return out
}

// CoveredBy returns the first remembered rule that covers req.
func (c *Coordinator) CoveredBy(req protocol.PermissionRequest) (protocol.AlwaysAllowRule, bool) {
	for _, rule := range c.rules[req.SessionID] {
		if MatchesRule(rule, req) {
			return rule, true
		}
	}
	return protocol.AlwaysAllowRule{}, false
}

// ClearSession drops pending requests for one session and returns how many.
func (c *Coordinator) ClearSession(sessionID string) int {
	n := len(c.pending[sessionID])
	delete(c.pending, sessionID)
	return n
}

// ClearAll drops every pending request.
func (c *Coordinator) ClearAll() int {
	n := c.PendingTotal()
	c.pending = make(map[string][]protocol.PermissionRequest)
	c.resolving = make(map[string]map[string]Resolution)
	return n
}

func (c *Coordinator) RemoveSession(sessionID string) {
	delete(c.pending, sessionID)
	delete(c.resolving, sessionID)
	delete(c.stats, sessionID)
	delete(c.rules, sessionID)
}

func (c *Coordinator) Sessions() int {
	seen := make(map[string]struct{})
	for id := range c.pending {
		seen[id] = struct{}{}
	}
	for id := range c.resolving {
		seen[id] = struct{}{}
	}
	for id := range c.stats {
		seen[id] = struct{}{}
	}
	for id := range c.rules {
		seen[id] = struct{}{}
	}
	return len(seen)
}

func (c *Coordinator) take(sessionID, requestID string) (protocol.PermissionRequest, bool) {
	reqs := c.pending[sessionID]
	for i, p := range reqs {
		if p.RequestID != requestID {
			continue
		}
		reqs = append(reqs[:i:i], reqs[i+1:]...)
		if len(reqs) == 0 {
			delete(c.pending, sessionID)
		} else {
			c.pending[sessionID] = reqs
		}
		return p, true
	}
	return protocol.PermissionRequest{}, false
}

func (c *Coordinator) count(sessionID string, approved bool) {
	s := c.stats[sessionID]
	if s == nil {
		s = &Stats{}
		c.stats[sessionID] = s
	}
	s.Total++
	if approved {
		s.Approved++
	} else {
		s.Denied++
	}
}
