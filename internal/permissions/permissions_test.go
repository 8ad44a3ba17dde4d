package permissions

import (
	"testing"

	"github.com/schlunsen/claude-control-terminal-sub001/internal/protocol"
	"github.com/stretchr/testify/require"
)

func request(id, tool string, params map[string]any) protocol.PermissionRequest {
	return protocol.PermissionRequest{
		SessionID:   "s1",
		RequestID:   id,
		Tool:        tool,
		Parameters:  params,
		Description: "Allow " + tool,
	}
}

func TestSimilarPattern(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		tool   string
		params map[string]any
		want   string
		desc   string
	}{
		{"bash prefix", "Bash", map[string]any{"command": "npm install lodash"}, "npm:*", "All commands starting with: npm"},
		{"bash empty", "Bash", map[string]any{"command": ""}, "*", "All Bash commands"},
		{"bash missing", "Bash", nil, "*", "All Bash commands"},
		{"read", "Read", map[string]any{"file_path": "/src/deep/main.go"}, "/**", "All Read operations (any file)"},
		{"edit", "Edit", map[string]any{"file_path": "a.go"}, "/**", "All Edit operations (any file)"},
		{"grep", "Grep", map[string]any{"pattern": "TODO"}, "*", "All Grep operations"},
		{"glob", "Glob", map[string]any{"pattern": "**/*.go"}, "*", "All Glob operations"},
		{"other", "WebFetch", map[string]any{"url": "x"}, "*", "All WebFetch operations"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := SimilarRule(request("r", tt.tool, tt.params))
			require.Equal(t, tt.tool, rule.Tool)
			require.Equal(t, protocol.MatchPattern, rule.MatchMode)
			require.Equal(t, tt.want, Template(rule.Pattern))
			require.Equal(t, tt.desc, rule.Description)
		})
	}
}

func TestPermissionString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Bash(npm:*)", PermissionString(SimilarRule(request("r", "Bash", map[string]any{"command": "npm test"}))))
	require.Equal(t, "Read(/**)", PermissionString(SimilarRule(request("r", "Read", nil))))
	require.Equal(t, "Grep(*)", PermissionString(SimilarRule(request("r", "Grep", nil))))
	require.Equal(t, "Bash(git status)", PermissionString(ExactRule(request("r", "Bash", map[string]any{"command": "git status"}))))
}

func TestMatchesRule(t *testing.T) {
	t.Parallel()

	npm := SimilarRule(request("r", "Bash", map[string]any{"command": "npm install"}))
	require.True(t, MatchesRule(npm, request("x", "Bash", map[string]any{"command": "npm test"})))
	require.False(t, MatchesRule(npm, request("x", "Bash", map[string]any{"command": "rm -rf /"})))
	require.False(t, MatchesRule(npm, request("x", "Read", map[string]any{"command": "npm test"})))
	require.True(t, MatchesRule(npm, request("x", "Bash", map[string]any{"command": "npm-check-updates"})))
	require.False(t, MatchesRule(npm, request("x", "Bash", map[string]any{"command": " npm test"})))

	read := SimilarRule(request("r", "Read", map[string]any{"file_path": "/a/b.go"}))
	require.True(t, MatchesRule(read, request("x", "Read", map[string]any{"file_path": "/etc/hosts"})))

	scoped := protocol.AlwaysAllowRule{
		Tool:      "Write",
		MatchMode: protocol.MatchPattern,
		Pattern:   &protocol.RulePattern{FilePathPattern: strPtr("/repo/**/*.go")},
	}
	require.True(t, MatchesRule(scoped, request("x", "Write", map[string]any{"file_path": "/repo/internal/a.go"})))
	require.False(t, MatchesRule(scoped, request("x", "Write", map[string]any{"file_path": "/repo/README.md"})))

	exact := ExactRule(request("r", "Bash", map[string]any{"command": "ls"}))
	require.True(t, MatchesRule(exact, request("x", "Bash", map[string]any{"command": "ls"})))
	require.False(t, MatchesRule(exact, request("x", "Bash", map[string]any{"command": "ls -la"})))
}

func TestResolveRemovesOptimistically(t *testing.T) {
	t.Parallel()

	c := NewCoordinator()
	require.True(t, c.Add(request("r1", "Bash", map[string]any{"command": "npm install lodash"})))
	require.False(t, c.Add(request("r1", "Bash", nil)))
	require.True(t, c.Add(request("r2", "Read", map[string]any{"file_path": "x"})))
	require.True(t, c.Add(request("r3", "Grep", nil)))
	require.True(t, c.Add(request("r4", "Edit", nil)))

	action, err := c.Resolve("s1", "r1", ApproveSimilar, "")
	require.NoError(t, err)
	rule, ok := action.(protocol.AddAlwaysAllowRule)
	require.True(t, ok)
	require.Equal(t, "r1", rule.PermissionID)
	require.Equal(t, "s1", rule.SessionID)
	require.Equal(t, "Bash", rule.Rule.Tool)
	require.Equal(t, "npm:*", Template(rule.Rule.Pattern))
	_, pending := c.Get("s1", "r1")
	require.False(t, pending)

	action, err = c.Resolve("s1", "r2", ApproveExact, "")
	require.NoError(t, err)
	exact := action.(protocol.AddAlwaysAllowRule)
	require.Equal(t, protocol.MatchExact, exact.Rule.MatchMode)
	require.Equal(t, map[string]any{"file_path": "x"}, exact.Rule.Parameters)
	require.Equal(t, "Read", exact.Rule.Tool)

	action, err = c.Resolve("s1", "r3", Deny, "no thanks")
	require.NoError(t, err)
	require.Equal(t, protocol.PermissionResponse{SessionID: "s1", RequestID: "r3", Approved: false, Reason: "no thanks"}, action)

	action, err = c.Resolve("s1", "r4", Approve, "ignored")
	require.NoError(t, err)
	require.Equal(t, protocol.PermissionResponse{SessionID: "s1", RequestID: "r4", Approved: true}, action)

	require.Empty(t, c.Pending("s1"))
	require.Equal(t, Stats{Approved: 3, Denied: 1, Total: 4}, c.Stats("s1"))
	require.Len(t, c.Resolving("s1"), 4)
	require.Len(t, c.Rules("s1"), 2)

	_, err = c.Resolve("s1", "r1", Approve, "")
	require.ErrorIs(t, err, ErrUnknownRequest)
	require.Equal(t, 4, c.Stats("s1").Total)
}

func TestAcknowledgeReconciles(t *testing.T) {
	t.Parallel()

	c := NewCoordinator()
	c.Add(request("r1", "Bash", nil))
	c.Add(request("r2", "Bash", nil))

	_, err := c.Resolve("s1", "r1", Approve, "")
	require.NoError(t, err)

	res, ok := c.Acknowledge("s1", "r1")
	require.True(t, ok)
	require.Equal(t, Approve, res.Decision)
	require.Empty(t, c.Resolving("s1"))

	// Resolved elsewhere: the ack still clears the pending entry.
	_, ok = c.Acknowledge("s1", "r2")
	require.False(t, ok)
	require.Empty(t, c.Pending("s1"))
}

func TestCoveredBy(t *testing.T) {
	t.Parallel()

	c := NewCoordinator()
	c.Add(request("r1", "Bash", map[string]any{"command": "go test ./..."}))
	_, err := c.Resolve("s1", "r1", ApproveSimilar, "")
	require.NoError(t, err)

	rule, ok := c.CoveredBy(request("r2", "Bash", map[string]any{"command": "go vet"}))
	require.True(t, ok)
	require.Equal(t, "All commands starting with: go", rule.Description)

	_, ok = c.CoveredBy(request("r3", "Bash", map[string]any{"command": "make"}))
	require.False(t, ok)
}

func TestClearAndRemove(t *testing.T) {
	t.Parallel()

	c := NewCoordinator()
	c.Add(request("r1", "Bash", nil))
	other := request("r2", "Read", nil)
	other.SessionID = "s2"
	c.Add(other)
	c.Add(request("r3", "Read", nil))
	_, _ = c.Resolve("s1", "r3", Deny, "")

	require.Equal(t, 2, c.PendingTotal())
	require.Equal(t, 2, c.ClearAll())
	require.Empty(t, c.Pending("s1"))
	require.Empty(t, c.Pending("s2"))
	require.Equal(t, 1, c.Stats("s1").Denied)

	c.RemoveSession("s1")
	require.Zero(t, c.Sessions())
}

func TestParseDecision(t *testing.T) {
	t.Parallel()

	d, err := ParseDecision("approve_similar")
	require.NoError(t, err)
	require.Equal(t, ApproveSimilar, d)

	_, err = ParseDecision("maybe")
	require.Error(t, err)
}
