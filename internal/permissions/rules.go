package permissions

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/schlunsen/claude-control-terminal-sub001/internal/protocol"
)

const wildcard = "*"

// recursivePath matches any file at any depth.
const recursivePath = "/**"

func strPtr(s string) *string { return &s }

// ExactRule builds a rule that only allows the request's exact parameters.
func ExactRule(req protocol.PermissionRequest) protocol.AlwaysAllowRule {
	return protocol.AlwaysAllowRule{
		Tool:        req.Tool,
		MatchMode:   protocol.MatchExact,
		Parameters:  req.Parameters,
		Description: exactDescription(req),
	}
}

// SimilarRule builds a pattern rule that generalizes the request to every
// similar use of the tool.
func SimilarRule(req protocol.PermissionRequest) protocol.AlwaysAllowRule {
	pattern := SimilarPattern(req.Tool, req.Parameters)
	return protocol.AlwaysAllowRule{
		Tool:        req.Tool,
		MatchMode:   protocol.MatchPattern,
		Pattern:     pattern,
		Description: PatternDescription(req.Tool, pattern),
	}
}

// SimilarPattern derives the tool-specific pattern used by SimilarRule.
// Bash keeps the executable name. File tools allow any path, and searches
// any pattern.
func SimilarPattern(tool string, params map[string]any) *protocol.RulePattern {
	switch tool {
	case protocol.ToolBash:
		prefix := wildcard
		if fields := strings.Fields(stringParam(params, "command")); len(fields) > 0 {
			prefix = fields[0]
		}
		return &protocol.RulePattern{CommandPrefix: strPtr(prefix)}
	case protocol.ToolRead, protocol.ToolWrite, protocol.ToolEdit:
		return &protocol.RulePattern{DirectoryPath: strPtr(recursivePath)}
	case protocol.ToolGrep, protocol.ToolGlob:
		return &protocol.RulePattern{PathPattern: strPtr(wildcard)}
	default:
		return &protocol.RulePattern{PathPattern: strPtr(wildcard)}
	}
}

// Template renders the pattern the way it appears in permission strings,
// e.g. "npm:*" for a Bash prefix or "/**" for file tools.
func Template(p *protocol.RulePattern) string {
	if p == nil {
		return wildcard
	}
	switch {
	case p.CommandPrefix != nil:
		if *p.CommandPrefix == wildcard {
			return wildcard
		}
		return *p.CommandPrefix + ":*"
	case p.DirectoryPath != nil:
		return *p.DirectoryPath
	case p.FilePathPattern != nil:
		return *p.FilePathPattern
	case p.PathPattern != nil:
		return *p.PathPattern
	}
	return wildcard
}

// PermissionString is the settings-file form of a rule, e.g. "Bash(npm:*)".
func PermissionString(rule protocol.AlwaysAllowRule) string {
	if rule.MatchMode == protocol.MatchExact {
		if detail := primaryParam(rule.Tool, rule.Parameters); detail != "" {
			return fmt.Sprintf("%s(%s)", rule.Tool, detail)
		}
	}
	return fmt.Sprintf("%s(%s)", rule.Tool, Template(rule.Pattern))
}

// PatternDescription is the human label for a pattern rule.
func PatternDescription(tool string, p *protocol.RulePattern) string {
	switch tool {
	case protocol.ToolBash:
		if p == nil || p.CommandPrefix == nil || *p.CommandPrefix == wildcard {
			return "All Bash commands"
		}
		return "All commands starting with: " + *p.CommandPrefix
	case protocol.ToolRead, protocol.ToolWrite, protocol.ToolEdit:
		return fmt.Sprintf("All %s operations (any file)", tool)
	default:
		return fmt.Sprintf("All %s operations", tool)
	}
}

func exactDescription(req protocol.PermissionRequest) string {
	if detail := primaryParam(req.Tool, req.Parameters); detail != "" {
		return fmt.Sprintf("%s: %s", req.Tool, detail)
	}
	if req.Description != "" {
		return req.Description
	}
	return req.Tool + " (exact parameters)"
}

// MatchesRule reports whether a request would be covered by a rule. The
// server enforces rules; this only lets the client label requests.
func MatchesRule(rule protocol.AlwaysAllowRule, req protocol.PermissionRequest) bool {
	if rule.Tool != req.Tool {
		return false
	}
	if rule.MatchMode == protocol.MatchExact {
		return sameParams(rule.Parameters, req.Parameters)
	}

	p := rule.Pattern
	if p == nil {
		return true
	}
	switch {
	case p.CommandPrefix != nil:
		prefix := *p.CommandPrefix
		if prefix == wildcard {
			return true
		}
		// Plain prefix test, the way the server enforces the rule.
		return strings.HasPrefix(stringParam(req.Parameters, "command"), prefix)
	case p.DirectoryPath != nil:
		return globMatch(*p.DirectoryPath, stringParam(req.Parameters, "file_path", "path", "notebook_path"))
	case p.FilePathPattern != nil:
		return globMatch(*p.FilePathPattern, stringParam(req.Parameters, "file_path", "path"))
	case p.PathPattern != nil:
		if *p.PathPattern == wildcard {
			return true
		}
		return globMatch(*p.PathPattern, stringParam(req.Parameters, "path", "pattern"))
	}
	return true
}

func globMatch(pattern, value string) bool {
	if pattern == wildcard || pattern == recursivePath {
		return true
	}
	if value == "" {
		return false
	}
	ok, err := doublestar.Match(pattern, value)
	return err == nil && ok
}

func primaryParam(tool string, params map[string]any) string {
	switch tool {
	case protocol.ToolBash:
		return stringParam(params, "command")
	case protocol.ToolRead, protocol.ToolWrite, protocol.ToolEdit:
		return stringParam(params, "file_path", "path")
	case protocol.ToolGrep, protocol.ToolGlob:
		return stringParam(params, "pattern")
	}
	return ""
}

func stringParam(params map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := params[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func sameParams(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || fmt.Sprint(av) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}
