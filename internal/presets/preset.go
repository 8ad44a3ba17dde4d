package presets

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/schlunsen/claude-control-terminal-sub001/internal/protocol"
)

var ErrNoFrontmatter = errors.New("missing frontmatter")

// Preset is an installable agent definition used to pre-fill new sessions.
type Preset struct {
	Name         string   `json:"name" yaml:"name"`
	Description  string   `json:"description,omitempty" yaml:"description"`
	Tools        ToolList `json:"tools,omitempty" yaml:"tools"`
	Model        string   `json:"model,omitempty" yaml:"model"`
	Color        string   `json:"color,omitempty" yaml:"color"`
	SystemPrompt string   `json:"system_prompt,omitempty" yaml:"-"`
	Path         string   `json:"path,omitempty" yaml:"-"`
}

// ToolList accepts either a list or a comma separated string, in YAML and
// JSON alike.
type ToolList []string

func (l *ToolList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var tools []string
		if err := value.Decode(&tools); err != nil {
			return err
		}
		*l = cleanTools(tools)
		return nil
	case yaml.ScalarNode:
		*l = SplitTools(value.Value)
		return nil
	}
	return fmt.Errorf("tools: unexpected YAML kind %d", value.Kind)
}

func (l *ToolList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = SplitTools(s)
		return nil
	}
	var tools []string
	if err := json.Unmarshal(data, &tools); err != nil {
		return fmt.Errorf("tools: %w", err)
	}
	*l = cleanTools(tools)
	return nil
}

// SplitTools parses "Read, Grep, Bash" into its names.
func SplitTools(s string) ToolList {
	return cleanTools(strings.Split(s, ","))
}

func cleanTools(in []string) ToolList {
	var out ToolList
	for _, t := range in {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Parse reads a markdown preset: YAML frontmatter between "---" lines,
// followed by the system prompt.
func Parse(data []byte) (Preset, error) {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	rest, ok := bytes.CutPrefix(data, []byte("---\n"))
	if !ok {
		return Preset{}, ErrNoFrontmatter
	}
	var front, body []byte
	if bytes.HasPrefix(rest, []byte("---")) {
		body = bytes.TrimPrefix(rest, []byte("---"))
	} else {
		var found bool
		front, body, found = bytes.Cut(rest, []byte("\n---"))
		if !found {
			return Preset{}, ErrNoFrontmatter
		}
	}

	var p Preset
	if err := yaml.Unmarshal(front, &p); err != nil {
		return Preset{}, fmt.Errorf("failed to parse frontmatter: %w", err)
	}
	if p.Name == "" {
		return Preset{}, errors.New("preset has no name")
	}
	// Drop the remainder of the closing delimiter line.
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = nil
	}
	p.SystemPrompt = strings.TrimSpace(string(body))
	return p, nil
}

// CreateOptions fills session options from the preset. Fields the preset
// leaves empty are filled from the coordinator defaults later.
func (p Preset) CreateOptions(workingDir string) protocol.SessionOptions {
	return protocol.SessionOptions{
		SystemPrompt:     p.SystemPrompt,
		AgentName:        p.Name,
		Tools:            append([]string(nil), p.Tools...),
		WorkingDirectory: workingDir,
		Model:            p.Model,
	}
}
