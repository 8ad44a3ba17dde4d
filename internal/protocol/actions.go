package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"
)

// Action is one outbound frame.
type Action interface {
	ActionType() ActionType
}

// Encode marshals an action and stamps its type discriminant.
func Encode(a Action) ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", a.ActionType(), err)
	}
	data, err = sjson.SetBytes(data, "type", string(a.ActionType()))
	if err != nil {
		return nil, fmt.Errorf("failed to stamp %s: %w", a.ActionType(), err)
	}
	return data, nil
}

type CreateSession struct {
	SessionID string         `json:"session_id"`
	Options   SessionOptions `json:"options"`
}

func (CreateSession) ActionType() ActionType { return ActionCreateSession }

// SendPrompt carries either the legacy Prompt string or structured Content.
type SendPrompt struct {
	SessionID string         `json:"session_id"`
	Prompt    string         `json:"prompt,omitempty"`
	Content   []ContentBlock `json:"content,omitempty"`
}

func (SendPrompt) ActionType() ActionType { return ActionSendPrompt }

type EndSession struct {
	SessionID string `json:"session_id"`
}

func (EndSession) ActionType() ActionType { return ActionEndSession }

type DeleteSession struct {
	SessionID string `json:"session_id"`
}

func (DeleteSession) ActionType() ActionType { return ActionDeleteSession }

type InterruptSession struct {
	SessionID string `json:"session_id"`
}

func (InterruptSession) ActionType() ActionType { return ActionInterruptSession }

type DeleteAllSessions struct{}

func (DeleteAllSessions) ActionType() ActionType { return ActionDeleteAllSessions }

type KillAllAgents struct{}

func (KillAllAgents) ActionType() ActionType { return ActionKillAllAgents }

type ListSessions struct{}

func (ListSessions) ActionType() ActionType { return ActionListSessions }

type Ping struct{}

func (Ping) ActionType() ActionType { return ActionPing }

type LoadMessages struct {
	SessionID string `json:"session_id"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
}

func (LoadMessages) ActionType() ActionType { return ActionLoadMessages }

type PermissionResponse struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
	Approved  bool   `json:"approved"`
	Reason    string `json:"reason,omitempty"`
}

func (PermissionResponse) ActionType() ActionType { return ActionPermissionResponse }

type MatchMode string

const (
	MatchExact   MatchMode = "exact"
	MatchPattern MatchMode = "pattern"
)

// RulePattern mirrors the server's per-tool pattern fields. A value of "*"
// in any field means every use of the tool.
type RulePattern struct {
	CommandPrefix   *string `json:"command_prefix,omitempty"`
	DirectoryPath   *string `json:"directory_path,omitempty"`
	FilePathPattern *string `json:"file_path_pattern,omitempty"`
	PathPattern     *string `json:"path_pattern,omitempty"`
}

type AlwaysAllowRule struct {
	ID          string         `json:"id,omitempty"`
	Tool        string         `json:"tool"`
	MatchMode   MatchMode      `json:"match_mode"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Pattern     *RulePattern   `json:"pattern,omitempty"`
	Description string         `json:"description"`
}

// AddAlwaysAllowRule installs a rule and resolves PermissionID in the same
// round trip.
type AddAlwaysAllowRule struct {
	SessionID    string          `json:"session_id"`
	Rule         AlwaysAllowRule `json:"rule"`
	PermissionID string          `json:"permission_id,omitempty"`
}

func (AddAlwaysAllowRule) ActionType() ActionType { return ActionAddAlwaysAllowRule }
