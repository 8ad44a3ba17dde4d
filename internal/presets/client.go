package presets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/schlunsen/claude-control-terminal-sub001/internal/protocol"
)

const defaultTimeout = 10 * time.Second

// Client talks to the control server's REST API for presets and resumable
// conversations.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// APIError is a non-2xx reply.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Message)
}

// ListAgents fetches the server's installed presets, sorted by key. The
// list endpoint omits system prompts; use Agent for the full definition.
func (c *Client) ListAgents(ctx context.Context) ([]Preset, error) {
	var resp struct {
		Agents map[string]Preset `json:"agents"`
		Count  int               `json:"count"`
	}
	if err := c.getJSON(ctx, "/agents", &resp); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(resp.Agents))
	for k := range resp.Agents {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Preset, 0, len(keys))
	for _, k := range keys {
		p := resp.Agents[k]
		if p.Name == "" {
			p.Name = k
		}
		out = append(out, p)
	}
	return out, nil
}

func (c *Client) Agent(ctx context.Context, name string) (Preset, error) {
	var resp struct {
		Agent Preset `json:"agent"`
	}
	if err := c.getJSON(ctx, "/agents/"+url.PathEscape(name), &resp); err != nil {
		return Preset{}, err
	}
	return resp.Agent, nil
}

// ResumeData is what the server remembers of a previous conversation.
type ResumeData struct {
	ConversationID   string          `json:"conversation_id"`
	SessionName      string          `json:"session_name,omitempty"`
	WorkingDirectory string          `json:"working_directory,omitempty"`
	Context          string          `json:"context,omitempty"`
	TotalMessages    int             `json:"total_messages"`
	LastActivity     time.Time       `json:"last_activity"`
	Messages         []ResumeMessage `json:"messages"`
}

// ResumeMessage is one recorded user prompt.
type ResumeMessage struct {
	Message          string    `json:"message"`
	WorkingDirectory string    `json:"working_directory,omitempty"`
	GitBranch        string    `json:"git_branch,omitempty"`
	SubmittedAt      time.Time `json:"submitted_at"`
}

// History converts the recorded prompts into conversation history for
// create_session.
func (r ResumeData) History() []protocol.HistoryMessage {
	out := make([]protocol.HistoryMessage, 0, len(r.Messages))
	for _, m := range r.Messages {
		out = append(out, protocol.HistoryMessage{
			Role:      "user",
			Content:   m.Message,
			Timestamp: m.SubmittedAt,
		})
	}
	return out
}

func (c *Client) ResumeData(ctx context.Context, conversationID string) (ResumeData, error) {
	var resp ResumeData
	path := "/sessions/" + url.PathEscape(conversationID) + "/resume-data"
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return ResumeData{}, err
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
