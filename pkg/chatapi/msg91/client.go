// Package msg91 implements chatapi.Gateway against the MSG91 agents proxy API.
package msg91

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/user/agentchat/pkg/chatapi"
)

const (
	DefaultBaseURL = "https://routes.msg91.com/api"
	maxErrorBody   = 512
)

// Observer is notified after every HTTP round trip. status is 0 when the
// request failed before a response was received.
type Observer func(op string, status int, elapsed time.Duration)

// Config holds the connection settings for the proxy API.
type Config struct {
	BaseURL   string
	CompanyID string
	UserID    string
	Timeout   time.Duration
	Retry     *chatapi.RetryPolicy
	Observer  Observer
}

// Client implements the chatapi.Gateway interface for the MSG91 proxy API.
type Client struct {
	config     *Config
	tokens     chatapi.TokenSource
	httpClient *http.Client
	retry      *chatapi.RetryPolicy

	mu         sync.Mutex
	currentOrg string
}

var _ chatapi.Gateway = (*Client)(nil)

// New creates a proxy API client with the given configuration.
func New(config *Config, tokens chatapi.TokenSource) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retry := config.Retry
	if retry == nil {
		retry = chatapi.DefaultRetryPolicy()
	}
	return &Client{
		config: config,
		tokens: tokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retry: retry,
	}
}

// envelope is the common response wrapper. Most endpoints report success
// through a boolean, the chat endpoint through a status string.
type envelope struct {
	Success bool            `json:"success"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *envelope) ok() bool {
	return e.Success || e.Status == "success"
}

func (c *Client) proxyPath(parts ...string) string {
	escaped := make([]string, 0, len(parts)+3)
	escaped = append(escaped, "proxy", url.PathEscape(c.config.CompanyID), url.PathEscape(c.config.UserID))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return "/" + strings.Join(escaped, "/")
}

// do performs one request and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshaling request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	u := c.config.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("%s: creating request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("proxy_auth_token", token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(op, 0, start)
		return fmt.Errorf("%s: sending request: %w", op, err)
	}
	defer resp.Body.Close()
	c.observe(op, resp.StatusCode, start)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: reading response: %w", op, err)
	}

	if resp.StatusCode >= 400 {
		text := string(respBody)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return &chatapi.StatusError{Op: op, StatusCode: resp.StatusCode, Body: text}
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("%s: parsing response: %w: %v", op, chatapi.ErrMalformed, err)
	}
	if !env.ok() {
		return fmt.Errorf("%s: %w: %s", op, chatapi.ErrMalformed, env.Message)
	}
	if out == nil {
		return nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%s: %w: missing data", op, chatapi.ErrMalformed)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: parsing data: %w: %v", op, chatapi.ErrMalformed, err)
	}
	return nil
}

// get performs an idempotent request, retried on transient failures.
func (c *Client) get(ctx context.Context, op, path string, query url.Values, out any) error {
	return c.retry.Execute(ctx, func() error {
		return c.do(ctx, op, http.MethodGet, path, query, nil, out)
	})
}

func (c *Client) observe(op string, status int, start time.Time) {
	if c.config.Observer != nil {
		c.config.Observer(op, status, time.Since(start))
	}
}

// GetAgent fetches a single agent profile.
func (c *Client) GetAgent(ctx context.Context, agentID string) (*chatapi.Agent, error) {
	var agent chatapi.Agent
	if err := c.get(ctx, "get agent", c.proxyPath("agent", agentID), nil, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// ListThreads fetches the thread directory for an agent.
func (c *Client) ListThreads(ctx context.Context, agentID string) ([]chatapi.ThreadEntry, error) {
	var data struct {
		Threads []chatapi.ThreadEntry `json:"threads"`
	}
	if err := c.get(ctx, "list threads", c.proxyPath("thread", agentID), nil, &data); err != nil {
		return nil, err
	}
	return data.Threads, nil
}

// ListMessages fetches the message history of a thread by its internal key.
func (c *Client) ListMessages(ctx context.Context, remoteID string) ([]chatapi.MessageRecord, error) {
	var data struct {
		Messages []chatapi.MessageRecord `json:"messages"`
	}
	if err := c.get(ctx, "list messages", c.proxyPath("thread", remoteID, "messages"), nil, &data); err != nil {
		return nil, err
	}
	return data.Messages, nil
}

type sendBody struct {
	Message string `json:"message"`
	Agent   string `json:"agent"`
}

// SendMessage posts a message to an agent. Sends are never retried so a slow
// failure cannot create duplicate threads.
func (c *Client) SendMessage(ctx context.Context, req chatapi.SendRequest) (*chatapi.SendResponse, error) {
	var query url.Values
	if req.ThreadID != "" {
		query = url.Values{"tid": {req.ThreadID}}
	}
	var data struct {
		Message string `json:"message"`
		TID     string `json:"tid"`
	}
	body := sendBody{Message: req.Message, Agent: req.AgentID}
	if err := c.do(ctx, "send message", http.MethodPost, c.proxyPath("chat", "message"), query, body, &data); err != nil {
		return nil, err
	}
	return &chatapi.SendResponse{Message: data.Message, ThreadID: data.TID}, nil
}

// DeleteThread deletes a thread by its lightweight handle.
func (c *Client) DeleteThread(ctx context.Context, localID string) error {
	return c.do(ctx, "delete thread", http.MethodDelete, c.proxyPath("thread", localID), nil, nil, nil)
}

// ListAgents fetches the agents of orgID. The agent list is scoped to the
// server-side current organization, so the client switches first whenever
// orgID differs from the last organization it switched to.
func (c *Client) ListAgents(ctx context.Context, orgID string) ([]chatapi.Agent, error) {
	if orgID != "" {
		c.mu.Lock()
		current := c.currentOrg
		c.mu.Unlock()
		if current != orgID {
			if _, err := c.SwitchOrganization(ctx, orgID); err != nil {
				return nil, fmt.Errorf("list agents: %w", err)
			}
		}
	}
	var data struct {
		Agents []chatapi.Agent `json:"agents"`
	}
	if err := c.get(ctx, "list agents", c.proxyPath("agent")+"/", nil, &data); err != nil {
		return nil, err
	}
	return data.Agents, nil
}

// CurrentUser fetches the signed-in user's profile.
func (c *Client) CurrentUser(ctx context.Context) (*chatapi.UserProfile, error) {
	var profile chatapi.UserProfile
	if err := c.get(ctx, "current user", c.proxyPath("user")+"/", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// ListModels fetches the available service/model combinations.
func (c *Client) ListModels(ctx context.Context) ([]chatapi.ModelOption, error) {
	var data struct {
		Models []chatapi.ModelOption `json:"models"`
	}
	if err := c.get(ctx, "list models", c.proxyPath("llm", "models"), nil, &data); err != nil {
		return nil, err
	}
	return data.Models, nil
}

// UpdateAgentModel switches the model an agent runs on.
func (c *Client) UpdateAgentModel(ctx context.Context, agentID string, opt chatapi.ModelOption) error {
	body := map[string]any{
		"llm": chatapi.LLM{Service: opt.Service, Model: opt.Model},
	}
	return c.do(ctx, "update agent model", http.MethodPut, c.proxyPath("agent", agentID), nil, body, nil)
}

// SwitchOrganization makes orgID the server-side current organization and
// returns the refreshed user profile.
func (c *Client) SwitchOrganization(ctx context.Context, orgID string) (*chatapi.UserProfile, error) {
	var profile chatapi.UserProfile
	body := map[string]string{"orgId": orgID}
	if err := c.do(ctx, "switch organization", http.MethodPost, c.proxyPath("user", "switch-org"), nil, body, &profile); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.currentOrg = orgID
	c.mu.Unlock()
	return &profile, nil
}

// detailsResponse is the account details payload. It does not use the proxy
// envelope.
type detailsResponse struct {
	Status   string `json:"status"`
	HasError bool   `json:"hasError"`
	Data     []struct {
		Companies []chatapi.Organization `json:"c_companies"`
	} `json:"data"`
}

// ListOrganizations fetches the organizations the user belongs to.
func (c *Client) ListOrganizations(ctx context.Context) ([]chatapi.Organization, error) {
	const op = "list organizations"
	var orgs []chatapi.Organization
	err := c.retry.Execute(ctx, func() error {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/c/getDetails", nil)
		if err != nil {
			return fmt.Errorf("%s: creating request: %w", op, err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("proxy_auth_token", token)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.observe(op, 0, start)
			return fmt.Errorf("%s: sending request: %w", op, err)
		}
		defer resp.Body.Close()
		c.observe(op, resp.StatusCode, start)

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%s: reading response: %w", op, err)
		}
		if resp.StatusCode >= 400 {
			return &chatapi.StatusError{Op: op, StatusCode: resp.StatusCode}
		}
		var details detailsResponse
		if err := json.Unmarshal(respBody, &details); err != nil {
			return fmt.Errorf("%s: parsing response: %w: %v", op, chatapi.ErrMalformed, err)
		}
		if details.HasError {
			return fmt.Errorf("%s: %w: status %s", op, chatapi.ErrMalformed, details.Status)
		}
		orgs = nil
		if len(details.Data) > 0 {
			orgs = details.Data[0].Companies
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orgs, nil
}
