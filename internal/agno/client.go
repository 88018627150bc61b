// Package agno is a small HTTP client for the remote agent-serving backend.
// It covers agent runs (blocking and streamed), knowledge content ingestion,
// and session history.
package agno

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultRequestTimeout = 120 * time.Second
	statusTimeout         = 10 * time.Second
	maxErrorBody          = 64 << 10
)

// StatusError is returned when the backend answers with an unexpected HTTP
// status. Body holds the (truncated) response body for diagnostics.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote request error, status_code: %d, msg: %s", e.Code, e.Body)
}

// IsNotFound reports whether err is a StatusError carrying HTTP 404.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// Client talks to the agent-serving backend over HTTP.
type Client struct {
	baseURL        string
	securityKey    string
	requestTimeout time.Duration
	httpClient     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithSecurityKey sends the key as a bearer token on every request.
func WithSecurityKey(key string) Option {
	return func(c *Client) { c.securityKey = key }
}

// WithRequestTimeout bounds non-streaming requests. Streamed runs are bounded
// only by the caller's context.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a Client targeting the given backend base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		requestTimeout: defaultRequestTimeout,
		httpClient:     &http.Client{Timeout: 0},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// IsRunning returns true if the backend answers GET /health with 200.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// RunRequest is the form payload of POST /agents/{agent_id}/runs.
type RunRequest struct {
	Message   string
	SessionID string
}

func (r RunRequest) form(stream bool) url.Values {
	v := url.Values{}
	v.Set("message", r.Message)
	v.Set("stream", fmt.Sprintf("%t", stream))
	if r.SessionID != "" {
		v.Set("session_id", r.SessionID)
	}
	return v
}

// RunResponse is the JSON returned by a non-streaming agent run.
type RunResponse struct {
	RunID            string `json:"run_id,omitempty"`
	SessionID        string `json:"session_id,omitempty"`
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// RunAgent issues a blocking (stream=false) run against agentID.
func (c *Client) RunAgent(ctx context.Context, agentID string, req RunRequest) (RunResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.postForm(ctx, agentRunsPath(agentID), nil, req.form(false))
	if err != nil {
		return RunResponse{}, fmt.Errorf("agent run: %w", err)
	}
	defer resp.Body.Close()

	if !success(resp.StatusCode) {
		return RunResponse{}, statusError(resp)
	}

	var out RunResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return RunResponse{}, fmt.Errorf("decoding agent run response: %w", err)
	}
	return out, nil
}

// StreamAgent issues a streaming (stream=true) run and returns the raw event
// stream body. The caller must close it. Cancelling ctx aborts the read.
func (c *Client) StreamAgent(ctx context.Context, agentID string, req RunRequest) (io.ReadCloser, error) {
	resp, err := c.postForm(ctx, agentRunsPath(agentID), nil, req.form(true))
	if err != nil {
		return nil, fmt.Errorf("agent stream: %w", err)
	}
	if !success(resp.StatusCode) {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp.Body, nil
}

// Content is a text document submitted to a knowledge database.
type Content struct {
	Name     string
	Metadata map[string]string
	Text     string
}

type uploadResponse struct {
	ID string `json:"id"`
}

// UploadContent submits text to the knowledge database dbID and returns the
// remote content id. The backend accepts the content for asynchronous
// processing and answers 202; any other status is an error.
func (c *Client) UploadContent(ctx context.Context, dbID string, content Content) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	meta, err := json.Marshal(content.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshaling metadata: %w", err)
	}
	form := url.Values{}
	form.Set("name", content.Name)
	form.Set("metadata", string(meta))
	form.Set("text_content", content.Text)

	query := url.Values{}
	if dbID != "" {
		query.Set("db_id", dbID)
	}

	resp, err := c.postForm(ctx, "/knowledge/content", query, form)
	if err != nil {
		return "", fmt.Errorf("uploading content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return "", statusError(resp)
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("upload response carried no content id")
	}
	return out.ID, nil
}

type contentStatusResponse struct {
	Status string `json:"status"`
}

// ContentStatus returns the remote processing status of a content id.
// An unset status is returned as the empty string.
func (c *Client) ContentStatus(ctx context.Context, contentID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/knowledge/content/"+url.PathEscape(contentID), nil, nil)
	if err != nil {
		return "", fmt.Errorf("content status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	var out contentStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding content status: %w", err)
	}
	return out.Status, nil
}

// Message is one chat history entry of a session.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session is the subset of GET /sessions/{id} this client consumes.
type Session struct {
	SessionID   string    `json:"session_id,omitempty"`
	ChatHistory []Message `json:"chat_history"`
}

// GetSession fetches a session and its chat history.
func (c *Client) GetSession(ctx context.Context, sessionID string) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil, nil)
	if err != nil {
		return Session{}, fmt.Errorf("fetching session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Session{}, statusError(resp)
	}

	var out Session
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Session{}, fmt.Errorf("decoding session: %w", err)
	}
	return out, nil
}

// DeleteSession removes a session. Only 204 counts as success.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(sessionID), nil, nil)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return statusError(resp)
	}
	return nil
}

func agentRunsPath(agentID string) string {
	return "/agents/" + url.PathEscape(agentID) + "/runs"
}

func (c *Client) postForm(ctx context.Context, path string, query, form url.Values) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, query, strings.NewReader(form.Encode()))
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.securityKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.securityKey)
	}
	return c.httpClient.Do(req)
}

// success reports whether code is a 2xx status.
func success(code int) bool {
	return code/100 == 2
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Code: resp.StatusCode, Body: string(body)}
}
