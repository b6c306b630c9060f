// Package rest is the HTTP boundary to the support backend: session
// creation, message persistence, escalation and the admin listings. The
// realtime channel carries pushes; everything durable goes through here.
package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Waito3007/SHNGear-sub002/internal/constants"
	chaterrors "github.com/Waito3007/SHNGear-sub002/internal/errors"
	"github.com/Waito3007/SHNGear-sub002/internal/message"
	"github.com/Waito3007/SHNGear-sub002/internal/util"
)

// Client calls the backend chat API. Safe for concurrent use.
type Client struct {
	baseURL    string
	pathPrefix string
	httpClient *http.Client
	token      string
	logger     zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithToken attaches a bearer token to every request.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient overrides the underlying HTTP client, used by tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a backend API client rooted at baseURL + pathPrefix.
func NewClient(baseURL, pathPrefix string, logger zerolog.Logger, opts ...ClientOption) *Client {
	if pathPrefix == "" {
		pathPrefix = constants.DefaultPathPrefix
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		pathPrefix: pathPrefix,
		httpClient: &http.Client{Timeout: constants.DefaultRequestTimeout},
		logger:     logger.With().Str("component", "rest").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSessionRequest is the body of POST {prefix}/session. SessionID,
// when set, asks the backend to return the existing session instead of
// provisioning a new one.
type CreateSessionRequest struct {
	SessionID  string `json:"session_id,omitempty"`
	GuestName  string `json:"guest_name,omitempty"`
	GuestEmail string `json:"guest_email,omitempty"`
}

// CreateSessionResponse carries the durable session id and the history
// already on record, empty for a fresh session.
type CreateSessionResponse struct {
	SessionID  string            `json:"session_id"`
	GuestName  string            `json:"guest_name,omitempty"`
	GuestEmail string            `json:"guest_email,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	Messages   []message.Message `json:"messages"`
}

// CreateSession provisions a durable session or resumes a known one.
func (c *Client) CreateSession(ctx context.Context, req *CreateSessionRequest) (*CreateSessionResponse, error) {
	var resp CreateSessionResponse
	err := c.do(ctx, http.MethodPost, "/session", req, &resp)
	if err != nil {
		return nil, chaterrors.ErrSessionCreateFailed(err)
	}
	if resp.SessionID == "" {
		return nil, chaterrors.ErrSessionCreateFailed(fmt.Errorf("backend returned empty session id"))
	}
	return &resp, nil
}

// SendMessageRequest is the body of POST {prefix}/message. TempID is the
// client correlation id echoed back on the confirmed copy.
type SendMessageRequest struct {
	SessionID  string             `json:"session_id"`
	TempID     string             `json:"temp_id,omitempty"`
	Sender     message.SenderRole `json:"sender"`
	Content    string             `json:"content"`
	GuestName  string             `json:"guest_name,omitempty"`
	GuestEmail string             `json:"guest_email,omitempty"`
}

// SendMessage persists one outbound message and returns the confirmed copy.
func (c *Client) SendMessage(ctx context.Context, req *SendMessageRequest) (*message.Message, error) {
	var confirmed message.Message
	if err := c.do(ctx, http.MethodPost, "/message", req, &confirmed); err != nil {
		return nil, chaterrors.ErrSendFailed(err)
	}
	return &confirmed, nil
}

// Escalate asks the backend to hand the session to a human agent.
func (c *Client) Escalate(ctx context.Context, sessionID, reason string) error {
	path := fmt.Sprintf("/%s/escalate", sessionID)
	body := map[string]string{"reason": reason}
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return chaterrors.ErrEscalationFailed(err)
	}
	return nil
}

// SessionSummary is one row of the admin active-session listing.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	GuestName    string    `json:"guest_name,omitempty"`
	GuestEmail   string    `json:"guest_email,omitempty"`
	LastMessage  string    `json:"last_message,omitempty"`
	LastActivity time.Time `json:"last_activity"`
	Escalated    bool      `json:"escalated"`
}

// ActiveSessions lists sessions awaiting or under live support, in backend
// order. Requires an admin bearer token.
func (c *Client) ActiveSessions(ctx context.Context) ([]SessionSummary, error) {
	var out struct {
		Sessions []SessionSummary `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/active-sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// SessionMessages fetches the persisted history of one session, oldest
// first. Open to the visitor resuming their own session and to agents.
func (c *Client) SessionMessages(ctx context.Context, sessionID string) ([]message.Message, error) {
	var out struct {
		Messages []message.Message `json:"messages"`
	}
	path := fmt.Sprintf("/session/%s/messages", sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// do issues one JSON request and decodes the JSON response into out.
// Non-2xx responses become errors carrying the backend's error body.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := util.MarshalJSON(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	url := c.baseURL + c.pathPrefix + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.apiError(method, path, resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response %s %s: %w", method, path, err)
	}
	if err := util.UnmarshalJSON(data, out); err != nil {
		return fmt.Errorf("decode response %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) apiError(method, path string, resp *http.Response) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := util.UnmarshalJSON(data, &apiErr); err == nil && apiErr.Error != "" {
		c.logger.Debug().Int("status", resp.StatusCode).Str("path", path).Str("error", apiErr.Error).Msg("Backend rejected request")
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
}
