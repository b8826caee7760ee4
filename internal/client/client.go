// Package client talks to the project API on behalf of one signed-in
// member.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"thinkbigger/api/internal/model"
	"thinkbigger/api/internal/revision"
)

// Error is a non-2xx response from the API.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api http %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api http %d %s: %s", e.Status, e.Code, e.Message)
}

func statusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

func IsNotFound(err error) bool  { return statusOf(err) == http.StatusNotFound }
func IsForbidden(err error) bool { return statusOf(err) == http.StatusForbidden }

// IsTerminal reports failures that retrying cannot fix: a missing project or
// an identity that may not see it.
func IsTerminal(err error) bool {
	switch statusOf(err) {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type loadResponse struct {
	model.Document
	Revision revision.Revisions `json:"revision"`
}

// Load fetches the full document of a project.
func (c *Client) Load(ctx context.Context, projectID string) (model.Document, error) {
	var out loadResponse
	if err := c.do(ctx, http.MethodGet, projectPath(projectID, "sync"), nil, &out); err != nil {
		return model.Document{}, err
	}
	return out.Document, nil
}

// Save submits a full snapshot. It satisfies autosave.Saver.
func (c *Client) Save(ctx context.Context, projectID string, snap model.Snapshot) error {
	var out struct {
		Success bool `json:"success"`
	}
	if err := c.do(ctx, http.MethodPost, projectPath(projectID, "sync"), snap, &out); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("save project %s: server reported failure", projectID)
	}
	return nil
}

func (c *Client) Revision(ctx context.Context, projectID string) (revision.Revisions, error) {
	var out struct {
		Revision revision.Revisions `json:"revision"`
	}
	err := c.do(ctx, http.MethodGet, projectPath(projectID, "revision"), nil, &out)
	return out.Revision, err
}

// ListMessages returns one thread; a nil candidateID is the project thread.
func (c *Client) ListMessages(ctx context.Context, projectID string, candidateID *string) ([]model.Message, error) {
	path := projectPath(projectID, "chat")
	if candidateID != nil {
		path += "?candidateId=" + url.QueryEscape(*candidateID)
	}
	out := make([]model.Message, 0)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) PostMessage(ctx context.Context, projectID, content string, candidateID *string, mentionedIDs []string) (model.Message, error) {
	if mentionedIDs == nil {
		mentionedIDs = []string{}
	}
	body := map[string]any{
		"content":          content,
		"candidateId":      candidateID,
		"mentionedUserIds": mentionedIDs,
	}
	var out model.Message
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "chat"), body, &out)
	return out, err
}

// Notifications lists the caller's newest notifications, optionally marking
// them read in the same request.
func (c *Client) Notifications(ctx context.Context, markRead bool) ([]model.Notification, error) {
	out := make([]model.Notification, 0)
	err := c.do(ctx, http.MethodGet, "/api/users/me/notifications?markRead="+strconv.FormatBool(markRead), nil, &out)
	return out, err
}

func (c *Client) MarkNotificationsRead(ctx context.Context, ids []string) (int, error) {
	var out struct {
		Updated int `json:"updated"`
	}
	err := c.do(ctx, http.MethodPut, "/api/users/me/notifications", map[string]any{"notificationIds": ids}, &out)
	return out.Updated, err
}

func (c *Client) Invite(ctx context.Context, projectID, userID string) (model.Member, error) {
	var out struct {
		Member model.Member `json:"member"`
	}
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "invite"), map[string]any{"userId": userID}, &out)
	return out.Member, err
}

func projectPath(projectID, rest string) string {
	return "/api/projects/" + url.PathEscape(projectID) + "/" + rest
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &Error{Status: resp.StatusCode}
		var envelope struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		if json.Unmarshal(payload, &envelope) == nil && envelope.Code != "" {
			apiErr.Code, apiErr.Message = envelope.Code, envelope.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(payload))
		}
		return apiErr
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
