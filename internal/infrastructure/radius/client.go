package radius

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

// Attribute is one RADIUS attribute row (check or reply side).
type Attribute struct {
	Name  string `json:"name"`
	Op    string `json:"op"`
	Value string `json:"value"`
}

// UserRecord is the full AAA projection for one username: check attributes
// (credentials), per-user reply attributes, and the group binding. PutUser
// replaces the record wholesale, so applying the same record twice is a
// no-op on the store side.
type UserRecord struct {
	Username   string      `json:"username"`
	CheckAttrs []Attribute `json:"check_attrs"`
	ReplyAttrs []Attribute `json:"reply_attrs,omitempty"`
	GroupName  string      `json:"group_name,omitempty"`
}

// GroupRecord carries the package-level attributes shared by every
// subscriber bound to the group.
type GroupRecord struct {
	Name       string      `json:"name"`
	CheckAttrs []Attribute `json:"check_attrs,omitempty"`
	ReplyAttrs []Attribute `json:"reply_attrs"`
}

// Store is the AAA provisioning backend. Implementations must be idempotent
// per username/group name and must not remove historical accounting data on
// DisableUser.
type Store interface {
	PutUser(ctx context.Context, rec UserRecord) error
	DisableUser(ctx context.Context, username string) error
	DeleteUser(ctx context.Context, username string) error
	GetUser(ctx context.Context, username string) (*UserRecord, error)
	PutGroup(ctx context.Context, rec GroupRecord) error
	DeleteGroup(ctx context.Context, name string) error
}

// Config holds the provisioning API configuration
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the REST facade in front of the AAA SQL store. All calls
// carry a bounded timeout; a timeout is a failure, never a success.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new provisioning API client
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var buf io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		buf = bytes.NewBuffer(jsonBody)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("aaa store: %s %s: not found", method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("aaa store: %s %s: status %d, body: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// PutUser replaces the user's check/reply rows and group binding.
func (c *Client) PutUser(ctx context.Context, rec UserRecord) error {
	log.Printf("[AAA] PUT user %s (group: %s)", rec.Username, rec.GroupName)
	return c.do(ctx, http.MethodPut, "/api/v1/users/"+url.PathEscape(rec.Username), rec, nil)
}

// DisableUser marks the username so the NAS denies new sessions. Accounting
// history stays in place.
func (c *Client) DisableUser(ctx context.Context, username string) error {
	log.Printf("[AAA] disable user %s", username)
	return c.do(ctx, http.MethodPost, "/api/v1/users/"+url.PathEscape(username)+"/disable", nil, nil)
}

// DeleteUser removes every check/reply/group row for the username.
func (c *Client) DeleteUser(ctx context.Context, username string) error {
	log.Printf("[AAA] delete user %s", username)
	return c.do(ctx, http.MethodDelete, "/api/v1/users/"+url.PathEscape(username), nil, nil)
}

// GetUser fetches the current record set for a username.
func (c *Client) GetUser(ctx context.Context, username string) (*UserRecord, error) {
	var rec UserRecord
	if err := c.do(ctx, http.MethodGet, "/api/v1/users/"+url.PathEscape(username), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// PutGroup replaces the group's attribute rows. Package-level edits go
// through here so every subscriber on the group picks them up at once.
func (c *Client) PutGroup(ctx context.Context, rec GroupRecord) error {
	log.Printf("[AAA] PUT group %s", rec.Name)
	return c.do(ctx, http.MethodPut, "/api/v1/groups/"+url.PathEscape(rec.Name), rec, nil)
}

// DeleteGroup removes the group's attribute rows.
func (c *Client) DeleteGroup(ctx context.Context, name string) error {
	log.Printf("[AAA] delete group %s", name)
	return c.do(ctx, http.MethodDelete, "/api/v1/groups/"+url.PathEscape(name), nil, nil)
}
