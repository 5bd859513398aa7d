// Package api is the client for the chat server's small HTTP surface:
// the username pre-check, the full user list, and the availability
// endpoint the leave path falls back to when the websocket is down.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// ErrUsernameTaken is returned by CheckUsername when the server answers 409.
var ErrUsernameTaken = errors.New("username taken")

// Client talks to the collaborator HTTP endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a client for the given base URL, e.g. "http://localhost:3000".
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// CheckUsername verifies the username is free before opening the websocket.
// POST /api/login -> 200 available, 409 taken.
func (c *Client) CheckUsername(ctx context.Context, username string) error {
	body, err := json.Marshal(proto.LoginRequest{Username: username})
	if err != nil {
		return fmt.Errorf("marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("login pre-check: %w", err)
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusConflict:
		return ErrUsernameTaken
	default:
		return fmt.Errorf("login pre-check: unexpected status %d", resp.StatusCode)
	}
}

// FetchUsers retrieves the full roster. Used as a fallback when the realtime
// channel has not delivered a UsersList yet.
func (c *Client) FetchUsers(ctx context.Context) ([]proto.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/users", nil)
	if err != nil {
		return nil, fmt.Errorf("build users request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch users: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch users: unexpected status %d", resp.StatusCode)
	}

	var users []proto.User
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}

// SetAvailability flips the user's availability server-side. This is the
// degraded-mode path the leave guard uses when the websocket is unusable.
func (c *Client) SetAvailability(ctx context.Context, username string, available bool) error {
	body, err := json.Marshal(available)
	if err != nil {
		return fmt.Errorf("marshal availability: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/users/%s/availability", c.baseURL, url.PathEscape(username))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build availability request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("set availability: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("set availability: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
