package main

import (
	"bytes"
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

var (
	// ErrUnknownSession is returned when the server has no session with the given id.
	ErrUnknownSession = errors.New("unknown session")
	// ErrSessionExists is returned when creating a session id that is taken.
	ErrSessionExists = errors.New("session already exists")
	// ErrUnauthorized is returned when the server rejects the token.
	ErrUnauthorized = errors.New("unauthorized")
)

// SessionInfo is one row of the session list.
type SessionInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
	LastActive string `json:"last_active,omitempty"`
}

// Title is the display name of the session.
func (s SessionInfo) Title() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// SessionHistory is the server-side backlog of a session.
type SessionHistory struct {
	SessionID string `json:"session_id"`
	History   string `json:"history"`
	Chunks    int    `json:"chunks"`
}

// SessionAPI talks to the session CRUD endpoints with a bearer token.
type SessionAPI struct {
	base   *url.URL
	token  string
	client *http.Client
}

// NewSessionAPI returns a client for serverURL. A nil client gets a 15s timeout default.
func NewSessionAPI(serverURL, token string, client *http.Client) (*SessionAPI, error) {
	u, err := url.Parse(strings.TrimSpace(serverURL))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", serverURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &SessionAPI{base: u, token: token, client: client}, nil
}

// List returns the caller's sessions, most recently active first.
func (a *SessionAPI) List(ctx context.Context) ([]SessionInfo, error) {
	var out []SessionInfo
	if err := a.do(ctx, http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// Create starts a session with the given grid.
func (a *SessionAPI) Create(ctx context.Context, id string, size GridSize) error {
	if err := a.do(ctx, http.MethodPost, sessionPath(id), size, nil); err != nil {
		return fmt.Errorf("create session %s: %w", id, err)
	}
	return nil
}

// Delete kills the session and drops its record.
func (a *SessionAPI) Delete(ctx context.Context, id string) error {
	if err := a.do(ctx, http.MethodDelete, sessionPath(id), nil, nil); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// Rename sets the display name of the session.
func (a *SessionAPI) Rename(ctx context.Context, id, name string) error {
	body := struct {
		Name string `json:"name"`
	}{Name: name}
	if err := a.do(ctx, http.MethodPatch, sessionPath(id), body, nil); err != nil {
		return fmt.Errorf("rename session %s: %w", id, err)
	}
	return nil
}

// Resize implements Resizer.
func (a *SessionAPI) Resize(ctx context.Context, id string, size GridSize) error {
	if err := a.do(ctx, http.MethodPost, sessionPath(id)+"/resize", size, nil); err != nil {
		return fmt.Errorf("resize session %s to %s: %w", id, size, err)
	}
	return nil
}

// History fetches the stored backlog of the session.
func (a *SessionAPI) History(ctx context.Context, id string) (SessionHistory, error) {
	var out SessionHistory
	if err := a.do(ctx, http.MethodGet, sessionPath(id)+"/history", nil, &out); err != nil {
		return SessionHistory{}, fmt.Errorf("session %s history: %w", id, err)
	}
	return out, nil
}

func sessionPath(id string) string {
	return "/api/sessions/" + url.PathEscape(id)
}

func (a *SessionAPI) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base.String()+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// statusError maps an error response to a sentinel where one applies.
// Error bodies carry {"detail": "..."}.
func statusError(resp *http.Response) error {
	var payload struct {
		Detail string `json:"detail"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &payload) == nil && payload.Detail != "" {
		detail = payload.Detail
	}

	var sentinel error
	switch resp.StatusCode {
	case http.StatusNotFound:
		sentinel = ErrUnknownSession
	case http.StatusConflict:
		sentinel = ErrSessionExists
	case http.StatusUnauthorized, http.StatusForbidden:
		sentinel = ErrUnauthorized
	}
	if sentinel != nil {
		if detail == "" {
			return sentinel
		}
		return fmt.Errorf("%w: %s", sentinel, detail)
	}
	if detail == "" {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return fmt.Errorf("server returned %s: %s", resp.Status, detail)
}
