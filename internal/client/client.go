// Package client talks to a running workswitchd over its HTTP API.
package client

import (
	"bufio"
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
)

// DefaultServer is the address workswitchd listens on by default.
const DefaultServer = "http://127.0.0.1:7171"

// APIError is the decoded error envelope of a non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client is a thin JSON client for the /v1 API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client. An empty server selects DefaultServer.
func New(server, token string) *Client {
	if server == "" {
		server = DefaultServer
	}
	return &Client{
		baseURL: strings.TrimRight(server, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type Step struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Enabled      bool   `json:"enabled"`
	DelayAfterMS int64  `json:"delay_after_ms"`
	ProcessName  string `json:"process_name,omitempty"`
	Target       string `json:"target,omitempty"`
	Command      string `json:"command,omitempty"`
}

type Schedule struct {
	Enabled bool    `json:"enabled"`
	Time    string  `json:"time"`
	Days    []int   `json:"days"`
	Cron    string  `json:"cron,omitempty"`
	NextRun *string `json:"next_run,omitempty"`
	Invalid string  `json:"invalid,omitempty"`
}

type Profile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Steps       []Step    `json:"steps"`
	Schedule    *Schedule `json:"schedule,omitempty"`
}

type ActivationState struct {
	ActivationID string `json:"activation_id"`
	ProfileID    string `json:"profile_id"`
	ProfileName  string `json:"profile_name"`
	StepName     string `json:"step_name,omitempty"`
	Current      int    `json:"current"`
	Total        int    `json:"total"`
	StartedAt    string `json:"started_at"`
}

type Status struct {
	Running    bool             `json:"running"`
	Activation *ActivationState `json:"activation,omitempty"`
}

type StepResult struct {
	Position  int     `json:"position"`
	StepName  string  `json:"step_name"`
	Status    string  `json:"status"`
	Error     *string `json:"error,omitempty"`
	StartedAt string  `json:"started_at"`
	EndedAt   string  `json:"ended_at"`
}

type Activation struct {
	ID          string       `json:"id"`
	ProfileID   string       `json:"profile_id"`
	ProfileName string       `json:"profile_name"`
	Trigger     string       `json:"trigger"`
	Status      string       `json:"status"`
	StepsTotal  int          `json:"steps_total"`
	StepsFailed int          `json:"steps_failed"`
	StartedAt   string       `json:"started_at"`
	EndedAt     *string      `json:"ended_at,omitempty"`
	Steps       []StepResult `json:"steps,omitempty"`
}

type Launched struct {
	ActivationID string `json:"activation_id"`
	ProfileID    string `json:"profile_id"`
	ProfileName  string `json:"profile_name"`
}

type CancelResult struct {
	CancelRequested bool `json:"cancel_requested"`
	Running         bool `json:"running"`
}

// Event is one message of the /v1/events stream.
type Event struct {
	Kind         string    `json:"kind"`
	ActivationID string    `json:"activation_id,omitempty"`
	ProfileID    string    `json:"profile_id,omitempty"`
	ProfileName  string    `json:"profile_name,omitempty"`
	StepName     string    `json:"step_name,omitempty"`
	Current      int       `json:"current,omitempty"`
	Total        int       `json:"total,omitempty"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

func (c *Client) Profiles(ctx context.Context) ([]Profile, error) {
	var resp struct {
		Profiles []Profile `json:"profiles"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/profiles", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Profiles, nil
}

func (c *Client) Activate(ctx context.Context, profileID string) (*Launched, error) {
	var resp Launched
	if err := c.do(ctx, http.MethodPost, "/v1/profiles/"+url.PathEscape(profileID)+"/activate", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Cancel(ctx context.Context) (*CancelResult, error) {
	var resp CancelResult
	if err := c.do(ctx, http.MethodPost, "/v1/activation/cancel", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Status(ctx context.Context) (*Status, error) {
	var resp Status
	if err := c.do(ctx, http.MethodGet, "/v1/activation", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Activations(ctx context.Context, profileID string, limit int) ([]Activation, error) {
	q := url.Values{}
	if profileID != "" {
		q.Set("profile_id", profileID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/activations"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Activations []Activation `json:"activations"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Activations, nil
}

func (c *Client) Activation(ctx context.Context, id string) (*Activation, error) {
	var resp Activation
	if err := c.do(ctx, http.MethodGet, "/v1/activations/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events streams server events to fn until ctx ends, the server closes the
// stream or fn returns an error. Comment lines (heartbeats) are skipped.
func (c *Client) Events(ctx context.Context, fn func(Event) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream is long-lived, so the client-wide timeout does not apply.
	stream := &http.Client{Transport: c.http.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			data.Reset()
			if err := fn(ev); err != nil {
				return err
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return ctx.Err()
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}
