package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/stratum/pkg/api"
)

// DefaultTimeout bounds requests that do not wait for an action
const DefaultTimeout = 10 * time.Second

// Client wraps the engine HTTP API for easy CLI usage
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the server at addr. addr may be a bare
// host:port or a full URL.
func NewClient(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		base: base,
		http: &http.Client{},
	}
}

// APIError is returned for non-2xx responses
type APIError struct {
	StatusCode int
	Message    string
	// Action is set when the server reported an action outcome
	Action *api.ActionResponse
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var ar api.ActionResponse
		if json.Unmarshal(data, &ar) == nil && ar.ID != "" {
			apiErr.Action = &ar
			apiErr.Message = ar.Error
		} else {
			var e struct {
				Error string `json:"error"`
			}
			if json.Unmarshal(data, &e) == nil && e.Error != "" {
				apiErr.Message = e.Error
			}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Submit posts a command line. With wait the call blocks until the action
// and its asynchronous work finished, bounded only by ctx.
func (c *Client) Submit(ctx context.Context, command string, wait bool) (*api.ActionResponse, error) {
	if !wait {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	var resp api.ActionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/actions", api.SubmitRequest{Command: command, Wait: wait}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitBatch posts several command lines that are queued together, in
// order. Nothing is queued if any of them fails to parse.
func (c *Client) SubmitBatch(ctx context.Context, commands []string, wait bool) ([]api.ActionResponse, error) {
	if !wait {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	var resp []api.ActionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/actions/batch", api.BatchRequest{Commands: commands, Wait: wait}, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Status reports the server's dispatch queue
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	var st api.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Events streams server events to fn until ctx is done, the server closes
// the stream or fn returns an error. A cancelled ctx is not an error.
func (c *Client) Events(ctx context.Context, fn func(api.EventView) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/events", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var ev api.EventView
		if err := dec.Decode(&ev); err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to decode event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

// ListActions returns the registered action names
func (c *Client) ListActions(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	var names []string
	if err := c.do(ctx, http.MethodGet, "/v1/actions", nil, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// ListLayers returns the live groups, front group first
func (c *Client) ListLayers(ctx context.Context) ([]api.GroupView, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	var groups []api.GroupView
	if err := c.do(ctx, http.MethodGet, "/v1/layers", nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// Scene returns the visible layers of a viewer
func (c *Client) Scene(ctx context.Context, viewer int) ([]api.SceneEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	var scene []api.SceneEntry
	if err := c.do(ctx, http.MethodGet, "/v1/scene?viewer="+strconv.Itoa(viewer), nil, &scene); err != nil {
		return nil, err
	}
	return scene, nil
}
