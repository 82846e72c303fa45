// Package agentclient is a Go client for the fleet's agent-facing
// endpoints. Relay agents and tooling use it to register, poll desired
// state with change tokens, and push reports.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/relayfleet/internal/model"
)

// Client talks to the fleet API on behalf of one node.
type Client struct {
	baseURL    string
	token      string
	nodeID     string
	httpClient *http.Client
	logger     zerolog.Logger

	mu    sync.Mutex
	etags map[string]string // cached ETag per resource
}

func New(baseURL, token, nodeID string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		nodeID:  nodeID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With().Str("component", "agent-client").Str("node_id", nodeID).Logger(),
		etags:  make(map[string]string),
	}
}

type ConfigResponse struct {
	Document *model.DesiredConfig `json:"document"`
	Token    string               `json:"token"`
}

type UsersResponse struct {
	Users      []model.DesiredUser `json:"users"`
	RateLimits []model.RateLimit   `json:"rate_limits"`
	Token      string              `json:"token"`
}

type presenceResponse struct {
	KickUsers []string `json:"kick_users"`
}

func (c *Client) nodePath(suffix string) string {
	return c.baseURL + "/internal/v1/nodes/" + url.PathEscape(c.nodeID) + suffix
}

func (c *Client) Register(ctx context.Context, info model.AgentInfo) (*model.Registration, error) {
	var reg model.Registration
	if err := c.postJSON(ctx, "/register", info, &reg); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	return &reg, nil
}

// FetchConfig returns nil when the server answers 304 for the cached token.
func (c *Client) FetchConfig(ctx context.Context) (*ConfigResponse, error) {
	var out ConfigResponse
	changed, err := c.getConditional(ctx, model.ResourceConfig, "/config", &out)
	if err != nil || !changed {
		return nil, err
	}
	return &out, nil
}

// FetchUsers returns nil when the server answers 304 for the cached token.
func (c *Client) FetchUsers(ctx context.Context) (*UsersResponse, error) {
	var out UsersResponse
	changed, err := c.getConditional(ctx, model.ResourceUsers, "/users", &out)
	if err != nil || !changed {
		return nil, err
	}
	return &out, nil
}

// ResetTokens forgets cached ETags so the next fetches return full state.
func (c *Client) ResetTokens() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.etags)
}

func (c *Client) ReportTraffic(ctx context.Context, samples []model.TrafficSample) error {
	payload := struct {
		Samples []model.TrafficSample `json:"samples"`
	}{Samples: samples}
	return c.postJSON(ctx, "/traffic", payload, nil)
}

func (c *Client) ReportStatus(ctx context.Context, runtime model.NodeRuntime) error {
	return c.postJSON(ctx, "/status", runtime, nil)
}

// ReportPresence returns the principals the node must disconnect.
func (c *Client) ReportPresence(ctx context.Context, entries []model.PresenceEntry) ([]string, error) {
	payload := struct {
		Entries []model.PresenceEntry `json:"entries"`
	}{Entries: entries}
	var out presenceResponse
	if err := c.postJSON(ctx, "/presence", payload, &out); err != nil {
		return nil, err
	}
	return out.KickUsers, nil
}

func (c *Client) ReportEgressIP(ctx context.Context, ip string) error {
	return c.postJSON(ctx, "/egress-ip", map[string]string{"ip": ip}, nil)
}

func (c *Client) getConditional(ctx context.Context, resource, path string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.nodePath(path), nil)
	if err != nil {
		return false, err
	}
	c.authorize(req)

	c.mu.Lock()
	etag := c.etags[resource]
	c.mu.Unlock()
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("fetch %s: %w", resource, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		c.logger.Debug().Str("resource", resource).Msg("not modified")
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("%s API returned %d: %s", resource, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode %s: %w", resource, err)
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		c.mu.Lock()
		c.etags[resource] = etag
		c.mu.Unlock()
	}
	return true, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.nodePath(path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API returned %d: %s", resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
