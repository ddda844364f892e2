package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a thin HTTP wrapper around a syncd server, used by the CLI's
// read-only inspection commands (syncd status, syncd vault list). It holds
// no persistent connection; each call is an independent request.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client targeting baseURL (e.g. "http://localhost:3000").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// HealthStatus mirrors pkg/metrics.HealthStatus's JSON shape closely
// enough for CLI display purposes.
type HealthStatus struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// Health fetches GET /health.
func (c *Client) Health() (HealthStatus, error) {
	return c.getHealth("/health")
}

// Ready fetches GET /ready.
func (c *Client) Ready() (HealthStatus, error) {
	return c.getHealth("/ready")
}

func (c *Client) getHealth(path string) (HealthStatus, error) {
	var status HealthStatus
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return status, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return status, fmt.Errorf("decode %s response: %w", path, err)
	}
	return status, nil
}

// Signin authenticates against /user/signin and returns the bearer token.
func (c *Client) Signin(email, password string) (string, error) {
	var body struct {
		Token  string `json:"token"`
		Detail string `json:"detail"`
	}
	if err := c.post("/user/signin", map[string]string{
		"email": email, "password": password,
	}, &body); err != nil {
		return "", err
	}
	if body.Token == "" {
		return "", fmt.Errorf("signin failed: %s", body.Detail)
	}
	return body.Token, nil
}

// VaultSummary is the subset of VaultInfo the CLI renders in a listing.
type VaultSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version int64  `json:"version"`
}

// VaultList fetches /vault/list for the given bearer token.
func (c *Client) VaultList(token string) (owned, shared []VaultSummary, err error) {
	var body struct {
		Vaults []VaultSummary `json:"vaults"`
		Shared []VaultSummary `json:"shared"`
	}
	if err := c.post("/vault/list", map[string]string{"token": token}, &body); err != nil {
		return nil, nil, err
	}
	return body.Vaults, body.Shared, nil
}

func (c *Client) post(path string, reqBody any, respBody any) error {
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if err := json.Unmarshal(data, respBody); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
