package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shoalstore/shoal/pkg/node"
	"github.com/shoalstore/shoal/pkg/pg"
)

// Client talks to a node's admin endpoint.
type Client struct {
	base string
	http *http.Client
}

// New returns a client for the admin endpoint at addr (host:port).
func New(addr string) *Client {
	return &Client{
		base: "http://" + addr,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// Status fetches the node's status snapshot.
func (c *Client) Status(ctx context.Context) (node.Status, error) {
	var st node.Status
	if err := c.getJSON(ctx, "/status", &st); err != nil {
		return st, err
	}
	return st, nil
}

// PGs fetches per-placement-group stats.
func (c *Client) PGs(ctx context.Context) ([]pg.Stats, error) {
	var stats []pg.Stats
	if err := c.getJSON(ctx, "/pgs", &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// Ready reports whether the node answers /readyz with 200.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/readyz", nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("admin endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("admin endpoint: %s returned %s: %s", path, resp.Status, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("admin endpoint: decode %s: %w", path, err)
	}
	return nil
}
