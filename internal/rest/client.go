// Package rest covers the two one-shot read collaborators that sit outside
// the push protocol: the user roster and the set of valid receipt dates.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/costclaim/groupview/internal/protocol"
)

const (
	usersPath         = "/cost_claimer/users/"
	validReceiptsPath = "/cost_claimer/valid_receipts/"
)

type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Users fetches the full roster. Callers sort via roster.Store.
func (c *Client) Users(ctx context.Context) ([]protocol.User, error) {
	var users []protocol.User
	if err := c.getJSON(ctx, usersPath, &users); err != nil {
		return nil, fmt.Errorf("fetch users: %w", err)
	}
	return users, nil
}

// ValidReceipts fetches the dates that currently have joinable lobbies.
func (c *Client) ValidReceipts(ctx context.Context) ([]string, error) {
	var dates []string
	if err := c.getJSON(ctx, validReceiptsPath, &dates); err != nil {
		return nil, fmt.Errorf("fetch valid receipts: %w", err)
	}
	return dates, nil
}
