// Package api is the REST client for the call endpoints. Call persistence
// lives on the server; this layer only moves descriptors.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arklight/callwire/internal/core"
	"github.com/arklight/callwire/internal/domain"
)

var ErrRequestFailed = errors.New("call api request failed")

// Client implements core.CallAPI against the relay's REST surface.
type Client struct {
	base   string
	userID domain.UserID
	http   *http.Client
}

func NewClient(base string, userID domain.UserID) *Client {
	return &Client{
		base:   base,
		userID: userID,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

// response is the envelope every call endpoint returns.
type response struct {
	Success bool         `json:"success"`
	Call    *domain.Call `json:"call,omitempty"`
	Error   string       `json:"error,omitempty"`
}

func (c *Client) post(ctx context.Context, path string, body any) (*response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", string(c.userID))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	if !out.Success {
		log.Warn().Str("module", "api").Str("path", path).Str("error", out.Error).Msg("request rejected")
		return nil, fmt.Errorf("%w: %s", ErrRequestFailed, out.Error)
	}
	return &out, nil
}

func (c *Client) Initiate(ctx context.Context, req core.InitiateRequest) (*domain.Call, error) {
	out, err := c.post(ctx, "/call/initiate", req)
	if err != nil {
		return nil, err
	}
	if out.Call == nil {
		return nil, fmt.Errorf("%w: missing call descriptor", ErrRequestFailed)
	}
	return out.Call, nil
}

func (c *Client) Answer(ctx context.Context, id domain.CallID) error {
	_, err := c.post(ctx, "/call/answer", map[string]any{"callId": id})
	return err
}

func (c *Client) Decline(ctx context.Context, id domain.CallID, reason string) error {
	_, err := c.post(ctx, "/call/decline", map[string]any{"callId": id, "reason": reason})
	return err
}

func (c *Client) End(ctx context.Context, id domain.CallID) error {
	_, err := c.post(ctx, "/call/end", map[string]any{"callId": id})
	return err
}
