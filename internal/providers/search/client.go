package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/internal/core"
)

// Client is the HTTP entity search collaborator. It owns embedding and
// vector search; this side only sends names and reads scored hits.
//
//	POST {url}/search {"query": "...", "limit": 5} -> {"hits": [{entity_id, name, type, score}]}
//	POST {url}/index  {"id", "type", "display_name"}
type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewClient(cfg *config.SearchConfig) *Client {
	return &Client{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
	}
}

func (c *Client) SearchEntities(ctx context.Context, query string, limit int) ([]core.SemanticHit, error) {
	payload := map[string]any{
		"query": query,
		"limit": limit,
	}

	data, err := c.post(ctx, "/search", payload)
	if err != nil {
		return nil, err
	}

	var result struct {
		Hits []core.SemanticHit `json:"hits"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode hits: %w", err)
	}
	return result.Hits, nil
}

func (c *Client) IndexEntity(ctx context.Context, e core.Entity) error {
	payload := map[string]any{
		"id":           e.ID,
		"type":         e.Type,
		"display_name": e.DisplayName,
	}
	_, err := c.post(ctx, "/index", payload)
	return err
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", core.AppUserAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrCollaboratorUnavailable, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: http %d: %s", core.ErrCollaboratorUnavailable, resp.StatusCode, string(out))
	}
	return out, nil
}
