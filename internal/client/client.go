// Package client fetches telemetry, icon mappings and reports from the
// telemetry API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sweeney/twin-monitor/internal/series"
	"github.com/sweeney/twin-monitor/internal/telemetry"
)

// ErrNoCredential is returned when no bearer token is configured.
var ErrNoCredential = errors.New("no bearer credential")

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
}

// Unauthorized reports whether the server rejected the credential.
func (e *StatusError) Unauthorized() bool {
	return e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden
}

// Client talks to the telemetry API with a bearer credential.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// New creates a Client for baseURL. A zero timeout defaults to 5 seconds.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  &http.Client{Timeout: timeout},
	}
}

// HasCredential reports whether a bearer token is configured.
func (c *Client) HasCredential() bool {
	return c.token != ""
}

// Assets lists the active assets.
func (c *Client) Assets(ctx context.Context) ([]telemetry.Asset, error) {
	var assets []telemetry.Asset
	if err := c.get(ctx, "/api/assets", &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

// Latest fetches the newest payload for an asset. Missing values decode as an
// empty map.
func (c *Client) Latest(ctx context.Context, assetID int) (*telemetry.Payload, error) {
	var p telemetry.Payload
	if err := c.get(ctx, fmt.Sprintf("/api/assets/%d/latest", assetID), &p); err != nil {
		return nil, err
	}
	if p.Values == nil {
		p.Values = map[string]any{}
	}
	return &p, nil
}

// IconMappings fetches the asset's annotation mappings in display order.
func (c *Client) IconMappings(ctx context.Context, assetID int) ([]telemetry.Mapping, error) {
	var mappings []telemetry.Mapping
	if err := c.get(ctx, fmt.Sprintf("/api/assets/%d/icon-mappings", assetID), &mappings); err != nil {
		return nil, err
	}
	return mappings, nil
}

// Series fetches the historical report for an asset key, keyed by metric.
func (c *Client) Series(ctx context.Context, assetKey string) (map[string][]series.Point, error) {
	var raw map[string][][]json.RawMessage
	if err := c.get(ctx, "/api/reports/"+url.PathEscape(assetKey), &raw); err != nil {
		return nil, err
	}

	out := make(map[string][]series.Point, len(raw))
	for metric, rows := range raw {
		pts := make([]series.Point, 0, len(rows))
		for _, row := range rows {
			p, ok := decodePoint(row)
			if !ok {
				continue
			}
			pts = append(pts, p)
		}
		out[metric] = pts
	}
	return out, nil
}

// decodePoint parses one ["<iso time>", value] pair; value may be a number
// or a numeric string.
func decodePoint(row []json.RawMessage) (series.Point, bool) {
	if len(row) != 2 {
		return series.Point{}, false
	}
	var ts string
	if err := json.Unmarshal(row[0], &ts); err != nil {
		return series.Point{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return series.Point{}, false
	}

	var v any
	if err := json.Unmarshal(row[1], &v); err != nil {
		return series.Point{}, false
	}
	val, ok := telemetry.Normalize(v)
	if !ok {
		return series.Point{}, false
	}
	f, ok := val.Float()
	if !ok {
		return series.Point{}, false
	}
	return series.Point{Time: t, Value: f}, true
}

func (c *Client) get(ctx context.Context, path string, dst any) error {
	if c.token == "" {
		return ErrNoCredential
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{URL: path, Code: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
