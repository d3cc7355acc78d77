package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dharsanguruparan/VKYCVault/internal/model"
	"github.com/dharsanguruparan/VKYCVault/internal/signing"
)

// client talks to the bulk request API.
type client struct {
	base        string
	requestedBy string
	http        *http.Client
}

func newClient(base, requestedBy string) *client {
	return &client{
		base:        strings.TrimRight(base, "/"),
		requestedBy: requestedBy,
		http:        &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.requestedBy != "" {
		req.Header.Set("X-Requested-By", c.requestedBy)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		var apiErr struct {
			ID    string `json:"id"`
			Error string `json:"error"`
			Field string `json:"field"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Field != "" {
			return nil, fmt.Errorf("%s: %s: %s", resp.Status, apiErr.Field, apiErr.Error)
		}
		if apiErr.ID != "" {
			// Saved but not queued; "vkycctl dispatch" retries it.
			return nil, fmt.Errorf("%s: %s (request %s)", resp.Status, apiErr.Error, apiErr.ID)
		}
		return nil, fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
	}
	return resp, nil
}

func (c *client) decode(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *client) submit(ctx context.Context, identifiers []string, download bool) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	body := map[string]any{"identifiers": identifiers, "download": download}
	if err := c.decode(ctx, http.MethodPost, "/api/v1/requests", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *client) dispatch(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/requests/"+url.PathEscape(id)+"/dispatch", nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (c *client) status(ctx context.Context, id string) (*model.Snapshot, error) {
	var snap model.Snapshot
	if err := c.decode(ctx, http.MethodGet, "/api/v1/requests/"+url.PathEscape(id), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// wait polls until the request reaches a terminal status or ctx ends.
func (c *client) wait(ctx context.Context, id string, interval time.Duration) (*model.Snapshot, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		snap, err := c.status(ctx, id)
		if err != nil {
			return nil, err
		}
		if snap.Request.Status.Terminal() {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, fmt.Errorf("request %s still %s: %w", id, snap.Request.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *client) fetch(ctx context.Context, id string, w io.Writer) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/requests/"+url.PathEscape(id)+"/artifact", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download artifact: %w", err)
	}
	return n, nil
}

func (c *client) signedURL(ctx context.Context, id string) (signing.Link, error) {
	var link signing.Link
	err := c.decode(ctx, http.MethodPost, "/api/v1/requests/"+url.PathEscape(id)+"/signed-url", nil, &link)
	if err == nil {
		link.URL = c.base + link.URL
	}
	return link, err
}
