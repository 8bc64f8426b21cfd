// Package client is a thin HTTP client for the daemon's Unix-socket API,
// shared by meshctl and anything else driving a running daemon.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
)

// Client talks JSON over HTTP to a daemon's Unix domain socket.
type Client struct {
	http *http.Client
}

// New creates a client for the daemon listening on socketPath.
func New(socketPath string) *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

// APIError is a non-2xx daemon response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon error (%d): %s", e.Status, e.Message)
}

// Get performs a GET and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.doBody(ctx, http.MethodGet, path, nil, out)
}

// Post performs a POST with a JSON body and decodes the response into out.
// A nil out discards the response.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(raw)
	}
	return c.doBody(ctx, http.MethodPost, path, buf, out)
}

// PostRaw performs a POST with a raw (non-JSON-encoded) body.
func (c *Client) PostRaw(ctx context.Context, path string, body []byte, out any) error {
	return c.doBody(ctx, http.MethodPost, path, bytes.NewReader(body), out)
}

// Delete performs a DELETE.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.doBody(ctx, http.MethodDelete, path, nil, nil)
}

// GetBytes performs a GET and returns the raw response body. Used for binary
// payloads like the QR PNG.
func (c *Client) GetBytes(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix"+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, apiError(resp.StatusCode, data)
	}
	return data, nil
}

func (c *Client) doBody(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+path, body)
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
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return apiError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func apiError(status int, body []byte) error {
	var wire struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &wire); err == nil && wire.Error != "" {
		return &APIError{Status: status, Message: wire.Error}
	}
	return &APIError{Status: status, Message: string(body)}
}
