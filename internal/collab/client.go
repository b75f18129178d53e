// Package collab holds the HTTP clients of the services the returns workflow
// depends on: order lookup, shipping labels and notification dispatch.
package collab

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

const maxResponseBytes = 1 << 20

// ErrNotConfigured is returned by clients whose endpoint has no base URL.
var ErrNotConfigured = errors.New("endpoint is not configured")

// Error is a failed collaborator call. StatusCode is zero when no response
// was received.
type Error struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: responded %d: %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Endpoint is the base URL and bearer token of one collaborator.
type Endpoint struct {
	URL   string `usage:"Base URL"`
	Token string `usage:"Bearer token"`
}

// Configured reports whether a base URL is set.
func (e Endpoint) Configured() bool { return strings.TrimSpace(e.URL) != "" }

type client struct {
	service  string
	endpoint Endpoint
	http     *http.Client
}

// post sends body to path and hands the 2xx response to decode.
func (c *client) post(ctx context.Context, path string, body *jx.Encoder, decode func(d *jx.Decoder) error) error {
	if !c.endpoint.Configured() {
		return &Error{Service: c.service, Err: ErrNotConfigured}
	}
	url := strings.TrimRight(c.endpoint.URL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body.Bytes()))
	if err != nil {
		return &Error{Service: c.service, Err: errors.Wrap(err, "build request")}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.endpoint.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.endpoint.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Service: c.service, Err: errors.Wrap(err, "send request")}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &Error{Service: c.service, StatusCode: resp.StatusCode, Err: errors.Wrap(err, "read response")}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Service: c.service, StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(raw)))}
	}
	if decode == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := decode(jx.DecodeBytes(raw)); err != nil {
		return &Error{Service: c.service, StatusCode: resp.StatusCode, Err: errors.Wrap(err, "decode response")}
	}
	return nil
}

func readStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}
