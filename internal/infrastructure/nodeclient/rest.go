package nodeclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound marks a 404 from the panel. Callers treat it as "no such
// user" rather than a node failure.
var ErrNotFound = errors.New("nodeclient: not found")

// Panels run on self-signed certificates more often than not, so
// verification stays off. The pool is shared by every client instance.
var sharedTransport = &http.Transport{
	TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
	MaxIdleConns:        200,
	MaxIdleConnsPerHost: 50,
	IdleConnTimeout:     300 * time.Second,
}

var sharedHTTPClient = &http.Client{
	Transport: sharedTransport,
	Timeout:   10 * time.Second,
}

// restClient is the HTTP plumbing shared by all dialects. Token grants go
// form-encoded without auth; everything else is JSON with a bearer token.
type restClient struct {
	host string
	http *http.Client
}

func newRESTClient(host string) restClient {
	return restClient{
		host: strings.TrimRight(host, "/"),
		http: sharedHTTPClient,
	}
}

func (c restClient) url(endpoint string, params url.Values) string {
	u := c.host + "/" + strings.TrimLeft(endpoint, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (c restClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, ErrNotFound)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s",
			req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

// postForm submits a form-encoded body without authentication. Used for
// the token grant endpoints only.
func (c restClient) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(endpoint, nil),
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c restClient) request(ctx context.Context, method, endpoint, access string, params url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s %s: encode request: %w", method, endpoint, err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint, params), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+access)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c restClient) get(ctx context.Context, endpoint, access string, params url.Values, out any) error {
	return c.request(ctx, http.MethodGet, endpoint, access, params, nil, out)
}

func (c restClient) post(ctx context.Context, endpoint, access string, body, out any) error {
	return c.request(ctx, http.MethodPost, endpoint, access, nil, body, out)
}

func (c restClient) put(ctx context.Context, endpoint, access string, body, out any) error {
	return c.request(ctx, http.MethodPut, endpoint, access, nil, body, out)
}

func (c restClient) delete(ctx context.Context, endpoint, access string) error {
	return c.request(ctx, http.MethodDelete, endpoint, access, nil, nil, nil)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
