// ABOUTME: HTTP client for the group-chat backend REST API
// ABOUTME: Handles base URL joining, bearer auth, JSON bodies, and error decoding

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/coven-groups/internal/auth"
)

// DefaultBaseURL is the API root of a locally running backend.
const DefaultBaseURL = "http://localhost:8000/api/v1"

// DefaultTimeout bounds REST calls when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// ErrNoBaseURL is returned by New for an unusable base URL.
var ErrNoBaseURL = errors.New("base URL must be an absolute http(s) URL")

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Detail     string
	Method     string
	Path       string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s %s: backend returned status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: backend error (%d): %s", e.Method, e.Path, e.StatusCode, e.Detail)
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Timeout time.Duration
	Tokens  auth.Source
	// HTTPClient overrides the REST client; its Transport is shared with streams.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the backend REST API and event streams.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	stream  *http.Client
	tokens  auth.Source
	logger  *slog.Logger
}

// New creates a client for opts.BaseURL.
func New(opts Options) (*Client, error) {
	raw := opts.BaseURL
	if raw == "" {
		raw = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimSuffix(raw, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrNoBaseURL, raw)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tokens := opts.Tokens
	if tokens == nil {
		tokens = auth.Static("")
	}

	return &Client{
		baseURL: u,
		http:    httpClient,
		stream:  &http.Client{Transport: httpClient.Transport},
		tokens:  tokens,
		logger:  logger.With("component", "client"),
	}, nil
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// endpoint joins path segments onto the base URL, escaping each segment.
// A trailing "" segment keeps a trailing slash, which some routes require.
func (c *Client) endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u := *c.baseURL
	u.Path = c.baseURL.Path + "/" + strings.Join(segments, "/")
	u.RawPath = c.baseURL.EscapedPath() + "/" + strings.Join(escaped, "/")
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("resolving token: %w", err)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

// doJSON sends in (if non-nil) as JSON and decodes the response into out (if non-nil).
func (c *Client) doJSON(ctx context.Context, method string, path []string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, c.endpoint(path...), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("request completed",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(req, resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", req.URL.Path, err)
	}
	return nil
}

// decodeError extracts the backend's error message from a non-2xx response.
// FastAPI answers {"detail": ...}; other layers may answer {"error": ...}.
func decodeError(req *http.Request, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Method:     req.Method,
		Path:       req.URL.Path,
	}

	var errResp struct {
		Detail  json.RawMessage `json:"detail"`
		Error   string          `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(body, &errResp) == nil {
		switch {
		case len(errResp.Detail) > 0:
			var s string
			if json.Unmarshal(errResp.Detail, &s) == nil {
				apiErr.Detail = s
			} else {
				// Validation errors carry a list of objects.
				apiErr.Detail = string(errResp.Detail)
			}
		case errResp.Error != "":
			apiErr.Detail = errResp.Error
		case errResp.Message != "":
			apiErr.Detail = errResp.Message
		}
	}
	if apiErr.Detail == "" {
		apiErr.Detail = strings.TrimSpace(string(body))
	}
	return apiErr
}
