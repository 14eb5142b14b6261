// Package download retrieves remote resources into local files.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Fetcher retrieves remote resources.
type Fetcher interface {
	// Fetch writes the resource at rawURL to a freshly named file inside
	// destDir and returns its path.
	Fetch(ctx context.Context, rawURL, destDir string) (string, error)

	// Get returns the body of rawURL.
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

// Client downloads over HTTP.
type Client struct {
	httpClient *http.Client
	userAgent  string
	maxBody    int64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithTimeout sets the overall request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) {
		cl.httpClient.Timeout = d
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

// WithMaxBody caps the size of a body returned by Get.
func WithMaxBody(n int64) ClientOption {
	return func(cl *Client) {
		cl.maxBody = n
	}
}

// ErrBodyTooLarge is returned by Get when the body exceeds the size cap.
var ErrBodyTooLarge = errors.New("response body too large")

// NewClient creates a download client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
		userAgent: "bootstrapper",
		maxBody:   4 << 20,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch downloads rawURL into destDir. The file name is always freshly
// generated so existing files are never overwritten. On failure the partial
// file is removed.
func (c *Client) Fetch(ctx context.Context, rawURL, destDir string) (string, error) {
	if destDir == "" {
		return "", fmt.Errorf("destination directory is required")
	}

	resp, err := c.open(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	dest := filepath.Join(destDir, fileName(rawURL))
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o755)
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(dest)
		return "", &NetworkError{Kind: KindTransport, URL: rawURL, Err: err}
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("close download file: %w", err)
	}

	return dest, nil
}

// Get returns the body of rawURL. A body over the size cap (4MB unless
// WithMaxBody) is an error rather than a truncated read.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.open(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, &NetworkError{Kind: KindTransport, URL: rawURL, Err: err}
	}
	if int64(len(data)) > c.maxBody {
		return nil, fmt.Errorf("%s: %w (limit %d bytes)", rawURL, ErrBodyTooLarge, c.maxBody)
	}
	return data, nil
}

func (c *Client) open(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Kind: KindTransport, URL: rawURL, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &NetworkError{Kind: KindStatus, URL: rawURL, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// fileName derives a unique name that keeps the URL's base name for readability.
func fileName(rawURL string) string {
	base := ""
	if u, err := url.Parse(rawURL); err == nil {
		base = path.Base(u.Path)
	}
	if base == "" || base == "." || base == "/" {
		base = "download"
	}
	base = strings.Map(func(r rune) rune {
		if r == filepath.Separator || r == '/' {
			return '_'
		}
		return r
	}, base)
	return uuid.NewString() + "-" + base
}

// Kind classifies a NetworkError.
type Kind string

const (
	// KindTransport covers connection, DNS, and timeout failures.
	KindTransport Kind = "transport"
	// KindStatus covers non-2xx responses.
	KindStatus Kind = "status"
)

// NetworkError reports a failed fetch.
type NetworkError struct {
	Kind       Kind
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e == nil {
		return "network error"
	}
	if e.Kind == KindStatus {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s failed", e.URL)
}

func (e *NetworkError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsStatus reports whether err is a NetworkError for a non-2xx response.
func IsStatus(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr) && netErr.Kind == KindStatus
}
