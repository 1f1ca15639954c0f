package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// bearerHeader carries the portal access token on directory calls.
const bearerHeader = "x-amz-sso_bearer_token"

const defaultPageSize = 100

// Client is a thin directory API client. Both listing calls paginate with
// the provider's opaque next_token cursor and accumulate results in
// provider-returned order.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
	pageSize  int
}

type Option func(*Client) error

func New(opts ...Option) (*Client, error) {
	c := &Client{
		http:      &http.Client{Timeout: 30 * time.Second},
		userAgent: "ssoctl",
		pageSize:  defaultPageSize,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.baseURL == nil {
		return nil, errors.New("directory base URL is required")
	}
	return c, nil
}

// WithRegion points the client at the regional directory endpoint.
func WithRegion(region string) Option {
	return func(c *Client) error {
		if region == "" {
			return errors.New("region is required")
		}
		return WithBaseURL(fmt.Sprintf("https://portal.sso.%s.amazonaws.com", region))(c)
	}
}

// WithBaseURL overrides the directory endpoint, mainly for tests.
func WithBaseURL(base string) Option {
	return func(c *Client) error {
		parsed, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("invalid directory base URL: %w", err)
		}
		c.baseURL = parsed
		return nil
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) error {
		if client == nil {
			return errors.New("http client is nil")
		}
		c.http = client
		return nil
	}
}

func WithUserAgent(userAgent string) Option {
	return func(c *Client) error {
		c.userAgent = userAgent
		return nil
	}
}

func WithPageSize(size int) Option {
	return func(c *Client) error {
		if size <= 0 {
			return errors.New("page size must be positive")
		}
		c.pageSize = size
		return nil
	}
}

func (c *Client) get(ctx context.Context, token, endpoint string, params url.Values, out any) error {
	fullURL := *c.baseURL
	fullURL.Path = path.Join(fullURL.Path, endpoint)
	fullURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(bearerHeader, token)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	var apiErr struct {
		Message string `json:"message"`
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) > 0 {
		_ = json.Unmarshal(body, &apiErr)
	}
	msg := strings.TrimSpace(apiErr.Message)
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = resp.Status
	}
	return &HTTPError{StatusCode: resp.StatusCode, Message: msg}
}

// HTTPError is a non-2xx directory response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("directory request failed (%d): %s", e.StatusCode, e.Message)
}

// InvalidResponseError reports a directory response missing a field that
// must never be defaulted.
type InvalidResponseError struct {
	Field string
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("directory response missing %s", e.Field)
}
