// Package instagram reads profiles and their post timelines from the
// Instagram web API, optionally with a logged-in session.
package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/net/publicsuffix"
)

const (
	defaultBaseURL   = "https://www.instagram.com"
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	webAppID         = "936619743392459"
)

var (
	ErrProfileNotFound    = errors.New("instagram profile not found")
	ErrUnauthorized       = errors.New("instagram session not authorized")
	ErrBadCredentials     = errors.New("instagram rejected username or password")
	ErrTwoFactorRequired  = errors.New("instagram login requires two-factor authentication")
	ErrCheckpointRequired = errors.New("instagram login requires a security checkpoint")
)

// Config holds Instagram client configuration.
type Config struct {
	BaseURL        string
	UserAgent      string
	Timeout        time.Duration
	PageSize       int
	Proxy          string
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Client struct {
	httpClient     *http.Client
	baseURL        *url.URL
	userAgent      string
	pageSize       int
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

// New creates a client with its own cookie jar.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	raw := strings.TrimRight(cfg.BaseURL, "/")
	if raw == "" {
		raw = defaultBaseURL
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	transport, err := newTransport(cfg.Proxy)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			Jar:       jar,
			// A redirect from an API endpoint means "log in first".
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		baseURL:        base,
		userAgent:      cfg.UserAgent,
		pageSize:       cfg.PageSize,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger.With("component", "instagram"),
	}
	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}
	if c.pageSize <= 0 {
		c.pageSize = 12
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 1
	}
	if c.initialBackoff <= 0 {
		c.initialBackoff = time.Second
	}
	if c.maxBackoff < c.initialBackoff {
		c.maxBackoff = c.initialBackoff
	}
	return c, nil
}

// newTransport clones the default transport and routes it through proxyRaw
// when set. http(s) proxies use the standard proxy hook; socks5 goes through
// x/net/proxy.
func newTransport(proxyRaw string) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil

	proxyRaw = strings.TrimSpace(proxyRaw)
	if proxyRaw == "" {
		return transport, nil
	}

	u, err := url.Parse(proxyRaw)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("create socks dialer: %w", err)
		}
		cd, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks dialer does not support contexts")
		}
		transport.DialContext = cd.DialContext
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	return transport, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status: %d", e.code)
	}
	return fmt.Sprintf("unexpected status: %d: %s", e.code, e.body)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// getJSON requests endpoint and decodes the body into out, retrying
// transport errors and 5xx responses up to maxAttempts times.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	var err error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err = c.doJSON(ctx, http.MethodGet, endpoint, nil, "", out)
		if err == nil {
			return nil
		}

		var se *statusError
		if errors.As(err, &se) && !se.retryable() {
			return err
		}
		if attempt == c.maxAttempts {
			break
		}

		backoff := c.calculateBackoff(attempt)
		c.logger.Warn("request failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	if c.maxAttempts > 1 {
		return fmt.Errorf("after %d attempts: %w", c.maxAttempts, err)
	}
	return err
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode, body: snippet(raw)}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("X-IG-App-ID", webAppID)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Referer", c.endpoint("/", nil))
	if token := c.cookie("csrftoken"); token != "" {
		req.Header.Set("X-CSRFToken", token)
	}
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := c.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > c.maxBackoff {
		backoff = c.maxBackoff
	}
	return backoff
}

func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}
