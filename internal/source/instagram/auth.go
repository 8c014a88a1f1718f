package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var csrfPattern = regexp.MustCompile(`"csrf_token"\s*:\s*"([^"]+)"`)

// Login authenticates with username and password. On success the session
// cookies live in the client's jar; read them with Cookies.
func (c *Client) Login(ctx context.Context, username, password string) error {
	csrf, err := c.fetchCSRFToken(ctx)
	if err != nil {
		return fmt.Errorf("fetch csrf token: %w", err)
	}

	form := url.Values{}
	form.Set("username", username)
	form.Set("enc_password", fmt.Sprintf("#PWD_INSTAGRAM_BROWSER:0:%d:%s", time.Now().Unix(), password))
	form.Set("queryParams", "{}")
	form.Set("optIntoOneTap", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint("/api/v1/web/accounts/login/ajax/", nil),
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-CSRFToken", csrf)
	req.Header.Set("Referer", c.endpoint("/accounts/login/", nil))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute login: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read login response: %w", err)
	}

	// Checkpoint and two-factor answers come with 400, so decode first.
	var lr loginResponse
	if err := json.Unmarshal(raw, &lr); err != nil {
		return fmt.Errorf("decode login response (status %d): %w", resp.StatusCode, err)
	}

	switch {
	case lr.TwoFactorRequired:
		return ErrTwoFactorRequired
	case lr.Message == "checkpoint_required" || lr.CheckpointURL != "":
		return ErrCheckpointRequired
	case lr.Authenticated:
		c.logger.Info("logged in", "username", username, "user_id", lr.UserID)
		return nil
	case resp.StatusCode == http.StatusOK && lr.Status == "ok":
		return fmt.Errorf("%w: user found=%t", ErrBadCredentials, lr.User)
	default:
		return fmt.Errorf("login failed: %w", &statusError{code: resp.StatusCode, body: snippet(raw)})
	}
}

// fetchCSRFToken loads the login page. The token normally arrives as the
// csrftoken cookie; older page variants only embed it in inline script data.
func (c *Client) fetchCSRFToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/accounts/login/", nil), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	page, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("read login page: %w", err)
	}

	if token := c.cookie("csrftoken"); token != "" {
		return token, nil
	}

	if token := csrfFromHTML(page); token != "" {
		return token, nil
	}
	return "", errors.New("csrf token not found")
}

func csrfFromHTML(page []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return ""
	}

	var token string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m := csrfPattern.FindStringSubmatch(s.Text()); m != nil {
			token = m[1]
			return false
		}
		return true
	})
	return token
}

// Validate checks that the current cookies belong to a live session for
// username.
func (c *Client) Validate(ctx context.Context, username string) error {
	var resp currentUserResponse
	endpoint := c.endpoint("/api/v1/accounts/current_user/", url.Values{"edit": {"true"}})
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, "", &resp); err != nil {
		var se *statusError
		if errors.As(err, &se) {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return fmt.Errorf("check session: %w", err)
	}

	if resp.User == nil || !strings.EqualFold(resp.User.Username, username) {
		return fmt.Errorf("%w: session does not belong to %s", ErrUnauthorized, username)
	}
	return nil
}

// Cookies returns the session cookies for the Instagram origin.
func (c *Client) Cookies() map[string]string {
	out := make(map[string]string)
	for _, ck := range c.httpClient.Jar.Cookies(c.baseURL) {
		out[ck.Name] = ck.Value
	}
	return out
}

// SetCookies installs previously saved session cookies.
func (c *Client) SetCookies(cookies map[string]string) {
	list := make([]*http.Cookie, 0, len(cookies))
	for name, value := range cookies {
		list = append(list, &http.Cookie{
			Name:    name,
			Value:   value,
			Path:    "/",
			Expires: time.Now().AddDate(1, 0, 0),
		})
	}
	c.httpClient.Jar.SetCookies(c.baseURL, list)
}

func (c *Client) cookie(name string) string {
	for _, ck := range c.httpClient.Jar.Cookies(c.baseURL) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}
