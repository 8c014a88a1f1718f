// Package telegram sends formatted posts to a chat through the Bot API.
package telegram

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

	"insta_relay/internal/domain"
)

const parseModeHTML = "HTML"

// ErrDeliveryFailed is returned when the Bot API does not acknowledge a send.
var ErrDeliveryFailed = errors.New("telegram delivery failed")

type Config struct {
	BaseURL string
	Token   string
	ChatID  string
	Timeout time.Duration
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	chatID     string
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		token:      cfg.Token,
		chatID:     cfg.ChatID,
		logger:     logger.With("component", "telegram"),
	}
}

// InputMedia is one element of a sendMediaGroup request.
type InputMedia struct {
	Type      string `json:"type"`
	Media     string `json:"media"`
	Caption   string `json:"caption,omitempty"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type mediaGroupRequest struct {
	ChatID string       `json:"chat_id"`
	Media  []InputMedia `json:"media"`
}

// APIResponse is the envelope every Bot API method returns.
type APIResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// Deliver sends one message. More than one attachment goes out as a media
// group with the caption on the first item; exactly one uses sendPhoto or
// sendVideo; none is a no-op.
func (c *Client) Deliver(ctx context.Context, msg domain.Message) error {
	switch n := len(msg.Media); {
	case n > 1:
		return c.SendMediaGroup(ctx, msg.Caption, msg.Media)
	case n == 1:
		item := msg.Media[0]
		if item.Kind == domain.MediaVideo {
			return c.SendVideo(ctx, item.URL, msg.Caption)
		}
		return c.SendPhoto(ctx, item.URL, msg.Caption)
	default:
		return nil
	}
}

func (c *Client) SendMediaGroup(ctx context.Context, caption string, media []domain.Attachment) error {
	items := make([]InputMedia, len(media))
	for i, m := range media {
		items[i] = InputMedia{Type: mediaType(m.Kind), Media: m.URL}
	}
	if len(items) > 0 {
		items[0].Caption = caption
		items[0].ParseMode = parseModeHTML
	}

	body, err := json.Marshal(mediaGroupRequest{ChatID: c.chatID, Media: items})
	if err != nil {
		return fmt.Errorf("marshal media group: %w", err)
	}

	return c.call(ctx, "sendMediaGroup", "application/json", bytes.NewReader(body))
}

func (c *Client) SendPhoto(ctx context.Context, photoURL, caption string) error {
	return c.sendSingle(ctx, "sendPhoto", "photo", photoURL, caption)
}

func (c *Client) SendVideo(ctx context.Context, videoURL, caption string) error {
	return c.sendSingle(ctx, "sendVideo", "video", videoURL, caption)
}

func (c *Client) sendSingle(ctx context.Context, method, field, mediaURL, caption string) error {
	form := url.Values{}
	form.Set("chat_id", c.chatID)
	form.Set(field, mediaURL)
	form.Set("caption", caption)
	form.Set("parse_mode", parseModeHTML)

	return c.call(ctx, method, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
}

func (c *Client) call(ctx context.Context, method, contentType string, body io.Reader) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The token is part of the URL; keep it out of logs and errors.
		err = redact(err, c.token)
		c.logger.Error("telegram request failed", "method", method, "error", err)
		return fmt.Errorf("%w: %s: %v", ErrDeliveryFailed, method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.logger.Error("telegram response read failed", "method", method, "status", resp.StatusCode, "error", err)
		return fmt.Errorf("%w: %s: read response: %v", ErrDeliveryFailed, method, err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		c.logger.Error("telegram response error",
			"method", method,
			"status", resp.StatusCode,
			"body", string(raw),
			"error", err,
		)
		return fmt.Errorf("%w: %s: decode response: %v", ErrDeliveryFailed, method, err)
	}

	if !apiResp.OK {
		c.logger.Error("failed to send message",
			"method", method,
			"status", resp.StatusCode,
			"body", string(raw),
		)
		return fmt.Errorf("%w: %s: %d %s", ErrDeliveryFailed, method, apiResp.ErrorCode, apiResp.Description)
	}

	c.logger.Debug("message sent", "method", method)
	return nil
}

func mediaType(kind domain.MediaKind) string {
	if kind == domain.MediaVideo {
		return "video"
	}
	return "photo"
}

func redact(err error, token string) error {
	if token == "" {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<redacted>"))
}
