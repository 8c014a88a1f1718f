package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"insta_relay/internal/domain"
)

const (
	timelineQueryHash  = "003056d32c2554def87228bc3fd9668a"
	shortcodeQueryHash = "2b0673e0dc4580674a88d426fe00ea90"
)

// Profile looks up a user by handle.
func (c *Client) Profile(ctx context.Context, username string) (*domain.Profile, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return nil, fmt.Errorf("username required")
	}

	var resp profileResponse
	endpoint := c.endpoint("/api/v1/users/web_profile_info/", url.Values{"username": {username}})
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, username)
		}
		if errors.As(err, &se) && (se.code == http.StatusUnauthorized || se.code == http.StatusForbidden || (se.code >= 300 && se.code < 400)) {
			return nil, fmt.Errorf("%w: profile %s: %v", ErrUnauthorized, username, err)
		}
		return nil, fmt.Errorf("fetch profile %s: %w", username, err)
	}

	u := resp.Data.User
	if u == nil || u.ID == "" {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, username)
	}

	return &domain.Profile{
		ID:        u.ID,
		Username:  u.Username,
		FullName:  u.FullName,
		IsPrivate: u.IsPrivate,
		PostCount: u.Timeline.Count,
	}, nil
}

// Posts streams the profile's timeline newest first. Pages are requested
// only as the consumer keeps iterating; the first error ends the stream.
func (c *Client) Posts(ctx context.Context, profile *domain.Profile) iter.Seq2[domain.Post, error] {
	return func(yield func(domain.Post, error) bool) {
		cursor := ""
		for page := 0; ; page++ {
			timeline, err := c.fetchTimelinePage(ctx, profile.ID, cursor)
			if err != nil {
				yield(domain.Post{}, fmt.Errorf("fetch page %d: %w", page, err))
				return
			}

			c.logger.Debug("fetched page",
				"account", profile.Username,
				"page", page,
				"posts", len(timeline.Edges),
			)

			for _, edge := range timeline.Edges {
				post := c.transform(ctx, domain.NewAccount(profile.Username), edge.Node)
				if !yield(post, nil) {
					return
				}
			}

			if !timeline.PageInfo.HasNextPage || timeline.PageInfo.EndCursor == "" {
				return
			}
			cursor = timeline.PageInfo.EndCursor
		}
	}
}

func (c *Client) fetchTimelinePage(ctx context.Context, userID, cursor string) (*timelineMedia, error) {
	vars := map[string]any{
		"id":    userID,
		"first": c.pageSize,
	}
	if cursor != "" {
		vars["after"] = cursor
	}

	var resp timelineResponse
	if err := c.graphQL(ctx, timelineQueryHash, vars, &resp); err != nil {
		return nil, err
	}
	if resp.Data.User == nil {
		return nil, ErrProfileNotFound
	}
	return &resp.Data.User.Timeline, nil
}

func (c *Client) fetchShortcodeMedia(ctx context.Context, shortcode string) (*mediaNode, error) {
	var resp shortcodeResponse
	if err := c.graphQL(ctx, shortcodeQueryHash, map[string]any{"shortcode": shortcode}, &resp); err != nil {
		return nil, err
	}
	if resp.Data.Media == nil {
		return nil, fmt.Errorf("post %s not found", shortcode)
	}
	return resp.Data.Media, nil
}

func (c *Client) graphQL(ctx context.Context, queryHash string, vars map[string]any, out any) error {
	encoded, err := json.Marshal(vars)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}

	endpoint := c.endpoint("/graphql/query/", url.Values{
		"query_hash": {queryHash},
		"variables":  {string(encoded)},
	})
	return c.getJSON(ctx, endpoint, out)
}

// transform maps a timeline node to a domain post. Timeline pages sometimes
// omit video URLs; those are completed from the single-post query, and if that
// fails the still frame is sent instead.
func (c *Client) transform(ctx context.Context, owner domain.Account, node mediaNode) domain.Post {
	post := domain.Post{
		ID:        domain.PostID(node.ID),
		Shortcode: node.Shortcode,
		Owner:     owner,
	}
	if node.TakenAt > 0 {
		post.TakenAt = time.Unix(node.TakenAt, 0).UTC()
	}
	if len(node.Caption.Edges) > 0 {
		post.Caption = node.Caption.Edges[0].Node.Text
	}

	if needsDetail(node) && node.Shortcode != "" {
		detail, err := c.fetchShortcodeMedia(ctx, node.Shortcode)
		if err != nil {
			c.logger.Warn("failed to complete video urls",
				"account", owner,
				"shortcode", node.Shortcode,
				"error", err,
			)
		} else {
			node.VideoURL = firstNonEmpty(node.VideoURL, detail.VideoURL)
			if detail.Children != nil {
				node.Children = detail.Children
			}
		}
	}

	if node.Children != nil && len(node.Children.Edges) > 0 {
		for _, child := range node.Children.Edges {
			post.Attachments = append(post.Attachments, attachment(child.Node))
		}
		return post
	}

	post.Attachments = []domain.Attachment{attachment(node)}
	return post
}

func needsDetail(node mediaNode) bool {
	if node.Children != nil && len(node.Children.Edges) > 0 {
		for _, child := range node.Children.Edges {
			if child.Node.IsVideo && child.Node.VideoURL == "" {
				return true
			}
		}
		return false
	}
	return node.IsVideo && node.VideoURL == ""
}

func attachment(node mediaNode) domain.Attachment {
	if node.IsVideo && node.VideoURL != "" {
		return domain.Attachment{Kind: domain.MediaVideo, URL: node.VideoURL}
	}
	return domain.Attachment{Kind: domain.MediaImage, URL: node.DisplayURL}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
