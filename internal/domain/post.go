package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Account is an Instagram handle being watched.
type Account string

// NewAccount normalises a handle as it may appear in configuration.
func NewAccount(raw string) Account {
	return Account(strings.TrimPrefix(strings.TrimSpace(raw), "@"))
}

func (a Account) String() string {
	return string(a)
}

// PostID identifies a post on the source platform. Instagram media ids are
// decimal digits, but nothing here assumes that; ordering is decided by the
// scanner's comparator.
type PostID string

// IsNumeric reports whether the id consists of decimal digits only.
func (id PostID) IsNumeric() bool {
	if id == "" {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}

// MarshalJSON writes numeric ids as JSON numbers so state files stay
// compatible with integer-valued watermarks.
func (id PostID) MarshalJSON() ([]byte, error) {
	if id.IsNumeric() && (id[0] != '0' || len(id) == 1) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON accepts either a JSON number or a JSON string.
func (id *PostID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return fmt.Errorf("post id: empty value")
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("post id: %w", err)
		}
		*id = PostID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("post id: %w", err)
	}
	if _, err := n.Int64(); err != nil {
		if !PostID(n.String()).IsNumeric() {
			return fmt.Errorf("post id: %q is not an integer", n.String())
		}
	}
	*id = PostID(n.String())
	return nil
}

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

type Attachment struct {
	Kind MediaKind `json:"kind"`
	URL  string    `json:"url"`
}

type Profile struct {
	ID        string
	Username  string
	FullName  string
	IsPrivate bool
	PostCount int64
}

type Post struct {
	ID          PostID
	Shortcode   string
	Caption     string
	Attachments []Attachment
	Owner       Account
	TakenAt     time.Time
}

// Permalink returns the public URL of the post.
func (p Post) Permalink() string {
	if p.Shortcode == "" {
		return ""
	}
	return "https://www.instagram.com/p/" + p.Shortcode + "/"
}

// Message is one formatted delivery unit.
type Message struct {
	Caption string
	Media   []Attachment
}
