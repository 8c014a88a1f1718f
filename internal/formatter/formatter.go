// Package formatter turns a post into the caption and media batch sent to
// the Telegram channel.
package formatter

import (
	"html"

	"insta_relay/internal/domain"
)

const (
	DefaultCaptionLimit     = 1024
	DefaultMaxMediaGroup    = 10
	DefaultAttribution      = "Instagram"
	DefaultTruncationMarker = "..."
)

type Config struct {
	CaptionLimit     int
	MaxMediaGroup    int
	Attribution      string
	TruncationMarker string
}

type Formatter struct {
	captionLimit  int
	maxMediaGroup int
	attribution   string
	marker        string
}

func New(cfg Config) *Formatter {
	f := &Formatter{
		captionLimit:  cfg.CaptionLimit,
		maxMediaGroup: cfg.MaxMediaGroup,
		attribution:   cfg.Attribution,
		marker:        cfg.TruncationMarker,
	}
	if f.captionLimit <= 0 {
		f.captionLimit = DefaultCaptionLimit
	}
	if f.maxMediaGroup <= 0 {
		f.maxMediaGroup = DefaultMaxMediaGroup
	}
	if f.attribution == "" {
		f.attribution = DefaultAttribution
	}
	if f.marker == "" {
		f.marker = DefaultTruncationMarker
	}
	return f
}

// Format builds the message for one post.
func (f *Formatter) Format(account domain.Account, post domain.Post) domain.Message {
	return domain.Message{
		Caption: f.Caption(account, post.Caption),
		Media:   f.Batch(post.Attachments),
	}
}

// Caption renders "<b>Instagram: @account</b>\ntext" as Telegram HTML.
// The limit applies to the visible text (entities are not counted), measured
// in UTF-16 code units. When over the limit the post text is cut and the
// marker appended; the attribution line is always kept.
func (f *Formatter) Caption(account domain.Account, text string) string {
	header := f.attribution + ": @" + account.String()
	headerLen := utf16Len(header) + 1

	if headerLen+utf16Len(text) > f.captionLimit {
		budget := f.captionLimit - headerLen - utf16Len(f.marker)
		text = cutUTF16(text, budget) + f.marker
	}

	return "<b>" + html.EscapeString(header) + "</b>\n" + html.EscapeString(text)
}

// Batch drops attachments without a URL and caps the rest at the media group
// limit. Anything past the cap is dropped, not sent in a follow-up batch.
func (f *Formatter) Batch(attachments []domain.Attachment) []domain.Attachment {
	out := make([]domain.Attachment, 0, min(len(attachments), f.maxMediaGroup))
	for _, a := range attachments {
		if len(out) == f.maxMediaGroup {
			break
		}
		if a.URL == "" {
			continue
		}
		out = append(out, a)
	}
	return out
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// cutUTF16 returns the longest prefix of s whose UTF-16 length is at most max,
// never splitting a rune.
func cutUTF16(s string, max int) string {
	if max <= 0 {
		return ""
	}
	n := 0
	for i, r := range s {
		w := 1
		if r >= 0x10000 {
			w = 2
		}
		if n+w > max {
			return s[:i]
		}
		n += w
	}
	return s
}
