// Package scanner decides which posts of an account are new relative to the
// stored watermark.
package scanner

import (
	"fmt"
	"iter"
	"slices"
	"strings"

	"insta_relay/internal/domain"
)

// Order compares two post ids the way the source platform orders them.
// It returns a negative number when a is older than b, zero when equal and a
// positive number when a is newer.
type Order func(a, b domain.PostID) int

// NumericOrder compares decimal ids by magnitude without parsing them into a
// fixed-size integer. Ids that are not decimal fall back to byte-wise order.
func NumericOrder(a, b domain.PostID) int {
	if !a.IsNumeric() || !b.IsNumeric() {
		return strings.Compare(string(a), string(b))
	}
	as := strings.TrimLeft(string(a), "0")
	bs := strings.TrimLeft(string(b), "0")
	if len(as) != len(bs) {
		if len(as) < len(bs) {
			return -1
		}
		return 1
	}
	return strings.Compare(as, bs)
}

// Result is the outcome of one pass over an account's posts.
type Result struct {
	// New holds the unseen posts in traversal order, newest first.
	New []domain.Post
	// Watermark is the id to store for the account; valid when HasWatermark.
	Watermark    domain.PostID
	HasWatermark bool
	// Stopped reports that the previous watermark was found in the stream.
	// False with a previous watermark means it vanished and every visible
	// post was emitted again.
	Stopped bool
}

// Oldest returns the new posts oldest first.
func (r Result) Oldest() []domain.Post {
	out := slices.Clone(r.New)
	slices.Reverse(out)
	return out
}

// Advanced reports whether the watermark moved past previous.
func (r Result) Advanced(previous domain.PostID, hasPrevious bool) bool {
	if !r.HasWatermark {
		return false
	}
	return !hasPrevious || r.Watermark != previous
}

// Scan walks posts newest to oldest and stops at the previous watermark.
// The returned watermark never moves backwards under order: it starts from
// previous and is only replaced by an id that compares strictly greater.
func Scan(posts iter.Seq2[domain.Post, error], previous domain.PostID, hasPrevious bool, order Order) (Result, error) {
	if order == nil {
		order = NumericOrder
	}

	res := Result{
		Watermark:    previous,
		HasWatermark: hasPrevious,
	}

	for post, err := range posts {
		if err != nil {
			return Result{}, fmt.Errorf("read posts: %w", err)
		}
		if hasPrevious && post.ID == previous {
			res.Stopped = true
			break
		}

		res.New = append(res.New, post)
		if !res.HasWatermark || order(post.ID, res.Watermark) > 0 {
			res.Watermark = post.ID
			res.HasWatermark = true
		}
	}

	return res, nil
}

// FromSlice adapts an in-memory newest-first slice to the stream form Scan
// consumes.
func FromSlice(posts []domain.Post) iter.Seq2[domain.Post, error] {
	return func(yield func(domain.Post, error) bool) {
		for _, p := range posts {
			if !yield(p, nil) {
				return
			}
		}
	}
}
