package domain

import "time"

// AccountStats holds the outcome of processing one account.
type AccountStats struct {
	Account        Account
	Checked        int
	New            int
	Delivered      int
	DeliveryErrors int
	Skipped        bool
	FirstRun       bool
	Advanced       bool
}

// RunStats holds statistics about a relay run.
type RunStats struct {
	Accounts       []AccountStats
	Processed      int
	Skipped        int
	New            int
	Delivered      int
	DeliveryErrors int
	Duration       time.Duration
}

func (s *RunStats) Add(a AccountStats) {
	s.Accounts = append(s.Accounts, a)
	if a.Skipped {
		s.Skipped++
		return
	}
	s.Processed++
	s.New += a.New
	s.Delivered += a.Delivered
	s.DeliveryErrors += a.DeliveryErrors
}

// RelayEvent describes a post that was handed to the destination.
type RelayEvent struct {
	Account   Account      `json:"account"`
	PostID    PostID       `json:"post_id"`
	Permalink string       `json:"permalink,omitempty"`
	Caption   string       `json:"caption"`
	Media     []Attachment `json:"media"`
	Delivered bool         `json:"delivered"`
	Error     string       `json:"error,omitempty"`
	TakenAt   time.Time    `json:"taken_at"`
	Timestamp time.Time    `json:"timestamp"`
}
