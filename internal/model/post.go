package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Shape bounds enforced once at the ingestion boundary.
const (
	MaxTitleLen = 300
	MaxURLLen   = 2048
)

// RawPost is a candidate job post as handed over by the source,
// before validation and dedup.
type RawPost struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	PostedRaw string `json:"posted_raw"`
	Subreddit string `json:"subreddit"`
}

// Validate checks the shape constraints for ingestion: non-empty
// identity and title, bounded lengths.
func (r RawPost) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return eris.New("post url is required")
	}
	if len(r.URL) > MaxURLLen {
		return eris.Errorf("post url exceeds %d chars", MaxURLLen)
	}
	if strings.TrimSpace(r.Title) == "" {
		return eris.New("post title is required")
	}
	if len(r.Title) > MaxTitleLen {
		return eris.Errorf("post title exceeds %d chars", MaxTitleLen)
	}
	return nil
}

// Post is a stored job post. The URL is the post's identity: globally
// unique, a second ingestion of the same URL is a skip, not an update.
// Attempt bookkeeping is mutated only by the classification path.
type Post struct {
	ID            string     `json:"id"`
	URL           string     `json:"url"`
	Title         string     `json:"title"`
	Body          string     `json:"body"`
	PostedRaw     string     `json:"posted_raw"`
	Subreddit     string     `json:"subreddit"`
	IngestedAt    time.Time  `json:"ingested_at"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	Failed        bool       `json:"failed"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// AnalyzedPost is a joined post+verdict read row. Rank and DisplayTime
// are derived from PostedRaw against the clock at read time, never
// cached from ingestion.
type AnalyzedPost struct {
	Post
	Verdict     *Verdict `json:"verdict,omitempty"`
	Rank        int64    `json:"rank"`
	DisplayTime string   `json:"display_time"`
}
