package store

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/jobradar/internal/model"
	"github.com/sells-group/jobradar/internal/reltime"
)

// ErrDuplicateURL is returned by Insert when a post with the same URL is
// already stored. Ingestion treats it as "already seen, skip", not a fault.
var ErrDuplicateURL = eris.New("store: duplicate post url")

// Store defines the persistence interface for posts and their verdicts.
type Store interface {
	// Posts
	Exists(ctx context.Context, url string) (bool, error)
	Insert(ctx context.Context, raw model.RawPost) (*model.Post, error)
	RecordAttempt(ctx context.Context, postID string, failed bool, reason string) error

	// Verdicts. SaveVerdict is append-only: saving twice for the same post
	// produces two rows; the query surface resolves to the newest one.
	SaveVerdict(ctx context.Context, v *model.Verdict) error

	// Classification reads
	Unclassified(ctx context.Context, limit int) ([]model.Post, error)
	RetryEligible(ctx context.Context, maxAttempts int, coolDown time.Duration) ([]model.Post, error)

	// Query surface
	Query(ctx context.Context, f model.Filters) ([]model.AnalyzedPost, error)
	Get(ctx context.Context, id string) (*model.AnalyzedPost, error)
	Stats(ctx context.Context) (*model.Stats, error)

	// Retention
	PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// searchMatch reports whether the post matches any of the space-separated
// terms, case-insensitively, across title, body and subreddit. An empty
// term string matches everything.
func searchMatch(p *model.Post, rawTerms string) bool {
	terms := strings.Fields(strings.ToLower(rawTerms))
	if len(terms) == 0 {
		return true
	}
	haystack := strings.ToLower(p.Title + " " + p.Body + " " + p.Subreddit)
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			return true
		}
	}
	return false
}

// filterSearch keeps only rows matching the free-text terms.
func filterSearch(rows []model.AnalyzedPost, rawTerms string) []model.AnalyzedPost {
	if strings.TrimSpace(rawTerms) == "" {
		return rows
	}
	out := rows[:0]
	for i := range rows {
		if searchMatch(&rows[i].Post, rawTerms) {
			out = append(out, rows[i])
		}
	}
	return out
}

// rankResults derives the recency rank and display string for every row
// from its relative-time phrase against the current clock, then
// stable-sorts newest first. Unparseable phrases rank 0 and sink to the
// bottom.
func rankResults(rows []model.AnalyzedPost, now time.Time) {
	for i := range rows {
		rows[i].Rank = reltime.Rank(rows[i].PostedRaw, now)
		rows[i].DisplayTime = reltime.FormatAgo(rows[i].PostedRaw, now)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Rank > rows[j].Rank
	})
}

// paginate applies offset and limit after ranking, so page boundaries
// track display order rather than storage order.
func paginate(rows []model.AnalyzedPost, offset, limit int) []model.AnalyzedPost {
	if offset >= len(rows) {
		return []model.AnalyzedPost{}
	}
	end := len(rows)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return rows[offset:end]
}

// analyzedAt joins a post with its (possibly nil) newest verdict and
// derives rank and display time against the given clock.
func analyzedAt(p *model.Post, v *model.Verdict, now time.Time) *model.AnalyzedPost {
	ap := &model.AnalyzedPost{Post: *p, Verdict: v}
	ap.Rank = reltime.Rank(p.PostedRaw, now)
	ap.DisplayTime = reltime.FormatAgo(p.PostedRaw, now)
	return ap
}
