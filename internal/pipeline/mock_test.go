package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sells-group/jobradar/internal/model"
	"github.com/sells-group/jobradar/internal/store"
	"github.com/sells-group/jobradar/pkg/anthropic"
)

// --- Store Fake ---

type attemptCall struct {
	postID string
	failed bool
	reason string
}

// memStore is an in-memory Store with the same eligibility semantics as
// the SQL implementations, plus per-key error injection.
type memStore struct {
	mu       sync.Mutex
	nextID   int
	posts    map[string]*model.Post
	idByURL  map[string]string
	verdicts map[string][]*model.Verdict

	attemptLog []attemptCall

	existsErr        map[string]error // keyed by URL
	insertErr        map[string]error // keyed by URL
	saveVerdictErr   map[string]error // keyed by post ID
	recordAttemptErr map[string]error // keyed by post ID
	unclassifiedErr  error
	retryEligibleErr error
	forceNotExists   bool
}

func newMemStore() *memStore {
	return &memStore{
		posts:    make(map[string]*model.Post),
		idByURL:  make(map[string]string),
		verdicts: make(map[string][]*model.Verdict),
	}
}

// seed inserts a post directly, bypassing validation, and returns it.
func (m *memStore) seed(url, title string, attempts int, lastAttempt *time.Time, failed bool) *model.Post {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	p := &model.Post{
		ID:            fmt.Sprintf("post-%d", m.nextID),
		URL:           url,
		Title:         title,
		PostedRaw:     "2 hr. ago",
		Subreddit:     "forhire",
		IngestedAt:    time.Now().UTC(),
		Attempts:      attempts,
		LastAttemptAt: lastAttempt,
		Failed:        failed,
	}
	m.posts[p.ID] = p
	m.idByURL[url] = p.ID
	return p
}

func (m *memStore) Exists(ctx context.Context, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.existsErr[url]; err != nil {
		return false, err
	}
	if m.forceNotExists {
		return false, nil
	}
	_, ok := m.idByURL[url]
	return ok, nil
}

func (m *memStore) Insert(ctx context.Context, raw model.RawPost) (*model.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.insertErr[raw.URL]; err != nil {
		return nil, err
	}
	if _, ok := m.idByURL[raw.URL]; ok {
		return nil, store.ErrDuplicateURL
	}

	m.nextID++
	p := &model.Post{
		ID:         fmt.Sprintf("post-%d", m.nextID),
		URL:        raw.URL,
		Title:      raw.Title,
		Body:       raw.Body,
		PostedRaw:  raw.PostedRaw,
		Subreddit:  raw.Subreddit,
		IngestedAt: time.Now().UTC(),
	}
	m.posts[p.ID] = p
	m.idByURL[p.URL] = p.ID

	cp := *p
	return &cp, nil
}

func (m *memStore) RecordAttempt(ctx context.Context, postID string, failed bool, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.recordAttemptErr[postID]; err != nil {
		return err
	}
	p, ok := m.posts[postID]
	if !ok {
		return fmt.Errorf("memstore: unknown post %s", postID)
	}

	now := time.Now().UTC()
	p.Attempts++
	p.LastAttemptAt = &now
	p.Failed = failed
	p.FailureReason = reason
	m.attemptLog = append(m.attemptLog, attemptCall{postID: postID, failed: failed, reason: reason})
	return nil
}

func (m *memStore) SaveVerdict(ctx context.Context, v *model.Verdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.saveVerdictErr[v.PostID]; err != nil {
		return err
	}

	cp := *v
	cp.ID = fmt.Sprintf("verdict-%d", len(m.verdicts[v.PostID])+1)
	cp.AnalyzedAt = time.Now().UTC()
	m.verdicts[v.PostID] = append(m.verdicts[v.PostID], &cp)
	return nil
}

func (m *memStore) Unclassified(ctx context.Context, limit int) ([]model.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unclassifiedErr != nil {
		return nil, m.unclassifiedErr
	}

	var out []model.Post
	for _, p := range m.posts {
		if len(m.verdicts[p.ID]) == 0 && !p.Failed {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].IngestedAt.After(out[j].IngestedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) RetryEligible(ctx context.Context, maxAttempts int, coolDown time.Duration) ([]model.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.retryEligibleErr != nil {
		return nil, m.retryEligibleErr
	}

	cutoff := time.Now().UTC().Add(-coolDown)
	var out []model.Post
	for _, p := range m.posts {
		if len(m.verdicts[p.ID]) > 0 || p.Attempts >= maxAttempts {
			continue
		}
		if p.LastAttemptAt == nil || !p.LastAttemptAt.Before(cutoff) {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Attempts != out[j].Attempts {
			return out[i].Attempts < out[j].Attempts
		}
		return out[i].LastAttemptAt.Before(*out[j].LastAttemptAt)
	})
	return out, nil
}

func (m *memStore) Query(ctx context.Context, f model.Filters) ([]model.AnalyzedPost, error) {
	return nil, nil
}

func (m *memStore) Get(ctx context.Context, id string) (*model.AnalyzedPost, error) {
	return nil, nil
}

func (m *memStore) Stats(ctx context.Context) (*model.Stats, error) {
	return &model.Stats{}, nil
}

func (m *memStore) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	return 0, nil
}

func (m *memStore) Migrate(ctx context.Context) error { return nil }

func (m *memStore) Close() error { return nil }

func (m *memStore) post(id string) *model.Post {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (m *memStore) postByURL(url string) *model.Post {
	m.mu.Lock()
	id, ok := m.idByURL[url]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.post(id)
}

func (m *memStore) verdictCount(postID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.verdicts[postID])
}

func (m *memStore) postCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posts)
}

func (m *memStore) attempts() []attemptCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]attemptCall, len(m.attemptLog))
	copy(out, m.attemptLog)
	return out
}

func (m *memStore) attemptsFor(postID string) []attemptCall {
	var out []attemptCall
	for _, a := range m.attempts() {
		if a.postID == postID {
			out = append(out, a)
		}
	}
	return out
}

// --- Classifier Stub ---

// stubAnalyzer scripts Classify per post and tracks call counts.
type stubAnalyzer struct {
	mu        sync.Mutex
	calls     map[string]int
	takeCalls int
	usage     anthropic.TokenUsage
	classify  func(post model.Post) (*model.Verdict, error)
}

func newStubAnalyzer(fn func(post model.Post) (*model.Verdict, error)) *stubAnalyzer {
	return &stubAnalyzer{calls: make(map[string]int), classify: fn}
}

func (s *stubAnalyzer) Classify(ctx context.Context, post model.Post) (*model.Verdict, error) {
	s.mu.Lock()
	s.calls[post.ID]++
	s.usage.Add(anthropic.TokenUsage{InputTokens: 100, OutputTokens: 25})
	s.mu.Unlock()
	return s.classify(post)
}

func (s *stubAnalyzer) TakeUsage() anthropic.TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.takeCalls++
	u := s.usage
	s.usage = anthropic.TokenUsage{}
	return u
}

func (s *stubAnalyzer) Model() string { return "test-model" }

func (s *stubAnalyzer) callsFor(postID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[postID]
}

func (s *stubAnalyzer) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *stubAnalyzer) callCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.calls))
	for id, c := range s.calls {
		out[id] = c
	}
	return out
}

func (s *stubAnalyzer) takeUsageCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.takeCalls
}

func okVerdict(postID string) *model.Verdict {
	return &model.Verdict{
		PostID:          postID,
		WorthChecking:   true,
		Confidence:      80,
		JobType:         model.JobTypeContract,
		RemoteFriendly:  true,
		ExperienceLevel: model.ExperienceMid,
		KeyHighlights:   []string{"Budget stated up front"},
		Recommendation:  "Worth a closer look.",
		Model:           "test-model",
	}
}
