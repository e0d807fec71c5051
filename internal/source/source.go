// Package source pulls new posts from Reddit subreddit listing feeds.
// It reads the public JSON endpoints rather than driving a browser, so
// a fetch is a single rate-limited GET per subreddit.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/sells-group/jobradar/internal/model"
	"github.com/sells-group/jobradar/internal/reltime"
	"github.com/sells-group/jobradar/internal/resilience"
)

// postURLBase is the canonical prefix for post identity URLs. It stays
// fixed even when BaseURL points at a proxy, so dedup keys are stable.
const postURLBase = "https://www.reddit.com"

const (
	defaultListingLimit = 25
	maxListingLimit     = 100
)

// Config holds source client tuning knobs.
type Config struct {
	// BaseURL is the Reddit endpoint root. Overridable for tests.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// UserAgent identifies the client. Reddit throttles generic agents
	// aggressively, so keep it descriptive.
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`

	// RequestsPerSec caps the listing request rate.
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`

	// Timeout bounds a single listing request.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// MaxRetries is the number of additional attempts on 429/5xx.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`

	// RetryBaseDelay is the backoff base between attempts; jitter scales
	// with it.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" mapstructure:"retry_base_delay"`

	// SubredditDelay is the pause between subreddits in FetchAll.
	SubredditDelay time.Duration `yaml:"subreddit_delay" mapstructure:"subreddit_delay"`
}

// DefaultConfig returns the source client defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:        postURLBase,
		UserAgent:      "jobradar/1.0 (job post radar)",
		RequestsPerSec: 1,
		Timeout:        15 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: time.Second,
		SubredditDelay: 2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.RequestsPerSec <= 0 {
		c.RequestsPerSec = def.RequestsPerSec
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = def.RetryBaseDelay
	}
	if c.SubredditDelay < 0 {
		c.SubredditDelay = 0
	}
	return c
}

// Client fetches subreddit listings with rate limiting, retry on
// transient failures, and a circuit breaker guarding the host.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	cfg     Config
}

// New creates a source client with defaults applied for unset config fields.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		cfg:     cfg,
	}
}

// listing mirrors the subset of Reddit's listing JSON that we read.
type listing struct {
	Data struct {
		Children []struct {
			Data listingPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type listingPost struct {
	Title      string  `json:"title"`
	SelfText   string  `json:"selftext"`
	Permalink  string  `json:"permalink"`
	Subreddit  string  `json:"subreddit"`
	CreatedUTC float64 `json:"created_utc"`
	Stickied   bool    `json:"stickied"`
}

// FetchNew returns the newest posts from one subreddit. Stickied posts
// and entries without a permalink are skipped. PostedRaw carries the
// relative-time phrase derived from the post's creation timestamp.
func (c *Client) FetchNew(ctx context.Context, subreddit string, limit int) ([]model.RawPost, error) {
	name := normalizeSubreddit(subreddit)
	if name == "" {
		return nil, eris.New("source: subreddit is required")
	}
	if limit <= 0 {
		limit = defaultListingLimit
	}
	if limit > maxListingLimit {
		limit = maxListingLimit
	}

	endpoint := fmt.Sprintf("%s/r/%s/new.json?limit=%d&raw_json=1",
		strings.TrimSuffix(c.cfg.BaseURL, "/"), url.PathEscape(name), limit)

	retryCfg := resilience.RetryConfig{
		MaxAttempts:    c.cfg.MaxRetries + 1,
		InitialBackoff: c.cfg.RetryBaseDelay,
		Multiplier:     2.0,
		Jitter:         c.cfg.RetryBaseDelay,
		OnRetry:        resilience.RetryLogger("reddit", "fetch listing"),
	}

	body, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, endpoint)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "source: fetch r/%s", name)
	}

	var page listing
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, eris.Wrapf(err, "source: decode r/%s listing", name)
	}

	now := time.Now()
	posts := make([]model.RawPost, 0, len(page.Data.Children))
	for _, child := range page.Data.Children {
		p := child.Data
		if p.Stickied || p.Permalink == "" {
			continue
		}
		sub := p.Subreddit
		if sub == "" {
			sub = name
		}
		posts = append(posts, model.RawPost{
			URL:       postURLBase + p.Permalink,
			Title:     cleanTitle(p.Title),
			Body:      strings.TrimSpace(p.SelfText),
			PostedRaw: reltime.FormatSince(time.Unix(int64(p.CreatedUTC), 0), now),
			Subreddit: sub,
		})
	}

	zap.L().Debug("source: fetched listing",
		zap.String("subreddit", name),
		zap.Int("posts", len(posts)),
	)
	return posts, nil
}

// get performs one rate-limited request through the circuit breaker.
// 429 and 5xx map to transient errors so the retry layer backs off;
// other non-200 statuses fail fast.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "source: rate limiter wait")
	}

	var body []byte
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return eris.Wrap(err, "source: create request")
		}
		req.Header.Set("User-Agent", c.cfg.UserAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return resilience.NewTransientError(err, 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(
				eris.Errorf("source: http %d from %s", resp.StatusCode, endpoint),
				resp.StatusCode,
			)
		}
		if resp.StatusCode != http.StatusOK {
			return eris.Errorf("source: unexpected status %d from %s", resp.StatusCode, endpoint)
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return resilience.NewTransientError(eris.Wrap(err, "source: read body"), 0)
		}
		return nil
	})
	return body, err
}

// FilterKeywords keeps posts whose title contains any of the keywords,
// case-insensitively. An empty keyword list keeps everything.
func FilterKeywords(posts []model.RawPost, keywords []string) []model.RawPost {
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			lowered = append(lowered, kw)
		}
	}
	if len(lowered) == 0 {
		return posts
	}

	out := make([]model.RawPost, 0, len(posts))
	for _, p := range posts {
		title := strings.ToLower(p.Title)
		for _, kw := range lowered {
			if strings.Contains(title, kw) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// FetchAll scans every subreddit sequentially with a fixed pause between
// them, filtering each listing by the keywords. A failing subreddit is
// logged and skipped so one bad feed cannot starve the rest. Duplicate
// subreddit names in the list are fetched once.
func (c *Client) FetchAll(ctx context.Context, subreddits, keywords []string, perSub int) []model.RawPost {
	var all []model.RawPost
	seen := make(map[string]struct{}, len(subreddits))

	for i, sub := range subreddits {
		name := normalizeSubreddit(sub)
		if name == "" {
			continue
		}
		if _, dup := seen[strings.ToLower(name)]; dup {
			continue
		}
		seen[strings.ToLower(name)] = struct{}{}

		if ctx.Err() != nil {
			break
		}

		posts, err := c.FetchNew(ctx, name, perSub)
		if err != nil {
			zap.L().Error("source: subreddit fetch failed",
				zap.String("subreddit", name),
				zap.Error(err),
			)
			continue
		}

		matched := FilterKeywords(posts, keywords)
		zap.L().Info("source: subreddit scanned",
			zap.String("subreddit", name),
			zap.Int("posts", len(posts)),
			zap.Int("matched", len(matched)),
		)
		all = append(all, matched...)

		if i < len(subreddits)-1 && c.cfg.SubredditDelay > 0 {
			timer := time.NewTimer(c.cfg.SubredditDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return all
			case <-timer.C:
			}
		}
	}

	return all
}

func normalizeSubreddit(sub string) string {
	return strings.TrimPrefix(strings.TrimSpace(sub), "r/")
}

// collapseSpace folds runs of whitespace into single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// cleanTitle collapses whitespace and normalizes to NFC so the same
// title fetched twice compares equal for keyword matching and search
// regardless of how Reddit composed its accents.
func cleanTitle(s string) string {
	return norm.NFC.String(collapseSpace(s))
}
