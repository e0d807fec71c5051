package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/jobradar/internal/model"
	"github.com/sells-group/jobradar/internal/resilience"
	"github.com/sells-group/jobradar/pkg/anthropic"
)

// Config holds classifier tuning knobs.
type Config struct {
	// Model is the Anthropic model ID used for classification.
	Model string `yaml:"model" mapstructure:"model"`

	// MaxTokens bounds the response length.
	MaxTokens int64 `yaml:"max_tokens" mapstructure:"max_tokens"`

	// Temperature keeps output deterministic. Zero is valid.
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`

	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`

	// BaseDelay is the backoff base: retry N sleeps BaseDelay * 2^(N-1)
	// plus jitter.
	BaseDelay time.Duration `yaml:"base_delay" mapstructure:"base_delay"`

	// Jitter adds a uniform random delay in [0, Jitter) to each backoff.
	Jitter time.Duration `yaml:"jitter" mapstructure:"jitter"`

	// MaxBodyChars truncates the post body in the prompt, bounding cost.
	MaxBodyChars int `yaml:"max_body_chars" mapstructure:"max_body_chars"`
}

// DefaultConfig returns the classifier defaults.
func DefaultConfig() Config {
	return Config{
		Model:        "claude-haiku-4-5-20251001",
		MaxTokens:    800,
		Temperature:  0.1,
		MaxRetries:   3,
		BaseDelay:    time.Second,
		Jitter:       time.Second,
		MaxBodyChars: 3000,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Model == "" {
		c.Model = def.Model
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = def.MaxTokens
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.MaxBodyChars <= 0 {
		c.MaxBodyChars = def.MaxBodyChars
	}
	return c
}

// Analyzer classifies posts against the external model. It is safe for
// concurrent use; a single Analyzer is shared by all batch workers.
type Analyzer struct {
	client anthropic.Client
	cfg    Config

	mu    sync.Mutex
	usage anthropic.TokenUsage
}

// New creates an Analyzer with defaults applied for unset config fields.
func New(client anthropic.Client, cfg Config) *Analyzer {
	return &Analyzer{client: client, cfg: cfg.withDefaults()}
}

// Classify analyzes a single post and returns a validated verdict.
// Malformed responses, schema violations, and transport errors are all
// retried with exponential backoff; after the retry budget the last
// error is returned wrapped with KindExhausted.
func (a *Analyzer) Classify(ctx context.Context, post model.Post) (*model.Verdict, error) {
	retryCfg := resilience.RetryConfig{
		MaxAttempts:    a.cfg.MaxRetries + 1,
		InitialBackoff: a.cfg.BaseDelay,
		Multiplier:     2.0,
		Jitter:         a.cfg.Jitter,
		ShouldRetry: func(err error) bool {
			k := KindOf(err)
			return k == KindValidation || k == KindTransient
		},
		OnRetry: resilience.RetryLogger("anthropic", "classify"),
	}

	v, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*model.Verdict, error) {
		return a.classifyOnce(ctx, post)
	})
	if err != nil {
		return nil, &Error{Kind: KindExhausted, Op: "classify " + post.ID, Err: err}
	}
	return v, nil
}

// TakeUsage returns the tokens consumed since the last call and resets
// the counter. The pipeline drains it once per phase for cost logging.
func (a *Analyzer) TakeUsage() anthropic.TokenUsage {
	a.mu.Lock()
	defer a.mu.Unlock()
	u := a.usage
	a.usage = anthropic.TokenUsage{}
	return u
}

// Model returns the configured model ID.
func (a *Analyzer) Model() string {
	return a.cfg.Model
}

func (a *Analyzer) classifyOnce(ctx context.Context, post model.Post) (*model.Verdict, error) {
	resp, err := a.client.CreateMessage(ctx, a.buildRequest(post))
	if err != nil {
		return nil, transientError("create message", err)
	}

	a.mu.Lock()
	a.usage.Add(resp.Usage)
	a.mu.Unlock()

	modelID := resp.Model
	if modelID == "" {
		modelID = a.cfg.Model
	}
	return parseVerdict(resp.Text(), post.ID, modelID)
}

func (a *Analyzer) buildRequest(post model.Post) anthropic.MessageRequest {
	body := post.Body
	if body == "" {
		body = "No description available"
	}
	if len(body) > a.cfg.MaxBodyChars {
		body = body[:a.cfg.MaxBodyChars]
	}

	prompt := fmt.Sprintf(userPromptTemplate,
		post.Title, post.Subreddit, post.PostedRaw, post.URL, body)

	temp := a.cfg.Temperature
	return anthropic.MessageRequest{
		Model:       a.cfg.Model,
		MaxTokens:   a.cfg.MaxTokens,
		System:      anthropic.BuildCachedSystemBlocks(systemPrompt),
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	}
}

// wireVerdict is the JSON shape the model is instructed to produce.
type wireVerdict struct {
	WorthChecking         bool     `json:"worth_checking"`
	ConfidenceScore       float64  `json:"confidence_score"`
	JobType               string   `json:"job_type"`
	CompensationMentioned bool     `json:"compensation_mentioned"`
	RemoteFriendly        bool     `json:"remote_friendly"`
	ExperienceLevel       string   `json:"experience_level"`
	RedFlags              []string `json:"red_flags"`
	KeyHighlights         []string `json:"key_highlights"`
	Recommendation        string   `json:"recommendation"`
}

// parseVerdict extracts and validates a verdict from raw response text.
// Every failure here is KindValidation.
func parseVerdict(text, postID, modelID string) (*model.Verdict, error) {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return nil, validationError("parse response", eris.New("empty response body"))
	}

	var w wireVerdict
	if err := json.Unmarshal([]byte(cleaned), &w); err != nil {
		return nil, validationError("parse response", eris.Wrap(err, "invalid json"))
	}

	if w.ConfidenceScore < 0 || w.ConfidenceScore > 100 {
		return nil, validationError("validate verdict",
			eris.Errorf("confidence_score %.1f out of range [0,100]", w.ConfidenceScore))
	}

	jobType := model.JobTypeUnspecified
	if w.JobType != "" {
		jobType = model.JobType(w.JobType)
		if !model.ValidJobType(jobType) {
			return nil, validationError("validate verdict",
				eris.Errorf("unknown job_type %q", w.JobType))
		}
	}

	expLevel := model.ExperienceUnspecified
	if w.ExperienceLevel != "" {
		expLevel = model.ExperienceLevel(w.ExperienceLevel)
		if !model.ValidExperienceLevel(expLevel) {
			return nil, validationError("validate verdict",
				eris.Errorf("unknown experience_level %q", w.ExperienceLevel))
		}
	}

	flags := make([]model.RedFlag, 0, len(w.RedFlags))
	for _, f := range w.RedFlags {
		rf := model.RedFlag(f)
		if !model.ValidRedFlag(rf) {
			return nil, validationError("validate verdict",
				eris.Errorf("unknown red flag %q", f))
		}
		flags = append(flags, rf)
	}

	if len(w.KeyHighlights) > model.MaxHighlights {
		return nil, validationError("validate verdict",
			eris.Errorf("%d key_highlights exceeds limit of %d", len(w.KeyHighlights), model.MaxHighlights))
	}
	highlights := make([]string, 0, len(w.KeyHighlights))
	for _, h := range w.KeyHighlights {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if len(h) > model.MaxHighlightLen {
			h = h[:model.MaxHighlightLen]
		}
		highlights = append(highlights, h)
	}

	if len(w.Recommendation) > model.MaxRecommendationLen {
		return nil, validationError("validate verdict",
			eris.Errorf("recommendation length %d exceeds limit of %d", len(w.Recommendation), model.MaxRecommendationLen))
	}

	return &model.Verdict{
		PostID:                postID,
		WorthChecking:         w.WorthChecking,
		Confidence:            w.ConfidenceScore,
		JobType:               jobType,
		CompensationMentioned: w.CompensationMentioned,
		RemoteFriendly:        w.RemoteFriendly,
		ExperienceLevel:       expLevel,
		RedFlags:              flags,
		KeyHighlights:         highlights,
		Recommendation:        strings.TrimSpace(w.Recommendation),
		Model:                 modelID,
	}, nil
}

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
