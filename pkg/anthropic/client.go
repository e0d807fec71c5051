// Package anthropic wraps the official anthropic-sdk-go behind a small
// request/response surface so the classifier can be tested without the
// SDK's union types, and so token accounting lives in one place.
package anthropic

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Client is the slice of the Anthropic API the radar needs.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// NewClient returns a Client backed by the official SDK.
func NewClient(apiKey string) Client {
	return &sdkClient{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
	}
}

// MessageRequest describes one Messages API call.
type MessageRequest struct {
	Model       string
	MaxTokens   int64
	System      []SystemBlock
	Messages    []Message
	Temperature *float64
}

// SystemBlock is one system prompt block. A non-nil CacheControl marks
// it as a prompt cache breakpoint.
type SystemBlock struct {
	Text         string
	CacheControl *CacheControl
}

// CacheControl selects the cache TTL, "5m" or "1h". Empty defers to
// the API default.
type CacheControl struct {
	TTL string
}

// Message is one turn of the conversation. Role is "user" or
// "assistant"; anything else is sent as "user".
type Message struct {
	Role    string
	Content string
}

// MessageResponse is the decoded Messages API reply.
type MessageResponse struct {
	ID           string
	Model        string
	Content      []ContentBlock
	StopReason   string
	StopSequence string
	Usage        TokenUsage
}

// ContentBlock is one block of response content.
type ContentBlock struct {
	Type string
	Text string
}

// Text concatenates the response's text blocks, skipping any other
// block type.
func (r *MessageResponse) Text() string {
	var b strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

type sdkClient struct {
	client sdk.Client
}

func (c *sdkClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  toSDKMessages(req.Messages),
	}
	if len(req.System) > 0 {
		params.System = toSDKSystemBlocks(req.System)
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: create message")
	}
	return fromSDKMessage(msg), nil
}

func toSDKMessages(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		text := sdk.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			out = append(out, sdk.NewAssistantMessage(text))
			continue
		}
		out = append(out, sdk.NewUserMessage(text))
	}
	return out
}

func toSDKSystemBlocks(blocks []SystemBlock) []sdk.TextBlockParam {
	out := make([]sdk.TextBlockParam, 0, len(blocks))
	for _, b := range blocks {
		param := sdk.TextBlockParam{Text: b.Text}
		if b.CacheControl != nil {
			param.CacheControl = sdk.NewCacheControlEphemeralParam()
			if ttl := b.CacheControl.TTL; ttl != "" {
				param.CacheControl.TTL = sdk.CacheControlEphemeralTTL(ttl)
			}
		}
		out = append(out, param)
	}
	return out
}

func fromSDKMessage(msg *sdk.Message) *MessageResponse {
	content := make([]ContentBlock, 0, len(msg.Content))
	for _, b := range msg.Content {
		content = append(content, ContentBlock{Type: b.Type, Text: b.Text})
	}
	return &MessageResponse{
		ID:           msg.ID,
		Model:        string(msg.Model),
		Content:      content,
		StopReason:   string(msg.StopReason),
		StopSequence: msg.StopSequence,
		Usage: TokenUsage{
			InputTokens:              msg.Usage.InputTokens,
			OutputTokens:             msg.Usage.OutputTokens,
			CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
		},
	}
}

// TokenUsage counts tokens for one call or, accumulated via Add, one
// run.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// Add folds another usage record into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
}

// modelRate is USD per million tokens.
type modelRate struct {
	input  float64
	output float64
}

var modelRates = map[string]modelRate{
	"claude-haiku-4-5-20251001":  {input: 0.80, output: 4.00},
	"claude-sonnet-4-5-20250929": {input: 3.00, output: 15.00},
	"claude-opus-4-6":            {input: 15.00, output: 75.00},
}

// EstimateCost prices the usage in USD. Cache writes bill at 1.25x the
// input rate and cache reads at 0.1x. Unknown models price at zero.
func (u TokenUsage) EstimateCost(model string) float64 {
	rate, ok := modelRates[model]
	if !ok {
		return 0
	}
	const mtok = 1e6
	cost := float64(u.InputTokens) / mtok * rate.input
	cost += float64(u.OutputTokens) / mtok * rate.output
	cost += float64(u.CacheCreationInputTokens) / mtok * rate.input * 1.25
	cost += float64(u.CacheReadInputTokens) / mtok * rate.input * 0.1
	return cost
}

// LogCost emits the usage and its estimated cost as one structured
// record, tagged with the phase that spent it.
func (u TokenUsage) LogCost(model, phase string) {
	zap.L().Info("cost attribution",
		zap.String("model", model),
		zap.String("phase", phase),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheCreationInputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("estimated_cost_usd", u.EstimateCost(model)),
	)
}
