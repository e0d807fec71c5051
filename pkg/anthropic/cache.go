package anthropic

// BuildCachedSystemBlocks wraps text in a single system block marked as
// a 1-hour cache breakpoint. The classification prompt is identical for
// every post in a run, so each request after the first reads it from
// the prompt cache instead of paying the full input rate.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	block := SystemBlock{
		Text:         text,
		CacheControl: &CacheControl{TTL: "1h"},
	}
	return []SystemBlock{block}
}
