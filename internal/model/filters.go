package model

// Filter bounds for the query surface.
const (
	DefaultHoursBack = 24
	MaxHoursBack     = 8760
	DefaultLimit     = 50
	MaxLimit         = 1000
)

// Filters narrows a verdict query. Zero values mean "no filter" except
// HoursBack and Limit, which fall back to their defaults.
type Filters struct {
	HoursBack         int             `json:"hours_back"`
	WorthCheckingOnly bool            `json:"worth_checking_only"`
	MinConfidence     float64         `json:"min_confidence"`
	RemoteOnly        bool            `json:"remote_only"`
	CompensationOnly  bool            `json:"compensation_mentioned_only"`
	ExperienceLevel   ExperienceLevel `json:"experience_level,omitempty"`
	JobType           JobType         `json:"job_type,omitempty"`
	SearchTerms       string          `json:"search_terms,omitempty"`
	Limit             int             `json:"limit"`
	Offset            int             `json:"offset"`
}

// Normalize clamps filter values into their allowed ranges and applies
// defaults for unset window and page size.
func (f Filters) Normalize() Filters {
	if f.HoursBack <= 0 {
		f.HoursBack = DefaultHoursBack
	}
	if f.HoursBack > MaxHoursBack {
		f.HoursBack = MaxHoursBack
	}
	if f.MinConfidence < 0 {
		f.MinConfidence = 0
	}
	if f.MinConfidence > 100 {
		f.MinConfidence = 100
	}
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Stats summarizes the stored corpus for dashboards and the CLI.
type Stats struct {
	TotalPosts        int     `json:"total_posts"`
	AnalyzedPosts     int     `json:"analyzed_posts"`
	WorthChecking     int     `json:"worth_checking"`
	PostsLast24h      int     `json:"posts_last_24h"`
	FailedAnalysis    int     `json:"failed_analysis"`
	AnalysisRate      float64 `json:"analysis_rate"`
	WorthCheckingRate float64 `json:"worth_checking_rate"`
}
