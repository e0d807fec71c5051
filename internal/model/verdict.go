package model

import "time"

// JobType categorizes the engagement a post offers.
type JobType string

const (
	JobTypeFullTime    JobType = "full_time"
	JobTypePartTime    JobType = "part_time"
	JobTypeContract    JobType = "contract"
	JobTypeFreelance   JobType = "freelance"
	JobTypeInternship  JobType = "internship"
	JobTypeUnspecified JobType = "unspecified"
)

// AllJobTypes returns all defined job types.
func AllJobTypes() []JobType {
	return []JobType{
		JobTypeFullTime,
		JobTypePartTime,
		JobTypeContract,
		JobTypeFreelance,
		JobTypeInternship,
		JobTypeUnspecified,
	}
}

// ValidJobType reports whether jt is a member of the closed vocabulary.
func ValidJobType(jt JobType) bool {
	for _, t := range AllJobTypes() {
		if t == jt {
			return true
		}
	}
	return false
}

// ExperienceLevel tiers the seniority a post targets.
type ExperienceLevel string

const (
	ExperienceEntry       ExperienceLevel = "entry"
	ExperienceMid         ExperienceLevel = "mid"
	ExperienceSenior      ExperienceLevel = "senior"
	ExperienceLead        ExperienceLevel = "lead"
	ExperienceUnspecified ExperienceLevel = "unspecified"
)

// AllExperienceLevels returns all defined experience levels.
func AllExperienceLevels() []ExperienceLevel {
	return []ExperienceLevel{
		ExperienceEntry,
		ExperienceMid,
		ExperienceSenior,
		ExperienceLead,
		ExperienceUnspecified,
	}
}

// ValidExperienceLevel reports whether el is a member of the closed vocabulary.
func ValidExperienceLevel(el ExperienceLevel) bool {
	for _, l := range AllExperienceLevels() {
		if l == el {
			return true
		}
	}
	return false
}

// RedFlag is a concern code from the fixed closed vocabulary.
type RedFlag string

const (
	RedFlagNoCompensation      RedFlag = "no_compensation_mentioned"
	RedFlagVagueDescription    RedFlag = "vague_job_description"
	RedFlagUnrealisticRequires RedFlag = "unrealistic_requirements"
	RedFlagPossibleScam        RedFlag = "possible_scam"
	RedFlagNotActuallyHiring   RedFlag = "not_actually_hiring"
	RedFlagMultilevelMarketing RedFlag = "multilevel_marketing"
	RedFlagUnpaidWork          RedFlag = "unpaid_work"
	RedFlagPoorCommunication   RedFlag = "poor_communication"
)

// AllRedFlags returns the full closed red-flag vocabulary.
func AllRedFlags() []RedFlag {
	return []RedFlag{
		RedFlagNoCompensation,
		RedFlagVagueDescription,
		RedFlagUnrealisticRequires,
		RedFlagPossibleScam,
		RedFlagNotActuallyHiring,
		RedFlagMultilevelMarketing,
		RedFlagUnpaidWork,
		RedFlagPoorCommunication,
	}
}

// ValidRedFlag reports whether rf is a member of the closed vocabulary.
func ValidRedFlag(rf RedFlag) bool {
	for _, f := range AllRedFlags() {
		if f == rf {
			return true
		}
	}
	return false
}

// Verdict field bounds. Highlights and the recommendation are truncated
// to these caps at validation time; blank highlights are dropped.
const (
	MaxHighlights        = 5
	MaxHighlightLen      = 100
	MaxRecommendationLen = 500
)

// Verdict is the structured classification of one post. Verdicts are
// append-only: a re-classification produces a new row, never an update.
type Verdict struct {
	ID                    string          `json:"id"`
	PostID                string          `json:"post_id"`
	WorthChecking         bool            `json:"worth_checking"`
	Confidence            float64         `json:"confidence_score"`
	JobType               JobType         `json:"job_type"`
	CompensationMentioned bool            `json:"compensation_mentioned"`
	RemoteFriendly        bool            `json:"remote_friendly"`
	ExperienceLevel       ExperienceLevel `json:"experience_level"`
	RedFlags              []RedFlag       `json:"red_flags"`
	KeyHighlights         []string        `json:"key_highlights"`
	Recommendation        string          `json:"recommendation"`
	Model                 string          `json:"model_used"`
	AnalyzedAt            time.Time       `json:"analyzed_at"`
}
