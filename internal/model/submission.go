package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Submission is one completed questionnaire. It is immutable once scored.
type Submission struct {
	ID          string    `json:"id"`
	FullName    string    `json:"full_name"`
	Email       string    `json:"email"`
	Answers     []Answer  `json:"answers"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Level is the coarse eligibility classification.
type Level string

const (
	LevelHigh    Level = "HIGH"
	LevelMedium  Level = "MEDIUM"
	LevelLow     Level = "LOW"
	LevelVeryLow Level = "VERY_LOW"
)

// Levels lists every level from best to worst.
var Levels = []Level{LevelHigh, LevelMedium, LevelLow, LevelVeryLow}

var levelRank = map[Level]int{
	LevelVeryLow: 0,
	LevelLow:     1,
	LevelMedium:  2,
	LevelHigh:    3,
}

// Rank orders levels; a higher rank is a better level. Unknown levels rank -1.
func (l Level) Rank() int {
	r, ok := levelRank[l]
	if !ok {
		return -1
	}
	return r
}

// AtLeast reports whether l is the same as or better than other.
func (l Level) AtLeast(other Level) bool {
	return l.Rank() >= other.Rank() && l.Rank() >= 0
}

// ParseLevel validates a level name.
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if l.Rank() < 0 {
		return "", eris.Errorf("model: unknown eligibility level %q", s)
	}
	return l, nil
}

// ScoredAnswer records the points awarded for one answer.
type ScoredAnswer struct {
	QuestionID   string `json:"question_id"`
	ChoiceID     string `json:"choice_id,omitempty"`
	AwardedScore int    `json:"awarded_score"`
	// Unrecognized marks a choice id the question does not define.
	Unrecognized bool `json:"unrecognized,omitempty"`
	// KeywordMatch marks a free-text answer that earned the keyword bonus.
	KeywordMatch bool `json:"keyword_match,omitempty"`
}

// EligibilityResult is the outcome of scoring a submission.
type EligibilityResult struct {
	SubmissionID         string         `json:"submission_id"`
	Score                int            `json:"score"`
	RawScore             int            `json:"raw_score"`
	Level                Level          `json:"level"`
	Recommendations      []string       `json:"recommendations"`
	DocumentRequirements []string       `json:"document_requirements"`
	EstimatedTimeframe   string         `json:"estimated_timeframe"`
	Answers              []ScoredAnswer `json:"answers"`
	QuestionnaireVersion string         `json:"questionnaire_version,omitempty"`
}
