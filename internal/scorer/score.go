package scorer

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/polishcitizenship/portal-core/internal/model"
)

// ValidationError lists everything wrong with a submission. Score returns it
// instead of a partial result.
type ValidationError struct {
	SubmissionID string
	// Missing are required questions without an answer, in questionnaire order.
	Missing []string
	// Unknown are answered question ids the questionnaire does not define.
	Unknown []string
	// Mismatched are answers whose kind differs from the question's kind.
	Mismatched []string
	// Duplicate are questions answered more than once.
	Duplicate []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required answers: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown questions: "+strings.Join(e.Unknown, ", "))
	}
	if len(e.Mismatched) > 0 {
		parts = append(parts, "answer kind mismatch: "+strings.Join(e.Mismatched, ", "))
	}
	if len(e.Duplicate) > 0 {
		parts = append(parts, "duplicate answers: "+strings.Join(e.Duplicate, ", "))
	}
	return fmt.Sprintf("scorer: invalid submission %s: %s", e.SubmissionID, strings.Join(parts, "; "))
}

// QuestionIDs returns every offending question id.
func (e *ValidationError) QuestionIDs() []string {
	var ids []string
	ids = append(ids, e.Missing...)
	ids = append(ids, e.Unknown...)
	ids = append(ids, e.Mismatched...)
	ids = append(ids, e.Duplicate...)
	return ids
}

func (e *ValidationError) empty() bool {
	return len(e.Missing)+len(e.Unknown)+len(e.Mismatched)+len(e.Duplicate) == 0
}

// LevelFor maps a clamped score to its level.
func LevelFor(score int, t Thresholds) model.Level {
	switch {
	case score >= t.High:
		return model.LevelHigh
	case score >= t.Medium:
		return model.LevelMedium
	case score >= t.Low:
		return model.LevelLow
	default:
		return model.LevelVeryLow
	}
}

// Score classifies a submission against a questionnaire. It is pure: the
// same inputs always produce the same result.
func Score(q model.Questionnaire, s model.Submission, p Policy) (model.EligibilityResult, error) {
	byQuestion, verr := validate(q, s)
	if verr != nil {
		return model.EligibilityResult{}, verr
	}

	keywords := newKeywordSet(p.Keywords)
	result := model.EligibilityResult{
		SubmissionID:         s.ID,
		QuestionnaireVersion: q.Version,
		Answers:              make([]model.ScoredAnswer, 0, len(byQuestion)),
	}

	var recs, docs orderedSet
	var specific []Guidance

	// Walk in questionnaire order so answer order never changes the output.
	for _, question := range q.Questions {
		answer, ok := byQuestion[question.ID]
		if !ok {
			continue
		}
		scored := scoreAnswer(question, answer, keywords, p.KeywordBonus)
		if scored.Unrecognized {
			zap.L().Warn("scorer: unrecognized choice",
				zap.String("submission_id", s.ID),
				zap.String("question_id", question.ID),
				zap.String("choice_id", scored.ChoiceID),
			)
		}
		result.RawScore += scored.AwardedScore
		result.Answers = append(result.Answers, scored)

		if scored.ChoiceID != "" && scored.AwardedScore <= p.LowScoreCutoff {
			if g, ok := p.Answers[AnswerKey(question.ID, scored.ChoiceID)]; ok {
				specific = append(specific, g)
			}
		}
	}

	result.Score = clamp(result.RawScore, 0, 100)
	result.Level = LevelFor(result.Score, p.Thresholds)

	base := p.Levels[result.Level]
	recs.add(base.Recommendations...)
	docs.add(base.Documents...)
	for _, g := range specific {
		recs.add(g.Recommendations...)
		docs.add(g.Documents...)
	}
	result.Recommendations = recs.items()
	result.DocumentRequirements = docs.items()
	result.EstimatedTimeframe = base.Timeframe

	return result, nil
}

func validate(q model.Questionnaire, s model.Submission) (map[string]model.Answer, *ValidationError) {
	verr := &ValidationError{SubmissionID: s.ID}
	byQuestion := make(map[string]model.Answer, len(s.Answers))

	for _, a := range s.Answers {
		question, ok := q.Question(a.QuestionID)
		if !ok {
			verr.Unknown = append(verr.Unknown, a.QuestionID)
			continue
		}
		if _, dup := byQuestion[a.QuestionID]; dup {
			verr.Duplicate = append(verr.Duplicate, a.QuestionID)
			continue
		}
		if a.Value == nil || a.Value.Kind() != question.Kind {
			verr.Mismatched = append(verr.Mismatched, a.QuestionID)
			continue
		}
		byQuestion[a.QuestionID] = a
	}

	for _, question := range q.Questions {
		if !question.Required || question.Kind == model.KindWelcome {
			continue
		}
		a, ok := byQuestion[question.ID]
		if !ok {
			if !contains(verr.Mismatched, question.ID) {
				verr.Missing = append(verr.Missing, question.ID)
			}
			continue
		}
		if isBlank(a.Value) {
			verr.Missing = append(verr.Missing, question.ID)
		}
	}

	if verr.empty() {
		return byQuestion, nil
	}
	return nil, verr
}

func scoreAnswer(q model.Question, a model.Answer, keywords keywordSet, bonus int) model.ScoredAnswer {
	out := model.ScoredAnswer{QuestionID: q.ID}
	switch v := a.Value.(type) {
	case model.ChoiceValue:
		out.ChoiceID = v.ChoiceID
		out.AwardedScore, out.Unrecognized = choiceScore(q, v.ChoiceID)
	case model.YesNoValue:
		out.ChoiceID = v.ChoiceID
		out.AwardedScore, out.Unrecognized = choiceScore(q, v.ChoiceID)
	case model.TextValue:
		if keywords.matches(v.Text) {
			out.AwardedScore, out.KeywordMatch = bonus, true
		}
	case model.EmailValue:
		if keywords.matches(v.Address) {
			out.AwardedScore, out.KeywordMatch = bonus, true
		}
	}
	return out
}

// choiceScore returns the choice's score, or 0 and true when the id is unknown.
func choiceScore(q model.Question, choiceID string) (int, bool) {
	if choiceID == "" {
		return 0, false
	}
	c, ok := q.Choice(choiceID)
	if !ok {
		return 0, true
	}
	return c.Score, false
}

func isBlank(v model.AnswerValue) bool {
	switch v := v.(type) {
	case model.TextValue:
		return strings.TrimSpace(v.Text) == ""
	case model.EmailValue:
		return strings.TrimSpace(v.Address) == ""
	case model.ChoiceValue:
		return v.ChoiceID == ""
	case model.YesNoValue:
		return v.ChoiceID == ""
	}
	return true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// orderedSet keeps first-seen order and drops duplicates.
type orderedSet struct {
	seen  map[string]bool
	order []string
}

func (o *orderedSet) add(items ...string) {
	if o.seen == nil {
		o.seen = make(map[string]bool)
	}
	for _, it := range items {
		if it == "" || o.seen[it] {
			continue
		}
		o.seen[it] = true
		o.order = append(o.order, it)
	}
}

func (o *orderedSet) items() []string {
	if o.order == nil {
		return []string{}
	}
	return o.order
}
