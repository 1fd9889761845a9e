package model

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// QuestionKind is the input type of a questionnaire item.
type QuestionKind string

const (
	KindWelcome QuestionKind = "welcome"
	KindText    QuestionKind = "text"
	KindEmail   QuestionKind = "email"
	KindChoice  QuestionKind = "choice"
	KindYesNo   QuestionKind = "yes_no"
)

// IsChoice reports whether answers to this kind select one of the question's choices.
func (k QuestionKind) IsChoice() bool {
	return k == KindChoice || k == KindYesNo
}

// Valid reports whether k is a known kind.
func (k QuestionKind) Valid() bool {
	switch k {
	case KindWelcome, KindText, KindEmail, KindChoice, KindYesNo:
		return true
	}
	return false
}

// Choice is one selectable option of a choice question.
type Choice struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
	Score int    `json:"score" yaml:"score"`
}

// Question is one item of the eligibility questionnaire.
type Question struct {
	ID       string       `json:"id" yaml:"id"`
	Kind     QuestionKind `json:"kind" yaml:"kind"`
	Title    string       `json:"title" yaml:"title"`
	Required bool         `json:"required" yaml:"required"`
	Choices  []Choice     `json:"choices,omitempty" yaml:"choices,omitempty"`
}

// Choice returns the choice with the given id.
func (q Question) Choice(id string) (Choice, bool) {
	for _, c := range q.Choices {
		if c.ID == id {
			return c, true
		}
	}
	return Choice{}, false
}

// Questionnaire is an ordered, versioned question bank.
type Questionnaire struct {
	ID        string     `json:"id" yaml:"id"`
	Version   string     `json:"version" yaml:"version"`
	Questions []Question `json:"questions" yaml:"questions"`
}

// Question returns the question with the given id.
func (q Questionnaire) Question(id string) (Question, bool) {
	for _, qq := range q.Questions {
		if qq.ID == id {
			return qq, true
		}
	}
	return Question{}, false
}

// MaxScore is the sum of the best choice per choice question. Text bonuses
// are not included.
func (q Questionnaire) MaxScore() int {
	total := 0
	for _, qq := range q.Questions {
		best := 0
		for _, c := range qq.Choices {
			if c.Score > best {
				best = c.Score
			}
		}
		total += best
	}
	return total
}

// Validate checks id uniqueness, kinds and that every choice question has choices.
func (q Questionnaire) Validate() error {
	var errs []string
	seen := make(map[string]bool, len(q.Questions))
	for i, qq := range q.Questions {
		if qq.ID == "" {
			errs = append(errs, fmt.Sprintf("question %d has no id", i))
			continue
		}
		if seen[qq.ID] {
			errs = append(errs, fmt.Sprintf("duplicate question id %q", qq.ID))
		}
		seen[qq.ID] = true
		if !qq.Kind.Valid() {
			errs = append(errs, fmt.Sprintf("question %q has unknown kind %q", qq.ID, qq.Kind))
			continue
		}
		if qq.Kind.IsChoice() && len(qq.Choices) == 0 {
			errs = append(errs, fmt.Sprintf("question %q has no choices", qq.ID))
		}
		if !qq.Kind.IsChoice() && len(qq.Choices) > 0 {
			errs = append(errs, fmt.Sprintf("question %q of kind %s cannot have choices", qq.ID, qq.Kind))
		}
		choiceIDs := make(map[string]bool, len(qq.Choices))
		for _, c := range qq.Choices {
			if choiceIDs[c.ID] {
				errs = append(errs, fmt.Sprintf("question %q has duplicate choice %q", qq.ID, c.ID))
			}
			choiceIDs[c.ID] = true
		}
	}
	if len(errs) > 0 {
		return eris.Errorf("model: invalid questionnaire: %s", strings.Join(errs, "; "))
	}
	return nil
}
