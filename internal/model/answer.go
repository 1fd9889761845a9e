package model

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// AnswerValue is the typed payload of an Answer. The set of implementations
// is closed: TextValue, EmailValue, ChoiceValue and YesNoValue.
type AnswerValue interface {
	Kind() QuestionKind
	answerValue()
}

// TextValue is a free-text answer.
type TextValue struct{ Text string }

// EmailValue is an email answer.
type EmailValue struct{ Address string }

// ChoiceValue selects one choice of a single-choice question.
type ChoiceValue struct{ ChoiceID string }

// YesNoValue selects one choice of a yes/no question (yes, no, unsure).
type YesNoValue struct{ ChoiceID string }

func (TextValue) Kind() QuestionKind   { return KindText }
func (EmailValue) Kind() QuestionKind  { return KindEmail }
func (ChoiceValue) Kind() QuestionKind { return KindChoice }
func (YesNoValue) Kind() QuestionKind  { return KindYesNo }

func (TextValue) answerValue()   {}
func (EmailValue) answerValue()  {}
func (ChoiceValue) answerValue() {}
func (YesNoValue) answerValue()  {}

// Answer is one respondent's response to one question.
type Answer struct {
	QuestionID string
	Value      AnswerValue
}

type answerJSON struct {
	QuestionID string       `json:"question_id"`
	Kind       QuestionKind `json:"kind"`
	Text       string       `json:"text,omitempty"`
	ChoiceID   string       `json:"choice_id,omitempty"`
}

// MarshalJSON encodes the answer with its kind tag.
func (a Answer) MarshalJSON() ([]byte, error) {
	out := answerJSON{QuestionID: a.QuestionID}
	switch v := a.Value.(type) {
	case TextValue:
		out.Kind, out.Text = KindText, v.Text
	case EmailValue:
		out.Kind, out.Text = KindEmail, v.Address
	case ChoiceValue:
		out.Kind, out.ChoiceID = KindChoice, v.ChoiceID
	case YesNoValue:
		out.Kind, out.ChoiceID = KindYesNo, v.ChoiceID
	case nil:
		return nil, eris.Errorf("model: answer %q has no value", a.QuestionID)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes an answer using its kind tag to select the value type.
func (a *Answer) UnmarshalJSON(data []byte) error {
	var in answerJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return eris.Wrap(err, "model: decode answer")
	}
	a.QuestionID = in.QuestionID
	switch in.Kind {
	case KindText:
		a.Value = TextValue{Text: in.Text}
	case KindEmail:
		a.Value = EmailValue{Address: in.Text}
	case KindChoice:
		a.Value = ChoiceValue{ChoiceID: in.ChoiceID}
	case KindYesNo:
		a.Value = YesNoValue{ChoiceID: in.ChoiceID}
	default:
		return eris.Errorf("model: answer %q has unknown kind %q", in.QuestionID, in.Kind)
	}
	return nil
}
