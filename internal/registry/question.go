package registry

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/polishcitizenship/portal-core/internal/model"
	"github.com/polishcitizenship/portal-core/pkg/notion"
)

// LoadQuestionnaireFromNotion builds a questionnaire from the active pages
// of a Notion question database. Each page is one question:
//
//	Question (title)     question title
//	Key (rich_text)      stable question id
//	Kind (select)        welcome, text, email, choice or yes_no
//	Required (checkbox)
//	Order (number)       position in the questionnaire
//	Choices (rich_text)  one "id | label | score" per line
//	Status (status)      only "Active" pages are loaded
func LoadQuestionnaireFromNotion(ctx context.Context, client notion.Client, dbID, version string) (model.Questionnaire, error) {
	pages, err := notion.QueryByStatus(ctx, client, dbID, "Active")
	if err != nil {
		return model.Questionnaire{}, eris.Wrap(err, "registry: load questionnaire")
	}

	type ordered struct {
		order float64
		q     model.Question
	}
	var items []ordered
	for _, p := range pages {
		q, order, err := parseQuestionPage(p)
		if err != nil {
			zap.L().Warn("registry: skipping malformed question page",
				zap.String("page_id", string(p.ID)),
				zap.Error(err),
			)
			continue
		}
		items = append(items, ordered{order: order, q: q})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].order < items[j].order })

	qn := model.Questionnaire{ID: dbID, Version: version}
	for _, it := range items {
		qn.Questions = append(qn.Questions, it.q)
	}
	if err := qn.Validate(); err != nil {
		return model.Questionnaire{}, eris.Wrap(err, "registry: notion questionnaire")
	}
	return qn, nil
}

func parseQuestionPage(p notionapi.Page) (model.Question, float64, error) {
	var q model.Question
	var order float64

	// Question (title)
	if prop, ok := p.Properties["Question"]; ok {
		if tp, ok := prop.(*notionapi.TitleProperty); ok {
			q.Title = plainText(tp.Title)
		}
	}

	// Key (rich_text)
	if prop, ok := p.Properties["Key"]; ok {
		if rtp, ok := prop.(*notionapi.RichTextProperty); ok {
			q.ID = strings.TrimSpace(plainText(rtp.RichText))
		}
	}

	// Kind (select)
	if prop, ok := p.Properties["Kind"]; ok {
		if sp, ok := prop.(*notionapi.SelectProperty); ok {
			q.Kind = model.QuestionKind(sp.Select.Name)
		}
	}

	// Required (checkbox)
	if prop, ok := p.Properties["Required"]; ok {
		if cp, ok := prop.(*notionapi.CheckboxProperty); ok {
			q.Required = cp.Checkbox
		}
	}

	// Order (number)
	if prop, ok := p.Properties["Order"]; ok {
		if np, ok := prop.(*notionapi.NumberProperty); ok {
			order = np.Number
		}
	}

	// Choices (rich_text)
	if prop, ok := p.Properties["Choices"]; ok {
		if rtp, ok := prop.(*notionapi.RichTextProperty); ok {
			choices, err := parseChoices(plainText(rtp.RichText))
			if err != nil {
				return q, 0, err
			}
			q.Choices = choices
		}
	}

	if q.ID == "" {
		return q, 0, eris.New("missing Key property")
	}
	if !q.Kind.Valid() {
		return q, 0, eris.Errorf("unknown Kind %q", q.Kind)
	}
	return q, order, nil
}

// parseChoices reads "id | label | score" lines. Blank lines are ignored.
func parseChoices(s string) ([]model.Choice, error) {
	var out []model.Choice
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) != 3 {
			return nil, eris.Errorf("choice line %q must be id | label | score", line)
		}
		score, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, eris.Wrapf(err, "choice line %q has a non-integer score", line)
		}
		out = append(out, model.Choice{
			ID:    strings.TrimSpace(parts[0]),
			Label: strings.TrimSpace(parts[1]),
			Score: score,
		})
	}
	return out, nil
}

// plainText concatenates the plain_text values from a slice of RichText.
func plainText(rts []notionapi.RichText) string {
	var s string
	for _, rt := range rts {
		s += rt.PlainText
	}
	return s
}
