package registry

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/polishcitizenship/portal-core/internal/model"
)

func init() {
	// Replace global logger with no-op for tests (suppress warning output).
	zap.ReplaceGlobals(zap.NewNop())
}

func makeQuestionPage(id, key, title, kind string, required bool, order float64, choices string) notionapi.Page {
	props := make(notionapi.Properties)

	props["Question"] = &notionapi.TitleProperty{
		Type:  notionapi.PropertyTypeTitle,
		Title: []notionapi.RichText{{PlainText: title}},
	}
	props["Key"] = &notionapi.RichTextProperty{
		Type:     notionapi.PropertyTypeRichText,
		RichText: []notionapi.RichText{{PlainText: key}},
	}
	props["Kind"] = &notionapi.SelectProperty{
		Type:   notionapi.PropertyTypeSelect,
		Select: notionapi.Option{Name: kind},
	}
	props["Required"] = &notionapi.CheckboxProperty{
		Type:     notionapi.PropertyTypeCheckbox,
		Checkbox: required,
	}
	props["Order"] = &notionapi.NumberProperty{
		Type:   notionapi.PropertyTypeNumber,
		Number: order,
	}
	if choices != "" {
		props["Choices"] = &notionapi.RichTextProperty{
			Type:     notionapi.PropertyTypeRichText,
			RichText: []notionapi.RichText{{PlainText: choices}},
		}
	}
	props["Status"] = &notionapi.StatusProperty{
		Type:   notionapi.PropertyTypeStatus,
		Status: notionapi.Status{Name: "Active"},
	}

	return notionapi.Page{
		ID:         notionapi.ObjectID(id),
		Properties: props,
	}
}

func TestLoadQuestionnaireFromNotion_Success(t *testing.T) {
	mc := new(mockNotionClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "q-db", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{
				makeQuestionPage("p2", "polish_ancestor", "Do you have any Polish ancestors?", "choice", true, 2,
					"yes_parent | Yes, at least one parent | 30\n\nno | No Polish ancestors | 0"),
				makeQuestionPage("p1", "full_name", "What is your full name?", "text", true, 1, ""),
			},
			HasMore: false,
		}, nil).Once()

	q, err := LoadQuestionnaireFromNotion(ctx, mc, "q-db", "notion-1")
	require.NoError(t, err)
	require.Len(t, q.Questions, 2)

	assert.Equal(t, "notion-1", q.Version)
	assert.Equal(t, "full_name", q.Questions[0].ID)
	assert.Equal(t, model.KindText, q.Questions[0].Kind)
	assert.True(t, q.Questions[0].Required)

	ancestor := q.Questions[1]
	assert.Equal(t, "Do you have any Polish ancestors?", ancestor.Title)
	assert.Equal(t, []model.Choice{
		{ID: "yes_parent", Label: "Yes, at least one parent", Score: 30},
		{ID: "no", Label: "No Polish ancestors", Score: 0},
	}, ancestor.Choices)
	mc.AssertExpectations(t)
}

func TestLoadQuestionnaireFromNotion_MalformedPage(t *testing.T) {
	mc := new(mockNotionClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "q-db", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{
				makeQuestionPage("p1", "full_name", "Name", "text", true, 1, ""),
				makeQuestionPage("p2", "", "No key", "text", true, 2, ""),
				makeQuestionPage("p3", "slider", "Bad kind", "slider", true, 3, ""),
				makeQuestionPage("p4", "broken", "Bad score", "choice", true, 4, "a | A | many"),
			},
			HasMore: false,
		}, nil).Once()

	q, err := LoadQuestionnaireFromNotion(ctx, mc, "q-db", "v")
	require.NoError(t, err) // malformed pages are warnings, not errors
	require.Len(t, q.Questions, 1)
	assert.Equal(t, "full_name", q.Questions[0].ID)
	mc.AssertExpectations(t)
}

func TestLoadQuestionnaireFromNotion_InvalidQuestionnaire(t *testing.T) {
	mc := new(mockNotionClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "q-db", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{
				makeQuestionPage("p1", "ancestor", "Ancestor?", "choice", true, 1, ""),
			},
		}, nil).Once()

	_, err := LoadQuestionnaireFromNotion(ctx, mc, "q-db", "v")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no choices")
}

func TestLoadQuestionnaireFromNotion_QueryError(t *testing.T) {
	mc := new(mockNotionClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "q-db", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(nil, assert.AnError).Once()

	_, err := LoadQuestionnaireFromNotion(ctx, mc, "q-db", "v")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry: load questionnaire")
	mc.AssertExpectations(t)
}

func TestParseChoices(t *testing.T) {
	choices, err := parseChoices(" yes | Yes | 25 \nunsure|Not sure|10\n")
	require.NoError(t, err)
	assert.Equal(t, []model.Choice{{ID: "yes", Label: "Yes", Score: 25}, {ID: "unsure", Label: "Not sure", Score: 10}}, choices)

	_, err = parseChoices("only | two")
	assert.Error(t, err)
}
