package scorer

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polishcitizenship/portal-core/internal/model"
)

func fiveByTwenty() model.Questionnaire {
	q := model.Questionnaire{ID: "test", Version: "1"}
	for i := 1; i <= 5; i++ {
		q.Questions = append(q.Questions, model.Question{
			ID:       fmt.Sprintf("q%d", i),
			Kind:     model.KindChoice,
			Required: true,
			Choices: []model.Choice{
				{ID: "strong", Score: 20},
				{ID: "weak", Score: 5},
				{ID: "none", Score: 0},
			},
		})
	}
	return q
}

func choices(ids ...string) []model.Answer {
	out := make([]model.Answer, len(ids))
	for i, id := range ids {
		out[i] = model.Answer{QuestionID: fmt.Sprintf("q%d", i+1), Value: model.ChoiceValue{ChoiceID: id}}
	}
	return out
}

func ancestryQuestionnaire() model.Questionnaire {
	return model.Questionnaire{ID: "pct", Version: "2024.1", Questions: []model.Question{
		{ID: "welcome", Kind: model.KindWelcome},
		{ID: "full_name", Kind: model.KindText, Required: true},
		{ID: "email", Kind: model.KindEmail, Required: true},
		{ID: "ancestor_details", Kind: model.KindText},
		{ID: "polish_ancestor", Kind: model.KindChoice, Required: true, Choices: []model.Choice{
			{ID: "yes_parent", Score: 30}, {ID: "no", Score: 0}, {ID: "unsure", Score: 5},
		}},
		{ID: "birth_certificates", Kind: model.KindChoice, Required: true, Choices: []model.Choice{
			{ID: "yes_original", Score: 25}, {ID: "no", Score: 0},
		}},
		{ID: "citizenship_loss", Kind: model.KindChoice, Required: true, Choices: []model.Choice{
			{ID: "never_lost", Score: 30}, {ID: "lost_before_children", Score: 0},
		}},
		{ID: "unbroken_chain", Kind: model.KindYesNo, Required: true, Choices: []model.Choice{
			{ID: "yes", Score: 25}, {ID: "no", Score: 0}, {ID: "unsure", Score: 10},
		}},
		{ID: "military_service", Kind: model.KindChoice, Choices: []model.Choice{
			{ID: "polish_military", Score: 10}, {ID: "foreign_military", Score: -5},
		}},
	}}
}

func TestScore_AllStrongIsHigh(t *testing.T) {
	t.Parallel()

	sub := model.Submission{ID: "s1", Answers: choices("strong", "strong", "strong", "strong", "strong")}
	res, err := Score(fiveByTwenty(), sub, DefaultPolicy())
	require.NoError(t, err)

	assert.Equal(t, 100, res.Score)
	assert.Equal(t, model.LevelHigh, res.Level)
	assert.Equal(t, "s1", res.SubmissionID)
	assert.Equal(t, "6-18 months with proper documentation", res.EstimatedTimeframe)
	assert.NotEmpty(t, res.Recommendations)
	assert.NotEmpty(t, res.DocumentRequirements)
	assert.Len(t, res.Answers, 5)
}

func TestScore_MissingRequiredAnswer(t *testing.T) {
	t.Parallel()

	sub := model.Submission{ID: "s2", Answers: choices("strong", "strong", "strong", "strong")}
	_, err := Score(fiveByTwenty(), sub, DefaultPolicy())
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"q5"}, verr.Missing)
	assert.Contains(t, err.Error(), "q5")
}

func TestScore_UnknownQuestion(t *testing.T) {
	t.Parallel()

	answers := append(choices("strong", "strong", "strong", "strong", "strong"),
		model.Answer{QuestionID: "q99", Value: model.ChoiceValue{ChoiceID: "strong"}})
	_, err := Score(fiveByTwenty(), model.Submission{ID: "s", Answers: answers}, DefaultPolicy())

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"q99"}, verr.Unknown)
	assert.Empty(t, verr.Missing)
	assert.Equal(t, []string{"q99"}, verr.QuestionIDs())
}

func TestScore_KindMismatchAndDuplicate(t *testing.T) {
	t.Parallel()

	answers := choices("strong", "strong", "strong", "strong", "strong")
	answers[0].Value = model.TextValue{Text: "strong"}
	answers = append(answers, model.Answer{QuestionID: "q2", Value: model.ChoiceValue{ChoiceID: "weak"}})

	_, err := Score(fiveByTwenty(), model.Submission{ID: "s", Answers: answers}, DefaultPolicy())
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"q1"}, verr.Mismatched)
	assert.Equal(t, []string{"q2"}, verr.Duplicate)
	// A mismatched answer is not reported a second time as missing.
	assert.Empty(t, verr.Missing)
}

func TestScore_BlankRequiredTextIsMissing(t *testing.T) {
	t.Parallel()

	q := ancestryQuestionnaire()
	sub := model.Submission{ID: "s", Answers: []model.Answer{
		{QuestionID: "full_name", Value: model.TextValue{Text: "   "}},
		{QuestionID: "email", Value: model.EmailValue{Address: "a@example.com"}},
		{QuestionID: "polish_ancestor", Value: model.ChoiceValue{ChoiceID: "yes_parent"}},
		{QuestionID: "birth_certificates", Value: model.ChoiceValue{ChoiceID: "yes_original"}},
		{QuestionID: "unbroken_chain", Value: model.YesNoValue{ChoiceID: "yes"}},
	}}
	_, err := Score(q, sub, DefaultPolicy())
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"full_name", "citizenship_loss"}, verr.Missing)
}

func TestScore_UnrecognizedChoiceAwardsZero(t *testing.T) {
	t.Parallel()

	sub := model.Submission{ID: "s", Answers: choices("strong", "strong", "strong", "strong", "legacy_option")}
	res, err := Score(fiveByTwenty(), sub, DefaultPolicy())
	require.NoError(t, err)

	assert.Equal(t, 80, res.Score)
	assert.True(t, res.Answers[4].Unrecognized)
	assert.Equal(t, 0, res.Answers[4].AwardedScore)
	assert.False(t, res.Answers[0].Unrecognized)
}

func TestScore_ClampsNegativeAndOverflow(t *testing.T) {
	t.Parallel()

	q := model.Questionnaire{Questions: []model.Question{
		{ID: "bad", Kind: model.KindChoice, Required: true, Choices: []model.Choice{{ID: "x", Score: -40}, {ID: "y", Score: 500}}},
	}}

	res, err := Score(q, model.Submission{Answers: []model.Answer{{QuestionID: "bad", Value: model.ChoiceValue{ChoiceID: "x"}}}}, DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Score)
	assert.Equal(t, -40, res.RawScore)
	assert.Equal(t, model.LevelVeryLow, res.Level)

	res, err = Score(q, model.Submission{Answers: []model.Answer{{QuestionID: "bad", Value: model.ChoiceValue{ChoiceID: "y"}}}}, DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, 100, res.Score)
	assert.Equal(t, 500, res.RawScore)
}

func TestScore_KeywordBonus(t *testing.T) {
	t.Parallel()

	q := ancestryQuestionnaire()
	base := []model.Answer{
		{QuestionID: "email", Value: model.EmailValue{Address: "anna@example.com"}},
		{QuestionID: "polish_ancestor", Value: model.ChoiceValue{ChoiceID: "unsure"}},
		{QuestionID: "birth_certificates", Value: model.ChoiceValue{ChoiceID: "no"}},
		{QuestionID: "citizenship_loss", Value: model.ChoiceValue{ChoiceID: "never_lost"}},
		{QuestionID: "unbroken_chain", Value: model.YesNoValue{ChoiceID: "unsure"}},
	}

	tests := []struct {
		name    string
		details string
		bonus   bool
	}{
		{"diacritics folded", "Grandfather born in Kraków, emigrated 1921", true},
		{"stroke letter folded", "Babcia z Łodzi, później ŁÓDŹ", true},
		{"plain keyword", "my grandmother was POLISH", true},
		{"no keyword", "born in Chicago", false},
		{"substring is not a word", "polishing company owner", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			answers := append([]model.Answer{
				{QuestionID: "full_name", Value: model.TextValue{Text: "Anna Nowak"}},
				{QuestionID: "ancestor_details", Value: model.TextValue{Text: tt.details}},
			}, base...)
			res, err := Score(q, model.Submission{ID: "s", Answers: answers}, DefaultPolicy())
			require.NoError(t, err)

			var details model.ScoredAnswer
			for _, a := range res.Answers {
				if a.QuestionID == "ancestor_details" {
					details = a
				}
			}
			assert.Equal(t, tt.bonus, details.KeywordMatch)
			if tt.bonus {
				assert.Equal(t, 5, details.AwardedScore)
				assert.Equal(t, 50, res.Score)
			} else {
				assert.Equal(t, 0, details.AwardedScore)
				assert.Equal(t, 45, res.Score)
			}
		})
	}
}

func TestScore_AnswerSpecificGuidance(t *testing.T) {
	t.Parallel()

	q := ancestryQuestionnaire()
	sub := model.Submission{ID: "s", Answers: []model.Answer{
		// Deliberately out of questionnaire order.
		{QuestionID: "citizenship_loss", Value: model.ChoiceValue{ChoiceID: "lost_before_children"}},
		{QuestionID: "birth_certificates", Value: model.ChoiceValue{ChoiceID: "no"}},
		{QuestionID: "full_name", Value: model.TextValue{Text: "John Smith"}},
		{QuestionID: "email", Value: model.EmailValue{Address: "john@example.com"}},
		{QuestionID: "polish_ancestor", Value: model.ChoiceValue{ChoiceID: "no"}},
		{QuestionID: "unbroken_chain", Value: model.YesNoValue{ChoiceID: "no"}},
	}}
	res, err := Score(q, sub, DefaultPolicy())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Score)
	assert.Equal(t, model.LevelVeryLow, res.Level)

	p := DefaultPolicy()
	base := p.Levels[model.LevelVeryLow]
	require.GreaterOrEqual(t, len(res.Recommendations), len(base.Recommendations)+3)
	assert.Equal(t, base.Recommendations, res.Recommendations[:len(base.Recommendations)])

	specific := res.Recommendations[len(base.Recommendations):]
	// Questionnaire order: polish_ancestor, birth_certificates, citizenship_loss, unbroken_chain.
	assert.Equal(t, "Without Polish ancestry, consider alternative EU citizenship options.", specific[0])
	assert.Equal(t, "Obtaining Polish civil registry documents will be the critical first step.", specific[1])
	assert.Equal(t, "Citizenship loss before having children typically breaks the transmission chain.", specific[2])
	assert.Contains(t, res.DocumentRequirements, "Polish State Archives search for birth/marriage/death records")
	assert.Equal(t, base.Timeframe, res.EstimatedTimeframe)
}

func TestScore_AnswerGuidanceOnlyForLowScores(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.Answers = map[string]Guidance{
		AnswerKey("q1", "strong"): {Recommendations: []string{"strong advice"}},
		AnswerKey("q2", "weak"):   {Recommendations: []string{"weak advice"}},
		AnswerKey("q3", "none"):   {Recommendations: []string{"none advice"}},
	}
	sub := model.Submission{Answers: choices("strong", "weak", "none", "strong", "strong")}

	res, err := Score(fiveByTwenty(), sub, p)
	require.NoError(t, err)
	assert.NotContains(t, res.Recommendations, "strong advice")
	assert.NotContains(t, res.Recommendations, "weak advice")
	assert.Contains(t, res.Recommendations, "none advice")

	p.LowScoreCutoff = 5
	res, err = Score(fiveByTwenty(), sub, p)
	require.NoError(t, err)
	assert.NotContains(t, res.Recommendations, "strong advice")
	assert.Contains(t, res.Recommendations, "weak advice")
	assert.Contains(t, res.Recommendations, "none advice")
}

func TestScore_GuidanceIsDeduplicated(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.Answers = map[string]Guidance{
		AnswerKey("q1", "none"): {Recommendations: []string{"Same advice"}},
		AnswerKey("q2", "none"): {Recommendations: []string{"Same advice"}},
	}
	res, err := Score(fiveByTwenty(), model.Submission{Answers: choices("none", "none", "none", "none", "none")}, p)
	require.NoError(t, err)

	count := 0
	for _, r := range res.Recommendations {
		if r == "Same advice" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestScore_Deterministic(t *testing.T) {
	t.Parallel()

	sub := model.Submission{ID: "s", Answers: choices("strong", "weak", "none", "weak", "strong")}
	first, err := Score(fiveByTwenty(), sub, DefaultPolicy())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Score(fiveByTwenty(), sub, DefaultPolicy())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestScore_AnswerOrderIrrelevant(t *testing.T) {
	t.Parallel()

	sub := model.Submission{ID: "s", Answers: choices("strong", "weak", "none", "weak", "strong")}
	reversed := sub
	reversed.Answers = make([]model.Answer, len(sub.Answers))
	for i, a := range sub.Answers {
		reversed.Answers[len(sub.Answers)-1-i] = a
	}

	a, err := Score(fiveByTwenty(), sub, DefaultPolicy())
	require.NoError(t, err)
	b, err := Score(fiveByTwenty(), reversed, DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestScore_Monotonic(t *testing.T) {
	t.Parallel()

	ladder := []string{"none", "weak", "strong"}
	q := fiveByTwenty()
	// Raising any single answer never lowers score or level.
	for a := 0; a < 3; a++ {
		for b := 0; b < 3; b++ {
			ids := []string{ladder[a], ladder[b], "weak", "none", "strong"}
			low, err := Score(q, model.Submission{Answers: choices(ids...)}, DefaultPolicy())
			require.NoError(t, err)
			for up := a + 1; up < 3; up++ {
				raised := append([]string(nil), ids...)
				raised[0] = ladder[up]
				high, err := Score(q, model.Submission{Answers: choices(raised...)}, DefaultPolicy())
				require.NoError(t, err)
				assert.GreaterOrEqual(t, high.Score, low.Score)
				assert.GreaterOrEqual(t, high.Level.Rank(), low.Level.Rank())
			}
		}
	}
}

func TestLevelFor(t *testing.T) {
	t.Parallel()

	th := DefaultPolicy().Thresholds
	tests := []struct {
		score int
		want  model.Level
	}{
		{100, model.LevelHigh},
		{80, model.LevelHigh},
		{79, model.LevelMedium},
		{50, model.LevelMedium},
		{49, model.LevelLow},
		{25, model.LevelLow},
		{24, model.LevelVeryLow},
		{0, model.LevelVeryLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFor(tt.score, th), "score %d", tt.score)
	}

	prev := -1
	for s := 0; s <= 100; s++ {
		r := LevelFor(s, th).Rank()
		assert.GreaterOrEqual(t, r, prev)
		prev = r
	}
}

func TestFoldText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "krakow", foldText("Kraków"))
	assert.Equal(t, "lodz", foldText("Łódź"))
	assert.Equal(t, "gdansk", foldText("GDAŃSK"))
	assert.True(t, newKeywordSet([]string{"Wrocław"}).matches("born near wroclaw, 1931"))
	assert.False(t, newKeywordSet(nil).matches("poland"))
}
