package scorer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polishcitizenship/portal-core/internal/model"
)

func TestDefaultPolicyValid(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidatePolicy(DefaultPolicy()))
}

func TestValidatePolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(p *Policy)
		wantErr string
	}{
		{"thresholds not descending", func(p *Policy) { p.Thresholds = Thresholds{High: 50, Medium: 60, Low: 25} }, "strictly descending"},
		{"high above 100", func(p *Policy) { p.Thresholds.High = 120 }, "thresholds.high"},
		{"zero low", func(p *Policy) { p.Thresholds.Low = 0 }, "strictly descending"},
		{"negative bonus", func(p *Policy) { p.KeywordBonus = -1 }, "keyword_bonus"},
		{"missing timeframe", func(p *Policy) {
			g := p.Levels[model.LevelLow]
			g.Timeframe = ""
			p.Levels[model.LevelLow] = g
		}, "levels.LOW.timeframe"},
		{"unknown level", func(p *Policy) { p.Levels["ULTRA"] = Guidance{Timeframe: "x"} }, `unknown level "ULTRA"`},
		{"bad answer key", func(p *Policy) { p.Answers["polish_ancestor"] = Guidance{} }, "questionID/choiceID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := DefaultPolicy()
			tt.mutate(&p)
			err := ValidatePolicy(p)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadPolicy(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	yaml := `
policy:
  thresholds:
    high: 75
    medium: 50
    low: 25
  keyword_bonus: 10
  low_score_cutoff: 5
  answers:
    timeline_preference/asap:
      recommendations:
        - "Expedited processing is available for VIP clients."
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 75, p.Thresholds.High)
	assert.Equal(t, 10, p.KeywordBonus)
	assert.Equal(t, 5, p.LowScoreCutoff)
	// Unset keys keep their defaults.
	assert.NotEmpty(t, p.Keywords)
	assert.Equal(t, "6-18 months with proper documentation", p.Levels[model.LevelHigh].Timeframe)
	assert.Contains(t, p.Answers, AnswerKey("timeline_preference", "asap"))
	assert.Equal(t, model.LevelHigh, LevelFor(76, p.Thresholds))
}

func TestLoadPolicy_Invalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("policy:\n  thresholds:\n    high: 10\n    medium: 50\n    low: 25\n"), 0644))

	_, err := LoadPolicy(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy validation failed")

	_, err = LoadPolicy(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scorer: read policy")
}
