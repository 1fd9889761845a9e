// Package scorer turns questionnaire submissions into eligibility results.
package scorer

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/polishcitizenship/portal-core/internal/model"
)

// Thresholds are the minimum scores for each level. Anything below Low is VERY_LOW.
type Thresholds struct {
	High   int `yaml:"high"`
	Medium int `yaml:"medium"`
	Low    int `yaml:"low"`
}

// Guidance is canned advice attached to a level or to a specific answer.
type Guidance struct {
	Recommendations []string `yaml:"recommendations"`
	Documents       []string `yaml:"documents"`
	Timeframe       string   `yaml:"timeframe,omitempty"`
}

// Policy holds every tunable of the scoring engine. Scoring never reads
// package-level state; callers pass a Policy explicitly.
type Policy struct {
	Thresholds   Thresholds `yaml:"thresholds"`
	KeywordBonus int        `yaml:"keyword_bonus"`
	// Keywords are matched against whole words of free-text and email
	// answers after case folding and diacritic stripping.
	Keywords []string                 `yaml:"keywords"`
	Levels   map[model.Level]Guidance `yaml:"levels"`
	// Answers is keyed by "questionID/choiceID". An entry applies only when
	// the answer was awarded LowScoreCutoff points or fewer.
	Answers        map[string]Guidance `yaml:"answers"`
	LowScoreCutoff int                 `yaml:"low_score_cutoff"`
}

// AnswerKey builds the Policy.Answers lookup key.
func AnswerKey(questionID, choiceID string) string {
	return questionID + "/" + choiceID
}

// DefaultPolicy returns the consultancy's current scoring policy.
func DefaultPolicy() Policy {
	return Policy{
		Thresholds: Thresholds{High: 80, Medium: 50, Low: 25},

		KeywordBonus: 5,
		Keywords: []string{
			"poland", "polish", "polska", "polski", "polskie", "polak", "polka",
			"galicia", "galicja", "krakow", "cracow", "warszawa", "warsaw",
			"lodz", "poznan", "gdansk", "wroclaw", "lublin", "lwow", "wilno",
		},

		Levels: map[model.Level]Guidance{
			model.LevelHigh: {
				Recommendations: []string{
					"Excellent eligibility! You have a strong case for Polish citizenship by descent.",
					"Begin gathering and legalizing all required documents immediately.",
					"Consider hiring a specialized attorney to expedite the process.",
				},
				Documents: []string{
					"Birth certificates of Polish ancestor (with apostille)",
					"Your complete birth certificate chain to Polish ancestor",
					"Marriage certificates (if applicable)",
					"Proof that Polish citizenship was never lost",
				},
				Timeframe: "6-18 months with proper documentation",
			},
			model.LevelMedium: {
				Recommendations: []string{
					"Good eligibility, but additional documentation will be needed.",
					"Research your Polish ancestor's citizenship history thoroughly.",
					"Consider hiring a genealogist for archival research in Poland.",
				},
				Documents: []string{
					"Complete genealogical research and documentation",
					"Polish archival records for your ancestor",
					"Evidence of unbroken citizenship chain",
					"All civil registry documents with apostilles",
				},
				Timeframe: "1-3 years including research phase",
			},
			model.LevelLow: {
				Recommendations: []string{
					"Possible eligibility, but significant research and documentation required.",
					"Extensive archival work in Poland will likely be necessary.",
					"Consider alternative EU citizenship options as backup.",
				},
				Documents: []string{
					"Comprehensive archival research in Polish state archives",
					"Church records and local registry searches",
					"Historical citizenship verification",
					"Expert legal consultation",
				},
				Timeframe: "2-5 years with extensive research",
			},
			model.LevelVeryLow: {
				Recommendations: []string{
					"Limited eligibility for Polish citizenship by descent.",
					"Explore other EU citizenship options (Ireland, Italy, Germany).",
					"Consider Polish residence and naturalization pathway.",
				},
				Documents: []string{
					"Alternative EU citizenship documentation",
					"Polish investment or residence visa requirements",
					"Complete family history verification",
				},
				Timeframe: "Re-assessment recommended; alternative pathways take 3-8 years",
			},
		},

		Answers: map[string]Guidance{
			AnswerKey("polish_ancestor", "no"): {
				Recommendations: []string{"Without Polish ancestry, consider alternative EU citizenship options."},
			},
			AnswerKey("birth_certificates", "no"): {
				Recommendations: []string{"Obtaining Polish civil registry documents will be the critical first step."},
				Documents:       []string{"Polish State Archives search for birth/marriage/death records"},
			},
			AnswerKey("marriage_certificates", "no"): {
				Documents: []string{"Marriage records for each generation between you and the ancestor"},
			},
			AnswerKey("death_certificates", "no"): {
				Documents: []string{"Death certificate of the Polish ancestor, if deceased"},
			},
			AnswerKey("citizenship_loss", "lost_before_children"): {
				Recommendations: []string{"Citizenship loss before having children typically breaks the transmission chain."},
			},
			AnswerKey("citizenship_loss", "lost_before_1920"): {
				Recommendations: []string{"Ancestors who left before 1920 may never have held Polish citizenship; a legal opinion is needed."},
			},
			AnswerKey("unbroken_chain", "no"): {
				Recommendations: []string{"A break in the citizenship chain usually rules out confirmation; review each generation with counsel."},
			},
			AnswerKey("military_service", "foreign_military"): {
				Recommendations: []string{"Foreign military service before 1951 can cause loss of citizenship; service records will be reviewed."},
				Documents:       []string{"Military service records of the Polish ancestor"},
			},
			AnswerKey("documentation_availability", "none"): {
				Recommendations: []string{"Plan for an archive research phase before any filing."},
			},
			AnswerKey("research_willingness", "no"): {
				Recommendations: []string{"Archive research can be delegated to the consultancy's research team."},
			},
		},
		LowScoreCutoff: 0,
	}
}

// ValidatePolicy checks that a Policy is internally consistent.
func ValidatePolicy(p Policy) error {
	var errs []string

	t := p.Thresholds
	if t.High <= 0 || t.High > 100 {
		errs = append(errs, "thresholds.high must be between 1 and 100")
	}
	if !(t.High > t.Medium && t.Medium > t.Low && t.Low > 0) {
		errs = append(errs, fmt.Sprintf("thresholds must be strictly descending and positive, got high=%d medium=%d low=%d", t.High, t.Medium, t.Low))
	}
	if p.KeywordBonus < 0 {
		errs = append(errs, "keyword_bonus must be >= 0")
	}
	for _, l := range model.Levels {
		if p.Levels[l].Timeframe == "" {
			errs = append(errs, fmt.Sprintf("levels.%s.timeframe is required", l))
		}
	}
	for l := range p.Levels {
		if l.Rank() < 0 {
			errs = append(errs, fmt.Sprintf("levels: unknown level %q", l))
		}
	}
	for key := range p.Answers {
		if parts := strings.SplitN(key, "/", 2); len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			errs = append(errs, fmt.Sprintf("answers: key %q must be questionID/choiceID", key))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: policy validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// LoadPolicy reads a YAML policy file. Keys missing from the file keep their
// DefaultPolicy values.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, eris.Wrapf(err, "scorer: read policy %s", path)
	}

	// The YAML has a top-level "policy" key
	wrapper := struct {
		Policy Policy `yaml:"policy"`
	}{Policy: DefaultPolicy()}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return Policy{}, eris.Wrap(err, "scorer: parse policy")
	}

	if err := ValidatePolicy(wrapper.Policy); err != nil {
		return Policy{}, err
	}
	return wrapper.Policy, nil
}
