// Package registry loads the eligibility questionnaire from files or Notion.
package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/polishcitizenship/portal-core/internal/model"
)

// LoadQuestionnaireFromFile reads a questionnaire from a JSON or YAML file,
// chosen by extension, and validates it.
func LoadQuestionnaireFromFile(path string) (model.Questionnaire, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Questionnaire{}, eris.Wrap(err, "registry: read questionnaire")
	}

	var q model.Questionnaire
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &q); err != nil {
			return model.Questionnaire{}, eris.Wrap(err, "registry: unmarshal questionnaire yaml")
		}
	default:
		if err := json.Unmarshal(data, &q); err != nil {
			return model.Questionnaire{}, eris.Wrap(err, "registry: unmarshal questionnaire json")
		}
	}

	if err := q.Validate(); err != nil {
		return model.Questionnaire{}, eris.Wrapf(err, "registry: questionnaire %s", path)
	}
	return q, nil
}
