// Package lifecycle owns the case state machine: guards, automatic
// advancement, manual submit/decision and payment milestone tracking.
package lifecycle

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/polishcitizenship/portal-core/internal/config"
	"github.com/polishcitizenship/portal-core/internal/model"
)

// Config holds the guard parameters of the state machine.
type Config struct {
	DefaultExpectedDocuments int
	// DraftingRatio is the received/expected fraction needed to start drafting.
	DraftingRatio float64
	// RequiredPaidMilestones is how many leading milestones must be paid
	// before the application becomes submittable.
	RequiredPaidMilestones int
	// CivilStatusChecklist lists the document kinds that must be received
	// before the civil-registry stage is ready.
	CivilStatusChecklist []string
	SweepConcurrency     int
}

// DefaultConfig returns the guard parameters used by the consultancy.
func DefaultConfig() Config {
	return Config{
		DefaultExpectedDocuments: 12,
		DraftingRatio:            0.5,
		RequiredPaidMilestones:   3,
		CivilStatusChecklist: []string{
			"applicant_birth_certificate",
			"parent_birth_certificate",
			"parents_marriage_certificate",
			"ancestor_birth_certificate",
		},
		SweepConcurrency: 8,
	}
}

// FromConfig maps the application config section, keeping defaults for unset values.
func FromConfig(c config.LifecycleConfig) Config {
	out := DefaultConfig()
	if c.DefaultExpectedDocuments > 0 {
		out.DefaultExpectedDocuments = c.DefaultExpectedDocuments
	}
	if c.DraftingRatio > 0 {
		out.DraftingRatio = c.DraftingRatio
	}
	if c.RequiredPaidMilestones > 0 {
		out.RequiredPaidMilestones = c.RequiredPaidMilestones
	}
	if len(c.CivilStatusChecklist) > 0 {
		out.CivilStatusChecklist = append([]string(nil), c.CivilStatusChecklist...)
	}
	if c.SweepConcurrency > 0 {
		out.SweepConcurrency = c.SweepConcurrency
	}
	return out
}

// ValidateConfig checks that a Config is internally consistent.
func ValidateConfig(c Config) error {
	var errs []string

	if c.DefaultExpectedDocuments < 1 {
		errs = append(errs, "default_expected_documents must be >= 1")
	}
	if c.DraftingRatio <= 0 || c.DraftingRatio > 1 {
		errs = append(errs, fmt.Sprintf("drafting_ratio must be in (0, 1], got %.2f", c.DraftingRatio))
	}
	if c.RequiredPaidMilestones < 0 || c.RequiredPaidMilestones > model.MilestoneCount {
		errs = append(errs, fmt.Sprintf("required_paid_milestones must be between 0 and %d", model.MilestoneCount))
	}
	seen := make(map[string]bool, len(c.CivilStatusChecklist))
	for _, k := range c.CivilStatusChecklist {
		if strings.TrimSpace(k) == "" {
			errs = append(errs, "civil_status_checklist contains an empty kind")
		}
		if seen[k] {
			errs = append(errs, fmt.Sprintf("civil_status_checklist lists %q twice", k))
		}
		seen[k] = true
	}
	if c.SweepConcurrency < 1 {
		errs = append(errs, "sweep_concurrency must be >= 1")
	}

	if len(errs) > 0 {
		return eris.Errorf("lifecycle: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
