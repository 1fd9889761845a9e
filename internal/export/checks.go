package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/polishcitizenship/portal-core/internal/model"
)

// Rule ids of the pre-filing checks.
const (
	RulePassport          = "DOC.PASSPORT.REQUIRED"
	RuleLineageProof      = "LINEAGE.POLISH.PROOF"
	RuleStateValid        = "CASE.STATE.VALID"
	RuleClientData        = "CLIENT.DATA.COMPLETE"
	RuleSurnameConsistent = "IDENTITY.NAMES.CONSISTENCY"
	RuleTimeline          = "PROCESSING.TIMELINE"
)

type check struct {
	rule     string
	severity model.Severity
	message  string
	passes   func(g Generator, c *model.Case) bool
}

// checks run in this order; blockers first.
var checks = []check{
	{
		rule:     RulePassport,
		severity: model.SeverityBlocker,
		message:  "No valid passport document found in case files",
		passes: func(_ Generator, c *model.Case) bool {
			return c.Documents.HasCivilStatus(DocPassport)
		},
	},
	{
		rule:     RuleLineageProof,
		severity: model.SeverityBlocker,
		message:  "Polish birth certificate or lineage proof missing",
		passes: func(_ Generator, c *model.Case) bool {
			return c.Documents.HasCivilStatus(DocLineageProof)
		},
	},
	{
		rule:     RuleStateValid,
		severity: model.SeverityBlocker,
		message:  "Case is not in a submittable state",
		passes: func(_ Generator, c *model.Case) bool {
			return c.State.Ordinal() >= model.StateOBYSubmittable.Ordinal()
		},
	},
	{
		rule:     RuleClientData,
		severity: model.SeverityWarning,
		message:  "Client information is incomplete or invalid",
		passes: func(_ Generator, c *model.Case) bool {
			name := strings.TrimSpace(c.Client.GivenNames + " " + c.Client.Surname)
			email := strings.TrimSpace(c.Client.Email)
			return len([]rune(name)) >= 3 && strings.Contains(email, "@")
		},
	},
	{
		rule:     RuleSurnameConsistent,
		severity: model.SeverityWarning,
		message:  "Surname mismatch between birth and current documents; a marriage certificate or name change record is required",
		passes: func(_ Generator, c *model.Case) bool {
			birth := strings.TrimSpace(c.Client.BirthSurname)
			return birth == "" || strings.EqualFold(birth, strings.TrimSpace(c.Client.Surname)) ||
				c.Documents.HasCivilStatus("marriage_certificate") || c.Documents.HasCivilStatus("name_change_record")
		},
	},
	{
		rule:     RuleTimeline,
		severity: model.SeverityWarning,
		passes: func(g Generator, c *model.Case) bool {
			return processingAge(c) <= time.Duration(g.TimelineLimitDays)*24*time.Hour
		},
	},
}

// processingAge is measured from opening to the last recorded activity on
// the case, so the result depends on case data only.
func processingAge(c *model.Case) time.Duration {
	if c.CreatedAt.IsZero() {
		return 0
	}
	last := c.UpdatedAt
	for _, h := range c.History {
		if h.At.After(last) {
			last = h.At
		}
	}
	if c.Decision != nil && c.Decision.RecordedAt.After(last) {
		last = c.Decision.RecordedAt
	}
	if last.Before(c.CreatedAt) {
		return 0
	}
	return last.Sub(c.CreatedAt)
}

func (g Generator) runChecks(c *model.Case) []model.CheckResult {
	out := make([]model.CheckResult, 0, len(checks))
	for _, ch := range checks {
		r := model.CheckResult{Rule: ch.rule, Severity: ch.severity, Passed: ch.passes(g, c)}
		if !r.Passed {
			r.Message = ch.message
			if ch.rule == RuleTimeline {
				r.Message = fmt.Sprintf("Case has been in process for more than %d days", g.TimelineLimitDays)
			}
		}
		out = append(out, r)
	}
	return out
}
