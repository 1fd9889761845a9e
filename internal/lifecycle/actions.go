package lifecycle

import "github.com/polishcitizenship/portal-core/internal/model"

// Action names accepted by the API and CLI.
const (
	ActionRecordDocument = "record_document"
	ActionRecordPayment  = "record_payment"
	ActionSubmit         = "submit"
	ActionRecordDecision = "record_decision"
	ActionExport         = "export"
)

// CaseView is a case with what the UI needs to render its progress.
type CaseView struct {
	Case         *model.Case  `json:"case"`
	Stage        StageInfo    `json:"stage"`
	NextActions  []string     `json:"next_actions"`
	PendingGuard *GuardStatus `json:"pending_guard,omitempty"`
}

// NextActions lists the operations that can currently move c forward or
// update it. Export is always available.
func NextActions(cfg Config, c *model.Case) []string {
	var out []string
	if c.State.Terminal() {
		return []string{ActionExport}
	}
	if c.Documents.Received < c.Documents.Expected || len(missingCivilStatus(cfg, c)) > 0 {
		out = append(out, ActionRecordDocument)
	}
	if c.PaidCount() < model.MilestoneCount {
		out = append(out, ActionRecordPayment)
	}
	switch c.State {
	case model.StateOBYSubmittable:
		out = append(out, ActionSubmit)
	case model.StateOBYSubmitted:
		out = append(out, ActionRecordDecision)
	}
	return append(out, ActionExport)
}

// Describe builds the CaseView of c.
func Describe(cfg Config, c *model.Case) CaseView {
	return CaseView{
		Case:         c,
		Stage:        Stage(c.State),
		NextActions:  NextActions(cfg, c),
		PendingGuard: PendingGuard(cfg, c),
	}
}
