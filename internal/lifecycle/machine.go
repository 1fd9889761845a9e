package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/polishcitizenship/portal-core/internal/model"
)

// Guard names reported by TransitionDenied.
const (
	GuardDocumentReceived = "document_received"
	GuardDraftingRatio    = "drafting_ratio"
	GuardCivilStatus      = "civil_status_complete"
	GuardMilestonesPaid   = "milestones_paid"
	GuardSubmit           = "submit"
	GuardDecision         = "record_decision"
	GuardState            = "state"
)

// TransitionDenied is returned when an operation needs a transition whose
// guard is not met. Nothing is persisted; the caller may retry once the
// condition holds.
type TransitionDenied struct {
	CaseID    string
	Operation string
	From      model.State
	To        model.State
	Guard     string
	Reason    string
}

func (e *TransitionDenied) Error() string {
	return fmt.Sprintf("lifecycle: %s denied for case %s (%s -> %s): %s", e.Operation, e.CaseID, e.From, e.To, e.Reason)
}

type guardFunc func(cfg Config, c *model.Case) (bool, string)

type transition struct {
	from, to  model.State
	guard     string
	automatic bool
	check     guardFunc
}

// transitions is the complete state graph. Each state has at most one
// outgoing edge, so there are no skips, no cycles and no backward moves.
var transitions = []transition{
	{model.StateIntake, model.StateUSCInFlight, GuardDocumentReceived, true, documentReceived},
	{model.StateUSCInFlight, model.StateOBYDrafting, GuardDraftingRatio, true, draftingRatio},
	{model.StateOBYDrafting, model.StateUSCReady, GuardCivilStatus, true, civilStatusComplete},
	{model.StateUSCReady, model.StateOBYSubmittable, GuardMilestonesPaid, true, milestonesPaid},
	{model.StateOBYSubmittable, model.StateOBYSubmitted, GuardSubmit, false, manual("awaiting submission")},
	{model.StateOBYSubmitted, model.StateDecisionReceived, GuardDecision, false, manual("awaiting decision from authorities")},
}

func transitionFrom(s model.State) (transition, bool) {
	for _, t := range transitions {
		if t.from == s {
			return t, true
		}
	}
	return transition{}, false
}

func documentReceived(_ Config, c *model.Case) (bool, string) {
	if c.Documents.Received >= 1 {
		return true, ""
	}
	return false, fmt.Sprintf("requires at least 1 received document, found %d", c.Documents.Received)
}

func draftingRatio(cfg Config, c *model.Case) (bool, string) {
	d := c.Documents
	if d.Expected > 0 && float64(d.Received)/float64(d.Expected) >= cfg.DraftingRatio {
		return true, ""
	}
	return false, fmt.Sprintf("requires %.0f%% of %d expected documents, found %d received",
		cfg.DraftingRatio*100, d.Expected, d.Received)
}

func civilStatusComplete(cfg Config, c *model.Case) (bool, string) {
	missing := missingCivilStatus(cfg, c)
	if len(missing) == 0 {
		return true, ""
	}
	return false, "missing civil-status documents: " + strings.Join(missing, ", ")
}

func missingCivilStatus(cfg Config, c *model.Case) []string {
	var missing []string
	for _, kind := range cfg.CivilStatusChecklist {
		if !c.Documents.HasCivilStatus(kind) {
			missing = append(missing, kind)
		}
	}
	return missing
}

func milestonesPaid(cfg Config, c *model.Case) (bool, string) {
	need := cfg.RequiredPaidMilestones
	prefix := c.PaidPrefix()
	if prefix >= need {
		return true, ""
	}
	reason := fmt.Sprintf("requires %d paid milestones, found %d", need, prefix)
	if c.PaidCount() > prefix {
		reason += fmt.Sprintf("; %s is unpaid", c.Payments[prefix].Label)
	}
	return false, reason
}

func manual(reason string) guardFunc {
	return func(Config, *model.Case) (bool, string) { return false, reason }
}

// advance applies automatic transitions while their guards hold and returns
// every state change made. Because guards depend only on accumulated
// counts, the resulting state does not depend on the order of updates.
func advance(cfg Config, c *model.Case, trigger string, now time.Time) []model.StateChange {
	var changes []model.StateChange
	for {
		t, ok := transitionFrom(c.State)
		if !ok || !t.automatic {
			return changes
		}
		if ok, _ := t.check(cfg, c); !ok {
			return changes
		}
		changes = append(changes, move(c, t.to, trigger, now))
	}
}

func move(c *model.Case, to model.State, trigger string, now time.Time) model.StateChange {
	ch := model.StateChange{From: c.State, To: to, Trigger: trigger, At: now}
	c.History = append(c.History, ch)
	c.State = to
	return ch
}

// GuardStatus describes the outgoing transition of a case's current state.
type GuardStatus struct {
	To        model.State `json:"to"`
	Guard     string      `json:"guard"`
	Automatic bool        `json:"automatic"`
	Satisfied bool        `json:"satisfied"`
	Reason    string      `json:"reason,omitempty"`
}

// PendingGuard reports what the case is waiting for. Terminal cases have none.
func PendingGuard(cfg Config, c *model.Case) *GuardStatus {
	t, ok := transitionFrom(c.State)
	if !ok {
		return nil
	}
	satisfied, reason := t.check(cfg, c)
	return &GuardStatus{
		To:        t.to,
		Guard:     t.guard,
		Automatic: t.automatic,
		Satisfied: satisfied,
		Reason:    reason,
	}
}
