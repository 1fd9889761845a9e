package model

import (
	"sort"
	"time"

	"github.com/rotisserie/eris"
)

// State is a stage of the case lifecycle.
type State string

const (
	StateIntake           State = "INTAKE"
	StateUSCInFlight      State = "USC_IN_FLIGHT"
	StateOBYDrafting      State = "OBY_DRAFTING"
	StateUSCReady         State = "USC_READY"
	StateOBYSubmittable   State = "OBY_SUBMITTABLE"
	StateOBYSubmitted     State = "OBY_SUBMITTED"
	StateDecisionReceived State = "DECISION_RECEIVED"
)

// States lists every state in lifecycle order.
var States = []State{
	StateIntake,
	StateUSCInFlight,
	StateOBYDrafting,
	StateUSCReady,
	StateOBYSubmittable,
	StateOBYSubmitted,
	StateDecisionReceived,
}

// Ordinal is the position of s in the lifecycle, or -1 if unknown.
func (s State) Ordinal() int {
	for i, st := range States {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the state that follows s. Terminal and unknown states have none.
func (s State) Next() (State, bool) {
	i := s.Ordinal()
	if i < 0 || i == len(States)-1 {
		return "", false
	}
	return States[i+1], true
}

// Terminal reports whether s is the final state.
func (s State) Terminal() bool { return s == StateDecisionReceived }

// ParseState validates a state name.
func ParseState(v string) (State, error) {
	s := State(v)
	if s.Ordinal() < 0 {
		return "", eris.Errorf("model: unknown case state %q", v)
	}
	return s, nil
}

// Tier is the processing speed purchased by the client.
type Tier string

const (
	TierStandard  Tier = "standard"
	TierExpedited Tier = "expedited"
	TierVIP       Tier = "vip"
	TierVIPPlus   Tier = "vip+"
)

// ParseTier validates a tier name. Empty means standard.
func ParseTier(v string) (Tier, error) {
	switch Tier(v) {
	case "":
		return TierStandard, nil
	case TierStandard, TierExpedited, TierVIP, TierVIPPlus:
		return Tier(v), nil
	}
	return "", eris.Errorf("model: unknown processing tier %q", v)
}

// PaymentStatus is the status of one payment milestone.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentOverdue PaymentStatus = "overdue"
)

// MilestoneCount is the fixed number of payment milestones on every case.
const MilestoneCount = 12

// Currency of all milestone amounts.
const Currency = "EUR"

// MilestoneLabels names the payment milestones in order.
var MilestoneLabels = [MilestoneCount]string{
	"Advance Payment",
	"POAs Signed Payment",
	"Application Filed Payment",
	"PUSH Scheme Payment",
	"NUDGE Scheme Payment",
	"SIT-DOWN Scheme Payment",
	"Translation Payment",
	"Archive Research Payment",
	"USC Acts Payment",
	"OBY Filing Payment",
	"VIP Upgrade Payment",
	"Finalization Payment",
}

// PaymentMilestone is one fixed payment slot.
type PaymentMilestone struct {
	Label   string        `json:"label"`
	Status  PaymentStatus `json:"status"`
	Amount  *float64      `json:"amount,omitempty"`
	DueDate *time.Time    `json:"due_date,omitempty"`
	PaidAt  *time.Time    `json:"paid_at,omitempty"`
}

// NewPayments returns the 12 pending milestones of a new case.
func NewPayments() [MilestoneCount]PaymentMilestone {
	var p [MilestoneCount]PaymentMilestone
	for i, label := range MilestoneLabels {
		p[i] = PaymentMilestone{Label: label, Status: PaymentPending}
	}
	return p
}

// Documents tracks document collection for a case.
type Documents struct {
	Received int `json:"received"`
	Expected int `json:"expected"`
	// CivilStatus holds the received civil-status document kinds, sorted.
	CivilStatus []string `json:"civil_status"`
}

// HasCivilStatus reports whether kind has been received.
func (d Documents) HasCivilStatus(kind string) bool {
	i := sort.SearchStrings(d.CivilStatus, kind)
	return i < len(d.CivilStatus) && d.CivilStatus[i] == kind
}

// AddCivilStatus records kinds, keeping the set sorted and unique.
func (d *Documents) AddCivilStatus(kinds ...string) {
	for _, k := range kinds {
		if k == "" || d.HasCivilStatus(k) {
			continue
		}
		d.CivilStatus = append(d.CivilStatus, k)
		sort.Strings(d.CivilStatus)
	}
}

// Address is a postal address.
type Address struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Client holds the applicant details denormalized onto the case.
type Client struct {
	GivenNames       string  `json:"given_names,omitempty"`
	Surname          string  `json:"surname,omitempty"`
	BirthSurname     string  `json:"birth_surname,omitempty"`
	Sex              string  `json:"sex,omitempty"`
	DateOfBirth      string  `json:"date_of_birth,omitempty"`
	PlaceOfBirth     string  `json:"place_of_birth,omitempty"`
	Nationality      string  `json:"nationality,omitempty"`
	PassportNumber   string  `json:"passport_number,omitempty"`
	MaritalStatus    string  `json:"marital_status,omitempty"`
	Profession       string  `json:"profession,omitempty"`
	Email            string  `json:"email,omitempty"`
	Phone            string  `json:"phone,omitempty"`
	PreferredContact string  `json:"preferred_contact,omitempty"`
	Address          Address `json:"address"`
}

// Relation is a family member's relationship to the applicant.
type Relation string

const (
	RelationParent           Relation = "parent"
	RelationGrandparent      Relation = "grandparent"
	RelationGreatGrandparent Relation = "great_grandparent"
)

// FamilyMember is one ancestor in the applicant's line.
type FamilyMember struct {
	Relation     Relation `json:"relation"`
	GivenNames   string   `json:"given_names,omitempty"`
	Surname      string   `json:"surname,omitempty"`
	MaidenName   string   `json:"maiden_name,omitempty"`
	DateOfBirth  string   `json:"date_of_birth,omitempty"`
	PlaceOfBirth string   `json:"place_of_birth,omitempty"`
	Nationality  string   `json:"nationality,omitempty"`
	BirthCertNo  string   `json:"birth_cert_no,omitempty"`
	Polish       bool     `json:"polish"`
	EmigratedIn  int      `json:"emigrated_in,omitempty"`
}

// EligibilitySnapshot is the part of an EligibilityResult a case keeps.
type EligibilitySnapshot struct {
	SubmissionID string `json:"submission_id"`
	Score        int    `json:"score"`
	Level        Level  `json:"level"`
}

// StateChange is one entry of a case's state history.
type StateChange struct {
	From    State     `json:"from"`
	To      State     `json:"to"`
	Trigger string    `json:"trigger"`
	At      time.Time `json:"at"`
}

// Outcome is the authority's decision on a case.
type Outcome string

const (
	OutcomeGranted Outcome = "granted"
	OutcomeRefused Outcome = "refused"
)

// Decision records the authority's decision.
type Decision struct {
	Outcome    Outcome   `json:"outcome"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Case is a legal matter tracked through the lifecycle.
type Case struct {
	ID             string                           `json:"id"`
	ClientRef      string                           `json:"client_ref"`
	Client         Client                           `json:"client"`
	Family         []FamilyMember                   `json:"family,omitempty"`
	Tier           Tier                             `json:"processing_tier"`
	State          State                            `json:"state"`
	Documents      Documents                        `json:"documents"`
	Payments       [MilestoneCount]PaymentMilestone `json:"payments"`
	Difficulty     *int                             `json:"difficulty,omitempty"`
	Confidence     *int                             `json:"confidence,omitempty"`
	Eligibility    *EligibilitySnapshot             `json:"eligibility,omitempty"`
	LowEligibility bool                             `json:"low_eligibility"`
	History        []StateChange                    `json:"history"`
	Decision       *Decision                        `json:"decision,omitempty"`
	Version        int                              `json:"version"`
	CreatedAt      time.Time                        `json:"created_at"`
	UpdatedAt      time.Time                        `json:"updated_at"`
}

// PaidPrefix counts consecutive paid milestones from the first one.
func (c *Case) PaidPrefix() int {
	n := 0
	for _, p := range c.Payments {
		if p.Status != PaymentPaid {
			break
		}
		n++
	}
	return n
}

// PaidCount counts paid milestones.
func (c *Case) PaidCount() int {
	n := 0
	for _, p := range c.Payments {
		if p.Status == PaymentPaid {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of c so a failed mutation leaves the original intact.
func (c *Case) Clone() *Case {
	out := *c
	out.Family = append([]FamilyMember(nil), c.Family...)
	out.Documents.CivilStatus = append([]string(nil), c.Documents.CivilStatus...)
	out.History = append([]StateChange(nil), c.History...)
	if c.Difficulty != nil {
		v := *c.Difficulty
		out.Difficulty = &v
	}
	if c.Confidence != nil {
		v := *c.Confidence
		out.Confidence = &v
	}
	if c.Eligibility != nil {
		v := *c.Eligibility
		out.Eligibility = &v
	}
	if c.Decision != nil {
		v := *c.Decision
		out.Decision = &v
	}
	for i, p := range c.Payments {
		if p.Amount != nil {
			v := *p.Amount
			out.Payments[i].Amount = &v
		}
		if p.DueDate != nil {
			v := *p.DueDate
			out.Payments[i].DueDate = &v
		}
		if p.PaidAt != nil {
			v := *p.PaidAt
			out.Payments[i].PaidAt = &v
		}
	}
	return &out
}
