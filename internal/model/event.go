package model

import "time"

// EventType names an outbound case event.
type EventType string

const (
	EventCaseOpened       EventType = "case.opened"
	EventCaseTransitioned EventType = "case.transitioned"
	EventDecisionRecorded EventType = "case.decision_recorded"
	EventMilestoneOverdue EventType = "milestone.overdue"
	EventExportGenerated  EventType = "export.generated"
)

// Event is a notification about something that happened to a case.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	CaseID     string    `json:"case_id"`
	ClientRef  string    `json:"client_ref,omitempty"`
	From       State     `json:"from,omitempty"`
	To         State     `json:"to,omitempty"`
	Milestone  *int      `json:"milestone,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
