package model

import "time"

// Field is one key/value of the filing snapshot. Fields are kept as an
// ordered list so repeated exports serialize identically.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Severity grades a failed export check.
type Severity string

const (
	SeverityWarning Severity = "WARNING"
	SeverityBlocker Severity = "BLOCKER"
)

// CheckResult is the outcome of one pre-filing check.
type CheckResult struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Passed   bool     `json:"passed"`
	Message  string   `json:"message,omitempty"`
}

// ExportMeta identifies an export payload.
type ExportMeta struct {
	SchemaVersion string `json:"schema_version"`
	CaseID        string `json:"case_id"`
	ClientRef     string `json:"client_ref"`
	State         State  `json:"state"`
}

// ExportPayload is a filing snapshot of a case plus everything found wrong with it.
type ExportPayload struct {
	Meta         ExportMeta    `json:"meta"`
	CaseSnapshot []Field       `json:"case_snapshot"`
	Warnings     []string      `json:"warnings"`
	Checks       []CheckResult `json:"checks"`
	Submittable  bool          `json:"submittable"`
	GeneratedAt  time.Time     `json:"generated_at"`
}

// Value returns the snapshot value for key.
func (p ExportPayload) Value(key string) (string, bool) {
	for _, f := range p.CaseSnapshot {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}
