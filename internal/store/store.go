// Package store persists submissions, cases and the webhook dead-letter queue.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/polishcitizenship/portal-core/internal/model"
	"github.com/polishcitizenship/portal-core/internal/resilience"
)

var (
	// ErrNotFound is returned when a submission or case id does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrVersionConflict is returned by UpdateCase when the stored version
	// moved since the case was read.
	ErrVersionConflict = eris.New("store: version conflict")
)

// CaseFilter specifies criteria for listing cases. Results are ordered by
// created_at descending, then id.
type CaseFilter struct {
	States    []model.State `json:"states,omitempty"`
	ClientRef string        `json:"client_ref,omitempty"`
	Limit     int           `json:"limit,omitempty"`
	Offset    int           `json:"offset,omitempty"`
	// After restricts results to cases ordered after the cursor. Cases
	// opened while paging sort before it and do not shift later pages.
	After *CaseCursor `json:"after,omitempty"`
}

// CaseCursor is a position in the case listing order.
type CaseCursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

// CursorAfter returns the cursor positioned on c.
func CursorAfter(c *model.Case) *CaseCursor {
	return &CaseCursor{CreatedAt: c.CreatedAt, ID: c.ID}
}

// SubmissionRecord is a stored submission with the result it was scored to.
type SubmissionRecord struct {
	Submission model.Submission        `json:"submission"`
	Result     model.EligibilityResult `json:"result"`
	CreatedAt  time.Time               `json:"created_at"`
}

// Store defines the persistence interface for the portal.
type Store interface {
	// Submissions
	SaveSubmission(ctx context.Context, sub model.Submission, result model.EligibilityResult) error
	GetSubmission(ctx context.Context, id string) (*SubmissionRecord, error)

	// Cases
	CreateCase(ctx context.Context, c *model.Case) error
	GetCase(ctx context.Context, id string) (*model.Case, error)
	// UpdateCase writes c only if the stored version still equals prevVersion.
	UpdateCase(ctx context.Context, c *model.Case, prevVersion int) error
	ListCases(ctx context.Context, filter CaseFilter) ([]model.Case, error)

	// Dead-letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

func stateStrings(states []model.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
