package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polishcitizenship/portal-core/internal/model"
	"github.com/polishcitizenship/portal-core/internal/resilience"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "portal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testCase(id string, state model.State) *model.Case {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &model.Case{
		ID:        id,
		ClientRef: "PC-" + id,
		Client:    model.Client{GivenNames: "Anna", Surname: "Kowalska"},
		Tier:      model.TierStandard,
		State:     state,
		Documents: model.Documents{Expected: 12},
		Payments:  model.NewPayments(),
		History:   []model.StateChange{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSQLite_SubmissionRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestSQLite(t)
	ctx := context.Background()

	sub := model.Submission{
		ID:       "sub-1",
		FullName: "Anna Kowalska",
		Email:    "anna@example.com",
		Answers: []model.Answer{
			{QuestionID: "polish_ancestor", Value: model.ChoiceValue{ChoiceID: "parent"}},
		},
	}
	result := model.EligibilityResult{SubmissionID: "sub-1", Score: 82, RawScore: 82, Level: model.LevelHigh}
	require.NoError(t, s.SaveSubmission(ctx, sub, result))

	rec, err := s.GetSubmission(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "Anna Kowalska", rec.Submission.FullName)
	assert.Equal(t, model.ChoiceValue{ChoiceID: "parent"}, rec.Submission.Answers[0].Value)
	assert.Equal(t, model.LevelHigh, rec.Result.Level)

	_, err = s.GetSubmission(ctx, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_CaseVersioning(t *testing.T) {
	t.Parallel()
	s := newTestSQLite(t)
	ctx := context.Background()

	c := testCase("c1", model.StateIntake)
	require.NoError(t, s.CreateCase(ctx, c))
	assert.Equal(t, 1, c.Version)

	got, err := s.GetCase(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, model.StateIntake, got.State)
	assert.Len(t, got.Payments, model.MilestoneCount)

	got.Documents.Received = 1
	got.State = model.StateUSCInFlight
	require.NoError(t, s.UpdateCase(ctx, got, 1))
	assert.Equal(t, 2, got.Version)

	stale := testCase("c1", model.StateIntake)
	err = s.UpdateCase(ctx, stale, 1)
	assert.True(t, errors.Is(err, ErrVersionConflict))

	err = s.UpdateCase(ctx, testCase("missing", model.StateIntake), 1)
	assert.True(t, errors.Is(err, ErrNotFound))

	reloaded, err := s.GetCase(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.Version)
	assert.Equal(t, model.StateUSCInFlight, reloaded.State)
	assert.Equal(t, 1, reloaded.Documents.Received)
}

func TestSQLite_ListCases(t *testing.T) {
	t.Parallel()
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCase(ctx, testCase("a", model.StateIntake)))
	require.NoError(t, s.CreateCase(ctx, testCase("b", model.StateUSCReady)))
	require.NoError(t, s.CreateCase(ctx, testCase("c", model.StateDecisionReceived)))

	all, err := s.ListCases(ctx, CaseFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	active, err := s.ListCases(ctx, CaseFilter{States: []model.State{model.StateIntake, model.StateUSCReady}})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	byRef, err := s.ListCases(ctx, CaseFilter{ClientRef: "PC-b"})
	require.NoError(t, err)
	require.Len(t, byRef, 1)
	assert.Equal(t, "b", byRef[0].ID)

	page, err := s.ListCases(ctx, CaseFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestSQLite_ListCases_Cursor(t *testing.T) {
	t.Parallel()
	s := newTestSQLite(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateCase(ctx, testCase(id, model.StateIntake)))
	}

	first, err := s.ListCases(ctx, CaseFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "a", first[0].ID)
	assert.Equal(t, "b", first[1].ID)

	// A case opened mid-listing sorts ahead of the cursor.
	newer := testCase("0-new", model.StateIntake)
	newer.CreatedAt = newer.CreatedAt.Add(time.Hour)
	require.NoError(t, s.CreateCase(ctx, newer))

	next, err := s.ListCases(ctx, CaseFilter{Limit: 2, After: CursorAfter(&first[1])})
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "c", next[0].ID)
}

func TestSQLite_DLQ(t *testing.T) {
	t.Parallel()
	s := newTestSQLite(t)
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Minute)

	due := resilience.DLQEntry{
		ID:          "d1",
		Event:       model.Event{ID: "e1", Type: model.EventCaseOpened, CaseID: "c1"},
		Target:      "https://hooks.example.com/portal",
		Error:       "503",
		ErrorType:   resilience.ErrorTransient,
		MaxRetries:  3,
		NextRetryAt: past,
		CreatedAt:   past,
	}
	later := due
	later.ID = "d2"
	later.NextRetryAt = time.Now().UTC().Add(time.Hour)

	require.NoError(t, s.EnqueueDLQ(ctx, due))
	require.NoError(t, s.EnqueueDLQ(ctx, later))

	n, err := s.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := s.DequeueDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "d1", entries[0].ID)
	assert.Equal(t, model.EventCaseOpened, entries[0].Event.Type)

	require.NoError(t, s.IncrementDLQRetry(ctx, "d1", past, "still 503"))
	entries, err = s.DequeueDLQ(ctx, resilience.DLQFilter{ErrorType: resilience.ErrorTransient})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].RetryCount)
	assert.Equal(t, "still 503", entries[0].Error)

	err = s.IncrementDLQRetry(ctx, "ghost", past, "x")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.RemoveDLQ(ctx, "d1"))
	n, err = s.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
