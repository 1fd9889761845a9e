// Package intake scores questionnaire submissions, stores them, and opens
// cases for promising applicants.
package intake

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/polishcitizenship/portal-core/internal/lifecycle"
	"github.com/polishcitizenship/portal-core/internal/metrics"
	"github.com/polishcitizenship/portal-core/internal/model"
	"github.com/polishcitizenship/portal-core/internal/scorer"
	"github.com/polishcitizenship/portal-core/internal/store"
)

// ErrSubmissionNotFound is returned when opening a case from an unknown submission.
var ErrSubmissionNotFound = eris.New("intake: submission not found")

// SubmissionStore persists scored submissions.
type SubmissionStore interface {
	SaveSubmission(ctx context.Context, sub model.Submission, result model.EligibilityResult) error
	GetSubmission(ctx context.Context, id string) (*store.SubmissionRecord, error)
}

// CaseOpener opens cases.
type CaseOpener interface {
	Open(ctx context.Context, req lifecycle.OpenRequest) (*model.Case, error)
}

// Request is a completed questionnaire as received from the client.
type Request struct {
	FullName string         `json:"fullName"`
	Email    string         `json:"email"`
	Answers  []model.Answer `json:"answers"`
}

// Result is the eligibility result plus the case opened for it, if any.
type Result struct {
	model.EligibilityResult
	CaseID string `json:"case_id,omitempty"`
}

// Service runs the intake flow.
type Service struct {
	questionnaire model.Questionnaire
	policy        scorer.Policy
	store         SubmissionStore
	cases         CaseOpener
	// autoOpen is the lowest level that opens a case; empty disables it.
	autoOpen model.Level
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithAutoOpen opens a case for every submission scoring at least level.
func WithAutoOpen(cases CaseOpener, level model.Level) Option {
	return func(s *Service) {
		s.cases = cases
		s.autoOpen = level
	}
}

// WithMetrics records assessment counts and latency.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = mt }
}

// NewService creates a Service scoring against q with policy p.
func NewService(q model.Questionnaire, p scorer.Policy, st SubmissionStore, opts ...Option) *Service {
	s := &Service{
		questionnaire: q,
		policy:        p,
		store:         st,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Questionnaire returns the questionnaire submissions are scored against.
func (s *Service) Questionnaire() model.Questionnaire { return s.questionnaire }

// Score classifies a submission without storing it.
func (s *Service) Score(sub model.Submission) (model.EligibilityResult, error) {
	start := time.Now()
	result, err := scorer.Score(s.questionnaire, sub, s.policy)
	if err != nil {
		var verr *scorer.ValidationError
		if errors.As(err, &verr) {
			s.metrics.IncrementValidationFailure()
		}
		return model.EligibilityResult{}, err
	}
	s.metrics.ObserveAssessment(string(result.Level), time.Since(start))
	return result, nil
}

// Assess scores req, stores the submission and, when the level qualifies,
// opens a case for the applicant. The submission is stored before the case
// is opened; if opening fails the result comes back without a CaseID and the
// case can be opened later with OpenFromSubmission.
func (s *Service) Assess(ctx context.Context, req Request) (*Result, error) {
	sub := model.Submission{
		ID:          uuid.New().String(),
		FullName:    strings.TrimSpace(req.FullName),
		Email:       strings.TrimSpace(req.Email),
		Answers:     req.Answers,
		SubmittedAt: s.now(),
	}

	result, err := s.Score(sub)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveSubmission(ctx, sub, result); err != nil {
		return nil, eris.Wrap(err, "intake: save submission")
	}
	zap.L().Info("intake: submission scored",
		zap.String("submission_id", sub.ID),
		zap.Int("score", result.Score),
		zap.String("level", string(result.Level)),
	)

	out := &Result{EligibilityResult: result}
	if s.cases == nil || s.autoOpen == "" || !result.Level.AtLeast(s.autoOpen) {
		return out, nil
	}

	c, err := s.cases.Open(ctx, lifecycle.OpenRequest{
		Client:      clientFromSubmission(sub),
		Eligibility: snapshot(result),
	})
	if err != nil {
		zap.L().Error("intake: auto-open case failed",
			zap.String("submission_id", sub.ID),
			zap.Error(err),
		)
		return out, nil
	}
	out.CaseID = c.ID
	return out, nil
}

// OpenFromSubmission opens a case for a stored submission. Client fields set
// on req win over those derived from the submission.
func (s *Service) OpenFromSubmission(ctx context.Context, submissionID string, req lifecycle.OpenRequest) (*model.Case, error) {
	if s.cases == nil {
		return nil, eris.New("intake: case opening is not configured")
	}
	rec, err := s.store.GetSubmission(ctx, submissionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrapf(ErrSubmissionNotFound, "submission %s", submissionID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "intake: load submission %s", submissionID)
	}

	derived := clientFromSubmission(rec.Submission)
	if req.Client.GivenNames == "" && req.Client.Surname == "" {
		req.Client.GivenNames, req.Client.Surname = derived.GivenNames, derived.Surname
	}
	if req.Client.Email == "" {
		req.Client.Email = derived.Email
	}
	req.Eligibility = snapshot(rec.Result)
	return s.cases.Open(ctx, req)
}

func snapshot(r model.EligibilityResult) *model.EligibilitySnapshot {
	return &model.EligibilitySnapshot{SubmissionID: r.SubmissionID, Score: r.Score, Level: r.Level}
}

func clientFromSubmission(sub model.Submission) model.Client {
	given, surname := SplitName(sub.FullName)
	return model.Client{GivenNames: given, Surname: surname, Email: sub.Email}
}

// SplitName treats the last word of a full name as the surname.
func SplitName(full string) (given, surname string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return "", parts[0]
	}
	return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
}
