package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/polishcitizenship/portal-core/internal/metrics"
	"github.com/polishcitizenship/portal-core/internal/model"
	"github.com/polishcitizenship/portal-core/internal/store"
)

var (
	// ErrCaseNotFound is returned for an unknown case id.
	ErrCaseNotFound = eris.New("lifecycle: case not found")
	// ErrInvalidMilestone is returned for an out-of-range milestone index or
	// a status change the milestone cannot make.
	ErrInvalidMilestone = eris.New("lifecycle: invalid milestone")
	// ErrInvalidInput is returned for malformed update requests.
	ErrInvalidInput = eris.New("lifecycle: invalid input")

	errNoChange = eris.New("lifecycle: no change")
)

// CaseStore is the persistence the manager needs.
type CaseStore interface {
	CreateCase(ctx context.Context, c *model.Case) error
	GetCase(ctx context.Context, id string) (*model.Case, error)
	UpdateCase(ctx context.Context, c *model.Case, prevVersion int) error
	ListCases(ctx context.Context, filter store.CaseFilter) ([]model.Case, error)
}

// Publisher receives case events after they are persisted.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event)
}

// Manager applies lifecycle operations to stored cases. Operations on the
// same case are serialized; every operation is all-or-nothing.
type Manager struct {
	cfg     Config
	store   CaseStore
	pub     Publisher
	metrics *metrics.Metrics
	locks   caseLocks
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithPublisher sets the event publisher.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.pub = p }
}

// WithMetrics records transitions and denials.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager over s.
func NewManager(cfg Config, s CaseStore, opts ...Option) *Manager {
	m := &Manager{cfg: cfg, store: s, now: func() time.Time { return time.Now().UTC() }}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Config returns the guard parameters in use.
func (m *Manager) Config() Config { return m.cfg }

// OpenRequest describes a new case.
type OpenRequest struct {
	ClientRef         string                     `json:"client_ref"`
	Client            model.Client               `json:"client"`
	Family            []model.FamilyMember       `json:"family,omitempty"`
	Tier              model.Tier                 `json:"processing_tier,omitempty"`
	ExpectedDocuments int                        `json:"expected_documents,omitempty"`
	Difficulty        *int                       `json:"difficulty,omitempty"`
	Confidence        *int                       `json:"confidence,omitempty"`
	Eligibility       *model.EligibilitySnapshot `json:"eligibility,omitempty"`
}

// DocumentUpdate reports newly received documents.
type DocumentUpdate struct {
	Delta int `json:"delta"`
	// Kinds are civil-status document kinds among the received documents.
	Kinds []string `json:"kinds,omitempty"`
}

// PaymentUpdate confirms a milestone payment.
type PaymentUpdate struct {
	Index  int      `json:"milestone_index"`
	Amount *float64 `json:"amount,omitempty"`
}

// Open creates a case in INTAKE.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*model.Case, error) {
	tier, err := model.ParseTier(string(req.Tier))
	if err != nil {
		return nil, eris.Wrap(ErrInvalidInput, err.Error())
	}
	expected := req.ExpectedDocuments
	if expected < 0 {
		return nil, eris.Wrap(ErrInvalidInput, "expected_documents must be >= 0")
	}
	if expected == 0 {
		expected = m.cfg.DefaultExpectedDocuments
	}
	if req.Difficulty != nil && (*req.Difficulty < 0 || *req.Difficulty > 10) {
		return nil, eris.Wrapf(ErrInvalidInput, "difficulty must be between 0 and 10, got %d", *req.Difficulty)
	}
	if req.Confidence != nil && (*req.Confidence < 0 || *req.Confidence > 100) {
		return nil, eris.Wrapf(ErrInvalidInput, "confidence must be between 0 and 100, got %d", *req.Confidence)
	}
	if req.Eligibility != nil && req.Eligibility.Level.Rank() < 0 {
		return nil, eris.Wrapf(ErrInvalidInput, "unknown eligibility level %q", req.Eligibility.Level)
	}

	now := m.now()
	c := &model.Case{
		ID:          uuid.New().String(),
		ClientRef:   req.ClientRef,
		Client:      req.Client,
		Family:      append([]model.FamilyMember(nil), req.Family...),
		Tier:        tier,
		State:       model.StateIntake,
		Documents:   model.Documents{Expected: expected},
		Payments:    model.NewPayments(),
		Difficulty:  req.Difficulty,
		Confidence:  req.Confidence,
		Eligibility: req.Eligibility,
		History:     []model.StateChange{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if c.ClientRef == "" {
		c.ClientRef = c.ID
	}
	if req.Eligibility != nil && !req.Eligibility.Level.AtLeast(model.LevelMedium) {
		c.LowEligibility = true
		zap.L().Warn("lifecycle: opening case from low eligibility",
			zap.String("case_id", c.ID),
			zap.String("level", string(req.Eligibility.Level)),
			zap.Int("score", req.Eligibility.Score),
		)
	}

	if err := m.store.CreateCase(ctx, c); err != nil {
		return nil, eris.Wrap(err, "lifecycle: create case")
	}
	zap.L().Info("lifecycle: case opened", zap.String("case_id", c.ID), zap.String("client_ref", c.ClientRef))
	m.publish(ctx, []model.Event{m.event(c, model.EventCaseOpened, now)})
	return c, nil
}

// Get loads a case.
func (m *Manager) Get(ctx context.Context, id string) (*model.Case, error) {
	return m.load(ctx, id)
}

// List returns stored cases matching filter.
func (m *Manager) List(ctx context.Context, filter store.CaseFilter) ([]model.Case, error) {
	cases, err := m.store.ListCases(ctx, filter)
	return cases, eris.Wrap(err, "lifecycle: list cases")
}

// RecordDocument adds received documents and advances the case as far as
// its guards allow. Kinds name civil-status documents among the Delta
// received, so an update cannot list more kinds than it counts. The counter
// never exceeds the expected count.
func (m *Manager) RecordDocument(ctx context.Context, id string, upd DocumentUpdate) (*model.Case, error) {
	if upd.Delta < 0 {
		return nil, eris.Wrapf(ErrInvalidInput, "document delta must be >= 0, got %d", upd.Delta)
	}
	if len(upd.Kinds) > upd.Delta {
		return nil, eris.Wrapf(ErrInvalidInput, "%d document kinds listed for a delta of %d", len(upd.Kinds), upd.Delta)
	}
	if upd.Delta == 0 {
		return m.Get(ctx, id)
	}
	return m.mutate(ctx, id, "record_document", func(c *model.Case, _ time.Time) ([]model.Event, error) {
		c.Documents.AddCivilStatus(upd.Kinds...)
		c.Documents.Received = min(c.Documents.Received+upd.Delta, c.Documents.Expected)
		return nil, nil
	})
}

// RecordPayment marks a milestone paid. Paying a paid milestone is a no-op.
func (m *Manager) RecordPayment(ctx context.Context, id string, upd PaymentUpdate) (*model.Case, error) {
	if err := checkIndex(upd.Index); err != nil {
		return nil, err
	}
	if upd.Amount != nil && *upd.Amount < 0 {
		return nil, eris.Wrap(ErrInvalidInput, "payment amount must be >= 0")
	}
	return m.mutate(ctx, id, "record_payment", func(c *model.Case, now time.Time) ([]model.Event, error) {
		p := &c.Payments[upd.Index]
		if p.Status == model.PaymentPaid {
			return nil, errNoChange
		}
		p.Status = model.PaymentPaid
		p.PaidAt = &now
		if upd.Amount != nil {
			amount := *upd.Amount
			p.Amount = &amount
		}
		return nil, nil
	})
}

// MarkOverdue flags a pending milestone overdue. Overdue milestones are left
// as they are; paid ones cannot become overdue.
func (m *Manager) MarkOverdue(ctx context.Context, id string, index int) (*model.Case, error) {
	if err := checkIndex(index); err != nil {
		return nil, err
	}
	return m.mutate(ctx, id, "mark_overdue", func(c *model.Case, now time.Time) ([]model.Event, error) {
		switch c.Payments[index].Status {
		case model.PaymentPaid:
			return nil, eris.Wrapf(ErrInvalidMilestone, "milestone %d is already paid", index)
		case model.PaymentOverdue:
			return nil, errNoChange
		}
		c.Payments[index].Status = model.PaymentOverdue
		return []model.Event{m.overdueEvent(c, index, now)}, nil
	})
}

// ScheduleMilestone sets the amount and due date of an unpaid milestone.
func (m *Manager) ScheduleMilestone(ctx context.Context, id string, index int, amount *float64, due *time.Time) (*model.Case, error) {
	if err := checkIndex(index); err != nil {
		return nil, err
	}
	if amount != nil && *amount < 0 {
		return nil, eris.Wrap(ErrInvalidInput, "milestone amount must be >= 0")
	}
	return m.mutate(ctx, id, "schedule_milestone", func(c *model.Case, _ time.Time) ([]model.Event, error) {
		p := &c.Payments[index]
		if p.Status == model.PaymentPaid {
			return nil, eris.Wrapf(ErrInvalidMilestone, "milestone %d is already paid", index)
		}
		if amount != nil {
			v := *amount
			p.Amount = &v
		}
		if due != nil {
			d := due.UTC()
			p.DueDate = &d
		}
		return nil, nil
	})
}

// Submit moves an OBY_SUBMITTABLE case to OBY_SUBMITTED. Earlier cases are
// denied with the guard they are waiting on.
func (m *Manager) Submit(ctx context.Context, id string) (*model.Case, error) {
	return m.mutate(ctx, id, "submit", func(c *model.Case, now time.Time) ([]model.Event, error) {
		if c.State != model.StateOBYSubmittable {
			return nil, m.deny(c, "submit", model.StateOBYSubmitted)
		}
		move(c, model.StateOBYSubmitted, "submit", now)
		return nil, nil
	})
}

// RecordDecision records the authorities' outcome on a submitted case.
func (m *Manager) RecordDecision(ctx context.Context, id string, outcome model.Outcome) (*model.Case, error) {
	if outcome != model.OutcomeGranted && outcome != model.OutcomeRefused {
		return nil, eris.Wrapf(ErrInvalidInput, "unknown decision outcome %q", outcome)
	}
	return m.mutate(ctx, id, "record_decision", func(c *model.Case, now time.Time) ([]model.Event, error) {
		if c.State != model.StateOBYSubmitted {
			return nil, m.deny(c, "record_decision", model.StateDecisionReceived)
		}
		move(c, model.StateDecisionReceived, "record_decision", now)
		c.Decision = &model.Decision{Outcome: outcome, RecordedAt: now}
		ev := m.event(c, model.EventDecisionRecorded, now)
		ev.Detail = string(outcome)
		return []model.Event{ev}, nil
	})
}

// deny builds the TransitionDenied for an operation that needs target while
// c is waiting on an earlier guard.
func (m *Manager) deny(c *model.Case, op string, target model.State) *TransitionDenied {
	d := &TransitionDenied{CaseID: c.ID, Operation: op, From: c.State, To: target}
	if g := PendingGuard(m.cfg, c); g != nil && target.Ordinal() > c.State.Ordinal() {
		d.Guard, d.Reason = g.Guard, g.Reason
		return d
	}
	d.Guard = GuardState
	d.Reason = "case is already " + string(c.State)
	return d
}

type mutation func(c *model.Case, now time.Time) ([]model.Event, error)

// mutate runs fn on a copy of the stored case under the case lock, applies
// automatic transitions and persists the result. Nothing is written when fn
// fails. Events are published after the lock is released, so a slow
// publisher never holds up other cases.
func (m *Manager) mutate(ctx context.Context, id, op string, fn mutation) (*model.Case, error) {
	c, events, err := m.apply(ctx, id, op, fn)
	if err != nil {
		return nil, err
	}
	m.publish(ctx, events)
	return c, nil
}

func (m *Manager) apply(ctx context.Context, id, op string, fn mutation) (*model.Case, []model.Event, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, nil, eris.Wrap(err, "lifecycle: "+op)
	}
	current, err := m.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	c := current.Clone()
	now := m.now()
	events, err := fn(c, now)
	if errors.Is(err, errNoChange) {
		return current, nil, nil
	}
	if err != nil {
		var denied *TransitionDenied
		if errors.As(err, &denied) {
			m.metrics.IncrementDenial(denied.Guard)
			zap.L().Info("lifecycle: transition denied",
				zap.String("case_id", id),
				zap.String("operation", op),
				zap.String("guard", denied.Guard),
				zap.String("reason", denied.Reason),
			)
		}
		return nil, nil, err
	}

	advance(m.cfg, c, op, now)
	c.UpdatedAt = now
	if err := m.store.UpdateCase(ctx, c, current.Version); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, eris.Wrapf(ErrCaseNotFound, "case %s", id)
		}
		return nil, nil, eris.Wrapf(err, "lifecycle: %s case %s", op, id)
	}

	changes := c.History[len(current.History):]
	transitionEvents := make([]model.Event, 0, len(changes)+len(events))
	for _, ch := range changes {
		m.metrics.IncrementTransition(string(ch.From), string(ch.To))
		zap.L().Info("lifecycle: state changed",
			zap.String("case_id", id),
			zap.String("from", string(ch.From)),
			zap.String("to", string(ch.To)),
			zap.String("trigger", ch.Trigger),
		)
		ev := m.event(c, model.EventCaseTransitioned, now)
		ev.From, ev.To = ch.From, ch.To
		transitionEvents = append(transitionEvents, ev)
	}
	return c, append(transitionEvents, events...), nil
}

func (m *Manager) load(ctx context.Context, id string) (*model.Case, error) {
	c, err := m.store.GetCase(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrapf(ErrCaseNotFound, "case %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "lifecycle: load case %s", id)
	}
	return c, nil
}

func (m *Manager) event(c *model.Case, t model.EventType, now time.Time) model.Event {
	return model.Event{
		ID:         uuid.New().String(),
		Type:       t,
		CaseID:     c.ID,
		ClientRef:  c.ClientRef,
		To:         c.State,
		OccurredAt: now,
	}
}

func (m *Manager) overdueEvent(c *model.Case, index int, now time.Time) model.Event {
	ev := m.event(c, model.EventMilestoneOverdue, now)
	ev.To = ""
	idx := index
	ev.Milestone = &idx
	ev.Detail = c.Payments[index].Label
	return ev
}

func (m *Manager) publish(ctx context.Context, events []model.Event) {
	if m.pub == nil {
		return
	}
	for _, ev := range events {
		m.pub.Publish(ctx, ev)
	}
}

func checkIndex(index int) error {
	if index < 0 || index >= model.MilestoneCount {
		return eris.Wrapf(ErrInvalidMilestone, "milestone index %d out of range 0..%d", index, model.MilestoneCount-1)
	}
	return nil
}
