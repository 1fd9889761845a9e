package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/polishcitizenship/portal-core/internal/model"
	"github.com/polishcitizenship/portal-core/internal/store"
)

const sweepPageSize = 200

// SweepResult summarizes a SweepOverdue run.
type SweepResult struct {
	CasesScanned      int `json:"cases_scanned"`
	MilestonesOverdue int `json:"milestones_overdue"`
}

// SweepOverdue marks every pending milestone whose due date is before now
// as overdue, across all cases that have not received a decision.
func (m *Manager) SweepOverdue(ctx context.Context, now time.Time) (SweepResult, error) {
	var active []model.State
	for _, s := range model.States {
		if !s.Terminal() {
			active = append(active, s)
		}
	}

	var res SweepResult
	var marked atomic.Int64
	var after *store.CaseCursor
	for {
		cases, err := m.store.ListCases(ctx, store.CaseFilter{States: active, Limit: sweepPageSize, After: after})
		if err != nil {
			return res, eris.Wrap(err, "lifecycle: sweep list cases")
		}
		res.CasesScanned += len(cases)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.cfg.SweepConcurrency)
		for i := range cases {
			if len(overdueIndexes(&cases[i], now)) == 0 {
				continue
			}
			id := cases[i].ID
			g.Go(func() error {
				n, err := m.markOverdueDue(gctx, id, now)
				marked.Add(int64(n))
				return err
			})
		}
		if err := g.Wait(); err != nil {
			res.MilestonesOverdue = int(marked.Load())
			return res, err
		}
		if len(cases) < sweepPageSize {
			break
		}
		after = store.CursorAfter(&cases[len(cases)-1])
	}

	res.MilestonesOverdue = int(marked.Load())
	m.metrics.AddOverdue(res.MilestonesOverdue)
	zap.L().Info("lifecycle: overdue sweep complete",
		zap.Int("cases_scanned", res.CasesScanned),
		zap.Int("milestones_overdue", res.MilestonesOverdue),
	)
	return res, nil
}

// markOverdueDue re-reads the case under its lock so a payment recorded
// since the listing is never overwritten.
func (m *Manager) markOverdueDue(ctx context.Context, id string, now time.Time) (int, error) {
	var n int
	_, err := m.mutate(ctx, id, "sweep_overdue", func(c *model.Case, at time.Time) ([]model.Event, error) {
		due := overdueIndexes(c, now)
		if len(due) == 0 {
			return nil, errNoChange
		}
		events := make([]model.Event, 0, len(due))
		for _, i := range due {
			c.Payments[i].Status = model.PaymentOverdue
			events = append(events, m.overdueEvent(c, i, at))
		}
		n = len(due)
		return events, nil
	})
	if errors.Is(err, ErrCaseNotFound) {
		return 0, nil
	}
	return n, err
}

func overdueIndexes(c *model.Case, now time.Time) []int {
	var out []int
	for i, p := range c.Payments {
		if p.Status == model.PaymentPending && p.DueDate != nil && p.DueDate.Before(now) {
			out = append(out, i)
		}
	}
	return out
}
