package export

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/polishcitizenship/portal-core/internal/lifecycle"
	"github.com/polishcitizenship/portal-core/internal/metrics"
	"github.com/polishcitizenship/portal-core/internal/model"
	"github.com/polishcitizenship/portal-core/internal/store"
)

// CaseReader loads cases for export.
type CaseReader interface {
	Get(ctx context.Context, id string) (*model.Case, error)
	List(ctx context.Context, filter store.CaseFilter) ([]model.Case, error)
}

// Service generates exports for stored cases and announces them.
type Service struct {
	cases   CaseReader
	gen     Generator
	pub     lifecycle.Publisher
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService creates a Service. pub and mt may be nil.
func NewService(cases CaseReader, gen Generator, pub lifecycle.Publisher, mt *metrics.Metrics) *Service {
	return &Service{
		cases:   cases,
		gen:     gen,
		pub:     pub,
		metrics: mt,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Export generates the payload for one case. It only fails when the case
// cannot be loaded.
func (s *Service) Export(ctx context.Context, caseID string) (model.ExportPayload, error) {
	c, err := s.cases.Get(ctx, caseID)
	if err != nil {
		return model.ExportPayload{}, err
	}
	return s.generate(ctx, c), nil
}

// ExportAll generates payloads for every case matching filter, paging
// through the store.
func (s *Service) ExportAll(ctx context.Context, filter store.CaseFilter) ([]model.ExportPayload, error) {
	const pageSize = 200

	var out []model.ExportPayload
	f := filter
	f.Limit = pageSize
	for {
		page, err := s.cases.List(ctx, f)
		if err != nil {
			return nil, eris.Wrap(err, "export: list cases")
		}
		for i := range page {
			out = append(out, s.generate(ctx, &page[i]))
			if filter.Limit > 0 && len(out) == filter.Limit {
				return out, nil
			}
		}
		if len(page) < pageSize {
			return out, nil
		}
		f.Offset += pageSize
	}
}

func (s *Service) generate(ctx context.Context, c *model.Case) model.ExportPayload {
	now := s.now()
	p := s.gen.Generate(c, now)

	s.metrics.IncrementExport(len(p.Warnings) > 0)
	zap.L().Info("export: generated",
		zap.String("case_id", c.ID),
		zap.String("state", string(c.State)),
		zap.Int("warnings", len(p.Warnings)),
		zap.Bool("submittable", p.Submittable),
	)

	if s.pub != nil {
		s.pub.Publish(ctx, model.Event{
			ID:         uuid.New().String(),
			Type:       model.EventExportGenerated,
			CaseID:     c.ID,
			ClientRef:  c.ClientRef,
			To:         c.State,
			OccurredAt: now,
		})
	}
	return p
}
