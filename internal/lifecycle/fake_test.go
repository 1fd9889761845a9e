package lifecycle

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/polishcitizenship/portal-core/internal/model"
	"github.com/polishcitizenship/portal-core/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// memStore is an in-memory CaseStore with the same version semantics as
// the SQL stores.
type memStore struct {
	mu     sync.Mutex
	cases  map[string]*model.Case
	order  []string
	writes int
}

func newMemStore() *memStore {
	return &memStore{cases: make(map[string]*model.Case)}
}

func (s *memStore) CreateCase(_ context.Context, c *model.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Version == 0 {
		c.Version = 1
	}
	s.cases[c.ID] = c.Clone()
	s.order = append(s.order, c.ID)
	return nil
}

func (s *memStore) GetCase(_ context.Context, id string) (*model.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, eris.Wrapf(store.ErrNotFound, "case %s", id)
	}
	return c.Clone(), nil
}

func (s *memStore) UpdateCase(_ context.Context, c *model.Case, prevVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.cases[c.ID]
	if !ok {
		return eris.Wrapf(store.ErrNotFound, "case %s", c.ID)
	}
	if stored.Version != prevVersion {
		return eris.Wrapf(store.ErrVersionConflict, "case %s", c.ID)
	}
	c.Version = prevVersion + 1
	s.cases[c.ID] = c.Clone()
	s.writes++
	return nil
}

func (s *memStore) ListCases(_ context.Context, f store.CaseFilter) ([]model.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := append([]string(nil), s.order...)
	sort.Slice(ids, func(i, j int) bool { return listsBefore(s.cases[ids[i]], s.cases[ids[j]]) })
	var out []model.Case
	for _, id := range ids {
		c := s.cases[id]
		if len(f.States) > 0 && !containsState(f.States, c.State) {
			continue
		}
		if f.After != nil && !listsBefore(&model.Case{ID: f.After.ID, CreatedAt: f.After.CreatedAt}, c) {
			continue
		}
		out = append(out, *c.Clone())
	}
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *memStore) version(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cases[id].Version
}

// listsBefore reports whether a precedes b in the store listing order.
func listsBefore(a, b *model.Case) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

func containsState(states []model.State, s model.State) bool {
	for _, v := range states {
		if v == s {
			return true
		}
	}
	return false
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Publish(_ context.Context, ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
