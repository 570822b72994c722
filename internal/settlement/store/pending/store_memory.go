package pending

import (
	"context"
	"slices"
	"strings"
	"sync"

	"remitgate/internal/settlement/models"
	id "remitgate/pkg/domain"
)

// InMemory keeps pending submissions for the life of the process. A restart
// loses them; use the Redis store when reconciliation must survive restarts.
type InMemory struct {
	mu      sync.RWMutex
	pending map[string]models.Pending
}

func NewInMemory() *InMemory {
	return &InMemory{pending: make(map[string]models.Pending)}
}

func (s *InMemory) Save(_ context.Context, p models.Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Amount = id.CloneAmount(p.Amount)
	s.pending[p.Ref] = p
	return nil
}

// List returns pending submissions oldest first.
func (s *InMemory) List(_ context.Context) ([]models.Pending, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Pending, 0, len(s.pending))
	for _, p := range s.pending {
		p.Amount = id.CloneAmount(p.Amount)
		out = append(out, p)
	}
	sortOldestFirst(out)
	return out, nil
}

func (s *InMemory) Delete(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, ref)
	return nil
}

func sortOldestFirst(ps []models.Pending) {
	slices.SortFunc(ps, func(a, b models.Pending) int {
		if c := a.SubmittedAt.Compare(b.SubmittedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Ref, b.Ref)
	})
}
