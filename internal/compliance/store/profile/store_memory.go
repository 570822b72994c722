package profile

import (
	"context"
	"sync"

	"remitgate/internal/compliance/models"
	id "remitgate/pkg/domain"
	"remitgate/pkg/platform/sentinel"
)

// InMemory is a ProfileRepository backed by a map. Keys are lowercase
// addresses so lookups are case-insensitive.
type InMemory struct {
	mu       sync.RWMutex
	profiles map[string]models.Profile
}

func NewInMemory() *InMemory {
	return &InMemory{profiles: make(map[string]models.Profile)}
}

func (s *InMemory) Lookup(_ context.Context, identity id.Address) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[identity.Lower()]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}

func (s *InMemory) Upsert(_ context.Context, profile *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.Identity.Lower()] = *profile
	return nil
}
