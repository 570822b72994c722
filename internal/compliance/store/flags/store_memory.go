package flags

import (
	"context"
	"sync"

	"remitgate/internal/compliance/models"
	id "remitgate/pkg/domain"
)

// InMemory keeps flag sets per role, keyed by lowercase address.
type InMemory struct {
	mu   sync.RWMutex
	sets map[models.Role]map[string]string
}

func NewInMemory() *InMemory {
	return &InMemory{sets: map[models.Role]map[string]string{
		models.RoleSender:    {},
		models.RoleRecipient: {},
	}}
}

// Seed flags every address in addrs under role.
func (s *InMemory) Seed(role models.Role, addrs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range addrs {
		key := id.Address(a).Lower()
		if parsed, err := id.ParseAddress(a); err == nil {
			key = parsed.Lower()
		}
		s.sets[role][key] = "seed"
	}
}

func (s *InMemory) IsFlagged(_ context.Context, role models.Role, addr id.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sets[role][addr.Lower()]
	return ok, nil
}

func (s *InMemory) Flag(_ context.Context, role models.Role, addr id.Address, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[role][addr.Lower()] = reason
	return nil
}

func (s *InMemory) Unflag(_ context.Context, role models.Role, addr id.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sets[role], addr.Lower())
	return nil
}
