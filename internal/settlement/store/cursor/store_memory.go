package cursor

import (
	"context"
	"sync/atomic"
)

// InMemory holds the relay cursor for the life of the process.
type InMemory struct {
	cursor atomic.Uint64
}

// NewInMemory starts at from; zero replays the ledger from its first event.
func NewInMemory(from uint64) *InMemory {
	s := &InMemory{}
	s.cursor.Store(from)
	return s
}

func (s *InMemory) Load(_ context.Context) (uint64, error) {
	return s.cursor.Load(), nil
}

func (s *InMemory) Save(_ context.Context, cursor uint64) error {
	s.cursor.Store(cursor)
	return nil
}
