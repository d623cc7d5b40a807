package memory

import (
	"context"
	"fmt"
	"sync"

	"fincon/internal/core"
	ports "fincon/internal/sheets"
)

// Store keeps exported months in memory. It backs dry runs and tests.
type Store struct {
	mu     sync.Mutex
	months map[core.Month][][]any
	writes int
}

var _ ports.SummaryWriter = (*Store)(nil)

func New() *Store {
	return &Store{months: map[core.Month][][]any{}}
}

// WriteMonth replaces the stored rows of m.
func (s *Store) WriteMonth(_ context.Context, m core.Month, rows [][]any) (string, error) {
	cp := make([][]any, len(rows))
	for i, r := range rows {
		cp[i] = append([]any(nil), r...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.months[m] = cp
	s.writes++
	return fmt.Sprintf("mem:%s!A1:E%d", m, len(rows)), nil
}

// Month returns the rows last written for m.
func (s *Store) Month(m core.Month) ([][]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.months[m]
	return rows, ok
}

// Writes counts WriteMonth calls.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
