// Package store keeps the latest processing report of every row in memory.
package store

import (
	"sort"
	"sync"

	"github.com/fairyhunter13/price-follower/internal/model"
)

type rowState struct {
	r         model.RowReport
	lastRound uint64
}

// Store holds the last report per row. Reports from older rounds never
// replace newer ones.
type Store struct {
	mu sync.RWMutex
	m  map[string]rowState
}

func New() *Store {
	return &Store{m: make(map[string]rowState)}
}

func (s *Store) Get(row string) (model.RowReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.m[row]
	if !ok {
		return model.RowReport{}, false
	}
	return st.r, true
}

// Upsert records rep unless a report from a later round is already stored.
func (s *Store) Upsert(rep model.RowReport) {
	if rep.Row == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.m[rep.Row]; ok && rep.Round < st.lastRound {
		return
	}
	s.m[rep.Row] = rowState{r: rep, lastRound: rep.Round}
}

// List returns every stored report ordered by row.
func (s *Store) List() []model.RowReport {
	s.mu.RLock()
	out := make([]model.RowReport, 0, len(s.m))
	for _, st := range s.m {
		out = append(out, st.r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Row < out[j].Row })
	return out
}

// Len returns the number of rows with a report.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
