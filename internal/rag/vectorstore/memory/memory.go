// Package memory is an in-memory vector store using brute-force cosine
// similarity, for development and tests.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/avolkov/ragchat/internal/rag/vectorstore"
)

// Store keeps all records in memory.
type Store struct {
	mu      sync.RWMutex
	records map[string]vectorstore.Record
}

// NewStore creates a new in-memory store
func NewStore() *Store {
	return &Store{records: make(map[string]vectorstore.Record)}
}

// Upsert inserts or overwrites records by id.
func (s *Store) Upsert(_ context.Context, records []vectorstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.records[rec.ID] = rec
	}
	return nil
}

// Query ranks stored records matching the filter by cosine similarity.
func (s *Store) Query(_ context.Context, vector []float64, topK int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if topK <= 0 {
		topK = 10
	}

	var matches []vectorstore.Match
	for _, rec := range s.records {
		if !filter.Matches(rec.Metadata) {
			continue
		}
		matches = append(matches, vectorstore.Match{
			ID:       rec.ID,
			Score:    cosine(vector, rec.Vector),
			Metadata: rec.Metadata,
		})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Delete removes all records matching the filter.
func (s *Store) Delete(_ context.Context, filter vectorstore.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.records {
		if filter.Matches(rec.Metadata) {
			delete(s.records, id)
		}
	}
	return nil
}

// Len reports the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
