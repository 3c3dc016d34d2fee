// Package mock provides an in-memory test double for the memory package
// interfaces. Similarity search uses exact cosine distance over the recorded
// exchanges, so small fixtures behave like the real store.
package mock

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/voxloop/voxloop/pkg/memory"
)

// Store is a mock implementation of memory.Store.
type Store struct {
	mu sync.Mutex

	// RecordErr, if non-nil, is returned from RecordExchange.
	RecordErr error

	// RecentErr, if non-nil, is returned from Recent.
	RecentErr error

	// SearchErr, if non-nil, is returned from SearchSimilar.
	SearchErr error

	exchanges []memory.Exchange
}

// RecordExchange stores or replaces ex.
func (s *Store) RecordExchange(_ context.Context, ex memory.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecordErr != nil {
		return s.RecordErr
	}
	for i := range s.exchanges {
		if s.exchanges[i].ID == ex.ID {
			s.exchanges[i] = ex
			return nil
		}
	}
	s.exchanges = append(s.exchanges, ex)
	return nil
}

// Recent returns up to limit exchanges for sessionID, oldest first.
func (s *Store) Recent(_ context.Context, sessionID string, limit int) ([]memory.Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecentErr != nil {
		return nil, s.RecentErr
	}

	matched := []memory.Exchange{}
	for _, ex := range s.exchanges {
		if ex.SessionID == sessionID {
			matched = append(matched, ex)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

// SearchSimilar ranks recorded exchanges by cosine distance to embedding.
func (s *Store) SearchSimilar(_ context.Context, embedding []float32, topK int, sessionID string) ([]memory.SimilarExchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}

	results := []memory.SimilarExchange{}
	for _, ex := range s.exchanges {
		if ex.Embedding == nil {
			continue
		}
		if sessionID != "" && ex.SessionID != sessionID {
			continue
		}
		results = append(results, memory.SimilarExchange{
			Exchange: ex,
			Distance: cosineDistance(embedding, ex.Embedding),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Count returns the number of stored exchanges. Thread-safe.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.exchanges)
}

// All returns a copy of every stored exchange in insertion order. Thread-safe.
func (s *Store) All() []memory.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]memory.Exchange, len(s.exchanges))
	copy(out, s.exchanges)
	return out
}

// Reset clears all stored exchanges. Thread-safe.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchanges = nil
}

// cosineDistance returns 1 - cosine similarity, matching pgvector's <=>
// operator. Mismatched or zero-magnitude vectors yield the maximum
// distance of 1.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// Ensure Store implements memory.Store at compile time.
var _ memory.Store = (*Store)(nil)
