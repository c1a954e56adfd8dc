package store

import (
	"context"
	"maps"
	"sort"
	"sync"
)

// InMemoryStore is a brute-force cosine index. It backs tests, the dummy
// provider and small demo catalogs loaded at startup.
type InMemoryStore struct {
	mu     sync.RWMutex
	points map[string]Point
	order  []string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{points: make(map[string]Point)}
}

func (s *InMemoryStore) Upsert(_ context.Context, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		if len(p.Vector) == 0 {
			return ErrVectorMismatch
		}
		if _, exists := s.points[p.ID]; !exists {
			s.order = append(s.order, p.ID)
		}
		s.points[p.ID] = Point{
			ID:       p.ID,
			Vector:   append([]float32(nil), p.Vector...),
			Metadata: maps.Clone(p.Metadata),
		}
	}
	return nil
}

func (s *InMemoryStore) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	if err := validateQuery(vector, topK); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	matches := make([]Match, 0, len(s.points))
	for _, id := range s.order {
		p := s.points[id]
		matches = append(matches, Match{
			ID:       p.ID,
			Score:    CosineSimilarity(vector, p.Vector),
			Metadata: maps.Clone(p.Metadata),
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}
