// Package store holds the identified, styled collections produced by ingest.
// Entries are append-only and the first write for an identifier wins.
package store

import (
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/osm-viewport/internal/core/model"
	"github.com/mohammed-shakir/osm-viewport/internal/core/observability"
	"github.com/mohammed-shakir/osm-viewport/internal/identity"
)

// StyledResult is one converted query result. Collection must be treated as
// read-only once stored.
type StyledResult struct {
	ID         identity.Identifier        `json:"id"`
	Name       string                     `json:"name"`
	Style      model.Style                `json:"style"`
	Collection *geojson.FeatureCollection `json:"geojson"`
}

type Store struct {
	mu      sync.RWMutex
	results []StyledResult
	index   map[identity.Identifier]int
	changes chan struct{}
}

func New() *Store {
	return &Store{
		index:   make(map[identity.Identifier]int),
		changes: make(chan struct{}, 1),
	}
}

// UpsertIfAbsent appends the result unless id is already present and reports
// whether it was inserted.
func (s *Store) UpsertIfAbsent(id identity.Identifier, name string, style model.Style, fc *geojson.FeatureCollection) bool {
	identity.MustValid(id)
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}

	s.mu.Lock()
	if _, ok := s.index[id]; ok {
		s.mu.Unlock()
		return false
	}
	s.index[id] = len(s.results)
	s.results = append(s.results, StyledResult{ID: id, Name: name, Style: style, Collection: fc})
	n := len(s.results)
	s.mu.Unlock()

	observability.SetStoreCollections(n)
	select {
	case s.changes <- struct{}{}:
	default:
	}
	return true
}

// Snapshot returns the results in insertion order. The slice is a copy; the
// collections are shared.
func (s *Store) Snapshot() []StyledResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StyledResult, len(s.results))
	copy(out, s.results)
	return out
}

func (s *Store) Get(id identity.Identifier) (StyledResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return StyledResult{}, false
	}
	return s.results[i], true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// Changes signals after insertions. Bursts coalesce into a single pending
// signal.
func (s *Store) Changes() <-chan struct{} { return s.changes }
