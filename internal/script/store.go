package script

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/BTreeMap/ScriptFlow/internal/models"
)

// Store holds registered script definitions keyed by feature. One definition per
// feature; re-registering a feature replaces its definition.
type Store struct {
	mu        sync.RWMutex
	byFeature map[models.Feature]*Definition
}

// NewStore creates an empty definition store.
func NewStore() *Store {
	return &Store{
		byFeature: make(map[models.Feature]*Definition),
	}
}

// Register validates def and stores a copy of it under its feature.
func (s *Store) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		slog.Error("Store.Register: invalid script definition", "error", err)
		return err
	}
	cp := def.clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, exists := s.byFeature[cp.Feature]; exists {
		slog.Debug("Store.Register: replacing script definition", "feature", cp.Feature, "old", old.ID, "new", cp.ID)
	}
	s.byFeature[cp.Feature] = cp
	slog.Debug("Store.Register: script registered", "feature", cp.Feature, "script", cp.ID, "steps", len(cp.Steps))
	return nil
}

// MustRegister is like Register but panics on an invalid definition. Intended for
// startup wiring.
func (s *Store) MustRegister(def *Definition) {
	if err := s.Register(def); err != nil {
		panic(err)
	}
}

// GetByFeature retrieves the definition registered for feature.
func (s *Store) GetByFeature(feature models.Feature) (*Definition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.byFeature[feature]
	return def, ok
}

// Features returns the registered features, sorted.
func (s *Store) Features() []models.Feature {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Feature, 0, len(s.byFeature))
	for f := range s.byFeature {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
