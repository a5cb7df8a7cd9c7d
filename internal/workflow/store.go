// Package workflow holds the client side of the listing flow: the shared
// in-progress listing state and the navigation guard in front of each step.
package workflow

import (
	"maps"
	"slices"
	"sync"

	"github.com/szaher/designs/listingmock/internal/fixtures"
)

// Snapshot is a point-in-time copy of a Store.
type Snapshot struct {
	Marketplace      string            `json:"marketplace,omitempty"`
	ProductName      string            `json:"product_name,omitempty"`
	SelectedCategory string            `json:"selected_category,omitempty"`
	Categories       []string          `json:"categories,omitempty"`
	Aspects          map[string]string `json:"aspects"`
	Required         []string          `json:"required,omitempty"`
	Recommendations  []string          `json:"recommendations"`
}

// Store is the in-progress listing shared by the recognize, aspects and
// publish steps. It is safe for concurrent use.
type Store struct {
	mu sync.RWMutex
	s  Snapshot
}

// NewStore returns an empty store.
func NewStore() *Store {
	st := &Store{}
	st.reset()
	return st
}

func (st *Store) reset() {
	st.s = Snapshot{
		Aspects:         map[string]string{},
		Recommendations: []string{},
	}
}

// SetMarketplace records the marketplace the listing targets.
func (st *Store) SetMarketplace(marketplace string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Marketplace = marketplace
}

// SetProductName records the product name, usually from recognition.
func (st *Store) SetProductName(name string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.ProductName = name
}

// SetSelectedCategory records the category the listing will use.
func (st *Store) SetSelectedCategory(category string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.SelectedCategory = category
}

// SetRecommendations replaces the recommendations with a copy of recs.
func (st *Store) SetRecommendations(recs []string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Recommendations = slices.Clone(recs)
	if st.s.Recommendations == nil {
		st.s.Recommendations = []string{}
	}
}

// SetAspects replaces the aspect map with a copy of aspects, so later
// changes to the caller's map do not leak in.
func (st *Store) SetAspects(aspects map[string]string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Aspects = maps.Clone(aspects)
	if st.s.Aspects == nil {
		st.s.Aspects = map[string]string{}
	}
}

// UpdateAspect sets one aspect. The key need not exist yet.
func (st *Store) UpdateAspect(key, value string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Aspects[key] = value
}

// AbsorbRecognition records a recognition result. The first category is
// preselected.
func (st *Store) AbsorbRecognition(marketplace string, r fixtures.Recognition) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Marketplace = marketplace
	st.s.ProductName = r.ProductName
	st.s.Categories = slices.Clone(r.Categories)
	st.s.SelectedCategory = ""
	if len(r.Categories) > 0 {
		st.s.SelectedCategory = r.Categories[0]
	}
}

// AbsorbSchema replaces the aspects with those of schema and remembers
// which of them are required.
func (st *Store) AbsorbSchema(schema fixtures.AspectSchema) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Aspects = maps.Clone(schema.Product.Aspects)
	if st.s.Aspects == nil {
		st.s.Aspects = map[string]string{}
	}
	st.s.Required = slices.Clone(schema.Product.Required)
}

// MissingRequired lists the required aspects that have no value, in
// schema order.
func (st *Store) MissingRequired() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	var missing []string
	for _, name := range st.s.Required {
		if st.s.Aspects[name] == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// Clear resets every field; used when the flow restarts or on logout.
func (st *Store) Clear() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.reset()
}

// Snapshot returns a deep copy of the current state.
func (st *Store) Snapshot() Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s := st.s
	s.Categories = slices.Clone(s.Categories)
	s.Aspects = maps.Clone(s.Aspects)
	s.Required = slices.Clone(s.Required)
	s.Recommendations = slices.Clone(s.Recommendations)
	return s
}

// Item is the publish payload built from the current state.
func (st *Store) Item() map[string]any {
	s := st.Snapshot()
	return map[string]any{
		"marketplace":  s.Marketplace,
		"product_name": s.ProductName,
		"category":     s.SelectedCategory,
		"aspects":      s.Aspects,
	}
}
