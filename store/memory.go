package store

import (
	"context"
	"sort"
	"sync"

	"github.com/msoto/lettings-pipeline/models"
)

// Memory is an in-process Warehouse used by tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	links   []models.LinkRecord
	details []models.PropertyDetail
	facts   []models.PropertyFact
}

// NewMemory returns an empty in-memory warehouse.
func NewMemory() *Memory {
	return &Memory{}
}

// AppendLinks appends without superseding earlier sightings.
func (m *Memory) AppendLinks(_ context.Context, links []models.LinkRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, links...)
	return nil
}

// LatestLinks keeps the most recent sighting per property_id.
func (m *Memory) LatestLinks(_ context.Context) ([]models.LinkRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	latest := make(map[string]models.LinkRecord)
	for _, l := range m.links {
		if prev, ok := latest[l.PropertyID]; !ok || l.DateAdded.After(prev.DateAdded) {
			latest[l.PropertyID] = l
		}
	}

	out := make([]models.LinkRecord, 0, len(latest))
	for _, l := range latest {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PropertyID < out[j].PropertyID })
	return out, nil
}

// AllLinks returns every appended sighting, for test assertions.
func (m *Memory) AllLinks() []models.LinkRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.LinkRecord, len(m.links))
	copy(out, m.links)
	return out
}

// ReplaceDetails swaps the detail batch.
func (m *Memory) ReplaceDetails(_ context.Context, details []models.PropertyDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.details = append([]models.PropertyDetail(nil), details...)
	return nil
}

// Details returns the current detail batch.
func (m *Memory) Details(_ context.Context) ([]models.PropertyDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PropertyDetail, len(m.details))
	copy(out, m.details)
	return out, nil
}

// PriorFlags reads flags from the current fact table.
func (m *Memory) PriorFlags(_ context.Context) (map[string]models.UserFlags, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	flags := make(map[string]models.UserFlags, len(m.facts))
	for _, f := range m.facts {
		flags[f.PropertyID] = models.UserFlags{IsFavourite: f.IsFavourite, IsHidden: f.IsHidden}
	}
	return flags, nil
}

// ReplaceFacts swaps the fact table.
func (m *Memory) ReplaceFacts(_ context.Context, facts []models.PropertyFact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts = append([]models.PropertyFact(nil), facts...)
	return nil
}

// Facts returns the fact table sorted by property_id.
func (m *Memory) Facts(_ context.Context) ([]models.PropertyFact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PropertyFact, len(m.facts))
	copy(out, m.facts)
	sort.Slice(out, func(i, j int) bool { return out[i].PropertyID < out[j].PropertyID })
	return out, nil
}

// SetFlag emulates the dashboard's point update; tests use it to seed sticky
// flags between runs.
func (m *Memory) SetFlag(propertyID string, favourite, hidden int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.facts {
		if m.facts[i].PropertyID == propertyID {
			m.facts[i].IsFavourite = favourite
			m.facts[i].IsHidden = hidden
		}
	}
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
