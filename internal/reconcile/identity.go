// Package reconcile decides, per record, whether an external record maps to
// an existing local item or needs a new one, and keeps the run's
// external id to local id mapping.
package reconcile

import (
	"fmt"

	"github.com/starford/kenaz-import/internal/apperr"
	"github.com/starford/kenaz-import/internal/models"
)

// IdentityMap maps external ids to local ids. Entries are written at most
// once and never removed.
type IdentityMap struct {
	ids   map[string]int64
	order []string
}

// NewIdentityMap returns an empty map.
func NewIdentityMap() *IdentityMap {
	return &IdentityMap{ids: make(map[string]int64)}
}

// Set records a mapping. Writing a key twice is an error.
func (m *IdentityMap) Set(externalID string, localID int64) error {
	if externalID == "" {
		return fmt.Errorf("reconcile: empty external id: %w", apperr.ErrRecordValidation)
	}
	if _, ok := m.ids[externalID]; ok {
		return fmt.Errorf("reconcile: external id %q already mapped: %w", externalID, apperr.ErrAlreadyExists)
	}
	m.ids[externalID] = localID
	m.order = append(m.order, externalID)
	return nil
}

// Lookup returns the local id for externalID, or false when unmapped.
func (m *IdentityMap) Lookup(externalID string) (int64, bool) {
	id, ok := m.ids[externalID]
	return id, ok
}

// Len returns the number of entries.
func (m *IdentityMap) Len() int { return len(m.order) }

// Entries returns every mapping in insertion order.
func (m *IdentityMap) Entries() []models.IdentityEntry {
	out := make([]models.IdentityEntry, len(m.order))
	for i, k := range m.order {
		out[i] = models.IdentityEntry{ExternalID: k, LocalID: m.ids[k]}
	}
	return out
}
