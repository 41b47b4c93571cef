package tables

import (
	"sort"
	"sync"

	"github.com/haidar-88/mvccp/internal/config"
	"github.com/haidar-88/mvccp/internal/model"
)

// ProviderTable is the set of known energy providers built from PA and
// GRID_STATUS messages (spec.md §4.5, §4.6). Grounded on
// original_source's ProviderTable: a refreshed entry preserves the
// consumer-computed ranking fields (detour cost, route alignment, total
// cost) from the entry it replaces, so an in-flight evaluation isn't
// clobbered by the next periodic announcement.
type ProviderTable struct {
	mu             sync.RWMutex
	m              map[model.NodeID]model.ProviderEntry
	providerTimeout float64
}

// NewProviderTable constructs an empty provider table.
func NewProviderTable(cfg *config.Config) *ProviderTable {
	return &ProviderTable{
		m:               make(map[model.NodeID]model.ProviderEntry),
		providerTimeout: cfg.ProviderTimeout,
	}
}

// Update inserts or refreshes a provider entry, preserving calculated
// fields from any existing entry with the same id.
func (t *ProviderTable) Update(entry model.ProviderEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.m[entry.ProviderID]; ok {
		entry.DetourCostKWh = prev.DetourCostKWh
		entry.RouteAlignment = prev.RouteAlignment
		entry.TotalCost = prev.TotalCost
	}
	t.m[entry.ProviderID] = entry
}

// SetCalculatedFields writes back the consumer-computed ranking fields
// for a provider already in the table, without disturbing its other
// fields. No-op if the provider is no longer present.
func (t *ProviderTable) SetCalculatedFields(id model.NodeID, detourCostKWh, routeAlignment, totalCost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.m[id]
	if !ok {
		return
	}
	e.DetourCostKWh = detourCostKWh
	e.RouteAlignment = routeAlignment
	e.TotalCost = totalCost
	t.m[id] = e
}

// Get returns a provider entry after pruning stale entries.
func (t *ProviderTable) Get(id model.NodeID, currentTime float64) (model.ProviderEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanStaleLocked(currentTime)
	e, ok := t.m[id]
	return e, ok
}

// All returns every current provider, pruning stale entries first.
func (t *ProviderTable) All(currentTime float64) []model.ProviderEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanStaleLocked(currentTime)
	out := make([]model.ProviderEntry, 0, len(t.m))
	for _, e := range t.m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID.String() < out[j].ProviderID.String() })
	return out
}

// RREHs returns every RREH provider.
func (t *ProviderTable) RREHs(currentTime float64) []model.ProviderEntry {
	var out []model.ProviderEntry
	for _, e := range t.All(currentTime) {
		if e.IsRREH() {
			out = append(out, e)
		}
	}
	return out
}

// PlatoonHeads returns every platoon-head provider.
func (t *ProviderTable) PlatoonHeads(currentTime float64) []model.ProviderEntry {
	var out []model.ProviderEntry
	for _, e := range t.All(currentTime) {
		if e.IsPlatoonHead() {
			out = append(out, e)
		}
	}
	return out
}

// WithCapacity returns every provider that currently has room for a new
// consumer.
func (t *ProviderTable) WithCapacity(currentTime float64) []model.ProviderEntry {
	var out []model.ProviderEntry
	for _, e := range t.All(currentTime) {
		if e.HasCapacity() {
			out = append(out, e)
		}
	}
	return out
}

// Remove deletes a provider entry, e.g. after a failed handshake.
func (t *ProviderTable) Remove(id model.NodeID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.m[id]; !ok {
		return false
	}
	delete(t.m, id)
	return true
}

func (t *ProviderTable) cleanStaleLocked(currentTime float64) {
	for id, e := range t.m {
		if currentTime-e.Timestamp > t.providerTimeout {
			delete(t.m, id)
		}
	}
}
