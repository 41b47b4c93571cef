package tables

import (
	"math"
	"sort"
	"sync"

	"github.com/haidar-88/mvccp/internal/config"
	"github.com/haidar-88/mvccp/internal/model"
)

// PlatoonTable is a consumer's view of nearby platoons, populated from
// PLATOON_ANNOUNCE messages and used for inter-platoon discovery (spec.md
// §4.7). Grounded on original_source's PlatoonTable, including its
// distance/direction/energy scoring formula.
type PlatoonTable struct {
	mu            sync.RWMutex
	m             map[model.NodeID]model.PlatoonEntry
	entryTimeout  float64
	wDirection    float64
	wDistance     float64
	wEnergy       float64
}

// NewPlatoonTable constructs an empty table.
func NewPlatoonTable(cfg *config.Config) *PlatoonTable {
	return &PlatoonTable{
		m:            make(map[model.NodeID]model.PlatoonEntry),
		entryTimeout: cfg.PlatoonEntryTimeout,
		wDirection:   cfg.PlatoonScoreDirection,
		wDistance:    cfg.PlatoonScoreDistance,
		wEnergy:      cfg.PlatoonScoreEnergy,
	}
}

// Update inserts or refreshes a platoon entry.
func (t *PlatoonTable) Update(entry model.PlatoonEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[entry.PlatoonID] = entry
}

// Get returns a platoon entry by id.
func (t *PlatoonTable) Get(id model.NodeID) (model.PlatoonEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.m[id]
	return e, ok
}

// All returns every known platoon, sorted by id for determinism.
func (t *PlatoonTable) All() []model.PlatoonEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.PlatoonEntry, 0, len(t.m))
	for _, e := range t.m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlatoonID.String() < out[j].PlatoonID.String() })
	return out
}

// Available returns platoons with open slots.
func (t *PlatoonTable) Available() []model.PlatoonEntry {
	var out []model.PlatoonEntry
	for _, e := range t.All() {
		if e.HasCapacity() {
			out = append(out, e)
		}
	}
	return out
}

// PruneStale removes entries that haven't been refreshed within
// entryTimeout and returns the count removed.
func (t *PlatoonTable) PruneStale(currentTime float64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var stale []model.NodeID
	for id, e := range t.m {
		if e.IsStale(currentTime, t.entryTimeout) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(t.m, id)
	}
	return len(stale)
}

// Remove deletes a specific entry.
func (t *PlatoonTable) Remove(id model.NodeID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.m[id]; !ok {
		return false
	}
	delete(t.m, id)
	return true
}

// Score computes how well a platoon matches a consumer's needs: a
// weighted sum of direction alignment, inverse distance and energy
// sufficiency, with a formation-efficiency bonus and a heavy penalty for
// platoons with no open slots (spec.md §4.7 "platoon score").
func (t *PlatoonTable) Score(entry model.PlatoonEntry, consumerPos model.LatLon, consumerDir [2]float64, energyNeededKWh, kmPerDegree float64) float64 {
	directionMatch := dot(consumerDir, entry.Direction)
	directionScore := (directionMatch + 1.0) / 2.0

	distanceKM := model.EuclideanDistanceKM(consumerPos, entry.Position, kmPerDegree)
	distanceScore := 1.0 / (1.0 + distanceKM/10.0)

	var energyScore float64
	if energyNeededKWh > config.FloatEpsilon {
		energyScore = math.Min(1.0, entry.SurplusKWh/energyNeededKWh)
	} else if entry.SurplusKWh > 0 {
		energyScore = 1.0
	}

	efficiencyBonus := entry.FormationEfficiency * 0.1

	score := t.wDirection*directionScore + t.wDistance*distanceScore + t.wEnergy*energyScore + efficiencyBonus
	if !entry.HasCapacity() {
		score *= 0.1
	}
	return score
}

// FindBest returns the highest-scoring available platoon, excluding
// excludeID (typically the consumer's current platoon, if any).
func (t *PlatoonTable) FindBest(consumerPos model.LatLon, consumerDir [2]float64, energyNeededKWh, kmPerDegree float64, excludeID *model.NodeID) (model.PlatoonEntry, bool) {
	entries := t.All()
	var best model.PlatoonEntry
	bestScore := math.Inf(-1)
	found := false
	for _, e := range entries {
		if excludeID != nil && e.PlatoonID == *excludeID {
			continue
		}
		if !e.HasCapacity() {
			continue
		}
		s := t.Score(e, consumerPos, consumerDir, energyNeededKWh, kmPerDegree)
		if s > bestScore {
			bestScore, best, found = s, e, true
		}
	}
	return best, found
}

func dot(a, b [2]float64) float64 {
	return a[0]*b[0] + a[1]*b[1]
}
