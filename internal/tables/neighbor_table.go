// Package tables holds the RWMutex-guarded shared state each protocol
// layer reads and writes: the neighbor, provider and platoon tables
// (spec.md §3). The neighbor table validates updates against the model
// package's whitelist before taking the lock, does its rate-limited pruning
// piggybacked on a write, and logs outside the critical section; the
// provider table prunes stale entries on every read, and the platoon table
// prunes only when PruneStale is called — the
// same shape as ptp4u/server/subscription.go's syncMapCli, generalized
// from "UDP client" to "table entry".
package tables

import (
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/haidar-88/mvccp/internal/config"
	"github.com/haidar-88/mvccp/internal/model"
)

// NeighborTable is the one-hop neighbor set built from received HELLOs
// (spec.md §4.4). Grounded on original_source's NeighborTable:
// update_neighbor validates and rate-limit-prunes under the same lock
// acquisition, reading the clock inside the critical section to avoid a
// stale-prune race.
type NeighborTable struct {
	mu            sync.RWMutex
	m             map[model.NodeID]*model.NeighborEntry
	lastPruneTime float64
	selfID        model.NodeID
	cfg           *config.Config
	log           *logrus.Entry
}

// NewNeighborTable constructs an empty table for selfID.
func NewNeighborTable(selfID model.NodeID, cfg *config.Config, log *logrus.Entry) *NeighborTable {
	return &NeighborTable{
		m:      make(map[model.NodeID]*model.NeighborEntry),
		selfID: selfID,
		cfg:    cfg,
		log:    log,
	}
}

// Update creates or refreshes a neighbor entry. attrs is validated and
// filtered before any lock is taken; two-hop self-references are dropped.
// currentTime must come from the caller's monotonic clock read.
func (t *NeighborTable) Update(id model.NodeID, attrs model.Attrs, twoHop []model.NodeID, currentTime float64) {
	safeAttrs, rejected := model.ValidateAttrs(attrs)

	safeTwoHop := make(map[model.NodeID]struct{}, len(twoHop))
	for _, nid := range twoHop {
		if nid == t.selfID {
			continue
		}
		safeTwoHop[nid] = struct{}{}
	}

	var isNew bool
	var pruned []model.NodeID

	t.mu.Lock()
	if currentTime-t.lastPruneTime > t.cfg.PruneInterval {
		pruned = t.pruneStaleLocked(currentTime)
		t.lastPruneTime = currentTime
	}

	entry, ok := t.m[id]
	if !ok {
		entry = &model.NeighborEntry{Node: model.Node{ID: id}}
		t.m[id] = entry
		isNew = true
	}
	entry.LastSeen = currentTime
	model.ApplyToNode(&entry.Node, safeAttrs, defaultsFrom(t.cfg))
	entry.TwoHopNeighbors = safeTwoHop
	entry.LinkStatus = "SYM"
	t.mu.Unlock()

	if t.log == nil {
		return
	}
	for _, k := range rejected {
		t.log.WithField("neighbor", id.String()).Warnf("dropped out-of-range attribute %q", k)
	}
	if isNew {
		t.log.WithField("neighbor", id.String()).Debug("new neighbor discovered")
	}
	for _, nid := range pruned {
		t.log.WithField("neighbor", nid.String()).Debug("removed stale neighbor")
	}
}

// pruneStaleLocked must be called with mu held for writing.
func (t *NeighborTable) pruneStaleLocked(currentTime float64) []model.NodeID {
	var removed []model.NodeID
	for id, e := range t.m {
		if currentTime-e.LastSeen > t.cfg.NeighborTimeout {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		delete(t.m, id)
	}
	return removed
}

// Get returns a copy of a neighbor entry.
func (t *NeighborTable) Get(id model.NodeID) (model.NeighborEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.m[id]
	if !ok {
		return model.NeighborEntry{}, false
	}
	return *e, true
}

// OneHopSet returns a deterministic snapshot of one-hop neighbor ids.
func (t *NeighborTable) OneHopSet() []model.NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.NodeID, 0, len(t.m))
	for id := range t.m {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b model.NodeID) int {
		for i := range a {
			if a[i] != b[i] {
				if a[i] < b[i] {
					return -1
				}
				return 1
			}
		}
		return 0
	})
	return out
}

// TwoHopSet returns the union of all neighbors' two-hop lists, excluding
// self and anyone already a one-hop neighbor.
func (t *NeighborTable) TwoHopSet() map[model.NodeID]struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[model.NodeID]struct{})
	for id, e := range t.m {
		for nid := range e.TwoHopNeighbors {
			out[nid] = struct{}{}
		}
		_ = id
	}
	delete(out, t.selfID)
	for id := range t.m {
		delete(out, id)
	}
	return out
}

// Snapshot returns a defensive copy of every neighbor entry, keyed by id.
func (t *NeighborTable) Snapshot() map[model.NodeID]model.NeighborEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[model.NodeID]model.NeighborEntry, len(t.m))
	for id, e := range t.m {
		out[id] = *e
	}
	return out
}

// Count returns the number of one-hop neighbors.
func (t *NeighborTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}

// PruneStale explicitly triggers pruning outside the normal rate limit,
// e.g. on a dedicated maintenance tick.
func (t *NeighborTable) PruneStale(currentTime float64) {
	t.mu.Lock()
	pruned := t.pruneStaleLocked(currentTime)
	t.lastPruneTime = currentTime
	t.mu.Unlock()
	if t.log == nil {
		return
	}
	for _, id := range pruned {
		t.log.WithField("neighbor", id.String()).Debug("removed stale neighbor")
	}
}

func defaultsFrom(cfg *config.Config) model.Defaults {
	return model.Defaults{
		BatteryCapacityKWh: cfg.DefaultBatteryCapacityKWh,
		BatteryEnergyKWh:   cfg.DefaultBatteryEnergyKWh,
		MinEnergyKWh:       cfg.DefaultMinEnergyKWh,
		MaxTransferInKW:    cfg.DefaultMaxTransferInKW,
		MaxTransferOutKW:   cfg.DefaultMaxTransferOutKW,
		Willingness:        float64(cfg.DefaultWillingness),
		LaneWeight:         cfg.DefaultLaneWeight,
		LinkStability:      cfg.DefaultLinkStability,
		ETX:                cfg.DefaultETX,
	}
}
