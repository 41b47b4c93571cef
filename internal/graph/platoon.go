package graph

import (
	"container/heap"
	"math"
	"sort"

	"golang.org/x/exp/slices"

	"github.com/haidar-88/mvccp/internal/config"
	"github.com/haidar-88/mvccp/internal/model"
)

// MemberState is the subset of a platoon member's state the graph needs:
// its physical energy attributes and its current 2D formation offset in
// meters (spec.md §4.7 "formation optimization").
type MemberState struct {
	ID              model.NodeID
	BatteryCapacityKWh float64
	BatteryEnergyKWh   float64
	MinReserveKWh      float64
	MaxOutKW           float64
	MaxInKW            float64
	EnergyToDestKWh    float64
	FormationPos       [2]float64
}

// ShareableEnergyKWh is current - energy needed to reach destination -
// minimum reserve. Negative means the member cannot reach its destination
// unassisted.
func (m MemberState) ShareableEnergyKWh() float64 {
	return m.BatteryEnergyKWh - m.EnergyToDestKWh - m.MinReserveKWh
}

// NeedsCharge reports whether the member has an energy deficit.
func (m MemberState) NeedsCharge() bool {
	return m.EnergyToDestKWh+m.MinReserveKWh > m.BatteryEnergyKWh
}

// EdgeGraph is the full-mesh directed edge set between a platoon's
// members, keyed by (source, destination) pair (spec.md §4.7 "edge
// graph"). Grounded on original_source's Platoon.build_edge_graph:
// N*(N-1) directed edges, both directions per pair since energy can flow
// either way.
type EdgeGraph struct {
	edges map[[2]model.NodeID]*Edge
	cfg   *config.Config
}

// Build constructs the full-mesh edge graph for members, using each
// member's current FormationPos for distance.
func Build(members []MemberState, cfg *config.Config) *EdgeGraph {
	g := &EdgeGraph{edges: make(map[[2]model.NodeID]*Edge), cfg: cfg}
	for i, src := range members {
		for j, dst := range members {
			if i == j {
				continue
			}
			d := planarDistance(src.FormationPos, dst.FormationPos)
			g.edges[[2]model.NodeID{src.ID, dst.ID}] = NewEdge(src.ID, dst.ID, src.MaxOutKW, dst.MaxInKW, d, cfg)
		}
	}
	return g
}

// UpdateDistances recomputes every edge's distance from current member
// positions, e.g. after a formation update (spec.md §4.7).
func (g *EdgeGraph) UpdateDistances(members []MemberState) {
	pos := make(map[model.NodeID][2]float64, len(members))
	for _, m := range members {
		pos[m.ID] = m.FormationPos
	}
	for key, e := range g.edges {
		src, dst := pos[key[0]], pos[key[1]]
		e.UpdateDistance(planarDistance(src, dst))
	}
}

// Get returns the edge from src to dst, if present.
func (g *EdgeGraph) Get(src, dst model.NodeID) (*Edge, bool) {
	e, ok := g.edges[[2]model.NodeID{src, dst}]
	return e, ok
}

// Usable returns every edge whose transfer efficiency clears the minimum
// threshold.
func (g *EdgeGraph) Usable() []*Edge {
	var out []*Edge
	for _, e := range g.edges {
		if e.IsUsable() {
			out = append(out, e)
		}
	}
	return out
}

func planarDistance(a, b [2]float64) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	return math.Sqrt(dx*dx + dy*dy)
}

// pqItem is one entry in the Dijkstra priority queue.
type pqItem struct {
	cost            float64
	nodeID          model.NodeID
	path            []model.NodeID
	cumEfficiency   float64
}

type priorityQueue []pqItem

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool   { return pq[i].cost < pq[j].cost }
func (pq priorityQueue) Swap(i, j int)        { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x interface{})  { *pq = append(*pq, x.(pqItem)) }
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// EnergyPath is the result of routing energy to a deficit node: the path
// from a surplus source to the target, the cumulative edge cost, and the
// energy deliverable after efficiency losses along the way.
type EnergyPath struct {
	Path             []model.NodeID
	TotalCost        float64
	DeliverableKWh   float64
}

// DijkstraToSources runs Dijkstra backwards from targetID across incoming
// usable edges to find the cheapest reachable surplus source, mirroring
// original_source's _dijkstra_to_sources: walking "who can transfer TO
// the current node" is equivalent to routing energy FROM a source TO the
// target, without needing a second forward pass.
func (g *EdgeGraph) DijkstraToSources(targetID model.NodeID, sources map[model.NodeID]MemberState) (EnergyPath, bool) {
	pq := &priorityQueue{{cost: 0, nodeID: targetID, path: []model.NodeID{targetID}, cumEfficiency: 1.0}}
	heap.Init(pq)
	visited := make(map[model.NodeID]struct{})

	// Precompute incoming edges per node for O(1) neighbor lookup instead
	// of scanning the full edge map per pop.
	incoming := make(map[model.NodeID][]*Edge)
	for _, e := range g.edges {
		incoming[e.Destination] = append(incoming[e.Destination], e)
	}

	for pq.Len() > 0 {
		item := heap.Pop(pq).(pqItem)
		if _, seen := visited[item.nodeID]; seen {
			continue
		}
		visited[item.nodeID] = struct{}{}

		if src, ok := sources[item.nodeID]; ok {
			deliverable := src.ShareableEnergyKWh() * item.cumEfficiency
			path := make([]model.NodeID, len(item.path))
			copy(path, item.path)
			slices.Reverse(path)
			return EnergyPath{Path: path, TotalCost: item.cost, DeliverableKWh: deliverable}, true
		}

		for _, e := range incoming[item.nodeID] {
			if _, seen := visited[e.Source]; seen {
				continue
			}
			if !e.IsUsable() {
				continue
			}
			newPath := append(append([]model.NodeID{}, item.path...), e.Source)
			heap.Push(pq, pqItem{
				cost:          item.cost + e.Cost,
				nodeID:        e.Source,
				path:          newPath,
				cumEfficiency: item.cumEfficiency * e.TransferEfficiency,
			})
		}
	}
	return EnergyPath{}, false
}

// DistributionEntry is one deficit node's computed sourcing plan.
type DistributionEntry struct {
	DeficitID      model.NodeID
	SourceID       model.NodeID
	Path           []model.NodeID
	EnergyNeededKWh     float64
	EnergyDeliverableKWh float64
	Efficiency     float64
}

// EnergyDistributionPlan runs DijkstraToSources for every deficit member
// against every surplus member and returns the resulting sourcing plan
// per deficit node (spec.md §4.7 "energy distribution plan").
func EnergyDistributionPlan(members []MemberState, cfg *config.Config) []DistributionEntry {
	g := Build(members, cfg)

	surplus := make(map[model.NodeID]MemberState)
	var deficits []MemberState
	for _, m := range members {
		if m.ShareableEnergyKWh() > 0 {
			surplus[m.ID] = m
		}
		if m.NeedsCharge() {
			deficits = append(deficits, m)
		}
	}
	if len(surplus) == 0 || len(deficits) == 0 {
		return nil
	}

	sort.Slice(deficits, func(i, j int) bool { return deficits[i].ID.String() < deficits[j].ID.String() })

	var plan []DistributionEntry
	for _, d := range deficits {
		path, ok := g.DijkstraToSources(d.ID, surplus)
		if !ok {
			continue
		}
		needed := math.Max(0, d.EnergyToDestKWh+d.MinReserveKWh-d.BatteryEnergyKWh)
		cumEff := 1.0
		for i := 0; i+1 < len(path.Path); i++ {
			if e, ok := g.Get(path.Path[i], path.Path[i+1]); ok {
				cumEff *= e.TransferEfficiency
			}
		}
		var source model.NodeID
		if len(path.Path) > 0 {
			source = path.Path[0]
		}
		plan = append(plan, DistributionEntry{
			DeficitID:            d.ID,
			SourceID:             source,
			Path:                 path.Path,
			EnergyNeededKWh:      needed,
			EnergyDeliverableKWh: path.DeliverableKWh,
			Efficiency:           cumEff,
		})
	}
	return plan
}

// FormationConstraints bounds the 2D positions the optimizer may assign
// (spec.md §4.7 "formation constraints").
type FormationConstraints struct {
	MinDistanceM       float64
	MaxLateralM        float64
	MaxLongitudinalM   float64
	MaxRelaxationPasses int
}

// DefaultFormationConstraints returns the configured defaults.
func DefaultFormationConstraints(cfg *config.Config) FormationConstraints {
	return FormationConstraints{
		MinDistanceM:        cfg.FormationMinDist,
		MaxLateralM:         cfg.FormationMaxLateral,
		MaxLongitudinalM:    cfg.FormationMaxLong,
		MaxRelaxationPasses: cfg.FormationMaxPasses,
	}
}

// ComputeOptimalFormation positions deficit members near their best
// surplus source, then resolves minimum-distance violations by iterative
// relaxation (spec.md §4.7 "formation optimizer"). headID's position is
// pinned at the origin. Returns nil if there is nothing to optimize (no
// surplus or no deficit members).
func ComputeOptimalFormation(members []MemberState, headID model.NodeID, constraints FormationConstraints) map[model.NodeID][2]float64 {
	var surplus, deficit []MemberState
	for _, m := range members {
		if m.ShareableEnergyKWh() > 0 {
			surplus = append(surplus, m)
		}
		if m.NeedsCharge() {
			deficit = append(deficit, m)
		}
	}
	if len(surplus) == 0 || len(deficit) == 0 {
		return nil
	}

	formation := make(map[model.NodeID][2]float64)
	var head *MemberState
	for i := range members {
		if members[i].ID == headID {
			head = &members[i]
			break
		}
	}
	if head != nil {
		formation[headID] = [2]float64{0, 0}
	}

	// Surplus members furthest-energy-first, stable positions near the head.
	sort.SliceStable(surplus, func(i, j int) bool { return surplus[i].ShareableEnergyKWh() > surplus[j].ShareableEnergyKWh() })
	idx := 0
	for _, s := range surplus {
		if s.ID == headID {
			continue
		}
		y := float64(idx+1) * 3.0
		x := 1.0
		if idx%2 != 0 {
			x = -1.0
		}
		formation[s.ID] = [2]float64{x, y}
		idx++
	}

	// Deficit members sorted lowest-battery-ratio first, positioned near
	// whichever surplus member currently has the most shareable energy.
	sort.SliceStable(deficit, func(i, j int) bool {
		ri := deficit[i].BatteryEnergyKWh / math.Max(deficit[i].BatteryCapacityKWh, 0.01)
		rj := deficit[j].BatteryEnergyKWh / math.Max(deficit[j].BatteryCapacityKWh, 0.01)
		return ri < rj
	})
	for _, d := range deficit {
		if _, already := formation[d.ID]; already {
			continue
		}
		var bestSourceID model.NodeID
		bestEnergy := 0.0
		haveSource := false
		for _, s := range surplus {
			if s.ShareableEnergyKWh() > bestEnergy {
				bestEnergy = s.ShareableEnergyKWh()
				bestSourceID = s.ID
				haveSource = true
			}
		}
		if haveSource {
			if sourcePos, ok := formation[bestSourceID]; ok {
				formation[d.ID] = findOptimalPositionNear(sourcePos, formation, constraints)
				continue
			}
		}
		formation[d.ID] = [2]float64{0, float64(len(formation)) * 3.0}
	}

	return adjustForConstraints(formation, constraints)
}

// findOptimalPositionNear grid-searches a small ring of candidate offsets
// around sourcePos and returns the closest one that clears the minimum
// distance from every existing member and the lateral bound.
func findOptimalPositionNear(sourcePos [2]float64, existing map[model.NodeID][2]float64, c FormationConstraints) [2]float64 {
	var best [2]float64
	bestScore := math.Inf(1)
	found := false

	dys := []float64{c.MinDistanceM, c.MinDistanceM * 1.5, c.MinDistanceM * 2.0}
	dxs := []float64{0.0, c.MinDistanceM, -c.MinDistanceM}

	for _, dy := range dys {
		for _, dx := range dxs {
			candidate := [2]float64{sourcePos[0] + dx, sourcePos[1] + dy}
			if math.Abs(candidate[0]) > c.MaxLateralM {
				continue
			}
			valid := true
			for _, pos := range existing {
				if planarDistance(candidate, pos) < c.MinDistanceM {
					valid = false
					break
				}
			}
			if !valid {
				continue
			}
			distToSource := planarDistance(candidate, sourcePos)
			if distToSource < bestScore {
				bestScore, best, found = distToSource, candidate, true
			}
		}
	}
	if !found {
		return [2]float64{sourcePos[0], sourcePos[1] + c.MinDistanceM*2}
	}
	return best
}

// adjustForConstraints clamps every position into bounds, then
// iteratively pushes apart any pair violating the minimum distance
// (spec.md §4.7 "constraint relaxation").
func adjustForConstraints(formation map[model.NodeID][2]float64, c FormationConstraints) map[model.NodeID][2]float64 {
	adjusted := make(map[model.NodeID][2]float64, len(formation))
	ids := make([]model.NodeID, 0, len(formation))
	for id, pos := range formation {
		x := math.Max(-c.MaxLateralM, math.Min(c.MaxLateralM, pos[0]))
		y := math.Max(0, math.Min(c.MaxLongitudinalM, pos[1]))
		adjusted[id] = [2]float64{x, y}
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b model.NodeID) int {
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

	passes := c.MaxRelaxationPasses
	if passes <= 0 {
		passes = 10
	}
	for pass := 0; pass < passes; pass++ {
		violations := 0
		for i, id1 := range ids {
			for _, id2 := range ids[i+1:] {
				pos1, pos2 := adjusted[id1], adjusted[id2]
				dist := planarDistance(pos1, pos2)
				if dist < c.MinDistanceM && dist > config.FloatEpsilon {
					violations++
					overlap := c.MinDistanceM - dist
					dx, dy := pos2[0]-pos1[0], pos2[1]-pos1[1]
					pushX := (dx / dist) * overlap * 0.5
					pushY := (dy / dist) * overlap * 0.5
					adjusted[id1] = [2]float64{pos1[0] - pushX, pos1[1] - pushY}
					adjusted[id2] = [2]float64{pos2[0] + pushX, pos2[1] + pushY}
				}
			}
		}
		if violations == 0 {
			break
		}
	}
	return adjusted
}

// FormationEfficiency averages transfer efficiency across every usable
// edge of the full-mesh graph built from members' current FormationPos
// (spec.md §4.7 "get_formation_efficiency"). Zero if no edge clears the
// usability threshold.
func FormationEfficiency(members []MemberState, cfg *config.Config) float64 {
	usable := Build(members, cfg).Usable()
	if len(usable) == 0 {
		return 0
	}
	var total float64
	for _, e := range usable {
		total += e.TransferEfficiency
	}
	return total / float64(len(usable))
}
