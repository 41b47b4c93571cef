package layerd

import (
	"math"
	"sort"

	"github.com/haidar-88/mvccp/internal/config"
	"github.com/haidar-88/mvccp/internal/graph"
	"github.com/haidar-88/mvccp/internal/model"
)

// formationMember is one platoon member as seen from the head's side,
// the minimal data computeFormation needs (spec.md §4.7, grounded on
// original_source/src/core/platoon.py's Node-backed formation code,
// adapted to the head's id-indexed MemberStatus view rather than a
// back-reference to each member's live Node).
type formationMember struct {
	ID              model.NodeID
	IsHead          bool
	BatteryKWh      float64
	BatteryCapacity float64
	ShareableKWh    float64
	MaxOutKW        float64
	MaxInKW         float64
}

// toMemberState adapts a formationMember to graph.MemberState for the
// edge graph and Dijkstra routing below. PLATOON_STATUS carries a
// battery level and a derived shareable figure but no destination-
// energy/reserve breakdown, so EnergyToDestKWh is backed out from
// ShareableKWh with MinReserveKWh folded to zero; this reproduces the
// same ShareableEnergyKWh()/NeedsCharge() split the head already uses.
func (m formationMember) toMemberState() graph.MemberState {
	return graph.MemberState{
		ID:                 m.ID,
		BatteryCapacityKWh: m.BatteryCapacity,
		BatteryEnergyKWh:   m.BatteryKWh,
		EnergyToDestKWh:    m.BatteryKWh - m.ShareableKWh,
		MaxOutKW:           m.MaxOutKW,
		MaxInKW:            m.MaxInKW,
	}
}

// computeFormation positions every platoon member in 2D space (meters,
// head-relative) to favor short, efficient edges between energy-surplus
// and energy-deficit members, Dijkstra-routes each deficit member to
// its cheapest reachable surplus source over the resulting edge graph,
// and reports the average usable-edge efficiency of the layout
// (platoon.py "compute_optimal_formation" +
// "calculate_energy_distribution_plan" + "get_formation_efficiency").
//
// members must include the head (IsHead true) exactly once. Order is
// not significant; surplus members are sorted internally by shareable
// energy and deficit members by battery fraction.
func computeFormation(members []formationMember, cfg *config.Config) (map[model.NodeID][2]float64, float64, []graph.DistributionEntry) {
	if len(members) == 0 {
		return nil, 0, nil
	}
	if len(members) == 1 {
		return map[model.NodeID][2]float64{members[0].ID: {0, 0}}, 0, nil
	}

	var head formationMember
	others := make([]formationMember, 0, len(members)-1)
	for _, m := range members {
		if m.IsHead {
			head = m
		} else {
			others = append(others, m)
		}
	}

	surplus, deficit := partitionByEnergy(others)
	formation := map[model.NodeID][2]float64{head.ID: {0, 0}}

	// Surplus members ride close behind the head, alternating sides,
	// since they're the stable energy sources (platoon.py
	// "compute_optimal_formation" surplus placement).
	sort.Slice(surplus, func(i, j int) bool { return surplus[i].ShareableKWh > surplus[j].ShareableKWh })
	for i, m := range surplus {
		x := 1.0
		if i%2 == 0 {
			x = -1.0
		}
		formation[m.ID] = [2]float64{x, float64(i+1) * cfg.FormationMinDist * 1.5}
	}

	// Deficit members start at a placeholder slot so the edge graph
	// below has a position to route against; the Dijkstra pass just
	// below relocates each one near its actual assigned source.
	sort.Slice(deficit, func(i, j int) bool {
		return deficit[i].BatteryKWh/max1(deficit[i].BatteryCapacity) < deficit[j].BatteryKWh/max1(deficit[j].BatteryCapacity)
	})
	for i, m := range deficit {
		formation[m.ID] = [2]float64{0, float64(len(surplus)+i+1) * cfg.FormationMinDist * 1.5}
	}

	sourceOf := sourceAssignments(members, formation, cfg)
	for _, m := range deficit {
		sourceID, routed := sourceOf[m.ID]
		if !routed {
			continue
		}
		sourcePos, ok := formation[sourceID]
		if !ok {
			continue
		}
		// Drop this member's placeholder before searching so it doesn't
		// collide with itself.
		delete(formation, m.ID)
		formation[m.ID] = findOpenPositionNear(sourcePos, formation, cfg)
	}

	formation = adjustForConstraints(formation, cfg)

	states := memberStates(members, formation)
	finalPlan := graph.EnergyDistributionPlan(states, cfg)
	return formation, graph.FormationEfficiency(states, cfg), finalPlan
}

// sourceAssignments runs the Dijkstra-based distribution plan over
// members at their current formation positions and returns each deficit
// member's cheapest reachable surplus source (platoon.py
// "calculate_energy_distribution_plan" / "_dijkstra_to_sources").
func sourceAssignments(members []formationMember, formation map[model.NodeID][2]float64, cfg *config.Config) map[model.NodeID]model.NodeID {
	plan := graph.EnergyDistributionPlan(memberStates(members, formation), cfg)
	sources := make(map[model.NodeID]model.NodeID, len(plan))
	for _, e := range plan {
		sources[e.DeficitID] = e.SourceID
	}
	return sources
}

func memberStates(members []formationMember, formation map[model.NodeID][2]float64) []graph.MemberState {
	states := make([]graph.MemberState, len(members))
	for i, m := range members {
		s := m.toMemberState()
		s.FormationPos = formation[m.ID]
		states[i] = s
	}
	return states
}

// partitionByEnergy splits non-head members into those with spare
// shareable energy and those running a deficit (platoon.py
// "get_energy_surplus_nodes"/"get_energy_deficit_nodes").
func partitionByEnergy(members []formationMember) (surplus, deficit []formationMember) {
	for _, m := range members {
		if m.ShareableKWh > 0 {
			surplus = append(surplus, m)
		} else {
			deficit = append(deficit, m)
		}
	}
	return surplus, deficit
}

// findOpenPositionNear grid-searches a small ring around source for a
// position that keeps FormationMinDist from every already-placed member
// and stays within FormationMaxLateral (platoon.py
// "_find_optimal_position_near").
func findOpenPositionNear(source [2]float64, placed map[model.NodeID][2]float64, cfg *config.Config) [2]float64 {
	minDist := cfg.FormationMinDist
	maxLateral := cfg.FormationMaxLateral

	var best [2]float64
	bestDist := math.Inf(1)
	found := false

	for _, dy := range []float64{minDist, minDist * 1.5, minDist * 2.0} {
		for _, dx := range []float64{0, minDist, -minDist} {
			candidate := [2]float64{source[0] + dx, source[1] + dy}
			if math.Abs(candidate[0]) > maxLateral {
				continue
			}
			ok := true
			for _, pos := range placed {
				if distance2D(candidate, pos) < minDist {
					ok = false
					break
				}
			}
			if !ok {
				continue
			}
			d := distance2D(candidate, source)
			if d < bestDist {
				bestDist, best, found = d, candidate, true
			}
		}
	}
	if !found {
		return [2]float64{source[0], source[1] + minDist*2}
	}
	return best
}

// adjustForConstraints clamps every position to the lane/following-
// distance bounds, then iteratively pushes apart any pair still closer
// than FormationMinDist (platoon.py "_adjust_for_constraints").
func adjustForConstraints(formation map[model.NodeID][2]float64, cfg *config.Config) map[model.NodeID][2]float64 {
	minDist := cfg.FormationMinDist
	maxLateral := cfg.FormationMaxLateral
	maxLong := cfg.FormationMaxLong

	ids := make([]model.NodeID, 0, len(formation))
	for id, pos := range formation {
		pos[0] = clamp(pos[0], -maxLateral, maxLateral)
		pos[1] = clamp(pos[1], 0, maxLong)
		formation[id] = pos
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	passes := cfg.FormationMaxPasses
	if passes <= 0 {
		passes = 10
	}
	for pass := 0; pass < passes; pass++ {
		violations := 0
		for i, id1 := range ids {
			for _, id2 := range ids[i+1:] {
				p1, p2 := formation[id1], formation[id2]
				dist := distance2D(p1, p2)
				if dist >= minDist || dist <= 1e-9 {
					continue
				}
				violations++
				overlap := minDist - dist
				dx, dy := p2[0]-p1[0], p2[1]-p1[1]
				pushX, pushY := (dx/dist)*overlap*0.5, (dy/dist)*overlap*0.5
				formation[id1] = [2]float64{p1[0] - pushX, p1[1] - pushY}
				formation[id2] = [2]float64{p2[0] + pushX, p2[1] + pushY}
			}
		}
		if violations == 0 {
			break
		}
	}
	return formation
}

func distance2D(a, b [2]float64) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	return math.Sqrt(dx*dx + dy*dy)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func max1(v float64) float64 {
	if v < 0.01 {
		return 0.01
	}
	return v
}
