// Package olsr implements QoS-based Multipoint Relay selection (spec.md
// §4.4 "MPR selection"). Grounded on
// original_source/src/protocol/layer_a/olsr.py, structurally similar to
// sptp/bmc/bmc.go's comparator-driven best-candidate loop, generalized
// to cover a 2-hop node set rather than a fixed announce list.
package olsr

import (
	"math"

	"github.com/haidar-88/mvccp/internal/config"
	"github.com/haidar-88/mvccp/internal/model"
	"github.com/haidar-88/mvccp/internal/tables"
)

// MobilitySimilarity scores how closely two velocity vectors align, 0..1,
// with 0.5 as the neutral value when either vehicle is stationary (spec.md
// §9 Open Question decision).
func MobilitySimilarity(myVX, myVY, neighborVX, neighborVY float64) float64 {
	v1Mag := math.Sqrt(myVX*myVX + myVY*myVY)
	v2Mag := math.Sqrt(neighborVX*neighborVX + neighborVY*neighborVY)
	if v1Mag == 0 || v2Mag == 0 {
		return 0.5
	}
	dot := myVX*neighborVX + myVY*neighborVY
	cosine := dot / (v1Mag * v2Mag)
	return (cosine + 1.0) / 2.0
}

// QoSScore computes the composite, higher-is-better MPR suitability score
// for a neighbor, from the seven weighted factors of spec.md §4.4.
func QoSScore(neighbor model.NeighborEntry, myVX, myVY float64, w config.OLSRWeights) float64 {
	var scoreBattery float64
	if neighbor.Battery.CapacityKWh > 0 {
		scoreBattery = math.Min(neighbor.Battery.CurrentKWh/neighbor.Battery.CapacityKWh, 1.0)
	} else {
		scoreBattery = 0.5
	}

	etx := math.Max(neighbor.QoS.ETX, 1.0)
	scoreETX := 1.0 / etx

	delay := math.Max(neighbor.QoS.DelayMS, 0.0)
	const maxDelayMS = 100.0
	scoreDelay := math.Max(0.0, 1.0-(delay/maxDelayMS))

	scoreMobility := MobilitySimilarity(myVX, myVY, neighbor.Kinematics.VX, neighbor.Kinematics.VY)

	willingness := neighbor.QoS.Willingness
	if willingness < 0 {
		willingness = 0
	}
	if willingness > 7 {
		willingness = 7
	}
	scoreWillingness := float64(willingness) / 7.0

	laneWeight := math.Max(0.0, math.Min(neighbor.QoS.LaneWeight, 1.0))
	scoreCongestion := 1.0 - laneWeight

	scoreStability := math.Max(0.0, math.Min(neighbor.QoS.LinkStability, 1.0))

	return w.Battery*scoreBattery +
		w.ETX*scoreETX +
		w.Delay*scoreDelay +
		w.Mobility*scoreMobility +
		w.Willingness*scoreWillingness +
		w.Congestion*scoreCongestion +
		w.Stability*scoreStability
}

// SelectMPRs runs the standard-OLSR-plus-QoS-tie-break greedy algorithm:
// pick essential MPRs (the sole coverer of some 2-hop node) first, then
// greedily cover the rest, breaking coverage ties by QoS score (spec.md
// §4.4 "MPR selection algorithm").
func SelectMPRs(selfID model.NodeID, myVX, myVY float64, neighborTable *tables.NeighborTable, w config.OLSRWeights) map[model.NodeID]struct{} {
	snapshot := neighborTable.Snapshot()

	n1 := make(map[model.NodeID]struct{}, len(snapshot))
	for id := range snapshot {
		n1[id] = struct{}{}
	}

	n2 := make(map[model.NodeID]struct{})
	for _, entry := range snapshot {
		for twoHop := range entry.TwoHopNeighbors {
			n2[twoHop] = struct{}{}
		}
	}
	delete(n2, selfID)
	for id := range n1 {
		delete(n2, id)
	}

	mprSet := make(map[model.NodeID]struct{})

	coveringNeighbors := func(n2Node model.NodeID) []model.NodeID {
		var coverers []model.NodeID
		for n1Node, entry := range snapshot {
			if _, ok := entry.TwoHopNeighbors[n2Node]; ok {
				coverers = append(coverers, n1Node)
			}
		}
		return coverers
	}

	covered := make(map[model.NodeID]struct{})
	for n2Node := range n2 {
		coverers := coveringNeighbors(n2Node)
		if len(coverers) == 1 {
			mpr := coverers[0]
			mprSet[mpr] = struct{}{}
			for reached := range snapshot[mpr].TwoHopNeighbors {
				if _, inN2 := n2[reached]; inN2 {
					covered[reached] = struct{}{}
				}
			}
		}
	}

	remaining := make(map[model.NodeID]struct{}, len(n2))
	for id := range n2 {
		if _, done := covered[id]; !done {
			remaining[id] = struct{}{}
		}
	}

	for len(remaining) > 0 {
		var candidates []model.NodeID
		for id := range n1 {
			if _, already := mprSet[id]; !already {
				candidates = append(candidates, id)
			}
		}
		if len(candidates) == 0 {
			break
		}

		var bestCandidate model.NodeID
		haveBest := false
		bestCoverage := -1
		bestQoS := -1.0

		for _, candidate := range candidates {
			entry := snapshot[candidate]
			coverage := 0
			for reached := range entry.TwoHopNeighbors {
				if _, inRemaining := remaining[reached]; inRemaining {
					coverage++
				}
			}
			qos := QoSScore(entry, myVX, myVY, w)

			switch {
			case coverage > bestCoverage:
				bestCoverage, bestCandidate, bestQoS, haveBest = coverage, candidate, qos, true
			case coverage == bestCoverage && qos > bestQoS:
				bestCandidate, bestQoS = candidate, qos
			}
		}

		if haveBest && bestCoverage > 0 {
			mprSet[bestCandidate] = struct{}{}
			for reached := range snapshot[bestCandidate].TwoHopNeighbors {
				delete(remaining, reached)
			}
		} else {
			break
		}
	}

	return mprSet
}
