package layerd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haidar-88/mvccp/internal/config"
	"github.com/haidar-88/mvccp/internal/graph"
	"github.com/haidar-88/mvccp/internal/model"
)

func TestComputeFormationSingleMemberAtOrigin(t *testing.T) {
	cfg := config.Default()
	members := []formationMember{{ID: model.NodeID{1}, IsHead: true}}

	positions, eff, plan := computeFormation(members, cfg)
	require.Equal(t, [2]float64{0, 0}, positions[model.NodeID{1}])
	require.Equal(t, 0.0, eff)
	require.Nil(t, plan)
}

func TestComputeFormationKeepsMembersApart(t *testing.T) {
	cfg := config.Default()
	members := []formationMember{
		{ID: model.NodeID{1}, IsHead: true, ShareableKWh: 50, MaxOutKW: 50, MaxInKW: 50},
		{ID: model.NodeID{2}, ShareableKWh: 40, MaxOutKW: 50, MaxInKW: 50},
		{ID: model.NodeID{3}, ShareableKWh: -10, MaxOutKW: 50, MaxInKW: 50},
	}

	positions, _, _ := computeFormation(members, cfg)
	require.Len(t, positions, 3)

	ids := []model.NodeID{{1}, {2}, {3}}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			require.GreaterOrEqual(t, distance2D(positions[ids[i]], positions[ids[j]])+1e-6, cfg.FormationMinDist)
		}
	}
}

func TestComputeFormationClampsWithinLaneBounds(t *testing.T) {
	cfg := config.Default()
	members := []formationMember{
		{ID: model.NodeID{1}, IsHead: true, ShareableKWh: 50, MaxOutKW: 50, MaxInKW: 50},
		{ID: model.NodeID{2}, ShareableKWh: 40, MaxOutKW: 50, MaxInKW: 50},
	}

	positions, _, _ := computeFormation(members, cfg)
	for _, pos := range positions {
		require.LessOrEqual(t, pos[0], cfg.FormationMaxLateral)
		require.GreaterOrEqual(t, pos[0], -cfg.FormationMaxLateral)
		require.GreaterOrEqual(t, pos[1], 0.0)
		require.LessOrEqual(t, pos[1], cfg.FormationMaxLong)
	}
}

// TestComputeFormationRoutesDeficitToSurplusViaDijkstra exercises the
// Dijkstra-backed distribution plan (spec.md §4.3, testable invariant
// §8.9 "Dijkstra path validity") through the live head tick path: the
// deficit member must be assigned a surplus source and placed near it,
// not left at its placeholder slot.
func TestComputeFormationRoutesDeficitToSurplusViaDijkstra(t *testing.T) {
	cfg := config.Default()
	members := []formationMember{
		{ID: model.NodeID{1}, IsHead: true, BatteryKWh: 90, BatteryCapacity: 100, ShareableKWh: 50, MaxOutKW: 50, MaxInKW: 50},
		{ID: model.NodeID{2}, BatteryKWh: 10, BatteryCapacity: 100, ShareableKWh: -20, MaxOutKW: 50, MaxInKW: 50},
	}

	positions, eff, plan := computeFormation(members, cfg)
	require.Len(t, plan, 1)
	require.Equal(t, model.NodeID{2}, plan[0].DeficitID)
	require.Equal(t, model.NodeID{1}, plan[0].SourceID)
	require.NotEmpty(t, plan[0].Path)
	require.Greater(t, plan[0].EnergyDeliverableKWh, 0.0)

	dist := distance2D(positions[model.NodeID{1}], positions[model.NodeID{2}])
	require.GreaterOrEqual(t, dist, cfg.FormationMinDist-1e-6)
	require.Greater(t, eff, 0.0)
}

func TestFormationEfficiencyZeroBeyondRange(t *testing.T) {
	cfg := config.Default()
	states := []graph.MemberState{
		{ID: model.NodeID{1}, MaxOutKW: 50, MaxInKW: 50, FormationPos: [2]float64{0, 0}},
		{ID: model.NodeID{2}, MaxOutKW: 50, MaxInKW: 50, FormationPos: [2]float64{0, cfg.EdgeMaxRangeM + 5}},
	}
	require.Equal(t, 0.0, graph.FormationEfficiency(states, cfg))
}

func TestEdgeEfficiencyDropsWithDistance(t *testing.T) {
	cfg := config.Default()
	near := graph.NewEdge(model.NodeID{1}, model.NodeID{2}, 50, 50, 1, cfg)
	far := graph.NewEdge(model.NodeID{1}, model.NodeID{2}, 50, 50, 8, cfg)
	require.Greater(t, near.TransferEfficiency, far.TransferEfficiency)
}
