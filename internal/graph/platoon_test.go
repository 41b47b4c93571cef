package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haidar-88/mvccp/internal/config"
	"github.com/haidar-88/mvccp/internal/model"
)

func member(id byte, capacity, energy, toDest, reserve, maxOut, maxIn float64, pos [2]float64) MemberState {
	return MemberState{
		ID:                 model.NodeID{id},
		BatteryCapacityKWh: capacity,
		BatteryEnergyKWh:   energy,
		MinReserveKWh:      reserve,
		MaxOutKW:           maxOut,
		MaxInKW:            maxIn,
		EnergyToDestKWh:    toDest,
		FormationPos:       pos,
	}
}

func TestEnergyDistributionPlanRoutesSurplusToDeficit(t *testing.T) {
	cfg := config.Default()
	surplusMember := member(1, 100, 90, 10, 5, 20, 20, [2]float64{0, 0})
	deficitMember := member(2, 100, 10, 20, 5, 20, 20, [2]float64{0, 3})

	plan := EnergyDistributionPlan([]MemberState{surplusMember, deficitMember}, cfg)
	require.Len(t, plan, 1)
	require.Equal(t, deficitMember.ID, plan[0].DeficitID)
	require.Equal(t, surplusMember.ID, plan[0].SourceID)
	require.Greater(t, plan[0].EnergyDeliverableKWh, 0.0)
}

func TestEnergyDistributionPlanEmptyWithoutSurplus(t *testing.T) {
	cfg := config.Default()
	a := member(1, 100, 10, 20, 5, 20, 20, [2]float64{0, 0})
	b := member(2, 100, 10, 20, 5, 20, 20, [2]float64{0, 3})
	plan := EnergyDistributionPlan([]MemberState{a, b}, cfg)
	require.Empty(t, plan)
}

func TestComputeOptimalFormationPinsHeadAtOrigin(t *testing.T) {
	cfg := config.Default()
	head := member(1, 100, 90, 10, 5, 20, 20, [2]float64{0, 0})
	surplus := member(2, 100, 80, 10, 5, 20, 20, [2]float64{1, 3})
	deficit := member(3, 100, 10, 30, 5, 20, 20, [2]float64{0, 6})

	formation := ComputeOptimalFormation([]MemberState{head, surplus, deficit}, head.ID, DefaultFormationConstraints(cfg))
	require.NotNil(t, formation)
	require.Equal(t, [2]float64{0, 0}, formation[head.ID])
}

func TestComputeOptimalFormationRespectsMinDistance(t *testing.T) {
	cfg := config.Default()
	head := member(1, 100, 90, 10, 5, 20, 20, [2]float64{0, 0})
	deficit1 := member(2, 100, 10, 30, 5, 20, 20, [2]float64{0, 1})
	deficit2 := member(3, 100, 11, 30, 5, 20, 20, [2]float64{0.1, 1.1})
	surplus := member(4, 100, 95, 10, 5, 20, 20, [2]float64{2, 2})

	constraints := DefaultFormationConstraints(cfg)
	formation := ComputeOptimalFormation([]MemberState{head, deficit1, deficit2, surplus}, head.ID, constraints)
	require.NotNil(t, formation)

	p1, p2 := formation[deficit1.ID], formation[deficit2.ID]
	dist := planarDistance(p1, p2)
	require.GreaterOrEqual(t, dist, constraints.MinDistanceM-1e-6)
}

func TestBuildEdgeGraphFullMesh(t *testing.T) {
	cfg := config.Default()
	a := member(1, 100, 90, 10, 5, 20, 20, [2]float64{0, 0})
	b := member(2, 100, 10, 30, 5, 20, 20, [2]float64{0, 3})
	c := member(3, 100, 10, 30, 5, 20, 20, [2]float64{3, 0})

	g := Build([]MemberState{a, b, c}, cfg)
	require.Len(t, g.edges, 6) // N*(N-1) directed edges for N=3

	_, ok := g.Get(a.ID, b.ID)
	require.True(t, ok)
	_, ok = g.Get(b.ID, a.ID)
	require.True(t, ok)
}
