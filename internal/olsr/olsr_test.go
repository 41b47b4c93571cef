package olsr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haidar-88/mvccp/internal/config"
	"github.com/haidar-88/mvccp/internal/model"
	"github.com/haidar-88/mvccp/internal/tables"
)

func TestMobilitySimilarityNeutralWhenStationary(t *testing.T) {
	require.Equal(t, 0.5, MobilitySimilarity(0, 0, 1, 1))
	require.Equal(t, 0.5, MobilitySimilarity(1, 1, 0, 0))
}

func TestMobilitySimilarityAlignedVelocity(t *testing.T) {
	require.InDelta(t, 1.0, MobilitySimilarity(1, 0, 2, 0), 1e-9)
	require.InDelta(t, 0.0, MobilitySimilarity(1, 0, -1, 0), 1e-9)
}

func TestQoSScoreWeightsSumToInputRange(t *testing.T) {
	w := config.Default().OLSRWeights
	n := model.NeighborEntry{
		Node: model.Node{
			Battery: model.Battery{CapacityKWh: 100, CurrentKWh: 100},
			QoS:     model.QoS{ETX: 1.0, DelayMS: 0, Willingness: 7, LaneWeight: 0, LinkStability: 1},
		},
	}
	score := QoSScore(n, 0, 0, w)
	// Every factor scores 1 except mobility, which is the neutral 0.5
	// because both velocities are zero: 1 - 0.5*0.15 = 0.925.
	require.InDelta(t, 0.925, score, 1e-6)
}

func TestSelectMPRsEssentialCoverer(t *testing.T) {
	self := model.NodeID{0}
	a := model.NodeID{1}
	b := model.NodeID{2}
	onlyTwoHop := model.NodeID{9}

	cfg := config.Default()
	nt := tables.NewNeighborTable(self, cfg, nil)
	nt.Update(a, model.Attrs{}, []model.NodeID{onlyTwoHop}, 0)
	nt.Update(b, model.Attrs{}, nil, 0)

	mprs := SelectMPRs(self, 0, 0, nt, cfg.OLSRWeights)
	_, covered := mprs[a]
	require.True(t, covered, "sole coverer of a 2-hop node must be an essential MPR")
	_, bCovered := mprs[b]
	require.False(t, bCovered, "neighbor with no unique 2-hop coverage should not be selected")
}

func TestSelectMPRsGreedyCoverage(t *testing.T) {
	self := model.NodeID{0}
	a := model.NodeID{1}
	b := model.NodeID{2}
	twoHop1 := model.NodeID{9}
	twoHop2 := model.NodeID{10}

	cfg := config.Default()
	nt := tables.NewNeighborTable(self, cfg, nil)
	nt.Update(a, model.Attrs{}, []model.NodeID{twoHop1, twoHop2}, 0)
	nt.Update(b, model.Attrs{}, []model.NodeID{twoHop1, twoHop2}, 0)

	mprs := SelectMPRs(self, 0, 0, nt, cfg.OLSRWeights)
	require.Len(t, mprs, 1, "one neighbor covering both 2-hop nodes suffices")
}
