package tables

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haidar-88/mvccp/internal/config"
	"github.com/haidar-88/mvccp/internal/model"
)

func TestNeighborTableUpdateAndGet(t *testing.T) {
	self := model.NodeID{0}
	cfg := config.Default()
	nt := NewNeighborTable(self, cfg, nil)

	neighbor := model.NodeID{1}
	nt.Update(neighbor, model.Attrs{model.AttrBatteryCapacityKWh: 90}, []model.NodeID{{2}}, 10)

	entry, ok := nt.Get(neighbor)
	require.True(t, ok)
	require.Equal(t, 10.0, entry.LastSeen)
	require.Equal(t, 90.0, entry.Battery.CapacityKWh)
	require.Contains(t, entry.TwoHopNeighbors, model.NodeID{2})
}

func TestNeighborTableDropsSelfTwoHopReference(t *testing.T) {
	self := model.NodeID{0}
	cfg := config.Default()
	nt := NewNeighborTable(self, cfg, nil)

	neighbor := model.NodeID{1}
	nt.Update(neighbor, model.Attrs{}, []model.NodeID{self, {2}}, 0)

	entry, ok := nt.Get(neighbor)
	require.True(t, ok)
	require.NotContains(t, entry.TwoHopNeighbors, self)
	require.Contains(t, entry.TwoHopNeighbors, model.NodeID{2})
}

func TestNeighborTablePrunesStale(t *testing.T) {
	self := model.NodeID{0}
	cfg := config.Default()
	nt := NewNeighborTable(self, cfg, nil)

	nt.Update(model.NodeID{1}, model.Attrs{}, nil, 0)
	nt.PruneStale(cfg.NeighborTimeout + 1)

	_, ok := nt.Get(model.NodeID{1})
	require.False(t, ok)
}

func TestNeighborTableOneHopSetIsDeterministic(t *testing.T) {
	self := model.NodeID{0}
	cfg := config.Default()
	nt := NewNeighborTable(self, cfg, nil)
	nt.Update(model.NodeID{3}, model.Attrs{}, nil, 0)
	nt.Update(model.NodeID{1}, model.Attrs{}, nil, 0)
	nt.Update(model.NodeID{2}, model.Attrs{}, nil, 0)

	ids := nt.OneHopSet()
	require.Equal(t, []model.NodeID{{1}, {2}, {3}}, ids)
}
