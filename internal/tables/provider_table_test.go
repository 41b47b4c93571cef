package tables

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haidar-88/mvccp/internal/config"
	"github.com/haidar-88/mvccp/internal/model"
)

func TestProviderTableUpdatePreservesCalculatedFields(t *testing.T) {
	pt := NewProviderTable(config.Default())
	id := model.NodeID{1}

	pt.Update(model.ProviderEntry{ProviderID: id, Timestamp: 0, EnergyAvailKWh: 10})
	pt.SetCalculatedFields(id, 2.5, 0.9, 3.0)

	// A later refresh (e.g. the next PA) must not clobber the ranking fields.
	pt.Update(model.ProviderEntry{ProviderID: id, Timestamp: 1, EnergyAvailKWh: 20})

	entry, ok := pt.Get(id, 1)
	require.True(t, ok)
	require.Equal(t, 20.0, entry.EnergyAvailKWh)
	require.Equal(t, 2.5, entry.DetourCostKWh)
	require.Equal(t, 0.9, entry.RouteAlignment)
	require.Equal(t, 3.0, entry.TotalCost)
}

func TestProviderTableGetPrunesStale(t *testing.T) {
	cfg := config.Default()
	pt := NewProviderTable(cfg)
	id := model.NodeID{1}
	pt.Update(model.ProviderEntry{ProviderID: id, Timestamp: 0})

	_, ok := pt.Get(id, cfg.ProviderTimeout+1)
	require.False(t, ok)
}

func TestProviderTableFiltersByType(t *testing.T) {
	pt := NewProviderTable(config.Default())
	pt.Update(model.ProviderEntry{ProviderID: model.NodeID{1}, Type: model.ProviderRREH, Timestamp: 0, OperationalState: model.StateNormal})
	pt.Update(model.ProviderEntry{ProviderID: model.NodeID{2}, Type: model.ProviderPlatoonHead, Timestamp: 0, AvailableSlots: 2})

	require.Len(t, pt.RREHs(0), 1)
	require.Len(t, pt.PlatoonHeads(0), 1)
	require.Len(t, pt.WithCapacity(0), 2)
}
