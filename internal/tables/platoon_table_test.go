package tables

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haidar-88/mvccp/internal/config"
	"github.com/haidar-88/mvccp/internal/model"
)

func TestPlatoonTableFindBestPrefersCapacityAndAlignment(t *testing.T) {
	cfg := config.Default()
	pt := NewPlatoonTable(cfg)

	aligned := model.PlatoonEntry{
		PlatoonID: model.NodeID{1}, Position: model.LatLon{Lat: 0, Lon: 0},
		Direction: [2]float64{1, 0}, SurplusKWh: 50, AvailableSlots: 2, LastSeen: 0,
	}
	noCapacity := model.PlatoonEntry{
		PlatoonID: model.NodeID{2}, Position: model.LatLon{Lat: 0, Lon: 0},
		Direction: [2]float64{1, 0}, SurplusKWh: 50, AvailableSlots: 0, LastSeen: 0,
	}
	pt.Update(aligned)
	pt.Update(noCapacity)

	best, ok := pt.FindBest(model.LatLon{Lat: 0, Lon: 0}, [2]float64{1, 0}, 10, 111.0, nil)
	require.True(t, ok)
	require.Equal(t, aligned.PlatoonID, best.PlatoonID)
}

func TestPlatoonTableFindBestExcludesID(t *testing.T) {
	cfg := config.Default()
	pt := NewPlatoonTable(cfg)
	entry := model.PlatoonEntry{PlatoonID: model.NodeID{1}, AvailableSlots: 1, Direction: [2]float64{1, 0}}
	pt.Update(entry)

	excl := entry.PlatoonID
	_, ok := pt.FindBest(model.LatLon{}, [2]float64{1, 0}, 1, 111.0, &excl)
	require.False(t, ok)
}

func TestPlatoonTablePruneStale(t *testing.T) {
	cfg := config.Default()
	pt := NewPlatoonTable(cfg)
	pt.Update(model.PlatoonEntry{PlatoonID: model.NodeID{1}, LastSeen: 0})

	removed := pt.PruneStale(cfg.PlatoonEntryTimeout + 1)
	require.Equal(t, 1, removed)
	_, ok := pt.Get(model.NodeID{1})
	require.False(t, ok)
}
