package layerb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haidar-88/mvccp/internal/config"
	"github.com/haidar-88/mvccp/internal/metrics"
	"github.com/haidar-88/mvccp/internal/model"
	"github.com/haidar-88/mvccp/internal/mvccp"
	"github.com/haidar-88/mvccp/internal/wire"
)

type fakeTransport struct {
	sent [][]byte
}

func (f *fakeTransport) Broadcast(frame []byte) error {
	f.sent = append(f.sent, frame)
	return nil
}
func (f *fakeTransport) SetReceiver(func([]byte)) {}

func newCtx(id byte, isRREH bool) (*mvccp.Context, *fakeTransport) {
	node := &model.Node{
		ID: model.NodeID{id},
		Battery: model.Battery{
			CapacityKWh: 100, CurrentKWh: 80, MinReserveKWh: 10,
			MaxOutKW: 50, MaxInKW: 50, Health: 1,
		},
		QoS: model.QoS{Willingness: 5, ETX: 1, LinkStability: 1},
	}
	transport := &fakeTransport{}
	ctx := mvccp.New(node, isRREH, config.Default(), metrics.New(), transport, nil, nil)
	return ctx, transport
}

func TestSendPABroadcastsAndCountsMetricForPlatoonHead(t *testing.T) {
	ctx, transport := newCtx(1, false)
	ctx.SetRole(mvccp.RolePlatoonHead)
	h := NewHandler(ctx, nil)

	require.NoError(t, h.SendPA())
	require.Len(t, transport.sent, 1)
	require.Equal(t, int64(1), ctx.Metrics.Summary().Sent.Total)
}

func TestTickSkipsPAForPlainConsumer(t *testing.T) {
	ctx, transport := newCtx(1, false)
	h := NewHandler(ctx, nil)

	require.NoError(t, h.Tick(0))
	require.Len(t, transport.sent, 0)
}

func TestTickSendsGridStatusAndPAForRREHOnInterval(t *testing.T) {
	ctx, transport := newCtx(1, true)
	h := NewHandler(ctx, nil)

	ctx.CurrentTime = 0
	require.NoError(t, h.Tick(0))
	require.Len(t, transport.sent, 0, "neither interval has elapsed yet")

	ctx.CurrentTime = ctx.Cfg.PAInterval
	require.NoError(t, h.Tick(ctx.Cfg.PAInterval))
	require.Len(t, transport.sent, 1, "PA interval elapsed, GRID_STATUS interval has not")

	ctx.CurrentTime = ctx.Cfg.GridStatusInterval
	require.NoError(t, h.Tick(ctx.Cfg.GridStatusInterval))
	require.Len(t, transport.sent, 3, "GRID_STATUS interval elapsed and a second PA interval elapsed too")
}

func TestHandlePAUpdatesProviderTable(t *testing.T) {
	ctx, _ := newCtx(1, false)
	h := NewHandler(ctx, nil)

	provider := model.NodeID{9}
	frame, err := wire.EncodePA(1, provider, 4, wire.PAFields{
		ProviderID:     provider,
		ProviderType:   model.ProviderRREH,
		EnergyAvailKWh: 42,
	})
	require.NoError(t, err)
	f, err := wire.Decode(frame)
	require.NoError(t, err)

	require.NoError(t, h.HandlePA(f))

	entry, ok := ctx.ProviderTable.Get(provider, 0)
	require.True(t, ok)
	require.Equal(t, float64(42), entry.EnergyAvailKWh)
	require.Equal(t, int64(1), ctx.Metrics.Summary().Received.Total)
}

func TestHandlePADropsDuplicateByOriginatorAndSeq(t *testing.T) {
	ctx, _ := newCtx(1, false)
	h := NewHandler(ctx, nil)

	provider := model.NodeID{9}
	frame, err := wire.EncodePA(7, provider, 4, wire.PAFields{ProviderID: provider})
	require.NoError(t, err)
	f, err := wire.Decode(frame)
	require.NoError(t, err)

	require.NoError(t, h.HandlePA(f))
	require.NoError(t, h.HandlePA(f))

	require.Equal(t, int64(1), ctx.Metrics.Summary().Received.Total, "second identical PA must be dropped as a duplicate")
}

func TestHandlePAForwardsWhenMPRForPreviousHop(t *testing.T) {
	ctx, transport := newCtx(1, false)
	ctx.MPRSelectorSet[model.NodeID{5}] = struct{}{}
	h := NewHandler(ctx, nil)

	provider := model.NodeID{9}
	frame, err := wire.EncodePA(1, provider, 4, wire.PAFields{ProviderID: provider, PreviousHop: model.NodeID{5}, HasPreviousHop: true})
	require.NoError(t, err)
	f, err := wire.Decode(frame)
	require.NoError(t, err)

	require.NoError(t, h.HandlePA(f))

	require.Len(t, transport.sent, 1)
	fwd, err := wire.Decode(transport.sent[0])
	require.NoError(t, err)
	require.Equal(t, uint8(3), fwd.Header.TTL, "forwarded PA must have a decremented TTL")

	pf, err := wire.DecodePA(fwd)
	require.NoError(t, err)
	require.True(t, pf.HasPreviousHop)
	require.Equal(t, ctx.NodeID, pf.PreviousHop, "forwarder must rewrite PREVIOUS_HOP to its own id")
	require.Equal(t, model.NodeID(fwd.Header.SenderID), provider, "originator (sender_id) must be unchanged across a hop")
}

func TestHandlePADoesNotForwardWhenNotAnMPR(t *testing.T) {
	ctx, transport := newCtx(1, false)
	h := NewHandler(ctx, nil)

	provider := model.NodeID{9}
	frame, err := wire.EncodePA(1, provider, 4, wire.PAFields{ProviderID: provider, PreviousHop: model.NodeID{5}, HasPreviousHop: true})
	require.NoError(t, err)
	f, err := wire.Decode(frame)
	require.NoError(t, err)

	require.NoError(t, h.HandlePA(f))
	require.Len(t, transport.sent, 0)
}

func TestHandleGridStatusPreservesExistingPosition(t *testing.T) {
	ctx, _ := newCtx(1, false)
	h := NewHandler(ctx, nil)

	hub := model.NodeID{3}
	ctx.ProviderTable.Update(model.ProviderEntry{
		ProviderID: hub,
		Position:   model.LatLon{Lat: 12, Lon: 34},
		Timestamp:  0,
	})

	frame, err := wire.EncodeGridStatus(1, hub, 1, wire.GridStatusFields{
		HubID:             hub,
		RenewableFraction: 0.8,
		AvailablePowerKW:  60,
		MaxSessions:       3,
		QueueTimeSec:      90,
		OperationalState:  model.StateCongested,
	})
	require.NoError(t, err)
	f, err := wire.Decode(frame)
	require.NoError(t, err)

	require.NoError(t, h.HandleGridStatus(f))

	entry, ok := ctx.ProviderTable.Get(hub, 0)
	require.True(t, ok)
	require.Equal(t, model.LatLon{Lat: 12, Lon: 34}, entry.Position)
	require.Equal(t, model.StateCongested, entry.OperationalState)
	require.Equal(t, 3, entry.MaxSessions)
}

func TestMarkSeenEvictsOldestWhenOverCapacity(t *testing.T) {
	ctx, _ := newCtx(1, false)
	ctx.Cfg.MaxSeenMessages = 2
	h := NewHandler(ctx, nil)

	require.False(t, h.markSeen(1))
	require.False(t, h.markSeen(2))
	require.False(t, h.markSeen(3), "inserting a third key evicts the oldest")
	require.False(t, h.markSeen(1), "the evicted key 1 must be accepted again")
}
