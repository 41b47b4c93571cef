package layera

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

func newCtx(id byte) (*mvccp.Context, *fakeTransport) {
	node := &model.Node{
		ID: model.NodeID{id},
		Battery: model.Battery{
			CapacityKWh: 100, CurrentKWh: 80, MinReserveKWh: 10,
			MaxOutKW: 50, MaxInKW: 50, Health: 1,
		},
		QoS: model.QoS{Willingness: 3, ETX: 1, LinkStability: 1},
	}
	transport := &fakeTransport{}
	ctx := mvccp.New(node, false, config.Default(), metrics.New(), transport, nil, nil)
	return ctx, transport
}

func TestSendHelloBroadcastsAndCountsMetric(t *testing.T) {
	ctx, transport := newCtx(1)
	h := NewHandler(ctx, nil)

	require.NoError(t, h.SendHello())
	require.Len(t, transport.sent, 1)
	require.Equal(t, int64(1), ctx.Metrics.Summary().Sent.Total)
}

func TestTickRespectsHelloInterval(t *testing.T) {
	ctx, transport := newCtx(1)
	h := NewHandler(ctx, nil)

	ctx.CurrentTime = 0
	require.NoError(t, h.Tick(0))
	require.Len(t, transport.sent, 0, "no HELLO until HelloInterval has elapsed since the last one")

	ctx.CurrentTime = 0.1
	require.NoError(t, h.Tick(0.1))
	require.Len(t, transport.sent, 0, "should not send before HelloInterval elapses")

	ctx.CurrentTime = ctx.Cfg.HelloInterval + 0.01
	require.NoError(t, h.Tick(ctx.Cfg.HelloInterval+0.01))
	require.Len(t, transport.sent, 1)

	ctx.CurrentTime = ctx.Cfg.HelloInterval + 0.05
	require.NoError(t, h.Tick(ctx.Cfg.HelloInterval+0.05))
	require.Len(t, transport.sent, 1, "should not re-send before another HelloInterval elapses")
}

func TestHandleHelloUpdatesNeighborTableAndRecalculatesMPR(t *testing.T) {
	ctx, _ := newCtx(1)
	h := NewHandler(ctx, nil)

	sender := model.NodeID{2}
	senderNode := model.Node{
		ID:      sender,
		Battery: model.Battery{CapacityKWh: 100, CurrentKWh: 90, Health: 1},
		QoS:     model.QoS{ETX: 1, LinkStability: 1, Willingness: 7},
	}
	frame, err := wire.EncodeHello(1, sender, 4, nil, senderNode, false)
	require.NoError(t, err)
	f, err := wire.Decode(frame)
	require.NoError(t, err)

	require.NoError(t, h.HandleHello(sender, f))

	entry, ok := ctx.NeighborTable.Get(sender)
	require.True(t, ok)
	require.Equal(t, 90.0, entry.Battery.CurrentKWh)
	require.Equal(t, int64(1), ctx.Metrics.Summary().Received.Total)
}

func TestHandleHelloWithTwoHopNeighborsSelectsEssentialMPR(t *testing.T) {
	ctx, _ := newCtx(1)
	h := NewHandler(ctx, nil)

	twoHopOnly := model.NodeID{9}
	relay := model.NodeID{2}
	relayNode := model.Node{ID: relay, Battery: model.Battery{CapacityKWh: 100, CurrentKWh: 90, Health: 1}, QoS: model.QoS{ETX: 1, LinkStability: 1, Willingness: 7}}
	frame, err := wire.EncodeHello(1, relay, 4, []model.NodeID{twoHopOnly}, relayNode, false)
	require.NoError(t, err)
	f, err := wire.Decode(frame)
	require.NoError(t, err)

	require.NoError(t, h.HandleHello(relay, f))

	_, isMPR := ctx.MPRSet[relay]
	require.True(t, isMPR, "sole coverer of a two-hop neighbor must be selected as MPR")
}
