package layerc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haidar-88/mvccp/internal/config"
	"github.com/haidar-88/mvccp/internal/metrics"
	"github.com/haidar-88/mvccp/internal/model"
	"github.com/haidar-88/mvccp/internal/mvccp"
	"github.com/haidar-88/mvccp/internal/wire"
)

func newRREHCtx() *mvccp.Context {
	n := &model.Node{
		ID: model.NodeID{1},
		Battery: model.Battery{
			CapacityKWh: 500, CurrentKWh: 500, MaxOutKW: 150, MaxInKW: 150, Health: 1,
		},
		Kinematics: model.Kinematics{Position: model.LatLon{Lat: 0, Lon: 0}},
	}
	ctx := mvccp.New(n, true, config.Default(), metrics.New(), nil, nil, nil)
	ctx.RREHMaxSessions = 2
	ctx.RREHAvailablePowerKW = 150
	ctx.RREHOperationalState = model.StateNormal
	return ctx
}

func newRREHHandler() (*RREHHandler, *mvccp.Context, *fakeTransport) {
	ctx := newRREHCtx()
	transport := &fakeTransport{}
	ctx.Transport = transport
	h := NewRREHHandler(ctx, nil)
	return h, ctx, transport
}

func TestProcessGridAnnounceMovesToWaitOffersWithCapacity(t *testing.T) {
	h, ctx, _ := newRREHHandler()
	require.NoError(t, h.Tick(0))
	require.Equal(t, mvccp.RREHWaitOffers, ctx.RREHState)
}

func TestProcessGridAnnounceStaysPutWithoutCapacity(t *testing.T) {
	h, ctx, _ := newRREHHandler()
	ctx.RREHOperationalState = model.StateOffline
	require.NoError(t, h.Tick(0))
	require.Equal(t, mvccp.RREHGridAnnounce, ctx.RREHState)
}

func TestHandleJoinOfferQueuesConsumerAndSyncsContext(t *testing.T) {
	h, ctx, _ := newRREHHandler()
	ctx.RREHState = mvccp.RREHWaitOffers

	frame, err := wire.EncodeJoinOffer(1, model.NodeID{5}, 4, wire.JoinOfferFields{
		ConsumerID: model.NodeID{5}, EnergyReqKWh: 20,
	})
	require.NoError(t, err)
	f, err := wire.Decode(frame)
	require.NoError(t, err)

	require.NoError(t, h.HandleJoinOffer(f))
	require.Len(t, h.queue, 1)
	require.Equal(t, []model.NodeID{{5}}, ctx.RREHQueue)
}

func TestHandleJoinOfferWakesIdleHub(t *testing.T) {
	h, ctx, _ := newRREHHandler()
	ctx.RREHState = mvccp.RREHIdle

	frame, err := wire.EncodeJoinOffer(1, model.NodeID{5}, 4, wire.JoinOfferFields{ConsumerID: model.NodeID{5}})
	require.NoError(t, err)
	f, err := wire.Decode(frame)
	require.NoError(t, err)

	require.NoError(t, h.HandleJoinOffer(f))
	require.Equal(t, mvccp.RREHEvaluateQueue, ctx.RREHState)
}

func TestProcessEvaluateQueueSendsAcceptForFIFOHead(t *testing.T) {
	h, ctx, transport := newRREHHandler()
	ctx.RREHState = mvccp.RREHEvaluateQueue
	h.queue = []queuedConsumer{{ConsumerID: model.NodeID{5}, EnergyReqKWh: 30}}

	require.NoError(t, h.Tick(0))
	require.Equal(t, mvccp.RREHWaitAck, ctx.RREHState)
	require.NotNil(t, h.target)
	require.Equal(t, model.NodeID{5}, *h.target)
	require.Len(t, transport.sent, 1)

	f, err := wire.Decode(transport.sent[0])
	require.NoError(t, err)
	require.Equal(t, wire.MsgJoinAccept, f.Header.Type)
}

func TestProcessEvaluateQueueGoesIdleWhenEmpty(t *testing.T) {
	h, ctx, _ := newRREHHandler()
	ctx.RREHState = mvccp.RREHEvaluateQueue

	require.NoError(t, h.Tick(0))
	require.Equal(t, mvccp.RREHIdle, ctx.RREHState)
}

func TestHandleAckStartsSessionAndSendsAckAck(t *testing.T) {
	h, ctx, transport := newRREHHandler()
	ctx.RREHState = mvccp.RREHWaitAck
	target := model.NodeID{5}
	h.target = &target
	h.queue = []queuedConsumer{{ConsumerID: target, EnergyReqKWh: 30}}

	frame, err := wire.EncodeAck(1, target, 4, target)
	require.NoError(t, err)
	f, err := wire.Decode(frame)
	require.NoError(t, err)

	require.NoError(t, h.HandleAck(f))
	require.Equal(t, mvccp.RREHChargeSession, ctx.RREHState)
	require.Contains(t, h.activeByID, target)
	require.Empty(t, h.queue)
	require.Equal(t, 1, ctx.RREHActiveSessions)
	require.Equal(t, int64(1), ctx.Metrics.Summary().SessionsSuccessful)

	sent, err := wire.Decode(transport.sent[len(transport.sent)-1])
	require.NoError(t, err)
	require.Equal(t, wire.MsgAckAck, sent.Header.Type)
}

func TestHandleAckIgnoredFromWrongConsumer(t *testing.T) {
	h, ctx, transport := newRREHHandler()
	ctx.RREHState = mvccp.RREHWaitAck
	target := model.NodeID{5}
	h.target = &target

	frame, err := wire.EncodeAck(1, model.NodeID{9}, 4, model.NodeID{9})
	require.NoError(t, err)
	f, err := wire.Decode(frame)
	require.NoError(t, err)

	require.NoError(t, h.HandleAck(f))
	require.Equal(t, mvccp.RREHWaitAck, ctx.RREHState)
	require.Empty(t, transport.sent)
}

func TestCheckAckTimeoutDropsTargetAndMovesOn(t *testing.T) {
	h, ctx, _ := newRREHHandler()
	ctx.RREHState = mvccp.RREHWaitAck
	target := model.NodeID{5}
	h.target = &target
	h.queue = []queuedConsumer{{ConsumerID: target}}
	h.targetTimeout = 5

	require.NoError(t, h.Tick(6))
	require.Equal(t, mvccp.RREHIdle, ctx.RREHState)
	require.Nil(t, h.target)
	require.Empty(t, h.queue)
}

func TestProcessChargeSessionPullsInQueuedConsumerWhenCapacityFrees(t *testing.T) {
	h, ctx, _ := newRREHHandler()
	ctx.RREHState = mvccp.RREHChargeSession
	h.queue = []queuedConsumer{{ConsumerID: model.NodeID{6}}}

	require.NoError(t, h.Tick(0))
	require.Equal(t, mvccp.RREHEvaluateQueue, ctx.RREHState)
}

func TestCompleteSessionFreesCapacityAndResumesQueue(t *testing.T) {
	h, ctx, _ := newRREHHandler()
	h.activeByID[model.NodeID{5}] = queuedConsumer{ConsumerID: model.NodeID{5}}
	h.activeByID[model.NodeID{6}] = queuedConsumer{ConsumerID: model.NodeID{6}}
	ctx.RREHActiveSessions = 2
	ctx.RREHState = mvccp.RREHChargeSession
	h.queue = []queuedConsumer{{ConsumerID: model.NodeID{7}}}

	h.CompleteSession(model.NodeID{5})
	require.Equal(t, 1, ctx.RREHActiveSessions)
	require.Equal(t, mvccp.RREHEvaluateQueue, ctx.RREHState)
}

func TestCalculateQueueTimeZeroWithCapacity(t *testing.T) {
	h, _, _ := newRREHHandler()
	require.Equal(t, 0.0, h.CalculateQueueTime())
}

func TestCalculateQueueTimeCappedAtMax(t *testing.T) {
	h, ctx, _ := newRREHHandler()
	h.activeByID[model.NodeID{5}] = queuedConsumer{}
	h.activeByID[model.NodeID{6}] = queuedConsumer{}
	require.Equal(t, ctx.Cfg.MaxAcceptableQue, h.CalculateQueueTime())
}
