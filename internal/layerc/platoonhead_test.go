package layerc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haidar-88/mvccp/internal/model"
	"github.com/haidar-88/mvccp/internal/mvccp"
	"github.com/haidar-88/mvccp/internal/wire"
)

func newPlatoonHeadHandler() (*PlatoonHeadHandler, *mvccp.Context, *fakeTransport) {
	ctx := newConsumerCtx()
	ctx.SetRole(mvccp.RolePlatoonHead)
	id := ctx.NodeID
	ctx.CurrentPlatoonID = &id
	transport := &fakeTransport{}
	ctx.Transport = transport
	h := NewPlatoonHeadHandler(ctx, nil)
	return h, ctx, transport
}

func TestProcessBeaconSendsBeaconAndOpensOfferWindow(t *testing.T) {
	h, ctx, transport := newPlatoonHeadHandler()

	require.NoError(t, h.Tick(10))
	require.Equal(t, mvccp.PHWaitOffers, ctx.PlatoonHeadState)
	require.GreaterOrEqual(t, len(transport.sent), 1)

	f, err := wire.Decode(transport.sent[0])
	require.NoError(t, err)
	require.Equal(t, wire.MsgPlatoonBeacon, f.Header.Type)
}

func TestProcessBeaconStaysPutWhenPlatoonFull(t *testing.T) {
	h, ctx, _ := newPlatoonHeadHandler()
	for i := 0; i < ctx.Cfg.PlatoonMaxSize-1; i++ {
		ctx.PlatoonMembers = append(ctx.PlatoonMembers, model.NodeID{byte(i + 10)})
	}

	require.NoError(t, h.Tick(0))
	require.Equal(t, mvccp.PHBeacon, ctx.PlatoonHeadState)
}

func TestHandleJoinOfferRecordsPendingMember(t *testing.T) {
	h, ctx, _ := newPlatoonHeadHandler()
	ctx.PlatoonHeadState = mvccp.PHWaitOffers

	frame, err := wire.EncodeJoinOffer(1, model.NodeID{5}, 4, wire.JoinOfferFields{
		ConsumerID: model.NodeID{5}, EnergyReqKWh: 10, Position: model.LatLon{Lat: 0, Lon: 0.5},
	})
	require.NoError(t, err)
	f, err := wire.Decode(frame)
	require.NoError(t, err)

	require.NoError(t, h.HandleJoinOffer(f))
	require.Contains(t, h.pending, model.NodeID{5})
}

func TestHandleJoinOfferIgnoredWhenNoCapacity(t *testing.T) {
	h, ctx, _ := newPlatoonHeadHandler()
	ctx.PlatoonHeadState = mvccp.PHWaitOffers
	for i := 0; i < ctx.Cfg.PlatoonMaxSize-1; i++ {
		ctx.PlatoonMembers = append(ctx.PlatoonMembers, model.NodeID{byte(i + 10)})
	}

	frame, err := wire.EncodeJoinOffer(1, model.NodeID{5}, 4, wire.JoinOfferFields{ConsumerID: model.NodeID{5}})
	require.NoError(t, err)
	f, err := wire.Decode(frame)
	require.NoError(t, err)

	require.NoError(t, h.HandleJoinOffer(f))
	require.Empty(t, h.pending)
}

func TestProcessEvaluateOffersSendsAcceptToBestCandidate(t *testing.T) {
	h, ctx, transport := newPlatoonHeadHandler()
	ctx.PlatoonHeadState = mvccp.PHEvaluateOffers
	h.pending[model.NodeID{5}] = pendingMember{ConsumerID: model.NodeID{5}, EnergyReqKWh: 5}

	require.NoError(t, h.Tick(0))
	require.Equal(t, mvccp.PHWaitAck, ctx.PlatoonHeadState)
	require.NotNil(t, h.target)
	require.Equal(t, model.NodeID{5}, *h.target)
	require.Len(t, transport.sent, 1)

	f, err := wire.Decode(transport.sent[0])
	require.NoError(t, err)
	require.Equal(t, wire.MsgJoinAccept, f.Header.Type)
}

func TestProcessEvaluateOffersWithNoPendingReturnsToCoordinate(t *testing.T) {
	h, ctx, _ := newPlatoonHeadHandler()
	ctx.PlatoonHeadState = mvccp.PHEvaluateOffers

	require.NoError(t, h.Tick(0))
	require.Equal(t, mvccp.PHCoordinate, ctx.PlatoonHeadState)
}

func TestHandleAckAddsMemberAndSendsAckAck(t *testing.T) {
	h, ctx, transport := newPlatoonHeadHandler()
	ctx.PlatoonHeadState = mvccp.PHWaitAck
	target := model.NodeID{5}
	h.target = &target
	h.pending[target] = pendingMember{ConsumerID: target}

	frame, err := wire.EncodeAck(1, target, 4, target)
	require.NoError(t, err)
	f, err := wire.Decode(frame)
	require.NoError(t, err)

	require.NoError(t, h.HandleAck(f))
	require.Equal(t, mvccp.PHCoordinate, ctx.PlatoonHeadState)
	require.Contains(t, ctx.PlatoonMembers, target)
	require.Nil(t, h.target)
	require.Equal(t, int64(1), ctx.Metrics.Summary().SessionsSuccessful)

	sent, err := wire.Decode(transport.sent[len(transport.sent)-1])
	require.NoError(t, err)
	require.Equal(t, wire.MsgAckAck, sent.Header.Type)
}

func TestHandleAckIgnoredFromWrongConsumer(t *testing.T) {
	h, ctx, transport := newPlatoonHeadHandler()
	ctx.PlatoonHeadState = mvccp.PHWaitAck
	target := model.NodeID{5}
	h.target = &target

	frame, err := wire.EncodeAck(1, model.NodeID{9}, 4, model.NodeID{9})
	require.NoError(t, err)
	f, err := wire.Decode(frame)
	require.NoError(t, err)

	require.NoError(t, h.HandleAck(f))
	require.Equal(t, mvccp.PHWaitAck, ctx.PlatoonHeadState)
	require.Empty(t, transport.sent)
}

func TestCheckAckTimeoutAbandonsTarget(t *testing.T) {
	h, ctx, _ := newPlatoonHeadHandler()
	ctx.PlatoonHeadState = mvccp.PHWaitAck
	target := model.NodeID{5}
	h.target = &target
	h.pending[target] = pendingMember{ConsumerID: target}
	h.targetTimeout = 5

	ctx.CurrentTime = 6
	require.NoError(t, h.Tick(6))
	require.Equal(t, mvccp.PHCoordinate, ctx.PlatoonHeadState)
	require.Nil(t, h.target)
	require.NotContains(t, h.pending, target)
}

func TestHandlePlatoonStatusRecordsMemberBattery(t *testing.T) {
	h, ctx, _ := newPlatoonHeadHandler()

	frame, err := wire.EncodePlatoonStatus(1, model.NodeID{5}, 2, wire.PlatoonStatusFields{
		PlatoonID: ctx.NodeID, VehicleID: model.NodeID{5}, BatteryKWh: 42,
	})
	require.NoError(t, err)
	f, err := wire.Decode(frame)
	require.NoError(t, err)

	require.NoError(t, h.HandlePlatoonStatus(f))
	require.Equal(t, 42.0, h.memberStatus[model.NodeID{5}].BatteryLevel)
}
