package layerc

import (
	"testing"

	"github.com/stretchr/testify/require"

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

func newConsumerHandler() (*ConsumerHandler, *mvccp.Context, *fakeTransport) {
	ctx := newConsumerCtx()
	transport := &fakeTransport{}
	ctx.Transport = transport
	h := NewConsumerHandler(ctx, nil)
	return h, ctx, transport
}

func TestProcessDiscoverMovesToEvaluateWhenProviderHasCapacity(t *testing.T) {
	h, ctx, _ := newConsumerHandler()
	ctx.ProviderTable.Update(model.ProviderEntry{
		ProviderID: model.NodeID{2}, Type: model.ProviderRREH,
		OperationalState: model.StateNormal, AvailableSlots: 1,
	})

	require.NoError(t, h.Tick(0))
	require.Equal(t, mvccp.ConsumerEvaluate, ctx.ConsumerState)
}

func TestProcessDiscoverStaysPutWithNoProviders(t *testing.T) {
	h, ctx, _ := newConsumerHandler()
	require.NoError(t, h.Tick(0))
	require.Equal(t, mvccp.ConsumerDiscover, ctx.ConsumerState)
}

func TestProcessDiscoverSkipsBlacklistedProvider(t *testing.T) {
	h, ctx, _ := newConsumerHandler()
	providerID := model.NodeID{2}
	ctx.ProviderTable.Update(model.ProviderEntry{
		ProviderID: providerID, Type: model.ProviderRREH,
		OperationalState: model.StateNormal, AvailableSlots: 1,
	})
	h.bl.add(providerID, 0)

	require.NoError(t, h.Tick(0))
	require.Equal(t, mvccp.ConsumerDiscover, ctx.ConsumerState)
}

func TestProcessEvaluateSendsOfferAndEntersWaitAccept(t *testing.T) {
	h, ctx, transport := newConsumerHandler()
	ctx.ProviderTable.Update(model.ProviderEntry{
		ProviderID: model.NodeID{2}, Type: model.ProviderRREH,
		Position: model.LatLon{Lat: 0, Lon: 1}, OperationalState: model.StateNormal, AvailableSlots: 1,
	})
	ctx.ConsumerState = mvccp.ConsumerEvaluate

	require.NoError(t, h.Tick(0))
	require.Equal(t, mvccp.ConsumerWaitAccept, ctx.ConsumerState)
	require.Len(t, transport.sent, 1)
	require.True(t, ctx.Session.Active)
	require.Equal(t, model.NodeID{2}, ctx.Session.ProviderID)

	f, err := wire.Decode(transport.sent[0])
	require.NoError(t, err)
	require.Equal(t, wire.MsgJoinOffer, f.Header.Type)
}

func TestProcessEvaluateFallsBackToDiscoverWithNoCandidates(t *testing.T) {
	h, ctx, _ := newConsumerHandler()
	ctx.ConsumerState = mvccp.ConsumerEvaluate

	require.NoError(t, h.Tick(0))
	require.Equal(t, mvccp.ConsumerDiscover, ctx.ConsumerState)
}

func TestHandleJoinAcceptIgnoredOutsideWaitAccept(t *testing.T) {
	h, ctx, _ := newConsumerHandler()
	ctx.ConsumerState = mvccp.ConsumerDiscover

	frame, err := wire.EncodeJoinAccept(1, model.NodeID{2}, 4, wire.JoinAcceptFields{ProviderID: model.NodeID{2}})
	require.NoError(t, err)
	f, err := wire.Decode(frame)
	require.NoError(t, err)

	require.NoError(t, h.HandleJoinAccept(f))
	require.Equal(t, mvccp.ConsumerDiscover, ctx.ConsumerState)
}

func TestHandleJoinAcceptIgnoredFromWrongProvider(t *testing.T) {
	h, ctx, transport := newConsumerHandler()
	ctx.ConsumerState = mvccp.ConsumerWaitAccept
	ctx.Session.ProviderID = model.NodeID{2}

	frame, err := wire.EncodeJoinAccept(1, model.NodeID{9}, 4, wire.JoinAcceptFields{ProviderID: model.NodeID{9}})
	require.NoError(t, err)
	f, err := wire.Decode(frame)
	require.NoError(t, err)

	require.NoError(t, h.HandleJoinAccept(f))
	require.Equal(t, mvccp.ConsumerWaitAccept, ctx.ConsumerState, "offer from a non-selected provider must be ignored")
	require.Len(t, transport.sent, 0)
}

func TestHandleJoinAcceptTransitionsToWaitAckAckAndSendsAck(t *testing.T) {
	h, ctx, transport := newConsumerHandler()
	ctx.ConsumerState = mvccp.ConsumerWaitAccept
	ctx.Session.ProviderID = model.NodeID{2}

	frame, err := wire.EncodeJoinAccept(1, model.NodeID{2}, 4, wire.JoinAcceptFields{
		ProviderID: model.NodeID{2}, BandwidthKW: 20, DurationSec: 600,
		MeetingPoint: model.LatLon{Lat: 1, Lon: 1},
	})
	require.NoError(t, err)
	f, err := wire.Decode(frame)
	require.NoError(t, err)

	require.NoError(t, h.HandleJoinAccept(f))
	require.Equal(t, mvccp.ConsumerWaitAckAck, ctx.ConsumerState)
	require.Equal(t, 20.0, ctx.Session.BandwidthKW)
	require.Equal(t, 600.0, ctx.Session.DurationSec)
	require.Len(t, transport.sent, 1)

	sent, err := wire.Decode(transport.sent[0])
	require.NoError(t, err)
	require.Equal(t, wire.MsgAck, sent.Header.Type)
}

func TestHandleAckAckAllocatesSessionAndRecordsSuccess(t *testing.T) {
	h, ctx, _ := newConsumerHandler()
	ctx.ConsumerState = mvccp.ConsumerWaitAckAck
	ctx.Session.ProviderID = model.NodeID{2}
	ctx.Session.ProviderType = model.ProviderRREH

	frame, err := wire.EncodeAckAck(1, model.NodeID{2}, 4, model.NodeID{2})
	require.NoError(t, err)
	f, err := wire.Decode(frame)
	require.NoError(t, err)

	require.NoError(t, h.HandleAckAck(f))
	require.Equal(t, mvccp.ConsumerAllocated, ctx.ConsumerState)
	require.NotNil(t, ctx.SelectedProviderID)
	require.Equal(t, model.NodeID{2}, *ctx.SelectedProviderID)
	require.Equal(t, int64(1), ctx.Metrics.Summary().SessionsSuccessful)
}

func TestHandleAckAckIgnoredFromWrongProvider(t *testing.T) {
	h, ctx, _ := newConsumerHandler()
	ctx.ConsumerState = mvccp.ConsumerWaitAckAck
	ctx.Session.ProviderID = model.NodeID{2}

	frame, err := wire.EncodeAckAck(1, model.NodeID{9}, 4, model.NodeID{9})
	require.NoError(t, err)
	f, err := wire.Decode(frame)
	require.NoError(t, err)

	require.NoError(t, h.HandleAckAck(f))
	require.Equal(t, mvccp.ConsumerWaitAckAck, ctx.ConsumerState)
}

func TestCheckTimeoutBacksOffBeforeExhaustingRetries(t *testing.T) {
	h, ctx, _ := newConsumerHandler()
	ctx.ConsumerState = mvccp.ConsumerWaitAccept
	ctx.Session.ProviderID = model.NodeID{2}
	ctx.Session.TimeoutTime = 0
	ctx.CurrentTime = 1

	require.NoError(t, h.checkTimeout(1, true))
	require.Equal(t, mvccp.ConsumerWaitAccept, ctx.ConsumerState, "still within retry budget, must not blacklist yet")
	require.Equal(t, 1, ctx.Session.Retries)
	require.NotNil(t, ctx.Session.NextRetryTime)
	require.False(t, h.bl.isBlacklisted(model.NodeID{2}, ctx.CurrentTime))
}

func TestCheckTimeoutBlacklistsAfterMaxRetries(t *testing.T) {
	h, ctx, _ := newConsumerHandler()
	providerID := model.NodeID{2}
	ctx.ProviderTable.Update(model.ProviderEntry{ProviderID: providerID, Type: model.ProviderRREH})
	ctx.ConsumerState = mvccp.ConsumerWaitAccept
	ctx.Session.ProviderID = providerID
	ctx.Session.TimeoutTime = 0
	h.bo.attempt = ctx.Cfg.RetryMaxRetries

	ctx.CurrentTime = 1
	require.NoError(t, h.checkTimeout(1, true))

	require.Equal(t, mvccp.ConsumerDiscover, ctx.ConsumerState)
	require.True(t, h.bl.isBlacklisted(providerID, 1))
	_, stillPresent := ctx.ProviderTable.Get(providerID, 1)
	require.False(t, stillPresent, "blacklisted provider must be dropped from the provider table")
	require.Equal(t, int64(1), ctx.Metrics.Summary().SessionsTimeout)
	require.Equal(t, int64(1), ctx.Metrics.Summary().TotalBlacklistEvents)
}

func TestCheckTimeoutRetriesAfterBackoffElapses(t *testing.T) {
	h, ctx, transport := newConsumerHandler()
	ctx.ProviderTable.Update(model.ProviderEntry{
		ProviderID: model.NodeID{2}, Type: model.ProviderRREH,
		Position: model.LatLon{Lat: 0, Lon: 1}, OperationalState: model.StateNormal, AvailableSlots: 1,
	})
	ctx.ConsumerState = mvccp.ConsumerWaitAccept
	h.evaluation = Evaluation{Provider: model.ProviderEntry{ProviderID: model.NodeID{2}, Type: model.ProviderRREH, Position: model.LatLon{Lat: 0, Lon: 1}}}
	ctx.Session.ProviderID = model.NodeID{2}
	next := 5.0
	ctx.Session.NextRetryTime = &next

	ctx.CurrentTime = 4
	require.NoError(t, h.checkTimeout(4, true))
	require.Len(t, transport.sent, 0, "retry must not fire before its scheduled time")

	ctx.CurrentTime = 5
	require.NoError(t, h.checkTimeout(5, true))
	require.Len(t, transport.sent, 1, "retry fires once its scheduled time is reached")
	require.Nil(t, ctx.Session.NextRetryTime)
}

func TestHandlePlatoonAnnounceUpdatesPlatoonTable(t *testing.T) {
	h, ctx, _ := newConsumerHandler()

	frame, err := wire.EncodePlatoonAnnounce(1, model.NodeID{7}, 3, wire.PlatoonAnnounceFields{
		PlatoonID: model.NodeID{7}, HeadID: model.NodeID{7},
		Position: model.LatLon{Lat: 1, Lon: 1}, AvailableSlots: 2, SurplusEnergyKWh: 30,
	})
	require.NoError(t, err)
	f, err := wire.Decode(frame)
	require.NoError(t, err)

	require.NoError(t, h.HandlePlatoonAnnounce(f))

	entry, ok := ctx.PlatoonTable.Get(model.NodeID{7})
	require.True(t, ok)
	require.Equal(t, 30.0, entry.SurplusKWh)
	require.Equal(t, 2, entry.AvailableSlots)
}

func TestFindBestPlatoonReturnsNilWhenNoChargeNeeded(t *testing.T) {
	h, ctx, _ := newConsumerHandler()
	ctx.Node.Battery.CurrentKWh = 100
	ctx.ProviderTable.Update(model.ProviderEntry{ProviderID: model.NodeID{7}})
	ctx.PlatoonTable.Update(model.PlatoonEntry{PlatoonID: model.NodeID{7}, AvailableSlots: 2, SurplusKWh: 50})

	require.Nil(t, h.findBestPlatoon())
}

func TestFindBestPlatoonSelectsHighestScoring(t *testing.T) {
	h, ctx, _ := newConsumerHandler()
	ctx.Node.Battery.CurrentKWh = 5
	ctx.PlatoonTable.Update(model.PlatoonEntry{
		PlatoonID: model.NodeID{7}, Position: model.LatLon{Lat: 0, Lon: 1},
		AvailableSlots: 2, SurplusKWh: 50, Direction: [2]float64{1, 0},
	})

	best := h.findBestPlatoon()
	require.NotNil(t, best)
	require.Equal(t, model.NodeID{7}, best.PlatoonID)
}

func TestIsActiveReflectsHandshakeProgress(t *testing.T) {
	h, ctx, _ := newConsumerHandler()
	ctx.ConsumerState = mvccp.ConsumerDiscover
	require.False(t, h.IsActive())

	ctx.ConsumerState = mvccp.ConsumerWaitAccept
	require.True(t, h.IsActive())

	ctx.ConsumerState = mvccp.ConsumerCharge
	require.True(t, h.IsActive())

	ctx.ConsumerState = mvccp.ConsumerLeave
	require.False(t, h.IsActive())
}

func TestFullLifecycleResetsToDiscover(t *testing.T) {
	h, ctx, _ := newConsumerHandler()
	ctx.ConsumerState = mvccp.ConsumerAllocated
	ctx.Session.StartTime = 0
	ctx.CurrentTime = 120

	h.StartTravel()
	require.Equal(t, mvccp.ConsumerTravel, ctx.ConsumerState)

	h.StartCharging()
	require.Equal(t, mvccp.ConsumerCharge, ctx.ConsumerState)

	h.FinishCharging()
	require.Equal(t, mvccp.ConsumerDiscover, ctx.ConsumerState)
	require.False(t, ctx.Session.Active)
	require.Nil(t, ctx.SelectedProviderID)
	require.Equal(t, 120.0, ctx.Metrics.Summary().AvgSessionDurationSec)
}
