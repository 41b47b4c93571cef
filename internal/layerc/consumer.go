package layerc

import (
	"github.com/sirupsen/logrus"

	"github.com/haidar-88/mvccp/internal/model"
	"github.com/haidar-88/mvccp/internal/mvccp"
	"github.com/haidar-88/mvccp/internal/wire"
)

// ConsumerHandler drives the Consumer state machine: DISCOVER ->
// EVALUATE -> SEND_OFFER -> WAIT_ACCEPT -> SEND_ACK -> WAIT_ACKACK ->
// ALLOCATED -> TRAVEL -> CHARGE -> LEAVE (spec.md §4.6). Grounded on
// original_source/src/protocol/layer_c/consumer_handler.py's
// ConsumerHandler.
type ConsumerHandler struct {
	ctx  *mvccp.Context
	log  *logrus.Entry
	eval *Evaluator
	bl   *blacklist
	bo   *backoff

	evaluation      Evaluation
	selectedPlatoon *model.PlatoonEntry
}

// NewConsumerHandler wires a ConsumerHandler to ctx. log may be nil to
// disable logging.
func NewConsumerHandler(ctx *mvccp.Context, log *logrus.Entry) *ConsumerHandler {
	return &ConsumerHandler{
		ctx:  ctx,
		log:  log,
		eval: NewEvaluator(ctx),
		bl:   newBlacklist(ctx.Cfg),
		bo:   newBackoff(ctx.Cfg),
	}
}

func (h *ConsumerHandler) transition(to mvccp.ConsumerState) {
	old := h.ctx.ConsumerState
	h.ctx.ConsumerState = to
	if h.ctx.Metrics != nil {
		h.ctx.Metrics.IncConsumerState(to.String())
	}
	if h.log != nil {
		h.log.WithField("from", old.String()).WithField("to", to.String()).Info("consumer state transition")
	}
}

// Tick advances the state machine one step: DISCOVER/EVALUATE run their
// processing immediately, WAIT_ACCEPT/WAIT_ACKACK check for timeout or a
// pending backoff retry (spec.md §4.6 "tick").
func (h *ConsumerHandler) Tick(now float64) error {
	if !h.ctx.IsConsumer() {
		return nil
	}
	switch h.ctx.ConsumerState {
	case mvccp.ConsumerDiscover:
		return h.processDiscover()
	case mvccp.ConsumerEvaluate:
		return h.processEvaluate()
	case mvccp.ConsumerWaitAccept:
		return h.checkTimeout(now, true)
	case mvccp.ConsumerWaitAckAck:
		return h.checkTimeout(now, false)
	}
	return nil
}

// processDiscover looks for a provider with capacity; any non-blacklisted
// candidate moves the state machine to EVALUATE (spec.md §4.6
// "_process_discover"). Also refreshes the inter-platoon discovery table
// maintained alongside the usual PA-driven provider table (spec.md §4.7
// "inter-platoon discovery").
func (h *ConsumerHandler) processDiscover() error {
	h.ctx.PlatoonTable.PruneStale(h.ctx.CurrentTime)
	h.selectedPlatoon = h.findBestPlatoon()

	for _, p := range h.ctx.ProviderTable.WithCapacity(h.ctx.CurrentTime) {
		if !h.bl.isBlacklisted(p.ProviderID, h.ctx.CurrentTime) {
			h.transition(mvccp.ConsumerEvaluate)
			return nil
		}
	}
	return nil
}

// findBestPlatoon scores every discovered platoon against this node's
// route and remaining energy deficit, returning nil if no charging is
// needed or none qualify (spec.md §4.7 "_find_best_platoon_from_table").
func (h *ConsumerHandler) findBestPlatoon() *model.PlatoonEntry {
	n := h.ctx.Node
	energyNeeded := h.ctx.EnergyToDestinationKWh() + n.Battery.MinReserveKWh
	energyDeficit := energyNeeded - n.Battery.CurrentKWh
	if energyDeficit <= 0 {
		return nil
	}

	cx, cy := n.DirectionVector()
	best, ok := h.ctx.PlatoonTable.FindBest(n.Kinematics.Position, [2]float64{cx, cy}, energyDeficit, h.ctx.Cfg.KMPerDegree, nil)
	if !ok {
		return nil
	}
	return &best
}

// HandlePlatoonAnnounce refreshes the inter-platoon discovery table from a
// received PLATOON_ANNOUNCE (spec.md §4.7 "handle_platoon_announce").
func (h *ConsumerHandler) HandlePlatoonAnnounce(f wire.Frame) error {
	af, err := wire.DecodePlatoonAnnounce(f)
	if err != nil {
		if h.ctx.Metrics != nil {
			h.ctx.Metrics.IncDropped(wire.MsgPlatoonAnnounce.String())
		}
		return err
	}

	h.ctx.PlatoonTable.Update(model.PlatoonEntry{
		PlatoonID:           af.PlatoonID,
		HeadID:              af.HeadID,
		Position:            af.Position,
		Direction:           af.DirectionVector,
		Destination:         af.Destination,
		SurplusKWh:          af.SurplusEnergyKWh,
		AvailableSlots:      af.AvailableSlots,
		FormationEfficiency: af.FormationEfficiency,
		LastSeen:            h.ctx.CurrentTime,
	})

	if h.ctx.Metrics != nil {
		h.ctx.Metrics.IncReceived(wire.MsgPlatoonAnnounce.String())
	}
	if h.log != nil {
		h.log.WithField("platoon", af.PlatoonID.String()).WithField("slots", af.AvailableSlots).Debug("RX PLATOON_ANNOUNCE")
	}
	return nil
}

// processEvaluate picks the best non-blacklisted provider and sends it a
// JOIN_OFFER, or falls back to DISCOVER if none qualify (spec.md §4.6
// "_process_evaluate").
func (h *ConsumerHandler) processEvaluate() error {
	best, ok := h.eval.SelectBest(func(p model.ProviderEntry) bool {
		return !h.bl.isBlacklisted(p.ProviderID, h.ctx.CurrentTime)
	})
	if !ok {
		h.transition(mvccp.ConsumerDiscover)
		return nil
	}

	h.evaluation = best
	if h.ctx.Metrics != nil {
		if best.IsRREH {
			h.ctx.Metrics.IncRREHSelection()
		} else {
			h.ctx.Metrics.IncPlatoonSelection()
		}
		h.ctx.Metrics.RecordDetourCost(best.DetourCostKWh)
		h.ctx.Metrics.RecordUrgencyRatio(best.UrgencyRatio)
		h.ctx.Metrics.RecordQueuePenalty(best.QueuePenaltyKWh)
	}

	h.transition(mvccp.ConsumerSendOffer)
	return h.sendOffer(best)
}

// sendOffer builds and transmits a JOIN_OFFER to the selected provider,
// starts the ACCEPT timeout, and moves to WAIT_ACCEPT (spec.md §4.6
// "_send_offer").
func (h *ConsumerHandler) sendOffer(ev Evaluation) error {
	n := h.ctx.Node
	energyNeeded := h.ctx.EnergyToDestinationKWh() + n.Battery.MinReserveKWh
	energyDeficit := energyNeeded - n.Battery.CurrentKWh
	if energyDeficit < 0 {
		energyDeficit = 0
	}
	energyRequired := energyDeficit + 5.0

	jf := wire.JoinOfferFields{
		ConsumerID:   h.ctx.NodeID,
		EnergyReqKWh: energyRequired,
		Position:     n.Kinematics.Position,
		MeetingPoint: ev.Provider.Position,
	}
	if n.Destination != nil {
		jf.Trajectory, jf.HasTrajectory = *n.Destination, true
	}

	h.ctx.Session = mvccp.Session{
		Active:       true,
		ProviderID:   ev.Provider.ProviderID,
		ProviderType: ev.Provider.Type,
		StartTime:    h.ctx.CurrentTime,
		TimeoutTime:  h.ctx.CurrentTime + h.ctx.Cfg.TAccept,
	}

	frame, err := wire.EncodeJoinOffer(h.ctx.NextSequence(), h.ctx.NodeID, h.ctx.GetEffectiveTTL(), jf)
	if err != nil {
		return err
	}
	if err := h.ctx.Transport.Broadcast(frame); err != nil {
		return err
	}
	if h.ctx.Metrics != nil {
		h.ctx.Metrics.IncSent(wire.MsgJoinOffer.String())
	}
	if h.log != nil {
		h.log.WithField("provider", ev.Provider.ProviderID.String()).WithField("kwh", energyRequired).Info("TX JOIN_OFFER")
	}

	h.transition(mvccp.ConsumerWaitAccept)
	return nil
}

// HandleJoinAccept processes a JOIN_ACCEPT from the selected provider and
// replies with ACK (spec.md §4.6 handshake step 2).
func (h *ConsumerHandler) HandleJoinAccept(f wire.Frame) error {
	if h.ctx.ConsumerState != mvccp.ConsumerWaitAccept {
		return nil
	}
	jf, err := wire.DecodeJoinAccept(f)
	if err != nil {
		if h.ctx.Metrics != nil {
			h.ctx.Metrics.IncDropped(wire.MsgJoinAccept.String())
		}
		return err
	}
	if jf.ProviderID != h.ctx.Session.ProviderID {
		return nil
	}

	h.ctx.Session.MeetingPoint = jf.MeetingPoint
	h.ctx.Session.BandwidthKW = jf.BandwidthKW
	h.ctx.Session.DurationSec = jf.DurationSec
	h.bo.reset()

	if h.ctx.Metrics != nil {
		h.ctx.Metrics.IncReceived(wire.MsgJoinAccept.String())
	}
	if h.log != nil {
		h.log.WithField("provider", jf.ProviderID.String()).Info("RX JOIN_ACCEPT")
	}

	h.transition(mvccp.ConsumerSendAck)
	return h.sendAck()
}

// sendAck transmits ACK and arms the ACKACK timeout (spec.md §4.6
// handshake step 3).
func (h *ConsumerHandler) sendAck() error {
	frame, err := wire.EncodeAck(h.ctx.NextSequence(), h.ctx.NodeID, h.ctx.GetEffectiveTTL(), h.ctx.NodeID)
	if err != nil {
		return err
	}
	if err := h.ctx.Transport.Broadcast(frame); err != nil {
		return err
	}
	if h.ctx.Metrics != nil {
		h.ctx.Metrics.IncSent(wire.MsgAck.String())
	}
	if h.log != nil {
		h.log.Debug("TX ACK")
	}

	h.ctx.Session.TimeoutTime = h.ctx.CurrentTime + h.ctx.Cfg.TAckAck
	h.transition(mvccp.ConsumerWaitAckAck)
	return nil
}

// HandleAckAck processes an ACKACK from the selected provider, finalizing
// the session by moving to ALLOCATED (spec.md §4.6 handshake step 4).
func (h *ConsumerHandler) HandleAckAck(f wire.Frame) error {
	if h.ctx.ConsumerState != mvccp.ConsumerWaitAckAck {
		return nil
	}
	providerID, err := wire.DecodeAckAck(f)
	if err != nil {
		if h.ctx.Metrics != nil {
			h.ctx.Metrics.IncDropped(wire.MsgAckAck.String())
		}
		return err
	}
	if providerID != h.ctx.Session.ProviderID {
		return nil
	}

	if h.ctx.Metrics != nil {
		h.ctx.Metrics.IncReceived(wire.MsgAckAck.String())
		h.ctx.Metrics.IncSessionSuccess()
	}
	if h.log != nil {
		h.log.WithField("provider", providerID.String()).Info("RX ACKACK - session booked")
	}

	id := h.ctx.Session.ProviderID
	h.ctx.SelectedProviderID = &id
	h.ctx.SelectedProviderType = h.ctx.Session.ProviderType
	h.transition(mvccp.ConsumerAllocated)
	return nil
}

// checkTimeout handles a WAIT_ACCEPT/WAIT_ACKACK expiry: if a backoff is
// already pending it fires the retry once elapsed, otherwise it starts a
// new backoff or blacklists the provider after RetryMaxRetries (spec.md
// §4.6 "_check_*_timeout"/"_handle_timeout").
func (h *ConsumerHandler) checkTimeout(now float64, isAcceptWait bool) error {
	if h.ctx.Session.NextRetryTime != nil {
		if now < *h.ctx.Session.NextRetryTime {
			return nil
		}
		h.ctx.Session.NextRetryTime = nil
		if isAcceptWait {
			return h.sendOffer(h.evaluation)
		}
		return h.sendAck()
	}

	if now <= h.ctx.Session.TimeoutTime {
		return nil
	}
	return h.handleTimeout(isAcceptWait)
}

func (h *ConsumerHandler) handleTimeout(isAcceptWait bool) error {
	if !h.bo.exhausted() {
		delay := h.bo.next()
		h.ctx.Session.Retries++
		h.ctx.Session.BackoffDelay = delay
		next := h.ctx.CurrentTime + delay
		h.ctx.Session.NextRetryTime = &next

		if h.ctx.Metrics != nil {
			h.ctx.Metrics.IncRetry()
			h.ctx.Metrics.RecordBackoff(delay)
		}
		if h.log != nil {
			h.log.WithField("retry", h.ctx.Session.Retries).WithField("delay", delay).Warn("handshake timeout, backing off")
		}
		return nil
	}

	providerID := h.ctx.Session.ProviderID
	h.bl.add(providerID, h.ctx.CurrentTime)
	h.ctx.ProviderTable.Remove(providerID)
	h.bo.reset()

	if h.ctx.Metrics != nil {
		h.ctx.Metrics.IncBlacklistEvent()
		h.ctx.Metrics.IncSessionTimeout()
	}
	if h.log != nil {
		h.log.WithField("provider", providerID.String()).Warn("max retries reached, blacklisting provider")
	}

	h.resetSession()
	h.transition(mvccp.ConsumerDiscover)
	_ = isAcceptWait
	return nil
}

func (h *ConsumerHandler) resetSession() {
	h.ctx.Session = mvccp.Session{}
}

// StartTravel transitions ALLOCATED -> TRAVEL (spec.md §4.6 lifecycle).
func (h *ConsumerHandler) StartTravel() {
	if h.ctx.ConsumerState == mvccp.ConsumerAllocated {
		h.transition(mvccp.ConsumerTravel)
	}
}

// StartCharging transitions TRAVEL -> CHARGE.
func (h *ConsumerHandler) StartCharging() {
	if h.ctx.ConsumerState == mvccp.ConsumerTravel {
		h.transition(mvccp.ConsumerCharge)
	}
}

// FinishCharging transitions CHARGE -> LEAVE -> DISCOVER, recording the
// completed session's duration and clearing the blacklist for a fresh
// discovery cycle (spec.md §4.6 "finish_charging").
func (h *ConsumerHandler) FinishCharging() {
	if h.ctx.ConsumerState != mvccp.ConsumerCharge {
		return
	}
	h.transition(mvccp.ConsumerLeave)
	if h.ctx.Metrics != nil {
		h.ctx.Metrics.RecordSession(h.ctx.CurrentTime - h.ctx.Session.StartTime)
	}

	h.resetSession()
	h.ctx.SelectedProviderID = nil
	h.bl.clear()
	h.transition(mvccp.ConsumerDiscover)
}

// IsActive reports whether the consumer is in an active session (spec.md
// §4.6 "is_active").
func (h *ConsumerHandler) IsActive() bool {
	switch h.ctx.ConsumerState {
	case mvccp.ConsumerSendOffer, mvccp.ConsumerWaitAccept, mvccp.ConsumerSendAck,
		mvccp.ConsumerWaitAckAck, mvccp.ConsumerAllocated, mvccp.ConsumerTravel, mvccp.ConsumerCharge:
		return true
	default:
		return false
	}
}
