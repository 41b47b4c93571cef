package layerc

import (
	"github.com/sirupsen/logrus"

	"github.com/haidar-88/mvccp/internal/model"
	"github.com/haidar-88/mvccp/internal/mvccp"
	"github.com/haidar-88/mvccp/internal/wire"
)

// queuedConsumer is one consumer waiting for an RREH charging slot
// (spec.md §4.6 "RREH"). Grounded on
// original_source/src/protocol/layer_c/rreh_handler.py's QueuedConsumer.
type queuedConsumer struct {
	ConsumerID   model.NodeID
	EnergyReqKWh float64
	Position     model.LatLon
	QueuedAt     float64
}

// RREHHandler drives the RREH state machine: GRID_ANNOUNCE -> WAIT_OFFERS
// -> EVALUATE_QUEUE -> SEND_ACCEPT -> WAIT_ACK -> SEND_ACKACK ->
// CHARGE_SESSION -> IDLE (spec.md §4.6 "RREH"). RREHs are stationary and
// never change role. Grounded on
// original_source/src/protocol/layer_c/rreh_handler.py's RREHHandler.
// Periodic GRID_STATUS broadcast itself is layerb.Handler's job (spec.md
// §4.5); this handler only keeps ctx.RREHQueue/RREHActiveSessions in sync
// so that broadcast stays accurate, rather than duplicating it here.
type RREHHandler struct {
	ctx *mvccp.Context
	log *logrus.Entry

	queue         []queuedConsumer
	activeByID    map[model.NodeID]queuedConsumer
	offerWindowAt float64
	target        *model.NodeID
	targetTimeout float64
}

// NewRREHHandler wires an RREHHandler to ctx. log may be nil to disable
// logging.
func NewRREHHandler(ctx *mvccp.Context, log *logrus.Entry) *RREHHandler {
	return &RREHHandler{
		ctx:        ctx,
		log:        log,
		activeByID: make(map[model.NodeID]queuedConsumer),
	}
}

func (h *RREHHandler) transition(to mvccp.RREHState) {
	old := h.ctx.RREHState
	h.ctx.RREHState = to
	if h.ctx.Metrics != nil {
		h.ctx.Metrics.IncRREHState(to.String())
	}
	if h.log != nil {
		h.log.WithField("from", old.String()).WithField("to", to.String()).Info("RREH state transition")
	}
}

// Tick advances the state machine (spec.md §4.6 "RREH tick").
func (h *RREHHandler) Tick(now float64) error {
	if !h.ctx.IsRREHRole() {
		return nil
	}
	switch h.ctx.RREHState {
	case mvccp.RREHGridAnnounce:
		return h.processGridAnnounce(now)
	case mvccp.RREHWaitOffers:
		return h.processWaitOffers(now)
	case mvccp.RREHEvaluateQueue:
		return h.processEvaluateQueue()
	case mvccp.RREHWaitAck:
		return h.checkAckTimeout(now)
	case mvccp.RREHChargeSession:
		return h.processChargeSession()
	case mvccp.RREHIdle:
		return h.processIdle()
	}
	return nil
}

// hasCapacity reports whether this hub can accept another session right
// now (spec.md §4.6 "_has_capacity").
func (h *RREHHandler) hasCapacity() bool {
	op := h.ctx.RREHOperationalState
	return len(h.activeByID) < h.ctx.RREHMaxSessions &&
		(op == model.StateNormal || op == model.StateCongested)
}

// CalculateQueueTime estimates the wait time a new consumer would face,
// capped at MaxAcceptableQue (spec.md §4.6 "calculate_queue_time", P7).
func (h *RREHHandler) CalculateQueueTime() float64 {
	if len(h.activeByID) < h.ctx.RREHMaxSessions {
		return 0
	}
	queueTime := float64(len(h.activeByID)) * h.ctx.Cfg.RREHAvgSession
	if queueTime > h.ctx.Cfg.MaxAcceptableQue {
		return h.ctx.Cfg.MaxAcceptableQue
	}
	return queueTime
}

// processGridAnnounce moves to WAIT_OFFERS once the hub has capacity
// (spec.md §4.6 "_process_grid_announce").
func (h *RREHHandler) processGridAnnounce(now float64) error {
	if h.hasCapacity() {
		h.offerWindowAt = now
		h.transition(mvccp.RREHWaitOffers)
	}
	return nil
}

// processWaitOffers closes the offer window, moving to EVALUATE_QUEUE if
// anyone queued up, or IDLE otherwise (spec.md §4.6
// "_process_wait_offers").
func (h *RREHHandler) processWaitOffers(now float64) error {
	if now-h.offerWindowAt < h.ctx.Cfg.TRREHOfer {
		return nil
	}
	if len(h.queue) > 0 {
		h.transition(mvccp.RREHEvaluateQueue)
	} else {
		h.transition(mvccp.RREHIdle)
	}
	return nil
}

// HandleJoinOffer enqueues an incoming JOIN_OFFER (spec.md §4.6
// "handle_join_offer"). RREHs accept offers in every state except a full
// CHARGE_SESSION, and idle hubs wake straight into evaluation.
func (h *RREHHandler) HandleJoinOffer(f wire.Frame) error {
	if h.ctx.RREHState == mvccp.RREHChargeSession && !h.hasCapacity() {
		return nil
	}

	jf, err := wire.DecodeJoinOffer(f)
	if err != nil {
		if h.ctx.Metrics != nil {
			h.ctx.Metrics.IncDropped(wire.MsgJoinOffer.String())
		}
		return err
	}
	consumerID := jf.ConsumerID
	if consumerID == (model.NodeID{}) {
		consumerID = model.NodeID(f.Header.SenderID)
	}

	for _, c := range h.queue {
		if c.ConsumerID == consumerID {
			return nil
		}
	}
	if _, active := h.activeByID[consumerID]; active {
		return nil
	}

	h.queue = append(h.queue, queuedConsumer{
		ConsumerID: consumerID, EnergyReqKWh: jf.EnergyReqKWh,
		Position: jf.Position, QueuedAt: h.ctx.CurrentTime,
	})
	h.syncQueue()

	if h.ctx.Metrics != nil {
		h.ctx.Metrics.IncReceived(wire.MsgJoinOffer.String())
	}
	if h.log != nil {
		h.log.WithField("consumer", consumerID.String()).WithField("position", len(h.queue)).Info("RX JOIN_OFFER, queued")
	}

	if h.ctx.RREHState == mvccp.RREHIdle {
		h.transition(mvccp.RREHEvaluateQueue)
	}
	return nil
}

// processEvaluateQueue pops the next consumer off the FIFO queue and
// sends it a JOIN_ACCEPT (spec.md §4.6 "_process_evaluate_queue").
func (h *RREHHandler) processEvaluateQueue() error {
	if len(h.queue) == 0 || !h.hasCapacity() {
		h.transition(mvccp.RREHIdle)
		return nil
	}

	next := h.queue[0]
	target := next.ConsumerID
	h.target = &target
	h.transition(mvccp.RREHSendAccept)
	return h.sendAccept(next)
}

// sendAccept transmits JOIN_ACCEPT to the selected consumer and arms the
// ACK timeout (spec.md §4.6 "_send_accept").
func (h *RREHHandler) sendAccept(c queuedConsumer) error {
	n := h.ctx.Node
	duration := 0.0
	if h.ctx.RREHAvailablePowerKW > 0 {
		duration = (c.EnergyReqKWh / h.ctx.RREHAvailablePowerKW) * 3600
	}

	jf := wire.JoinAcceptFields{
		ProviderID:   h.ctx.NodeID,
		MeetingPoint: n.Kinematics.Position,
		BandwidthKW:  h.ctx.RREHAvailablePowerKW,
		DurationSec:  duration,
	}
	frame, err := wire.EncodeJoinAccept(h.ctx.NextSequence(), h.ctx.NodeID, h.ctx.GetEffectiveTTL(), jf)
	if err != nil {
		return err
	}
	if err := h.ctx.Transport.Broadcast(frame); err != nil {
		return err
	}
	if h.ctx.Metrics != nil {
		h.ctx.Metrics.IncSent(wire.MsgJoinAccept.String())
	}
	if h.log != nil {
		h.log.WithField("consumer", c.ConsumerID.String()).Info("TX JOIN_ACCEPT")
	}

	h.targetTimeout = h.ctx.CurrentTime + h.ctx.Cfg.TAck
	h.transition(mvccp.RREHWaitAck)
	return nil
}

// HandleAck processes the selected consumer's ACK and replies with ACKACK
// (spec.md §4.6 "handle_ack").
func (h *RREHHandler) HandleAck(f wire.Frame) error {
	if h.ctx.RREHState != mvccp.RREHWaitAck || h.target == nil {
		return nil
	}
	consumerID, err := wire.DecodeAck(f)
	if err != nil {
		if h.ctx.Metrics != nil {
			h.ctx.Metrics.IncDropped(wire.MsgAck.String())
		}
		return err
	}
	if consumerID != *h.target {
		return nil
	}

	if h.ctx.Metrics != nil {
		h.ctx.Metrics.IncReceived(wire.MsgAck.String())
	}
	h.transition(mvccp.RREHSendAckAck)
	return h.sendAckAck(consumerID)
}

// sendAckAck confirms the session, moves the consumer from queue to
// active sessions, and resumes the queue (spec.md §4.6 "_send_ackack").
func (h *RREHHandler) sendAckAck(consumerID model.NodeID) error {
	frame, err := wire.EncodeAckAck(h.ctx.NextSequence(), h.ctx.NodeID, h.ctx.GetEffectiveTTL(), h.ctx.NodeID)
	if err != nil {
		return err
	}
	if err := h.ctx.Transport.Broadcast(frame); err != nil {
		return err
	}
	if h.ctx.Metrics != nil {
		h.ctx.Metrics.IncSent(wire.MsgAckAck.String())
		h.ctx.Metrics.IncSessionSuccess()
	}

	for i, c := range h.queue {
		if c.ConsumerID == consumerID {
			h.activeByID[consumerID] = c
			h.queue = append(h.queue[:i], h.queue[i+1:]...)
			break
		}
	}
	h.syncQueue()
	h.ctx.RREHActiveSessions = len(h.activeByID)
	h.target = nil

	if h.log != nil {
		h.log.WithField("consumer", consumerID.String()).Info("TX ACKACK, session started")
	}

	switch {
	case len(h.activeByID) > 0:
		h.transition(mvccp.RREHChargeSession)
	case len(h.queue) > 0:
		h.transition(mvccp.RREHEvaluateQueue)
	default:
		h.transition(mvccp.RREHIdle)
	}
	return nil
}

// checkAckTimeout drops a target that never ACKed and moves on (spec.md
// §4.6 "_check_ack_timeout").
func (h *RREHHandler) checkAckTimeout(now float64) error {
	if now <= h.targetTimeout {
		return nil
	}
	if h.target != nil {
		if h.log != nil {
			h.log.WithField("consumer", h.target.String()).Warn("ACK timeout")
		}
		for i, c := range h.queue {
			if c.ConsumerID == *h.target {
				h.queue = append(h.queue[:i], h.queue[i+1:]...)
				break
			}
		}
		h.syncQueue()
		h.target = nil
	}
	if len(h.queue) > 0 {
		h.transition(mvccp.RREHEvaluateQueue)
	} else {
		h.transition(mvccp.RREHIdle)
	}
	return nil
}

// processChargeSession pulls in another queued consumer if capacity
// frees up while sessions are active (spec.md §4.6
// "_process_charge_session").
func (h *RREHHandler) processChargeSession() error {
	if h.hasCapacity() && len(h.queue) > 0 {
		h.transition(mvccp.RREHEvaluateQueue)
	}
	return nil
}

// processIdle checks for a newly-queued consumer (spec.md §4.6
// "_process_idle").
func (h *RREHHandler) processIdle() error {
	if len(h.queue) > 0 && h.hasCapacity() {
		h.transition(mvccp.RREHEvaluateQueue)
	}
	return nil
}

// CompleteSession marks a charging session finished, called by the
// simulation driver once a consumer's charging duration elapses (spec.md
// §4.6 "complete_session").
func (h *RREHHandler) CompleteSession(consumerID model.NodeID) {
	if _, ok := h.activeByID[consumerID]; !ok {
		return
	}
	delete(h.activeByID, consumerID)
	h.ctx.RREHActiveSessions = len(h.activeByID)
	if h.log != nil {
		h.log.WithField("consumer", consumerID.String()).Info("session complete")
	}
	if len(h.queue) > 0 && h.hasCapacity() {
		h.transition(mvccp.RREHEvaluateQueue)
	}
}

// syncQueue keeps ctx.RREHQueue (the NodeID-only view layerb.go's
// GRID_STATUS queue-time estimate reads) consistent with this handler's
// richer internal queue.
func (h *RREHHandler) syncQueue() {
	ids := make([]model.NodeID, len(h.queue))
	for i, c := range h.queue {
		ids[i] = c.ConsumerID
	}
	h.ctx.RREHQueue = ids
}
