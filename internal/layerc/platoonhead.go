package layerc

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/haidar-88/mvccp/internal/model"
	"github.com/haidar-88/mvccp/internal/mvccp"
	"github.com/haidar-88/mvccp/internal/wire"
)

// pendingMember tracks one consumer's JOIN_OFFER while a PlatoonHead
// decides whether to admit it (spec.md §4.6 "PlatoonHead"). Grounded on
// platoon_head_handler.py's PendingMember.
type pendingMember struct {
	ConsumerID    model.NodeID
	EnergyReqKWh  float64
	Position      model.LatLon
	Trajectory    model.LatLon
	HasTrajectory bool
	ReceivedAt    float64
}

// PlatoonHeadHandler drives the PlatoonHead state machine: BEACON ->
// WAIT_OFFERS -> EVALUATE_OFFERS -> SEND_ACCEPT -> WAIT_ACK ->
// SEND_ACKACK -> COORDINATE -> (HANDOFF) (spec.md §4.6, §4.7). Grounded
// on original_source/src/protocol/layer_c/platoon_head_handler.py's
// PlatoonHeadHandler.
type PlatoonHeadHandler struct {
	ctx *mvccp.Context
	log *logrus.Entry
	rm  *RoleManager

	pending map[model.NodeID]pendingMember
	target  *model.NodeID

	offerWindowStart    float64
	lastAnnounceTime    float64
	targetTimeout       float64

	memberStatus map[model.NodeID]model.MemberStatus
}

// NewPlatoonHeadHandler wires a PlatoonHeadHandler to ctx. log may be nil
// to disable logging.
func NewPlatoonHeadHandler(ctx *mvccp.Context, log *logrus.Entry) *PlatoonHeadHandler {
	return &PlatoonHeadHandler{
		ctx:          ctx,
		log:          log,
		rm:           NewRoleManager(ctx),
		pending:      make(map[model.NodeID]pendingMember),
		memberStatus: make(map[model.NodeID]model.MemberStatus),
	}
}

func (h *PlatoonHeadHandler) transition(to mvccp.PlatoonHeadState) {
	old := h.ctx.PlatoonHeadState
	h.ctx.PlatoonHeadState = to
	if h.ctx.Metrics != nil {
		h.ctx.Metrics.IncPHState(to.String())
	}
	if h.log != nil {
		h.log.WithField("from", old.String()).WithField("to", to.String()).Info("platoon head state transition")
	}
}

// Tick advances the state machine (spec.md §4.6 "PlatoonHead tick").
func (h *PlatoonHeadHandler) Tick(now float64) error {
	if !h.ctx.IsPlatoonHead() {
		return nil
	}
	switch h.ctx.PlatoonHeadState {
	case mvccp.PHBeacon:
		return h.processBeacon(now)
	case mvccp.PHWaitOffers:
		return h.processWaitOffers(now)
	case mvccp.PHEvaluateOffers:
		return h.processEvaluateOffers()
	case mvccp.PHWaitAck:
		return h.checkAckTimeout(now)
	case mvccp.PHCoordinate:
		return h.processCoordinate(now)
	case mvccp.PHHandoff:
		return h.processHandoff()
	}
	return nil
}

func (h *PlatoonHeadHandler) availableSlots() int {
	return h.ctx.Cfg.PlatoonMaxSize - (len(h.ctx.PlatoonMembers) + 1)
}

// processBeacon sends periodic BEACON/PLATOON_ANNOUNCE, opening an offer
// window once the platoon has room (spec.md §4.6 "_process_beacon").
func (h *PlatoonHeadHandler) processBeacon(now float64) error {
	if now-h.ctx.LastBeaconTime >= h.ctx.Cfg.BeaconInterval {
		h.ctx.LastBeaconTime = now
		if err := h.sendBeacon(); err != nil {
			return err
		}
	}
	if now-h.lastAnnounceTime >= h.ctx.Cfg.PlatoonAnnounceIntv {
		h.lastAnnounceTime = now
		if err := h.sendPlatoonAnnounce(); err != nil {
			return err
		}
	}
	if h.availableSlots() > 0 {
		h.offerWindowStart = now
		h.transition(mvccp.PHWaitOffers)
	}
	return nil
}

func (h *PlatoonHeadHandler) sendBeacon() error {
	n := h.ctx.Node
	bf := wire.PlatoonBeaconFields{
		PlatoonID:          h.ctx.NodeID,
		HeadID:             h.ctx.NodeID,
		Timestamp:          h.ctx.CurrentTime,
		HeadPosition:       n.Kinematics.Position,
		HeadVelocity:       vectorMagnitude(n.Kinematics.VX, n.Kinematics.VY),
		AvailableSlots:     h.availableSlots(),
		Topology:           h.topology(),
		FormationPositions: h.ctx.FormationPositions,
	}
	if n.Destination != nil {
		bf.Route, bf.HasRoute = *n.Destination, true
	}

	frame, err := wire.EncodePlatoonBeacon(h.ctx.NextSequence(), h.ctx.NodeID, h.ctx.GetEffectiveTTL(), bf)
	if err != nil {
		return err
	}
	if err := h.ctx.Transport.Broadcast(frame); err != nil {
		return err
	}
	if h.ctx.Metrics != nil {
		h.ctx.Metrics.IncSent(wire.MsgPlatoonBeacon.String())
	}
	if h.log != nil {
		for _, e := range h.ctx.FormationDistributionPlan {
			h.log.WithField("deficit", e.DeficitID.String()).WithField("source", e.SourceID.String()).
				WithField("deliverable_kwh", e.EnergyDeliverableKWh).Debug("formation slot routed via Dijkstra")
		}
	}
	return nil
}

// sendPlatoonAnnounce broadcasts this platoon's capabilities for
// inter-platoon discovery (spec.md §4.7 "PLATOON_ANNOUNCE").
func (h *PlatoonHeadHandler) sendPlatoonAnnounce() error {
	n := h.ctx.Node
	cx, cy := n.DirectionVector()
	af := wire.PlatoonAnnounceFields{
		PlatoonID:           h.ctx.NodeID,
		HeadID:              h.ctx.NodeID,
		Position:            n.Kinematics.Position,
		AvailableSlots:      h.availableSlots(),
		SurplusEnergyKWh:    h.totalShareableEnergy(),
		DirectionVector:     [2]float64{cx, cy},
		FormationEfficiency: h.ctx.FormationEfficiency,
	}
	if n.Destination != nil {
		af.Destination = *n.Destination
	}

	frame, err := wire.EncodePlatoonAnnounce(h.ctx.NextSequence(), h.ctx.NodeID, h.ctx.Cfg.PAnnTTL, af)
	if err != nil {
		return err
	}
	if err := h.ctx.Transport.Broadcast(frame); err != nil {
		return err
	}
	if h.ctx.Metrics != nil {
		h.ctx.Metrics.IncSent(wire.MsgPlatoonAnnounce.String())
	}
	if h.log != nil {
		h.log.WithField("slots", af.AvailableSlots).WithField("energy", af.SurplusEnergyKWh).Debug("TX PLATOON_ANNOUNCE")
	}
	return nil
}

// totalShareableEnergy sums this head's own shareable energy plus every
// tracked member's reported battery level (spec.md §4.7
// "total_shareable_energy"). Member figures are an approximation: PLATOON_STATUS
// only reports a battery level, not a per-member destination, so a
// member's own shareable-energy computation isn't available to the head.
func (h *PlatoonHeadHandler) totalShareableEnergy() float64 {
	total := h.ctx.Node.ShareableEnergy(h.ctx.EnergyToDestinationKWh())
	for _, st := range h.memberStatus {
		total += st.BatteryLevel
	}
	return total
}

func (h *PlatoonHeadHandler) topology() []wire.TopologyEntry {
	entries := make([]wire.TopologyEntry, 0, len(h.ctx.PlatoonMembers)+1)
	entries = append(entries, wire.TopologyEntry{NodeID: h.ctx.NodeID, Index: 0})
	for i, m := range h.ctx.PlatoonMembers {
		entries = append(entries, wire.TopologyEntry{NodeID: m, Index: uint8(i + 1)})
	}
	return entries
}

func vectorMagnitude(vx, vy float64) float64 {
	return math.Sqrt(vx*vx + vy*vy)
}

// processWaitOffers closes the offer window once OFFER_WINDOW elapses
// (spec.md §4.6 "_process_wait_offers").
func (h *PlatoonHeadHandler) processWaitOffers(now float64) error {
	if now-h.offerWindowStart < h.ctx.Cfg.TPHOffer {
		return nil
	}
	if len(h.pending) > 0 {
		h.transition(mvccp.PHEvaluateOffers)
	} else {
		h.transition(mvccp.PHBeacon)
	}
	return nil
}

// HandleJoinOffer records an incoming JOIN_OFFER while accepting offers
// (spec.md §4.6 "handle_join_offer").
func (h *PlatoonHeadHandler) HandleJoinOffer(f wire.Frame) error {
	switch h.ctx.PlatoonHeadState {
	case mvccp.PHWaitOffers, mvccp.PHBeacon, mvccp.PHCoordinate:
	default:
		return nil
	}
	if h.availableSlots() <= 0 {
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
	if _, exists := h.pending[consumerID]; exists {
		return nil
	}
	if len(h.pending) >= h.ctx.Cfg.MaxPendingOffers {
		return nil
	}

	h.pending[consumerID] = pendingMember{
		ConsumerID:    consumerID,
		EnergyReqKWh:  jf.EnergyReqKWh,
		Position:      jf.Position,
		Trajectory:    jf.Trajectory,
		HasTrajectory: jf.HasTrajectory,
		ReceivedAt:    h.ctx.CurrentTime,
	}

	if h.ctx.Metrics != nil {
		h.ctx.Metrics.IncReceived(wire.MsgJoinOffer.String())
	}
	if h.log != nil {
		h.log.WithField("consumer", consumerID.String()).Info("RX JOIN_OFFER")
	}

	if h.ctx.PlatoonHeadState == mvccp.PHCoordinate {
		h.transition(mvccp.PHEvaluateOffers)
	}
	return nil
}

// processEvaluateOffers scores pending offers and accepts the
// best-scoring one, one at a time (spec.md §4.6 "_process_evaluate_offers").
func (h *PlatoonHeadHandler) processEvaluateOffers() error {
	slots := h.availableSlots()
	if slots <= 0 || len(h.pending) == 0 {
		h.pending = make(map[model.NodeID]pendingMember)
		h.transition(mvccp.PHCoordinate)
		return nil
	}

	ids := make([]model.NodeID, 0, len(h.pending))
	for id := range h.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		si, sj := h.scoreOffer(h.pending[ids[i]]), h.scoreOffer(h.pending[ids[j]])
		if si != sj {
			return si > sj
		}
		return ids[i].String() < ids[j].String()
	})

	best := ids[0]
	if h.scoreOffer(h.pending[best]) <= 0 {
		h.pending = make(map[model.NodeID]pendingMember)
		h.transition(mvccp.PHCoordinate)
		return nil
	}

	target := best
	h.target = &target
	h.transition(mvccp.PHSendAccept)
	return h.sendAccept(h.pending[best])
}

// scoreOffer ranks a pending offer by route alignment with the platoon's
// common destination and whether the head can cover the requested energy
// (spec.md §4.6 "_score_offer"). Higher is better.
func (h *PlatoonHeadHandler) scoreOffer(p pendingMember) float64 {
	score := 100.0

	if h.ctx.Node.Destination != nil && p.HasTrajectory {
		dx := p.Trajectory.Lon - p.Position.Lon
		dy := p.Trajectory.Lat - p.Position.Lat
		mag := dx*dx + dy*dy
		if mag > 0 {
			m := math.Sqrt(mag)
			cx, cy := h.ctx.Node.DirectionVector()
			alignment := cx*(dx/m) + cy*(dy/m)
			score += alignment * 50
		}
	}

	if p.EnergyReqKWh > h.totalShareableEnergy() {
		score -= 50
	}
	return score
}

// sendAccept transmits JOIN_ACCEPT to the selected consumer and arms the
// ACK timeout (spec.md §4.6 "_send_accept").
func (h *PlatoonHeadHandler) sendAccept(p pendingMember) error {
	n := h.ctx.Node
	bandwidth := n.Battery.MaxOutKW
	duration := 0.0
	if bandwidth > 0 {
		duration = (p.EnergyReqKWh / bandwidth) * 3600
	}

	jf := wire.JoinAcceptFields{
		ProviderID:     h.ctx.NodeID,
		MeetingPoint:   n.Kinematics.Position,
		BandwidthKW:    bandwidth,
		DurationSec:    duration,
		PlatoonMembers: h.ctx.PlatoonMembers,
		Topology:       h.topology(),
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
		h.log.WithField("consumer", p.ConsumerID.String()).Info("TX JOIN_ACCEPT")
	}

	h.targetTimeout = h.ctx.CurrentTime + h.ctx.Cfg.TAck
	h.transition(mvccp.PHWaitAck)
	return nil
}

// HandleAck processes a consumer's ACK and replies with ACKACK (spec.md
// §4.6 "handle_ack").
func (h *PlatoonHeadHandler) HandleAck(f wire.Frame) error {
	if h.ctx.PlatoonHeadState != mvccp.PHWaitAck || h.target == nil {
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
	h.transition(mvccp.PHSendAckAck)
	return h.sendAckAck(consumerID)
}

// sendAckAck confirms the session, admits the member to the platoon, and
// resumes evaluating any remaining offers (spec.md §4.6 "_send_ackack").
func (h *PlatoonHeadHandler) sendAckAck(consumerID model.NodeID) error {
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

	h.addMember(consumerID)
	delete(h.pending, consumerID)
	h.target = nil

	if h.log != nil {
		h.log.WithField("consumer", consumerID.String()).Info("TX ACKACK, member added to platoon")
	}

	if len(h.pending) > 0 {
		h.transition(mvccp.PHEvaluateOffers)
	} else {
		h.transition(mvccp.PHCoordinate)
	}
	return nil
}

func (h *PlatoonHeadHandler) addMember(id model.NodeID) {
	for _, m := range h.ctx.PlatoonMembers {
		if m == id {
			return
		}
	}
	h.ctx.PlatoonMembers = append(h.ctx.PlatoonMembers, id)
}

// checkAckTimeout abandons a candidate that never ACKed (spec.md §4.6
// "_check_ack_timeout").
func (h *PlatoonHeadHandler) checkAckTimeout(now float64) error {
	if now <= h.targetTimeout {
		return nil
	}
	if h.target != nil {
		if h.log != nil {
			h.log.WithField("consumer", h.target.String()).Warn("ACK timeout")
		}
		delete(h.pending, *h.target)
		h.target = nil
	}
	if len(h.pending) > 0 {
		h.transition(mvccp.PHEvaluateOffers)
	} else {
		h.transition(mvccp.PHCoordinate)
	}
	return nil
}

// processCoordinate maintains the platoon: periodic beacons/announces and
// a handoff check (spec.md §4.6 "_process_coordinate").
func (h *PlatoonHeadHandler) processCoordinate(now float64) error {
	if now-h.ctx.LastBeaconTime >= h.ctx.Cfg.BeaconInterval {
		h.ctx.LastBeaconTime = now
		if err := h.sendBeacon(); err != nil {
			return err
		}
	}
	if now-h.lastAnnounceTime >= h.ctx.Cfg.PlatoonAnnounceIntv {
		h.lastAnnounceTime = now
		if err := h.sendPlatoonAnnounce(); err != nil {
			return err
		}
	}
	if h.rm.ShouldHandoff(h.memberStatus) {
		h.transition(mvccp.PHHandoff)
	}
	return nil
}

// HandlePlatoonStatus records a member's reported battery level, used by
// totalShareableEnergy and handoff candidate selection (spec.md §4.7
// "handle_platoon_status").
func (h *PlatoonHeadHandler) HandlePlatoonStatus(f wire.Frame) error {
	sf, err := wire.DecodePlatoonStatus(f)
	if err != nil {
		if h.ctx.Metrics != nil {
			h.ctx.Metrics.IncDropped(wire.MsgPlatoonStatus.String())
		}
		return err
	}
	h.memberStatus[sf.VehicleID] = model.MemberStatus{
		NodeID:        sf.VehicleID,
		BatteryLevel:  sf.BatteryKWh,
		RelativeIndex: sf.RelativeIndex,
		ReceiveRateKW: sf.ReceiveRateKW,
		LastUpdate:    h.ctx.CurrentTime,
	}
	if h.ctx.Metrics != nil {
		h.ctx.Metrics.IncReceived(wire.MsgPlatoonStatus.String())
	}
	return nil
}

// processHandoff attempts to transfer the PH role to the best candidate,
// falling back to COORDINATE if it fails (spec.md §4.6 "_process_handoff").
func (h *PlatoonHeadHandler) processHandoff() error {
	if h.rm.PerformHandoff(h.memberStatus) {
		if h.log != nil {
			h.log.Info("handoff successful")
		}
		return nil
	}
	if h.log != nil {
		h.log.Warn("handoff failed, continuing as PH")
	}
	h.transition(mvccp.PHCoordinate)
	return nil
}
