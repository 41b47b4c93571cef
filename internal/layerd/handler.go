package layerd

import (
	"github.com/sirupsen/logrus"

	"github.com/haidar-88/mvccp/internal/model"
	"github.com/haidar-88/mvccp/internal/mvccp"
	"github.com/haidar-88/mvccp/internal/wire"
)

// Handler drives Layer D platoon coordination: for heads, it tracks
// member battery/status and recomputes the energy-transfer formation;
// for members, it tracks the head's beacon and reports status back
// (spec.md §4.7). Grounded on
// original_source/src/protocol/layer_d/handler.py's
// PlatoonCoordinationHandler.
type Handler struct {
	ctx *mvccp.Context
	log *logrus.Entry

	// Head-side member tracking.
	members             map[model.NodeID]model.MemberStatus
	lastFormationUpdate float64

	// Member-side head tracking.
	currentHeadID           *model.NodeID
	lastBeaconTime          float64
	lastStatusTime          float64
	ownRelativeIndex        int
	targetFormationPosition *[2]float64
}

// NewHandler wires a Handler to ctx. log may be nil to disable logging.
func NewHandler(ctx *mvccp.Context, log *logrus.Entry) *Handler {
	return &Handler{
		ctx:     ctx,
		log:     log,
		members: make(map[model.NodeID]model.MemberStatus),
	}
}

// Tick advances platoon coordination (spec.md §4.7 "Layer D tick"). A
// no-op for nodes not currently in a platoon.
func (h *Handler) Tick(now float64) error {
	if h.ctx.CurrentPlatoonID == nil {
		return nil
	}
	if h.ctx.IsPlatoonHead() {
		return h.tickAsHead(now)
	}
	if h.ctx.IsPlatoonMember() {
		return h.tickAsMember(now)
	}
	return nil
}

// tickAsHead cleans up stale members and recomputes the formation
// (layer_d handler.py "_tick_as_head").
func (h *Handler) tickAsHead(now float64) error {
	h.cleanStaleMembers(now)
	h.computeAndUpdateFormation(now)
	return nil
}

// tickAsMember watches for a lost head and sends periodic status
// (layer_d handler.py "_tick_as_member").
func (h *Handler) tickAsMember(now float64) error {
	if h.currentHeadID != nil && now-h.lastBeaconTime > h.ctx.Cfg.BeaconTimeout {
		if h.log != nil {
			h.log.Warn("beacon timeout, head may be lost")
		}
		h.handleBeaconTimeout()
		return nil
	}
	if now-h.lastStatusTime >= h.ctx.Cfg.StatusInterval {
		h.lastStatusTime = now
		return h.sendStatus()
	}
	return nil
}

// HandleBeacon processes an incoming PLATOON_BEACON (spec.md §4.7
// "handle_beacon"). Members extract the head's position and their own
// target formation slot; a head receiving another head's beacon just
// logs it.
func (h *Handler) HandleBeacon(f wire.Frame) error {
	bf, err := wire.DecodePlatoonBeacon(f)
	if err != nil {
		if h.ctx.Metrics != nil {
			h.ctx.Metrics.IncDropped(wire.MsgPlatoonBeacon.String())
		}
		return err
	}
	headID := bf.HeadID
	if headID == (model.NodeID{}) {
		headID = model.NodeID(f.Header.SenderID)
	}

	if h.ctx.IsPlatoonMember() {
		if h.ctx.CurrentPlatoonID == nil || *h.ctx.CurrentPlatoonID != bf.PlatoonID {
			return nil
		}
		h.currentHeadID = &headID
		h.lastBeaconTime = h.ctx.CurrentTime
		for _, t := range bf.Topology {
			if t.NodeID == h.ctx.NodeID {
				h.ownRelativeIndex = int(t.Index)
				break
			}
		}
		if pos, ok := bf.FormationPositions[h.ctx.NodeID]; ok {
			h.targetFormationPosition = &pos
		}
		if h.ctx.Metrics != nil {
			h.ctx.Metrics.IncReceived(wire.MsgPlatoonBeacon.String())
		}
		return nil
	}

	if h.ctx.IsPlatoonHead() && headID != h.ctx.NodeID && h.log != nil {
		h.log.WithField("other_head", headID.String()).Warn("received beacon from another head")
	}
	return nil
}

// HandleStatus processes an incoming PLATOON_STATUS (spec.md §4.7
// "handle_status"), head-side only. It records the same battery level and
// RelativeIndex that layerc.PlatoonHeadHandler keeps for handoff scoring;
// formation placement reads the battery level only, not RelativeIndex.
func (h *Handler) HandleStatus(f wire.Frame) error {
	if !h.ctx.IsPlatoonHead() {
		return nil
	}
	sf, err := wire.DecodePlatoonStatus(f)
	if err != nil {
		if h.ctx.Metrics != nil {
			h.ctx.Metrics.IncDropped(wire.MsgPlatoonStatus.String())
		}
		return err
	}
	if h.ctx.CurrentPlatoonID == nil || *h.ctx.CurrentPlatoonID != sf.PlatoonID {
		return nil
	}
	vehicleID := sf.VehicleID
	if vehicleID == (model.NodeID{}) {
		vehicleID = model.NodeID(f.Header.SenderID)
	}
	h.members[vehicleID] = model.MemberStatus{
		NodeID:        vehicleID,
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

// sendStatus reports this member's battery and formation slot to the
// head (layer_d handler.py "_send_status"). TTL 1: platoon status never
// needs to travel past the head.
func (h *Handler) sendStatus() error {
	if h.currentHeadID == nil || h.ctx.CurrentPlatoonID == nil {
		return nil
	}
	n := h.ctx.Node
	sf := wire.PlatoonStatusFields{
		PlatoonID:     *h.ctx.CurrentPlatoonID,
		VehicleID:     h.ctx.NodeID,
		BatteryKWh:    n.Battery.CurrentKWh,
		RelativeIndex: h.ownRelativeIndex,
		ReceiveRateKW: 1.0,
	}
	frame, err := wire.EncodePlatoonStatus(h.ctx.NextSequence(), h.ctx.NodeID, 1, sf)
	if err != nil {
		return err
	}
	if err := h.ctx.Transport.Broadcast(frame); err != nil {
		return err
	}
	if h.ctx.Metrics != nil {
		h.ctx.Metrics.IncSent(wire.MsgPlatoonStatus.String())
	}
	return nil
}

// cleanStaleMembers drops members that haven't reported status recently
// (layer_d handler.py "_clean_stale_members"). Ten-second timeout, same
// constant as the source.
func (h *Handler) cleanStaleMembers(now float64) {
	const staleTimeout = 10.0
	for id, st := range h.members {
		if now-st.LastUpdate > staleTimeout {
			if h.log != nil {
				h.log.WithField("member", id.String()).Warn("removing stale member")
			}
			delete(h.members, id)
		}
	}
}

// handleBeaconTimeout reverts a member to CONSUMER after losing its head
// (layer_d handler.py "_handle_beacon_timeout").
func (h *Handler) handleBeaconTimeout() {
	h.ctx.CurrentPlatoonID = nil
	h.ctx.PlatoonMembers = nil
	h.currentHeadID = nil
	h.ctx.SetRole(mvccp.RoleConsumer)
}

// computeAndUpdateFormation rate-limits recomputation to
// Cfg.FormationInterval and writes the result to ctx.FormationPositions/
// FormationEfficiency for layerc to broadcast (platoon.py
// "_compute_and_update_formation").
func (h *Handler) computeAndUpdateFormation(now float64) {
	if now-h.lastFormationUpdate < h.ctx.Cfg.FormationInterval {
		return
	}
	if len(h.ctx.PlatoonMembers) == 0 {
		return
	}
	h.lastFormationUpdate = now

	members := make([]formationMember, 0, len(h.ctx.PlatoonMembers)+1)
	members = append(members, h.headAsFormationMember())
	for _, id := range h.ctx.PlatoonMembers {
		members = append(members, h.memberAsFormationMember(id))
	}

	positions, efficiency, plan := computeFormation(members, h.ctx.Cfg)
	h.ctx.FormationPositions = positions
	h.ctx.FormationEfficiency = efficiency
	h.ctx.FormationDistributionPlan = plan
	if h.log != nil {
		h.log.WithField("members", len(members)).WithField("efficiency", efficiency).WithField("routed", len(plan)).Debug("computed formation")
	}
}

func (h *Handler) headAsFormationMember() formationMember {
	n := h.ctx.Node
	return formationMember{
		ID:              h.ctx.NodeID,
		IsHead:          true,
		BatteryKWh:      n.Battery.CurrentKWh,
		BatteryCapacity: n.Battery.CapacityKWh,
		ShareableKWh:    n.ShareableEnergy(h.ctx.EnergyToDestinationKWh()),
		MaxOutKW:        n.Battery.MaxOutKW,
		MaxInKW:         n.Battery.MaxInKW,
	}
}

// memberAsFormationMember builds a formationMember from a tracked
// member's last reported status. A member never seen yet (no
// PLATOON_STATUS received since joining) gets zero-valued fields,
// placing it among the deficit nodes until it reports in. PLATOON_STATUS
// carries a battery level but no hardware rating, so MaxOutKW/MaxInKW
// fall back to the head's own rating as a stand-in for "typical EV in
// this platoon" when scoring edges to and from this member.
func (h *Handler) memberAsFormationMember(id model.NodeID) formationMember {
	st := h.members[id]
	return formationMember{
		ID:           id,
		BatteryKWh:   st.BatteryLevel,
		ShareableKWh: st.BatteryLevel - h.ctx.Node.Battery.MinReserveKWh,
		MaxOutKW:     h.ctx.Node.Battery.MaxOutKW,
		MaxInKW:      h.ctx.Node.Battery.MaxInKW,
	}
}

// MemberCount reports how many platoon members this head is actively
// tracking (layer_d handler.py "get_member_count").
func (h *Handler) MemberCount() int { return len(h.members) }

// IsMemberActive reports whether a tracked member reported status
// within the last 5 seconds (layer_d handler.py "is_member_active").
func (h *Handler) IsMemberActive(id model.NodeID) bool {
	st, ok := h.members[id]
	if !ok {
		return false
	}
	return h.ctx.CurrentTime-st.LastUpdate < 5.0
}

// TargetFormationPosition returns this member's most recently assigned
// 2D formation slot, or nil if none has been received yet (layer_d
// handler.py "get_target_position").
func (h *Handler) TargetFormationPosition() *[2]float64 { return h.targetFormationPosition }
