package layerc

import (
	"github.com/haidar-88/mvccp/internal/model"
	"github.com/haidar-88/mvccp/internal/mvccp"
)

// activeConsumerStates are the Consumer states during which a role
// re-evaluation must not interrupt an in-flight handshake or session
// (spec.md §4.6 "_is_in_active_session"). Grounded on
// original_source/src/protocol/layer_c/role_manager.py's
// _is_in_active_session.
var activeConsumerStates = map[mvccp.ConsumerState]bool{
	mvccp.ConsumerSendOffer:   true,
	mvccp.ConsumerWaitAccept:  true,
	mvccp.ConsumerSendAck:     true,
	mvccp.ConsumerWaitAckAck:  true,
	mvccp.ConsumerAllocated:   true,
	mvccp.ConsumerTravel:      true,
	mvccp.ConsumerCharge:      true,
}

// RoleManager arbitrates CONSUMER <-> PLATOON_HEAD <-> PLATOON_MEMBER
// transitions and platoon handoff (spec.md §4.6 "role transitions").
// Grounded on original_source/src/protocol/layer_c/role_manager.py's
// RoleManager.
type RoleManager struct {
	ctx *mvccp.Context
}

// NewRoleManager wires a RoleManager to ctx.
func NewRoleManager(ctx *mvccp.Context) *RoleManager {
	return &RoleManager{ctx: ctx}
}

// Tick re-evaluates this node's role once per cycle, skipping RREHs and
// nodes mid-handshake or mid-session (spec.md §4.6 "role_manager tick").
func (r *RoleManager) Tick() {
	if r.ctx.IsRREHRole() {
		return
	}
	if r.isInActiveSession() {
		return
	}
	newRole := r.EvaluateRole()
	if newRole != r.ctx.Role {
		r.ApplyRole(newRole)
	}
}

// EvaluateRole decides the role this node should hold right now, without
// applying it (spec.md §4.6 "evaluate_role"). A platoon member stays a
// member as long as its platoon still exists; an eligible free node
// becomes a PlatoonHead; everyone else is a Consumer.
func (r *RoleManager) EvaluateRole() mvccp.NodeRole {
	if r.isInPlatoonAsMember() {
		return mvccp.RolePlatoonMember
	}
	if r.ctx.IsPlatoonHead() {
		return mvccp.RolePlatoonHead
	}
	if r.ctx.CanBecomePlatoonHead() {
		return mvccp.RolePlatoonHead
	}
	return mvccp.RoleConsumer
}

// ApplyRole transitions to newRole, initializing or tearing down platoon
// bookkeeping as needed (spec.md §4.6 "apply_role").
func (r *RoleManager) ApplyRole(newRole mvccp.NodeRole) {
	old := r.ctx.Role
	if old == mvccp.RolePlatoonHead && newRole != mvccp.RolePlatoonHead {
		r.handlePHExit()
	}
	r.ctx.SetRole(newRole)
	if newRole == mvccp.RolePlatoonHead && old != mvccp.RolePlatoonHead {
		r.initializePlatoonHead()
	}
}

// isInPlatoonAsMember reports whether this node currently belongs to a
// platoon it does not lead (spec.md §4.6 "_is_in_platoon_as_member").
func (r *RoleManager) isInPlatoonAsMember() bool {
	return r.ctx.CurrentPlatoonID != nil && *r.ctx.CurrentPlatoonID != r.ctx.NodeID
}

// isInActiveSession reports whether a role switch right now would
// corrupt an in-flight handshake (spec.md §4.6 "_is_in_active_session").
func (r *RoleManager) isInActiveSession() bool {
	if r.ctx.IsConsumer() && activeConsumerStates[r.ctx.ConsumerState] {
		return true
	}
	if r.ctx.IsPlatoonHead() {
		switch r.ctx.PlatoonHeadState {
		case mvccp.PHSendAccept, mvccp.PHWaitAck, mvccp.PHSendAckAck:
			return true
		}
	}
	return false
}

// initializePlatoonHead seeds platoon bookkeeping for a node that just
// became a PlatoonHead (spec.md §4.6 "_initialize_platoon_head").
func (r *RoleManager) initializePlatoonHead() {
	id := r.ctx.NodeID
	r.ctx.CurrentPlatoonID = &id
	r.ctx.PlatoonMembers = nil
}

// handlePHExit dissolves the platoon when its head steps down (spec.md
// §4.6 "_handle_ph_exit"). The source leaves members to independently
// discover the dissolution via beacon silence rather than notifying
// them directly; this port matches that.
func (r *RoleManager) handlePHExit() {
	r.dissolvePlatoon()
}

func (r *RoleManager) dissolvePlatoon() {
	r.ctx.CurrentPlatoonID = nil
	r.ctx.PlatoonMembers = nil
}

// ShouldHandoff reports whether the current head's shareable energy has
// dropped below half the PlatoonHead eligibility threshold while a
// member can do meaningfully better (spec.md §4.6 "should_handoff").
func (r *RoleManager) ShouldHandoff(members map[model.NodeID]model.MemberStatus) bool {
	threshold := r.ctx.Cfg.PHEnergyThresholdPct * r.ctx.Node.Battery.CapacityKWh
	headShareable := r.ctx.Node.ShareableEnergy(r.ctx.EnergyToDestinationKWh())
	if headShareable > threshold*0.5 {
		return false
	}
	_, ok := r.bestHandoffCandidate(members)
	return ok
}

// bestHandoffCandidate finds the member with the highest reported
// battery level, requiring it to beat the head's shareable energy by at
// least 1.5x before it's considered a viable successor (spec.md §4.6
// "find_best_handoff_candidate"). Member batteries, not full shareable
// energy, are all PLATOON_STATUS reports: a member's own route isn't
// visible to the head, so battery level is the best available proxy.
func (r *RoleManager) bestHandoffCandidate(members map[model.NodeID]model.MemberStatus) (model.NodeID, bool) {
	headShareable := r.ctx.Node.ShareableEnergy(r.ctx.EnergyToDestinationKWh())
	var best model.NodeID
	bestLevel := -1.0
	found := false
	for id, st := range members {
		if st.BatteryLevel > bestLevel {
			bestLevel, best, found = st.BatteryLevel, id, true
		}
	}
	if !found {
		return best, false
	}
	if headShareable <= 0 {
		return best, bestLevel > 0
	}
	if bestLevel < headShareable*1.5 {
		return best, false
	}
	return best, true
}

// PerformHandoff transfers the PlatoonHead role to the best candidate
// member, returning whether the handoff succeeded (spec.md §4.6
// "perform_handoff"). The candidate is only checked for, not notified:
// this node dissolves the platoon and steps down to CONSUMER, members
// notice the head is gone through beacon silence, and any eligible node
// can take the PLATOON_HEAD role on its own next role-manager tick,
// matching the source's own fire-and-forget handoff.
func (r *RoleManager) PerformHandoff(members map[model.NodeID]model.MemberStatus) bool {
	_, ok := r.bestHandoffCandidate(members)
	if !ok {
		return false
	}
	r.dissolvePlatoon()
	r.ctx.SetRole(mvccp.RoleConsumer)
	return true
}
