// Package layerb implements Layer B provider dissemination: PA and
// GRID_STATUS send/receive plus MPR-filtered flood forwarding (spec.md
// §4.5). Grounded on
// original_source/src/protocol/layer_b/handler.py's
// ProviderAnnouncementHandler.
package layerb

import (
	"github.com/cespare/xxhash"
	"github.com/sirupsen/logrus"

	"github.com/haidar-88/mvccp/internal/model"
	"github.com/haidar-88/mvccp/internal/mvccp"
	"github.com/haidar-88/mvccp/internal/wire"
)

// seenKey identifies one (originator, seq_num) pair for flood dedup
// (spec.md §6.1 "dedup on originator+seq, not immediate sender").
func seenKey(originator model.NodeID, seq uint32) uint64 {
	var b [10]byte
	copy(b[:6], originator[:])
	b[6] = byte(seq >> 24)
	b[7] = byte(seq >> 16)
	b[8] = byte(seq >> 8)
	b[9] = byte(seq)
	return xxhash.Sum64(b[:])
}

// Handler drives one node's PA/GRID_STATUS exchange against a shared
// Context.
type Handler struct {
	ctx *mvccp.Context
	log *logrus.Entry

	seen      map[uint64]struct{}
	seenOrder []uint64
}

// NewHandler wires a Handler to ctx. log may be nil to disable logging.
func NewHandler(ctx *mvccp.Context, log *logrus.Entry) *Handler {
	return &Handler{
		ctx:  ctx,
		log:  log,
		seen: make(map[uint64]struct{}),
	}
}

// markSeen records key, evicting the oldest entry once MaxSeenMessages is
// reached (spec.md §9 "bounded dedup cache"). Returns true if key was
// already present.
func (h *Handler) markSeen(key uint64) bool {
	if _, ok := h.seen[key]; ok {
		return true
	}
	if h.ctx.Cfg.MaxSeenMessages > 0 && len(h.seenOrder) >= h.ctx.Cfg.MaxSeenMessages {
		oldest := h.seenOrder[0]
		h.seenOrder = h.seenOrder[1:]
		delete(h.seen, oldest)
	}
	h.seen[key] = struct{}{}
	h.seenOrder = append(h.seenOrder, key)
	return false
}

// Tick sends PA (providers only) and GRID_STATUS (RREHs only) once their
// respective intervals have elapsed (spec.md §4.5 "periodic PA").
func (h *Handler) Tick(now float64) error {
	if h.ctx.IsRREHRole() {
		if now-h.ctx.LastGridStatusTime >= h.ctx.Cfg.GridStatusInterval {
			h.ctx.LastGridStatusTime = now
			if err := h.SendGridStatus(); err != nil {
				return err
			}
		}
	}
	if h.ctx.IsRREHRole() || h.ctx.IsPlatoonHead() {
		if now-h.ctx.LastPATime >= h.ctx.Cfg.PAInterval {
			h.ctx.LastPATime = now
			if err := h.SendPA(); err != nil {
				return err
			}
		}
	}
	return nil
}

// SendPA builds and broadcasts a fresh (non-forwarded) PA announcing this
// node as a provider (spec.md §4.5 "PA" origination).
func (h *Handler) SendPA() error {
	n := h.ctx.Node
	pf := wire.PAFields{
		ProviderID:        h.ctx.NodeID,
		ProviderType:      providerType(h.ctx),
		Position:          n.Kinematics.Position,
		EnergyAvailKWh:    n.ShareableEnergy(h.ctx.EnergyToDestinationKWh()),
		Direction:         [2]float64{n.Kinematics.VX, n.Kinematics.VY},
		RenewableFraction: h.ctx.RREHRenewableFraction,
	}
	if n.Destination != nil {
		pf.Destination = *n.Destination
	}
	if h.ctx.IsPlatoonHead() {
		pf.PlatoonSize = len(h.ctx.PlatoonMembers) + 1
		pf.AvailableSlots = h.ctx.Cfg.PlatoonMaxSize - pf.PlatoonSize
	}

	frame, err := wire.EncodePA(h.ctx.NextSequence(), h.ctx.NodeID, h.ctx.GetEffectiveTTL(), pf)
	if err != nil {
		return err
	}
	if err := h.ctx.Transport.Broadcast(frame); err != nil {
		return err
	}
	if h.ctx.Metrics != nil {
		h.ctx.Metrics.IncSent(wire.MsgPA.String())
	}
	if h.log != nil {
		h.log.WithField("type", pf.ProviderType).Debug("TX PA")
	}
	return nil
}

// SendGridStatus builds and broadcasts this RREH's current load state
// (spec.md §4.5 "GRID_STATUS").
func (h *Handler) SendGridStatus() error {
	gf := wire.GridStatusFields{
		HubID:             h.ctx.NodeID,
		RenewableFraction: h.ctx.RREHRenewableFraction,
		AvailablePowerKW:  h.ctx.RREHAvailablePowerKW,
		MaxSessions:       h.ctx.RREHMaxSessions,
		QueueTimeSec:      float64(len(h.ctx.RREHQueue)) * h.ctx.Cfg.RREHAvgSession,
		OperationalState:  h.ctx.RREHOperationalState,
	}
	frame, err := wire.EncodeGridStatus(h.ctx.NextSequence(), h.ctx.NodeID, h.ctx.Cfg.StatusT, gf)
	if err != nil {
		return err
	}
	if err := h.ctx.Transport.Broadcast(frame); err != nil {
		return err
	}
	if h.ctx.Metrics != nil {
		h.ctx.Metrics.IncSent(wire.MsgGridStatus.String())
	}
	if h.log != nil {
		h.log.WithField("queue", len(h.ctx.RREHQueue)).Debug("TX GRID_STATUS")
	}
	return nil
}

// HandlePA processes a received or relayed PA: drops duplicates by
// (originator, seq), updates the provider table, and re-forwards it when
// this node is an MPR for the immediate previous hop (spec.md §6.1).
func (h *Handler) HandlePA(f wire.Frame) error {
	pf, err := wire.DecodePA(f)
	if err != nil {
		if h.ctx.Metrics != nil {
			h.ctx.Metrics.IncDropped(wire.MsgPA.String())
		}
		return err
	}

	if h.markSeen(seenKey(model.NodeID(f.Header.SenderID), f.Header.SeqNum)) {
		if h.log != nil {
			h.log.WithField("originator", model.NodeID(f.Header.SenderID).String()).Debug("DROP PA (duplicate)")
		}
		return nil
	}
	h.updatePACounter()

	if pf.ProviderID != (model.NodeID{}) {
		entry := model.ProviderEntry{
			ProviderID:        pf.ProviderID,
			Type:              pf.ProviderType,
			Position:          pf.Position,
			Destination:       pf.Destination,
			Direction:         pf.Direction,
			EnergyAvailKWh:    pf.EnergyAvailKWh,
			PlatoonSize:       pf.PlatoonSize,
			AvailableSlots:    pf.AvailableSlots,
			RenewableFraction: pf.RenewableFraction,
			Timestamp:         h.ctx.CurrentTime,
		}
		h.ctx.ProviderTable.Update(entry)
		if h.ctx.Metrics != nil {
			h.ctx.Metrics.IncReceived(wire.MsgPA.String())
		}
		if h.log != nil {
			h.log.WithField("provider", pf.ProviderID.String()).WithField("type", pf.ProviderType).Debug("RX PA")
		}
	}

	if f.Header.TTL == 0 {
		return nil
	}
	previousHop := model.NodeID(f.Header.SenderID)
	if pf.HasPreviousHop {
		previousHop = pf.PreviousHop
	}
	if _, isMPRFor := h.ctx.MPRSelectorSet[previousHop]; !isMPRFor {
		return nil
	}
	return h.forwardPA(f, pf)
}

// forwardPA re-broadcasts a PA with a decremented TTL and PREVIOUS_HOP
// rewritten to this node, leaving the originator (sender_id) untouched
// (spec.md §6.1 "forwarders MUST overwrite PREVIOUS_HOP").
func (h *Handler) forwardPA(f wire.Frame, pf wire.PAFields) error {
	pf.PreviousHop = h.ctx.NodeID
	pf.HasPreviousHop = true

	frame, err := wire.EncodePA(f.Header.SeqNum, model.NodeID(f.Header.SenderID), f.Header.TTL-1, pf)
	if err != nil {
		return err
	}
	if err := h.ctx.Transport.Broadcast(frame); err != nil {
		return err
	}
	if h.ctx.Metrics != nil {
		h.ctx.Metrics.IncForwarded(wire.MsgPA.String())
	}
	if h.log != nil {
		h.log.WithField("originator", model.NodeID(f.Header.SenderID).String()).WithField("ttl", f.Header.TTL-1).Debug("FWD PA")
	}
	return nil
}

// HandleGridStatus processes a received GRID_STATUS, preserving the
// provider's last-known position since GRID_STATUS carries none (spec.md
// §4.5 "GRID_STATUS").
func (h *Handler) HandleGridStatus(f wire.Frame) error {
	gf, err := wire.DecodeGridStatus(f)
	if err != nil {
		if h.ctx.Metrics != nil {
			h.ctx.Metrics.IncDropped(wire.MsgGridStatus.String())
		}
		return err
	}
	hubID := gf.HubID
	if hubID == (model.NodeID{}) {
		hubID = model.NodeID(f.Header.SenderID)
	}

	position := model.LatLon{}
	if existing, ok := h.ctx.ProviderTable.Get(hubID, h.ctx.CurrentTime); ok {
		position = existing.Position
	}

	entry := model.ProviderEntry{
		ProviderID:        hubID,
		Type:              model.ProviderRREH,
		Position:          position,
		EnergyAvailKWh:    gf.AvailablePowerKW,
		RenewableFraction: gf.RenewableFraction,
		AvailablePowerKW:  gf.AvailablePowerKW,
		MaxSessions:       gf.MaxSessions,
		QueueTimeSec:      gf.QueueTimeSec,
		OperationalState:  gf.OperationalState,
		Timestamp:         h.ctx.CurrentTime,
	}
	h.ctx.ProviderTable.Update(entry)

	if h.ctx.Metrics != nil {
		h.ctx.Metrics.IncReceived(wire.MsgGridStatus.String())
	}
	if h.log != nil {
		h.log.WithField("hub", hubID.String()).WithField("power", gf.AvailablePowerKW).Debug("RX GRID_STATUS")
	}
	return nil
}

// updatePACounter tracks the PA receive rate over a rolling one-second
// window, feeding the density-based TTL mode (spec.md §9 "TTL mode").
func (h *Handler) updatePACounter() {
	if h.ctx.CurrentTime-h.ctx.PAReceiveWindowStart >= 1.0 {
		h.ctx.PAReceiveCount = 0
		h.ctx.PAReceiveWindowStart = h.ctx.CurrentTime
	}
	h.ctx.PAReceiveCount++
}

func providerType(ctx *mvccp.Context) model.ProviderType {
	if ctx.IsRREHRole() {
		return model.ProviderRREH
	}
	if ctx.IsPlatoonHead() {
		return model.ProviderPlatoonHead
	}
	return model.ProviderMobile
}
