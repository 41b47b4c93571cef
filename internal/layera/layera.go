// Package layera implements Layer A neighbor discovery: periodic HELLO
// send/receive and QoS-OLSR MPR recalculation (spec.md §4.4). Grounded on
// original_source/src/protocol/layer_a/handler.py's
// NeighborDiscoveryHandler.
package layera

import (
	"github.com/sirupsen/logrus"

	"github.com/haidar-88/mvccp/internal/model"
	"github.com/haidar-88/mvccp/internal/mvccp"
	"github.com/haidar-88/mvccp/internal/olsr"
	"github.com/haidar-88/mvccp/internal/wire"
)

// Handler drives one node's HELLO exchange and MPR set against a shared
// Context.
type Handler struct {
	ctx *mvccp.Context
	log *logrus.Entry
}

// NewHandler wires a Handler to ctx. log may be nil to disable logging.
func NewHandler(ctx *mvccp.Context, log *logrus.Entry) *Handler {
	return &Handler{ctx: ctx, log: log}
}

// Tick sends a HELLO if HelloInterval has elapsed since the last one
// (spec.md §4.4 "periodic HELLO").
func (h *Handler) Tick(now float64) error {
	if now-h.ctx.LastHelloTime < h.ctx.Cfg.HelloInterval {
		return nil
	}
	h.ctx.LastHelloTime = now
	return h.SendHello()
}

// SendHello builds and broadcasts a HELLO carrying the node's one-hop
// neighbor list, physical attributes and QoS metrics (spec.md §4.4
// "create_hello_message").
func (h *Handler) SendHello() error {
	oneHop := h.ctx.NeighborTable.OneHopSet()
	isProvider := h.ctx.IsRREHRole() || h.ctx.IsPlatoonHead()

	frame, err := wire.EncodeHello(h.ctx.NextSequence(), h.ctx.NodeID, h.ctx.GetEffectiveTTL(), oneHop, *h.ctx.Node, isProvider)
	if err != nil {
		return err
	}
	if err := h.ctx.Transport.Broadcast(frame); err != nil {
		return err
	}
	if h.ctx.Metrics != nil {
		h.ctx.Metrics.IncSent(wire.MsgHello.String())
	}
	if h.log != nil {
		h.log.WithField("n1", len(oneHop)).Debug("TX HELLO")
	}
	return nil
}

// HandleHello processes a received HELLO: updates the neighbor table from
// its attributes and two-hop list, then recalculates the MPR set (spec.md
// §4.4 "handle_hello").
func (h *Handler) HandleHello(senderID model.NodeID, f wire.Frame) error {
	fields, err := wire.DecodeHello(f)
	if err != nil {
		if h.ctx.Metrics != nil {
			h.ctx.Metrics.IncDropped(wire.MsgHello.String())
		}
		return err
	}

	h.ctx.NeighborTable.Update(senderID, fields.Attrs, fields.TwoHopNeighbors, h.ctx.CurrentTime)

	if h.ctx.Metrics != nil {
		h.ctx.Metrics.IncReceived(wire.MsgHello.String())
	}
	if h.log != nil {
		h.log.WithField("sender", senderID.String()).WithField("n2", len(fields.TwoHopNeighbors)).Debug("RX HELLO")
	}

	h.RecalculateMPR()
	return nil
}

// RecalculateMPR rebuilds the MPR set from the current neighbor table
// snapshot and logs when the set changes size (spec.md §4.4
// "recalculate_mpr").
func (h *Handler) RecalculateMPR() {
	vx, vy := h.ctx.Node.Kinematics.VX, h.ctx.Node.Kinematics.VY
	oldCount := len(h.ctx.MPRSet)

	newMPRs := olsr.SelectMPRs(h.ctx.NodeID, vx, vy, h.ctx.NeighborTable, h.ctx.Cfg.OLSRWeights)
	h.ctx.MPRSet = newMPRs

	if len(newMPRs) != oldCount && h.log != nil {
		h.log.WithField("mpr_count", len(newMPRs)).Info("MPR set updated")
	}
}
