// Package node wires one vehicle or RREH's layer handlers to a shared
// mvccp.Context and drives them from a single per-tick entry point, the
// Go counterpart of a simulation adapter's node wrapper. Grounded on
// original_source/Simulation/ns3_adapter.py's node tick()/dispatch_message()
// (the ns-3-specific socket/mobility plumbing in that file is out of
// scope; only its tick ordering and message routing are ported).
package node

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/haidar-88/mvccp/internal/layera"
	"github.com/haidar-88/mvccp/internal/layerb"
	"github.com/haidar-88/mvccp/internal/layerc"
	"github.com/haidar-88/mvccp/internal/layerd"
	"github.com/haidar-88/mvccp/internal/metrics"
	"github.com/haidar-88/mvccp/internal/model"
	"github.com/haidar-88/mvccp/internal/mvccp"
	"github.com/haidar-88/mvccp/internal/wire"
)

// Node owns one protocol participant's full handler set. Every handler
// shares the same *mvccp.Context; each Tick/Handle call already guards
// itself on the node's current role, so Node only needs to call all of
// them in order and let the no-ops fall through (ns3_adapter.py's
// if/elif role dispatch collapses into unconditional calls here).
type Node struct {
	Ctx *mvccp.Context
	log *logrus.Entry

	layerA      *layera.Handler
	layerB      *layerb.Handler
	consumer    *layerc.ConsumerHandler
	platoonHead *layerc.PlatoonHeadHandler
	rreh        *layerc.RREHHandler
	roleManager *layerc.RoleManager
	layerD      *layerd.Handler
}

// New constructs a Node around ctx. log may be nil to disable logging.
func New(ctx *mvccp.Context, log *logrus.Entry) *Node {
	return &Node{
		Ctx: ctx,
		log: log,

		layerA:      layera.NewHandler(ctx, log),
		layerB:      layerb.NewHandler(ctx, log),
		consumer:    layerc.NewConsumerHandler(ctx, log),
		platoonHead: layerc.NewPlatoonHeadHandler(ctx, log),
		rreh:        layerc.NewRREHHandler(ctx, log),
		roleManager: layerc.NewRoleManager(ctx),
		layerD:      layerd.NewHandler(ctx, log),
	}
}

// Tick advances every layer by one step, in the order
// ns3_adapter.py's NodeApp.tick uses: update time, re-evaluate role
// (skipped for RREH), run whichever Layer C state machine matches the
// current role, then Layer D coordination. Layer A/B are ticked every
// cycle too: their own Tick methods are interval-gated internally, and
// HELLO/PA/GRID_STATUS have to keep flowing regardless of role for the
// rest of the protocol to have anything to react to.
func (n *Node) Tick(now float64) error {
	n.Ctx.UpdateTime(now)

	if err := n.layerA.Tick(now); err != nil {
		return fmt.Errorf("node: layer a tick: %w", err)
	}
	if err := n.layerB.Tick(now); err != nil {
		return fmt.Errorf("node: layer b tick: %w", err)
	}
	if !n.Ctx.IsRREHRole() {
		n.roleManager.Tick()
	}
	if err := n.consumer.Tick(now); err != nil {
		return fmt.Errorf("node: consumer tick: %w", err)
	}
	if err := n.platoonHead.Tick(now); err != nil {
		return fmt.Errorf("node: platoon head tick: %w", err)
	}
	if err := n.rreh.Tick(now); err != nil {
		return fmt.Errorf("node: rreh tick: %w", err)
	}
	if err := n.layerD.Tick(now); err != nil {
		return fmt.Errorf("node: layer d tick: %w", err)
	}
	return nil
}

// Dispatch decodes an inbound frame and routes it to the handler(s) for
// its message type, updating the context clock first the same way
// ReceivePacket does in ns3_adapter.py (time advances on receive, not
// only on tick). A malformed frame increments the "malformed" dropped
// counter and returns the decode error; a frame whose type no handler
// takes in the current role is ignored and returns nil.
func (n *Node) Dispatch(now float64, raw []byte) error {
	n.Ctx.UpdateTime(now)

	f, err := wire.Decode(raw)
	if err != nil {
		if n.Ctx.Metrics != nil {
			n.Ctx.Metrics.IncDropped("malformed")
		}
		return fmt.Errorf("node: decode frame: %w", err)
	}
	senderID := model.NodeID(f.Header.SenderID)

	switch f.Header.Type {
	case wire.MsgHello:
		return n.layerA.HandleHello(senderID, f)

	case wire.MsgPA:
		return n.layerB.HandlePA(f)
	case wire.MsgGridStatus:
		return n.layerB.HandleGridStatus(f)

	case wire.MsgJoinOffer:
		if n.Ctx.IsPlatoonHead() {
			return n.platoonHead.HandleJoinOffer(f)
		}
		if n.Ctx.IsRREHRole() {
			return n.rreh.HandleJoinOffer(f)
		}
	case wire.MsgJoinAccept:
		if n.Ctx.IsConsumer() {
			return n.consumer.HandleJoinAccept(f)
		}
	case wire.MsgAck:
		if n.Ctx.IsPlatoonHead() {
			return n.platoonHead.HandleAck(f)
		}
		if n.Ctx.IsRREHRole() {
			return n.rreh.HandleAck(f)
		}
	case wire.MsgAckAck:
		if n.Ctx.IsConsumer() {
			return n.consumer.HandleAckAck(f)
		}

	case wire.MsgPlatoonAnnounce:
		if n.Ctx.IsConsumer() {
			return n.consumer.HandlePlatoonAnnounce(f)
		}

	case wire.MsgPlatoonBeacon:
		return n.layerD.HandleBeacon(f)
	case wire.MsgPlatoonStatus:
		// Dual dispatch: layerD tracks battery for formation
		// placement, platoonHead independently tracks
		// battery for handoff scoring (DESIGN.md "Layer D").
		if err := n.layerD.HandleStatus(f); err != nil {
			return err
		}
		if n.Ctx.IsPlatoonHead() {
			return n.platoonHead.HandlePlatoonStatus(f)
		}
	}
	return nil
}

// Summary returns this node's current metrics snapshot, for the CLI's
// status/run output. Returns the zero Summary if metrics were disabled.
func (n *Node) Summary() metrics.Summary {
	if n.Ctx.Metrics == nil {
		return metrics.Summary{}
	}
	return n.Ctx.Metrics.Summary()
}
