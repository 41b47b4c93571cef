// Package adapters defines the narrow collaborator interfaces the protocol
// core is built against: a broadcast transport, a route-distance oracle, a
// mobility source and a simulation clock (spec.md §6 "Adapter
// interfaces"). The core never imports a concrete transport or scheduler —
// callers (a simulator, a test harness, a future real radio driver) supply
// one of these and nothing else.
package adapters

import "github.com/haidar-88/mvccp/internal/model"

// Transport is a broadcast-only send/receive contract. It deliberately has
// no concept of per-peer addressing: MVCCP never unicasts, so there is
// nothing narrower to expose than "send this frame" and "a frame arrived".
// Grounded structurally on how ptp4u/server wraps a raw UDP conn behind a
// send/receive boundary, narrowed further since there's no per-client state
// to track at this layer.
type Transport interface {
	// Broadcast sends a wire-encoded frame to all nodes in range.
	Broadcast(frame []byte) error
	// SetReceiver installs the callback invoked for each inbound frame.
	// Called once during setup, before the first Broadcast.
	SetReceiver(fn func(frame []byte))
}

// RouteProvider computes the distance and estimated travel time between two
// positions. An implementation may consult a real road network (e.g. a
// traffic simulator) or fall back to the Euclidean approximation in
// model.EuclideanDistanceKM.
type RouteProvider interface {
	// RouteDistanceKM returns the route distance in kilometers.
	RouteDistanceKM(from, to model.LatLon) float64
	// RouteInfo returns distance and estimated travel time in seconds.
	RouteInfo(from, to model.LatLon) (distanceKM, travelTimeSec float64)
}

// MobilitySource reports a node's own live kinematic state. The protocol
// core reads it once per HELLO/beacon tick rather than owning any mobility
// model itself.
type MobilitySource interface {
	Position() model.LatLon
	Velocity() (vx, vy float64)
	Destination() *model.LatLon
}

// Clock is the simulation time source. Now returns simulation seconds, not
// wall-clock time — the core enforces monotonicity on top of this (spec.md
// §7 "current_time must never go backward"); Clock itself is not required
// to be monotonic, only to report whatever moment the simulation considers
// current.
type Clock interface {
	Now() float64
}
