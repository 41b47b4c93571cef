// Package model holds the MVCCP data model: nodes, batteries, kinematics
// and the shared-table entry types built on top of them (spec.md §3).
package model

import (
	"encoding/hex"
	"fmt"
	"math"
)

// NodeID is the 6-byte node/platoon identifier used across the wire
// protocol (spec.md §4.1: sender_id is 6 bytes).
type NodeID [6]byte

// String renders a short hex form for logging.
func (n NodeID) String() string {
	return hex.EncodeToString(n[:])
}

// IsZero reports whether the id is the zero value (used as a "not set"
// sentinel; a real NodeID is never all-zero in practice but we don't rely
// on that — callers track presence with a bool/pointer where it matters).
func (n NodeID) IsZero() bool {
	return n == NodeID{}
}

// ParseNodeID parses the hex form String produces, for config files and
// CLI flags. Accepts exactly 12 hex characters (6 bytes).
func ParseNodeID(s string) (NodeID, error) {
	var id NodeID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("node id %q: %w", s, err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("node id %q: want %d bytes, got %d", s, len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// LatLon is a geographic position.
type LatLon struct {
	Lat float64
	Lon float64
}

// Battery describes the electrical state of a vehicle or hub.
type Battery struct {
	CapacityKWh   float64 // > 0
	CurrentKWh    float64 // in [0, CapacityKWh]
	MinReserveKWh float64 // >= 0
	Health        float64 // 0..1
	MaxInKW       float64 // >= 0
	MaxOutKW      float64 // >= 0
}

// Validate checks the battery invariants from spec.md §3.
func (b Battery) Validate() error {
	if b.CapacityKWh <= 0 {
		return fmt.Errorf("battery capacity must be > 0, got %f", b.CapacityKWh)
	}
	if b.CurrentKWh < 0 || b.CurrentKWh > b.CapacityKWh {
		return fmt.Errorf("battery current %f out of [0,%f]", b.CurrentKWh, b.CapacityKWh)
	}
	if b.MinReserveKWh < 0 {
		return fmt.Errorf("battery min reserve must be >= 0")
	}
	if b.MaxInKW < 0 || b.MaxOutKW < 0 {
		return fmt.Errorf("battery transfer rates must be >= 0")
	}
	if b.Health < 0 || b.Health > 1 {
		return fmt.Errorf("battery health must be in [0,1], got %f", b.Health)
	}
	return nil
}

// QoS is the link-quality attribute set used by OLSR MPR selection
// (spec.md §3, §4.4).
type QoS struct {
	ETX           float64 // >= 1
	DelayMS       float64 // >= 0
	Willingness   int     // 0..7
	LaneWeight    float64 // 0..1
	LinkStability float64 // 0..1
}

// Kinematics is position + velocity.
type Kinematics struct {
	Position LatLon
	VX       float64
	VY       float64
}

// Velocity returns the 2-D velocity vector.
func (k Kinematics) Velocity() (float64, float64) {
	return k.VX, k.VY
}

// Node is the full semantic attribute set for a physical vehicle or RREH
// (spec.md §3). NeighborEntry/ProviderEntry/PlatoonEntry embed or copy from
// this rather than back-referencing a shared mutable Node, per the
// id-indexed-lookup redesign in spec.md §9.
type Node struct {
	ID          NodeID
	Battery     Battery
	Kinematics  Kinematics
	Destination *LatLon
	QoS         QoS
}

// ShareableEnergy is current - energy_to_destination - min_reserve.
// Negative means the node cannot reach its destination without charging
// (spec.md GLOSSARY "Shareable energy").
func (n Node) ShareableEnergy(energyToDestinationKWh float64) float64 {
	return n.Battery.CurrentKWh - energyToDestinationKWh - n.Battery.MinReserveKWh
}

// DirectionVector returns the normalized velocity vector, or (0,0) if the
// node is stationary.
func (n Node) DirectionVector() (float64, float64) {
	vx, vy := n.Kinematics.Velocity()
	mag := vx*vx + vy*vy
	if mag <= 0 {
		return 0, 0
	}
	m := math.Sqrt(mag)
	return vx / m, vy / m
}
