package model

// NeighborEntry is a one-hop neighbor as tracked by the neighbor table
// (spec.md §3, original_source neighbor_table.py's per-node state).
type NeighborEntry struct {
	Node
	LastSeen        float64
	TwoHopNeighbors map[NodeID]struct{}
	LinkStatus      string // "SYM" once a bidirectional HELLO exchange is confirmed
}

// ProviderType distinguishes the three kinds of energy provider a
// ProviderEntry can represent (spec.md §3).
type ProviderType int

const (
	ProviderMobile ProviderType = iota
	ProviderPlatoonHead
	ProviderRREH
)

// OperationalState is an RREH's self-reported load state (spec.md §4.6
// GRID_STATUS).
type OperationalState string

const (
	StateNormal    OperationalState = "normal"
	StateCongested OperationalState = "congested"
	StateLimited   OperationalState = "limited"
	StateOffline   OperationalState = "offline"
)

// ProviderEntry is a known energy provider, populated from PA and
// GRID_STATUS messages (spec.md §3, original_source provider_table.py).
type ProviderEntry struct {
	ProviderID   NodeID
	Type         ProviderType
	Position     LatLon
	EnergyAvailKWh float64
	Timestamp    float64

	Destination LatLon
	Direction   [2]float64 // normalized (dx, dy)

	// Platoon-head fields.
	PlatoonID      NodeID
	PlatoonSize    int
	AvailableSlots int

	// RREH fields.
	QueueTimeSec      float64
	OperationalState  OperationalState
	AvailablePowerKW  float64
	MaxSessions       int

	Price              float64
	RenewableFraction  float64

	// Fields computed by a consumer during evaluation; preserved across a
	// refresh of the same entry so a pending evaluation isn't invalidated
	// by an unrelated attribute update arriving mid-handshake (spec.md §4.6
	// invariant).
	DetourCostKWh   float64
	RouteAlignment  float64
	TotalCost       float64
}

// IsRREH reports whether this entry is a fixed roadside charger.
func (p ProviderEntry) IsRREH() bool { return p.Type == ProviderRREH }

// IsPlatoonHead reports whether this entry is a mobile platoon head.
func (p ProviderEntry) IsPlatoonHead() bool { return p.Type == ProviderPlatoonHead }

// HasCapacity reports whether the provider can currently accept a new
// consumer (spec.md §4.6 "has_capacity").
func (p ProviderEntry) HasCapacity() bool {
	if p.IsRREH() {
		return p.OperationalState == StateNormal || p.OperationalState == StateCongested
	}
	return p.AvailableSlots > 0
}

// applyCalculatedFields copies over the consumer-computed ranking fields
// from a prior entry. Nothing calls it: tables.ProviderTable.Update does
// the same copy inline when refreshing an existing ProviderEntry.
func (p *ProviderEntry) applyCalculatedFields(prev ProviderEntry) {
	p.DetourCostKWh = prev.DetourCostKWh
	p.RouteAlignment = prev.RouteAlignment
	p.TotalCost = prev.TotalCost
}

// MemberStatus tracks a platoon member as observed by its head via
// PLATOON_STATUS, or tracks the head's beacon as observed by a member
// (spec.md §4.7, original_source layer_d handler's MemberStatus).
type MemberStatus struct {
	NodeID                  NodeID
	BatteryLevel            float64
	RelativeIndex           int
	ReceiveRateKW           float64
	LastUpdate              float64
	Position                LatLon
	FormationPosition       [2]float64 // current 2D offset from platoon reference, meters
	TargetFormationPosition *[2]float64
}

// PlatoonEntry is an inter-platoon discovery record: a platoon known to
// exist nearby via PLATOON_ANNOUNCE, scored for potential rendezvous
// (spec.md §4.7 "inter-platoon discovery").
type PlatoonEntry struct {
	PlatoonID           NodeID
	HeadID              NodeID
	Position            LatLon
	Direction           [2]float64
	Destination         LatLon
	SurplusKWh          float64
	AvailableSlots      int
	FormationEfficiency float64
	LastSeen            float64

	Score float64 // not written by tables.PlatoonTable.Score/FindBest, which return the score without storing it
}

// IsStale reports whether the entry hasn't been refreshed within timeout.
func (p PlatoonEntry) IsStale(currentTime, timeout float64) bool {
	return currentTime-p.LastSeen > timeout
}

// HasCapacity reports whether the platoon has open slots.
func (p PlatoonEntry) HasCapacity() bool { return p.AvailableSlots > 0 }
