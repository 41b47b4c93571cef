// Package mvccp ties the wire codec, shared tables, OLSR selection and
// per-layer handlers together into one node's protocol context (spec.md
// §4.6 "Context"). Grounded on
// original_source/src/protocol/context.py's MVCCPContext: identity, role,
// timing state, the three shared tables, and the active role's state
// machine all live on one struct so a tick-driven caller has a single
// handle to advance.
package mvccp

import (
	"fmt"
	"math"

	"github.com/haidar-88/mvccp/internal/adapters"
	"github.com/haidar-88/mvccp/internal/config"
	"github.com/haidar-88/mvccp/internal/graph"
	"github.com/haidar-88/mvccp/internal/metrics"
	"github.com/haidar-88/mvccp/internal/model"
	"github.com/haidar-88/mvccp/internal/tables"
)

// Session is the active charging-session bookkeeping a Consumer carries
// through the JOIN_OFFER/JOIN_ACCEPT/ACK/ACKACK handshake (spec.md §4.6,
// original_source's current_session dict).
type Session struct {
	Active        bool
	ProviderID    model.NodeID
	ProviderType  model.ProviderType
	MeetingPoint  model.LatLon
	BandwidthKW   float64
	DurationSec   float64
	StartTime     float64
	TimeoutTime   float64
	Retries       int
	BackoffDelay  float64
	NextRetryTime *float64
}

// PendingOffer is an incoming JOIN_OFFER a PlatoonHead or RREH has not
// yet evaluated (spec.md §4.6, original_source's pending_offers list).
type PendingOffer struct {
	ConsumerID    model.NodeID
	EnergyReqKWh  float64
	Position      model.LatLon
	Trajectory    model.LatLon
	HasTrajectory bool
	MeetingPoint  model.LatLon
	ReceivedAt    float64
}

// Context is the full per-node protocol state: identity, configuration,
// shared tables, MPR sets, the active role's state machine and session
// bookkeeping (spec.md §4.6).
type Context struct {
	NodeID model.NodeID
	Node   *model.Node

	Cfg       *config.Config
	Metrics   *metrics.Collector
	Transport adapters.Transport
	Route     adapters.RouteProvider
	Mobility  adapters.MobilitySource

	CurrentTime float64

	Role             NodeRole
	ConsumerState    ConsumerState
	PlatoonHeadState PlatoonHeadState
	RREHState        RREHState

	NeighborTable *tables.NeighborTable
	ProviderTable *tables.ProviderTable
	PlatoonTable  *tables.PlatoonTable

	MPRSet         map[model.NodeID]struct{}
	MPRSelectorSet map[model.NodeID]struct{}

	CurrentPlatoonID *model.NodeID
	PlatoonMembers   []model.NodeID

	// FormationPositions/FormationEfficiency are computed by
	// layerd.Handler on each head tick and read back out by layerc's
	// PlatoonHeadHandler when it builds the next PLATOON_BEACON/
	// PLATOON_ANNOUNCE (spec.md §4.7 "formation dissemination").
	// FormationPositions is itself Dijkstra-routed: layerd places each
	// deficit member near the source FormationDistributionPlan assigns
	// it, rather than the nearest highest-energy surplus member.
	FormationPositions        map[model.NodeID][2]float64
	FormationEfficiency       float64
	FormationDistributionPlan []graph.DistributionEntry

	SelectedProviderID   *model.NodeID
	SelectedProviderType model.ProviderType

	PendingOffers []PendingOffer
	Session       Session

	// RREH-specific fields (spec.md §4.6 "RREH"), zero-valued for
	// non-RREH nodes.
	IsRREH                bool
	RREHQueue             []model.NodeID
	RREHMaxSessions       int
	RREHActiveSessions    int
	RREHAvailablePowerKW  float64
	RREHRenewableFraction float64
	RREHOperationalState  model.OperationalState

	LastHelloTime       float64
	LastPATime          float64
	LastBeaconTime      float64
	LastGridStatusTime  float64
	PAReceiveCount      int
	PAReceiveWindowStart float64

	seq uint32
}

// New constructs a Context for node, wiring the three shared tables and
// starting in the CONSUMER role unless isRREH is set (spec.md §4.6
// "node_role defaults to CONSUMER, RREH is fixed at construction").
func New(node *model.Node, isRREH bool, cfg *config.Config, m *metrics.Collector, transport adapters.Transport, route adapters.RouteProvider, mobility adapters.MobilitySource) *Context {
	c := &Context{
		NodeID:         node.ID,
		Node:           node,
		Cfg:            cfg,
		Metrics:        m,
		Transport:      transport,
		Route:          route,
		Mobility:       mobility,
		NeighborTable:  tables.NewNeighborTable(node.ID, cfg, nil),
		ProviderTable:  tables.NewProviderTable(cfg),
		PlatoonTable:   tables.NewPlatoonTable(cfg),
		MPRSet:         make(map[model.NodeID]struct{}),
		MPRSelectorSet: make(map[model.NodeID]struct{}),
		IsRREH:         isRREH,
	}
	if isRREH {
		c.Role = RoleRREH
		c.RREHState = RREHGridAnnounce
		c.RREHMaxSessions = cfg.RREHDefaultMaxSes
		c.RREHAvailablePowerKW = node.Battery.MaxOutKW
		c.RREHRenewableFraction = 1.0
		c.RREHOperationalState = model.StateNormal
	} else {
		c.Role = RoleConsumer
		c.ConsumerState = ConsumerDiscover
	}
	return c
}

// UpdateTime advances the simulation clock. Time must never go backward
// (spec.md §7 "current_time must never go backward"); a caller that
// violates this has a scheduling bug, so this is an invariant panic, not
// a recoverable error, matching update_time's ValueError.
func (c *Context) UpdateTime(timestamp float64) {
	if timestamp < c.CurrentTime {
		panic(fmt.Sprintf("mvccp: time cannot go backward: current=%f new=%f", c.CurrentTime, timestamp))
	}
	c.CurrentTime = timestamp
}

// SetRole switches the active role and (re)initializes that role's state
// machine, matching original_source's set_role transition table. A no-op
// if role is already current.
func (c *Context) SetRole(role NodeRole) {
	if role == c.Role {
		return
	}
	c.Role = role
	switch role {
	case RoleConsumer:
		c.ConsumerState = ConsumerDiscover
	case RolePlatoonHead:
		c.PlatoonHeadState = PHBeacon
	case RolePlatoonMember:
		c.ConsumerState = ConsumerAllocated
	case RoleRREH:
		c.RREHState = RREHGridAnnounce
	}
}

func (c *Context) IsConsumer() bool      { return c.Role == RoleConsumer }
func (c *Context) IsPlatoonHead() bool   { return c.Role == RolePlatoonHead }
func (c *Context) IsRREHRole() bool      { return c.Role == RoleRREH }
func (c *Context) IsPlatoonMember() bool { return c.Role == RolePlatoonMember }

// CanBecomePlatoonHead reports whether this node meets the shareable-energy
// and willingness thresholds for leading a platoon (spec.md §4.6
// "PlatoonHead eligibility"). RREHs and existing platoon members never
// qualify.
func (c *Context) CanBecomePlatoonHead() bool {
	if c.IsRREH {
		return false
	}
	if c.CurrentPlatoonID != nil && !c.IsPlatoonHead() {
		return false
	}
	shareable := c.Node.ShareableEnergy(c.EnergyToDestinationKWh())
	threshold := c.Cfg.PHEnergyThresholdPct * c.Node.Battery.CapacityKWh
	return shareable >= threshold && c.Node.QoS.Willingness >= c.Cfg.PHWillingnessThresh
}

// NeedsCharge reports whether this node cannot reach its destination on
// its remaining shareable energy (spec.md GLOSSARY "Shareable energy").
func (c *Context) NeedsCharge() bool {
	return c.Node.ShareableEnergy(c.EnergyToDestinationKWh()) < 0
}

// EnergyToDestinationKWh is the energy required to reach the node's
// current destination, via Route if set or the Euclidean fallback
// otherwise (spec.md §6 "Route-provider interface"). Returns 0 if no
// destination is set, matching original_source's energy_to_destination.
func (c *Context) EnergyToDestinationKWh() float64 {
	if c.Node.Destination == nil {
		return 0
	}
	var distanceKM float64
	if c.Route != nil {
		distanceKM = c.Route.RouteDistanceKM(c.Node.Kinematics.Position, *c.Node.Destination)
	} else {
		distanceKM = model.EuclideanDistanceKM(c.Node.Kinematics.Position, *c.Node.Destination, c.Cfg.KMPerDegree)
	}
	return distanceKM * c.Cfg.EnergyConsumptionRate
}

// EnergyToKWh is the energy required to travel from the node's current
// position to an arbitrary target (spec.md §4.6 "energy_to"), used when
// evaluating a candidate provider's detour cost.
func (c *Context) EnergyToKWh(target model.LatLon) float64 {
	var distanceKM float64
	if c.Route != nil {
		distanceKM = c.Route.RouteDistanceKM(c.Node.Kinematics.Position, target)
	} else {
		distanceKM = model.EuclideanDistanceKM(c.Node.Kinematics.Position, target, c.Cfg.KMPerDegree)
	}
	return distanceKM * c.Cfg.EnergyConsumptionRate
}

// EnergyBetweenKWh is the energy required to travel between two arbitrary
// positions, used to cost the provider-to-destination leg of a detour.
func (c *Context) EnergyBetweenKWh(from, to model.LatLon) float64 {
	var distanceKM float64
	if c.Route != nil {
		distanceKM = c.Route.RouteDistanceKM(from, to)
	} else {
		distanceKM = model.EuclideanDistanceKM(from, to, c.Cfg.KMPerDegree)
	}
	return distanceKM * c.Cfg.EnergyConsumptionRate
}

// GetEffectiveTTL derives the TTL for an outgoing PA message from the
// configured mode: fixed, or scaled down in dense neighborhoods (spec.md
// §9 "TTL mode").
func (c *Context) GetEffectiveTTL() uint8 {
	switch c.Cfg.TTLMode {
	case config.TTLModeDensityBased:
		neighborCount := c.NeighborTable.Count()
		if neighborCount < 1 {
			neighborCount = 1
		}
		ttl := densityTTL(neighborCount)
		if ttl < int(c.Cfg.TTLMin) {
			ttl = int(c.Cfg.TTLMin)
		}
		if ttl > int(c.Cfg.TTLMax) {
			ttl = int(c.Cfg.TTLMax)
		}
		return uint8(ttl)
	default:
		return c.Cfg.BaseTTL
	}
}

func densityTTL(neighborCount int) int {
	return int(8 - math.Log2(float64(neighborCount)))
}

// NextSequence returns the next outgoing message sequence number,
// wrapping on uint32 overflow per spec.md §9 (no explicit wraparound
// policy is defined upstream).
func (c *Context) NextSequence() uint32 {
	c.seq++
	return c.seq
}
