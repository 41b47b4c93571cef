package mvccp

import "fmt"

// NodeRole is the role a node is currently playing in charging
// coordination (spec.md §4.6). Exactly one role is active at a time;
// SetRole swaps the active per-role state machine.
type NodeRole int

const (
	RoleConsumer NodeRole = iota
	RolePlatoonHead
	RoleRREH
	RolePlatoonMember
)

func (r NodeRole) String() string {
	switch r {
	case RoleConsumer:
		return "CONSUMER"
	case RolePlatoonHead:
		return "PLATOON_HEAD"
	case RoleRREH:
		return "RREH"
	case RolePlatoonMember:
		return "PLATOON_MEMBER"
	default:
		return fmt.Sprintf("NodeRole(%d)", int(r))
	}
}

// ConsumerState is the Consumer role's charging-session state machine
// (spec.md §4.6 "Consumer state machine").
type ConsumerState int

const (
	ConsumerDiscover ConsumerState = iota
	ConsumerEvaluate
	ConsumerSendOffer
	ConsumerWaitAccept
	ConsumerSendAck
	ConsumerWaitAckAck
	ConsumerAllocated
	ConsumerTravel
	ConsumerCharge
	ConsumerLeave
)

func (s ConsumerState) String() string {
	switch s {
	case ConsumerDiscover:
		return "DISCOVER"
	case ConsumerEvaluate:
		return "EVALUATE"
	case ConsumerSendOffer:
		return "SEND_OFFER"
	case ConsumerWaitAccept:
		return "WAIT_ACCEPT"
	case ConsumerSendAck:
		return "SEND_ACK"
	case ConsumerWaitAckAck:
		return "WAIT_ACKACK"
	case ConsumerAllocated:
		return "ALLOCATED"
	case ConsumerTravel:
		return "TRAVEL"
	case ConsumerCharge:
		return "CHARGE"
	case ConsumerLeave:
		return "LEAVE"
	default:
		return fmt.Sprintf("ConsumerState(%d)", int(s))
	}
}

// PlatoonHeadState is the PlatoonHead role's state machine (spec.md §4.6
// "PlatoonHead state machine").
type PlatoonHeadState int

const (
	PHBeacon PlatoonHeadState = iota
	PHWaitOffers
	PHEvaluateOffers
	PHSendAccept
	PHWaitAck
	PHSendAckAck
	PHCoordinate
	PHHandoff
)

func (s PlatoonHeadState) String() string {
	switch s {
	case PHBeacon:
		return "BEACON"
	case PHWaitOffers:
		return "WAIT_OFFERS"
	case PHEvaluateOffers:
		return "EVALUATE_OFFERS"
	case PHSendAccept:
		return "SEND_ACCEPT"
	case PHWaitAck:
		return "WAIT_ACK"
	case PHSendAckAck:
		return "SEND_ACKACK"
	case PHCoordinate:
		return "COORDINATE"
	case PHHandoff:
		return "HANDOFF"
	default:
		return fmt.Sprintf("PlatoonHeadState(%d)", int(s))
	}
}

// RREHState is the RREH role's state machine (spec.md §4.6 "RREH state
// machine").
type RREHState int

const (
	RREHGridAnnounce RREHState = iota
	RREHWaitOffers
	RREHEvaluateQueue
	RREHSendAccept
	RREHWaitAck
	RREHSendAckAck
	RREHChargeSession
	RREHIdle
)

func (s RREHState) String() string {
	switch s {
	case RREHGridAnnounce:
		return "GRID_ANNOUNCE"
	case RREHWaitOffers:
		return "WAIT_OFFERS"
	case RREHEvaluateQueue:
		return "EVALUATE_QUEUE"
	case RREHSendAccept:
		return "SEND_ACCEPT"
	case RREHWaitAck:
		return "WAIT_ACK"
	case RREHSendAckAck:
		return "SEND_ACKACK"
	case RREHChargeSession:
		return "CHARGE_SESSION"
	case RREHIdle:
		return "IDLE"
	default:
		return fmt.Sprintf("RREHState(%d)", int(s))
	}
}
