package wire

import "fmt"

// TLVType identifies the semantic content of a TLV value (spec.md §6 TLV
// taxonomy table). Numeric values are kept identical to the original
// protocol's type codes so captured traffic between old and new nodes in a
// mixed deployment decodes the same way.
type TLVType uint8

const (
	TLVNodeID         TLVType = 1
	TLVNeighborList   TLVType = 2
	TLVMetrics        TLVType = 3
	TLVProviderFlag   TLVType = 4
	TLVNodeAttributes TLVType = 5

	TLVProviderID       TLVType = 10
	TLVProviderType     TLVType = 11
	TLVPosition         TLVType = 12
	TLVDestination      TLVType = 13
	TLVPlatoonSize      TLVType = 14
	TLVEnergyAvailable  TLVType = 15
	TLVDirection        TLVType = 16

	TLVConsumerID     TLVType = 20
	TLVEnergyRequired TLVType = 21
	TLVTrajectory     TLVType = 22
	TLVMeetingPoint   TLVType = 23

	TLVBandwidth      TLVType = 30
	TLVDuration       TLVType = 31
	TLVPlatoonMembers TLVType = 32
	TLVTopology       TLVType = 33

	TLVTimestamp      TLVType = 40
	TLVVelocity       TLVType = 41
	TLVAvailableSlots TLVType = 42
	TLVRoute          TLVType = 43

	TLVBatteryLevel  TLVType = 50
	TLVRelativeIndex TLVType = 51
	TLVReceiveRate   TLVType = 52

	TLVHubID              TLVType = 60
	TLVRenewableFraction  TLVType = 61
	TLVAvailablePower     TLVType = 62
	TLVMaxSessions        TLVType = 63
	TLVQueueTime          TLVType = 64
	TLVPrice              TLVType = 65
	TLVOperationalState   TLVType = 66

	TLVPlatoonID    TLVType = 70
	TLVHeadID       TLVType = 71
	TLVHeadPosition TLVType = 72

	// PreviousHop carries the immediate forwarder's node id, letting a
	// receiver distinguish "heard directly from originator" from "heard via
	// relay" without walking a hop-count TLV (spec.md §6 forwarding option A).
	TLVPreviousHop TLVType = 80
	// FormationPositions carries [node_id(6B), x(4B), y(4B)] tuples.
	TLVFormationPositions TLVType = 81
	TLVSurplusEnergy      TLVType = 82
	TLVDirectionVector    TLVType = 83
	TLVFormationEfficiency TLVType = 84
)

// MaxTLVValueLen is the largest value a single-byte length field can carry.
const MaxTLVValueLen = 255

// TLV is one type-length-value entry in a message payload.
type TLV struct {
	Type  TLVType
	Value []byte
}

// Bytes encodes the TLV as type(1) length(1) value(n).
func (t TLV) Bytes() ([]byte, error) {
	if len(t.Value) > MaxTLVValueLen {
		return nil, fmt.Errorf("wire: TLV type %d value too long: %d bytes (max %d)", t.Type, len(t.Value), MaxTLVValueLen)
	}
	b := make([]byte, 2+len(t.Value))
	b[0] = byte(t.Type)
	b[1] = byte(len(t.Value))
	copy(b[2:], t.Value)
	return b, nil
}

// decodeTLVStream parses a flat TLV stream, returning an error (and no
// TLVs) at the first truncated entry. Unknown TLV types are kept, not dropped — a receiver
// that doesn't recognize a type simply never looks it up by name.
func decodeTLVStream(data []byte) ([]TLV, error) {
	var out []TLV
	offset := 0
	for offset < len(data) {
		if len(data) < offset+2 {
			return nil, fmt.Errorf("wire: truncated TLV header at offset %d", offset)
		}
		typ := TLVType(data[offset])
		length := int(data[offset+1])
		if len(data) < offset+2+length {
			return nil, fmt.Errorf("wire: truncated TLV value at offset %d: want %d have %d", offset, length, len(data)-offset-2)
		}
		value := make([]byte, length)
		copy(value, data[offset+2:offset+2+length])
		out = append(out, TLV{Type: typ, Value: value})
		offset += 2 + length
	}
	return out, nil
}

// encodeTLVStream concatenates the wire form of each TLV in order.
func encodeTLVStream(tlvs []TLV) ([]byte, error) {
	var out []byte
	for _, t := range tlvs {
		b, err := t.Bytes()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// first returns the value of the first TLV matching typ, if present.
func first(tlvs []TLV, typ TLVType) ([]byte, bool) {
	for _, t := range tlvs {
		if t.Type == typ {
			return t.Value, true
		}
	}
	return nil, false
}
