package wire

import (
	"fmt"

	"github.com/haidar-88/mvccp/internal/model"
)

// HelloFields is the decoded payload of a HELLO message (spec.md §4.4).
type HelloFields struct {
	TwoHopNeighbors []model.NodeID
	Attrs           model.Attrs
	IsProvider      bool
}

// EncodeHello builds a HELLO frame: one-hop neighbor list, node
// attributes and QoS metrics, optionally flagged as a provider (spec.md
// §4.4 "HELLO").
func EncodeHello(seq uint32, sender model.NodeID, ttl uint8, oneHop []model.NodeID, n model.Node, isProvider bool) ([]byte, error) {
	tlvs := []TLV{
		{Type: TLVNeighborList, Value: encodeNodeIDList(oneHop)},
		{Type: TLVNodeAttributes, Value: encodeNodeAttributes(n)},
		{Type: TLVMetrics, Value: encodeMetrics(n.QoS)},
	}
	if isProvider {
		tlvs = append(tlvs, TLV{Type: TLVProviderFlag, Value: []byte{1}})
	}
	return Encode(Header{Type: MsgHello, TTL: ttl, SeqNum: seq, SenderID: sender}, tlvs)
}

// DecodeHello extracts HelloFields from an already-framed Hello message.
func DecodeHello(f Frame) (HelloFields, error) {
	var out HelloFields
	if v, ok := first(f.TLVs, TLVNeighborList); ok {
		ids, err := decodeNodeIDList(v)
		if err != nil {
			return out, err
		}
		out.TwoHopNeighbors = ids
	}
	attrs := model.Attrs{}
	if v, ok := first(f.TLVs, TLVNodeAttributes); ok {
		a, err := decodeNodeAttributes(v)
		if err != nil {
			return out, err
		}
		for k, val := range a {
			attrs[k] = val
		}
	}
	if v, ok := first(f.TLVs, TLVMetrics); ok {
		a, err := decodeMetrics(v)
		if err != nil {
			return out, err
		}
		for k, val := range a {
			attrs[k] = val
		}
	}
	out.Attrs = attrs
	if v, ok := first(f.TLVs, TLVProviderFlag); ok && len(v) == 1 {
		out.IsProvider = v[0] != 0
	}
	return out, nil
}

// PAFields is the decoded payload of a Provider Announcement (spec.md
// §4.5 "PA").
type PAFields struct {
	ProviderID        model.NodeID
	ProviderType      model.ProviderType
	Position          model.LatLon
	Destination       model.LatLon
	PlatoonSize       int
	EnergyAvailKWh    float64
	Direction         [2]float64
	RenewableFraction float64
	PreviousHop       model.NodeID
	HasPreviousHop    bool
}

// EncodePA builds a PA frame (spec.md §6, §4.5). previousHop is attached
// on every re-broadcast so a receiver can tell a direct originator's
// transmission from a relayed one without PHY metadata.
func EncodePA(seq uint32, sender model.NodeID, ttl uint8, pf PAFields) ([]byte, error) {
	tlvs := []TLV{
		{Type: TLVProviderID, Value: pf.ProviderID[:]},
		{Type: TLVProviderType, Value: []byte{byte(pf.ProviderType)}},
		{Type: TLVPosition, Value: putLatLon(pf.Position)},
		{Type: TLVDestination, Value: putLatLon(pf.Destination)},
		{Type: TLVPlatoonSize, Value: []byte{byte(pf.PlatoonSize)}},
		{Type: TLVEnergyAvailable, Value: putFloat32(pf.EnergyAvailKWh)},
		{Type: TLVDirection, Value: putVec2(pf.Direction[0], pf.Direction[1])},
		{Type: TLVRenewableFraction, Value: putFloat32(pf.RenewableFraction)},
	}
	if pf.HasPreviousHop {
		tlvs = append(tlvs, TLV{Type: TLVPreviousHop, Value: pf.PreviousHop[:]})
	}
	return Encode(Header{Type: MsgPA, TTL: ttl, SeqNum: seq, SenderID: sender}, tlvs)
}

// DecodePA extracts PAFields from a framed PA message.
func DecodePA(f Frame) (PAFields, error) {
	var out PAFields
	if v, ok := first(f.TLVs, TLVProviderID); ok && len(v) == 6 {
		copy(out.ProviderID[:], v)
	}
	if v, ok := first(f.TLVs, TLVProviderType); ok && len(v) == 1 {
		out.ProviderType = model.ProviderType(v[0])
	}
	if v, ok := first(f.TLVs, TLVPosition); ok {
		p, err := getLatLon(v)
		if err != nil {
			return out, err
		}
		out.Position = p
	}
	if v, ok := first(f.TLVs, TLVDestination); ok {
		p, err := getLatLon(v)
		if err != nil {
			return out, err
		}
		out.Destination = p
	}
	if v, ok := first(f.TLVs, TLVPlatoonSize); ok && len(v) == 1 {
		out.PlatoonSize = int(v[0])
	}
	if v, ok := first(f.TLVs, TLVEnergyAvailable); ok && len(v) == 4 {
		out.EnergyAvailKWh = getFloat32(v)
	}
	if v, ok := first(f.TLVs, TLVDirection); ok {
		dx, dy, err := getVec2(v)
		if err != nil {
			return out, err
		}
		out.Direction = [2]float64{dx, dy}
	}
	if v, ok := first(f.TLVs, TLVRenewableFraction); ok && len(v) == 4 {
		out.RenewableFraction = getFloat32(v)
	}
	if v, ok := first(f.TLVs, TLVPreviousHop); ok && len(v) == 6 {
		copy(out.PreviousHop[:], v)
		out.HasPreviousHop = true
	}
	return out, nil
}

// JoinOfferFields is the decoded payload of a JOIN_OFFER (spec.md §4.6
// handshake step 1).
type JoinOfferFields struct {
	ConsumerID      model.NodeID
	EnergyReqKWh    float64
	Trajectory      model.LatLon
	HasTrajectory   bool
	MeetingPoint    model.LatLon
	Position        model.LatLon
}

func EncodeJoinOffer(seq uint32, sender model.NodeID, ttl uint8, jf JoinOfferFields) ([]byte, error) {
	tlvs := []TLV{
		{Type: TLVConsumerID, Value: jf.ConsumerID[:]},
		{Type: TLVEnergyRequired, Value: putFloat32(jf.EnergyReqKWh)},
		{Type: TLVMeetingPoint, Value: putLatLon(jf.MeetingPoint)},
		{Type: TLVPosition, Value: putLatLon(jf.Position)},
	}
	if jf.HasTrajectory {
		tlvs = append(tlvs, TLV{Type: TLVTrajectory, Value: putLatLon(jf.Trajectory)})
	}
	return Encode(Header{Type: MsgJoinOffer, TTL: ttl, SeqNum: seq, SenderID: sender}, tlvs)
}

func DecodeJoinOffer(f Frame) (JoinOfferFields, error) {
	var out JoinOfferFields
	if v, ok := first(f.TLVs, TLVConsumerID); ok && len(v) == 6 {
		copy(out.ConsumerID[:], v)
	}
	if v, ok := first(f.TLVs, TLVEnergyRequired); ok && len(v) == 4 {
		out.EnergyReqKWh = getFloat32(v)
	}
	if v, ok := first(f.TLVs, TLVTrajectory); ok {
		p, err := getLatLon(v)
		if err != nil {
			return out, err
		}
		out.Trajectory, out.HasTrajectory = p, true
	}
	if v, ok := first(f.TLVs, TLVMeetingPoint); ok {
		p, err := getLatLon(v)
		if err != nil {
			return out, err
		}
		out.MeetingPoint = p
	}
	if v, ok := first(f.TLVs, TLVPosition); ok {
		p, err := getLatLon(v)
		if err != nil {
			return out, err
		}
		out.Position = p
	}
	return out, nil
}

// TopologyEntry is one (node, relative index) pair in a platoon topology
// listing (spec.md §4.7 "topology").
type TopologyEntry struct {
	NodeID model.NodeID
	Index  uint8
}

func encodeTopology(entries []TopologyEntry) []byte {
	out := []byte{byte(len(entries))}
	for _, e := range entries {
		out = append(out, e.NodeID[:]...)
		out = append(out, e.Index)
	}
	return out
}

func decodeTopology(b []byte) ([]TopologyEntry, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("wire: topology TLV empty")
	}
	count := int(b[0])
	want := 1 + count*7
	if len(b) < want {
		return nil, fmt.Errorf("wire: topology TLV truncated: have %d want %d", len(b), want)
	}
	out := make([]TopologyEntry, 0, count)
	off := 1
	for i := 0; i < count; i++ {
		var e TopologyEntry
		copy(e.NodeID[:], b[off:off+6])
		e.Index = b[off+6]
		out = append(out, e)
		off += 7
	}
	return out, nil
}

// JoinAcceptFields is the decoded payload of a JOIN_ACCEPT (spec.md §4.6
// handshake step 2).
type JoinAcceptFields struct {
	ProviderID      model.NodeID
	MeetingPoint    model.LatLon
	BandwidthKW     float64
	DurationSec     float64
	PlatoonMembers  []model.NodeID
	Topology        []TopologyEntry
}

func EncodeJoinAccept(seq uint32, sender model.NodeID, ttl uint8, jf JoinAcceptFields) ([]byte, error) {
	tlvs := []TLV{
		{Type: TLVProviderID, Value: jf.ProviderID[:]},
		{Type: TLVMeetingPoint, Value: putLatLon(jf.MeetingPoint)},
		{Type: TLVBandwidth, Value: putFloat32(jf.BandwidthKW)},
		{Type: TLVDuration, Value: putFloat32(jf.DurationSec)},
	}
	if len(jf.PlatoonMembers) > 0 {
		tlvs = append(tlvs, TLV{Type: TLVPlatoonMembers, Value: encodeNodeIDList(jf.PlatoonMembers)})
	}
	if len(jf.Topology) > 0 {
		tlvs = append(tlvs, TLV{Type: TLVTopology, Value: encodeTopology(jf.Topology)})
	}
	return Encode(Header{Type: MsgJoinAccept, TTL: ttl, SeqNum: seq, SenderID: sender}, tlvs)
}

func DecodeJoinAccept(f Frame) (JoinAcceptFields, error) {
	var out JoinAcceptFields
	if v, ok := first(f.TLVs, TLVProviderID); ok && len(v) == 6 {
		copy(out.ProviderID[:], v)
	}
	if v, ok := first(f.TLVs, TLVMeetingPoint); ok {
		p, err := getLatLon(v)
		if err != nil {
			return out, err
		}
		out.MeetingPoint = p
	}
	if v, ok := first(f.TLVs, TLVBandwidth); ok && len(v) == 4 {
		out.BandwidthKW = getFloat32(v)
	}
	if v, ok := first(f.TLVs, TLVDuration); ok && len(v) == 4 {
		out.DurationSec = getFloat32(v)
	}
	if v, ok := first(f.TLVs, TLVPlatoonMembers); ok {
		ids, err := decodeNodeIDList(v)
		if err != nil {
			return out, err
		}
		out.PlatoonMembers = ids
	}
	if v, ok := first(f.TLVs, TLVTopology); ok {
		t, err := decodeTopology(v)
		if err != nil {
			return out, err
		}
		out.Topology = t
	}
	return out, nil
}

// EncodeAck builds an ACK frame carrying the consumer id (spec.md §4.6
// handshake step 3).
func EncodeAck(seq uint32, sender model.NodeID, ttl uint8, consumerID model.NodeID) ([]byte, error) {
	return Encode(Header{Type: MsgAck, TTL: ttl, SeqNum: seq, SenderID: sender},
		[]TLV{{Type: TLVConsumerID, Value: consumerID[:]}})
}

// DecodeAck returns the consumer id carried by an ACK frame.
func DecodeAck(f Frame) (model.NodeID, error) {
	var id model.NodeID
	v, ok := first(f.TLVs, TLVConsumerID)
	if !ok || len(v) != 6 {
		return id, fmt.Errorf("wire: ACK missing CONSUMER_ID")
	}
	copy(id[:], v)
	return id, nil
}

// EncodeAckAck builds an ACKACK frame carrying the provider id (spec.md
// §4.6 handshake step 4).
func EncodeAckAck(seq uint32, sender model.NodeID, ttl uint8, providerID model.NodeID) ([]byte, error) {
	return Encode(Header{Type: MsgAckAck, TTL: ttl, SeqNum: seq, SenderID: sender},
		[]TLV{{Type: TLVProviderID, Value: providerID[:]}})
}

// DecodeAckAck returns the provider id carried by an ACKACK frame.
func DecodeAckAck(f Frame) (model.NodeID, error) {
	var id model.NodeID
	v, ok := first(f.TLVs, TLVProviderID)
	if !ok || len(v) != 6 {
		return id, fmt.Errorf("wire: ACKACK missing PROVIDER_ID")
	}
	copy(id[:], v)
	return id, nil
}

// PlatoonBeaconFields is the decoded payload of a PLATOON_BEACON
// (spec.md §4.7).
type PlatoonBeaconFields struct {
	PlatoonID           model.NodeID
	HeadID              model.NodeID
	Timestamp           float64
	HeadPosition        model.LatLon
	HeadVelocity        float64
	AvailableSlots      int
	Topology            []TopologyEntry
	Route               model.LatLon
	HasRoute            bool
	FormationPositions  map[model.NodeID][2]float64
}

func EncodePlatoonBeacon(seq uint32, sender model.NodeID, ttl uint8, bf PlatoonBeaconFields) ([]byte, error) {
	tlvs := []TLV{
		{Type: TLVPlatoonID, Value: bf.PlatoonID[:]},
		{Type: TLVHeadID, Value: bf.HeadID[:]},
		{Type: TLVTimestamp, Value: putFloat64(bf.Timestamp)},
		{Type: TLVHeadPosition, Value: putLatLon(bf.HeadPosition)},
		{Type: TLVVelocity, Value: putFloat32(bf.HeadVelocity)},
		{Type: TLVAvailableSlots, Value: []byte{byte(bf.AvailableSlots)}},
	}
	if len(bf.Topology) > 0 {
		tlvs = append(tlvs, TLV{Type: TLVTopology, Value: encodeTopology(bf.Topology)})
	}
	if bf.HasRoute {
		tlvs = append(tlvs, TLV{Type: TLVRoute, Value: putLatLon(bf.Route)})
	}
	if len(bf.FormationPositions) > 0 {
		tlvs = append(tlvs, TLV{Type: TLVFormationPositions, Value: encodeFormationPositions(bf.FormationPositions)})
	}
	return Encode(Header{Type: MsgPlatoonBeacon, TTL: ttl, SeqNum: seq, SenderID: sender}, tlvs)
}

func DecodePlatoonBeacon(f Frame) (PlatoonBeaconFields, error) {
	var out PlatoonBeaconFields
	if v, ok := first(f.TLVs, TLVPlatoonID); ok && len(v) == 6 {
		copy(out.PlatoonID[:], v)
	}
	if v, ok := first(f.TLVs, TLVHeadID); ok && len(v) == 6 {
		copy(out.HeadID[:], v)
	}
	if v, ok := first(f.TLVs, TLVTimestamp); ok && len(v) == 8 {
		out.Timestamp = getFloat64(v)
	}
	if v, ok := first(f.TLVs, TLVHeadPosition); ok {
		p, err := getLatLon(v)
		if err != nil {
			return out, err
		}
		out.HeadPosition = p
	}
	if v, ok := first(f.TLVs, TLVVelocity); ok && len(v) == 4 {
		out.HeadVelocity = getFloat32(v)
	}
	if v, ok := first(f.TLVs, TLVAvailableSlots); ok && len(v) == 1 {
		out.AvailableSlots = int(v[0])
	}
	if v, ok := first(f.TLVs, TLVTopology); ok {
		t, err := decodeTopology(v)
		if err != nil {
			return out, err
		}
		out.Topology = t
	}
	if v, ok := first(f.TLVs, TLVRoute); ok {
		p, err := getLatLon(v)
		if err != nil {
			return out, err
		}
		out.Route, out.HasRoute = p, true
	}
	if v, ok := first(f.TLVs, TLVFormationPositions); ok {
		fp, err := decodeFormationPositions(v)
		if err != nil {
			return out, err
		}
		out.FormationPositions = fp
	}
	return out, nil
}

// encodeFormationPositions packs [node_id(6B), x(4B), y(4B)] per member
// (spec.md §6 FORMATION_POSITIONS).
func encodeFormationPositions(m map[model.NodeID][2]float64) []byte {
	out := make([]byte, 0, 14*len(m))
	for id, xy := range m {
		out = append(out, id[:]...)
		out = append(out, putVec2(xy[0], xy[1])...)
	}
	return out
}

func decodeFormationPositions(b []byte) (map[model.NodeID][2]float64, error) {
	if len(b)%14 != 0 {
		return nil, fmt.Errorf("wire: FORMATION_POSITIONS length %d not a multiple of 14", len(b))
	}
	out := make(map[model.NodeID][2]float64, len(b)/14)
	for off := 0; off < len(b); off += 14 {
		var id model.NodeID
		copy(id[:], b[off:off+6])
		x, y, err := getVec2(b[off+6 : off+14])
		if err != nil {
			return nil, err
		}
		out[id] = [2]float64{x, y}
	}
	return out, nil
}

// PlatoonStatusFields is the decoded payload of a PLATOON_STATUS (spec.md
// §4.7).
type PlatoonStatusFields struct {
	PlatoonID     model.NodeID
	VehicleID     model.NodeID
	BatteryKWh    float64
	RelativeIndex int
	ReceiveRateKW float64
}

func EncodePlatoonStatus(seq uint32, sender model.NodeID, ttl uint8, sf PlatoonStatusFields) ([]byte, error) {
	tlvs := []TLV{
		{Type: TLVPlatoonID, Value: sf.PlatoonID[:]},
		{Type: TLVNodeID, Value: sf.VehicleID[:]},
		{Type: TLVBatteryLevel, Value: putFloat32(sf.BatteryKWh)},
		{Type: TLVRelativeIndex, Value: []byte{byte(sf.RelativeIndex)}},
		{Type: TLVReceiveRate, Value: putFloat32(sf.ReceiveRateKW)},
	}
	return Encode(Header{Type: MsgPlatoonStatus, TTL: ttl, SeqNum: seq, SenderID: sender}, tlvs)
}

func DecodePlatoonStatus(f Frame) (PlatoonStatusFields, error) {
	var out PlatoonStatusFields
	if v, ok := first(f.TLVs, TLVPlatoonID); ok && len(v) == 6 {
		copy(out.PlatoonID[:], v)
	}
	if v, ok := first(f.TLVs, TLVNodeID); ok && len(v) == 6 {
		copy(out.VehicleID[:], v)
	}
	if v, ok := first(f.TLVs, TLVBatteryLevel); ok && len(v) == 4 {
		out.BatteryKWh = getFloat32(v)
	}
	if v, ok := first(f.TLVs, TLVRelativeIndex); ok && len(v) == 1 {
		out.RelativeIndex = int(v[0])
	}
	if v, ok := first(f.TLVs, TLVReceiveRate); ok && len(v) == 4 {
		out.ReceiveRateKW = getFloat32(v)
	}
	return out, nil
}

// GridStatusFields is the decoded payload of a GRID_STATUS (spec.md
// §4.5 "GRID_STATUS").
type GridStatusFields struct {
	HubID             model.NodeID
	RenewableFraction float64
	AvailablePowerKW  float64
	MaxSessions       int
	QueueTimeSec      float64
	OperationalState  model.OperationalState
}

func EncodeGridStatus(seq uint32, sender model.NodeID, ttl uint8, gf GridStatusFields) ([]byte, error) {
	tlvs := []TLV{
		{Type: TLVHubID, Value: gf.HubID[:]},
		{Type: TLVRenewableFraction, Value: putFloat32(gf.RenewableFraction)},
		{Type: TLVAvailablePower, Value: putFloat32(gf.AvailablePowerKW)},
		{Type: TLVMaxSessions, Value: []byte{byte(gf.MaxSessions)}},
		{Type: TLVQueueTime, Value: putFloat32(gf.QueueTimeSec)},
		{Type: TLVOperationalState, Value: []byte(gf.OperationalState)},
	}
	return Encode(Header{Type: MsgGridStatus, TTL: ttl, SeqNum: seq, SenderID: sender}, tlvs)
}

func DecodeGridStatus(f Frame) (GridStatusFields, error) {
	var out GridStatusFields
	if v, ok := first(f.TLVs, TLVHubID); ok && len(v) == 6 {
		copy(out.HubID[:], v)
	}
	if v, ok := first(f.TLVs, TLVRenewableFraction); ok && len(v) == 4 {
		out.RenewableFraction = getFloat32(v)
	}
	if v, ok := first(f.TLVs, TLVAvailablePower); ok && len(v) == 4 {
		out.AvailablePowerKW = getFloat32(v)
	}
	if v, ok := first(f.TLVs, TLVMaxSessions); ok && len(v) == 1 {
		out.MaxSessions = int(v[0])
	}
	if v, ok := first(f.TLVs, TLVQueueTime); ok && len(v) == 4 {
		out.QueueTimeSec = getFloat32(v)
	}
	if v, ok := first(f.TLVs, TLVOperationalState); ok {
		out.OperationalState = model.OperationalState(v)
	}
	return out, nil
}

// PlatoonAnnounceFields is the decoded payload of a PLATOON_ANNOUNCE
// (spec.md §4.7 "inter-platoon discovery").
type PlatoonAnnounceFields struct {
	PlatoonID            model.NodeID
	HeadID               model.NodeID
	Position             model.LatLon
	Destination          model.LatLon
	AvailableSlots       int
	SurplusEnergyKWh     float64
	DirectionVector      [2]float64
	FormationEfficiency  float64
}

func EncodePlatoonAnnounce(seq uint32, sender model.NodeID, ttl uint8, af PlatoonAnnounceFields) ([]byte, error) {
	tlvs := []TLV{
		{Type: TLVPlatoonID, Value: af.PlatoonID[:]},
		{Type: TLVHeadID, Value: af.HeadID[:]},
		{Type: TLVPosition, Value: putLatLon(af.Position)},
		{Type: TLVDestination, Value: putLatLon(af.Destination)},
		{Type: TLVAvailableSlots, Value: []byte{byte(af.AvailableSlots)}},
		{Type: TLVSurplusEnergy, Value: putFloat32(af.SurplusEnergyKWh)},
		{Type: TLVDirectionVector, Value: putVec2(af.DirectionVector[0], af.DirectionVector[1])},
		{Type: TLVFormationEfficiency, Value: putFloat32(af.FormationEfficiency)},
	}
	return Encode(Header{Type: MsgPlatoonAnnounce, TTL: ttl, SeqNum: seq, SenderID: sender}, tlvs)
}

func DecodePlatoonAnnounce(f Frame) (PlatoonAnnounceFields, error) {
	var out PlatoonAnnounceFields
	if v, ok := first(f.TLVs, TLVPlatoonID); ok && len(v) == 6 {
		copy(out.PlatoonID[:], v)
	}
	if v, ok := first(f.TLVs, TLVHeadID); ok && len(v) == 6 {
		copy(out.HeadID[:], v)
	}
	if v, ok := first(f.TLVs, TLVPosition); ok {
		p, err := getLatLon(v)
		if err != nil {
			return out, err
		}
		out.Position = p
	}
	if v, ok := first(f.TLVs, TLVDestination); ok {
		p, err := getLatLon(v)
		if err != nil {
			return out, err
		}
		out.Destination = p
	}
	if v, ok := first(f.TLVs, TLVAvailableSlots); ok && len(v) == 1 {
		out.AvailableSlots = int(v[0])
	}
	if v, ok := first(f.TLVs, TLVSurplusEnergy); ok && len(v) == 4 {
		out.SurplusEnergyKWh = getFloat32(v)
	}
	if v, ok := first(f.TLVs, TLVDirectionVector); ok {
		dx, dy, err := getVec2(v)
		if err != nil {
			return out, err
		}
		out.DirectionVector = [2]float64{dx, dy}
	}
	if v, ok := first(f.TLVs, TLVFormationEfficiency); ok && len(v) == 4 {
		out.FormationEfficiency = getFloat32(v)
	}
	return out, nil
}
