package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/haidar-88/mvccp/internal/model"
)

// Frame is a decoded message: header plus TLV stream, before the caller
// has picked a concrete payload type apart.
type Frame struct {
	Header Header
	TLVs   []TLV
}

// Encode concatenates a header and TLVs into a wire frame, filling in
// PayloadLen from the actual encoded TLV size.
func Encode(h Header, tlvs []TLV) ([]byte, error) {
	payload, err := encodeTLVStream(tlvs)
	if err != nil {
		return nil, err
	}
	h.PayloadLen = uint16(len(payload))
	return append(h.Bytes(), payload...), nil
}

// Decode splits a raw frame into its header and TLV stream.
func Decode(data []byte) (Frame, error) {
	h, err := HeaderFromBytes(data)
	if err != nil {
		return Frame{}, err
	}
	end := HeaderSize + int(h.PayloadLen)
	if len(data) < end {
		return Frame{}, fmt.Errorf("wire: frame shorter than declared payload_len: have %d want %d", len(data), end)
	}
	tlvs, err := decodeTLVStream(data[HeaderSize:end])
	if err != nil {
		return Frame{}, err
	}
	return Frame{Header: h, TLVs: tlvs}, nil
}

// --- scalar packing helpers ---
//
// Floats on the wire are 32-bit (matching the "!f..." struct formats in
// the original codec) except the platoon beacon timestamp, which is
// float64 ("!d") to preserve simulation-second precision over long runs.

func putFloat32(v float64) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, math.Float32bits(float32(v)))
	return b
}

func getFloat32(b []byte) float64 {
	return float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
}

func putFloat64(v float64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(v))
	return b
}

func getFloat64(b []byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

func putLatLon(p model.LatLon) []byte {
	return append(putFloat32(p.Lat), putFloat32(p.Lon)...)
}

func getLatLon(b []byte) (model.LatLon, error) {
	if len(b) != 8 {
		return model.LatLon{}, fmt.Errorf("wire: lat/lon TLV must be 8 bytes, got %d", len(b))
	}
	return model.LatLon{Lat: getFloat32(b[0:4]), Lon: getFloat32(b[4:8])}, nil
}

func putVec2(x, y float64) []byte {
	return append(putFloat32(x), putFloat32(y)...)
}

func getVec2(b []byte) (float64, float64, error) {
	if len(b) != 8 {
		return 0, 0, fmt.Errorf("wire: 2-vector TLV must be 8 bytes, got %d", len(b))
	}
	return getFloat32(b[0:4]), getFloat32(b[4:8]), nil
}

// encodeNodeAttributes packs the 10-float physical attribute block:
// capacity, current, min-reserve, max-in, max-out, lat, lon, vx, vy, health.
func encodeNodeAttributes(n model.Node) []byte {
	vals := []float64{
		n.Battery.CapacityKWh, n.Battery.CurrentKWh, n.Battery.MinReserveKWh,
		n.Battery.MaxInKW, n.Battery.MaxOutKW,
		n.Kinematics.Position.Lat, n.Kinematics.Position.Lon,
		n.Kinematics.VX, n.Kinematics.VY,
		n.Battery.Health,
	}
	out := make([]byte, 0, 40)
	for _, v := range vals {
		out = append(out, putFloat32(v)...)
	}
	return out
}

// decodeNodeAttributes unpacks the 10-float physical attribute block into
// an Attrs set; range validation happens later, in model.ValidateAttrs.
// Any malformed block is reported, never silently zeroed.
func decodeNodeAttributes(b []byte) (model.Attrs, error) {
	if len(b) != 40 {
		return nil, fmt.Errorf("wire: NODE_ATTRIBUTES must be 40 bytes, got %d", len(b))
	}
	f := func(i int) float64 { return getFloat32(b[i*4 : i*4+4]) }
	return model.Attrs{
		model.AttrBatteryCapacityKWh: f(0),
		model.AttrBatteryEnergyKWh:   f(1),
		model.AttrMinEnergyKWh:       f(2),
		model.AttrMaxTransferInKW:    f(3),
		model.AttrMaxTransferOutKW:   f(4),
		model.AttrLatitude:           f(5),
		model.AttrLongitude:          f(6),
		model.AttrVX:                 f(7),
		model.AttrVY:                 f(8),
		model.AttrBatteryHealth:      f(9),
	}, nil
}

// encodeMetrics packs the QoS block: etx(f) willingness(B) lane_weight(f)
// link_stability(f).
func encodeMetrics(q model.QoS) []byte {
	out := putFloat32(q.ETX)
	out = append(out, byte(q.Willingness))
	out = append(out, putFloat32(q.LaneWeight)...)
	out = append(out, putFloat32(q.LinkStability)...)
	return out
}

func decodeMetrics(b []byte) (model.Attrs, error) {
	if len(b) != 13 {
		return nil, fmt.Errorf("wire: METRICS must be 13 bytes, got %d", len(b))
	}
	return model.Attrs{
		model.AttrETX:           getFloat32(b[0:4]),
		model.AttrWillingness:   float64(b[4]),
		model.AttrLaneWeight:    getFloat32(b[5:9]),
		model.AttrLinkStability: getFloat32(b[9:13]),
	}, nil
}

// encodeNodeIDList packs a list of 6-byte node ids back to back, used for
// NEIGHBOR_LIST and PLATOON_MEMBERS.
func encodeNodeIDList(ids []model.NodeID) []byte {
	out := make([]byte, 0, 6*len(ids))
	for _, id := range ids {
		out = append(out, id[:]...)
	}
	return out
}

func decodeNodeIDList(b []byte) ([]model.NodeID, error) {
	if len(b)%6 != 0 {
		return nil, fmt.Errorf("wire: node id list length %d not a multiple of 6", len(b))
	}
	out := make([]model.NodeID, 0, len(b)/6)
	for i := 0; i < len(b); i += 6 {
		var id model.NodeID
		copy(id[:], b[i:i+6])
		out = append(out, id)
	}
	return out, nil
}
