// Package wire implements the MVCCP on-the-wire framing: a fixed 15-byte
// header followed by a TLV-encoded payload (spec.md §6). Grounded on
// protocol/protocol.go's Header/Bytes/FromBytes pattern, generalized from
// PTP's fixed-field header to MVCCP's header-plus-TLV-stream shape.
package wire

import (
	"encoding/binary"
	"fmt"
)

// MessageType identifies the payload carried after the header (spec.md §6
// message type table).
type MessageType uint16

const (
	MsgHello           MessageType = 1
	MsgPA              MessageType = 2
	MsgJoinOffer       MessageType = 3
	MsgJoinAccept      MessageType = 4
	MsgAck             MessageType = 5
	MsgAckAck          MessageType = 6
	MsgPlatoonBeacon   MessageType = 7
	MsgPlatoonStatus   MessageType = 8
	MsgGridStatus      MessageType = 9
	MsgPlatoonAnnounce MessageType = 10
)

func (m MessageType) String() string {
	switch m {
	case MsgHello:
		return "HELLO"
	case MsgPA:
		return "PA"
	case MsgJoinOffer:
		return "JOIN_OFFER"
	case MsgJoinAccept:
		return "JOIN_ACCEPT"
	case MsgAck:
		return "ACK"
	case MsgAckAck:
		return "ACKACK"
	case MsgPlatoonBeacon:
		return "PLATOON_BEACON"
	case MsgPlatoonStatus:
		return "PLATOON_STATUS"
	case MsgGridStatus:
		return "GRID_STATUS"
	case MsgPlatoonAnnounce:
		return "PLATOON_ANNOUNCE"
	default:
		return fmt.Sprintf("MessageType(%d)", uint16(m))
	}
}

// HeaderSize is the fixed wire size of Header: 2+1+4+6+2 bytes.
const HeaderSize = 15

// Header is the common frame header carried by every MVCCP message
// (spec.md §6 "Wire header"). Layout: msg_type(u16) ttl(u8) seq_num(u32)
// sender_id(6B) payload_len(u16), all big-endian.
type Header struct {
	Type       MessageType
	TTL        uint8
	SeqNum     uint32
	SenderID   [6]byte
	PayloadLen uint16
}

// Bytes encodes the header.
func (h Header) Bytes() []byte {
	b := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(b[0:2], uint16(h.Type))
	b[2] = h.TTL
	binary.BigEndian.PutUint32(b[3:7], h.SeqNum)
	copy(b[7:13], h.SenderID[:])
	binary.BigEndian.PutUint16(b[13:15], h.PayloadLen)
	return b
}

// HeaderFromBytes decodes a header from the first HeaderSize bytes of data.
func HeaderFromBytes(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("wire: short header, got %d bytes want %d", len(data), HeaderSize)
	}
	var h Header
	h.Type = MessageType(binary.BigEndian.Uint16(data[0:2]))
	h.TTL = data[2]
	h.SeqNum = binary.BigEndian.Uint32(data[3:7])
	copy(h.SenderID[:], data[7:13])
	h.PayloadLen = binary.BigEndian.Uint16(data[13:15])
	return h, nil
}
