package bmp

import (
	"encoding/binary"
	"fmt"
	"net"
)

// DecodePerPeerHeader decodes the 42-byte per-peer header present on
// message types < 4 (RFC 7854 §4.2).
func DecodePerPeerHeader(data []byte) (PerPeerHeader, error) {
	if len(data) < PerPeerHeaderSize {
		return PerPeerHeader{}, &MalformedError{Detail: fmt.Sprintf("per-peer header too short (%d bytes)", len(data))}
	}

	peerType := data[0]
	if peerType > PeerTypeLocRIB {
		return PerPeerHeader{}, &MalformedError{Detail: fmt.Sprintf("reserved peer type %d", peerType)}
	}

	var hdr PerPeerHeader
	hdr.PeerType = peerType
	hdr.PeerFlags = data[1]
	copy(hdr.PeerDistinguisher[:], data[2:10])
	copy(hdr.PeerAddress[:], data[10:26])
	hdr.PeerAS = binary.BigEndian.Uint32(data[26:30])
	hdr.PeerBGPID = binary.BigEndian.Uint32(data[30:34])
	hdr.TimestampSec = binary.BigEndian.Uint32(data[34:38])
	hdr.TimestampMicro = binary.BigEndian.Uint32(data[38:42])

	return hdr, nil
}

// PeerAddrString renders the per-peer header's peer address, honoring the
// V-flag for IPv4-vs-IPv6 interpretation (RFC 7854 §4.2).
func (h PerPeerHeader) PeerAddrString() string {
	if h.PeerFlags&PeerFlagV != 0 {
		return net.IP(h.PeerAddress[:]).String()
	}
	return net.IP(h.PeerAddress[12:16]).String()
}

// PeerAddrBytes returns the exact bytes used as the peer-hash input for
// this header's peer address: 4 bytes for IPv4, 16 for IPv6.
func (h PerPeerHeader) PeerAddrBytes() []byte {
	if h.PeerFlags&PeerFlagV != 0 {
		out := make([]byte, 16)
		copy(out, h.PeerAddress[:])
		return out
	}
	out := make([]byte, 4)
	copy(out, h.PeerAddress[12:16])
	return out
}

// PeerBGPIDString renders the per-peer header's peer BGP identifier as a
// dotted quad.
func (h PerPeerHeader) PeerBGPIDString() string {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, h.PeerBGPID)
	return net.IP(b).String()
}

// TLV is a single Type-Length-Value entry as used by Initiation,
// Termination, and Peer Up/Down messages (RFC 7854 §4.4).
type TLV struct {
	Type  uint16
	Value []byte
}

// ParseTLVs walks a TLV-encoded byte sequence: 2-byte type, 2-byte length,
// then value. A truncated trailing TLV stops the walk without error —
// callers that got fewer TLVs than expected simply see fewer results.
func ParseTLVs(data []byte) []TLV {
	var out []TLV
	offset := 0
	for offset+4 <= len(data) {
		typ := binary.BigEndian.Uint16(data[offset : offset+2])
		length := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		offset += 4

		if offset+length > len(data) {
			break
		}
		out = append(out, TLV{Type: typ, Value: data[offset : offset+length]})
		offset += length
	}
	return out
}

// InitiationInfo holds the fields decoded from a BMP Initiation message
// body (RFC 7854 §4.3): no per-peer header, TLVs immediately follow the
// common header.
type InitiationInfo struct {
	SysDescr string
	SysName  string
	Message  string
}

// DecodeInitiation parses BMP Initiation TLVs into the router record's
// initiation-supplied fields (spec §3).
func DecodeInitiation(body []byte) InitiationInfo {
	var info InitiationInfo
	for _, tlv := range ParseTLVs(body) {
		switch tlv.Type {
		case TLVTypeString:
			info.Message = string(tlv.Value)
		case TLVTypeSysDescr:
			info.SysDescr = string(tlv.Value)
		case TLVTypeSysName:
			info.SysName = string(tlv.Value)
		}
	}
	return info
}

// TerminationInfo holds the fields decoded from a BMP Termination message
// body (RFC 7854 §4.5).
type TerminationInfo struct {
	ReasonCode int
	ReasonText string
}

// DecodeTermination parses BMP Termination TLVs into a reason code/text
// pair (spec §4.3, TERM_MSG handling).
func DecodeTermination(body []byte) TerminationInfo {
	var info TerminationInfo
	for _, tlv := range ParseTLVs(body) {
		switch tlv.Type {
		case TLVTypeReason:
			if len(tlv.Value) == 2 {
				info.ReasonCode = int(binary.BigEndian.Uint16(tlv.Value))
			}
		case TLVTypeString:
			info.ReasonText = string(tlv.Value)
		}
	}
	return info
}

// UpEventHeader holds the fields decoded from a non-Loc-RIB BMP Peer Up
// Notification's fixed portion (RFC 7854 §4.10), before the Sent/Received
// OPEN messages that follow it.
type UpEventHeader struct {
	LocalAddress net.IP
	LocalPort    uint16
	RemotePort   uint16
	SentOpen     []byte // Raw Sent OPEN message bytes.
	ReceivedOpen []byte // Raw Received OPEN message bytes.
}

// ParsePeerUpEventHeader decodes the Peer Up fixed header and slices out
// the Sent/Received OPEN messages that follow it. It requires a BGP
// message-length reader because the two OPEN messages are back-to-back
// with no length prefix of their own.
func ParsePeerUpEventHeader(body []byte, v6 bool, bgpMessageLength func([]byte) (int, error)) (UpEventHeader, error) {
	// Local Address is a 16-byte field for both families; an IPv4 address
	// occupies its last 4 bytes.
	const addrLen = 16
	fixedLen := addrLen + 2 + 2
	if len(body) < fixedLen {
		return UpEventHeader{}, &MalformedError{Detail: fmt.Sprintf("peer up header too short (%d bytes)", len(body))}
	}

	var hdr UpEventHeader
	if v6 {
		hdr.LocalAddress = net.IP(body[0:16])
	} else {
		hdr.LocalAddress = net.IP(body[12:16])
	}
	hdr.LocalPort = binary.BigEndian.Uint16(body[addrLen : addrLen+2])
	hdr.RemotePort = binary.BigEndian.Uint16(body[addrLen+2 : addrLen+4])

	rest := body[fixedLen:]

	sentLen, err := bgpMessageLength(rest)
	if err != nil {
		return UpEventHeader{}, fmt.Errorf("bmp: peer up sent-open: %w", err)
	}
	if sentLen > len(rest) {
		return UpEventHeader{}, &MalformedError{Detail: "peer up sent-open exceeds body"}
	}
	hdr.SentOpen = rest[:sentLen]
	rest = rest[sentLen:]

	recvLen, err := bgpMessageLength(rest)
	if err != nil {
		return UpEventHeader{}, fmt.Errorf("bmp: peer up received-open: %w", err)
	}
	if recvLen > len(rest) {
		return UpEventHeader{}, &MalformedError{Detail: "peer up received-open exceeds body"}
	}
	hdr.ReceivedOpen = rest[:recvLen]

	return hdr, nil
}

// DownEventHeader holds the fields decoded from a BMP Peer Down
// Notification's fixed portion (RFC 7854 §4.9): a single reason byte.
type DownEventHeader struct {
	Reason uint8
	Rest   []byte // Remaining body bytes: NOTIFICATION, FSM event code, or nothing.
}

// ParsePeerDownEventHeader decodes the Peer Down reason byte.
func ParsePeerDownEventHeader(body []byte) (DownEventHeader, error) {
	if len(body) < 1 {
		return DownEventHeader{}, &MalformedError{Detail: "peer down body empty"}
	}
	return DownEventHeader{Reason: body[0], Rest: body[1:]}, nil
}

// StatsTLV is a single Statistics Report counter (RFC 7854 §4.8): a 2-byte
// stat type followed by a 4-byte (or, for some types, 8-byte) value.
type StatsTLV struct {
	Type  uint16
	Value uint64
}

// DecodeStatsReport parses a Statistics Report body: a 4-byte count field
// followed by that many {type(2), length(2), value} entries.
func DecodeStatsReport(body []byte) ([]StatsTLV, error) {
	if len(body) < 4 {
		return nil, &MalformedError{Detail: "stats report too short for count field"}
	}
	count := binary.BigEndian.Uint32(body[0:4])
	offset := 4

	out := make([]StatsTLV, 0, count)
	for i := uint32(0); i < count; i++ {
		if offset+4 > len(body) {
			return out, &MalformedError{Detail: "stats report truncated TLV header"}
		}
		typ := binary.BigEndian.Uint16(body[offset : offset+2])
		length := int(binary.BigEndian.Uint16(body[offset+2 : offset+4]))
		offset += 4

		if offset+length > len(body) {
			return out, &MalformedError{Detail: "stats report truncated TLV value"}
		}

		var value uint64
		switch length {
		case 4:
			value = uint64(binary.BigEndian.Uint32(body[offset : offset+4]))
		case 8:
			value = binary.BigEndian.Uint64(body[offset : offset+8])
		}
		out = append(out, StatsTLV{Type: typ, Value: value})
		offset += length
	}

	return out, nil
}
