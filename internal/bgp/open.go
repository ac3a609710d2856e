package bgp

import (
	"encoding/binary"
	"fmt"
	"net"
)

// AFISAFIKey identifies a single address-family/subsequent-address-family
// pair negotiated in a BGP OPEN's capabilities.
type AFISAFIKey struct {
	AFI  uint16
	SAFI uint8
}

// Capabilities holds the subset of RFC 5492 capabilities the payload
// decoder needs to interpret subsequent UPDATE messages on this session.
type Capabilities struct {
	FourByteASN     bool
	FourByteASNVal  uint32
	Multiprotocol   map[AFISAFIKey]bool
	AddPathReceive  map[AFISAFIKey]bool // OPEN's sender can receive Add-Path NLRI for this AFI/SAFI (Send/Receive 1 or 3)
}

// AddPathEnabled reports whether the peer negotiated Add-Path receive for
// the given AFI/SAFI. This is the value ParseUpdate's hasAddPath argument
// should carry for that address family.
func (c Capabilities) AddPathEnabled(afi uint16, safi uint8) bool {
	if c.AddPathReceive == nil {
		return false
	}
	return c.AddPathReceive[AFISAFIKey{AFI: afi, SAFI: safi}]
}

// OpenMessage holds the fields decoded from a BGP OPEN message (after the
// 19-byte BGP header).
type OpenMessage struct {
	Version      uint8
	MyASN        uint16
	HoldTime     uint16
	BGPIdentifier string
	Capabilities Capabilities
}

// DecodeOpen parses a BGP OPEN message (after the 19-byte BGP header).
// Capability parsing is best-effort: an optional parameter this reader does
// not recognize is skipped rather than treated as fatal, since capability
// negotiation is inherently extensible.
func DecodeOpen(data []byte) (*OpenMessage, error) {
	if len(data) < BGPHeaderSize {
		return nil, fmt.Errorf("bgp: open too short (%d bytes)", len(data))
	}

	msgType := data[18]
	if msgType != BGPMsgTypeOpen {
		return nil, fmt.Errorf("bgp: expected OPEN (type %d), got type %d", BGPMsgTypeOpen, msgType)
	}

	body := data[BGPHeaderSize:]
	if len(body) < 10 {
		return nil, fmt.Errorf("bgp: open body too short (%d bytes)", len(body))
	}

	msg := &OpenMessage{
		Version:  body[0],
		MyASN:    binary.BigEndian.Uint16(body[1:3]),
		HoldTime: binary.BigEndian.Uint16(body[3:5]),
	}
	msg.BGPIdentifier = net.IP(body[5:9]).String()

	optParmLen := int(body[9])
	offset := 10
	if offset+optParmLen > len(body) {
		return nil, fmt.Errorf("bgp: open opt param length %d exceeds body", optParmLen)
	}

	msg.Capabilities = parseOpenOptionalParams(body[offset : offset+optParmLen])

	return msg, nil
}

func parseOpenOptionalParams(data []byte) Capabilities {
	caps := Capabilities{
		Multiprotocol:  make(map[AFISAFIKey]bool),
		AddPathReceive: make(map[AFISAFIKey]bool),
	}

	offset := 0
	for offset+2 <= len(data) {
		paramType := data[offset]
		paramLen := int(data[offset+1])
		offset += 2

		if offset+paramLen > len(data) {
			break
		}
		paramValue := data[offset : offset+paramLen]
		offset += paramLen

		if paramType == OptParamCapabilities {
			parseCapabilities(paramValue, &caps)
		}
	}

	return caps
}

func parseCapabilities(data []byte, caps *Capabilities) {
	offset := 0
	for offset+2 <= len(data) {
		code := data[offset]
		length := int(data[offset+1])
		offset += 2

		if offset+length > len(data) {
			break
		}
		value := data[offset : offset+length]
		offset += length

		switch code {
		case CapASN4:
			if length == 4 {
				caps.FourByteASN = true
				caps.FourByteASNVal = binary.BigEndian.Uint32(value)
			}
		case CapMultiprotocol:
			if length == 4 {
				afi := binary.BigEndian.Uint16(value[0:2])
				safi := value[3]
				caps.Multiprotocol[AFISAFIKey{AFI: afi, SAFI: safi}] = true
			}
		case CapAddPath:
			// One or more {AFI(2), SAFI(1), SendReceive(1)} tuples.
			for i := 0; i+4 <= length; i += 4 {
				afi := binary.BigEndian.Uint16(value[i : i+2])
				safi := value[i+2]
				sendRecv := value[i+3]
				key := AFISAFIKey{AFI: afi, SAFI: safi}
				if sendRecv == AddPathReceive || sendRecv == AddPathSendRecv {
					caps.AddPathReceive[key] = true
				}
			}
		}
	}
}
