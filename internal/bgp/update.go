package bgp

import (
	"encoding/binary"
	"fmt"
)

// ParseUpdate parses a BGP UPDATE message (after the 19-byte BGP header).
// hasAddPath selects the Add-Path NLRI encoding for every prefix list in
// the UPDATE: the IPv4 withdrawn and NLRI fields and any MP_REACH/MP_UNREACH
// prefixes alike (spec §9: capability state recorded on PEER_UP).
// Returns a list of route events, one per prefix found in the UPDATE.
func ParseUpdate(data []byte, hasAddPath bool) ([]*RouteEvent, error) {
	if len(data) < BGPHeaderSize {
		return nil, fmt.Errorf("bgp: update too short (%d bytes)", len(data))
	}

	msgType := data[18]
	if msgType != BGPMsgTypeUpdate {
		return nil, fmt.Errorf("bgp: expected UPDATE (type %d), got type %d", BGPMsgTypeUpdate, msgType)
	}

	payload := data[BGPHeaderSize:]
	return parseUpdatePayload(payload, hasAddPath)
}

func parseUpdatePayload(data []byte, hasAddPath bool) ([]*RouteEvent, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("bgp: update payload too short (%d bytes)", len(data))
	}

	offset := 0

	withdrawnLen := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2

	if offset+withdrawnLen > len(data) {
		return nil, fmt.Errorf("bgp: withdrawn length %d exceeds data", withdrawnLen)
	}

	withdrawnPrefixes, err := parsePrefixes(data[offset:offset+withdrawnLen], 4, hasAddPath)
	if err != nil {
		return nil, fmt.Errorf("bgp: parse withdrawn: %w", err)
	}
	offset += withdrawnLen

	if offset+2 > len(data) {
		return nil, fmt.Errorf("bgp: no room for path attr length")
	}
	totalPathAttrLen := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2

	if offset+totalPathAttrLen > len(data) {
		return nil, fmt.Errorf("bgp: path attr length %d exceeds data", totalPathAttrLen)
	}

	attrs, err := ParsePathAttributes(data[offset:offset+totalPathAttrLen], hasAddPath)
	if err != nil {
		return nil, fmt.Errorf("bgp: parse path attrs: %w", err)
	}
	offset += totalPathAttrLen

	nlriPrefixes, err := parsePrefixes(data[offset:], 4, hasAddPath)
	if err != nil {
		return nil, fmt.Errorf("bgp: parse nlri: %w", err)
	}

	var events []*RouteEvent

	for _, p := range withdrawnPrefixes {
		events = append(events, &RouteEvent{
			AFI:    4,
			Prefix: p.Prefix,
			PathID: p.PathID,
			Action: "D",
		})
	}

	for _, p := range nlriPrefixes {
		events = append(events, &RouteEvent{
			AFI:       4,
			Prefix:    p.Prefix,
			PathID:    p.PathID,
			Action:    "A",
			Nexthop:   attrs.Nexthop,
			ASPath:    attrs.ASPath,
			Origin:    attrs.Origin,
			LocalPref: attrs.LocalPref,
			MED:       attrs.MED,
			CommStd:   attrs.CommStd,
			CommExt:   attrs.CommExt,
			CommLarge: attrs.CommLarge,
			Attrs:     attrs.Attrs,
		})
	}

	if afi := afiToVersion(attrs.MPReachAFI); afi != 0 {
		for _, p := range attrs.MPReachNLRI {
			events = append(events, &RouteEvent{
				AFI:       afi,
				Prefix:    p.Prefix,
				PathID:    p.PathID,
				Action:    "A",
				Nexthop:   attrs.MPReachNexthop,
				ASPath:    attrs.ASPath,
				Origin:    attrs.Origin,
				LocalPref: attrs.LocalPref,
				MED:       attrs.MED,
				CommStd:   attrs.CommStd,
				CommExt:   attrs.CommExt,
				CommLarge: attrs.CommLarge,
				Attrs:     attrs.Attrs,
			})
		}
	}

	if afi := afiToVersion(attrs.MPUnreachAFI); afi != 0 {
		for _, p := range attrs.MPUnreachNLRI {
			events = append(events, &RouteEvent{
				AFI:    afi,
				Prefix: p.Prefix,
				PathID: p.PathID,
				Action: "D",
			})
		}
	}

	return events, nil
}

// DetectEORAFI determines the address family for an End-of-RIB marker by
// scanning the BGP UPDATE's path attributes for MP_UNREACH_NLRI. If found
// with AFI=2 (IPv6), returns 6. Otherwise returns 4 (IPv4). Only call this
// when ParseUpdate returned 0 events and no error.
func DetectEORAFI(data []byte) int {
	if len(data) < BGPHeaderSize+4 {
		return 4
	}

	payload := data[BGPHeaderSize:]
	offset := 0

	if offset+2 > len(payload) {
		return 4
	}
	withdrawnLen := int(binary.BigEndian.Uint16(payload[offset : offset+2]))
	offset += 2
	if offset+withdrawnLen > len(payload) {
		return 4
	}
	offset += withdrawnLen

	if offset+2 > len(payload) {
		return 4
	}
	pathAttrLen := int(binary.BigEndian.Uint16(payload[offset : offset+2]))
	offset += 2
	if offset+pathAttrLen > len(payload) {
		return 4
	}

	attrEnd := offset + pathAttrLen
	for offset < attrEnd {
		if offset+2 > attrEnd {
			break
		}
		flags := payload[offset]
		typeCode := payload[offset+1]
		offset += 2

		var attrLen int
		if flags&0x10 != 0 {
			if offset+2 > attrEnd {
				break
			}
			attrLen = int(binary.BigEndian.Uint16(payload[offset : offset+2]))
			offset += 2
		} else {
			if offset+1 > attrEnd {
				break
			}
			attrLen = int(payload[offset])
			offset++
		}

		if offset+attrLen > attrEnd {
			break
		}

		if typeCode == AttrTypeMPUnreachNLRI && attrLen >= 2 {
			afi := binary.BigEndian.Uint16(payload[offset : offset+2])
			if afi == AFIIPv6 {
				return 6
			}
		}

		offset += attrLen
	}

	return 4
}
