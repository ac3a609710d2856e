package bgp

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
)

// PathAttributes is the decoded form of a BGP UPDATE's path attribute
// section (RFC 4271 §4.3, RFC 4760 for the multiprotocol extensions). One
// instance is built per UPDATE and its fields are copied into every
// RouteEvent the update produces — announcements share attributes,
// withdrawals carry none.
type PathAttributes struct {
	Origin    string
	ASPath    string
	Nexthop   string
	MED       *uint32
	LocalPref *uint32
	CommStd   []string
	CommExt   []string
	CommLarge []string
	Attrs     map[string]string // unrecognized attribute type codes, hex-encoded

	// MP_REACH_NLRI / MP_UNREACH_NLRI carry their own AFI and prefix list;
	// ParseUpdate reads these separately from the IPv4-unicast prefixes
	// above to build the IPv6 (or non-unicast) route events.
	MPReachAFI     uint16
	MPReachNLRI    []PrefixInfo
	MPReachNexthop string
	MPUnreachAFI   uint16
	MPUnreachNLRI  []PrefixInfo
}

// PrefixInfo is one NLRI entry: a prefix in CIDR notation plus its Add-Path
// path identifier (zero when Add-Path is not negotiated for the AFI/SAFI).
type PrefixInfo struct {
	Prefix string
	PathID int64
}

// ParsePathAttributes walks the TLV-encoded attribute list of a BGP UPDATE
// (the section between the withdrawn-routes and NLRI fields) and fills in a
// PathAttributes. hasAddPath must reflect the peer's negotiated Add-Path
// capability for the AFI/SAFI being parsed, since it changes the width of
// every prefix entry inside MP_REACH_NLRI and MP_UNREACH_NLRI.
func ParsePathAttributes(data []byte, hasAddPath bool) (*PathAttributes, error) {
	attrs := &PathAttributes{
		Attrs: make(map[string]string),
	}

	offset := 0
	for offset < len(data) {
		if offset+2 > len(data) {
			return attrs, fmt.Errorf("bgp: attr header truncated at offset %d", offset)
		}

		flags := data[offset]
		typeCode := data[offset+1]
		offset += 2

		// Length is 1 byte, or 2 bytes when the Extended Length flag is set.
		var attrLen int
		if flags&0x10 != 0 {
			if offset+2 > len(data) {
				return attrs, fmt.Errorf("bgp: extended attr length truncated")
			}
			attrLen = int(binary.BigEndian.Uint16(data[offset : offset+2]))
			offset += 2
		} else {
			if offset+1 > len(data) {
				return attrs, fmt.Errorf("bgp: attr length truncated")
			}
			attrLen = int(data[offset])
			offset++
		}

		if offset+attrLen > len(data) {
			return attrs, fmt.Errorf("bgp: attr data truncated (type %d, need %d, have %d)", typeCode, attrLen, len(data)-offset)
		}

		attrData := data[offset : offset+attrLen]
		offset += attrLen

		switch typeCode {
		case AttrTypeOrigin:
			parseOrigin(attrData, attrs)
		case AttrTypeASPath:
			parseASPath(attrData, attrs)
		case AttrTypeNextHop:
			parseNextHop(attrData, attrs)
		case AttrTypeMED:
			parseMED(attrData, attrs)
		case AttrTypeLocalPref:
			parseLocalPref(attrData, attrs)
		case AttrTypeCommunity:
			parseCommunity(attrData, attrs)
		case AttrTypeMPReachNLRI:
			parseMPReachNLRI(attrData, attrs, hasAddPath)
		case AttrTypeMPUnreachNLRI:
			parseMPUnreachNLRI(attrData, attrs, hasAddPath)
		case AttrTypeExtCommunity:
			parseExtCommunity(attrData, attrs)
		case AttrTypeLargeCommunity:
			parseLargeCommunity(attrData, attrs)
		default:
			// Unrecognized attributes are preserved as raw hex rather than
			// dropped, so a downstream consumer can still see them.
			attrs.Attrs[fmt.Sprintf("%d", typeCode)] = hex.EncodeToString(attrData)
		}
	}

	return attrs, nil
}

func parseOrigin(data []byte, attrs *PathAttributes) {
	if len(data) < 1 {
		return
	}
	if v, ok := OriginValues[data[0]]; ok {
		attrs.Origin = v
	} else {
		attrs.Origin = fmt.Sprintf("UNKNOWN(%d)", data[0])
	}
}

// parseASPath renders AS_PATH as a space-joined string of segments, with
// AS_SET segments wrapped in braces (matching the conventional route-server
// text form so OriginASN below can be applied to either update or bus
// output without a second parser).
func parseASPath(data []byte, attrs *PathAttributes) {
	var segments []string
	offset := 0
	for offset+2 <= len(data) {
		segType := data[offset]
		segLen := int(data[offset+1])
		offset += 2

		if offset+segLen*4 > len(data) {
			break
		}

		asns := make([]string, segLen)
		for i := 0; i < segLen; i++ {
			asn := binary.BigEndian.Uint32(data[offset : offset+4])
			asns[i] = fmt.Sprintf("%d", asn)
			offset += 4
		}

		switch segType {
		case ASPathSegmentSequence:
			segments = append(segments, strings.Join(asns, " "))
		case ASPathSegmentSet:
			segments = append(segments, "{"+strings.Join(asns, ",")+"}")
		}
	}

	attrs.ASPath = strings.Join(segments, " ")
}

func parseNextHop(data []byte, attrs *PathAttributes) {
	if len(data) == 4 {
		attrs.Nexthop = net.IP(data).String()
	}
}

func parseMED(data []byte, attrs *PathAttributes) {
	if len(data) == 4 {
		v := binary.BigEndian.Uint32(data)
		attrs.MED = &v
	}
}

func parseLocalPref(data []byte, attrs *PathAttributes) {
	if len(data) == 4 {
		v := binary.BigEndian.Uint32(data)
		attrs.LocalPref = &v
	}
}

func parseCommunity(data []byte, attrs *PathAttributes) {
	for i := 0; i+4 <= len(data); i += 4 {
		hi := binary.BigEndian.Uint16(data[i : i+2])
		lo := binary.BigEndian.Uint16(data[i+2 : i+4])
		attrs.CommStd = append(attrs.CommStd, fmt.Sprintf("%d:%d", hi, lo))
	}
}

func parseExtCommunity(data []byte, attrs *PathAttributes) {
	for i := 0; i+8 <= len(data); i += 8 {
		attrs.CommExt = append(attrs.CommExt, decodeExtCommunity(data[i : i+8]))
	}
}

// decodeExtCommunity renders one 8-byte extended community (RFC 4360).
// Route Target (subtype 0x02) and Route Origin (subtype 0x03) are
// recognized for the 2-octet-AS, IPv4-address, and 4-octet-AS transitive
// types; anything else falls back to a hex dump rather than being dropped.
func decodeExtCommunity(data []byte) string {
	typeHigh := data[0]
	typeLow := data[1]
	typeHighBase := typeHigh & 0x3F // mask the transitive bit for matching

	switch typeHighBase {
	case 0x00: // 2-octet AS specific
		asn := binary.BigEndian.Uint16(data[2:4])
		val := binary.BigEndian.Uint32(data[4:8])
		switch typeLow {
		case 0x02:
			return fmt.Sprintf("RT:%d:%d", asn, val)
		case 0x03:
			return fmt.Sprintf("SOO:%d:%d", asn, val)
		}
	case 0x01: // IPv4 address specific
		ip := net.IP(data[2:6]).String()
		val := binary.BigEndian.Uint16(data[6:8])
		switch typeLow {
		case 0x02:
			return fmt.Sprintf("RT:%s:%d", ip, val)
		case 0x03:
			return fmt.Sprintf("SOO:%s:%d", ip, val)
		}
	case 0x02: // 4-octet AS specific
		asn := binary.BigEndian.Uint32(data[2:6])
		val := binary.BigEndian.Uint16(data[6:8])
		switch typeLow {
		case 0x02:
			return fmt.Sprintf("RT:%d:%d", asn, val)
		case 0x03:
			return fmt.Sprintf("SOO:%d:%d", asn, val)
		}
	}

	return hex.EncodeToString(data)
}

func parseLargeCommunity(data []byte, attrs *PathAttributes) {
	for i := 0; i+12 <= len(data); i += 12 {
		global := binary.BigEndian.Uint32(data[i : i+4])
		data1 := binary.BigEndian.Uint32(data[i+4 : i+8])
		data2 := binary.BigEndian.Uint32(data[i+8 : i+12])
		attrs.CommLarge = append(attrs.CommLarge, fmt.Sprintf("%d:%d:%d", global, data1, data2))
	}
}

// parseMPReachNLRI decodes MP_REACH_NLRI (RFC 4760 §3): AFI/SAFI, a
// variable-width next hop (4, 16, or 32 bytes — 32 covers a global plus
// link-local IPv6 pair, of which only the global address is kept), a
// reserved SNPA list that must still be skipped over correctly to reach
// the NLRI, and finally the prefix list itself.
func parseMPReachNLRI(data []byte, attrs *PathAttributes, hasAddPath bool) {
	if len(data) < 5 {
		return
	}

	afi := binary.BigEndian.Uint16(data[0:2])
	safi := data[2]
	if safi != SAFIUnicast {
		return // non-unicast SAFIs are out of scope; skip silently
	}
	nhLen := int(data[3])

	attrs.MPReachAFI = afi
	offset := 4

	if offset+nhLen > len(data) {
		return
	}

	nhData := data[offset : offset+nhLen]
	switch nhLen {
	case 4, 16:
		attrs.MPReachNexthop = net.IP(nhData).String()
	case 32:
		attrs.MPReachNexthop = net.IP(nhData[:16]).String()
	}
	// Any other length is left with an empty next hop rather than treated
	// as malformed — one bad optional field shouldn't kill the attribute.
	if attrs.Nexthop == "" {
		attrs.Nexthop = attrs.MPReachNexthop
	}
	offset += nhLen

	if offset >= len(data) {
		return
	}
	snpaCount := int(data[offset])
	offset++
	for i := 0; i < snpaCount; i++ {
		if offset >= len(data) {
			return
		}
		snpaLen := int(data[offset])
		offset++
		snpaByteLen := (snpaLen + 1) / 2 // SNPA length is in semi-octets
		if offset+snpaByteLen > len(data) {
			return
		}
		offset += snpaByteLen
	}

	if v := afiToVersion(afi); v != 0 {
		attrs.MPReachNLRI, _ = parsePrefixes(data[offset:], v, hasAddPath)
	}
}

func parseMPUnreachNLRI(data []byte, attrs *PathAttributes, hasAddPath bool) {
	if len(data) < 3 {
		return
	}

	afi := binary.BigEndian.Uint16(data[0:2])
	safi := data[2]
	if safi != SAFIUnicast {
		return
	}

	attrs.MPUnreachAFI = afi
	attrs.MPUnreachNLRI, _ = parsePrefixes(data[3:], afiToVersion(afi), hasAddPath)
}

// parsePrefixes reads a run of length-prefixed NLRI entries (RFC 4271 §4.3,
// widened for Add-Path per RFC 7911 §3 when hasAddPath is set). Shared by
// the IPv4-unicast withdrawn/NLRI fields in update.go and by the
// MP_REACH/MP_UNREACH walkers above, since both encode prefixes the same
// way once the path-id prefix is accounted for.
func parsePrefixes(data []byte, ipVersion int, hasAddPath bool) ([]PrefixInfo, error) {
	var prefixes []PrefixInfo
	offset := 0

	for offset < len(data) {
		var pathID int64
		if hasAddPath {
			if offset+4 > len(data) {
				return prefixes, fmt.Errorf("bgp: prefix data truncated at offset %d", offset)
			}
			pathID = int64(binary.BigEndian.Uint32(data[offset : offset+4]))
			offset += 4
		}

		if offset >= len(data) {
			return prefixes, fmt.Errorf("bgp: prefix data truncated at offset %d", offset)
		}

		prefixLen := int(data[offset])
		offset++

		maxBits := maxIPLen(ipVersion) * 8
		if prefixLen > maxBits {
			return prefixes, fmt.Errorf("bgp: prefix data truncated at offset %d", offset)
		}

		byteLen := (prefixLen + 7) / 8
		if offset+byteLen > len(data) {
			return prefixes, fmt.Errorf("bgp: prefix data truncated at offset %d", offset)
		}

		prefixBytes := make([]byte, maxIPLen(ipVersion))
		copy(prefixBytes, data[offset:offset+byteLen])
		offset += byteLen

		var ip net.IP
		if ipVersion == 4 {
			ip = net.IP(prefixBytes[:4])
		} else {
			ip = net.IP(prefixBytes[:16])
		}

		prefixes = append(prefixes, PrefixInfo{
			Prefix: fmt.Sprintf("%s/%d", ip.String(), prefixLen),
			PathID: pathID,
		})
	}

	return prefixes, nil
}

func afiToVersion(afi uint16) int {
	switch afi {
	case AFIIPv4:
		return 4
	case AFIIPv6:
		return 6
	default:
		return 0
	}
}

func maxIPLen(version int) int {
	if version == 4 {
		return 4
	}
	return 16
}

// OriginASN extracts the origin AS (the last hop) from a rendered AS_PATH
// string. Returns nil for an empty path or one ending in an AS_SET
// (e.g. "{64497,64498}"), since the origin is ambiguous in that case.
func OriginASN(asPath string) *int {
	asPath = strings.TrimSpace(asPath)
	if asPath == "" {
		return nil
	}

	fields := strings.Fields(asPath)
	last := fields[len(fields)-1]

	if strings.HasPrefix(last, "{") {
		return nil
	}

	var asn int
	if _, err := fmt.Sscanf(last, "%d", &asn); err != nil {
		return nil
	}
	return &asn
}
