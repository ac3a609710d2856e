package bgp

import (
	"encoding/binary"
	"testing"
)

// buildUpdate assembles a full BGP UPDATE message (19-byte header included)
// from its three variable-length sections.
func buildUpdate(withdrawn, pathAttrs, nlri []byte) []byte {
	bodyLen := 2 + len(withdrawn) + 2 + len(pathAttrs) + len(nlri)
	total := BGPHeaderSize + bodyLen

	msg := make([]byte, total)
	for i := 0; i < 16; i++ {
		msg[i] = 0xFF
	}
	binary.BigEndian.PutUint16(msg[16:18], uint16(total))
	msg[18] = BGPMsgTypeUpdate

	offset := 19
	binary.BigEndian.PutUint16(msg[offset:offset+2], uint16(len(withdrawn)))
	offset += 2
	copy(msg[offset:], withdrawn)
	offset += len(withdrawn)

	binary.BigEndian.PutUint16(msg[offset:offset+2], uint16(len(pathAttrs)))
	offset += 2
	copy(msg[offset:], pathAttrs)
	offset += len(pathAttrs)

	copy(msg[offset:], nlri)
	return msg
}

// attr encodes one path attribute TLV, switching to the 2-byte extended
// length form automatically when data won't fit in a single byte.
func attr(flags, typeCode byte, data []byte) []byte {
	if len(data) > 255 {
		out := make([]byte, 4+len(data))
		out[0] = flags | 0x10
		out[1] = typeCode
		binary.BigEndian.PutUint16(out[2:4], uint16(len(data)))
		copy(out[4:], data)
		return out
	}
	out := make([]byte, 3+len(data))
	out[0] = flags
	out[1] = typeCode
	out[2] = byte(len(data))
	copy(out[3:], data)
	return out
}

// igpOriginAndNexthop returns the ORIGIN=IGP / NEXT_HOP=192.168.1.1
// attribute pair every announcement test below needs and doesn't care
// about beyond satisfying ParseUpdate's per-NLRI attribute copy.
func igpOriginAndNexthop() []byte {
	origin := attr(0x40, AttrTypeOrigin, []byte{0})
	nexthop := attr(0x40, AttrTypeNextHop, []byte{192, 168, 1, 1})
	return append(origin, nexthop...)
}

func TestParseUpdate_IPv4Announcement(t *testing.T) {
	nlri := []byte{24, 10, 0, 0} // 10.0.0.0/24
	msg := buildUpdate(nil, igpOriginAndNexthop(), nlri)

	events, err := ParseUpdate(msg, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	ev := events[0]
	if ev.Action != "A" {
		t.Errorf("expected action 'A', got %q", ev.Action)
	}
	if ev.AFI != 4 {
		t.Errorf("expected AFI 4, got %d", ev.AFI)
	}
	if ev.Prefix != "10.0.0.0/24" {
		t.Errorf("expected prefix '10.0.0.0/24', got %q", ev.Prefix)
	}
	if ev.Origin != "IGP" {
		t.Errorf("expected origin 'IGP', got %q", ev.Origin)
	}
	if ev.Nexthop != "192.168.1.1" {
		t.Errorf("expected nexthop '192.168.1.1', got %q", ev.Nexthop)
	}
}

func TestParseUpdate_IPv4Withdrawal(t *testing.T) {
	withdrawn := []byte{16, 172, 16} // 172.16.0.0/16
	msg := buildUpdate(withdrawn, nil, nil)

	events, err := ParseUpdate(msg, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	ev := events[0]
	if ev.Action != "D" {
		t.Errorf("expected action 'D', got %q", ev.Action)
	}
	if ev.Prefix != "172.16.0.0/16" {
		t.Errorf("expected prefix '172.16.0.0/16', got %q", ev.Prefix)
	}
}

func TestParseUpdate_ASPathSequence(t *testing.T) {
	asPathData := []byte{
		ASPathSegmentSequence, 3,
		0, 0, 0xFB, 0xF0, // AS64496
		0, 0, 0xFB, 0xF1, // AS64497
		0, 0, 0xFB, 0xF2, // AS64498
	}
	pathAttrs := append(igpOriginAndNexthop(), attr(0x40, AttrTypeASPath, asPathData)...)
	nlri := []byte{24, 10, 0, 0}
	msg := buildUpdate(nil, pathAttrs, nlri)

	events, err := ParseUpdate(msg, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].ASPath != "64496 64497 64498" {
		t.Errorf("expected AS_PATH '64496 64497 64498', got %q", events[0].ASPath)
	}
}

func TestParseUpdate_ASPathSetIsBraced(t *testing.T) {
	asPathData := []byte{
		ASPathSegmentSet, 2,
		0, 0, 0xFB, 0xF0, // AS64496
		0, 0, 0xFB, 0xF1, // AS64497
	}
	pathAttrs := append(igpOriginAndNexthop(), attr(0x40, AttrTypeASPath, asPathData)...)
	nlri := []byte{24, 10, 0, 0}
	msg := buildUpdate(nil, pathAttrs, nlri)

	events, err := ParseUpdate(msg, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if events[0].ASPath != "{64496,64497}" {
		t.Errorf("expected AS_PATH '{64496,64497}', got %q", events[0].ASPath)
	}
	if got := OriginASN(events[0].ASPath); got != nil {
		t.Errorf("expected nil origin ASN for a trailing AS_SET, got %v", *got)
	}
}

func TestParseUpdate_StandardCommunities(t *testing.T) {
	commData := []byte{
		0xFB, 0xF0, 0x00, 0x64, // 64496:100
		0xFB, 0xF0, 0x00, 0xC8, // 64496:200
	}
	pathAttrs := append(igpOriginAndNexthop(), attr(0xC0, AttrTypeCommunity, commData)...)
	nlri := []byte{24, 10, 0, 0}
	msg := buildUpdate(nil, pathAttrs, nlri)

	events, err := ParseUpdate(msg, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ev := events[0]
	if len(ev.CommStd) != 2 {
		t.Fatalf("expected 2 communities, got %d", len(ev.CommStd))
	}
	if ev.CommStd[0] != "64496:100" || ev.CommStd[1] != "64496:200" {
		t.Errorf("expected ['64496:100', '64496:200'], got %v", ev.CommStd)
	}
}

func TestParseUpdate_ExtendedCommunityRouteTarget(t *testing.T) {
	// 2-octet AS specific, subtype Route Target: RT:64496:5000
	ecData := []byte{0x00, 0x02, 0xFB, 0xF0, 0x00, 0x00, 0x13, 0x88}
	pathAttrs := append(igpOriginAndNexthop(), attr(0xC0, AttrTypeExtCommunity, ecData)...)
	nlri := []byte{24, 10, 0, 0}
	msg := buildUpdate(nil, pathAttrs, nlri)

	events, err := ParseUpdate(msg, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events[0].CommExt) != 1 || events[0].CommExt[0] != "RT:64496:5000" {
		t.Errorf("expected ['RT:64496:5000'], got %v", events[0].CommExt)
	}
}

func TestParseUpdate_LargeCommunities(t *testing.T) {
	lcData := make([]byte, 12)
	binary.BigEndian.PutUint32(lcData[0:4], 64496)
	binary.BigEndian.PutUint32(lcData[4:8], 1)
	binary.BigEndian.PutUint32(lcData[8:12], 2)
	pathAttrs := append(igpOriginAndNexthop(), attr(0xC0, AttrTypeLargeCommunity, lcData)...)
	nlri := []byte{24, 10, 0, 0}
	msg := buildUpdate(nil, pathAttrs, nlri)

	events, err := ParseUpdate(msg, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events[0].CommLarge) != 1 || events[0].CommLarge[0] != "64496:1:2" {
		t.Errorf("expected ['64496:1:2'], got %v", events[0].CommLarge)
	}
}

func TestParseUpdate_AddPathCarriesPathID(t *testing.T) {
	nlri := []byte{
		0, 0, 0, 42, // path_id=42
		24, 10, 0, 0, // 10.0.0.0/24
	}
	msg := buildUpdate(nil, igpOriginAndNexthop(), nlri)

	events, err := ParseUpdate(msg, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].PathID != 42 {
		t.Errorf("expected PathID=42, got %d", events[0].PathID)
	}
}

func TestParseUpdate_IPv6MPReach(t *testing.T) {
	nh := []byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	mpReach := make([]byte, 0, 4+16+1+5)
	mpReach = append(mpReach, 0, 2) // AFI=2 (IPv6)
	mpReach = append(mpReach, 1)    // SAFI=1 (unicast)
	mpReach = append(mpReach, 16)   // next-hop length
	mpReach = append(mpReach, nh...)
	mpReach = append(mpReach, 0)                      // SNPA count
	mpReach = append(mpReach, 32)                     // prefix length /32
	mpReach = append(mpReach, 0x20, 0x01, 0x0d, 0xb8) // 4 bytes of the prefix

	pathAttrs := append(attr(0x40, AttrTypeOrigin, []byte{0}), attr(0x80, AttrTypeMPReachNLRI, mpReach)...)
	msg := buildUpdate(nil, pathAttrs, nil)

	events, err := ParseUpdate(msg, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	ev := events[0]
	if ev.Action != "A" {
		t.Errorf("expected action 'A', got %q", ev.Action)
	}
	if ev.AFI != 6 {
		t.Errorf("expected AFI 6, got %d", ev.AFI)
	}
	if ev.Prefix != "2001:db8::/32" {
		t.Errorf("expected prefix '2001:db8::/32', got %q", ev.Prefix)
	}
	if ev.Nexthop != "2001:db8::1" {
		t.Errorf("expected nexthop '2001:db8::1', got %q", ev.Nexthop)
	}
}

func TestParseUpdate_IPv6MPUnreach(t *testing.T) {
	mpUnreach := []byte{
		0, 2, // AFI=2
		1,  // SAFI=1
		48, // prefix length
		0x20, 0x01, 0x0d, 0xb8, 0x00, 0x01, // 6 bytes of the prefix
	}
	msg := buildUpdate(nil, attr(0x80, AttrTypeMPUnreachNLRI, mpUnreach), nil)

	events, err := ParseUpdate(msg, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	ev := events[0]
	if ev.Action != "D" {
		t.Errorf("expected action 'D', got %q", ev.Action)
	}
	if ev.AFI != 6 {
		t.Errorf("expected AFI 6, got %d", ev.AFI)
	}
	if ev.Prefix != "2001:db8:1::/48" {
		t.Errorf("expected prefix '2001:db8:1::/48', got %q", ev.Prefix)
	}
}

func TestParseUpdate_MEDAndLocalPref(t *testing.T) {
	medData := make([]byte, 4)
	binary.BigEndian.PutUint32(medData, 100)
	lpData := make([]byte, 4)
	binary.BigEndian.PutUint32(lpData, 200)

	pathAttrs := igpOriginAndNexthop()
	pathAttrs = append(pathAttrs, attr(0x80, AttrTypeMED, medData)...)
	pathAttrs = append(pathAttrs, attr(0x40, AttrTypeLocalPref, lpData)...)
	nlri := []byte{24, 10, 0, 0}
	msg := buildUpdate(nil, pathAttrs, nlri)

	events, err := ParseUpdate(msg, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ev := events[0]
	if ev.MED == nil || *ev.MED != 100 {
		t.Errorf("expected MED=100, got %v", ev.MED)
	}
	if ev.LocalPref == nil || *ev.LocalPref != 200 {
		t.Errorf("expected LocalPref=200, got %v", ev.LocalPref)
	}
}

func TestParseUpdate_UnknownAttributePreservedAsHex(t *testing.T) {
	pathAttrs := igpOriginAndNexthop()
	pathAttrs = append(pathAttrs, attr(0xC0, 99, []byte{0xDE, 0xAD})...)
	nlri := []byte{24, 10, 0, 0}
	msg := buildUpdate(nil, pathAttrs, nlri)

	events, err := ParseUpdate(msg, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if events[0].Attrs["99"] != "dead" {
		t.Errorf("expected attrs[99]='dead', got %q", events[0].Attrs["99"])
	}
}

func TestParseUpdate_ExtendedLengthAttribute(t *testing.T) {
	// A community list long enough (>255 bytes) to force the extended
	// length encoding path in ParsePathAttributes.
	commData := make([]byte, 256)
	for i := 0; i+4 <= len(commData); i += 4 {
		binary.BigEndian.PutUint16(commData[i:i+2], 64496)
		binary.BigEndian.PutUint16(commData[i+2:i+4], uint16(i/4))
	}
	pathAttrs := append(igpOriginAndNexthop(), attr(0xC0, AttrTypeCommunity, commData)...)
	nlri := []byte{24, 10, 0, 0}
	msg := buildUpdate(nil, pathAttrs, nlri)

	events, err := ParseUpdate(msg, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events[0].CommStd) != len(commData)/4 {
		t.Errorf("expected %d communities, got %d", len(commData)/4, len(events[0].CommStd))
	}
}

func TestParseUpdate_TruncatedAttrHeader(t *testing.T) {
	pathAttrs := []byte{0x40} // flags only, missing the type byte
	nlri := []byte{24, 10, 0, 0}
	msg := buildUpdate(nil, pathAttrs, nlri)

	if _, err := ParseUpdate(msg, false); err == nil {
		t.Fatal("expected error for truncated attr header")
	}
}

func TestParseUpdate_TruncatedExtendedLength(t *testing.T) {
	pathAttrs := []byte{0x50, AttrTypeOrigin} // extended-length flag set, length bytes missing
	nlri := []byte{24, 10, 0, 0}
	msg := buildUpdate(nil, pathAttrs, nlri)

	if _, err := ParseUpdate(msg, false); err == nil {
		t.Fatal("expected error for truncated extended attr length")
	}
}

func TestParseUpdate_AttrDataTruncated(t *testing.T) {
	pathAttrs := []byte{0x40, AttrTypeOrigin, 4, 0x00, 0x00} // claims length 4, has 2
	nlri := []byte{24, 10, 0, 0}
	msg := buildUpdate(nil, pathAttrs, nlri)

	if _, err := ParseUpdate(msg, false); err == nil {
		t.Fatal("expected error for truncated attr data")
	}
}

func TestParseUpdate_UnsupportedAFISkipsMPReach(t *testing.T) {
	mpReach := []byte{
		0, 3, // AFI=3 (unsupported)
		1,              // SAFI=1
		4,              // next-hop length
		192, 168, 1, 1, // next hop
		0,            // SNPA count
		24, 10, 0, 0, // prefix /24
	}
	pathAttrs := append([]byte{}, attr(0x40, AttrTypeOrigin, []byte{0})...)
	pathAttrs = append(pathAttrs, attr(0x80, AttrTypeMPReachNLRI, mpReach)...)
	msg := buildUpdate(nil, pathAttrs, nil)

	events, err := ParseUpdate(msg, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected 0 events for an unsupported AFI, got %d", len(events))
	}
}

func TestParseUpdate_UnsupportedAFISkipsMPUnreach(t *testing.T) {
	mpUnreach := []byte{
		0, 3, // AFI=3 (unsupported)
		1,            // SAFI=1
		24, 10, 0, 0, // prefix /24
	}
	msg := buildUpdate(nil, attr(0x80, AttrTypeMPUnreachNLRI, mpUnreach), nil)

	events, err := ParseUpdate(msg, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected 0 events for an unsupported AFI, got %d", len(events))
	}
}

func TestParseUpdate_MPReachSkipsNonEmptySNPA(t *testing.T) {
	nh := []byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	mpReach := make([]byte, 0, 64)
	mpReach = append(mpReach, 0, 2) // AFI=2 (IPv6)
	mpReach = append(mpReach, 1)    // SAFI=1
	mpReach = append(mpReach, 16)   // next-hop length
	mpReach = append(mpReach, nh...)
	mpReach = append(mpReach, 1)          // SNPA count = 1
	mpReach = append(mpReach, 4)          // SNPA length in semi-octets (2 bytes)
	mpReach = append(mpReach, 0xAB, 0xCD) // SNPA payload
	mpReach = append(mpReach, 32)         // prefix length /32
	mpReach = append(mpReach, 0x20, 0x01, 0x0d, 0xb8)

	pathAttrs := append([]byte{}, attr(0x40, AttrTypeOrigin, []byte{0})...)
	pathAttrs = append(pathAttrs, attr(0x80, AttrTypeMPReachNLRI, mpReach)...)
	msg := buildUpdate(nil, pathAttrs, nil)

	events, err := ParseUpdate(msg, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	ev := events[0]
	if ev.Prefix != "2001:db8::/32" {
		t.Errorf("expected prefix '2001:db8::/32', got %q", ev.Prefix)
	}
	if ev.Nexthop != "2001:db8::1" {
		t.Errorf("expected nexthop '2001:db8::1', got %q", ev.Nexthop)
	}
}
