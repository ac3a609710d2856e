package bgp

import "fmt"

// NotificationMessage holds the fields decoded from a BGP NOTIFICATION
// message (after the 19-byte BGP header).
type NotificationMessage struct {
	ErrorCode    uint8
	ErrorSubcode uint8
	Data         []byte
}

// DecodeNotification parses a BGP NOTIFICATION message (after the 19-byte
// BGP header).
func DecodeNotification(data []byte) (*NotificationMessage, error) {
	if len(data) < BGPHeaderSize {
		return nil, fmt.Errorf("bgp: notification too short (%d bytes)", len(data))
	}

	msgType := data[18]
	if msgType != BGPMsgTypeNotification {
		return nil, fmt.Errorf("bgp: expected NOTIFICATION (type %d), got type %d", BGPMsgTypeNotification, msgType)
	}

	body := data[BGPHeaderSize:]
	if len(body) < 2 {
		return nil, fmt.Errorf("bgp: notification body too short (%d bytes)", len(body))
	}

	n := &NotificationMessage{
		ErrorCode:    body[0],
		ErrorSubcode: body[1],
	}
	if len(body) > 2 {
		n.Data = body[2:]
	}
	return n, nil
}

// errorCodeNames maps NOTIFICATION error codes to their RFC 4271 §4.5 name.
var errorCodeNames = map[uint8]string{
	1: "Message Header Error",
	2: "OPEN Message Error",
	3: "UPDATE Message Error",
	4: "Hold Timer Expired",
	5: "Finite State Machine Error",
	6: "Cease",
}

// errorSubcodeNames maps (code, subcode) pairs to their RFC 4271 Appendix A
// / RFC 4486 name. Unlisted subcodes render as a bare number.
var errorSubcodeNames = map[uint8]map[uint8]string{
	1: {
		1: "Connection Not Synchronized",
		2: "Bad Message Length",
		3: "Bad Message Type",
	},
	2: {
		1: "Unsupported Version Number",
		2: "Bad Peer AS",
		3: "Bad BGP Identifier",
		4: "Unsupported Optional Parameter",
		5: "Authentication Failure",
		6: "Unacceptable Hold Time",
		7: "Unsupported Capability",
	},
	3: {
		1:  "Malformed Attribute List",
		2:  "Unrecognized Well-known Attribute",
		3:  "Missing Well-known Attribute",
		4:  "Attribute Flags Error",
		5:  "Attribute Length Error",
		6:  "Invalid ORIGIN Attribute",
		8:  "Invalid NEXT_HOP Attribute",
		9:  "Optional Attribute Error",
		10: "Invalid Network Field",
		11: "Malformed AS_PATH",
	},
	6: {
		1: "Maximum Number of Prefixes Reached",
		2: "Administrative Shutdown",
		3: "Peer De-configured",
		4: "Administrative Reset",
		5: "Connection Rejected",
		6: "Other Configuration Change",
		7: "Connection Collision Resolution",
		8: "Out of Resources",
	},
}

// Text renders the NOTIFICATION as a human-readable string suitable for
// appending to a PEER_DOWN error_text field.
func (n *NotificationMessage) Text() string {
	codeName, ok := errorCodeNames[n.ErrorCode]
	if !ok {
		codeName = fmt.Sprintf("Unknown(%d)", n.ErrorCode)
	}

	subName := fmt.Sprintf("%d", n.ErrorSubcode)
	if sub, ok := errorSubcodeNames[n.ErrorCode]; ok {
		if name, ok := sub[n.ErrorSubcode]; ok {
			subName = name
		}
	}

	return fmt.Sprintf("%s (code %d, subcode %d: %s)", codeName, n.ErrorCode, n.ErrorSubcode, subName)
}
