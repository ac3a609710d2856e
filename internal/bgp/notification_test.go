package bgp

import (
	"encoding/binary"
	"strings"
	"testing"
)

func buildBGPNotification(code, subcode uint8, data []byte) []byte {
	bodyLen := 2 + len(data)
	totalLen := BGPHeaderSize + bodyLen

	msg := make([]byte, totalLen)
	for i := 0; i < 16; i++ {
		msg[i] = 0xFF
	}
	binary.BigEndian.PutUint16(msg[16:18], uint16(totalLen))
	msg[18] = BGPMsgTypeNotification

	msg[19] = code
	msg[20] = subcode
	copy(msg[21:], data)

	return msg
}

func TestDecodeNotification_HoldTimerExpired(t *testing.T) {
	msg := buildBGPNotification(4, 0, nil)

	n, err := DecodeNotification(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.ErrorCode != 4 {
		t.Errorf("expected code 4, got %d", n.ErrorCode)
	}
	if !strings.Contains(n.Text(), "Hold Timer Expired") {
		t.Errorf("expected text to mention Hold Timer Expired, got %q", n.Text())
	}
}

func TestDecodeNotification_CeaseAdminShutdown(t *testing.T) {
	msg := buildBGPNotification(6, 2, nil)

	n, err := DecodeNotification(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(n.Text(), "Administrative Shutdown") {
		t.Errorf("expected text to mention Administrative Shutdown, got %q", n.Text())
	}
}

func TestDecodeNotification_UnknownSubcode(t *testing.T) {
	msg := buildBGPNotification(6, 99, nil)

	n, err := DecodeNotification(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(n.Text(), "99") {
		t.Errorf("expected text to fall back to numeric subcode, got %q", n.Text())
	}
}

func TestDecodeNotification_TooShort(t *testing.T) {
	msg := make([]byte, BGPHeaderSize+1)
	msg[18] = BGPMsgTypeNotification

	_, err := DecodeNotification(msg)
	if err == nil {
		t.Fatal("expected error for truncated notification body")
	}
}

func TestDecodeNotification_WrongMessageType(t *testing.T) {
	msg := buildBGPNotification(6, 2, nil)
	msg[18] = BGPMsgTypeOpen

	_, err := DecodeNotification(msg)
	if err == nil {
		t.Fatal("expected error for wrong message type")
	}
}
