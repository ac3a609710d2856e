package listener

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/route-beacon/bmp-collector/internal/bmp"
	"github.com/route-beacon/bmp-collector/internal/bus"
)

type fakeBus struct {
	routers chan bus.Router
	raw     chan []byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		routers: make(chan bus.Router, 16),
		raw:     make(chan []byte, 16),
	}
}

func (f *fakeBus) UpdateRouter(_ context.Context, r bus.Router) error {
	f.routers <- r
	return nil
}
func (f *fakeBus) UpdateRouterTemplated(_ context.Context, _ string, r bus.Router) error {
	f.routers <- r
	return nil
}
func (f *fakeBus) UpdatePeer(_ context.Context, _ bus.Peer) error          { return nil }
func (f *fakeBus) AddStatReport(_ context.Context, _ bus.StatReport) error { return nil }
func (f *fakeBus) AddRoute(_ context.Context, _ bus.Route) error           { return nil }
func (f *fakeBus) SendBMPRaw(_ context.Context, _ [16]byte, _ *[16]byte, raw []byte) error {
	f.raw <- raw
	return nil
}

func buildFrame(msgType uint8, body []byte) []byte {
	total := bmp.CommonHeaderSize + len(body)
	msg := make([]byte, total)
	msg[0] = bmp.BMPVersion
	binary.BigEndian.PutUint32(msg[1:5], uint32(total))
	msg[5] = msgType
	copy(msg[6:], body)
	return msg
}

func TestRouterHashForIP_Deterministic(t *testing.T) {
	a := routerHashForIP("192.0.2.1")
	b := routerHashForIP("192.0.2.1")
	c := routerHashForIP("192.0.2.2")
	if a != b {
		t.Error("expected identical IPs to hash identically")
	}
	if a == c {
		t.Error("expected different IPs to hash differently")
	}
}

func TestServe_AcceptsAndRunsSession(t *testing.T) {
	fb := newFakeBus()
	l, err := New("127.0.0.1:0", fb, nil, false, false, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error binding listener: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		l.Serve(ctx)
		close(done)
	}()

	conn, err := net.Dial("tcp", l.ln.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.Write(buildFrame(bmp.MsgTypeInitiation, nil))
	conn.Write(buildFrame(bmp.MsgTypeTermination, nil))

	select {
	case r := <-fb.routers:
		if r.Action != bus.RouterInit {
			t.Errorf("expected first record to be RouterInit, got %v", r.Action)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for init record")
	}

	select {
	case r := <-fb.routers:
		if r.Action != bus.RouterTerm {
			t.Errorf("expected second record to be RouterTerm, got %v", r.Action)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for term record")
	}

	cancel()
	<-done
}
