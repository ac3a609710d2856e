// Package session implements the per-connection loop: it repeatedly frames
// BMP messages off a reader and hands each to the event dispatcher, until
// the peer disconnects, a Termination message arrives, or a fatal error
// forces a synthetic termination.
package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/route-beacon/bmp-collector/internal/bmp"
	"github.com/route-beacon/bmp-collector/internal/bus"
	"github.com/route-beacon/bmp-collector/internal/dispatch"
	"github.com/route-beacon/bmp-collector/internal/metrics"
	"github.com/route-beacon/bmp-collector/internal/template"
)

// Context holds everything a connection's lifetime needs that isn't
// specific to any one message.
type Context struct {
	RouterHash [16]byte
	RouterIP   string
	Source     io.Reader

	DebugBMP bool
	DebugBGP bool
}

// Run drives one connection's message loop until it ends. It returns nil
// on a clean shutdown (Termination received, or stop signaled between
// messages) and a non-nil error only if the caller should treat the
// connection as having failed outright after the synthetic termination
// record has already been emitted.
func Run(ctx context.Context, cc Context, b bus.Bus, templates template.Map, stop <-chan struct{}, logger *zap.Logger) error {
	d := dispatch.New(cc.RouterHash, cc.RouterIP, b, templates, logger)
	d.DebugBMP = cc.DebugBMP
	d.DebugBGP = cc.DebugBGP

	for {
		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		header, body, err := bmp.ReadMessage(cc.Source)
		if err != nil {
			if errors.Is(err, io.EOF) {
				metrics.ConnectionTerminationsTotal.WithLabelValues("eof").Inc()
				return emitSyntheticTerm(ctx, b, cc, errors.New("connection closed without a BMP termination message"))
			}
			cause := "truncated"
			var malformed *bmp.MalformedError
			if errors.As(err, &malformed) {
				cause = "malformed"
			}
			metrics.ConnectionTerminationsTotal.WithLabelValues(cause).Inc()
			return emitSyntheticTerm(ctx, b, cc, err)
		}

		raw := reconstructFrame(header, body)
		metrics.MessagesFramedTotal.WithLabelValues(fmt.Sprintf("%d", header.MsgType)).Inc()
		metrics.RawBytesSentTotal.WithLabelValues().Add(float64(len(raw)))

		start := time.Now()
		err = d.HandleMessage(ctx, header, body, raw)
		metrics.DispatchDuration.WithLabelValues(fmt.Sprintf("%d", header.MsgType)).Observe(time.Since(start).Seconds())

		if err == nil {
			continue
		}
		if _, ok := err.(dispatch.Stop); ok {
			metrics.ConnectionTerminationsTotal.WithLabelValues("term_msg").Inc()
			return nil
		}
		metrics.ConnectionTerminationsTotal.WithLabelValues("malformed").Inc()
		return emitSyntheticTerm(ctx, b, cc, err)
	}
}

// reconstructFrame rebuilds the exact wire bytes for a message that
// ReadMessage has already split into header and body, so the raw fan-out
// action can forward the untouched frame.
func reconstructFrame(header bmp.CommonHeader, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(header.Version)
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], header.MsgLength)
	buf.Write(lenBytes[:])
	buf.WriteByte(header.MsgType)
	buf.Write(body)
	return buf.Bytes()
}

// emitSyntheticTerm implements the fatal-error policy: any parse or I/O
// failure the dispatcher or framer surfaces becomes exactly one router
// TERM record with the synthetic reason code, then the connection ends.
func emitSyntheticTerm(ctx context.Context, b bus.Bus, cc Context, cause error) error {
	_ = b.UpdateRouter(ctx, bus.Router{
		RouterHash: cc.RouterHash,
		RouterIP:   cc.RouterIP,
		Action:     bus.RouterTerm,
		TermReason: bmp.TermReasonOpenBMPConnErr,
		TermText:   cause.Error(),
	})
	return cause
}
