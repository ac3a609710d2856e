// debug-raw dumps decoded BMP messages from the raw topic a running
// collector instance produces to, for local inspection.
package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/route-beacon/bmp-collector/internal/bgp"
	"github.com/route-beacon/bmp-collector/internal/bmp"
)

func main() {
	broker := "localhost:9092"
	topic := "bmp.raw"
	if len(os.Args) > 1 {
		broker = os.Args[1]
	}
	if len(os.Args) > 2 {
		topic = os.Args[2]
	}

	cl, err := kgo.NewClient(
		kgo.SeedBrokers(broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.ConsumerGroup(fmt.Sprintf("debug-raw-%d", time.Now().UnixNano())),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kafka client: %v\n", err)
		os.Exit(1)
	}
	defer cl.Close()

	zstdDecoder, err := zstd.NewReader(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "zstd reader: %v\n", err)
		os.Exit(1)
	}
	defer zstdDecoder.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msgNum := 0
	for {
		fetches := cl.PollRecords(ctx, 100)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			break
		}

		fetches.EachRecord(func(rec *kgo.Record) {
			msgNum++
			fmt.Printf("=== Kafka msg %d (key=%x, partition=%d offset=%d, %d bytes) ===\n",
				msgNum, rec.Key, rec.Partition, rec.Offset, len(rec.Value))
			analyzeFrame(rec.Value, zstdDecoder)
			fmt.Println()
		})

		if msgNum > 0 && len(fetches.Records()) == 0 {
			break
		}
	}

	fmt.Printf("Total Kafka messages: %d\n", msgNum)
}

// analyzeFrame decodes one BMP frame. Frames may be zstd-compressed
// depending on the producing collector's kafka.store_raw_bytes_compress
// setting, so a plain decode is tried first.
func analyzeFrame(data []byte, zstdDecoder *zstd.Decoder) {
	frame := data
	header, body, err := bmp.ReadMessage(bytes.NewReader(frame))
	if err != nil {
		if decompressed, derr := zstdDecoder.DecodeAll(data, nil); derr == nil {
			frame = decompressed
			header, body, err = bmp.ReadMessage(bytes.NewReader(frame))
		}
	}
	if err != nil {
		fmt.Printf("  decode error: %v\n", err)
		return
	}

	fmt.Printf("  MsgType: %d (%s), body: %d bytes\n", header.MsgType, bmpMsgName(header.MsgType), len(body))

	if !bmp.HasPerPeerHeader(header.MsgType) {
		return
	}
	peer, err := bmp.DecodePerPeerHeader(body)
	if err != nil {
		fmt.Printf("  per-peer header decode error: %v\n", err)
		return
	}
	fmt.Printf("  Peer: %s (AS %d), IPv6=%v\n", peer.PeerAddrString(), peer.PeerAS, peer.PeerFlags&bmp.PeerFlagV != 0)

	if header.MsgType != bmp.MsgTypeRouteMonitoring {
		return
	}
	events, err := bgp.ParseUpdate(body[bmp.PerPeerHeaderSize:], false)
	if err != nil {
		fmt.Printf("  ParseUpdate error: %v\n", err)
		return
	}
	if len(events) == 0 {
		fmt.Printf("  EOR (AFI=%d)\n", bgp.DetectEORAFI(body[bmp.PerPeerHeaderSize:]))
		return
	}
	fmt.Printf("  Routes: %d\n", len(events))
	for j, ev := range events {
		if j < 5 || j == len(events)-1 {
			fmt.Printf("    [%d] AFI=%d %s %s nexthop=%s as=%s pathID=%d\n",
				j, ev.AFI, ev.Action, ev.Prefix, ev.Nexthop, ev.ASPath, ev.PathID)
		} else if j == 5 {
			fmt.Printf("    ... (%d more) ...\n", len(events)-6)
		}
	}
}

func bmpMsgName(t uint8) string {
	switch t {
	case bmp.MsgTypeRouteMonitoring:
		return "RouteMonitoring"
	case bmp.MsgTypeStatisticsReport:
		return "StatisticsReport"
	case bmp.MsgTypePeerDown:
		return "PeerDown"
	case bmp.MsgTypePeerUp:
		return "PeerUp"
	case bmp.MsgTypeInitiation:
		return "Initiation"
	case bmp.MsgTypeTermination:
		return "Termination"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}
