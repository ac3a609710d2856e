// Package dispatch implements the per-message event dispatcher: given one
// decoded BMP frame, it maintains router/peer identity, decodes BGP
// payloads where needed, and drives the bus with typed records followed by
// the frame's raw bytes.
package dispatch

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	"github.com/route-beacon/bmp-collector/internal/bgp"
	"github.com/route-beacon/bmp-collector/internal/bmp"
	"github.com/route-beacon/bmp-collector/internal/bus"
	"github.com/route-beacon/bmp-collector/internal/identity"
	"github.com/route-beacon/bmp-collector/internal/metrics"
	"github.com/route-beacon/bmp-collector/internal/registry"
	"github.com/route-beacon/bmp-collector/internal/template"
)

// Dispatcher holds the state a connection accumulates across messages: its
// router identity, its peer table, and the collaborators it forwards to.
type Dispatcher struct {
	RouterHash [16]byte
	RouterIP   string

	Bus       bus.Bus
	Registry  *registry.Registry
	Templates template.Map

	DebugBMP bool
	DebugBGP bool

	Logger *zap.Logger
}

// New builds a Dispatcher for one connection.
func New(routerHash [16]byte, routerIP string, b bus.Bus, tmpl template.Map, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		RouterHash: routerHash,
		RouterIP:   routerIP,
		Bus:        b,
		Registry:   registry.New(),
		Templates:  tmpl,
		Logger:     logger.Named("dispatch"),
	}
}

// Stop is returned by HandleMessage to tell the connection loop to close
// the connection cleanly after this message (a Termination message was
// received).
type Stop struct{}

func (Stop) Error() string { return "bmp: termination received" }

// HandleMessage processes one fully-framed BMP message. raw is the
// complete wire bytes of the message (common header plus body) and is
// forwarded to the bus unmodified after any typed records for it.
//
// A returned error other than Stop is fatal to the connection: the caller
// (the connection loop) is responsible for emitting the synthetic
// termination record and closing the socket.
func (d *Dispatcher) HandleMessage(ctx context.Context, header bmp.CommonHeader, body []byte, raw []byte) error {
	if header.MsgType != bmp.MsgTypeInitiation && header.MsgType != bmp.MsgTypeTermination {
		if err := d.Bus.UpdateRouter(ctx, bus.Router{
			RouterHash: d.RouterHash,
			RouterIP:   d.RouterIP,
			Action:     bus.RouterFirst,
		}); err != nil {
			return fmt.Errorf("dispatch: update router (first): %w", err)
		}
	}

	var peerKey registry.Key
	var peerInfo *registry.Info
	var peerHdr bmp.PerPeerHeader
	havePeer := false

	if bmp.HasPerPeerHeader(header.MsgType) {
		hdr, err := bmp.DecodePerPeerHeader(body)
		if err != nil {
			return fmt.Errorf("dispatch: decode per-peer header: %w", err)
		}
		peerHdr = hdr
		havePeer = true

		peerKey = registry.Key{
			PeerAddr: peerHdr.PeerAddrString(),
			PeerRD:   hex.EncodeToString(peerHdr.PeerDistinguisher[:]),
		}
		info, _ := d.Registry.GetOrCreate(peerKey)
		info.Hash = peerHashFor(peerHdr, d.RouterHash)
		peerInfo = info

		if header.MsgType != bmp.MsgTypePeerUp {
			if !info.FirstEmitted {
				if err := d.Bus.UpdatePeer(ctx, bus.Peer{
					PeerHash:   info.Hash,
					RouterHash: d.RouterHash,
					PeerAddr:   peerHdr.PeerAddrString(),
					PeerAS:     peerHdr.PeerAS,
					PeerBGPID:  peerHdr.PeerBGPIDString(),
					PeerRD:     peerKey.PeerRD,
					Action:     bus.PeerFirst,
				}); err != nil {
					metrics.BusProduceErrorsTotal.WithLabelValues("update_peer").Inc()
					return fmt.Errorf("dispatch: update peer (first): %w", err)
				}
				metrics.PeerRecordsTotal.WithLabelValues("first").Inc()
				info.FirstEmitted = true
			}
		}
	}

	bodyAfterPeer := body
	if havePeer {
		bodyAfterPeer = body[bmp.PerPeerHeaderSize:]
	}

	var stop bool

	switch header.MsgType {
	case bmp.MsgTypeInitiation:
		if err := d.handleInitiation(ctx, header.MsgLength, body); err != nil {
			return err
		}

	case bmp.MsgTypeTermination:
		if err := d.handleTermination(ctx, header.MsgLength, body); err != nil {
			return err
		}
		stop = true

	case bmp.MsgTypePeerUp:
		if err := d.handlePeerUp(ctx, peerHdr, peerKey, peerInfo, bodyAfterPeer); err != nil {
			return err
		}

	case bmp.MsgTypePeerDown:
		if err := d.handlePeerDown(ctx, peerHdr, peerKey, peerInfo, bodyAfterPeer); err != nil {
			return err
		}

	case bmp.MsgTypeRouteMonitoring:
		if err := d.handleRouteMonitoring(ctx, peerInfo, bodyAfterPeer); err != nil {
			return err
		}

	case bmp.MsgTypeStatisticsReport:
		if err := d.handleStatsReport(ctx, peerInfo, bodyAfterPeer); err != nil {
			return err
		}
	}

	var peerHashPtr *[16]byte
	if havePeer {
		h := peerInfo.Hash
		peerHashPtr = &h
	}
	if err := d.Bus.SendBMPRaw(ctx, d.RouterHash, peerHashPtr, raw); err != nil {
		return fmt.Errorf("dispatch: send raw: %w", err)
	}

	if stop {
		return Stop{}
	}
	return nil
}

func peerHashFor(hdr bmp.PerPeerHeader, routerHash [16]byte) [16]byte {
	rd := make([]byte, 8)
	copy(rd, hdr.PeerDistinguisher[:])
	return identity.PeerHash(hdr.PeerAddrBytes(), rd, routerHash)
}

func (d *Dispatcher) handleInitiation(ctx context.Context, msgLength uint32, body []byte) error {
	info := bmp.DecodeInitiation(body)

	d.Logger.Info("initiation received", zap.Uint32("msg_length", msgLength))
	if d.DebugBMP {
		d.Logger.Debug("initiation contents", zap.Int("body_len", len(body)),
			zap.String("sys_name", info.SysName), zap.String("sys_descr", info.SysDescr))
	}

	router := bus.Router{
		RouterHash: d.RouterHash,
		RouterIP:   d.RouterIP,
		Action:     bus.RouterInit,
		Name:       info.SysName,
		Descr:      info.SysDescr,
	}

	if err := d.Bus.UpdateRouter(ctx, router); err != nil {
		return fmt.Errorf("dispatch: update router (init): %w", err)
	}

	if topic, ok := d.Templates.Lookup("BMP_ROUTER"); ok {
		if err := d.Bus.UpdateRouterTemplated(ctx, topic, router); err != nil {
			return fmt.Errorf("dispatch: update router templated: %w", err)
		}
	}

	return nil
}

func (d *Dispatcher) handleTermination(ctx context.Context, msgLength uint32, body []byte) error {
	info := bmp.DecodeTermination(body)

	d.Logger.Info("termination received",
		zap.Uint32("msg_length", msgLength), zap.Int("reason_code", info.ReasonCode))

	return d.Bus.UpdateRouter(ctx, bus.Router{
		RouterHash: d.RouterHash,
		RouterIP:   d.RouterIP,
		Action:     bus.RouterTerm,
		TermReason: info.ReasonCode,
		TermText:   info.ReasonText,
	})
}

// bgpMessageLength reads the 2-byte length field of a BGP message header
// (offset 16 in the 19-byte fixed header) so the Peer Up parser can slice
// out the Sent/Received OPEN messages without re-implementing BGP framing.
func bgpMessageLength(data []byte) (int, error) {
	if len(data) < 18 {
		return 0, fmt.Errorf("bgp header too short (%d bytes)", len(data))
	}
	length := int(binary.BigEndian.Uint16(data[16:18]))
	if length < bgp.BGPHeaderSize {
		return 0, fmt.Errorf("bgp message length %d smaller than header", length)
	}
	return length, nil
}

func (d *Dispatcher) handlePeerUp(ctx context.Context, hdr bmp.PerPeerHeader, key registry.Key, info *registry.Info, body []byte) error {
	v6 := hdr.PeerFlags&bmp.PeerFlagV != 0

	up, err := bmp.ParsePeerUpEventHeader(body, v6, bgpMessageLength)
	if err != nil {
		d.Logger.Warn("peer up header parse failed, skipping",
			zap.String("peer_addr", hdr.PeerAddrString()), zap.Error(err))
		return nil
	}

	received, err := bgp.DecodeOpen(up.ReceivedOpen)
	if err != nil {
		d.Logger.Warn("peer up received-open decode failed, skipping",
			zap.String("peer_addr", hdr.PeerAddrString()), zap.Error(err))
		return nil
	}

	sent, err := bgp.DecodeOpen(up.SentOpen)
	if err != nil {
		d.Logger.Warn("peer up sent-open decode failed, skipping",
			zap.String("peer_addr", hdr.PeerAddrString()), zap.Error(err))
		return nil
	}

	info.Capabilities = received.Capabilities
	info.HasAddPath = received.Capabilities.AddPathEnabled(bgp.AFIIPv4, bgp.SAFIUnicast) ||
		received.Capabilities.AddPathEnabled(bgp.AFIIPv6, bgp.SAFIUnicast)

	d.Logger.Info("peer up received",
		zap.String("local_addr", up.LocalAddress.String()), zap.Uint16("local_port", up.LocalPort),
		zap.String("remote_addr", hdr.PeerAddrString()), zap.Uint16("remote_port", up.RemotePort))

	localASN := uint32(sent.MyASN)
	if sent.Capabilities.FourByteASN {
		localASN = sent.Capabilities.FourByteASNVal
	}

	if err := d.Bus.UpdatePeer(ctx, bus.Peer{
		PeerHash:   info.Hash,
		RouterHash: d.RouterHash,
		PeerAddr:   hdr.PeerAddrString(),
		PeerAS:     hdr.PeerAS,
		PeerBGPID:  hdr.PeerBGPIDString(),
		PeerRD:     key.PeerRD,
		Action:     bus.PeerUp,
		LocalAddr:  up.LocalAddress.String(),
		LocalPort:  up.LocalPort,
		RemotePort: up.RemotePort,
		LocalASN:   localASN,
		LocalBGPID: sent.BGPIdentifier,
	}); err != nil {
		metrics.BusProduceErrorsTotal.WithLabelValues("update_peer").Inc()
		return fmt.Errorf("dispatch: update peer (up): %w", err)
	}
	metrics.PeerRecordsTotal.WithLabelValues("up").Inc()
	// The UP record implies FIRST per spec; no separate FIRST record
	// follows for this peer. A skipped PEER_UP leaves FirstEmitted unset.
	info.FirstEmitted = true
	return nil
}

func (d *Dispatcher) handlePeerDown(ctx context.Context, hdr bmp.PerPeerHeader, key registry.Key, info *registry.Info, body []byte) error {
	down, err := bmp.ParsePeerDownEventHeader(body)
	if err != nil {
		return fmt.Errorf("dispatch: peer down header: %w", err)
	}

	var errorText string
	switch down.Reason {
	case bmp.PeerDownLocalNotify:
		if notif, err := decodeEmbeddedNotification(down.Rest); err == nil {
			errorText = fmt.Sprintf("Local close by (%s) for peer (%s) : %s", d.RouterIP, hdr.PeerAddrString(), notif.Text())
		} else {
			errorText = fmt.Sprintf("Local close by (%s) for peer (%s) : ", d.RouterIP, hdr.PeerAddrString())
		}
	case bmp.PeerDownLocalNoNotify:
		var fsmEvent uint16
		if len(down.Rest) >= 2 {
			fsmEvent = binary.BigEndian.Uint16(down.Rest[0:2])
		}
		errorText = fmt.Sprintf("Local (%s) closed peer (%s) session: fsm_event=%d, No BGP notify message.",
			d.RouterIP, hdr.PeerAddrString(), fsmEvent)
	case bmp.PeerDownRemoteNotify:
		if notif, err := decodeEmbeddedNotification(down.Rest); err == nil {
			errorText = fmt.Sprintf("Remote peer (%s) closed local (%s) session: %s", hdr.PeerAddrString(), d.RouterIP, notif.Text())
		} else {
			errorText = fmt.Sprintf("Remote peer (%s) closed local (%s) session: ", hdr.PeerAddrString(), d.RouterIP)
		}
	case bmp.PeerDownRemoteNoData, bmp.PeerDownPeerDeConfig:
		errorText = ""
	default:
		errorText = ""
	}

	err = d.Bus.UpdatePeer(ctx, bus.Peer{
		PeerHash:   info.Hash,
		RouterHash: d.RouterHash,
		PeerAddr:   hdr.PeerAddrString(),
		PeerAS:     hdr.PeerAS,
		PeerBGPID:  hdr.PeerBGPIDString(),
		PeerRD:     key.PeerRD,
		Action:     bus.PeerDown,
		ErrorText:  errorText,
	})
	if err != nil {
		metrics.BusProduceErrorsTotal.WithLabelValues("update_peer").Inc()
		return fmt.Errorf("dispatch: update peer (down): %w", err)
	}
	metrics.PeerRecordsTotal.WithLabelValues("down").Inc()

	return nil
}

// decodeEmbeddedNotification wraps the BGP NOTIFICATION that follows a
// PEER_DOWN reason 1 or 3 sub-header: it is a full BGP message, marker
// included, so DecodeNotification can be applied directly.
func decodeEmbeddedNotification(data []byte) (*bgp.NotificationMessage, error) {
	return bgp.DecodeNotification(data)
}

func (d *Dispatcher) handleRouteMonitoring(ctx context.Context, info *registry.Info, body []byte) error {
	hasAddPath := false
	var peerHash [16]byte
	if info != nil {
		hasAddPath = info.HasAddPath
		peerHash = info.Hash
	}

	events, err := bgp.ParseUpdate(body, hasAddPath)
	if err != nil {
		if d.DebugBGP {
			d.Logger.Debug("route monitoring update decode failed", zap.Error(err))
		}
		return nil
	}
	if d.DebugBGP {
		d.Logger.Debug("route monitoring update decoded", zap.Int("events", len(events)))
	}

	for _, ev := range events {
		if err := d.Bus.AddRoute(ctx, bus.Route{
			PeerHash:   peerHash,
			RouterHash: d.RouterHash,
			AFI:        ev.AFI,
			Prefix:     ev.Prefix,
			PathID:     ev.PathID,
			Action:     ev.Action,
			Nexthop:    ev.Nexthop,
			ASPath:     ev.ASPath,
			Origin:     ev.Origin,
			LocalPref:  ev.LocalPref,
			MED:        ev.MED,
			CommStd:    ev.CommStd,
			CommExt:    ev.CommExt,
			CommLarge:  ev.CommLarge,
		}); err != nil {
			metrics.BusProduceErrorsTotal.WithLabelValues("add_route").Inc()
			return fmt.Errorf("dispatch: add route: %w", err)
		}
		metrics.RouteRecordsTotal.WithLabelValues(ev.Action).Inc()
	}

	return nil
}

func (d *Dispatcher) handleStatsReport(ctx context.Context, info *registry.Info, body []byte) error {
	stats, err := bmp.DecodeStatsReport(body)
	if err != nil {
		return fmt.Errorf("dispatch: decode stats report: %w", err)
	}

	var peerHash [16]byte
	if info != nil {
		peerHash = info.Hash
	}

	for _, s := range stats {
		if err := d.Bus.AddStatReport(ctx, bus.StatReport{
			PeerHash:  peerHash,
			StatType:  s.Type,
			StatValue: s.Value,
		}); err != nil {
			metrics.BusProduceErrorsTotal.WithLabelValues("add_stat_report").Inc()
			return fmt.Errorf("dispatch: add stat report: %w", err)
		}
		metrics.StatsReportsTotal.WithLabelValues(fmt.Sprintf("%d", s.Type)).Inc()
	}
	return nil
}
