// Package kafkabus is the concrete bus.Bus implementation: it serializes
// each typed record to JSON and produces it to Kafka via franz-go, and
// optionally upserts router metadata into Postgres for the router catalog.
package kafkabus

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/compress/zstd"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"go.uber.org/zap"

	"github.com/route-beacon/bmp-collector/internal/bus"
	"github.com/route-beacon/bmp-collector/internal/metrics"
)

var zstdEncoder, _ = zstd.NewWriter(nil)

// routerRecord, peerRecord and statRecord are the wire shapes produced to
// their respective topics. Hashes are hex-encoded since they double as the
// Kafka record key.
type routerRecord struct {
	RouterHash string `json:"router_hash"`
	RouterIP   string `json:"router_ip"`
	Action     string `json:"action"`
	Name       string `json:"name,omitempty"`
	Descr      string `json:"descr,omitempty"`
	TermReason int    `json:"term_reason,omitempty"`
	TermText   string `json:"term_text,omitempty"`
}

type peerRecord struct {
	PeerHash   string `json:"peer_hash"`
	RouterHash string `json:"router_hash"`
	PeerAddr   string `json:"peer_addr"`
	PeerAS     uint32 `json:"peer_as"`
	PeerBGPID  string `json:"peer_bgp_id"`
	PeerRD     string `json:"peer_rd"`
	Action     string `json:"action"`
	LocalAddr  string `json:"local_addr,omitempty"`
	LocalPort  uint16 `json:"local_port,omitempty"`
	RemotePort uint16 `json:"remote_port,omitempty"`
	LocalASN   uint32 `json:"local_asn,omitempty"`
	LocalBGPID string `json:"local_bgp_id,omitempty"`
	ErrorText  string `json:"error_text,omitempty"`
}

type statRecord struct {
	PeerHash  string `json:"peer_hash"`
	StatType  uint16 `json:"stat_type"`
	StatValue uint64 `json:"stat_value"`
}

type routeRecord struct {
	PeerHash   string   `json:"peer_hash"`
	RouterHash string   `json:"router_hash"`
	AFI        int      `json:"afi"`
	Prefix     string   `json:"prefix"`
	PathID     int64    `json:"path_id,omitempty"`
	Action     string   `json:"action"`
	Nexthop    string   `json:"nexthop,omitempty"`
	ASPath     string   `json:"as_path,omitempty"`
	Origin     string   `json:"origin,omitempty"`
	LocalPref  *uint32  `json:"local_pref,omitempty"`
	MED        *uint32  `json:"med,omitempty"`
	CommStd    []string `json:"comm_std,omitempty"`
	CommExt    []string `json:"comm_ext,omitempty"`
	CommLarge  []string `json:"comm_large,omitempty"`
}

var routerActionNames = map[bus.RouterAction]string{
	bus.RouterFirst: "first",
	bus.RouterInit:  "init",
	bus.RouterTerm:  "term",
}

var peerActionNames = map[bus.PeerAction]string{
	bus.PeerFirst: "first",
	bus.PeerUp:    "up",
	bus.PeerDown:  "down",
}

// Bus produces typed records and raw BMP frames to Kafka, and optionally
// keeps a Postgres router catalog current.
type Bus struct {
	client *kgo.Client
	pool   *pgxpool.Pool // optional, nil disables the router catalog side-write

	routerTopic string
	peerTopic   string
	statsTopic  string
	routeTopic  string
	rawTopic    string

	produceTimeout time.Duration
	compressRaw    bool

	logger *zap.Logger
	ready  atomic.Bool
}

// Config is the subset of Kafka connection settings kafkabus needs; kept
// separate from internal/config so this package doesn't import it.
type Config struct {
	Brokers        []string
	ClientID       string
	TLSConfig      *tls.Config
	SASLMechanism  sasl.Mechanism
	RouterTopic    string
	PeerTopic      string
	StatsTopic     string
	RouteTopic     string
	RawTopic       string
	ProduceTimeout time.Duration
	CompressRaw    bool
}

// New builds a Bus after one successful broker ping. IsReady starts out
// true; it tracks the producer's ability to reach the cluster only while
// the caller runs RunHealthProbe.
func New(ctx context.Context, cfg Config, pool *pgxpool.Pool, logger *zap.Logger) (*Bus, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.RouterTopic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	}
	if cfg.TLSConfig != nil {
		opts = append(opts, kgo.DialTLSConfig(cfg.TLSConfig))
	}
	if cfg.SASLMechanism != nil {
		opts = append(opts, kgo.SASL(cfg.SASLMechanism))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafkabus: creating client: %w", err)
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("kafkabus: pinging brokers: %w", err)
	}

	b := &Bus{
		client:         client,
		pool:           pool,
		routerTopic:    cfg.RouterTopic,
		peerTopic:      cfg.PeerTopic,
		statsTopic:     cfg.StatsTopic,
		routeTopic:     cfg.RouteTopic,
		rawTopic:       cfg.RawTopic,
		produceTimeout: cfg.ProduceTimeout,
		compressRaw:    cfg.CompressRaw,
		logger:         logger.Named("kafkabus"),
	}
	b.ready.Store(true)
	return b, nil
}

// RunHealthProbe periodically pings the Kafka cluster until ctx is done,
// updating the state IsReady reports.
func (b *Bus) RunHealthProbe(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval/2)
			err := b.client.Ping(pingCtx)
			cancel()
			if err != nil {
				b.logger.Warn("broker ping failed", zap.Error(err))
			}
			b.ready.Store(err == nil)
		}
	}
}

// IsReady implements httpapi.BusStatus.
func (b *Bus) IsReady() bool {
	return b.ready.Load()
}

func (b *Bus) Close() {
	b.client.Close()
}

func (b *Bus) produce(ctx context.Context, topic, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, b.produceTimeout)
	defer cancel()

	rec := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}
	results := b.client.ProduceSync(ctx, rec)
	return results.FirstErr()
}

// marshalRouterRecord builds the JSON payload and key for a router record.
func marshalRouterRecord(r bus.Router) (key string, payload []byte, err error) {
	key = hex.EncodeToString(r.RouterHash[:])
	payload, err = json.Marshal(routerRecord{
		RouterHash: key,
		RouterIP:   r.RouterIP,
		Action:     routerActionNames[r.Action],
		Name:       r.Name,
		Descr:      r.Descr,
		TermReason: r.TermReason,
		TermText:   r.TermText,
	})
	return key, payload, err
}

// marshalPeerRecord builds the JSON payload and key for a peer record.
func marshalPeerRecord(p bus.Peer) (key string, payload []byte, err error) {
	key = hex.EncodeToString(p.PeerHash[:])
	payload, err = json.Marshal(peerRecord{
		PeerHash:   key,
		RouterHash: hex.EncodeToString(p.RouterHash[:]),
		PeerAddr:   p.PeerAddr,
		PeerAS:     p.PeerAS,
		PeerBGPID:  p.PeerBGPID,
		PeerRD:     p.PeerRD,
		Action:     peerActionNames[p.Action],
		LocalAddr:  p.LocalAddr,
		LocalPort:  p.LocalPort,
		RemotePort: p.RemotePort,
		LocalASN:   p.LocalASN,
		LocalBGPID: p.LocalBGPID,
		ErrorText:  p.ErrorText,
	})
	return key, payload, err
}

// marshalStatRecord builds the JSON payload and key for a stats record.
func marshalStatRecord(s bus.StatReport) (key string, payload []byte, err error) {
	key = hex.EncodeToString(s.PeerHash[:])
	payload, err = json.Marshal(statRecord{
		PeerHash:  key,
		StatType:  s.StatType,
		StatValue: s.StatValue,
	})
	return key, payload, err
}

// marshalRouteRecord builds the JSON payload and key for a route record.
func marshalRouteRecord(r bus.Route) (key string, payload []byte, err error) {
	key = hex.EncodeToString(r.PeerHash[:])
	payload, err = json.Marshal(routeRecord{
		PeerHash:   key,
		RouterHash: hex.EncodeToString(r.RouterHash[:]),
		AFI:        r.AFI,
		Prefix:     r.Prefix,
		PathID:     r.PathID,
		Action:     r.Action,
		Nexthop:    r.Nexthop,
		ASPath:     r.ASPath,
		Origin:     r.Origin,
		LocalPref:  r.LocalPref,
		MED:        r.MED,
		CommStd:    r.CommStd,
		CommExt:    r.CommExt,
		CommLarge:  r.CommLarge,
	})
	return key, payload, err
}

func (b *Bus) UpdateRouter(ctx context.Context, r bus.Router) error {
	key, payload, err := marshalRouterRecord(r)
	if err != nil {
		return fmt.Errorf("kafkabus: marshal router record: %w", err)
	}

	if err := b.produce(ctx, b.routerTopic, key, payload); err != nil {
		return fmt.Errorf("kafkabus: produce router record: %w", err)
	}

	if b.pool != nil && r.Action == bus.RouterInit {
		if err := upsertRouter(ctx, b.pool, r.RouterHash, r.RouterIP, r.Name, r.Descr); err != nil {
			b.logger.Warn("router catalog upsert failed", zap.String("router_hash", key), zap.Error(err))
		}
	}

	return nil
}

func (b *Bus) UpdateRouterTemplated(ctx context.Context, topic string, r bus.Router) error {
	key, payload, err := marshalRouterRecord(r)
	if err != nil {
		return fmt.Errorf("kafkabus: marshal templated router record: %w", err)
	}

	if err := b.produce(ctx, topic, key, payload); err != nil {
		return fmt.Errorf("kafkabus: produce templated router record: %w", err)
	}
	return nil
}

func (b *Bus) UpdatePeer(ctx context.Context, p bus.Peer) error {
	key, payload, err := marshalPeerRecord(p)
	if err != nil {
		return fmt.Errorf("kafkabus: marshal peer record: %w", err)
	}

	if err := b.produce(ctx, b.peerTopic, key, payload); err != nil {
		return fmt.Errorf("kafkabus: produce peer record: %w", err)
	}
	return nil
}

func (b *Bus) AddStatReport(ctx context.Context, s bus.StatReport) error {
	key, payload, err := marshalStatRecord(s)
	if err != nil {
		return fmt.Errorf("kafkabus: marshal stat record: %w", err)
	}

	if err := b.produce(ctx, b.statsTopic, key, payload); err != nil {
		return fmt.Errorf("kafkabus: produce stat record: %w", err)
	}
	return nil
}

func (b *Bus) AddRoute(ctx context.Context, r bus.Route) error {
	key, payload, err := marshalRouteRecord(r)
	if err != nil {
		return fmt.Errorf("kafkabus: marshal route record: %w", err)
	}

	if err := b.produce(ctx, b.routeTopic, key, payload); err != nil {
		return fmt.Errorf("kafkabus: produce route record: %w", err)
	}
	return nil
}

// rawRecordKey picks the Kafka key for a raw BMP frame: the peer hash when
// the message carries a per-peer header, otherwise the router hash.
func rawRecordKey(routerHash [16]byte, peerHash *[16]byte) string {
	if peerHash != nil {
		return hex.EncodeToString(peerHash[:])
	}
	return hex.EncodeToString(routerHash[:])
}

func (b *Bus) SendBMPRaw(ctx context.Context, routerHash [16]byte, peerHash *[16]byte, raw []byte) error {
	key := rawRecordKey(routerHash, peerHash)

	payload := raw
	if b.compressRaw {
		payload = zstdEncoder.EncodeAll(raw, nil)
	}

	if err := b.produce(ctx, b.rawTopic, key, payload); err != nil {
		metrics.BusProduceErrorsTotal.WithLabelValues("send_bmp_raw").Inc()
		return fmt.Errorf("kafkabus: produce raw frame: %w", err)
	}
	return nil
}
