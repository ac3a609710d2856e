package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

type Config struct {
	Service  ServiceConfig  `koanf:"service"`
	Listener ListenerConfig `koanf:"listener"`
	Kafka    KafkaConfig    `koanf:"kafka"`
	Postgres PostgresConfig `koanf:"postgres"`
	Template TemplateConfig `koanf:"template"`
}

type ServiceConfig struct {
	InstanceID             string `koanf:"instance_id"`
	HTTPListen             string `koanf:"http_listen"`
	LogLevel               string `koanf:"log_level"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
	DebugBMP               bool   `koanf:"debug_bmp"`
	DebugBGP               bool   `koanf:"debug_bgp"`
}

// ListenerConfig configures the raw TCP socket routers dial into.
type ListenerConfig struct {
	Address           string `koanf:"address"`
	MaxMessageBytes   int    `koanf:"max_message_bytes"`
	AcceptQueueDepth  int    `koanf:"accept_queue_depth"`
}

type TemplateConfig struct {
	Path string `koanf:"path"`
}

type KafkaConfig struct {
	Brokers               []string   `koanf:"brokers"`
	ClientID              string     `koanf:"client_id"`
	TLS                   TLSConfig  `koanf:"tls"`
	SASL                  SASLConfig `koanf:"sasl"`
	RouterTopic           string     `koanf:"router_topic"`
	PeerTopic             string     `koanf:"peer_topic"`
	StatsTopic            string     `koanf:"stats_topic"`
	RouteTopic            string     `koanf:"route_topic"`
	RawTopic              string     `koanf:"raw_topic"`
	ProduceTimeoutSeconds int        `koanf:"produce_timeout_seconds"`
	StoreRawBytesCompress bool       `koanf:"store_raw_bytes_compress"`
}

type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CAFile   string `koanf:"ca_file"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

type SASLConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Mechanism string `koanf:"mechanism"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
}

type PostgresConfig struct {
	DSN      string `koanf:"dsn"`
	MaxConns int32  `koanf:"max_conns"`
	MinConns int32  `koanf:"min_conns"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Overlay environment variables: BMPCOLLECTOR_KAFKA__BROKERS → kafka.brokers
	if err := k.Load(env.Provider("BMPCOLLECTOR_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "BMPCOLLECTOR_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Service: ServiceConfig{
			InstanceID:             "bmp-collector-1",
			HTTPListen:             ":8080",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		Listener: ListenerConfig{
			Address:          ":4000",
			MaxMessageBytes:  65536,
			AcceptQueueDepth: 128,
		},
		Kafka: KafkaConfig{
			ClientID:              "bmp-collector",
			RouterTopic:           "bmp.router",
			PeerTopic:             "bmp.peer",
			StatsTopic:            "bmp.stats",
			RouteTopic:            "bmp.route",
			RawTopic:              "bmp.raw",
			ProduceTimeoutSeconds: 10,
			StoreRawBytesCompress: true,
		},
		Postgres: PostgresConfig{
			MaxConns: 10,
			MinConns: 1,
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers is required")
	}
	if c.Kafka.RouterTopic == "" || c.Kafka.PeerTopic == "" || c.Kafka.StatsTopic == "" || c.Kafka.RouteTopic == "" || c.Kafka.RawTopic == "" {
		return fmt.Errorf("config: kafka router/peer/stats/route/raw topics are all required")
	}
	if c.Listener.Address == "" {
		return fmt.Errorf("config: listener.address is required")
	}
	if c.Listener.MaxMessageBytes <= 0 {
		return fmt.Errorf("config: listener.max_message_bytes must be > 0 (got %d)", c.Listener.MaxMessageBytes)
	}
	if c.Listener.AcceptQueueDepth <= 0 {
		return fmt.Errorf("config: listener.accept_queue_depth must be > 0 (got %d)", c.Listener.AcceptQueueDepth)
	}
	if c.Postgres.MaxConns <= 0 {
		return fmt.Errorf("config: postgres.max_conns must be > 0 (got %d)", c.Postgres.MaxConns)
	}
	if c.Postgres.MinConns < 0 {
		return fmt.Errorf("config: postgres.min_conns must be >= 0 (got %d)", c.Postgres.MinConns)
	}
	if c.Kafka.ProduceTimeoutSeconds <= 0 {
		return fmt.Errorf("config: kafka.produce_timeout_seconds must be > 0 (got %d)", c.Kafka.ProduceTimeoutSeconds)
	}
	if c.Service.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("config: service.shutdown_timeout_seconds must be > 0 (got %d)", c.Service.ShutdownTimeoutSeconds)
	}
	return nil
}

// BuildTLSConfig creates a *tls.Config from the Kafka TLS settings. Returns nil if TLS is disabled.
func (k *KafkaConfig) BuildTLSConfig() (*tls.Config, error) {
	if !k.TLS.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{}
	if k.TLS.CAFile != "" {
		caPEM, err := os.ReadFile(k.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}
	if k.TLS.CertFile != "" && k.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(k.TLS.CertFile, k.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// BuildSASLMechanism creates a SASL mechanism from the Kafka SASL settings. Returns nil if SASL is disabled.
func (k *KafkaConfig) BuildSASLMechanism() sasl.Mechanism {
	if !k.SASL.Enabled {
		return nil
	}
	switch strings.ToUpper(k.SASL.Mechanism) {
	case "PLAIN":
		return plain.Auth{User: k.SASL.Username, Pass: k.SASL.Password}.AsMechanism()
	default:
		return nil
	}
}
