package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/route-beacon/bmp-collector/internal/config"
	"github.com/route-beacon/bmp-collector/internal/db"
	"github.com/route-beacon/bmp-collector/internal/httpapi"
	"github.com/route-beacon/bmp-collector/internal/kafkabus"
	"github.com/route-beacon/bmp-collector/internal/listener"
	"github.com/route-beacon/bmp-collector/internal/metrics"
	"github.com/route-beacon/bmp-collector/internal/template"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe()
	case "migrate":
		runMigrate()
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: bmp-collector <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Accept router connections and forward decoded BMP/BGP records")
	fmt.Println("  migrate   Run database migrations for the optional router catalog")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>   Path to configuration YAML file")
	fmt.Println("  --log-level <lvl> Override log level (debug, info, warn, error)")
}

func parseFlags(args []string) (configPath string, logLevel string) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		case "--log-level":
			if i+1 < len(args) {
				logLevel = args[i+1]
				i++
			}
		}
	}
	return
}

func loadConfig(args []string) (*config.Config, *zap.Logger) {
	configPath, logLevelOverride := parseFlags(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if logLevelOverride != "" {
		cfg.Service.LogLevel = logLevelOverride
	}

	logger := initLogger(cfg.Service.LogLevel)
	return cfg, logger
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// migrationsDir returns the path to the migrations directory relative to the binary.
func migrationsDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "migrations"
	}
	return filepath.Join(filepath.Dir(exe), "migrations")
}

func runServe() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	metrics.Register()

	logger.Info("starting bmp-collector",
		zap.String("instance_id", cfg.Service.InstanceID),
		zap.String("listener_address", cfg.Listener.Address),
		zap.String("http_listen", cfg.Service.HTTPListen),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pool *pgxpool.Pool
	if cfg.Postgres.DSN != "" {
		p, err := db.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer p.Close()
		pool = p
	} else {
		logger.Info("postgres DSN not configured, router catalog upserts disabled")
	}

	tlsCfg, err := cfg.Kafka.BuildTLSConfig()
	if err != nil {
		logger.Fatal("failed to build TLS config", zap.Error(err))
	}
	saslMech := cfg.Kafka.BuildSASLMechanism()

	kbCfg := kafkabus.Config{
		Brokers:        cfg.Kafka.Brokers,
		ClientID:       cfg.Kafka.ClientID,
		TLSConfig:      tlsCfg,
		SASLMechanism:  saslMech,
		RouterTopic:    cfg.Kafka.RouterTopic,
		PeerTopic:      cfg.Kafka.PeerTopic,
		StatsTopic:     cfg.Kafka.StatsTopic,
		RouteTopic:     cfg.Kafka.RouteTopic,
		RawTopic:       cfg.Kafka.RawTopic,
		ProduceTimeout: time.Duration(cfg.Kafka.ProduceTimeoutSeconds) * time.Second,
		CompressRaw:    cfg.Kafka.StoreRawBytesCompress,
	}

	kb, err := kafkabus.New(ctx, kbCfg, pool, logger.Named("kafkabus"))
	if err != nil {
		logger.Fatal("failed to create kafka bus", zap.Error(err))
	}
	defer kb.Close()
	go kb.RunHealthProbe(ctx, 15*time.Second)

	templates, err := template.Load(cfg.Template.Path)
	if err != nil {
		logger.Warn("failed to load template bindings, continuing without them", zap.Error(err))
	}

	lst, err := listener.New(cfg.Listener.Address, kb, templates, cfg.Service.DebugBMP, cfg.Service.DebugBGP, logger)
	if err != nil {
		logger.Fatal("failed to bind listener", zap.Error(err))
	}

	go lst.Serve(ctx)
	logger.Info("listening for router connections", zap.String("address", cfg.Listener.Address))

	var dbChecker httpapi.DBChecker
	if pool != nil {
		dbChecker = pool
	}
	httpServer := httpapi.NewServer(cfg.Service.HTTPListen, dbChecker, kb, logger.Named("httpapi"))
	if err := httpServer.Start(); err != nil {
		logger.Fatal("failed to start HTTP server", zap.Error(err))
	}

	logger.Info("bmp-collector started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownTimeout := time.Duration(cfg.Service.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	cancel()

	done := make(chan struct{})
	go func() {
		lst.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("listener stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout reached, some connections may not have finished")
	}

	logger.Info("bmp-collector stopped")
}

func runMigrate() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	if cfg.Postgres.DSN == "" {
		logger.Fatal("postgres.dsn must be configured to run migrations")
	}

	logger.Info("running migrations", zap.String("dsn", redactDSN(cfg.Postgres.DSN)))

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, migrationsDir(), logger); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	logger.Info("migrations complete")
}

func redactDSN(dsn string) string {
	if !strings.Contains(dsn, "://") {
		re := regexp.MustCompile(`password\s*=\s*\S+`)
		return re.ReplaceAllString(dsn, "password=***")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
