package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/chainrule-labs/pesto-contracts-sub000/config"
	"github.com/chainrule-labs/pesto-contracts-sub000/core"
	"github.com/chainrule-labs/pesto-contracts-sub000/core/events"
	"github.com/chainrule-labs/pesto-contracts-sub000/observability"
	"github.com/chainrule-labs/pesto-contracts-sub000/observability/logging"
	telemetry "github.com/chainrule-labs/pesto-contracts-sub000/observability/otel"
	"github.com/chainrule-labs/pesto-contracts-sub000/services/positiond/audit"
	daemoncfg "github.com/chainrule-labs/pesto-contracts-sub000/services/positiond/config"
	"github.com/chainrule-labs/pesto-contracts-sub000/services/positiond/middleware"
	"github.com/chainrule-labs/pesto-contracts-sub000/services/positiond/server"
	"github.com/chainrule-labs/pesto-contracts-sub000/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/positiond/config.yaml", "path to positiond config")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		log.Fatalf("positiond: %v", err)
	}
}

func run(cfgPath string) error {
	cfg, err := daemoncfg.Load(cfgPath)
	if err != nil {
		return err
	}
	logger, logCloser := logging.SetupWithFile("positiond", cfg.Environment, logging.FileOptions{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "positiond",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParsePairs(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Attributes:  telemetry.ParsePairs(os.Getenv("OTEL_RESOURCE_ATTRIBUTES")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	protocolCfg, err := config.Load(cfg.ProtocolPath)
	if err != nil {
		return err
	}

	db, err := openStore(cfg.DataDir, cfg.StoreBackend)
	if err != nil {
		return err
	}
	defer db.Close()

	auditDB, err := audit.Open(cfg.Audit.Driver, cfg.Audit.DSN)
	if err != nil {
		return err
	}
	logger.Info("audit store opened",
		slog.String("driver", cfg.Audit.Driver),
		logging.MaskField("dsn", cfg.Audit.DSN))
	indexer, err := audit.NewIndexer(auditDB, logger)
	if err != nil {
		return err
	}
	hub := server.NewHub(logger)

	exec := core.NewExecutor(db)
	exec.SetLogger(logger)
	exec.SetMetrics(observability.Positions())
	exec.SetEmitter(events.Fanout{indexer, hub, observability.Events()})

	protocol, err := core.NewProtocol(exec, protocolCfg)
	if err != nil {
		return err
	}
	if err := protocol.EnsureGenesis(context.Background(), protocolCfg, logger); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}

	srv, err := server.New(protocol, indexer, hub, server.Options{
		Auth: middleware.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew,
		},
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		CORS:   middleware.CORSConfig{AllowedOrigins: cfg.CORS.AllowedOrigins},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("positiond listening", slog.String("addr", cfg.ListenAddress))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// openStore opens LevelDB under dir, or an in-memory store when dir is empty.
// openStore returns an in-memory store when dir is empty.
func openStore(dir, backend string) (storage.Database, error) {
	if dir == "" {
		return storage.NewMemDB(), nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	var (
		db  storage.Database
		err error
	)
	switch backend {
	case "bolt":
		db, err = storage.NewBoltDB(filepath.Join(dir, "state.bolt"))
	default:
		db, err = storage.NewLevelDB(filepath.Join(dir, "state"))
	}
	if err != nil {
		return nil, fmt.Errorf("open %s state: %w", backend, err)
	}
	return db, nil
}
