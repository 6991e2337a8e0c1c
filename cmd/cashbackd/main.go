package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cashbackd/config"
	"cashbackd/core/events"
	"cashbackd/core/state"
	"cashbackd/crypto"
	"cashbackd/native/cashback"
	"cashbackd/observability/logging"
	"cashbackd/rpc"
	"cashbackd/storage"
)

const envVar = "CASHBACKD_ENV"

// logEmitter forwards ledger events to the structured log.
type logEmitter struct {
	log *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	l.log.Info("ledger event",
		slog.String("type", evt.EventType()),
		slog.Any("payload", evt),
	)
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envVar))

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.Setup("cashbackd", env, cfg.LogFile)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	ledger := state.NewLedger(db)
	engine := cashback.NewEngine(ledger)
	registry := cashback.NewRegistry(ledger)

	if err := bootstrapAdmin(engine, cfg.AdminAddress); err != nil {
		logger.Error("Failed to bootstrap admin", slog.Any("error", err))
		os.Exit(1)
	}

	emitter := logEmitter{log: logger}
	engine.SetEmitter(emitter)
	registry.SetEmitter(emitter)

	server := rpc.NewServer(engine, registry, clockwork.NewRealClock())
	server.SetRateLimit(cfg.RPCRequestsPerMin, cfg.RPCBurst)

	metricsServer := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		logger.Info("Starting metrics listener", slog.String("address", cfg.MetricsAddress))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics listener failed", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting JSON-RPC server", slog.String("address", cfg.RPCAddress))
		errCh <- server.Start(cfg.RPCAddress)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("RPC server failed", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
}

// bootstrapAdmin installs the configured admin on first start. Once an admin
// is persisted the config value is only checked for agreement when present.
func bootstrapAdmin(engine *cashback.Engine, configured string) error {
	current, err := engine.Admin()
	if err != nil {
		return err
	}
	if current != ([20]byte{}) {
		return nil
	}
	addr, err := crypto.DecodeAddress(strings.TrimSpace(configured))
	if err != nil {
		return err
	}
	var admin [20]byte
	copy(admin[:], addr.Bytes())
	return engine.InitializeAdmin(admin)
}
