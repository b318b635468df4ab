package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/matheus3301/icsync/internal/bus"
	"github.com/matheus3301/icsync/internal/config"
	"github.com/matheus3301/icsync/internal/intercom"
	"github.com/matheus3301/icsync/internal/lock"
	"github.com/matheus3301/icsync/internal/logging"
	"github.com/matheus3301/icsync/internal/metrics"
	"github.com/matheus3301/icsync/internal/status"
	"github.com/matheus3301/icsync/internal/store"
	intsync "github.com/matheus3301/icsync/internal/sync"
	"github.com/matheus3301/icsync/internal/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the daemon invocation parameters passed to the fx module.
type Params struct {
	ConfigPath string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideClient,
			provideOrchestrator,
			provideMetricsWatcher,
			provideWebhookServer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.Load(p.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(filepath.Join(cfg.Daemon.DataDir, "icsyncd.log"), "icsyncd")
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("dir", cfg.Daemon.DataDir))
	l, err := lock.Acquire(cfg.Daemon.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, logger *zap.Logger) (store.ReplicaStore, error) {
	dsn := cfg.Store.DSN
	if cfg.Store.Driver == "sqlite" {
		dsn = cfg.Store.Path
		if err := os.MkdirAll(filepath.Dir(dsn), 0700); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	st, err := store.Open(context.Background(), cfg.Store.Driver, dsn)
	if err != nil {
		return nil, err
	}
	result, err := st.Migrate()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}

	// Runs left "running" by a crashed daemon would freeze the
	// incremental watermark forever; fail them at boot.
	n, err := st.FailStaleRuns(context.Background(), cfg.Sync.StaleRunTimeout())
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("sweep stale runs: %w", err)
	}
	if n > 0 {
		logger.Warn("marked stale sync runs as failed", zap.Int("count", n))
	}

	logger.Info("replica store initialized", zap.String("driver", cfg.Store.Driver))
	return st, nil
}

func provideClient(cfg *config.Config, logger *zap.Logger) *intercom.Client {
	return intercom.New(intercom.Options{
		BaseURL:            cfg.Intercom.BaseURL,
		AccessToken:        cfg.Intercom.AccessToken,
		APIVersion:         cfg.Intercom.APIVersion,
		HTTPClient:         &http.Client{Timeout: cfg.Intercom.RequestTimeout()},
		RateLimitPerMinute: cfg.Intercom.RateLimitPerMinute,
		MaxRetries:         cfg.Intercom.MaxRetries,
		Logger:             logger,
	})
}

func provideOrchestrator(client *intercom.Client, st store.ReplicaStore, b *bus.Bus, logger *zap.Logger, cfg *config.Config) *intsync.Orchestrator {
	return intsync.New(client, st, b, logger, intsync.Options{
		BatchSize:            cfg.Sync.BatchSize,
		IncrementalBatchSize: cfg.Sync.IncrementalBatchSize,
		Workers:              cfg.Sync.Workers,
		Lookback:             cfg.Sync.Lookback(),
	})
}

func provideMetricsWatcher(b *bus.Bus) *metrics.Watcher {
	return metrics.NewWatcher(b)
}

func provideWebhookServer(st store.ReplicaStore, orch *intsync.Orchestrator, b *bus.Bus, logger *zap.Logger, cfg *config.Config) *webhook.Server {
	return webhook.New(st, orch, b, logger, cfg.Webhook.Secret)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, watcher *metrics.Watcher, machine *status.Machine, st store.ReplicaStore, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			watcher.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("webhook server error", zap.Error(err))
					_ = machine.Transition(status.Error)
				}
			}()

			srv.StartTicker(context.Background())
			_ = machine.Transition(status.Idle)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			watcher.Stop()
			if err := st.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
