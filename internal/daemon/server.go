package daemon

import (
	"context"
	"errors"
	"net/http"
	gosync "sync"
	"time"

	"github.com/matheus3301/icsync/internal/config"
	"github.com/matheus3301/icsync/internal/status"
	"github.com/matheus3301/icsync/internal/store"
	intsync "github.com/matheus3301/icsync/internal/sync"
	"github.com/matheus3301/icsync/internal/webhook"
	"go.uber.org/zap"
)

// Server runs the daemon's two ongoing duties: serving the webhook HTTP
// endpoint and, when configured, kicking off periodic incremental syncs.
type Server struct {
	http     *http.Server
	orch     *intsync.Orchestrator
	machine  *status.Machine
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
	wg       gosync.WaitGroup
}

// NewServer creates the daemon server from configuration.
func NewServer(cfg *config.Config, logger *zap.Logger, machine *status.Machine, orch *intsync.Orchestrator, wh *webhook.Server) *Server {
	return &Server{
		http: &http.Server{
			Addr:              cfg.Webhook.ListenAddr,
			Handler:           wh.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		orch:     orch,
		machine:  machine,
		logger:   logger,
		interval: time.Duration(cfg.Daemon.SyncIntervalMinutes) * time.Minute,
	}
}

// Start serves webhook HTTP requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("webhook server starting", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// StartTicker launches the periodic incremental sync loop. A zero
// interval disables it; webhooks alone keep the replica fresh.
func (s *Server) StartTicker(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.logger.Info("periodic incremental sync enabled", zap.Duration("interval", s.interval))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runIncremental(ctx)
			}
		}
	}()
}

// runIncremental drives one scheduled pass, reflecting the outcome in
// the daemon state machine.
func (s *Server) runIncremental(ctx context.Context) {
	_ = s.machine.Transition(status.Syncing)
	run, err := s.orch.RunIncremental(ctx, nil)
	switch {
	case err != nil:
		s.logger.Error("scheduled incremental sync failed", zap.Error(err))
		_ = s.machine.Transition(status.Degraded)
	case run.Status != store.RunStatusCompleted:
		_ = s.machine.Transition(status.Degraded)
	default:
		_ = s.machine.Transition(status.Idle)
	}
}

// Stop performs a graceful shutdown of the ticker and the HTTP server.
func (s *Server) Stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("webhook server stopping")
	_ = s.http.Shutdown(ctx)
}
