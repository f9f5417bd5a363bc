package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/panelhub/internal/config"
)

const snapshotPollInterval = 100 * time.Millisecond

// App runs the hub's services until its context ends or a service fails.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelCauseFunc
}

// New builds every service without starting any of them.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, services: services}, nil
}

// Start starts the services under ctx. Panels may connect as soon as it
// returns; until the first bridge snapshot arrives they get
// backend_unavailable for bridge commands.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancelCause(ctx)

	if err := a.services.Start(a.ctx, a.fail); err != nil {
		return err
	}

	log.Info().
		Str("addr", a.cfg.Server.Addr()).
		Str("bridge", a.cfg.Hue.Bridge).
		Dur("sync_interval", a.cfg.Hue.SyncInterval.Duration()).
		Msg("Panel hub started")

	go a.awaitSnapshot()
	return nil
}

// fail shuts the app down with err as the cause reported by Wait.
func (a *App) fail(err error) {
	log.Error().Err(err).Msg("Service failed, shutting down")
	a.cancel(err)
}

func (a *App) awaitSnapshot() {
	ticker := time.NewTicker(snapshotPollInterval)
	defer ticker.Stop()

	started := time.Now()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			snap := a.services.Hue.Synchronizer.Snapshot()
			if snap == nil {
				continue
			}
			log.Info().
				Int("groups", len(snap.Groups)).
				Int("lights", len(snap.Lights)).
				Dur("after", time.Since(started)).
				Msg("Bridge snapshot ready")
			return
		}
	}
}

// Wait blocks until shutdown is requested. It returns the service failure
// that caused it, or nil for a normal shutdown.
func (a *App) Wait() error {
	if a.ctx == nil {
		return nil
	}
	<-a.ctx.Done()
	if err := context.Cause(a.ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Stop shuts the services down within the configured shutdown timeout.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down")
	if a.cancel != nil {
		a.cancel(nil)
	}
	return a.services.Stop()
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
