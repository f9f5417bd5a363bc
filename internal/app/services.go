package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/panelhub/internal/config"
	"github.com/dokzlo13/panelhub/internal/db"
	"github.com/dokzlo13/panelhub/internal/dispatch"
	"github.com/dokzlo13/panelhub/internal/eventbus"
	"github.com/dokzlo13/panelhub/internal/hue"
	"github.com/dokzlo13/panelhub/internal/hue/commands"
	"github.com/dokzlo13/panelhub/internal/kv"
	"github.com/dokzlo13/panelhub/internal/mqtt"
	"github.com/dokzlo13/panelhub/internal/routine"
	"github.com/dokzlo13/panelhub/internal/script"
	"github.com/dokzlo13/panelhub/internal/transport"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB           *db.DB
	SceneColours kv.Bucket
	ScriptStore  kv.Bucket
	Bus          *eventbus.Bus

	// Command routing
	Dispatcher *dispatch.Dispatcher
	Scheduler  *routine.Scheduler

	// High-level services
	Hue    *HueService
	Script *ScriptService
	Server *transport.Server
	MQTT   *mqtt.Client

	bridgeNudge *eventbus.Quiet
}

// NewServices creates all services with proper dependency injection.
// Nothing talks to the network until Start.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	if cfg.Database.Path != "" {
		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		s.DB = database
		s.SceneColours = kv.NewSQLiteBucket(database.DB, hue.SceneColourBucket)
		s.ScriptStore = kv.NewSQLiteBucket(database.DB, script.Service)
	} else {
		log.Info().Msg("No database configured, caches are kept in memory")
		s.SceneColours = kv.NewMemoryBucket(hue.SceneColourBucket)
		s.ScriptStore = kv.NewMemoryBucket(script.Service)
	}

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.Workers, cfg.EventBus.QueueSize)
	s.Hue = NewHueService(cfg, s.SceneColours)

	s.Dispatcher = dispatch.New()
	s.Scheduler = routine.New(context.Background())
	if err := commands.Register(s.Dispatcher, s.Hue.Synchronizer, s.Scheduler); err != nil {
		s.Close()
		return nil, fmt.Errorf("register hue commands: %w", err)
	}

	s.Script = NewScriptService(cfg, s.Dispatcher, s.ScriptStore)
	s.Server = transport.NewServer(cfg.Server, s.Dispatcher, s.Hue.Synchronizer)

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs (e.g. the
// listener fails).
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	s.bridgeNudge = commands.BridgeNudge(s.Scheduler, s.cfg.Hue.EventQuiet.Duration())
	s.Bus.Subscribe(eventbus.EventTypeBridge, s.bridgeNudge.Handle)

	if s.cfg.MQTT.Enabled {
		client, err := mqtt.Connect(s.cfg.MQTT)
		if err != nil {
			return err
		}
		s.MQTT = client
		s.Bus.Subscribe(eventbus.EventTypeStateChanged, mqtt.NewMirror(client, s.cfg.MQTT.TopicPrefix).Handle)
	}

	// Script commands must exist before panels can connect
	if s.Script != nil {
		if err := s.Script.Start(ctx); err != nil {
			return err
		}
	}

	syncAction := commands.SyncAction(s.Hue.Synchronizer, s.Dispatcher, s.Bus)
	if err := s.Scheduler.Schedule(commands.SyncRoutine, s.cfg.Hue.SyncInterval.Duration(), s.cfg.Hue.SyncOnStart(), syncAction); err != nil {
		return fmt.Errorf("schedule %s: %w", commands.SyncRoutine, err)
	}
	purge := purgeAction(s.SceneColours, s.ScriptStore)
	if err := s.Scheduler.Schedule(PurgeRoutine, s.cfg.Cache.PurgeInterval.Duration(), false, purge); err != nil {
		return fmt.Errorf("schedule %s: %w", PurgeRoutine, err)
	}

	s.Hue.StartBackground(ctx, s.Bus)

	go func() {
		if err := s.Server.Start(); err != nil {
			onFatalError(fmt.Errorf("panel server: %w", err))
		}
	}()

	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
	defer cancel()

	var errs []error
	if s.Server != nil {
		if err := s.Server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("panel server shutdown: %w", err))
		}
	}
	if s.Scheduler != nil {
		s.Scheduler.Stop()
	}
	if s.Bus != nil {
		s.Bus.Close(ctx)
	}
	if s.bridgeNudge != nil {
		s.bridgeNudge.Close()
	}
	if s.MQTT != nil {
		s.MQTT.Close()
	}

	s.Close()
	return errors.Join(errs...)
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Script != nil {
		s.Script.Close()
	}
	if s.Hue != nil {
		s.Hue.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
