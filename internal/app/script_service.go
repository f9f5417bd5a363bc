package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/panelhub/internal/config"
	"github.com/dokzlo13/panelhub/internal/dispatch"
	"github.com/dokzlo13/panelhub/internal/kv"
	"github.com/dokzlo13/panelhub/internal/script"
)

// ScriptService wraps the Lua runtime defining script commands.
type ScriptService struct {
	cfg     *config.Config
	Runtime *script.Runtime
}

// NewScriptService returns nil when no script is configured.
func NewScriptService(cfg *config.Config, d *dispatch.Dispatcher, store kv.Bucket) *ScriptService {
	if cfg.Script.Path == "" {
		return nil
	}
	return &ScriptService{
		cfg:     cfg,
		Runtime: script.NewRuntime(cfg.Script.Path, d, store),
	}
}

// Start runs the Lua worker, loads the script and optionally watches it.
// A script that fails to load on startup is an error.
func (s *ScriptService) Start(ctx context.Context) error {
	// Start Lua worker goroutine - this is the ONLY goroutine that touches Lua
	go s.Runtime.Run(ctx)

	if err := s.Runtime.Reload(ctx); err != nil {
		return err
	}

	if s.cfg.Script.Watch {
		if err := s.Runtime.Watch(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to watch Lua script, hot reload disabled")
		}
	}
	return nil
}

// Close stops the Lua worker.
func (s *ScriptService) Close() {
	if s.Runtime != nil {
		s.Runtime.Close()
	}
}
