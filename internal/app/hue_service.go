package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/panelhub/internal/config"
	"github.com/dokzlo13/panelhub/internal/eventbus"
	"github.com/dokzlo13/panelhub/internal/hue"
	"github.com/dokzlo13/panelhub/internal/hue/state"
	"github.com/dokzlo13/panelhub/internal/kv"
)

// HueService wraps the bridge client, the scene colour resolver, the state
// synchronizer and the optional event stream.
type HueService struct {
	cfg *config.Config

	Client       *hue.Client
	Resolver     *hue.SceneColourResolver
	Synchronizer *state.Synchronizer
	EventStream  *hue.EventStream
}

// NewHueService creates the bridge components. Nothing is fetched until the
// sync routine first runs.
func NewHueService(cfg *config.Config, sceneColours kv.Bucket) *HueService {
	client := hue.NewClient(cfg.Hue.Bridge, cfg.Hue.Token, cfg.Hue.Timeout.Duration(), cfg.Hue.RateLimitRPS)
	resolver := hue.NewSceneColourResolver(client, sceneColours, cfg.Cache.SceneColourTTL.Duration())

	s := &HueService{
		cfg:          cfg,
		Client:       client,
		Resolver:     resolver,
		Synchronizer: state.New(client, resolver),
	}
	if cfg.Hue.EventStream {
		s.EventStream = hue.NewEventStream(cfg.Hue.Bridge, cfg.Hue.Token)
	}
	return s
}

// StartBackground starts the event stream listener when enabled.
func (s *HueService) StartBackground(ctx context.Context, bus *eventbus.Bus) {
	if s.EventStream == nil {
		log.Info().Msg("Hue event stream disabled, relying on periodic sync")
		return
	}
	go s.EventStream.Run(ctx, bus)
}

// Close releases the client.
func (s *HueService) Close() {
	if s.Client != nil {
		s.Client.Close()
	}
}
