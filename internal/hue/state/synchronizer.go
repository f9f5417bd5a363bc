// Package state keeps the cached bridge snapshot, reports per-group changes
// between snapshots and applies partial group updates.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/panelhub/internal/apperr"
	"github.com/dokzlo13/panelhub/internal/colour"
	"github.com/dokzlo13/panelhub/internal/hue"
)

// Patch lists the fields of a group update. Nil fields are left untouched.
type Patch struct {
	On         *bool
	Brightness *int
	Colour     *colour.RGB
	Scene      *string
}

// Empty reports whether the patch carries no fields.
func (p Patch) Empty() bool {
	return p.On == nil && p.Brightness == nil && p.Colour == nil && p.Scene == nil
}

// Synchronizer owns the cached snapshot.
type Synchronizer struct {
	api      hue.API
	resolver hue.ColourResolver

	snap   atomic.Pointer[hue.Snapshot]
	syncMu sync.Mutex
}

// New creates a synchronizer. resolver may be nil.
func New(api hue.API, resolver hue.ColourResolver) *Synchronizer {
	return &Synchronizer{api: api, resolver: resolver}
}

// Snapshot returns the cached snapshot, or nil before the first sync.
func (s *Synchronizer) Snapshot() *hue.Snapshot {
	return s.snap.Load()
}

// Synchronize fetches a fresh snapshot and returns the groups whose composed
// state changed, keyed by name. Groups are matched on both ID and name; a
// group renamed or re-created is not reported. The first call reports
// nothing. On failure the cached snapshot is kept.
func (s *Synchronizer) Synchronize(ctx context.Context) (map[string]ComposedState, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	next, err := hue.Build(ctx, s.api, s.resolver)
	if err != nil {
		if !errors.Is(err, apperr.ErrBackendUnavailable) {
			err = fmt.Errorf("%w: %w", apperr.ErrBackendUnavailable, err)
		}
		return map[string]ComposedState{}, fmt.Errorf("synchronize: %w", err)
	}

	prev := s.snap.Load()
	deltas := diff(prev, next)
	s.snap.Store(next)

	if len(deltas) > 0 {
		log.Debug().Int("changed", len(deltas)).Msg("Group states changed")
	}
	return deltas, nil
}

func diff(prev, next *hue.Snapshot) map[string]ComposedState {
	deltas := make(map[string]ComposedState)
	if prev == nil {
		return deltas
	}

	for _, g := range next.SortedGroups() {
		old, ok := prev.Groups[g.ID]
		if !ok || old.Name != g.Name {
			continue
		}
		// duplicate names resolve to the lowest ID, like GroupByName
		if _, seen := deltas[g.Name]; seen {
			continue
		}

		before := Compose(old, prev)
		after := Compose(g, next)
		if !before.Equal(after) {
			deltas[g.Name] = after
		}
	}
	return deltas
}

// ComposeState composes the named group in snap, or in the cached snapshot
// when snap is nil.
func (s *Synchronizer) ComposeState(name string, snap *hue.Snapshot) (ComposedState, error) {
	if snap == nil {
		snap = s.snap.Load()
	}
	g, err := findGroup(name, snap)
	if err != nil {
		return ComposedState{}, err
	}
	return Compose(g, snap), nil
}

// FindGroupID resolves a group name in snap, or in the cached snapshot when
// snap is nil.
func (s *Synchronizer) FindGroupID(name string, snap *hue.Snapshot) (int, error) {
	if snap == nil {
		snap = s.snap.Load()
	}
	g, err := findGroup(name, snap)
	if err != nil {
		return 0, err
	}
	return g.ID, nil
}

// Update validates p against the cached snapshot and sends it to the bridge
// as a single group action. The cached snapshot is not modified; the change
// shows up on the next Synchronize.
func (s *Synchronizer) Update(ctx context.Context, name string, p Patch) error {
	snap := s.snap.Load()
	g, err := findGroup(name, snap)
	if err != nil {
		return err
	}

	action := make(map[string]any, 4)

	if p.On != nil {
		action["on"] = *p.On
	}

	if p.Brightness != nil {
		pct := *p.Brightness
		if pct < 0 || pct > 100 {
			return fmt.Errorf("brightness %d outside 0..100: %w", pct, apperr.ErrInvalidArgument)
		}
		action["bri"] = hue.PercentToBrightness(pct)
	}

	if p.Colour != nil {
		gamut := representativeGamut(g, snap)
		xy := colour.ToChromaticity(*p.Colour, gamut)
		action["xy"] = []float64{xy.X, xy.Y}
	}

	if p.Scene != nil {
		sc, ok := snap.SceneByName(g.ID, *p.Scene)
		if !ok {
			return fmt.Errorf("scene %q in group %q: %w", *p.Scene, name, apperr.ErrNotFound)
		}
		action["scene"] = sc.ID
	}

	if len(action) == 0 {
		return fmt.Errorf("empty update for group %q: %w", name, apperr.ErrInvalidArgument)
	}

	if err := s.api.SetGroupState(ctx, g.ID, action); err != nil {
		return err
	}

	log.Info().Str("group", name).Int("group_id", g.ID).Interface("action", action).Msg("Group updated")
	return nil
}

// representativeGamut picks the gamut of the group's first member light
// present in snap. Mixed-model groups are converted for that one light.
func representativeGamut(g hue.Group, snap *hue.Snapshot) colour.Gamut {
	for _, id := range g.Lights {
		if l, ok := snap.Lights[id]; ok {
			if !colour.KnownModel(l.Model) {
				log.Debug().Str("group", g.Name).Str("model", l.Model).Msg("Unknown light model, using default gamut")
			}
			return colour.GamutForModel(l.Model)
		}
	}
	return colour.DefaultGamut
}
