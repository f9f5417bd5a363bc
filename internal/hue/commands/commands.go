// Package commands exposes group control and state subscription to panels.
package commands

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/panelhub/internal/apperr"
	"github.com/dokzlo13/panelhub/internal/colour"
	"github.com/dokzlo13/panelhub/internal/dispatch"
	"github.com/dokzlo13/panelhub/internal/hue"
	"github.com/dokzlo13/panelhub/internal/hue/state"
)

const (
	// Service is the owning service of every command here.
	Service = "hue"

	// StateCommand is the subscribable group state command.
	StateCommand = "state"

	// SyncRoutine names the routine that synchronizes bridge state.
	SyncRoutine = "hue_sync"
)

// Groups is the group state surface the commands act on.
type Groups interface {
	ComposeState(name string, snap *hue.Snapshot) (state.ComposedState, error)
	Update(ctx context.Context, name string, p state.Patch) error
}

// Nudger triggers a routine ahead of its schedule.
type Nudger interface {
	Trigger(name string) bool
}

// Register adds power, brightness, colour, scene and state to d. After a
// successful mutation the sync routine is nudged so subscribers see the
// change without waiting a full interval. nudge may be nil.
func Register(d *dispatch.Dispatcher, groups Groups, nudge Nudger) error {
	h := &handlers{groups: groups, nudge: nudge}

	group := dispatch.Param{Name: "group", Type: dispatch.TypeString}
	cmds := []dispatch.Command{
		{
			ID:          "power",
			Description: "Turn every light in a group on or off",
			Params:      []dispatch.Param{group, {Name: "on", Type: dispatch.TypeBoolean}},
			Handler:     h.power,
		},
		{
			ID:          "brightness",
			Description: "Set group brightness in percent (0-100)",
			Params:      []dispatch.Param{group, {Name: "brightness", Type: dispatch.TypeNumber}},
			Handler:     h.brightness,
		},
		{
			ID:          "colour",
			Description: "Set group colour from an RRGGBB hex string",
			Params:      []dispatch.Param{group, {Name: "colour", Type: dispatch.TypeString}},
			Handler:     h.colour,
		},
		{
			ID:          "scene",
			Description: "Recall a scene belonging to the group",
			Params:      []dispatch.Param{group, {Name: "scene", Type: dispatch.TypeString}},
			Handler:     h.scene,
		},
		{
			ID:           StateCommand,
			Description:  "Get the composed group state and subscribe to changes",
			Params:       []dispatch.Param{group},
			Subscribable: true,
			Handler:      h.state,
		},
	}

	for _, cmd := range cmds {
		cmd.Service = Service
		if err := d.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}

type handlers struct {
	groups Groups
	nudge  Nudger
}

func (h *handlers) apply(ctx context.Context, name string, p state.Patch) (dispatch.Result, error) {
	if err := h.groups.Update(ctx, name, p); err != nil {
		return nil, err
	}
	if h.nudge != nil && !h.nudge.Trigger(SyncRoutine) {
		log.Debug().Str("routine", SyncRoutine).Msg("Sync routine not scheduled, skipping nudge")
	}
	return dispatch.Result{"group": name, "ok": true}, nil
}

func (h *handlers) power(ctx context.Context, args dispatch.Args) (dispatch.Result, error) {
	on := args.Bool(1)
	return h.apply(ctx, args.String(0), state.Patch{On: &on})
}

func (h *handlers) brightness(ctx context.Context, args dispatch.Args) (dispatch.Result, error) {
	v := args.Number(1)
	if math.IsNaN(v) || v < 0 || v > 100 {
		return nil, fmt.Errorf("brightness %v outside 0..100: %w", v, apperr.ErrInvalidArgument)
	}
	pct := int(math.Round(v))
	return h.apply(ctx, args.String(0), state.Patch{Brightness: &pct})
}

func (h *handlers) colour(ctx context.Context, args dispatch.Args) (dispatch.Result, error) {
	c, err := colour.ParseHex(args.String(1))
	if err != nil {
		return nil, err
	}
	return h.apply(ctx, args.String(0), state.Patch{Colour: &c})
}

func (h *handlers) scene(ctx context.Context, args dispatch.Args) (dispatch.Result, error) {
	name := args.String(1)
	return h.apply(ctx, args.String(0), state.Patch{Scene: &name})
}

func (h *handlers) state(_ context.Context, args dispatch.Args) (dispatch.Result, error) {
	name := args.String(0)
	st, err := h.groups.ComposeState(name, nil)
	if err != nil {
		return nil, err
	}
	return dispatch.Result{"group": name, "state": st}, nil
}
