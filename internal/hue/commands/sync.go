package commands

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/panelhub/internal/dispatch"
	"github.com/dokzlo13/panelhub/internal/eventbus"
	"github.com/dokzlo13/panelhub/internal/hue/state"
	"github.com/dokzlo13/panelhub/internal/routine"
)

// Synchronizer produces per-group deltas.
type Synchronizer interface {
	Synchronize(ctx context.Context) (map[string]state.ComposedState, error)
}

// SyncAction synchronizes and distributes every delta to subscribers of the
// state command before returning. Deltas of consecutive runs therefore reach
// a panel in the order they were computed. Each delta is then published as a
// state_changed event for best-effort consumers such as the MQTT mirror; bus
// may be nil.
func SyncAction(s Synchronizer, d *dispatch.Dispatcher, bus *eventbus.Bus) routine.Action {
	return func(ctx context.Context) error {
		deltas, err := s.Synchronize(ctx)
		if err != nil {
			return err
		}
		for name, st := range deltas {
			log.Debug().Str("group", name).Bool("on", st.On).Int("brightness", st.Brightness).Msg("Group state changed")
			broadcast(ctx, d, name, st)
			if bus != nil {
				bus.Publish(eventbus.Event{
					Type: eventbus.EventTypeStateChanged,
					Data: map[string]any{"group": name, "state": st},
				})
			}
		}
		return nil
	}
}

func broadcast(ctx context.Context, d *dispatch.Dispatcher, name string, st state.ComposedState) {
	n := d.Distribute(ctx, StateCommand, dispatch.Strings(name), dispatch.Message{
		"group": name,
		"state": st,
	})
	if want := d.Subscribers(StateCommand, dispatch.Strings(name)); n < want {
		log.Warn().Str("group", name).Int("delivered", n).Int("subscribers", want).Msg("State broadcast partially delivered")
	} else if n > 0 {
		log.Debug().Str("group", name).Int("subscribers", n).Msg("State broadcast")
	}
}

// BridgeNudge triggers the sync routine once a burst of bridge events has
// been quiet for the given period. A scene recall reports every light
// separately; this turns it into one sync. Subscribe its Handle method and
// Close it on shutdown.
func BridgeNudge(nudge Nudger, quiet time.Duration) *eventbus.Quiet {
	return eventbus.NewQuiet(quiet, func(events []eventbus.Event) {
		last := events[len(events)-1]
		log.Trace().
			Int("events", len(events)).
			Str("resource_type", last.String("resource_type")).
			Str("resource_id", last.String("resource_id")).
			Msg("Bridge changed")
		nudge.Trigger(SyncRoutine)
	})
}
