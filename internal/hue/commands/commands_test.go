package commands

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/amimof/huego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/panelhub/internal/apperr"
	"github.com/dokzlo13/panelhub/internal/dispatch"
	"github.com/dokzlo13/panelhub/internal/eventbus"
	"github.com/dokzlo13/panelhub/internal/hue/huetest"
	"github.com/dokzlo13/panelhub/internal/hue/state"
)

type nudger struct {
	mu    sync.Mutex
	names []string
}

func (n *nudger) Trigger(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.names = append(n.names, name)
	return true
}

func (n *nudger) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.names)
}

type recorder struct {
	mu   sync.Mutex
	msgs []dispatch.Message
}

func (r *recorder) ID() string { return "panel-1" }

func (r *recorder) Send(_ context.Context, msg dispatch.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) received() []dispatch.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dispatch.Message(nil), r.msgs...)
}

type fixture struct {
	d      *dispatch.Dispatcher
	sync   *state.Synchronizer
	bridge *huetest.Bridge
	nudge  *nudger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	bridge := &huetest.Bridge{
		GroupList: []huego.Group{
			huetest.Group(1, "Kitchen", "Room", "10", "11"),
			huetest.Group(2, "Hall", "Zone", "12"),
		},
		LightList: []huego.Light{
			huetest.Light(10, "LCT015", true, 127, 0.5, 0.4),
			huetest.Light(11, "LCT015", false, 254, 0.3, 0.3),
			huetest.Light(12, "LCT015", true, 254, 0.3, 0.3),
		},
		SceneList: []huego.Scene{
			huetest.Scene("abc", "1", "Relax", "10", "11"),
			huetest.Scene("def", "2", "Movie Night", "12"),
		},
	}

	s := state.New(bridge, nil)
	_, err := s.Synchronize(context.Background())
	require.NoError(t, err)

	f := &fixture{d: dispatch.New(), sync: s, bridge: bridge, nudge: &nudger{}}
	require.NoError(t, Register(f.d, s, f.nudge))
	return f
}

func (f *fixture) call(sub dispatch.Subscriber, id string, raw map[string]any) (dispatch.Result, error) {
	return f.d.Dispatch(context.Background(), sub, id, raw)
}

func TestRegister_Descriptors(t *testing.T) {
	f := newFixture(t)

	cmds := f.d.Commands(Service)
	ids := make([]string, len(cmds))
	for i, c := range cmds {
		ids[i] = c.ID
		assert.Equal(t, c.ID == StateCommand, c.Subscribable, c.ID)
	}
	assert.Equal(t, []string{"brightness", "colour", "power", "scene", "state"}, ids)
}

func TestPower(t *testing.T) {
	f := newFixture(t)

	res, err := f.call(nil, "power", map[string]any{"group": "Kitchen", "on": false})
	require.NoError(t, err)
	assert.Equal(t, dispatch.Result{"group": "Kitchen", "ok": true}, res)

	calls := f.bridge.SetCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"on": false}, calls[0].Patch)
	assert.Equal(t, 1, f.nudge.count())
}

func TestPower_TypeMismatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.call(nil, "power", map[string]any{"group": "Kitchen", "on": "off"})
	assert.ErrorIs(t, err, apperr.ErrTypeMismatch)
	assert.Empty(t, f.bridge.SetCalls())
	assert.Zero(t, f.nudge.count())
}

func TestBrightness(t *testing.T) {
	tests := []struct {
		name    string
		value   float64
		wantErr error
		wantBri uint8
	}{
		{"zero", 0, nil, 0},
		{"half", 50, nil, 127},
		{"rounded", 49.6, nil, 127},
		{"full", 100, nil, 254},
		{"negative", -1, apperr.ErrInvalidArgument, 0},
		{"too_high", 101, apperr.ErrInvalidArgument, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.call(nil, "brightness", map[string]any{"group": "Kitchen", "brightness": tt.value})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, f.bridge.SetCalls())
				return
			}
			require.NoError(t, err)
			calls := f.bridge.SetCalls()
			require.Len(t, calls, 1)
			assert.Equal(t, map[string]any{"bri": tt.wantBri}, calls[0].Patch)
		})
	}
}

func TestColour(t *testing.T) {
	f := newFixture(t)

	_, err := f.call(nil, "colour", map[string]any{"group": "Kitchen", "colour": "red"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	res, err := f.call(nil, "colour", map[string]any{"group": "Kitchen", "colour": "#FF0000"})
	require.NoError(t, err)
	assert.Equal(t, true, res["ok"])

	calls := f.bridge.SetCalls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Patch, "xy")
	assert.Len(t, calls[0].Patch, 1)
}

func TestScene(t *testing.T) {
	f := newFixture(t)

	_, err := f.call(nil, "scene", map[string]any{"group": "Kitchen", "scene": "Movie Night"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, f.bridge.SetCalls())

	_, err = f.call(nil, "scene", map[string]any{"group": "Kitchen", "scene": "Relax"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"scene": "abc"}, f.bridge.SetCalls()[0].Patch)
}

func TestState_ReturnsAndSubscribes(t *testing.T) {
	f := newFixture(t)
	sub := &recorder{}

	res, err := f.call(sub, StateCommand, map[string]any{"group": "Kitchen"})
	require.NoError(t, err)
	assert.Equal(t, "Kitchen", res["group"])

	st, ok := res["state"].(state.ComposedState)
	require.True(t, ok)
	assert.True(t, st.On)
	require.Len(t, st.Scenes, 1)
	assert.Equal(t, "Relax", st.Scenes[0].Name)

	assert.Equal(t, 1, f.d.Subscribers(StateCommand, dispatch.Strings("Kitchen")))

	_, err = f.call(sub, StateCommand, map[string]any{"group": "Garage"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Zero(t, f.d.Subscribers(StateCommand, dispatch.Strings("Garage")))
}

func TestSyncBroadcastsToSubscribers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	kitchen := &recorder{}
	_, err := f.call(kitchen, StateCommand, map[string]any{"group": "Kitchen"})
	require.NoError(t, err)

	f.bridge.Update(func(b *huetest.Bridge) {
		b.LightList[0] = huetest.Light(10, "LCT015", false, 127, 0.5, 0.4)
	})

	action := SyncAction(f.sync, f.d, nil)
	require.NoError(t, action(ctx))

	// delivered before the action returns
	require.Len(t, kitchen.received(), 1)
	msg := kitchen.received()[0]
	assert.Equal(t, StateCommand, msg["command"])
	assert.Equal(t, "Kitchen", msg["group"])
	st := msg["state"].(state.ComposedState)
	assert.False(t, st.On)

	// no change, no broadcast
	require.NoError(t, action(ctx))
	assert.Len(t, kitchen.received(), 1)
}

func TestSyncAction_DeliversInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bus := eventbus.NewWithConfig(4, 1)
	defer bus.Close(ctx)
	bus.Subscribe(eventbus.EventTypeStateChanged, func(eventbus.Event) { time.Sleep(time.Millisecond) })

	kitchen := &recorder{}
	_, err := f.call(kitchen, StateCommand, map[string]any{"group": "Kitchen"})
	require.NoError(t, err)

	action := SyncAction(f.sync, f.d, bus)
	var want []int
	for i := 1; i <= 50; i++ {
		bri := uint8(i * 5)
		f.bridge.Update(func(b *huetest.Bridge) {
			b.LightList[0] = huetest.Light(10, "LCT015", true, bri, 0.5, 0.4)
		})
		require.NoError(t, action(ctx))

		current, err := f.sync.ComposeState("Kitchen", nil)
		require.NoError(t, err)
		want = append(want, current.Brightness)
	}

	msgs := kitchen.received()
	require.Len(t, msgs, len(want))
	for i, msg := range msgs {
		assert.Equal(t, want[i], msg["state"].(state.ComposedState).Brightness, "message %d", i)
	}
}

type closedSub struct{}

func (closedSub) ID() string { return "panel-gone" }

func (closedSub) Send(context.Context, dispatch.Message) error { return errors.New("connection closed") }

func TestSyncAction_FailingSubscriberIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	kitchen := &recorder{}
	for _, sub := range []dispatch.Subscriber{kitchen, closedSub{}} {
		_, err := f.call(sub, StateCommand, map[string]any{"group": "Kitchen"})
		require.NoError(t, err)
	}

	f.bridge.Update(func(b *huetest.Bridge) {
		b.LightList[0] = huetest.Light(10, "LCT015", false, 127, 0.5, 0.4)
	})
	require.NoError(t, SyncAction(f.sync, f.d, nil)(ctx))

	assert.Len(t, kitchen.received(), 1)
	assert.Equal(t, 2, f.d.Subscribers(StateCommand, dispatch.Strings("Kitchen")))
}

func TestSyncAction_PublishesForMirrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bus := eventbus.NewWithConfig(1, 10)
	var (
		mu     sync.Mutex
		groups []string
	)
	bus.Subscribe(eventbus.EventTypeStateChanged, func(e eventbus.Event) {
		mu.Lock()
		defer mu.Unlock()
		groups = append(groups, e.String("group"))
	})

	f.bridge.Update(func(b *huetest.Bridge) {
		b.LightList[2] = huetest.Light(12, "LCT015", false, 254, 0.3, 0.3)
	})
	require.NoError(t, SyncAction(f.sync, f.d, bus)(ctx))
	bus.Close(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Hall"}, groups)
}

func TestSyncAction_PropagatesFailure(t *testing.T) {
	f := newFixture(t)

	f.bridge.Update(func(b *huetest.Bridge) { b.Err = apperr.ErrBackendUnavailable })
	err := SyncAction(f.sync, f.d, nil)(context.Background())
	assert.ErrorIs(t, err, apperr.ErrBackendUnavailable)
}

func TestBridgeNudge(t *testing.T) {
	n := &nudger{}
	nudge := BridgeNudge(n, 0)
	defer nudge.Close()

	nudge.Handle(eventbus.Event{Type: eventbus.EventTypeBridge, Data: map[string]any{"resource_type": "light"}})
	assert.Equal(t, []string{SyncRoutine}, n.names)
}
