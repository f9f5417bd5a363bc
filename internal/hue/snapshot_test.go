package hue_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/amimof/huego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/panelhub/internal/apperr"
	"github.com/dokzlo13/panelhub/internal/colour"
	"github.com/dokzlo13/panelhub/internal/hue"
	"github.com/dokzlo13/panelhub/internal/hue/huetest"
)

func fixtureBridge() *huetest.Bridge {
	unreachable := huetest.Light(4, "LCT015", true, 254, 0.3, 0.3)
	unreachable.State.Reachable = false

	return &huetest.Bridge{
		GroupList: []huego.Group{
			huetest.Group(0, "All", "LightGroup", "1", "2"),
			huetest.Group(1, "Kitchen", "Room", "1", "2", "bogus"),
			huetest.Group(2, "Hall", "Zone", "3"),
			huetest.Group(3, "Desk", "LightGroup", "4"),
			huetest.Group(4, "TV", "Entertainment", "1"),
		},
		LightList: []huego.Light{
			huetest.Light(1, "LCT015", true, 254, 0.3127, 0.3290),
			huetest.Light(2, "LCT015", false, 200, 0.5, 0.4),
			huetest.Light(3, "LTW001", true, 127),
			unreachable,
		},
		SceneList: []huego.Scene{
			huetest.Scene("s1", "1", "Relax", "1", "2"),
			huetest.Scene("s2", "4", "Gaming", "1"),
			{ID: "s3", Name: "Legacy", Type: "LightScene", Lights: []string{"1"}},
			huetest.Scene("s4", "notanumber", "Broken"),
		},
	}
}

func TestBuild_Filters(t *testing.T) {
	snap, err := hue.Build(context.Background(), fixtureBridge(), nil)
	require.NoError(t, err)

	assert.ElementsMatch(t, []int{1, 2, 3}, keys(snap.Groups))
	assert.Equal(t, []int{1, 2}, snap.Groups[1].Lights, "non-numeric member IDs are dropped")

	assert.ElementsMatch(t, []int{1, 2, 3}, keys(snap.Lights), "unreachable lights are dropped")

	require.Len(t, snap.Scenes, 1)
	assert.Equal(t, 1, snap.Scenes["s1"].GroupID)
	assert.False(t, snap.TakenAt.IsZero())
}

func TestBuild_LightConversion(t *testing.T) {
	snap, err := hue.Build(context.Background(), fixtureBridge(), nil)
	require.NoError(t, err)

	on := snap.Lights[1]
	assert.True(t, on.On)
	assert.Equal(t, 100, on.Brightness)
	assert.Equal(t, uint8(255), on.Colour[2])

	off := snap.Lights[2]
	assert.False(t, off.On)
	assert.Zero(t, off.Brightness)
	assert.Equal(t, colour.Black, off.Colour)

	ct := snap.Lights[3]
	assert.Equal(t, 50, ct.Brightness)
	assert.Equal(t, colour.RGB{255, 255, 255}, ct.Colour)
}

func TestBuild_AnyFetchFailureFails(t *testing.T) {
	b := fixtureBridge()
	b.Err = errors.New("timeout")

	snap, err := hue.Build(context.Background(), b, nil)
	assert.Nil(t, snap)
	assert.Error(t, err)
}

type staticResolver struct{ c colour.RGB }

func (s staticResolver) Resolve(context.Context, huego.Scene) *colour.RGB { return &s.c }

func TestBuild_ResolvesSceneColours(t *testing.T) {
	snap, err := hue.Build(context.Background(), fixtureBridge(), staticResolver{c: colour.RGB{1, 2, 3}})
	require.NoError(t, err)
	require.NotNil(t, snap.Scenes["s1"].Colour)
	assert.Equal(t, colour.RGB{1, 2, 3}, *snap.Scenes["s1"].Colour)
}

type slowResolver struct {
	mu       sync.Mutex
	inFlight int
	peak     int
}

func (r *slowResolver) Resolve(_ context.Context, scene huego.Scene) *colour.RGB {
	r.mu.Lock()
	r.inFlight++
	r.peak = max(r.peak, r.inFlight)
	r.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()

	n, _ := strconv.Atoi(scene.ID)
	return &colour.RGB{uint8(n), 0, 0}
}

func TestBuild_ResolvesSceneColoursConcurrently(t *testing.T) {
	bridge := fixtureBridge()
	bridge.SceneList = nil
	for i := 1; i <= 12; i++ {
		bridge.SceneList = append(bridge.SceneList, huetest.Scene(strconv.Itoa(i), "1", fmt.Sprintf("Scene %d", i), "1"))
	}

	r := &slowResolver{}
	snap, err := hue.Build(context.Background(), bridge, r)
	require.NoError(t, err)

	require.Len(t, snap.Scenes, 12)
	for id, sc := range snap.Scenes {
		n, _ := strconv.Atoi(id)
		require.NotNil(t, sc.Colour, id)
		assert.Equal(t, colour.RGB{uint8(n), 0, 0}, *sc.Colour, id)
	}
	assert.LessOrEqual(t, r.peak, 4)
}

func TestSnapshotLookups(t *testing.T) {
	snap := &hue.Snapshot{
		Groups: map[int]hue.Group{
			7: {ID: 7, Name: "Kitchen"},
			3: {ID: 3, Name: "Kitchen"},
			5: {ID: 5, Name: "Hall"},
		},
		Scenes: map[string]hue.Scene{
			"b": {ID: "b", GroupID: 3, Name: "Relax"},
			"a": {ID: "a", GroupID: 3, Name: "Bright"},
			"c": {ID: "c", GroupID: 5, Name: "Relax"},
		},
	}

	g, ok := snap.GroupByName("Kitchen")
	require.True(t, ok)
	assert.Equal(t, 3, g.ID)

	_, ok = snap.GroupByName("Garage")
	assert.False(t, ok)

	assert.Equal(t, []int{3, 5, 7}, groupIDs(snap.SortedGroups()))

	scenes := snap.GroupScenes(3)
	require.Len(t, scenes, 2)
	assert.Equal(t, "Bright", scenes[0].Name)

	s, ok := snap.SceneByName(5, "Relax")
	require.True(t, ok)
	assert.Equal(t, "c", s.ID)

	_, ok = snap.SceneByName(5, "Bright")
	assert.False(t, ok)
}

func TestBrightnessScale(t *testing.T) {
	tests := []struct {
		bri uint8
		pct int
	}{
		{0, 0}, {1, 0}, {3, 1}, {127, 50}, {253, 99}, {254, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.pct, hue.BrightnessToPercent(tt.bri), "bri=%d", tt.bri)
	}

	assert.Equal(t, uint8(0), hue.PercentToBrightness(0))
	assert.Equal(t, uint8(127), hue.PercentToBrightness(50))
	assert.Equal(t, uint8(254), hue.PercentToBrightness(100))
}

func TestClientErrorsAreBackendUnavailable(t *testing.T) {
	c := hue.NewClient("127.0.0.1:1", "token", 0, 0)
	_, err := c.Groups(context.Background())
	assert.ErrorIs(t, err, apperr.ErrBackendUnavailable)
}

func keys[V any](m map[int]V) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func groupIDs(groups []hue.Group) []int {
	out := make([]int, len(groups))
	for i, g := range groups {
		out[i] = g.ID
	}
	return out
}
