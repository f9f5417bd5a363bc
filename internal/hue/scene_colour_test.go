package hue_test

import (
	"context"
	"testing"
	"time"

	"github.com/amimof/huego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/panelhub/internal/colour"
	"github.com/dokzlo13/panelhub/internal/hue"
	"github.com/dokzlo13/panelhub/internal/hue/huetest"
	"github.com/dokzlo13/panelhub/internal/kv"
)

func TestSceneColourResolver(t *testing.T) {
	red := colour.ToRGB(colour.XY{X: 0.675, Y: 0.322}, 254)

	bridge := &huetest.Bridge{
		SceneDetail: map[string]*huego.Scene{
			"s1": {
				ID: "s1",
				LightStates: map[int]huego.State{
					1: {On: true, Bri: 254, Xy: []float32{0.675, 0.322}},
					2: {On: true, Bri: 254, Xy: []float32{0.675, 0.322}},
					3: {On: false, Bri: 254, Xy: []float32{0.17, 0.7}},
					4: {On: true, Bri: 254},
				},
			},
			"dark": {
				ID:          "dark",
				LightStates: map[int]huego.State{1: {On: false}},
			},
		},
	}
	r := hue.NewSceneColourResolver(bridge, kv.NewMemoryBucket(hue.SceneColourBucket), time.Hour)
	ctx := context.Background()

	got := r.Resolve(ctx, huetest.Scene("s1", "1", "Sunset"))
	require.NotNil(t, got)
	assert.Equal(t, red, *got)

	// cached per revision
	got = r.Resolve(ctx, huetest.Scene("s1", "1", "Sunset"))
	require.NotNil(t, got)
	assert.Equal(t, 1, bridge.SceneFetches)

	edited := huetest.Scene("s1", "1", "Sunset")
	edited.LastUpdated = "2024-02-02T00:00:00"
	r.Resolve(ctx, edited)
	assert.Equal(t, 2, bridge.SceneFetches)

	// "no colour" is cached too
	assert.Nil(t, r.Resolve(ctx, huetest.Scene("dark", "1", "Off")))
	assert.Nil(t, r.Resolve(ctx, huetest.Scene("dark", "1", "Off")))
	assert.Equal(t, 3, bridge.SceneFetches)

	// fetch errors yield nil and back off until the retry period passes
	assert.Nil(t, r.Resolve(ctx, huetest.Scene("missing", "1", "Gone")))
	assert.Nil(t, r.Resolve(ctx, huetest.Scene("missing", "1", "Gone")))
	assert.Equal(t, 4, bridge.SceneFetches)
}

func TestSceneColourResolver_FailureExpires(t *testing.T) {
	bridge := &huetest.Bridge{}
	bucket := kv.NewMemoryBucket(hue.SceneColourBucket)
	r := hue.NewSceneColourResolver(bridge, bucket, time.Hour)
	ctx := context.Background()
	scene := huetest.Scene("s1", "1", "Sunset")

	assert.Nil(t, r.Resolve(ctx, scene))
	assert.Equal(t, 1, bridge.SceneFetches)

	bridge.Update(func(b *huetest.Bridge) {
		b.SceneDetail = map[string]*huego.Scene{
			"s1": {ID: "s1", LightStates: map[int]huego.State{1: {On: true, Bri: 254, Xy: []float32{0.675, 0.322}}}},
		}
	})
	assert.Nil(t, r.Resolve(ctx, scene), "failure is remembered")
	assert.Equal(t, 1, bridge.SceneFetches)

	// what the retry period expiring looks like to the resolver
	require.NoError(t, bucket.Delete(ctx, scene.ID+"@"+scene.LastUpdated))
	assert.NotNil(t, r.Resolve(ctx, scene))
	assert.Equal(t, 2, bridge.SceneFetches)
}
