package hue

import (
	"context"
	"time"

	"github.com/amimof/huego"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/panelhub/internal/colour"
	"github.com/dokzlo13/panelhub/internal/kv"
)

// SceneColourBucket is the KV bucket scene colours are cached in.
const SceneColourBucket = "scene_colours"

// sceneColourRetry is how long a failed scene detail fetch is remembered
// before the bridge is asked again.
const sceneColourRetry = 5 * time.Minute

type sceneColourEntry struct {
	Colour *colour.RGB `json:"colour,omitempty"`
	Failed bool        `json:"failed,omitempty"`
}

// SceneColourResolver computes the average colour of a scene's lights. The
// bridge only returns light states from the single-scene endpoint, so results
// are cached per scene revision.
type SceneColourResolver struct {
	api   API
	cache  *kv.Typed[sceneColourEntry]
	failed *kv.Typed[sceneColourEntry]
}

// NewSceneColourResolver creates a resolver caching into bucket.
func NewSceneColourResolver(api API, bucket kv.Bucket, ttl time.Duration) *SceneColourResolver {
	return &SceneColourResolver{
		api:    api,
		cache:  kv.NewTyped[sceneColourEntry](bucket, ttl),
		failed: kv.NewTyped[sceneColourEntry](bucket, sceneColourRetry),
	}
}

func sceneColourKey(scene huego.Scene) string {
	return scene.ID + "@" + scene.LastUpdated
}

// Resolve returns the scene colour or nil. It never fails: errors are
// logged and leave the colour unknown until sceneColourRetry has passed.
// Safe for concurrent use.
func (r *SceneColourResolver) Resolve(ctx context.Context, scene huego.Scene) *colour.RGB {
	key := sceneColourKey(scene)

	entry, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("scene", scene.ID).Msg("Failed to read scene colour cache")
	}
	if ok {
		return entry.Colour
	}

	detail, err := r.api.Scene(ctx, scene.ID)
	if err != nil {
		log.Debug().Err(err).Str("scene", scene.ID).Dur("retry_in", sceneColourRetry).Msg("Failed to fetch scene detail")
		if err := r.failed.Put(ctx, key, sceneColourEntry{Failed: true}); err != nil {
			log.Warn().Err(err).Str("scene", scene.ID).Msg("Failed to store scene colour")
		}
		return nil
	}

	entry = sceneColourEntry{Colour: averageColour(detail.LightStates)}
	if err := r.cache.Put(ctx, key, entry); err != nil {
		log.Warn().Err(err).Str("scene", scene.ID).Msg("Failed to store scene colour")
	}
	return entry.Colour
}

// averageColour is the floored per-channel mean over lit states with xy.
func averageColour(states map[int]huego.State) *colour.RGB {
	var (
		sum [3]int
		n   int
	)
	for _, st := range states {
		if !st.On || len(st.Xy) < 2 {
			continue
		}
		rgb := colour.ToRGB(colour.XY{X: float64(st.Xy[0]), Y: float64(st.Xy[1])}, st.Bri)
		for i := range sum {
			sum[i] += int(rgb[i])
		}
		n++
	}
	if n == 0 {
		return nil
	}

	avg := colour.RGB{uint8(sum[0] / n), uint8(sum[1] / n), uint8(sum[2] / n)}
	return &avg
}
