package hue

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/amimof/huego"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/dokzlo13/panelhub/internal/colour"
)

// Group types reported to panels. Everything else (Entertainment,
// Luminaire, the implicit group 0) is ignored.
var groupTypes = map[string]bool{
	"LightGroup": true,
	"Room":       true,
	"Zone":       true,
}

const sceneTypeGroup = "GroupScene"

// Group is a light group as seen in a snapshot.
type Group struct {
	ID     int
	Name   string
	Type   string
	Lights []int
}

// Light is a reachable light. Brightness (percent) and Colour are zero
// while the light is off.
type Light struct {
	ID         int
	Name       string
	Model      string
	On         bool
	Brightness int
	Colour     colour.RGB
}

// Scene is a group scene. Colour is nil when it could not be determined.
type Scene struct {
	ID      string
	GroupID int
	Name    string
	Lights  []int
	Colour  *colour.RGB
}

// Snapshot is an immutable view of the bridge at one point in time.
type Snapshot struct {
	Groups  map[int]Group
	Lights  map[int]Light
	Scenes  map[string]Scene
	TakenAt time.Time
}

// ColourResolver determines a representative colour for a scene.
type ColourResolver interface {
	Resolve(ctx context.Context, scene huego.Scene) *colour.RGB
}

// maxColourFetches bounds concurrent scene detail requests per build.
const maxColourFetches = 4

// resolveColours fills kept[i].Colour from source[i]. Resolution never
// fails, so the group is only used for its concurrency limit.
func resolveColours(ctx context.Context, resolver ColourResolver, kept []Scene, source []huego.Scene) {
	var g errgroup.Group
	g.SetLimit(maxColourFetches)
	for i := range kept {
		g.Go(func() error {
			kept[i].Colour = resolver.Resolve(ctx, source[i])
			return nil
		})
	}
	_ = g.Wait()
}

// Build fetches groups, lights and scenes concurrently and assembles a
// snapshot. Any fetch failure fails the whole build. resolver may be nil.
func Build(ctx context.Context, api API, resolver ColourResolver) (*Snapshot, error) {
	var (
		groups []huego.Group
		lights []huego.Light
		scenes []huego.Scene
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		groups, err = api.Groups(gctx)
		return err
	})
	g.Go(func() (err error) {
		lights, err = api.Lights(gctx)
		return err
	})
	g.Go(func() (err error) {
		scenes, err = api.Scenes(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Groups:  make(map[int]Group),
		Lights:  make(map[int]Light),
		Scenes:  make(map[string]Scene),
		TakenAt: time.Now(),
	}

	for _, hg := range groups {
		if hg.ID == 0 || !groupTypes[hg.Type] {
			continue
		}
		snap.Groups[hg.ID] = Group{
			ID:     hg.ID,
			Name:   hg.Name,
			Type:   hg.Type,
			Lights: parseIDs(hg.Lights),
		}
	}

	for _, hl := range lights {
		if hl.State == nil || !hl.State.Reachable {
			continue
		}
		snap.Lights[hl.ID] = convertLight(hl)
	}

	var (
		kept   []Scene
		source []huego.Scene
	)
	for _, hs := range scenes {
		if hs.Type != sceneTypeGroup {
			continue
		}
		gid, err := strconv.Atoi(hs.Group)
		if err != nil {
			continue
		}
		if _, ok := snap.Groups[gid]; !ok {
			continue
		}
		kept = append(kept, Scene{
			ID:      hs.ID,
			GroupID: gid,
			Name:    hs.Name,
			Lights:  parseIDs(hs.Lights),
		})
		source = append(source, hs)
	}

	if resolver != nil {
		resolveColours(ctx, resolver, kept, source)
	}
	for _, s := range kept {
		snap.Scenes[s.ID] = s
	}

	log.Debug().
		Int("groups", len(snap.Groups)).
		Int("lights", len(snap.Lights)).
		Int("scenes", len(snap.Scenes)).
		Msg("Bridge snapshot built")

	return snap, nil
}

func parseIDs(ids []string) []int {
	return lo.FilterMap(ids, func(s string, _ int) (int, bool) {
		id, err := strconv.Atoi(s)
		return id, err == nil
	})
}

func convertLight(hl huego.Light) Light {
	l := Light{
		ID:    hl.ID,
		Name:  hl.Name,
		Model: hl.ModelID,
		On:    hl.State.On,
	}
	if !l.On {
		return l
	}

	l.Brightness = BrightnessToPercent(hl.State.Bri)
	if len(hl.State.Xy) >= 2 {
		xy := colour.XY{X: float64(hl.State.Xy[0]), Y: float64(hl.State.Xy[1])}
		l.Colour = colour.ToRGB(xy, hl.State.Bri)
	} else {
		// colour temperature only lights
		l.Colour = colour.RGB{255, 255, 255}
	}
	return l
}

// BrightnessToPercent maps the bridge's 0..254 scale to 0..100, flooring.
func BrightnessToPercent(bri uint8) int {
	return int(bri) * 100 / 254
}

// PercentToBrightness maps 0..100 to the bridge's 0..254 scale, rounding.
func PercentToBrightness(pct int) uint8 {
	return uint8((pct*254 + 50) / 100)
}

// SortedGroups returns the groups ordered by ID.
func (s *Snapshot) SortedGroups() []Group {
	out := lo.Values(s.Groups)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GroupByName returns the group with the given name. When several groups
// share a name the lowest ID wins.
func (s *Snapshot) GroupByName(name string) (Group, bool) {
	var (
		found Group
		ok    bool
	)
	for _, g := range s.Groups {
		if g.Name == name && (!ok || g.ID < found.ID) {
			found, ok = g, true
		}
	}
	return found, ok
}

// GroupScenes returns the group's scenes ordered by name, then ID.
func (s *Snapshot) GroupScenes(groupID int) []Scene {
	out := lo.Filter(lo.Values(s.Scenes), func(sc Scene, _ int) bool {
		return sc.GroupID == groupID
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SceneByName finds a scene by name within a group.
func (s *Snapshot) SceneByName(groupID int, name string) (Scene, bool) {
	for _, sc := range s.GroupScenes(groupID) {
		if sc.Name == name {
			return sc, true
		}
	}
	return Scene{}, false
}

// Age reports how long ago the snapshot was taken.
func (s *Snapshot) Age() time.Duration {
	return time.Since(s.TakenAt)
}
