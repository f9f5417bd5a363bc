package state

import (
	"fmt"

	"github.com/dokzlo13/panelhub/internal/apperr"
	"github.com/dokzlo13/panelhub/internal/colour"
	"github.com/dokzlo13/panelhub/internal/hue"
)

// SceneSummary is a scene as reported inside a composed state.
type SceneSummary struct {
	Name   string      `json:"name"`
	Colour *colour.RGB `json:"colour"`
}

// ComposedState is the aggregate a panel sees for one group.
type ComposedState struct {
	On         bool           `json:"on"`
	Brightness int            `json:"brightness"`
	Colour     colour.RGB     `json:"colour"`
	Scenes     []SceneSummary `json:"scenes"`
}

// Equal compares every field, including scene order and colours.
func (s ComposedState) Equal(o ComposedState) bool {
	if s.On != o.On || s.Brightness != o.Brightness || s.Colour != o.Colour {
		return false
	}
	if len(s.Scenes) != len(o.Scenes) {
		return false
	}
	for i := range s.Scenes {
		a, b := s.Scenes[i], o.Scenes[i]
		if a.Name != b.Name {
			return false
		}
		if (a.Colour == nil) != (b.Colour == nil) {
			return false
		}
		if a.Colour != nil && *a.Colour != *b.Colour {
			return false
		}
	}
	return true
}

// Compose aggregates the group's member lights and scenes in snap. Members
// missing from the snapshot (unreachable) are ignored.
func Compose(g hue.Group, snap *hue.Snapshot) ComposedState {
	var (
		st     ComposedState
		on     int
		briSum int
		rgbSum [3]int
	)

	for _, id := range g.Lights {
		l, ok := snap.Lights[id]
		if !ok || !l.On {
			continue
		}
		on++
		briSum += l.Brightness
		for i := range rgbSum {
			rgbSum[i] += int(l.Colour[i])
		}
	}

	if on > 0 {
		st.On = true
		st.Brightness = briSum / on
		st.Colour = colour.RGB{uint8(rgbSum[0] / on), uint8(rgbSum[1] / on), uint8(rgbSum[2] / on)}
	}

	scenes := snap.GroupScenes(g.ID)
	st.Scenes = make([]SceneSummary, len(scenes))
	for i, sc := range scenes {
		st.Scenes[i] = SceneSummary{Name: sc.Name, Colour: sc.Colour}
	}
	return st
}

func findGroup(name string, snap *hue.Snapshot) (hue.Group, error) {
	if snap == nil {
		return hue.Group{}, fmt.Errorf("no bridge snapshot yet: %w", apperr.ErrBackendUnavailable)
	}
	g, ok := snap.GroupByName(name)
	if !ok {
		return hue.Group{}, fmt.Errorf("group %q: %w", name, apperr.ErrNotFound)
	}
	return g, nil
}
