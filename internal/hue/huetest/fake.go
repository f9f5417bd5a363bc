// Package huetest provides an in-memory bridge for tests.
package huetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/amimof/huego"

	"github.com/dokzlo13/panelhub/internal/apperr"
)

// SetCall records one SetGroupState invocation.
type SetCall struct {
	GroupID int
	Patch   map[string]any
}

// Bridge is a fake hue.API. Fields may be replaced between calls while
// holding no other references to the bridge.
type Bridge struct {
	mu sync.Mutex

	GroupList   []huego.Group
	LightList   []huego.Light
	SceneList   []huego.Scene
	SceneDetail map[string]*huego.Scene

	// Err fails every read when set.
	Err error
	// SetErr fails SetGroupState when set.
	SetErr error

	Calls        []SetCall
	SceneFetches int
}

func (b *Bridge) Groups(context.Context) ([]huego.Group, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return nil, b.Err
	}
	return append([]huego.Group(nil), b.GroupList...), nil
}

func (b *Bridge) Lights(context.Context) ([]huego.Light, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return nil, b.Err
	}
	return append([]huego.Light(nil), b.LightList...), nil
}

func (b *Bridge) Scenes(context.Context) ([]huego.Scene, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return nil, b.Err
	}
	return append([]huego.Scene(nil), b.SceneList...), nil
}

func (b *Bridge) Scene(_ context.Context, id string) (*huego.Scene, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.SceneFetches++
	if b.Err != nil {
		return nil, b.Err
	}
	s, ok := b.SceneDetail[id]
	if !ok {
		return nil, fmt.Errorf("scene %s: %w", id, apperr.ErrBackendUnavailable)
	}
	return s, nil
}

func (b *Bridge) SetGroupState(_ context.Context, id int, patch map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SetErr != nil {
		return b.SetErr
	}
	b.Calls = append(b.Calls, SetCall{GroupID: id, Patch: patch})
	return nil
}

// SetCalls returns a copy of the recorded writes.
func (b *Bridge) SetCalls() []SetCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]SetCall(nil), b.Calls...)
}

// Update runs fn with the bridge locked.
func (b *Bridge) Update(fn func(b *Bridge)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

// Group builds a huego group.
func Group(id int, name, typ string, lights ...string) huego.Group {
	return huego.Group{ID: id, Name: name, Type: typ, Lights: lights}
}

// Light builds a reachable huego light.
func Light(id int, model string, on bool, bri uint8, xy ...float32) huego.Light {
	return huego.Light{
		ID:      id,
		Name:    fmt.Sprintf("light %d", id),
		ModelID: model,
		State: &huego.State{
			On:        on,
			Bri:       bri,
			Xy:        xy,
			Reachable: true,
		},
	}
}

// Scene builds a group scene.
func Scene(id, group, name string, lights ...string) huego.Scene {
	return huego.Scene{
		ID:          id,
		Name:        name,
		Type:        "GroupScene",
		Group:       group,
		Lights:      lights,
		LastUpdated: "2024-01-01T00:00:00",
	}
}
