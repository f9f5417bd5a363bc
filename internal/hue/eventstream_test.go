package hue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/panelhub/internal/eventbus"
)

func TestParseBridgeEvents(t *testing.T) {
	payload := `[
		{"type": "update", "data": [
			{"id": "l-1", "type": "light"},
			{"id": "b-1", "type": "button"},
			{"id": "g-1", "type": "grouped_light"}
		]},
		{"type": "add", "data": [{"id": "sc-1", "type": "scene"}]}
	]`

	events := parseBridgeEvents([]byte(payload))
	require.Len(t, events, 3)

	for _, e := range events {
		assert.Equal(t, eventbus.EventTypeBridge, e.Type)
	}
	assert.Equal(t, "l-1", events[0].String("resource_id"))
	assert.Equal(t, "grouped_light", events[1].String("resource_type"))
	assert.Equal(t, "add", events[2].String("change"))
}

func TestParseBridgeEvents_Garbage(t *testing.T) {
	assert.Empty(t, parseBridgeEvents([]byte("hi")))
}
