package mqtt

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/panelhub/internal/eventbus"
)

// Publisher sends a retained payload to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Mirror publishes every state_changed event to <prefix>/group/<name>/state.
type Mirror struct {
	pub    Publisher
	prefix string
}

// NewMirror creates a mirror publishing under prefix.
func NewMirror(pub Publisher, prefix string) *Mirror {
	return &Mirror{pub: pub, prefix: prefix}
}

// Handle is an eventbus.Handler for state_changed events.
func (m *Mirror) Handle(e eventbus.Event) {
	name := e.String("group")
	st, ok := e.Data["state"]
	if name == "" || !ok {
		return
	}

	payload, err := json.Marshal(st)
	if err != nil {
		log.Error().Err(err).Str("group", name).Msg("Failed to encode group state")
		return
	}

	topic := StateTopic(m.prefix, name)
	if err := m.pub.Publish(topic, payload); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Failed to mirror group state")
		return
	}
	log.Trace().Str("topic", topic).Msg("Group state mirrored")
}

var topicEscaper = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// StateTopic returns the retained state topic for a group. Characters with
// meaning in MQTT topic filters are replaced in the name.
func StateTopic(prefix, group string) string {
	return prefix + "/group/" + topicEscaper.Replace(group) + "/state"
}

// StatusTopic returns the hub's online/offline topic.
func StatusTopic(prefix string) string {
	return prefix + "/status"
}
