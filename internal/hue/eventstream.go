package hue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	sse "github.com/r3labs/sse/v2"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/panelhub/internal/eventbus"
)

// Resource types whose changes can alter a composed group state.
var watchedResources = map[string]bool{
	"light":         true,
	"grouped_light": true,
	"room":          true,
	"zone":          true,
	"scene":         true,
}

// EventStream listens to the bridge's CLIP v2 event stream and publishes a
// bridge_event for every relevant change.
type EventStream struct {
	url        string
	token      string
	retryDelay time.Duration
}

// NewEventStream creates a listener for the bridge at address.
func NewEventStream(address, token string) *EventStream {
	return &EventStream{
		url:        fmt.Sprintf("https://%s/eventstream/clip/v2", address),
		token:      token,
		retryDelay: 5 * time.Second,
	}
}

func (e *EventStream) newClient() *sse.Client {
	client := sse.NewClient(e.url)
	client.Connection.Transport = &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	client.Headers["hue-application-key"] = e.token

	client.OnConnect(func(_ *sse.Client) {
		log.Info().Msg("Connected to Hue event stream")
	})
	client.OnDisconnect(func(_ *sse.Client) {
		log.Warn().Msg("Hue event stream disconnected")
	})
	return client
}

// Run subscribes until ctx is cancelled. The sse client reconnects on its
// own once connected; a failed initial subscription is retried here.
func (e *EventStream) Run(ctx context.Context, bus *eventbus.Bus) {
	for {
		client := e.newClient()
		events := make(chan *sse.Event)

		if err := client.SubscribeChanRawWithContext(ctx, events); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Dur("retry_in", e.retryDelay).Msg("Failed to subscribe to Hue event stream")

			select {
			case <-ctx.Done():
				return
			case <-time.After(e.retryDelay):
			}
			continue
		}

		e.consume(ctx, events, bus)

		// Unsubscribe blocks until the reader loop notices, which it may
		// never do once the request context is gone
		go client.Unsubscribe(events)
		return
	}
}

func (e *EventStream) consume(ctx context.Context, events <-chan *sse.Event, bus *eventbus.Bus) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev == nil || len(ev.Data) == 0 {
				continue
			}
			for _, published := range parseBridgeEvents(ev.Data) {
				bus.Publish(published)
			}
		}
	}
}

type streamMessage struct {
	Type string `json:"type"`
	Data []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"data"`
}

// parseBridgeEvents turns one SSE payload into bridge_event events.
func parseBridgeEvents(data []byte) []eventbus.Event {
	var messages []streamMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		log.Warn().Err(err).Msg("Failed to parse event stream payload")
		return nil
	}

	var out []eventbus.Event
	for _, m := range messages {
		for _, item := range m.Data {
			if !watchedResources[item.Type] {
				log.Trace().Str("item_type", item.Type).Str("id", item.ID).Msg("Ignoring bridge event")
				continue
			}
			out = append(out, eventbus.Event{
				Type: eventbus.EventTypeBridge,
				Data: map[string]any{
					"change":        m.Type,
					"resource_type": item.Type,
					"resource_id":   item.ID,
				},
			})
		}
	}
	return out
}
