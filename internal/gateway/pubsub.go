package gateway

import (
	"context"
	"log"
)

// PubSubRouter manages Redis PubSub subscriptions and routes quote messages
// to the broadcaster for fan-out to WebSocket clients.
type PubSubRouter struct {
	hub *Hub
}

// NewPubSubRouter creates a PubSubRouter backed by the given Hub.
func NewPubSubRouter(hub *Hub) *PubSubRouter {
	return &PubSubRouter{hub: hub}
}

// Run subscribes to the hub's quote channels and routes messages.
// Falls back to a wildcard pattern when no watch symbols are configured.
// Blocks until ctx is cancelled.
func (r *PubSubRouter) Run(ctx context.Context) {
	channels := r.hub.buildChannels()
	if len(channels) == 0 {
		log.Println("[gateway] no watch symbols, subscribing to pub:quote:*")
		r.runPattern(ctx)
		return
	}

	pubsub := r.hub.Rdb.Subscribe(ctx, channels...)
	defer pubsub.Close()

	log.Printf("[gateway] subscribed to %d PubSub channels", len(channels))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.hub.Broadcaster.Broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (r *PubSubRouter) runPattern(ctx context.Context) {
	pubsub := r.hub.Rdb.PSubscribe(ctx, "pub:quote:*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.hub.Broadcaster.Broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}
