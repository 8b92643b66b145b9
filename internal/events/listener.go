package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/adarena/backend/internal/cache"
)

// Listener subscribes to the Redis event channel and routes each envelope
// to the hub its audience watches.
type Listener struct {
	pubsub  cache.PubSub
	gameHub *Hub
	liveHub *Hub
	log     *slog.Logger
}

func NewListener(pubsub cache.PubSub, gameHub, liveHub *Hub, log *slog.Logger) *Listener {
	return &Listener{pubsub: pubsub, gameHub: gameHub, liveHub: liveHub, log: log}
}

// Run consumes until ctx is cancelled, resubscribing after connection loss.
func (l *Listener) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := l.consume(ctx); err != nil && ctx.Err() == nil {
			l.log.Error("event subscription lost, retrying", "err", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
		}
	}
}

func (l *Listener) consume(ctx context.Context) error {
	sub, err := l.pubsub.Subscribe(ctx, Channel)
	if err != nil {
		return err
	}
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			l.route([]byte(payload))
		}
	}
}

func (l *Listener) route(payload []byte) {
	var env struct {
		EventType EventType `json:"event_type"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		l.log.Warn("undecodable event dropped", "err", err)
		return
	}
	switch env.EventType {
	case EventScoreboardUpdate:
		l.gameHub.Broadcast(payload)
	case EventFlagSubmission, EventCheckerUpdate, EventFlagStolen:
		l.liveHub.Broadcast(payload)
	default:
		l.log.Warn("unknown event type dropped", "event_type", env.EventType)
	}
}
