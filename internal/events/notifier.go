package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/adarena/backend/internal/cache"
)

// Notifier publishes game events onto the Redis channel. Publish failures
// are logged, never propagated: the live feed is best-effort and must not
// fail the flag submission that triggered it.
type Notifier struct {
	bus cache.PubSub
	log *slog.Logger
}

func NewNotifier(bus cache.PubSub, log *slog.Logger) *Notifier {
	return &Notifier{bus: bus, log: log}
}

func (n *Notifier) NotifyAttack(ctx context.Context, a AttackNotification) {
	n.publish(ctx, NewEnvelope(EventFlagStolen, a))
}

func (n *Notifier) NotifySubmission(ctx context.Context, s FlagSubmission) {
	n.publish(ctx, NewEnvelope(EventFlagSubmission, s))
}

func (n *Notifier) publish(ctx context.Context, env Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		n.log.Error("event encode failed", "event_type", env.EventType, "err", err)
		return
	}
	if err := n.bus.Publish(ctx, Channel, string(raw)); err != nil {
		n.log.Error("event publish failed", "event_type", env.EventType, "err", err)
	}
}

// InitScoreboardPayload wraps the cached scoreboard for a freshly connected
// game_events client.
func InitScoreboardPayload(state json.RawMessage) ([]byte, error) {
	raw, err := json.Marshal(struct {
		EventType string          `json:"event_type"`
		Event     string          `json:"event"`
		Data      json.RawMessage `json:"data"`
	}{"init_scoreboard", "init_scoreboard", state})
	if err != nil {
		return nil, fmt.Errorf("encode init_scoreboard: %w", err)
	}
	return raw, nil
}
