package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/elio-info/tesis/internal/util"
)

const relayChannel = "delphi:chat"

type relayFrame struct {
	Origin   string   `json:"origin"`
	Envelope Envelope `json:"envelope"`
}

// Relay fans chat events out across API instances over Redis pub/sub.
type Relay struct {
	client   *redis.Client
	hub      *Hub
	instance string
	logger   zerolog.Logger
	pubsub   *redis.PubSub
}

func NewRelay(client *redis.Client, hub *Hub, logger zerolog.Logger) *Relay {
	return &Relay{
		client:   client,
		hub:      hub,
		instance: util.NewID("inst"),
		logger:   logger.With().Str("component", "chat_relay").Logger(),
	}
}

func (r *Relay) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(relayFrame{Origin: r.instance, Envelope: env})
	if err != nil {
		return fmt.Errorf("encode relay frame: %w", err)
	}
	return r.client.Publish(ctx, relayChannel, payload).Err()
}

// Start subscribes and returns once the subscription is confirmed. Frames
// published by this instance are skipped since the hub already delivered them.
func (r *Relay) Start(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, relayChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", relayChannel, err)
	}
	r.pubsub = pubsub
	r.hub.SetRelay(r)

	go func() {
		for msg := range pubsub.Channel() {
			var frame relayFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				r.logger.Warn().Err(err).Msg("discarding malformed relay frame")
				continue
			}
			if frame.Origin == r.instance {
				continue
			}
			r.hub.Deliver(frame.Envelope)
		}
	}()
	return nil
}

func (r *Relay) Close() error {
	if r.pubsub == nil {
		return nil
	}
	return r.pubsub.Close()
}
