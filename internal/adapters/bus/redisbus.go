// Package bus carries room events between server instances over Redis
// pub/sub so presence and chat reach clients connected elsewhere.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/codecollab/collabd/internal/core"
)

// Channel is the shared broadcast channel every instance subscribes to once
// at startup.
const Channel = "ROOM_EVENTS"

type RedisBus struct {
	rdb *redis.Client
}

func NewRedisBus(rdb *redis.Client) *RedisBus {
	return &RedisBus{rdb: rdb}
}

func (b *RedisBus) Publish(ctx context.Context, env core.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.rdb.Publish(ctx, Channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", Channel, err)
	}
	return nil
}

// Subscribe relays every envelope on the channel to fn until ctx is
// cancelled. A malformed payload is logged and skipped; it must not stop the
// relay loop.
func (b *RedisBus) Subscribe(ctx context.Context, fn func(core.Envelope)) error {
	pubsub := b.rdb.Subscribe(ctx, Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe to %s: %w", Channel, err)
	}
	log.Info().Str("module", "bus.redis").Str("channel", Channel).Msg("subscribed to room events")

	go func() {
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
				var env core.Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					log.Error().Err(err).Str("module", "bus.redis").Msg("bad envelope payload")
					continue
				}
				fn(env)
			}
		}
	}()
	return nil
}
