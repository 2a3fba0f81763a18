package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/codecollab/collabd/internal/core"
	"github.com/codecollab/collabd/internal/domain"
)

// Chat persists messages and fans them out. Publish happens only after the
// insert succeeds, so any relayed message is already durable. Delivery to
// this instance's own sockets also goes through the bus subscription, which
// keeps ordering identical on every instance.
type Chat struct {
	messages core.MessageStore
	bus      core.Bus
	origin   string
}

func NewChat(messages core.MessageStore, bus core.Bus, origin string) *Chat {
	return &Chat{messages: messages, bus: bus, origin: origin}
}

func (c *Chat) Send(ctx context.Context, roomID domain.RoomID, userID domain.UserID, text string) error {
	if text == "" {
		return fmt.Errorf("empty chat message")
	}
	msg, err := c.messages.CreateMessage(ctx, roomID, userID, text)
	if err != nil {
		return fmt.Errorf("persist chat message: %w", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}
	env := core.Envelope{RoomID: roomID, Type: EventTypeChatReceive, Data: data, Origin: c.origin}
	if err := c.bus.Publish(ctx, env); err != nil {
		// The message is stored; peers just miss the live delivery.
		log.Error().Err(err).Str("module", "app.chat").Str("room", string(roomID)).Msg("chat publish failed")
	}
	return nil
}
