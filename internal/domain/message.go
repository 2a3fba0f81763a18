package domain

import "time"

type MessageID string

// Message is a persisted chat message. Fan-out happens only after the
// collaborator has stored it, so a relayed message is always durable.
type Message struct {
	ID        MessageID `json:"id"`
	RoomID    RoomID    `json:"roomId"`
	UserID    UserID    `json:"userId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}
