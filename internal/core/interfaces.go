package core

import (
	"context"
	"encoding/json"

	"github.com/codecollab/collabd/internal/domain"
)

// Frame is a raw payload delivered to a peer connection.
type Frame []byte

type SessionID string

// PeerConn abstracts a client transport endpoint.
// Owned by the adapter; the adapter must Close() it.
type PeerConn interface {
	// TrySend queues a JSON control frame without blocking; it returns an
	// error when the peer's send buffer is full or the connection is closed.
	TrySend(Frame) error
	// WakeSync nudges the connection's replication writer to drain pending
	// document changes. Must never block.
	WakeSync()
	Close()
}

// MemberDTO is a read-only presence view for broadcasts (no transport fields).
type MemberDTO struct {
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
}

// Envelope is the cross-instance event carried on the ROOM_EVENTS channel.
// Origin identifies the publishing instance so relays can skip events they
// have already delivered locally.
type Envelope struct {
	RoomID domain.RoomID   `json:"roomId"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	Origin string          `json:"origin,omitempty"`
}

// RoomStore is the durable room collaborator: access records plus the
// last-known snapshot fields used as the authoritative persistence fallback.
type RoomStore interface {
	FindRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	SaveSnapshot(ctx context.Context, snap domain.Snapshot) error
	FindUser(ctx context.Context, id domain.UserID) (*domain.User, error)
}

// MessageStore persists chat messages before any fan-out.
type MessageStore interface {
	CreateMessage(ctx context.Context, roomID domain.RoomID, userID domain.UserID, text string) (*domain.Message, error)
}

// CachedSnapshot distinguishes "cached empty string" from "not cached" per
// field, because hydration treats the two differently.
type CachedSnapshot struct {
	Code, Input, Output          string
	HasCode, HasInput, HasOutput bool
}

// SnapshotCache is the fast shared cache in front of the durable record.
// A missing key is not an error; errors mean the cache is unreachable.
type SnapshotCache interface {
	LoadSnapshot(ctx context.Context, id domain.RoomID) (CachedSnapshot, error)
	SaveSnapshot(ctx context.Context, snap domain.Snapshot) error
}

// Bus is the cross-instance broadcast channel.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe delivers every envelope published on the channel, including
	// this instance's own, until ctx is cancelled.
	Subscribe(ctx context.Context, fn func(Envelope)) error
}
