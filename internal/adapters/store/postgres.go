// Package store implements the durable and cache tiers behind the
// collaborator interfaces in core.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/codecollab/collabd/internal/domain"
)

// Postgres is the authoritative room/membership/message store. The
// last_known_* columns hold the flushed document snapshot; they are updated
// only by the flush paths, never per keystroke.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	log.Info().Str("module", "store.postgres").Msg("connected to postgres")
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// EnsureSchema creates the tables this service reads and writes if they do
// not exist yet. Room and user CRUD itself belongs to the external API
// service; the schema here only has to be present for lookups and flushes.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			is_public BOOLEAN NOT NULL DEFAULT FALSE,
			last_known_code TEXT,
			last_known_input TEXT,
			last_known_output TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS room_members (
			room_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			PRIMARY KEY (room_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// FindRoom returns the room with its membership rows, or (nil, nil) when the
// room does not exist.
func (p *Postgres) FindRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	room := &domain.Room{ID: id}
	err := p.pool.QueryRow(ctx,
		`SELECT owner_id, is_public, last_known_code, last_known_input, last_known_output
		 FROM rooms WHERE id = $1`, string(id),
	).Scan(&room.OwnerID, &room.IsPublic, &room.LastKnownCode, &room.LastKnownInput, &room.LastKnownOutput)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find room %s: %w", id, err)
	}

	rows, err := p.pool.Query(ctx, `SELECT user_id FROM room_members WHERE room_id = $1`, string(id))
	if err != nil {
		return nil, fmt.Errorf("find room members %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.UserID); err != nil {
			return nil, fmt.Errorf("scan room member: %w", err)
		}
		room.Members = append(room.Members, m)
	}
	return room, rows.Err()
}

func (p *Postgres) FindUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	user := &domain.User{ID: id}
	err := p.pool.QueryRow(ctx,
		`SELECT username FROM users WHERE id = $1`, string(id),
	).Scan(&user.Username)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", id, err)
	}
	return user, nil
}

func (p *Postgres) SaveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE rooms
		 SET last_known_code = $2, last_known_input = $3, last_known_output = $4
		 WHERE id = $1`,
		string(snap.RoomID), snap.Code, snap.Input, snap.Output)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.RoomID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save snapshot %s: room not found", snap.RoomID)
	}
	return nil
}

func (p *Postgres) CreateMessage(ctx context.Context, roomID domain.RoomID, userID domain.UserID, text string) (*domain.Message, error) {
	msg := &domain.Message{
		ID:     domain.MessageID(uuid.NewString()),
		RoomID: roomID,
		UserID: userID,
		Text:   text,
	}
	err := p.pool.QueryRow(ctx,
		`INSERT INTO messages (id, room_id, user_id, text)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		string(msg.ID), string(roomID), string(userID), text,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return msg, nil
}
