package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/codecollab/collabd/internal/core"
	"github.com/codecollab/collabd/internal/domain"
)

var (
	// ErrUnauthorized: the credential is missing, malformed or expired.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden: valid credential, but the user may not join this room.
	ErrForbidden = errors.New("forbidden")
)

// Gate authorizes a connection upgrade: it resolves the bearer token to a
// user and checks room access once, at upgrade time. Edits on an open socket
// are trusted afterwards, consistent with the room access model.
type Gate struct {
	secret []byte
	rooms  core.RoomStore
}

func NewGate(secret string, rooms core.RoomStore) *Gate {
	return &Gate{secret: []byte(secret), rooms: rooms}
}

// Authorize fails closed: any verification or lookup failure rejects the
// upgrade. Owner, explicit member, or a public room all grant access; a
// public room admits any authenticated user even without a membership row.
func (g *Gate) Authorize(ctx context.Context, roomID domain.RoomID, token string) (*domain.User, error) {
	uid, err := g.verify(token)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.gate").Str("room", string(roomID)).Msg("invalid token")
		return nil, ErrUnauthorized
	}

	user, err := g.rooms.FindUser(ctx, uid)
	if err != nil || user == nil {
		log.Warn().Err(err).Str("module", "app.gate").Str("user", string(uid)).Msg("unknown user")
		return nil, ErrUnauthorized
	}

	room, err := g.rooms.FindRoom(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("module", "app.gate").Str("room", string(roomID)).Msg("room lookup failed")
		return nil, ErrForbidden
	}
	if room == nil {
		return nil, ErrForbidden
	}
	if room.OwnerID == uid || room.HasMember(uid) || room.IsPublic {
		log.Info().Str("module", "app.gate").Str("room", string(roomID)).Str("user", string(uid)).Msg("access granted")
		return user, nil
	}
	return nil, ErrForbidden
}

func (g *Gate) verify(token string) (domain.UserID, error) {
	if token == "" {
		return "", fmt.Errorf("no token provided")
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return "", fmt.Errorf("invalid claims")
	}
	uid, _ := claims["userId"].(string)
	if uid == "" {
		return "", fmt.Errorf("token missing userId claim")
	}
	return domain.UserID(uid), nil
}
