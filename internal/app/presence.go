package app

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/codecollab/collabd/internal/core"
	"github.com/codecollab/collabd/internal/domain"
)

// EventTypePresence and friends are the envelope types carried to clients
// and across instances on the ROOM_EVENTS channel.
const (
	EventTypePresence    = "presence-update"
	EventTypeChatReceive = "chat:receive"
)

// ConnLister provides the local fan-out targets for a room. Implemented by
// the lifecycle manager, which owns the connection sets.
type ConnLister interface {
	LocalConns(id domain.RoomID) []core.PeerConn
}

// Presence tracks who is in each room and fans out the rebuilt member list on
// every join/leave, locally and via the cross-instance bus. The list is
// recomputed from scratch each time rather than patched, so a missed event
// cannot leave it drifted.
type Presence struct {
	conns  ConnLister
	bus    core.Bus
	origin string

	mu    sync.Mutex
	rooms map[domain.RoomID][]core.MemberDTO
}

func NewPresence(conns ConnLister, bus core.Bus, origin string) *Presence {
	return &Presence{
		conns:  conns,
		bus:    bus,
		origin: origin,
		rooms:  make(map[domain.RoomID][]core.MemberDTO),
	}
}

func (p *Presence) Join(ctx context.Context, roomID domain.RoomID, user *domain.User) {
	p.mu.Lock()
	members := p.rooms[roomID]
	replaced := false
	for i, m := range members {
		if m.UserID == user.ID {
			members[i].Username = user.Username
			replaced = true
			break
		}
	}
	if !replaced {
		members = append(members, core.MemberDTO{UserID: user.ID, Username: user.Username})
	}
	p.rooms[roomID] = members
	list := snapshotMembers(members)
	p.mu.Unlock()

	log.Info().Str("module", "app.presence").Str("room", string(roomID)).Str("user", string(user.ID)).Msg("member joined")
	p.broadcast(ctx, roomID, list)
}

func (p *Presence) Leave(ctx context.Context, roomID domain.RoomID, userID domain.UserID) {
	p.mu.Lock()
	members := p.rooms[roomID]
	for i, m := range members {
		if m.UserID == userID {
			members = append(members[:i], members[i+1:]...)
			break
		}
	}
	if len(members) == 0 {
		delete(p.rooms, roomID)
	} else {
		p.rooms[roomID] = members
	}
	list := snapshotMembers(members)
	p.mu.Unlock()

	log.Info().Str("module", "app.presence").Str("room", string(roomID)).Str("user", string(userID)).Msg("member left")
	p.broadcast(ctx, roomID, list)
}

// Members returns the room's current member list in join order.
func (p *Presence) Members(roomID domain.RoomID) []core.MemberDTO {
	p.mu.Lock()
	defer p.mu.Unlock()
	return snapshotMembers(p.rooms[roomID])
}

func (p *Presence) broadcast(ctx context.Context, roomID domain.RoomID, members []core.MemberDTO) {
	data, err := json.Marshal(members)
	if err != nil {
		log.Error().Err(err).Str("module", "app.presence").Msg("marshal member list")
		return
	}

	p.deliverLocal(roomID, EventTypePresence, data)

	env := core.Envelope{RoomID: roomID, Type: EventTypePresence, Data: data, Origin: p.origin}
	if err := p.bus.Publish(ctx, env); err != nil {
		log.Error().Err(err).Str("module", "app.presence").Str("room", string(roomID)).Msg("presence publish failed")
	}
}

// Relay delivers an envelope from the cross-instance channel to local room
// sockets. Presence envelopes this instance originated are skipped because
// they were already delivered locally at broadcast time.
func (p *Presence) Relay(env core.Envelope) {
	if env.Type == EventTypePresence && env.Origin == p.origin {
		return
	}
	p.deliverLocal(env.RoomID, env.Type, env.Data)
}

// clientEvent is the JSON frame shape clients receive for non-document
// events.
type clientEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (p *Presence) deliverLocal(roomID domain.RoomID, eventType string, data json.RawMessage) {
	frame, err := json.Marshal(clientEvent{Type: eventType, Data: data})
	if err != nil {
		log.Error().Err(err).Str("module", "app.presence").Msg("marshal client event")
		return
	}
	for _, c := range p.conns.LocalConns(roomID) {
		if err := c.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.presence").Str("room", string(roomID)).Msg("dropping event for slow peer")
		}
	}
}

func snapshotMembers(members []core.MemberDTO) []core.MemberDTO {
	out := make([]core.MemberDTO, len(members))
	copy(out, members)
	return out
}
