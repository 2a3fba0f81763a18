package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codecollab/collabd/internal/core"
	"github.com/codecollab/collabd/internal/domain"
)

// RoomState is the lifecycle phase of one room's in-memory session.
type RoomState int

const (
	// StateEmpty: no document in memory, next attach hydrates.
	StateEmpty RoomState = iota
	// StateActive: at least one connection, flush ticker running.
	StateActive
	// StateDraining: last connection gone, grace timer pending.
	StateDraining
)

// roomSession is the per-room record the lifecycle manager serializes on.
// Every transition happens under mu, so concurrent attach/detach from many
// sockets cannot race the timers or the hydration guard.
type roomSession struct {
	id domain.RoomID

	mu          sync.Mutex
	state       RoomState
	hydrated    bool
	conns       map[core.SessionID]core.PeerConn
	doc         *Document
	drainTimer  *time.Timer
	cancelTasks context.CancelFunc
}

// Lifecycle tracks connection occupancy per room and drives hydration, the
// periodic durable flush, and the drain/final-flush sequence. It is the only
// owner of per-room connection sets and documents.
type Lifecycle struct {
	docs      *DocRegistry
	persister *Persister

	flushInterval time.Duration
	grace         time.Duration

	mu    sync.Mutex
	rooms map[domain.RoomID]*roomSession
}

func NewLifecycle(docs *DocRegistry, persister *Persister, flushInterval, grace time.Duration) *Lifecycle {
	return &Lifecycle{
		docs:          docs,
		persister:     persister,
		flushInterval: flushInterval,
		grace:         grace,
		rooms:         make(map[domain.RoomID]*roomSession),
	}
}

func (l *Lifecycle) session(id domain.RoomID) *roomSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.rooms[id]
	if !ok {
		s = &roomSession{id: id, conns: make(map[core.SessionID]core.PeerConn)}
		l.rooms[id] = s
	}
	return s
}

// Attach registers a connection with a room and returns the shared document.
// The first attach of a document's lifetime runs hydration exactly once and
// starts the cache mirror and the periodic flush; an attach during the drain
// grace window cancels the pending final flush and reuses the live document.
func (l *Lifecycle) Attach(ctx context.Context, id domain.RoomID, sid core.SessionID, conn core.PeerConn) *Document {
	s := l.session(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDraining && s.drainTimer != nil {
		s.drainTimer.Stop()
		s.drainTimer = nil
		log.Info().Str("module", "app.lifecycle").Str("room", string(id)).Msg("reconnect within grace, drain cancelled")
	}

	s.doc = l.docs.Attach(id)
	s.conns[sid] = conn
	s.state = StateActive

	if !s.hydrated {
		s.hydrated = true
		l.persister.Hydrate(ctx, s.doc)

		taskCtx, cancel := context.WithCancel(context.Background())
		s.cancelTasks = cancel
		l.persister.StartMirror(taskCtx, s.doc)
		go l.flushLoop(taskCtx, s)
	}

	log.Info().Str("module", "app.lifecycle").Str("room", string(id)).Str("sid", string(sid)).Int("conns", len(s.conns)).Msg("connection attached")
	return s.doc
}

// Detach removes a connection. When the room becomes empty it enters
// DRAINING and a grace timer schedules the final flush; state is only
// released if the room is still empty when the timer fires.
func (l *Lifecycle) Detach(id domain.RoomID, sid core.SessionID) {
	s := l.session(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conns[sid]; !ok {
		return
	}
	delete(s.conns, sid)
	log.Info().Str("module", "app.lifecycle").Str("room", string(id)).Str("sid", string(sid)).Int("conns", len(s.conns)).Msg("connection detached")

	if len(s.conns) > 0 || s.state != StateActive {
		return
	}

	s.state = StateDraining
	s.drainTimer = time.AfterFunc(l.grace, func() { l.drainExpired(s) })
}

func (l *Lifecycle) drainExpired(s *roomSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A reconnect may have won the race with the timer callback.
	if s.state != StateDraining || len(s.conns) != 0 {
		return
	}

	if s.cancelTasks != nil {
		s.cancelTasks()
		s.cancelTasks = nil
	}
	if s.doc != nil {
		l.persister.FlushFinal(context.Background(), s.doc)
	}
	// The session record stays in the map so an attach racing this callback
	// keeps serializing on the same mutex; only the document is evicted.
	s.hydrated = false
	s.state = StateEmpty
	s.doc = nil
	s.drainTimer = nil
	l.docs.Release(s.id)
}

// flushLoop periodically writes the durable snapshot while the room stays
// occupied. Only the drain path ends it, by cancelling taskCtx. An empty
// tick is skipped rather than exited on: the room may be inside the drain
// grace window, and a reconnect that cancels the drain must find the loop
// still alive.
func (l *Lifecycle) flushLoop(ctx context.Context, s *roomSession) {
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			occupied := len(s.conns) > 0
			doc := s.doc
			s.mu.Unlock()
			if !occupied || doc == nil {
				continue
			}
			l.persister.FlushDurable(ctx, doc)
		}
	}
}

// LocalConns snapshots the room's connections on this instance for fan-out.
func (l *Lifecycle) LocalConns(id domain.RoomID) []core.PeerConn {
	l.mu.Lock()
	s, ok := l.rooms[id]
	l.mu.Unlock()
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.PeerConn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

// ConnCount reports the room's live connection count on this instance.
func (l *Lifecycle) ConnCount(id domain.RoomID) int {
	l.mu.Lock()
	s, ok := l.rooms[id]
	l.mu.Unlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// RoomInfo is a read-only occupancy view for the stats API.
type RoomInfo struct {
	RoomID    domain.RoomID `json:"roomId"`
	ConnCount int           `json:"connCount"`
	State     string        `json:"state"`
}

func (l *Lifecycle) ActiveRooms() []RoomInfo {
	l.mu.Lock()
	sessions := make([]*roomSession, 0, len(l.rooms))
	for _, s := range l.rooms {
		sessions = append(sessions, s)
	}
	l.mu.Unlock()

	out := make([]RoomInfo, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		info := RoomInfo{RoomID: s.id, ConnCount: len(s.conns)}
		switch s.state {
		case StateActive:
			info.State = "active"
		case StateDraining:
			info.State = "draining"
		default:
			info.State = ""
		}
		s.mu.Unlock()
		if info.State != "" {
			out = append(out, info)
		}
	}
	return out
}

// FlushAll writes every occupied room to the durable store. Called on
// graceful shutdown so an orderly restart loses nothing.
func (l *Lifecycle) FlushAll(ctx context.Context) {
	l.mu.Lock()
	sessions := make([]*roomSession, 0, len(l.rooms))
	for _, s := range l.rooms {
		sessions = append(sessions, s)
	}
	l.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		doc := s.doc
		s.mu.Unlock()
		if doc != nil {
			l.persister.FlushFinal(ctx, doc)
		}
	}
}
