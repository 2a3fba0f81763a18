package app

import (
	"context"
	"sync"

	"github.com/codecollab/collabd/internal/core"
	"github.com/codecollab/collabd/internal/domain"
)

type fakeRoomStore struct {
	mu        sync.Mutex
	rooms     map[domain.RoomID]*domain.Room
	users     map[domain.UserID]*domain.User
	saved     []domain.Snapshot
	findCalls int
	findErr   error
	saveErr   error
}

func newFakeRoomStore() *fakeRoomStore {
	return &fakeRoomStore{
		rooms: make(map[domain.RoomID]*domain.Room),
		users: make(map[domain.UserID]*domain.User),
	}
}

func (f *fakeRoomStore) FindRoom(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.rooms[id], nil
}

func (f *fakeRoomStore) FindUser(_ context.Context, id domain.UserID) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id], nil
}

func (f *fakeRoomStore) SaveSnapshot(_ context.Context, snap domain.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, snap)
	return nil
}

func (f *fakeRoomStore) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func (f *fakeRoomStore) lastSaved() (domain.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saved) == 0 {
		return domain.Snapshot{}, false
	}
	return f.saved[len(f.saved)-1], true
}

type fakeCache struct {
	mu        sync.Mutex
	snaps     map[domain.RoomID]core.CachedSnapshot
	saved     []domain.Snapshot
	loadCalls int
	loadErr   error
	saveErr   error
}

func newFakeCache() *fakeCache {
	return &fakeCache{snaps: make(map[domain.RoomID]core.CachedSnapshot)}
}

func (f *fakeCache) LoadSnapshot(_ context.Context, id domain.RoomID) (core.CachedSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadCalls++
	if f.loadErr != nil {
		return core.CachedSnapshot{}, f.loadErr
	}
	return f.snaps[id], nil
}

func (f *fakeCache) SaveSnapshot(_ context.Context, snap domain.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, snap)
	f.snaps[snap.RoomID] = core.CachedSnapshot{
		Code: snap.Code, Input: snap.Input, Output: snap.Output,
		HasCode: true, HasInput: true, HasOutput: true,
	}
	return nil
}

func (f *fakeCache) setCached(id domain.RoomID, snap core.CachedSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[id] = snap
}

func (f *fakeCache) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type fakeBus struct {
	mu        sync.Mutex
	published []core.Envelope
}

func (f *fakeBus) Publish(_ context.Context, env core.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, env)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, func(core.Envelope)) error { return nil }

func (f *fakeBus) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	wakes  int
}

func (f *fakeConn) TrySend(frame core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeConn) WakeSync() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wakes++
}

func (f *fakeConn) Close() {}

func (f *fakeConn) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func strPtr(s string) *string { return &s }

func cachedCode(code string) core.CachedSnapshot {
	return core.CachedSnapshot{Code: code, HasCode: true}
}

func sessionID(s string) core.SessionID { return core.SessionID(s) }
