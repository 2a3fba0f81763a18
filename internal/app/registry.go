package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/codecollab/collabd/internal/domain"
)

// DocRegistry is the arena of live documents, one per room id per process.
// Attach is an atomic get-or-create so concurrent joiners always share the
// same instance; Release is only called by the lifecycle manager after the
// final flush.
type DocRegistry struct {
	mu   sync.RWMutex
	docs map[domain.RoomID]*Document
}

func NewDocRegistry() *DocRegistry {
	return &DocRegistry{docs: make(map[domain.RoomID]*Document)}
}

func (r *DocRegistry) Attach(id domain.RoomID) *Document {
	r.mu.RLock()
	doc, ok := r.docs[id]
	r.mu.RUnlock()
	if ok {
		return doc
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if doc, ok = r.docs[id]; ok {
		return doc
	}
	doc = NewDocument(id)
	r.docs[id] = doc
	log.Info().Str("module", "app.registry").Str("room", string(id)).Msg("document created")
	return doc
}

// Peek returns the live document without creating one.
func (r *DocRegistry) Peek(id domain.RoomID) (*Document, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	return doc, ok
}

func (r *DocRegistry) Release(id domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, id)
	log.Info().Str("module", "app.registry").Str("room", string(id)).Msg("document released")
}

func (r *DocRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}
