package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/codecollab/collabd/internal/core"
	"github.com/codecollab/collabd/internal/domain"
)

// Persister is the two-level load/save path: Redis-style snapshot cache in
// front, durable room record behind. The cache is a latency optimization;
// the durable record is the authoritative fallback.
type Persister struct {
	rooms core.RoomStore
	cache core.SnapshotCache
}

func NewPersister(rooms core.RoomStore, cache core.SnapshotCache) *Persister {
	return &Persister{rooms: rooms, cache: cache}
}

// Hydrate seeds an empty live document from the cache, falling back to the
// durable record on a code miss, and warms the cache back up from the durable
// values so hydrations on other instances hit the fast path. A failure
// anywhere degrades to an empty document; the connection still succeeds and a
// later flush repairs durability.
func (p *Persister) Hydrate(ctx context.Context, doc *Document) {
	id := doc.RoomID()

	cached, err := p.cache.LoadSnapshot(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("module", "app.persister").Str("room", string(id)).Msg("cache read failed, falling back to durable store")
	}

	if cached.HasCode {
		if doc.CodeEmpty() {
			if err := doc.SeedCode(cached.Code); err != nil {
				log.Error().Err(err).Str("module", "app.persister").Str("room", string(id)).Msg("seed code from cache")
			} else {
				log.Info().Str("module", "app.persister").Str("room", string(id)).Msg("code loaded from cache")
			}
		}
	} else {
		p.hydrateFromDurable(ctx, doc)
	}

	if cached.HasInput {
		if err := doc.SeedInput(cached.Input); err != nil {
			log.Error().Err(err).Str("module", "app.persister").Str("room", string(id)).Msg("seed input from cache")
		}
	}
	if cached.HasOutput {
		if err := doc.SeedOutput(cached.Output); err != nil {
			log.Error().Err(err).Str("module", "app.persister").Str("room", string(id)).Msg("seed output from cache")
		}
	}
}

func (p *Persister) hydrateFromDurable(ctx context.Context, doc *Document) {
	id := doc.RoomID()
	room, err := p.rooms.FindRoom(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("module", "app.persister").Str("room", string(id)).Msg("durable read failed, starting empty")
		return
	}
	if room == nil {
		return
	}

	code := strOrEmpty(room.LastKnownCode)
	input := strOrEmpty(room.LastKnownInput)
	output := strOrEmpty(room.LastKnownOutput)

	if err := doc.SeedCode(code); err != nil {
		log.Error().Err(err).Str("module", "app.persister").Str("room", string(id)).Msg("seed code from durable store")
	} else if code != "" {
		log.Info().Str("module", "app.persister").Str("room", string(id)).Msg("code loaded from durable store")
	}
	if err := doc.SeedInput(input); err != nil {
		log.Error().Err(err).Str("module", "app.persister").Str("room", string(id)).Msg("seed input from durable store")
	}
	if err := doc.SeedOutput(output); err != nil {
		log.Error().Err(err).Str("module", "app.persister").Str("room", string(id)).Msg("seed output from durable store")
	}

	// Warm the cache so the next hydration, on any instance, hits it.
	warm := domain.Snapshot{RoomID: id, Code: code, Input: input, Output: output}
	if err := p.cache.SaveSnapshot(ctx, warm); err != nil {
		log.Error().Err(err).Str("module", "app.persister").Str("room", string(id)).Msg("cache warm-up failed")
	}
}

// StartMirror registers an update listener that mirrors every change to the
// cache. Writes are coalesced through a single background worker per document
// and never block the editing path; a cache failure is logged and dropped.
func (p *Persister) StartMirror(ctx context.Context, doc *Document) {
	dirty := make(chan struct{}, 1)
	doc.OnUpdate(func() {
		select {
		case dirty <- struct{}{}:
		default:
		}
	})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-dirty:
				if err := p.cache.SaveSnapshot(ctx, doc.Flatten()); err != nil {
					log.Error().Err(err).Str("module", "app.persister").Str("room", string(doc.RoomID())).Msg("cache mirror failed")
				}
			}
		}
	}()
}

// FlushDurable writes the current snapshot to the durable record.
func (p *Persister) FlushDurable(ctx context.Context, doc *Document) {
	snap := doc.Flatten()
	if err := p.rooms.SaveSnapshot(ctx, snap); err != nil {
		log.Error().Err(err).Str("module", "app.persister").Str("room", string(snap.RoomID)).Msg("durable flush failed")
		return
	}
	log.Info().Str("module", "app.persister").Str("room", string(snap.RoomID)).Msg("room persisted to durable store")
}

// FlushFinal writes the snapshot to both tiers. The two writes are
// independent; a failure in one never blocks the other.
func (p *Persister) FlushFinal(ctx context.Context, doc *Document) {
	snap := doc.Flatten()
	if err := p.rooms.SaveSnapshot(ctx, snap); err != nil {
		log.Error().Err(err).Str("module", "app.persister").Str("room", string(snap.RoomID)).Msg("final durable flush failed")
	}
	if err := p.cache.SaveSnapshot(ctx, snap); err != nil {
		log.Error().Err(err).Str("module", "app.persister").Str("room", string(snap.RoomID)).Msg("final cache flush failed")
	}
	log.Info().Str("module", "app.persister").Str("room", string(snap.RoomID)).Msg("room empty, saved final state")
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
