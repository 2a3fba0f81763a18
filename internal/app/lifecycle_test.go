package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/codecollab/collabd/internal/domain"
)

const (
	testFlushInterval = 40 * time.Millisecond
	testGrace         = 60 * time.Millisecond
)

func newTestLifecycle() (*Lifecycle, *DocRegistry, *fakeRoomStore, *fakeCache) {
	rooms := newFakeRoomStore()
	rooms.rooms["r1"] = &domain.Room{ID: "r1"}
	cache := newFakeCache()
	docs := NewDocRegistry()
	lc := NewLifecycle(docs, NewPersister(rooms, cache), testFlushInterval, testGrace)
	return lc, docs, rooms, cache
}

func TestFirstAttachHydratesOnce(t *testing.T) {
	lc, _, _, cache := newTestLifecycle()
	ctx := context.Background()

	d1 := lc.Attach(ctx, "r1", "s1", &fakeConn{})
	d2 := lc.Attach(ctx, "r1", "s2", &fakeConn{})

	if d1 != d2 {
		t.Fatal("both connections must share one document")
	}
	if cache.loadCalls != 1 {
		t.Fatalf("hydration must run exactly once, ran %d times", cache.loadCalls)
	}
	if lc.ConnCount("r1") != 2 {
		t.Fatalf("expected 2 connections, got %d", lc.ConnCount("r1"))
	}
}

func TestSecondAttachDoesNotReseed(t *testing.T) {
	lc, _, _, cache := newTestLifecycle()
	ctx := context.Background()
	cache.setCached("r1", cachedCode("stale cached code"))

	doc := lc.Attach(ctx, "r1", "s1", &fakeConn{})
	if doc.Flatten().Code != "stale cached code" {
		t.Fatalf("first attach should seed from cache, got %q", doc.Flatten().Code)
	}

	// Simulate live editing past the cached value, then a second joiner.
	cache.setCached("r1", cachedCode("even staler"))
	lc.Attach(ctx, "r1", "s2", &fakeConn{})

	if got := doc.Flatten().Code; got != "stale cached code" {
		t.Fatalf("second attach must not overwrite live content, got %q", got)
	}
}

func TestDrainGraceDelaysFinalFlush(t *testing.T) {
	lc, docs, rooms, _ := newTestLifecycle()
	ctx := context.Background()

	lc.Attach(ctx, "r1", "s1", &fakeConn{})
	lc.Detach("r1", "s1")

	// Inside the grace window: no flush yet, document still live.
	time.Sleep(testGrace / 3)
	if rooms.savedCount() != 0 {
		t.Fatal("final flush must not run before the grace period elapses")
	}
	if _, ok := docs.Peek("r1"); !ok {
		t.Fatal("document must stay resident during the grace window")
	}

	// After the grace window: flushed and released.
	time.Sleep(2 * testGrace)
	if rooms.savedCount() == 0 {
		t.Fatal("final flush must run after the grace period")
	}
	if _, ok := docs.Peek("r1"); ok {
		t.Fatal("document must be released after the final flush")
	}
}

func TestReconnectWithinGraceCancelsDrain(t *testing.T) {
	lc, docs, _, cache := newTestLifecycle()
	ctx := context.Background()

	d1 := lc.Attach(ctx, "r1", "s1", &fakeConn{})
	// Hydration warms the cache once; the final flush would write it again.
	cacheBase := cache.savedCount()
	lc.Detach("r1", "s1")

	time.Sleep(testGrace / 3)
	d2 := lc.Attach(ctx, "r1", "s2", &fakeConn{})

	if d1 != d2 {
		t.Fatal("reconnect within grace must reuse the live document")
	}
	if cache.loadCalls != 1 {
		t.Fatal("reconnect within grace must not re-hydrate")
	}

	// Wait past the original deadline; the drain was cancelled, so neither
	// a final flush nor a release may happen. Periodic durable flushes are
	// fine while the room is occupied, so the cache write count is the
	// signal here.
	time.Sleep(2 * testGrace)
	if cache.savedCount() != cacheBase {
		t.Fatal("cancelled drain must not run the final flush")
	}
	if _, ok := docs.Peek("r1"); !ok {
		t.Fatal("document must remain resident while occupied")
	}
}

func TestRehydrateAfterRelease(t *testing.T) {
	lc, _, _, cache := newTestLifecycle()
	ctx := context.Background()

	lc.Attach(ctx, "r1", "s1", &fakeConn{})
	lc.Detach("r1", "s1")
	time.Sleep(2 * testGrace)

	// A fresh connection after release triggers a full hydration again.
	lc.Attach(ctx, "r1", "s2", &fakeConn{})
	if cache.loadCalls != 2 {
		t.Fatalf("expected re-hydration after release, loads=%d", cache.loadCalls)
	}
}

func TestPeriodicFlushWhileOccupied(t *testing.T) {
	lc, _, rooms, _ := newTestLifecycle()
	ctx := context.Background()

	doc := lc.Attach(ctx, "r1", "s1", &fakeConn{})
	_ = doc.SeedCode("keep me")

	time.Sleep(testFlushInterval*2 + testFlushInterval/2)

	if rooms.savedCount() == 0 {
		t.Fatal("durable record must be updated without any client action")
	}
	saved, _ := rooms.lastSaved()
	if saved.Code != "keep me" {
		t.Fatalf("flushed snapshot mismatch: %q", saved.Code)
	}

	lc.Detach("r1", "s1")
	time.Sleep(2 * testGrace)
}

func TestFlushSurvivesEmptyTickDuringGrace(t *testing.T) {
	// A flush tick landing inside the drain grace window must not kill the
	// loop: a reconnect cancels the drain and still expects periodic flushes.
	rooms := newFakeRoomStore()
	rooms.rooms["r1"] = &domain.Room{ID: "r1"}
	cache := newFakeCache()
	docs := NewDocRegistry()
	interval := 30 * time.Millisecond
	grace := 100 * time.Millisecond
	lc := NewLifecycle(docs, NewPersister(rooms, cache), interval, grace)
	ctx := context.Background()

	lc.Attach(ctx, "r1", "s1", &fakeConn{})
	lc.Detach("r1", "s1")

	// Let one empty tick fire while the grace timer is still pending,
	// then reconnect before it expires.
	time.Sleep(interval + interval/2)
	doc := lc.Attach(ctx, "r1", "s2", &fakeConn{})
	_ = doc.SeedCode("still here")

	time.Sleep(3 * interval)
	if rooms.savedCount() == 0 {
		t.Fatal("periodic flush must keep running after a reconnect cancels the drain")
	}
	saved, _ := rooms.lastSaved()
	if saved.Code != "still here" {
		t.Fatalf("flushed snapshot mismatch: %q", saved.Code)
	}

	lc.Detach("r1", "s2")
	time.Sleep(2 * grace)
}

func TestAttachDetachStorm(t *testing.T) {
	lc, docs, _, _ := newTestLifecycle()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid := fmt.Sprintf("s%d", i)
			lc.Attach(ctx, "r1", sessionID(sid), &fakeConn{})
			time.Sleep(time.Duration(i%5) * time.Millisecond)
			lc.Detach("r1", sessionID(sid))
		}(i)
	}
	wg.Wait()

	if lc.ConnCount("r1") != 0 {
		t.Fatalf("all connections detached, count=%d", lc.ConnCount("r1"))
	}
	time.Sleep(2 * testGrace)
	if _, ok := docs.Peek("r1"); ok {
		t.Fatal("document must be released once the storm settles")
	}
}

func TestActiveRooms(t *testing.T) {
	lc, _, rooms, _ := newTestLifecycle()
	rooms.rooms["r2"] = &domain.Room{ID: "r2"}
	ctx := context.Background()

	lc.Attach(ctx, "r1", "s1", &fakeConn{})
	lc.Attach(ctx, "r2", "s2", &fakeConn{})
	lc.Detach("r2", "s2")

	infos := lc.ActiveRooms()
	if len(infos) != 2 {
		t.Fatalf("expected 2 rooms, got %d", len(infos))
	}
	states := make(map[domain.RoomID]string)
	for _, info := range infos {
		states[info.RoomID] = info.State
	}
	if states["r1"] != "active" || states["r2"] != "draining" {
		t.Fatalf("unexpected states: %v", states)
	}
}
