package app

import (
	"sync"
	"testing"
)

func TestRegistryAttachIdempotent(t *testing.T) {
	r := NewDocRegistry()

	d1 := r.Attach("room-a")
	d2 := r.Attach("room-a")
	if d1 != d2 {
		t.Fatal("attach must return the same instance for the same room")
	}

	d3 := r.Attach("room-b")
	if d1 == d3 {
		t.Fatal("different rooms must get different documents")
	}
}

func TestRegistryAttachConcurrent(t *testing.T) {
	r := NewDocRegistry()

	var wg sync.WaitGroup
	docs := make([]*Document, 64)
	for i := range docs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			docs[i] = r.Attach("room-a")
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(docs); i++ {
		if docs[i] != docs[0] {
			t.Fatal("concurrent attach must not race-create two instances")
		}
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 live document, got %d", r.Len())
	}
}

func TestRegistryRelease(t *testing.T) {
	r := NewDocRegistry()
	d1 := r.Attach("room-a")
	r.Release("room-a")

	if _, ok := r.Peek("room-a"); ok {
		t.Fatal("released document should be gone")
	}
	if d2 := r.Attach("room-a"); d1 == d2 {
		t.Fatal("attach after release must build a fresh document")
	}
}
