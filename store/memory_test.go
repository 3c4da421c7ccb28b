package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/clip-tender/capture"
)

// exerciseStore runs the compare-and-set contract against any backend.
func exerciseStore(t *testing.T, s interface {
	List(context.Context) ([]capture.Capture, error)
	Get(context.Context, string) (capture.Capture, error)
	Put(context.Context, capture.Capture) (capture.Capture, error)
	Delete(context.Context, string, int64) error
}, id string) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := capture.Capture{ID: id, StreamerID: "foo", SourceType: capture.SourceLive, RecordedAt: base}

	stored, err := s.Put(ctx, c)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if stored.Version != 1 {
		t.Fatalf("version after insert = %d, want 1", stored.Version)
	}
	if _, err := s.Put(ctx, c); !errors.Is(err, capture.ErrConflict) {
		t.Fatalf("duplicate insert error = %v, want ErrConflict", err)
	}

	linked, err := s.Put(ctx, stored.WithLink("v1", 30))
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if linked.Version != 2 {
		t.Fatalf("version after update = %d, want 2", linked.Version)
	}
	// stale write with the old version
	stale := stored
	stale.Memo = "late"
	if _, err := s.Put(ctx, stale); !errors.Is(err, capture.ErrConflict) {
		t.Fatalf("stale put error = %v, want ErrConflict", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Linked() || *got.VODOffsetSeconds != 30 || got.Memo != "" {
		t.Fatalf("get returned %+v", got)
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	found := false
	for _, a := range all {
		if a.ID == id {
			found = true
		}
	}
	if !found {
		t.Fatalf("list missing %s", id)
	}

	if err := s.Delete(ctx, id, stored.Version); !errors.Is(err, capture.ErrConflict) {
		t.Fatalf("stale delete error = %v, want ErrConflict", err)
	}
	if err := s.Delete(ctx, id, linked.Version); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, id); !errors.Is(err, capture.ErrNotFound) {
		t.Fatalf("get after delete error = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, id, 0); !errors.Is(err, capture.ErrNotFound) {
		t.Fatalf("second delete error = %v, want ErrNotFound", err)
	}
	if _, err := s.Put(ctx, linked); !errors.Is(err, capture.ErrNotFound) {
		t.Fatalf("put after delete error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreContract(t *testing.T) {
	exerciseStore(t, NewMemory(), "mem-1")
}

func TestMemoryStoreConcurrentWritersOneWins(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	stored, err := m.Put(ctx, capture.Capture{ID: "x", StreamerID: "foo", SourceType: capture.SourceLive})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(off int) {
			defer wg.Done()
			_, err := m.Put(ctx, stored.WithLink("v", off))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, capture.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 || conflicts != 15 {
		t.Fatalf("wins=%d conflicts=%d, want 1/15", wins, conflicts)
	}
}

func TestMemoryListSorted(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"c", "a", "b"} {
		if _, err := m.Put(ctx, capture.Capture{ID: id, StreamerID: "foo", SourceType: capture.SourceLive, RecordedAt: base.Add(time.Duration(2-i) * time.Minute)}); err != nil {
			t.Fatal(err)
		}
	}
	all, _ := m.List(ctx)
	if all[0].ID != "b" || all[1].ID != "a" || all[2].ID != "c" {
		t.Fatalf("order = %s %s %s", all[0].ID, all[1].ID, all[2].ID)
	}
}

func TestMemoryHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemory().List(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("List() error = %v, want context.Canceled", err)
	}
}
