package microbatch

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

func TestQueueCapacity(t *testing.T) {
	for _, capacity := range []int{1, 2, 3, 5, 100} {
		q := NewQueue[int](capacity)
		if q.Cap() != capacity {
			t.Fatalf("cap is %d != %d", q.Cap(), capacity)
		}
		for i := range capacity {
			if !q.TryEnqueue(i) {
				t.Fatalf("enqueue %d failed with capacity %d", i, capacity)
			}
		}
		if q.TryEnqueue(capacity) {
			t.Fatalf("enqueue succeed on full queue of capacity %d", capacity)
		}
		if q.Len() != capacity {
			t.Fatalf("len is %d != %d", q.Len(), capacity)
		}

		items := q.DrainAll()
		expected := make([]int, capacity)
		for i := range expected {
			expected[i] = i
		}
		if !slices.Equal(items, expected) {
			t.Fatalf("drained %v != %v", items, expected)
		}
		if q.Len() != 0 {
			t.Fatalf("len is %d after drain", q.Len())
		}
		if q.DrainAll() != nil {
			t.Fatalf("empty drain return items")
		}
		if !q.TryEnqueue(0) {
			t.Fatalf("enqueue failed after drain")
		}
	}
}

func TestQueueInvalidCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("queue created with zero capacity")
		}
	}()
	NewQueue[int](0)
}

func TestQueueEnqueueBlocks(t *testing.T) {
	q := NewQueue[int](1)
	q.TryEnqueue(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("enqueue on full queue returned %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("len is %d != 1", q.Len())
	}

	done := make(chan error)
	go func() {
		done <- q.Enqueue(context.Background(), 3)
	}()
	time.Sleep(10 * time.Millisecond)
	if items := q.DrainAll(); !slices.Equal(items, []int{1}) {
		t.Fatalf("drained %v", items)
	}
	if err := <-done; err != nil {
		t.Fatalf("enqueue returned %v", err)
	}
	if items := q.DrainAll(); !slices.Equal(items, []int{3}) {
		t.Fatalf("drained %v", items)
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := NewQueue[int](64)
	var wg sync.WaitGroup
	for p := range 8 {
		wg.Go(func() {
			for i := range 10_000 {
				if err := q.Enqueue(context.Background(), p*10_000+i); err != nil {
					t.Errorf("enqueue returned %v", err)
					return
				}
			}
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	seen := make([]int, 0, 80_000)
	// Per-producer order must be preserved.
	last := make([]int, 8)
	for i := range last {
		last[i] = -1
	}
	drain := func() {
		for _, v := range q.DrainAll() {
			p, i := v/10_000, v%10_000
			if i <= last[p] {
				t.Fatalf("producer %d order broken: %d after %d", p, i, last[p])
			}
			last[p] = i
			seen = append(seen, v)
		}
	}
	for {
		select {
		case <-done:
			drain()
			if len(seen) != 80_000 {
				t.Fatalf("drained %d items != 80_000", len(seen))
			}
			return
		default:
			drain()
		}
	}
}
