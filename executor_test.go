package microbatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool(t *testing.T) {
	pool := NewPool(2)
	if pool.Size() != 2 {
		t.Fatalf("size is %d != 2", pool.Size())
	}

	release := make(chan struct{})
	running := int32(0)
	for range 2 {
		if !pool.TrySubmit(func() {
			atomic.AddInt32(&running, 1)
			<-release
		}) {
			t.Fatalf("idle pool refused task")
		}
	}
	if pool.TrySubmit(func() {}) {
		t.Fatalf("saturated pool accepted task")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := pool.Submit(ctx, func() {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("submit to saturated pool returned %v", err)
	}

	close(release)
	done := make(chan struct{})
	if err := pool.Submit(context.Background(), func() { close(done) }); err != nil {
		t.Fatalf("submit returned %v", err)
	}
	<-done

	if err := pool.Close(context.Background()); err != nil {
		t.Fatalf("error closing pool: %v", err)
	}
	if running != 2 {
		t.Fatalf("running is %d != 2", running)
	}
	if pool.TrySubmit(func() {}) {
		t.Fatalf("closed pool accepted task")
	}
	if err := pool.Submit(context.Background(), func() {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("submit to closed pool returned %v", err)
	}
	if err := pool.Close(context.Background()); err != nil {
		t.Fatalf("second close returned %v", err)
	}
}

func TestPoolCloseContext(t *testing.T) {
	pool := NewPool(1)
	release := make(chan struct{})
	pool.TrySubmit(func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := pool.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("pool closed with running task: %v", err)
	}
	close(release)
}

func TestSaturationPolicyString(t *testing.T) {
	for policy, name := range map[SaturationPolicy]string{
		CallerRuns:          "caller-runs",
		Block:               "block",
		Reject:              "reject",
		SaturationPolicy(9): "SaturationPolicy(9)",
	} {
		if policy.String() != name {
			t.Fatalf("policy name is %q != %q", policy.String(), name)
		}
	}
}
