package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"equipviz/internal/core"
)

type recordingSink struct {
	mu    sync.Mutex
	got   []core.Activity
	block chan struct{}
	err   error
}

func (s *recordingSink) Record(ctx context.Context, a core.Activity) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, a)
	return s.err
}

func (s *recordingSink) kinds() []core.ActivityKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.ActivityKind, 0, len(s.got))
	for _, a := range s.got {
		out = append(out, a.Kind)
	}
	return out
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := &recordingSink{}
	d := NewActivityDispatcher(sink, 10, time.Second, nil)

	for _, k := range []core.ActivityKind{core.ActivityLogin, core.ActivityUpload, core.ActivityLogout} {
		if err := d.Record(context.Background(), core.NewActivity("alice", k)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	kinds := sink.kinds()
	if len(kinds) != 3 || kinds[0] != core.ActivityLogin || kinds[2] != core.ActivityLogout {
		t.Fatalf("unexpected delivery order: %v", kinds)
	}
	if delivered, _, _ := d.Stats(); delivered != 3 {
		t.Fatalf("expected 3 delivered, got %d", delivered)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := NewActivityDispatcher(sink, 1, time.Second, nil)

	// The first activity is taken by the worker and blocks; the second fills the buffer.
	_ = d.Record(context.Background(), core.NewActivity("alice", core.ActivityLogin))
	deadline := time.Now().Add(time.Second)
	var err error
	for time.Now().Before(deadline) {
		err = d.Record(context.Background(), core.NewActivity("alice", core.ActivityUpload))
		if errors.Is(err, ErrQueueFull) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	close(sink.block)
	_ = d.Close(context.Background())

	if _, dropped, _ := d.Stats(); dropped == 0 {
		t.Fatal("expected dropped activities to be counted")
	}
}

func TestDispatcherCountsFailures(t *testing.T) {
	sink := &recordingSink{err: errors.New("broker down")}
	d := NewActivityDispatcher(sink, 4, time.Second, nil)
	_ = d.Record(context.Background(), core.NewActivity("alice", core.ActivityLogin))
	_ = d.Close(context.Background())

	if _, _, failed := d.Stats(); failed != 1 {
		t.Fatalf("expected 1 failure, got %d", failed)
	}
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	d := NewActivityDispatcher(&recordingSink{}, 4, time.Second, nil)
	_ = d.Close(context.Background())
	if err := d.Record(context.Background(), core.NewActivity("alice", core.ActivityLogin)); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
