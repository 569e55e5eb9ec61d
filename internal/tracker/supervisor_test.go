package tracker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/landwatch/landwatch/internal/store"
)

func TestSupervisorSpawnsOneWorkerPerLand(t *testing.T) {
	var lands atomic.Int64
	seen := make([]atomic.Bool, 6)

	s := NewSupervisor(SupervisorConfig{
		MaxLand: 5,
		NewWorker: func(land int) *Worker {
			lands.Add(1)
			if land >= 1 && land <= 5 {
				seen[land].Store(true)
			}
			return &Worker{
				Land:  land,
				Store: store.NewMemory(),
				Fetcher: fetcherFunc(func(ctx context.Context, _ int) ([]byte, error) {
					<-ctx.Done()
					return nil, ctx.Err()
				}),
			}
		},
	})
	s.Start()

	time.Sleep(50 * time.Millisecond)
	if got := lands.Load(); got != 5 {
		t.Fatalf("workers created: got %d, want 5", got)
	}
	for land := 1; land <= 5; land++ {
		if !seen[land].Load() {
			t.Errorf("no worker for land %d", land)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSupervisorRestartsPanickedWorker(t *testing.T) {
	var runs atomic.Int64
	s := NewSupervisor(SupervisorConfig{
		MaxLand: 1,
		NewWorker: func(land int) *Worker {
			return &Worker{
				Land:  land,
				Store: store.NewMemory(),
				Fetcher: fetcherFunc(func(ctx context.Context, _ int) ([]byte, error) {
					if runs.Add(1) == 1 {
						panic("worker blew up")
					}
					<-ctx.Done()
					return nil, ctx.Err()
				}),
			}
		},
	})
	s.Start()

	deadline := time.After(5 * time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("worker was not restarted after panic")
		case <-time.After(10 * time.Millisecond):
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSupervisorStopTimesOutOnStuckWorker(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	s := NewSupervisor(SupervisorConfig{
		MaxLand: 1,
		NewWorker: func(land int) *Worker {
			return &Worker{
				Land:  land,
				Store: store.NewMemory(),
				Fetcher: fetcherFunc(func(ctx context.Context, _ int) ([]byte, error) {
					<-block // ignores cancellation
					return nil, context.Canceled
				}),
			}
		},
	})
	s.Start()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); err == nil {
		t.Fatal("Stop: expected drain timeout error")
	}
}

func TestSupervisorStopBeforeStart(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{MaxLand: 1})
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
}
