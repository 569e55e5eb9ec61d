package fetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/landwatch/landwatch/internal/proxy"
)

func TestDispatcherReturnsFetcherResult(t *testing.T) {
	want := []byte(`{"nft":{"tokenId":"7"}}`)
	d := NewDispatcher(DispatcherConfig{
		Fetcher: func(ctx context.Context, land int, _ *proxy.Settings) ([]byte, error) {
			if land != 7 {
				t.Errorf("land: got %d, want 7", land)
			}
			return want, nil
		},
		Concurrency: 1,
		Timeout:     time.Second,
	})

	got, err := d.Fetch(context.Background(), 7)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("Fetch: got %s, want %s", got, want)
	}
}

func TestDispatcherConcurrencyCap(t *testing.T) {
	const limit = 3
	const calls = 20

	var active, peak atomic.Int64
	release := make(chan struct{})
	d := NewDispatcher(DispatcherConfig{
		Fetcher: func(ctx context.Context, land int, _ *proxy.Settings) ([]byte, error) {
			n := active.Add(1)
			defer active.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			return []byte(`{}`), nil
		},
		Concurrency: limit,
		Timeout:     5 * time.Second,
	})

	var wg sync.WaitGroup
	for i := 1; i <= calls; i++ {
		wg.Add(1)
		go func(land int) {
			defer wg.Done()
			if _, err := d.Fetch(context.Background(), land); err != nil {
				t.Errorf("Fetch land %d: %v", land, err)
			}
		}(i)
	}

	// Let the first wave hit the semaphore, then open the gate.
	time.Sleep(50 * time.Millisecond)
	if got := d.InFlight(); got > limit {
		t.Fatalf("InFlight: got %d, want <= %d", got, limit)
	}
	close(release)
	wg.Wait()

	if got := peak.Load(); got > limit {
		t.Fatalf("peak concurrency: got %d, want <= %d", got, limit)
	}
}

func TestDispatcherRetriesEmptyState(t *testing.T) {
	var calls atomic.Int64
	d := NewDispatcher(DispatcherConfig{
		Fetcher: func(ctx context.Context, land int, _ *proxy.Settings) ([]byte, error) {
			if calls.Add(1) < 3 {
				return nil, nil
			}
			return []byte(`{"ready":true}`), nil
		},
		Concurrency: 1,
		Timeout:     10 * time.Second,
	})

	got, err := d.Fetch(context.Background(), 1)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != `{"ready":true}` {
		t.Fatalf("Fetch: got %s", got)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("fetcher calls: got %d, want 3", n)
	}
}

func TestDispatcherPersistentEmptyState(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{
		Fetcher: func(ctx context.Context, land int, _ *proxy.Settings) ([]byte, error) {
			return []byte("null"), nil
		},
		Concurrency: 1,
		Timeout:     2 * time.Second,
	})

	_, err := d.Fetch(context.Background(), 1)
	if !errors.Is(err, ErrEmptyState) {
		t.Fatalf("Fetch: got %v, want ErrEmptyState", err)
	}
}

func TestDispatcherTimeout(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{
		Fetcher: func(ctx context.Context, land int, _ *proxy.Settings) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		Concurrency: 1,
		Timeout:     50 * time.Millisecond,
	})

	_, err := d.Fetch(context.Background(), 1)
	if !errors.Is(err, ErrFetchTimeout) {
		t.Fatalf("Fetch: got %v, want ErrFetchTimeout", err)
	}
}

func TestDispatcherCancelledWhileQueued(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	d := NewDispatcher(DispatcherConfig{
		Fetcher: func(ctx context.Context, land int, _ *proxy.Settings) ([]byte, error) {
			<-release
			return []byte(`{}`), nil
		},
		Concurrency: 1,
		Timeout:     5 * time.Second,
	})

	// Occupy the only slot.
	go d.Fetch(context.Background(), 1) //nolint:errcheck
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Fetch(ctx, 2); !errors.Is(err, context.Canceled) {
		t.Fatalf("Fetch: got %v, want context.Canceled", err)
	}
}

type stubProxies struct {
	settings *proxy.Settings
	calls    atomic.Int64
}

func (s *stubProxies) Next() *proxy.Settings {
	s.calls.Add(1)
	return s.settings
}

func TestDispatcherPassesProxyToFetcher(t *testing.T) {
	src := &stubProxies{settings: &proxy.Settings{Server: "http://10.0.0.1:8080"}}
	var seen *proxy.Settings
	d := NewDispatcher(DispatcherConfig{
		Fetcher: func(ctx context.Context, land int, settings *proxy.Settings) ([]byte, error) {
			seen = settings
			return []byte(`{}`), nil
		},
		Concurrency: 1,
		Timeout:     time.Second,
		Proxies:     src,
	})

	if _, err := d.Fetch(context.Background(), 1); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if seen == nil || seen.Server != "http://10.0.0.1:8080" {
		t.Fatalf("fetcher proxy: got %+v", seen)
	}
	if src.calls.Load() != 1 {
		t.Fatalf("proxy source calls: got %d, want 1", src.calls.Load())
	}
}

func TestDispatcherRecordsAttempts(t *testing.T) {
	var mu sync.Mutex
	var attempts []Attempt
	d := NewDispatcher(DispatcherConfig{
		Fetcher: func(ctx context.Context, land int, _ *proxy.Settings) ([]byte, error) {
			if land == 2 {
				return nil, &NavigationError{Status: 422}
			}
			return []byte(`{"x":1}`), nil
		},
		Concurrency: 1,
		Timeout:     time.Second,
		OnAttempt: func(a Attempt) {
			mu.Lock()
			attempts = append(attempts, a)
			mu.Unlock()
		},
	})

	if _, err := d.Fetch(context.Background(), 1); err != nil {
		t.Fatalf("Fetch land 1: %v", err)
	}
	if _, err := d.Fetch(context.Background(), 2); err == nil {
		t.Fatal("Fetch land 2: expected error")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != 2 {
		t.Fatalf("attempts: got %d, want 2", len(attempts))
	}
	ok, nav := attempts[0], attempts[1]
	if ok.Outcome != OutcomeOK || ok.ContentHash == 0 || ok.ID == "" {
		t.Fatalf("ok attempt: %+v", ok)
	}
	if nav.Outcome != OutcomeNavigation || nav.HTTPStatus != 422 {
		t.Fatalf("nav attempt: %+v", nav)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrEmptyState, OutcomeEmpty},
		{ErrFetchTimeout, OutcomeTimeout},
		{ErrBrowserBusy, OutcomeBusy},
		{ErrBrowserUnreachable, OutcomeUnreachable},
		{&NavigationError{Status: 500}, OutcomeNavigation},
		{context.Canceled, OutcomeCancelled},
		{errors.New("boom"), OutcomeUnreachable},
	}
	for _, tc := range tests {
		if got := classify(tc.err); got != tc.want {
			t.Errorf("classify(%v): got %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestIsEmptyState(t *testing.T) {
	for _, raw := range []string{"", "  ", "null", `""`, "\nnull\n"} {
		if !isEmptyState([]byte(raw)) {
			t.Errorf("isEmptyState(%q): got false, want true", raw)
		}
	}
	for _, raw := range []string{"{}", `{"a":1}`, "0", `"x"`} {
		if isEmptyState([]byte(raw)) {
			t.Errorf("isEmptyState(%q): got true, want false", raw)
		}
	}
}
