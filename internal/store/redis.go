package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/landwatch/landwatch/internal/landstate"
)

const connectTimeout = 5 * time.Second

// Redis is the production Store backed by a single Redis instance.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the given redis:// URL and verifies the connection
// with a ping before returning.
func NewRedis(rawURL string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Redis{client: client}, nil
}

// Put writes the snapshot under the land's TTL'd key and mirrors it into the
// aggregate hash in one pipeline.
func (r *Redis) Put(ctx context.Context, land int, snap *landstate.CachedSnapshot, ttl int) error {
	if ttl <= 0 {
		return fmt.Errorf("store: put land %d: non-positive ttl %d", land, ttl)
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: encode snapshot for land %d: %w", land, err)
	}

	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, LandKey(land), payload, time.Duration(ttl)*time.Second)
		pipe.HSet(ctx, AggregateKey, strconv.Itoa(land), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: put land %d: %w", land, err)
	}
	return nil
}

// Get returns the land's snapshot, or (nil, nil) when the key is absent.
func (r *Redis) Get(ctx context.Context, land int) (*landstate.CachedSnapshot, error) {
	data, err := r.client.Get(ctx, LandKey(land)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get land %d: %w", land, err)
	}
	var snap landstate.CachedSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("store: decode land %d: %w", land, err)
	}
	return &snap, nil
}

// Keys scans for live per-land snapshot keys and returns their land numbers
// in ascending order.
func (r *Redis) Keys(ctx context.Context) ([]int, error) {
	var lands []int
	iter := r.client.Scan(ctx, 0, landKeyPattern, 0).Iterator()
	for iter.Next(ctx) {
		if land, ok := ParseLandKey(iter.Val()); ok {
			lands = append(lands, land)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("store: scan keys: %w", err)
	}
	slices.Sort(lands)
	return lands, nil
}

// ReadAll returns the live snapshots from the aggregate hash. Expired
// entries the janitor has not swept yet are filtered out; malformed fields
// are dropped with a log line.
func (r *Redis) ReadAll(ctx context.Context) (map[int]*landstate.CachedSnapshot, error) {
	fields, err := r.client.HGetAll(ctx, AggregateKey).Result()
	if err != nil {
		return nil, fmt.Errorf("store: read aggregate: %w", err)
	}

	now := time.Now()
	out := make(map[int]*landstate.CachedSnapshot, len(fields))
	for field, value := range fields {
		land, err := strconv.Atoi(field)
		if err != nil {
			log.Printf("[store] drop non-numeric aggregate field %q", field)
			continue
		}
		var snap landstate.CachedSnapshot
		if err := json.Unmarshal([]byte(value), &snap); err != nil {
			log.Printf("[store] drop malformed aggregate field %q: %v", field, err)
			continue
		}
		if !snap.Live(now) {
			continue
		}
		out[land] = &snap
	}
	return out, nil
}

// Publish fans the event out on the update channel.
func (r *Redis) Publish(ctx context.Context, ev *landstate.UpdateEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("store: encode event for land %d: %w", ev.LandNumber, err)
	}
	if err := r.client.Publish(ctx, UpdateChannel, payload).Err(); err != nil {
		return fmt.Errorf("store: publish land %d: %w", ev.LandNumber, err)
	}
	return nil
}

// Subscribe opens a dedicated pub/sub connection and returns a channel of
// decoded update events. The channel closes when ctx is cancelled. Each
// subscriber runs on its own connection and goroutine, so a slow consumer
// never blocks the others.
func (r *Redis) Subscribe(ctx context.Context) (<-chan *landstate.UpdateEvent, error) {
	pubsub := r.client.Subscribe(ctx, UpdateChannel)
	// Confirm the subscription before handing out the channel.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("store: subscribe: %w", err)
	}

	out := make(chan *landstate.UpdateEvent, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev landstate.UpdateEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Printf("[store] drop malformed update event: %v", err)
					continue
				}
				select {
				case out <- &ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Sweep removes aggregate hash fields whose per-land keys have expired.
// Returns the number of fields removed.
func (r *Redis) Sweep(ctx context.Context) (int, error) {
	fields, err := r.client.HKeys(ctx, AggregateKey).Result()
	if err != nil {
		return 0, fmt.Errorf("store: sweep: read fields: %w", err)
	}
	if len(fields) == 0 {
		return 0, nil
	}

	// Non-numeric fields are junk and always removed.
	var stale, numeric []string
	for _, field := range fields {
		if _, err := strconv.Atoi(field); err != nil {
			stale = append(stale, field)
			continue
		}
		numeric = append(numeric, field)
	}

	if len(numeric) > 0 {
		cmds := make([]*redis.IntCmd, len(numeric))
		_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, field := range numeric {
				land, _ := strconv.Atoi(field)
				cmds[i] = pipe.Exists(ctx, LandKey(land))
			}
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("store: sweep: check keys: %w", err)
		}
		for i, cmd := range cmds {
			if cmd.Val() == 0 {
				stale = append(stale, numeric[i])
			}
		}
	}

	if len(stale) == 0 {
		return 0, nil
	}
	if err := r.client.HDel(ctx, AggregateKey, stale...).Err(); err != nil {
		return 0, fmt.Errorf("store: sweep: delete fields: %w", err)
	}
	return len(stale), nil
}

// Close releases the client and every connection it holds.
func (r *Redis) Close() error {
	return r.client.Close()
}
