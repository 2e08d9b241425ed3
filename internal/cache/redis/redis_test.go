package redis_test

import (
	"context"
	"errors"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/betledger/internal/cache/redis"
	"github.com/alanyoungcy/betledger/internal/domain"
)

// newClient connects to BETLEDGER_TEST_REDIS_ADDR, skipping the test when it
// is unset. Every test gets its own key prefix.
func newClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("BETLEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BETLEDGER_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := redis.New(ctx, redis.ClientConfig{Addr: addr, KeyPrefix: "test:" + uuid.NewString() + ":"})
	if err != nil {
		t.Fatalf("redis.New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPriceCache_RoundTrip(t *testing.T) {
	c := newClient(t)
	pc := redis.NewPriceCache(c, time.Minute)
	ctx := context.Background()

	if _, _, err := pc.GetPrices(ctx, "m1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("empty cache: got %v, want ErrNotFound", err)
	}

	ts := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	want := []*big.Int{big.NewInt(250), big.NewInt(750)}
	if err := pc.SetPrices(ctx, "m1", want, ts); err != nil {
		t.Fatalf("SetPrices: %v", err)
	}
	got, gotTS, err := pc.GetPrices(ctx, "m1")
	if err != nil {
		t.Fatalf("GetPrices: %v", err)
	}
	if len(got) != 2 || got[0].Cmp(want[0]) != 0 || got[1].Cmp(want[1]) != 0 {
		t.Errorf("prices: got %v, want %v", got, want)
	}
	if !gotTS.Equal(ts) {
		t.Errorf("ts: got %v, want %v", gotTS, ts)
	}
}

func TestLockManager_ExclusiveUntilReleased(t *testing.T) {
	c := newClient(t)
	lm := redis.NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "round:g1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := lm.Acquire(ctx, "round:g1", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Errorf("second Acquire: got %v, want ErrLockHeld", err)
	}
	unlock()
	unlock()
	again, err := lm.Acquire(ctx, "round:g1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire after unlock: %v", err)
	}
	again()
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	c := newClient(t)
	rl := redis.NewRateLimiter(c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "casino:place:alice", 3, time.Minute)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !ok {
			t.Fatalf("request %d denied within limit", i)
		}
	}
	ok, err := rl.Allow(ctx, "casino:place:alice", 3, time.Minute)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Error("fourth request allowed over limit 3")
	}
	if ok, _ := rl.Allow(ctx, "casino:place:bob", 3, time.Minute); !ok {
		t.Error("other key should have its own window")
	}
}

func TestSignalBus_StreamAppendAndRead(t *testing.T) {
	c := newClient(t)
	bus := redis.NewSignalBus(c, 100)
	ctx := context.Background()
	stream := "test-stream:" + uuid.NewString()
	t.Cleanup(func() { _ = c.Underlying().Del(context.Background(), stream).Err() })

	for _, p := range []string{"a", "b"} {
		if err := bus.StreamAppend(ctx, stream, []byte(p)); err != nil {
			t.Fatalf("StreamAppend: %v", err)
		}
	}
	msgs, err := bus.StreamRead(ctx, stream, "0", 10)
	if err != nil {
		t.Fatalf("StreamRead: %v", err)
	}
	if len(msgs) != 2 || string(msgs[0].Payload) != "a" || string(msgs[1].Payload) != "b" {
		t.Errorf("messages: got %+v", msgs)
	}
}

func TestSignalBus_PatternSubscribe(t *testing.T) {
	c := newClient(t)
	bus := redis.NewSignalBus(c, 100)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	prefix := "test-chan:" + uuid.NewString() + ":"

	msgs, err := bus.Subscribe(ctx, prefix+"*")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	for _, ch := range []string{"market", "casino"} {
		if err := bus.Publish(ctx, prefix+ch, []byte(ch)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	var got []string
	for len(got) < 2 {
		select {
		case p := <-msgs:
			got = append(got, string(p))
		case <-ctx.Done():
			t.Fatalf("got %v before timeout, want 2 messages", got)
		}
	}
	if got[0] != "market" || got[1] != "casino" {
		t.Errorf("got %v, want [market casino]", got)
	}
}
