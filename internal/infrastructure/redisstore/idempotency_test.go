package redisstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaypoint/notification-gateway/internal/domain"
	"github.com/relaypoint/notification-gateway/internal/infrastructure/redisstore"
)

// fakeKV implements the idempotency store's Redis surface in memory with
// SETNX semantics.
type fakeKV struct {
	mu       sync.Mutex
	values   map[string]string
	setNXErr error
	getNil   bool // force Get to report a missing key
}

func newFakeKV() *fakeKV {
	return &fakeKV{values: map[string]string{}}
}

func (f *fakeKV) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setNXErr != nil {
		return redis.NewBoolResult(false, f.setNXErr)
	}
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeKV) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeKV) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok || f.getNil {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func TestReserve_FirstCallerOwnsKey(t *testing.T) {
	store := redisstore.NewIdempotencyStore(newFakeKV())

	prior, existing, err := store.Reserve(context.Background(), "req-1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if existing {
		t.Fatalf("first caller must own the key, got prior=%q", prior)
	}
}

func TestReserve_ConcurrentCallersExactlyOneOwner(t *testing.T) {
	store := redisstore.NewIdempotencyStore(newFakeKV())

	const n = 32
	var wg sync.WaitGroup
	owners := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prior, existing, err := store.Reserve(context.Background(), "req-racy", time.Hour)
			if err != nil {
				t.Error(err)
				return
			}
			if !existing {
				owners <- struct{}{}
			} else if prior != domain.ReservationSentinel {
				t.Errorf("loser observed %q, want sentinel", prior)
			}
		}()
	}
	wg.Wait()
	close(owners)

	var count int
	for range owners {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one owner, got %d", count)
	}
}

func TestReserve_AfterFinalizeReturnsNotificationID(t *testing.T) {
	store := redisstore.NewIdempotencyStore(newFakeKV())
	ctx := context.Background()

	if _, existing, err := store.Reserve(ctx, "req-2", time.Hour); err != nil || existing {
		t.Fatalf("reserve failed: existing=%v err=%v", existing, err)
	}
	if err := store.Finalize(ctx, "req-2", "notif-abc", time.Hour); err != nil {
		t.Fatal(err)
	}

	prior, existing, err := store.Reserve(ctx, "req-2", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !existing || prior != "notif-abc" {
		t.Fatalf("resubmission must observe the finalized id, got existing=%v prior=%q", existing, prior)
	}
}

func TestReserve_InFlightDuplicateObservesSentinel(t *testing.T) {
	store := redisstore.NewIdempotencyStore(newFakeKV())
	ctx := context.Background()

	if _, existing, err := store.Reserve(ctx, "req-3", time.Hour); err != nil || existing {
		t.Fatalf("reserve failed: existing=%v err=%v", existing, err)
	}

	// Duplicate arrives before the first request finalizes.
	prior, existing, err := store.Reserve(ctx, "req-3", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !existing || prior != domain.ReservationSentinel {
		t.Fatalf("duplicate must observe the sentinel, got existing=%v prior=%q", existing, prior)
	}
}

func TestReserve_RacedReservationExpiredBeforeRead(t *testing.T) {
	fake := newFakeKV()
	store := redisstore.NewIdempotencyStore(fake)
	ctx := context.Background()

	if _, _, err := store.Reserve(ctx, "req-4", time.Hour); err != nil {
		t.Fatal(err)
	}
	fake.getNil = true // key gone between the lost SETNX and the read

	prior, existing, err := store.Reserve(ctx, "req-4", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !existing || prior != domain.ReservationSentinel {
		t.Fatalf("expired race must still read as in flight, got existing=%v prior=%q", existing, prior)
	}
}

func TestFinalize_OverwritesReservation(t *testing.T) {
	fake := newFakeKV()
	store := redisstore.NewIdempotencyStore(fake)
	ctx := context.Background()

	if _, _, err := store.Reserve(ctx, "req-5", time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := store.Finalize(ctx, "req-5", "notif-xyz", time.Hour); err != nil {
		t.Fatal(err)
	}
	if got := fake.values["idem:req-5"]; got != "notif-xyz" {
		t.Fatalf("finalize must overwrite the sentinel, got %q", got)
	}
}

func TestReserve_StoreFailure(t *testing.T) {
	fake := newFakeKV()
	fake.setNXErr = errors.New("connection refused")
	store := redisstore.NewIdempotencyStore(fake)

	_, _, err := store.Reserve(context.Background(), "req-6", time.Hour)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
