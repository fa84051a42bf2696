package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu    sync.Mutex
	seen  map[string]bool
	err   error
	calls int
}

func (f *fakeStore) Seen(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.seen[id], nil
}

type fakeClaimer struct {
	won bool
	err error
}

func (f fakeClaimer) Claim(context.Context, string) (bool, error) { return f.won, f.err }

func TestGateReplayInSameProcess(t *testing.T) {
	g := NewGate(Config{Capacity: 10}, nil, nil, nil, nil)
	ctx := context.Background()

	assert.True(t, g.ShouldProcess(ctx, "M1"))
	assert.False(t, g.ShouldProcess(ctx, "M1"))
	assert.True(t, g.ShouldProcess(ctx, "M2"))
}

func TestGateReplayAfterRestartUsesMessageLog(t *testing.T) {
	store := &fakeStore{seen: map[string]bool{"M1": true}}
	g := NewGate(Config{Capacity: 10}, store, nil, nil, nil)

	assert.False(t, g.ShouldProcess(context.Background(), "M1"))
	assert.True(t, g.Seen("M1"), "persistent hit should be cached")

	assert.False(t, g.ShouldProcess(context.Background(), "M1"))
	assert.Equal(t, 1, store.calls, "second lookup answered from memory")
}

func TestGateStoreErrorDegradesToMemory(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	g := NewGate(Config{Capacity: 10}, store, nil, nil, nil)

	assert.True(t, g.ShouldProcess(context.Background(), "M1"))
	assert.False(t, g.ShouldProcess(context.Background(), "M1"))
}

func TestGateClaimLostToOtherProcess(t *testing.T) {
	g := NewGate(Config{Capacity: 10}, &fakeStore{}, fakeClaimer{won: false}, nil, nil)
	assert.False(t, g.ShouldProcess(context.Background(), "M1"))
}

func TestGateClaimErrorIsIgnored(t *testing.T) {
	g := NewGate(Config{Capacity: 10}, nil, fakeClaimer{err: errors.New("redis down")}, nil, nil)
	assert.True(t, g.ShouldProcess(context.Background(), "M1"))
}

func TestGateEvictsOldestHalf(t *testing.T) {
	g := NewGate(Config{Capacity: 4}, nil, nil, nil, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.True(t, g.ShouldProcess(ctx, fmt.Sprintf("M%d", i)))
	}

	// Five entries exceed capacity four, so the two oldest are dropped.
	assert.Equal(t, 3, g.Len())
	assert.False(t, g.Seen("M0"))
	assert.False(t, g.Seen("M1"))
	assert.True(t, g.Seen("M2"))
	assert.True(t, g.Seen("M4"))

	assert.True(t, g.ShouldProcess(ctx, "M0"), "evicted id is processed again without a persistent tier")
}

func TestGateLookupDoesNotRefreshRecency(t *testing.T) {
	g := NewGate(Config{Capacity: 4}, nil, nil, nil, nil)
	ctx := context.Background()
	g.ShouldProcess(ctx, "A")
	g.ShouldProcess(ctx, "B")
	g.ShouldProcess(ctx, "A")
	g.ShouldProcess(ctx, "C")
	g.ShouldProcess(ctx, "D")
	g.ShouldProcess(ctx, "E")

	assert.False(t, g.Seen("A"), "duplicate check must not keep A alive")
}

func TestGateMaxAgeRechecksStore(t *testing.T) {
	now := time.Date(2025, 5, 15, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	g := NewGate(Config{Capacity: 10, MaxAge: time.Hour, Now: func() time.Time { return now }}, store, nil, nil, nil)
	ctx := context.Background()

	assert.True(t, g.ShouldProcess(ctx, "M1"))
	now = now.Add(30 * time.Minute)
	assert.False(t, g.ShouldProcess(ctx, "M1"))

	now = now.Add(2 * time.Hour)
	store.seen = map[string]bool{"M1": true}
	assert.False(t, g.ShouldProcess(ctx, "M1"))
	assert.Equal(t, 2, store.calls)
}

func TestGateConcurrentDuplicatesProcessOnce(t *testing.T) {
	g := NewGate(Config{Capacity: 100}, &fakeStore{}, nil, nil, nil)
	var processed int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.ShouldProcess(context.Background(), "M-race") {
				atomic.AddInt32(&processed, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), processed)
}

func TestGateEmptyIDAlwaysProcessed(t *testing.T) {
	g := NewGate(Config{}, nil, nil, nil, nil)
	assert.True(t, g.ShouldProcess(context.Background(), ""))
	assert.True(t, g.ShouldProcess(context.Background(), "  "))
	assert.Equal(t, 0, g.Len())
}

func TestGatePurgeActsLikeRestart(t *testing.T) {
	g := NewGate(Config{Capacity: 10}, nil, nil, nil, nil)
	ctx := context.Background()
	g.ShouldProcess(ctx, "M1")
	g.Purge()
	assert.True(t, g.ShouldProcess(ctx, "M1"))
}
