package blockcache_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cryfs-go/cryfs/clock"
	"github.com/cryfs-go/cryfs/internal/blockcache"
	"github.com/cryfs-go/cryfs/internal/blockid"
	"github.com/cryfs-go/cryfs/internal/blockstore"
	"github.com/cryfs-go/cryfs/internal/blockstore/inmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loadCountingStore wraps a blockstore.Store and counts concurrent
// Load calls in flight, blocking every Load on a gate so a test can
// force two Load(id) callers to race before either completes.
type loadCountingStore struct {
	*inmem.Store

	gate        chan struct{}
	inFlight    int32
	maxInFlight int32
}

func newLoadCountingStore() *loadCountingStore {
	return &loadCountingStore{Store: inmem.New(), gate: make(chan struct{})}
}

func (s *loadCountingStore) Load(ctx context.Context, id blockid.BlockId) ([]byte, bool, error) {
	n := atomic.AddInt32(&s.inFlight, 1)
	for {
		old := atomic.LoadInt32(&s.maxInFlight)
		if n <= old || atomic.CompareAndSwapInt32(&s.maxInFlight, old, n) {
			break
		}
	}
	<-s.gate
	defer atomic.AddInt32(&s.inFlight, -1)
	return s.Store.Load(ctx, id)
}

func TestLoad_CachesAndServesFromMemoryOnHit(t *testing.T) {
	ctx := context.Background()
	inner := inmem.New()
	s := blockcache.New(inner, blockcache.Config{MaxAge: time.Hour}, clock.NewSimulatedClock(time.Unix(0, 0)), nil, nil)

	id := s.CreateBlockId()
	require.NoError(t, s.Overwrite(ctx, id, []byte("payload")))
	require.NoError(t, s.Flush(ctx, id))

	got, found, err := s.Load(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("payload"), got)
}

func TestOverwrite_IsBufferedDirty_NotVisibleInWrappedStoreUntilFlush(t *testing.T) {
	ctx := context.Background()
	inner := inmem.New()
	s := blockcache.New(inner, blockcache.Config{MaxAge: time.Hour}, clock.NewSimulatedClock(time.Unix(0, 0)), nil, nil)

	id := s.CreateBlockId()
	require.NoError(t, s.Overwrite(ctx, id, []byte("dirty")))

	_, found, err := inner.Load(ctx, id)
	require.NoError(t, err)
	assert.False(t, found, "a dirty entry must not reach the wrapped store before a flush")

	require.NoError(t, s.Flush(ctx, id))
	got, found, err := inner.Load(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("dirty"), got)
}

func TestRemove_DropsCachedEntryAndWrappedBlock(t *testing.T) {
	ctx := context.Background()
	inner := inmem.New()
	s := blockcache.New(inner, blockcache.Config{MaxAge: time.Hour}, clock.NewSimulatedClock(time.Unix(0, 0)), nil, nil)

	id := s.CreateBlockId()
	require.NoError(t, s.Overwrite(ctx, id, []byte("data")))
	require.NoError(t, s.Flush(ctx, id))

	res, err := s.Remove(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, blockstore.Removed, res)

	_, found, err := s.Load(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFlushAll_WritesEveryDirtyEntry(t *testing.T) {
	ctx := context.Background()
	inner := inmem.New()
	s := blockcache.New(inner, blockcache.Config{MaxAge: time.Hour}, clock.NewSimulatedClock(time.Unix(0, 0)), nil, nil)

	idA := s.CreateBlockId()
	idB := s.CreateBlockId()
	require.NoError(t, s.Overwrite(ctx, idA, []byte("a")))
	require.NoError(t, s.Overwrite(ctx, idB, []byte("b")))

	require.NoError(t, s.FlushAll(ctx))

	_, foundA, err := inner.Load(ctx, idA)
	require.NoError(t, err)
	assert.True(t, foundA)
	_, foundB, err := inner.Load(ctx, idB)
	require.NoError(t, err)
	assert.True(t, foundB)
}

// TestLoad_ConcurrentMissesOnSameIdCoalesceIntoOneBaseFetch exercises
// spec.md §4.D's "at most one concurrent fetch from base per BlockId":
// many goroutines calling Load on the same absent-from-cache id must
// never have more than one of them reach the wrapped store at once.
func TestLoad_ConcurrentMissesOnSameIdCoalesceIntoOneBaseFetch(t *testing.T) {
	ctx := context.Background()
	inner := newLoadCountingStore()
	id := inner.CreateBlockId()
	_, err := inner.Store.TryCreate(ctx, id, []byte("shared"))
	require.NoError(t, err)

	s := blockcache.New(inner, blockcache.Config{MaxAge: time.Hour}, clock.NewSimulatedClock(time.Unix(0, 0)), nil, nil)

	const callers = 8
	var wg sync.WaitGroup
	wg.Add(callers)
	results := make([][]byte, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			data, found, err := s.Load(ctx, id)
			errs[i] = err
			if found {
				results[i] = data
			}
		}(i)
	}

	// Give every goroutine a chance to reach Load before releasing the
	// base-store gate, so they race on the same cache miss.
	time.Sleep(20 * time.Millisecond)
	close(inner.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte("shared"), results[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.maxInFlight),
		"concurrent Load(id) calls on the same absent entry must coalesce into a single base-store fetch")
}
