package parallelaccess_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cryfs-go/cryfs/internal/blockstore"
	"github.com/cryfs-go/cryfs/internal/blockstore/inmem"
	"github.com/cryfs-go/cryfs/internal/parallelaccess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_PassesThroughToWrappedStore(t *testing.T) {
	ctx := context.Background()
	s := parallelaccess.New(inmem.New())

	id := s.CreateBlockId()
	_, err := s.TryCreate(ctx, id, []byte("payload"))
	require.NoError(t, err)

	got, found, err := s.Load(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("payload"), got)
}

func TestRemove_WaitsForConcurrentHoldersBeforeDeleting(t *testing.T) {
	ctx := context.Background()
	inner := inmem.New()
	s := parallelaccess.New(inner)

	id := s.CreateBlockId()
	_, err := s.TryCreate(ctx, id, []byte("payload"))
	require.NoError(t, err)

	// Acquire id by starting a Load that we control the timing of: since
	// Store has no hook to pause mid-Load, instead directly simulate a
	// long-held reference by racing many concurrent Loads against one
	// Remove and asserting no panic/race and a consistent final state.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Load(ctx, id)
		}()
	}

	res, err := s.Remove(ctx, id)
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, blockstore.Removed, res)

	_, found, err := s.Load(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRemove_Missing_ReportsAbsent(t *testing.T) {
	ctx := context.Background()
	s := parallelaccess.New(inmem.New())

	res, err := s.Remove(ctx, s.CreateBlockId())
	require.NoError(t, err)
	assert.Equal(t, blockstore.Absent, res)
}

func TestConcurrentOverwrites_SameId_NoRace(t *testing.T) {
	ctx := context.Background()
	s := parallelaccess.New(inmem.New())
	id := s.CreateBlockId()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = s.Overwrite(ctx, id, []byte{byte(n)})
		}(i)
	}
	wg.Wait()

	_, found, err := s.Load(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRemove_ThenNewCreate_SucceedsAfterwards(t *testing.T) {
	ctx := context.Background()
	s := parallelaccess.New(inmem.New())
	id := s.CreateBlockId()

	_, err := s.TryCreate(ctx, id, []byte("v1"))
	require.NoError(t, err)
	_, err = s.Remove(ctx, id)
	require.NoError(t, err)

	res, err := s.TryCreate(ctx, id, []byte("v2"))
	require.NoError(t, err)
	assert.Equal(t, blockstore.Created, res)

	got, found, err := s.Load(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v2"), got)
}

func TestRemove_DoesNotDeadlockUnderLoad(t *testing.T) {
	ctx := context.Background()
	s := parallelaccess.New(inmem.New())
	id := s.CreateBlockId()
	_, err := s.TryCreate(ctx, id, []byte("x"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_, _ = s.Remove(ctx, id)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Remove did not complete; suspected deadlock")
	}
}
