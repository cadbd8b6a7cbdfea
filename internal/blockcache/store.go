// Package blockcache implements the in-process caching layer (spec.md
// §4.D): recently used blocks are held in memory, writes are buffered
// dirty and flushed to the wrapped store either by an age-based
// background sweeper or on an explicit Flush, following the
// dirty-tracking shape the teacher's gcsproxy.MutableObject uses for a
// single object generalized here to many blocks keyed by id.
package blockcache

import (
	"context"
	"sync"
	"time"

	"github.com/cryfs-go/cryfs/clock"
	"github.com/cryfs-go/cryfs/common"
	"github.com/cryfs-go/cryfs/internal/blockid"
	"github.com/cryfs-go/cryfs/internal/blockstore"
	"github.com/cryfs-go/cryfs/internal/cryfserrors"
	"github.com/cryfs-go/cryfs/internal/cryfslog"
	"github.com/cryfs-go/cryfs/internal/metrics"
)

// entryState is this block's place in the per-entry state machine
// (spec.md §4.D): Absent (no map entry) -> Loading -> Resident(Clean);
// a write takes Resident(Clean) or Absent straight to Resident(Dirty);
// the sweeper or an explicit Flush takes Resident(Dirty) -> Flushing ->
// Resident(Clean); eviction takes Resident(Clean) -> Evicting -> Absent.
type entryState int

const (
	stateLoading entryState = iota
	stateResidentClean
	stateResidentDirty
	stateFlushing
	stateEvicting
	stateDeleted // removed from the cache and the wrapped store while still referenced by a caller
)

type entry struct {
	data      []byte
	state     entryState
	lastTouch time.Time
	exists    bool // distinguishes a cached "absent" lookup from a cached present block

	// loadDone is non-nil only while state == stateLoading: it is the
	// per-id promise spec.md §4.D requires ("at most one concurrent
	// fetch from base per BlockId"). Every Load that finds the entry
	// already Loading parks on loadDone instead of also calling
	// s.inner.Load, and the fetching goroutine closes it once the
	// entry has settled into its post-fetch state.
	loadDone chan struct{}
}

// Config controls the cache's capacity and flush policy.
type Config struct {
	// MaxEntries bounds how many blocks are held resident; 0 means
	// unbounded (tests only — production mounts always set a capacity).
	MaxEntries int
	// MaxAge is how long a clean entry may sit resident before the
	// sweeper evicts it. Dirty entries are flushed, not silently dropped,
	// once they reach MaxAge.
	MaxAge time.Duration
	// SweepInterval is how often the background sweeper runs. Zero
	// disables the background sweeper; Flush/FlushAll are still usable.
	SweepInterval time.Duration
}

// Store wraps a lower blockstore.Store with a bounded, age-swept cache of
// recently touched blocks.
type Store struct {
	inner   blockstore.Store
	cfg     Config
	clock   clock.Clock
	log     *cryfslog.Logger
	metrics metrics.Handle

	mu      sync.Mutex
	entries map[blockid.BlockId]*entry
	order   common.Queue[blockid.BlockId] // FIFO of ids in the order they entered the cache, for capacity eviction

	stopSweep chan struct{}
	sweepDone chan struct{}
}

var _ blockstore.Store = (*Store)(nil)

// New wraps inner with a cache governed by cfg. If cfg.SweepInterval is
// non-zero a background goroutine is started; callers must call Close to
// stop it and flush all dirty entries.
func New(inner blockstore.Store, cfg Config, clk clock.Clock, log *cryfslog.Logger, m metrics.Handle) *Store {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = cryfslog.Nop()
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	s := &Store{
		inner:   inner,
		cfg:     cfg,
		clock:   clk,
		log:     log,
		metrics: m,
		entries: make(map[blockid.BlockId]*entry),
		order:   common.NewLinkedListQueue[blockid.BlockId](),
	}
	if cfg.SweepInterval > 0 {
		s.stopSweep = make(chan struct{})
		s.sweepDone = make(chan struct{})
		go s.sweepLoop()
	}
	return s
}

// Close stops the background sweeper (if running) and flushes every
// dirty entry to the wrapped store.
func (s *Store) Close(ctx context.Context) error {
	if s.stopSweep != nil {
		close(s.stopSweep)
		<-s.sweepDone
	}
	return s.FlushAll(ctx)
}

func (s *Store) sweepLoop() {
	defer close(s.sweepDone)
	for {
		select {
		case <-s.stopSweep:
			return
		case <-s.clock.After(s.cfg.SweepInterval):
			s.sweepOnce(context.Background())
		}
	}
}

// sweepOnce flushes dirty entries and evicts clean entries older than
// MaxAge, then enforces MaxEntries by evicting the oldest clean entries
// first.
func (s *Store) sweepOnce(ctx context.Context) {
	now := s.clock.Now()

	s.mu.Lock()
	var toFlush []blockid.BlockId
	for id, e := range s.entries {
		if e.state == stateResidentDirty && now.Sub(e.lastTouch) >= s.cfg.MaxAge {
			toFlush = append(toFlush, id)
		}
	}
	s.mu.Unlock()

	for _, id := range toFlush {
		_ = s.flushOne(ctx, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.state == stateResidentClean && now.Sub(e.lastTouch) >= s.cfg.MaxAge {
			e.state = stateEvicting
			delete(s.entries, id)
		}
	}
	s.evictToCapacityLocked()
}

// evictToCapacityLocked drops clean entries, in the order their ids were
// queued on entering the cache,
// until the cache is back under MaxEntries. Dirty entries are never
// silently evicted; a cache at capacity with everything dirty simply
// grows until the next flush, matching the teacher's preference for
// correctness over a hard memory bound in mutable_content.go.
func (s *Store) evictToCapacityLocked() {
	if s.cfg.MaxEntries <= 0 {
		return
	}
	// order may hold stale or already-evicted ids; bound the scan by its
	// length so a cache that's entirely dirty doesn't spin.
	for scanned := 0; len(s.entries) > s.cfg.MaxEntries && scanned < s.order.Len(); scanned++ {
		id := s.order.Pop()
		e, ok := s.entries[id]
		if !ok {
			continue
		}
		if e.state == stateResidentClean {
			e.state = stateEvicting
			delete(s.entries, id)
			continue
		}
		// Still referenced and dirty: keep it in rotation.
		s.order.Push(id)
	}
}

func (s *Store) CreateBlockId() blockid.BlockId { return s.inner.CreateBlockId() }

func (s *Store) TryCreate(ctx context.Context, id blockid.BlockId, payload []byte) (blockstore.CreateResult, error) {
	s.mu.Lock()
	// An entry still Loading hasn't confirmed whether id actually exists
	// below, and a cached miss (exists false) records that it does not, so
	// in both cases fall through to the wrapped store rather than guessing.
	if e, cached := s.entries[id]; cached && e.state != stateLoading && e.exists {
		s.mu.Unlock()
		return blockstore.AlreadyExists, nil
	}
	s.mu.Unlock()

	res, err := s.inner.TryCreate(ctx, id, payload)
	if err != nil || res != blockstore.Created {
		return res, err
	}

	s.mu.Lock()
	s.entries[id] = &entry{data: append([]byte(nil), payload...), state: stateResidentClean, lastTouch: s.clock.Now(), exists: true}
	s.order.Push(id)
	s.evictToCapacityLocked()
	s.mu.Unlock()
	return blockstore.Created, nil
}

func (s *Store) Overwrite(ctx context.Context, id blockid.BlockId, payload []byte) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		e = &entry{}
		s.entries[id] = e
		s.order.Push(id)
	}
	e.data = append([]byte(nil), payload...)
	e.state = stateResidentDirty
	e.exists = true
	e.lastTouch = s.clock.Now()
	s.mu.Unlock()
	return nil
}

// Load consults the cache first. On a hit it returns the resident
// payload directly; on a miss exactly one caller becomes the fetcher for
// id and every other concurrent Load on the same id parks on that
// fetcher's loadDone promise instead of also calling s.inner.Load,
// satisfying spec.md §4.D's single-fetch-per-id guarantee.
func (s *Store) Load(ctx context.Context, id blockid.BlockId) ([]byte, bool, error) {
	s.mu.Lock()
	for {
		e, ok := s.entries[id]
		if !ok {
			break
		}
		if e.state != stateLoading {
			e.lastTouch = s.clock.Now()
			data := append([]byte(nil), e.data...)
			exists := e.exists
			s.mu.Unlock()
			s.metrics.CacheHit()
			if !exists {
				return nil, false, nil
			}
			return data, true, nil
		}
		done := e.loadDone
		s.mu.Unlock()
		<-done
		s.mu.Lock()
	}

	done := make(chan struct{})
	s.entries[id] = &entry{state: stateLoading, loadDone: done, lastTouch: s.clock.Now()}
	s.order.Push(id)
	s.mu.Unlock()
	s.metrics.CacheMiss()

	data, found, err := s.inner.Load(ctx, id)

	s.mu.Lock()
	if err != nil {
		delete(s.entries, id)
		close(done)
		s.mu.Unlock()
		return nil, false, err
	}
	e := s.entries[id]
	if e != nil && e.state == stateLoading {
		// Nobody overwrote id while the fetch was in flight: settle it
		// into Resident(Clean) with the fetched payload.
		e.data = append([]byte(nil), data...)
		e.state = stateResidentClean
		e.exists = found
		e.lastTouch = s.clock.Now()
		s.evictToCapacityLocked()
	}
	// else: a concurrent Overwrite/TryCreate already replaced the
	// Loading placeholder; its result wins and the fetch is discarded.
	var result []byte
	var resultFound bool
	if e != nil {
		result = append([]byte(nil), e.data...)
		resultFound = e.exists
	}
	close(done)
	s.mu.Unlock()
	if !resultFound {
		return nil, false, nil
	}
	return result, true, nil
}

func (s *Store) Remove(ctx context.Context, id blockid.BlockId) (blockstore.RemoveResult, error) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return s.inner.Remove(ctx, id)
}

// Flush writes id's dirty entry (if any) through to the wrapped store
// immediately, without waiting for the sweeper.
func (s *Store) Flush(ctx context.Context, id blockid.BlockId) error {
	return s.flushOne(ctx, id)
}

func (s *Store) flushOne(ctx context.Context, id blockid.BlockId) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || e.state != stateResidentDirty {
		s.mu.Unlock()
		return nil
	}
	data := append([]byte(nil), e.data...)
	e.state = stateFlushing
	s.mu.Unlock()

	start := s.clock.Now()
	err := s.inner.Overwrite(ctx, id, data)
	s.metrics.FlushDuration(s.clock.Now().Sub(start))

	s.mu.Lock()
	if e, ok := s.entries[id]; ok && e.state == stateFlushing {
		if err != nil {
			// Flush failed: fall back to Resident(Dirty) so a later
			// sweep or explicit Flush retries it instead of losing the
			// write.
			e.state = stateResidentDirty
		} else {
			e.state = stateResidentClean
		}
	}
	s.mu.Unlock()

	if err != nil {
		return cryfserrors.Wrap(cryfserrors.KindIO, "blockcache.Flush", id.Hex(), err)
	}
	return nil
}

// FlushAll writes every dirty entry through to the wrapped store.
func (s *Store) FlushAll(ctx context.Context) error {
	s.mu.Lock()
	dirty := make([]blockid.BlockId, 0)
	for id, e := range s.entries {
		if e.state == stateResidentDirty {
			dirty = append(dirty, id)
		}
	}
	s.mu.Unlock()

	for _, id := range dirty {
		if err := s.flushOne(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) NumBlocks(ctx context.Context) (uint64, error) {
	if err := s.FlushAll(ctx); err != nil {
		return 0, err
	}
	return s.inner.NumBlocks(ctx)
}

func (s *Store) EstimateFreeBytes(ctx context.Context) (uint64, error) {
	return s.inner.EstimateFreeBytes(ctx)
}

func (s *Store) BlockSizeFromPhysical(physical uint64) uint64 {
	return s.inner.BlockSizeFromPhysical(physical)
}

func (s *Store) ForEachBlock(ctx context.Context, f func(blockid.BlockId) error) error {
	if err := s.FlushAll(ctx); err != nil {
		return err
	}
	return s.inner.ForEachBlock(ctx, f)
}
