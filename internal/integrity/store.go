package integrity

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/cryfs-go/cryfs/internal/blockid"
	"github.com/cryfs-go/cryfs/internal/blockstore"
	"github.com/cryfs-go/cryfs/internal/cryfserrors"
	"github.com/cryfs-go/cryfs/internal/cryfslog"
	"github.com/cryfs-go/cryfs/internal/metrics"
)

// FormatVersion is the integrity header format version (spec.md §6:
// "currently = 1").
const FormatVersion uint8 = 1

// headerSize is len([format-version(1)] [client-id(4)] [block-id(16)]
// [version(8)]).
const headerSize = 1 + 4 + 16 + 8

// TaintedFunc is called exactly once, the first time this store detects
// a violation while allowViolations is false. Callers (internal/
// localstate) use it to persist the taint bit.
type TaintedFunc func()

// Store wraps a lower blockstore.Store and enforces per-block version
// monotonicity (spec.md §4.B).
type Store struct {
	inner    blockstore.Store
	known    *KnownBlockVersions
	log      *cryfslog.Logger
	metrics  metrics.Handle
	onTaint  TaintedFunc
	tainted  bool
	warnedID map[blockid.BlockId]bool

	// AllowViolations, when true, logs violations instead of aborting the
	// operation and tainting the filesystem.
	AllowViolations bool
	// MissingBlockIsViolation, when true, treats a block once seen but now
	// absent as a deletion attack.
	MissingBlockIsViolation bool
}

var _ blockstore.Store = (*Store)(nil)

// New wraps inner with integrity checking, using known as the
// (client,block)->version state (already loaded from local state, or
// freshly created for a new filesystem).
func New(inner blockstore.Store, known *KnownBlockVersions, log *cryfslog.Logger, m metrics.Handle, onTaint TaintedFunc) *Store {
	if log == nil {
		log = cryfslog.Nop()
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Store{
		inner:    inner,
		known:    known,
		log:      log,
		metrics:  m,
		onTaint:  onTaint,
		warnedID: make(map[blockid.BlockId]bool),
	}
}

// Tainted reports whether a violation has been recorded by this Store
// instance since construction. The durable taint bit lives in
// internal/localstate; this mirrors it in memory for fast-path checks.
func (s *Store) Tainted() bool {
	return s.tainted
}

func (s *Store) violation(ctx context.Context, op string, id blockid.BlockId, reason error) error {
	s.metrics.IntegrityViolation()
	if s.AllowViolations {
		s.log.Warningf("%s: integrity violation on %s (allowed): %v", op, id.Hex(), reason)
		return nil
	}
	if !s.tainted {
		s.tainted = true
		if s.onTaint != nil {
			s.onTaint()
		}
	}
	s.log.Errorf("%s: integrity violation on %s: %v", op, id.Hex(), reason)
	return cryfserrors.Wrap(cryfserrors.KindIntegrityViolation, op, id.Hex(), reason)
}

func (s *Store) CreateBlockId() blockid.BlockId { return s.inner.CreateBlockId() }

func (s *Store) TryCreate(ctx context.Context, id blockid.BlockId, payload []byte) (blockstore.CreateResult, error) {
	version := s.known.IncrementVersion(id)
	framed := s.frame(id, version, payload)
	return s.inner.TryCreate(ctx, id, framed)
}

func (s *Store) Overwrite(ctx context.Context, id blockid.BlockId, payload []byte) error {
	version := s.known.IncrementVersion(id)
	framed := s.frame(id, version, payload)
	return s.inner.Overwrite(ctx, id, framed)
}

func (s *Store) frame(id blockid.BlockId, version uint64, payload []byte) []byte {
	out := make([]byte, 0, headerSize+len(payload))
	out = append(out, FormatVersion)
	var clientBuf [4]byte
	binary.LittleEndian.PutUint32(clientBuf[:], uint32(s.known.MyClientId()))
	out = append(out, clientBuf[:]...)
	out = append(out, id[:]...)
	var versionBuf [8]byte
	binary.LittleEndian.PutUint64(versionBuf[:], version)
	out = append(out, versionBuf[:]...)
	out = append(out, payload...)
	return out
}

func (s *Store) Load(ctx context.Context, id blockid.BlockId) ([]byte, bool, error) {
	raw, found, err := s.inner.Load(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !found {
		if s.MissingBlockIsViolation && s.known.HasBeenSeen(id) {
			return nil, false, s.violation(ctx, "integrity.Load", id, fmt.Errorf("block was seen before and is now missing"))
		}
		return nil, false, nil
	}
	if len(raw) < headerSize {
		return nil, false, cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "integrity.Load", id.Hex(), fmt.Errorf("truncated integrity header"))
	}

	client := ClientId(binary.LittleEndian.Uint32(raw[1:5]))
	headerID, err := blockid.FromBytes(raw[5:21])
	if err != nil {
		return nil, false, cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "integrity.Load", id.Hex(), err)
	}
	version := binary.LittleEndian.Uint64(raw[21:29])

	if headerID != id {
		if err := s.violation(ctx, "integrity.Load", id, fmt.Errorf("header block id %s does not match requested id (block swap)", headerID.Hex())); err != nil {
			return nil, false, err
		}
	}

	ok, firstSeen := s.known.CheckAndUpdate(client, id, version)
	if !ok {
		if err := s.violation(ctx, "integrity.Load", id, fmt.Errorf("version %d is not newer than last known version from client %d", version, client)); err != nil {
			return nil, false, err
		}
	}
	if firstSeen && !s.warnedID[id] {
		s.warnedID[id] = true
		s.log.Warningf("integrity.Load: first block seen from previously-unknown client %d for block %s; trusting on first use", client, id.Hex())
	}

	return raw[headerSize:], true, nil
}

func (s *Store) Remove(ctx context.Context, id blockid.BlockId) (blockstore.RemoveResult, error) {
	s.known.MarkSeen(id)
	return s.inner.Remove(ctx, id)
}

func (s *Store) NumBlocks(ctx context.Context) (uint64, error) {
	return s.inner.NumBlocks(ctx)
}

func (s *Store) EstimateFreeBytes(ctx context.Context) (uint64, error) {
	return s.inner.EstimateFreeBytes(ctx)
}

func (s *Store) BlockSizeFromPhysical(physical uint64) uint64 {
	inner := s.inner.BlockSizeFromPhysical(physical)
	if inner < headerSize {
		return 0
	}
	return inner - headerSize
}

func (s *Store) ForEachBlock(ctx context.Context, f func(blockid.BlockId) error) error {
	return s.inner.ForEachBlock(ctx, f)
}
