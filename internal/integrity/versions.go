// Package integrity implements the per-block versioned-header layer
// (spec.md §4.B): it wraps any blockstore.Store and detects rollback,
// replay, block-swap, and (optionally) deletion attacks by tracking the
// highest version ever seen for each (ClientId, BlockId) pair.
package integrity

import (
	"sync"

	"github.com/cryfs-go/cryfs/internal/blockid"
)

// ClientId identifies one (installation, base dir) pair. Partitioned
// version counters are keyed on it so that two clients writing the same
// block concurrently don't appear to roll each other back.
type ClientId uint32

// versionKey is the (ClientId, BlockId) pair KnownBlockVersions indexes
// by.
type versionKey struct {
	client ClientId
	block  blockid.BlockId
}

// KnownBlockVersions is the persistent integrity state: the last-seen
// version per (client, block), and the set of block ids ever seen (used
// to detect deletion attacks). External synchronization is provided by
// the type itself; callers do not need their own lock.
type KnownBlockVersions struct {
	mu       sync.Mutex
	versions map[versionKey]uint64
	seen     map[blockid.BlockId]bool
	myClient ClientId
}

// NewKnownBlockVersions returns empty integrity state for the given
// client id (the caller's own id, used when incrementing versions on
// write).
func NewKnownBlockVersions(myClient ClientId) *KnownBlockVersions {
	return &KnownBlockVersions{
		versions: make(map[versionKey]uint64),
		seen:     make(map[blockid.BlockId]bool),
		myClient: myClient,
	}
}

// MyClientId returns the client id this KnownBlockVersions increments
// versions under when writing.
func (k *KnownBlockVersions) MyClientId() ClientId {
	return k.myClient
}

// IncrementVersion bumps and returns the new version this client should
// stamp onto the next write of id.
func (k *KnownBlockVersions) IncrementVersion(id blockid.BlockId) uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()

	key := versionKey{client: k.myClient, block: id}
	k.versions[key]++
	k.seen[id] = true
	return k.versions[key]
}

// CheckAndUpdate validates an incoming (client, id, version) triple
// against the known state, returning false if version is not newer than
// (or equal to, which is also invalid: versions are strictly
// monotonic) what was last seen from that client for that block. On
// success it records the new version and marks id as seen.
//
// A client id never seen before for this block is trusted on first use
// (spec.md §9's documented safer default) — firstSeen reports this so
// callers can log it once.
func (k *KnownBlockVersions) CheckAndUpdate(client ClientId, id blockid.BlockId, version uint64) (ok bool, firstSeen bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	key := versionKey{client: client, block: id}
	known, existed := k.versions[key]
	if existed && version <= known {
		return false, false
	}

	k.versions[key] = version
	k.seen[id] = true
	return true, !existed
}

// HasBeenSeen reports whether id has ever been recorded by
// CheckAndUpdate or IncrementVersion, used to distinguish "never
// existed" from "existed and is now missing" when
// missing_block_is_integrity_violation is enabled.
func (k *KnownBlockVersions) HasBeenSeen(id blockid.BlockId) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.seen[id]
}

// MarkSeen records id as seen without touching any version, used when a
// block is removed so a later re-creation under the same id is still
// checked against "has this id ever existed".
func (k *KnownBlockVersions) MarkSeen(id blockid.BlockId) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.seen[id] = true
}

// VersionRecord is one persisted (client, block, version) entry.
type VersionRecord struct {
	Client  ClientId
	Block   blockid.BlockId
	Version uint64
}

// Snapshot returns a copy of the version map and seen set, for
// persistence by internal/localstate.
func (k *KnownBlockVersions) Snapshot() (versions []VersionRecord, seen []blockid.BlockId) {
	k.mu.Lock()
	defer k.mu.Unlock()

	versions = make([]VersionRecord, 0, len(k.versions))
	for key, v := range k.versions {
		versions = append(versions, VersionRecord{Client: key.client, Block: key.block, Version: v})
	}
	seen = make([]blockid.BlockId, 0, len(k.seen))
	for id := range k.seen {
		seen = append(seen, id)
	}
	return versions, seen
}

// Restore repopulates known versions and the seen set, used when loading
// persisted integrity state at mount.
func (k *KnownBlockVersions) Restore(client ClientId, id blockid.BlockId, version uint64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.versions[versionKey{client: client, block: id}] = version
	k.seen[id] = true
}

// RestoreSeen marks id as seen without an associated version, used for
// blocks whose version is unknown but which are known to have existed.
func (k *KnownBlockVersions) RestoreSeen(id blockid.BlockId) {
	k.MarkSeen(id)
}
