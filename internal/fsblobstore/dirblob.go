package fsblobstore

import (
	"context"
	"sort"
	"sync"

	"github.com/cryfs-go/cryfs/internal/blobstore"
	"github.com/cryfs-go/cryfs/internal/blockid"
	"github.com/cryfs-go/cryfs/internal/cryfserrors"
)

// DirBlob is a directory's entry list, kept sorted by name, cached in
// memory, and rewritten in full on any mutation (spec.md §4.G). Two
// DirBlobs may mutate in parallel; a single DirBlob's own mutations are
// serialized by mu.
type DirBlob struct {
	blob *blobstore.Blob

	mu      sync.Mutex
	loaded  bool
	entries []DirEntry
}

func (d *DirBlob) Id() blockid.BlockId { return d.blob.Id() }

func (d *DirBlob) load(ctx context.Context) error {
	if d.loaded {
		return nil
	}
	size, err := d.blob.Size(ctx)
	if err != nil {
		return err
	}
	raw := make([]byte, size-1)
	if _, err := d.blob.ReadAt(ctx, 1, raw); err != nil {
		return err
	}
	entries, err := decodeDirEntries(raw)
	if err != nil {
		return err
	}
	d.entries = entries
	d.loaded = true
	return nil
}

// rewrite re-serializes the full entry list and writes it back, keeping
// entries sorted by name.
func (d *DirBlob) rewrite(ctx context.Context) error {
	sort.Slice(d.entries, func(i, j int) bool { return d.entries[i].Name < d.entries[j].Name })
	raw := encodeDirEntries(d.entries)
	if err := d.blob.Resize(ctx, uint64(len(raw)+1)); err != nil {
		return err
	}
	return d.blob.WriteAt(ctx, 1, raw)
}

// Entries returns a snapshot of the directory's current entry list,
// sorted by name.
func (d *DirBlob) Entries(ctx context.Context) ([]DirEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.load(ctx); err != nil {
		return nil, err
	}
	out := make([]DirEntry, len(d.entries))
	copy(out, d.entries)
	return out, nil
}

// Lookup finds the entry with the given name.
func (d *DirBlob) Lookup(ctx context.Context, name string) (DirEntry, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.load(ctx); err != nil {
		return DirEntry{}, false, err
	}
	for _, e := range d.entries {
		if e.Name == name {
			return e, true, nil
		}
	}
	return DirEntry{}, false, nil
}

// Add inserts a new entry, failing if name already exists.
func (d *DirBlob) Add(ctx context.Context, e DirEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.load(ctx); err != nil {
		return err
	}
	for _, existing := range d.entries {
		if existing.Name == e.Name {
			return cryfserrors.New(cryfserrors.KindIO, "fsblobstore.DirBlob.Add: name exists")
		}
	}
	d.entries = append(d.entries, e)
	return d.rewrite(ctx)
}

// Remove deletes the entry with the given name, failing if absent.
func (d *DirBlob) Remove(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.load(ctx); err != nil {
		return err
	}
	for i, e := range d.entries {
		if e.Name == name {
			d.entries = append(d.entries[:i], d.entries[i+1:]...)
			return d.rewrite(ctx)
		}
	}
	return cryfserrors.New(cryfserrors.KindNotFound, "fsblobstore.DirBlob.Remove")
}

// Rename changes the name of an existing entry in place.
func (d *DirBlob) Rename(ctx context.Context, oldName, newName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.load(ctx); err != nil {
		return err
	}
	for _, e := range d.entries {
		if e.Name == newName {
			return cryfserrors.New(cryfserrors.KindIO, "fsblobstore.DirBlob.Rename: target name exists")
		}
	}
	for i, e := range d.entries {
		if e.Name == oldName {
			d.entries[i].Name = newName
			return d.rewrite(ctx)
		}
	}
	return cryfserrors.New(cryfserrors.KindNotFound, "fsblobstore.DirBlob.Rename")
}

// UpdateAttrs replaces the stored attributes for name via fn's return
// value and rewrites the blob.
func (d *DirBlob) UpdateAttrs(ctx context.Context, name string, fn func(DirEntry) DirEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.load(ctx); err != nil {
		return err
	}
	for i, e := range d.entries {
		if e.Name == name {
			d.entries[i] = fn(e)
			return d.rewrite(ctx)
		}
	}
	return cryfserrors.New(cryfserrors.KindNotFound, "fsblobstore.DirBlob.UpdateAttrs")
}

func (d *DirBlob) RemoveBlob(ctx context.Context) error { return d.blob.Remove(ctx) }
func (d *DirBlob) Flush(ctx context.Context) error      { return d.blob.Flush(ctx) }
