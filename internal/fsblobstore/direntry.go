package fsblobstore

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/cryfs-go/cryfs/internal/blockid"
	"github.com/cryfs-go/cryfs/internal/cryfserrors"
)

// EntryKind is the dirent's own kind byte (spec.md §6: "kind(u8=1/2/3)"),
// distinct from Kind above which tags the blob the entry points at.
type EntryKind byte

const (
	EntryFile    EntryKind = 1
	EntryDir     EntryKind = 2
	EntrySymlink EntryKind = 3
)

func entryKindFor(k Kind) EntryKind {
	switch k {
	case KindDir:
		return EntryDir
	case KindSymlink:
		return EntrySymlink
	default:
		return EntryFile
	}
}

// DirEntry is one entry in a DirBlob's entry list (spec.md §4.G, §6).
type DirEntry struct {
	Kind    EntryKind
	Name    string
	BlockId blockid.BlockId
	Mode    uint32
	Uid     uint32
	Gid     uint32
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
}

func encodeTime(buf *bytes.Buffer, t time.Time) {
	var sec [8]byte
	var nsec [4]byte
	binary.LittleEndian.PutUint64(sec[:], uint64(t.Unix()))
	binary.LittleEndian.PutUint32(nsec[:], uint32(t.Nanosecond()))
	buf.Write(sec[:])
	buf.Write(nsec[:])
}

func decodeTime(raw []byte) (time.Time, error) {
	if len(raw) < 12 {
		return time.Time{}, cryfserrors.New(cryfserrors.KindCorruptedBlock, "fsblobstore.decodeTime")
	}
	sec := int64(binary.LittleEndian.Uint64(raw[0:8]))
	nsec := int64(binary.LittleEndian.Uint32(raw[8:12]))
	return time.Unix(sec, nsec).UTC(), nil
}

// encode appends the wire form of e to buf (spec.md §6):
//
//	kind(1) || name || 0x00 || block_id(16) ||
//	mode(4) || uid(4) || gid(4) || atime(12) || mtime(12) || ctime(12)
func (e DirEntry) encode(buf *bytes.Buffer) {
	buf.WriteByte(byte(e.Kind))
	buf.WriteString(e.Name)
	buf.WriteByte(0x00)
	buf.Write(e.BlockId[:])

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], e.Mode)
	buf.Write(u32[:])
	binary.LittleEndian.PutUint32(u32[:], e.Uid)
	buf.Write(u32[:])
	binary.LittleEndian.PutUint32(u32[:], e.Gid)
	buf.Write(u32[:])

	encodeTime(buf, e.Atime)
	encodeTime(buf, e.Mtime)
	encodeTime(buf, e.Ctime)
}

// decodeDirEntry parses one entry starting at raw[0], returning the entry
// and the number of bytes it consumed.
func decodeDirEntry(raw []byte) (DirEntry, int, error) {
	if len(raw) < 1 {
		return DirEntry{}, 0, cryfserrors.New(cryfserrors.KindCorruptedBlock, "fsblobstore.decodeDirEntry")
	}
	kind := EntryKind(raw[0])
	nameEnd := bytes.IndexByte(raw[1:], 0x00)
	if nameEnd < 0 {
		return DirEntry{}, 0, cryfserrors.New(cryfserrors.KindCorruptedBlock, "fsblobstore.decodeDirEntry: unterminated name")
	}
	name := string(raw[1 : 1+nameEnd])
	pos := 1 + nameEnd + 1

	const tail = blockid.Size + 4 + 4 + 4 + 12 + 12 + 12
	if len(raw)-pos < tail {
		return DirEntry{}, 0, cryfserrors.New(cryfserrors.KindCorruptedBlock, "fsblobstore.decodeDirEntry: truncated entry")
	}

	id, err := blockid.FromBytes(raw[pos : pos+blockid.Size])
	if err != nil {
		return DirEntry{}, 0, cryfserrors.Wrap(cryfserrors.KindCorruptedBlock, "fsblobstore.decodeDirEntry", "", err)
	}
	pos += blockid.Size

	mode := binary.LittleEndian.Uint32(raw[pos : pos+4])
	pos += 4
	uid := binary.LittleEndian.Uint32(raw[pos : pos+4])
	pos += 4
	gid := binary.LittleEndian.Uint32(raw[pos : pos+4])
	pos += 4

	atime, err := decodeTime(raw[pos : pos+12])
	if err != nil {
		return DirEntry{}, 0, err
	}
	pos += 12
	mtime, err := decodeTime(raw[pos : pos+12])
	if err != nil {
		return DirEntry{}, 0, err
	}
	pos += 12
	ctime, err := decodeTime(raw[pos : pos+12])
	if err != nil {
		return DirEntry{}, 0, err
	}
	pos += 12

	return DirEntry{
		Kind: kind, Name: name, BlockId: id,
		Mode: mode, Uid: uid, Gid: gid,
		Atime: atime, Mtime: mtime, Ctime: ctime,
	}, pos, nil
}

func encodeDirEntries(entries []DirEntry) []byte {
	var buf bytes.Buffer
	for _, e := range entries {
		e.encode(&buf)
	}
	return buf.Bytes()
}

func decodeDirEntries(raw []byte) ([]DirEntry, error) {
	var entries []DirEntry
	for len(raw) > 0 {
		e, n, err := decodeDirEntry(raw)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
		raw = raw[n:]
	}
	return entries, nil
}
