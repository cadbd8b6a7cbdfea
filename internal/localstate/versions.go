package localstate

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/cryfs-go/cryfs/internal/blockid"
	"github.com/cryfs-go/cryfs/internal/cryfserrors"
	"github.com/cryfs-go/cryfs/internal/integrity"
)

// integritydata layout: a 1-byte tainted flag, a uint32 count of version
// records (client u32, block id, version u64 each), then a uint32 count
// of seen-only block ids. Fixed-width records throughout; no framing
// beyond the two counts.

func loadVersions(dir string, myClient integrity.ClientId) (*integrity.KnownBlockVersions, bool, error) {
	path := filepath.Join(dir, integrityDataFileName)
	kv := integrity.NewKnownBlockVersions(myClient)

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return kv, false, nil
	}
	if err != nil {
		return nil, false, cryfserrors.Wrap(cryfserrors.KindIO, "localstate.loadVersions", path, err)
	}

	r := bytes.NewReader(raw)
	var tainted byte
	if err := binary.Read(r, binary.LittleEndian, &tainted); err != nil {
		return nil, false, cryfserrors.Wrap(cryfserrors.KindIO, "localstate.loadVersions", path, err)
	}

	var versionCount uint32
	if err := binary.Read(r, binary.LittleEndian, &versionCount); err != nil {
		return nil, false, cryfserrors.Wrap(cryfserrors.KindIO, "localstate.loadVersions", path, err)
	}
	for i := uint32(0); i < versionCount; i++ {
		var client uint32
		var idBytes [blockid.Size]byte
		var version uint64
		if err := binary.Read(r, binary.LittleEndian, &client); err != nil {
			return nil, false, cryfserrors.Wrap(cryfserrors.KindIO, "localstate.loadVersions", path, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &idBytes); err != nil {
			return nil, false, cryfserrors.Wrap(cryfserrors.KindIO, "localstate.loadVersions", path, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
			return nil, false, cryfserrors.Wrap(cryfserrors.KindIO, "localstate.loadVersions", path, err)
		}
		id, err := blockid.FromBytes(idBytes[:])
		if err != nil {
			return nil, false, cryfserrors.Wrap(cryfserrors.KindIO, "localstate.loadVersions", path, err)
		}
		kv.Restore(integrity.ClientId(client), id, version)
	}

	var seenCount uint32
	if err := binary.Read(r, binary.LittleEndian, &seenCount); err != nil {
		return nil, false, cryfserrors.Wrap(cryfserrors.KindIO, "localstate.loadVersions", path, err)
	}
	for i := uint32(0); i < seenCount; i++ {
		var idBytes [blockid.Size]byte
		if err := binary.Read(r, binary.LittleEndian, &idBytes); err != nil {
			return nil, false, cryfserrors.Wrap(cryfserrors.KindIO, "localstate.loadVersions", path, err)
		}
		id, err := blockid.FromBytes(idBytes[:])
		if err != nil {
			return nil, false, cryfserrors.Wrap(cryfserrors.KindIO, "localstate.loadVersions", path, err)
		}
		kv.RestoreSeen(id)
	}

	return kv, tainted != 0, nil
}

func saveVersions(dir string, kv *integrity.KnownBlockVersions, tainted bool) error {
	path := filepath.Join(dir, integrityDataFileName)
	versions, seen := kv.Snapshot()

	seenOnly := make([]blockid.BlockId, 0, len(seen))
	versioned := make(map[blockid.BlockId]bool, len(versions))
	for _, v := range versions {
		versioned[v.Block] = true
	}
	for _, id := range seen {
		if !versioned[id] {
			seenOnly = append(seenOnly, id)
		}
	}

	var buf bytes.Buffer
	var taintedByte byte
	if tainted {
		taintedByte = 1
	}
	_ = binary.Write(&buf, binary.LittleEndian, taintedByte)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(versions)))
	for _, v := range versions {
		_ = binary.Write(&buf, binary.LittleEndian, uint32(v.Client))
		buf.Write(v.Block[:])
		_ = binary.Write(&buf, binary.LittleEndian, v.Version)
	}
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(seenOnly)))
	for _, id := range seenOnly {
		buf.Write(id[:])
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return cryfserrors.Wrap(cryfserrors.KindIO, "localstate.saveVersions", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return cryfserrors.Wrap(cryfserrors.KindIO, "localstate.saveVersions", path, err)
	}
	return nil
}
