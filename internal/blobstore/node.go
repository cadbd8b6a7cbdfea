package blobstore

import (
	"encoding/binary"
	"fmt"

	"github.com/cryfs-go/cryfs/internal/blockid"
	"github.com/cryfs-go/cryfs/internal/cryfserrors"
)

type nodeKind byte

const (
	nodeKindLeaf  nodeKind = 0
	nodeKindInner nodeKind = 1
)

type leafNode struct {
	data []byte
}

func encodeLeaf(n leafNode) []byte {
	out := make([]byte, leafHeaderSize+len(n.data))
	out[0] = byte(nodeKindLeaf)
	binary.LittleEndian.PutUint32(out[1:5], uint32(len(n.data)))
	copy(out[leafHeaderSize:], n.data)
	return out
}

func decodeLeaf(raw []byte) (leafNode, error) {
	if len(raw) < leafHeaderSize {
		return leafNode{}, fmt.Errorf("blobstore: truncated leaf header")
	}
	n := binary.LittleEndian.Uint32(raw[1:5])
	if int(n) > len(raw)-leafHeaderSize {
		return leafNode{}, fmt.Errorf("blobstore: leaf byte count %d exceeds stored payload", n)
	}
	return leafNode{data: raw[leafHeaderSize : leafHeaderSize+int(n)]}, nil
}

type innerNode struct {
	depth    int
	children []blockid.BlockId
}

func encodeInner(n innerNode) []byte {
	out := make([]byte, innerHeaderSize+len(n.children)*idSize)
	out[0] = byte(nodeKindInner)
	out[1] = byte(n.depth)
	binary.LittleEndian.PutUint32(out[2:6], uint32(len(n.children)))
	for i, child := range n.children {
		copy(out[innerHeaderSize+i*idSize:], child[:])
	}
	return out
}

func decodeInner(raw []byte) (innerNode, error) {
	if len(raw) < innerHeaderSize {
		return innerNode{}, fmt.Errorf("blobstore: truncated inner header")
	}
	depth := int(raw[1])
	count := binary.LittleEndian.Uint32(raw[2:6])
	want := innerHeaderSize + int(count)*idSize
	if len(raw) < want {
		return innerNode{}, fmt.Errorf("blobstore: inner node truncated: want %d bytes, got %d", want, len(raw))
	}
	children := make([]blockid.BlockId, count)
	for i := range children {
		id, err := blockid.FromBytes(raw[innerHeaderSize+i*idSize : innerHeaderSize+(i+1)*idSize])
		if err != nil {
			return innerNode{}, err
		}
		children[i] = id
	}
	return innerNode{depth: depth, children: children}, nil
}

// nodeKindOf peeks the first byte of a raw node payload.
func nodeKindOf(raw []byte) (nodeKind, error) {
	if len(raw) < 1 {
		return 0, cryfserrors.New(cryfserrors.KindCorruptedBlock, "blobstore.nodeKindOf")
	}
	return nodeKind(raw[0]), nil
}
