// Package btree implements the B+ Forest / B+ Tree (§4.5): a shared file of
// linked B+ tree pages supporting composite int32-tuple keys, equality and
// range probes, insertion with split propagation, and a per-leaf-entry
// reference counter used by foreign-key enforcement.
package btree

import (
	"encoding/binary"
	"math"
)

// NodeType distinguishes internal routing pages from leaf data pages.
type NodeType uint8

const (
	NodeInternal NodeType = 0
	NodeLeaf     NodeType = 1
)

const (
	nodeHeaderLen = 16 // leftSibling(4) rightSibling(4) size(4) type(1) pad(3)
	NoPage        = 0  // page 0 is the forest header; 0 never denotes a tree page
)

// layout captures the per-tree fanout geometry derived from key width and
// leaf payload size (§4.5 "Fanout is derived from the page capacity").
type layout struct {
	keyNum            int
	inlineLen          int // extra record bytes inlined per leaf entry when storeFullData
	leafEntrySize      int // locator(8) + refcount(4) + inlineLen
	internalEntrySize  int // child page number (4)
	leafMax            int
	internalMax        int
	leafDataOffset     int
	internalDataOffset int
}

func newLayout(keyNum, inlineLen int) layout {
	l := layout{
		keyNum:            keyNum,
		inlineLen:         inlineLen,
		leafEntrySize:     8 + 4 + inlineLen,
		internalEntrySize: 4,
	}
	keyBytes := 4 * keyNum
	const pageSize = 8192
	l.leafMax = (pageSize - nodeHeaderLen) / (keyBytes + l.leafEntrySize)
	l.internalMax = (pageSize - nodeHeaderLen) / (keyBytes + l.internalEntrySize)
	l.leafDataOffset = nodeHeaderLen + l.leafMax*keyBytes
	l.internalDataOffset = nodeHeaderLen + l.internalMax*keyBytes
	return l
}

func (l layout) maxEntries(leaf bool) int {
	if leaf {
		return l.leafMax
	}
	return l.internalMax
}

func (l layout) dataOffset(leaf bool) int {
	if leaf {
		return l.leafDataOffset
	}
	return l.internalDataOffset
}

func (l layout) entrySize(leaf bool) int {
	if leaf {
		return l.leafEntrySize
	}
	return l.internalEntrySize
}

// node is a thin view over one page's bytes.
type node struct {
	page []byte
	l    layout
}

func (n node) leftSibling() uint32    { return binary.LittleEndian.Uint32(n.page[0:4]) }
func (n node) setLeftSibling(v uint32) { binary.LittleEndian.PutUint32(n.page[0:4], v) }
func (n node) rightSibling() uint32   { return binary.LittleEndian.Uint32(n.page[4:8]) }
func (n node) setRightSibling(v uint32) { binary.LittleEndian.PutUint32(n.page[4:8], v) }
func (n node) size() int              { return int(binary.LittleEndian.Uint32(n.page[8:12])) }
func (n node) setSize(v int)          { binary.LittleEndian.PutUint32(n.page[8:12], uint32(v)) }
func (n node) nodeType() NodeType     { return NodeType(n.page[12]) }
func (n node) setNodeType(t NodeType) { n.page[12] = byte(t) }
func (n node) isLeaf() bool           { return n.nodeType() == NodeLeaf }

func (n node) init(t NodeType) {
	for i := 0; i < nodeHeaderLen; i++ {
		n.page[i] = 0
	}
	n.setNodeType(t)
	n.setLeftSibling(NoPage)
	n.setRightSibling(NoPage)
}

// key returns the i-th key tuple.
func (n node) key(i int) []int32 {
	keyBytes := 4 * n.l.keyNum
	off := nodeHeaderLen + i*keyBytes
	out := make([]int32, n.l.keyNum)
	for j := 0; j < n.l.keyNum; j++ {
		out[j] = int32(binary.LittleEndian.Uint32(n.page[off+j*4:]))
	}
	return out
}

func (n node) setKey(i int, key []int32) {
	keyBytes := 4 * n.l.keyNum
	off := nodeHeaderLen + i*keyBytes
	for j := 0; j < n.l.keyNum; j++ {
		binary.LittleEndian.PutUint32(n.page[off+j*4:], uint32(key[j]))
	}
}

func (n node) child(i int) uint32 {
	off := n.l.internalDataOffset + i*n.l.internalEntrySize
	return binary.LittleEndian.Uint32(n.page[off:])
}

func (n node) setChild(i int, pageNo uint32) {
	off := n.l.internalDataOffset + i*n.l.internalEntrySize
	binary.LittleEndian.PutUint32(n.page[off:], pageNo)
}

type LeafEntry struct {
	PageNo  uint32
	SlotNo  uint32
	Refcnt  int32
	Inline  []byte
}

func (n node) leaf(i int) LeafEntry {
	off := n.l.leafDataOffset + i*n.l.leafEntrySize
	e := LeafEntry{
		PageNo: binary.LittleEndian.Uint32(n.page[off:]),
		SlotNo: binary.LittleEndian.Uint32(n.page[off+4:]),
		Refcnt: int32(binary.LittleEndian.Uint32(n.page[off+8:])),
	}
	if n.l.inlineLen > 0 {
		e.Inline = append([]byte(nil), n.page[off+12:off+12+n.l.inlineLen]...)
	}
	return e
}

func (n node) setLeaf(i int, e LeafEntry) {
	off := n.l.leafDataOffset + i*n.l.leafEntrySize
	binary.LittleEndian.PutUint32(n.page[off:], e.PageNo)
	binary.LittleEndian.PutUint32(n.page[off+4:], e.SlotNo)
	binary.LittleEndian.PutUint32(n.page[off+8:], uint32(e.Refcnt))
	if n.l.inlineLen > 0 {
		copy(n.page[off+12:off+12+n.l.inlineLen], e.Inline)
	}
}

func (n node) setRefcount(i int, v int32) {
	off := n.l.leafDataOffset + i*n.l.leafEntrySize + 8
	binary.LittleEndian.PutUint32(n.page[off:], uint32(v))
}

// compareKeys compares two equal-length int32 tuples lexicographically.
func compareKeys(a, b []int32) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// minKey returns the sentinel key (all components = math.MinInt32) used as
// the leftmost separator in an internal node so that descent never needs a
// special-cased "pointer before the first key" (§4.5 Insert: root split).
func minKey(keyNum int) []int32 {
	k := make([]int32, keyNum)
	for i := range k {
		k[i] = math.MinInt32
	}
	return k
}
