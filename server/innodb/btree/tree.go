package btree

import (
	"github.com/latticedb/lattice/logger"
	"github.com/latticedb/lattice/server/innodb/basic"
)

// Tree is a handle onto one B+ tree living inside a Forest. Every internal
// node's key at index 0 is the MinInt32 sentinel (§4.5): it means "route
// here for anything smaller than key[1]", which lets an internal node carry
// exactly as many children as it has keys instead of the usual size+1 — the
// node layout stays symmetric between keys and data slots.
type Tree struct {
	forest *Forest
	meta   *treeMeta
	l      layout
}

func (t *Tree) KeyNum() int      { return t.l.keyNum }
func (t *Tree) Height() int      { return t.meta.height }
func (t *Tree) RootPage() uint32 { return t.meta.rootPage }
func (t *Tree) ID() uint32       { return t.meta.id }

func (t *Tree) node(pageNo uint32) (node, error) {
	page, err := t.forest.readPage(pageNo)
	if err != nil {
		return node{}, err
	}
	return node{page: page, l: t.l}, nil
}

func (t *Tree) dirty(pageNo uint32) { t.forest.markDirty(pageNo) }

func (t *Tree) initRootLeaf(pageNo uint32) error {
	nd, err := t.node(pageNo)
	if err != nil {
		return err
	}
	nd.init(NodeLeaf)
	nd.setSize(0)
	t.dirty(pageNo)
	return nil
}

// countLE returns how many of nd's first size() keys are <= key. Keys are
// kept sorted ascending so this doubles as the internal-routing index.
func countLE(nd node, key []int32) int {
	n := nd.size()
	cnt := 0
	for i := 0; i < n; i++ {
		if compareKeys(nd.key(i), key) <= 0 {
			cnt++
		} else {
			break
		}
	}
	return cnt
}

// PreciseMatch looks up the exact key, descending root to leaf (§4.5
// precise_match).
func (t *Tree) PreciseMatch(key []int32) (LeafEntry, bool, error) {
	pageNo := t.meta.rootPage
	for {
		nd, err := t.node(pageNo)
		if err != nil {
			return LeafEntry{}, false, err
		}
		if nd.isLeaf() {
			cnt := countLE(nd, key)
			if cnt > 0 && compareKeys(nd.key(cnt-1), key) == 0 {
				return nd.leaf(cnt - 1), true, nil
			}
			return LeafEntry{}, false, nil
		}
		cnt := countLE(nd, key)
		pageNo = nd.child(cnt - 1)
	}
}

// leMatch descends to the leaf that would hold key, returning that leaf's
// page number (§4.5 le_match) — used as the entry point for range scans.
func (t *Tree) leMatch(key []int32) (uint32, error) {
	pageNo := t.meta.rootPage
	for {
		nd, err := t.node(pageNo)
		if err != nil {
			return 0, err
		}
		if nd.isLeaf() {
			return pageNo, nil
		}
		cnt := countLE(nd, key)
		pageNo = nd.child(cnt - 1)
	}
}

type promotion struct {
	key     []int32
	newPage uint32
}

// Insert adds a (key, LeafEntry) pair, splitting nodes bottom-up and
// growing the tree's height when the root itself splits (§4.5 Insert).
func (t *Tree) Insert(key []int32, entry LeafEntry) error {
	promo, err := t.insertRec(t.meta.rootPage, key, entry)
	if err != nil {
		return err
	}
	if promo == nil {
		return nil
	}

	newRoot, err := t.forest.AllocPage()
	if err != nil {
		return err
	}
	nd, err := t.node(newRoot)
	if err != nil {
		return err
	}
	nd.init(NodeInternal)
	nd.setSize(2)
	nd.setKey(0, minKey(t.l.keyNum))
	nd.setChild(0, t.meta.rootPage)
	nd.setKey(1, promo.key)
	nd.setChild(1, promo.newPage)
	t.dirty(newRoot)

	t.meta.rootPage = newRoot
	t.meta.height++
	logger.Debugf("btree: tree %d grew to height %d (new root page %d)", t.meta.id, t.meta.height, newRoot)
	return t.forest.flushHeader()
}

func (t *Tree) insertRec(pageNo uint32, key []int32, entry LeafEntry) (*promotion, error) {
	nd, err := t.node(pageNo)
	if err != nil {
		return nil, err
	}

	if nd.isLeaf() {
		cnt := countLE(nd, key)
		if cnt > 0 && compareKeys(nd.key(cnt-1), key) == 0 {
			return nil, basic.ErrDuplicate
		}
		shiftLeafRight(nd, cnt)
		nd.setKey(cnt, key)
		nd.setLeaf(cnt, entry)
		nd.setSize(nd.size() + 1)
		t.dirty(pageNo)

		if nd.size() <= t.l.leafMax {
			return nil, nil
		}
		return t.splitLeaf(pageNo, nd)
	}

	cnt := countLE(nd, key)
	childIdx := cnt - 1
	promo, err := t.insertRec(nd.child(childIdx), key, entry)
	if err != nil || promo == nil {
		return nil, err
	}

	pos := childIdx + 1
	shiftInternalRight(nd, pos)
	nd.setKey(pos, promo.key)
	nd.setChild(pos, promo.newPage)
	nd.setSize(nd.size() + 1)
	t.dirty(pageNo)

	if nd.size() <= t.l.internalMax {
		return nil, nil
	}
	return t.splitInternal(pageNo, nd)
}

func shiftLeafRight(nd node, from int) {
	for i := nd.size(); i > from; i-- {
		nd.setKey(i, nd.key(i-1))
		nd.setLeaf(i, nd.leaf(i-1))
	}
}

func shiftLeafLeft(nd node, from int) {
	n := nd.size()
	for i := from; i < n-1; i++ {
		nd.setKey(i, nd.key(i+1))
		nd.setLeaf(i, nd.leaf(i+1))
	}
}

func shiftInternalRight(nd node, from int) {
	for i := nd.size(); i > from; i-- {
		nd.setKey(i, nd.key(i-1))
		nd.setChild(i, nd.child(i-1))
	}
}

func (t *Tree) splitLeaf(pageNo uint32, left node) (*promotion, error) {
	n := left.size()
	mid := n / 2

	rightPage, err := t.forest.AllocPage()
	if err != nil {
		return nil, err
	}
	right, err := t.node(rightPage)
	if err != nil {
		return nil, err
	}
	right.init(NodeLeaf)

	cnt := n - mid
	for i := 0; i < cnt; i++ {
		right.setKey(i, left.key(mid+i))
		right.setLeaf(i, left.leaf(mid+i))
	}
	right.setSize(cnt)
	left.setSize(mid)

	oldRight := left.rightSibling()
	right.setRightSibling(oldRight)
	right.setLeftSibling(pageNo)
	left.setRightSibling(rightPage)
	if oldRight != NoPage {
		nbr, err := t.node(oldRight)
		if err != nil {
			return nil, err
		}
		nbr.setLeftSibling(rightPage)
		t.dirty(oldRight)
	}

	t.dirty(pageNo)
	t.dirty(rightPage)

	return &promotion{key: right.key(0), newPage: rightPage}, nil
}

func (t *Tree) splitInternal(pageNo uint32, left node) (*promotion, error) {
	n := left.size()
	mid := n / 2

	rightPage, err := t.forest.AllocPage()
	if err != nil {
		return nil, err
	}
	right, err := t.node(rightPage)
	if err != nil {
		return nil, err
	}
	right.init(NodeInternal)

	pushKey := append([]int32(nil), left.key(mid)...)

	cnt := n - mid
	for i := 0; i < cnt; i++ {
		right.setKey(i, left.key(mid+i))
		right.setChild(i, left.child(mid+i))
	}
	right.setKey(0, minKey(t.l.keyNum)) // re-sentinel: this key is now position 0
	right.setSize(cnt)
	left.setSize(mid)

	t.dirty(pageNo)
	t.dirty(rightPage)

	return &promotion{key: pushKey, newPage: rightPage}, nil
}

// Erase removes key's entry with no rebalancing (§4.5 Erase: bounded
// working sets make underfull nodes an acceptable tradeoff against the
// complexity of merge/redistribute).
func (t *Tree) Erase(key []int32) error {
	pageNo, err := t.leMatch(key)
	if err != nil {
		return err
	}
	nd, err := t.node(pageNo)
	if err != nil {
		return err
	}
	cnt := countLE(nd, key)
	if cnt == 0 || compareKeys(nd.key(cnt-1), key) != 0 {
		return basic.ErrKeyNotFound
	}
	shiftLeafLeft(nd, cnt-1)
	nd.setSize(nd.size() - 1)
	t.dirty(pageNo)
	return nil
}

// GetRefcount returns the leaf entry's reference counter, used by foreign
// key enforcement to decide whether a referenced row may be deleted.
func (t *Tree) GetRefcount(key []int32) (int32, error) {
	e, found, err := t.PreciseMatch(key)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, basic.ErrKeyNotFound
	}
	return e.Refcnt, nil
}

func (t *Tree) adjustRefcount(key []int32, delta int32) (int32, error) {
	pageNo, err := t.leMatch(key)
	if err != nil {
		return 0, err
	}
	nd, err := t.node(pageNo)
	if err != nil {
		return 0, err
	}
	cnt := countLE(nd, key)
	if cnt == 0 || compareKeys(nd.key(cnt-1), key) != 0 {
		return 0, basic.ErrKeyNotFound
	}
	e := nd.leaf(cnt - 1)
	e.Refcnt += delta
	nd.setLeaf(cnt-1, e)
	t.dirty(pageNo)
	return e.Refcnt, nil
}

func (t *Tree) IncRefcount(key []int32) (int32, error) { return t.adjustRefcount(key, 1) }
func (t *Tree) DecRefcount(key []int32) (int32, error) { return t.adjustRefcount(key, -1) }

// RangeAscending walks every leaf entry whose key is >= start (or every
// entry, if start is nil) in ascending order via the leaf sibling chain,
// stopping early if visit returns false.
func (t *Tree) RangeAscending(start []int32, visit func(key []int32, e LeafEntry) (bool, error)) error {
	var pageNo uint32
	var err error
	firstIdx := 0
	if start == nil {
		pageNo, err = t.leftmostLeaf()
	} else {
		pageNo, err = t.leMatch(start)
	}
	if err != nil {
		return err
	}

	for pageNo != NoPage {
		nd, err := t.node(pageNo)
		if err != nil {
			return err
		}
		n := nd.size()
		for i := firstIdx; i < n; i++ {
			k := nd.key(i)
			if start != nil && compareKeys(k, start) < 0 {
				continue
			}
			cont, err := visit(k, nd.leaf(i))
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		pageNo = nd.rightSibling()
		firstIdx = 0
	}
	return nil
}

func (t *Tree) leftmostLeaf() (uint32, error) {
	pageNo := t.meta.rootPage
	for {
		nd, err := t.node(pageNo)
		if err != nil {
			return 0, err
		}
		if nd.isLeaf() {
			return pageNo, nil
		}
		pageNo = nd.child(0)
	}
}

// collectPages visits every page belonging to this tree, leaves and
// internal nodes alike, used when a tree is dropped and its pages returned
// to the forest.
func (t *Tree) collectPages(pageNo uint32, visit func(uint32) error) error {
	nd, err := t.node(pageNo)
	if err != nil {
		return err
	}
	if !nd.isLeaf() {
		for i := 0; i < nd.size(); i++ {
			if err := t.collectPages(nd.child(i), visit); err != nil {
				return err
			}
		}
	}
	return visit(pageNo)
}
