package buffer_pool

// lruList is an intrusive doubly-linked list over a fixed-size array of
// slots, addressed by index rather than pointer. No allocation happens on
// any Touch/Remove/PushBack call: the "pointers" are just int indices into
// the pool's own slot array, so page slices handed out by the pool stay
// valid exactly as long as the slot they came from isn't evicted.
type lruList struct {
	prev, next []int32
	head, tail int32 // -1 when the list is empty
	size       int
}

const listNil int32 = -1

func newLRUList(capacity int) *lruList {
	l := &lruList{
		prev: make([]int32, capacity),
		next: make([]int32, capacity),
		head: listNil,
		tail: listNil,
	}
	for i := range l.prev {
		l.prev[i] = listNil
		l.next[i] = listNil
	}
	return l
}

// Len reports the number of slots currently linked into the list.
func (l *lruList) Len() int { return l.size }

// PushBack links slot as the most-recently-used entry.
func (l *lruList) PushBack(slot int32) {
	l.prev[slot] = l.tail
	l.next[slot] = listNil
	if l.tail != listNil {
		l.next[l.tail] = slot
	}
	l.tail = slot
	if l.head == listNil {
		l.head = slot
	}
	l.size++
}

// Remove unlinks slot from wherever it sits in the list.
func (l *lruList) Remove(slot int32) {
	p, n := l.prev[slot], l.next[slot]
	if p != listNil {
		l.next[p] = n
	} else {
		l.head = n
	}
	if n != listNil {
		l.prev[n] = p
	} else {
		l.tail = p
	}
	l.prev[slot] = listNil
	l.next[slot] = listNil
	l.size--
}

// Touch promotes slot to the tail (most-recently-used position).
func (l *lruList) Touch(slot int32) {
	if l.tail == slot {
		return
	}
	l.Remove(slot)
	l.PushBack(slot)
}

// Front returns the least-recently-used slot, or listNil if the list is empty.
func (l *lruList) Front() int32 {
	return l.head
}
