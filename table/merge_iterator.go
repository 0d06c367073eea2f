package table

import (
	"bytes"
	"container/heap"

	"github.com/pingcap/badger/y"
)

// MergeIterator performs an ordered k-way merge over heterogeneous
// sources (§4.2). For identical user keys, it interleaves by version:
// the child holding the newest version for the current key is exposed
// first; other children holding the same key remain queued and surface
// through subsequent NextVersion calls before the key advances.
type MergeIterator struct {
	reversed     bool
	h            mergeHeap
	origChildren []Iterator
}

type mergeHeapItem struct {
	it Iterator
}

type mergeHeap struct {
	items    []*mergeHeapItem
	reversed bool
}

func (h mergeHeap) Len() int { return len(h.items) }
func (h mergeHeap) Less(i, j int) bool {
	a, b := h.items[i].it, h.items[j].it
	ka, kb := a.Key(), b.Key()
	c := bytes.Compare(ka, kb)
	if c != 0 {
		if h.reversed {
			return c > 0
		}
		return c < 0
	}
	// Same key: newer version sorts first.
	return a.Value().Version > b.Value().Version
}
func (h mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x interface{}) { h.items = append(h.items, x.(*mergeHeapItem)) }
func (h *mergeHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	x := old[n-1]
	h.items = old[:n-1]
	return x
}

func NewMergeIterator(children []Iterator, reversed bool) *MergeIterator {
	return &MergeIterator{reversed: reversed, h: mergeHeap{reversed: reversed}, origChildren: children}
}

// init is shared by Rewind/Seek: given children already positioned, keep
// only the valid ones in the heap.
func (it *MergeIterator) init(cs []Iterator) {
	it.h.items = it.h.items[:0]
	for _, c := range cs {
		if c.Valid() {
			it.h.items = append(it.h.items, &mergeHeapItem{it: c})
		}
	}
	heap.Init(&it.h)
}

func (it *MergeIterator) Rewind() {
	for _, c := range it.origChildren {
		c.Rewind()
	}
	it.init(it.origChildren)
}

func (it *MergeIterator) Seek(key []byte) {
	for _, c := range it.origChildren {
		c.Seek(key)
	}
	it.init(it.origChildren)
}

func (it *MergeIterator) Valid() bool { return it.h.Len() > 0 }

func (it *MergeIterator) Key() []byte {
	return it.h.items[0].it.Key()
}

func (it *MergeIterator) Value() y.ValueStruct {
	return it.h.items[0].it.Value()
}

// advanceTop steps the current top child by one (key,version) position:
// deeper into the same key's older versions if one exists, else to the
// child's next key.
func (it *MergeIterator) advanceTop() {
	top := it.h.items[0]
	if !top.it.NextVersion() {
		top.it.Next()
	}
	if top.it.Valid() {
		heap.Fix(&it.h, 0)
	} else {
		heap.Pop(&it.h)
	}
}

func (it *MergeIterator) NextVersion() bool {
	if !it.Valid() {
		return false
	}
	top := it.h.items[0].it
	if top.NextVersion() {
		heap.Fix(&it.h, 0)
		return true
	}
	// The top child has no older version of this key: hand over to another
	// child positioned on the same key, or stay put if there is none.
	key := top.Key()
	for _, item := range it.h.items[1:] {
		if bytes.Equal(item.it.Key(), key) {
			it.advanceTop()
			return true
		}
	}
	return false
}

func (it *MergeIterator) Next() {
	if !it.Valid() {
		return
	}
	key := append([]byte(nil), it.Key()...)
	for it.Valid() && bytes.Equal(it.Key(), key) {
		it.advanceTop()
	}
}

func (it *MergeIterator) SeekToVersion(v uint64) bool {
	for it.Valid() {
		if it.Value().Version <= v {
			return true
		}
		if !it.NextVersion() {
			return false
		}
	}
	return false
}
