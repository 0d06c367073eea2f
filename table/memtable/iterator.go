package memtable

import (
	"bytes"

	"github.com/pingcap/badger/y"
)

// UniIterator walks one CF's skiplist, exposing every version of the
// current key (newest first) before Next moves to the following key, per
// the Ordering law. Reverse iterators only ever expose the newest
// version, matching §4.2.
type UniIterator struct {
	s        *skiplist
	reversed bool

	curOff  uint32
	verOff  uint32
}

func (s *skiplist) NewUniIterator(reversed bool) *UniIterator {
	return &UniIterator{s: s, reversed: reversed}
}

func (it *UniIterator) Rewind() {
	if it.reversed {
		it.curOff = it.s.lastNode()
	} else {
		it.curOff = it.s.next(it.s.head, 0)
	}
	it.verOff = it.curNode().verOffset
}

func (s *skiplist) lastNode() uint32 {
	off := s.head
	top := int(s.height) - 1
	for lvl := top; lvl >= 0; lvl-- {
		for {
			next := s.next(off, lvl)
			if next == 0 {
				break
			}
			off = next
		}
	}
	if off == s.head {
		return 0
	}
	return off
}

func (it *UniIterator) curNode() *node {
	if it.curOff == 0 {
		return nil
	}
	return it.s.arena.getNode(it.curOff)
}

func (it *UniIterator) Seek(key []byte) {
	if it.reversed {
		_, prevs, nexts := it.s.search(key)
		if nexts[0] != 0 && bytes.Equal(it.s.getKey(it.s.arena.getNode(nexts[0])), key) {
			it.curOff = nexts[0]
		} else if prevs[0] != it.s.head {
			it.curOff = prevs[0]
		} else {
			it.curOff = 0
		}
	} else {
		_, _, nexts := it.s.search(key)
		it.curOff = nexts[0]
	}
	if n := it.curNode(); n != nil {
		it.verOff = n.verOffset
	}
}

func (it *UniIterator) Valid() bool { return it.curOff != 0 }

func (it *UniIterator) Key() []byte {
	return it.s.getKey(it.curNode())
}

func (it *UniIterator) Value() y.ValueStruct {
	v, _ := decodeValueNodeAt(it.s.arena, it.verOff)
	return v
}

func (it *UniIterator) Next() {
	if it.reversed {
		it.curOff = it.findPrev()
	} else {
		it.curOff = it.s.next(it.curOff, 0)
	}
	if n := it.curNode(); n != nil {
		it.verOff = n.verOffset
	}
}

// findPrev re-walks from head since the skiplist has no back pointers;
// acceptable for reverse iteration, which only exposes the newest
// version per key and therefore advances once per key.
func (it *UniIterator) findPrev() uint32 {
	key := it.Key()
	_, prevs, _ := it.s.search(key)
	if prevs[0] == it.s.head {
		return 0
	}
	return prevs[0]
}

func (it *UniIterator) NextVersion() bool {
	if it.reversed {
		return false
	}
	_, next := decodeValueNodeAt(it.s.arena, it.verOff)
	if next == 0 {
		return false
	}
	it.verOff = next
	return true
}

func (it *UniIterator) SeekToVersion(v uint64) bool {
	for {
		if it.Value().Version <= v {
			return true
		}
		if !it.NextVersion() {
			return false
		}
	}
}
