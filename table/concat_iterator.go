package table

import (
	"bytes"

	"github.com/pingcap/badger/y"
	"github.com/unistore-io/kvengine/table/sstable"
)

// ConcatIterator walks a disjoint, sorted list of tables as one logical
// stream, jumping between them via binary search on the seek key (§4.2).
type ConcatIterator struct {
	tables   []*sstable.Table
	reversed bool

	idx int
	cur *TableIterator
}

func NewConcatIterator(tables []*sstable.Table, reversed bool) *ConcatIterator {
	return &ConcatIterator{tables: tables, reversed: reversed, idx: -1}
}

func (it *ConcatIterator) setIdx(i int) {
	it.idx = i
	if i < 0 || i >= len(it.tables) {
		it.cur = nil
		return
	}
	it.cur = NewTableIterator(it.tables[i], it.reversed)
}

func (it *ConcatIterator) Rewind() {
	if len(it.tables) == 0 {
		it.setIdx(-1)
		return
	}
	if it.reversed {
		it.setIdx(len(it.tables) - 1)
	} else {
		it.setIdx(0)
	}
	it.cur.Rewind()
	it.skipEmpty(it.reversed)
}

// findTable returns the index of the table whose [smallest,biggest]
// contains key, or the table that would contain it if present.
func (it *ConcatIterator) findTable(key []byte) int {
	lo, hi := 0, len(it.tables)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(it.tables[mid].Biggest(), key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (it *ConcatIterator) Seek(key []byte) {
	i := it.findTable(key)
	if it.reversed {
		if i >= len(it.tables) {
			i = len(it.tables) - 1
		}
		it.setIdx(i)
		if it.cur == nil {
			return
		}
		it.cur.Seek(key)
		if !it.cur.Valid() {
			it.setIdx(i - 1)
			if it.cur != nil {
				it.cur.Rewind()
			}
		}
		return
	}
	it.setIdx(i)
	if it.cur == nil {
		return
	}
	it.cur.Seek(key)
	it.skipEmpty(false)
}

func (it *ConcatIterator) skipEmpty(reversed bool) {
	for it.cur != nil && !it.cur.Valid() {
		if reversed {
			it.setIdx(it.idx - 1)
		} else {
			it.setIdx(it.idx + 1)
		}
		if it.cur != nil {
			it.cur.Rewind()
		}
	}
}

func (it *ConcatIterator) Next() {
	it.cur.Next()
	it.skipEmpty(it.reversed)
}

func (it *ConcatIterator) NextVersion() bool {
	if it.cur == nil {
		return false
	}
	return it.cur.NextVersion()
}

func (it *ConcatIterator) SeekToVersion(v uint64) bool {
	if it.cur == nil {
		return false
	}
	return it.cur.SeekToVersion(v)
}

func (it *ConcatIterator) Valid() bool { return it.cur != nil && it.cur.Valid() }
func (it *ConcatIterator) Key() []byte { return it.cur.Key() }
func (it *ConcatIterator) Value() y.ValueStruct { return it.cur.Value() }
