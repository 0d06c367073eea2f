package table

import (
	"bytes"

	"github.com/pingcap/badger/y"
	"github.com/unistore-io/kvengine/table/sstable"
)

// TableIterator walks a single SSTable, exposing every on-disk version of
// each key in descending-version order per the Ordering law (§8.1).
type TableIterator struct {
	t        *sstable.Table
	reversed bool

	blockIdx int
	keys     [][]byte
	versions [][]y.ValueStruct // versions[i] = all on-disk versions of keys[i], newest first
	pos      int
	verPos   int

	err error
}

func NewTableIterator(t *sstable.Table, reversed bool) *TableIterator {
	return &TableIterator{t: t, reversed: reversed}
}

func (it *TableIterator) Err() error { return it.err }

func (it *TableIterator) loadBlock(i int) bool {
	if i < 0 || i >= it.t.NumBlocks() {
		it.keys, it.versions = nil, nil
		return false
	}
	mainKeys, mainVals, err := it.t.DataBlock(i)
	if err != nil {
		it.err = err
		return false
	}
	oldKeys, oldVals, err := it.t.OldVersionsBlock(i)
	if err != nil {
		it.err = err
		return false
	}
	it.blockIdx = i
	it.keys = mainKeys
	it.versions = make([][]y.ValueStruct, len(mainKeys))
	oi := 0
	for i, v := range mainVals {
		chain := []y.ValueStruct{v}
		for oi < len(oldKeys) && bytes.Equal(oldKeys[oi], mainKeys[i]) {
			chain = append(chain, oldVals[oi])
			oi++
		}
		it.versions[i] = chain
	}
	return true
}

func (it *TableIterator) Rewind() {
	if it.reversed {
		it.loadBlock(it.t.NumBlocks() - 1)
		it.pos = len(it.keys) - 1
	} else {
		it.loadBlock(0)
		it.pos = 0
	}
	it.verPos = 0
}

func (it *TableIterator) Seek(key []byte) {
	bi := it.t.SeekBlock(key)
	if !it.loadBlock(bi) {
		return
	}
	// Find first key >= key (forward) within this block; fall back to the
	// next block's first key if key is past everything here.
	lo, hi := 0, len(it.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(it.keys[mid], key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if it.reversed {
		// Reverse iteration wants the last key <= key.
		if lo < len(it.keys) && bytes.Equal(it.keys[lo], key) {
			it.pos = lo
		} else {
			it.pos = lo - 1
			if it.pos < 0 {
				it.loadBlock(bi - 1)
				it.pos = len(it.keys) - 1
			}
		}
	} else {
		it.pos = lo
		if it.pos >= len(it.keys) {
			it.loadBlock(bi + 1)
			it.pos = 0
		}
	}
	it.verPos = 0
}

func (it *TableIterator) Valid() bool {
	return it.pos >= 0 && it.pos < len(it.keys)
}

func (it *TableIterator) Key() []byte {
	return it.keys[it.pos]
}

func (it *TableIterator) Value() y.ValueStruct {
	return it.versions[it.pos][it.verPos]
}

// Next advances to the next key, resetting to its newest version.
// Reverse iterators never expose older versions of a key (§4.2: "it
// never seeks into older versions, by design"), so verPos always reads 0
// there and Next is the only way to move.
func (it *TableIterator) Next() {
	it.verPos = 0
	if it.reversed {
		it.pos--
		if it.pos < 0 {
			it.loadBlock(it.blockIdx - 1)
			it.pos = len(it.keys) - 1
		}
		return
	}
	it.pos++
	if it.pos >= len(it.keys) {
		it.loadBlock(it.blockIdx + 1)
		it.pos = 0
	}
}

func (it *TableIterator) NextVersion() bool {
	if it.reversed {
		return false
	}
	if !it.Valid() {
		return false
	}
	if it.verPos+1 < len(it.versions[it.pos]) {
		it.verPos++
		return true
	}
	return false
}

func (it *TableIterator) SeekToVersion(v uint64) bool {
	if it.reversed {
		return it.Valid() && it.Value().Version <= v
	}
	if !it.Valid() {
		return false
	}
	for {
		if it.Value().Version <= v {
			return true
		}
		if !it.NextVersion() {
			return false
		}
	}
}
