// Package memtable implements the per-CF, in-memory, multi-version
// ordered map described in §3 ("Memtable"): an arena-backed skiplist per
// CF, one Table per memtable generation. The head (most recent) Table of
// a shard's memtable list is writable; every older one is immutable and
// waiting to be flushed to L0.
package memtable

import (
	"sync/atomic"

	"github.com/pingcap/badger/y"
)

// EstimateNodeSize is the per-entry skiplist overhead folded into
// Entry.EstimateSize so callers can decide when a memtable is full
// without walking the arena.
const EstimateNodeSize = 100

// Entry is one (key, version) write destined for a single CF's skiplist.
type Entry struct {
	Key   []byte
	Value y.ValueStruct
}

func (e *Entry) EstimateSize() int64 {
	return int64(len(e.Key) + int(e.Value.EncodedSize()) + EstimateNodeSize)
}

// Table is one memtable generation: one skiplist per CF, all sharing a
// version (the shard's base_version + write_sequence at the time this
// generation became the writable head).
type Table struct {
	skls     []*skiplist
	version  uint64
	flushing uint32
}

func NewCFTable(numCFs int) *Table {
	t := &Table{skls: make([]*skiplist, numCFs)}
	for i := 0; i < numCFs; i++ {
		t.skls[i] = newSkiplist()
	}
	return t
}

func (cft *Table) Put(cf int, key []byte, val y.ValueStruct) {
	cft.skls[cf].Put(key, val)
}

func (cft *Table) PutEntries(cf int, entries []*Entry) {
	var h hint
	skl := cft.skls[cf]
	for _, entry := range entries {
		skl.PutWithHint(entry.Key, entry.Value, &h)
	}
}

// Size is the sum of every CF's arena size. Each arena starts out holding
// its skiplist's head node, so an empty Table has a non-zero Size.
// Engine.RotateMemTable does not consult it.
func (cft *Table) Size() int64 {
	var total int64
	for _, skl := range cft.skls {
		total += skl.arena.size()
	}
	return total
}

func (cft *Table) Get(cf int, key []byte, version uint64) y.ValueStruct {
	return cft.skls[cf].Get(key, version)
}

func (cft *Table) DeleteKey(cf int, key []byte) bool {
	return cft.skls[cf].DeleteKey(key)
}

func (cft *Table) NewIterator(cf int, reversed bool) *UniIterator {
	if cft.skls[cf].Empty() {
		return nil
	}
	return cft.skls[cf].NewUniIterator(reversed)
}

func (cft *Table) Empty() bool {
	for _, skl := range cft.skls {
		if !skl.Empty() {
			return false
		}
	}
	return true
}

func (cft *Table) SetVersion(version uint64) {
	atomic.StoreUint64(&cft.version, version)
}

func (cft *Table) GetVersion() uint64 {
	return atomic.LoadUint64(&cft.version)
}

func (cft *Table) MarkFlushing() bool {
	return atomic.CompareAndSwapUint32(&cft.flushing, 0, 1)
}

func (cft *Table) IsFlushing() bool {
	return atomic.LoadUint32(&cft.flushing) == 1
}
