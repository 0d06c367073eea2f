package engine

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/unistore-io/kvengine/config"
	"github.com/unistore-io/kvengine/table/memtable"
	"github.com/unistore-io/kvengine/table/sstable"
)

// memTables is the immutable snapshot of one shard's memtable chain,
// newest first; the live pointer is swapped atomically on every memtable
// rotation or flush (writes go into the head memtable in place), matching the teacher's `atomic.StorePointer(shard.memTbls, ...)`
// publication idiom so readers never observe a torn chain.
type memTables struct {
	tables []*memtable.Table
}

// l0Tables is the immutable snapshot of one shard's L0 table set, newest
// first, published the same way as memTables.
type l0Tables struct {
	tables []*sstable.L0Table
}

// cfLevels is one CF's immutable level-1..N view, published atomically on
// every applied ChangeSet.
type cfLevels struct {
	levels [][]*sstable.Table // levels[0] is level 1
}

// Shard is one horizontally-partitioned range of the keyspace, per §3.
// Every field that participates in the read path is published through an
// atomic.Value so SnapAccess never needs to hold a lock.
type Shard struct {
	ID  uint64
	Ver uint64

	Start, End []byte

	active        int32 // atomic: 1 once the shard accepts writes
	baseVersion   uint64
	writeSequence uint64
	estimatedSize int64 // atomic

	propMu     sync.RWMutex
	properties map[string][]byte

	cfs       [config.NumCFs]*atomic.Value // each holds *cfLevels
	mems      atomic.Value                 // *memTables
	l0s       atomic.Value                 // *l0Tables
	splitting atomic.Value                 // *memTables, nil while not splitting

	opt *config.EngineOptions
}

func newShard(id, ver uint64, start, end []byte, opt *config.EngineOptions) *Shard {
	s := &Shard{
		ID: id, Ver: ver, Start: start, End: end,
		properties: map[string][]byte{},
		opt:        opt,
	}
	for cf := 0; cf < config.NumCFs; cf++ {
		v := &atomic.Value{}
		v.Store(&cfLevels{levels: make([][]*sstable.Table, opt.CFs[cf].MaxLevels)})
		s.cfs[cf] = v
	}
	s.mems.Store(&memTables{tables: []*memtable.Table{memtable.NewCFTable(config.NumCFs)}})
	s.l0s.Store(&l0Tables{})
	s.splitting.Store((*memTables)(nil))
	return s
}

func (s *Shard) loadMemTables() *memTables   { return s.mems.Load().(*memTables) }
func (s *Shard) loadL0Tables() *l0Tables     { return s.l0s.Load().(*l0Tables) }
func (s *Shard) loadCFLevels(cf int) *cfLevels {
	return s.cfs[cf].Load().(*cfLevels)
}

// loadSplitting returns the memtables belonging to the not-yet-applied
// split half of this shard's keyspace, or nil when the shard isn't
// currently splitting. Consulted ahead of ordinary memtables by both
// getValue and the iterator chain, per §4.4 and the teacher's
// `shard.splittingMemTbls`/`snap.splitting` (`engine/engine.go:614-646,
// 704-716`). Unlike the teacher, which partitions this tier further by
// split-range index (`getSplittingIndex`), this port has no pre-split
// range-partitioning machinery elsewhere in the shard, so it is modeled
// as a single extra memtable tier rather than an indexed array of them;
// see DESIGN.md.
func (s *Shard) loadSplitting() *memTables {
	return s.splitting.Load().(*memTables)
}

// setSplitting installs (or clears, with nil) the splitting-context
// memtables, published atomically like the rest of the shard's read
// path.
func (s *Shard) setSplitting(mt *memTables) {
	s.splitting.Store(mt)
}

func (s *Shard) IsActive() bool    { return atomic.LoadInt32(&s.active) == 1 }
func (s *Shard) SetActive(v bool) {
	n := int32(0)
	if v {
		n = 1
	}
	atomic.StoreInt32(&s.active, n)
}

func (s *Shard) GetEstimatedSize() int64 { return atomic.LoadInt64(&s.estimatedSize) }
func (s *Shard) addEstimatedSize(delta int64) {
	atomic.AddInt64(&s.estimatedSize, delta)
}

func (s *Shard) GetProperty(key string) ([]byte, bool) {
	s.propMu.RLock()
	defer s.propMu.RUnlock()
	v, ok := s.properties[key]
	return v, ok
}

func (s *Shard) setProperty(key string, val []byte) {
	s.propMu.Lock()
	defer s.propMu.Unlock()
	s.properties[key] = val
}

// prependMemTable publishes a fresh, empty memtable ahead of the current
// chain; used when the active memtable is handed off to the flush
// pipeline (§4.5's write path).
func (s *Shard) prependMemTable(fresh *memtable.Table) {
	old := s.loadMemTables()
	next := make([]*memtable.Table, 0, len(old.tables)+1)
	next = append(next, fresh)
	next = append(next, old.tables...)
	s.mems.Store(&memTables{tables: next})
}

// dropFlushedMemTable removes tbl from the chain once its data has been
// durably written to an L0 table.
func (s *Shard) dropFlushedMemTable(tbl *memtable.Table) {
	old := s.loadMemTables()
	next := make([]*memtable.Table, 0, len(old.tables))
	for _, t := range old.tables {
		if t != tbl {
			next = append(next, t)
		}
	}
	s.mems.Store(&memTables{tables: next})
}

// publishFlush replaces the flushed memtable with a new L0 table,
// published atomically alongside the memtable chain update so a reader
// never observes the data as absent from both.
func (s *Shard) publishFlush(flushed *memtable.Table, l0 *sstable.L0Table) {
	oldL0 := s.loadL0Tables()
	nextL0 := make([]*sstable.L0Table, 0, len(oldL0.tables)+1)
	nextL0 = append(nextL0, l0)
	nextL0 = append(nextL0, oldL0.tables...)
	s.l0s.Store(&l0Tables{tables: nextL0})
	s.dropFlushedMemTable(flushed)
}

// applyLevelChangeSet installs a compaction's output into this shard's level
// view; see compaction.ChangeSet and §6. L0 deletes are ignored here
// (L0 compactions are applied via applyL0ChangeSet) so the two apply
// paths stay simple.
func (s *Shard) applyLevelChangeSet(cf, level int, deleteIDs map[uint64]bool, creates []*sstable.Table) {
	old := s.loadCFLevels(cf)
	levels := make([][]*sstable.Table, len(old.levels))
	copy(levels, old.levels)

	idx := level - 1
	kept := make([]*sstable.Table, 0, len(old.levels[idx]))
	for _, t := range old.levels[idx] {
		if !deleteIDs[t.ID()] {
			kept = append(kept, t)
		}
	}
	kept = append(kept, creates...)
	levels[idx] = sortedByKey(kept)
	s.cfs[cf].Store(&cfLevels{levels: levels})
}

func sortedByKey(tables []*sstable.Table) []*sstable.Table {
	out := append([]*sstable.Table(nil), tables...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && bytes.Compare(out[j].Smallest(), out[j-1].Smallest()) < 0; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
