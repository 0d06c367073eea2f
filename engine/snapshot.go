package engine

import (
	"bytes"
	"math"

	"github.com/pingcap/badger/y"
	"github.com/pingcap/errors"

	"github.com/unistore-io/kvengine/epoch"
	"github.com/unistore-io/kvengine/table"
)

// ErrKeyNotFound is returned when a key has no visible value at the
// requested version, mirroring the teacher's sentinel.
var ErrKeyNotFound = errors.New("key not found")

// AccessPath counts which tiers a Get walked through before resolving,
// per §4.4 and the original's `Item.path`: one tier may be consulted more
// than once (one table per memtable/L0/level entry), so these are counts,
// not booleans.
type AccessPath struct {
	Splitting int
	MemTable  int
	L0        int
	Ln        int
}

// Item is one point-lookup result, per §4.4.
type Item struct {
	key      []byte
	version  uint64
	meta     byte
	userMeta []byte
	val      []byte
	path     AccessPath
}

func (it *Item) Key() []byte      { return it.key }
func (it *Item) Version() uint64  { return it.version }
func (it *Item) UserMeta() []byte { return it.userMeta }
func (it *Item) Value() []byte    { return it.val }
func (it *Item) Path() AccessPath { return it.path }

// SnapAccess is a pinned, consistent read view of one shard, per §4.4.
// It holds an epoch guard for its whole lifetime so compaction can never
// reclaim a table it is still reading.
type SnapAccess struct {
	guard *epoch.Guard
	shard *Shard

	splitting *memTables // consulted ahead of mems; nil when the shard isn't splitting
	mems      *memTables
	l0s       *l0Tables
	cfs       [3]*cfLevels

	managedTs uint64 // 0 means "no managed ceiling"; see readTSFor
}

// NewSnapAccess pins the shard's current table set behind an epoch guard
// and returns a consistent read view over it (§4.4, §5).
func (en *Engine) NewSnapAccess(shard *Shard) *SnapAccess {
	guard := en.resourceMgr.Acquire()
	snap := &SnapAccess{guard: guard, shard: shard}
	snap.splitting = shard.loadSplitting()
	snap.mems = shard.loadMemTables()
	snap.l0s = shard.loadL0Tables()
	for cf := 0; cf < 3; cf++ {
		snap.cfs[cf] = shard.loadCFLevels(cf)
	}
	return snap
}

func (s *SnapAccess) Discard() { s.guard.Done() }

// SetManagedTS sets the candidate managed read-ts, consulted by
// readTSFor per CF. Grounded on `original_source/.../read.rs`'s
// `set_managed_ts`.
func (s *SnapAccess) SetManagedTS(ts uint64) { s.managedTs = ts }

// readTSFor derives the read-ts a single CF resolves against, per
// §4.4's rule (`original_source/.../read.rs:98-101`): a managed CF with
// a non-zero managed-ts reads at that ts; every other CF, and a managed
// CF with no managed-ts set, reads at the latest visible version.
func (s *SnapAccess) readTSFor(cf int) uint64 {
	if s.shard.opt.CFs[cf].Managed && s.managedTs != 0 {
		return s.managedTs
	}
	return math.MaxUint64
}

// Get performs a point lookup, walking the splitting context (if any),
// then memtables (newest first), then L0 tables (newest first), then
// each level from 1 upward, returning the first version not greater
// than the CF's derived read-ts. Deleted keys are reported as
// not-found. The returned Item's Path reports which tiers were
// consulted (§4.4's AccessPath).
func (s *SnapAccess) Get(cf int, key []byte) (*Item, error) {
	maxVersion := s.readTSFor(cf)
	var path AccessPath
	vs := s.getValue(cf, key, maxVersion, &path)
	if !vs.Valid() {
		return nil, ErrKeyNotFound
	}
	if vs.Meta&y.BitDelete != 0 {
		return nil, ErrKeyNotFound
	}
	return &Item{key: key, version: vs.Version, meta: vs.Meta, userMeta: vs.UserMeta, val: vs.Value, path: path}, nil
}

func (s *SnapAccess) getValue(cf int, key []byte, maxVersion uint64, path *AccessPath) y.ValueStruct {
	if s.splitting != nil {
		for _, mt := range s.splitting.tables {
			path.Splitting++
			v := mt.Get(cf, key, maxVersion)
			if v.Valid() {
				return v
			}
		}
	}
	for _, mt := range s.mems.tables {
		path.MemTable++
		v := mt.Get(cf, key, maxVersion)
		if v.Valid() {
			return v
		}
	}
	for _, l0 := range s.l0s.tables {
		sub := l0.CF(cf)
		if sub == nil {
			continue
		}
		path.L0++
		v, err := sub.Get(key, maxVersion)
		if err == nil && v.Valid() {
			return v
		}
	}
	for _, level := range s.cfs[cf].levels {
		for _, t := range level {
			if bytes.Compare(key, t.Smallest()) < 0 || bytes.Compare(key, t.Biggest()) > 0 {
				continue
			}
			path.Ln++
			v, err := t.Get(key, maxVersion)
			if err == nil && v.Valid() {
				return v
			}
		}
	}
	return y.ValueStruct{}
}

// MultiGet performs Get for each key in order; a not-found key yields a
// nil Item at that index rather than aborting the batch.
func (s *SnapAccess) MultiGet(cf int, keys [][]byte) ([]*Item, error) {
	items := make([]*Item, len(keys))
	for i, k := range keys {
		item, err := s.Get(cf, k)
		if err != nil && err != ErrKeyNotFound {
			return nil, err
		}
		items[i] = item
	}
	return items, nil
}

// NewIterator builds the §4.4 per-source iterator chain for one CF:
// splitting-memtables, then memtables, then L0, then a ConcatIterator
// per level, all merged by key/version via table.MergeIterator. The
// returned Iterator filters versions above the CF's derived read-ts and,
// unless allVersions is set, surfaces only the newest visible version of
// each key and skips tombstones.
func (s *SnapAccess) NewIterator(cf int, reversed, allVersions bool) *Iterator {
	return &Iterator{
		allVersions: allVersions,
		reversed:    reversed,
		readTS:      s.readTSFor(cf),
		inner:       s.newTableIterator(cf, reversed),
	}
}

func (s *SnapAccess) newTableIterator(cf int, reversed bool) table.Iterator {
	var iters []table.Iterator
	if s.splitting != nil {
		for _, mt := range s.splitting.tables {
			if it := mt.NewIterator(cf, reversed); it != nil {
				iters = append(iters, it)
			}
		}
	}
	for _, mt := range s.mems.tables {
		if it := mt.NewIterator(cf, reversed); it != nil {
			iters = append(iters, it)
		}
	}
	for _, l0 := range s.l0s.tables {
		if sub := l0.CF(cf); sub != nil {
			iters = append(iters, table.NewTableIterator(sub, reversed))
		}
	}
	for _, level := range s.cfs[cf].levels {
		if len(level) == 0 {
			continue
		}
		iters = append(iters, table.NewConcatIterator(level, reversed))
	}
	return table.NewMergeIterator(iters, reversed)
}

// Iterator is the §4.2 multi-version cursor returned by NewIterator,
// built on top of the raw table.Iterator merge chain. Grounded on
// `original_source/.../read.rs`'s `Iterator` (`parse_item`/`update_item`).
type Iterator struct {
	allVersions bool
	reversed    bool
	readTS      uint64

	key []byte
	val y.ValueStruct

	inner table.Iterator
}

func (it *Iterator) Valid() bool          { return it.val.Valid() }
func (it *Iterator) Key() []byte          { return it.key }
func (it *Iterator) Value() y.ValueStruct { return it.val }

// Item materializes the current position as an Item, for callers that
// want the same shape Get returns.
func (it *Iterator) Item() *Item {
	return &Item{key: it.key, version: it.val.Version, meta: it.val.Meta, userMeta: it.val.UserMeta, val: it.val.Value}
}

func (it *Iterator) updateItem() {
	it.key = append(it.key[:0], it.inner.Key()...)
	it.val = it.inner.Value()
}

// parseItem skips forward past any version newer than the read-ts and,
// unless allVersions is set, past tombstones, landing on the first
// visible version or leaving the iterator invalid.
func (it *Iterator) parseItem() {
	for it.inner.Valid() {
		v := it.inner.Value()
		if v.Version > it.readTS {
			if !it.inner.SeekToVersion(it.readTS) {
				it.inner.Next()
				continue
			}
		}
		it.updateItem()
		if !it.allVersions && it.val.Meta&y.BitDelete != 0 {
			it.inner.Next()
			continue
		}
		return
	}
	it.val = y.ValueStruct{}
}

// Next advances to the next version of the current key (when allVersions
// is set and one exists) or to the first visible version of the
// following key.
func (it *Iterator) Next() {
	if it.allVersions && it.Valid() && it.inner.NextVersion() {
		it.updateItem()
		return
	}
	it.inner.Next()
	it.parseItem()
}

// Seek moves to the first visible key >= key (or <= key, reversed); an
// empty key rewinds instead, matching the teacher's reverse-scan
// convention.
func (it *Iterator) Seek(key []byte) {
	if len(key) == 0 {
		it.inner.Rewind()
	} else {
		it.inner.Seek(key)
	}
	it.parseItem()
}

func (it *Iterator) Rewind() {
	it.inner.Rewind()
	it.parseItem()
}
