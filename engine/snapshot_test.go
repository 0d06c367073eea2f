package engine

import (
	"testing"

	"github.com/pingcap/badger/y"
	"github.com/stretchr/testify/require"

	"github.com/unistore-io/kvengine/config"
	"github.com/unistore-io/kvengine/table/memtable"
	"github.com/unistore-io/kvengine/table/sstable"
)

func TestSnapAccessGetFromMemtable(t *testing.T) {
	s := newShard(1, 1, nil, nil, testOpt())
	en := testEngine()
	wb := en.NewWriteBatch(s)
	require.NoError(t, wb.Put(config.LockCF, []byte("k"), y.ValueStruct{Value: []byte("v1")}))
	en.ApplyWriteBatch(wb)

	snap := en.NewSnapAccess(s)
	defer snap.Discard()

	item, err := snap.Get(config.LockCF, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), item.Value())
}

func TestSnapAccessGetMissingKeyReturnsNotFound(t *testing.T) {
	s := newShard(1, 1, nil, nil, testOpt())
	en := testEngine()
	snap := en.NewSnapAccess(s)
	defer snap.Discard()

	_, err := snap.Get(config.LockCF, []byte("missing"))
	require.Equal(t, ErrKeyNotFound, err)
}

func TestSnapAccessGetDeletedKeyReturnsNotFound(t *testing.T) {
	s := newShard(1, 1, nil, nil, testOpt())
	en := testEngine()
	wb := en.NewWriteBatch(s)
	require.NoError(t, wb.Delete(config.WriteCF, []byte("k"), 5))
	en.ApplyWriteBatch(wb)

	snap := en.NewSnapAccess(s)
	defer snap.Discard()

	_, err := snap.Get(config.WriteCF, []byte("k"))
	require.Equal(t, ErrKeyNotFound, err)
}

func TestSnapAccessRespectsReadTS(t *testing.T) {
	s := newShard(1, 1, nil, nil, testOpt())
	en := testEngine()
	wb := en.NewWriteBatch(s)
	require.NoError(t, wb.Put(config.WriteCF, []byte("k"), y.ValueStruct{Version: 10, Value: []byte("old")}))
	en.ApplyWriteBatch(wb)

	head := s.loadMemTables().tables[0]
	head.Put(config.WriteCF, []byte("k"), y.ValueStruct{Version: 20, Value: []byte("new")})

	snap := en.NewSnapAccess(s)
	defer snap.Discard()
	snap.SetManagedTS(15)

	item, err := snap.Get(config.WriteCF, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("old"), item.Value())
}

func TestSnapAccessMultiGetReturnsNilForMissing(t *testing.T) {
	s := newShard(1, 1, nil, nil, testOpt())
	en := testEngine()
	wb := en.NewWriteBatch(s)
	require.NoError(t, wb.Put(config.LockCF, []byte("a"), y.ValueStruct{Value: []byte("1")}))
	en.ApplyWriteBatch(wb)

	snap := en.NewSnapAccess(s)
	defer snap.Discard()

	items, err := snap.MultiGet(config.LockCF, [][]byte{[]byte("a"), []byte("missing")})
	require.NoError(t, err)
	require.NotNil(t, items[0])
	require.Nil(t, items[1])
}

func TestSnapAccessManagedTSIgnoredOnUnmanagedCF(t *testing.T) {
	s := newShard(1, 1, nil, nil, testOpt())
	en := testEngine()
	wb := en.NewWriteBatch(s)
	// LockCF is not managed: Put's version must be zero, and reads must
	// ignore any managed-ts ceiling entirely (§4.4's per-CF rule).
	require.NoError(t, wb.Put(config.LockCF, []byte("k"), y.ValueStruct{Version: 0, Value: []byte("v1")}))
	en.ApplyWriteBatch(wb)

	head := s.loadMemTables().tables[0]
	head.Put(config.LockCF, []byte("k"), y.ValueStruct{Version: 0, Value: []byte("v2")})

	snap := en.NewSnapAccess(s)
	defer snap.Discard()
	snap.SetManagedTS(1)

	item, err := snap.Get(config.LockCF, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), item.Value())
}

func TestSnapAccessGetReportsAccessPath(t *testing.T) {
	s := newShard(1, 1, nil, nil, testOpt())
	en := testEngine()

	tbl := buildSSTable(t, 1, "k")
	s.applyLevelChangeSet(config.LockCF, 1, nil, []*sstable.Table{tbl})

	wb := en.NewWriteBatch(s)
	require.NoError(t, wb.Put(config.LockCF, []byte("other"), y.ValueStruct{Value: []byte("v")}))
	en.ApplyWriteBatch(wb)

	snap := en.NewSnapAccess(s)
	defer snap.Discard()

	item, err := snap.Get(config.LockCF, []byte("k"))
	require.NoError(t, err)
	path := item.Path()
	require.Equal(t, 1, path.MemTable)
	require.Equal(t, 1, path.Ln)
	require.Equal(t, 0, path.Splitting)
	require.Equal(t, 0, path.L0)
}

func TestSnapAccessNewIteratorWalksAllTiersInOrder(t *testing.T) {
	s := newShard(1, 1, nil, nil, testOpt())
	en := testEngine()

	tbl := buildSSTable(t, 1, "a")
	s.applyLevelChangeSet(config.LockCF, 1, nil, []*sstable.Table{tbl})

	wb := en.NewWriteBatch(s)
	require.NoError(t, wb.Put(config.LockCF, []byte("b"), y.ValueStruct{Value: []byte("from-mem")}))
	en.ApplyWriteBatch(wb)

	s.setSplitting(&memTables{tables: []*memtable.Table{memtable.NewCFTable(config.NumCFs)}})
	s.loadSplitting().tables[0].Put(config.LockCF, []byte("0"), y.ValueStruct{Value: []byte("from-split")})

	snap := en.NewSnapAccess(s)
	defer snap.Discard()

	it := snap.NewIterator(config.LockCF, false, false)
	var keys []string
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.Equal(t, []string{"0", "a", "b"}, keys)
}

func TestSnapAccessReaderIsolationAcrossConcurrentLevelChange(t *testing.T) {
	s := newShard(1, 1, nil, nil, testOpt())
	en := testEngine()

	tbl := buildSSTable(t, 1, "a")
	s.applyLevelChangeSet(config.LockCF, 1, nil, []*sstable.Table{tbl})

	snap := en.NewSnapAccess(s)
	defer snap.Discard()

	it := snap.NewIterator(config.LockCF, false, false)
	it.Seek(nil)
	require.True(t, it.Valid())
	require.Equal(t, []byte("a"), it.Key())

	// A compaction mutating the shard's live level view underneath this
	// pinned snapshot must not be visible to the in-flight scan (S7).
	newTbl := buildSSTable(t, 2, "z")
	s.applyLevelChangeSet(config.LockCF, 1, map[uint64]bool{1: true}, []*sstable.Table{newTbl})

	it.Next()
	require.False(t, it.Valid())

	liveLevel := s.loadCFLevels(config.LockCF).levels[0]
	require.Len(t, liveLevel, 1)
	require.EqualValues(t, 2, liveLevel[0].ID())
}

func TestSnapAccessGetFromLevelTable(t *testing.T) {
	s := newShard(1, 1, nil, nil, testOpt())
	en := testEngine()
	tbl := buildSSTable(t, 1, "k")
	s.applyLevelChangeSet(config.LockCF, 1, nil, []*sstable.Table{tbl})

	snap := en.NewSnapAccess(s)
	defer snap.Discard()

	item, err := snap.Get(config.LockCF, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), item.Value())
}
