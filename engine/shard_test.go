package engine

import (
	"testing"

	"github.com/pingcap/badger/y"
	"github.com/stretchr/testify/require"

	"github.com/unistore-io/kvengine/config"
	"github.com/unistore-io/kvengine/dfs"
	"github.com/unistore-io/kvengine/table/memtable"
	"github.com/unistore-io/kvengine/table/sstable"
)

func testOpt() *config.EngineOptions {
	return config.DefaultOptions()
}

func buildSSTable(t *testing.T, id uint64, key string) *sstable.Table {
	t.Helper()
	b := sstable.NewBuilder(sstable.BuilderOptions{BlockSize: 4096})
	b.Add([]byte(key), []y.ValueStruct{{Version: 1, Value: []byte("v")}})
	blob := b.Finish(id)
	tbl, err := sstable.Open(dfs.NewInMemFile(id, blob), nil)
	require.NoError(t, err)
	return tbl
}

func TestNewShardStartsWithOneEmptyMemtable(t *testing.T) {
	s := newShard(1, 1, []byte("a"), []byte("z"), testOpt())
	require.Len(t, s.loadMemTables().tables, 1)
	require.True(t, s.loadMemTables().tables[0].Empty())
	require.Empty(t, s.loadL0Tables().tables)
}

func TestPrependMemTableKeepsOldChain(t *testing.T) {
	s := newShard(1, 1, nil, nil, testOpt())
	first := s.loadMemTables().tables[0]
	fresh := memtable.NewCFTable(config.NumCFs)
	s.prependMemTable(fresh)

	chain := s.loadMemTables().tables
	require.Len(t, chain, 2)
	require.Same(t, fresh, chain[0])
	require.Same(t, first, chain[1])
}

func TestDropFlushedMemTableRemovesOnlyThatTable(t *testing.T) {
	s := newShard(1, 1, nil, nil, testOpt())
	first := s.loadMemTables().tables[0]
	fresh := memtable.NewCFTable(config.NumCFs)
	s.prependMemTable(fresh)

	s.dropFlushedMemTable(first)
	chain := s.loadMemTables().tables
	require.Len(t, chain, 1)
	require.Same(t, fresh, chain[0])
}

func TestPublishFlushAddsL0AndDropsMemtable(t *testing.T) {
	s := newShard(1, 1, nil, nil, testOpt())
	flushed := s.loadMemTables().tables[0]
	fresh := memtable.NewCFTable(config.NumCFs)
	s.prependMemTable(fresh)

	writeBlob := sstable.BuildL0([][]byte{nil, nil, nil}, 5)
	l0, err := sstable.OpenL0(dfs.NewInMemFile(5, writeBlob), nil)
	require.NoError(t, err)

	s.publishFlush(flushed, l0)

	require.Len(t, s.loadMemTables().tables, 1)
	require.Same(t, fresh, s.loadMemTables().tables[0])
	require.Len(t, s.loadL0Tables().tables, 1)
	require.Same(t, l0, s.loadL0Tables().tables[0])
}

func TestApplyLevelChangeSetReplacesDeletedWithCreatesSorted(t *testing.T) {
	s := newShard(1, 1, nil, nil, testOpt())
	old1 := buildSSTable(t, 1, "a")
	old2 := buildSSTable(t, 2, "m")
	s.applyLevelChangeSet(config.LockCF, 1, nil, []*sstable.Table{old1, old2})

	newTbl := buildSSTable(t, 3, "b")
	s.applyLevelChangeSet(config.LockCF, 1, map[uint64]bool{2: true}, []*sstable.Table{newTbl})

	levels := s.loadCFLevels(config.LockCF).levels
	require.Len(t, levels[0], 2)
	require.EqualValues(t, 1, levels[0][0].ID())
	require.EqualValues(t, 3, levels[0][1].ID())
}

func TestSortedByKeyOrdersBySmallest(t *testing.T) {
	tables := []*sstable.Table{
		buildSSTable(t, 1, "z"),
		buildSSTable(t, 2, "a"),
		buildSSTable(t, 3, "m"),
	}
	sorted := sortedByKey(tables)
	require.Equal(t, []byte("a"), sorted[0].Smallest())
	require.Equal(t, []byte("m"), sorted[1].Smallest())
	require.Equal(t, []byte("z"), sorted[2].Smallest())
}

func TestShardActiveFlag(t *testing.T) {
	s := newShard(1, 1, nil, nil, testOpt())
	require.False(t, s.IsActive())
	s.SetActive(true)
	require.True(t, s.IsActive())
}

func TestShardSplittingStartsNilAndCanBeInstalled(t *testing.T) {
	s := newShard(1, 1, nil, nil, testOpt())
	require.Nil(t, s.loadSplitting())

	mt := &memTables{tables: []*memtable.Table{memtable.NewCFTable(config.NumCFs)}}
	s.setSplitting(mt)
	require.Same(t, mt, s.loadSplitting())

	s.setSplitting(nil)
	require.Nil(t, s.loadSplitting())
}

func TestShardProperties(t *testing.T) {
	s := newShard(1, 1, nil, nil, testOpt())
	_, ok := s.GetProperty("missing")
	require.False(t, ok)

	s.setProperty("k", []byte("v"))
	v, ok := s.GetProperty("k")
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)
}
