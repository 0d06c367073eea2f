package compaction

import (
	"testing"

	"github.com/pingcap/badger/y"
	"github.com/stretchr/testify/require"

	"github.com/unistore-io/kvengine/dfs"
	"github.com/unistore-io/kvengine/table/sstable"
)

func rangeTable(t *testing.T, id uint64, lo, hi string) *sstable.Table {
	t.Helper()
	b := sstable.NewBuilder(sstable.BuilderOptions{BlockSize: 4096})
	b.Add([]byte(lo), []y.ValueStruct{{Version: 1, Value: []byte("v")}})
	if hi != lo {
		b.Add([]byte(hi), []y.ValueStruct{{Version: 1, Value: []byte("v")}})
	}
	blob := b.Finish(id)
	tbl, err := sstable.Open(dfs.NewInMemFile(id, blob), nil)
	require.NoError(t, err)
	return tbl
}

func TestGetKeyRangeSpansAllTables(t *testing.T) {
	tables := []*sstable.Table{
		rangeTable(t, 1, "b", "c"),
		rangeTable(t, 2, "a", "f"),
		rangeTable(t, 3, "d", "e"),
	}
	r := getKeyRange(tables)
	require.Equal(t, []byte("a"), r.Left)
	require.Equal(t, []byte("f"), r.Right)
}

func TestGetKeyRangeEmpty(t *testing.T) {
	r := getKeyRange(nil)
	require.Nil(t, r.Left)
	require.Nil(t, r.Right)
}

func TestTablesInRange(t *testing.T) {
	tables := []*sstable.Table{
		rangeTable(t, 1, "a", "b"),
		rangeTable(t, 2, "c", "d"),
		rangeTable(t, 3, "e", "f"),
	}
	got := tablesInRange(tables, KeyRange{Left: []byte("c"), Right: []byte("c")})
	require.Len(t, got, 1)
	require.EqualValues(t, 2, got[0].ID())
}

func TestHasOverlapBelow(t *testing.T) {
	cf := &CFLevels{Levels: [][]*sstable.Table{
		{rangeTable(t, 1, "a", "z")},
		nil,
	}}
	require.True(t, hasOverlapBelow(cf, 1, KeyRange{Left: []byte("b"), Right: []byte("c")}))
	require.False(t, hasOverlapBelow(cf, 1, KeyRange{Left: []byte("zz"), Right: []byte("zzz")}))
}

func TestCfHasDeeperLevels(t *testing.T) {
	cf := &CFLevels{Levels: [][]*sstable.Table{
		nil,
		{rangeTable(t, 1, "a", "a")},
	}}
	require.True(t, cfHasDeeperLevels(cf, 1))
	require.True(t, cfHasDeeperLevels(cf, 2))
	require.False(t, cfHasDeeperLevels(cf, 3))
}
