package compaction

import (
	"testing"

	"github.com/pingcap/badger/y"
	"github.com/stretchr/testify/require"

	"github.com/unistore-io/kvengine/dfs"
	"github.com/unistore-io/kvengine/table/sstable"
)

func defTable(t *testing.T, id uint64, keys ...string) *sstable.Table {
	t.Helper()
	b := sstable.NewBuilder(sstable.BuilderOptions{BlockSize: 4096})
	for _, k := range keys {
		b.Add([]byte(k), []y.ValueStruct{{Version: 1, Value: []byte("v")}})
	}
	blob := b.Finish(id)
	tbl, err := sstable.Open(dfs.NewInMemFile(id, blob), nil)
	require.NoError(t, err)
	return tbl
}

func TestFillTablePicksWorstRatio(t *testing.T) {
	cf := &CFLevels{Levels: [][]*sstable.Table{
		{defTable(t, 1, "a"), defTable(t, 2, "m"), defTable(t, 3, "z")},
		{defTable(t, 4, "m")},
	}}
	def, ok := fillTable(cf, 1)
	require.True(t, ok)
	require.Equal(t, 1, def.Level)
	require.NotEmpty(t, def.Top)
	// "a" and "z" overlap nothing below, so their ratio is worst and the
	// pick stays a single table with no bottom inputs.
	require.Len(t, def.Top, 1)
	require.Empty(t, def.Bot)
}

func TestFillTableNoTopReturnsFalse(t *testing.T) {
	cf := &CFLevels{Levels: [][]*sstable.Table{nil, nil}}
	_, ok := fillTable(cf, 1)
	require.False(t, ok)
}

func TestFillTableNoOverlapUsesTopRangeAsNext(t *testing.T) {
	cf := &CFLevels{Levels: [][]*sstable.Table{
		{defTable(t, 1, "a")},
		nil,
	}}
	def, ok := fillTable(cf, 1)
	require.True(t, ok)
	require.Equal(t, def.ThisRange, def.NextRange)
	require.Empty(t, def.Bot)
}

func TestFillTableExportedStampsShardFields(t *testing.T) {
	info := &ShardInfo{
		ShardID:  7,
		ShardVer: 2,
		CFs:      [3]CFLevels{{}, {Levels: [][]*sstable.Table{{defTable(t, 1, "a")}}}, {}},
	}
	def, ok := FillTable(info, 1, 1)
	require.True(t, ok)
	require.EqualValues(t, 7, def.ShardID)
	require.EqualValues(t, 2, def.ShardVer)
	require.Equal(t, 1, def.CF)
}
