package compaction

import (
	"testing"

	"github.com/pingcap/badger/y"
	"github.com/stretchr/testify/require"

	"github.com/unistore-io/kvengine/dfs"
	"github.com/unistore-io/kvengine/table/sstable"
)

func dummyL0Tables(t *testing.T, n int) []*sstable.L0Table {
	t.Helper()
	b := sstable.NewBuilder(sstable.BuilderOptions{BlockSize: 4096})
	b.Add([]byte("a"), []y.ValueStruct{{Version: 1, Value: []byte("v")}})
	blob := sstable.BuildL0([][]byte{b.Finish(1), nil, nil}, 1)
	out := make([]*sstable.L0Table, n)
	for i := range out {
		l0, err := sstable.OpenL0(dfs.NewInMemFile(uint64(i+1), blob), nil)
		require.NoError(t, err)
		out[i] = l0
	}
	return out
}

func TestGetCompactionPrioritiesFiltersAndCaps(t *testing.T) {
	hot := &ShardInfo{ShardID: 1, Active: true, BaseSize: 10, L0: dummyL0Tables(t, 20)}
	idle := &ShardInfo{ShardID: 2, Active: true, BaseSize: 1 << 30}
	inactive := &ShardInfo{ShardID: 3, Active: false, BaseSize: 1, L0: dummyL0Tables(t, 20)}

	prios := GetCompactionPriorities([]*ShardInfo{hot, idle, inactive}, 3)
	require.Len(t, prios, 1)
	require.EqualValues(t, 1, prios[0].ShardID)
	require.Equal(t, -1, prios[0].CF)
}

func TestGetCompactionPrioritiesCapsAtNumCompactors(t *testing.T) {
	var infos []*ShardInfo
	for i := uint64(1); i <= 5; i++ {
		infos = append(infos, &ShardInfo{ShardID: i, Active: true, BaseSize: 1, L0: dummyL0Tables(t, 20)})
	}
	prios := GetCompactionPriorities(infos, 2)
	require.Len(t, prios, 2)
}

func TestGetCompactionPrioritiesSortedDescending(t *testing.T) {
	low := &ShardInfo{ShardID: 1, Active: true, BaseSize: 1, L0: dummyL0Tables(t, 6)}
	high := &ShardInfo{ShardID: 2, Active: true, BaseSize: 1, L0: dummyL0Tables(t, 50)}
	prios := GetCompactionPriorities([]*ShardInfo{low, high}, 5)
	require.Len(t, prios, 2)
	require.True(t, prios[0].Score >= prios[1].Score)
	require.EqualValues(t, 2, prios[0].ShardID)
}

func TestGetCompactionPrioritiesZeroBaseSize(t *testing.T) {
	info := &ShardInfo{ShardID: 1, Active: true, BaseSize: 0}
	prios := GetCompactionPriorities([]*ShardInfo{info}, 1)
	require.Empty(t, prios)
}
