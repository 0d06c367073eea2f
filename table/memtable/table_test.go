package memtable

import (
	"testing"

	"github.com/pingcap/badger/y"
	"github.com/stretchr/testify/require"
)

func TestTablePutGet(t *testing.T) {
	tbl := NewCFTable(3)
	tbl.Put(0, []byte("a"), y.ValueStruct{Version: 10, Value: []byte("v10")})
	tbl.Put(0, []byte("a"), y.ValueStruct{Version: 20, Value: []byte("v20")})

	v := tbl.Get(0, []byte("a"), 100)
	require.True(t, v.Valid())
	require.Equal(t, []byte("v20"), v.Value)

	v = tbl.Get(0, []byte("a"), 15)
	require.True(t, v.Valid())
	require.Equal(t, []byte("v10"), v.Value)

	v = tbl.Get(0, []byte("a"), 5)
	require.False(t, v.Valid())

	v = tbl.Get(0, []byte("missing"), 100)
	require.False(t, v.Valid())
}

func TestTableDeleteKey(t *testing.T) {
	tbl := NewCFTable(3)
	tbl.Put(0, []byte("a"), y.ValueStruct{Version: 10, Value: []byte("v10")})
	require.True(t, tbl.DeleteKey(0, []byte("a")))
	require.False(t, tbl.DeleteKey(0, []byte("missing")))

	v := tbl.Get(0, []byte("a"), 100)
	require.True(t, v.Valid())
	require.NotZero(t, v.Meta&y.BitDelete)
}

func TestTableEmptyAndSize(t *testing.T) {
	tbl := NewCFTable(2)
	require.True(t, tbl.Empty())
	// Each CF's arena already holds its skiplist's head node.
	require.Equal(t, 2*newSkiplist().arena.size(), tbl.Size())

	tbl.Put(0, []byte("k"), y.ValueStruct{Version: 1, Value: []byte("v")})
	require.False(t, tbl.Empty())
	require.Greater(t, tbl.Size(), int64(0))
}

func TestTablePutEntries(t *testing.T) {
	tbl := NewCFTable(1)
	entries := []*Entry{
		{Key: []byte("a"), Value: y.ValueStruct{Version: 1, Value: []byte("va")}},
		{Key: []byte("b"), Value: y.ValueStruct{Version: 1, Value: []byte("vb")}},
	}
	tbl.PutEntries(0, entries)
	require.Equal(t, []byte("va"), tbl.Get(0, []byte("a"), 100).Value)
	require.Equal(t, []byte("vb"), tbl.Get(0, []byte("b"), 100).Value)
}

func TestTableVersionAndFlushing(t *testing.T) {
	tbl := NewCFTable(1)
	tbl.SetVersion(42)
	require.EqualValues(t, 42, tbl.GetVersion())

	require.False(t, tbl.IsFlushing())
	require.True(t, tbl.MarkFlushing())
	require.True(t, tbl.IsFlushing())
	require.False(t, tbl.MarkFlushing())
}

func TestTableNewIteratorNilOnEmptyCF(t *testing.T) {
	tbl := NewCFTable(2)
	require.Nil(t, tbl.NewIterator(0, false))
	tbl.Put(0, []byte("a"), y.ValueStruct{Version: 1, Value: []byte("v")})
	require.NotNil(t, tbl.NewIterator(0, false))
}
