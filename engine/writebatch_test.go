package engine

import (
	"testing"

	"github.com/pingcap/badger/y"
	"github.com/stretchr/testify/require"

	"github.com/unistore-io/kvengine/config"
	"github.com/unistore-io/kvengine/epoch"
	"github.com/unistore-io/kvengine/table/memtable"
)

func testEngine() *Engine {
	return &Engine{
		opt:         Options{EngineOptions: *config.DefaultOptions()},
		resourceMgr: epoch.NewResourceManager(),
	}
}

func TestWriteBatchPutRejectsZeroVersionOnManagedCF(t *testing.T) {
	s := newShard(1, 1, nil, nil, testOpt())
	wb := testEngine().NewWriteBatch(s)
	err := wb.Put(config.WriteCF, []byte("k"), y.ValueStruct{Version: 0, Value: []byte("v")})
	require.Error(t, err)
}

func TestWriteBatchPutRejectsNonZeroVersionOnUnmanagedCF(t *testing.T) {
	s := newShard(1, 1, nil, nil, testOpt())
	wb := testEngine().NewWriteBatch(s)
	err := wb.Put(config.LockCF, []byte("k"), y.ValueStruct{Version: 5, Value: []byte("v")})
	require.Error(t, err)
}

func TestWriteBatchPutAndApplyInstallsIntoActiveMemtable(t *testing.T) {
	s := newShard(1, 1, nil, nil, testOpt())
	en := testEngine()
	wb := en.NewWriteBatch(s)

	require.NoError(t, wb.Put(config.WriteCF, []byte("k"), y.ValueStruct{Version: 10, Value: []byte("v")}))
	require.Equal(t, 1, wb.NumEntries())

	en.ApplyWriteBatch(wb)

	head := s.loadMemTables().tables[0]
	got := head.Get(config.WriteCF, []byte("k"), 100)
	require.True(t, got.Valid())
	require.Equal(t, []byte("v"), got.Value)
}

func TestWriteBatchResetClearsEntriesAndProperties(t *testing.T) {
	s := newShard(1, 1, nil, nil, testOpt())
	wb := testEngine().NewWriteBatch(s)
	require.NoError(t, wb.Put(config.LockCF, []byte("k"), y.ValueStruct{Value: []byte("v")}))
	wb.SetProperty("p", []byte("v"))

	wb.Reset()
	require.Equal(t, 0, wb.NumEntries())
	require.EqualValues(t, 0, wb.EstimatedSize())
}

func TestWriteBatchDeleteStagesTombstone(t *testing.T) {
	s := newShard(1, 1, nil, nil, testOpt())
	en := testEngine()
	wb := en.NewWriteBatch(s)
	require.NoError(t, wb.Delete(config.WriteCF, []byte("k"), 5))
	require.Equal(t, 1, wb.NumEntries())

	en.ApplyWriteBatch(wb)
	head := s.loadMemTables().tables[0]
	got := head.Get(config.WriteCF, []byte("k"), 100)
	require.True(t, got.Meta&y.BitDelete != 0)
}

func TestWriteBatchIterateVisitsStagedEntries(t *testing.T) {
	s := newShard(1, 1, nil, nil, testOpt())
	wb := testEngine().NewWriteBatch(s)
	require.NoError(t, wb.Put(config.LockCF, []byte("a"), y.ValueStruct{Value: []byte("1")}))
	require.NoError(t, wb.Put(config.LockCF, []byte("b"), y.ValueStruct{Value: []byte("2")}))

	var keys []string
	wb.Iterate(config.LockCF, func(e *memtable.Entry) bool {
		keys = append(keys, string(e.Key))
		return true
	})
	require.Equal(t, []string{"a", "b"}, keys)
}

func TestWriteBatchIterateStopsWhenCallbackReturnsFalse(t *testing.T) {
	s := newShard(1, 1, nil, nil, testOpt())
	wb := testEngine().NewWriteBatch(s)
	require.NoError(t, wb.Put(config.LockCF, []byte("a"), y.ValueStruct{Value: []byte("1")}))
	require.NoError(t, wb.Put(config.LockCF, []byte("b"), y.ValueStruct{Value: []byte("2")}))

	var count int
	wb.Iterate(config.LockCF, func(e *memtable.Entry) bool {
		count++
		return false
	})
	require.Equal(t, 1, count)
}
