package engine

import (
	"context"
	"testing"
	"time"

	"github.com/pingcap/badger/y"
	"github.com/stretchr/testify/require"

	"github.com/unistore-io/kvengine/config"
	"github.com/unistore-io/kvengine/dfs"
)

func openTestEngine(t *testing.T, doNotCompact bool) (*Engine, *Shard) {
	t.Helper()
	opt := Options{
		EngineOptions:       *config.DefaultOptions(),
		RecoveryConcurrency: 4,
		DoNotCompact:        doNotCompact,
	}
	d := dfs.NewInMem()
	src := &fakeMetaSource{metas: map[uint64]*ShardMeta{
		1: {ID: 1, Ver: 1, Start: []byte("a"), End: []byte("z"), Files: map[uint64]*FileMeta{}},
	}}
	en, err := OpenEngine(context.Background(), opt, d, src)
	require.NoError(t, err)
	t.Cleanup(func() { _ = en.Close() })

	shard, err := en.GetShard(1)
	require.NoError(t, err)
	return en, shard
}

func TestOpenEngineRecoversShardsFromMetaSource(t *testing.T) {
	en, shard := openTestEngine(t, true)
	require.True(t, shard.IsActive())
	require.NotNil(t, en)
}

func TestEngineWriteFlushAndReadBack(t *testing.T) {
	en, shard := openTestEngine(t, true)

	wb := en.NewWriteBatch(shard)
	require.NoError(t, wb.Put(config.LockCF, []byte("k"), y.ValueStruct{Value: []byte("v1")}))
	en.ApplyWriteBatch(wb)

	en.RotateMemTable(shard)

	require.Eventually(t, func() bool {
		return len(shard.loadL0Tables().tables) == 1
	}, time.Second, 5*time.Millisecond)

	snap := en.NewSnapAccess(shard)
	defer snap.Discard()
	item, err := snap.Get(config.LockCF, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), item.Value())
}

func TestEngineGetShardUnknownErrors(t *testing.T) {
	en, _ := openTestEngine(t, true)
	_, err := en.GetShard(999)
	require.Equal(t, ErrShardNotFound, err)
}

func TestEngineRemoveShardDeletesFromMap(t *testing.T) {
	en, shard := openTestEngine(t, true)
	require.NoError(t, en.RemoveShard(shard.ID))
	_, err := en.GetShard(shard.ID)
	require.Equal(t, ErrShardNotFound, err)
}

func TestEngineCloseIsIdempotent(t *testing.T) {
	en, _ := openTestEngine(t, true)
	require.NoError(t, en.Close())
	require.NoError(t, en.Close())
}
