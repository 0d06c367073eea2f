package compaction

import (
	"context"
	"testing"

	"github.com/pingcap/badger/y"
	"github.com/stretchr/testify/require"

	"github.com/unistore-io/kvengine/dfs"
	"github.com/unistore-io/kvengine/table/sstable"
)

func sampleChangeSet() *ChangeSet {
	return &ChangeSet{
		ShardID:       1,
		ShardVer:      2,
		Sequence:      3,
		Stage:         "compact",
		CF:            -1,
		Level:         0,
		TopDeletes:    []uint64{10, 11},
		BottomDeletes: []uint64{20},
		TableCreates: []TableCreate{
			{ID: 30, CF: 0, Level: 1, Smallest: []byte("a"), Biggest: []byte("m")},
			{ID: 31, CF: 1, Level: 1, Smallest: []byte("n"), Biggest: []byte("z")},
		},
		MoveDown: true,
	}
}

func TestChangeSetMarshalUnmarshalRoundTrips(t *testing.T) {
	cs := sampleChangeSet()
	data, err := cs.Marshal()
	require.NoError(t, err)

	var got ChangeSet
	require.NoError(t, got.Unmarshal(data))
	require.Equal(t, *cs, got)
}

func TestChangeSetUnmarshalRejectsCorruptedPayload(t *testing.T) {
	data, err := sampleChangeSet().Marshal()
	require.NoError(t, err)

	data[0] ^= 0xFF
	var got ChangeSet
	require.Equal(t, ErrChangeSetChecksum, got.Unmarshal(data))
}

func TestChangeSetUnmarshalRejectsTruncatedPayload(t *testing.T) {
	var got ChangeSet
	require.Equal(t, ErrChangeSetChecksum, got.Unmarshal([]byte{1, 2, 3}))
}

func TestTableCreateMarshalUnmarshalRoundTrips(t *testing.T) {
	tc := TableCreate{ID: 7, CF: -1, Level: 3, Smallest: []byte("k1"), Biggest: []byte("k9")}
	data, err := tc.Marshal()
	require.NoError(t, err)

	var got TableCreate
	require.NoError(t, got.Unmarshal(data))
	require.Equal(t, tc, got)
}

// TestRunL0KeepsTombstonesRegardlessOfDeeperLevels exercises the
// client.go `hasOverlap` fix: an L0 compaction for a CF with no
// existing L2+ tables must still preserve a delete marker, per
// `original_source/.../compaction.rs:439`'s unconditional
// `overlap: level == 0`. Before the fix, `cfHasDeeperLevels` made
// `hasOverlap` false here and the tombstone was dropped outright.
func TestRunL0KeepsTombstonesRegardlessOfDeeperLevels(t *testing.T) {
	b := sstable.NewBuilder(sstable.BuilderOptions{BlockSize: 4096})
	b.Add([]byte("k"), []y.ValueStruct{{Version: 1, Meta: y.BitDelete}})
	blob := sstable.BuildL0([][]byte{b.Finish(1), nil, nil}, 1)
	l0, err := sstable.OpenL0(dfs.NewInMemFile(1, blob), nil)
	require.NoError(t, err)

	info := &ShardInfo{
		ShardID: 1, ShardVer: 1, Active: true, BaseSize: 1,
		L0:  []*sstable.L0Table{l0},
		CFs: [3]CFLevels{{}, {}, {}},
	}
	src := &fakeSource{infos: []*ShardInfo{info}}
	applier := &fakeApplier{}
	exec := newExecutor(&fakeIDAllocator{next: 100})
	sched := NewScheduler(src, exec, applier, 3, func() uint64 { return 1000 })

	sched.RunOnce(context.Background())

	applier.mu.Lock()
	defer applier.mu.Unlock()
	require.Len(t, applier.applied, 1)
	cs := applier.applied[0]
	require.NotEmpty(t, cs.TableCreates)

	out, err := sstable.Open(dfs.NewInMemFile(cs.TableCreates[0].ID, mustRead(t, exec.DFS, cs.TableCreates[0].ID)), nil)
	require.NoError(t, err)
	v, err := out.Get([]byte("k"), 1000)
	require.NoError(t, err)
	require.True(t, v.Valid())
	require.NotZero(t, v.Meta&y.BitDelete)
}
