package table

import (
	"testing"

	"github.com/pingcap/badger/y"
	"github.com/stretchr/testify/require"
)

// sliceIterator is a minimal Iterator over an in-memory, pre-sorted list
// of (key, versions) pairs, versions newest-first; used to exercise
// MergeIterator without needing a full sstable per child.
type sliceIterator struct {
	keys     [][]byte
	versions [][]y.ValueStruct
	pos      int
	verPos   int
}

func newSliceIterator(entries map[string][]y.ValueStruct, keyOrder []string) *sliceIterator {
	it := &sliceIterator{}
	for _, k := range keyOrder {
		it.keys = append(it.keys, []byte(k))
		it.versions = append(it.versions, entries[k])
	}
	return it
}

func (it *sliceIterator) Rewind()          { it.pos, it.verPos = 0, 0 }
func (it *sliceIterator) Seek(key []byte)  { it.pos, it.verPos = 0, 0 }
func (it *sliceIterator) Valid() bool      { return it.pos < len(it.keys) }
func (it *sliceIterator) Key() []byte      { return it.keys[it.pos] }
func (it *sliceIterator) Value() y.ValueStruct { return it.versions[it.pos][it.verPos] }
func (it *sliceIterator) NextVersion() bool {
	if it.verPos+1 < len(it.versions[it.pos]) {
		it.verPos++
		return true
	}
	return false
}
func (it *sliceIterator) SeekToVersion(v uint64) bool {
	for it.Valid() {
		if it.Value().Version <= v {
			return true
		}
		if !it.NextVersion() {
			return false
		}
	}
	return false
}
func (it *sliceIterator) Next() {
	it.verPos = 0
	it.pos++
}

func TestMergeIteratorInterleavesByKey(t *testing.T) {
	a := newSliceIterator(map[string][]y.ValueStruct{
		"a": {{Version: 5, Value: []byte("a5")}},
		"c": {{Version: 5, Value: []byte("c5")}},
	}, []string{"a", "c"})
	b := newSliceIterator(map[string][]y.ValueStruct{
		"b": {{Version: 5, Value: []byte("b5")}},
	}, []string{"b"})

	it := NewMergeIterator([]Iterator{a, b}, false)
	var keys []string
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestMergeIteratorNewestVersionWinsAcrossChildren(t *testing.T) {
	newer := newSliceIterator(map[string][]y.ValueStruct{
		"k": {{Version: 20, Value: []byte("newer")}},
	}, []string{"k"})
	older := newSliceIterator(map[string][]y.ValueStruct{
		"k": {{Version: 10, Value: []byte("older")}},
	}, []string{"k"})

	it := NewMergeIterator([]Iterator{older, newer}, false)
	it.Rewind()
	require.True(t, it.Valid())
	require.Equal(t, []byte("newer"), it.Value().Value)
	require.EqualValues(t, 20, it.Value().Version)

	require.True(t, it.NextVersion())
	require.Equal(t, []byte("older"), it.Value().Value)
	require.EqualValues(t, 10, it.Value().Version)

	require.False(t, it.NextVersion())
}

func TestMergeIteratorNextSkipsAllVersionsOfKey(t *testing.T) {
	a := newSliceIterator(map[string][]y.ValueStruct{
		"k": {{Version: 20}, {Version: 10}},
	}, []string{"k"})
	b := newSliceIterator(map[string][]y.ValueStruct{
		"z": {{Version: 1}},
	}, []string{"z"})

	it := NewMergeIterator([]Iterator{a, b}, false)
	it.Rewind()
	require.Equal(t, []byte("k"), it.Key())
	it.Next()
	require.True(t, it.Valid())
	require.Equal(t, []byte("z"), it.Key())
}

func TestMergeIteratorReversedOrder(t *testing.T) {
	// Each child already walks in descending order, as a real reversed
	// TableIterator would; the merge must preserve that globally.
	a := newSliceIterator(map[string][]y.ValueStruct{
		"c": {{Version: 1}},
		"a": {{Version: 1}},
	}, []string{"c", "a"})
	b := newSliceIterator(map[string][]y.ValueStruct{
		"b": {{Version: 1}},
	}, []string{"b"})

	it := NewMergeIterator([]Iterator{a, b}, true)
	var keys []string
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.Equal(t, []string{"c", "b", "a"}, keys)
}
