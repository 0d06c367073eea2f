// Package table holds the ordered-traversal vocabulary shared by every
// tier of the engine: a single table, a disjoint run of tables
// (ConcatIterator), and a merge across heterogeneous sources
// (MergeIterator). §4.2.
package table

import "github.com/pingcap/badger/y"

// Iterator is the base contract of §4.2. Reverse-ness is fixed at
// construction; Seek/Rewind/Next/Valid/Key/Value behave as documented
// there, with NextVersion/SeekToVersion giving multi-version cursor
// control without exposing a generator.
type Iterator interface {
	Seek(key []byte)
	Rewind()
	Next()
	// NextVersion advances to the next older version of the current key,
	// if one exists, without moving to a different key. It reports
	// whether such a version existed.
	NextVersion() bool
	// SeekToVersion advances within the current key to the newest
	// version <= v, if one exists to the current "right" (it never
	// becomes newer). It reports success.
	SeekToVersion(v uint64) bool
	Valid() bool
	Key() []byte
	Value() y.ValueStruct
}
