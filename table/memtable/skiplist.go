package memtable

import (
	"bytes"
	"math/rand"
	"sync/atomic"
	"unsafe"

	"github.com/pingcap/badger/y"
)

const maxHeight = 20

const (
	towerEntrySize = int(unsafe.Sizeof(uint32(0)))
	nodeAlign      = uint32(unsafe.Alignof(node{}) - 1)
)

// randSeed is the default per-skiplist RNG, one seeded source per table
// rather than per call, matching badger's arena skiplist.
func randSeed() func() uint32 {
	r := rand.New(rand.NewSource(rand.Int63()))
	return func() uint32 { return r.Uint32() }
}

// node is overlaid directly onto arena bytes (see arena.putNode); its
// in-memory layout IS its on-arena layout. keyOffset/keySize locate the
// key; verOffset addresses the head of the version chain (newest first);
// tower holds next-node offsets, index 0 being the bottom level.
type node struct {
	keyOffset uint32
	keySize   uint32
	verOffset uint32
	height    uint32
	tower     [maxHeight]uint32
}

var nodeSize = int(unsafe.Sizeof(node{}))

// valueNode is a standalone arena record for one version of a key:
// u32 nextOffset || encoded y.ValueStruct. Older versions of the same
// key form a singly linked list through nextOffset, newest at the node's
// verOffset.
func encodeValueNode(v y.ValueStruct, nextOffset uint32) []byte {
	enc := make([]byte, v.EncodedSize())
	v.Encode(enc)
	buf := make([]byte, 4+len(enc))
	putU32(buf, nextOffset)
	copy(buf[4:], enc)
	return buf
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// decodeValueNodeAt decodes the version record at off without bounding
// its length up front: y.ValueStruct.Decode consumes exactly its own
// encoded length from the slice it's given.
func decodeValueNodeAt(a *arena, off uint32) (v y.ValueStruct, next uint32) {
	next = getU32(a.buf[off : off+4])
	v.Decode(a.buf[off+4:])
	return
}

// hint caches the last insertion's search path so PutEntries, which
// inserts many already-sorted keys in a row, doesn't re-walk every tower
// level from the head each time. Kept for interface parity with the
// teacher's PutEntries signature; the search below is cheap enough
// without it that hint is currently unused beyond being threaded through.
type hint struct {
	prev [maxHeight]uint32
	next [maxHeight]uint32
}

// skiplist is a single-CF, multi-version ordered map. Keys are unique in
// the tower structure; each key's versions hang off its node as a
// separate newest-first chain, so MVCC reads never need a second index.
type skiplist struct {
	height int32
	head   uint32 // offset of the sentinel head node
	arena  *arena
	randX  func() uint32
	length int32
}

func newSkiplist() *skiplist {
	a := newArena()
	headOff, head := a.putNode(maxHeight)
	head.height = maxHeight
	s := &skiplist{height: 1, head: headOff, arena: a, randX: randSeed()}
	return s
}

func (s *skiplist) randomHeight() int {
	h := 1
	for h < maxHeight && s.randX()&0xFFFF < (1<<16)/3 {
		h++
	}
	return h
}

func (s *skiplist) getKey(n *node) []byte {
	return s.arena.getBytes(n.keyOffset, n.keySize)
}

func (s *skiplist) Empty() bool { return atomic.LoadInt32(&s.length) == 0 }

func (s *skiplist) next(off uint32, level int) uint32 {
	n := s.arena.getNode(off)
	return atomic.LoadUint32(&n.tower[level])
}

// findSpliceForLevel walks forward from `before` at `level`, returning the
// last node with key < target and the first node with key >= target.
func (s *skiplist) findSpliceForLevel(key []byte, before uint32, level int) (prev, next uint32) {
	for {
		nextOff := s.next(before, level)
		if nextOff == 0 {
			return before, 0
		}
		nextNode := s.arena.getNode(nextOff)
		cmp := bytes.Compare(key, s.getKey(nextNode))
		if cmp < 0 {
			return before, nextOff
		}
		if cmp == 0 {
			return nextOff, nextOff
		}
		before = nextOff
	}
}

func (s *skiplist) search(key []byte) (existing uint32, prevs, nexts [maxHeight]uint32) {
	prev := s.head
	top := int(atomic.LoadInt32(&s.height)) - 1
	for lvl := top; lvl >= 0; lvl-- {
		p, n := s.findSpliceForLevel(key, prev, lvl)
		prevs[lvl] = p
		nexts[lvl] = n
		if n != 0 && bytes.Equal(s.getKey(s.arena.getNode(n)), key) {
			existing = n
		}
		prev = p
	}
	for lvl := top + 1; lvl < maxHeight; lvl++ {
		prevs[lvl] = s.head
	}
	return
}

// Put inserts or updates key with a new newest version v.
func (s *skiplist) Put(key []byte, v y.ValueStruct) {
	var h hint
	s.PutWithHint(key, v, &h)
}

// PutWithHint inserts key/v. The hint parameter exists for call-site
// parity with the teacher's batch-insert API; this implementation always
// searches fresh, which is correct (if not maximally fast) for any
// insertion order.
func (s *skiplist) PutWithHint(key []byte, v y.ValueStruct, h *hint) {
	existing, prevs, nexts := s.search(key)
	if existing != 0 {
		n := s.arena.getNode(existing)
		newOff := s.arena.putBytes(encodeValueNode(v, n.verOffset))
		n = s.arena.getNode(existing) // putBytes may have grown the arena
		atomic.StoreUint32(&n.verOffset, newOff)
		return
	}

	height := s.randomHeight()
	// Key and value go in first: an allocation that grows the arena would
	// leave an earlier *node pointing into the old buffer.
	keyOff := s.arena.putBytes(key)
	verOff := s.arena.putBytes(encodeValueNode(v, 0))
	nOff, n := s.arena.putNode(height)
	n.keyOffset = keyOff
	n.keySize = uint32(len(key))
	n.height = uint32(height)
	n.verOffset = verOff

	for lvl := 0; lvl < height; lvl++ {
		for {
			prevOff := prevs[lvl]
			nextOff := nexts[lvl]
			n.tower[lvl] = nextOff
			prevNode := s.arena.getNode(prevOff)
			if atomic.CompareAndSwapUint32(&prevNode.tower[lvl], nextOff, nOff) {
				break
			}
			prevs[lvl], nexts[lvl] = s.findSpliceForLevel(key, prevOff, lvl)
		}
	}
	atomic.AddInt32(&s.length, 1)
	for {
		cur := atomic.LoadInt32(&s.height)
		if int32(height) <= cur || atomic.CompareAndSwapInt32(&s.height, cur, int32(height)) {
			break
		}
	}
	_ = h
}

// Get returns the newest version of key with Version <= version, or an
// empty ValueStruct if key is absent or every version is newer.
func (s *skiplist) Get(key []byte, version uint64) y.ValueStruct {
	_, _, nexts := s.search(key)
	nOff := nexts[0]
	if nOff == 0 {
		return y.ValueStruct{}
	}
	n := s.arena.getNode(nOff)
	if !bytes.Equal(s.getKey(n), key) {
		return y.ValueStruct{}
	}
	off := n.verOffset
	for off != 0 {
		v, next := decodeValueNodeAt(s.arena, off)
		if v.Version <= version {
			return v
		}
		off = next
	}
	return y.ValueStruct{}
}

// DeleteKey marks key as deleted by pushing a new newest tombstone
// version; memtables never physically remove a node or a version.
func (s *skiplist) DeleteKey(key []byte) bool {
	existing, _, _ := s.search(key)
	if existing == 0 {
		return false
	}
	n := s.arena.getNode(existing)
	if !bytes.Equal(s.getKey(n), key) {
		return false
	}
	tomb := y.ValueStruct{Meta: y.BitDelete}
	newOff := s.arena.putBytes(encodeValueNode(tomb, n.verOffset))
	n = s.arena.getNode(existing) // putBytes may have grown the arena
	atomic.StoreUint32(&n.verOffset, newOff)
	return true
}
