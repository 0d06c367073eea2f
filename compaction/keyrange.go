package compaction

import (
	"bytes"

	"github.com/unistore-io/kvengine/table/sstable"
)

// KeyRange is an inclusive/inclusive byte range used for overlap queries,
// per §3.
type KeyRange struct {
	Left  []byte
	Right []byte
}

func (r KeyRange) overlaps(o KeyRange) bool {
	if len(r.Left) == 0 && len(r.Right) == 0 {
		return false
	}
	if bytes.Compare(r.Left, o.Right) > 0 {
		return false
	}
	if bytes.Compare(o.Left, r.Right) > 0 {
		return false
	}
	return true
}

// getKeyRange computes the smallest KeyRange spanning every table in
// tables. The original implementation this is ported from compared
// tbl.Biggest() against itself while folding the running maximum (an
// Open Question the owning spec flags as a likely bug); this version
// compares each table's Biggest() against the running maximum, as the
// spec's fix requires.
func getKeyRange(tables []*sstable.Table) KeyRange {
	if len(tables) == 0 {
		return KeyRange{}
	}
	smallest := tables[0].Smallest()
	biggest := tables[0].Biggest()
	for _, t := range tables[1:] {
		if bytes.Compare(t.Smallest(), smallest) < 0 {
			smallest = t.Smallest()
		}
		if bytes.Compare(t.Biggest(), biggest) > 0 {
			biggest = t.Biggest()
		}
	}
	return KeyRange{Left: smallest, Right: biggest}
}

// tablesInRange returns the contiguous run of tables (a disjoint, sorted
// level) whose ranges intersect r, via binary search on the range
// boundaries.
func tablesInRange(tables []*sstable.Table, r KeyRange) []*sstable.Table {
	lo := 0
	for lo < len(tables) && bytes.Compare(tables[lo].Biggest(), r.Left) < 0 {
		lo++
	}
	hi := lo
	for hi < len(tables) && bytes.Compare(tables[hi].Smallest(), r.Right) <= 0 {
		hi++
	}
	return tables[lo:hi]
}

// hasOverlapBelow reports whether any table in levels strictly below the
// target level intersects r; controls tombstone retention (§4.3).
func hasOverlapBelow(cf *CFLevels, belowLevel int, r KeyRange) bool {
	for lvl := belowLevel; lvl <= len(cf.Levels); lvl++ {
		idx := lvl - 1
		if idx < 0 || idx >= len(cf.Levels) {
			continue
		}
		for _, t := range tablesInRange(cf.Levels[idx], r) {
			if t.HasOverlap(r.Left, r.Right, true) {
				return true
			}
		}
	}
	return false
}

// cfHasDeeperLevels reports whether a CF has any table at all at the
// given level or below. runL0 does not consult it: every L0 compaction
// keeps tombstones unconditionally.
func cfHasDeeperLevels(cf *CFLevels, level int) bool {
	for lvl := level; lvl <= len(cf.Levels); lvl++ {
		if len(cf.Levels[lvl-1]) > 0 {
			return true
		}
	}
	return false
}
