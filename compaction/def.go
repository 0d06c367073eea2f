package compaction

import "github.com/unistore-io/kvengine/table/sstable"

// Def is the planner's working set for one compaction attempt — the Go
// name for §3's CompactDef.
type Def struct {
	ShardID  uint64
	ShardVer uint64
	CF       int
	Level    int // source level; 0 means this is an L0 compaction

	Top []*sstable.Table // source tables (nil for L0: use the L0 list instead)
	Bot []*sstable.Table // overlapping tables one level down

	ThisRange KeyRange
	NextRange KeyRange
	HasOverlap bool
}

func ratio(topSize, botSize int64) float64 {
	if botSize == 0 {
		return float64(topSize)
	}
	return float64(topSize) / float64(botSize)
}

// fillTable implements §4.3's LN request construction. It picks the
// level-L table with the largest top/bottom size ratio against the
// overlapping set in level L+1, then expands the selection left and
// right over adjacent top tables so long as the bottom-overlap set stays
// contiguous and the ratio does not drop.
//
// The source this is ported from assigns `top_size = new_bot_size` during
// the right-expansion loop (apparently a copy/paste swap with
// `bot_size`), while the left-expansion loop assigns both correctly; the
// owning spec's Open Questions flag this as a likely bug and direct
// implementers to use `newTopSize`/`newBotSize` consistently, which this
// does on both sides.
func fillTable(cf *CFLevels, level int) (*Def, bool) {
	top := cf.Levels[level-1]
	if len(top) == 0 {
		return nil, false
	}
	var bottom []*sstable.Table
	if level < len(cf.Levels) {
		bottom = cf.Levels[level]
	}

	bestIdx := -1
	bestRatio := -1.0
	for i, t := range top {
		r := tablesInRange(bottom, KeyRange{Left: t.Smallest(), Right: t.Biggest()})
		botSize := totalTableSize(r)
		rr := ratio(t.Size(), botSize)
		if rr > bestRatio {
			bestRatio = rr
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return nil, false
	}

	left, right := bestIdx, bestIdx
	topSize := top[bestIdx].Size()
	botRange := tablesInRange(bottom, KeyRange{Left: top[bestIdx].Smallest(), Right: top[bestIdx].Biggest()})
	botSize := totalTableSize(botRange)

	// Left expansion. tablesInRange always returns a contiguous sub-slice
	// of `bottom` (it is computed by binary search over the whole,
	// disjoint, sorted level), so growing the top range can never skip a
	// bottom table - the "no gap" requirement holds by construction.
	for left > 0 {
		cand := top[left-1]
		newTopSize := topSize + cand.Size()
		candRange := tablesInRange(bottom, KeyRange{Left: cand.Smallest(), Right: top[right].Biggest()})
		newBotSize := totalTableSize(candRange)
		if ratio(newTopSize, newBotSize) < bestRatio {
			break
		}
		left--
		topSize, botSize = newTopSize, newBotSize
		botRange = candRange
	}

	// Right expansion.
	for right < len(top)-1 {
		cand := top[right+1]
		newTopSize := topSize + cand.Size()
		candRange := tablesInRange(bottom, KeyRange{Left: top[left].Smallest(), Right: cand.Biggest()})
		newBotSize := totalTableSize(candRange)
		if ratio(newTopSize, newBotSize) < bestRatio {
			break
		}
		right++
		topSize, botSize = newTopSize, newBotSize
		botRange = candRange
	}
	_ = botSize

	tops := append([]*sstable.Table(nil), top[left:right+1]...)
	thisRange := getKeyRange(tops)
	var nextRange KeyRange
	if len(botRange) > 0 {
		nextRange = getKeyRange(botRange)
	} else {
		nextRange = thisRange
	}

	return &Def{
		CF:         -1, // caller fills in CF/ShardID/ShardVer/Level
		Level:      level,
		Top:        tops,
		Bot:        append([]*sstable.Table(nil), botRange...),
		ThisRange:  thisRange,
		NextRange:  nextRange,
		HasOverlap: false, // caller fills in via hasOverlapBelow
	}, true
}

// FillTable is the exported entry point used by the planner: it builds a
// Def for the given CF/level pair and stamps in the fields fillTable
// itself doesn't have enough context to set.
func FillTable(info *ShardInfo, cf, level int) (*Def, bool) {
	def, ok := fillTable(&info.CFs[cf], level)
	if !ok {
		return nil, false
	}
	def.ShardID = info.ShardID
	def.ShardVer = info.ShardVer
	def.CF = cf
	def.HasOverlap = hasOverlapBelow(&info.CFs[cf], level+2, def.ThisRange)
	return def, true
}
