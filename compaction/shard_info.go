package compaction

import "github.com/unistore-io/kvengine/table/sstable"

// CFLevels is one CF's levelled tiers, Levels[0] == level 1 and so on;
// within a level, tables are disjoint and sorted by Smallest (§3).
type CFLevels struct {
	Levels [][]*sstable.Table
}

// ShardInfo is the read-only view of one shard's table set the planner
// and executor need; it is supplied by package engine from a SnapAccess
// (or the live view for planning) and never mutated here.
type ShardInfo struct {
	ShardID  uint64
	ShardVer uint64
	Active   bool
	L0       []*sstable.L0Table // newest first
	CFs      [3]CFLevels
	BaseSize int64
}

func totalL0Size(l0s []*sstable.L0Table) int64 {
	var sz int64
	for _, t := range l0s {
		sz += t.Size()
	}
	return sz
}

func totalTableSize(tables []*sstable.Table) int64 {
	var sz int64
	for _, t := range tables {
		sz += t.Size()
	}
	return sz
}
