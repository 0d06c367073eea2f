package engine

import (
	"context"

	"github.com/pingcap/errors"

	"github.com/unistore-io/kvengine/compaction"
	"github.com/unistore-io/kvengine/config"
	"github.com/unistore-io/kvengine/dfs"
	"github.com/unistore-io/kvengine/table/sstable"
)

// ListShardInfos implements compaction.Source over the engine's live
// shard map, building the read-only view the planner scores (§4.3).
func (en *Engine) ListShardInfos() []*compaction.ShardInfo {
	var infos []*compaction.ShardInfo
	en.shardMap.Range(func(_, v interface{}) bool {
		shard := v.(*Shard)
		if !shard.IsActive() {
			return true
		}
		info := &compaction.ShardInfo{
			ShardID: shard.ID, ShardVer: shard.Ver,
			Active:   true,
			L0:       shard.loadL0Tables().tables,
			BaseSize: en.opt.BaseSize,
		}
		for cf := 0; cf < config.NumCFs; cf++ {
			info.CFs[cf] = compaction.CFLevels{Levels: shard.loadCFLevels(cf).levels}
		}
		infos = append(infos, info)
		return true
	})
	return infos
}

// Apply implements compaction.Applier: it installs a ChangeSet's table
// deletes/creates into the owning shard, releasing replaced tables
// through the epoch guard so in-flight readers keep a valid view (§5,
// §6).
func (en *Engine) Apply(cs *compaction.ChangeSet) error {
	shardVal, ok := en.shardMap.Load(cs.ShardID)
	if !ok {
		return errors.Errorf("engine: apply change-set: shard %d not found", cs.ShardID)
	}
	shard := shardVal.(*Shard)

	if cs.CF < 0 {
		return en.applyL0ChangeSet(shard, cs)
	}

	deleteIDs := make(map[uint64]bool, len(cs.TopDeletes)+len(cs.BottomDeletes))
	for _, id := range cs.TopDeletes {
		deleteIDs[id] = true
	}
	for _, id := range cs.BottomDeletes {
		deleteIDs[id] = true
	}

	var creates []*sstable.Table
	for _, c := range cs.TableCreates {
		if cs.MoveDown {
			// The move-down shortcut reuses the top table's id and
			// bytes verbatim; fetch the already-open table instead of
			// reopening it from the DFS.
			if t := en.findOpenTable(shard, cs.CF, c.ID); t != nil {
				creates = append(creates, t)
				continue
			}
		}
		tbl, err := en.openTable(shard, c.ID)
		if err != nil {
			return err
		}
		creates = append(creates, tbl)
	}

	replaced := tablesByID(shard, cs.CF, deleteIDs)
	shard.applyLevelChangeSet(cs.CF, cs.Level, deleteIDs, creates)
	if cs.Level > 1 {
		// Top deletes live one level up.
		shard.applyLevelChangeSet(cs.CF, cs.Level-1, deleteIDs, nil)
	}
	if !cs.MoveDown {
		// A move-down keeps its table's blob; only rewritten inputs go.
		en.scheduleTableDeletion(shard, replaced)
	}
	if en.opt.MetaChangeListener != nil {
		en.opt.MetaChangeListener.OnChange(en.snapshotMeta(shard))
	}
	return nil
}

func (en *Engine) applyL0ChangeSet(shard *Shard, cs *compaction.ChangeSet) error {
	oldL0 := shard.loadL0Tables()
	deleteIDs := make(map[uint64]bool, len(cs.TopDeletes))
	for _, id := range cs.TopDeletes {
		deleteIDs[id] = true
	}
	var keptL0 []*sstable.L0Table
	var removedL0 []*sstable.L0Table
	for _, l0 := range oldL0.tables {
		if deleteIDs[l0.ID()] {
			removedL0 = append(removedL0, l0)
		} else {
			keptL0 = append(keptL0, l0)
		}
	}
	shard.l0s.Store(&l0Tables{tables: keptL0})

	byCF := map[int][]compaction.TableCreate{}
	for _, c := range cs.TableCreates {
		byCF[c.CF] = append(byCF[c.CF], c)
	}
	botDeleteIDs := make(map[uint64]bool, len(cs.BottomDeletes))
	for _, id := range cs.BottomDeletes {
		botDeleteIDs[id] = true
	}
	for cf := 0; cf < config.NumCFs; cf++ {
		var creates []*sstable.Table
		for _, c := range byCF[cf] {
			tbl, err := en.openTable(shard, c.ID)
			if err != nil {
				return err
			}
			creates = append(creates, tbl)
		}
		replaced := tablesByID(shard, cf, botDeleteIDs)
		shard.applyLevelChangeSet(cf, 1, botDeleteIDs, creates)
		en.scheduleTableDeletion(shard, replaced)
	}

	guard := en.resourceMgr.Acquire()
	guard.Delete(func() {
		for _, l0 := range removedL0 {
			en.dfs.Remove(context.Background(), l0.ID())
		}
	})
	guard.Done()
	if en.opt.MetaChangeListener != nil {
		en.opt.MetaChangeListener.OnChange(en.snapshotMeta(shard))
	}
	return nil
}

func (en *Engine) findOpenTable(shard *Shard, cf int, id uint64) *sstable.Table {
	for _, level := range shard.loadCFLevels(cf).levels {
		for _, t := range level {
			if t.ID() == id {
				return t
			}
		}
	}
	return nil
}

func (en *Engine) openTable(shard *Shard, id uint64) (*sstable.Table, error) {
	data, err := en.dfs.ReadFile(context.Background(), id, dfs.Options{ShardID: shard.ID, ShardVer: shard.Ver})
	if err != nil {
		return nil, err
	}
	return sstable.Open(dfs.NewInMemFile(id, data), en.blkCache)
}

func tablesByID(shard *Shard, cf int, ids map[uint64]bool) []*sstable.Table {
	var out []*sstable.Table
	for _, level := range shard.loadCFLevels(cf).levels {
		for _, t := range level {
			if ids[t.ID()] {
				out = append(out, t)
			}
		}
	}
	return out
}

// scheduleTableDeletion defers a replaced table's removal until no
// SnapAccess created before this moment could still reach it (§5).
func (en *Engine) scheduleTableDeletion(shard *Shard, tables []*sstable.Table) {
	if len(tables) == 0 {
		return
	}
	guard := en.resourceMgr.Acquire()
	guard.Delete(func() {
		for _, t := range tables {
			en.dfs.Remove(context.Background(), t.ID())
		}
	})
	guard.Done()
}
