// Package compaction implements the planner and executor of §4.3: it
// scores shards, builds CompactDefs, merges inputs under the visibility
// filter, and hands the results to an external applier as a ChangeSet.
package compaction

import (
	"bytes"
	"context"
	"math"

	"github.com/pingcap/badger/y"
	"github.com/pingcap/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/unistore-io/kvengine/cache"
	"github.com/unistore-io/kvengine/config"
	"github.com/unistore-io/kvengine/dfs"
	"github.com/unistore-io/kvengine/table"
	"github.com/unistore-io/kvengine/table/sstable"
)

// IDAllocator hands out a contiguous id range for one compaction's
// output tables; its implementation lives outside this module (§6).
type IDAllocator interface {
	Alloc(ctx context.Context, n int) (start, end uint64, err error)
}

// Executor runs the merge-compact pipeline described in §4.3 and
// produces a ChangeSet; it never installs the result itself.
type Executor struct {
	DFS      dfs.DFS
	IDs      IDAllocator
	Builder  config.TableBuilderOptions
	BlkCache *cache.Cache

	// DFSLimiter, when non-nil, throttles the byte rate of compaction's
	// output writes to the DFS (§5's resource model), so one large
	// compaction can't starve the rest of the shard's I/O budget.
	DFSLimiter *rate.Limiter
}

// waitDFSBudget blocks until the limiter (if any) admits n bytes of DFS
// write traffic.
func (e *Executor) waitDFSBudget(ctx context.Context, n int) error {
	if e.DFSLimiter == nil {
		return nil
	}
	return e.DFSLimiter.WaitN(ctx, n)
}

// allocIDCount is §4.3's L0 request sizing rule: ceil(total_size /
// max_table_size) + 16.
func allocIDCount(totalSize int64, maxTableSize int64) int {
	if maxTableSize <= 0 {
		maxTableSize = 1
	}
	n := int(math.Ceil(float64(totalSize)/float64(maxTableSize))) + 16
	if n < 1 {
		n = 1
	}
	return n
}

// CompactLN runs a single CF's LN->LN+1 merge, or takes the move-down
// shortcut when bot is empty, level > 0, and cf == WriteCF (§4.3).
func (e *Executor) CompactLN(ctx context.Context, def *Def, safeTs uint64) (*ChangeSet, error) {
	if def.Level > 0 && len(def.Bot) == 0 && def.CF == config.WriteCF {
		return e.moveDown(def), nil
	}

	totalSize := totalTableSize(def.Top) + totalTableSize(def.Bot)
	idCount := allocIDCount(totalSize, e.Builder.MaxTableSize)
	startID, endID, err := e.IDs.Alloc(ctx, idCount)
	if err != nil {
		return nil, errors.Wrap(err, "compaction: allocate ids")
	}

	topIt := table.NewConcatIterator(def.Top, false)
	botIt := table.NewConcatIterator(def.Bot, false)
	merged := table.NewMergeIterator([]table.Iterator{topIt, botIt}, false)

	creates, err := e.compactTables(ctx, def.CF, def.Level+1, merged, safeTs, def.HasOverlap, startID, endID)
	if err != nil {
		return nil, err
	}

	topDeletes := idsOf(def.Top)
	botDeletes := idsOf(def.Bot)
	return &ChangeSet{
		ShardID: def.ShardID, ShardVer: def.ShardVer,
		CF: def.CF, Level: def.Level + 1,
		TopDeletes: topDeletes, BottomDeletes: botDeletes,
		TableCreates: creates,
	}, nil
}

// moveDown relabels the single top table at Level+1 without rewriting
// any bytes or touching the DFS.
func (e *Executor) moveDown(def *Def) *ChangeSet {
	t := def.Top[0]
	return &ChangeSet{
		ShardID: def.ShardID, ShardVer: def.ShardVer,
		CF: def.CF, Level: def.Level + 1,
		TopDeletes: []uint64{t.ID()},
		TableCreates: []TableCreate{{
			ID: t.ID(), CF: def.CF, Level: def.Level + 1,
			Smallest: t.Smallest(), Biggest: t.Biggest(),
		}},
		MoveDown: true,
	}
}

// CompactL0 fans L0 tables into level 1 for every CF in order, building a
// forward merge iterator over {L0 CF tables, ConcatIterator(bottom)} for
// each CF (§4.3's "Executor pipeline (L0→L1 fan-out)").
func (e *Executor) CompactL0(ctx context.Context, shardID, shardVer uint64, l0s []*sstable.L0Table, bottoms [config.NumCFs][]*sstable.Table, safeTs uint64, hasOverlap [config.NumCFs]bool) (*ChangeSet, error) {
	var totalSize int64
	for _, t := range l0s {
		totalSize += t.Size()
	}
	for cf := 0; cf < config.NumCFs; cf++ {
		totalSize += totalTableSize(bottoms[cf])
	}
	idCount := allocIDCount(totalSize, e.Builder.MaxTableSize)
	startID, endID, err := e.IDs.Alloc(ctx, idCount)
	if err != nil {
		return nil, errors.Wrap(err, "compaction: allocate ids")
	}

	var allCreates []TableCreate
	nextID := startID
	for cf := 0; cf < config.NumCFs; cf++ {
		var l0Children []table.Iterator
		for _, l0 := range l0s {
			if sub := l0.CF(cf); sub != nil {
				l0Children = append(l0Children, table.NewTableIterator(sub, false))
			}
		}
		l0Merged := table.NewMergeIterator(l0Children, false)
		botIt := table.NewConcatIterator(bottoms[cf], false)
		merged := table.NewMergeIterator([]table.Iterator{l0Merged, botIt}, false)

		creates, used, err := e.compactTablesFrom(ctx, cf, 1, merged, safeTs, hasOverlap[cf], nextID, endID)
		if err != nil {
			return nil, err
		}
		allCreates = append(allCreates, creates...)
		nextID = used
	}

	var l0Deletes []uint64
	for _, t := range l0s {
		l0Deletes = append(l0Deletes, t.ID())
	}
	var botDeletes []uint64
	for cf := 0; cf < config.NumCFs; cf++ {
		botDeletes = append(botDeletes, idsOf(bottoms[cf])...)
	}

	return &ChangeSet{
		ShardID: shardID, ShardVer: shardVer,
		CF: -1, Level: 0,
		TopDeletes: l0Deletes, BottomDeletes: botDeletes,
		TableCreates: allCreates,
	}, nil
}

func idsOf(tables []*sstable.Table) []uint64 {
	out := make([]uint64, len(tables))
	for i, t := range tables {
		out[i] = t.ID()
	}
	return out
}

func (e *Executor) compactTables(ctx context.Context, cf, level int, merged table.Iterator, safeTs uint64, hasOverlap bool, startID, endID uint64) ([]TableCreate, error) {
	creates, _, err := e.compactTablesFrom(ctx, cf, level, merged, safeTs, hasOverlap, startID, endID)
	return creates, err
}

// compactTablesFrom is §4.3's LN merge loop. The source this is ported
// from only advances the iterator in the fall-through branch after
// builder.add; when a key matches skipKey it `continue`s without
// advancing, which loops forever. Every branch here that consumes the
// current (key, version) calls advance before continuing, per the spec's
// Open Question fix. advance steps one version at a time, so every version
// newer than safeTs reaches the builder; the versions kept for a key are
// collected and handed to builder.Add in one call.
func (e *Executor) compactTablesFrom(ctx context.Context, cf, level int, merged table.Iterator, safeTs uint64, hasOverlap bool, startID, endID uint64) ([]TableCreate, uint64, error) {
	type builtTable struct {
		id   uint64
		data []byte
	}

	var pending []builtTable
	builder := sstable.NewBuilder(e.Builder.BuilderOptions())
	var lastKey []byte
	var skipKey []byte
	nextID := startID

	var vals []y.ValueStruct // versions kept for lastKey, newest first
	advance := func() {
		if !merged.NextVersion() {
			merged.Next()
		}
	}

	rollOutput := func() error {
		if builder.Empty() {
			return nil
		}
		if nextID >= endID {
			return errors.New("compaction: exceeded allocated id range")
		}
		id := nextID
		nextID++
		data := builder.Finish(id)
		pending = append(pending, builtTable{id: id, data: data})
		builder = sstable.NewBuilder(e.Builder.BuilderOptions())
		return nil
	}

	for merged.Rewind(); merged.Valid(); {
		key := merged.Key()

		if skipKey != nil && bytes.Equal(key, skipKey) {
			advance()
			continue
		}

		if lastKey == nil || !bytes.Equal(key, lastKey) {
			if len(vals) > 0 {
				builder.Add(lastKey, vals)
				vals = vals[:0]
			}
			if lastKey != nil && builder.EstimatedSize() >= e.Builder.MaxTableSize {
				if err := rollOutput(); err != nil {
					return nil, 0, err
				}
			}
			lastKey = append(lastKey[:0], key...)
		}

		v := merged.Value()
		if v.Version > safeTs {
			vals = append(vals, v)
			advance()
			continue
		}

		decision := filter(cf, v.UserMeta, v.Value, safeTs)
		isDeleted := v.Meta&y.BitDelete != 0

		switch {
		case decision == DecisionDrop || (isDeleted && !hasOverlap):
			// dropped entirely
		case decision == DecisionMarkTombstone && hasOverlap:
			tomb := v
			tomb.Meta |= y.BitDelete
			tomb.Value = nil
			vals = append(vals, tomb)
		default:
			vals = append(vals, v)
		}
		skipKey = append(skipKey[:0], key...)
		advance()
	}
	if len(vals) > 0 {
		builder.Add(lastKey, vals)
	}
	if err := rollOutput(); err != nil {
		return nil, 0, err
	}

	creates := make([]TableCreate, 0, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(endID - startID))
	for i := range pending {
		i := i
		g.Go(func() error {
			if err := e.waitDFSBudget(gctx, len(pending[i].data)); err != nil {
				return errors.Wrap(err, "compaction: dfs rate limit")
			}
			return e.DFS.Create(gctx, pending[i].id, pending[i].data, dfs.Options{})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, errors.Wrap(err, "compaction: dfs create")
	}
	for _, p := range pending {
		tbl, err := sstable.Open(dfs.NewInMemFile(p.id, p.data), e.BlkCache)
		if err != nil {
			return nil, 0, err
		}
		creates = append(creates, TableCreate{ID: p.id, CF: cf, Level: level, Smallest: tbl.Smallest(), Biggest: tbl.Biggest()})
	}
	return creates, nextID, nil
}
