package compaction

import (
	"context"
	"sync"

	"github.com/pingcap/badger/y"
	"github.com/pingcap/log"

	"github.com/unistore-io/kvengine/config"
	"github.com/unistore-io/kvengine/table/sstable"
)

// Source supplies the scheduler with a fresh view of every shard's table
// set each pass; package engine implements it over its live shard map.
type Source interface {
	ListShardInfos() []*ShardInfo
}

// Applier installs a ChangeSet into shard metadata and the in-memory
// table set; the executor itself never mutates a shard (§4.3, §6).
type Applier interface {
	Apply(cs *ChangeSet) error
}

// Scheduler drives up to NumCompactors concurrent compactions, polling
// Source and scoring candidates with GetCompactionPriorities (§4.3, §5).
// Run calls RunOnce on every value of a caller-supplied tick channel until
// its y.Closer is signalled; Engine instead calls RunOnce from its own
// ticker loop.
type Scheduler struct {
	Source        Source
	Executor      *Executor
	Applier       Applier
	NumCompactors int
	SafeTs        func() uint64

	mu         sync.Mutex
	compacting map[uint64]bool // shardID -> in flight
}

func NewScheduler(src Source, exec *Executor, applier Applier, numCompactors int, safeTs func() uint64) *Scheduler {
	return &Scheduler{
		Source: src, Executor: exec, Applier: applier,
		NumCompactors: numCompactors, SafeTs: safeTs,
		compacting: map[uint64]bool{},
	}
}

// Run loops until closer is signalled, calling RunOnce on every tick the
// caller drives it with; it owns closer's Done() call so it can be
// spawned with `go scheduler.Run(closer)` exactly like the teacher's
// background loops.
func (s *Scheduler) Run(closer *y.Closer, tick <-chan struct{}) {
	defer closer.Done()
	for {
		select {
		case <-closer.HasBeenClosed():
			return
		case <-tick:
			s.RunOnce(context.Background())
		}
	}
}

// RunOnce scores every idle shard, launches a compaction per returned
// priority (capped at NumCompactors), and waits for them all to finish.
func (s *Scheduler) RunOnce(ctx context.Context) {
	infos := s.Source.ListShardInfos()

	s.mu.Lock()
	candidates := make([]*ShardInfo, 0, len(infos))
	for _, info := range infos {
		if !s.compacting[info.ShardID] {
			candidates = append(candidates, info)
		}
	}
	s.mu.Unlock()

	priorities := GetCompactionPriorities(candidates, s.NumCompactors)
	if len(priorities) == 0 {
		return
	}

	byID := make(map[uint64]*ShardInfo, len(candidates))
	for _, c := range candidates {
		byID[c.ShardID] = c
	}

	var wg sync.WaitGroup
	for _, p := range priorities {
		info, ok := byID[p.ShardID]
		if !ok {
			continue
		}

		s.mu.Lock()
		s.compacting[p.ShardID] = true
		s.mu.Unlock()

		wg.Add(1)
		go func(info *ShardInfo, p Priority) {
			defer wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.compacting, p.ShardID)
				s.mu.Unlock()
			}()
			if err := s.runOne(ctx, info, p); err != nil {
				log.S().Errorf("shard %d:%d compaction failed: %v", p.ShardID, p.ShardVer, err)
			}
		}(info, p)
	}
	wg.Wait()
}

func (s *Scheduler) runOne(ctx context.Context, info *ShardInfo, p Priority) error {
	safeTs := s.SafeTs()

	if p.CF < 0 {
		return s.runL0(ctx, info, safeTs)
	}

	def, ok := FillTable(info, p.CF, p.Level)
	if !ok {
		return nil
	}
	cs, err := s.Executor.CompactLN(ctx, def, safeTs)
	if err != nil {
		return err
	}
	return s.Applier.Apply(cs)
}

func (s *Scheduler) runL0(ctx context.Context, info *ShardInfo, safeTs uint64) error {
	var bottoms [config.NumCFs][]*sstable.Table
	var hasOverlap [config.NumCFs]bool
	for cf := 0; cf < config.NumCFs; cf++ {
		if len(info.CFs[cf].Levels) > 0 {
			bottoms[cf] = info.CFs[cf].Levels[0]
		}
		// Every L0 compaction is treated as overlapping, regardless of
		// whether deeper levels already hold data for this CF, matching
		// `original_source/.../compaction.rs:439`'s `overlap: level == 0`.
		hasOverlap[cf] = true
	}
	cs, err := s.Executor.CompactL0(ctx, info.ShardID, info.ShardVer, info.L0, bottoms, safeTs, hasOverlap)
	if err != nil {
		return err
	}
	return s.Applier.Apply(cs)
}
