// Copyright 2021-present PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pingcap/badger/y"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"golang.org/x/time/rate"

	"github.com/unistore-io/kvengine/cache"
	"github.com/unistore-io/kvengine/compaction"
	"github.com/unistore-io/kvengine/config"
	"github.com/unistore-io/kvengine/dfs"
	"github.com/unistore-io/kvengine/epoch"
	"github.com/unistore-io/kvengine/table/memtable"
	"github.com/unistore-io/kvengine/table/sstable"
)

var (
	ErrShardNotFound = errors.New("engine: shard not found")
)

type closers struct {
	compactors *y.Closer
	memtable   *y.Closer
}

// Engine owns the shard map and the background flush/compaction
// pipelines; its shape mirrors the teacher's Engine, generalized onto
// the pluggable dfs.DFS in place of a concrete S3/local filesystem (§1,
// §4.6).
type Engine struct {
	opt      Options
	shardMap sync.Map // uint64 -> *Shard
	blkCache *cache.Cache
	dfs      dfs.DFS

	resourceMgr *epoch.ResourceManager
	closers     closers

	flushCh chan *flushTask

	scheduler *compaction.Scheduler
	safeTS    uint64 // atomic

	closed uint32
}

type flushTask struct {
	shard *Shard
	tbl   *memtable.Table
}

// OpenEngine recovers every shard named by src and starts the flush and
// compaction background loops (§4.5).
func OpenEngine(ctx context.Context, opt Options, d dfs.DFS, src MetaSource) (*Engine, error) {
	log.Info("engine: open")
	if opt.IDAllocator == nil {
		opt.IDAllocator = &localIDAllocator{}
	}

	blkCache, err := newBlockCache(opt.EngineOptions)
	if err != nil {
		return nil, errors.Wrap(err, "engine: create block cache")
	}

	en := &Engine{
		opt:      opt,
		blkCache: blkCache,
		dfs:      d,
		flushCh:  make(chan *flushTask, opt.NumMemtables),
	}
	en.resourceMgr = epoch.NewResourceManager()

	metas, err := src.ReadMetas(ctx)
	if err != nil {
		return nil, errors.AddStack(err)
	}
	if err := en.loadShards(ctx, metas); err != nil {
		return nil, errors.AddStack(err)
	}

	en.closers.memtable = y.NewCloser(1)
	go en.runFlushLoop()

	if !opt.DoNotCompact {
		exec := &compaction.Executor{
			DFS: d, IDs: idAllocatorAdapter{opt.IDAllocator}, Builder: opt.TableBuilderOptions, BlkCache: blkCache,
			DFSLimiter: newDFSLimiter(opt.EngineOptions),
		}
		en.scheduler = compaction.NewScheduler(en, exec, en, opt.NumCompactors, en.getSafeTS)
		en.closers.compactors = y.NewCloser(1)
		go en.runCompactionLoop()
	}
	return en, nil
}

// idAllocatorAdapter bridges the engine's synchronous IDAllocator to the
// compaction package's context-shaped one.
type idAllocatorAdapter struct{ inner IDAllocator }

func (a idAllocatorAdapter) Alloc(_ context.Context, n int) (uint64, uint64, error) {
	end, err := a.inner.AllocID(n)
	if err != nil {
		return 0, 0, err
	}
	return end - uint64(n) + 1, end + 1, nil
}

// newDFSLimiter builds the compaction DFS write throttle from
// CompactionDFSBytesPerSec, sized with enough burst to admit one
// max-size table in a single WaitN call; nil (unlimited) when unset.
func newDFSLimiter(opt config.EngineOptions) *rate.Limiter {
	if opt.CompactionDFSBytesPerSec <= 0 {
		return nil
	}
	burst := opt.TableBuilderOptions.MaxTableSize * 2
	if burst < (1 << 20) {
		burst = 1 << 20
	}
	return rate.NewLimiter(rate.Limit(opt.CompactionDFSBytesPerSec), int(burst))
}

func newBlockCache(opt config.EngineOptions) (*cache.Cache, error) {
	if opt.MaxBlockCacheSize == 0 {
		return nil, nil
	}
	return cache.New(&cache.Config{
		NumCounters: opt.MaxBlockCacheSize / int64(opt.TableBuilderOptions.BlockSize) * 10,
		MaxCost:     opt.MaxBlockCacheSize,
		BufferItems: 64,
	})
}

func (en *Engine) getSafeTS() uint64 { return atomic.LoadUint64(&en.safeTS) }

// SetSafeTS advances the watermark below which old versions may be
// garbage-collected by compaction (§4.3's visibility filter).
// A ts lower than the current watermark is ignored.
func (en *Engine) SetSafeTS(ts uint64) {
	for {
		old := atomic.LoadUint64(&en.safeTS)
		if ts <= old || atomic.CompareAndSwapUint64(&en.safeTS, old, ts) {
			return
		}
	}
}

func (en *Engine) runFlushLoop() {
	defer en.closers.memtable.Done()
	for task := range en.flushCh {
		if err := en.flushMemTable(task); err != nil {
			log.S().Errorf("engine: flush shard %d:%d failed: %v", task.shard.ID, task.shard.Ver, err)
		}
	}
}

// flushMemTable writes one memtable generation out as a single-blob,
// per-CF L0 table, per §4.3's L0 blob format.
func (en *Engine) flushMemTable(task *flushTask) error {
	shard, tbl := task.shard, task.tbl
	var cfBlobs [][]byte
	for cf := 0; cf < config.NumCFs; cf++ {
		it := tbl.NewIterator(cf, false)
		b := sstable.NewBuilder(en.opt.TableBuilderOptions.BuilderOptions())
		if it != nil {
			for it.Rewind(); it.Valid(); it.Next() {
				vals := []y.ValueStruct{it.Value()}
				for it.NextVersion() {
					vals = append(vals, it.Value())
				}
				b.Add(it.Key(), vals)
			}
		}
		cfBlobs = append(cfBlobs, b.Finish(0))
	}
	id, err := en.opt.IDAllocator.AllocID(1)
	if err != nil {
		return err
	}
	blob := sstable.BuildL0(cfBlobs, tbl.GetVersion())
	if err := en.dfs.Create(context.Background(), id, blob, dfs.Options{ShardID: shard.ID, ShardVer: shard.Ver}); err != nil {
		return err
	}
	l0, err := sstable.OpenL0(dfs.NewInMemFile(id, blob), en.blkCache)
	if err != nil {
		return err
	}
	shard.publishFlush(tbl, l0)
	log.S().Infof("engine: flushed shard %d:%d mem table ver %d to L0 table %d", shard.ID, shard.Ver, tbl.GetVersion(), id)
	if en.opt.MetaChangeListener != nil {
		en.opt.MetaChangeListener.OnChange(en.snapshotMeta(shard))
	}
	return nil
}

// TriggerFlush hands every immutable memtable (all but the `skipCnt`
// newest) to the flush pipeline.
func (en *Engine) TriggerFlush(shard *Shard, skipCnt int) {
	mems := shard.loadMemTables()
	for i := len(mems.tables) - 1; i >= skipCnt; i-- {
		tbl := mems.tables[i]
		if !tbl.MarkFlushing() {
			continue
		}
		en.flushCh <- &flushTask{shard: shard, tbl: tbl}
	}
}

// RotateMemTable hands off the current writable memtable to the flush
// pipeline and publishes a fresh one in its place (§3, §4.5). It rotates
// whenever it is called; it does not check the memtable's size.
func (en *Engine) RotateMemTable(shard *Shard) {
	fresh := memtable.NewCFTable(config.NumCFs)
	fresh.SetVersion(shard.loadMemTables().tables[0].GetVersion() + 1)
	shard.prependMemTable(fresh)
	en.TriggerFlush(shard, 1)
}

func (en *Engine) runCompactionLoop() {
	defer en.closers.compactors.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-en.closers.compactors.HasBeenClosed():
			return
		case <-ticker.C:
			en.scheduler.RunOnce(context.Background())
		}
	}
}

func (en *Engine) Close() error {
	if !atomic.CompareAndSwapUint32(&en.closed, 0, 1) {
		return nil
	}
	log.S().Info("engine: closing")
	close(en.flushCh)
	en.closers.memtable.SignalAndWait()
	if en.closers.compactors != nil {
		en.closers.compactors.SignalAndWait()
	}
	if en.blkCache != nil {
		en.blkCache.Close()
	}
	return nil
}

func (en *Engine) GetShard(shardID uint64) (*Shard, error) {
	v, ok := en.shardMap.Load(shardID)
	if !ok {
		return nil, ErrShardNotFound
	}
	return v.(*Shard), nil
}

func (en *Engine) RemoveShard(shardID uint64) error {
	v, ok := en.shardMap.Load(shardID)
	if !ok {
		return ErrShardNotFound
	}
	shard := v.(*Shard)
	en.shardMap.Delete(shardID)
	en.scheduleTableDeletion(shard, allTables(shard))
	return nil
}

func allTables(shard *Shard) []*sstable.Table {
	var out []*sstable.Table
	for cf := 0; cf < config.NumCFs; cf++ {
		for _, level := range shard.loadCFLevels(cf).levels {
			out = append(out, level...)
		}
	}
	return out
}

func (en *Engine) Size() int64 {
	var size int64
	en.shardMap.Range(func(_, v interface{}) bool {
		size += v.(*Shard).GetEstimatedSize()
		return true
	})
	return size
}

func (en *Engine) NumCFs() int { return config.NumCFs }

func (en *Engine) GetOpt() Options { return en.opt }
