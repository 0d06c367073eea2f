// Package dfs defines the distributed file store contract the compaction
// executor and ingest loader consume (§4.6). The DFS's own wire protocol,
// replication, and durability are out of scope (§1); this package only
// fixes the shape external collaborators must present.
package dfs

import "context"

// Options scopes a DFS operation to the shard that owns the blob, so a
// real DFS implementation can route/account by shard without parsing the
// blob id.
type Options struct {
	ShardID  uint64
	ShardVer uint64
}

// File is a sync handle to an opened blob: immutable, safe for concurrent
// reads.
type File interface {
	ID() uint64
	Size() int64
	Read(offset int64, length int) ([]byte, error)
}

// DFS is the async contract the executor drives through its own fan-out
// pool; ReadFile and Create are expected to be safe to call concurrently
// for distinct ids.
type DFS interface {
	ReadFile(ctx context.Context, id uint64, opts Options) ([]byte, error)
	Create(ctx context.Context, id uint64, data []byte, opts Options) error
	Open(ctx context.Context, id uint64, opts Options) (File, error)
	Remove(ctx context.Context, id uint64)
}
