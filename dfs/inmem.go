package dfs

import (
	"context"
	"sync"

	"github.com/pingcap/errors"
)

// InMemFile is the File test double named in §4.6.
type InMemFile struct {
	id   uint64
	data []byte
}

func NewInMemFile(id uint64, data []byte) *InMemFile {
	return &InMemFile{id: id, data: data}
}

func (f *InMemFile) ID() uint64   { return f.id }
func (f *InMemFile) Size() int64  { return int64(len(f.data)) }

func (f *InMemFile) Read(offset int64, length int) ([]byte, error) {
	if offset < 0 || offset+int64(length) > int64(len(f.data)) {
		return nil, errors.Errorf("dfs: read out of range off=%d len=%d size=%d", offset, length, len(f.data))
	}
	out := make([]byte, length)
	copy(out, f.data[offset:offset+int64(length)])
	return out, nil
}

// InMem is an in-process DFS backed by a map, used by tests and by the
// local-runner example command; it never touches a disk or a network.
type InMem struct {
	mu    sync.RWMutex
	blobs map[uint64][]byte
}

func NewInMem() *InMem {
	return &InMem{blobs: map[uint64][]byte{}}
}

func (m *InMem) ReadFile(_ context.Context, id uint64, _ Options) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[id]
	if !ok {
		return nil, errors.Errorf("dfs: no such blob %d", id)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *InMem) Create(_ context.Context, id uint64, data []byte, _ Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[id] = cp
	return nil
}

func (m *InMem) Open(_ context.Context, id uint64, _ Options) (File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[id]
	if !ok {
		return nil, errors.Errorf("dfs: no such blob %d", id)
	}
	return NewInMemFile(id, data), nil
}

func (m *InMem) Remove(_ context.Context, id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, id)
}
