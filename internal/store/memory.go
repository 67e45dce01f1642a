package store

import (
	"context"
	"sync"
)

// Memory keeps encoded blobs in process. It goes through the same codec as
// the networked backends.
type Memory struct {
	mu    sync.Mutex
	keys  Keys
	blobs map[string][]byte
}

// NewMemory creates an empty in-process store
func NewMemory(keys Keys) (*Memory, error) {
	if err := keys.validate(); err != nil {
		return nil, err
	}
	return &Memory{keys: keys, blobs: make(map[string][]byte)}, nil
}

func (m *Memory) Load(_ context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return decode(m.keys, m.blobs)
}

func (m *Memory) Save(_ context.Context, snap Snapshot) error {
	blobs, err := encode(m.keys, snap)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range blobs {
		m.blobs[k] = v
	}
	return nil
}

// Raw returns the stored bytes for a key
func (m *Memory) Raw(key string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.blobs[key]...)
}

// PutRaw stores bytes under a key as-is
func (m *Memory) PutRaw(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), value...)
}

func (m *Memory) Close() error { return nil }
