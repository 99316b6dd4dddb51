package store

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with failure injection, used by tests
// and the memory backend.
type MemoryStore struct {
	mu         sync.Mutex
	objects    map[string]memObject
	puts       int
	failPut    error
	failCommit error
	now        func() time.Time
}

type memObject struct {
	body    []byte
	created time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string]memObject{}, now: time.Now}
}

var _ Store = (*MemoryStore)(nil)

// FailPuts makes every Put fail with err before writing. nil restores service.
func (m *MemoryStore) FailPuts(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPut = err
}

// FailAfterWrite makes Put persist the object and then report err, as when
// a response is lost after the backend committed.
func (m *MemoryStore) FailAfterWrite(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCommit = err
}

// Put stores a.Body under a.Key unless an equal object exists.
func (m *MemoryStore) Put(ctx context.Context, a Artifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := cleanKey(a.Key)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.failPut != nil {
		return "", m.failPut
	}
	if existing, ok := m.objects[key]; ok {
		if !bytes.Equal(existing.body, a.Body) {
			return "", ErrContentMismatch
		}
		return "mem://" + key, nil
	}
	m.objects[key] = memObject{body: append([]byte(nil), a.Body...), created: m.now().UTC()}
	if m.failCommit != nil {
		return "", m.failCommit
	}
	return "mem://" + key, nil
}

// Get returns a copy of the object under key.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), o.body...), nil
}

// List returns the objects under prefix sorted by key.
func (m *MemoryStore) List(ctx context.Context, prefix string) ([]Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Object
	for k, o := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, Object{Key: k, Location: "mem://" + k, Size: int64(len(o.body)), Created: o.created})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Ping fails while puts are being failed, so readiness reflects outages.
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failPut
}

// Len is the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// Puts is the number of Put calls observed.
func (m *MemoryStore) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}
