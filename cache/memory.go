package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memEntry struct {
	storedAt time.Time
	bytes    []byte
}

// MemStorage keeps namespaces in process memory.
type MemStorage struct {
	mutex *sync.RWMutex
	db    map[string]map[string]memEntry
}

func NewMemStorage() MemStorage {
	return MemStorage{
		mutex: &sync.RWMutex{},
		db:    make(map[string]map[string]memEntry),
	}
}

func (m MemStorage) Open(ctx context.Context, name string) (Namespace, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.db[name]; !ok {
		m.db[name] = make(map[string]memEntry)
	}
	return memNamespace{storage: m, name: name}, nil
}

func (m MemStorage) Names(ctx context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.db))
	for name := range m.db {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m MemStorage) Delete(ctx context.Context, name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.db[name]; !ok {
		return false, nil
	}
	delete(m.db, name)
	return true, nil
}

type memNamespace struct {
	storage MemStorage
	name    string
}

func (n memNamespace) Name() string {
	return n.name
}

func (n memNamespace) Match(ctx context.Context, key string) (Entry, bool, error) {
	n.storage.mutex.RLock()
	defer n.storage.mutex.RUnlock()
	entry, ok := n.storage.db[n.name][key]
	if !ok {
		return Entry{}, false, nil
	}
	return Entry{
		Key:      key,
		StoredAt: entry.storedAt,
		Bytes:    append([]byte(nil), entry.bytes...),
	}, true, nil
}

func (n memNamespace) Put(ctx context.Context, entry Entry) error {
	n.storage.mutex.Lock()
	defer n.storage.mutex.Unlock()
	entries, ok := n.storage.db[n.name]
	if !ok {
		return ErrNamespaceDeleted
	}
	// the caller may reuse its slice, store our own copy
	entries[entry.Key] = memEntry{
		storedAt: entry.StoredAt,
		bytes:    append([]byte(nil), entry.Bytes...),
	}
	return nil
}

func (n memNamespace) Keys(ctx context.Context) ([]string, error) {
	n.storage.mutex.RLock()
	defer n.storage.mutex.RUnlock()
	keys := make([]string, 0, len(n.storage.db[n.name]))
	for key := range n.storage.db[n.name] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (n memNamespace) Purge(ctx context.Context, key string) error {
	n.storage.mutex.Lock()
	defer n.storage.mutex.Unlock()
	delete(n.storage.db[n.name], key)
	return nil
}
