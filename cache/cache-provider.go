package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNamespaceDeleted is returned when writing to a namespace that has been
// deleted from the storage after it was opened.
var ErrNamespaceDeleted = errors.New("namespace deleted")

// Storage is an interface for a cache storage provider.
// It keeps a set of named namespaces, each holding cache entries.
//
// Implementations must be thread-safe!
type Storage interface {
	// Open returns the namespace with the given name, creating it if needed.
	Open(ctx context.Context, name string) (Namespace, error)
	// Names returns the names of all namespaces known to the storage, sorted.
	Names(ctx context.Context) ([]string, error)
	// Delete removes the namespace and all of its entries.
	// It returns false if no such namespace existed.
	Delete(ctx context.Context, name string) (bool, error)
}

// Namespace is a named, isolated collection of cache entries.
// Entries are replaced as a whole, so a reader always sees one complete snapshot.
type Namespace interface {
	// Name returns the namespace identifier.
	Name() string
	// Match returns the entry stored under key.
	// The boolean is false if there is no such entry.
	Match(ctx context.Context, key string) (Entry, bool, error)
	// Put stores the entry, replacing any entry with the same key.
	Put(ctx context.Context, entry Entry) error
	// Keys returns the keys of all stored entries, sorted.
	Keys(ctx context.Context) ([]string, error)
	// Purge removes the entry for the given key, if any.
	Purge(ctx context.Context, key string) error
}

// Entry is a single stored response snapshot.
type Entry struct {
	Key      string
	StoredAt time.Time
	Bytes    []byte
}
