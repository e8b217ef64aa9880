package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func providers(t *testing.T) map[string]Storage {
	sqlite, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Storage{
		"memory": NewMemStorage(),
		"sqlite": sqlite,
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, storage := range providers(t) {
		t.Run(name, func(t *testing.T) {
			ns, err := storage.Open(ctx, "app-v1")
			require.NoError(t, err)
			require.NoError(t, ns.Put(ctx, Entry{Key: "GET http://app.example/", Bytes: []byte("shell")}))

			again, err := storage.Open(ctx, "app-v1")
			require.NoError(t, err)
			entry, ok, err := again.Match(ctx, "GET http://app.example/")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "shell", string(entry.Bytes))

			names, err := storage.Names(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"app-v1"}, names)
		})
	}
}

func TestPutReplacesWholeEntry(t *testing.T) {
	ctx := context.Background()
	storedAt := time.Unix(1700000000, 0)
	for name, storage := range providers(t) {
		t.Run(name, func(t *testing.T) {
			ns, err := storage.Open(ctx, "app-v1")
			require.NoError(t, err)
			require.NoError(t, ns.Put(ctx, Entry{Key: "k", Bytes: []byte("old content")}))
			require.NoError(t, ns.Put(ctx, Entry{Key: "k", StoredAt: storedAt, Bytes: []byte("new")}))

			entry, ok, err := ns.Match(ctx, "k")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "new", string(entry.Bytes))
			assert.True(t, storedAt.Equal(entry.StoredAt))

			keys, err := ns.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"k"}, keys)
		})
	}
}

func TestMissAndPurge(t *testing.T) {
	ctx := context.Background()
	for name, storage := range providers(t) {
		t.Run(name, func(t *testing.T) {
			ns, err := storage.Open(ctx, "app-v1")
			require.NoError(t, err)
			_, ok, err := ns.Match(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, ns.Put(ctx, Entry{Key: "k", Bytes: []byte("x")}))
			require.NoError(t, ns.Purge(ctx, "k"))
			_, ok, err = ns.Match(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestDeleteRemovesNamespaceAndEntries(t *testing.T) {
	ctx := context.Background()
	for name, storage := range providers(t) {
		t.Run(name, func(t *testing.T) {
			old, err := storage.Open(ctx, "app-v1")
			require.NoError(t, err)
			require.NoError(t, old.Put(ctx, Entry{Key: "k", Bytes: []byte("x")}))
			_, err = storage.Open(ctx, "app-v2")
			require.NoError(t, err)

			deleted, err := storage.Delete(ctx, "app-v1")
			require.NoError(t, err)
			assert.True(t, deleted)

			deleted, err = storage.Delete(ctx, "app-v1")
			require.NoError(t, err)
			assert.False(t, deleted)

			names, err := storage.Names(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"app-v2"}, names)

			// writes through a stale handle must not resurrect the namespace
			assert.ErrorIs(t, old.Put(ctx, Entry{Key: "k", Bytes: []byte("y")}), ErrNamespaceDeleted)
			names, err = storage.Names(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"app-v2"}, names)
		})
	}
}

func TestNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	for name, storage := range providers(t) {
		t.Run(name, func(t *testing.T) {
			a, err := storage.Open(ctx, "a")
			require.NoError(t, err)
			b, err := storage.Open(ctx, "b")
			require.NoError(t, err)
			require.NoError(t, a.Put(ctx, Entry{Key: "k", Bytes: []byte("a")}))

			_, ok, err := b.Match(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestMemStorageReturnsCopies(t *testing.T) {
	ctx := context.Background()
	ns, err := NewMemStorage().Open(ctx, "a")
	require.NoError(t, err)
	b := []byte("abc")
	require.NoError(t, ns.Put(ctx, Entry{Key: "k", Bytes: b}))
	b[0] = 'x'

	entry, _, err := ns.Match(ctx, "k")
	require.NoError(t, err)
	entry.Bytes[1] = 'y'

	again, _, err := ns.Match(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again.Bytes))
}
