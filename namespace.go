package offlinecache

import (
	"context"
	"sort"
	"sync"

	"github.com/always-cache/offline-cache/cache"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// NamespaceManager owns the versioned namespaces in the storage.
type NamespaceManager struct {
	storage cache.Storage
	log     zerolog.Logger
	metrics *metrics
}

// Ensure opens or creates the namespace.
func (m *NamespaceManager) Ensure(ctx context.Context, id string) (cache.Namespace, error) {
	ns, err := m.storage.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	m.log.Trace().Str("namespace", id).Msg("Opened namespace")
	return ns, nil
}

// Sweep deletes every namespace other than keepID.
// Deletions run concurrently and a failed deletion is logged without affecting the others.
// It returns the deleted namespaces once all deletions have settled.
func (m *NamespaceManager) Sweep(ctx context.Context, keepID string) []string {
	names, err := m.storage.Names(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("Could not list namespaces")
		return nil
	}

	var (
		eg      errgroup.Group
		mutex   sync.Mutex
		deleted = make([]string, 0, len(names))
	)
	// failures are logged and absorbed, every deletion runs to completion
	for _, name := range names {
		if name == keepID {
			continue
		}
		eg.Go(func() error {
			if _, err := m.storage.Delete(ctx, name); err != nil {
				m.log.Error().Err(err).Str("namespace", name).Msg("Could not delete stale namespace")
				m.metrics.sweeps.WithLabelValues("failed").Inc()
				return nil
			}
			m.log.Info().Str("namespace", name).Msg("Deleted stale namespace")
			m.metrics.sweeps.WithLabelValues("deleted").Inc()
			mutex.Lock()
			deleted = append(deleted, name)
			mutex.Unlock()
			return nil
		})
	}
	eg.Wait()

	sort.Strings(deleted)
	return deleted
}
