package offlinecache

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/always-cache/offline-cache/cache"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Seeder pre-caches the application shell.
type Seeder struct {
	namespaces  *NamespaceManager
	fetch       func(*http.Request) (*http.Response, error)
	concurrency int
	log         zerolog.Logger
	metrics     *metrics
}

// Seed fetches every manifest resource and stores it in the namespace, which is returned.
// It is all or nothing: if any resource cannot be fetched nothing is written
// and a *SeedError naming the resource is returned.
// Seeding an already seeded namespace replaces the entries with fresh copies.
func (s *Seeder) Seed(ctx context.Context, namespaceID string, manifest []*url.URL) (cache.Namespace, error) {
	log := s.log.With().Str("namespace", namespaceID).Logger()
	log.Debug().Int("resources", len(manifest)).Msg("Seeding cache")

	entries := make([]cache.Entry, len(manifest))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.concurrency)
	for i, u := range manifest {
		eg.Go(func() error {
			entry, err := s.fetchEntry(egCtx, u)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		s.fail(log, err)
		return nil, err
	}

	ns, err := s.namespaces.Ensure(ctx, namespaceID)
	if err != nil {
		s.fail(log, err)
		return nil, err
	}
	for _, entry := range entries {
		if err := ns.Put(ctx, entry); err != nil {
			err = &SeedError{Resource: entry.Key, Err: err}
			s.fail(log, err)
			return nil, err
		}
		log.Trace().Str("key", entry.Key).Msg("Cache write")
	}

	s.metrics.seeds.WithLabelValues("success").Inc()
	log.Info().Int("resources", len(entries)).Msg("Seeded cache")
	return ns, nil
}

func (s *Seeder) fetchEntry(ctx context.Context, u *url.URL) (cache.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return cache.Entry{}, &SeedError{Resource: u.String(), Err: err}
	}
	res, err := s.fetch(req)
	if err != nil {
		return cache.Entry{}, &SeedError{Resource: u.String(), Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		res.Body.Close()
		return cache.Entry{}, &SeedError{Resource: u.String(), StatusCode: res.StatusCode}
	}
	storedAt := time.Now()
	bts, err := serializer.ResponseToBytes(res, storedAt)
	if err != nil {
		return cache.Entry{}, &SeedError{Resource: u.String(), Err: err}
	}
	return cache.Entry{
		Key:      cachekey.URLKey(u),
		StoredAt: storedAt,
		Bytes:    bts,
	}, nil
}

func (s *Seeder) fail(log zerolog.Logger, err error) {
	s.metrics.seeds.WithLabelValues("failed").Inc()
	evt := log.Error().Err(err)
	var seedErr *SeedError
	if errors.As(err, &seedErr) {
		evt = evt.Str("resource", seedErr.Resource)
	}
	evt.Msg("Could not seed cache")
}
