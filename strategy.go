package offlinecache

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/always-cache/offline-cache/cache"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	cachestatus "github.com/always-cache/offline-cache/pkg/cache-status"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"

	"github.com/rs/zerolog"
)

// Executor serves an intercepted GET request using the namespace and the network.
type Executor interface {
	Serve(req *http.Request) (*http.Response, cachestatus.CacheStatus, error)
}

type executor struct {
	ns      cache.Namespace
	fetch   func(*http.Request) (*http.Response, error)
	log     zerolog.Logger
	metrics *metrics
}

// lookup returns a fresh response from the stored snapshot for key.
// Storage errors and unreadable entries count as a miss.
func (e executor) lookup(ctx context.Context, req *http.Request, key string) (*http.Response, bool) {
	entry, ok, err := e.ns.Match(ctx, key)
	if err != nil {
		e.log.Error().Err(err).Str("key", key).Msg("Could not retrieve from cache")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	snap, err := serializer.BytesToSnapshot(entry.Bytes, req)
	if err != nil {
		// in case we have a corrupted cache entry, we delete it and treat it as a miss
		e.log.Error().Err(err).Str("key", key).Msg("Could not read from cache")
		if err := e.ns.Purge(ctx, key); err != nil {
			e.log.Error().Err(err).Str("key", key).Msg("Could not purge corrupted entry")
		}
		return nil, false
	}
	return snap.Response, true
}

type cacheFirst struct {
	executor
}

// Serve returns the stored response if there is one, without touching the network.
// On a miss the network response is returned as is and not stored.
func (s cacheFirst) Serve(req *http.Request) (*http.Response, cachestatus.CacheStatus, error) {
	var status cachestatus.CacheStatus
	key, err := cachekey.Key(req)
	if err != nil {
		return nil, status, err
	}
	if res, ok := s.lookup(req.Context(), req, key); ok {
		s.log.Trace().Str("key", key).Msg("Cache hit and serving")
		status.Hit()
		return res, status, nil
	}
	status.Forward(cachestatus.FwdReasonUriMiss)
	s.log.Trace().Str("key", key).Msg("Cache miss, fetching from network")
	res, err := s.fetch(req)
	return res, status, err
}

type staleWhileRevalidate struct {
	executor
	background *sync.WaitGroup
}

type revalidation struct {
	res    *http.Response
	stored bool
	err    error
}

// fetchedSnapshot is a network response serialized for storage.
type fetchedSnapshot struct {
	res      *http.Response
	bytes    []byte
	storedAt time.Time
	err      error
}

// Serve looks up the stored response and fetches from the network at the same time.
// A stored response is returned immediately while the network response replaces it in the background.
// Without a stored response the caller gets the network response, or its failure.
// The network response is only stored after the lookup has settled.
func (s staleWhileRevalidate) Serve(req *http.Request) (*http.Response, cachestatus.CacheStatus, error) {
	var status cachestatus.CacheStatus
	key, err := cachekey.Key(req)
	if err != nil {
		return nil, status, err
	}
	ctx := req.Context()

	hit := make(chan bool, 1)
	fetched := make(chan revalidation, 1)
	// the revalidation outlives the caller, it is for the benefit of the next request
	bgReq := req.Clone(context.WithoutCancel(ctx))
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		f := s.fetchSnapshot(bgReq)
		served := <-hit
		r := s.store(bgReq, key, f)
		if served {
			if r.err != nil {
				s.log.Warn().Err(r.err).Str("key", key).Msg("Revalidation failed, stale response already served")
			}
			return
		}
		fetched <- r
	}()

	res, ok := s.lookup(ctx, req, key)
	hit <- ok
	if ok {
		s.log.Trace().Str("key", key).Msg("Serving stale response while revalidating")
		status.Hit()
		return res, status, nil
	}

	status.Forward(cachestatus.FwdReasonUriMiss)
	select {
	case r := <-fetched:
		status.Stored = r.stored
		return r.res, status, r.err
	case <-ctx.Done():
		return nil, status, &NetworkError{URL: req.URL.String(), Err: ctx.Err()}
	}
}

// fetchSnapshot requests the resource from the network and serializes the response.
func (s staleWhileRevalidate) fetchSnapshot(req *http.Request) fetchedSnapshot {
	res, err := s.fetch(req)
	if err != nil {
		return fetchedSnapshot{err: err}
	}
	storedAt := time.Now()
	bts, err := serializer.ResponseToBytes(res, storedAt)
	if err != nil {
		return fetchedSnapshot{err: &NetworkError{URL: req.URL.String(), Err: err}}
	}
	return fetchedSnapshot{res: res, bytes: bts, storedAt: storedAt}
}

// store writes successful (200) responses under key.
func (s staleWhileRevalidate) store(req *http.Request, key string, f fetchedSnapshot) revalidation {
	if f.err != nil {
		s.metrics.revalidations.WithLabelValues("failed").Inc()
		return revalidation{err: f.err}
	}
	if f.res.StatusCode != http.StatusOK {
		s.log.Trace().Str("key", key).Int("http-status", f.res.StatusCode).Msg("Non-cacheable response")
		s.metrics.revalidations.WithLabelValues("skipped").Inc()
		return revalidation{res: f.res}
	}
	if err := s.ns.Put(req.Context(), cache.Entry{Key: key, StoredAt: f.storedAt, Bytes: f.bytes}); err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
		s.metrics.revalidations.WithLabelValues("failed").Inc()
		return revalidation{res: f.res}
	}
	s.log.Trace().Str("key", key).Msg("Cache write")
	s.metrics.revalidations.WithLabelValues("stored").Inc()
	return revalidation{res: f.res, stored: true}
}
