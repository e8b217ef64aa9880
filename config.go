package offlinecache

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/always-cache/offline-cache/cache"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const defaultSeedConcurrency = 4

type Config struct {
	// Storage for cache namespaces.
	Storage cache.Storage
	// Name of the cache.
	// Combined with Version to form the namespace identifier.
	Name string
	// Build version of the application.
	// Every deploy that changes cached content must change it,
	// otherwise stale content persists indefinitely.
	Version string
	// URL of the application origin.
	// Relative manifest entries and relative requests are resolved against it.
	OriginURL url.URL
	// Application shell resources that must be cached during setup.
	Manifest Manifest
	// Origin routing rules. Origins without a rule are served cache-first.
	Routes RoutingTable
	// Wait for all clients to close before activating, instead of taking over immediately.
	WaitForClients bool
	// Client used for network requests.
	// A client that does not follow redirects is used if nil.
	Client *http.Client
	// Maximum number of concurrent fetches while seeding.
	SeedConcurrency int
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Registerer for the metrics. Metrics are not registered if nil.
	Registerer prometheus.Registerer
}

// NamespaceID returns the identifier of the namespace owned by this build.
func (c Config) NamespaceID() string {
	if c.Version == "" {
		return c.Name
	}
	return c.Name + "-" + c.Version
}

// Manifest is an ordered list of resource locations, either absolute URLs
// or paths relative to the application origin.
type Manifest []string

// Resolve returns the absolute URLs of the manifest resources.
func (m Manifest) Resolve(base url.URL) ([]*url.URL, error) {
	urls := make([]*url.URL, 0, len(m))
	for _, location := range m {
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("Invalid manifest entry %q: %w", location, err)
		}
		if !u.IsAbs() {
			if !base.IsAbs() {
				return nil, fmt.Errorf("Manifest entry %q is relative but no origin is configured", location)
			}
			u = base.ResolveReference(u)
		}
		urls = append(urls, u)
	}
	return urls, nil
}

func newClient() *http.Client {
	return &http.Client{
		// do not follow redirects
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
