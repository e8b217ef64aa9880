package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/always-cache/offline-cache/cache"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	cachestatus "github.com/always-cache/offline-cache/pkg/cache-status"

	"github.com/rs/zerolog"
)

// State is the lifecycle state of a controller.
type State int

const (
	Uninitialized State = iota
	Installing
	Installed
	Activating
	Active
	// Redundant controllers have been replaced by a newer build.
	Redundant
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Installing:
		return "installing"
	case Installed:
		return "installed"
	case Activating:
		return "activating"
	case Active:
		return "active"
	case Redundant:
		return "redundant"
	}
	return "unknown"
}

// Claimer takes over the clients that are already open.
type Claimer interface {
	Claim(c *Controller)
}

// Controller intercepts requests for one build of the application.
// Setup seeds the build's namespace, Activate removes the namespaces of other builds,
// after which every GET request is routed to a caching strategy.
type Controller struct {
	mutex       sync.RWMutex
	state       State
	ns          cache.Namespace
	namespaceID string
	manifest    []*url.URL
	originURL   url.URL
	routes      RoutingTable
	skipWaiting bool
	namespaces  *NamespaceManager
	seeder      *Seeder
	client      *http.Client
	log         zerolog.Logger
	metrics     *metrics
	background  sync.WaitGroup
}

// NewController creates an uninitialized controller from the config.
func NewController(config Config) (*Controller, error) {
	if config.Storage == nil {
		return nil, errors.New("Storage is required")
	}
	if config.Name == "" {
		return nil, errors.New("Cache name is required")
	}
	manifest, err := config.Manifest.Resolve(config.OriginURL)
	if err != nil {
		return nil, err
	}

	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	logger = logger.With().
		Str("namespace", config.NamespaceID()).
		Logger()

	c := &Controller{
		state:       Uninitialized,
		namespaceID: config.NamespaceID(),
		manifest:    manifest,
		originURL:   config.OriginURL,
		routes:      config.Routes,
		skipWaiting: !config.WaitForClients,
		client:      config.Client,
		log:         logger,
		metrics:     newMetrics(config.Registerer),
	}
	if c.client == nil {
		c.client = newClient()
	}
	c.namespaces = &NamespaceManager{
		storage: config.Storage,
		log:     logger,
		metrics: c.metrics,
	}
	concurrency := config.SeedConcurrency
	if concurrency <= 0 {
		concurrency = defaultSeedConcurrency
	}
	c.seeder = &Seeder{
		namespaces:  c.namespaces,
		fetch:       c.fetch,
		concurrency: concurrency,
		log:         logger,
		metrics:     c.metrics,
	}
	return c, nil
}

// NamespaceID returns the identifier of the namespace owned by the controller.
func (c *Controller) NamespaceID() string {
	return c.namespaceID
}

func (c *Controller) State() State {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.state
}

// SkipWaiting reports whether the controller takes over as soon as it is installed.
func (c *Controller) SkipWaiting() bool {
	return c.skipWaiting
}

// Setup seeds the controller's namespace with the manifest.
// On failure the controller goes back to uninitialized and the error is returned.
// Setup runs to completion once started, cancelling ctx does not abort it.
func (c *Controller) Setup(ctx context.Context) error {
	if err := c.transition(Uninitialized, Installing); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)

	ns, err := c.seeder.Seed(ctx, c.namespaceID, c.manifest)
	if err != nil {
		c.setState(Uninitialized)
		return err
	}

	c.mutex.Lock()
	c.ns = ns
	c.state = Installed
	c.mutex.Unlock()
	c.log.Info().Msg("Installed")
	return nil
}

// Activate deletes all other namespaces and then claims the open clients, if a claimer is given.
// The controller is active, and intercepts requests, once the sweep has completed.
func (c *Controller) Activate(ctx context.Context, claimer Claimer) error {
	if err := c.transition(Installed, Activating); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)

	deleted := c.namespaces.Sweep(ctx, c.namespaceID)
	c.setState(Active)
	c.log.Info().Strs("deleted", deleted).Msg("Activated")

	if claimer != nil {
		claimer.Claim(c)
	}
	return nil
}

// Wait blocks until all background revalidations have settled.
func (c *Controller) Wait() {
	c.background.Wait()
}

// Entries returns the URLs of all entries in the controller's namespace.
func (c *Controller) Entries(ctx context.Context) ([]string, error) {
	c.mutex.RLock()
	ns := c.ns
	c.mutex.RUnlock()
	if ns == nil {
		return []string{}, nil
	}
	keys, err := ns.Keys(ctx)
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(keys))
	for _, key := range keys {
		req, err := cachekey.RequestFromKey(key)
		if err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("Could not create request from key")
			continue
		}
		urls = append(urls, req.URL.String())
	}
	return urls, nil
}

// retire marks the controller as replaced by a newer one.
func (c *Controller) retire() {
	c.setState(Redundant)
	c.log.Info().Msg("Replaced by newer controller")
}

func (c *Controller) transition(from, to State) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.state != from {
		return fmt.Errorf("%w: %s to %s while %s", ErrInvalidTransition, from, to, c.state)
	}
	c.state = to
	c.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("Lifecycle transition")
	return nil
}

func (c *Controller) setState(state State) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.state = state
}

// Intercept handles a request made by a client controlled by c.
// GET requests are served by the strategy the routing table picks for their origin,
// everything else, and every request while the controller is not active, goes to the network unmodified.
func (c *Controller) Intercept(req *http.Request) (*http.Response, error) {
	res, _, err := c.intercept(req)
	return res, err
}

func (c *Controller) intercept(req *http.Request) (*http.Response, cachestatus.CacheStatus, error) {
	var status cachestatus.CacheStatus

	c.mutex.RLock()
	state, ns := c.state, c.ns
	c.mutex.RUnlock()

	if state != Active {
		status.Forward(cachestatus.FwdReasonBypass)
		status.Detail = state.String()
		res, err := c.fetch(req)
		return res, status, err
	}
	if req.Method != http.MethodGet {
		status.Forward(cachestatus.FwdReasonMethod)
		res, err := c.fetch(req)
		return res, status, err
	}
	if !req.URL.IsAbs() {
		req = req.Clone(req.Context())
		req.URL = c.originURL.ResolveReference(req.URL)
	}

	strategy := c.routes.Classify(OriginOf(req.URL))
	log := c.log.With().Str("strategy", strategy.String()).Logger()
	base := executor{ns: ns, fetch: c.fetch, log: log, metrics: c.metrics}

	var exec Executor
	switch strategy {
	case Bypass:
		status.Forward(cachestatus.FwdReasonBypass)
		res, err := c.fetch(req)
		c.countRequest(strategy, status, err)
		return res, status, err
	case StaleWhileRevalidate:
		exec = staleWhileRevalidate{executor: base, background: &c.background}
	default:
		exec = cacheFirst{executor: base}
	}

	res, status, err := exec.Serve(req)
	c.countRequest(strategy, status, err)
	if err != nil {
		log.Warn().Err(err).Str("url", req.URL.String()).Msg("Request failed")
	}
	return res, status, err
}

func (c *Controller) countRequest(strategy Strategy, status cachestatus.CacheStatus, err error) {
	result := "miss"
	switch {
	case err != nil:
		result = "error"
	case status.IsHit():
		result = "hit"
	case status.FwdReason == cachestatus.FwdReasonBypass:
		result = "bypass"
	}
	c.metrics.requests.WithLabelValues(strategy.String(), result).Inc()
}

// fetch sends the request to the network.
func (c *Controller) fetch(req *http.Request) (*http.Response, error) {
	c.log.Trace().Str("method", req.Method).Str("url", req.URL.String()).Msg("Requesting content from network")
	res, err := c.client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: req.URL.String(), Err: err}
	}
	return res, nil
}
