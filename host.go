package offlinecache

import (
	"context"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

type HostConfig struct {
	// Client used for requests of clients without a controller.
	// A client that does not follow redirects is used if nil.
	Client *http.Client
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

// Host registers controllers and routes the requests of its open clients through them.
// At most one controller is active. A newly installed controller either takes over
// immediately or waits until every open client has closed.
type Host struct {
	mutex   sync.Mutex
	active  *Controller
	waiting *Controller
	// held for reading while a request is dispatched, for writing while a controller activates
	dispatch sync.RWMutex
	clients  map[string]*Client
	client   *http.Client
	log      zerolog.Logger
}

func NewHost(config HostConfig) *Host {
	h := &Host{
		clients: make(map[string]*Client),
		client:  config.Client,
	}
	if h.client == nil {
		h.client = newClient()
	}
	if config.Logger == nil {
		h.log = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		h.log = *config.Logger
	}
	return h
}

// Register installs the controller and activates it when allowed.
// If setup fails the error is returned and the previously active controller keeps serving.
func (h *Host) Register(ctx context.Context, c *Controller) error {
	if err := c.Setup(ctx); err != nil {
		h.log.Error().Err(err).Str("namespace", c.NamespaceID()).Msg("Registration failed")
		return err
	}

	h.mutex.Lock()
	if !c.SkipWaiting() && h.active != nil && len(h.clients) > 0 {
		previous := h.waiting
		h.waiting = c
		open := len(h.clients)
		h.mutex.Unlock()
		if previous != nil {
			previous.retire()
		}
		h.log.Info().Str("namespace", c.NamespaceID()).Int("clients", open).Msg("Waiting for clients to close")
		return nil
	}
	h.mutex.Unlock()

	return h.activate(ctx, c)
}

// activate activates c and claims the open clients for it.
// Requests of open clients wait until the activation has finished,
// none of them reaches the previous controller while its namespace is swept.
func (h *Host) activate(ctx context.Context, c *Controller) error {
	h.dispatch.Lock()
	defer h.dispatch.Unlock()

	h.mutex.Lock()
	superseded := h.waiting
	h.waiting = nil
	h.mutex.Unlock()
	if superseded != nil && superseded != c {
		superseded.retire()
	}
	return c.Activate(ctx, h)
}

// Active returns the active controller, or nil.
func (h *Host) Active() *Controller {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.active
}

// Waiting returns the installed controller waiting for activation, or nil.
func (h *Host) Waiting() *Controller {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.waiting
}

// Open opens a client, e.g. a page, controlled by the active controller.
// Opening an id that is already open returns the existing client.
func (h *Host) Open(id string) *Client {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if client, ok := h.clients[id]; ok {
		return client
	}
	client := &Client{ID: id, host: h, controller: h.active}
	h.clients[id] = client
	return client
}

// Close closes the client. When the last client closes, a waiting controller is activated.
func (h *Host) Close(ctx context.Context, id string) error {
	h.mutex.Lock()
	delete(h.clients, id)
	waiting := h.waiting
	if len(h.clients) > 0 || waiting == nil {
		h.mutex.Unlock()
		return nil
	}
	h.waiting = nil
	h.mutex.Unlock()

	h.log.Debug().Str("namespace", waiting.NamespaceID()).Msg("All clients closed, activating waiting controller")
	return h.activate(ctx, waiting)
}

// Client is an open page whose requests may be intercepted by a controller.
type Client struct {
	ID         string
	host       *Host
	controller *Controller
}

// Controller returns the controller of the client, or nil if it is not controlled.
func (cl *Client) Controller() *Controller {
	cl.host.mutex.Lock()
	defer cl.host.mutex.Unlock()
	return cl.controller
}

// Do sends the request through the client's controller,
// or straight to the network if there is none.
// Requests made while a controller is activating wait until it has claimed the client.
func (cl *Client) Do(req *http.Request) (*http.Response, error) {
	cl.host.dispatch.RLock()
	defer cl.host.dispatch.RUnlock()
	if c := cl.Controller(); c != nil {
		return c.Intercept(req)
	}
	res, err := cl.host.client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: req.URL.String(), Err: err}
	}
	return res, nil
}

// ServeHTTP proxies the request through the active controller,
// or straight to the network if there is none.
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.dispatch.RLock()
	defer h.dispatch.RUnlock()
	if c := h.Active(); c != nil {
		c.ServeHTTP(w, r)
		return
	}
	proxy(w, r, h.client, h.log)
}
