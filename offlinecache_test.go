package offlinecache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/always-cache/offline-cache/cache"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
}

var errUnreachable = errors.New("network unreachable")

type fakeResponse struct {
	status int
	body   string
}

// fakeNetwork is an http.RoundTripper answering from a fixed set of responses.
type fakeNetwork struct {
	mutex     sync.Mutex
	responses map[string]fakeResponse
	requests  []string
	down      bool
	held      map[string]chan struct{}
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		responses: make(map[string]fakeResponse),
		held:      make(map[string]chan struct{}),
	}
}

func (n *fakeNetwork) serve(rawURL string, status int, body string) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.responses[rawURL] = fakeResponse{status: status, body: body}
}

func (n *fakeNetwork) setDown(down bool) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.down = down
}

// hold blocks responses for the URL until the returned function is called.
func (n *fakeNetwork) hold(rawURL string) func() {
	gate := make(chan struct{})
	n.mutex.Lock()
	n.held[rawURL] = gate
	n.mutex.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			n.mutex.Lock()
			delete(n.held, rawURL)
			n.mutex.Unlock()
			close(gate)
		})
	}
}

func (n *fakeNetwork) count() int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return len(n.requests)
}

func (n *fakeNetwork) RoundTrip(req *http.Request) (*http.Response, error) {
	n.mutex.Lock()
	n.requests = append(n.requests, req.Method+" "+req.URL.String())
	gate := n.held[req.URL.String()]
	n.mutex.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}

	n.mutex.Lock()
	res, ok := n.responses[req.URL.String()]
	down := n.down
	n.mutex.Unlock()

	if down {
		return nil, errUnreachable
	}
	if !ok {
		res = fakeResponse{status: http.StatusNotFound, body: "not found"}
	}
	body := res.body
	if req.Method != http.MethodGet {
		body = req.Method + " " + body
	}
	return &http.Response{
		StatusCode:    res.status,
		Status:        http.StatusText(res.status),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}, nil
}

type testSetup struct {
	network *fakeNetwork
	storage cache.Storage
	config  Config
}

func newTestSetup(t *testing.T) *testSetup {
	t.Helper()
	network := newFakeNetwork()
	network.serve("https://app.example/shell.html", http.StatusOK, "shell v1")
	network.serve("https://app.example/app.js", http.StatusOK, "app v1")
	origin, err := url.Parse("https://app.example")
	require.NoError(t, err)
	logger := log.Logger
	s := &testSetup{
		network: network,
		storage: cache.NewMemStorage(),
	}
	s.config = Config{
		Storage:   s.storage,
		Name:      "app",
		Version:   "v1",
		OriginURL: *origin,
		Manifest:  Manifest{"/shell.html", "/app.js"},
		Routes: NewRoutingTable(
			[]string{"https://cdn.example"},
			[]string{"https://ai.example"},
		),
		Client: &http.Client{Transport: network},
		Logger: &logger,
	}
	return s
}

func (s *testSetup) controller(t *testing.T, modify ...func(*Config)) *Controller {
	t.Helper()
	config := s.config
	for _, m := range modify {
		m(&config)
	}
	c, err := NewController(config)
	require.NoError(t, err)
	return c
}

func (s *testSetup) active(t *testing.T, modify ...func(*Config)) *Controller {
	t.Helper()
	c := s.controller(t, modify...)
	require.NoError(t, c.Setup(context.Background()))
	require.NoError(t, c.Activate(context.Background(), nil))
	return c
}

func (s *testSetup) keys(t *testing.T, namespace string) []string {
	t.Helper()
	ns, err := s.storage.Open(context.Background(), namespace)
	require.NoError(t, err)
	keys, err := ns.Keys(context.Background())
	require.NoError(t, err)
	return keys
}

func get(t *testing.T, rawURL string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	require.NoError(t, err)
	return req
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return string(body)
}

func cacheEntry(key string) cache.Entry {
	return cache.Entry{Key: key, Bytes: []byte("stale")}
}

// slowReads delays every lookup in its namespaces.
type slowReads struct {
	cache.Storage
	delay time.Duration
}

func (s slowReads) Open(ctx context.Context, name string) (cache.Namespace, error) {
	ns, err := s.Storage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return slowNamespace{Namespace: ns, delay: s.delay}, nil
}

type slowNamespace struct {
	cache.Namespace
	delay time.Duration
}

func (n slowNamespace) Match(ctx context.Context, key string) (cache.Entry, bool, error) {
	time.Sleep(n.delay)
	return n.Namespace.Match(ctx, key)
}

// deleteHook calls beforeDelete ahead of every namespace deletion.
type deleteHook struct {
	cache.Storage
	beforeDelete func(name string)
}

func (s deleteHook) Delete(ctx context.Context, name string) (bool, error) {
	s.beforeDelete(name)
	return s.Storage.Delete(ctx, name)
}
