package offlinecache

import (
	"io"
	"net/http"

	cachestatus "github.com/always-cache/offline-cache/pkg/cache-status"

	"github.com/rs/zerolog"
)

// RoundTrip implements the http.RoundTripper interface,
// so the controller can be used as the transport of an http.Client.
func (c *Controller) RoundTrip(req *http.Request) (*http.Response, error) {
	return c.Intercept(req)
}

// ServeHTTP implements the http.Handler interface.
// It acts as a forward proxy for absolute-form request URIs.
// Other requests are resolved against the origin URL.
func (c *Controller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer c.recover(w, r)

	req := c.forwardRequest(r)
	res, status, err := c.intercept(req)
	if err != nil {
		c.log.Error().Err(err).Str("url", req.URL.String()).Msg("Could not fetch response")
		http.Error(w, "Could not fetch response", http.StatusBadGateway)
		return
	}
	send(w, res, status, c.log)
}

// recover recovers from panics and sends the request to the escape hatch if needed.
func (c *Controller) recover(w http.ResponseWriter, r *http.Request) {
	if err := recover(); err != nil {
		c.log.WithLevel(zerolog.PanicLevel).Interface("error", err).Msg("Panic in cache handler")
		proxy(w, c.forwardRequest(r), c.client, c.log)
	}
}

// forwardRequest creates the outgoing request for an incoming proxy request.
func (c *Controller) forwardRequest(r *http.Request) *http.Request {
	req := r.Clone(r.Context())
	req.RequestURI = ""
	if !req.URL.IsAbs() {
		req.URL = c.originURL.ResolveReference(req.URL)
	}
	req.Host = ""
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	if req.ContentLength == 0 {
		req.Body = nil
	}
	req.Header = make(http.Header)
	copyHeader(req.Header, r.Header)
	// do not forward hop-by-hop headers, this causes trouble
	req.Header.Del("Connection")
	req.Header.Del("Proxy-Connection")
	return req
}

// proxy is the escape hatch that sends the request straight to the network.
func proxy(w http.ResponseWriter, r *http.Request, client *http.Client, log zerolog.Logger) {
	if r.RequestURI != "" {
		r = r.Clone(r.Context())
		r.RequestURI = ""
	}
	res, err := client.Do(r)
	if err != nil {
		log.Error().Err(err).Msg("Error connecting to network")
		http.Error(w, "Could not connect to network", http.StatusBadGateway)
		return
	}
	var status cachestatus.CacheStatus
	status.Forward(cachestatus.FwdReasonBypass)
	send(w, res, status, log)
}

func send(w http.ResponseWriter, res *http.Response, status cachestatus.CacheStatus, log zerolog.Logger) {
	evt := log.Debug()
	if res.Request != nil {
		evt = evt.Str("url", res.Request.URL.String())
	}
	isHit := 0
	if status.IsHit() {
		isHit = 1
	}
	evt.
		Str("status", string(status.Status)).
		Str("fwd", string(status.FwdReason)).
		Bool("stored", status.Stored).
		Int("hit", isHit).
		Msg("Sending response to client")

	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(w.Header(), res.Header)
	w.Header().Add(cachestatus.HeaderName, status.String())
	w.WriteHeader(res.StatusCode)
	if res.Body == nil {
		return
	}
	bytesWritten, err := io.Copy(w, res.Body)
	if err != nil {
		log.Error().Err(err).Msg("Could not write response body to client")
	}
	log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// this is a warkaround to remove default headers sent by an upstream proxy
		// some servers do not like the presence of these headers in the downstream request
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
