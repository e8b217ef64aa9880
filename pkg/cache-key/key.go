package cachekey

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var ErrorMethodNotSupported = fmt.Errorf("Method not supported")

const methodSeparator = " "

// Key returns the cache key for a request.
// Only GET requests have a cache key, other methods return ErrorMethodNotSupported.
// The key is the method followed by the normalized absolute URL.
func Key(r *http.Request) (string, error) {
	if r.Method != http.MethodGet {
		return "", ErrorMethodNotSupported
	}
	if !r.URL.IsAbs() {
		return "", fmt.Errorf("Request URL is not absolute: %s", r.URL)
	}
	return URLKey(r.URL), nil
}

// URLKey returns the cache key for a GET request to the given absolute URL.
func URLKey(u *url.URL) string {
	return http.MethodGet + methodSeparator + Normalize(u).String()
}

// Normalize returns a copy of the URL suitable for request identity.
// Scheme and host are lower cased, the fragment is dropped
// and an empty path becomes "/".
func Normalize(u *url.URL) *url.URL {
	n := *u
	n.Scheme = strings.ToLower(n.Scheme)
	n.Host = strings.ToLower(n.Host)
	n.Fragment = ""
	n.RawFragment = ""
	n.User = nil
	if n.Path == "" && n.Opaque == "" {
		n.Path = "/"
		n.RawPath = ""
	}
	return &n
}

// RequestFromKey creates a GET request equal, caching-wise, to the request that resulted in the key.
// It returns an error if the request cannot for some reason be deducted.
func RequestFromKey(key string) (*http.Request, error) {
	method, uri, found := strings.Cut(key, methodSeparator)
	if !found {
		return nil, fmt.Errorf("Malformed key: %s", key)
	}
	if method != http.MethodGet {
		return nil, ErrorMethodNotSupported
	}
	return http.NewRequest(method, uri, nil)
}
