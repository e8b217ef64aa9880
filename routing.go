package offlinecache

import (
	"net"
	"net/url"
	"strings"
)

// Strategy is the caching behavior applied to a request.
type Strategy int

const (
	// CacheFirst serves the stored response and only goes to the network on a miss.
	CacheFirst Strategy = iota
	// StaleWhileRevalidate serves the stored response and refreshes it in the background.
	StaleWhileRevalidate
	// Bypass always goes to the network and never touches the cache.
	Bypass
)

func (s Strategy) String() string {
	switch s {
	case CacheFirst:
		return "cache-first"
	case StaleWhileRevalidate:
		return "stale-while-revalidate"
	case Bypass:
		return "bypass"
	}
	return "unknown"
}

type Rule struct {
	Origin   string
	Strategy Strategy
}

// RoutingTable maps request origins to strategies.
// Rules are checked in order and the first match wins.
type RoutingTable []Rule

// NewRoutingTable creates a table routing the revalidate origins to stale-while-revalidate
// and the bypass origins to bypass. Bypass rules take precedence.
func NewRoutingTable(revalidate, bypass []string) RoutingTable {
	table := make(RoutingTable, 0, len(revalidate)+len(bypass))
	for _, origin := range bypass {
		table = append(table, Rule{Origin: NormalizeOrigin(origin), Strategy: Bypass})
	}
	for _, origin := range revalidate {
		table = append(table, Rule{Origin: NormalizeOrigin(origin), Strategy: StaleWhileRevalidate})
	}
	return table
}

// Classify returns the strategy for the origin.
// Origins without a rule are considered owned, static content and are served cache-first.
func (t RoutingTable) Classify(origin string) Strategy {
	if rule := t.find(NormalizeOrigin(origin)); rule != nil {
		return rule.Strategy
	}
	return CacheFirst
}

func (t RoutingTable) find(origin string) *Rule {
	for i := range t {
		if NormalizeOrigin(t[i].Origin) == origin {
			return &t[i]
		}
	}
	return nil
}

// OriginOf returns the normalized origin (scheme and host) of the URL.
func OriginOf(u *url.URL) string {
	return normalizeOrigin(u.Scheme, u.Host)
}

// NormalizeOrigin normalizes an origin or a URL to its lower case `scheme://host[:port]` form,
// dropping default ports. Values that cannot be parsed are only lower cased.
func NormalizeOrigin(origin string) string {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.ToLower(strings.TrimRight(origin, "/"))
	}
	return OriginOf(u)
}

func normalizeOrigin(scheme, host string) string {
	scheme = strings.ToLower(scheme)
	host = strings.ToLower(host)
	if h, port, err := net.SplitHostPort(host); err == nil {
		if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
			host = h
			if strings.Contains(h, ":") {
				host = "[" + h + "]"
			}
		}
	}
	return scheme + "://" + host
}
