package offlinecache

import (
	"net/url"
	"testing"
)

func TestClassify(t *testing.T) {
	table := NewRoutingTable(
		[]string{"https://cdn.example", "https://unpkg.com/", "https://both.example"},
		[]string{"https://ai.example", "https://both.example"},
	)

	for origin, expected := range map[string]Strategy{
		"https://cdn.example":      StaleWhileRevalidate,
		"HTTPS://CDN.example":      StaleWhileRevalidate,
		"https://cdn.example:443":  StaleWhileRevalidate,
		"https://unpkg.com":        StaleWhileRevalidate,
		"http://cdn.example":       CacheFirst,
		"https://cdn.example:8443": CacheFirst,
		"https://ai.example":       Bypass,
		"https://both.example":     Bypass,
		"https://api.example":      CacheFirst,
		"":                         CacheFirst,
	} {
		if strategy := table.Classify(origin); strategy != expected {
			t.Fatalf("Origin %q classified as %s, expected %s", origin, strategy, expected)
		}
	}
}

func TestEmptyTableIsCacheFirst(t *testing.T) {
	var table RoutingTable
	if strategy := table.Classify("https://cdn.example"); strategy != CacheFirst {
		t.Fatalf("Strategy is %s", strategy)
	}
}

func TestOriginOf(t *testing.T) {
	for raw, expected := range map[string]string{
		"https://cdn.example/lib.js?v=1":  "https://cdn.example",
		"HTTP://Example.COM:80/":          "http://example.com",
		"http://example.com:8080/a":       "http://example.com:8080",
		"https://[::1]:443/":              "https://[::1]",
		"https://user@cdn.example/lib.js": "https://cdn.example",
	} {
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatal(err)
		}
		if origin := OriginOf(u); origin != expected {
			t.Fatalf("Origin of %s is %s, expected %s", raw, origin, expected)
		}
	}
}

func TestStrategyString(t *testing.T) {
	if s := StaleWhileRevalidate.String(); s != "stale-while-revalidate" {
		t.Fatalf("String is %s", s)
	}
	if s := Strategy(42).String(); s != "unknown" {
		t.Fatalf("String is %s", s)
	}
}
