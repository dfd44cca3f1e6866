package search

import (
	"fmt"
	"strings"
)

const (
	// DefaultMaxHits caps the number of artifact paths tracked per query.
	DefaultMaxHits = 60
	// DefaultMaxUserAgents caps the user-agent buckets collated per artifact.
	DefaultMaxUserAgents = 60

	// byteFloor filters out checksum and signature fetches.
	byteFloor = 5000
)

// ignoredBots are common crawlers excluded from all stats.
var ignoredBots = []string{"bingbot", "amazonbot", "diffbot", "googlebot", "slurp", "yandex", "baidu"}

// ignoredIPs are known scanner machines whose fetches would skew the counts.
var ignoredIPs = []string{
	"18.233.217.21", // AWS machine doing millions of downloads
	"93.159.231.13", // Kaspersky Labs, testing binaries
}

// Filters is the set of result filters a caller enabled, parsed from a
// comma-separated list such as "empty_ua,no_query".
type Filters struct {
	raw   string
	names map[string]struct{}
}

// ParseFilters splits a comma-separated filter list.
func ParseFilters(raw string) Filters {
	names := make(map[string]struct{})
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			names[name] = struct{}{}
		}
	}
	return Filters{raw: raw, names: names}
}

// Has reports whether the named filter is enabled.
func (f Filters) Has(name string) bool {
	_, ok := f.names[name]
	return ok
}

// String returns the original comma-separated form.
func (f Filters) String() string { return f.raw }

// buildQuery assembles the search body for one provider. The result is a
// zero-hit query carrying two top-level aggregations: artifact paths ranked
// by request count and by byte volume, each with nested user-agent and
// per-day breakdowns.
func buildQuery(p Provider, project string, window Window, filters Filters, maxHits, maxUA int) map[string]any {
	filter := []any{
		window.rangeFilter(p.TimestampField),
		map[string]any{"match": map[string]any{p.RequestMethodField: "GET"}},
		map[string]any{"range": map[string]any{"bytes": map[string]any{"gt": byteFloor}}},
		map[string]any{"match": map[string]any{p.VHostField: p.VHost}},
	}

	// A project may have graduated mid-window, so match both the TLP and the
	// incubator download locations.
	pathClause := map[string]any{"bool": map[string]any{
		"should": []any{
			map[string]any{"prefix": map[string]any{p.URIField + ".keyword": fmt.Sprintf("/%s/", project)}},
			map[string]any{"prefix": map[string]any{p.URIField + ".keyword": fmt.Sprintf("/incubator/%s/", project)}},
		},
		"minimum_should_match": 1,
	}}

	mustNot := []any{}
	if filters.Has("empty_ua") {
		mustNot = append(mustNot, map[string]any{"terms": map[string]any{p.UserAgentField + ".keyword": []string{"", "-"}}})
	}
	mustNot = append(mustNot,
		map[string]any{"terms": map[string]any{p.UserAgentField: ignoredBots}},
		map[string]any{"terms": map[string]any{"client_ip.keyword": ignoredIPs}},
	)

	perDay := map[string]any{
		"date_histogram": map[string]any{"interval": "day", "field": p.TimestampField},
		"aggs": map[string]any{
			"bytes_sum":  map[string]any{"sum": map[string]any{"field": p.BytesField}},
			"unique_ips": map[string]any{"cardinality": map[string]any{"field": "client_ip.keyword"}},
			"cca2":       map[string]any{"terms": map[string]any{"field": p.GeoCountryField + ".keyword"}},
		},
	}
	userAgents := map[string]any{
		"terms": map[string]any{"field": p.UserAgentField + ".keyword", "size": maxUA},
	}

	return map[string]any{
		"size": 0,
		"query": map[string]any{"bool": map[string]any{
			"filter":   filter,
			"must":     []any{pathClause},
			"must_not": mustNot,
		}},
		"aggs": map[string]any{
			"most_downloads": map[string]any{
				"terms": map[string]any{"field": p.URIField + ".keyword", "size": maxHits},
				"aggs": map[string]any{
					"useragents": userAgents,
					"per_day":    perDay,
				},
			},
			"most_traffic": map[string]any{
				"terms": map[string]any{
					"field": p.URIField + ".keyword",
					"size":  maxHits,
					"order": map[string]any{"bytes_sum": "desc"},
				},
				"aggs": map[string]any{
					"useragents": userAgents,
					"bytes_sum":  map[string]any{"sum": map[string]any{"field": p.BytesField}},
					"per_day":    perDay,
				},
			},
		},
	}
}
