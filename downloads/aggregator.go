package downloads

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/apache/infrastructure-reporting-dashboard/pkg/cache"
	"github.com/apache/infrastructure-reporting-dashboard/search"
	"github.com/apache/infrastructure-reporting-dashboard/useragent"
)

const (
	// cacheTTL keeps aggregation results for two hours.
	cacheTTL = 7200 * time.Second
	// cacheMaxEntries bounds the result cache; 200 results is roughly 50MB.
	cacheMaxEntries = 200

	// DefaultFilters is applied when a caller specifies none.
	DefaultFilters = "empty_ua,no_query"
)

// methodologies are the two ranking aggregations merged per query, in the
// order they are folded into the artifact map.
var methodologies = []string{"most_downloads", "most_traffic"}

var multiSlash = regexp.MustCompile(`/+`)

// Aggregator produces merged download statistics across all providers,
// answering from its cache when a recent result exists.
type Aggregator struct {
	client       *search.Client
	providers    []search.Provider
	cache        *cache.Store[Result]
	cacheOptions []cache.Option[Result]
	logger       *slog.Logger
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) { a.logger = logger }
}

// WithProviders overrides the provider set, mainly for tests.
func WithProviders(providers []search.Provider) AggregatorOption {
	return func(a *Aggregator) { a.providers = providers }
}

// WithCacheOptions passes options through to the result cache, e.g. to attach
// metrics.
func WithCacheOptions(options ...cache.Option[Result]) AggregatorOption {
	return func(a *Aggregator) {
		a.cacheOptions = options
	}
}

// NewAggregator creates a download statistics aggregator backed by the given
// search client.
func NewAggregator(client *search.Client, options ...AggregatorOption) (*Aggregator, error) {
	a := &Aggregator{
		client:    client,
		providers: search.DefaultProviders(),
		logger:    slog.Default(),
	}
	for _, opt := range options {
		opt(a)
	}

	store, err := cache.NewStore[Result](cacheTTL, cacheMaxEntries, a.cacheOptions...)
	if err != nil {
		return nil, err
	}
	a.cache = store
	return a, nil
}

// Stats returns the merged download statistics for a project over a duration
// window ("90", "90d" or a whole-month expression such as "now-1M/M").
// Results are cached per (project, window); a cache hit never touches the
// backend. The filters argument is a comma-separated list; an empty string
// enables the defaults.
func (a *Aggregator) Stats(ctx context.Context, project, duration, filters string) (Result, error) {
	if filters == "" {
		filters = DefaultFilters
	}
	window, err := search.ParseWindow(duration)
	if err != nil {
		return Result{}, err
	}
	f := search.ParseFilters(filters)

	cacheKey := fmt.Sprintf("%s-%s", project, window.String())
	if cached, ok := a.cache.Get(cacheKey); ok {
		return cached, nil
	}

	result := a.aggregate(ctx, project, duration, window, f)
	if err := a.cache.Put(cacheKey, result); err != nil {
		// The result is still served; only the cache misses next time.
		a.logger.Warn("Caching aggregate failed", "key", cacheKey, "error", err)
	}
	return result, nil
}

// aggregate queries every provider in parallel and folds their responses into
// one artifact map. A failing provider is logged and skipped so that one
// backend outage never blanks the other providers' data.
func (a *Aggregator) aggregate(ctx context.Context, project, duration string, window search.Window, f search.Filters) Result {
	meta := Metadata{
		Filters:           f.String(),
		Timespan:          duration,
		Project:           project,
		DailyStatsTuple:   dailyStatLegend,
		HostsTracked:      a.hostsTracked(),
		MaxHits:           a.client.MaxHits(),
		MaxHitsUserAgents: a.client.MaxUserAgents(),
	}

	responses := make([]*search.Response, len(a.providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range a.providers {
		i, p := i, p
		g.Go(func() error {
			resp, err := a.client.Search(gctx, p, project, window, f)
			if err != nil {
				a.logger.Warn("Provider query failed, skipping",
					"provider", p.Name, "project", project, "error", err)
				return nil
			}
			responses[i] = resp
			return nil
		})
	}
	// Provider failures are swallowed above, so Wait only gates completion.
	_ = g.Wait()

	artifacts := make(map[string]*Artifact)
	var epochs []int64
	downscaled := false
	for _, resp := range responses {
		if !resp.HasData() {
			continue
		}
		if resp.Downscaled {
			downscaled = true
		}
		for _, methodology := range methodologies {
			agg, ok := resp.Aggregations[methodology]
			if !ok {
				continue
			}
			for _, bucket := range agg.Buckets {
				epochs = append(epochs, mergeBucket(artifacts, bucket, project, f)...)
			}
		}
	}
	if downscaled {
		for _, artifact := range artifacts {
			artifact.Downscaled = true
		}
	}

	if len(epochs) > 0 {
		minEpoch, maxEpoch := epochs[0], epochs[0]
		for _, e := range epochs[1:] {
			if e < minEpoch {
				minEpoch = e
			}
			if e > maxEpoch {
				maxEpoch = e
			}
		}
		meta.Timespan = fmt.Sprintf("%s 00:00:00 (UTC) -> %s 23:59:59 (UTC)",
			time.Unix(minEpoch, 0).UTC().Format("2006-01-02"),
			time.Unix(maxEpoch, 0).UTC().Format("2006-01-02"))
	}

	var totalBytes int64
	for _, artifact := range artifacts {
		totalBytes += artifact.Bytes
	}
	a.logger.Info("Download stats aggregated",
		"project", project, "window", window.String(),
		"artifacts", len(artifacts), "bytes", humanize.Bytes(uint64(totalBytes)),
		"downscaled", downscaled)

	return Result{Artifacts: artifacts, Query: meta}
}

func (a *Aggregator) hostsTracked() []string {
	hosts := make([]string, 0, len(a.providers))
	for _, p := range a.providers {
		hosts = append(hosts, p.VHost)
	}
	return hosts
}

// mergeBucket folds one ranked path bucket into the artifact map and returns
// the day epochs it covered. The same path can appear under both
// methodologies and under several providers; per metric the maximum observed
// total wins, and the day series follows the winning total.
func mergeBucket(artifacts map[string]*Artifact, bucket search.PathBucket, project string, f search.Filters) []int64 {
	path, ok := normalizePath(bucket.Key, project, f)
	if !ok {
		return nil
	}
	artifact, exists := artifacts[path]
	if !exists {
		artifact = newArtifact()
		artifacts[path] = artifact
	}

	// Classify and sum user agents for this bucket, then keep the highest
	// count seen per classification key.
	uas := make(map[string]int64)
	for _, uaBucket := range bucket.UserAgents.Buckets {
		uas[useragent.Classify(uaBucket.Key).Key()] += uaBucket.DocCount
	}
	for key, count := range uas {
		if count > artifact.UserAgents[key] {
			artifact.UserAgents[key] = count
		}
	}

	var epochs []int64
	var totalBytes, totalHits, totalUnique int64
	var dailyData []DailyStat
	countries := make(map[string]int64)
	for _, day := range bucket.PerDay.Buckets {
		dayTS := day.Key / 1000
		epochs = append(epochs, dayTS)
		dayBytes := int64(day.BytesSum.Value)
		dayUnique := int64(day.UniqueIPs.Value)
		totalBytes += dayBytes
		totalHits += day.DocCount
		totalUnique += dayUnique
		for _, country := range day.Countries.Buckets {
			if country.Key != "" && country.Key != "-" {
				countries[country.Key] += country.DocCount
			}
		}
		dailyData = append(dailyData, DailyStat{dayTS, day.DocCount, dayUnique, dayBytes})
	}

	if totalBytes > artifact.Bytes {
		artifact.Bytes = totalBytes
		artifact.DailyStats = dailyData
	}
	if totalHits > artifact.Hits {
		artifact.Hits = totalHits
		artifact.DailyStats = dailyData
	}
	if totalUnique > artifact.HitsUnique {
		artifact.HitsUnique = totalUnique
	}
	if sumCounts(countries) > sumCounts(artifact.Countries) {
		artifact.Countries = countries
	}
	return epochs
}

func sumCounts(m map[string]int64) int64 {
	var total int64
	for _, v := range m {
		total += v
	}
	return total
}

// normalizePath collapses duplicate slashes, strips the project prefix once
// and rejects paths that are not downloadable release files.
func normalizePath(raw, project string, f search.Filters) (string, bool) {
	path := multiSlash.ReplaceAllString(raw, "/")
	path = strings.Replace(path, "/"+project+"/", "", 1)
	if f.Has("no_query") && strings.Contains(path, "?") {
		return "", false
	}
	// KEYS files, directories and extension-less paths are never artifacts.
	if !strings.Contains(path, ".") || strings.HasSuffix(path, "/") || strings.HasSuffix(path, "KEYS") {
		return "", false
	}
	return path, true
}
