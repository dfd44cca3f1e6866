package downloads

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apache/infrastructure-reporting-dashboard/search"
)

func TestNormalizePath(t *testing.T) {
	filters := search.ParseFilters(DefaultFilters)

	tests := []struct {
		name   string
		raw    string
		want   string
		wantOK bool
	}{
		{"tlp artifact", "/tomcat/tomcat-9.0.1.tar.gz", "tomcat-9.0.1.tar.gz", true},
		{"podling artifact", "/incubator/ponymail/foo.tar.gz", "incubator/foo.tar.gz", true},
		{"duplicate slashes", "//tomcat//bin/app.zip", "bin/app.zip", true},
		{"keys file", "/tomcat/KEYS", "", false},
		{"directory", "/tomcat/bin.v2/", "", false},
		{"no extension", "/tomcat/README", "", false},
		{"query string", "/tomcat/app.zip?mirror=de", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := normalizePath(tt.raw, "tomcat", filters)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestNormalizePathQueryStringAllowedWithoutFilter(t *testing.T) {
	got, ok := normalizePath("/tomcat/app.zip?mirror=de", "tomcat", search.ParseFilters("empty_ua"))
	require.True(t, ok)
	assert.Equal(t, "app.zip?mirror=de", got)
}

func pathBucket(key string, days []search.DayBucket, uas []search.TermBucket) search.PathBucket {
	return search.PathBucket{
		Key:        key,
		UserAgents: search.TermsAgg{Buckets: uas},
		PerDay:     search.DayAgg{Buckets: days},
	}
}

func day(epochMillis, hits, unique, bytes int64, countries ...search.TermBucket) search.DayBucket {
	return search.DayBucket{
		Key:       epochMillis,
		DocCount:  hits,
		BytesSum:  search.MetricValue{Value: float64(bytes)},
		UniqueIPs: search.MetricValue{Value: float64(unique)},
		Countries: search.TermsAgg{Buckets: countries},
	}
}

func TestMergeBucketKeepsMaxPerMetric(t *testing.T) {
	filters := search.ParseFilters(DefaultFilters)
	artifacts := make(map[string]*Artifact)

	// First methodology: high hits, low bytes.
	mergeBucket(artifacts, pathBucket("/tomcat/app.zip",
		[]search.DayBucket{day(86400_000, 100, 50, 1000, search.TermBucket{Key: "DE", DocCount: 80})},
		nil), "tomcat", filters)

	// Second methodology, same path: low hits, high bytes, fewer countries.
	mergeBucket(artifacts, pathBucket("/tomcat/app.zip",
		[]search.DayBucket{day(172800_000, 10, 5, 99999, search.TermBucket{Key: "US", DocCount: 9})},
		nil), "tomcat", filters)

	artifact := artifacts["app.zip"]
	require.NotNil(t, artifact)

	// Per metric the larger total wins independently.
	assert.Equal(t, int64(100), artifact.Hits)
	assert.Equal(t, int64(99999), artifact.Bytes)
	assert.Equal(t, int64(50), artifact.HitsUnique)

	// The day series follows the winning bytes methodology (merged last).
	require.Len(t, artifact.DailyStats, 1)
	assert.Equal(t, int64(172800), artifact.DailyStats[0].Epoch())
	assert.Equal(t, int64(99999), artifact.DailyStats[0].Bytes())

	// The country distribution with the larger total is kept.
	assert.Equal(t, map[string]int64{"DE": 80}, artifact.Countries)
}

func TestMergeBucketUserAgentsKeepMaxPerKey(t *testing.T) {
	filters := search.ParseFilters(DefaultFilters)
	artifacts := make(map[string]*Artifact)

	mergeBucket(artifacts, pathBucket("/tomcat/app.zip", nil,
		[]search.TermBucket{{Key: "curl/8.0", DocCount: 30}}), "tomcat", filters)
	mergeBucket(artifacts, pathBucket("/tomcat/app.zip", nil,
		[]search.TermBucket{{Key: "curl/8.0", DocCount: 12}}), "tomcat", filters)

	artifact := artifacts["app.zip"]
	require.NotNil(t, artifact)
	require.Len(t, artifact.UserAgents, 1)
	for _, count := range artifact.UserAgents {
		assert.Equal(t, int64(30), count)
	}
}

func TestMergeBucketSkipsPlaceholderCountries(t *testing.T) {
	filters := search.ParseFilters(DefaultFilters)
	artifacts := make(map[string]*Artifact)

	mergeBucket(artifacts, pathBucket("/tomcat/app.zip",
		[]search.DayBucket{day(86400_000, 10, 5, 100,
			search.TermBucket{Key: "-", DocCount: 4},
			search.TermBucket{Key: "", DocCount: 3},
			search.TermBucket{Key: "FR", DocCount: 2})},
		nil), "tomcat", filters)

	assert.Equal(t, map[string]int64{"FR": 2}, artifacts["app.zip"].Countries)
}

func searchResponse(downscaled bool) map[string]any {
	bucket := map[string]any{
		"key":        "/tomcat/app.zip",
		"doc_count":  10,
		"useragents": map[string]any{"buckets": []any{}},
		"per_day": map[string]any{"buckets": []any{map[string]any{
			"key": 1700006400000, "doc_count": 10,
			"bytes_sum": map[string]any{"value": 5000.0},
			"unique_ips": map[string]any{"value": 3.0},
			"cca2": map[string]any{"buckets": []any{}},
		}}},
	}
	return map[string]any{
		"aggregations": map[string]any{
			"most_downloads": map[string]any{"buckets": []any{bucket}},
			"most_traffic":   map[string]any{"buckets": []any{bucket}},
		},
	}
}

func testAggregator(t *testing.T, handler http.HandlerFunc) (*Aggregator, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := search.NewClient(srv.URL)
	provider := search.DefaultProviders()[0]
	agg, err := NewAggregator(client, WithProviders([]search.Provider{provider}))
	require.NoError(t, err)
	return agg, srv
}

func TestStatsCachesResults(t *testing.T) {
	var queries int
	agg, _ := testAggregator(t, func(w http.ResponseWriter, r *http.Request) {
		queries++
		_ = json.NewEncoder(w).Encode(searchResponse(false))
	})

	first, err := agg.Stats(context.Background(), "tomcat", "90", "")
	require.NoError(t, err)
	require.Len(t, first.Artifacts, 1)
	assert.Equal(t, 1, queries)

	second, err := agg.Stats(context.Background(), "tomcat", "90", "")
	require.NoError(t, err)
	assert.Equal(t, first.Artifacts, second.Artifacts)
	assert.Equal(t, 1, queries, "second query must be served from cache")

	// A different window is a different cache key.
	_, err = agg.Stats(context.Background(), "tomcat", "30", "")
	require.NoError(t, err)
	assert.Equal(t, 2, queries)
}

func TestStatsRewritesTimespan(t *testing.T) {
	agg, _ := testAggregator(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(searchResponse(false))
	})

	result, err := agg.Stats(context.Background(), "tomcat", "90", "")
	require.NoError(t, err)
	assert.Equal(t, "2023-11-15 00:00:00 (UTC) -> 2023-11-15 23:59:59 (UTC)", result.Query.Timespan)
	assert.Equal(t, "tomcat", result.Query.Project)
	assert.Equal(t, []string{"utc_epoch", "downloads", "unique_clients", "bytes_transferred"}, result.Query.DailyStatsTuple)
}

func TestStatsInvalidDuration(t *testing.T) {
	agg, _ := testAggregator(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("backend must not be queried for an invalid duration")
	})
	_, err := agg.Stats(context.Background(), "tomcat", "three weeks", "")
	assert.Error(t, err)
}

func TestStatsSkipsFailingProvider(t *testing.T) {
	agg, _ := testAggregator(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	result, err := agg.Stats(context.Background(), "tomcat", "90", "")
	require.NoError(t, err)
	assert.Empty(t, result.Artifacts)
}
