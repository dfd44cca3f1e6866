// Package downloads aggregates artifact download statistics across the
// configured search providers, caches the merged results, and persists
// monthly report files.
package downloads

// DailyStat is one day's activity for an artifact as the 4-tuple
// (utc_epoch, downloads, unique_clients, bytes_transferred). It marshals as
// a JSON array to keep report files compact.
type DailyStat [4]int64

// Epoch returns the UTC day timestamp in seconds.
func (d DailyStat) Epoch() int64 { return d[0] }

// Hits returns the download count for the day.
func (d DailyStat) Hits() int64 { return d[1] }

// UniqueClients returns the estimated distinct client count for the day.
func (d DailyStat) UniqueClients() int64 { return d[2] }

// Bytes returns the bytes transferred for the day.
func (d DailyStat) Bytes() int64 { return d[3] }

// dailyStatLegend documents the tuple layout in query echo metadata.
var dailyStatLegend = []string{"utc_epoch", "downloads", "unique_clients", "bytes_transferred"}

// Artifact is the merged download record for one normalized artifact path.
// The two ranking methodologies (most downloads, most traffic) and all
// providers are merged by keeping, per metric, the maximum observed value;
// the day series follows whichever methodology produced the winning total.
type Artifact struct {
	Bytes      int64            `json:"bytes"`
	Hits       int64            `json:"hits"`
	HitsUnique int64            `json:"hits_unique"`
	Countries  map[string]int64 `json:"cca2"`
	DailyStats []DailyStat      `json:"daily_stats"`
	UserAgents map[string]int64 `json:"useragents"`
	Downscaled bool             `json:"downscaled,omitempty"`
}

func newArtifact() *Artifact {
	return &Artifact{
		Countries:  make(map[string]int64),
		DailyStats: []DailyStat{},
		UserAgents: make(map[string]int64),
	}
}

// Metadata echoes the query parameters a result set was produced with.
type Metadata struct {
	Filters string `json:"filters"`
	// Timespan is the requested window, rewritten to the observed min/max day
	// range once data has been found.
	Timespan          string   `json:"timespan"`
	Project           string   `json:"project"`
	DailyStatsTuple   []string `json:"daily_stats_4_tuple"`
	HostsTracked      []string `json:"hosts_tracked"`
	MaxHits           int      `json:"max_hits"`
	MaxHitsUserAgents int      `json:"max_hits_useragent"`
}

// Result is one cached aggregation: the merged artifacts plus the query echo.
type Result struct {
	Artifacts map[string]*Artifact `json:"files"`
	Query     Metadata             `json:"query"`
}
