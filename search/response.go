package search

// Response is the parsed search result for one provider query.
type Response struct {
	// Downscaled is set when the result was produced with reduced aggregation
	// breadth after the backend rejected the full-width query.
	Downscaled   bool
	Aggregations map[string]Aggregation `json:"aggregations"`
}

// HasData reports whether the provider returned any aggregation data. An
// empty index yields a response with no aggregations at all.
func (r *Response) HasData() bool {
	return r != nil && len(r.Aggregations) > 0
}

// Aggregation is one top-level ranked bucket list.
type Aggregation struct {
	Buckets []PathBucket `json:"buckets"`
}

// PathBucket carries the stats for one artifact path.
type PathBucket struct {
	Key        string   `json:"key"`
	DocCount   int64    `json:"doc_count"`
	UserAgents TermsAgg `json:"useragents"`
	PerDay     DayAgg   `json:"per_day"`
}

// TermsAgg is a generic terms aggregation result.
type TermsAgg struct {
	Buckets []TermBucket `json:"buckets"`
}

// TermBucket is one term with its document count.
type TermBucket struct {
	Key      string `json:"key"`
	DocCount int64  `json:"doc_count"`
}

// DayAgg is a per-day date histogram result.
type DayAgg struct {
	Buckets []DayBucket `json:"buckets"`
}

// DayBucket carries one day's metrics for a path.
type DayBucket struct {
	// Key is the bucket timestamp in epoch milliseconds.
	Key       int64       `json:"key"`
	DocCount  int64       `json:"doc_count"`
	BytesSum  MetricValue `json:"bytes_sum"`
	UniqueIPs MetricValue `json:"unique_ips"`
	Countries TermsAgg    `json:"cca2"`
}

// MetricValue wraps a single-valued metric aggregation.
type MetricValue struct {
	Value float64 `json:"value"`
}
