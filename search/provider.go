// Package search queries the download log search backend and aggregates
// per-artifact download statistics. Each provider keeps its logs in its own
// index family with its own field naming, so queries are built per provider
// from a field schema.
package search

// Provider describes one log index family: the index name prefix, the field
// names it uses for the common log attributes, and the virtual host its
// entries are served under.
type Provider struct {
	// Name is the index prefix; queries target "<Name>-*".
	Name string

	// VHost is the download host whose traffic this provider records.
	VHost string

	GeoCountryField    string
	BytesField         string
	VHostField         string
	URIField           string
	TimestampField     string
	RequestMethodField string
	UserAgentField     string
}

// DefaultProviders returns the built-in provider schemas. The CDN edge logs
// and the origin download host use different field conventions.
func DefaultProviders() []Provider {
	return []Provider{
		{
			Name:               "fastly",
			VHost:              "dlcdn.apache.org",
			GeoCountryField:    "geo_country_code",
			BytesField:         "bytes",
			VHostField:         "vhost",
			URIField:           "url",
			TimestampField:     "timestamp",
			RequestMethodField: "request",
			UserAgentField:     "request_user_agent",
		},
		{
			Name:               "loggy",
			VHost:              "downloads.apache.org",
			GeoCountryField:    "geo_country",
			BytesField:         "bytes",
			VHostField:         "vhost",
			URIField:           "uri",
			TimestampField:     "@timestamp",
			RequestMethodField: "request_method",
			UserAgentField:     "useragent",
		},
	}
}
