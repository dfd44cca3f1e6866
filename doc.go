// Package reporting is the root of the infrastructure reporting dashboard,
// a service that aggregates operational telemetry from the foundation's
// upstream systems and serves it to an authenticated web front end.
//
// # Architecture
//
// Every data source follows the same shape: a background scanner polls or
// subscribes to an upstream system on a fixed interval, normalizes the
// result into an in-memory aggregate, and swaps the whole aggregate into
// its store under a lock. Request handlers only ever read those stores,
// applying per-caller filtering, so no request blocks on an upstream.
//
//	scheduler -> scanner -> in-memory store -> access filter -> JSON API
//
// Data sources:
//
//   - downloads: mirror download statistics aggregated from the search
//     backends, with adaptive query downscaling on bucket overload
//   - jira: issue-tracker tickets evaluated against response/resolution SLAs
//   - builds: GitHub Actions run time captured from the event stream
//   - mailstats: mail relay queue depths
//   - uptime: per-host uptime series and fleet collation
//   - machines: SSH host key fingerprints and change detection
//
// Supporting packages: auth (sessions and project scoping), search (backend
// query construction), useragent (download client classification),
// scheduler (scan loops), pubsub (event-stream triggers), server (the API),
// config, errors, health and metric.
//
// The entry point is cmd/reporting-dashboard.
package reporting
