package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/apache/infrastructure-reporting-dashboard/errors"
)

const (
	// clientTimeout bounds the whole round trip to the search backend.
	clientTimeout = 45 * time.Second
	// serverTimeout is the execution budget hinted to the backend itself.
	serverTimeout = "60s"

	// downscaleFactor is applied to both aggregation widths when the backend
	// rejects a query for exceeding its bucket limit.
	downscaleFactor = 0.67
	// downscaleFloor stops the shrink loop: a user-agent width at or below
	// this is not worth querying.
	downscaleFloor = 2
)

// Client issues aggregation queries against the search backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	maxHits    int
	maxUA      int
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for downscale and transport events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxHits sets the initial artifact-path aggregation width.
func WithMaxHits(n int) Option {
	return func(c *Client) { c.maxHits = n }
}

// WithMaxUserAgents sets the initial user-agent aggregation width.
func WithMaxUserAgents(n int) Option {
	return func(c *Client) { c.maxUA = n }
}

// NewClient creates a search client for the given backend base URL.
func NewClient(baseURL string, options ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: clientTimeout},
		logger:     slog.Default(),
		maxHits:    DefaultMaxHits,
		maxUA:      DefaultMaxUserAgents,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// MaxHits returns the configured artifact-path aggregation width.
func (c *Client) MaxHits() int { return c.maxHits }

// MaxUserAgents returns the configured user-agent aggregation width.
func (c *Client) MaxUserAgents() int { return c.maxUA }

// Search runs the download aggregation query for one provider, shrinking the
// aggregation widths by a third on each bucket-limit rejection until the
// query succeeds or the user-agent width reaches the floor. Bottoming out is
// not an error: it yields an empty result flagged as downscaled so the
// provider's partial absence is visible to callers.
func (c *Client) Search(ctx context.Context, p Provider, project string, window Window, filters Filters) (*Response, error) {
	maxHits, maxUA := c.maxHits, c.maxUA
	downscaled := false
	for {
		body := buildQuery(p, project, window, filters, maxHits, maxUA)
		resp, err := c.doSearch(ctx, p.Name, body)
		if err == nil {
			resp.Downscaled = downscaled
			return resp, nil
		}
		if !errors.IsTooManyBuckets(err) {
			return nil, err
		}
		maxHits = int(float64(maxHits) * downscaleFactor)
		maxUA = int(float64(maxUA) * downscaleFactor)
		downscaled = true
		if maxUA <= downscaleFloor {
			c.logger.Warn("Bucket limit still exceeded at minimum width, giving up",
				"provider", p.Name, "project", project)
			return &Response{Downscaled: true}, nil
		}
		c.logger.Info("Too many buckets, downscaling query by 33%",
			"provider", p.Name, "project", project, "max_hits", maxHits, "max_ua", maxUA)
	}
}

// doSearch posts one query body to the provider's index pattern.
func (c *Client) doSearch(ctx context.Context, index string, body map[string]any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.WrapInvalid(err, "search", "doSearch", "encode query")
	}
	url := fmt.Sprintf("%s/%s-*/_search?timeout=%s", c.baseURL, index, serverTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.WrapInvalid(err, "search", "doSearch", "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "search", "doSearch", "query "+index)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WrapTransient(err, "search", "doSearch", "read response")
	}
	if resp.StatusCode != http.StatusOK {
		if isBucketOverflow(raw) {
			return nil, errors.WrapTransient(errors.ErrTooManyBuckets, "search", "doSearch", "query "+index)
		}
		return nil, errors.WrapTransient(
			fmt.Errorf("backend returned status %d: %w", resp.StatusCode, errors.ErrInvalidData),
			"search", "doSearch", "query "+index)
	}

	var parsed Response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed, "search", "doSearch", "decode response")
	}
	return &parsed, nil
}

// backendError mirrors the error envelope the backend wraps rejections in.
type backendError struct {
	Error struct {
		Type     string `json:"type"`
		CausedBy struct {
			Type string `json:"type"`
		} `json:"caused_by"`
	} `json:"error"`
}

// isBucketOverflow detects the bucket-limit rejection in an error body.
func isBucketOverflow(raw []byte) bool {
	var be backendError
	if err := json.Unmarshal(raw, &be); err != nil {
		return false
	}
	return strings.Contains(be.Error.CausedBy.Type, "too_many_buckets_exception") ||
		strings.Contains(be.Error.Type, "too_many_buckets_exception")
}
