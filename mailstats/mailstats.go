// Package mailstats polls the outbound mail relays for queue-shape
// statistics and collates them into one global pending-mail view.
package mailstats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/apache/infrastructure-reporting-dashboard/errors"
)

const (
	// ScanInterval paces relay polling.
	ScanInterval = 300 * time.Second
	// collateCutoff drops samples older than a day from the collated view.
	collateCutoff = 86400
	// qshapePort is where the relays expose their queue statistics.
	qshapePort = 8083
)

// rawEntry is one sample as the relay reports it.
type rawEntry struct {
	Timestamp  int64               `json:"timestamp"`
	Recipients map[string]rawQueue `json:"recipients"`
	Senders    map[string]rawQueue `json:"senders"`
}

type rawQueue struct {
	Pending int64 `json:"pending"`
}

// Entry is one trimmed sample: the pending counts we actually chart.
type Entry struct {
	TS                 int64            `json:"ts"`
	Pending            int64            `json:"pending"`
	PendingByRecipient map[string]int64 `json:"pending_by_recipient"`
	PendingBySender    map[string]int64 `json:"pending_by_sender"`
}

// Scanner polls every configured relay and keeps the latest stats in memory,
// replaced wholesale per scan.
type Scanner struct {
	hosts      []string
	httpClient *http.Client
	logger     *slog.Logger
	clock      func() time.Time

	mu    sync.RWMutex
	stats map[string][]Entry
}

// NewScanner creates a mail statistics scanner for the given relay hosts.
func NewScanner(hosts []string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		hosts:      hosts,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		clock:      time.Now,
		stats:      make(map[string][]Entry),
	}
}

// Stats returns the per-host stats plus the cross-host "collated" series.
func (s *Scanner) Stats() map[string][]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Scan polls all relays in parallel and swaps in the fresh stats. A relay
// that cannot be reached is logged and left out of this round.
func (s *Scanner) Scan(ctx context.Context) error {
	var mu sync.Mutex
	fresh := make(map[string][]Entry)

	g, gctx := errgroup.WithContext(ctx)
	for _, host := range s.hosts {
		host := host
		g.Go(func() error {
			entries, err := s.fetchHost(gctx, host)
			if err != nil {
				s.logger.Warn("Could not fetch mail stats", "host", host, "error", err)
				return nil
			}
			mu.Lock()
			fresh[host] = entries
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	fresh["collated"] = collate(fresh, s.clock().Unix()-collateCutoff)

	s.mu.Lock()
	s.stats = fresh
	s.mu.Unlock()
	return nil
}

func (s *Scanner) fetchHost(ctx context.Context, host string) ([]Entry, error) {
	url := fmt.Sprintf("http://%s:%d/qshape.json", host, qshapePort)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.WrapInvalid(err, "mailstats", "fetchHost", "build request")
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "mailstats", "fetchHost", "fetch qshape from "+host)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.WrapTransient(
			fmt.Errorf("relay returned status %d", resp.StatusCode),
			"mailstats", "fetchHost", "fetch qshape from "+host)
	}

	var raw []rawEntry
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed, "mailstats", "fetchHost", "decode qshape from "+host)
	}
	return trim(raw), nil
}

// trim reduces raw relay samples to the pending counts. The headline pending
// figure is whichever of the recipient or sender sums is larger; the two can
// disagree when mail is mid-flight.
func trim(raw []rawEntry) []Entry {
	trimmed := make([]Entry, 0, len(raw))
	for _, entry := range raw {
		var recipientSum, senderSum int64
		byRecipient := make(map[string]int64, len(entry.Recipients))
		for domain, queue := range entry.Recipients {
			byRecipient[domain] = queue.Pending
			recipientSum += queue.Pending
		}
		bySender := make(map[string]int64, len(entry.Senders))
		for domain, queue := range entry.Senders {
			bySender[domain] = queue.Pending
			senderSum += queue.Pending
		}
		trimmed = append(trimmed, Entry{
			TS:                 entry.Timestamp,
			Pending:            max(recipientSum, senderSum),
			PendingByRecipient: byRecipient,
			PendingBySender:    bySender,
		})
	}
	return trimmed
}

// collate sums every host's samples per timestamp into one global series,
// dropping samples older than the cutoff. The result is ordered by time.
func collate(stats map[string][]Entry, cutoff int64) []Entry {
	byTS := make(map[int64]*Entry)
	for _, entries := range stats {
		for _, entry := range entries {
			if entry.TS < cutoff {
				continue
			}
			merged, ok := byTS[entry.TS]
			if !ok {
				merged = &Entry{
					TS:                 entry.TS,
					PendingByRecipient: make(map[string]int64),
					PendingBySender:    make(map[string]int64),
				}
				byTS[entry.TS] = merged
			}
			merged.Pending += entry.Pending
			for domain, pending := range entry.PendingByRecipient {
				merged.PendingByRecipient[domain] += pending
			}
			for domain, pending := range entry.PendingBySender {
				merged.PendingBySender[domain] += pending
			}
		}
	}

	collated := make([]Entry, 0, len(byTS))
	for _, entry := range byTS {
		collated = append(collated, *entry)
	}
	sort.Slice(collated, func(i, j int) bool { return collated[i].TS < collated[j].TS })
	return collated
}
