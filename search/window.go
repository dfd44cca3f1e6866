package search

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/infrastructure-reporting-dashboard/errors"
)

// Window is the time range a query covers: either a number of days back from
// now, or a whole calendar month expressed in backend date math
// (e.g. "now-1M/M" for last month).
type Window struct {
	days  int
	month string
}

// ParseWindow interprets a raw duration string. Whole-month expressions are
// passed through verbatim; anything else must be a whole number of days, with
// an optional trailing "d".
func ParseWindow(raw string) (Window, error) {
	if strings.Contains(raw, "M/M") {
		return Window{month: raw}, nil
	}
	trimmed := strings.TrimSuffix(raw, "d")
	days, err := strconv.Atoi(trimmed)
	if err != nil {
		return Window{}, errors.WrapInvalid(errors.ErrInvalidDuration, "search", "ParseWindow", "parse duration "+raw)
	}
	return Window{days: days}, nil
}

// MonthWindow returns the whole-month window for m months ago, where 0 is the
// current month.
func MonthWindow(monthsAgo int) Window {
	return Window{month: fmt.Sprintf("now-%dM/M", monthsAgo)}
}

// IsMonth reports whether the window is a whole calendar month.
func (w Window) IsMonth() bool { return w.month != "" }

// String returns the window in the form it was given, suitable for cache keys
// and query echo metadata.
func (w Window) String() string {
	if w.month != "" {
		return w.month
	}
	return strconv.Itoa(w.days)
}

// rangeFilter returns the timestamp range clause for the window.
func (w Window) rangeFilter(timestampField string) map[string]any {
	if w.month != "" {
		// Date math with gte == lte selects the whole rounded month.
		return map[string]any{"range": map[string]any{
			timestampField: map[string]any{"gte": w.month, "lte": w.month},
		}}
	}
	return map[string]any{"range": map[string]any{
		timestampField: map[string]any{"gte": fmt.Sprintf("now-%dd", w.days)},
	}}
}
