package uptime

import "sort"

// SeriesStats is the collated uptime for one configured host group.
type SeriesStats struct {
	Average   float64            `json:"average"`
	PastMonth float64            `json:"past_month"`
	PastWeek  float64            `json:"past_week"`
	Monthly   map[string]float64 `json:"monthly"`
}

// Totals is the fleet-wide average across all hosts in any series.
type Totals struct {
	Year  float64 `json:"year"`
	Month float64 `json:"month"`
	Week  float64 `json:"week"`
}

// Report is the full uptime response: per-series collations, fleet totals
// and the raw per-host stats.
type Report struct {
	Total      Totals                 `json:"uptime_total"`
	Collated   map[string]SeriesStats `json:"uptime_collated"`
	Individual map[string]HostStats   `json:"uptime_individual"`
}

// latestMonth returns the most recent month's uptime, or 100 when the host
// has no monthly data yet.
func latestMonth(monthly map[string]float64) float64 {
	if len(monthly) == 0 {
		return 100.0
	}
	months := make([]string, 0, len(monthly))
	for month := range monthly {
		months = append(months, month)
	}
	sort.Strings(months)
	return monthly[months[len(months)-1]]
}

// BuildReport collates the per-host stats into the configured series groups
// (mean of the member hosts per figure) plus fleet-wide totals.
func BuildReport(stats map[string]HostStats, series map[string][]string) Report {
	report := Report{
		Total:      Totals{Year: 100.0, Month: 100.0, Week: 100.0},
		Collated:   make(map[string]SeriesStats, len(series)),
		Individual: stats,
	}

	var totalYear, totalMonth, totalWeek float64
	var totalCount int
	for name, hosts := range series {
		var sumAverage, sumMonth, sumWeek float64
		var members int
		monthValues := make(map[string][]float64)
		for _, host := range hosts {
			hostStats, ok := stats[host]
			if !ok {
				continue
			}
			month := latestMonth(hostStats.UptimeMonthly)
			sumAverage += hostStats.UptimeAverage
			sumMonth += month
			sumWeek += hostStats.UptimePastWeek
			members++
			for id, value := range hostStats.UptimeMonthly {
				monthValues[id] = append(monthValues[id], value)
			}

			totalCount++
			totalYear += hostStats.UptimeAverage
			totalMonth += month
			totalWeek += hostStats.UptimePastWeek
		}

		collated := SeriesStats{
			Average:   100.0,
			PastMonth: 100.0,
			PastWeek:  100.0,
			Monthly:   make(map[string]float64, len(monthValues)),
		}
		if members > 0 {
			collated.Average = sumAverage / float64(members)
			collated.PastMonth = sumMonth / float64(members)
			collated.PastWeek = sumWeek / float64(members)
		}
		for id, values := range monthValues {
			var sum float64
			for _, value := range values {
				sum += value
			}
			collated.Monthly[id] = sum / float64(len(values))
		}
		report.Collated[name] = collated
	}

	if totalCount > 0 {
		report.Total = Totals{
			Year:  totalYear / float64(totalCount),
			Month: totalMonth / float64(totalCount),
			Week:  totalWeek / float64(totalCount),
		}
	}
	return report
}
