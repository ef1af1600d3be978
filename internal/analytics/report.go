package analytics

import (
	"sort"

	"queuewatch/internal/session"
)

// HourBucket is the number of detections recorded in one hour of the day.
type HourBucket struct {
	Hour       int `json:"hour"`
	Detections int `json:"detections"`
}

// ClassTotal is a session-wide per-label count.
type ClassTotal struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Report is the session analytics view: real values taken from the
// session instead of generated placeholders.
type Report struct {
	Counters          session.Counters `json:"counters"`
	Hourly            []HourBucket     `json:"hourly"`
	PeakHour          int              `json:"peak_hour"`
	AveragePerHour    float64          `json:"average_per_hour"`
	Classes           []ClassTotal     `json:"classes"`
	ActiveAlerts      int              `json:"active_alerts"`
	RecentConfidence  Mean             `json:"recent_confidence"`
	DetectionsPerCall Mean             `json:"detections_per_call"`
}

// BuildReport derives the analytics view from a session snapshot.
func BuildReport(st session.State) Report {
	r := Report{
		Counters:     st.Counters,
		Hourly:       make([]HourBucket, 24),
		PeakHour:     -1,
		ActiveAlerts: st.Alerts,
	}

	total, peak := 0, 0
	for h, n := range st.Hourly {
		r.Hourly[h] = HourBucket{Hour: h, Detections: n}
		total += n
		if n > peak {
			peak = n
			r.PeakHour = h
		}
	}
	r.AveragePerHour = float64(total) / 24

	for label, n := range st.ClassTotals {
		r.Classes = append(r.Classes, ClassTotal{Label: label, Count: n})
	}
	sort.Slice(r.Classes, func(i, j int) bool {
		if r.Classes[i].Count != r.Classes[j].Count {
			return r.Classes[i].Count > r.Classes[j].Count
		}
		return r.Classes[i].Label < r.Classes[j].Label
	})

	var sum float64
	records := st.Log.Items()
	for _, rec := range records {
		sum += rec.Confidence
	}
	r.RecentConfidence = meanOf(sum, len(records))
	r.DetectionsPerCall = meanOf(float64(st.Counters.TotalDetections), st.Counters.ImagesProcessed)
	return r
}
