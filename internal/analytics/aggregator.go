// Package analytics turns detector output into session statistics and alerts.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"queuewatch/internal/detection"
	"queuewatch/internal/session"
)

// Mean is an average that is undefined over an empty set.
type Mean struct {
	Value float64
	Valid bool
}

// String renders the mean as a percentage, or N/A when undefined.
func (m Mean) String() string {
	if !m.Valid {
		return "N/A"
	}
	return fmt.Sprintf("%.1f%%", m.Value*100)
}

// MarshalJSON encodes an undefined mean as "N/A".
func (m Mean) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return json.Marshal("N/A")
	}
	return json.Marshal(m.Value)
}

func meanOf(sum float64, n int) Mean {
	if n == 0 {
		return Mean{}
	}
	return Mean{Value: sum / float64(n), Valid: true}
}

// ClassStats is the per-label breakdown of one invocation.
type ClassStats struct {
	Label          string `json:"label"`
	Count          int    `json:"count"`
	MeanConfidence Mean   `json:"mean_confidence"`
}

// Summary describes one detector invocation.
type Summary struct {
	ObjectCount    int          `json:"object_count"`
	MeanConfidence Mean         `json:"mean_confidence"`
	Classes        []ClassStats `json:"classes"`
}

// Summarize computes the per-call statistics without touching any session.
// Classes are ordered by count descending, then label.
func Summarize(objects []detection.Object) Summary {
	type acc struct {
		count int
		sum   float64
	}
	groups := make(map[string]*acc)
	var total float64
	for _, obj := range objects {
		g, ok := groups[obj.Label]
		if !ok {
			g = &acc{}
			groups[obj.Label] = g
		}
		g.count++
		g.sum += obj.Confidence
		total += obj.Confidence
	}

	classes := make([]ClassStats, 0, len(groups))
	for label, g := range groups {
		classes = append(classes, ClassStats{
			Label:          label,
			Count:          g.count,
			MeanConfidence: meanOf(g.sum, g.count),
		})
	}
	sort.Slice(classes, func(i, j int) bool {
		if classes[i].Count != classes[j].Count {
			return classes[i].Count > classes[j].Count
		}
		return classes[i].Label < classes[j].Label
	})

	return Summary{
		ObjectCount:    len(objects),
		MeanConfidence: meanOf(total, len(objects)),
		Classes:        classes,
	}
}

// Aggregate applies one invocation to the session: images_processed grows by
// one, total_detections by len(objects), and one record per object is
// appended to the recent-detections log. It returns the call summary and
// the alert evaluated against the session's alert threshold.
func Aggregate(s *session.Session, objects []detection.Object, source string, now time.Time) (Summary, Alert) {
	summary := Summarize(objects)

	var alert Alert
	s.Mutate(func(st *session.State) {
		apply(st, objects, source, now)
		alert = EvaluateAlert(summary.ObjectCount, st.Settings.AlertThreshold)
		if alert.Active {
			st.Alerts++
		}
	})
	return summary, alert
}

// Frame is one invocation awaiting a batched commit.
type Frame struct {
	Objects []detection.Object
	At      time.Time
}

// AggregateBatch applies several invocations in order under one lock. It is
// used for video, where nothing is committed until every frame succeeded.
// Each frame counts as one processed image. The returned alert reflects the
// frame with the highest object count. ctx is checked while the session is
// locked: once it is cancelled nothing is applied and its error is returned.
func AggregateBatch(ctx context.Context, s *session.Session, frames []Frame, source string) (Summary, Alert, error) {
	var all []detection.Object
	peak := 0
	for _, f := range frames {
		all = append(all, f.Objects...)
		if len(f.Objects) > peak {
			peak = len(f.Objects)
		}
	}
	summary := Summarize(all)

	var (
		alert Alert
		err   error
	)
	s.Mutate(func(st *session.State) {
		if err = ctx.Err(); err != nil {
			return
		}
		for _, f := range frames {
			apply(st, f.Objects, source, f.At)
		}
		alert = EvaluateAlert(peak, st.Settings.AlertThreshold)
		if alert.Active {
			st.Alerts++
		}
	})
	if err != nil {
		return Summary{}, Alert{}, err
	}
	return summary, alert, nil
}

func apply(st *session.State, objects []detection.Object, source string, at time.Time) {
	st.Counters.ImagesProcessed++
	st.Counters.TotalDetections += len(objects)
	st.Hourly[at.Hour()] += len(objects)
	for _, obj := range objects {
		st.ClassTotals[obj.Label]++
		st.Log.Push(session.Record{
			Label:      obj.Label,
			Confidence: obj.Confidence,
			Timestamp:  at,
			Source:     source,
		})
	}
}
