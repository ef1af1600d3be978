package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queuewatch/internal/detection"
	"queuewatch/internal/session"
)

func objects(labels ...string) []detection.Object {
	out := make([]detection.Object, len(labels))
	for i, l := range labels {
		out[i] = detection.Object{Label: l, Confidence: 0.5}
	}
	return out
}

func people(n int) []detection.Object {
	out := make([]detection.Object, n)
	for i := range out {
		out[i] = detection.Object{Label: "person", Confidence: 0.8}
	}
	return out
}

func newSession(alertThreshold, logCapacity int) *session.Session {
	settings := session.DefaultSettings()
	settings.AlertThreshold = alertThreshold
	return session.New("test", settings, logCapacity, 0)
}

func TestAggregate_CounterArithmetic(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s := newSession(1000, 50)
	now := time.Date(2025, 6, 15, 14, 0, 0, 0, time.Local)

	for i := 0; i < 100; i++ {
		k := rng.Intn(8)
		before := s.Counters()

		Aggregate(s, people(k), "image", now)

		after := s.Counters()
		require.Equal(t, before.ImagesProcessed+1, after.ImagesProcessed, "k=%d", k)
		require.Equal(t, before.TotalDetections+k, after.TotalDetections, "k=%d", k)
	}
}

func TestAggregate_ZeroDetections(t *testing.T) {
	s := newSession(10, 5)

	summary, alert := Aggregate(s, nil, "image", time.Now())

	assert.Equal(t, session.Counters{ImagesProcessed: 1, TotalDetections: 0}, s.Counters())
	assert.Equal(t, 0, summary.ObjectCount)
	assert.False(t, summary.MeanConfidence.Valid)
	assert.Equal(t, "N/A", summary.MeanConfidence.String())
	assert.Empty(t, summary.Classes)
	assert.False(t, alert.Active)
	assert.Equal(t, 0, s.Snapshot().Log.Len())
}

func TestSummarize_MeanNeverSilentlyZeroOrNaN(t *testing.T) {
	summary := Summarize(nil)

	data, err := json.Marshal(summary)
	require.NoError(t, err)
	assert.JSONEq(t, `{"object_count":0,"mean_confidence":"N/A","classes":[]}`, string(data))
}

func TestSummarize_PerClassBreakdown(t *testing.T) {
	objs := []detection.Object{
		{Label: "person", Confidence: 0.9},
		{Label: "car", Confidence: 0.6},
		{Label: "person", Confidence: 0.7},
		{Label: "bus", Confidence: 0.4},
		{Label: "car", Confidence: 0.8},
		{Label: "person", Confidence: 0.5},
	}

	summary := Summarize(objs)

	require.Len(t, summary.Classes, 3)
	assert.Equal(t, "person", summary.Classes[0].Label)
	assert.Equal(t, 3, summary.Classes[0].Count)
	assert.InDelta(t, 0.7, summary.Classes[0].MeanConfidence.Value, 1e-9)
	assert.Equal(t, "car", summary.Classes[1].Label)
	assert.InDelta(t, 0.7, summary.Classes[1].MeanConfidence.Value, 1e-9)
	assert.Equal(t, "bus", summary.Classes[2].Label)
	assert.InDelta(t, 3.9/6, summary.MeanConfidence.Value, 1e-9)
}

func TestSummarize_ClassCountsSumToObjectCount(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	labels := []string{"person", "car", "bus", "bicycle", "dog"}

	for i := 0; i < 200; i++ {
		n := rng.Intn(30)
		objs := make([]detection.Object, n)
		for j := range objs {
			objs[j] = detection.Object{Label: labels[rng.Intn(len(labels))], Confidence: rng.Float64()}
		}

		summary := Summarize(objs)

		sum := 0
		for _, c := range summary.Classes {
			sum += c.Count
		}
		require.Equal(t, summary.ObjectCount, sum, fmt.Sprintf("iteration %d", i))
		require.Equal(t, n, summary.ObjectCount)
	}
}

func TestAggregate_AppendsRecordsToBoundedLog(t *testing.T) {
	s := newSession(100, 3)
	at := time.Date(2025, 1, 1, 9, 30, 0, 0, time.Local)

	Aggregate(s, objects("a", "b", "c"), "image", at)
	Aggregate(s, objects("d"), "webcam", at)

	snap := s.Snapshot()
	require.Equal(t, 3, snap.Log.Len())
	items := snap.Log.Items()
	assert.Equal(t, "b", items[0].Label)
	assert.Equal(t, "d", items[2].Label)
	assert.Equal(t, "webcam", items[2].Source)
	assert.Equal(t, at, items[2].Timestamp)
	assert.Equal(t, 4, snap.Hourly[9])
	assert.Equal(t, 1, snap.ClassTotals["a"])
}

// Empty session, alert threshold 10: 9, 3 and 10 detections.
func TestAggregate_ThresholdScenario(t *testing.T) {
	s := newSession(10, 100)
	now := time.Now()

	_, alert := Aggregate(s, people(9), "image", now)
	assert.False(t, alert.Active)
	assert.Equal(t, session.Counters{ImagesProcessed: 1, TotalDetections: 9}, s.Counters())

	_, alert = Aggregate(s, people(3), "image", now)
	assert.False(t, alert.Active)
	assert.Equal(t, session.Counters{ImagesProcessed: 2, TotalDetections: 12}, s.Counters())

	_, alert = Aggregate(s, people(10), "image", now)
	assert.True(t, alert.Active)
	assert.Equal(t, session.Counters{ImagesProcessed: 3, TotalDetections: 22}, s.Counters())
	assert.Equal(t, 1, s.Snapshot().Alerts)
}

func TestAggregateBatch(t *testing.T) {
	s := newSession(4, 100)
	at := time.Now()
	frames := []Frame{
		{Objects: people(2), At: at},
		{Objects: nil, At: at},
		{Objects: people(5), At: at},
	}

	summary, alert, err := AggregateBatch(context.Background(), s, frames, "video")
	require.NoError(t, err)

	assert.Equal(t, session.Counters{ImagesProcessed: 3, TotalDetections: 7}, s.Counters())
	assert.Equal(t, 7, summary.ObjectCount)
	assert.True(t, alert.Active)
	assert.Equal(t, 5, alert.Count, "alert uses the peak frame")
}

func TestAggregateBatch_CancelledLeavesSessionUntouched(t *testing.T) {
	s := newSession(4, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, alert, err := AggregateBatch(ctx, s, []Frame{{Objects: people(6), At: time.Now()}}, "video")

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, alert.Active)
	assert.Equal(t, session.Counters{}, s.Counters())
	assert.Equal(t, 0, s.Snapshot().Log.Len())
	assert.Equal(t, 0, s.Snapshot().Alerts)
}

func TestBuildReport(t *testing.T) {
	s := newSession(2, 10)
	Aggregate(s, []detection.Object{{Label: "person", Confidence: 0.6}, {Label: "car", Confidence: 0.8}},
		"image", time.Date(2025, 1, 1, 8, 0, 0, 0, time.Local))
	Aggregate(s, []detection.Object{{Label: "person", Confidence: 1.0}},
		"image", time.Date(2025, 1, 1, 17, 0, 0, 0, time.Local))

	r := BuildReport(s.Snapshot())

	assert.Len(t, r.Hourly, 24)
	assert.Equal(t, 2, r.Hourly[8].Detections)
	assert.Equal(t, 8, r.PeakHour)
	assert.InDelta(t, 3.0/24, r.AveragePerHour, 1e-9)
	assert.Equal(t, []ClassTotal{{"person", 2}, {"car", 1}}, r.Classes)
	assert.Equal(t, 1, r.ActiveAlerts)
	assert.InDelta(t, 0.8, r.RecentConfidence.Value, 1e-9)
	assert.InDelta(t, 1.5, r.DetectionsPerCall.Value, 1e-9)
}

func TestBuildReport_EmptySession(t *testing.T) {
	r := BuildReport(newSession(10, 5).Snapshot())

	assert.Equal(t, -1, r.PeakHour)
	assert.False(t, r.RecentConfidence.Valid)
	assert.False(t, r.DetectionsPerCall.Valid)
}
