package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queuewatch/internal/logger"
)

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"defaults", func(*Settings) {}, false},
		{"confidence zero", func(s *Settings) { s.Confidence = 0 }, false},
		{"confidence one", func(s *Settings) { s.Confidence = 1 }, false},
		{"confidence above", func(s *Settings) { s.Confidence = 1.5 }, true},
		{"iou negative", func(s *Settings) { s.IOU = -0.1 }, true},
		{"alert zero", func(s *Settings) { s.AlertThreshold = 0 }, true},
		{"alert one", func(s *Settings) { s.AlertThreshold = 1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSettings)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSession_UpdateSettingsRejectsInvalid(t *testing.T) {
	s := New("s1", DefaultSettings(), 5, 0)

	bad := DefaultSettings()
	bad.IOU = 2
	require.Error(t, s.UpdateSettings(bad))
	assert.Equal(t, DefaultSettings(), s.Settings())

	good := DefaultSettings()
	good.AlertThreshold = 3
	require.NoError(t, s.UpdateSettings(good))
	assert.Equal(t, 3, s.Settings().AlertThreshold)
}

func TestSession_ResetRestoresInitialState(t *testing.T) {
	s := New("s1", DefaultSettings(), 5, 0)
	s.Mutate(func(st *State) {
		st.Counters = Counters{ImagesProcessed: 2, TotalDetections: 7}
		st.Log.Push(Record{Label: "person", Confidence: 0.9})
		st.Hourly[3] = 7
		st.ClassTotals["person"] = 7
		st.Alerts = 1
		st.Settings.AlertThreshold = 2
	})
	_, err := s.AddCamera(Camera{ID: "c1", Name: "Front", Location: "Hall"})
	require.NoError(t, err)

	s.Reset()

	snap := s.Snapshot()
	assert.Equal(t, Counters{}, snap.Counters)
	assert.Equal(t, 0, snap.Log.Len())
	assert.Equal(t, 5, snap.Log.Cap())
	assert.Equal(t, [24]int{}, snap.Hourly)
	assert.Empty(t, snap.ClassTotals)
	assert.Zero(t, snap.Alerts)
	assert.Empty(t, snap.Cameras)
	assert.Equal(t, DefaultSettings(), snap.Settings)
}

func TestSession_SnapshotIsIndependent(t *testing.T) {
	s := New("s1", DefaultSettings(), 5, 0)
	s.Mutate(func(st *State) {
		st.Log.Push(Record{Label: "car"})
		st.ClassTotals["car"] = 1
	})

	snap := s.Snapshot()
	snap.Log.Push(Record{Label: "bus"})
	snap.ClassTotals["bus"] = 1

	after := s.Snapshot()
	assert.Equal(t, 1, after.Log.Len())
	assert.NotContains(t, after.ClassTotals, "bus")
}

func TestSession_Cameras(t *testing.T) {
	s := New("s1", DefaultSettings(), 5, 0)

	_, err := s.AddCamera(Camera{ID: "c1", Name: "Front"})
	assert.ErrorIs(t, err, ErrInvalidCamera, "location is required")

	generated, err := s.AddCamera(Camera{Name: "Back", Location: "Yard"})
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)
	require.NoError(t, s.RemoveCamera(generated.ID))

	cam, err := s.AddCamera(Camera{ID: "c1", Name: "Front", Location: "Hall"})
	require.NoError(t, err)
	assert.Equal(t, "Active", cam.Status)
	assert.False(t, cam.AddedAt.IsZero())

	assert.ErrorIs(t, s.RemoveCamera("missing"), ErrCameraNotFound)
	require.NoError(t, s.RemoveCamera("c1"))
	assert.Empty(t, s.Snapshot().Cameras)
}

func TestSession_AllowFrame(t *testing.T) {
	unlimited := New("s1", DefaultSettings(), 5, 0)
	for i := 0; i < 50; i++ {
		require.True(t, unlimited.AllowFrame())
	}

	limited := New("s2", DefaultSettings(), 5, 1)
	assert.True(t, limited.AllowFrame())
	assert.False(t, limited.AllowFrame(), "second frame within the same second is throttled")
}

func TestManager_Lifecycle(t *testing.T) {
	m := NewManager(ManagerConfig{
		Defaults:    DefaultSettings(),
		LogCapacity: 5,
		TTL:         time.Hour,
	}, logger.Discard())

	s := m.Create()
	require.NotEmpty(t, s.ID)
	assert.Equal(t, 1, m.Count())

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = m.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get("")
	assert.ErrorIs(t, err, ErrNotFound)

	same, created := m.GetOrCreate(s.ID)
	assert.False(t, created)
	assert.Same(t, s, same)

	other, created := m.GetOrCreate("unknown")
	assert.True(t, created)
	assert.NotEqual(t, s.ID, other.ID)

	m.Delete(s.ID)
	_, err = m.Get(s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_SessionsAreIsolated(t *testing.T) {
	m := NewManager(ManagerConfig{Defaults: DefaultSettings(), LogCapacity: 5}, logger.Discard())
	a, b := m.Create(), m.Create()

	a.Mutate(func(st *State) { st.Counters.ImagesProcessed = 4 })

	assert.Equal(t, 4, a.Counters().ImagesProcessed)
	assert.Equal(t, 0, b.Counters().ImagesProcessed)
}

func TestManager_Expiry(t *testing.T) {
	m := NewManager(ManagerConfig{Defaults: DefaultSettings(), LogCapacity: 5, TTL: 20 * time.Millisecond}, logger.Discard())
	s := m.Create()

	time.Sleep(40 * time.Millisecond)

	_, err := m.Get(s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
