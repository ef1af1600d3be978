package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var (
	// ErrNotFound is returned for unknown or expired session ids.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidSettings wraps every settings validation failure.
	ErrInvalidSettings = errors.New("invalid settings")
	// ErrCameraNotFound is returned when removing an unknown camera.
	ErrCameraNotFound = errors.New("camera not found")
	// ErrInvalidCamera is returned for cameras without name or location.
	ErrInvalidCamera = errors.New("camera name and location are required")
)

// Counters are the per-session processing totals.
type Counters struct {
	ImagesProcessed int `json:"images_processed"`
	TotalDetections int `json:"total_detections"`
}

// Settings are the user-adjustable detection and alert parameters.
type Settings struct {
	Confidence     float64 `json:"confidence"`
	IOU            float64 `json:"iou"`
	ShowLabels     bool    `json:"show_labels"`
	ShowConfidence bool    `json:"show_confidence"`
	AlertThreshold int     `json:"alert_threshold"`
}

// DefaultSettings are the dashboard defaults.
func DefaultSettings() Settings {
	return Settings{
		Confidence:     0.25,
		IOU:            0.45,
		ShowLabels:     true,
		ShowConfidence: true,
		AlertThreshold: 10,
	}
}

// Validate checks the threshold ranges.
func (s Settings) Validate() error {
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.2f outside [0,1]", ErrInvalidSettings, s.Confidence)
	}
	if s.IOU < 0 || s.IOU > 1 {
		return fmt.Errorf("%w: iou %.2f outside [0,1]", ErrInvalidSettings, s.IOU)
	}
	if s.AlertThreshold < 1 {
		return fmt.Errorf("%w: alert threshold %d below 1", ErrInvalidSettings, s.AlertThreshold)
	}
	return nil
}

// Record is one detected object kept in the recent-detections log.
type Record struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source"`
}

// Camera is a user-registered camera. Only bookkeeping, nothing connects to it.
type Camera struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Location string    `json:"location"`
	URL      string    `json:"url,omitempty"`
	Status   string    `json:"status"`
	AddedAt  time.Time `json:"added_at"`
}

// State is the mutable content of a session. It is only touched through
// Session.Mutate or copied out through Session.Snapshot.
type State struct {
	Counters Counters
	Settings Settings
	Log      *Ring[Record]
	// Hourly holds detections per hour of day (local time).
	Hourly      [24]int
	ClassTotals map[string]int
	Alerts      int
	Cameras     []Camera
}

// Session is one user's dashboard context.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	state    State
	defaults Settings
	limiter  *rate.Limiter
}

// New creates an empty session. logCapacity bounds the recent-detections log;
// webcamFPS (<= 0 disables throttling) limits webcam frames per second.
func New(id string, defaults Settings, logCapacity int, webcamFPS float64) *Session {
	s := &Session{
		ID:        id,
		CreatedAt: time.Now(),
		defaults:  defaults,
		state: State{
			Settings:    defaults,
			Log:         NewRing[Record](logCapacity),
			ClassTotals: make(map[string]int),
		},
	}
	if webcamFPS > 0 {
		burst := int(webcamFPS)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(webcamFPS), burst)
	} else {
		s.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return s
}

// Mutate runs fn with exclusive access to the session state.
func (s *Session) Mutate(fn func(st *State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

// Snapshot returns a deep copy of the state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := s.state
	cp.Log = s.state.Log.Clone()
	cp.ClassTotals = make(map[string]int, len(s.state.ClassTotals))
	for k, v := range s.state.ClassTotals {
		cp.ClassTotals[k] = v
	}
	cp.Cameras = append([]Camera(nil), s.state.Cameras...)
	return cp
}

// Counters returns the current counters.
func (s *Session) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Counters
}

// Settings returns the current settings.
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Settings
}

// UpdateSettings validates and stores new settings.
func (s *Session) UpdateSettings(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Settings = settings
	return nil
}

// Reset returns the session to its initial state: counters, log, analytics,
// cameras and settings.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Counters = Counters{}
	s.state.Settings = s.defaults
	s.state.Log.Clear()
	s.state.Hourly = [24]int{}
	s.state.ClassTotals = make(map[string]int)
	s.state.Alerts = 0
	s.state.Cameras = nil
}

// AllowFrame reports whether a webcam frame may be processed now.
func (s *Session) AllowFrame() bool {
	return s.limiter.Allow()
}

// AddCamera registers a camera. Name and location are required.
func (s *Session) AddCamera(cam Camera) (Camera, error) {
	if cam.Name == "" || cam.Location == "" {
		return Camera{}, ErrInvalidCamera
	}
	if cam.ID == "" {
		cam.ID = uuid.NewString()
	}
	if cam.Status == "" {
		cam.Status = "Active"
	}
	if cam.AddedAt.IsZero() {
		cam.AddedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Cameras = append(s.state.Cameras, cam)
	return cam, nil
}

// RemoveCamera drops the camera with the given id.
func (s *Session) RemoveCamera(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cam := range s.state.Cameras {
		if cam.ID == id {
			s.state.Cameras = append(s.state.Cameras[:i], s.state.Cameras[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrCameraNotFound, id)
}
