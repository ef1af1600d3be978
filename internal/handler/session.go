package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"queuewatch/internal/analytics"
	"queuewatch/internal/logger"
	"queuewatch/internal/service"
	"queuewatch/internal/session"
)

// defaultRecentLimit is the number of log entries the dashboard shows.
const defaultRecentLimit = 5

type sessionView struct {
	ID          string           `json:"id"`
	CreatedAt   time.Time        `json:"created_at"`
	Counters    session.Counters `json:"counters"`
	Settings    session.Settings `json:"settings"`
	Recent      []session.Record `json:"recent"`
	LogSize     int              `json:"log_size"`
	LogCapacity int              `json:"log_capacity"`
}

// GetSessionHandler returns counters, settings and the recent-detections log.
// ?limit= bounds the entries (default 5), ?order=newest lists newest first.
func GetSessionHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := currentSession(w, r, logger)
		if !ok {
			return
		}
		q := r.URL.Query()
		limit := atoiDefault(q.Get("limit"), defaultRecentLimit)

		st := s.Snapshot()
		recent := st.Log.Last(limit)
		if q.Get("order") == "newest" {
			recent = st.Log.Newest(limit)
		}

		writeJSON(w, logger, http.StatusOK, sessionView{
			ID:          s.ID,
			CreatedAt:   s.CreatedAt,
			Counters:    st.Counters,
			Settings:    st.Settings,
			Recent:      recent,
			LogSize:     st.Log.Len(),
			LogCapacity: st.Log.Cap(),
		})
	}
}

// GetSettingsHandler returns the session settings.
func GetSettingsHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := currentSession(w, r, logger)
		if !ok {
			return
		}
		writeJSON(w, logger, http.StatusOK, s.Settings())
	}
}

// UpdateSettingsHandler applies a JSON settings document. Omitted fields keep
// their current value; an invalid document changes nothing.
func UpdateSettingsHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := currentSession(w, r, logger)
		if !ok {
			return
		}

		settings := s.Settings()
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			writeError(w, logger, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		if err := manager.UpdateSettings(s, settings); err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, s.Settings())
	}
}

// ResetSessionHandler clears the session back to its initial state.
func ResetSessionHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := currentSession(w, r, logger)
		if !ok {
			return
		}
		manager.ResetSession(s)
		writeJSON(w, logger, http.StatusOK, map[string]any{
			"status":   "reset",
			"counters": s.Counters(),
			"settings": s.Settings(),
		})
	}
}

// AnalyticsHandler returns the session analytics report.
func AnalyticsHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := currentSession(w, r, logger)
		if !ok {
			return
		}
		writeJSON(w, logger, http.StatusOK, analytics.BuildReport(s.Snapshot()))
	}
}

// ListCamerasHandler lists the cameras registered in the session.
func ListCamerasHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := currentSession(w, r, logger)
		if !ok {
			return
		}
		cameras := s.Snapshot().Cameras
		if cameras == nil {
			cameras = []session.Camera{}
		}
		writeJSON(w, logger, http.StatusOK, cameras)
	}
}

// AddCameraHandler registers a camera from a JSON body.
func AddCameraHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := currentSession(w, r, logger)
		if !ok {
			return
		}

		var req struct {
			Name     string `json:"name"`
			Location string `json:"location"`
			URL      string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, logger, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}

		cam, err := s.AddCamera(session.Camera{Name: req.Name, Location: req.Location, URL: req.URL})
		if err != nil {
			writeError(w, logger, err)
			return
		}
		logger.Info("Camera %s (%s) added to session %s", cam.Name, cam.Location, s.ID)
		writeJSON(w, logger, http.StatusCreated, cam)
	}
}

// RemoveCameraHandler drops a camera by ?id=.
func RemoveCameraHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := currentSession(w, r, logger)
		if !ok {
			return
		}
		id, err := requireParam(r, "id")
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if err := s.RemoveCamera(id); err != nil {
			writeError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
