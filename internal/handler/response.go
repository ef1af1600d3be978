package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"queuewatch/internal/detection"
	"queuewatch/internal/logger"
	"queuewatch/internal/media"
	"queuewatch/internal/middleware"
	"queuewatch/internal/service"
	"queuewatch/internal/service/storage"
	"queuewatch/internal/session"
)

var (
	errBadRequest   = errors.New("bad request")
	errMissingFile  = errors.New("file field is required")
	errTooLarge     = errors.New("upload exceeds size limit")
	errNoSession    = errors.New("request has no session")
	errMissingParam = errors.New("missing query parameter")
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, detection.ErrModelUnavailable), errors.Is(err, service.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrReloadUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, media.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, media.ErrUnreadableContent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrThrottled):
		return http.StatusTooManyRequests
	case errors.Is(err, session.ErrInvalidSettings),
		errors.Is(err, session.ErrInvalidCamera),
		errors.Is(err, storage.ErrInvalidName),
		errors.Is(err, errBadRequest),
		errors.Is(err, errMissingFile),
		errors.Is(err, errMissingParam):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrJobNotFound),
		errors.Is(err, storage.ErrResultNotFound),
		errors.Is(err, session.ErrCameraNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with {"error": ...} and the status mapped from err.
func writeError(w http.ResponseWriter, log *logger.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		log.Error("Request failed: %v", err)
	} else {
		log.Debug("Request rejected (%d): %v", status, err)
	}
	writeJSON(w, log, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, log *logger.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Error encoding JSON response: %v", err)
	}
}

// currentSession returns the session attached by the session middleware.
func currentSession(w http.ResponseWriter, r *http.Request, log *logger.Logger) (*session.Session, bool) {
	s := middleware.SessionFrom(r.Context())
	if s == nil {
		writeError(w, log, errNoSession)
		return nil, false
	}
	return s, true
}

// requireParam reads a mandatory query parameter.
func requireParam(r *http.Request, name string) (string, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return "", fmt.Errorf("%w: %s", errMissingParam, name)
	}
	return v, nil
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseDate parses a date in the HTML input format "2006-01-02" as a local day.
func parseDate(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation("2006-01-02", v, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

// parseTimeOfDay validates a time of day in the HTML input format "15:04".
func parseTimeOfDay(v string) string {
	if _, err := time.Parse("15:04", v); err != nil {
		return ""
	}
	return v
}
