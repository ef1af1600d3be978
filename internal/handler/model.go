package handler

import (
	"net/http"

	"queuewatch/internal/logger"
	"queuewatch/internal/service"
)

// ModelStatusHandler reports whether the detection model is loaded.
func ModelStatusHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, manager.ModelStatus())
	}
}

// ReloadModelHandler retries loading the model artifact.
func ReloadModelHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := manager.ReloadModel(); err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, manager.ModelStatus())
	}
}
