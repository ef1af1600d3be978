package handler

import (
	"net/http"

	"queuewatch/internal/logger"
	"queuewatch/internal/service"
)

// JobStatusHandler reports a video job of the caller's session.
func JobStatusHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
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

		job, err := manager.Job(s.ID, id)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, job.Status())
	}
}

// CancelJobHandler asks a video job to stop. Nothing it processed is committed.
func CancelJobHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
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

		job, err := manager.Job(s.ID, id)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		job.Cancel()
		logger.Info("Job %s cancelled by session %s", job.ID, s.ID)
		writeJSON(w, logger, http.StatusAccepted, job.Status())
	}
}
