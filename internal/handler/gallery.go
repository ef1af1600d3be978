package handler

import (
	"net/http"
	"strconv"

	"queuewatch/internal/dto"
	"queuewatch/internal/logger"
	"queuewatch/internal/service/storage"
)

const defaultPageSize = 24

// GetResultsHandler returns a filtered, paginated list of archived outputs.
// Filters: source, label, dateAfter/dateBefore (2006-01-02), timeAfter/timeBefore (15:04)
// and mine=1 to restrict to the caller's session.
func GetResultsHandler(archive *storage.ArchiveService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), defaultPageSize)

		filter := &dto.ResultFilters{
			Source:     q.Get("source"),
			Label:      q.Get("label"),
			DateAfter:  parseDate(q.Get("dateAfter")),
			DateBefore: parseDate(q.Get("dateBefore")),
			TimeAfter:  parseTimeOfDay(q.Get("timeAfter")),
			TimeBefore: parseTimeOfDay(q.Get("timeBefore")),
			Limit:      limit,
			Offset:     (page - 1) * limit,
		}
		if q.Get("mine") == "1" {
			if s, ok := currentSession(w, r, logger); ok {
				filter.SessionID = s.ID
			} else {
				return
			}
		}

		results, total, err := archive.List(filter)
		if err != nil {
			logger.Error("Error querying results from database: %v", err)
			writeError(w, logger, err)
			return
		}

		size, err := archive.Size()
		if err != nil {
			logger.Error("Error getting output directory size: %v", err)
			size = 0
		}

		writeJSON(w, logger, http.StatusOK, dto.ResultsData{
			Results:     results,
			OutputDir:   archive.Dir(),
			Size:        size,
			MaxSize:     archive.MaxBytes(),
			Length:      total,
			TotalPages:  dto.TotalPages(total, limit),
			CurrentPage: page,
			Limit:       limit,
		})
	}
}

// ViewResultHandler serves one archived output inline.
func ViewResultHandler(archive *storage.ArchiveService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveResult(w, r, archive, logger, false)
	}
}

// DownloadResultHandler serves one archived output as an attachment.
func DownloadResultHandler(archive *storage.ArchiveService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveResult(w, r, archive, logger, true)
	}
}

func serveResult(w http.ResponseWriter, r *http.Request, archive *storage.ArchiveService, logger *logger.Logger, attachment bool) {
	name, err := requireParam(r, "name")
	if err != nil {
		writeError(w, logger, err)
		return
	}
	path, err := archive.Path(name)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	if attachment {
		w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(name))
	}
	http.ServeFile(w, r, path)
}

// ResultDetailHandler returns one archived output with its bounding boxes.
func ResultDetailHandler(archive *storage.ArchiveService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, err := requireParam(r, "name")
		if err != nil {
			writeError(w, logger, err)
			return
		}
		detail, err := archive.Detail(name)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, detail)
	}
}

// DeleteResultHandler removes one output from disk and database.
func DeleteResultHandler(archive *storage.ArchiveService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, err := requireParam(r, "name")
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if err := archive.Delete(name); err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, map[string]string{"status": "deleted", "name": name})
	}
}

// ClearResultsHandler deletes every archived output.
func ClearResultsHandler(archive *storage.ArchiveService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := archive.Clear(); err != nil {
			writeError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ResultLabelsHandler lists every label present in the archive, for the filter dropdown.
func ResultLabelsHandler(archive *storage.ArchiveService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		labels, err := archive.Labels()
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if labels == nil {
			labels = []string{}
		}
		writeJSON(w, logger, http.StatusOK, labels)
	}
}

// ResultStatsHandler returns archive statistics.
func ResultStatsHandler(archive *storage.ArchiveService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := archive.Stats()
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, stats)
	}
}
