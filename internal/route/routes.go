package route

import (
	"net/http"
	"os"
	"path/filepath"

	"queuewatch/internal/config"
	"queuewatch/internal/handler"
	"queuewatch/internal/logger"
	"queuewatch/internal/metrics"
	"queuewatch/internal/middleware"
	"queuewatch/internal/service"
	"queuewatch/internal/service/storage"
	"queuewatch/internal/service/websocket"
)

// dynamicHTMLHandler serves /path as <staticDir>/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(staticDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if path == "/" {
			path = "/index"
		}

		filePath := filepath.Join(staticDir, filepath.Clean("/"+path)+".html")

		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}

		http.ServeFile(w, r, filePath)
	}
}

// SetupRoutes registers HTTP routes, static file serving, API endpoints,
// and wraps the mux with the authentication middleware. Every /api/ route
// runs inside the caller's dashboard session.
func SetupRoutes(cfg *config.Config, log *logger.Logger, manager *service.Manager, archive *storage.ArchiveService,
	hub *websocket.HubService, sessions *middleware.SessionMiddleware, mtr *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	api := http.NewServeMux()
	maxUpload := cfg.MaxUploadBytes()

	// Static files
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StaticDirectory))))
	mux.Handle("GET /metrics", mtr.Handler())

	// Detection
	api.HandleFunc("POST /api/detect/image", handler.DetectImageHandler(manager, maxUpload, log))
	api.HandleFunc("POST /api/detect/webcam", handler.DetectWebcamHandler(manager, maxUpload, log))
	api.HandleFunc("POST /api/detect/video", handler.DetectVideoHandler(manager, maxUpload, log))
	api.HandleFunc("GET /api/jobs", handler.JobStatusHandler(manager, log))
	api.HandleFunc("POST /api/jobs/cancel", handler.CancelJobHandler(manager, log))

	// Session
	api.HandleFunc("GET /api/session", handler.GetSessionHandler(log))
	api.HandleFunc("GET /api/session/settings", handler.GetSettingsHandler(log))
	api.HandleFunc("PUT /api/session/settings", handler.UpdateSettingsHandler(manager, log))
	api.HandleFunc("POST /api/session/reset", handler.ResetSessionHandler(manager, log))
	api.HandleFunc("GET /api/session/analytics", handler.AnalyticsHandler(log))
	api.HandleFunc("GET /api/session/cameras", handler.ListCamerasHandler(log))
	api.HandleFunc("POST /api/session/cameras", handler.AddCameraHandler(log))
	api.HandleFunc("DELETE /api/session/cameras", handler.RemoveCameraHandler(log))
	api.HandleFunc("GET /api/events", handler.EventsWebsocketHandler(hub, log))

	// Model
	api.HandleFunc("GET /api/model", handler.ModelStatusHandler(manager, log))
	api.HandleFunc("POST /api/model/reload", handler.ReloadModelHandler(manager, log))

	// Results archive
	api.HandleFunc("GET /api/results", handler.GetResultsHandler(archive, log))
	api.HandleFunc("GET /api/results/view", handler.ViewResultHandler(archive, log))
	api.HandleFunc("GET /api/results/download", handler.DownloadResultHandler(archive, log))
	api.HandleFunc("GET /api/results/detail", handler.ResultDetailHandler(archive, log))
	api.HandleFunc("DELETE /api/results/delete", handler.DeleteResultHandler(archive, log))
	api.HandleFunc("POST /api/results/delete", handler.DeleteResultHandler(archive, log))
	api.HandleFunc("POST /api/results/clear", handler.ClearResultsHandler(archive, log))
	api.HandleFunc("GET /api/results/labels", handler.ResultLabelsHandler(archive, log))
	api.HandleFunc("GET /api/results/stats", handler.ResultStatsHandler(archive, log))

	mux.Handle("/api/", sessions.Handler(api))

	// Log endpoints
	for name, file := range map[string]string{"info": logger.InfoFile, "warning": logger.WarningFile, "error": logger.ErrorFile} {
		mux.HandleFunc("GET /logs/"+name, handler.ShowLogsHandler(log, file))
		mux.HandleFunc("POST /logs/"+name+"/clear", handler.ClearLogsHandler(log, file))
	}

	// Auth endpoints
	mux.HandleFunc("POST /auth/login", handler.LoginHandler(cfg.Password, log))
	mux.HandleFunc("/auth/logout", handler.LogoutHandler)

	// Automatic HTML handler mapping for example: /login -> <static>/login.html
	mux.HandleFunc("/", dynamicHTMLHandler(cfg.StaticDirectory))

	return middleware.AuthMiddleware(cfg.Password)(mux)
}
