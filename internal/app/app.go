package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"queuewatch/internal/config"
	"queuewatch/internal/logger"
	"queuewatch/internal/media"
	"queuewatch/internal/metrics"
	"queuewatch/internal/middleware"
	"queuewatch/internal/repository/sqlite"
	"queuewatch/internal/route"
	"queuewatch/internal/service"
	"queuewatch/internal/service/ai"
	"queuewatch/internal/service/alert"
	"queuewatch/internal/service/storage"
	"queuewatch/internal/service/websocket"
	"queuewatch/internal/session"
)

const (
	sessionCleanupInterval = 10 * time.Minute
	shutdownTimeout        = 15 * time.Second
)

type App struct {
	config   *config.Config
	logger   *logger.Logger
	db       *sqlite.DB
	detector *ai.DetectorService
	archive  *storage.ArchiveService
	hub      *websocket.HubService
	sessions *session.Manager
	metrics  *metrics.Metrics
	manager  *service.Manager
}

// NewApp wires every service from cfg. Close releases them.
func NewApp(cfg *config.Config) (*App, error) {
	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		log.Close()
		return nil, err
	}

	if cfg.SessionSecretGenerated {
		log.Warning("SESSION_SECRET is not set, using a random secret; sessions end on restart")
	}
	log.Debug("Debug logging enabled")

	a := &App{config: cfg, logger: log, db: db}
	if err := a.init(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init() error {
	cfg := a.config

	archive, err := storage.NewArchiveService(cfg, a.logger, sqlite.NewResultRepository(a.db), sqlite.NewDetectionRepository(a.db))
	if err != nil {
		return err
	}
	a.archive = archive

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mtr, err := metrics.New(registry)
	if err != nil {
		return err
	}
	a.metrics = mtr

	a.detector = ai.NewDetectorService(cfg, a.logger)
	status := a.detector.Status()
	if status.Available {
		mtr.RecordModelLoad(nil)
	} else {
		mtr.RecordModelLoad(errors.New(status.Reason))
	}

	a.hub = websocket.NewHubService(a.logger)
	a.sessions = session.NewManager(session.ManagerConfig{
		Defaults: session.Settings{
			Confidence:     cfg.DefaultConfidence,
			IOU:            cfg.DefaultIOU,
			ShowLabels:     true,
			ShowConfidence: true,
			AlertThreshold: cfg.DefaultAlertThreshold,
		},
		LogCapacity:     cfg.RecentLogCapacity,
		WebcamFPS:       cfg.WebcamFPS,
		TTL:             cfg.SessionTTL,
		CleanupInterval: sessionCleanupInterval,
	}, a.logger.With("sessions"))
	if err := mtr.RegisterSessionGauge(a.sessions.Count); err != nil {
		return err
	}

	manager, err := service.NewManager(cfg, a.detector, archive, a.hub, alert.NewNotifier(cfg, a.logger), mtr, ai.VideoIO{}, a.logger)
	if err != nil {
		return err
	}
	a.manager = manager
	return nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	// Start background services
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.archive.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.hub.Run(ctx)
	}()

	// Setup routes
	sessions := middleware.NewSessionMiddleware(a.config.SessionSecret, a.config.SessionTTL, a.sessions, a.logger)
	router := route.SetupRoutes(a.config, a.logger, a.manager, a.archive, a.hub, sessions, a.metrics)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	status := a.detector.Status()
	fmt.Printf("QueueWatch detection dashboard\n")
	fmt.Printf("URL: http://localhost:%d\n", a.config.Port)
	fmt.Printf("Outputs: %s\n", a.config.OutputDirectory)
	fmt.Printf("Model: %s (loaded: %t)\n", a.config.ModelPath, status.Available)
	if a.config.Password == "" {
		a.logger.Warning("PASSWORD is empty, authentication is disabled")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	return server.Shutdown(shutdownCtx)
}

// DetectFile runs one detection on an image or video outside of any HTTP
// request, in a throwaway session. The hub is not running; events for the
// session have no subscriber and are skipped.
func (a *App) DetectFile(ctx context.Context, path string) (*service.Outcome, error) {
	s := a.sessions.Create()
	defer a.sessions.Delete(s.ID)

	kind, err := media.KindOf(path)
	if err != nil {
		return nil, err
	}

	if kind == media.KindImage {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return a.manager.ProcessImage(ctx, s, filepath.Base(path), data, service.Overrides{})
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	job, err := a.manager.SubmitVideo(s, filepath.Base(path), f)
	if err != nil {
		return nil, err
	}
	st, err := job.Wait(ctx)
	if err != nil {
		job.Cancel()
		return nil, err
	}
	if jobErr := job.Err(); jobErr != nil {
		return nil, jobErr
	}
	return st.Outcome, nil
}

// Reindex records output files missing from the database.
func (a *App) Reindex() (added, skipped int, err error) {
	return a.archive.Reindex()
}

// Close stops the workers and releases the model, database and log files.
func (a *App) Close() {
	if a.manager != nil {
		a.manager.Stop()
	}
	if a.detector != nil {
		a.detector.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	a.logger.Close()
}
