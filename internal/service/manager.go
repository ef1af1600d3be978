package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"queuewatch/internal/analytics"
	"queuewatch/internal/config"
	"queuewatch/internal/detection"
	"queuewatch/internal/logger"
	"queuewatch/internal/media"
	"queuewatch/internal/metrics"
	"queuewatch/internal/service/alert"
	"queuewatch/internal/service/storage"
	"queuewatch/internal/service/websocket"
	"queuewatch/internal/session"
)

var (
	// ErrThrottled is returned when a webcam frame arrives faster than the session rate.
	ErrThrottled = errors.New("webcam frame rate exceeded")
	// ErrQueueFull is returned when no video job slot is free.
	ErrQueueFull = errors.New("video queue is full")
	// ErrJobNotFound is returned for unknown jobs or jobs of another session.
	ErrJobNotFound = errors.New("job not found")
	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("manager stopped")
	// ErrReloadUnsupported is returned when the detector cannot reload its model.
	ErrReloadUnsupported = errors.New("detector does not support reload")
)

const (
	jobRetention  = time.Hour
	notifyTimeout = 5 * time.Second
)

// Event types pushed over the websocket hub.
const (
	EventDetection    = "detection"
	EventAlert        = "alert"
	EventJobProgress  = "job_progress"
	EventJobDone      = "job_done"
	EventJobFailed    = "job_failed"
	EventSettings     = "settings"
	EventSessionReset = "session_reset"
)

// VideoIO opens video containers for reading and writing.
type VideoIO interface {
	Open(path string) (media.FrameSource, error)
	Create(path string, fps float64, size image.Point) (media.FrameSink, error)
}

// Overrides replace the session thresholds for a single call.
type Overrides struct {
	Confidence *float64
	IOU        *float64
}

// Outcome is what one detection action reports back.
type Outcome struct {
	Source      string            `json:"source"`
	Summary     analytics.Summary `json:"summary"`
	Alert       analytics.Alert   `json:"alert"`
	Counters    session.Counters  `json:"counters"`
	InferenceMS float64           `json:"inference_ms"`
	Frames      int               `json:"frames,omitempty"`
	Result      string            `json:"result,omitempty"`
	Annotated   image.Image       `json:"-"`
}

// Manager runs detection actions against a session: it invokes the model,
// aggregates into the session, evaluates alerts, archives the annotated
// output and pushes events to the session's websocket clients.
type Manager struct {
	invoker       detection.Invoker
	archive       *storage.ArchiveService
	hub           *websocket.HubService
	notifier      alert.Notifier
	metrics       *metrics.Metrics
	videoIO       VideoIO
	logger        *logger.Logger
	archiveWebcam bool

	frameParallelism int
	numWorkers       int
	processingQueue  chan *Job
	jobs             *cache.Cache
	uploadDir        string

	baseCtx    context.Context
	baseCancel context.CancelFunc
	submitMu   sync.RWMutex
	stopped    bool
	wg         sync.WaitGroup

	now func() time.Time
}

// NewManager creates the manager and starts the video workers.
func NewManager(cfg *config.Config, invoker detection.Invoker, archive *storage.ArchiveService, hub *websocket.HubService,
	notifier alert.Notifier, mtr *metrics.Metrics, videoIO VideoIO, log *logger.Logger) (*Manager, error) {
	uploadDir, err := os.MkdirTemp("", "queuewatch-uploads-")
	if err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	manager := &Manager{
		invoker:          invoker,
		archive:          archive,
		hub:              hub,
		notifier:         notifier,
		metrics:          mtr,
		videoIO:          videoIO,
		logger:           log.With("manager"),
		archiveWebcam:    cfg.ArchiveWebcamFrames,
		frameParallelism: cfg.VideoFrameParallelism,
		numWorkers:       cfg.VideoWorkers,
		processingQueue:  make(chan *Job, cfg.VideoQueueSize),
		jobs:             cache.New(jobRetention, 10*time.Minute),
		uploadDir:        uploadDir,
		baseCtx:          ctx,
		baseCancel:       cancel,
		now:              time.Now,
	}
	if manager.numWorkers < 1 {
		manager.numWorkers = 1
	}

	mtr.SetModelLoaded(invoker.Status().Available)

	for i := 0; i < manager.numWorkers; i++ {
		manager.wg.Add(1)
		go manager.processingWorker(i)
	}

	manager.logger.Info("Manager started with %d video worker(s)", manager.numWorkers)
	return manager, nil
}

// ModelStatus reports the detector state.
func (m *Manager) ModelStatus() detection.Status {
	return m.invoker.Status()
}

// ReloadModel retries loading the model artifact.
func (m *Manager) ReloadModel() error {
	r, ok := m.invoker.(detection.Reloader)
	if !ok {
		return ErrReloadUnsupported
	}
	err := r.Reload()
	m.metrics.RecordModelLoad(err)
	if err != nil {
		m.logger.Warning("Model reload failed: %v", err)
		return err
	}
	m.logger.Info("Model reloaded")
	return nil
}

func optionsFor(s session.Settings, ov Overrides) (detection.Options, error) {
	opts := detection.Options{
		Confidence:     s.Confidence,
		IOU:            s.IOU,
		ShowLabels:     s.ShowLabels,
		ShowConfidence: s.ShowConfidence,
	}
	if ov.Confidence != nil {
		opts.Confidence = *ov.Confidence
	}
	if ov.IOU != nil {
		opts.IOU = *ov.IOU
	}
	if opts.Confidence < 0 || opts.Confidence > 1 || opts.IOU < 0 || opts.IOU > 1 {
		return opts, fmt.Errorf("%w: thresholds must be within [0,1]", session.ErrInvalidSettings)
	}
	return opts, nil
}

// checkAvailable refuses detection while the model is unavailable.
func (m *Manager) checkAvailable() error {
	st := m.invoker.Status()
	if st.Available {
		return nil
	}
	if st.Reason != "" {
		return fmt.Errorf("%w: %s", detection.ErrModelUnavailable, st.Reason)
	}
	return detection.ErrModelUnavailable
}

// ProcessImage decodes an uploaded image and runs one detection on it.
func (m *Manager) ProcessImage(ctx context.Context, s *session.Session, filename string, data []byte, ov Overrides) (*Outcome, error) {
	img, _, err := media.DecodeImage(filename, data)
	if err != nil {
		return nil, err
	}
	return m.process(ctx, s, img, string(media.KindImage), media.ImageOutputPrefix, ov, true)
}

// ProcessWebcam runs one detection on a captured webcam frame.
func (m *Manager) ProcessWebcam(ctx context.Context, s *session.Session, data []byte) (*Outcome, error) {
	if !s.AllowFrame() {
		return nil, ErrThrottled
	}
	img, _, err := media.DecodeFrame(data)
	if err != nil {
		return nil, err
	}
	return m.process(ctx, s, img, "webcam", media.WebcamPrefix, Overrides{}, m.archiveWebcam)
}

func (m *Manager) process(ctx context.Context, s *session.Session, img image.Image, source, prefix string, ov Overrides, archive bool) (*Outcome, error) {
	opts, err := optionsFor(s.Settings(), ov)
	if err != nil {
		return nil, err
	}
	if err := m.checkAvailable(); err != nil {
		m.metrics.RecordInvocation(source, 0, nil, err)
		return nil, err
	}

	res, err := m.invoker.Detect(ctx, img, opts)
	if err == nil {
		err = detection.CheckResult(res)
	}
	if err != nil {
		m.metrics.RecordInvocation(source, 0, nil, err)
		m.logger.Error("Detection failed for %s input: %v", source, err)
		return nil, err
	}

	now := m.now()
	outcome := &Outcome{
		Source:      source,
		InferenceMS: float64(res.Inference.Microseconds()) / 1000,
		Annotated:   res.Annotated,
	}

	if archive {
		saved, err := m.archive.SaveImage(res.Annotated, prefix, storage.Entry{
			SessionID: s.ID,
			Source:    source,
			Timestamp: now,
			Objects:   res.Objects,
		})
		if err != nil {
			m.logger.Error("Failed to archive %s output: %v", source, err)
			return nil, err
		}
		outcome.Result = saved.Filename
	}

	outcome.Summary, outcome.Alert = analytics.Aggregate(s, res.Objects, source, now)
	outcome.Counters = s.Counters()

	m.metrics.RecordInvocation(source, res.Inference.Seconds(), labels(res.Objects), nil)
	m.afterAggregate(s, outcome)
	return outcome, nil
}

func labels(objects []detection.Object) []string {
	out := make([]string, len(objects))
	for i, obj := range objects {
		out[i] = obj.Label
	}
	return out
}

// afterAggregate publishes the outcome and, when the alert fired, notifies.
func (m *Manager) afterAggregate(s *session.Session, outcome *Outcome) {
	m.hub.Publish(s.ID, EventDetection, outcome)
	if !outcome.Alert.Active {
		return
	}

	m.metrics.RecordAlert()
	m.hub.Publish(s.ID, EventAlert, outcome.Alert)
	m.logger.Warning("Session %s: %s", s.ID, outcome.Alert.Message)

	ev := alert.Event{
		SessionID: s.ID,
		Source:    outcome.Source,
		Count:     outcome.Alert.Count,
		Threshold: outcome.Alert.Threshold,
		Message:   outcome.Alert.Message,
		Timestamp: m.now(),
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := m.notifier.Notify(ctx, ev); err != nil {
			m.logger.Warning("Alert notification failed: %v", err)
		}
	}()
}

// UpdateSettings validates and stores new session settings.
func (m *Manager) UpdateSettings(s *session.Session, settings session.Settings) error {
	if err := s.UpdateSettings(settings); err != nil {
		return err
	}
	m.hub.Publish(s.ID, EventSettings, settings)
	return nil
}

// ResetSession cancels the session's pending video jobs and clears its state.
func (m *Manager) ResetSession(s *session.Session) {
	for _, item := range m.jobs.Items() {
		if job := item.Object.(*Job); job.SessionID == s.ID && !job.finished() {
			job.Cancel()
		}
	}
	s.Reset()
	m.hub.Publish(s.ID, EventSessionReset, s.Counters())
	m.logger.Info("Session %s reset", s.ID)
}

// SubmitVideo stores the upload and queues it for processing.
func (m *Manager) SubmitVideo(s *session.Session, filename string, r io.Reader) (*Job, error) {
	kind, err := media.KindOf(filename)
	if err != nil {
		return nil, err
	}
	if kind != media.KindVideo {
		return nil, fmt.Errorf("%w: %s is not a video", media.ErrUnsupportedFormat, filename)
	}
	if err := m.checkAvailable(); err != nil {
		m.metrics.RecordInvocation(string(media.KindVideo), 0, nil, err)
		return nil, err
	}
	m.submitMu.RLock()
	stopped := m.stopped
	m.submitMu.RUnlock()
	if stopped {
		return nil, ErrStopped
	}

	uploadPath, err := m.storeUpload(filename, r)
	if err != nil {
		return nil, err
	}

	m.submitMu.RLock()
	defer m.submitMu.RUnlock()
	if m.stopped {
		os.Remove(uploadPath)
		return nil, ErrStopped
	}

	job := newJob(m.baseCtx, s, filename, uploadPath, m.now())
	select {
	case m.processingQueue <- job:
	default:
		job.cancel()
		os.Remove(uploadPath)
		m.logger.Warning("Video queue full, rejecting %s", filename)
		return nil, ErrQueueFull
	}

	m.jobs.SetDefault(job.ID, job)
	m.metrics.VideoJobsGauge.Inc()
	m.logger.Info("Video %s queued as job %s", filename, job.ID)
	return job, nil
}

// storeUpload copies the upload to a temporary file and checks its container header.
func (m *Manager) storeUpload(filename string, r io.Reader) (string, error) {
	f, err := os.CreateTemp(m.uploadDir, "upload-*"+filepath.Ext(filename))
	if err != nil {
		return "", fmt.Errorf("failed to store upload: %w", err)
	}
	path := f.Name()

	header := make([]byte, 16)
	n, err := io.ReadFull(r, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if err := media.CheckVideo(filename, header[:n]); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}

	if _, err := f.Write(header[:n]); err == nil {
		_, err = io.Copy(f, r)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to store upload: %w", err)
	}
	return path, nil
}

// Job returns a job owned by sessionID.
func (m *Manager) Job(sessionID, id string) (*Job, error) {
	item, ok := m.jobs.Get(id)
	if !ok {
		return nil, ErrJobNotFound
	}
	job := item.(*Job)
	if job.SessionID != sessionID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// processingWorker runs queued video jobs until the queue is closed.
func (m *Manager) processingWorker(workerID int) {
	defer m.wg.Done()

	m.logger.Debug("Video worker %d started", workerID)
	for job := range m.processingQueue {
		m.runVideo(job)
		m.metrics.VideoJobsGauge.Dec()
	}
	m.logger.Debug("Video worker %d stopped", workerID)
}

func (m *Manager) runVideo(job *Job) {
	defer os.Remove(job.uploadPath)
	log := m.logger.With("video")

	fail := func(err error) {
		job.finish(nil, err, m.now())
		m.metrics.RecordInvocation(string(media.KindVideo), 0, nil, err)
		m.hub.Publish(job.SessionID, EventJobFailed, job.Status())
		if errors.Is(err, context.Canceled) {
			log.Info("Job %s cancelled: %v", job.ID, err)
			return
		}
		log.Error("Job %s failed: %v", job.ID, err)
	}

	if err := job.ctx.Err(); err != nil {
		fail(&media.VideoError{Err: err})
		return
	}
	if err := m.checkAvailable(); err != nil {
		fail(&media.VideoError{Err: err})
		return
	}
	job.setRunning()

	src, err := m.videoIO.Open(job.uploadPath)
	if err != nil {
		fail(&media.VideoError{Err: fmt.Errorf("%w: %v", media.ErrUnreadableContent, err)})
		return
	}
	defer src.Close()

	opts, err := optionsFor(job.session.Settings(), Overrides{})
	if err != nil {
		fail(err)
		return
	}

	name, outPath, err := m.archive.Reserve(media.VideoOutputPrefix, ".mp4", job.CreatedAt)
	if err != nil {
		fail(&media.VideoError{Total: src.FrameCount(), Err: err})
		return
	}
	sink, err := m.videoIO.Create(outPath, src.FPS(), src.Size())
	if err != nil {
		m.archive.Release(name)
		fail(&media.VideoError{Total: src.FrameCount(), Err: err})
		return
	}

	pipeline := &media.VideoPipeline{Invoker: m.invoker, Parallelism: m.frameParallelism, Now: m.now}
	res, err := pipeline.Run(job.ctx, media.VideoJob{
		Source:     src,
		Sink:       sink,
		OutputPath: outPath,
		Options:    opts,
		OnProgress: func(p media.Progress) {
			job.setProgress(p)
			m.hub.Publish(job.SessionID, EventJobProgress, map[string]any{"id": job.ID, "progress": p})
		},
	})
	if err != nil {
		m.archive.Release(name)
		fail(err)
		return
	}

	outcome := &Outcome{
		Source:      string(media.KindVideo),
		Frames:      res.Total,
		InferenceMS: float64(res.Elapsed.Microseconds()) / 1000,
		Result:      name,
	}
	// A reset or cancel arriving after the last frame still discards the video.
	outcome.Summary, outcome.Alert, err = analytics.AggregateBatch(job.ctx, job.session, res.Frames, string(media.KindVideo))
	if err != nil {
		m.archive.Release(name)
		fail(&media.VideoError{Processed: res.Total, Total: res.Total, Err: err})
		return
	}
	outcome.Counters = job.session.Counters()

	var objects []detection.Object
	for _, f := range res.Frames {
		objects = append(objects, f.Objects...)
	}
	if _, err := m.archive.Commit(name, storage.Entry{
		SessionID: job.SessionID,
		Source:    string(media.KindVideo),
		Timestamp: job.CreatedAt,
		Objects:   objects,
		Frames:    res.Total,
	}); err != nil {
		log.Error("Failed to record video output %s: %v", name, err)
	}

	perFrame := 0.0
	if len(res.Frames) > 0 {
		perFrame = res.Elapsed.Seconds() / float64(len(res.Frames))
	}
	for _, f := range res.Frames {
		m.metrics.RecordInvocation(string(media.KindVideo), perFrame, labels(f.Objects), nil)
	}

	job.setProgress(media.Progress{Processed: res.Total, Total: res.Total, Fraction: 1})
	job.finish(outcome, nil, m.now())
	m.afterAggregate(job.session, outcome)
	m.hub.Publish(job.SessionID, EventJobDone, job.Status())
	log.Info("Job %s done: %d frames, %d objects in %s", job.ID, res.Total, outcome.Summary.ObjectCount, res.Elapsed)
}

// Stop cancels running jobs, waits for the workers and removes pending uploads.
func (m *Manager) Stop() {
	m.submitMu.Lock()
	if m.stopped {
		m.submitMu.Unlock()
		return
	}
	m.stopped = true
	close(m.processingQueue)
	m.submitMu.Unlock()

	m.baseCancel()
	m.wg.Wait()
	m.notifier.Close()
	os.RemoveAll(m.uploadDir)
	m.logger.Info("All processing workers stopped")
}
