package storage

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"queuewatch/internal/config"
	"queuewatch/internal/detection"
	"queuewatch/internal/dto"
	"queuewatch/internal/logger"
	"queuewatch/internal/media"
	"queuewatch/internal/model"
	"queuewatch/internal/repository"
)

var (
	// ErrInvalidName is returned for result names that would escape the output directory.
	ErrInvalidName = errors.New("invalid result name")
	// ErrResultNotFound is returned when no archived result has the given name.
	ErrResultNotFound = errors.New("result not found")
)

// Entry describes one output to archive.
type Entry struct {
	SessionID string
	Source    string
	Timestamp time.Time
	Objects   []detection.Object
	Frames    int
}

// ArchiveService writes annotated outputs to the output directory, records
// them in the database and keeps the directory under its size limit.
type ArchiveService struct {
	outputDir     string
	maxBytes      int64
	interval      time.Duration
	resultRepo    repository.ResultRepository
	detectionRepo repository.DetectionRepository
	logger        *logger.Logger

	// mu serialises name allocation so two outputs in the same second get
	// distinct names. It also guards pending.
	mu sync.Mutex
	// pending holds names reserved but not yet committed or released.
	pending map[string]struct{}
}

// NewArchiveService creates an ArchiveService and ensures the output directory exists.
func NewArchiveService(cfg *config.Config, log *logger.Logger, resultRepo repository.ResultRepository, detectionRepo repository.DetectionRepository) (*ArchiveService, error) {
	if err := os.MkdirAll(cfg.OutputDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &ArchiveService{
		outputDir:     cfg.OutputDirectory,
		maxBytes:      cfg.MaxOutputDirBytes(),
		interval:      cfg.RetentionInterval,
		resultRepo:    resultRepo,
		detectionRepo: detectionRepo,
		logger:        log.With("archive"),
		pending:       make(map[string]struct{}),
	}, nil
}

// Dir returns the output directory.
func (s *ArchiveService) Dir() string { return s.outputDir }

// MaxBytes returns the configured size limit, 0 when unlimited.
func (s *ArchiveService) MaxBytes() int64 { return s.maxBytes }

// Reserve allocates a unique output file for prefix and ext and creates it
// empty, so concurrent callers never share a name. The file stays pending,
// and is skipped by Clear, until Commit or Release.
func (s *ArchiveService) Reserve(prefix, ext string, ts time.Time) (name, path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := media.OutputName(prefix, ext, ts)
	for n := 0; ; n++ {
		name = media.WithSuffix(base, n)
		path = filepath.Join(s.outputDir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("failed to create output file: %w", err)
		}
		f.Close()
		s.pending[name] = struct{}{}
		return name, path, nil
	}
}

// Release abandons a reservation and removes its file.
func (s *ArchiveService) Release(name string) {
	s.mu.Lock()
	delete(s.pending, name)
	s.mu.Unlock()

	path := filepath.Join(s.outputDir, name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warning("Failed to remove abandoned output %s: %v", name, err)
	}
}

func (s *ArchiveService) isPending(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[name]
	return ok
}

// SaveImage encodes img as PNG under a fresh name and records it.
func (s *ArchiveService) SaveImage(img image.Image, prefix string, e Entry) (*model.Result, error) {
	name, path, err := s.Reserve(prefix, ".png", e.Timestamp)
	if err != nil {
		return nil, err
	}

	if err := writePNG(path, img); err != nil {
		s.Release(name)
		return nil, err
	}

	res, err := s.Commit(name, e)
	if err != nil {
		s.Release(name)
		return nil, err
	}
	return res, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return f.Close()
}

// Commit records an already written output file and its detections and
// ends its reservation.
func (s *ArchiveService) Commit(name string, e Entry) (*model.Result, error) {
	s.mu.Lock()
	delete(s.pending, name)
	s.mu.Unlock()

	path := filepath.Join(s.outputDir, name)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat output: %w", err)
	}

	res := &model.Result{
		Filename:    name,
		SessionID:   e.SessionID,
		Source:      e.Source,
		Timestamp:   e.Timestamp,
		FilePath:    path,
		FileSize:    info.Size(),
		ObjectCount: len(e.Objects),
		Frames:      e.Frames,
	}
	if res.Frames <= 0 {
		res.Frames = 1
	}

	id, err := s.resultRepo.Insert(res)
	if err != nil {
		return nil, fmt.Errorf("failed to record result: %w", err)
	}
	res.ID = id

	if len(e.Objects) > 0 {
		dets := make([]model.Detection, 0, len(e.Objects))
		for _, obj := range e.Objects {
			dets = append(dets, model.Detection{
				ResultID:   id,
				Label:      obj.Label,
				Confidence: obj.Confidence,
				X:          obj.Box.Min.X,
				Y:          obj.Box.Min.Y,
				Width:      obj.Box.Dx(),
				Height:     obj.Box.Dy(),
			})
		}
		if err := s.detectionRepo.InsertBatch(dets); err != nil {
			s.logger.Error("Error saving detections for %s: %v", name, err)
		}
	}

	s.logger.Info("Archived %s (%d objects, %d bytes)", name, res.ObjectCount, res.FileSize)
	return res, nil
}

// Path resolves a result name to its file, rejecting names with path elements.
func (s *ArchiveService) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.ContainsRune(name, 0) {
		return "", ErrInvalidName
	}
	path := filepath.Join(s.outputDir, name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", ErrResultNotFound
		}
		return "", err
	}
	return path, nil
}

// List returns one page of results matching filter and the total match count.
func (s *ArchiveService) List(filter *dto.ResultFilters) ([]dto.ResultInfo, int, error) {
	results, err := s.resultRepo.GetAll(filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.resultRepo.GetTotalCount(filter)
	if err != nil {
		s.logger.Error("Error counting results: %v", err)
		total = len(results)
	}

	infos := make([]dto.ResultInfo, 0, len(results))
	for _, res := range results {
		labels, err := s.detectionRepo.GetLabelsByResultID(res.ID)
		if err != nil {
			s.logger.Error("Error getting labels for result %d: %v", res.ID, err)
		}
		infos = append(infos, infoOf(res, labels))
	}
	return infos, total, nil
}

func infoOf(res model.Result, labels []string) dto.ResultInfo {
	if labels == nil {
		labels = []string{}
	}
	return dto.ResultInfo{
		Name:        res.Filename,
		Source:      res.Source,
		Date:        res.Timestamp,
		TimeOfDay:   res.Timestamp,
		ObjectCount: res.ObjectCount,
		Frames:      res.Frames,
		Labels:      labels,
		Size:        res.FileSize,
	}
}

// Labels returns every label present in the archive.
func (s *ArchiveService) Labels() ([]string, error) {
	return s.detectionRepo.GetAllLabels()
}

// Stats returns archive statistics.
func (s *ArchiveService) Stats() (*model.ResultStats, error) {
	return s.resultRepo.GetStats()
}

// Size returns the total size of archived outputs in bytes.
func (s *ArchiveService) Size() (int64, error) {
	return s.resultRepo.GetTotalSize()
}

// Delete removes one result from disk and database.
func (s *ArchiveService) Delete(name string) error {
	if name == "" || name != filepath.Base(name) {
		return ErrInvalidName
	}
	if s.isPending(name) {
		return ErrResultNotFound
	}
	res, err := s.resultRepo.GetByFilename(name)
	if err != nil {
		return err
	}
	path := filepath.Join(s.outputDir, name)
	if _, statErr := os.Stat(path); res == nil && os.IsNotExist(statErr) {
		return ErrResultNotFound
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Error("Failed to delete file %s: %v", path, err)
	}
	if res != nil {
		if err := s.resultRepo.Delete(res.ID); err != nil {
			return fmt.Errorf("failed to delete from database: %w", err)
		}
	}
	s.logger.Info("Deleted result: %s", name)
	return nil
}

// Detail returns one recorded result with its detected objects.
func (s *ArchiveService) Detail(name string) (*dto.ResultDetail, error) {
	if name == "" || name != filepath.Base(name) {
		return nil, ErrInvalidName
	}
	res, err := s.resultRepo.GetByFilename(name)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrResultNotFound
	}
	dets, err := s.detectionRepo.GetByResultID(res.ID)
	if err != nil {
		return nil, err
	}

	detail := &dto.ResultDetail{
		Result:    infoOf(*res, nil),
		SessionID: res.SessionID,
		Objects:   make([]dto.ObjectInfo, 0, len(dets)),
	}
	seen := make(map[string]bool)
	for _, d := range dets {
		detail.Objects = append(detail.Objects, dto.ObjectInfo{
			Label:      d.Label,
			Confidence: d.Confidence,
			X:          d.X,
			Y:          d.Y,
			Width:      d.Width,
			Height:     d.Height,
		})
		if !seen[d.Label] {
			seen[d.Label] = true
			detail.Result.Labels = append(detail.Result.Labels, d.Label)
		}
	}
	sort.Strings(detail.Result.Labels)
	return detail, nil
}

// Clear deletes every file in the output directory and empties the database.
// Outputs still being written are kept.
func (s *ArchiveService) Clear() error {
	files, err := os.ReadDir(s.outputDir)
	if err != nil {
		return fmt.Errorf("unable to read output directory: %w", err)
	}

	for _, file := range files {
		if !file.IsDir() && !s.isPending(file.Name()) {
			if err := os.Remove(filepath.Join(s.outputDir, file.Name())); err != nil {
				s.logger.Error("Error deleting file %s: %v", file.Name(), err)
			}
		}
	}

	if err := s.resultRepo.DeleteAll(); err != nil {
		return fmt.Errorf("error clearing database: %w", err)
	}
	s.logger.Info("All results cleared from directory: %s", s.outputDir)
	return nil
}

// Prune deletes the oldest results until the archive fits its size limit.
func (s *ArchiveService) Prune() (int, error) {
	if s.maxBytes <= 0 {
		return 0, nil
	}
	size, err := s.resultRepo.GetTotalSize()
	if err != nil {
		return 0, err
	}

	removed := 0
	for size > s.maxBytes {
		oldest, err := s.resultRepo.GetOldest(20)
		if err != nil {
			return removed, err
		}
		if len(oldest) == 0 {
			break
		}
		for _, res := range oldest {
			if size <= s.maxBytes {
				break
			}
			if err := os.Remove(res.FilePath); err != nil && !os.IsNotExist(err) {
				s.logger.Error("Failed to delete file %s: %v", res.FilePath, err)
			}
			if err := s.resultRepo.Delete(res.ID); err != nil {
				return removed, err
			}
			size -= res.FileSize
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("Retention removed %d results, archive now %d bytes", removed, size)
	}
	return removed, nil
}

// Run starts a ticker loop that periodically enforces the size limit.
func (s *ArchiveService) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Prune(); err != nil {
				s.logger.Error("Retention pass failed: %v", err)
			}
		}
	}
}

// Reindex scans the output directory and records files the database does
// not know about yet.
func (s *ArchiveService) Reindex() (added, skipped int, err error) {
	files, err := os.ReadDir(s.outputDir)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read output directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || s.isPending(file.Name()) {
			continue
		}
		name := file.Name()
		exists, err := s.resultRepo.Exists(name)
		if err != nil {
			return added, skipped, err
		}
		if exists {
			continue
		}

		source, ts, err := media.ParseOutputName(name)
		if err != nil {
			s.logger.Warning("Skipping %s: %v", name, err)
			skipped++
			continue
		}
		if _, err := s.Commit(name, Entry{Source: source, Timestamp: ts}); err != nil {
			s.logger.Warning("Skipping %s: %v", name, err)
			skipped++
			continue
		}
		added++
	}
	return added, skipped, nil
}
