package storage

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queuewatch/internal/config"
	"queuewatch/internal/detection"
	"queuewatch/internal/dto"
	"queuewatch/internal/logger"
	"queuewatch/internal/media"
	"queuewatch/internal/repository/sqlite"
)

func newTestArchive(t *testing.T) *ArchiveService {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{OutputDirectory: filepath.Join(dir, "outputs")}
	s, err := NewArchiveService(cfg, logger.Discard(), sqlite.NewResultRepository(db), sqlite.NewDetectionRepository(db))
	require.NoError(t, err)
	return s
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	img.Set(1, 1, color.RGBA{G: 255, A: 255})
	return img
}

func TestArchive_SaveImage(t *testing.T) {
	s := newTestArchive(t)
	ts := time.Date(2025, 6, 15, 14, 30, 0, 0, time.Local)

	res, err := s.SaveImage(testImage(), media.ImageOutputPrefix, Entry{
		SessionID: "sess",
		Source:    "image",
		Timestamp: ts,
		Objects: []detection.Object{
			{Label: "person", Confidence: 0.9, Box: image.Rect(1, 2, 11, 22)},
			{Label: "car", Confidence: 0.7, Box: image.Rect(0, 0, 5, 5)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "detection_results_20250615_143000.png", res.Filename)
	assert.Equal(t, 2, res.ObjectCount)
	assert.Positive(t, res.FileSize)

	path, err := s.Path(res.Filename)
	require.NoError(t, err)
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	_, format, err := image.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, "png", format)

	infos, total, err := s.List(&dto.ResultFilters{Label: "person"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, infos, 1)
	assert.Equal(t, []string{"car", "person"}, infos[0].Labels)
	assert.Equal(t, "image", infos[0].Source)
}

func TestArchive_SameSecondNamesAreUnique(t *testing.T) {
	s := newTestArchive(t)
	ts := time.Date(2025, 6, 15, 14, 30, 0, 0, time.Local)

	var mu sync.Mutex
	names := map[string]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name, _, err := s.Reserve(media.VideoOutputPrefix, ".mp4", ts)
			assert.NoError(t, err)
			mu.Lock()
			names[name] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, names, 5)
	assert.True(t, names["detection_video_20250615_143000.mp4"])
	assert.True(t, names["detection_video_20250615_143000_4.mp4"])
}

func TestArchive_PathRejectsTraversal(t *testing.T) {
	s := newTestArchive(t)

	for _, name := range []string{"", "../secret.png", "/etc/passwd", "a/b.png", ".hidden", "file\x00name.png"} {
		_, err := s.Path(name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
	_, err := s.Path("detection_results_20250101_000000.png")
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestArchive_DeleteAndClear(t *testing.T) {
	s := newTestArchive(t)
	now := time.Now()

	a, err := s.SaveImage(testImage(), media.ImageOutputPrefix, Entry{Source: "image", Timestamp: now})
	require.NoError(t, err)
	_, err = s.SaveImage(testImage(), media.WebcamPrefix, Entry{Source: "webcam", Timestamp: now})
	require.NoError(t, err)

	require.NoError(t, s.Delete(a.Filename))
	assert.NoFileExists(t, a.FilePath)
	assert.ErrorIs(t, s.Delete(a.Filename), ErrResultNotFound)
	assert.ErrorIs(t, s.Delete("../x"), ErrInvalidName)

	require.NoError(t, s.Clear())
	_, total, err := s.List(&dto.ResultFilters{})
	require.NoError(t, err)
	assert.Zero(t, total)
	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestArchive_ClearKeepsReservedOutputs(t *testing.T) {
	s := newTestArchive(t)
	now := time.Now()

	_, err := s.SaveImage(testImage(), media.ImageOutputPrefix, Entry{Source: "image", Timestamp: now})
	require.NoError(t, err)
	name, path, err := s.Reserve(media.VideoOutputPrefix, ".mp4", now)
	require.NoError(t, err)

	require.NoError(t, s.Clear())
	assert.FileExists(t, path, "a video still being written survives Clear")
	assert.ErrorIs(t, s.Delete(name), ErrResultNotFound)

	require.NoError(t, os.WriteFile(path, []byte("video"), 0644))
	res, err := s.Commit(name, Entry{Source: "video", Timestamp: now, Frames: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Frames)

	require.NoError(t, s.Clear())
	assert.NoFileExists(t, path, "committed outputs are cleared")

	name, path, err = s.Reserve(media.VideoOutputPrefix, ".mp4", now)
	require.NoError(t, err)
	s.Release(name)
	assert.NoFileExists(t, path)
	_, err = s.Commit(name, Entry{Source: "video", Timestamp: now})
	assert.Error(t, err)
}

func TestArchive_Detail(t *testing.T) {
	s := newTestArchive(t)

	res, err := s.SaveImage(testImage(), media.ImageOutputPrefix, Entry{
		SessionID: "sess",
		Source:    "image",
		Timestamp: time.Now(),
		Objects: []detection.Object{
			{Label: "person", Confidence: 0.9, Box: image.Rect(1, 2, 11, 22)},
			{Label: "car", Confidence: 0.7, Box: image.Rect(0, 0, 5, 5)},
			{Label: "person", Confidence: 0.6, Box: image.Rect(3, 3, 4, 4)},
		},
	})
	require.NoError(t, err)

	detail, err := s.Detail(res.Filename)
	require.NoError(t, err)
	assert.Equal(t, "sess", detail.SessionID)
	assert.Equal(t, res.Filename, detail.Result.Name)
	assert.Equal(t, 3, detail.Result.ObjectCount)
	assert.Equal(t, []string{"car", "person"}, detail.Result.Labels)
	require.Len(t, detail.Objects, 3)
	assert.Equal(t, dto.ObjectInfo{Label: "person", Confidence: 0.9, X: 1, Y: 2, Width: 10, Height: 20}, detail.Objects[0])

	_, err = s.Detail("detection_results_20990101_000000.png")
	assert.ErrorIs(t, err, ErrResultNotFound)
	_, err = s.Detail("../x.png")
	assert.ErrorIs(t, err, ErrInvalidName)

	require.NoError(t, s.Delete(res.Filename))
	_, err = s.Detail(res.Filename)
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestArchive_PruneRemovesOldestFirst(t *testing.T) {
	s := newTestArchive(t)
	base := time.Now().Add(-time.Hour)

	var saved []string
	for i := 0; i < 4; i++ {
		res, err := s.SaveImage(testImage(), media.ImageOutputPrefix, Entry{Source: "image", Timestamp: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
		saved = append(saved, res.Filename)
	}
	size, err := s.Size()
	require.NoError(t, err)
	perFile := size / 4

	s.maxBytes = 2 * perFile
	removed, err := s.Prune()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = s.Path(saved[0])
	assert.ErrorIs(t, err, ErrResultNotFound)
	_, err = s.Path(saved[1])
	assert.ErrorIs(t, err, ErrResultNotFound)
	_, err = s.Path(saved[3])
	assert.NoError(t, err)

	s.maxBytes = 0
	removed, err = s.Prune()
	require.NoError(t, err)
	assert.Zero(t, removed, "no limit means no pruning")
}

func TestArchive_Reindex(t *testing.T) {
	s := newTestArchive(t)
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local)

	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), media.OutputName(media.VideoOutputPrefix, ".mp4", ts)), []byte("video"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "holiday.png"), []byte("x"), 0644))

	added, skipped, err := s.Reindex()
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, skipped)

	infos, _, err := s.List(&dto.ResultFilters{Source: "video"})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.True(t, ts.Equal(infos[0].Date))

	added, _, err = s.Reindex()
	require.NoError(t, err)
	assert.Zero(t, added, "known files are not added twice")
}
