package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"queuewatch/internal/analytics"
	"queuewatch/internal/detection"
)

// FrameSource yields decoded video frames in order. Next returns io.EOF
// after the last frame.
type FrameSource interface {
	Next() (image.Image, error)
	// FrameCount is the container's frame count, 0 when unknown.
	FrameCount() int
	FPS() float64
	Size() image.Point
	Close() error
}

// FrameSink receives annotated frames in order.
type FrameSink interface {
	Write(frame image.Image) error
	Close() error
}

// Progress is reported after every written frame.
type Progress struct {
	Processed int     `json:"processed"`
	Total     int     `json:"total"`
	Fraction  float64 `json:"fraction"`
}

func newProgress(processed, total int) Progress {
	p := Progress{Processed: processed, Total: total}
	if total > 0 {
		p.Fraction = float64(processed) / float64(total)
		if p.Fraction > 1 {
			p.Fraction = 1
		}
	}
	return p
}

// VideoError reports a video that could not be fully processed. The
// partial output has already been removed when it is returned.
type VideoError struct {
	Processed int
	Total     int
	Err       error
}

func (e *VideoError) Error() string {
	if e.Processed == 0 {
		return fmt.Sprintf("video processing failed, no frames processed: %v", e.Err)
	}
	total := "?"
	if e.Total > 0 {
		total = fmt.Sprint(e.Total)
	}
	return fmt.Sprintf("video processing failed, %d of %s frames processed: %v", e.Processed, total, e.Err)
}

func (e *VideoError) Unwrap() error { return e.Err }

// ErrEmptyVideo is returned for a container without a single decodable frame.
var ErrEmptyVideo = errors.New("video contains no frames")

// VideoJob is one video run.
type VideoJob struct {
	Source     FrameSource
	Sink       FrameSink
	OutputPath string
	Options    detection.Options
	// OnProgress may be nil.
	OnProgress func(Progress)
}

// VideoResult holds the per-frame detections in frame order.
type VideoResult struct {
	Frames     []analytics.Frame
	Total      int
	OutputPath string
	Elapsed    time.Duration
}

// VideoPipeline detects up to Parallelism frames concurrently and writes
// them strictly in frame order. Cancellation is checked at every frame.
type VideoPipeline struct {
	Invoker     detection.Invoker
	Parallelism int
	// Now stamps frames; defaults to time.Now.
	Now func() time.Time
}

// Run processes the whole job. On any failure the sink is closed, the
// output file removed and a *VideoError returned.
func (p *VideoPipeline) Run(ctx context.Context, job VideoJob) (*VideoResult, error) {
	start := time.Now()
	now := p.Now
	if now == nil {
		now = time.Now
	}
	batchSize := p.Parallelism
	if batchSize < 1 {
		batchSize = 1
	}

	total := job.Source.FrameCount()
	frames := make([]analytics.Frame, 0, total)

	fail := func(err error) (*VideoResult, error) {
		job.Sink.Close()
		if job.OutputPath != "" {
			if rmErr := os.Remove(job.OutputPath); rmErr != nil && !os.IsNotExist(rmErr) {
				err = errors.Join(err, fmt.Errorf("failed to remove partial output: %w", rmErr))
			}
		}
		return nil, &VideoError{Processed: len(frames), Total: total, Err: err}
	}

	eof := false
	for !eof {
		batch := make([]image.Image, 0, batchSize)
		for len(batch) < batchSize {
			if err := ctx.Err(); err != nil {
				return fail(err)
			}
			img, err := job.Source.Next()
			if errors.Is(err, io.EOF) {
				eof = true
				break
			}
			if err != nil {
				return fail(fmt.Errorf("failed to read frame %d: %w", len(frames)+len(batch)+1, err))
			}
			batch = append(batch, img)
		}
		if len(batch) == 0 {
			break
		}

		results := make([]*detection.Result, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		for i, img := range batch {
			i, img := i, img
			g.Go(func() error {
				res, err := p.Invoker.Detect(gctx, img, job.Options)
				if err != nil {
					return fmt.Errorf("frame %d: %w", len(frames)+i+1, err)
				}
				if err := detection.CheckResult(res); err != nil {
					return fmt.Errorf("frame %d: %w", len(frames)+i+1, err)
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fail(err)
		}

		for _, res := range results {
			if err := ctx.Err(); err != nil {
				return fail(err)
			}
			if err := job.Sink.Write(res.Annotated); err != nil {
				return fail(fmt.Errorf("failed to write frame %d: %w", len(frames)+1, err))
			}
			frames = append(frames, analytics.Frame{Objects: res.Objects, At: now()})
			if job.OnProgress != nil {
				job.OnProgress(newProgress(len(frames), total))
			}
		}
	}

	if len(frames) == 0 {
		return fail(ErrEmptyVideo)
	}
	if err := job.Sink.Close(); err != nil {
		// Frames are written but the container may be unplayable.
		if job.OutputPath != "" {
			os.Remove(job.OutputPath)
		}
		return nil, &VideoError{Processed: len(frames), Total: total, Err: fmt.Errorf("failed to finalize output: %w", err)}
	}
	// The container's frame count is an estimate; finish at 100%.
	if job.OnProgress != nil && len(frames) != total {
		job.OnProgress(Progress{Processed: len(frames), Total: len(frames), Fraction: 1})
	}

	return &VideoResult{
		Frames:     frames,
		Total:      len(frames),
		OutputPath: job.OutputPath,
		Elapsed:    time.Since(start),
	}, nil
}
