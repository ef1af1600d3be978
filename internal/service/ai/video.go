package ai

import (
	"fmt"
	"image"
	"io"

	"gocv.io/x/gocv"

	"queuewatch/internal/media"
)

// VideoSource reads frames from a video file.
type VideoSource struct {
	capture *gocv.VideoCapture
	frame   gocv.Mat
	count   int
	fps     float64
	size    image.Point
	closed  bool
}

// OpenVideo opens path for frame-by-frame reading.
func OpenVideo(path string) (*VideoSource, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %w", path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("failed to open video %s", path)
	}

	fps := capture.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = 25
	}
	return &VideoSource{
		capture: capture,
		frame:   gocv.NewMat(),
		count:   int(capture.Get(gocv.VideoCaptureFrameCount)),
		fps:     fps,
		size: image.Pt(
			int(capture.Get(gocv.VideoCaptureFrameWidth)),
			int(capture.Get(gocv.VideoCaptureFrameHeight)),
		),
	}, nil
}

// Next decodes the next frame, returning io.EOF at the end of the stream.
func (v *VideoSource) Next() (image.Image, error) {
	if ok := v.capture.Read(&v.frame); !ok || v.frame.Empty() {
		return nil, io.EOF
	}
	img, err := v.frame.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	return img, nil
}

func (v *VideoSource) FrameCount() int   { return v.count }
func (v *VideoSource) FPS() float64      { return v.fps }
func (v *VideoSource) Size() image.Point { return v.size }

// Close releases the capture.
func (v *VideoSource) Close() error {
	if v.closed {
		return nil
	}
	v.closed = true
	v.frame.Close()
	return v.capture.Close()
}

// VideoSink encodes annotated frames into an MP4 file.
type VideoSink struct {
	writer *gocv.VideoWriter
	size   image.Point
	closed bool
}

// CreateVideo opens an mp4v writer at path.
func CreateVideo(path string, fps float64, size image.Point) (*VideoSink, error) {
	writer, err := gocv.VideoWriterFile(path, "mp4v", fps, size.X, size.Y, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create video %s: %w", path, err)
	}
	if !writer.IsOpened() {
		writer.Close()
		return nil, fmt.Errorf("failed to create video %s", path)
	}
	return &VideoSink{writer: writer, size: size}, nil
}

// Write appends one frame, resizing it to the output size when needed.
func (v *VideoSink) Write(frame image.Image) error {
	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return fmt.Errorf("failed to convert frame: %w", err)
	}
	defer mat.Close()

	if mat.Cols() != v.size.X || mat.Rows() != v.size.Y {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(mat, &resized, v.size, 0, 0, gocv.InterpolationLinear)
		return v.writer.Write(resized)
	}
	return v.writer.Write(mat)
}

// Close finalizes the container. Further calls are no-ops.
func (v *VideoSink) Close() error {
	if v.closed {
		return nil
	}
	v.closed = true
	return v.writer.Close()
}

// VideoIO opens video files through OpenCV.
type VideoIO struct{}

func (VideoIO) Open(path string) (media.FrameSource, error) {
	src, err := OpenVideo(path)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (VideoIO) Create(path string, fps float64, size image.Point) (media.FrameSink, error) {
	sink, err := CreateVideo(path, fps, size)
	if err != nil {
		return nil, err
	}
	return sink, nil
}
