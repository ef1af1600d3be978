package ai

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"queuewatch/internal/config"
	"queuewatch/internal/detection"
	"queuewatch/internal/logger"
)

var boxColor = color.RGBA{R: 99, G: 102, B: 241, A: 0}

// DetectorService runs an OpenCV DNN model (YOLOv8 ONNX export or an SSD
// graph) and draws the detections onto the frame.
type DetectorService struct {
	modelPath   string
	configPath  string
	classesPath string
	format      string
	inputSize   int

	// mu serialises access to net: gocv.Net is not safe for concurrent Forward calls.
	mu       sync.Mutex
	net      gocv.Net
	loaded   bool
	reason   string
	loadedAt time.Time
	classes  []string

	logger *logger.Logger
}

// NewDetectorService creates a detector and tries to load the model. A
// missing or broken model leaves the service in the unavailable state.
func NewDetectorService(cfg *config.Config, log *logger.Logger) *DetectorService {
	s := &DetectorService{
		modelPath:   cfg.ModelPath,
		configPath:  cfg.ModelConfigPath,
		classesPath: cfg.ModelClassesPath,
		format:      cfg.ModelFormat,
		inputSize:   cfg.ModelInputSize,
		logger:      log.With("detector"),
	}
	if s.inputSize <= 0 {
		s.inputSize = 640
	}

	if err := s.Reload(); err != nil {
		s.logger.Warning("Could not initialize detection network: %v", err)
	}
	return s
}

// Reload (re)loads the network from disk. On failure the previous network,
// if any, stays released and the service reports unavailable.
func (s *DetectorService) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		s.net.Close()
		s.loaded = false
	}

	net, classes, err := s.initializeNet()
	if err != nil {
		s.reason = err.Error()
		return fmt.Errorf("%w: %v", detection.ErrModelUnavailable, err)
	}

	s.net = net
	s.classes = classes
	s.loaded = true
	s.reason = ""
	s.loadedAt = time.Now()
	s.logger.Info("Detection network %s initialized (%s, %d classes)", filepath.Base(s.modelPath), s.format, len(classes))
	return nil
}

// initializeNet loads the DNN network and sets backend/target preferences.
func (s *DetectorService) initializeNet() (gocv.Net, []string, error) {
	if _, err := os.Stat(s.modelPath); err != nil {
		return gocv.Net{}, nil, fmt.Errorf("model file not found: %s", s.modelPath)
	}
	if s.configPath != "" {
		if _, err := os.Stat(s.configPath); err != nil {
			return gocv.Net{}, nil, fmt.Errorf("model config file not found: %s", s.configPath)
		}
	}

	classes, err := loadClasses(s.classesPath, s.format)
	if err != nil {
		return gocv.Net{}, nil, err
	}

	net := gocv.ReadNet(s.modelPath, s.configPath)
	if net.Empty() {
		return gocv.Net{}, nil, fmt.Errorf("failed to load network from %s", s.modelPath)
	}
	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return gocv.Net{}, nil, fmt.Errorf("failed to set preferable backend or target")
	}
	return net, classes, nil
}

// Status reports whether the model is loaded.
func (s *DetectorService) Status() detection.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return detection.Status{
		Available: s.loaded,
		Model:     filepath.Base(s.modelPath),
		Format:    s.format,
		Classes:   len(s.classes),
		Reason:    s.reason,
		LoadedAt:  s.loadedAt,
	}
}

// Detect runs the network on img and returns the annotated frame and the
// objects that survive the confidence threshold and IOU suppression.
func (s *DetectorService) Detect(ctx context.Context, img image.Image, opts detection.Options) (*detection.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("converted image is empty")
	}

	s.mu.Lock()
	if !s.loaded {
		reason := s.reason
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", detection.ErrModelUnavailable, reason)
	}
	start := time.Now()
	var objects []detection.Object
	switch s.format {
	case "ssd":
		objects = s.forwardSSD(mat, opts)
	default:
		objects = s.forwardYOLO(mat, opts)
	}
	elapsed := time.Since(start)
	s.mu.Unlock()

	if err := s.drawDetections(&mat, objects, opts); err != nil {
		return nil, err
	}
	annotated, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert annotated frame: %w", err)
	}

	s.logger.Debug("Detected %d objects in %s", len(objects), elapsed)
	return &detection.Result{Annotated: annotated, Objects: objects, Inference: elapsed}, nil
}

// forwardYOLO handles the YOLOv8 output layout [1, 4+classes, anchors].
func (s *DetectorService) forwardYOLO(mat gocv.Mat, opts detection.Options) []detection.Object {
	// Letterbox into a square so the box scale is uniform.
	maxDim := mat.Cols()
	if mat.Rows() > maxDim {
		maxDim = mat.Rows()
	}
	square := gocv.NewMatWithSize(maxDim, maxDim, gocv.MatTypeCV8UC3)
	defer square.Close()
	roi := square.Region(image.Rect(0, 0, mat.Cols(), mat.Rows()))
	mat.CopyTo(&roi)
	roi.Close()

	scale := float32(maxDim) / float32(s.inputSize)

	blob := gocv.BlobFromImage(square, 1.0/255.0, image.Pt(s.inputSize, s.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 {
		s.logger.Error("Unexpected YOLO output shape %v", dims)
		return nil
	}
	attrs, anchors := dims[1], dims[2]

	var boxes []image.Rectangle
	var scores []float32
	var classIDs []int
	for a := 0; a < anchors; a++ {
		bestClass, bestScore := -1, float32(0)
		for c := 4; c < attrs; c++ {
			if v := output.GetFloatAt3(0, c, a); v > bestScore {
				bestClass, bestScore = c-4, v
			}
		}
		if bestClass < 0 || float64(bestScore) < opts.Confidence {
			continue
		}
		cx := output.GetFloatAt3(0, 0, a)
		cy := output.GetFloatAt3(0, 1, a)
		w := output.GetFloatAt3(0, 2, a)
		h := output.GetFloatAt3(0, 3, a)
		boxes = append(boxes, image.Rect(
			int((cx-w/2)*scale), int((cy-h/2)*scale),
			int((cx+w/2)*scale), int((cy+h/2)*scale),
		).Intersect(image.Rect(0, 0, mat.Cols(), mat.Rows())))
		scores = append(scores, bestScore)
		classIDs = append(classIDs, bestClass)
	}
	return s.suppress(boxes, scores, classIDs, opts)
}

// forwardSSD handles the SSD output layout [1, 1, N, 7] with rows of
// [batch_id, class_id, confidence, x1, y1, x2, y2] in relative coordinates.
func (s *DetectorService) forwardSSD(mat gocv.Mat, opts detection.Options) []detection.Object {
	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(300, 300), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()
	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	defer output.Close()

	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()

	var boxes []image.Rectangle
	var scores []float32
	var classIDs []int
	for i := 0; i < rows.Rows(); i++ {
		confidence := rows.GetFloatAt(i, 2)
		if float64(confidence) < opts.Confidence {
			continue
		}
		x1 := int(rows.GetFloatAt(i, 3) * float32(mat.Cols()))
		y1 := int(rows.GetFloatAt(i, 4) * float32(mat.Rows()))
		x2 := int(rows.GetFloatAt(i, 5) * float32(mat.Cols()))
		y2 := int(rows.GetFloatAt(i, 6) * float32(mat.Rows()))
		boxes = append(boxes, image.Rect(x1, y1, x2, y2))
		scores = append(scores, confidence)
		classIDs = append(classIDs, int(rows.GetFloatAt(i, 1)))
	}
	return s.suppress(boxes, scores, classIDs, opts)
}

// suppress applies non-maximum suppression with the IOU threshold.
func (s *DetectorService) suppress(boxes []image.Rectangle, scores []float32, classIDs []int, opts detection.Options) []detection.Object {
	if len(boxes) == 0 {
		return nil
	}
	indices := gocv.NMSBoxes(boxes, scores, float32(opts.Confidence), float32(opts.IOU))

	objects := make([]detection.Object, 0, len(indices))
	for _, idx := range indices {
		objects = append(objects, detection.Object{
			Label:      classLabel(s.classes, classIDs[idx]),
			Confidence: clamp01(float64(scores[idx])),
			Box:        boxes[idx],
		})
	}
	return objects
}

// drawDetections draws boxes and, depending on opts, label and confidence text.
func (s *DetectorService) drawDetections(mat *gocv.Mat, objects []detection.Object, opts detection.Options) error {
	for _, obj := range objects {
		if err := gocv.Rectangle(mat, obj.Box, boxColor, 2); err != nil {
			return fmt.Errorf("failed to draw rectangle: %w", err)
		}

		text := annotationText(obj, opts)
		if text == "" {
			continue
		}
		pt := image.Pt(obj.Box.Min.X, obj.Box.Min.Y-5)
		if pt.Y < 10 {
			pt.Y = obj.Box.Min.Y + 15
		}
		if err := gocv.PutText(mat, text, pt, gocv.FontHersheySimplex, 0.5, boxColor, 1); err != nil {
			return fmt.Errorf("failed to draw text: %w", err)
		}
	}
	return nil
}

// Close releases the network.
func (s *DetectorService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		s.net.Close()
		s.loaded = false
		s.reason = "detector closed"
	}
}
