package ai

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"queuewatch/internal/detection"
)

// cocoSSDLabels maps the SSD MobileNet COCO ids used when no class file is given.
var cocoSSDLabels = map[int]string{
	1:  "person",
	2:  "bicycle",
	3:  "car",
	4:  "motorcycle",
	5:  "airplane",
	6:  "bus",
	8:  "truck",
	16: "bird",
	17: "cat",
	18: "dog",
}

// loadClasses reads one class name per line. YOLO models need the file;
// SSD falls back to the built-in COCO subset.
func loadClasses(path, format string) ([]string, error) {
	if path == "" {
		if format == "ssd" {
			return nil, nil
		}
		return nil, fmt.Errorf("class names file is required for %s models", format)
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && format == "ssd" {
			return nil, nil
		}
		return nil, fmt.Errorf("could not read class names: %w", err)
	}
	defer f.Close()

	var classes []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" {
			classes = append(classes, name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("could not read class names: %w", err)
	}
	if len(classes) == 0 && format != "ssd" {
		return nil, fmt.Errorf("class names file %s is empty", path)
	}
	return classes, nil
}

// classLabel maps a class id to its name.
func classLabel(classes []string, id int) string {
	if id >= 0 && id < len(classes) {
		return classes[id]
	}
	if label, ok := cocoSSDLabels[id]; ok && len(classes) == 0 {
		return label
	}
	return fmt.Sprintf("class%d", id)
}

// annotationText is the text drawn above a box.
func annotationText(obj detection.Object, opts detection.Options) string {
	switch {
	case opts.ShowLabels && opts.ShowConfidence:
		return fmt.Sprintf("%s %.2f", obj.Label, obj.Confidence)
	case opts.ShowLabels:
		return obj.Label
	case opts.ShowConfidence:
		return fmt.Sprintf("%.2f", obj.Confidence)
	}
	return ""
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
