package media

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	ImageOutputPrefix = "detection_results"
	VideoOutputPrefix = "detection_video"
	WebcamPrefix      = "detection_webcam"

	nameTimeLayout = "20060102_150405"
)

// OutputName builds the download name of an annotated output, e.g.
// detection_results_20250615_143000.png.
func OutputName(prefix, ext string, t time.Time) string {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%s_%s%s", prefix, t.Format(nameTimeLayout), ext)
}

// WithSuffix inserts _n before the extension to disambiguate names created
// within the same second.
func WithSuffix(name string, n int) string {
	if n <= 0 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n, ext)
}

// ParseOutputName recovers the source kind and timestamp from an output name.
func ParseOutputName(name string) (source string, ts time.Time, err error) {
	base := strings.TrimSuffix(name, filepath.Ext(name))

	for prefix, src := range map[string]string{
		ImageOutputPrefix: string(KindImage),
		VideoOutputPrefix: string(KindVideo),
		WebcamPrefix:      "webcam",
	} {
		if !strings.HasPrefix(base, prefix+"_") {
			continue
		}
		rest := strings.TrimPrefix(base, prefix+"_")
		if len(rest) < len(nameTimeLayout) {
			return "", time.Time{}, fmt.Errorf("invalid output name %q", name)
		}
		ts, err = time.ParseInLocation(nameTimeLayout, rest[:len(nameTimeLayout)], time.Local)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("failed to parse timestamp of %q: %w", name, err)
		}
		return src, ts, nil
	}
	return "", time.Time{}, fmt.Errorf("invalid output name %q", name)
}
