// Package media validates uploads at the service boundary and runs the
// frame-by-frame video pipeline.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	// ErrUnsupportedFormat rejects files whose type is not accepted at all.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrUnreadableContent rejects accepted file types whose content is corrupt.
	ErrUnreadableContent = errors.New("unreadable content")
)

// Kind is the upload category.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true,
}

// KindOf classifies a filename by extension.
func KindOf(filename string) (Kind, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case imageExtensions[ext]:
		return KindImage, nil
	case videoExtensions[ext]:
		return KindVideo, nil
	case ext == "":
		return "", fmt.Errorf("%w: %q has no extension", ErrUnsupportedFormat, filename)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

// DecodeImage validates and decodes an uploaded image. The filename only
// decides whether the type is accepted; the content decides the format.
func DecodeImage(filename string, data []byte) (image.Image, string, error) {
	kind, err := KindOf(filename)
	if err != nil {
		return nil, "", err
	}
	if kind != KindImage {
		return nil, "", fmt.Errorf("%w: expected an image, got %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}
	return DecodeFrame(data)
}

// DecodeFrame decodes a raw image body such as a webcam frame.
func DecodeFrame(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty file", ErrUnreadableContent)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnreadableContent, err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, "", fmt.Errorf("%w: image has no pixels", ErrUnreadableContent)
	}
	return img, format, nil
}

// CheckVideo validates an uploaded video by extension and container magic.
// header should hold at least the first 12 bytes of the file.
func CheckVideo(filename string, header []byte) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !videoExtensions[ext] {
		return fmt.Errorf("%w: %s is not a supported video type", ErrUnsupportedFormat, ext)
	}
	if len(header) < 12 {
		return fmt.Errorf("%w: file too short", ErrUnreadableContent)
	}

	switch ext {
	case ".avi":
		if !bytes.Equal(header[0:4], []byte("RIFF")) || !bytes.Equal(header[8:12], []byte("AVI ")) {
			return fmt.Errorf("%w: missing AVI header", ErrUnreadableContent)
		}
	default:
		// ISO base media (MP4) and QuickTime (MOV) start with a sized box.
		switch string(header[4:8]) {
		case "ftyp", "moov", "mdat", "wide", "free", "skip":
		default:
			return fmt.Errorf("%w: missing %s container header", ErrUnreadableContent, strings.TrimPrefix(ext, "."))
		}
	}
	return nil
}
