package handler

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"queuewatch/internal/logger"
	"queuewatch/internal/service"
	"queuewatch/internal/session"
)

// multipartMemory is how much of a multipart body is kept in memory before spilling to disk.
const multipartMemory = 32 << 20

// detectResponse is an outcome plus the annotated image as a base64 PNG.
type detectResponse struct {
	*service.Outcome
	Image string `json:"image,omitempty"`
}

func newDetectResponse(outcome *service.Outcome, log *logger.Logger) detectResponse {
	resp := detectResponse{Outcome: outcome}
	if outcome.Annotated != nil {
		encoded, err := encodePNG(outcome.Annotated)
		if err != nil {
			log.Error("Failed to encode annotated image: %v", err)
		}
		resp.Image = encoded
	}
	return resp
}

func encodePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// parseOverrides reads the optional per-call confidence and iou form values.
func parseOverrides(r *http.Request) (service.Overrides, error) {
	var ov service.Overrides
	fields := []struct {
		key string
		dst **float64
	}{
		{"confidence", &ov.Confidence},
		{"iou", &ov.IOU},
	}
	for _, f := range fields {
		raw := r.FormValue(f.key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return ov, fmt.Errorf("%w: %s must be a number", session.ErrInvalidSettings, f.key)
		}
		*f.dst = &v
	}
	return ov, nil
}

// openUpload limits the body to maxBytes and returns the multipart "file" part.
func openUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) (multipart.File, *multipart.FileHeader, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, fmt.Errorf("%w: limit is %d bytes", errTooLarge, tooLarge.Limit)
		}
		return nil, nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, errMissingFile
	}
	return file, header, nil
}

// DetectImageHandler runs detection on an uploaded image and aggregates the
// result into the caller's session.
func DetectImageHandler(manager *service.Manager, maxBytes int64, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := currentSession(w, r, logger)
		if !ok {
			return
		}

		file, header, err := openUpload(w, r, maxBytes)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		defer file.Close()

		ov, err := parseOverrides(r)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, logger, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}

		outcome, err := manager.ProcessImage(r.Context(), s, header.Filename, data, ov)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, newDetectResponse(outcome, logger))
	}
}

// DetectWebcamHandler runs detection on a raw frame posted by the browser's
// webcam capture.
func DetectWebcamHandler(manager *service.Manager, maxBytes int64, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := currentSession(w, r, logger)
		if !ok {
			return
		}

		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, logger, errTooLarge)
				return
			}
			writeError(w, logger, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}

		outcome, err := manager.ProcessWebcam(r.Context(), s, data)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, newDetectResponse(outcome, logger))
	}
}

// DetectVideoHandler queues an uploaded video and answers 202 with the job.
func DetectVideoHandler(manager *service.Manager, maxBytes int64, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := currentSession(w, r, logger)
		if !ok {
			return
		}

		file, header, err := openUpload(w, r, maxBytes)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		defer file.Close()

		job, err := manager.SubmitVideo(s, header.Filename, file)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		w.Header().Set("Location", "/api/jobs?id="+job.ID)
		writeJSON(w, logger, http.StatusAccepted, job.Status())
	}
}
