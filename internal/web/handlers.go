package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"

	"github.com/menta2k/parcel-matcher/internal/logging"
	"github.com/menta2k/parcel-matcher/pkg/cropper"
	"github.com/menta2k/parcel-matcher/pkg/detection"
	"github.com/menta2k/parcel-matcher/pkg/processing"
	"github.com/menta2k/parcel-matcher/pkg/similarity"
	"github.com/menta2k/parcel-matcher/pkg/types"
)

// MatchResponse is the body of POST /api/v1/match
type MatchResponse struct {
	*types.MatchResult
	// Identifier is AWB without its line terminator
	Identifier string `json:"identifier,omitempty"`
}

// DetectResponse is the body of POST /api/v1/detect
type DetectResponse struct {
	processing.ImageInfo
	Detections []types.Detection `json:"detections"`
}

// errBadUpload marks client mistakes in the multipart body
var errBadUpload = errors.New("bad upload")

// sanitizeForLog removes newlines and carriage returns to prevent log injection
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health handles the health check endpoint
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Match compares the multipart files "query" and "reference"
func (s *Server) Match(w http.ResponseWriter, r *http.Request) {
	imgs, err := s.readImages(w, r, "query", "reference")
	if err != nil {
		respondUploadError(w, err)
		return
	}

	s.mu.Lock()
	result, err := s.matcher.Match(r.Context(), imgs[0], imgs[1])
	s.mu.Unlock()
	if err != nil {
		respondPipelineError(w, err)
		return
	}

	logging.Debugf("match %s: similarity %.4f match=%t", result.ID, result.Decision.Similarity, result.Decision.Match)
	respondJSON(w, http.StatusOK, MatchResponse{
		MatchResult: result,
		Identifier:  strings.TrimRight(result.AWB, "\r\n"),
	})
}

// Detect runs only the detector on the multipart file "file"
func (s *Server) Detect(w http.ResponseWriter, r *http.Request) {
	imgs, err := s.readImages(w, r, "file")
	if err != nil {
		respondUploadError(w, err)
		return
	}

	s.mu.Lock()
	dets, err := s.matcher.Detect(r.Context(), imgs[0])
	s.mu.Unlock()
	if err != nil {
		respondPipelineError(w, err)
		return
	}
	if dets == nil {
		dets = []types.Detection{}
	}

	respondJSON(w, http.StatusOK, DetectResponse{
		ImageInfo:  s.processor.GetImageInfo(imgs[0]),
		Detections: dets,
	})
}

// readImages decodes one image per named multipart field
func (s *Server) readImages(w http.ResponseWriter, r *http.Request, fields ...string) ([]image.Image, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		return nil, err
	}
	defer r.MultipartForm.RemoveAll()

	imgs := make([]image.Image, 0, len(fields))
	for _, field := range fields {
		file, header, err := r.FormFile(field)
		if err != nil {
			return nil, fmt.Errorf("%w: %s is required", errBadUpload, field)
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", errBadUpload, field, err)
		}

		img, err := s.processor.DecodeImage(data)
		if err != nil {
			logging.Debugf("decode %s (%s) failed: %v", field, sanitizeForLog(header.Filename), err)
			return nil, fmt.Errorf("%w: %s: %v", errBadUpload, field, err)
		}
		if err := s.processor.ValidateImage(img, processing.MinImageSize); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", errBadUpload, field, err)
		}
		imgs = append(imgs, img)
	}
	return imgs, nil
}

func respondUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
	case errors.Is(err, errBadUpload):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
	}
}

// respondPipelineError maps pipeline failures to status codes
func respondPipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cropper.ErrNoDetections),
		errors.Is(err, cropper.ErrEmptyCrop),
		errors.Is(err, similarity.ErrZeroMagnitude):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, detection.ErrModelUnavailable):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logging.Printf("pipeline error: %v", err)
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
