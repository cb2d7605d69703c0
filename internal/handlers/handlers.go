package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Brownie44l1/aigen-detector/internal/detector"
	"github.com/Brownie44l1/aigen-detector/internal/logger"
	"github.com/Brownie44l1/aigen-detector/internal/metrics"
	"github.com/Brownie44l1/aigen-detector/internal/model"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"
)

// Detector is the part of *detector.Detector the handlers use.
type Detector interface {
	Detect(ctx context.Context, img image.Image) (*detector.Result, error)
	Loaded() bool
}

// Options bound what Predict accepts. MaxPixels limits width*height and is
// checked from the image header before the pixels are decoded.
type Options struct {
	MaxUploadBytes    int64
	MaxPixels         int64
	AllowedExtensions []string
}

type Handler struct {
	detector Detector
	opts     Options
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
}

func NewHandler(d Detector, opts Options, log logrus.FieldLogger, m *metrics.Metrics) *Handler {
	return &Handler{
		detector: d,
		opts:     opts,
		log:      log,
		metrics:  m,
	}
}

// PredictResponse keeps both key spellings the web client reads.
type PredictResponse struct {
	Real            float64 `json:"real"`
	AIGenerated     float64 `json:"ai_generated"`
	RealProbability float64 `json:"real_probability"`
	AIProbability   float64 `json:"ai_probability"`
	HeatmapImage    *string `json:"heatmap_image"`
	RequestID       string  `json:"request_id,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "AI Image Detection API is running."})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"model_loaded": h.detector.Loaded(),
	})
}

// validationError is reported to the client verbatim with status 400.
type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

func invalid(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), h.log)

	img, err := h.readUpload(w, r)
	if err != nil {
		var vErr *validationError
		if errors.As(err, &vErr) {
			h.metrics.ObserveRequest("bad_request")
			log.WithError(err).Info("rejected upload")
			writeError(w, http.StatusBadRequest, vErr.msg)
			return
		}
		h.metrics.ObserveRequest("error")
		log.WithError(err).Error("failed to read upload")
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	result, err := h.detector.Detect(r.Context(), img)
	if err != nil {
		var preErr *model.PreprocessError
		if errors.As(err, &preErr) {
			h.metrics.ObserveRequest("bad_request")
			log.WithError(err).Info("image could not be preprocessed")
			writeError(w, http.StatusBadRequest, preErr.Error())
			return
		}
		h.metrics.ObserveRequest("error")
		log.WithError(err).Error("prediction error")
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	resp := PredictResponse{
		Real:            result.Probabilities.Real,
		AIGenerated:     result.Probabilities.AIGenerated,
		RealProbability: result.Probabilities.Real,
		AIProbability:   result.Probabilities.AIGenerated,
		RequestID:       RequestIDFrom(r.Context()),
	}
	if result.Heatmap != nil {
		encoded := base64.StdEncoding.EncodeToString(result.Heatmap)
		resp.HeatmapImage = &encoded
	}
	h.metrics.ObserveRequest("ok")
	writeJSON(w, http.StatusOK, resp)
}

// readUpload extracts, validates and decodes the "file" form field.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (image.Image, error) {
	limit := h.opts.MaxUploadBytes
	tooLarge := invalid("Image size exceeds %dMB limit.", limit>>20)

	// Leave room for the multipart envelope around the file.
	bodyLimit := limit + 1<<20
	if r.ContentLength > bodyLimit {
		return nil, tooLarge
	}
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, tooLarge
		}
		return nil, invalid("Failed to parse form")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, invalid("No file provided. Use 'file' as the form field name")
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return h.validateUpload(content, header.Filename)
}

func (h *Handler) validateUpload(content []byte, filename string) (image.Image, error) {
	limit := h.opts.MaxUploadBytes
	if int64(len(content)) > limit {
		return nil, invalid("Image size exceeds %dMB limit.", limit>>20)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if !slices.Contains(h.opts.AllowedExtensions, ext) {
		return nil, invalid("Invalid file type. Allowed: %s", strings.Join(h.opts.AllowedExtensions, ", "))
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(content))
	if err != nil {
		return nil, invalid("Invalid image file content.")
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); h.opts.MaxPixels > 0 && pixels > h.opts.MaxPixels {
		return nil, invalid("Image dimensions %dx%d exceed the %d pixel limit.", cfg.Width, cfg.Height, h.opts.MaxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, invalid("Invalid image file content.")
	}
	return img, nil
}
