package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cannaai/pixelprep/internal/domain"
	"github.com/cannaai/pixelprep/internal/id"
	"github.com/cannaai/pixelprep/internal/pipeline"
	"github.com/cannaai/pixelprep/internal/vision"
)

const multipartMemory = 32 << 20

// imageRequest is the JSON body of the synchronous image endpoints. Multipart
// uploads carry the same fields as form values, with options and targets as
// JSON strings.
type imageRequest struct {
	DataURL string            `json:"data_url"`
	UserID  string            `json:"user_id,omitempty"`
	Preset  string            `json:"preset,omitempty"`
	Options pipeline.Options  `json:"options,omitempty"`
	Targets []pipeline.Target `json:"targets,omitempty"`
	Prompt  string            `json:"prompt,omitempty"`
	Detail  string            `json:"detail,omitempty"`
}

type imageInput struct {
	data []byte
	req  imageRequest
}

func (in imageInput) options() (pipeline.Options, error) {
	if strings.TrimSpace(in.req.Preset) == "" {
		return in.req.Options, nil
	}
	preset, err := pipeline.PresetByName(in.req.Preset)
	if err != nil {
		return pipeline.Options{}, err
	}
	return preset.Merge(in.req.Options), nil
}

// readImageInput accepts a multipart "file" field, a JSON body with a
// data_url, or a raw image body.
func (s *Server) readImageInput(w http.ResponseWriter, r *http.Request) (imageInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var in imageInput
	switch {
	case mediaType == "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return imageInput{}, bodyReadError("parse multipart form", err)
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		file, _, err := r.FormFile("file")
		if err != nil {
			return imageInput{}, fmt.Errorf("%w: multipart field \"file\" is required", errBadRequest)
		}
		defer file.Close()
		if in.data, err = io.ReadAll(file); err != nil {
			return imageInput{}, bodyReadError("read upload", err)
		}
		if err := formJSON(r, "options", &in.req.Options); err != nil {
			return imageInput{}, err
		}
		if err := formJSON(r, "targets", &in.req.Targets); err != nil {
			return imageInput{}, err
		}
		in.req.UserID = r.FormValue("user_id")
		in.req.Preset = r.FormValue("preset")
		in.req.Prompt = r.FormValue("prompt")
		in.req.Detail = r.FormValue("detail")

	case mediaType == "" || mediaType == "application/json":
		if err := decodeJSON(r.Body, &in.req); err != nil {
			return imageInput{}, fmt.Errorf("%w: %w", errBadRequest, err)
		}
		if strings.TrimSpace(in.req.DataURL) == "" {
			return imageInput{}, fmt.Errorf("%w: data_url is required", errBadRequest)
		}
		data, _, err := pipeline.DecodeDataURL(in.req.DataURL)
		if err != nil {
			return imageInput{}, err
		}
		in.data = data

	default:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return imageInput{}, bodyReadError("read body", err)
		}
		in.data = data
	}

	if in.req.Preset == "" {
		in.req.Preset = r.URL.Query().Get("preset")
	}
	if in.req.UserID == "" {
		in.req.UserID = strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader))
	}
	return in, nil
}

// bodyReadError marks a body that cannot be read or parsed as a client error.
// An oversized body keeps its *http.MaxBytesError so it maps to 413.
func bodyReadError(op string, err error) error {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", errBadRequest, op, err)
}

func formJSON(r *http.Request, field string, into any) error {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" {
		return nil
	}
	if err := decodeJSON(strings.NewReader(raw), into); err != nil {
		return fmt.Errorf("%w: field %q: %w", errBadRequest, field, err)
	}
	return nil
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	in, err := s.readImageInput(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	meta, err := s.processor.Metadata(r.Context(), in.data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metadata":  meta,
		"mime_type": meta.Format.MIMEType(),
	})
}

// handleValidate runs the size and dimension guards without transforming.
// A guard rejection is a valid answer, not a failed request.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	in, err := s.readImageInput(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	meta, err := s.processor.Validate(r.Context(), in.data)
	if err != nil {
		kind := pipeline.KindOf(err)
		if kind == "" {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"valid": false,
			"error": err.Error(),
			"code":  string(kind),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":    true,
		"metadata": meta,
	})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	in, err := s.readImageInput(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	opts, err := in.options()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	start := time.Now()
	result, err := s.processor.Process(r.Context(), in.data, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.observeResult("process", result)
	s.recordUsage(r.Context(), in.req.UserID, time.Since(start), result)

	if r.URL.Query().Get("output") == "binary" {
		writeBinary(w, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleResponsive(w http.ResponseWriter, r *http.Request) {
	in, err := s.readImageInput(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	opts, err := in.options()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	targets := in.req.Targets
	if len(targets) == 0 {
		targets = pipeline.DefaultResponsiveTargets()
	}
	if len(targets) > domain.MaxTargetsPerJob {
		s.writeError(w, r, fmt.Errorf("%w: at most %d targets are allowed", errBadRequest, domain.MaxTargetsPerJob))
		return
	}
	// The middleware already charged one token for the request itself.
	if !s.chargeExtra(w, r, len(targets)-1) {
		return
	}

	start := time.Now()
	variants, err := s.processor.GenerateResponsiveSet(r.Context(), in.data, targets, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(variants) == 0 {
		s.writeError(w, r, pipeline.ImageProcessingError("generate responsive set", "no target could be produced", nil))
		return
	}

	results := make([]pipeline.Result, 0, len(variants))
	for _, v := range variants {
		s.metrics.observeResult("responsive", v.Result)
		results = append(results, v.Result)
	}
	s.recordUsage(r.Context(), in.req.UserID, time.Since(start), results...)

	writeJSON(w, http.StatusOK, map[string]any{
		"variants": variants,
		"skipped":  len(targets) - len(variants),
	})
}

func (s *Server) handleVisionRequest(w http.ResponseWriter, r *http.Request) {
	in, err := s.readImageInput(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	start := time.Now()
	result, err := s.processor.ProcessForVision(r.Context(), in.data, in.req.Options)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.observeResult("vision", result)
	s.recordUsage(r.Context(), in.req.UserID, time.Since(start), result)

	cfg := s.vision
	if in.req.Detail != "" {
		cfg.Detail = in.req.Detail
	}
	request, err := vision.BuildRequest(cfg, in.req.Prompt, result)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request": request,
		"image": map[string]any{
			"metadata":          result.Metadata,
			"original_size":     result.OriginalSize,
			"compressed_size":   result.CompressedSize,
			"compression_ratio": result.CompressionRatio,
		},
	})
}

func writeBinary(w http.ResponseWriter, result pipeline.Result) {
	w.Header().Set("Content-Type", result.Metadata.Format.MIMEType())
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.Header().Set("X-Image-Width", strconv.Itoa(result.Metadata.Width))
	w.Header().Set("X-Image-Height", strconv.Itoa(result.Metadata.Height))
	w.Header().Set("X-Original-Size", strconv.Itoa(result.OriginalSize))
	w.Header().Set("X-Compression-Ratio", strconv.FormatFloat(result.CompressionRatio, 'f', 2, 64))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

// recordUsage logs synchronous work against the caller. Failures are logged
// and never fail the request.
func (s *Server) recordUsage(ctx context.Context, userID string, elapsed time.Duration, results ...pipeline.Result) {
	if s.usageStore == nil || len(results) == 0 {
		return
	}
	if userID == "" {
		userID = "anonymous"
	}

	usage := domain.UsageLog{
		UserID:        userID,
		JobID:         "sync-" + id.New(),
		ComputeTimeMS: elapsed.Milliseconds(),
		CreatedAt:     time.Now().UTC(),
	}
	for _, result := range results {
		usage.PixelsProcessed += int64(result.Metadata.Width) * int64(result.Metadata.Height)
		usage.BytesSaved += int64(result.OriginalSize - result.CompressedSize)
	}
	if err := s.usageStore.RecordUsage(context.WithoutCancel(ctx), usage); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Printf("record usage failed user=%s err=%v", userID, err)
	}
}
