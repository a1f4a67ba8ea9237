package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/cannaai/pixelprep/internal/pipeline"
	"github.com/cannaai/pixelprep/internal/ratelimit"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// statusForError maps pipeline failures onto HTTP semantics.
func statusForError(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, string(pipeline.KindImageSize)
	case errors.Is(err, pipeline.ErrInvalidOptions), errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, ratelimit.ErrCostExceedsCapacity):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "cancelled"
	}

	switch kind := pipeline.KindOf(err); kind {
	case pipeline.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType, string(kind)
	case pipeline.KindImageSize:
		return http.StatusRequestEntityTooLarge, string(kind)
	case pipeline.KindImageProcessing:
		return http.StatusUnprocessableEntity, string(kind)
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Printf("request failed method=%s path=%s err=%v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

var errBadRequest = errors.New("bad request")
