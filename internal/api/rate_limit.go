package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cannaai/pixelprep/internal/ratelimit"
)

type RateLimiter interface {
	AllowN(ctx context.Context, subject string, cost int) (ratelimit.Decision, error)
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shouldRateLimit(r) {
			next.ServeHTTP(w, r)
			return
		}
		if !s.charge(w, r, 1) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// chargeExtra takes cost more tokens for requests whose work scales with
// their payload, such as one token per responsive target.
func (s *Server) chargeExtra(w http.ResponseWriter, r *http.Request, cost int) bool {
	if s.rateLimiter == nil || cost <= 0 {
		return true
	}
	return s.charge(w, r, cost)
}

func (s *Server) charge(w http.ResponseWriter, r *http.Request, cost int) bool {
	subject := s.rateLimitSubject(r)
	decision, err := s.rateLimiter.AllowN(r.Context(), subject, cost)
	if errors.Is(err, ratelimit.ErrCostExceedsCapacity) {
		s.metrics.rateLimitRejected.WithLabelValues(routeLabel(r.URL.Path)).Inc()
		s.writeError(w, r, err)
		return false
	}
	if err != nil {
		s.logger.Printf("rate limiter check failed for subject=%s err=%v", subject, err)
		return true
	}

	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
	if decision.Allowed {
		return true
	}

	retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	s.metrics.rateLimitRejected.WithLabelValues(routeLabel(r.URL.Path)).Inc()
	writeJSON(w, http.StatusTooManyRequests, map[string]string{
		"error": "rate limit exceeded",
	})
	return false
}

func (s *Server) rateLimitSubject(r *http.Request) string {
	subject := strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader))
	if subject == "" {
		subject = "anonymous"
	}
	return subject + ":" + routeLabel(r.URL.Path)
}

func shouldRateLimit(r *http.Request) bool {
	if r.Method == http.MethodGet {
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/v1/")
}
