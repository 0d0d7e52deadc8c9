package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/imageoptimizer/internal/ratelimit"
)

type RateLimiter interface {
	Allow(ctx context.Context, subject string) (ratelimit.Decision, error)
}

// withRateLimit counts calls per session and route. When the limiter itself
// is unreachable the request goes through.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.rateLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		route := routeLabel(r.URL.Path)
		subject := rateLimitSubject(r.PathValue("session"), route)
		decision, err := s.rateLimiter.Allow(r.Context(), subject)
		if err != nil {
			s.logger.Printf("rate limit check skipped subject=%s err=%v", subject, err)
			next.ServeHTTP(w, r)
			return
		}

		setRateLimitHeaders(w.Header(), decision)
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := ceilSeconds(decision.RetryAfter)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
		s.metrics.altTextRequests.WithLabelValues("rate_limited").Inc()
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":               "rate limit exceeded",
			"kind":                "rate_limited",
			"retry_after_seconds": retryAfter,
		})
	})
}

func rateLimitSubject(sessionID, route string) string {
	if sessionID == "" {
		sessionID = "anonymous"
	}
	return sessionID + ":" + route
}

func setRateLimitHeaders(h http.Header, d ratelimit.Decision) {
	if d.Limit > 0 {
		h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	}
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	if d.ResetAfter > 0 {
		h.Set("X-RateLimit-Reset", strconv.Itoa(ceilSeconds(d.ResetAfter)))
	}
}

// ceilSeconds rounds up to whole seconds, never below 1.
func ceilSeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}
