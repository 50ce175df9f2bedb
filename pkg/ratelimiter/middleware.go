package ratelimiter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/promptr-app/promptr/pkg/logger"
)

// KeyFunc extracts a rate limit key from the request. "" skips limiting.
type KeyFunc func(r *http.Request) string

// Middleware limits requests per key and sets X-RateLimit-* headers.
func Middleware(l *Limiter, keyFunc KeyFunc, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := l.Allow(r.Context(), key)
			if err != nil {
				log.ErrorContext(r.Context(), "rate limiter failed", logger.Error(err))
				writeError(w, http.StatusInternalServerError, "internal server error", "internal_error")
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(0, result.Remaining)))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed() {
				if s := int(result.RetryAfter().Seconds()); s > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(s))
				}
				writeError(w, http.StatusTooManyRequests, "too many requests", "too_many_requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}
