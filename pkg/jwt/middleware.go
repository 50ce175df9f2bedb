package jwt

import (
	"encoding/json"
	"net/http"
	"strings"
)

// CookieName is the cookie the web app stores the session token in.
const CookieName = "promptr-auth-token"

// TokenExtractorFunc extracts a token from an HTTP request.
type TokenExtractorFunc func(r *http.Request) (string, error)

// MiddlewareConfig configures the authentication middleware.
type MiddlewareConfig struct {
	Service *Service
	// Extractors are tried in order; the first one returning a token wins.
	Extractors []TokenExtractorFunc
	// Optional lets unauthenticated requests through without claims.
	// A token that is present but invalid is still rejected.
	Optional bool
}

// Middleware requires a valid bearer token or auth cookie.
func Middleware(service *Service) func(next http.Handler) http.Handler {
	return MiddlewareWithConfig(MiddlewareConfig{
		Service:    service,
		Extractors: []TokenExtractorFunc{BearerTokenExtractor, CookieTokenExtractor(CookieName)},
	})
}

// OptionalMiddleware attaches claims when a valid token is present.
func OptionalMiddleware(service *Service) func(next http.Handler) http.Handler {
	return MiddlewareWithConfig(MiddlewareConfig{
		Service:    service,
		Extractors: []TokenExtractorFunc{BearerTokenExtractor, CookieTokenExtractor(CookieName)},
		Optional:   true,
	})
}

// MiddlewareWithConfig creates the middleware from config.
func MiddlewareWithConfig(config MiddlewareConfig) func(next http.Handler) http.Handler {
	if len(config.Extractors) == 0 {
		config.Extractors = []TokenExtractorFunc{BearerTokenExtractor}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ""
			for _, extract := range config.Extractors {
				if t, err := extract(r); err == nil && t != "" {
					token = t
					break
				}
			}

			if token == "" {
				if config.Optional {
					next.ServeHTTP(w, r)
					return
				}
				unauthorized(w)
				return
			}

			claims, err := config.Service.Parse(token)
			if err != nil {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(SetClaims(r.Context(), claims)))
		})
	}
}

// BearerTokenExtractor extracts tokens from "Authorization: Bearer <token>".
func BearerTokenExtractor(r *http.Request) (string, error) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrInvalidToken
	}
	return strings.TrimSpace(token), nil
}

// CookieTokenExtractor reads the token from the named cookie.
func CookieTokenExtractor(cookieName string) TokenExtractorFunc {
	return func(r *http.Request) (string, error) {
		cookie, err := r.Cookie(cookieName)
		if err != nil || cookie.Value == "" {
			return "", ErrInvalidToken
		}
		return cookie.Value, nil
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": "authentication required",
		"code":  "unauthorized",
	})
}
