package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const tokenHeader = "X-Brain-Token"

// newAuthMiddleware enforces the shared-secret token on API routes. Health
// and diagnostics stay open so local tooling can probe a locked-down brain.
// An empty configured token disables enforcement entirely.
func newAuthMiddleware(basePath, token string, log *zap.Logger) func(http.Handler) http.Handler {
	exempt := map[string]struct{}{
		basePath + "/health":      {},
		basePath + "/diagnostics": {},
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" || !strings.HasPrefix(r.URL.Path, basePath+"/") {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := exempt[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get(tokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				if log != nil {
					log.Warn("rejected request with bad token",
						zap.String("path", r.URL.Path),
						zap.String("remote", r.RemoteAddr))
				}
				respondStatusError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid "+tokenHeader)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func respondStatusError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": apiErrorBody{Code: code, Message: message},
	})
}
