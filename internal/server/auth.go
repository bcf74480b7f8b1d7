package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/kbase-go/internal/logging"
)

// authMiddleware requires "Authorization: Bearer <apiKey>" on next. An empty
// apiKey disables the check; New warns about that once at startup.
//
// Failures get 401 with a WWW-Authenticate challenge and a JSON error body
// of kind "unauthorized". Token values are never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, present := bearerToken(r)
		if present && subtle.ConstantTimeCompare([]byte(token), want) == 1 {
			next.ServeHTTP(w, r)
			return
		}

		challenge, msg := `Bearer realm="kbase"`, "authorization required"
		if present {
			challenge, msg = `Bearer realm="kbase", error="invalid_token"`, "invalid token"
		}
		logging.FromContext(r.Context()).Warn("auth: request rejected",
			slog.String("path", r.URL.Path),
			slog.Bool("token_present", present),
		)
		w.Header().Set("WWW-Authenticate", challenge)
		writeJSON(w, r, http.StatusUnauthorized, errorResponse{Error: msg, Kind: "unauthorized"})
	})
}

// bearerToken returns the token of a well-formed Bearer Authorization
// header and whether one was present.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
