package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"admincore.org/internal/access"
	"admincore.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Machine-readable denial reasons carried in 401/403 bodies.
const (
	reasonMissingHeader = "missing_header"
	reasonInvalidToken  = "invalid_token"
	reasonAccessDenied  = "access_denied"
)

var publicPaths = []string{
	"/v1/auth/token",
	"/v1/payments/callback",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.validator == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			obs.ObserveAuthDenial(reasonMissingHeader)
			respondUnauthenticated(w, r, reasonMissingHeader, err.Error())
			return
		}

		principal, err := a.validator.AuthenticateToken(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, access.ErrUnauthenticated):
				obs.ObserveAuthDenial(reasonInvalidToken)
				respondUnauthenticated(w, r, reasonInvalidToken, "invalid token")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := access.ContextWithPrincipal(r.Context(), principal)
		ctx = access.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func respondUnauthenticated(w http.ResponseWriter, r *http.Request, reason, msg string) {
	payload := map[string]any{
		"error":  msg,
		"reason": reason,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusUnauthorized, payload)
}

// principalFrom pulls the authenticated principal; a miss means the route
// was reached without the auth middleware, which is a server bug.
func principalFrom(w http.ResponseWriter, r *http.Request) (access.Principal, bool) {
	principal, ok := access.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "authentication context missing")
		return access.Principal{}, false
	}
	return principal, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
