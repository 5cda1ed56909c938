package httpapi

import (
	"net/http"
	"strings"
	"time"

	"admincore.org/internal/access"
	"admincore.org/internal/obs"
	"admincore.org/internal/payment"
)

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Role      string    `json:"role"`
}

type checkResponse struct {
	Allowed      bool     `json:"allowed"`
	ID           string   `json:"id"`
	Email        string   `json:"email"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
	Reason       string   `json:"reason,omitempty"`
}

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.validator == nil {
		writeError(w, r, http.StatusServiceUnavailable, "authentication unavailable")
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	principal, err := a.validator.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		// Unknown account, wrong password and disabled account all collapse
		// to the same response.
		obs.ObserveAuthDenial("invalid_credentials")
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := a.validator.IssueToken(principal)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	a.audit(r.Context(), principal.ID, "auth.token.issued", "admin", principal.ID, map[string]string{
		"role":       string(principal.Role),
		"expires_at": expiresAt.Format(time.RFC3339),
	}, clientIP(r))

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		Role:      string(principal.Role),
	})
}

// handleAuthCheck answers "may the caller do X" without performing X. With no
// capability parameter it just describes the authenticated principal.
func (a *API) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	resp := checkResponse{
		Allowed:      true,
		ID:           principal.ID,
		Email:        principal.Email,
		Role:         string(principal.Role),
		Capabilities: capabilityNames(principal),
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("capability")); raw != "" {
		if !principal.Can(access.Capability(raw)) {
			obs.ObserveAuthDenial(reasonAccessDenied)
			a.audit(r.Context(), principal.ID, payment.ActionAccessDenied, "capability", raw, map[string]string{
				"role": string(principal.Role),
			}, clientIP(r))
			resp.Allowed = false
			resp.Reason = reasonAccessDenied
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func capabilityNames(p access.Principal) []string {
	caps := p.CapabilityList()
	names := make([]string, 0, len(caps))
	for _, c := range caps {
		names = append(names, string(c))
	}
	return names
}
