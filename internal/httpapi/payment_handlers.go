package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"admincore.org/internal/access"
	"admincore.org/internal/payment"
	"admincore.org/internal/plan"
)

const signatureHeader = "X-Gateway-Signature"

type callbackRequest struct {
	PaymentID string `json:"payment_id"`
	Event     string `json:"event"`
}

type overridePlanRequest struct {
	Plan string `json:"plan"`
}

type verifyResponse struct {
	payment.Result
	AuditDegraded bool `json:"audit_degraded,omitempty"`
}

// handlePaymentScoped dispatches /v1/payments/{id} and
// /v1/payments/{id}/verify.
func (a *API) handlePaymentScoped(w http.ResponseWriter, r *http.Request) {
	if a.workflow == nil {
		writeError(w, r, http.StatusServiceUnavailable, "payment service unavailable")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/payments/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1:
		a.handlePaymentStatus(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "verify":
		a.handlePaymentVerify(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handlePaymentStatus(w http.ResponseWriter, r *http.Request, paymentID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	if !principal.Can(access.CapManagePayments) && !principal.Can(access.CapViewUsers) {
		writeDenied(w, r)
		return
	}
	v, err := a.workflow.Status(r.Context(), paymentID)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "payment not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handlePaymentVerify(w http.ResponseWriter, r *http.Request, paymentID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	res, err := a.workflow.Verify(r.Context(), principal, paymentID, clientIP(r))
	a.respondVerification(w, r, res, err)
}

// handleGatewayCallback is the automatic trigger. It is public at the auth
// layer; the HMAC body signature is its authentication.
func (a *API) handleGatewayCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.workflow == nil || len(a.webhookSecret) == 0 {
		writeError(w, r, http.StatusServiceUnavailable, "callback endpoint unavailable")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unreadable body")
		return
	}
	if !a.validSignature(r.Header.Get(signatureHeader), body) {
		writeError(w, r, http.StatusUnauthorized, "invalid signature")
		return
	}

	var req callbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed callback body")
		return
	}
	if strings.TrimSpace(req.PaymentID) == "" {
		writeError(w, r, http.StatusBadRequest, "payment_id is required")
		return
	}

	res, err := a.workflow.VerifyFromGateway(r.Context(), req.PaymentID, clientIP(r))
	a.respondVerification(w, r, res, err)
}

// validSignature compares the hex HMAC-SHA256 of the raw body in constant
// time.
func (a *API) validSignature(header string, body []byte) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, a.webhookSecret)
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(header)), []byte(want))
}

func (a *API) respondVerification(w http.ResponseWriter, r *http.Request, res payment.Result, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, verifyResponse{Result: res})
	case errors.Is(err, payment.ErrAuditDegraded):
		// The verification and upgrade applied; only the trail is degraded.
		writeJSON(w, http.StatusOK, verifyResponse{Result: res, AuditDegraded: true})
	case errors.Is(err, access.ErrDenied):
		writeDenied(w, r)
	case errors.Is(err, payment.ErrAlreadyInProgress):
		writeError(w, r, http.StatusConflict, "verification already in progress")
	case errors.Is(err, payment.ErrPaymentNotFound):
		writeError(w, r, http.StatusNotFound, "payment not found")
	case errors.Is(err, payment.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "payment not found")
	case errors.Is(err, payment.ErrGatewayUnavailable):
		writeError(w, r, http.StatusBadGateway, "payment gateway unavailable")
	case errors.Is(err, plan.ErrInvalidPlan):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, plan.ErrConflict):
		writeError(w, r, http.StatusConflict, "plan update conflict")
	case errors.Is(err, plan.ErrNotFound):
		writeError(w, r, http.StatusUnprocessableEntity, "unknown user for payment")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// handleUserScoped dispatches /v1/users/{id}/plan.
func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	if a.workflow == nil {
		writeError(w, r, http.StatusServiceUnavailable, "plan service unavailable")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "plan" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	var req overridePlanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	up, err := a.workflow.OverridePlan(r.Context(), principal, parts[0], req.Plan, clientIP(r))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, up)
	case errors.Is(err, payment.ErrAuditDegraded):
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id":        up.UserID,
			"plan":           up.Plan,
			"audit_degraded": true,
		})
	case errors.Is(err, access.ErrDenied):
		writeDenied(w, r)
	case errors.Is(err, plan.ErrInvalidPlan):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, plan.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "user not found")
	case errors.Is(err, plan.ErrConflict):
		writeError(w, r, http.StatusConflict, "plan update conflict")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
