package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"admincore.org/internal/access"
	"admincore.org/internal/audit"
	"admincore.org/internal/obs"
	"admincore.org/internal/payment"
)

// ReadyProbe — readiness check (e.g. DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// API — HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	validator *access.Validator
	workflow  *payment.Workflow
	trail     *audit.Log

	webhookSecret []byte

	rateBurst  int
	ratePerSec int
	maxBody    int64
}

func New(rp ReadyProbe, version string, validator *access.Validator, workflow *payment.Workflow, trail *audit.Log, webhookSecret []byte) *API {
	a := &API{
		mux:           http.NewServeMux(),
		readyProbe:    rp,
		version:       version,
		validator:     validator,
		workflow:      workflow,
		trail:         trail,
		webhookSecret: webhookSecret,
		rateBurst:     20,
		ratePerSec:    10,
		maxBody:       1 << 20,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)
	a.mux.HandleFunc("/v1/auth/check", a.handleAuthCheck)

	// payment verification + plan management
	a.mux.HandleFunc("/v1/payments/callback", a.handleGatewayCallback)
	a.mux.HandleFunc("/v1/payments/", a.handlePaymentScoped)
	a.mux.HandleFunc("/v1/users/", a.handleUserScoped)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	h = SecurityHeaders(h)
	return RequestID(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// audit appends an entry for an HTTP-level event; persistence failures are
// surfaced by the handlers that care, the rest log-and-continue inside Record.
func (a *API) audit(ctx context.Context, actorID, action, targetType, targetID string, meta map[string]string, origin string) {
	if a.trail == nil {
		return
	}
	_, _ = a.trail.Record(ctx, actorID, action, targetType, targetID, meta, origin)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeDenied keeps the body generic: the caller learns only that access was
// denied, not which capability or role was involved.
func writeDenied(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"error":  "access denied",
		"reason": reasonAccessDenied,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusForbidden, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
