package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"admincore.org/internal/access"
	"admincore.org/internal/audit"
	"admincore.org/internal/payment"
	"admincore.org/internal/plan"
)

const testWebhookSecret = "hook-secret"

// stubGateway serves canned confirmations keyed by payment id.
type stubGateway struct {
	mu    sync.Mutex
	byID  map[string]payment.Confirmation
	errBy map[string]error
}

func (g *stubGateway) Confirm(ctx context.Context, paymentID string) (payment.Confirmation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.errBy[paymentID]; ok {
		return payment.Confirmation{}, err
	}
	conf, ok := g.byID[paymentID]
	if !ok {
		return payment.Confirmation{}, payment.ErrPaymentNotFound
	}
	return conf, nil
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

type fixture struct {
	*apiClient
	plans *plan.InMemory
	gw    *stubGateway
	trail *audit.InMemoryStore
}

func newTestAPI(t *testing.T) *fixture {
	t.Helper()

	registry := access.NewInMemoryRegistry()
	for _, seed := range []struct {
		id, email, password string
		role                access.Role
	}{
		{"adm-root", "root@example.com", "rootpass", access.RoleSuperAdmin},
		{"adm-ops", "ops@example.com", "opspass", access.RoleAdmin},
		{"adm-mod", "mod@example.com", "modpass", access.RoleModerator},
	} {
		hash, err := access.HashPassword(seed.password)
		if err != nil {
			t.Fatal(err)
		}
		registry.Put(&access.Admin{
			ID:           seed.id,
			Email:        seed.email,
			Role:         seed.role,
			PasswordHash: hash,
			Status:       access.AdminStatusActive,
		})
	}
	validator, err := access.NewValidator(registry, "test-secret")
	if err != nil {
		t.Fatal(err)
	}

	trail := audit.NewInMemoryStore()
	log, err := audit.NewLog(trail)
	if err != nil {
		t.Fatal(err)
	}

	gw := &stubGateway{
		byID: map[string]payment.Confirmation{
			"pay_123": {Settled: true, UserID: "u-1", Tier: "professional"},
		},
		errBy: map[string]error{},
	}
	plans := plan.NewInMemory()
	plans.Put("u-1", plan.Free)

	workflow, err := payment.NewWorkflow(payment.NewInMemory(), plans, gw, log, payment.Config{})
	if err != nil {
		t.Fatal(err)
	}

	api := New(ReadyProbe{}, "test", validator, workflow, log, []byte(testWebhookSecret))
	api.rateBurst = 100
	api.ratePerSec = 100

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &fixture{
		apiClient: &apiClient{baseURL: srv.URL, client: srv.Client(), t: t},
		plans:     plans,
		gw:        gw,
		trail:     trail,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) obtainToken(email, password string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{
		"email":    email,
		"password": password,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func authHeaderFor(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthAndInfo(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status: %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["service"] != serviceName {
		t.Fatalf("unexpected service: %v", body["service"])
	}

	resp = c.get("/readyz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/v1/info", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("info status: %d", resp.StatusCode)
	}
	info := decode[map[string]any](t, resp)
	if info["version"] != "test" {
		t.Fatalf("unexpected version: %v", info["version"])
	}
}

func TestAuthTokenFlow(t *testing.T) {
	c := newTestAPI(t)

	token := c.obtainToken("root@example.com", "rootpass")

	resp := c.get("/v1/auth/check", nil, authHeaderFor(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("check status: %d", resp.StatusCode)
	}
	check := decode[checkResponse](t, resp)
	if !check.Allowed || check.Role != string(access.RoleSuperAdmin) {
		t.Fatalf("unexpected check response: %+v", check)
	}
	if len(check.Capabilities) != 3 {
		t.Fatalf("super admin capabilities: %v", check.Capabilities)
	}
}

func TestAuthTokenRejectsBadCredentials(t *testing.T) {
	c := newTestAPI(t)

	cases := []map[string]any{
		{"email": "root@example.com", "password": "wrong"},
		{"email": "nobody@example.com", "password": "rootpass"},
	}
	for _, body := range cases {
		resp := c.post("/v1/auth/token", body, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", resp.StatusCode)
		}
		payload := decode[map[string]any](t, resp)
		if payload["error"] != "invalid credentials" {
			t.Fatalf("error body leaks detail: %v", payload)
		}
	}
}

func TestAuthCheckReasonCodes(t *testing.T) {
	c := newTestAPI(t)

	// No Authorization header.
	resp := c.get("/v1/auth/check", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["reason"] != reasonMissingHeader {
		t.Fatalf("expected %s, got %v", reasonMissingHeader, body["reason"])
	}

	// Garbage token.
	resp = c.get("/v1/auth/check", nil, authHeaderFor("not-a-jwt"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	body = decode[map[string]any](t, resp)
	if body["reason"] != reasonInvalidToken {
		t.Fatalf("expected %s, got %v", reasonInvalidToken, body["reason"])
	}

	// Valid token, capability the role does not hold.
	token := c.obtainToken("mod@example.com", "modpass")
	resp = c.get("/v1/auth/check", url.Values{"capability": {string(access.CapManagePayments)}}, authHeaderFor(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("check status: %d", resp.StatusCode)
	}
	check := decode[checkResponse](t, resp)
	if check.Allowed || check.Reason != reasonAccessDenied {
		t.Fatalf("unexpected check response: %+v", check)
	}
}

func TestVerifyEndpoint(t *testing.T) {
	f := newTestAPI(t)
	token := f.obtainToken("ops@example.com", "opspass")

	resp := f.post("/v1/payments/pay_123/verify", nil, authHeaderFor(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify status: %d", resp.StatusCode)
	}
	res := decode[verifyResponse](t, resp)
	if res.Status != payment.StatusVerified || res.Plan != plan.Professional {
		t.Fatalf("unexpected verify response: %+v", res)
	}
	up, err := f.plans.Get(context.Background(), "u-1")
	if err != nil || up.Plan != plan.Professional {
		t.Fatalf("plan not upgraded: %+v %v", up, err)
	}

	// Replay is reported, not re-applied.
	resp = f.post("/v1/payments/pay_123/verify", nil, authHeaderFor(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replay status: %d", resp.StatusCode)
	}
	res = decode[verifyResponse](t, resp)
	if !res.AlreadyVerified {
		t.Fatalf("replay not flagged: %+v", res)
	}

	// Status endpoint reflects the terminal record.
	resp = f.get("/v1/payments/pay_123", nil, authHeaderFor(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status status: %d", resp.StatusCode)
	}
	v := decode[payment.Verification](t, resp)
	if v.Status != payment.StatusVerified || v.UserID != "u-1" {
		t.Fatalf("unexpected record: %+v", v)
	}
}

func TestVerifyDeniedForModerator(t *testing.T) {
	f := newTestAPI(t)
	token := f.obtainToken("mod@example.com", "modpass")

	resp := f.post("/v1/payments/pay_123/verify", nil, authHeaderFor(token))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["error"] != "access denied" {
		t.Fatalf("denial body leaks detail: %v", body)
	}

	denied := 0
	for _, e := range f.trail.Entries() {
		if e.Action == payment.ActionAccessDenied {
			denied++
		}
	}
	if denied != 1 {
		t.Fatalf("denied attempt not audited (%d entries)", denied)
	}
}

func TestVerifyUnknownPayment(t *testing.T) {
	f := newTestAPI(t)
	token := f.obtainToken("ops@example.com", "opspass")

	resp := f.post("/v1/payments/pay_missing/verify", nil, authHeaderFor(token))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestVerifyGatewayDown(t *testing.T) {
	f := newTestAPI(t)
	f.gw.errBy["pay_503"] = payment.ErrGatewayUnavailable
	token := f.obtainToken("ops@example.com", "opspass")

	resp := f.post("/v1/payments/pay_503/verify", nil, authHeaderFor(token))
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestPlanOverrideEndpoint(t *testing.T) {
	f := newTestAPI(t)
	super := f.obtainToken("root@example.com", "rootpass")

	resp := f.do(http.MethodPut, "/v1/users/u-1/plan", overridePlanRequest{Plan: "mastery"}, authHeaderFor(super))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("override status: %d", resp.StatusCode)
	}
	up := decode[plan.UserPlan](t, resp)
	if up.Plan != plan.Mastery {
		t.Fatalf("unexpected plan: %+v", up)
	}

	// Unknown enum member.
	resp = f.do(http.MethodPut, "/v1/users/u-1/plan", overridePlanRequest{Plan: "platinum"}, authHeaderFor(super))
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// admin role lacks manage_plans.
	ops := f.obtainToken("ops@example.com", "opspass")
	resp = f.do(http.MethodPut, "/v1/users/u-1/plan", overridePlanRequest{Plan: "free"}, authHeaderFor(ops))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
