package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"admincore.org/internal/access"
	"admincore.org/internal/audit"
	"admincore.org/internal/obs"
	"admincore.org/internal/plan"
)

// Audit action names. Gateway-driven upgrades and administrative overrides
// carry distinct actions so the trail can tell the two paths apart.
const (
	ActionPaymentVerified      = "payment_verified"
	ActionVerificationFailed   = "payment_verification_failed"
	ActionVerificationReplayed = "payment_verification_replayed"
	ActionPlanOverride         = "plan.admin_override"
	ActionAccessDenied         = "access.denied"
)

// GatewayActor is recorded as the acting identity for callback-driven
// verifications.
const GatewayActor = "payment_gateway"

// Config bounds the workflow's external calls and retries.
type Config struct {
	// GatewayTimeout caps a single confirmation call.
	GatewayTimeout time.Duration
	// GatewayAttempts is the per-trigger confirmation budget, counting the
	// first call. Exhausting it completes the record as failed while the
	// caller still receives the retryable gateway error.
	GatewayAttempts int
	// PlanRetries bounds compare-and-set tries on the plan store.
	PlanRetries int
}

func (c Config) withDefaults() Config {
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = 5 * time.Second
	}
	if c.GatewayAttempts <= 0 {
		c.GatewayAttempts = 2
	}
	if c.PlanRetries <= 0 {
		c.PlanRetries = 3
	}
	return c
}

// Result is the caller-facing outcome of one verification trigger.
type Result struct {
	PaymentID       string    `json:"payment_id"`
	Status          Status    `json:"status"`
	AlreadyVerified bool      `json:"already_verified,omitempty"`
	Plan            plan.Plan `json:"plan,omitempty"`
	Attempts        int       `json:"attempts"`
}

// Workflow orchestrates gateway confirmation, the verification state
// machine, the plan upgrade and the audit trail. The durable claim in the
// store is the source of truth for cross-process exclusion; the in-flight
// set only short-circuits same-process duplicates.
type Workflow struct {
	store   Store
	plans   plan.Store
	gateway Gateway
	log     *audit.Log
	cfg     Config

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewWorkflow wires the workflow. All collaborators are required.
func NewWorkflow(store Store, plans plan.Store, gateway Gateway, log *audit.Log, cfg Config) (*Workflow, error) {
	if store == nil || plans == nil || gateway == nil || log == nil {
		return nil, errors.New("payment: store, plan store, gateway and audit log are required")
	}
	return &Workflow{
		store:    store,
		plans:    plans,
		gateway:  gateway,
		log:      log,
		cfg:      cfg.withDefaults(),
		inFlight: make(map[string]struct{}),
	}, nil
}

// Verify is the manual trigger. The principal must hold manage_payments;
// a denial is audited so repeated probing stays visible.
func (w *Workflow) Verify(ctx context.Context, principal access.Principal, paymentID, origin string) (Result, error) {
	if !principal.Can(access.CapManagePayments) {
		obs.ObserveAuthDenial("access_denied")
		_, _ = w.log.Record(ctx, principal.ID, ActionAccessDenied, "payment", paymentID,
			map[string]string{"capability": string(access.CapManagePayments), "role": string(principal.Role)}, origin)
		return Result{}, access.ErrDenied
	}
	return w.verify(ctx, principal.ID, paymentID, origin)
}

// VerifyFromGateway is the automatic trigger. The HTTP layer has already
// authenticated the gateway callback (body signature), so no principal is
// involved here.
func (w *Workflow) VerifyFromGateway(ctx context.Context, paymentID, origin string) (Result, error) {
	return w.verify(ctx, GatewayActor, paymentID, origin)
}

// Status reports the current verification record.
func (w *Workflow) Status(ctx context.Context, paymentID string) (Verification, error) {
	return w.store.Get(ctx, paymentID)
}

// ReleaseStale recovers attempts stuck in verifying past maxAge, returning
// how many were re-opened. Intended for a caller-supplied periodic trigger.
func (w *Workflow) ReleaseStale(ctx context.Context, maxAge time.Duration) (int, error) {
	return w.store.ReleaseStale(ctx, maxAge)
}

func (w *Workflow) verify(ctx context.Context, actorID, paymentID, origin string) (Result, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return Result{}, ErrNotFound
	}

	w.mu.Lock()
	if _, busy := w.inFlight[paymentID]; busy {
		w.mu.Unlock()
		return Result{PaymentID: paymentID, Status: StatusVerifying}, ErrAlreadyInProgress
	}
	w.inFlight[paymentID] = struct{}{}
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.inFlight, paymentID)
		w.mu.Unlock()
	}()

	v, err := w.store.Claim(ctx, paymentID)
	switch {
	case errors.Is(err, ErrAlreadyVerified):
		obs.ObserveVerification("replayed")
		_, _ = w.log.Record(ctx, actorID, ActionVerificationReplayed, "payment", paymentID, nil, origin)
		return Result{PaymentID: paymentID, Status: StatusVerified, AlreadyVerified: true, Attempts: v.Attempts}, nil
	case errors.Is(err, ErrAlreadyInProgress):
		return Result{PaymentID: paymentID, Status: StatusVerifying, Attempts: v.Attempts}, ErrAlreadyInProgress
	case err != nil:
		return Result{}, err
	}

	conf, attempts, err := w.confirmWithBudget(ctx, actorID, paymentID, origin, v.Attempts)
	if err != nil {
		return Result{PaymentID: paymentID, Status: terminalFor(err), Attempts: attempts}, err
	}

	if !conf.Settled {
		_ = w.store.Complete(ctx, paymentID, StatusFailed, conf.UserID)
		obs.ObserveVerification("failed")
		_, _ = w.log.Record(ctx, actorID, ActionVerificationFailed, "payment", paymentID,
			map[string]string{"reason": "not_settled"}, origin)
		return Result{PaymentID: paymentID, Status: StatusFailed, Attempts: attempts}, nil
	}

	target, perr := plan.ParsePlan(conf.Tier)
	if perr != nil {
		// Defensive: reject before any plan write, then close the attempt.
		_ = w.store.Complete(ctx, paymentID, StatusFailed, conf.UserID)
		obs.ObserveVerification("failed")
		_, _ = w.log.Record(ctx, actorID, ActionVerificationFailed, "payment", paymentID,
			map[string]string{"reason": "invalid_tier", "tier": conf.Tier}, origin)
		return Result{PaymentID: paymentID, Status: StatusFailed, Attempts: attempts}, perr
	}

	previous, committed, cerr := w.commitPlan(ctx, conf.UserID, target)
	if cerr != nil {
		_ = w.store.Complete(ctx, paymentID, StatusFailed, conf.UserID)
		obs.ObserveVerification("failed")
		meta := map[string]string{"reason": "plan_commit", "user_id": conf.UserID}
		if errors.Is(cerr, plan.ErrConflict) {
			meta["reason"] = "plan_cas_conflict"
			meta["cas_retries"] = strconv.Itoa(w.cfg.PlanRetries)
		}
		_, _ = w.log.Record(ctx, actorID, ActionVerificationFailed, "payment", paymentID, meta, origin)
		return Result{PaymentID: paymentID, Status: StatusFailed, Attempts: attempts}, cerr
	}

	if err := w.store.Complete(ctx, paymentID, StatusVerified, conf.UserID); err != nil {
		// The upgrade is committed; surface the bookkeeping failure rather
		// than pretending the whole trigger failed.
		_, _ = w.log.Record(ctx, actorID, ActionPaymentVerified, "payment", paymentID,
			map[string]string{"user_id": conf.UserID, "plan": string(target), "record_state": "not_persisted"}, origin)
		return Result{PaymentID: paymentID, Status: StatusVerified, Plan: target, Attempts: attempts},
			fmt.Errorf("persist verification record: %w", err)
	}

	meta := map[string]string{
		"user_id":       conf.UserID,
		"tier":          conf.Tier,
		"plan":          string(target),
		"previous_plan": string(previous),
	}
	if !committed {
		meta["noop"] = "plan_already_current"
	}
	obs.ObserveVerification("verified")
	res := Result{PaymentID: paymentID, Status: StatusVerified, Plan: target, Attempts: attempts}
	if _, aerr := w.log.Record(ctx, actorID, ActionPaymentVerified, "payment", paymentID, meta, origin); aerr != nil {
		return res, fmt.Errorf("%w: %v", ErrAuditDegraded, aerr)
	}
	return res, nil
}

// confirmWithBudget runs the gateway call, retrying transient failures
// within the per-trigger budget. attempts carries the store's running count.
func (w *Workflow) confirmWithBudget(ctx context.Context, actorID, paymentID, origin string, attempts int) (Confirmation, int, error) {
	for {
		cctx, cancel := context.WithTimeout(ctx, w.cfg.GatewayTimeout)
		conf, err := w.gateway.Confirm(cctx, paymentID)
		cancel()
		if err == nil {
			return conf, attempts, nil
		}

		if errors.Is(err, ErrPaymentNotFound) {
			_ = w.store.Complete(ctx, paymentID, StatusFailed, "")
			obs.ObserveVerification("failed")
			_, _ = w.log.Record(ctx, actorID, ActionVerificationFailed, "payment", paymentID,
				map[string]string{"reason": "payment_not_found"}, origin)
			return Confirmation{}, attempts, err
		}
		if !errors.Is(err, ErrGatewayUnavailable) {
			// Unexpected transport error: keep the record retryable.
			_ = w.store.Release(ctx, paymentID)
			return Confirmation{}, attempts, err
		}
		if attempts >= w.cfg.GatewayAttempts {
			_ = w.store.Complete(ctx, paymentID, StatusFailed, "")
			obs.ObserveVerification("gateway_unavailable")
			_, _ = w.log.Record(ctx, actorID, ActionVerificationFailed, "payment", paymentID,
				map[string]string{"reason": "gateway_unavailable", "attempts": strconv.Itoa(attempts)}, origin)
			return Confirmation{}, attempts, ErrGatewayUnavailable
		}
		if v, rerr := w.store.RecordAttempt(ctx, paymentID); rerr == nil {
			attempts = v.Attempts
		} else {
			attempts++
		}
	}
}

// commitPlan applies the upgrade with the bounded compare-and-set loop.
// It reports the previous plan and whether a write actually happened.
func (w *Workflow) commitPlan(ctx context.Context, userID string, target plan.Plan) (plan.Plan, bool, error) {
	if strings.TrimSpace(userID) == "" {
		return "", false, fmt.Errorf("%w: confirmation without user id", plan.ErrNotFound)
	}
	for try := 0; try < w.cfg.PlanRetries; try++ {
		current, err := w.plans.Get(ctx, userID)
		if err != nil {
			return "", false, err
		}
		if current.Plan == target {
			return current.Plan, false, nil
		}
		err = w.plans.CompareAndSet(ctx, userID, current.Plan, target)
		if err == nil {
			return current.Plan, true, nil
		}
		if errors.Is(err, plan.ErrConflict) {
			obs.ObservePlanConflict()
			continue
		}
		return "", false, err
	}
	return "", false, plan.ErrConflict
}

// OverridePlan is the administrative path that bypasses payment
// verification. It validates the plan enum before touching persistence and
// audits a distinct action name.
func (w *Workflow) OverridePlan(ctx context.Context, principal access.Principal, userID, rawPlan, origin string) (plan.UserPlan, error) {
	if !principal.Can(access.CapManagePlans) {
		obs.ObserveAuthDenial("access_denied")
		_, _ = w.log.Record(ctx, principal.ID, ActionAccessDenied, "user", userID,
			map[string]string{"capability": string(access.CapManagePlans), "role": string(principal.Role)}, origin)
		return plan.UserPlan{}, access.ErrDenied
	}
	target, err := plan.ParsePlan(rawPlan)
	if err != nil {
		return plan.UserPlan{}, err
	}
	previous, _, err := w.commitPlan(ctx, userID, target)
	if err != nil {
		return plan.UserPlan{}, err
	}
	up := plan.UserPlan{UserID: userID, Plan: target}
	if _, aerr := w.log.Record(ctx, principal.ID, ActionPlanOverride, "user", userID,
		map[string]string{"plan": string(target), "previous_plan": string(previous)}, origin); aerr != nil {
		return up, fmt.Errorf("%w: %v", ErrAuditDegraded, aerr)
	}
	return up, nil
}

func terminalFor(err error) Status {
	switch {
	case errors.Is(err, ErrGatewayUnavailable), errors.Is(err, ErrPaymentNotFound):
		return StatusFailed
	default:
		return StatusPending
	}
}
