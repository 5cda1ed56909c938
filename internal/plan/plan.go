package plan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Plan is the closed set of subscription plans.
type Plan string

const (
	Free         Plan = "free"
	Professional Plan = "professional"
	Mastery      Plan = "mastery"
	Innovation   Plan = "innovation"
)

var (
	ErrInvalidPlan = errors.New("plan: invalid plan")
	ErrConflict    = errors.New("plan: conflict")
	ErrNotFound    = errors.New("plan: not found")
)

var known = map[Plan]struct{}{
	Free:         {},
	Professional: {},
	Mastery:      {},
	Innovation:   {},
}

// ParsePlan validates a raw plan name against the enumeration. Unknown names
// are rejected, never coerced to a default.
func ParsePlan(raw string) (Plan, error) {
	p := Plan(strings.TrimSpace(strings.ToLower(raw)))
	if _, ok := known[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidPlan, raw)
	}
	return p, nil
}

// UserPlan is the persisted subscription record for one user.
type UserPlan struct {
	UserID    string    `json:"user_id"`
	Plan      Plan      `json:"plan"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the gateway over plan persistence. Every write is a
// compare-and-set against the expected prior value; there is no
// unconditional update, so a concurrent change can never be silently
// overwritten with stale data.
type Store interface {
	Get(ctx context.Context, userID string) (UserPlan, error)
	// CompareAndSet transitions userID's plan from expected to next.
	// ErrConflict means the stored plan no longer matches expected;
	// the caller must re-read and retry or abort.
	CompareAndSet(ctx context.Context, userID string, expected, next Plan) error
}

// InMemory is a mutex-guarded Store used for tests and single-process runs.
type InMemory struct {
	mu    sync.RWMutex
	plans map[string]UserPlan
	now   func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{plans: make(map[string]UserPlan), now: time.Now}
}

// Put seeds or overwrites a record unconditionally. Bootstrap/test helper;
// production mutation goes through CompareAndSet only.
func (s *InMemory) Put(userID string, p Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[userID] = UserPlan{UserID: userID, Plan: p, UpdatedAt: s.now().UTC()}
}

func (s *InMemory) Get(ctx context.Context, userID string) (UserPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	up, ok := s.plans[userID]
	if !ok {
		return UserPlan{}, ErrNotFound
	}
	return up, nil
}

func (s *InMemory) CompareAndSet(ctx context.Context, userID string, expected, next Plan) error {
	if _, err := ParsePlan(string(next)); err != nil {
		return err
	}
	if _, err := ParsePlan(string(expected)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	up, ok := s.plans[userID]
	if !ok {
		return ErrNotFound
	}
	if up.Plan != expected {
		return ErrConflict
	}
	up.Plan = next
	up.UpdatedAt = s.now().UTC()
	s.plans[userID] = up
	return nil
}
