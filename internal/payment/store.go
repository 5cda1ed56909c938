package payment

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. The durable
// Postgres implementation lives in internal/store/pg; this one backs tests
// and single-instance deployments.
type InMemory struct {
	mu      sync.Mutex
	records map[string]Verification
	now     func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{records: make(map[string]Verification), now: time.Now}
}

// SetClock overrides the time source. Test helper.
func (s *InMemory) SetClock(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

func (s *InMemory) Get(ctx context.Context, paymentID string) (Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.records[paymentID]
	if !ok {
		return Verification{}, ErrNotFound
	}
	return v, nil
}

func (s *InMemory) Claim(ctx context.Context, paymentID string) (Verification, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return Verification{}, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.records[paymentID]
	if !ok {
		v = Verification{PaymentID: paymentID, Status: StatusPending}
	}
	switch v.Status {
	case StatusVerifying:
		return v, ErrAlreadyInProgress
	case StatusVerified:
		return v, ErrAlreadyVerified
	}
	v.Status = StatusVerifying
	v.Attempts++
	v.LastAttemptAt = s.now().UTC()
	s.records[paymentID] = v
	return v, nil
}

func (s *InMemory) RecordAttempt(ctx context.Context, paymentID string) (Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.records[paymentID]
	if !ok {
		return Verification{}, ErrNotFound
	}
	v.Attempts++
	v.LastAttemptAt = s.now().UTC()
	s.records[paymentID] = v
	return v, nil
}

func (s *InMemory) Complete(ctx context.Context, paymentID string, status Status, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.records[paymentID]
	if !ok {
		return ErrNotFound
	}
	if v.Status != StatusVerifying {
		return ErrNotFound
	}
	v.Status = status
	if userID != "" {
		v.UserID = userID
	}
	s.records[paymentID] = v
	return nil
}

func (s *InMemory) Release(ctx context.Context, paymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.records[paymentID]
	if !ok || v.Status != StatusVerifying {
		return ErrNotFound
	}
	v.Status = StatusPending
	s.records[paymentID] = v
	return nil
}

func (s *InMemory) ReleaseStale(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().UTC().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	released := 0
	for id, v := range s.records {
		if v.Status == StatusVerifying && v.LastAttemptAt.Before(cutoff) {
			v.Status = StatusPending
			s.records[id] = v
			released++
		}
	}
	return released, nil
}
