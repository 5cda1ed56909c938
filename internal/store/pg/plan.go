package pg

import (
	"context"
	"database/sql"
	"errors"

	"admincore.org/internal/plan"
)

// PlanStore is the user_plans view over the shared pool.
type PlanStore struct {
	db *sql.DB
}

func (s *Store) Plans() *PlanStore { return &PlanStore{db: s.db} }

var _ plan.Store = (*PlanStore)(nil)

func (s *PlanStore) Get(ctx context.Context, userID string) (plan.UserPlan, error) {
	var up plan.UserPlan
	var p string
	err := s.db.QueryRowContext(ctx,
		`select user_id, plan, updated_at from user_plans where user_id=$1`, userID).
		Scan(&up.UserID, &p, &up.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return plan.UserPlan{}, plan.ErrNotFound
	}
	if err != nil {
		return plan.UserPlan{}, err
	}
	up.Plan = plan.Plan(p)
	return up, nil
}

// CompareAndSet is a single conditional UPDATE; the WHERE clause on the
// current plan is what makes concurrent upgrades lose instead of clobbering
// each other.
func (s *PlanStore) CompareAndSet(ctx context.Context, userID string, expected, next plan.Plan) error {
	if _, err := plan.ParsePlan(string(expected)); err != nil {
		return err
	}
	if _, err := plan.ParsePlan(string(next)); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update user_plans set plan=$3, updated_at=now()
		where user_id=$1 and plan=$2
	`, userID, string(expected), string(next))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	// Zero rows: unknown user or stale expectation.
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from user_plans where user_id=$1)`, userID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return plan.ErrNotFound
	}
	return plan.ErrConflict
}

// EnsureUser seeds a user at the given plan if absent.
func (s *PlanStore) EnsureUser(ctx context.Context, userID string, p plan.Plan) error {
	if _, err := plan.ParsePlan(string(p)); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		insert into user_plans(user_id, plan, updated_at)
		values ($1, $2, now())
		on conflict (user_id) do nothing
	`, userID, string(p))
	return err
}
