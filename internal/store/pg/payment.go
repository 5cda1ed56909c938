package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"admincore.org/internal/payment"
)

// VerificationStore is the payment_verifications view over the shared pool.
type VerificationStore struct {
	db *sql.DB
}

func (s *Store) Verifications() *VerificationStore { return &VerificationStore{db: s.db} }

var _ payment.Store = (*VerificationStore)(nil)

const verificationColumns = `payment_id, coalesce(user_id,''), status, attempts, last_attempt_at`

func (s *VerificationStore) Get(ctx context.Context, paymentID string) (payment.Verification, error) {
	return scanVerification(s.db.QueryRowContext(ctx,
		`select `+verificationColumns+` from payment_verifications where payment_id=$1`, paymentID))
}

// Claim is the durable concurrency token: the insert creates the record on
// the first trigger and the conditional UPDATE admits exactly one caller per
// payment id. Zero updated rows means the record was not claimable, and the
// observed status maps to a sentinel.
func (s *VerificationStore) Claim(ctx context.Context, paymentID string) (payment.Verification, error) {
	if paymentID == "" {
		return payment.Verification{}, payment.ErrNotFound
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return payment.Verification{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into payment_verifications(payment_id, status, attempts, last_attempt_at)
		values ($1, 'pending', 0, now())
		on conflict (payment_id) do nothing
	`, paymentID); err != nil {
		return payment.Verification{}, err
	}

	v, err := scanVerification(tx.QueryRowContext(ctx, `
		update payment_verifications
		set status='verifying', attempts=attempts+1, last_attempt_at=now()
		where payment_id=$1 and status in ('pending','failed')
		returning `+verificationColumns+`
	`, paymentID))
	if errors.Is(err, payment.ErrNotFound) {
		v, err = scanVerification(tx.QueryRowContext(ctx,
			`select `+verificationColumns+` from payment_verifications where payment_id=$1`, paymentID))
		if err != nil {
			return payment.Verification{}, err
		}
		if err := tx.Commit(); err != nil {
			return payment.Verification{}, err
		}
		if v.Status == payment.StatusVerified {
			return v, payment.ErrAlreadyVerified
		}
		return v, payment.ErrAlreadyInProgress
	}
	if err != nil {
		return payment.Verification{}, err
	}
	if err := tx.Commit(); err != nil {
		return payment.Verification{}, err
	}
	return v, nil
}

func (s *VerificationStore) RecordAttempt(ctx context.Context, paymentID string) (payment.Verification, error) {
	return scanVerification(s.db.QueryRowContext(ctx, `
		update payment_verifications
		set attempts=attempts+1, last_attempt_at=now()
		where payment_id=$1 and status='verifying'
		returning `+verificationColumns+`
	`, paymentID))
}

func (s *VerificationStore) Complete(ctx context.Context, paymentID string, status payment.Status, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		update payment_verifications
		set status=$2, user_id=coalesce(nullif($3,''), user_id)
		where payment_id=$1 and status='verifying'
	`, paymentID, string(status), userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return payment.ErrNotFound
	}
	return nil
}

func (s *VerificationStore) Release(ctx context.Context, paymentID string) error {
	res, err := s.db.ExecContext(ctx, `
		update payment_verifications set status='pending'
		where payment_id=$1 and status='verifying'
	`, paymentID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return payment.ErrNotFound
	}
	return nil
}

func (s *VerificationStore) ReleaseStale(ctx context.Context, maxAge time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		update payment_verifications set status='pending'
		where status='verifying' and last_attempt_at < now() - $1::interval
	`, maxAge.String())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func scanVerification(row *sql.Row) (payment.Verification, error) {
	var v payment.Verification
	var status string
	err := row.Scan(&v.PaymentID, &v.UserID, &status, &v.Attempts, &v.LastAttemptAt)
	if errors.Is(err, sql.ErrNoRows) {
		return payment.Verification{}, payment.ErrNotFound
	}
	if err != nil {
		return payment.Verification{}, err
	}
	v.Status = payment.Status(status)
	return v, nil
}
