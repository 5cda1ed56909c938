package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"admincore.org/internal/access"
)

var _ access.Registry = (*Store)(nil)

const adminColumns = `id, email, role, password_hash, status, created_at, updated_at`

func (s *Store) LookupByEmail(ctx context.Context, email string) (*access.Admin, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return s.scanAdmin(s.db.QueryRowContext(ctx,
		`select `+adminColumns+` from admins where email=$1`, email))
}

func (s *Store) LookupByID(ctx context.Context, id string) (*access.Admin, error) {
	return s.scanAdmin(s.db.QueryRowContext(ctx,
		`select `+adminColumns+` from admins where id=$1`, id))
}

// CreateAdmin inserts a new account. The password must already be hashed.
func (s *Store) CreateAdmin(ctx context.Context, a *access.Admin) error {
	_, err := s.db.ExecContext(ctx, `
		insert into admins(id, email, role, password_hash, status, created_at, updated_at)
		values ($1, $2, $3, $4, $5, now(), now())
	`, a.ID, strings.ToLower(strings.TrimSpace(a.Email)), string(a.Role), a.PasswordHash, a.Status)
	return err
}

// SetAdminStatus flips an account between active and disabled. Token checks
// re-read the registry, so a disable takes effect on the next request.
func (s *Store) SetAdminStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`update admins set status=$2, updated_at=now() where id=$1`, id, status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return access.ErrNotFound
	}
	return nil
}

func (s *Store) scanAdmin(row *sql.Row) (*access.Admin, error) {
	var a access.Admin
	var role string
	err := row.Scan(&a.ID, &a.Email, &role, &a.PasswordHash, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Role = access.Role(role)
	return &a, nil
}
