package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-user-graphql/internal/user/entity"
)

// Unique constraint names declared by the users migration.
const (
	UsernameConstraint = "users_username_key"
	EmailConstraint    = "users_email_key"
)

// UniqueViolation reports an insert rejected by a unique constraint.
// Field is "username", "email" or empty when the constraint is unknown.
type UniqueViolation struct {
	Field      string
	Constraint string
	Err        error
}

func (e *UniqueViolation) Error() string {
	if e.Field != "" {
		return "duplicate " + e.Field + " (" + e.Constraint + ")"
	}
	return "unique constraint violated: " + e.Constraint
}

func (e *UniqueViolation) Unwrap() error { return e.Err }

// FieldForConstraint attributes a constraint name to a users column.
func FieldForConstraint(constraint string) string {
	switch {
	case constraint == UsernameConstraint, strings.Contains(constraint, "username"):
		return "username"
	case constraint == EmailConstraint, strings.Contains(constraint, "email"):
		return "email"
	}
	return ""
}

// uniqueViolation converts a lib/pq unique_violation into *UniqueViolation.
func uniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return &UniqueViolation{Field: FieldForConstraint(pqErr.Constraint), Constraint: pqErr.Constraint, Err: err}
	}
	return err
}

// UserRepo provides data access for users table using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, username, email, password_hash, password_algo, created_at`

// Insert stores u and refreshes CreatedAt from the stored row. A duplicate
// username or email yields *UniqueViolation.
func (r *UserRepo) Insert(ctx context.Context, u *entity.User) error {
	const q = `INSERT INTO users (id, username, email, password_hash, password_algo, created_at)
		VALUES (:id, :username, :email, :password_hash, :password_algo, :created_at)
		RETURNING created_at`
	rows, err := r.db.NamedQueryContext(ctx, q, u)
	if err != nil {
		return uniqueViolation(err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return uniqueViolation(err)
		}
		return errors.New("insert user: no row returned")
	}
	if err := rows.Scan(&u.CreatedAt); err != nil {
		return fmt.Errorf("insert user: scan created_at: %w", err)
	}
	return nil
}

// FindByUsername returns nil, nil when no user matches.
func (r *UserRepo) FindByUsername(ctx context.Context, username string) (*entity.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE username=$1`, username)
}

// FindByEmail returns nil, nil when no user matches.
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email)
}

func (r *UserRepo) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username=$1)`, username)
}

func (r *UserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email=$1)`, email)
}

func (r *UserRepo) findOne(ctx context.Context, q string, arg string) (*entity.User, error) {
	var row entity.User
	if err := r.db.GetContext(ctx, &row, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *UserRepo) exists(ctx context.Context, q string, arg string) (bool, error) {
	var ok bool
	if err := r.db.GetContext(ctx, &ok, q, arg); err != nil {
		return false, err
	}
	return ok, nil
}
