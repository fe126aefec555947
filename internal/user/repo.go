package user

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// User is a registered account. Email is stored normalized and is the
// lookup key everywhere.
type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Password   string    `json:"-"`
	Fullname   string    `json:"fullname"`
	RegNo      string    `json:"regNo"`
	Department string    `json:"department"`
	Role       string    `json:"role"`
	Joined     time.Time `json:"joined"`
}

// Well-known roles.
const (
	RoleStudent = "Student"
	RoleFaculty = "Faculty"
	RoleAdmin   = "Admin"
)

// Repository persists user accounts.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	Insert(ctx context.Context, u User) (User, error)
	UpdatePassword(ctx context.Context, email, passwordHash string) error
	ListByRole(ctx context.Context, role string) ([]User, error)
	DeleteByID(ctx context.Context, id string) error
}

// PostgresRepository implements Repository over database/sql.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindByEmail returns the user for a normalized email, or nil when absent.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, password, fullname, reg_no, department, role, joined
		FROM users WHERE email = $1
	`, email)
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Password, &u.Fullname, &u.RegNo, &u.Department, &u.Role, &u.Joined); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// Insert writes a new user.
func (r *PostgresRepository) Insert(ctx context.Context, u User) (User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Joined.IsZero() {
		u.Joined = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password, fullname, reg_no, department, role, joined)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, u.ID, u.Email, u.Password, u.Fullname, u.RegNo, u.Department, u.Role, u.Joined)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// UpdatePassword replaces the stored hash for a normalized email.
func (r *PostgresRepository) UpdatePassword(ctx context.Context, email, passwordHash string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE email = $1`, email, passwordHash)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByRole returns users with the given role, newest first.
func (r *PostgresRepository) ListByRole(ctx context.Context, role string) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email, password, fullname, reg_no, department, role, joined
		FROM users WHERE role = $1
		ORDER BY joined DESC
	`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.Password, &u.Fullname, &u.RegNo, &u.Department, &u.Role, &u.Joined); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeleteByID removes an account.
func (r *PostgresRepository) DeleteByID(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
