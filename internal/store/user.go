package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/mathpath/mathexam/internal/apperr"
	"github.com/mathpath/mathexam/internal/model"
)

const userColumns = `id, email, password_hash, role, points, status, created_at`

func scanUser(row interface{ Scan(...any) error }) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.Points, &u.Status, &u.CreatedAt)
	return u, err
}

// CreateUser inserts a new user. A duplicate email yields apperr.ErrConflict.
func (s *Store) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	u.ID = uuid.NewString()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.CreatedAt = now()
	if u.Role == "" {
		u.Role = model.UserRoleUser
	}
	if u.Status == "" {
		u.Status = model.StatusActive
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		u.ID, u.Email, u.PasswordHash, u.Role, u.Points, u.Status, u.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, fmt.Errorf("email %s: %w", u.Email, apperr.ErrConflict)
		}
		slog.Error("failed to create user", "email", u.Email, "error", err)
		return model.User{}, err
	}
	slog.Info("created user", "id", u.ID, "email", u.Email, "role", u.Role)
	return u, nil
}

// GetUserByEmail returns a user by email (case-insensitive).
func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, s.q(
		`SELECT `+userColumns+` FROM users WHERE email = ?`), strings.ToLower(strings.TrimSpace(email))))
	return u, notFound(err)
}

// GetUserByID returns a user by ID.
func (s *Store) GetUserByID(ctx context.Context, id string) (model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, s.q(
		`SELECT `+userColumns+` FROM users WHERE id = ?`), id))
	return u, notFound(err)
}

// ListUsers returns all users, oldest first.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UserPatch holds optional admin changes to a user.
type UserPatch struct {
	Role   *model.UserRole
	Points *int
	Status *model.AccountStatus
}

// UpdateUser applies a partial update and returns the updated user.
func (s *Store) UpdateUser(ctx context.Context, id string, p UserPatch) (model.User, error) {
	var (
		sets []string
		args []any
	)
	if p.Role != nil {
		sets = append(sets, "role = ?")
		args = append(args, *p.Role)
	}
	if p.Points != nil {
		sets = append(sets, "points = ?")
		args = append(args, *p.Points)
	}
	if p.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *p.Status)
	}
	if len(sets) > 0 {
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
		if err := affectedOrNotFound(res, err); err != nil {
			return model.User{}, err
		}
	}
	return s.GetUserByID(ctx, id)
}

// UpdatePassword replaces a user's password hash.
func (s *Store) UpdatePassword(ctx context.Context, id, hash string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET password_hash = ? WHERE id = ?`), hash, id)
	return affectedOrNotFound(res, err)
}

// DeleteUser removes a user together with their records, wrong questions and notes.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM exam_records WHERE user_id = ?`,
			`DELETE FROM wrong_questions WHERE user_id = ?`,
			`DELETE FROM notes WHERE user_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, s.q(stmt), id); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM users WHERE id = ?`), id)
		return affectedOrNotFound(res, err)
	})
}

// UserCount returns the total number of users.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}
