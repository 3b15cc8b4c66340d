package utils

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"notekeep/models"
)

const userColumns = "id, firstname, lastname, username, email, password_hash, created_at"

// UserStore persists user credentials.
type UserStore struct {
	db  *DB
	now func() time.Time
}

func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db, now: time.Now}
}

// CreateUser stores u with a bcrypt hash of password. The returned user
// carries the assigned id.
func (s *UserStore) CreateUser(ctx context.Context, u models.User, password string) (models.User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return models.User{}, fmt.Errorf("hashing password: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.User{}, fmt.Errorf("begin create user: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx, s.db.Rebind("SELECT EXISTS(SELECT 1 FROM users WHERE username = ?)"), u.Username).Scan(&exists)
	if err != nil {
		return models.User{}, fmt.Errorf("checking username: %w", err)
	}
	if exists {
		return models.User{}, ErrDuplicateUsername
	}

	err = tx.QueryRowContext(ctx, s.db.Rebind("SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)"), u.Email).Scan(&exists)
	if err != nil {
		return models.User{}, fmt.Errorf("checking email: %w", err)
	}
	if exists {
		return models.User{}, ErrDuplicateEmail
	}

	u.PasswordHash = hash
	u.CreatedAt = s.now().UTC().Truncate(time.Microsecond)

	stmt := "INSERT INTO users (firstname, lastname, username, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?, ?) RETURNING id"
	err = tx.QueryRowContext(ctx, s.db.Rebind(stmt),
		u.Firstname, u.Lastname, u.Username, u.Email, u.PasswordHash, u.CreatedAt).Scan(&u.ID)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			if strings.Contains(constraint, "email") {
				return models.User{}, ErrDuplicateEmail
			}
			return models.User{}, ErrDuplicateUsername
		}
		return models.User{}, fmt.Errorf("inserting user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.User{}, fmt.Errorf("commit create user: %w", err)
	}
	return u, nil
}

func (s *UserStore) FindByUsername(ctx context.Context, username string) (models.User, error) {
	return s.findOne(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username)
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return s.findOne(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email)
}

// UpdatePassword replaces the hash of the account registered under email.
// Emails are unique, so at most one account changes.
func (s *UserStore) UpdatePassword(ctx context.Context, email, password string) (models.User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return models.User{}, fmt.Errorf("hashing password: %w", err)
	}

	return s.findOne(ctx, "UPDATE users SET password_hash = ? WHERE email = ? RETURNING "+userColumns, hash, email)
}

func (s *UserStore) findOne(ctx context.Context, query string, args ...any) (models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var u models.User
	err := s.db.QueryRowContext(ctx, s.db.Rebind(query), args...).
		Scan(&u.ID, &u.Firstname, &u.Lastname, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}
