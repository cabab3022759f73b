package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/tahiry/fokontany/internal/domain"
)

const userColumns = `id, email, password_hash, display_name, role, home_zone_id, active, created_at, updated_at`

// UserRepository handles user data access operations.
type UserRepository struct {
	db sqlx.ExtContext
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db sqlx.ExtContext) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID retrieves a user by their ID.
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	var user domain.User
	err := sqlx.GetContext(ctx, r.db, &user,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find user by id %d: %w", id, err)
	}
	return &user, nil
}

// FindByEmail retrieves a user by their email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	err := sqlx.GetContext(ctx, r.db, &user,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find user by email %s: %w", email, err)
	}
	return &user, nil
}

// FindActiveSecretariesByZone retrieves the active secretaries assigned to a
// zone. These are the eligible reviewers for submissions from that zone.
func (r *UserRepository) FindActiveSecretariesByZone(ctx context.Context, zoneID int64) ([]domain.User, error) {
	var users []domain.User
	err := sqlx.SelectContext(ctx, r.db, &users,
		`SELECT `+userColumns+` FROM users
		 WHERE role = $1 AND home_zone_id = $2 AND active`,
		domain.RoleSecretary, zoneID)
	if err != nil {
		return nil, fmt.Errorf("find secretaries for zone %d: %w", zoneID, err)
	}
	return users, nil
}
