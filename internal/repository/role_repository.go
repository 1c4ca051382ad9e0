package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/iam-api/internal/models"
	appErrors "github.com/noah-isme/iam-api/pkg/errors"
)

const roleColumns = "id, name, active, created_at, updated_at"

// RoleRepository provides database access for roles and user-role assignments.
type RoleRepository struct {
	Store[models.Role]
	db *sqlx.DB
}

// NewRoleRepository creates a new instance of RoleRepository.
func NewRoleRepository(db *sqlx.DB) *RoleRepository {
	return &RoleRepository{Store: NewStore[models.Role](db, "roles", roleColumns), db: db}
}

// FindByID returns a role by identifier.
func (r *RoleRepository) FindByID(ctx context.Context, id int64) (*models.Role, error) {
	role, err := r.GetByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find role by id: %w", err)
	}
	return role, nil
}

// RolesForUser returns the distinct active roles assigned to a user. The
// result order is not significant.
func (r *RoleRepository) RolesForUser(ctx context.Context, userID int64) ([]models.Role, error) {
	const query = `SELECT DISTINCT r.id, r.name, r.active, r.created_at, r.updated_at
		FROM roles r
		INNER JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1 AND r.active = TRUE`
	var roles []models.Role
	if err := r.db.SelectContext(ctx, &roles, query, userID); err != nil {
		return nil, fmt.Errorf("roles for user: %w", err)
	}
	return roles, nil
}

// Create inserts a new role and fills the generated id.
func (r *RoleRepository) Create(ctx context.Context, role *models.Role) error {
	now := time.Now().UTC()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now
	}
	role.UpdatedAt = now

	const query = `INSERT INTO roles (name, active, created_at, updated_at) VALUES ($1, $2, $3, $4) RETURNING id`
	if err := r.db.GetContext(ctx, &role.ID, query, role.Name, role.Active, role.CreatedAt, role.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return appErrors.Clone(appErrors.ErrConflict, "role name already exists")
		}
		return fmt.Errorf("create role: %w", err)
	}
	return nil
}

// Update updates mutable fields of a role.
func (r *RoleRepository) Update(ctx context.Context, role *models.Role) error {
	role.UpdatedAt = time.Now().UTC()
	const query = `UPDATE roles SET name = :name, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, role); err != nil {
		if isUniqueViolation(err) {
			return appErrors.Clone(appErrors.ErrConflict, "role name already exists")
		}
		return fmt.Errorf("update role: %w", err)
	}
	return nil
}

// Assign links a role to a user. Assigning an existing pair is a no-op.
func (r *RoleRepository) Assign(ctx context.Context, userID, roleID int64) error {
	const query = `INSERT INTO user_roles (user_id, role_id, created_at) VALUES ($1, $2, $3) ON CONFLICT (user_id, role_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, userID, roleID, time.Now().UTC()); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

// Remove unlinks a role from a user.
func (r *RoleRepository) Remove(ctx context.Context, userID, roleID int64) error {
	const query = `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`
	if _, err := r.db.ExecContext(ctx, query, userID, roleID); err != nil {
		return fmt.Errorf("remove role: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
