package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/renthaven/renthaven/internal/platform/db"
)

// Sentinel repository errors.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrDuplicateName indicates a role name collision within a tenant.
	ErrDuplicateName = errors.New("rbac: role name already exists")
	// ErrSystemRole indicates an attempt to modify or delete a seeded role.
	ErrSystemRole = errors.New("rbac: system role is immutable")
)

// Repository loads and persists roles with their permissions.
type Repository interface {
	ListRoles(ctx context.Context, tenantID int64) ([]Role, error)
	GetRole(ctx context.Context, tenantID, id int64) (Role, error)
	RolesByNames(ctx context.Context, tenantID int64, names []string) ([]Role, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	DeleteRole(ctx context.Context, tenantID, id int64) error
	ReplacePermissions(ctx context.Context, roleID int64, perms []Permission) error
}

// PGRepository is the PostgreSQL-backed Repository. Conditions live as JSONB
// on the permissions table.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs the repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const roleColumns = `id, tenant_id, name, description, is_system, created_at, updated_at`

// ListRoles returns all roles for a tenant, permissions attached, ordered by
// name.
func (r *PGRepository) ListRoles(ctx context.Context, tenantID int64) ([]Role, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE tenant_id=$1 ORDER BY name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("rbac: list roles: %w", err)
	}
	roles, err := scanRoles(rows)
	if err != nil {
		return nil, err
	}
	return roles, r.attachPermissions(ctx, roles)
}

// GetRole fetches a single role with permissions.
func (r *PGRepository) GetRole(ctx context.Context, tenantID, id int64) (Role, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return Role{}, fmt.Errorf("rbac: get role: %w", err)
	}
	roles, err := scanRoles(rows)
	if err != nil {
		return Role{}, err
	}
	if len(roles) == 0 {
		return Role{}, ErrNotFound
	}
	if err := r.attachPermissions(ctx, roles); err != nil {
		return Role{}, err
	}
	return roles[0], nil
}

// RolesByNames loads the subject's roles by name, permissions attached. Names
// that do not exist are silently absent from the result; the engine treats
// the reduced set as-is (fail closed).
func (r *PGRepository) RolesByNames(ctx context.Context, tenantID int64, names []string) ([]Role, error) {
	if len(names) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE tenant_id=$1 AND name = ANY($2)`, tenantID, names)
	if err != nil {
		return nil, fmt.Errorf("rbac: roles by names: %w", err)
	}
	roles, err := scanRoles(rows)
	if err != nil {
		return nil, err
	}
	return roles, r.attachPermissions(ctx, roles)
}

// CreateRole inserts a role. Name uniqueness per tenant is enforced by a
// unique index and surfaced as ErrDuplicateName.
func (r *PGRepository) CreateRole(ctx context.Context, role Role) (Role, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO roles (tenant_id, name, description, is_system)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		role.TenantID, role.Name, role.Description, role.System,
	).Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return Role{}, mapPgError("rbac: create role", err)
	}
	return role, nil
}

// UpdateRole updates a non-system role's name and description.
func (r *PGRepository) UpdateRole(ctx context.Context, role Role) (Role, error) {
	err := r.pool.QueryRow(ctx,
		`UPDATE roles SET name=$1, description=$2, updated_at=now()
		 WHERE tenant_id=$3 AND id=$4 AND is_system=false
		 RETURNING id, created_at, updated_at`,
		role.Name, role.Description, role.TenantID, role.ID,
	).Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, r.explainMissing(ctx, role.TenantID, role.ID)
		}
		return Role{}, mapPgError("rbac: update role", err)
	}
	return role, nil
}

// DeleteRole removes a non-system role and its permissions.
func (r *PGRepository) DeleteRole(ctx context.Context, tenantID, id int64) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM roles WHERE tenant_id=$1 AND id=$2 AND is_system=false`, tenantID, id)
	if err != nil {
		return fmt.Errorf("rbac: delete role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMissing(ctx, tenantID, id)
	}
	return nil
}

// ReplacePermissions swaps a role's permission set atomically.
func (r *PGRepository) ReplacePermissions(ctx context.Context, roleID int64, perms []Permission) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM permissions WHERE role_id=$1`, roleID); err != nil {
			return fmt.Errorf("rbac: clear permissions: %w", err)
		}
		for _, perm := range perms {
			docs := make([]ConditionDoc, 0, len(perm.Conditions))
			for _, cond := range perm.Conditions {
				doc, err := EncodeCondition(cond)
				if err != nil {
					return err
				}
				docs = append(docs, doc)
			}
			raw, err := json.Marshal(docs)
			if err != nil {
				return fmt.Errorf("rbac: encode conditions: %w", err)
			}
			_, err = tx.Exec(ctx,
				`INSERT INTO permissions (role_id, action, resource, description, conditions)
				 VALUES ($1, $2, $3, $4, $5)`,
				roleID, perm.Action, perm.Resource, perm.Description, raw)
			if err != nil {
				return fmt.Errorf("rbac: insert permission: %w", err)
			}
		}
		return nil
	})
}

// attachPermissions loads permissions for the given roles in one query.
func (r *PGRepository) attachPermissions(ctx context.Context, roles []Role) error {
	if len(roles) == 0 {
		return nil
	}
	ids := make([]int64, len(roles))
	index := make(map[int64]*Role, len(roles))
	for i := range roles {
		ids[i] = roles[i].ID
		index[roles[i].ID] = &roles[i]
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, role_id, action, resource, description, conditions
		 FROM permissions WHERE role_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return fmt.Errorf("rbac: load permissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var perm Permission
		var raw []byte
		if err := rows.Scan(&perm.ID, &perm.RoleID, &perm.Action, &perm.Resource, &perm.Description, &raw); err != nil {
			return fmt.Errorf("rbac: scan permission: %w", err)
		}
		if len(raw) > 0 {
			var docs []ConditionDoc
			if err := json.Unmarshal(raw, &docs); err != nil {
				return fmt.Errorf("rbac: decode conditions: %w", err)
			}
			perm.Conditions, err = ParseConditionDocs(docs)
			if err != nil {
				return err
			}
		}
		if role, ok := index[perm.RoleID]; ok {
			role.Permissions = append(role.Permissions, perm)
		}
	}
	return rows.Err()
}

// explainMissing distinguishes "not found" from "system role" after a guarded
// write matched no rows.
func (r *PGRepository) explainMissing(ctx context.Context, tenantID, id int64) error {
	var isSystem bool
	err := r.pool.QueryRow(ctx,
		`SELECT is_system FROM roles WHERE tenant_id=$1 AND id=$2`, tenantID, id).Scan(&isSystem)
	if err != nil {
		return ErrNotFound
	}
	if isSystem {
		return ErrSystemRole
	}
	return ErrNotFound
}

func scanRoles(rows pgx.Rows) ([]Role, error) {
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.TenantID, &role.Name, &role.Description,
			&role.System, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("rbac: scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func mapPgError(prefix string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateName
	}
	return fmt.Errorf("%s: %w", prefix, err)
}
