package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/renthaven/renthaven/internal/observability"
)

// Service orchestrates RBAC operations: role lifecycle, permission
// management and authorization checks.
type Service struct {
	repo    Repository
	engine  Engine
	metrics *observability.Metrics
}

// NewService constructs a Service backed by the provided repository.
func NewService(repo Repository, metrics *observability.Metrics) *Service {
	return &Service{repo: repo, metrics: metrics}
}

// ListRoles returns all roles for a tenant ordered by name.
func (s *Service) ListRoles(ctx context.Context, tenantID int64) ([]Role, error) {
	return s.repo.ListRoles(ctx, tenantID)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, tenantID, id int64) (Role, error) {
	return s.repo.GetRole(ctx, tenantID, id)
}

// CreateRole inserts a new tenant role. System roles are seeded out of band
// and cannot be created through the service.
func (s *Service) CreateRole(ctx context.Context, tenantID int64, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("rbac: role name required")
	}
	return s.repo.CreateRole(ctx, Role{
		TenantID:    tenantID,
		Name:        name,
		Description: strings.TrimSpace(description),
	})
}

// UpdateRole renames or re-describes an existing non-system role.
func (s *Service) UpdateRole(ctx context.Context, tenantID, id int64, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("rbac: role name required")
	}
	return s.repo.UpdateRole(ctx, Role{
		ID:          id,
		TenantID:    tenantID,
		Name:        name,
		Description: strings.TrimSpace(description),
	})
}

// DeleteRole removes a non-system role.
func (s *Service) DeleteRole(ctx context.Context, tenantID, id int64) error {
	return s.repo.DeleteRole(ctx, tenantID, id)
}

// SetRolePermissions replaces the permission set of a role. The target role
// must exist and must not be a system role.
func (s *Service) SetRolePermissions(ctx context.Context, tenantID, roleID int64, perms []Permission) error {
	role, err := s.repo.GetRole(ctx, tenantID, roleID)
	if err != nil {
		return err
	}
	if role.System {
		return ErrSystemRole
	}
	return s.repo.ReplacePermissions(ctx, roleID, perms)
}

// Authorize loads the subject's roles by name and evaluates the request
// against them. Unknown role names simply contribute nothing and the query
// fails closed.
func (s *Service) Authorize(ctx context.Context, tenantID int64, roleNames []string, action, resource string, instance map[string]any) (Decision, error) {
	if len(roleNames) == 0 {
		s.metrics.ObserveDecision(false)
		return Decision{}, nil
	}
	roles, err := s.repo.RolesByNames(ctx, tenantID, roleNames)
	if err != nil {
		return Decision{}, err
	}
	decision := s.engine.Authorize(roles, action, resource, instance)
	s.metrics.ObserveDecision(decision.Allowed)
	return decision, nil
}
