package rbac

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/renthaven/renthaven/internal/platform/httpx"
	"github.com/renthaven/renthaven/internal/shared"
)

// Handler exposes the role/permission administration surface and the
// authorization probe.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds the RBAC admin handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// Routes mounts the admin endpoints. Reads need role read permission,
// writes need role manage; the probe only needs an authenticated subject.
func (h *Handler) Routes(r chi.Router, guard Middleware) {
	r.Group(func(r chi.Router) {
		r.Use(guard.Require(shared.ActionRead, shared.ResourceRole))
		r.Get("/roles", h.listRoles)
		r.Get("/roles/{roleID}", h.getRole)
	})
	r.Group(func(r chi.Router) {
		r.Use(guard.Require(shared.ActionManage, shared.ResourceRole))
		r.Post("/roles", h.createRole)
		r.Put("/roles/{roleID}", h.updateRole)
		r.Delete("/roles/{roleID}", h.deleteRole)
		r.Put("/roles/{roleID}/permissions", h.setPermissions)
	})
	r.Post("/check", h.check)
}

type conditionRequest struct {
	Field    string          `json:"field" validate:"required,max=200"`
	Operator string          `json:"operator" validate:"required,oneof=equals contains in gt lt between"`
	Value    json.RawMessage `json:"value" validate:"required"`
}

type permissionRequest struct {
	Action      string             `json:"action" validate:"required,max=50"`
	Resource    string             `json:"resource" validate:"required,max=50"`
	Description string             `json:"description" validate:"max=500"`
	Conditions  []conditionRequest `json:"conditions" validate:"omitempty,dive"`
}

type roleRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
}

type setPermissionsRequest struct {
	Permissions []permissionRequest `json:"permissions" validate:"dive"`
}

type checkRequest struct {
	Action   string         `json:"action" validate:"required,max=50"`
	Resource string         `json:"resource" validate:"required,max=50"`
	Instance map[string]any `json:"instance"`
}

type conditionView struct {
	Field    string          `json:"field"`
	Operator string          `json:"operator"`
	Value    json.RawMessage `json:"value"`
}

type permissionView struct {
	ID          int64           `json:"id"`
	Action      string          `json:"action"`
	Resource    string          `json:"resource"`
	Description string          `json:"description,omitempty"`
	Conditions  []conditionView `json:"conditions,omitempty"`
}

type roleView struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	System      bool             `json:"system"`
	Permissions []permissionView `json:"permissions"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	subject := shared.SubjectFromContext(r.Context())
	roles, err := h.service.ListRoles(r.Context(), subject.TenantID)
	if err != nil {
		h.respondErr(w, "list roles", err)
		return
	}
	views := make([]roleView, 0, len(roles))
	for _, role := range roles {
		views = append(views, toRoleView(role))
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	subject := shared.SubjectFromContext(r.Context())
	id, err := roleID(r)
	if err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	role, err := h.service.GetRole(r.Context(), subject.TenantID, id)
	if err != nil {
		h.respondErr(w, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleView(role))
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	subject := shared.SubjectFromContext(r.Context())
	var req roleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.service.CreateRole(r.Context(), subject.TenantID, req.Name, req.Description)
	if err != nil {
		h.respondErr(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRoleView(role))
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	subject := shared.SubjectFromContext(r.Context())
	id, err := roleID(r)
	if err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	var req roleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.service.UpdateRole(r.Context(), subject.TenantID, id, req.Name, req.Description)
	if err != nil {
		h.respondErr(w, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleView(role))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	subject := shared.SubjectFromContext(r.Context())
	id, err := roleID(r)
	if err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.service.DeleteRole(r.Context(), subject.TenantID, id); err != nil {
		h.respondErr(w, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setPermissions(w http.ResponseWriter, r *http.Request) {
	subject := shared.SubjectFromContext(r.Context())
	id, err := roleID(r)
	if err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	var req setPermissionsRequest
	if !h.decode(w, r, &req) {
		return
	}

	perms := make([]Permission, 0, len(req.Permissions))
	for _, p := range req.Permissions {
		conditions, err := parseConditionRequests(p.Conditions)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		perms = append(perms, Permission{
			Action:      p.Action,
			Resource:    p.Resource,
			Description: p.Description,
			Conditions:  conditions,
		})
	}

	if err := h.service.SetRolePermissions(r.Context(), subject.TenantID, id, perms); err != nil {
		h.respondErr(w, "set permissions", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// check evaluates an authorization probe for the calling subject's own roles.
func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	subject := shared.SubjectFromContext(r.Context())
	if subject == nil {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	var req checkRequest
	if !h.decode(w, r, &req) {
		return
	}
	decision, err := h.service.Authorize(r.Context(), subject.TenantID, subject.Roles, req.Action, req.Resource, req.Instance)
	if err != nil {
		h.respondErr(w, "authorize", err)
		return
	}
	resp := map[string]any{"allowed": decision.Allowed}
	if decision.Permission != nil {
		resp["permissionId"] = decision.Permission.ID
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrDuplicateName):
		httpx.RespondError(w, httpx.ErrDuplicate)
	case errors.Is(err, ErrSystemRole):
		httpx.Problem(w, http.StatusConflict, "Conflict", ErrSystemRole.Error())
	case errors.Is(err, ErrUnknownOperator):
		httpx.RespondError(w, httpx.ErrValidation)
	default:
		h.logger.Error("rbac "+op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func parseConditionRequests(reqs []conditionRequest) ([]Condition, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	conditions := make([]Condition, 0, len(reqs))
	for _, req := range reqs {
		cond, err := ParseConditionDoc(ConditionDoc{Field: req.Field, Operator: req.Operator, Value: req.Value})
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, cond)
	}
	return conditions, nil
}

func toRoleView(role Role) roleView {
	perms := make([]permissionView, 0, len(role.Permissions))
	for _, perm := range role.Permissions {
		pv := permissionView{
			ID:          perm.ID,
			Action:      perm.Action,
			Resource:    perm.Resource,
			Description: perm.Description,
		}
		for _, cond := range perm.Conditions {
			doc, err := EncodeCondition(cond)
			if err != nil {
				continue
			}
			pv.Conditions = append(pv.Conditions, conditionView{
				Field:    doc.Field,
				Operator: doc.Operator,
				Value:    doc.Value,
			})
		}
		perms = append(perms, pv)
	}
	return roleView{
		ID:          role.ID,
		Name:        role.Name,
		Description: role.Description,
		System:      role.System,
		Permissions: perms,
		CreatedAt:   role.CreatedAt,
		UpdatedAt:   role.UpdatedAt,
	}
}

func roleID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "roleID"), 10, 64)
}
