package rbac

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/renthaven/renthaven/internal/shared"
)

// stubRepository is an in-memory Repository for handler tests.
type stubRepository struct {
	nextID int64
	roles  map[int64]Role
}

func newStubRepository() *stubRepository {
	return &stubRepository{nextID: 1, roles: map[int64]Role{}}
}

func (s *stubRepository) seed(role Role) Role {
	role.ID = s.nextID
	role.CreatedAt = time.Now()
	role.UpdatedAt = role.CreatedAt
	for i := range role.Permissions {
		role.Permissions[i].RoleID = role.ID
	}
	s.roles[role.ID] = role
	s.nextID++
	return role
}

func (s *stubRepository) ListRoles(_ context.Context, tenantID int64) ([]Role, error) {
	var out []Role
	for _, role := range s.roles {
		if role.TenantID == tenantID {
			out = append(out, role)
		}
	}
	return out, nil
}

func (s *stubRepository) GetRole(_ context.Context, tenantID, id int64) (Role, error) {
	role, ok := s.roles[id]
	if !ok || role.TenantID != tenantID {
		return Role{}, ErrNotFound
	}
	return role, nil
}

func (s *stubRepository) RolesByNames(_ context.Context, tenantID int64, names []string) ([]Role, error) {
	var out []Role
	for _, role := range s.roles {
		if role.TenantID != tenantID {
			continue
		}
		for _, name := range names {
			if role.Name == name {
				out = append(out, role)
			}
		}
	}
	return out, nil
}

func (s *stubRepository) CreateRole(_ context.Context, role Role) (Role, error) {
	for _, existing := range s.roles {
		if existing.TenantID == role.TenantID && existing.Name == role.Name {
			return Role{}, ErrDuplicateName
		}
	}
	return s.seed(role), nil
}

func (s *stubRepository) UpdateRole(_ context.Context, role Role) (Role, error) {
	existing, ok := s.roles[role.ID]
	if !ok || existing.TenantID != role.TenantID {
		return Role{}, ErrNotFound
	}
	if existing.System {
		return Role{}, ErrSystemRole
	}
	existing.Name = role.Name
	existing.Description = role.Description
	existing.UpdatedAt = time.Now()
	s.roles[role.ID] = existing
	return existing, nil
}

func (s *stubRepository) DeleteRole(_ context.Context, tenantID, id int64) error {
	role, ok := s.roles[id]
	if !ok || role.TenantID != tenantID {
		return ErrNotFound
	}
	if role.System {
		return ErrSystemRole
	}
	delete(s.roles, id)
	return nil
}

func (s *stubRepository) ReplacePermissions(_ context.Context, roleID int64, perms []Permission) error {
	role, ok := s.roles[roleID]
	if !ok {
		return ErrNotFound
	}
	role.Permissions = append([]Permission(nil), perms...)
	for i := range role.Permissions {
		role.Permissions[i].ID = int64(i + 1)
		role.Permissions[i].RoleID = roleID
	}
	s.roles[roleID] = role
	return nil
}

func testServer(t *testing.T, repo *stubRepository) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := NewService(repo, nil)
	handler := NewHandler(logger, service)

	r := chi.NewRouter()
	handler.Routes(r, Middleware{Service: service, Logger: logger})
	return r
}

func adminRepo() *stubRepository {
	repo := newStubRepository()
	repo.seed(Role{
		TenantID: 1,
		Name:     "admin",
		Permissions: []Permission{
			{Action: "read", Resource: "role"},
			{Action: "manage", Resource: "role"},
		},
	})
	return repo
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any, roles ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, buf)
	if len(roles) > 0 {
		subject := &shared.Subject{TenantID: 1, UserID: "u-1", Roles: roles}
		req = req.WithContext(shared.ContextWithSubject(req.Context(), subject))
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestHandlerRequiresSubject(t *testing.T) {
	handler := testServer(t, adminRepo())
	rr := doRequest(t, handler, http.MethodGet, "/roles", nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("anonymous request must be forbidden, got %d", rr.Code)
	}
}

func TestHandlerRequiresManagePermission(t *testing.T) {
	repo := adminRepo()
	repo.seed(Role{
		TenantID:    1,
		Name:        "viewer",
		Permissions: []Permission{{Action: "read", Resource: "role"}},
	})
	handler := testServer(t, repo)

	rr := doRequest(t, handler, http.MethodGet, "/roles", nil, "viewer")
	if rr.Code != http.StatusOK {
		t.Fatalf("viewer must list roles, got %d %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, handler, http.MethodPost, "/roles",
		map[string]string{"name": "accountant"}, "viewer")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("viewer must not create roles, got %d", rr.Code)
	}
}

func TestHandlerRequireFailsClosedOnConditionalGrant(t *testing.T) {
	repo := adminRepo()
	// The only read grant carries an instance condition. Route guards run
	// with no instance to inspect, so the grant cannot be proven there.
	repo.seed(Role{
		TenantID: 1,
		Name:     "scoped-viewer",
		Permissions: []Permission{{
			Action:   "read",
			Resource: "role",
			Conditions: []Condition{
				mustCondition(t, "scope", OpEquals, Scalar("own")),
			},
		}},
	})
	handler := testServer(t, repo)

	rr := doRequest(t, handler, http.MethodGet, "/roles", nil, "scoped-viewer")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("conditional-only grant must be denied at the guard, got %d", rr.Code)
	}
}

func TestHandlerCreateAndFetchRole(t *testing.T) {
	handler := testServer(t, adminRepo())

	rr := doRequest(t, handler, http.MethodPost, "/roles",
		map[string]string{"name": "accountant", "description": "books access"}, "admin")
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: got %d %s", rr.Code, rr.Body.String())
	}

	var created roleView
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created role: %v", err)
	}
	if created.Name != "accountant" || created.ID == 0 {
		t.Fatalf("unexpected created role: %+v", created)
	}

	rr = doRequest(t, handler, http.MethodGet, fmt.Sprintf("/roles/%d", created.ID), nil, "admin")
	if rr.Code != http.StatusOK {
		t.Fatalf("get: got %d", rr.Code)
	}
}

func TestHandlerDuplicateRoleName(t *testing.T) {
	handler := testServer(t, adminRepo())

	first := doRequest(t, handler, http.MethodPost, "/roles", map[string]string{"name": "accountant"}, "admin")
	if first.Code != http.StatusCreated {
		t.Fatalf("first create: got %d", first.Code)
	}
	second := doRequest(t, handler, http.MethodPost, "/roles", map[string]string{"name": "accountant"}, "admin")
	if second.Code != http.StatusConflict {
		t.Fatalf("duplicate name must conflict, got %d", second.Code)
	}
}

func TestHandlerRejectsInvalidPayloads(t *testing.T) {
	handler := testServer(t, adminRepo())

	rr := doRequest(t, handler, http.MethodPost, "/roles", map[string]string{"description": "nameless"}, "admin")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing name must fail validation, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/roles", strings.NewReader("{not json"))
	req = req.WithContext(shared.ContextWithSubject(req.Context(),
		&shared.Subject{TenantID: 1, UserID: "u-1", Roles: []string{"admin"}}))
	raw := httptest.NewRecorder()
	handler.ServeHTTP(raw, req)
	if raw.Code != http.StatusBadRequest {
		t.Fatalf("malformed body must fail, got %d", raw.Code)
	}
}

func TestHandlerSetPermissions(t *testing.T) {
	handler := testServer(t, adminRepo())

	created := doRequest(t, handler, http.MethodPost, "/roles", map[string]string{"name": "agent"}, "admin")
	var role roleView
	if err := json.Unmarshal(created.Body.Bytes(), &role); err != nil {
		t.Fatalf("decode: %v", err)
	}

	payload := map[string]any{
		"permissions": []map[string]any{{
			"action":   "update",
			"resource": "listing",
			"conditions": []map[string]any{{
				"field":    "rent",
				"operator": "between",
				"value":    []int{1000, 5000},
			}},
		}},
	}
	rr := doRequest(t, handler, http.MethodPut, fmt.Sprintf("/roles/%d/permissions", role.ID), payload, "admin")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("set permissions: got %d %s", rr.Code, rr.Body.String())
	}

	got := doRequest(t, handler, http.MethodGet, fmt.Sprintf("/roles/%d", role.ID), nil, "admin")
	var fetched roleView
	if err := json.Unmarshal(got.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("decode fetched: %v", err)
	}
	if len(fetched.Permissions) != 1 || len(fetched.Permissions[0].Conditions) != 1 {
		t.Fatalf("permissions not replaced: %+v", fetched.Permissions)
	}
	if fetched.Permissions[0].Conditions[0].Operator != "between" {
		t.Fatalf("condition lost its operator: %+v", fetched.Permissions[0].Conditions[0])
	}
}

func TestHandlerSetPermissionsRejectsBadOperator(t *testing.T) {
	handler := testServer(t, adminRepo())

	created := doRequest(t, handler, http.MethodPost, "/roles", map[string]string{"name": "agent"}, "admin")
	var role roleView
	if err := json.Unmarshal(created.Body.Bytes(), &role); err != nil {
		t.Fatalf("decode: %v", err)
	}

	payload := map[string]any{
		"permissions": []map[string]any{{
			"action":   "update",
			"resource": "listing",
			"conditions": []map[string]any{{
				"field":    "rent",
				"operator": "regex",
				"value":    ".*",
			}},
		}},
	}
	rr := doRequest(t, handler, http.MethodPut, fmt.Sprintf("/roles/%d/permissions", role.ID), payload, "admin")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown operator must fail validation, got %d", rr.Code)
	}
}

func TestHandlerSystemRoleImmutable(t *testing.T) {
	repo := adminRepo()
	system := repo.seed(Role{TenantID: 1, Name: "platform-admin", System: true})
	handler := testServer(t, repo)

	rr := doRequest(t, handler, http.MethodDelete, fmt.Sprintf("/roles/%d", system.ID), nil, "admin")
	if rr.Code != http.StatusConflict {
		t.Fatalf("deleting a system role must conflict, got %d", rr.Code)
	}

	rr = doRequest(t, handler, http.MethodPut, fmt.Sprintf("/roles/%d/permissions", system.ID),
		map[string]any{"permissions": []map[string]any{}}, "admin")
	if rr.Code != http.StatusConflict {
		t.Fatalf("editing system role permissions must conflict, got %d", rr.Code)
	}
}

func TestHandlerCheckProbe(t *testing.T) {
	repo := adminRepo()
	repo.seed(Role{
		TenantID: 1,
		Name:     "owner",
		Permissions: []Permission{{
			Action:   "update",
			Resource: "listing",
			Conditions: []Condition{
				mustCondition(t, "ownerId", OpEquals, Scalar("u-1")),
			},
		}},
	})
	handler := testServer(t, repo)

	rr := doRequest(t, handler, http.MethodPost, "/check", map[string]any{
		"action":   "update",
		"resource": "listing",
		"instance": map[string]any{"ownerId": "u-1"},
	}, "owner")
	if rr.Code != http.StatusOK {
		t.Fatalf("check: got %d %s", rr.Code, rr.Body.String())
	}
	var allowed struct {
		Allowed bool `json:"allowed"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &allowed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !allowed.Allowed {
		t.Fatal("owner must be allowed on their own listing")
	}

	rr = doRequest(t, handler, http.MethodPost, "/check", map[string]any{
		"action":   "update",
		"resource": "listing",
		"instance": map[string]any{"ownerId": "u-2"},
	}, "owner")
	if err := json.Unmarshal(rr.Body.Bytes(), &allowed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if allowed.Allowed {
		t.Fatal("foreign listing must be denied")
	}
}
