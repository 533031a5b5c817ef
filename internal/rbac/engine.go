package rbac

import "strings"

// Engine evaluates authorization queries against in-memory roles. It is pure:
// callers load the subject's roles (Service does this from the repository)
// and pass the resource instance as a key/value mapping.
type Engine struct{}

// Authorize reports whether any permission across the subject's roles grants
// action on resource for the given instance. OR across permissions, AND
// within a permission's conditions, implicit deny when nothing matches. A
// subject with zero roles is always denied.
func (Engine) Authorize(roles []Role, action, resource string, instance map[string]any) Decision {
	action = normalizeTerm(action)
	resource = normalizeTerm(resource)
	if action == "" || resource == "" {
		return Decision{}
	}

	for i := range roles {
		for j := range roles[i].Permissions {
			perm := &roles[i].Permissions[j]
			if normalizeTerm(perm.Action) != action || normalizeTerm(perm.Resource) != resource {
				continue
			}
			if permissionApplies(perm, instance) {
				return Decision{Allowed: true, Permission: perm}
			}
		}
	}
	return Decision{}
}

func permissionApplies(perm *Permission, instance map[string]any) bool {
	if perm.Unconditional() {
		return true
	}
	// Conditional grants need an instance to inspect; without one the
	// conditions cannot be proven and the permission fails closed.
	if instance == nil {
		return false
	}
	for _, cond := range perm.Conditions {
		if !cond.Holds(instance) {
			return false
		}
	}
	return true
}

func normalizeTerm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
