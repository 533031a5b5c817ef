package shared

// Core platform actions and resources used by the security admin surface.
// Business resources (property, payment, message, report) are declared by
// their own modules; these cover the layer's own administration.
const (
	ActionRead   = "read"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionManage = "manage"

	ResourceRole = "role"
)
