package auth

const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopeWorkflowRead  = "workflows:read"
	ScopeWorkflowWrite = "workflows:write"
)

// AllScopes defines the full set of scopes used by the Swagger UI
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeWorkflowRead,
	ScopeWorkflowWrite,
}
