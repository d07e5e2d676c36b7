// Package api provides the control-plane REST API: authentication, asset
// management, the JIT request lifecycle, session start/end and the audit
// read surface.
package api

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"is_admin"`
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest is the body for POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// UserPayload is the caller-visible view of a user.
type UserPayload struct {
	ID         int64    `json:"id"`
	Email      string   `json:"email"`
	IsAdmin    bool     `json:"is_admin"`
	MFAEnabled bool     `json:"mfa_enabled"`
	Roles      []string `json:"roles"`
}

// TokenResponse carries a fresh token pair.
type TokenResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         UserPayload `json:"user"`
}

// MFASetupResponse is the body returned by POST /auth/mfa/setup.
type MFASetupResponse struct {
	Secret     string `json:"secret"`
	OtpauthURL string `json:"otpauth_url"`
}

// MFAEnableRequest is the body for POST /auth/mfa/enable.
type MFAEnableRequest struct {
	Code string `json:"code"`
}

// CreateRoleRequest is the body for POST /roles.
type CreateRoleRequest struct {
	Name string `json:"name"`
}

// AssignRoleRequest is the body for POST /roles/assign.
type AssignRoleRequest struct {
	UserID int64 `json:"user_id"`
	RoleID int64 `json:"role_id"`
}

// CreateAssetRequest is the body for POST /assets.
type CreateAssetRequest struct {
	Name string `json:"name"`
	Host string `json:"host"`
	Port int    `json:"port"`
	Type string `json:"type"`
}

// CreateCredentialRequest is the body for POST /assets/{id}/credential.
type CreateCredentialRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CreateCredentialResponse reports where the credential was stored.
type CreateCredentialResponse struct {
	VaultPath string `json:"vault_path"`
}

// CreateJitRequest is the body for POST /jit-requests.
type CreateJitRequest struct {
	AssetID         int64  `json:"asset_id"`
	RoleID          int64  `json:"role_id"`
	Reason          string `json:"reason"`
	DurationMinutes int    `json:"duration_minutes"`
}

// StartSessionRequest is the body for POST /sessions/start.
type StartSessionRequest struct {
	JitRequestID int64 `json:"jit_request_id"`
}

// StatusResponse is a minimal acknowledgement body.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
