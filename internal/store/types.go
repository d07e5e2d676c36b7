package store

import "time"

// JIT request statuses. The only legal transitions are
// PENDING -> APPROVED -> EXPIRED and PENDING -> DENIED.
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusDenied   = "DENIED"
	StatusExpired  = "EXPIRED"
)

// Session statuses.
const (
	SessionActive = "ACTIVE"
	SessionEnded  = "ENDED"
)

// User is an operator account.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	MFASecret    string    `json:"-"`
	MFAEnabled   bool      `json:"mfa_enabled"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
}

// Role names a capability a user may hold.
type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Asset is a restricted infrastructure host.
type Asset struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// Credential points at the vault path holding an asset's login secret.
// The secret itself never touches this database.
type Credential struct {
	ID        int64     `json:"id"`
	AssetID   int64     `json:"asset_id"`
	VaultPath string    `json:"vault_path"`
	CreatedAt time.Time `json:"created_at"`
}

// JitRequest is a time-boxed access request.
type JitRequest struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"user_id"`
	AssetID         int64      `json:"asset_id"`
	RoleID          int64      `json:"role_id"`
	Reason          string     `json:"reason"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          string     `json:"status"`
	ApprovedBy      *int64     `json:"approved_by"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       *time.Time `json:"expires_at"`
}

// Session is one relayed connection opened against an approved request.
type Session struct {
	ID            int64      `json:"id"`
	JitRequestID  int64      `json:"jit_request_id"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at"`
	RecordingPath string     `json:"recording_path"`
	Status        string     `json:"status"`
}

// AuditEvent records one mutating action. Events for authorization state
// changes are committed in the same transaction as the change itself.
type AuditEvent struct {
	ID           int64     `json:"id"`
	ActorID      *int64    `json:"actor_id"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	TS           time.Time `json:"ts"`
	IP           string    `json:"ip,omitempty"`
	Metadata     string    `json:"metadata,omitempty"`
}
