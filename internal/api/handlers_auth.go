package api

import (
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/halcyon-sec/pamgate/internal/auth"
	"github.com/halcyon-sec/pamgate/internal/store"
)

// userPayload builds the caller-visible view of a user, roles included.
func (h *Handlers) userPayload(user *store.User) UserPayload {
	roles, err := h.store.UserRoleNames(user.ID)
	if err != nil {
		roles = []string{}
	}
	return UserPayload{
		ID:         user.ID,
		Email:      user.Email,
		IsAdmin:    user.IsAdmin,
		MFAEnabled: user.MFAEnabled,
		Roles:      roles,
	}
}

func (h *Handlers) tokenPair(user *store.User) (*TokenResponse, error) {
	access, err := h.issuer.AccessToken(user.ID)
	if err != nil {
		return nil, err
	}
	refresh, err := h.issuer.RefreshToken(user.ID)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{AccessToken: access, RefreshToken: refresh, User: h.userPayload(user)}, nil
}

func (h *Handlers) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	if req.IsAdmin && !h.allowAdminRegistration {
		writeError(w, http.StatusForbidden, "admin registration is disabled")
		return
	}
	if _, err := h.store.UserByEmail(req.Email); err == nil {
		writeError(w, http.StatusConflict, "email already registered")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	user, err := h.store.CreateUser(req.Email, hash, req.IsAdmin)
	if err != nil {
		log.Printf("api: create user failed: %v", err)
		writeError(w, http.StatusConflict, "email already registered")
		return
	}
	h.audit(&user.ID, "user_register", "user", user.ID, clientIP(r))
	writeJSON(w, http.StatusCreated, h.userPayload(user))
}

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := h.store.UserByEmail(strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil || !auth.CheckPassword(req.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	pair, err := h.tokenPair(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.audit(&user.ID, "user_login", "user", user.ID, clientIP(r))
	writeJSON(w, http.StatusOK, pair)
}

func (h *Handlers) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	userID, err := h.issuer.VerifyRefresh(req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	user, err := h.store.UserByID(userID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "user not found")
		return
	}
	pair, err := h.tokenPair(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *Handlers) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.userPayload(callerFrom(r)))
}

// handleMFASetup issues a fresh TOTP enrollment. The secret is returned once
// and the enabled flag stays off until a code is confirmed against it.
func (h *Handlers) handleMFASetup(w http.ResponseWriter, r *http.Request) {
	user := callerFrom(r)
	secret, url, err := auth.GenerateTOTPSecret(user.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.store.SetMFASecret(user.ID, secret); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, MFASetupResponse{Secret: secret, OtpauthURL: url})
}

func (h *Handlers) handleMFAEnable(w http.ResponseWriter, r *http.Request) {
	user := callerFrom(r)
	var req MFAEnableRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if user.MFASecret == "" {
		writeError(w, http.StatusBadRequest, "MFA setup required first")
		return
	}
	if !auth.VerifyTOTP(user.MFASecret, req.Code, time.Now().UTC()) {
		writeError(w, http.StatusForbidden, "invalid MFA code")
		return
	}
	if err := h.store.EnableMFA(user.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.audit(&user.ID, "mfa_enable", "user", user.ID, clientIP(r))
	writeJSON(w, http.StatusOK, StatusResponse{Status: "enabled"})
}

// audit records a standalone event for actions outside the store's own
// transactional audit paths. Failures are logged, never surfaced.
func (h *Handlers) audit(actorID *int64, action, resourceType string, resourceID int64, ip string) {
	err := h.store.AppendAudit(store.AuditEvent{
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   strconv.FormatInt(resourceID, 10),
		IP:           ip,
	})
	if err != nil {
		log.Printf("api: audit append failed: %v", err)
	}
}
