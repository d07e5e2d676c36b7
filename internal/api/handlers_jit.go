package api

import (
	"net/http"
)

func (h *Handlers) handleCreateJitRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateJitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AssetID <= 0 || req.RoleID <= 0 {
		writeError(w, http.StatusBadRequest, "asset_id and role_id are required")
		return
	}
	created, err := h.engine.Create(callerFrom(r), req.AssetID, req.RoleID, req.Reason, req.DurationMinutes, clientIP(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) handleListJitRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.engine.List(callerFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

// handleApproveJitRequest approves a pending request. The one-time code
// travels in the X-MFA-TOTP header; the engine verifies it against the
// approver's enrolled secret before any state changes.
func (h *Handlers) handleApproveJitRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	code := r.Header.Get("X-MFA-TOTP")
	approved, err := h.engine.Approve(id, callerFrom(r), code, clientIP(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approved)
}

func (h *Handlers) handleDenyJitRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	denied, err := h.engine.Deny(id, callerFrom(r), clientIP(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, denied)
}
