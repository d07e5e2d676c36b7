package api

import (
	"log"
	"net/http"
)

func (h *Handlers) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

func (h *Handlers) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req CreateRoleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	role, err := h.store.CreateRole(req.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	caller := callerFrom(r)
	h.audit(&caller.ID, "role_create", "role", role.ID, clientIP(r))
	writeJSON(w, http.StatusCreated, role)
}

func (h *Handlers) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req AssignRoleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := h.store.UserByID(req.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	if _, err := h.store.RoleByID(req.RoleID); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.store.AssignRole(req.UserID, req.RoleID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	caller := callerFrom(r)
	h.audit(&caller.ID, "role_assign", "role", req.RoleID, clientIP(r))
	writeJSON(w, http.StatusOK, StatusResponse{Status: "assigned"})
}

func (h *Handlers) handleListAudit(w http.ResponseWriter, r *http.Request) {
	events, err := h.store.ListAudit(200)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleUpdates upgrades the caller onto the live-update hub. Browsers cannot
// set headers on websocket dials, so the access token travels as a query
// parameter. The connection is read-discarded: clients only listen, and the
// read loop exists to notice the disconnect and unregister.
func (h *Handlers) handleUpdates(w http.ResponseWriter, r *http.Request) {
	if _, err := h.issuer.VerifyAccess(r.URL.Query().Get("token")); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("api: updates upgrade failed: %v", err)
		return
	}
	if !h.hub.Register(conn) {
		conn.Close()
		return
	}
	defer func() {
		h.hub.Unregister(conn)
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
