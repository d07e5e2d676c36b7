package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
)

const (
	defaultCommandLimit = 200
	maxCommandLimit     = 1000
)

func (h *Handlers) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.JitRequestID <= 0 {
		writeError(w, http.StatusBadRequest, "jit_request_id is required")
		return
	}
	caller := callerFrom(r)
	roles, err := h.store.UserRoleNames(caller.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	result, err := h.manager.Start(caller, roles, req.JitRequestID, clientIP(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.manager.List(callerFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handlers) handleSessionRecording(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	path, err := h.manager.RecordingPath(callerFrom(r), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	http.ServeFile(w, r, path)
}

func (h *Handlers) handleSessionCommands(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	limit := defaultCommandLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxCommandLimit {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := h.manager.Commands(callerFrom(r), id, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleEndSession is the relay's end-of-session callback. It is guarded by
// the shared machine credential, not a user token: the relay acts on its own
// behalf and the resulting audit record carries no user actor.
func (h *Handlers) handleEndSession(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("X-Relay-Api-Key")
	if h.relayAPIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.relayAPIKey)) != 1 {
		writeError(w, http.StatusForbidden, "invalid relay credential")
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	if err := h.manager.End(id, clientIP(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ended"})
}
