package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/halcyon-sec/pamgate/internal/auth"
	"github.com/halcyon-sec/pamgate/internal/jit"
	"github.com/halcyon-sec/pamgate/internal/session"
	"github.com/halcyon-sec/pamgate/internal/store"
	"github.com/halcyon-sec/pamgate/internal/updates"
	"github.com/halcyon-sec/pamgate/internal/vault"
)

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store    *store.Store
	issuer   *auth.TokenIssuer
	engine   *jit.Engine
	manager  *session.Manager
	vault    *vault.Client
	hub      *updates.Hub
	upgrader websocket.Upgrader

	relayAPIKey            string
	allowAdminRegistration bool
}

// NewHandlers creates a Handlers instance.
func NewHandlers(st *store.Store, issuer *auth.TokenIssuer, engine *jit.Engine, manager *session.Manager,
	vaultClient *vault.Client, hub *updates.Hub, relayAPIKey string, allowAdminRegistration bool) *Handlers {
	return &Handlers{
		store:                  st,
		issuer:                 issuer,
		engine:                 engine,
		manager:                manager,
		vault:                  vaultClient,
		hub:                    hub,
		upgrader:               websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		relayAPIKey:            relayAPIKey,
		allowAdminRegistration: allowAdminRegistration,
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: status})
}

// writeDomainError maps engine and manager errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jit.ErrNotFound), errors.Is(err, session.ErrNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jit.ErrAlreadyProcessed), errors.Is(err, jit.ErrValidation),
		errors.Is(err, session.ErrMissingCredential):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, jit.ErrForbidden), errors.Is(err, jit.ErrInvalidSecondFactor),
		errors.Is(err, session.ErrForbidden), errors.Is(err, session.ErrNotApproved),
		errors.Is(err, session.ErrExpired):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
