package api

import (
	"fmt"
	"net/http"
)

func (h *Handlers) handleCreateAsset(w http.ResponseWriter, r *http.Request) {
	var req CreateAssetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" || req.Host == "" {
		writeError(w, http.StatusBadRequest, "name and host are required")
		return
	}
	if req.Port <= 0 || req.Port > 65535 {
		req.Port = 22
	}
	if req.Type == "" {
		req.Type = "ssh"
	}
	asset, err := h.store.CreateAsset(req.Name, req.Host, req.Port, req.Type)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	caller := callerFrom(r)
	h.audit(&caller.ID, "asset_create", "asset", asset.ID, clientIP(r))
	writeJSON(w, http.StatusCreated, asset)
}

func (h *Handlers) handleListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.store.ListAssets()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

// handleCreateCredential writes the login secret through to the vault and
// stores only the resulting path. The plaintext never touches the database or
// the audit trail.
func (h *Handlers) handleCreateCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid asset id")
		return
	}
	asset, err := h.store.AssetByID(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req CreateCredentialRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	vaultPath := fmt.Sprintf("assets/%d/login", asset.ID)
	if err := h.vault.EnsureMount(); err != nil {
		writeError(w, http.StatusBadGateway, "secret store unavailable")
		return
	}
	if err := h.vault.Put(vaultPath, map[string]string{
		"username": req.Username,
		"password": req.Password,
	}); err != nil {
		writeError(w, http.StatusBadGateway, "secret store unavailable")
		return
	}
	if _, err := h.store.UpsertCredential(asset.ID, vaultPath); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	caller := callerFrom(r)
	h.audit(&caller.ID, "credential_set", "asset", asset.ID, clientIP(r))
	writeJSON(w, http.StatusCreated, CreateCredentialResponse{VaultPath: vaultPath})
}
