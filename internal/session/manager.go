// Package session manages the privileged session lifecycle: validating a JIT
// approval at the moment of use, minting the relay token, and handling the
// relay's end-of-session callback.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/halcyon-sec/pamgate/internal/auth"
	"github.com/halcyon-sec/pamgate/internal/relaytoken"
	"github.com/halcyon-sec/pamgate/internal/store"
	"github.com/halcyon-sec/pamgate/internal/updates"
)

var (
	// ErrNotFound is returned when the request or session does not exist.
	ErrNotFound = errors.New("session: not found")
	// ErrNotApproved is returned when the JIT request is not in APPROVED state.
	ErrNotApproved = errors.New("session: request not approved")
	// ErrExpired is returned when the approval has lapsed by the time of use.
	ErrExpired = errors.New("session: request expired")
	// ErrForbidden is returned for ownership or role mismatches.
	ErrForbidden = errors.New("session: forbidden")
	// ErrMissingCredential is returned when the asset or its credential is
	// absent.
	ErrMissingCredential = errors.New("session: asset or credential missing")
)

// StartResult is handed back to the requester after a successful start.
type StartResult struct {
	SessionID  int64  `json:"session_id"`
	RelayToken string `json:"relay_token"`
	RelayURL   string `json:"relay_url"`
}

// Manager validates session starts and records session state. Stateless per
// call; all shared state lives in the store and the updates hub.
type Manager struct {
	store    *store.Store
	minter   *relaytoken.Minter
	hub      *updates.Hub
	relayURL string
	dataDir  string
	now      func() time.Time
}

// NewManager creates a Manager.
func NewManager(st *store.Store, minter *relaytoken.Minter, hub *updates.Hub, relayURL, dataDir string) *Manager {
	return NewManagerWithClock(st, minter, hub, relayURL, dataDir, func() time.Time { return time.Now().UTC() })
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(st *store.Store, minter *relaytoken.Minter, hub *updates.Hub, relayURL, dataDir string, now func() time.Time) *Manager {
	if now == nil {
		panic("session: nil clock")
	}
	return &Manager{store: st, minter: minter, hub: hub, relayURL: relayURL, dataDir: dataDir, now: now}
}

// Start validates the JIT approval at the moment of use and, when every check
// passes, creates the ACTIVE session row (with its audit records, in one
// transaction) and mints the scoped relay token. Validation order: existence,
// approval state, freshness, ownership, role, credential.
func (m *Manager) Start(caller *store.User, callerRoles []string, jitRequestID int64, ip string) (*StartResult, error) {
	req, err := m.store.JitRequestByID(jitRequestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if req.Status != store.StatusApproved {
		return nil, ErrNotApproved
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(m.now()) {
		return nil, ErrExpired
	}
	if !caller.IsAdmin && req.UserID != caller.ID {
		return nil, ErrForbidden
	}
	if role, err := m.store.RoleByID(req.RoleID); err == nil {
		if !auth.Capable(caller.IsAdmin, callerRoles, role.Name) {
			return nil, ErrForbidden
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	asset, err := m.store.AssetByID(req.AssetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMissingCredential
		}
		return nil, err
	}
	cred, err := m.store.CredentialByAssetID(req.AssetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMissingCredential
		}
		return nil, err
	}

	sess, err := m.store.StartSession(req.ID, caller.ID, cred.ID, cred.VaultPath, ip)
	if err != nil {
		return nil, err
	}

	token, err := m.minter.Mint(relaytoken.Claims{
		SessionID:     sess.ID,
		RecordingPath: sess.RecordingPath,
		VaultPath:     cred.VaultPath,
		AssetHost:     asset.Host,
		AssetPort:     asset.Port,
		UserID:        caller.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("mint relay token: %w", err)
	}

	m.hub.Publish(updates.Event{Type: updates.EventSessionStarted, SessionID: sess.ID})
	return &StartResult{SessionID: sess.ID, RelayToken: token, RelayURL: m.relayURL}, nil
}

// End marks a session ENDED. Callers must have already verified the machine
// credential; this is a machine-to-machine operation with no user actor.
// Ending an already-ENDED session is a no-op.
func (m *Manager) End(sessionID int64, ip string) error {
	changed, err := m.store.EndSession(sessionID, ip)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if changed {
		m.hub.Publish(updates.Event{Type: updates.EventSessionEnded, SessionID: sessionID})
	}
	return nil
}

// List returns sessions visible to the caller, newest first.
func (m *Manager) List(caller *store.User) ([]store.Session, error) {
	return m.store.ListSessions(caller.ID, caller.IsAdmin)
}

// RecordingPath authorizes access to a session's transcript and returns the
// absolute file path. Returns ErrNotFound when the session, its recording
// path, or the file itself is missing.
func (m *Manager) RecordingPath(caller *store.User, sessionID int64) (string, error) {
	sess, err := m.authorizeRead(caller, sessionID)
	if err != nil {
		return "", err
	}
	if sess.RecordingPath == "" {
		return "", ErrNotFound
	}
	path := filepath.Join(m.dataDir, sess.RecordingPath)
	if _, err := os.Stat(path); err != nil {
		return "", ErrNotFound
	}
	return path, nil
}

// Commands returns at most limit parsed command-log entries for the session:
// the most recent entries, in chronological order.
func (m *Manager) Commands(caller *store.User, sessionID int64, limit int) ([]CommandEntry, error) {
	sess, err := m.authorizeRead(caller, sessionID)
	if err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(filepath.Base(sess.RecordingPath), ".log")
	if base == "" || base == "." {
		base = fmt.Sprintf("session-%d", sess.ID)
	}
	path := filepath.Join(m.dataDir, "recordings", base+".cmd.log")
	entries, err := readCommandLog(path, limit)
	if err != nil {
		return nil, ErrNotFound
	}
	return entries, nil
}

func (m *Manager) authorizeRead(caller *store.User, sessionID int64) (*store.Session, error) {
	sess, err := m.store.SessionByID(sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !caller.IsAdmin {
		req, err := m.store.JitRequestByID(sess.JitRequestID)
		if err != nil || req.UserID != caller.ID {
			return nil, ErrForbidden
		}
	}
	return sess, nil
}
