package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/halcyon-sec/pamgate/internal/auth"
	"github.com/halcyon-sec/pamgate/internal/jit"
	"github.com/halcyon-sec/pamgate/internal/relaytoken"
	"github.com/halcyon-sec/pamgate/internal/session"
	"github.com/halcyon-sec/pamgate/internal/store"
	"github.com/halcyon-sec/pamgate/internal/updates"
	"github.com/halcyon-sec/pamgate/internal/vault"
)

type testEnv struct {
	t      *testing.T
	srv    *httptest.Server
	store  *store.Store
	vaults map[string]map[string]string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{t: t, vaults: map[string]map[string]string{}}

	// Fake secret store: accept mounts, record writes.
	vaultSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && len(r.URL.Path) > len("/v1/secret/data/") && r.URL.Path[:16] == "/v1/secret/data/" {
			var body struct {
				Data map[string]string `json:"data"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			env.vaults[r.URL.Path[16:]] = body.Data
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(vaultSrv.Close)

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	env.store = st

	issuer := auth.NewTokenIssuer("access-secret", "refresh-secret", 30*time.Minute, 7*24*time.Hour)
	minter := relaytoken.NewMinter("relay-secret", 5*time.Minute)
	hub := updates.NewHub()
	t.Cleanup(hub.Close)
	engine := jit.NewEngine(st)
	manager := session.NewManager(st, minter, hub, "ws://relay:8081/ws", t.TempDir())
	vaultClient := vault.New(vaultSrv.URL, "test-token", "secret")

	handlers := NewHandlers(st, issuer, engine, manager, vaultClient, hub, "machine-key", true)
	server := NewServer(":0", handlers)
	env.srv = httptest.NewServer(server.Handler())
	t.Cleanup(env.srv.Close)
	return env
}

// call sends a JSON request. token goes into Authorization, extra headers are
// applied verbatim.
func (e *testEnv) call(method, path, token string, body any, headers map[string]string) *http.Response {
	e.t.Helper()
	var payload *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(data)
	} else {
		payload = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, payload)
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (e *testEnv) decode(resp *http.Response, wantStatus int, dst any) {
	e.t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		var body ErrorResponse
		json.NewDecoder(resp.Body).Decode(&body)
		e.t.Fatalf("%s: expected status %d, got %d (%s)", resp.Request.URL.Path, wantStatus, resp.StatusCode, body.Error)
	}
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			e.t.Fatalf("decode response: %v", err)
		}
	}
}

// register creates an account and logs it in, returning the access token.
func (e *testEnv) register(email string, isAdmin bool) (string, UserPayload) {
	e.t.Helper()
	e.decode(e.call(http.MethodPost, "/auth/register", "",
		RegisterRequest{Email: email, Password: "hunter2", IsAdmin: isAdmin}, nil), http.StatusCreated, nil)
	var tokens TokenResponse
	e.decode(e.call(http.MethodPost, "/auth/login", "",
		LoginRequest{Email: email, Password: "hunter2"}, nil), http.StatusOK, &tokens)
	return tokens.AccessToken, tokens.User
}

// enrollMFA walks setup and enable, returning the shared secret so tests can
// mint codes.
func (e *testEnv) enrollMFA(token string) string {
	e.t.Helper()
	var setup MFASetupResponse
	e.decode(e.call(http.MethodPost, "/auth/mfa/setup", token, struct{}{}, nil), http.StatusOK, &setup)
	code, err := totp.GenerateCode(setup.Secret, time.Now().UTC())
	if err != nil {
		e.t.Fatalf("generate code: %v", err)
	}
	e.decode(e.call(http.MethodPost, "/auth/mfa/enable", token, MFAEnableRequest{Code: code}, nil), http.StatusOK, nil)
	return setup.Secret
}

func (e *testEnv) code(secret string) string {
	e.t.Helper()
	code, err := totp.GenerateCode(secret, time.Now().UTC())
	if err != nil {
		e.t.Fatalf("generate code: %v", err)
	}
	return code
}

func TestAuthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	t.Run("register and login", func(t *testing.T) {
		token, user := env.register("alice@example.com", false)
		if token == "" {
			t.Fatal("expected an access token")
		}
		if user.Email != "alice@example.com" || user.IsAdmin {
			t.Errorf("unexpected user payload: %+v", user)
		}
	})

	t.Run("duplicate email is rejected", func(t *testing.T) {
		env.decode(env.call(http.MethodPost, "/auth/register", "",
			RegisterRequest{Email: "alice@example.com", Password: "other"}, nil), http.StatusConflict, nil)
	})

	t.Run("wrong password", func(t *testing.T) {
		env.decode(env.call(http.MethodPost, "/auth/login", "",
			LoginRequest{Email: "alice@example.com", Password: "wrong"}, nil), http.StatusUnauthorized, nil)
	})

	t.Run("refresh rotates the pair", func(t *testing.T) {
		var tokens TokenResponse
		env.decode(env.call(http.MethodPost, "/auth/login", "",
			LoginRequest{Email: "alice@example.com", Password: "hunter2"}, nil), http.StatusOK, &tokens)
		var refreshed TokenResponse
		env.decode(env.call(http.MethodPost, "/auth/refresh", "",
			RefreshRequest{RefreshToken: tokens.RefreshToken}, nil), http.StatusOK, &refreshed)
		if refreshed.AccessToken == "" {
			t.Error("expected a fresh access token")
		}
		// An access token is not a refresh token.
		env.decode(env.call(http.MethodPost, "/auth/refresh", "",
			RefreshRequest{RefreshToken: tokens.AccessToken}, nil), http.StatusUnauthorized, nil)
	})

	t.Run("protected route without token", func(t *testing.T) {
		env.decode(env.call(http.MethodGet, "/jit-requests", "", nil, nil), http.StatusUnauthorized, nil)
	})
}

func TestAdminMFAGate(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.register("admin@example.com", true)
	userToken, _ := env.register("alice@example.com", false)

	asset := CreateAssetRequest{Name: "web-1", Host: "10.0.0.5", Port: 22, Type: "ssh"}

	t.Run("non-admin is refused", func(t *testing.T) {
		env.decode(env.call(http.MethodPost, "/assets", userToken, asset, nil), http.StatusForbidden, nil)
	})

	t.Run("admin without MFA is refused", func(t *testing.T) {
		env.decode(env.call(http.MethodPost, "/assets", adminToken, asset, nil), http.StatusForbidden, nil)
	})

	secret := env.enrollMFA(adminToken)

	t.Run("admin without a live code is refused", func(t *testing.T) {
		env.decode(env.call(http.MethodPost, "/assets", adminToken, asset, nil), http.StatusForbidden, nil)
	})

	t.Run("admin with a live code passes", func(t *testing.T) {
		env.decode(env.call(http.MethodPost, "/assets", adminToken, asset,
			map[string]string{"X-MFA-TOTP": env.code(secret)}), http.StatusCreated, nil)
	})
}

func TestFullBrokerFlow(t *testing.T) {
	env := newTestEnv(t)
	adminToken, adminUser := env.register("admin@example.com", true)
	secret := env.enrollMFA(adminToken)
	userToken, user := env.register("alice@example.com", false)
	_ = adminUser

	// Admin provisions the asset, its credential and the role.
	var asset store.Asset
	env.decode(env.call(http.MethodPost, "/assets", adminToken,
		CreateAssetRequest{Name: "web-1", Host: "10.0.0.5", Port: 22, Type: "ssh"},
		map[string]string{"X-MFA-TOTP": env.code(secret)}), http.StatusCreated, &asset)

	var credResp CreateCredentialResponse
	env.decode(env.call(http.MethodPost, "/assets/1/credential", adminToken,
		CreateCredentialRequest{Username: "root", Password: "target-pw"},
		map[string]string{"X-MFA-TOTP": env.code(secret)}), http.StatusCreated, &credResp)
	if credResp.VaultPath != "assets/1/login" {
		t.Errorf("expected vault path assets/1/login, got %q", credResp.VaultPath)
	}
	if env.vaults["assets/1/login"]["password"] != "target-pw" {
		t.Error("expected the secret to reach the vault")
	}

	var role store.Role
	env.decode(env.call(http.MethodPost, "/roles", adminToken,
		CreateRoleRequest{Name: "dba"}, nil), http.StatusCreated, &role)
	env.decode(env.call(http.MethodPost, "/roles/assign", adminToken,
		AssignRoleRequest{UserID: user.ID, RoleID: role.ID}, nil), http.StatusOK, nil)

	// Requester opens a JIT request.
	var req store.JitRequest
	env.decode(env.call(http.MethodPost, "/jit-requests", userToken,
		CreateJitRequest{AssetID: asset.ID, RoleID: role.ID, Reason: "deploy", DurationMinutes: 30}, nil),
		http.StatusCreated, &req)
	if req.Status != store.StatusPending {
		t.Fatalf("expected PENDING, got %s", req.Status)
	}

	t.Run("requester cannot approve", func(t *testing.T) {
		env.decode(env.call(http.MethodPost, "/jit-requests/1/approve", userToken, struct{}{},
			map[string]string{"X-MFA-TOTP": "123456"}), http.StatusForbidden, nil)
	})

	t.Run("approval without a code fails closed", func(t *testing.T) {
		env.decode(env.call(http.MethodPost, "/jit-requests/1/approve", adminToken, struct{}{}, nil),
			http.StatusForbidden, nil)
		got, _ := env.store.JitRequestByID(req.ID)
		if got.Status != store.StatusPending {
			t.Fatalf("failed approval must not change state, got %s", got.Status)
		}
	})

	t.Run("session start before approval fails", func(t *testing.T) {
		env.decode(env.call(http.MethodPost, "/sessions/start", userToken,
			StartSessionRequest{JitRequestID: req.ID}, nil), http.StatusForbidden, nil)
	})

	var approved store.JitRequest
	env.decode(env.call(http.MethodPost, "/jit-requests/1/approve", adminToken, struct{}{},
		map[string]string{"X-MFA-TOTP": env.code(secret)}), http.StatusOK, &approved)
	if approved.Status != store.StatusApproved {
		t.Fatalf("expected APPROVED, got %s", approved.Status)
	}
	if approved.ExpiresAt == nil {
		t.Fatal("expected an expiry on approval")
	}

	t.Run("double approval is rejected", func(t *testing.T) {
		env.decode(env.call(http.MethodPost, "/jit-requests/1/approve", adminToken, struct{}{},
			map[string]string{"X-MFA-TOTP": env.code(secret)}), http.StatusBadRequest, nil)
	})

	// Requester redeems the approval for a session and a scoped relay token.
	var started session.StartResult
	env.decode(env.call(http.MethodPost, "/sessions/start", userToken,
		StartSessionRequest{JitRequestID: req.ID}, nil), http.StatusOK, &started)
	if started.RelayURL != "ws://relay:8081/ws" {
		t.Errorf("expected relay url, got %q", started.RelayURL)
	}
	claims, err := relaytoken.Verify("relay-secret", started.RelayToken)
	if err != nil {
		t.Fatalf("verify relay token: %v", err)
	}
	if claims.SessionID != started.SessionID || claims.AssetHost != "10.0.0.5" {
		t.Errorf("unexpected token scope: %+v", claims)
	}

	t.Run("sessions list shows the active session", func(t *testing.T) {
		var sessions []store.Session
		env.decode(env.call(http.MethodGet, "/sessions", userToken, nil, nil), http.StatusOK, &sessions)
		if len(sessions) != 1 || sessions[0].Status != store.SessionActive {
			t.Errorf("unexpected sessions: %v", sessions)
		}
	})

	t.Run("end requires the machine credential", func(t *testing.T) {
		env.decode(env.call(http.MethodPost, "/sessions/1/end", "", nil, nil), http.StatusForbidden, nil)
		env.decode(env.call(http.MethodPost, "/sessions/1/end", "", nil,
			map[string]string{"X-Relay-Api-Key": "wrong"}), http.StatusForbidden, nil)
		sess, _ := env.store.SessionByID(started.SessionID)
		if sess.Status != store.SessionActive {
			t.Fatalf("refused end must not change state, got %s", sess.Status)
		}
		env.decode(env.call(http.MethodPost, "/sessions/1/end", "", nil,
			map[string]string{"X-Relay-Api-Key": "machine-key"}), http.StatusOK, nil)
		sess, _ = env.store.SessionByID(started.SessionID)
		if sess.Status != store.SessionEnded {
			t.Errorf("expected ENDED, got %s", sess.Status)
		}
	})

	t.Run("command limit is bounded on both ends", func(t *testing.T) {
		for _, limit := range []string{"0", "-1", "1001", "abc"} {
			env.decode(env.call(http.MethodGet, "/sessions/1/commands?limit="+limit, userToken, nil, nil),
				http.StatusBadRequest, nil)
		}
		// An in-range limit proceeds to the lookup (no command log exists yet).
		env.decode(env.call(http.MethodGet, "/sessions/1/commands?limit=1000", userToken, nil, nil),
			http.StatusNotFound, nil)
	})

	t.Run("audit is admin only and complete", func(t *testing.T) {
		env.decode(env.call(http.MethodGet, "/audit", userToken, nil, nil), http.StatusForbidden, nil)
		var events []store.AuditEvent
		env.decode(env.call(http.MethodGet, "/audit", adminToken, nil, nil), http.StatusOK, &events)
		seen := map[string]bool{}
		for _, ev := range events {
			seen[ev.Action] = true
		}
		for _, action := range []string{"jit_request", "jit_approve", "session_start", "vault_access", "session_end"} {
			if !seen[action] {
				t.Errorf("expected %s in the audit trail", action)
			}
		}
	})
}

func TestDenyFlow(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.register("admin@example.com", true)
	env.enrollMFA(adminToken)
	userToken, user := env.register("alice@example.com", false)

	var role store.Role
	env.decode(env.call(http.MethodPost, "/roles", adminToken, CreateRoleRequest{Name: "dba"}, nil), http.StatusCreated, &role)
	env.decode(env.call(http.MethodPost, "/roles/assign", adminToken,
		AssignRoleRequest{UserID: user.ID, RoleID: role.ID}, nil), http.StatusOK, nil)
	asset, _ := env.store.CreateAsset("web-1", "10.0.0.5", 22, "ssh")

	var req store.JitRequest
	env.decode(env.call(http.MethodPost, "/jit-requests", userToken,
		CreateJitRequest{AssetID: asset.ID, RoleID: role.ID, Reason: "debug", DurationMinutes: 15}, nil),
		http.StatusCreated, &req)

	var denied store.JitRequest
	env.decode(env.call(http.MethodPost, "/jit-requests/1/deny", adminToken, struct{}{}, nil),
		http.StatusOK, &denied)
	if denied.Status != store.StatusDenied {
		t.Fatalf("expected DENIED, got %s", denied.Status)
	}
	if denied.ExpiresAt != nil {
		t.Errorf("denied request must not carry an expiry, got %v", denied.ExpiresAt)
	}

	// The denied approval cannot be redeemed.
	env.decode(env.call(http.MethodPost, "/sessions/start", userToken,
		StartSessionRequest{JitRequestID: req.ID}, nil), http.StatusForbidden, nil)
}

func TestVisibilityScoping(t *testing.T) {
	env := newTestEnv(t)
	adminToken, _ := env.register("admin@example.com", true)
	aliceToken, alice := env.register("alice@example.com", false)
	bobToken, bob := env.register("bob@example.com", false)

	role, _ := env.store.CreateRole("dba")
	asset, _ := env.store.CreateAsset("web-1", "10.0.0.5", 22, "ssh")

	env.decode(env.call(http.MethodPost, "/jit-requests", aliceToken,
		CreateJitRequest{AssetID: asset.ID, RoleID: role.ID, Reason: "a", DurationMinutes: 10}, nil),
		http.StatusCreated, nil)
	env.decode(env.call(http.MethodPost, "/jit-requests", bobToken,
		CreateJitRequest{AssetID: asset.ID, RoleID: role.ID, Reason: "b", DurationMinutes: 10}, nil),
		http.StatusCreated, nil)

	var mine []store.JitRequest
	env.decode(env.call(http.MethodGet, "/jit-requests", aliceToken, nil, nil), http.StatusOK, &mine)
	if len(mine) != 1 || mine[0].UserID != alice.ID {
		t.Errorf("expected only alice's request, got %v", mine)
	}

	var all []store.JitRequest
	env.decode(env.call(http.MethodGet, "/jit-requests", adminToken, nil, nil), http.StatusOK, &all)
	if len(all) != 2 {
		t.Errorf("expected 2 requests for admin, got %d", len(all))
	}
	_ = bob
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
