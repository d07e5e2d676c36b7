package jit

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/halcyon-sec/pamgate/internal/store"
)

type fixture struct {
	store  *store.Store
	engine *Engine
	admin  *store.User
	user   *store.User
	asset  *store.Asset
	role   *store.Role
	secret string
	now    *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{now: &now}
	clock := func() time.Time { return *f.now }

	st, err := store.OpenWithClock(filepath.Join(t.TempDir(), "test.db"), clock)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	f.store = st
	f.engine = NewEngineWithClock(st, clock)

	f.admin, err = st.CreateUser("admin@example.com", "hash", true)
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	secret, _, err := totpEnroll(st, f.admin.ID)
	if err != nil {
		t.Fatalf("enroll admin: %v", err)
	}
	f.secret = secret
	f.admin, _ = st.UserByID(f.admin.ID)

	f.user, _ = st.CreateUser("alice@example.com", "hash", false)
	f.asset, _ = st.CreateAsset("web-1", "10.0.0.5", 22, "ssh")
	f.role, _ = st.CreateRole("dba")
	return f
}

// totpEnroll stores and confirms a TOTP secret for the user.
func totpEnroll(st *store.Store, userID int64) (string, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "test", AccountName: "admin"})
	if err != nil {
		return "", "", err
	}
	if err := st.SetMFASecret(userID, key.Secret()); err != nil {
		return "", "", err
	}
	if err := st.EnableMFA(userID); err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

func (f *fixture) code(t *testing.T) string {
	t.Helper()
	code, err := totp.GenerateCode(f.secret, *f.now)
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	return code
}

func (f *fixture) pending(t *testing.T, durationMinutes int) *store.JitRequest {
	t.Helper()
	req, err := f.engine.Create(f.user, f.asset.ID, f.role.ID, "deploy", durationMinutes, "10.1.1.1")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func TestEngineCreate(t *testing.T) {
	f := newFixture(t)

	req := f.pending(t, 45)
	if req.Status != store.StatusPending {
		t.Errorf("expected PENDING, got %s", req.Status)
	}
	if req.DurationMinutes != 45 {
		t.Errorf("expected duration 45, got %d", req.DurationMinutes)
	}

	for _, duration := range []int{0, -5} {
		if _, err := f.engine.Create(f.user, f.asset.ID, f.role.ID, "deploy", duration, ""); !errors.Is(err, ErrValidation) {
			t.Errorf("duration %d: expected ErrValidation, got %v", duration, err)
		}
	}
}

func TestEngineApprove(t *testing.T) {
	f := newFixture(t)

	t.Run("expiry is approval time plus duration", func(t *testing.T) {
		req := f.pending(t, 30)
		// Approval happens well after creation; the expiry counts from now.
		*f.now = f.now.Add(2 * time.Hour)
		approved, err := f.engine.Approve(req.ID, f.admin, f.code(t), "10.2.2.2")
		if err != nil {
			t.Fatalf("approve: %v", err)
		}
		if approved.Status != store.StatusApproved {
			t.Errorf("expected APPROVED, got %s", approved.Status)
		}
		want := f.now.Add(30 * time.Minute)
		if approved.ExpiresAt == nil || !approved.ExpiresAt.Equal(want) {
			t.Errorf("expected expiry %v, got %v", want, approved.ExpiresAt)
		}
		if approved.ApprovedBy == nil || *approved.ApprovedBy != f.admin.ID {
			t.Errorf("expected approver %d, got %v", f.admin.ID, approved.ApprovedBy)
		}
	})

	t.Run("non-admin cannot approve", func(t *testing.T) {
		req := f.pending(t, 30)
		if _, err := f.engine.Approve(req.ID, f.user, f.code(t), ""); !errors.Is(err, ErrForbidden) {
			t.Errorf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("bad code leaves the request untouched", func(t *testing.T) {
		req := f.pending(t, 30)
		_, err := f.engine.Approve(req.ID, f.admin, "000000", "")
		if !errors.Is(err, ErrInvalidSecondFactor) {
			t.Fatalf("expected ErrInvalidSecondFactor, got %v", err)
		}
		got, _ := f.store.JitRequestByID(req.ID)
		if got.Status != store.StatusPending {
			t.Errorf("expected request to stay PENDING, got %s", got.Status)
		}
		if got.ExpiresAt != nil {
			t.Errorf("expected no expiry, got %v", got.ExpiresAt)
		}
	})

	t.Run("missing code is rejected", func(t *testing.T) {
		req := f.pending(t, 30)
		if _, err := f.engine.Approve(req.ID, f.admin, "", ""); !errors.Is(err, ErrInvalidSecondFactor) {
			t.Errorf("expected ErrInvalidSecondFactor, got %v", err)
		}
	})

	t.Run("unenrolled admin is rejected", func(t *testing.T) {
		bare, _ := f.store.CreateUser("bare-admin@example.com", "hash", true)
		req := f.pending(t, 30)
		if _, err := f.engine.Approve(req.ID, bare, "123456", ""); !errors.Is(err, ErrInvalidSecondFactor) {
			t.Errorf("expected ErrInvalidSecondFactor, got %v", err)
		}
	})

	t.Run("approve is terminal", func(t *testing.T) {
		req := f.pending(t, 30)
		if _, err := f.engine.Approve(req.ID, f.admin, f.code(t), ""); err != nil {
			t.Fatalf("approve: %v", err)
		}
		if _, err := f.engine.Approve(req.ID, f.admin, f.code(t), ""); !errors.Is(err, ErrAlreadyProcessed) {
			t.Errorf("expected ErrAlreadyProcessed, got %v", err)
		}
		if _, err := f.engine.Deny(req.ID, f.admin, ""); !errors.Is(err, ErrAlreadyProcessed) {
			t.Errorf("expected ErrAlreadyProcessed, got %v", err)
		}
	})

	t.Run("missing request", func(t *testing.T) {
		if _, err := f.engine.Approve(99999, f.admin, f.code(t), ""); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestEngineDeny(t *testing.T) {
	f := newFixture(t)

	t.Run("deny needs no second factor", func(t *testing.T) {
		req := f.pending(t, 30)
		denied, err := f.engine.Deny(req.ID, f.admin, "10.2.2.2")
		if err != nil {
			t.Fatalf("deny: %v", err)
		}
		if denied.Status != store.StatusDenied {
			t.Errorf("expected DENIED, got %s", denied.Status)
		}
		if denied.ExpiresAt != nil {
			t.Errorf("denied request must not carry an expiry, got %v", denied.ExpiresAt)
		}
	})

	t.Run("non-admin cannot deny", func(t *testing.T) {
		req := f.pending(t, 30)
		if _, err := f.engine.Deny(req.ID, f.user, ""); !errors.Is(err, ErrForbidden) {
			t.Errorf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("deny is terminal", func(t *testing.T) {
		req := f.pending(t, 30)
		if _, err := f.engine.Deny(req.ID, f.admin, ""); err != nil {
			t.Fatalf("deny: %v", err)
		}
		if _, err := f.engine.Approve(req.ID, f.admin, f.code(t), ""); !errors.Is(err, ErrAlreadyProcessed) {
			t.Errorf("expected ErrAlreadyProcessed, got %v", err)
		}
	})
}

func TestEngineList(t *testing.T) {
	f := newFixture(t)
	mine := f.pending(t, 30)

	other, _ := f.store.CreateUser("bob@example.com", "hash", false)
	theirs, err := f.engine.Create(other, f.asset.ID, f.role.ID, "debug", 15, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	own, err := f.engine.List(f.user)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(own) != 1 || own[0].ID != mine.ID {
		t.Errorf("expected only own request, got %v", own)
	}

	all, err := f.engine.List(f.admin)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 requests for admin, got %d", len(all))
	}
	_ = theirs
}

func TestSweeperExpires(t *testing.T) {
	f := newFixture(t)
	req := f.pending(t, 30)
	if _, err := f.engine.Approve(req.ID, f.admin, f.code(t), ""); err != nil {
		t.Fatalf("approve: %v", err)
	}

	*f.now = f.now.Add(31 * time.Minute)

	s := NewSweeper(f.store, time.Minute)
	s.sweep()

	got, _ := f.store.JitRequestByID(req.ID)
	if got.Status != store.StatusExpired {
		t.Errorf("expected EXPIRED after sweep, got %s", got.Status)
	}
}
